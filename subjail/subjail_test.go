package subjail

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"ghostjail/fdmem"
	"ghostjail/ipc"
	"ghostjail/result"
	"ghostjail/rpc"
	"ghostjail/variant"
)

// dupFD duplicates an fd the way SCM_RIGHTS delivery would, since
// runScriptCall takes ownership of the fd it is handed.
func dupFD(fd int) (int, error) {
	return unix.Dup(fd)
}

// testPair wires a Subjail to the child end of a fresh channel and hands
// the test the controller end to observe its traffic.
func testPair(t *testing.T, interp Interpreter) (*Subjail, *ipc.Channel) {
	t.Helper()
	ctrl, child, err := ipc.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		ctrl.Close()
		child.Close()
	})
	if interp == nil {
		interp = &NopInterpreter{}
	}
	return &Subjail{ch: child, index: 0, interp: interp}, ctrl
}

func TestRunChunkSendsInfoThenResult(t *testing.T) {
	s, ctrl := testPair(t, nil)

	s.runChunk("chunk", "return 1")

	info, _, err := ctrl.Recv(time.Second)
	require.NoError(t, err)
	require.Equal(t, ipc.MsgScriptInfo, info.Type)
	require.NotEmpty(t, info.ScriptID)

	res, _, err := ctrl.Recv(time.Second)
	require.NoError(t, err)
	require.Equal(t, ipc.MsgScriptResult, res.Type)
	require.Equal(t, info.ScriptID, res.ScriptID)
	require.True(t, res.Result.IsOK())
	require.False(t, res.HasReturnPtr)
}

// failingInterp errors on every operation, with a message long enough to
// exercise the wire truncation.
type failingInterp struct{ NopInterpreter }

type interpError string

func (e interpError) Error() string { return string(e) }

func (f *failingInterp) RunChunk(name, source string) (variant.Variant, error) {
	long := make([]byte, 2*ipc.MaxErrorMsgLen)
	for i := range long {
		long[i] = 'e'
	}
	return variant.Nil(), interpError(long)
}

func TestRunChunkFailureCarriesTruncatedError(t *testing.T) {
	s, ctrl := testPair(t, &failingInterp{})

	s.runChunk("chunk", "boom")

	_, _, err := ctrl.Recv(time.Second)
	require.NoError(t, err)
	res, _, err := ctrl.Recv(time.Second)
	require.NoError(t, err)
	require.Equal(t, result.ContextScriptRunFail, res.Result.Context())
	require.LessOrEqual(t, len(res.ErrorMessage), ipc.MaxErrorMsgLen)
	require.NotEmpty(t, res.ErrorMessage)
}

// echoInterp returns its first argument from every call.
type echoInterp struct{ NopInterpreter }

func (e *echoInterp) Call(name string, args []variant.Variant) (variant.Variant, error) {
	if len(args) == 0 {
		return variant.Nil(), nil
	}
	return args[0], nil
}

func TestRunScriptCallEchoesArgumentThroughArena(t *testing.T) {
	s, ctrl := testPair(t, &echoInterp{})

	// Host-side frame: one int variant in a fresh arena.
	arena, err := fdmem.New()
	require.NoError(t, err)
	defer arena.Close()
	vp, err := arena.Alloc(variant.Encode(variant.Int(1234)))
	require.NoError(t, err)

	msg := ipc.Message{
		Type:          ipc.MsgScriptCall,
		CallName:      "echo",
		OccupiedBytes: arena.Occupied(),
		ArgPtrs:       []uint64{vp},
	}

	dup, err := dupFD(arena.FD())
	require.NoError(t, err)
	require.NoError(t, s.runScriptCall(msg, dup))

	info, _, err := ctrl.Recv(time.Second)
	require.NoError(t, err)
	require.Equal(t, ipc.MsgScriptInfo, info.Type)

	res, _, err := ctrl.Recv(time.Second)
	require.NoError(t, err)
	require.Equal(t, ipc.MsgScriptResult, res.Type)
	require.True(t, res.Result.IsOK())
	require.True(t, res.HasReturnPtr)

	// The return variant was appended past the host's last write.
	require.NoError(t, arena.Sync())
	arena.SetOccupied(arena.Capacity())
	raw, ok := arena.RealPtr(res.ReturnPtr, arena.Occupied()-(res.ReturnPtr-1))
	require.True(t, ok)
	got, err := variant.Decode(raw)
	require.NoError(t, err)
	n, ok := variant.AsInt(got)
	require.True(t, ok)
	require.Equal(t, int64(1234), n)
}

func TestRunScriptCallRejectsOutOfRangePointer(t *testing.T) {
	s, ctrl := testPair(t, &echoInterp{})

	arena, err := fdmem.New()
	require.NoError(t, err)
	defer arena.Close()

	msg := ipc.Message{
		Type:          ipc.MsgScriptCall,
		CallName:      "echo",
		OccupiedBytes: 0,
		ArgPtrs:       []uint64{999},
	}
	dup, err := dupFD(arena.FD())
	require.NoError(t, err)
	require.NoError(t, s.runScriptCall(msg, dup))

	_, _, err = ctrl.Recv(time.Second)
	require.NoError(t, err)
	res, _, err := ctrl.Recv(time.Second)
	require.NoError(t, err)
	require.Equal(t, result.ContextAllocOutOfRange, res.Result.Context())
}

func TestCallHostRoundTrip(t *testing.T) {
	s, ctrl := testPair(t, nil)

	reg := rpc.NewRegistry()
	require.NoError(t, reg.Register("double", func(f *rpc.Frame) error {
		arg, err := f.Arg(0)
		if err != nil {
			return err
		}
		for i, b := range arg {
			f.Return[i] = b * 2
		}
		return nil
	}, rpc.ThreadSafe))

	done := make(chan struct{})
	go func() {
		defer close(done)
		call, _, err := ctrl.Recv(5 * time.Second)
		if err != nil {
			return
		}
		reply, fd := rpc.Dispatch(reg, os.Getpid(), call, 0)
		ctrl.Send(reply, fd)
	}()

	ret, fd, res, err := s.CallHost("double", [][]byte{{1, 2, 3}}, 3)
	<-done
	require.NoError(t, err)
	require.True(t, res.IsOK())
	require.Equal(t, -1, fd)
	require.Equal(t, []byte{2, 4, 6}, ret)
}

func TestCallHostMissingFunction(t *testing.T) {
	s, ctrl := testPair(t, nil)

	reg := rpc.NewRegistry()
	done := make(chan struct{})
	go func() {
		defer close(done)
		call, _, err := ctrl.Recv(5 * time.Second)
		if err != nil {
			return
		}
		reply, fd := rpc.Dispatch(reg, os.Getpid(), call, 0)
		ctrl.Send(reply, fd)
	}()

	_, _, res, err := s.CallHost("nothere", nil, 0)
	<-done
	require.NoError(t, err)
	require.Equal(t, result.ContextRPCMissingFunc, res.Context())
}
