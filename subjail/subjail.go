// Package subjail implements the subjail grandchild process: one
// locked-down process hosting a single script interpreter, driven entirely
// by messages on its direct IPC channel to the controlling thread.
package subjail

import (
	"io"
	"os"
	"runtime"
	"strconv"
	"unsafe"

	"github.com/google/uuid"

	"ghostjail/buffer"
	"ghostjail/errors"
	"ghostjail/fdmem"
	"ghostjail/ipc"
	"ghostjail/linux"
	"ghostjail/logging"
	"ghostjail/result"
	"ghostjail/variant"
)

// Subjail is the state of a running subjail process.
type Subjail struct {
	ch    *ipc.Channel
	index int

	memLimit   uint64
	frameLimit uint64

	controllerPID int
	interp        Interpreter
}

// Main is the subjail entry point. argv carries, in order: the direct IPC
// fd number, the subjail index assigned by the jail, the memory limit, and
// the RPC frame limit.
func Main(args []string) error {
	logging.Setup(logging.TierSubjail, logging.Config{})

	if len(args) < 3 {
		return errors.New(errors.ErrThread, "subjail.Main", "missing ipc fd or index argument")
	}
	fd, err := strconv.Atoi(args[1])
	if err != nil || fd < 0 {
		return errors.New(errors.ErrThread, "subjail.Main", "ipc fd argument is not a number")
	}
	index, err := strconv.Atoi(args[2])
	if err != nil || index < 0 {
		return errors.New(errors.ErrThread, "subjail.Main", "index argument is not a number")
	}

	var memLimit, frameLimit uint64
	if len(args) > 3 {
		memLimit, _ = strconv.ParseUint(args[3], 10, 64)
	}
	if len(args) > 4 {
		frameLimit, _ = strconv.ParseUint(args[4], 10, 64)
	}

	s := &Subjail{
		ch:         ipc.FromFD(fd, ipc.ModeChild),
		index:      index,
		memLimit:   memLimit,
		frameLimit: frameLimit,
	}
	return s.Run()
}

// Run announces the subjail, applies the lockdown, constructs the
// interpreter, and enters the message loop. SubjailAlive goes out before
// the seccomp install so the controller's spawn never races the filter.
func (s *Subjail) Run() error {
	alive := ipc.Message{
		Type:         ipc.MsgSubjailAlive,
		SubjailIndex: int32(s.index),
		SubjailPID:   int32(os.Getpid()),
	}
	if err := s.ch.Send(alive, -1); err != nil {
		return err
	}

	if err := linux.Lockdown(linux.FilterSubjail, s.memLimit); err != nil {
		return err
	}

	interp, err := currentFactory()(s)
	if err != nil {
		return errors.Wrap(err, errors.ErrThread, "subjail.Run")
	}
	s.interp = interp

	return s.loop()
}

// Index returns the subjail's jail-assigned index.
func (s *Subjail) Index() int { return s.index }

func (s *Subjail) loop() error {
	log := logging.Default().With("subjail", s.index)
	for {
		msg, fd, err := s.ch.Recv(ipc.NoTimeout)
		if err != nil {
			return err
		}

		switch msg.Type {
		case ipc.MsgHello:
			s.controllerPID = int(msg.PID)
			log.Debug("controller hello", "pid", s.controllerPID)

		case ipc.MsgScriptString:
			s.runChunk("=(script string)", msg.ScriptText)

		case ipc.MsgScriptFile:
			src, rerr := readAll(fd)
			if rerr != nil {
				return rerr
			}
			s.runChunk(msg.ChunkName, string(src))

		case ipc.MsgHostVariable:
			v, derr := variant.Decode(msg.VarValueBytes)
			if derr != nil {
				return derr
			}
			if serr := s.interp.SetGlobal(msg.VarName, v); serr != nil {
				return errors.Wrap(serr, errors.ErrThread, "subjail.loop")
			}

		case ipc.MsgScriptCall:
			if err := s.runScriptCall(msg, fd); err != nil {
				return err
			}

		case ipc.MsgQuit:
			log.Debug("quit received")
			return nil

		default:
			return errors.New(errors.ErrThread, "subjail.loop", "unexpected message type "+msg.Type.String())
		}
	}
}

// runChunk executes one script chunk, sending the ScriptInfo / ScriptResult
// pair the controller's run helpers reconcile on.
func (s *Subjail) runChunk(name, source string) {
	id := uuid.NewString()
	s.ch.Send(ipc.Message{Type: ipc.MsgScriptInfo, ScriptID: id}, -1)

	res := result.Ok
	errMsg := ""
	if _, err := s.interp.RunChunk(name, source); err != nil {
		res = result.New(result.ContextScriptRunFail)
		errMsg = truncateError(err)
	}
	s.ch.Send(ipc.Message{
		Type:         ipc.MsgScriptResult,
		ScriptID:     id,
		Result:       res,
		ErrorMessage: errMsg,
	}, -1)
	logging.Script(logging.Default(), id).Debug("chunk finished", logging.WireResult(res))
}

// runScriptCall services a host-initiated call into a script function:
// resolve the argument virtual pointers out of the shared arena, invoke
// the interpreter, append the return variant to the arena, and report its
// virtual pointer in the ScriptResult.
func (s *Subjail) runScriptCall(msg ipc.Message, arenaFD int) error {
	id := uuid.NewString()
	s.ch.Send(ipc.Message{Type: ipc.MsgScriptInfo, ScriptID: id}, -1)

	// The arena must be unmapped and its fd dropped before the ScriptResult
	// goes out: the controller seals the region on receipt, and a lingering
	// writable mapping on this side would make F_SEAL_WRITE fail.
	arena, err := fdmem.Open(arenaFD, msg.OccupiedBytes)
	if err != nil {
		return err
	}
	defer arena.Close()

	sendResult := func(m ipc.Message) error {
		arena.Close()
		return s.ch.Send(m, -1)
	}

	args := make([]variant.Variant, 0, len(msg.ArgPtrs))
	for _, vp := range msg.ArgPtrs {
		if vp == 0 || vp-1 >= msg.OccupiedBytes {
			return sendResult(scriptError(id, result.New(result.ContextAllocOutOfRange), "argument pointer out of range"))
		}
		raw, ok := arena.RealPtr(vp, msg.OccupiedBytes-(vp-1))
		if !ok {
			return sendResult(scriptError(id, result.New(result.ContextAllocOutOfRange), "argument pointer out of range"))
		}
		v, derr := variant.Decode(raw)
		if derr != nil {
			return sendResult(scriptError(id, result.New(result.ContextAllocOutOfRange), "argument is not a variant"))
		}
		args = append(args, v)
	}

	ret, cerr := s.interp.Call(msg.CallName, args)
	if cerr != nil {
		return sendResult(scriptError(id, result.New(result.ContextScriptRunFail), truncateError(cerr)))
	}

	vp, aerr := arena.Alloc(variant.Encode(ret))
	if aerr != nil {
		return sendResult(scriptError(id, result.New(result.ContextAllocFailed), "return allocation failed"))
	}

	return sendResult(ipc.Message{
		Type:         ipc.MsgScriptResult,
		ScriptID:     id,
		Result:       result.Ok,
		HasReturnPtr: true,
		ReturnPtr:    vp,
	})
}

func scriptError(id string, res result.Result, msg string) ipc.Message {
	return ipc.Message{
		Type:         ipc.MsgScriptResult,
		ScriptID:     id,
		Result:       res,
		ErrorMessage: msg,
	}
}

// CallHost sends a FunctionCall for one of the host's registered RPC
// functions and blocks for the FunctionReturn. args are
// passed by reference: the host gather-reads them out of this process's
// address space, so the slices are pinned across the call. The return
// bytes land in a locally allocated buffer of retSize bytes; the returned
// fd is -1 unless the host handed one back.
func (s *Subjail) CallHost(name string, args [][]byte, retSize uint64) ([]byte, int, result.Result, error) {
	if len(args) > ipc.MaxCallArgs {
		return nil, -1, result.Ok, errors.New(errors.ErrThread, "subjail.CallHost", "too many call arguments")
	}
	var total uint64
	for _, a := range args {
		total += uint64(len(a))
	}
	if s.frameLimit > 0 && total+retSize > s.frameLimit {
		// The host would refuse this anyway; failing locally spares the
		// round trip.
		return nil, -1, result.New(result.ContextRPCFrameTooLarge), nil
	}

	retBuf := make([]byte, retSize)
	msg := ipc.Message{
		Type:       ipc.MsgFunctionCall,
		FuncName:   name,
		RemoteArgs: make([]ipc.RemotePtr, len(args)),
	}
	for i, a := range args {
		if len(a) > 0 {
			msg.RemoteArgs[i] = ipc.RemotePtr{Addr: uintptr(unsafe.Pointer(&a[0])), Size: uint64(len(a))}
		}
	}
	if retSize > 0 {
		msg.RemoteReturn = ipc.RemotePtr{Addr: uintptr(unsafe.Pointer(&retBuf[0])), Size: retSize}
	}

	reply, fd, err := s.ch.Call(msg, ipc.NoTimeout)
	runtime.KeepAlive(args)
	runtime.KeepAlive(retBuf)
	if err != nil {
		return nil, -1, result.Ok, err
	}
	return retBuf, fd, reply.Result, nil
}

// MaxScriptFileSize bounds how much script source a ScriptFile fd may
// deliver into the subjail's memory.
const MaxScriptFileSize = 1 << 20

func readAll(fd int) ([]byte, error) {
	if fd < 0 {
		return nil, errors.New(errors.ErrThread, "subjail.readAll", "ScriptFile carried no fd")
	}
	f := os.NewFile(uintptr(fd), "scriptfile")
	defer f.Close()

	buf := buffer.New(MaxScriptFileSize)
	chunk := make([]byte, 4096)
	for {
		n, err := f.Read(chunk)
		if n > 0 {
			if !buf.Append(chunk[:n]) {
				return nil, errors.New(errors.ErrThread, "subjail.readAll", "script file exceeds size limit")
			}
		}
		if err == io.EOF {
			return buf.Bytes(), nil
		}
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrThread, "subjail.readAll")
		}
	}
}

func truncateError(err error) string {
	msg := err.Error()
	if len(msg) > ipc.MaxErrorMsgLen {
		msg = msg[:ipc.MaxErrorMsgLen]
	}
	return msg
}
