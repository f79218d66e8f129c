// Package thread implements the host's handle on one subjail: constructing
// the subjail through the jail, running scripts and reconciling their
// results by script id, dispatching subjail-originated RPC calls through
// the shared registry, and the quit-with-deadline teardown. A Thread is
// not an OS thread; it is driven by whichever host thread owns it.
package thread

import (
	"os"
	"time"

	"golang.org/x/sys/unix"

	"ghostjail/errors"
	"ghostjail/ipc"
	"ghostjail/logging"
	"ghostjail/perms"
	"ghostjail/perms/prompt"
	"ghostjail/result"
	"ghostjail/rpc"
	"ghostjail/sandbox"
	"ghostjail/utils"
	"ghostjail/variant"
)

// SpawnTimeout bounds how long thread construction waits for the jail to
// fork a subjail and for that subjail to report SubjailAlive.
const SpawnTimeout = 10 * time.Second

// Options configures a new Thread.
type Options struct {
	// Name is a human-readable label for logs.
	Name string

	// SafeID is the thread's stable identity, reported as the source of
	// every permission request it generates. It is not necessarily a file
	// path. Required.
	SafeID string

	// Prompter answers this thread's permission prompts. Nil fails closed
	// (auto-reject).
	Prompter prompt.Prompter

	// RecvTimeout is the default IPC receive timeout for the thread's
	// process loop; zero blocks forever.
	RecvTimeout time.Duration

	// UserData is an opaque value carried on the thread for RPC handlers.
	UserData any
}

// Thread is the host's handle on one subjail process.
type Thread struct {
	sb    *sandbox.Sandbox
	name  string
	safe  string
	pid   int
	index int
	ch    *ipc.Channel

	reg   *rpc.Registry
	perms *perms.Permissions

	frameLimit uint64
	timeout    time.Duration
	userData   any
}

// ScriptNote is a surfaced ScriptResult notification, reconciled against
// pending runs by script id.
type ScriptNote struct {
	ScriptID     string
	Result       result.Result
	ErrorMessage string
	HasReturnPtr bool
	ReturnPtr    uint64
}

// New constructs a thread: it opens a direct IPC pair through the
// sandbox's jail, waits for the subjail's SubjailAlive, sends the Hello,
// and builds the thread's owned permission aggregate. The shared
// registry's live-thread count is incremented, gating further registration
// for the thread's lifetime.
func New(sb *sandbox.Sandbox, opts Options) (*Thread, error) {
	if opts.SafeID == "" {
		return nil, errors.ErrEmptyThreadID
	}

	direct, err := sb.SpawnSubjail()
	if err != nil {
		return nil, err
	}

	msg, _, err := direct.Recv(SpawnTimeout)
	if err != nil {
		direct.Close()
		return nil, errors.Wrap(err, errors.ErrThread, "thread.New").WithThread(opts.SafeID)
	}
	if msg.Type != ipc.MsgSubjailAlive {
		direct.Close()
		return nil, errors.ErrThreadSpawnFailed
	}

	if err := direct.Send(ipc.Message{Type: ipc.MsgHello, PID: int32(os.Getpid())}, -1); err != nil {
		direct.Close()
		return nil, err
	}

	pr, err := perms.New(opts.Prompter)
	if err != nil {
		direct.Close()
		return nil, err
	}

	reg := sb.Registry()
	reg.AcquireThread()

	t := &Thread{
		sb:         sb,
		name:       opts.Name,
		safe:       opts.SafeID,
		pid:        int(msg.SubjailPID),
		index:      int(msg.SubjailIndex),
		ch:         direct,
		reg:        reg,
		perms:      pr,
		frameLimit: sb.Options().FunctionCallFrameLimit,
		timeout:    opts.RecvTimeout,
		userData:   opts.UserData,
	}

	logging.Thread(t.safe).Debug("subjail alive", "pid", t.pid, "index", t.index)
	return t, nil
}

// SafeID returns the thread's stable identity.
func (t *Thread) SafeID() string { return t.safe }

// Name returns the thread's human-readable label.
func (t *Thread) Name() string { return t.name }

// PID returns the subjail process id.
func (t *Thread) PID() int { return t.pid }

// Index returns the jail-assigned subjail index.
func (t *Thread) Index() int { return t.index }

// Perms returns the thread's owned permission aggregate.
func (t *Thread) Perms() *perms.Permissions { return t.perms }

// UserData returns the opaque value the thread was constructed with.
func (t *Thread) UserData() any { return t.userData }

// sanitizeErrorMessage clamps an inbound error message as if
// null-terminating a forged, unterminated buffer: a message filling the
// whole wire field is cut to the field size minus the terminator, so the
// caller observes at most MaxErrorMsgLen-1 bytes no matter what the
// subjail sent.
func sanitizeErrorMessage(msg string) string {
	if len(msg) >= ipc.MaxErrorMsgLen {
		return msg[:ipc.MaxErrorMsgLen-1]
	}
	return msg
}

// ProcessOne receives and handles one message from the subjail: a
// FunctionCall is dispatched through the RPC engine and answered inline; a
// ScriptResult is returned as a note for the caller to reconcile. Any
// other message type is a protocol violation by the subjail and is fatal
// to the thread.
func (t *Thread) ProcessOne(timeout time.Duration) (*ScriptNote, error) {
	msg, fd, err := t.ch.Recv(timeout)
	if err != nil {
		return nil, err
	}

	switch msg.Type {
	case ipc.MsgFunctionCall:
		return nil, t.dispatchCall(msg)

	case ipc.MsgScriptResult:
		return &ScriptNote{
			ScriptID:     msg.ScriptID,
			Result:       msg.Result,
			ErrorMessage: sanitizeErrorMessage(msg.ErrorMessage),
			HasReturnPtr: msg.HasReturnPtr,
			ReturnPtr:    msg.ReturnPtr,
		}, nil

	default:
		if fd >= 0 {
			unix.Close(fd)
		}
		return nil, errors.FromResult("thread.ProcessOne",
			result.New(result.ContextThreadUnknownMessage)).WithThread(t.safe)
	}
}

// dispatchCall runs one subjail-originated RPC call and sends the reply.
// If sending a return fd fails with EBADF (a stale fd), the reply is
// retried once without it, the result overwritten with invalid-fd.
func (t *Thread) dispatchCall(call ipc.Message) error {
	reply, retFD := rpc.Dispatch(t.reg, t.pid, call, t.frameLimit)

	err := t.ch.Send(reply, retFD)
	if err != nil && retFD >= 0 {
		if errno, ok := errors.Errno(err); ok && errno == unix.EBADF {
			reply.Result = result.New(result.ContextRPCInvalidFD)
			err = t.ch.Send(reply, -1)
		}
	}
	if retFD >= 0 {
		unix.Close(retFD)
	}
	return err
}

// runAndExpectInfo sends a run message and reads back the ScriptInfo that
// must immediately follow it, returning the subjail-assigned script id.
func (t *Thread) runAndExpectInfo(msg ipc.Message, fd int) (string, error) {
	if err := t.ch.Send(msg, fd); err != nil {
		return "", err
	}
	reply, rfd, err := t.ch.Recv(t.timeout)
	if err != nil {
		return "", err
	}
	if rfd >= 0 {
		unix.Close(rfd)
	}
	if reply.Type != ipc.MsgScriptInfo {
		return "", errors.FromResult("thread.runAndExpectInfo",
			result.New(result.ContextThreadExpectedScriptInfo)).WithThread(t.safe)
	}
	return reply.ScriptID, nil
}

// RunString starts executing inline source text in the subjail and returns
// its script id. The caller drives ProcessOne until the matching
// ScriptNote arrives, or uses RunStringSync.
func (t *Thread) RunString(source string) (string, error) {
	if len(source) > ipc.MaxInlineText {
		return "", errors.New(errors.ErrThread, "thread.RunString", "script source exceeds inline limit")
	}
	return t.runAndExpectInfo(ipc.Message{Type: ipc.MsgScriptString, ScriptText: source}, -1)
}

// RunFile starts executing a script from an open file, passing the fd
// itself to the subjail, and returns its script id.
func (t *Thread) RunFile(f *os.File, chunkName string) (string, error) {
	if len(chunkName) > ipc.MaxChunkName {
		return "", errors.New(errors.ErrThread, "thread.RunFile", "chunk name too long")
	}
	return t.runAndExpectInfo(ipc.Message{Type: ipc.MsgScriptFile, ChunkName: chunkName}, int(f.Fd()))
}

// WaitScript drives the process loop until the ScriptNote for id arrives,
// dispatching intermediate FunctionCalls synchronously. Notes for other
// script ids are a protocol violation on a single-script channel and fail
// the wait.
func (t *Thread) WaitScript(id string) (*ScriptNote, error) {
	for {
		note, err := t.ProcessOne(t.timeout)
		if err != nil {
			return nil, err
		}
		if note == nil {
			continue
		}
		if note.ScriptID != id {
			return nil, errors.FromResult("thread.WaitScript",
				result.New(result.ContextThreadUnknownMessage)).WithThread(t.safe)
		}
		return note, nil
	}
}

// RunStringSync runs inline source to completion.
func (t *Thread) RunStringSync(source string) (*ScriptNote, error) {
	id, err := t.RunString(source)
	if err != nil {
		return nil, err
	}
	return t.WaitScript(id)
}

// RunFileSync runs a script file to completion.
func (t *Thread) RunFileSync(f *os.File, chunkName string) (*ScriptNote, error) {
	id, err := t.RunFile(f, chunkName)
	if err != nil {
		return nil, err
	}
	return t.WaitScript(id)
}

// SetVariable installs a host variable into the script environment.
func (t *Thread) SetVariable(name string, v variant.Variant) error {
	if len(name) > ipc.MaxVarNameLen {
		return errors.New(errors.ErrThread, "thread.SetVariable", "variable name too long")
	}
	return t.ch.Send(ipc.Message{
		Type:          ipc.MsgHostVariable,
		VarName:       name,
		VarValueBytes: variant.Encode(v),
	}, -1)
}

// SetVariableIndexed is SetVariable with a string-table index attached,
// for interpreters that intern host strings by slot rather than by name.
func (t *Thread) SetVariableIndexed(name string, v variant.Variant, index int32) error {
	if len(name) > ipc.MaxVarNameLen {
		return errors.New(errors.ErrThread, "thread.SetVariableIndexed", "variable name too long")
	}
	return t.ch.Send(ipc.Message{
		Type:                ipc.MsgHostVariable,
		VarName:             name,
		VarValueBytes:       variant.Encode(v),
		HasStringTableIndex: true,
		StringTableIndex:    index,
	}, -1)
}

// Quit tears the thread down: a cooperative Quit, the 4-second pidfd
// deadline with SIGKILL on expiry, then release of the IPC channel, the
// registry reference, and the permission aggregate, in that order, so the
// aggregate outlives the subjail. Safe even if the subjail died already:
// the Quit send's peer-shutdown failure is ignored.
func (t *Thread) Quit() result.Result {
	if err := t.ch.Send(ipc.Message{Type: ipc.MsgQuit}, -1); err != nil {
		logging.Thread(t.safe).Debug("quit send failed", "err", err)
	}

	res := result.Ok
	forced, err := utils.WaitExit(t.pid, utils.QuitWait)
	switch {
	case err != nil:
		res = result.Wrap(result.ContextSandboxWaitFail, err)
	case forced:
		res = result.New(result.ContextThreadForceKill)
	}

	t.ch.Close()
	t.reg.ReleaseThread()
	t.perms.Close()
	return res
}
