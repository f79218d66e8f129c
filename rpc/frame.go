package rpc

import (
	"ghostjail/errors"
	"ghostjail/ipc"
	"ghostjail/result"
)

// Frame is the per-call state for one RPC invocation: the target function,
// the caller's arguments copied locally, a preallocated return buffer, and
// an optional return fd. Frames are constructed from a FunctionCall
// message, executed once, and disposed.
type Frame struct {
	fn  *Function
	reg *Registry
	pid int

	remoteReturn remoteIovec
	backing      []byte

	// Args holds one slice per RemoteArgs entry, views into backing.
	Args [][]byte
	// Return is the preallocated return buffer, a view into backing.
	Return []byte
	// ReturnFD is set by a handler that wants to hand a file descriptor
	// back to the script; -1 means no fd.
	ReturnFD int

	executed bool
	disposed bool
}

// NewFrame builds a Frame from a FunctionCall message, reading the caller's
// argument bytes out of pid's address space in one gather read. A missing
// function short-circuits with ContextRPCMissingFunc and no remote read at
// all, so a caller referencing a bad name is never kept waiting on a
// syscall.
func NewFrame(reg *Registry, pid int, call ipc.Message, frameLimit uint64) (*Frame, result.Result) {
	fn, ok := reg.lookup(call.FuncName)
	if !ok {
		return nil, result.New(result.ContextRPCMissingFunc)
	}

	var total uint64
	for _, a := range call.RemoteArgs {
		total += a.Size
	}
	total += call.RemoteReturn.Size
	if frameLimit > 0 && total > frameLimit {
		return nil, result.New(result.ContextRPCFrameTooLarge)
	}

	backing := make([]byte, total)
	args := make([][]byte, len(call.RemoteArgs))
	remotes := make([]remoteIovec, 0, len(call.RemoteArgs))
	locals := make([][]byte, 0, len(call.RemoteArgs))

	var off uint64
	for i, a := range call.RemoteArgs {
		args[i] = backing[off : off+a.Size]
		if a.Size > 0 {
			remotes = append(remotes, remoteIovec{Base: a.Addr, Len: a.Size})
			locals = append(locals, args[i])
		}
		off += a.Size
	}
	retBuf := backing[off : off+call.RemoteReturn.Size]

	if len(remotes) > 0 {
		if _, err := readRemote(pid, remotes, locals); err != nil {
			return nil, result.Wrap(result.ContextRPCRemoteReadFail, err)
		}
	}

	return &Frame{
		fn:           fn,
		reg:          reg,
		pid:          pid,
		remoteReturn: remoteIovec{Base: call.RemoteReturn.Addr, Len: call.RemoteReturn.Size},
		backing:      backing,
		Args:         args,
		Return:       retBuf,
		ReturnFD:     -1,
	}, result.Ok
}

// Execute runs the frame's handler under the class-appropriate lock,
// exactly once.
func (f *Frame) Execute() (result.Result, error) {
	if f.disposed {
		return result.Ok, errors.New(errors.ErrRPC, "rpc.Frame.Execute", "frame already disposed")
	}
	if f.executed {
		return result.Ok, errors.New(errors.ErrRPC, "rpc.Frame.Execute", "frame already executed")
	}
	f.executed = true

	unlock := f.reg.lock(f.fn)
	defer unlock()

	if err := f.fn.Handler(f); err != nil {
		if res, ok := err.(result.Result); ok {
			return res, nil
		}
		return result.Wrap(result.ContextRPCMissingFunc, err), nil
	}
	return result.Ok, nil
}

// WriteBack copies the frame's Return buffer into the caller's declared
// return address, the mirror of the argument gather read. A zero-size
// declared return is a no-op.
func (f *Frame) WriteBack() error {
	if f.remoteReturn.Len == 0 {
		return nil
	}
	if _, err := writeRemote(f.pid, []remoteIovec{f.remoteReturn}, [][]byte{f.Return}); err != nil {
		return errors.Wrap(err, errors.ErrRPC, "rpc.Frame.WriteBack")
	}
	return nil
}

// Arg returns the idx'th argument buffer, or an error if idx is out of
// range.
func (f *Frame) Arg(idx int) ([]byte, error) {
	if idx < 0 || idx >= len(f.Args) {
		return nil, errors.New(errors.ErrRPC, "rpc.Frame.Arg", "invalid argument index")
	}
	return f.Args[idx], nil
}

// Dispose releases the frame. Safe to call more than once.
func (f *Frame) Dispose() {
	f.disposed = true
}
