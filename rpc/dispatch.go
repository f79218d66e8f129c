package rpc

import (
	"ghostjail/ipc"
	"ghostjail/result"
)

// Dispatch constructs a Frame from call, runs it, writes its return value
// back into the caller's address space, and returns the FunctionReturn
// message (plus any fd the handler produced) that the thread's message loop
// should send in reply. Frame construction/execution/disposal all happen
// inside Dispatch so a caller never has to manage Frame lifetime directly.
func Dispatch(reg *Registry, pid int, call ipc.Message, frameLimit uint64) (ipc.Message, int) {
	frame, res := NewFrame(reg, pid, call, frameLimit)
	if frame == nil {
		return ipc.Message{Type: ipc.MsgFunctionReturn, Result: res}, -1
	}
	defer frame.Dispose()

	res, execErr := frame.Execute()
	if execErr != nil {
		return ipc.Message{Type: ipc.MsgFunctionReturn, Result: result.New(result.ContextRPCMissingFunc)}, -1
	}

	if res.IsOK() {
		if err := frame.WriteBack(); err != nil {
			return ipc.Message{Type: ipc.MsgFunctionReturn, Result: result.Wrap(result.ContextRPCRemoteWriteFail, err)}, -1
		}
	}
	return ipc.Message{Type: ipc.MsgFunctionReturn, Result: res}, frame.ReturnFD
}
