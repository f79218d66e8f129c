package jail

import (
	"testing"

	"github.com/stretchr/testify/require"

	"ghostjail/ipc"
)

func TestMainRequiresOptionsFDArgument(t *testing.T) {
	require.Error(t, Main([]string{"ghost-jail"}))
	require.Error(t, Main([]string{"ghost-jail", "notanumber"}))
	require.Error(t, Main([]string{"ghost-jail", "-1"}))
}

func TestLoopRejectsSecondHello(t *testing.T) {
	ctrl, child, err := ipc.New()
	require.NoError(t, err)
	defer ctrl.Close()
	defer child.Close()

	j := &Jail{ch: child}

	require.NoError(t, ctrl.Send(ipc.Message{Type: ipc.MsgHello, PID: 1}, -1))
	require.NoError(t, ctrl.Send(ipc.Message{Type: ipc.MsgHello, PID: 2}, -1))

	err = j.loop()
	require.Error(t, err)
	require.Contains(t, err.Error(), "second hello")
}

func TestLoopExitsOnQuit(t *testing.T) {
	ctrl, child, err := ipc.New()
	require.NoError(t, err)
	defer ctrl.Close()
	defer child.Close()

	j := &Jail{ch: child}

	require.NoError(t, ctrl.Send(ipc.Message{Type: ipc.MsgHello, PID: 1}, -1))
	require.NoError(t, ctrl.Send(ipc.Message{Type: ipc.MsgQuit}, -1))

	require.NoError(t, j.loop())
	require.Equal(t, 1, j.controllerPID)
}

func TestLoopRejectsUnexpectedMessage(t *testing.T) {
	ctrl, child, err := ipc.New()
	require.NoError(t, err)
	defer ctrl.Close()
	defer child.Close()

	j := &Jail{ch: child}

	// A ScriptString belongs on a thread<->subjail channel, never on the
	// sandbox control channel.
	require.NoError(t, ctrl.Send(ipc.Message{Type: ipc.MsgScriptString, ScriptText: "x"}, -1))

	require.Error(t, j.loop())
}
