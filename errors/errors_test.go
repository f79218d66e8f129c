package errors

import (
	"fmt"
	"syscall"
	"testing"

	"github.com/stretchr/testify/require"

	"ghostjail/result"
)

func TestErrorRendersEveryPart(t *testing.T) {
	err := Wrap(syscall.EPIPE, ErrIPC, "ipc.Send").
		WithDetail("sendmsg failed").
		WithThread("scripts/cleanup.gh")
	require.Equal(t,
		"ipc.Send: sendmsg failed (thread scripts/cleanup.gh): broken pipe",
		err.Error())
}

func TestErrorFallsBackToKindName(t *testing.T) {
	err := New(ErrJail, "jail.loop", "")
	require.Equal(t, "jail.loop: jail error", err.Error())
}

func TestErrorRendersPathScope(t *testing.T) {
	err := New(ErrParser, "perms.LoadFile", "").WithPath("/etc/ghostjail/policy.ghperm")
	require.Contains(t, err.Error(), "(path /etc/ghostjail/policy.ghperm)")
}

func TestErrorRendersThreadAndPathTogether(t *testing.T) {
	err := New(ErrPermFS, "gatefile", "denied").WithThread("w1").WithPath("/tmp/x")
	require.Contains(t, err.Error(), "(thread w1, path /tmp/x)")
}

func TestWrapAbsorbsWireResult(t *testing.T) {
	code := result.New(result.ContextRPCFrameTooLarge)
	err := Wrap(code, ErrRPC, "rpc.NewFrame")

	// The code renders once, as the wire code, not again as a chained cause.
	require.Equal(t, "rpc.NewFrame: rpc error: rpc call frame too large", err.Error())
	require.Nil(t, err.Unwrap())
	require.Equal(t, code, err.Code)
}

func TestFromResultDerivesKind(t *testing.T) {
	for _, tc := range []struct {
		context result.Context
		kind    ErrorKind
	}{
		{result.ContextIPCTimeout, ErrIPC},
		{result.ContextRPCMissingFunc, ErrRPC},
		{result.ContextAllocOutOfRange, ErrAllocation},
		{result.ContextPermFSDenied, ErrPermFS},
		{result.ContextPermExecDenied, ErrPermExec},
		{result.ContextParserUnexpectedToken, ErrParser},
		{result.ContextJailLockdownFail, ErrJail},
		{result.ContextSandboxQuitTimeout, ErrSandbox},
		{result.ContextThreadForceKill, ErrThread},
		{result.ContextScriptRunFail, ErrThread},
		{result.ContextPathFDOpenFail, ErrPathFD},
		{result.ContextOK, ErrInternal},
	} {
		err := FromResult("op", result.New(tc.context))
		require.Equal(t, tc.kind, err.Kind, "context %v", tc.context)
	}
}

func TestIsMatchesSentinelAcrossKind(t *testing.T) {
	// A sentinel names a kind but no op, so it matches any error of that
	// kind regardless of where it was produced.
	err := Wrap(syscall.ECONNRESET, ErrIPC, "ipc.Recv").WithDetail("recvmsg failed")
	require.ErrorIs(t, err, ErrIPCSendFailed)

	require.NotErrorIs(t, New(ErrThread, "thread.Quit", ""), ErrIPCSendFailed)
}

func TestIsRefinesOnOpWhenTargetNamesOne(t *testing.T) {
	err := New(ErrIPC, "ipc.Send", "")
	require.ErrorIs(t, err, &GhostError{Kind: ErrIPC})
	require.ErrorIs(t, err, &GhostError{Kind: ErrIPC, Op: "ipc.Send"})
	require.NotErrorIs(t, err, &GhostError{Kind: ErrIPC, Op: "ipc.Recv"})
}

func TestIsMatchesWireResultByContext(t *testing.T) {
	err := FromResult("thread.CallScript", result.New(result.ContextScriptRunFail))
	require.ErrorIs(t, err, result.New(result.ContextScriptRunFail))
	require.NotErrorIs(t, err, result.New(result.ContextRPCMissingFunc))
}

func TestCodeWalksWrapChain(t *testing.T) {
	inner := FromResult("subjail", result.WithExitCode(3))
	outer := fmt.Errorf("running script: %w", inner)

	code, ok := Code(outer)
	require.True(t, ok)
	exit, ok := code.ExitCode()
	require.True(t, ok)
	require.Equal(t, 3, exit)
}

func TestCodeFindsBareResult(t *testing.T) {
	code, ok := Code(result.New(result.ContextIPCTruncated))
	require.True(t, ok)
	require.Equal(t, result.ContextIPCTruncated, code.Context())
}

func TestCodeAbsentWithoutWireResult(t *testing.T) {
	_, ok := Code(New(ErrInternal, "op", "no code here"))
	require.False(t, ok)
	_, ok = Code(nil)
	require.False(t, ok)
}

func TestErrnoPrefersRawSyscallError(t *testing.T) {
	err := Wrap(syscall.EBADF, ErrRPC, "thread.dispatchCall")
	errno, ok := Errno(err)
	require.True(t, ok)
	require.Equal(t, syscall.EBADF, errno)
}

func TestErrnoUnpacksWireResult(t *testing.T) {
	err := FromResult("ipc.Recv", result.WithErrno(result.ContextIPCRecvMsgFail, syscall.EINTR))
	errno, ok := Errno(err)
	require.True(t, ok)
	require.Equal(t, syscall.EINTR, errno)
}

func TestErrnoAbsentForPayloadFreeContexts(t *testing.T) {
	// Exit-code and signal payloads are not errnos.
	_, ok := Errno(FromResult("quit", result.WithExitCode(1)))
	require.False(t, ok)
}

func TestUnwrapReachesCause(t *testing.T) {
	cause := syscall.ENOENT
	err := Wrap(cause, ErrPathFD, "pathfd.Open")
	require.ErrorIs(t, err, cause)
}

func TestNilError(t *testing.T) {
	var err *GhostError
	require.Equal(t, "<nil>", err.Error())
	require.Nil(t, err.Unwrap())
}

func TestKindStringBounds(t *testing.T) {
	require.Equal(t, "thread error", ErrThread.String())
	require.Equal(t, "unknown error", ErrorKind(999).String())
	require.Equal(t, "unknown error", ErrorKind(-1).String())
}
