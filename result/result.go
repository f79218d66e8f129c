// Package result implements the ghostjail wire result code: a packed status
// value that travels across the controller<->jail ipc channel and back out
// through sandbox exit handling. The low 16 bits are a context (what
// failed, or zero for ok), and the high 16 bits are a payload whose meaning
// depends on the context (an errno, a process exit code, or a signal
// number).
package result

import (
	"fmt"
	"syscall"
)

// Context identifies what kind of operation produced a Result.
type Context uint16

// Result packs a Context and a 16-bit payload into a single wire-friendly
// value, matching the layout that crosses the ipc channel in FunctionReturn
// and ScriptResult messages.
type Result uint32

const (
	// ContextOK is the zero context: no error occurred.
	ContextOK Context = iota

	// ContextAllocFailed is set when the shared memory arena could not grow.
	ContextAllocFailed
	// ContextAllocOutOfRange is set when a virtual pointer fell outside the
	// arena's occupied region.
	ContextAllocOutOfRange

	// ContextIPCSockCreateFail is set when the ipc socketpair could not be created.
	ContextIPCSockCreateFail
	// ContextIPCSendMsgFail is set when sendmsg on the ipc socket failed; payload
	// carries the errno.
	ContextIPCSendMsgFail
	// ContextIPCRecvMsgFail is set when recvmsg on the ipc socket failed; payload
	// carries the errno.
	ContextIPCRecvMsgFail
	// ContextIPCTimeout is set when poll timed out waiting for a message.
	ContextIPCTimeout
	// ContextIPCTruncated is set when MSG_TRUNC was observed on a datagram.
	ContextIPCTruncated
	// ContextIPCTooSmall is set when a received datagram was smaller than the
	// minimum valid message size.
	ContextIPCTooSmall

	// ContextFdMemResizeFail is set when ftruncate/mremap failed while growing
	// the arena.
	ContextFdMemResizeFail
	// ContextFdMemSealFail is set when sealing the arena's memfd failed.
	ContextFdMemSealFail

	// ContextRPCMissingFunc is set when a call referenced an unregistered function.
	ContextRPCMissingFunc
	// ContextRPCInUse is set when a registration was refused because threads
	// still reference the registry.
	ContextRPCInUse
	// ContextRPCInvalidFD is set when a call frame's fd could not be used by the
	// remote end; the frame is retried once without it.
	ContextRPCInvalidFD
	// ContextRPCFrameTooLarge is set when a call's combined argument and return
	// size exceeded the configured limit.
	ContextRPCFrameTooLarge
	// ContextRPCRemoteReadFail is set when the gather read of a caller's argument
	// buffers failed.
	ContextRPCRemoteReadFail
	// ContextRPCRemoteWriteFail is set when writing a return value into the
	// caller's buffer failed.
	ContextRPCRemoteWriteFail

	// ContextPermFSDenied is set when a filesystem operation was rejected.
	ContextPermFSDenied
	// ContextPermExecDenied is set when an exec was rejected.
	ContextPermExecDenied
	// ContextPermGenericDenied is set when a generic domain rejected an action.
	ContextPermGenericDenied
	// ContextPermGenericFull is set when no free generic domain slot remained.
	ContextPermGenericFull

	// ContextParserUnexpectedToken is set on a GHPERM syntax error.
	ContextParserUnexpectedToken
	// ContextParserUnknownResource is set when a policy resource name matched no
	// registered domain.
	ContextParserUnknownResource
	// ContextParserUnterminatedString is set when a quoted field ran off the end
	// of the file.
	ContextParserUnterminatedString

	// ContextPrompterEmergencyKill is set when the user answered a prompt with the
	// emergency-kill keystroke.
	ContextPrompterEmergencyKill
	// ContextPrompterNoTTY is set when an interactive prompt was requested without
	// a controlling terminal.
	ContextPrompterNoTTY
	// ContextPrompterDeclined is set when the user declined a permission prompt.
	ContextPrompterDeclined

	// ContextEmbeddedJailNotProvided is set when the jail executable (the host
	// binary itself) could not be resolved.
	ContextEmbeddedJailNotProvided
	// ContextEmbeddedJailExecFail is set when exec of the jail executable
	// failed; payload carries the errno.
	ContextEmbeddedJailExecFail

	// ContextSandboxSpawnFail is set when forking/execing the sandbox's jail
	// process failed.
	ContextSandboxSpawnFail
	// ContextSandboxHelloTimeout is set when the jail never reported readiness.
	ContextSandboxHelloTimeout
	// ContextSandboxQuitTimeout is set when the sandbox missed its quit deadline
	// and was force-killed.
	ContextSandboxQuitTimeout
	// ContextSandboxWaitFail is set when the pidfd open/poll/wait plumbing
	// itself failed during shutdown.
	ContextSandboxWaitFail

	// ContextJailNonZeroExit is set when the jailed process exited with a nonzero
	// status; payload carries the exit code.
	ContextJailNonZeroExit
	// ContextJailKilledSig is set when the jailed process was terminated by a
	// signal; payload carries the signal number.
	ContextJailKilledSig
	// ContextJailLockdownFail is set when the no_new_privs/RLIMIT_DATA/seccomp
	// lockdown failed.
	ContextJailLockdownFail

	// ContextThreadSpawnFail is set when a subjail thread could not be spawned.
	ContextThreadSpawnFail
	// ContextThreadNotFound is set when an operation referenced an unknown thread.
	ContextThreadNotFound
	// ContextThreadUnknownMessage is set when a subjail sent a message type the
	// thread's process loop does not expect; fatal to that thread.
	ContextThreadUnknownMessage
	// ContextThreadExpectedScriptInfo is set when a run operation's first reply
	// was not the ScriptInfo it requires.
	ContextThreadExpectedScriptInfo
	// ContextThreadForceKill is set when a subjail ignored Quit past the
	// deadline and was SIGKILLed.
	ContextThreadForceKill

	// ContextScriptRunFail is set in a ScriptResult when the interpreter
	// reported a failure running a chunk or calling a script function.
	ContextScriptRunFail

	// ContextPathFDRejectedName is set when a path component ("." / ".." / "/")
	// was rejected by the trailing-open rule.
	ContextPathFDRejectedName
	// ContextPathFDOpenFail is set when openat failed; payload carries the errno.
	ContextPathFDOpenFail

	// ContextProcFDReopenFail is set when the /proc/self/fd reopen fallback failed.
	ContextProcFDReopenFail
	// ContextProcFDReadlinkFail is set when readlinkat failed.
	ContextProcFDReadlinkFail
)

var contextNames = map[Context]string{
	ContextOK:                       "ok",
	ContextAllocFailed:              "allocation failed",
	ContextAllocOutOfRange:          "pointer out of arena range",
	ContextIPCSockCreateFail:        "ipc socket create failed",
	ContextIPCSendMsgFail:           "ipc sendmsg failed",
	ContextIPCRecvMsgFail:           "ipc recvmsg failed",
	ContextIPCTimeout:               "ipc timed out",
	ContextIPCTruncated:             "ipc message truncated",
	ContextIPCTooSmall:              "ipc message too small",
	ContextFdMemResizeFail:          "shared memory resize failed",
	ContextFdMemSealFail:            "shared memory seal failed",
	ContextRPCMissingFunc:           "rpc function not registered",
	ContextRPCInUse:                 "rpc function in use",
	ContextRPCInvalidFD:             "rpc call carried invalid fd",
	ContextRPCFrameTooLarge:         "rpc call frame too large",
	ContextRPCRemoteReadFail:        "rpc remote read failed",
	ContextRPCRemoteWriteFail:       "rpc remote write failed",
	ContextPermFSDenied:             "filesystem access denied",
	ContextPermExecDenied:           "exec denied",
	ContextPermGenericDenied:        "action denied",
	ContextPermGenericFull:          "no free generic domain slots",
	ContextParserUnexpectedToken:    "unexpected token in policy file",
	ContextParserUnknownResource:    "unknown resource in policy file",
	ContextParserUnterminatedString: "unterminated string in policy file",
	ContextPrompterEmergencyKill:    "emergency kill requested",
	ContextPrompterNoTTY:            "prompter requires a terminal",
	ContextPrompterDeclined:         "permission prompt declined",
	ContextEmbeddedJailNotProvided:  "no embedded jail provided",
	ContextEmbeddedJailExecFail:     "embedded jail exec failed",
	ContextSandboxSpawnFail:         "sandbox spawn failed",
	ContextSandboxHelloTimeout:      "sandbox hello timed out",
	ContextSandboxQuitTimeout:       "sandbox quit timed out",
	ContextSandboxWaitFail:          "sandbox wait failed",
	ContextJailNonZeroExit:          "jail exited nonzero",
	ContextJailKilledSig:            "jail killed by signal",
	ContextJailLockdownFail:         "jail lockdown failed",
	ContextThreadSpawnFail:          "thread spawn failed",
	ContextThreadNotFound:           "thread not found",
	ContextThreadUnknownMessage:     "unexpected message from subjail",
	ContextThreadExpectedScriptInfo: "expected script info",
	ContextThreadForceKill:          "subjail force-killed",
	ContextScriptRunFail:            "script run failed",
	ContextPathFDRejectedName:       "path component not permitted",
	ContextPathFDOpenFail:           "path open failed",
	ContextProcFDReopenFail:         "procfd reopen failed",
	ContextProcFDReadlinkFail:       "procfd readlink failed",
}

// String returns the human-readable name of a context.
func (c Context) String() string {
	if name, ok := contextNames[c]; ok {
		return name
	}
	return "unknown context"
}

// hasErrnoPayload reports whether a context's payload is an errno rather than
// an exit code, signal number, or nothing meaningful.
func hasErrnoPayload(c Context) bool {
	switch c {
	case ContextJailNonZeroExit, ContextJailKilledSig, ContextOK:
		return false
	default:
		return true
	}
}

// Ok is the zero Result: no error.
const Ok Result = Result(ContextOK)

// New packs a bare context with no payload.
func New(ctx Context) Result {
	return Result(ctx)
}

// WithErrno packs a context together with a syscall errno, saturating the
// payload at 0xFFFF if the errno somehow exceeds 16 bits.
func WithErrno(ctx Context, errno syscall.Errno) Result {
	payload := uint32(errno)
	if payload > 0xFFFF {
		payload = 0xFFFF
	}
	return Result(uint32(ctx) | (payload << 16))
}

// Wrap packs a context from a generic error, extracting its errno if the
// error is a syscall.Errno, and the saturated 0xFFFF otherwise ("no
// identifiable errno"). A nil err packs the bare context, as New does.
func Wrap(ctx Context, err error) Result {
	if err == nil {
		return New(ctx)
	}
	var errno syscall.Errno
	if e, ok := err.(syscall.Errno); ok {
		errno = e
	} else {
		errno = 0xFFFF
	}
	return WithErrno(ctx, errno)
}

// WithExitCode packs ContextJailNonZeroExit with a process exit code payload.
func WithExitCode(code int) Result {
	return Result(uint32(ContextJailNonZeroExit) | (uint32(uint16(code)) << 16))
}

// WithSignal packs ContextJailKilledSig with a signal number payload.
func WithSignal(sig int) Result {
	return Result(uint32(ContextJailKilledSig) | (uint32(uint16(sig)) << 16))
}

// Context extracts the low-16-bit context from a Result.
func (r Result) Context() Context {
	return Context(uint32(r) & 0xFFFF)
}

// Payload extracts the raw high-16-bit payload from a Result.
func (r Result) Payload() uint16 {
	return uint16(uint32(r) >> 16)
}

// IsOK reports whether the Result carries no error.
func (r Result) IsOK() bool {
	return r.Context() == ContextOK
}

// IsErr reports whether the Result carries an error.
func (r Result) IsErr() bool {
	return !r.IsOK()
}

// Errno returns the payload as a syscall.Errno, valid only when the context
// is one that carries an errno payload.
func (r Result) Errno() (syscall.Errno, bool) {
	if !hasErrnoPayload(r.Context()) {
		return 0, false
	}
	return syscall.Errno(r.Payload()), true
}

// ExitCode returns the jailed process's exit code, valid only when the
// context is ContextJailNonZeroExit.
func (r Result) ExitCode() (int, bool) {
	if r.Context() != ContextJailNonZeroExit {
		return 0, false
	}
	return int(r.Payload()), true
}

// SignalNo returns the signal that killed the jailed process, valid only
// when the context is ContextJailKilledSig.
func (r Result) SignalNo() (int, bool) {
	if r.Context() != ContextJailKilledSig {
		return 0, false
	}
	return int(r.Payload()), true
}

// Error implements the error interface so a Result can be returned directly
// from functions that otherwise return a Go error.
func (r Result) Error() string {
	ctx := r.Context()
	switch ctx {
	case ContextOK:
		return "ok"
	case ContextJailNonZeroExit:
		code, _ := r.ExitCode()
		return fmt.Sprintf("%s (code %d)", ctx.String(), code)
	case ContextJailKilledSig:
		sig, _ := r.SignalNo()
		return fmt.Sprintf("%s (signal %d)", ctx.String(), sig)
	default:
		if errno, ok := r.Errno(); ok && errno != 0 && errno != 0xFFFF {
			return fmt.Sprintf("%s: %s", ctx.String(), errno.Error())
		}
		return ctx.String()
	}
}

// AsError returns nil for an ok Result, or the Result itself (as an error)
// otherwise, for use at call sites that want idiomatic `if err := ...; err !=
// nil` handling.
func (r Result) AsError() error {
	if r.IsOK() {
		return nil
	}
	return r
}
