// Package errors defines the typed error layer shared by every ghostjail
// component. A GhostError classifies a failure by kind, names the operation
// that hit it, and pins it to the thread and path it concerns; when the
// failure crossed the ipc boundary as a packed wire code, the error carries
// that result too, so callers can match against either the sentinel kind or
// the wire context with errors.Is, and recover the kernel errno from
// whichever layer recorded it.
package errors

import (
	"errors"
	"strings"
	"syscall"

	"ghostjail/result"
)

// ErrorKind represents the category of an error.
type ErrorKind int

const (
	// ErrAllocation indicates a memory or fd allocation failure (arena growth,
	// memfd/mmap/mremap failures).
	ErrAllocation ErrorKind = iota
	// ErrIPC indicates a controller<->jail datagram channel failure.
	ErrIPC
	// ErrSandbox indicates a sandbox (top-level jail) lifecycle error.
	ErrSandbox
	// ErrJail indicates a jail process failure: options handoff, lockdown,
	// a protocol violation on its control channel, or a nonzero exit or
	// signal death.
	ErrJail
	// ErrRPC indicates an RPC engine error (registration, dispatch, marshaling).
	ErrRPC
	// ErrPermFS indicates a filesystem permission domain error.
	ErrPermFS
	// ErrPermExec indicates an exec permission domain error.
	ErrPermExec
	// ErrPermGeneric indicates a generic (pluggable) permission domain error.
	ErrPermGeneric
	// ErrParser indicates a GHPERM policy parse error.
	ErrParser
	// ErrPrompter indicates an interactive permission prompt error.
	ErrPrompter
	// ErrEmbeddedJail indicates an error resolving or exec'ing the jail binary.
	ErrEmbeddedJail
	// ErrThread indicates a subjail/thread controller error.
	ErrThread
	// ErrPathFD indicates a path-handle resolution error.
	ErrPathFD
	// ErrProcFD indicates a /proc/self/fd-based reopen error.
	ErrProcFD
	// ErrInvalidConfig indicates a configuration error.
	ErrInvalidConfig
	// ErrInternal indicates an internal error.
	ErrInternal
)

var kindNames = [...]string{
	ErrAllocation:    "allocation error",
	ErrIPC:           "ipc error",
	ErrSandbox:       "sandbox error",
	ErrJail:          "jail error",
	ErrRPC:           "rpc error",
	ErrPermFS:        "filesystem permission error",
	ErrPermExec:      "exec permission error",
	ErrPermGeneric:   "permission domain error",
	ErrParser:        "policy parse error",
	ErrPrompter:      "prompter error",
	ErrEmbeddedJail:  "embedded jail error",
	ErrThread:        "thread error",
	ErrPathFD:        "path handle error",
	ErrProcFD:        "procfd error",
	ErrInvalidConfig: "invalid config",
	ErrInternal:      "internal error",
}

// String returns a human-readable name for the error kind.
func (k ErrorKind) String() string {
	if k >= 0 && int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown error"
}

// GhostError is a classified ghostjail failure. Thread, Path, and Code are
// optional scoping: which thread's subjail the failure belongs to, which
// filesystem or policy path it concerns, and the packed wire result it
// crossed the ipc boundary as, if it did.
type GhostError struct {
	Kind   ErrorKind
	Op     string
	Detail string

	Thread string
	Path   string
	Code   result.Result

	Err error
}

// New creates a GhostError with no underlying cause.
func New(kind ErrorKind, op string, detail string) *GhostError {
	return &GhostError{Kind: kind, Op: op, Detail: detail}
}

// Wrap classifies an underlying error. A wrapped result.Result is absorbed
// as the error's wire Code rather than chained, so it renders once and
// stays matchable via Is.
func Wrap(err error, kind ErrorKind, op string) *GhostError {
	e := &GhostError{Kind: kind, Op: op}
	if code, ok := err.(result.Result); ok {
		e.Code = code
	} else {
		e.Err = err
	}
	return e
}

// FromResult builds an error directly from a wire result code, deriving
// the kind from the code's context.
func FromResult(op string, code result.Result) *GhostError {
	return &GhostError{Kind: kindForContext(code.Context()), Op: op, Code: code}
}

// WithDetail attaches a free-form detail string and returns e.
func (e *GhostError) WithDetail(detail string) *GhostError {
	e.Detail = detail
	return e
}

// WithThread pins e to the thread (by safe id) whose subjail it concerns
// and returns e.
func (e *GhostError) WithThread(safeID string) *GhostError {
	e.Thread = safeID
	return e
}

// WithPath pins e to the filesystem or policy path it concerns and
// returns e.
func (e *GhostError) WithPath(path string) *GhostError {
	e.Path = path
	return e
}

// Error renders the failure as
//
//	op: detail-or-kind (thread T, path P): wire code: cause
//
// with every absent part omitted.
func (e *GhostError) Error() string {
	if e == nil {
		return "<nil>"
	}

	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	if e.Detail != "" {
		b.WriteString(e.Detail)
	} else {
		b.WriteString(e.Kind.String())
	}

	if e.Thread != "" || e.Path != "" {
		b.WriteString(" (")
		if e.Thread != "" {
			b.WriteString("thread ")
			b.WriteString(e.Thread)
		}
		if e.Path != "" {
			if e.Thread != "" {
				b.WriteString(", ")
			}
			b.WriteString("path ")
			b.WriteString(e.Path)
		}
		b.WriteString(")")
	}

	if e.Code.IsErr() {
		b.WriteString(": ")
		b.WriteString(e.Code.Error())
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *GhostError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches e against either another GhostError or a bare wire result.
// A *GhostError target matches on kind; if the target also names an op
// (sentinels leave it empty), the op must match too. A result.Result
// target matches e's wire code by context.
func (e *GhostError) Is(target error) bool {
	if e == nil {
		return target == nil
	}
	switch t := target.(type) {
	case *GhostError:
		if e.Kind != t.Kind {
			return false
		}
		return t.Op == "" || t.Op == e.Op
	case result.Result:
		return e.Code.IsErr() && e.Code.Context() == t.Context()
	}
	return false
}

// Code returns the first wire result code recorded anywhere in err's
// chain, whether carried by a GhostError or returned bare.
func Code(err error) (result.Result, bool) {
	for err != nil {
		switch v := err.(type) {
		case *GhostError:
			if v.Code.IsErr() {
				return v.Code, true
			}
		case result.Result:
			return v, true
		}
		err = errors.Unwrap(err)
	}
	return result.Ok, false
}

// Errno digs a kernel errno out of err's chain: a raw syscall error wins,
// and failing that, an errno packed inside a wire result code.
func Errno(err error) (syscall.Errno, bool) {
	for err != nil {
		switch v := err.(type) {
		case syscall.Errno:
			return v, true
		case *GhostError:
			if v.Code.IsErr() {
				if errno, ok := v.Code.Errno(); ok {
					return errno, true
				}
			}
		case result.Result:
			if errno, ok := v.Errno(); ok {
				return errno, true
			}
		}
		err = errors.Unwrap(err)
	}
	return 0, false
}

// kindForContext maps a wire result context onto the error kind its
// failure classifies under, for errors reconstructed from the ipc side.
func kindForContext(c result.Context) ErrorKind {
	switch c {
	case result.ContextAllocFailed, result.ContextAllocOutOfRange,
		result.ContextFdMemResizeFail, result.ContextFdMemSealFail:
		return ErrAllocation
	case result.ContextIPCSockCreateFail, result.ContextIPCSendMsgFail,
		result.ContextIPCRecvMsgFail, result.ContextIPCTimeout,
		result.ContextIPCTruncated, result.ContextIPCTooSmall:
		return ErrIPC
	case result.ContextRPCMissingFunc, result.ContextRPCInUse,
		result.ContextRPCInvalidFD, result.ContextRPCFrameTooLarge,
		result.ContextRPCRemoteReadFail, result.ContextRPCRemoteWriteFail:
		return ErrRPC
	case result.ContextPermFSDenied:
		return ErrPermFS
	case result.ContextPermExecDenied:
		return ErrPermExec
	case result.ContextPermGenericDenied, result.ContextPermGenericFull:
		return ErrPermGeneric
	case result.ContextParserUnexpectedToken, result.ContextParserUnknownResource,
		result.ContextParserUnterminatedString:
		return ErrParser
	case result.ContextPrompterEmergencyKill, result.ContextPrompterNoTTY,
		result.ContextPrompterDeclined:
		return ErrPrompter
	case result.ContextEmbeddedJailNotProvided, result.ContextEmbeddedJailExecFail:
		return ErrEmbeddedJail
	case result.ContextSandboxSpawnFail, result.ContextSandboxHelloTimeout,
		result.ContextSandboxQuitTimeout, result.ContextSandboxWaitFail:
		return ErrSandbox
	case result.ContextJailNonZeroExit, result.ContextJailKilledSig,
		result.ContextJailLockdownFail:
		return ErrJail
	case result.ContextThreadSpawnFail, result.ContextThreadNotFound,
		result.ContextThreadUnknownMessage, result.ContextThreadExpectedScriptInfo,
		result.ContextThreadForceKill, result.ContextScriptRunFail:
		return ErrThread
	case result.ContextPathFDRejectedName, result.ContextPathFDOpenFail:
		return ErrPathFD
	case result.ContextProcFDReopenFail, result.ContextProcFDReadlinkFail:
		return ErrProcFD
	default:
		return ErrInternal
	}
}

// Re-export standard library functions for convenience.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
)
