// Package errors provides predefined sentinel errors for common failure cases.
package errors

// Allocation / shared-memory arena errors.
var (
	// ErrArenaExhausted indicates the fdmem arena could not grow to satisfy a request.
	ErrArenaExhausted = &GhostError{
		Kind:   ErrAllocation,
		Detail: "shared memory arena exhausted",
	}

	// ErrArenaOutOfRange indicates a virtual pointer or size falls outside the
	// arena's currently occupied region.
	ErrArenaOutOfRange = &GhostError{
		Kind:   ErrAllocation,
		Detail: "pointer out of arena range",
	}

	// ErrArenaSealed indicates a write was attempted against a sealed arena.
	ErrArenaSealed = &GhostError{
		Kind:   ErrAllocation,
		Detail: "arena is sealed read-only",
	}
)

// IPC channel errors.
var (
	// ErrIPCSocketCreate indicates the controller<->jail socketpair could not be created.
	ErrIPCSocketCreate = &GhostError{
		Kind:   ErrIPC,
		Detail: "failed to create ipc socketpair",
	}

	// ErrIPCSendFailed indicates a message could not be sent over the ipc channel.
	ErrIPCSendFailed = &GhostError{
		Kind:   ErrIPC,
		Detail: "failed to send ipc message",
	}

	// ErrIPCRecvTimeout indicates a receive timed out waiting for a message.
	ErrIPCRecvTimeout = &GhostError{
		Kind:   ErrIPC,
		Detail: "ipc receive timed out",
	}

	// ErrIPCTruncated indicates a received datagram was truncated (MSG_TRUNC).
	ErrIPCTruncated = &GhostError{
		Kind:   ErrIPC,
		Detail: "ipc message truncated",
	}

	// ErrIPCMalformed indicates a received message failed basic sanitization.
	ErrIPCMalformed = &GhostError{
		Kind:   ErrIPC,
		Detail: "malformed ipc message",
	}
)

// Sandbox lifecycle errors.
var (
	// ErrSandboxSpawnFailed indicates the sandbox's controlling jail process could not be started.
	ErrSandboxSpawnFailed = &GhostError{
		Kind:   ErrSandbox,
		Detail: "failed to spawn sandbox",
	}

	// ErrSandboxHelloTimeout indicates the jail never reported readiness over ipc.
	ErrSandboxHelloTimeout = &GhostError{
		Kind:   ErrSandbox,
		Detail: "timed out waiting for sandbox hello",
	}

	// ErrSandboxQuitTimeout indicates the sandbox did not exit within the quit deadline
	// and was force-killed.
	ErrSandboxQuitTimeout = &GhostError{
		Kind:   ErrSandbox,
		Detail: "sandbox did not quit before deadline",
	}
)

// Jail exit errors.
var (
	// ErrJailNonZeroExit indicates the jailed process exited with a nonzero status.
	ErrJailNonZeroExit = &GhostError{
		Kind:   ErrJail,
		Detail: "jail exited nonzero",
	}

	// ErrJailKilledSignal indicates the jailed process was terminated by a signal.
	ErrJailKilledSignal = &GhostError{
		Kind:   ErrJail,
		Detail: "jail killed by signal",
	}

	// ErrJailLockdownFailed indicates the jail's lockdown sequence (no_new_privs, RLIMIT_DATA, seccomp) failed.
	ErrJailLockdownFailed = &GhostError{
		Kind:   ErrJail,
		Detail: "jail lockdown failed",
	}
)

// RPC engine errors.
var (
	// ErrRPCMissingFunc indicates a call referenced a function name not registered.
	ErrRPCMissingFunc = &GhostError{
		Kind:   ErrRPC,
		Detail: "rpc function not registered",
	}

	// ErrRPCInUse indicates a registration was refused because threads still
	// reference the registry.
	ErrRPCInUse = &GhostError{
		Kind:   ErrRPC,
		Detail: "rpc function currently in use",
	}

	// ErrRPCInvalidFD indicates an fd carried in a call frame could not be used
	// (closed, or rejected by the remote end).
	ErrRPCInvalidFD = &GhostError{
		Kind:   ErrRPC,
		Detail: "rpc call carried an invalid fd",
	}

	// ErrRPCFrameTooLarge indicates a call's combined argument and return bytes
	// exceeded the configured call frame limit.
	ErrRPCFrameTooLarge = &GhostError{
		Kind:   ErrRPC,
		Detail: "rpc call frame exceeds size limit",
	}

	// ErrRPCRemoteReadFailed indicates process_vm_readv-equivalent gather read of
	// the caller's argument buffers failed.
	ErrRPCRemoteReadFailed = &GhostError{
		Kind:   ErrRPC,
		Detail: "failed to read remote call arguments",
	}

	// ErrRPCRemoteWriteFailed indicates the remote write of a return value failed.
	ErrRPCRemoteWriteFailed = &GhostError{
		Kind:   ErrRPC,
		Detail: "failed to write remote return value",
	}
)

// Filesystem permission domain errors.
var (
	// ErrPermFSDenied indicates a filesystem operation was rejected by policy.
	ErrPermFSDenied = &GhostError{
		Kind:   ErrPermFS,
		Detail: "filesystem access denied by policy",
	}

	// ErrPermFSPromptDeclined indicates the user declined an interactive filesystem prompt.
	ErrPermFSPromptDeclined = &GhostError{
		Kind:   ErrPermFS,
		Detail: "filesystem access prompt declined",
	}
)

// Exec permission domain errors.
var (
	// ErrPermExecDenied indicates an exec was rejected by policy.
	ErrPermExecDenied = &GhostError{
		Kind:   ErrPermExec,
		Detail: "exec denied by policy",
	}

	// ErrPermExecTooManyArgs indicates argv exceeded the maximum tracked argument count.
	ErrPermExecTooManyArgs = &GhostError{
		Kind:   ErrPermExec,
		Detail: "exec argument count exceeds limit",
	}

	// ErrPermExecTooManyEnv indicates the allowed-env list exceeded its maximum size.
	ErrPermExecTooManyEnv = &GhostError{
		Kind:   ErrPermExec,
		Detail: "exec allowed env count exceeds limit",
	}
)

// Generic permission domain errors.
var (
	// ErrPermGenericFull indicates the aggregate's fixed generic domain slots are full.
	ErrPermGenericFull = &GhostError{
		Kind:   ErrPermGeneric,
		Detail: "no free generic permission domain slots",
	}

	// ErrPermGenericIDTooLong indicates a generic domain id exceeded its maximum length.
	ErrPermGenericIDTooLong = &GhostError{
		Kind:   ErrPermGeneric,
		Detail: "generic domain id too long",
	}
)

// Parser errors.
var (
	// ErrParserUnexpectedToken indicates the GHPERM tokenizer encountered an
	// unexpected token while parsing a resource or field.
	ErrParserUnexpectedToken = &GhostError{
		Kind:   ErrParser,
		Detail: "unexpected token in policy file",
	}

	// ErrParserUnknownResource indicates a resource name did not match any
	// registered permission domain.
	ErrParserUnknownResource = &GhostError{
		Kind:   ErrParser,
		Detail: "unknown resource in policy file",
	}

	// ErrParserUnterminatedString indicates a quoted string field ran off the end
	// of the file before closing.
	ErrParserUnterminatedString = &GhostError{
		Kind:   ErrParser,
		Detail: "unterminated string literal in policy file",
	}
)

// Prompter errors.
var (
	// ErrPrompterEmergencyKill indicates the user invoked the emergency-kill keystroke.
	ErrPrompterEmergencyKill = &GhostError{
		Kind:   ErrPrompter,
		Detail: "prompt answered with emergency kill",
	}

	// ErrPrompterNoTTY indicates an interactive prompt was requested but stdin/stdout
	// is not a terminal.
	ErrPrompterNoTTY = &GhostError{
		Kind:   ErrPrompter,
		Detail: "prompter requires a terminal",
	}
)

// Embedded jail errors.
var (
	// ErrEmbeddedJailNotProvided indicates the jail executable (the host binary
	// itself, via os.Executable) could not be resolved.
	ErrEmbeddedJailNotProvided = &GhostError{
		Kind:   ErrEmbeddedJail,
		Detail: "no embedded jail executable provided",
	}

	// ErrEmbeddedJailExecFailed indicates exec of the jail executable failed.
	ErrEmbeddedJailExecFailed = &GhostError{
		Kind:   ErrEmbeddedJail,
		Detail: "failed to exec embedded jail",
	}
)

// Thread / subjail errors.
var (
	// ErrThreadSpawnFailed indicates a subjail thread could not be spawned.
	ErrThreadSpawnFailed = &GhostError{
		Kind:   ErrThread,
		Detail: "failed to spawn thread",
	}

	// ErrThreadNotFound indicates an operation referenced a thread safe id that
	// is not currently running.
	ErrThreadNotFound = &GhostError{
		Kind:   ErrThread,
		Detail: "thread not found",
	}
)

// Path and proc fd resolution errors.
var (
	// ErrPathFDRejectedName indicates a path component ("." / ".." / "/") was
	// rejected by the trailing-open rule.
	ErrPathFDRejectedName = &GhostError{
		Kind:   ErrPathFD,
		Detail: "path component not permitted",
	}

	// ErrProcFDReopenFailed indicates the /proc/self/fd reopen fallback failed.
	ErrProcFDReopenFailed = &GhostError{
		Kind:   ErrProcFD,
		Detail: "failed to reopen fd via procfs",
	}
)

// Configuration errors.
var (
	// ErrInvalidPolicyPath indicates the policy file path is invalid.
	ErrInvalidPolicyPath = &GhostError{
		Kind:   ErrInvalidConfig,
		Detail: "invalid policy path",
	}

	// ErrEmptyThreadID indicates a thread safe id was empty.
	ErrEmptyThreadID = &GhostError{
		Kind:   ErrInvalidConfig,
		Detail: "thread id cannot be empty",
	}
)
