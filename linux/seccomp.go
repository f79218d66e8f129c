// Package linux implements the jail lockdown primitives: the classic
// seccomp BPF filter installed before any untrusted code runs,
// PR_SET_NO_NEW_PRIVS, and the RLIMIT_DATA memory ceiling.
package linux

import (
	"syscall"
	"unsafe"

	"ghostjail/errors"
)

// Seccomp constants.
const (
	SECCOMP_MODE_FILTER      = 2
	SECCOMP_RET_KILL_PROCESS = 0x80000000
	SECCOMP_RET_ALLOW        = 0x7fff0000

	PR_SET_NO_NEW_PRIVS = 38
	PR_SET_SECCOMP      = 22
)

// BPF constants.
const (
	BPF_LD  = 0x00
	BPF_JMP = 0x05
	BPF_RET = 0x06
	BPF_W   = 0x00
	BPF_ABS = 0x20
	BPF_JEQ = 0x10
	BPF_K   = 0x00
)

// seccomp_data offsets.
const (
	offsetNR   = 0
	offsetArch = 4
)

// AUDIT_ARCH_X86_64 is the only architecture the filter admits; any other
// value kills the process outright.
const AUDIT_ARCH_X86_64 = 0xc000003e

// sockFprog is the BPF program structure.
type sockFprog struct {
	Len    uint16
	Filter *sockFilter
}

// sockFilter is a single BPF instruction.
type sockFilter struct {
	Code uint16
	Jt   uint8
	Jf   uint8
	K    uint32
}

// interpreterSyscalls is the x86_64 syscall footprint of a locked-down
// script interpreter's steady state: memory management, ipc traffic on an
// already-open socket, and clean exit. Nothing that opens, spawns, or
// connects.
var interpreterSyscalls = []uint32{
	9,   // mmap
	10,  // mprotect
	11,  // munmap
	26,  // msync
	5,   // fstat
	186, // gettid
	39,  // getpid
	45,  // recvfrom
	47,  // recvmsg
	44,  // sendto
	230, // clock_nanosleep
	318, // getrandom
	12,  // brk
	0,   // read
	1,   // write
	60,  // exit
	231, // exit_group
}

// goRuntimeSyscalls is the additional footprint of the Go runtime itself:
// scheduler threads, signal handling, timers, netpoll. A Go process under
// the bare interpreter list dies inside the runtime before user code runs,
// so jail and subjail processes admit these too (see DESIGN.md).
var goRuntimeSyscalls = []uint32{
	202, // futex
	228, // clock_gettime
	24,  // sched_yield
	13,  // rt_sigaction
	14,  // rt_sigprocmask
	15,  // rt_sigreturn
	131, // sigaltstack
	234, // tgkill
	35,  // nanosleep
	3,   // close
	233, // epoll_ctl
	281, // epoll_pwait
	257, // openat (runtime tracebacks, /proc reads)
	334, // rseq
	158, // arch_prctl
	218, // set_tid_address
	273, // set_robust_list
	302, // prlimit64
	28,  // madvise
	96,  // gettimeofday
	262, // newfstatat
	56,  // clone (runtime worker threads)
	435, // clone3
}

// jailSupervisorSyscalls is the extra footprint the jail (but not a
// subjail) needs to spawn subjail children: thread/process creation, exec,
// reaping and fd plumbing for the direct IPC handoff.
var jailSupervisorSyscalls = []uint32{
	59,  // execve
	61,  // wait4
	247, // waitid
	57,  // fork
	58,  // vfork
	33,  // dup2
	292, // dup3
	32,  // dup
	72,  // fcntl
	22,  // pipe
	293, // pipe2
	17,  // pread64
	213, // epoll_create
	291, // epoll_create1
	79,  // getcwd
	217, // getdents64
	89,  // readlink
	267, // readlinkat
	157, // prctl (children re-apply lockdown)
	317, // seccomp
	160, // setrlimit
	102, // getuid
	104, // getgid
	107, // geteuid
	108, // getegid
}

// FilterClass selects which process tier a lockdown filter is built for.
type FilterClass int

const (
	// FilterSubjail admits only the interpreter and Go runtime footprint.
	FilterSubjail FilterClass = iota
	// FilterJail additionally admits the supervisor syscalls the jail
	// needs to spawn subjails on NewSubjail.
	FilterJail
)

// BuildFilter constructs the classic BPF seccomp program: check the
// architecture (kill on mismatch), then allow exactly the class's syscall
// list, killing the process on anything else.
func BuildFilter(class FilterClass) []sockFilter {
	allowed := make([]uint32, 0, len(interpreterSyscalls)+len(goRuntimeSyscalls)+len(jailSupervisorSyscalls))
	allowed = append(allowed, interpreterSyscalls...)
	allowed = append(allowed, goRuntimeSyscalls...)
	if class == FilterJail {
		allowed = append(allowed, jailSupervisorSyscalls...)
	}

	var filter []sockFilter

	// Architecture check: load seccomp_data.arch, kill unless x86_64.
	filter = append(filter, bpfStmt(BPF_LD|BPF_W|BPF_ABS, offsetArch))
	filter = append(filter, bpfJump(BPF_JMP|BPF_JEQ|BPF_K, AUDIT_ARCH_X86_64, 1, 0))
	filter = append(filter, bpfStmt(BPF_RET|BPF_K, SECCOMP_RET_KILL_PROCESS))

	// Syscall number dispatch.
	filter = append(filter, bpfStmt(BPF_LD|BPF_W|BPF_ABS, offsetNR))
	for _, nr := range allowed {
		filter = append(filter, bpfJump(BPF_JMP|BPF_JEQ|BPF_K, nr, 0, 1))
		filter = append(filter, bpfStmt(BPF_RET|BPF_K, SECCOMP_RET_ALLOW))
	}
	filter = append(filter, bpfStmt(BPF_RET|BPF_K, SECCOMP_RET_KILL_PROCESS))

	return filter
}

// InstallSeccomp installs the filter for the given class via
// prctl(PR_SET_SECCOMP, SECCOMP_MODE_FILTER). The caller must have set
// NO_NEW_PRIVS first.
func InstallSeccomp(class FilterClass) error {
	filter := BuildFilter(class)
	prog := sockFprog{
		Len:    uint16(len(filter)),
		Filter: &filter[0],
	}

	_, _, errno := syscall.Syscall(syscall.SYS_PRCTL,
		PR_SET_SECCOMP,
		SECCOMP_MODE_FILTER,
		uintptr(unsafe.Pointer(&prog)))
	if errno != 0 {
		return errors.Wrap(errno, errors.ErrJail, "linux.InstallSeccomp").WithDetail("prctl(PR_SET_SECCOMP) failed")
	}
	return nil
}

// bpfStmt creates a BPF statement.
func bpfStmt(code uint16, k uint32) sockFilter {
	return sockFilter{Code: code, Jt: 0, Jf: 0, K: k}
}

// bpfJump creates a BPF jump instruction.
func bpfJump(code uint16, k uint32, jt, jf uint8) sockFilter {
	return sockFilter{Code: code, Jt: jt, Jf: jf, K: k}
}
