package linux

import (
	"syscall"

	"golang.org/x/sys/unix"

	"ghostjail/errors"
)

// Lockdown applies the full jail lockdown sequence in order:
// PR_SET_NO_NEW_PRIVS, then RLIMIT_DATA if a memory limit is set, then
// the seccomp filter. Each step failing returns its own distinct error
// and the caller must refuse to enter its message loop.
func Lockdown(class FilterClass, memoryLimit uint64) error {
	if err := SetNoNewPrivs(); err != nil {
		return err
	}
	if memoryLimit > 0 {
		if err := SetMemoryLimit(memoryLimit); err != nil {
			return err
		}
	}
	return InstallSeccomp(class)
}

// SetNoNewPrivs sets PR_SET_NO_NEW_PRIVS, a prerequisite for installing a
// seccomp filter without CAP_SYS_ADMIN.
func SetNoNewPrivs() error {
	if _, _, errno := syscall.Syscall(syscall.SYS_PRCTL, PR_SET_NO_NEW_PRIVS, 1, 0); errno != 0 {
		return errors.Wrap(errno, errors.ErrJail, "linux.SetNoNewPrivs").WithDetail("prctl(PR_SET_NO_NEW_PRIVS) failed")
	}
	return nil
}

// SetMemoryLimit sets RLIMIT_DATA to limit bytes, soft = hard.
func SetMemoryLimit(limit uint64) error {
	rlim := unix.Rlimit{Cur: limit, Max: limit}
	if err := unix.Setrlimit(unix.RLIMIT_DATA, &rlim); err != nil {
		return errors.Wrap(err, errors.ErrJail, "linux.SetMemoryLimit").WithDetail("setrlimit(RLIMIT_DATA) failed")
	}
	return nil
}
