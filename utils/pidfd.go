// Package utils provides process-wait plumbing shared by the sandbox and
// thread controllers: the pidfd_open + poll quit-wait with a hard SIGKILL
// deadline.
package utils

import (
	"time"

	"golang.org/x/sys/unix"

	"ghostjail/errors"
)

// QuitWait is the default hard deadline between a cooperative Quit and a
// forced SIGKILL.
const QuitWait = 4 * time.Second

// WaitExit blocks until pid exits or timeout elapses, using pidfd_open +
// poll rather than waitpid so it works for grandchildren (a thread's
// subjail is a child of the jail, not of the controller). On expiry it
// SIGKILLs through the pidfd and reports forced = true. It does not reap:
// a caller that is the process's parent still waits it afterwards to
// collect the exit status.
func WaitExit(pid int, timeout time.Duration) (forced bool, err error) {
	pidfd, err := unix.PidfdOpen(pid, 0)
	if err != nil {
		if err == unix.ESRCH {
			// Already gone.
			return false, nil
		}
		return false, errors.Wrap(err, errors.ErrSandbox, "utils.WaitExit").WithDetail("pidfd_open failed")
	}
	defer unix.Close(pidfd)

	ms := int(timeout / time.Millisecond)
	for {
		pollFds := []unix.PollFd{{Fd: int32(pidfd), Events: unix.POLLIN}}
		n, perr := unix.Poll(pollFds, ms)
		if perr == unix.EINTR {
			continue
		}
		if perr != nil {
			return false, errors.Wrap(perr, errors.ErrSandbox, "utils.WaitExit").WithDetail("poll failed")
		}
		if n > 0 {
			return false, nil
		}
		break
	}

	// Deadline expired: force the kill. ESRCH means it raced an exit,
	// which counts as a clean quit.
	if kerr := unix.PidfdSendSignal(pidfd, unix.SIGKILL, nil, 0); kerr != nil {
		if kerr == unix.ESRCH {
			return false, nil
		}
		return true, errors.Wrap(kerr, errors.ErrSandbox, "utils.WaitExit").WithDetail("pidfd_send_signal failed")
	}
	return true, nil
}
