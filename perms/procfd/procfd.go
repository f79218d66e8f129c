// Package procfd implements the proc-fd resolver: it canonicalizes a
// pathfd.Handle to an absolute path via /proc/self/fd/<n>, and reopens a
// handle with a real access mode for operations an O_PATH fd cannot
// perform directly.
package procfd

import (
	"fmt"
	"strings"

	"golang.org/x/sys/unix"

	"ghostjail/errors"
	"ghostjail/perms/pathfd"
)

// deletedSuffix is appended by the kernel to readlink("/proc/self/fd/N")
// when the underlying inode has been unlinked; it is stripped iff the fd's
// link count is zero; otherwise a filename that happens to end the same
// way is left alone.
const deletedSuffix = " (deleted)"

// Canonicalize resolves h to its canonical absolute path: absolute, no "."
// or "..", no redundant separators, no trailing slash, with h's trailing
// name appended if present.
func Canonicalize(h *pathfd.Handle) (string, error) {
	base, err := readlinkFD(h.FD)
	if err != nil {
		return "", err
	}
	if h.Trailing == "" {
		return base, nil
	}
	return strings.TrimRight(base, "/") + "/" + h.Trailing, nil
}

func readlinkFD(fd int) (string, error) {
	link := fmt.Sprintf("/proc/self/fd/%d", fd)
	size := 256
	for {
		buf := make([]byte, size)
		n, err := unix.Readlink(link, buf)
		if err != nil {
			return "", errors.Wrap(err, errors.ErrProcFD, "procfd.readlinkFD").WithDetail("readlinkat failed")
		}
		if n < size {
			s := buf[:n]
			var st unix.Stat_t
			if ferr := unix.Fstat(fd, &st); ferr == nil && st.Nlink == 0 {
				s = []byte(strings.TrimSuffix(string(s), deletedSuffix))
			}
			return string(s), nil
		}
		size *= 2
	}
}

// Reopen opens h with a real access mode (flags, create mode), the way a
// caller turns an O_PATH handle into something it can actually read,
// write, or exec. If h carries a trailing name, the reopen targets that
// basename inside the parent directory fd directly; otherwise it goes
// through /proc/self/fd/<n>.
func Reopen(h *pathfd.Handle, flags int, mode uint32) (int, error) {
	if h.Trailing != "" {
		fd, err := unix.Openat(h.FD, h.Trailing, flags, mode)
		if err != nil {
			return -1, errors.Wrap(err, errors.ErrProcFD, "procfd.Reopen").WithDetail("openat failed")
		}
		return fd, nil
	}
	link := fmt.Sprintf("/proc/self/fd/%d", h.FD)
	fd, err := unix.Open(link, flags, mode)
	if err != nil {
		return -1, errors.ErrProcFDReopenFailed
	}
	return fd, nil
}
