// Package pathfd implements the path fd handle: an O_PATH-opened reference
// to a file, or to its parent directory plus the final path component as
// text when the file does not yet exist.
package pathfd

import (
	"path/filepath"

	"golang.org/x/sys/unix"

	"ghostjail/errors"
)

// Handle is an opaque reference to a file. When Trailing is empty, FD
// refers to the referent itself and it is guaranteed to have existed at
// open time. When Trailing is non-empty, FD refers to the parent directory
// and Trailing names the not-yet-created final component.
type Handle struct {
	FD       int
	Trailing string
}

// Options controls how Open resolves a path.
type Options struct {
	// AllowMissing tries a standard open first and falls back to a
	// trailing open on ENOENT.
	AllowMissing bool
	// ResolveLinks toggles O_NOFOLLOW off, following a symlink at the
	// final component instead of opening the link itself.
	ResolveLinks bool
}

// rejected reports basenames a trailing open refuses, since they name the
// directory itself or escape it rather than a new child.
func rejected(name string) bool {
	return name == "." || name == ".." || name == "/"
}

// Open resolves path to a Handle. With Options.AllowMissing unset, the
// referent must already exist. With it set, a missing final component
// falls back to a trailing-open so the caller can still express "this
// location, once created".
func Open(path string, opts Options) (*Handle, error) {
	fd, err := openStandard(path, opts.ResolveLinks)
	if err == nil {
		return &Handle{FD: fd}, nil
	}
	if opts.AllowMissing && err == unix.ENOENT {
		return openTrailing(path)
	}
	return nil, errors.Wrap(err, errors.ErrPathFD, "pathfd.Open").WithDetail("openat failed")
}

// OpenTrailing always splits path into dirname/basename and opens the
// directory, for callers that explicitly want to permit creating a new
// file or directory at path regardless of whether it currently exists.
func OpenTrailing(path string) (*Handle, error) {
	return openTrailing(path)
}

func openStandard(path string, resolveLinks bool) (int, error) {
	flags := unix.O_PATH
	if !resolveLinks {
		flags |= unix.O_NOFOLLOW
	}
	return unix.Open(path, flags, 0)
}

func openTrailing(path string) (*Handle, error) {
	dir := filepath.Dir(path)
	base := filepath.Base(path)
	if rejected(base) {
		return nil, errors.ErrPathFDRejectedName
	}
	fd, err := unix.Open(dir, unix.O_PATH|unix.O_DIRECTORY, 0)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrPathFD, "pathfd.openTrailing").WithDetail("open dirname failed")
	}
	return &Handle{FD: fd, Trailing: base}, nil
}

// Exists reports whether the handle's referent was confirmed to exist at
// open time (equivalently: whether Trailing is empty).
func (h *Handle) Exists() bool {
	return h.Trailing == ""
}

// Close releases the handle's underlying fd.
func (h *Handle) Close() error {
	if h.FD < 0 {
		return nil
	}
	err := unix.Close(h.FD)
	h.FD = -1
	if err != nil {
		return errors.Wrap(err, errors.ErrPathFD, "pathfd.Close")
	}
	return nil
}
