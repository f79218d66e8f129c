// Package fdmem implements the shared-memory arena: an anonymous,
// resizable, sealable memfd-backed region used to pass script call
// arguments and host variables by value across the ipc channel.
//
// Addresses into the arena are expressed as virtual pointers (byte offset
// + 1, with 0 reserved for null) so that remapping the region on resize
// never invalidates a value already handed out in a message.
package fdmem

import (
	"unsafe"

	"golang.org/x/sys/unix"

	"ghostjail/errors"
)

// InitialCapacity is a fresh arena's starting ftruncate size.
const InitialCapacity = 1024

// Arena is a bump-allocated region backed by a memfd.
type Arena struct {
	fd       int
	data     []byte
	occupied uint64
	sealed   bool
	readonly bool
}

// New creates a fresh, writable arena with InitialCapacity bytes, the
// producer side of the channel: memfd_create + ftruncate + mmap
// PROT_READ|PROT_WRITE MAP_SHARED.
func New() (*Arena, error) {
	fd, err := unix.MemfdCreate("ipcfdmem", unix.MFD_CLOEXEC|unix.MFD_ALLOW_SEALING)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrAllocation, "fdmem.New").WithDetail("memfd_create failed")
	}
	if err := unix.Ftruncate(fd, InitialCapacity); err != nil {
		unix.Close(fd)
		return nil, errors.Wrap(err, errors.ErrAllocation, "fdmem.New").WithDetail("ftruncate failed")
	}
	data, err := unix.Mmap(fd, 0, InitialCapacity, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		return nil, errors.Wrap(err, errors.ErrAllocation, "fdmem.New").WithDetail("mmap failed")
	}
	return &Arena{fd: fd, data: data}, nil
}

// OpenReadOnly maps an arena fd received over ipc for read-only
// consumption: map the current fd size, PROT_READ only, and remember the
// producer-reported occupied count for bounds checks.
func OpenReadOnly(fd int, occupied uint64) (*Arena, error) {
	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		return nil, errors.Wrap(err, errors.ErrAllocation, "fdmem.OpenReadOnly").WithDetail("fstat failed")
	}
	data, err := unix.Mmap(fd, 0, int(st.Size), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrAllocation, "fdmem.OpenReadOnly").WithDetail("mmap failed")
	}
	return &Arena{fd: fd, data: data, occupied: occupied, readonly: true}, nil
}

// Open maps an arena fd received over ipc for read-write consumption, the
// subjail side of a ScriptCall: the region is still unsealed, so the
// consumer may grow it and append a return value before the producer
// seals.
func Open(fd int, occupied uint64) (*Arena, error) {
	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		return nil, errors.Wrap(err, errors.ErrAllocation, "fdmem.Open").WithDetail("fstat failed")
	}
	data, err := unix.Mmap(fd, 0, int(st.Size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrAllocation, "fdmem.Open").WithDetail("mmap failed")
	}
	return &Arena{fd: fd, data: data, occupied: occupied}, nil
}

// SetOccupied overrides the occupied cursor, for a producer that handed the
// arena to a consumer which grew it out-of-band: after Sync, the producer
// adopts the consumer-reported occupied count so RealPtr bounds checks
// cover the appended region.
func (a *Arena) SetOccupied(n uint64) {
	if n > uint64(len(a.data)) {
		n = uint64(len(a.data))
	}
	a.occupied = n
}

// FD returns the backing memfd, for handing off over ipc.
func (a *Arena) FD() int { return a.fd }

// Occupied returns the current bump-allocation cursor.
func (a *Arena) Occupied() uint64 { return a.occupied }

// Capacity returns the currently mapped size.
func (a *Arena) Capacity() uint64 { return uint64(len(a.data)) }

// Close unmaps the arena and closes its fd. Safe to call more than once.
func (a *Arena) Close() error {
	var err error
	if a.data != nil {
		err = unix.Munmap(a.data)
		a.data = nil
	}
	if a.fd >= 0 {
		if cerr := unix.Close(a.fd); cerr != nil && err == nil {
			err = cerr
		}
		a.fd = -1
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrAllocation, "fdmem.Close")
	}
	return nil
}

// resize grows the arena to the next power of two capacity that fits n
// total bytes: ftruncate followed by mremap(MREMAP_MAYMOVE).
func (a *Arena) resize(n uint64) error {
	if a.sealed || a.readonly {
		return errors.New(errors.ErrAllocation, "fdmem.resize", "arena is sealed or read-only")
	}
	newCap := uint64(len(a.data))
	if newCap == 0 {
		newCap = InitialCapacity
	}
	for newCap < n {
		newCap *= 2
	}
	if err := unix.Ftruncate(a.fd, int64(newCap)); err != nil {
		return errors.Wrap(err, errors.ErrAllocation, "fdmem.resize").WithDetail("ftruncate failed")
	}
	newData, err := mremap(a.data, newCap)
	if err != nil {
		return errors.Wrap(err, errors.ErrAllocation, "fdmem.resize").WithDetail("mremap failed")
	}
	a.data = newData
	return nil
}

// mremap wraps the mremap(2) syscall with MREMAP_MAYMOVE; golang.org/x/sys
// has no typed wrapper for it.
func mremap(old []byte, newSize uint64) ([]byte, error) {
	const mremapMayMove = 1
	newAddr, _, errno := unix.Syscall6(
		unix.SYS_MREMAP,
		uintptr(unsafe.Pointer(&old[0])),
		uintptr(len(old)),
		uintptr(newSize),
		mremapMayMove,
		0, 0,
	)
	if errno != 0 {
		return nil, errno
	}
	var out []byte
	sh := (*sliceHeader)(unsafe.Pointer(&out))
	sh.Data = newAddr
	sh.Len = int(newSize)
	sh.Cap = int(newSize)
	return out, nil
}

type sliceHeader struct {
	Data uintptr
	Len  int
	Cap  int
}

// Alloc bump-allocates len(p) bytes, growing the arena if needed, copies p
// in, and returns the virtual pointer (offset+1) to the copy.
func (a *Arena) Alloc(p []byte) (uint64, error) {
	if a.sealed || a.readonly {
		return 0, errors.New(errors.ErrAllocation, "fdmem.Alloc", "arena is sealed or read-only")
	}
	need := a.occupied + uint64(len(p))
	if need > uint64(len(a.data)) {
		if err := a.resize(need); err != nil {
			return 0, err
		}
	}
	copy(a.data[a.occupied:need], p)
	vp := a.occupied + 1
	a.occupied = need
	return vp, nil
}

// RealPtr resolves a virtual pointer and size to a byte slice view into the
// arena, range-checking the *last* byte of the requested range (vp+size-1)
// against the occupied cursor, not just the first. A pointer outside
// range, or the null pointer (0), resolves to (nil, false).
func (a *Arena) RealPtr(vp uint64, size uint64) ([]byte, bool) {
	if vp == 0 {
		return nil, false
	}
	offset := vp - 1
	if size == 0 {
		if offset > a.occupied {
			return nil, false
		}
		return a.data[offset:offset], true
	}
	lastByte := offset + size - 1
	if lastByte >= a.occupied {
		return nil, false
	}
	return a.data[offset : offset+size], true
}

// VirtPtr converts a real offset within the arena back into a virtual
// pointer, the inverse of RealPtr, bounds-checked against the occupied
// cursor by last byte; unlike RealPtr, a zero-size range at offset ==
// occupied is refused.
func (a *Arena) VirtPtr(offset uint64, size uint64) (uint64, bool) {
	lastByte := offset + size
	if size > 0 {
		lastByte--
	}
	if lastByte >= a.occupied {
		return 0, false
	}
	return offset + 1, true
}

// Sync remaps the arena from the memfd's current size, for a producer that
// wants to pick up out-of-band growth.
func (a *Arena) Sync() error {
	var st unix.Stat_t
	if err := unix.Fstat(a.fd, &st); err != nil {
		return errors.Wrap(err, errors.ErrAllocation, "fdmem.Sync").WithDetail("fstat failed")
	}
	if a.data != nil {
		if err := unix.Munmap(a.data); err != nil {
			return errors.Wrap(err, errors.ErrAllocation, "fdmem.Sync")
		}
	}
	prot := unix.PROT_READ
	if !a.readonly {
		prot |= unix.PROT_WRITE
	}
	data, err := unix.Mmap(a.fd, 0, int(st.Size), prot, unix.MAP_SHARED)
	if err != nil {
		return errors.Wrap(err, errors.ErrAllocation, "fdmem.Sync").WithDetail("mmap failed")
	}
	a.data = data
	return nil
}

// Seal adds F_SEAL_SEAL|F_SEAL_SHRINK|F_SEAL_GROW|F_SEAL_WRITE seals and
// re-maps the arena read-only, turning it into an immutable view for the
// consumer. The writable mapping must be dropped before F_ADD_SEALS: the
// kernel refuses F_SEAL_WRITE with EBUSY while any writable shared mapping
// of the memfd exists, including our own.
func (a *Arena) Seal() error {
	size := len(a.data)
	if a.data != nil {
		if err := unix.Munmap(a.data); err != nil {
			return errors.Wrap(err, errors.ErrAllocation, "fdmem.Seal")
		}
		a.data = nil
	}
	seals := unix.F_SEAL_SEAL | unix.F_SEAL_SHRINK | unix.F_SEAL_GROW | unix.F_SEAL_WRITE
	if _, _, errno := unix.Syscall(unix.SYS_FCNTL, uintptr(a.fd), unix.F_ADD_SEALS, uintptr(seals)); errno != 0 {
		return errors.Wrap(errno, errors.ErrAllocation, "fdmem.Seal").WithDetail("fcntl(F_ADD_SEALS) failed")
	}
	data, err := unix.Mmap(a.fd, 0, size, unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return errors.Wrap(err, errors.ErrAllocation, "fdmem.Seal").WithDetail("mmap failed")
	}
	a.data = data
	a.sealed = true
	a.readonly = true
	return nil
}
