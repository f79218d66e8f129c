package rpc

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// remoteIovec mirrors struct iovec as consumed by process_vm_readv/writev's
// remote_iov argument: a (base address, length) pair in the target
// process's address space.
type remoteIovec struct {
	Base uintptr
	Len  uint64
}

// localIovecs builds the local-side unix.Iovec array for a set of
// same-process byte slices, skipping empty slices (a nil Base with zero
// length is valid but &b[0] on an empty slice panics).
func localIovecs(bufs [][]byte) []unix.Iovec {
	iov := make([]unix.Iovec, 0, len(bufs))
	for _, b := range bufs {
		if len(b) == 0 {
			continue
		}
		v := unix.Iovec{Base: &b[0]}
		v.SetLen(len(b))
		iov = append(iov, v)
	}
	return iov
}

// readRemote gathers bytes from pid's address space at the given remote
// ranges into local, in order, via a single process_vm_readv(2) call.
// golang.org/x/sys/unix has no typed wrapper, so it goes through the raw
// syscall number the same way fdmem.mremap invokes SYS_MREMAP.
func readRemote(pid int, remotes []remoteIovec, locals [][]byte) (int, error) {
	return vmTransfer(unix.SYS_PROCESS_VM_READV, pid, remotes, locals)
}

// writeRemote scatters local into pid's address space at the given remote
// ranges via a single process_vm_writev(2) call, the mirror of readRemote.
func writeRemote(pid int, remotes []remoteIovec, locals [][]byte) (int, error) {
	return vmTransfer(unix.SYS_PROCESS_VM_WRITEV, pid, remotes, locals)
}

func vmTransfer(sysno uintptr, pid int, remotes []remoteIovec, locals [][]byte) (int, error) {
	localIov := localIovecs(locals)
	if len(localIov) == 0 || len(remotes) == 0 {
		return 0, nil
	}
	n, _, errno := unix.Syscall6(
		sysno,
		uintptr(pid),
		uintptr(unsafe.Pointer(&localIov[0])),
		uintptr(len(localIov)),
		uintptr(unsafe.Pointer(&remotes[0])),
		uintptr(len(remotes)),
		0,
	)
	if errno != 0 {
		return 0, errno
	}
	return int(n), nil
}
