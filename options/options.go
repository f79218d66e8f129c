// Package options defines the sandbox options record: the configuration
// the controller writes to an anonymous memfd and the jail reads back at
// startup. The record travels as JSON, the same serialization the host
// uses for everything configuration-shaped.
package options

import (
	"encoding/json"
	"os"

	"golang.org/x/sys/unix"

	"ghostjail/errors"
)

// DefaultQuitWaitMS is the hard deadline, in milliseconds, a controller
// gives a jail or subjail to exit after Quit before SIGKILL.
const DefaultQuitWaitMS = 4000

// Sandbox holds the per-sandbox configuration.
type Sandbox struct {
	// Name is the sandbox's logical name, used to label its log records; it
	// does not set the jail process's argv[0].
	Name string `json:"name"`

	// MemoryLimit is the RLIMIT_DATA value installed in the jail, in bytes.
	// Zero means no limit.
	MemoryLimit uint64 `json:"memoryLimit"`

	// FunctionCallFrameLimit caps the combined argument + return byte count
	// of a single RPC call. Zero means no limit.
	FunctionCallFrameLimit uint64 `json:"functionCallFrameLimit"`
}

// JailRecord is the full record written into the options memfd: the
// sandbox options plus the fd numbers the jail child inherits.
type JailRecord struct {
	Sandbox Sandbox `json:"sandbox"`

	// IPCFD is the jail's end of the controller<->jail datagram channel,
	// as inherited in the child's fd table.
	IPCFD int `json:"ipcFd"`
}

// WriteMemfd serializes rec into a fresh anonymous memfd, seeks it back to
// offset 0, and returns it as an *os.File ready to hand to the jail child.
func WriteMemfd(rec JailRecord) (*os.File, error) {
	fd, err := unix.MemfdCreate("sandboxoptions", unix.MFD_CLOEXEC)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrSandbox, "options.WriteMemfd").WithDetail("memfd_create failed")
	}
	f := os.NewFile(uintptr(fd), "sandboxoptions")

	data, err := json.Marshal(rec)
	if err != nil {
		f.Close()
		return nil, errors.Wrap(err, errors.ErrSandbox, "options.WriteMemfd")
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return nil, errors.Wrap(err, errors.ErrSandbox, "options.WriteMemfd").WithDetail("write failed")
	}
	if _, err := f.Seek(0, 0); err != nil {
		f.Close()
		return nil, errors.Wrap(err, errors.ErrSandbox, "options.WriteMemfd").WithDetail("seek failed")
	}
	return f, nil
}

// ReadFD reads a JailRecord back from an inherited fd, the jail side of
// the handoff; the jail finds the fd number in its argv[1].
func ReadFD(fd int) (JailRecord, error) {
	f := os.NewFile(uintptr(fd), "sandboxoptions")
	defer f.Close()

	var rec JailRecord
	dec := json.NewDecoder(f)
	if err := dec.Decode(&rec); err != nil {
		return JailRecord{}, errors.Wrap(err, errors.ErrJail, "options.ReadFD").WithDetail("options parse failed")
	}
	return rec, nil
}
