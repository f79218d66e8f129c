// Package ipc implements the controller<->jail and thread<->subjail
// datagram channel: a SOCK_DGRAM socketpair carrying typed,
// fixed-upper-bound messages with at most one ancillary file descriptor,
// with poll-based receive timeouts.
package ipc

import (
	"time"

	"golang.org/x/sys/unix"

	"ghostjail/errors"
)

// Mode distinguishes the two ends of a channel: only a Controller may
// attach an ancillary fd to an outgoing message.
type Mode int

const (
	ModeController Mode = iota
	ModeChild
)

// NoTimeout disables blocking timeouts on Recv.
const NoTimeout = 0

// Channel is one end of a controller<->child datagram socket pair.
type Channel struct {
	mode Mode
	fd   int
}

// New creates a connected pair of channels over socketpair(AF_UNIX,
// SOCK_DGRAM). The first return value is the controller end, the second
// the child end.
func New() (*Channel, *Channel, error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_DGRAM, 0)
	if err != nil {
		return nil, nil, errors.Wrap(err, errors.ErrIPC, "ipc.New").WithDetail("socketpair failed")
	}
	return &Channel{mode: ModeController, fd: fds[0]}, &Channel{mode: ModeChild, fd: fds[1]}, nil
}

// FromFD wraps an already-open socket fd (e.g. one received via SCM_RIGHTS
// as part of a NewSubjail message) as a Channel end.
func FromFD(fd int, mode Mode) *Channel {
	return &Channel{mode: mode, fd: fd}
}

// FD returns the underlying socket fd, for handing off via SCM_RIGHTS or
// polling externally.
func (c *Channel) FD() int {
	return c.fd
}

// Close closes the channel's socket.
func (c *Channel) Close() error {
	if c.fd < 0 {
		return nil
	}
	err := unix.Close(c.fd)
	c.fd = -1
	if err != nil {
		return errors.Wrap(err, errors.ErrIPC, "ipc.Close")
	}
	return nil
}

// fdForMessage extracts the single ancillary fd to send with a message, if
// any. NewSubjail, ScriptFile and ScriptCall always carry one; FunctionReturn carries
// one only if fd >= 0.
func fdForMessage(m Message, fd int) (int, bool) {
	if !carriesFD(m.Type) {
		return -1, false
	}
	if m.Type == MsgFunctionReturn && fd < 0 {
		return -1, false
	}
	return fd, true
}

// Send writes m to the channel, attaching fd as a single SCM_RIGHTS
// ancillary message when the message type carries one. Only a controller
// end may attach an fd; fd is ignored for message types that never carry
// one.
func (c *Channel) Send(m Message, fd int) error {
	payload, err := Marshal(m)
	if err != nil {
		return err
	}

	sendFD, attach := fdForMessage(m, fd)
	if attach && c.mode != ModeController {
		return errors.New(errors.ErrIPC, "ipc.Send", "only the controller end may attach an ancillary fd")
	}

	var oob []byte
	if attach {
		oob = unix.UnixRights(sendFD)
	}

	if err := unix.Sendmsg(c.fd, payload, oob, nil, 0); err != nil {
		return errors.Wrap(err, errors.ErrIPC, "ipc.Send").WithDetail("sendmsg failed")
	}
	return nil
}

// Recv blocks for up to timeout for a message (NoTimeout blocks forever).
// It returns the decoded message and any fd carried as ancillary data
// (-1 if none).
func (c *Channel) Recv(timeout time.Duration) (Message, int, error) {
	if timeout != NoTimeout {
		pollFds := []unix.PollFd{{Fd: int32(c.fd), Events: unix.POLLIN}}
		ms := int(timeout / time.Millisecond)
		n, err := unix.Poll(pollFds, ms)
		if err != nil {
			return Message{}, -1, errors.Wrap(err, errors.ErrIPC, "ipc.Recv").WithDetail("poll failed")
		}
		if n == 0 {
			return Message{}, -1, errors.New(errors.ErrIPC, "ipc.Recv", "receive timed out")
		}
	}

	buf := make([]byte, MaxMessageSize)
	oob := make([]byte, unix.CmsgSpace(4))
	n, oobn, flags, _, err := unix.Recvmsg(c.fd, buf, oob, 0)
	if err != nil {
		return Message{}, -1, errors.Wrap(err, errors.ErrIPC, "ipc.Recv").WithDetail("recvmsg failed")
	}
	if flags&unix.MSG_TRUNC != 0 {
		return Message{}, -1, errors.New(errors.ErrIPC, "ipc.Recv", "message truncated")
	}
	if n < 1 {
		return Message{}, -1, errors.New(errors.ErrIPC, "ipc.Recv", "message smaller than minimum size")
	}

	m, err := Unmarshal(buf[:n])
	if err != nil {
		return Message{}, -1, err
	}

	fd := -1
	if oobn > 0 {
		cmsgs, err := unix.ParseSocketControlMessage(oob[:oobn])
		if err == nil {
			for _, cmsg := range cmsgs {
				fds, err := unix.ParseUnixRights(&cmsg)
				if err == nil && len(fds) > 0 {
					fd = fds[0]
					break
				}
			}
		}
	}
	if carriesFD(m.Type) && fd < 0 && m.Type != MsgFunctionReturn {
		return Message{}, -1, errors.New(errors.ErrIPC, "ipc.Recv", "expected message to carry an fd")
	}

	return m, fd, nil
}

// Call sends a FunctionCall and blocks until the matching FunctionReturn
// arrives, returning the reply and any fd that rode along with it.
func (c *Channel) Call(m Message, timeout time.Duration) (Message, int, error) {
	if m.Type != MsgFunctionCall {
		return Message{}, -1, errors.New(errors.ErrIPC, "ipc.Call", "Call requires a FunctionCall message")
	}
	if err := c.Send(m, -1); err != nil {
		return Message{}, -1, err
	}
	reply, fd, err := c.Recv(timeout)
	if err != nil {
		return Message{}, -1, err
	}
	if reply.Type != MsgFunctionReturn {
		return Message{}, -1, errors.New(errors.ErrIPC, "ipc.Call", "expected FunctionReturn")
	}
	return reply, fd, nil
}
