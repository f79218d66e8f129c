// Package sandbox implements the host's handle on one jail process:
// spawning the jail child with its options memfd, the Hello handshake,
// handing new subjail IPC ends through the jail, and the
// quit-with-deadline teardown.
package sandbox

import (
	"os"
	"os/exec"
	"strconv"
	"sync"
	"syscall"

	"ghostjail/errors"
	"ghostjail/ipc"
	"ghostjail/logging"
	"ghostjail/options"
	"ghostjail/result"
	"ghostjail/rpc"
	"ghostjail/utils"
)

// jailOptionsFD and jailIPCFD are the fd numbers the jail child inherits
// for its options memfd and its end of the control channel. ExtraFiles
// places them immediately after stderr.
const (
	jailOptionsFD = 3
	jailIPCFD     = 4
)

// Sandbox is the host's handle on one jail process. One jail per sandbox;
// threads within it each open their own direct IPC to their subjail via an
// fd handed through the jail.
type Sandbox struct {
	opts options.Sandbox
	pid  int
	cmd  *exec.Cmd
	ch   *ipc.Channel
	reg  *rpc.Registry

	// mu serializes SpawnSubjail's NewSubjail sends; Quit also sends on the
	// sandbox IPC, without taking it.
	mu sync.Mutex
}

// New spawns a locked-down jail child and completes the Hello handshake.
// reg is the RPC registry every thread of this sandbox will share; it may
// be nil for a sandbox that never registers functions.
func New(opts options.Sandbox, reg *rpc.Registry) (*Sandbox, error) {
	if opts.Name == "" {
		opts.Name = "ghostjail"
	}
	if reg == nil {
		reg = rpc.NewRegistry()
	}

	self, err := JailExecutable()
	if err != nil {
		return nil, err
	}

	ctrl, child, err := ipc.New()
	if err != nil {
		return nil, err
	}

	optFile, err := options.WriteMemfd(options.JailRecord{
		Sandbox: opts,
		IPCFD:   jailIPCFD,
	})
	if err != nil {
		ctrl.Close()
		child.Close()
		return nil, err
	}
	defer optFile.Close()

	childFile := os.NewFile(uintptr(child.FD()), "jail-ipc")

	cmd := exec.Command(self, strconv.Itoa(jailOptionsFD))
	cmd.Args[0] = Arg0Jail
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.ExtraFiles = []*os.File{optFile, childFile}

	if err := cmd.Start(); err != nil {
		ctrl.Close()
		child.Close()
		return nil, errors.Wrap(err, errors.ErrSandbox, "sandbox.New").WithDetail("failed to start jail")
	}
	// The child holds its own copy now.
	child.Close()

	s := &Sandbox{
		opts: opts,
		pid:  cmd.Process.Pid,
		cmd:  cmd,
		ch:   ctrl,
		reg:  reg,
	}

	if err := ctrl.Send(ipc.Message{Type: ipc.MsgHello, PID: int32(os.Getpid())}, -1); err != nil {
		s.forceKill()
		ctrl.Close()
		return nil, err
	}

	logging.Sandbox(s.pid).Debug("jail spawned", "name", opts.Name)
	return s, nil
}

// PID returns the jail process id.
func (s *Sandbox) PID() int { return s.pid }

// Options returns the sandbox options the jail was configured with.
func (s *Sandbox) Options() options.Sandbox { return s.opts }

// Registry returns the RPC registry shared by this sandbox's threads.
func (s *Sandbox) Registry() *rpc.Registry { return s.reg }

// SpawnSubjail asks the jail for a new subjail and returns the
// controller's direct IPC channel to it: a fresh socketpair is created,
// the child end rides a NewSubjail message through the jail, and the jail
// closes its copy once the subjail holds it.
func (s *Sandbox) SpawnSubjail() (*ipc.Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	direct, child, err := ipc.New()
	if err != nil {
		return nil, err
	}
	if err := s.ch.Send(ipc.Message{Type: ipc.MsgNewSubjail}, child.FD()); err != nil {
		direct.Close()
		child.Close()
		return nil, err
	}
	child.Close()
	return direct, nil
}

// Quit asks the jail to exit, waits out the 4-second deadline, and encodes
// the jail's exit disposition as a result: normal zero exit is success,
// nonzero exit and signal death carry the code or signal number in the
// payload, and a missed deadline surfaces a distinct forcekill result
// after SIGKILL.
func (s *Sandbox) Quit() result.Result {
	defer s.ch.Close()

	// A dead jail cannot receive Quit; the wait below still reaps it.
	if err := s.ch.Send(ipc.Message{Type: ipc.MsgQuit}, -1); err != nil {
		logging.Sandbox(s.pid).Debug("quit send failed", "err", err)
	}

	forced, err := utils.WaitExit(s.pid, utils.QuitWait)
	if err != nil {
		s.forceKill()
		return result.Wrap(result.ContextSandboxWaitFail, err)
	}

	state, werr := s.cmd.Process.Wait()
	if forced {
		return result.New(result.ContextSandboxQuitTimeout)
	}
	if werr != nil || state == nil {
		return result.Wrap(result.ContextSandboxWaitFail, werr)
	}

	ws, ok := state.Sys().(syscall.WaitStatus)
	if !ok {
		return result.Ok
	}
	switch {
	case ws.Signaled():
		return result.WithSignal(int(ws.Signal()))
	case ws.ExitStatus() != 0:
		return result.WithExitCode(ws.ExitStatus())
	default:
		return result.Ok
	}
}

func (s *Sandbox) forceKill() {
	if s.cmd != nil && s.cmd.Process != nil {
		s.cmd.Process.Kill()
		s.cmd.Process.Wait()
	}
}
