// Package jail implements the jail child process: it reads the sandbox
// options record off an inherited memfd, applies the kernel lockdown, and
// then runs a message loop accepting Hello, NewSubjail, and Quit from the
// controller, forking one subjail per NewSubjail request.
package jail

import (
	"os"
	"os/exec"
	"strconv"

	"ghostjail/errors"
	"ghostjail/ipc"
	"ghostjail/linux"
	"ghostjail/logging"
	"ghostjail/options"
)

// Jail is the state of a running jail process: the options it was
// configured with, its control channel back to the host, and its subjail
// bookkeeping. The options are read once at startup and thereafter
// immutable.
type Jail struct {
	rec options.JailRecord
	ch  *ipc.Channel

	controllerPID int
	subjailCount  int
	children      []*exec.Cmd
}

// Main is the jail entry point: argv[1] is the decimal fd number of the
// options memfd. It returns only on Quit or on a fatal protocol error.
func Main(args []string) error {
	logging.Setup(logging.TierJail, logging.Config{})

	if len(args) < 2 {
		return errors.New(errors.ErrJail, "jail.Main", "no options fd argument")
	}
	fd, err := strconv.Atoi(args[1])
	if err != nil || fd < 0 {
		return errors.New(errors.ErrJail, "jail.Main", "options fd argument is not a number")
	}

	rec, err := options.ReadFD(fd)
	if err != nil {
		return err
	}

	j := &Jail{
		rec: rec,
		ch:  ipc.FromFD(rec.IPCFD, ipc.ModeChild),
	}
	return j.Run()
}

// Run applies the lockdown and enters the message loop. Lockdown happens
// after options are read and before any message is handled, so no
// untrusted-influenced code ever runs unfiltered.
func (j *Jail) Run() error {
	if err := linux.Lockdown(linux.FilterJail, j.rec.Sandbox.MemoryLimit); err != nil {
		return err
	}
	return j.loop()
}

func (j *Jail) loop() error {
	log := logging.Default().With("jail", j.rec.Sandbox.Name)
	for {
		msg, fd, err := j.ch.Recv(ipc.NoTimeout)
		if err != nil {
			return err
		}

		switch msg.Type {
		case ipc.MsgHello:
			if j.controllerPID != 0 {
				return errors.New(errors.ErrJail, "jail.loop", "received a second hello")
			}
			j.controllerPID = int(msg.PID)
			log.Debug("controller hello", "pid", j.controllerPID)

		case ipc.MsgNewSubjail:
			if err := j.spawnSubjail(fd); err != nil {
				// A failed spawn is fatal: the controller is now blocked
				// waiting on SubjailAlive over a channel nothing owns.
				return err
			}

		case ipc.MsgQuit:
			log.Debug("quit received", "subjails", j.subjailCount)
			return nil

		default:
			return errors.New(errors.ErrJail, "jail.loop", "unexpected message type "+msg.Type.String())
		}
	}
}

// spawnSubjail forks one subjail child connected to the direct IPC fd the
// controller sent, then closes the jail's copy of that fd, leaving the
// subjail and the controller as the channel's only holders.
func (j *Jail) spawnSubjail(directFD int) error {
	if directFD < 0 {
		return errors.New(errors.ErrJail, "jail.spawnSubjail", "NewSubjail carried no fd")
	}
	directFile := os.NewFile(uintptr(directFD), "subjail-ipc")
	defer directFile.Close()

	self, err := os.Executable()
	if err != nil {
		return errors.Wrap(err, errors.ErrEmbeddedJail, "jail.spawnSubjail")
	}

	index := j.subjailCount
	cmd := exec.Command(self,
		strconv.Itoa(subjailIPCFD),
		strconv.Itoa(index),
		strconv.FormatUint(j.rec.Sandbox.MemoryLimit, 10),
		strconv.FormatUint(j.rec.Sandbox.FunctionCallFrameLimit, 10),
	)
	cmd.Args[0] = arg0Subjail
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.ExtraFiles = []*os.File{directFile}

	if err := cmd.Start(); err != nil {
		return errors.Wrap(err, errors.ErrJail, "jail.spawnSubjail").WithDetail("failed to start subjail")
	}
	j.subjailCount++
	j.children = append(j.children, cmd)

	// Reap in the background so exited subjails never accumulate as
	// zombies for the jail's lifetime.
	go cmd.Wait()
	return nil
}

// subjailIPCFD is the fd number a subjail child inherits for its direct
// channel, placed by ExtraFiles right after stderr.
const subjailIPCFD = 3

// arg0Subjail mirrors sandbox.Arg0Subjail without importing the host-side
// package into the jail process's dependency closure.
const arg0Subjail = "ghost-subjail"
