package prompt

import (
	"fmt"
	"io"
	"os"

	"golang.org/x/term"

	"ghostjail/errors"
	"ghostjail/perms/request"
)

var errNoPrompter = errors.New(errors.ErrPrompter, "prompt.Chain.Prompt", "no prompter configured")

// Terminal is the built-in interactive prompter: it prints the request and
// a five-way keystroke menu, then reads one raw keystroke without waiting
// for Enter.
type Terminal struct {
	In  *os.File
	Out io.Writer
}

// NewTerminal returns a Terminal prompter reading from in and writing
// menus/echoes to out (defaulting to os.Stdout).
func NewTerminal(in *os.File, out io.Writer) *Terminal {
	if out == nil {
		out = os.Stdout
	}
	return &Terminal{In: in, Out: out}
}

// Prompt implements Prompter.
func (t *Terminal) Prompt(req request.Request) (request.Response, error) {
	fmt.Fprintf(t.Out, "[%s %s] request from %q\n", req.Group, req.Resource, req.Source)
	for _, f := range req.Fields {
		fmt.Fprintf(t.Out, "  %s: %s\n", f.Name, f.Value)
	}
	fmt.Fprint(t.Out, "accept(y)  reject(n)  accept+remember(a)  reject+remember(x)  emergency-kill(!): ")

	fd := int(t.In.Fd())
	if !term.IsTerminal(fd) {
		return 0, errors.ErrPrompterNoTTY
	}
	old, err := term.MakeRaw(fd)
	if err != nil {
		return 0, errors.Wrap(err, errors.ErrPrompter, "prompt.Terminal.Prompt").WithDetail("failed to enter raw mode")
	}
	defer term.Restore(fd, old)

	buf := make([]byte, 1)
	if _, err := t.In.Read(buf); err != nil {
		return 0, errors.Wrap(err, errors.ErrPrompter, "prompt.Terminal.Prompt")
	}
	fmt.Fprintln(t.Out)

	switch buf[0] {
	case 'y':
		return request.AcceptOnce, nil
	case 'n':
		return request.RejectOnce, nil
	case 'a':
		return request.AcceptAndRemember, nil
	case 'x':
		return request.RejectAndRemember, nil
	case '!':
		return request.EmergencyKill, nil
	default:
		return 0, errors.New(errors.ErrPrompter, "prompt.Terminal.Prompt", "unrecognized keystroke")
	}
}
