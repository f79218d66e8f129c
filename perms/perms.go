// Package perms implements the permission aggregate: the per-thread bundle
// of a proc-fd directory handle, a prompter, the filesystem and exec
// domains, and up to 16 user-supplied generic domains, plus whole-policy
// GHPERM serialization across all of them.
package perms

import (
	"io"
	"os"

	"golang.org/x/sys/unix"

	"ghostjail/errors"
	"ghostjail/perms/parser"
	"ghostjail/perms/pathfd"
	"ghostjail/perms/permexec"
	"ghostjail/perms/permfs"
	"ghostjail/perms/prompt"
	"ghostjail/perms/request"
	"ghostjail/perms/writer"
)

// Permissions is one thread's permission aggregate. It is owned
// exclusively by that thread, never shared, and destroyed after the
// thread's subjail has terminated.
type Permissions struct {
	// procDirFD is the /proc/self/fd directory handle the resolver reads
	// through, held open for the aggregate's lifetime.
	procDirFD int

	prompter prompt.Prompter

	// FS is the filesystem permission domain.
	FS *permfs.Domain
	// Exec is the exec permission domain.
	Exec *permexec.Domain

	generics []GenericDomain
}

// New constructs an aggregate with empty filesystem and exec domains and
// the given prompter. A nil prompter falls back to AutoReject, so a
// headless host fails closed rather than crashing on the first prompt.
func New(prompter prompt.Prompter) (*Permissions, error) {
	if prompter == nil {
		prompter = prompt.AutoReject{}
	}
	fd, err := unix.Open("/proc/self/fd", unix.O_PATH|unix.O_DIRECTORY, 0)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrProcFD, "perms.New").WithDetail("open /proc/self/fd failed")
	}
	return &Permissions{
		procDirFD: fd,
		prompter:  prompter,
		FS:        permfs.NewDomain(),
		Exec:      permexec.NewDomain(),
	}, nil
}

// Close releases the aggregate's proc directory handle. The domains
// themselves are garbage collected.
func (p *Permissions) Close() error {
	if p.procDirFD < 0 {
		return nil
	}
	err := unix.Close(p.procDirFD)
	p.procDirFD = -1
	if err != nil {
		return errors.Wrap(err, errors.ErrProcFD, "perms.Close")
	}
	return nil
}

// Prompter returns the aggregate's prompter.
func (p *Permissions) Prompter() prompt.Prompter {
	return p.prompter
}

// SetPrompter replaces the aggregate's prompter, e.g. to put a GUI in front
// of the terminal fallback via prompt.Chain.
func (p *Permissions) SetPrompter(pr prompt.Prompter) {
	if pr == nil {
		pr = prompt.AutoReject{}
	}
	p.prompter = pr
}

// Request routes a fully-formed permission request through the prompter,
// for generic domains implementing custom gating in RPC handlers.
func (p *Permissions) Request(req request.Request) (request.Response, error) {
	return p.prompter.Prompt(req)
}

// GateFile checks fd against the filesystem domain for the requested mode,
// prompting through the aggregate's prompter when policy says to ask.
// safeID is the requesting thread's stable identity, reported as the
// request's source.
func (p *Permissions) GateFile(safeID string, fd *pathfd.Handle, mode permfs.Flags, hint string) error {
	return permfs.GateFile(p.FS, p.prompter, safeID, fd, mode, hint)
}

// RequestNode performs a script-initiated explicit filesystem request, or
// a dry-run when outWouldPrompt is non-nil.
func (p *Permissions) RequestNode(safeID string, fd *pathfd.Handle, selfMode, childrenMode permfs.Flags, hint string, outWouldPrompt *bool) error {
	return permfs.RequestNode(p.FS, p.prompter, safeID, fd, selfMode, childrenMode, hint, outWouldPrompt)
}

// GateExec checks a process-exec attempt against the exec domain,
// returning the env filtered down to the domain's allow-list when the exec
// is permitted.
func (p *Permissions) GateExec(safeID, exePath string, exe io.Reader, argv, env []string) ([]string, error) {
	return permexec.Gate(p.Exec, p.prompter, safeID, exePath, exe, argv, env)
}

// registerAllParsers wires every domain's resource parser into pp: generic
// domains first, then filesystem, then exec.
func (p *Permissions) registerAllParsers(pp *parser.Parser) error {
	if err := p.registerGenericParsers(pp); err != nil {
		return err
	}
	if err := p.FS.RegisterParser(pp); err != nil {
		return err
	}
	return p.Exec.RegisterParser(pp)
}

// ParseBytes loads a GHPERM policy from an in-memory buffer into the
// aggregate's domains.
func (p *Permissions) ParseBytes(buf []byte) error {
	pp := parser.NewFromBytes(buf)
	if err := p.registerAllParsers(pp); err != nil {
		return err
	}
	return pp.Parse()
}

// ParseFile mmaps and loads a GHPERM policy file by fd.
func (p *Permissions) ParseFile(fd int) error {
	pp, err := parser.NewFromFile(fd)
	if err != nil {
		return err
	}
	defer pp.Close()
	if err := p.registerAllParsers(pp); err != nil {
		return err
	}
	return pp.Parse()
}

// LoadFile opens and loads a GHPERM policy file by path. A missing file is
// not an error: a fresh host legitimately starts with no persisted policy.
func (p *Permissions) LoadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Wrap(err, errors.ErrParser, "perms.LoadFile").WithPath(path)
	}
	defer f.Close()
	return p.ParseFile(int(f.Fd()))
}

// WriteTo serializes the whole policy: filesystem block first, then exec,
// then each generic block in registration order.
func (p *Permissions) WriteTo(out io.Writer) error {
	w := writer.New(out)
	if err := p.FS.Write(w); err != nil {
		return err
	}
	if err := p.Exec.Write(w); err != nil {
		return err
	}
	for _, g := range p.generics {
		if err := g.Write(w); err != nil {
			return err
		}
	}
	return nil
}

// SaveFile persists the policy to path. On a write error the file is
// truncated back to empty before the error is surfaced, so a failed save
// never leaves a half-written policy behind.
func (p *Permissions) SaveFile(path string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return errors.Wrap(err, errors.ErrParser, "perms.SaveFile").WithPath(path)
	}
	werr := p.WriteTo(f)
	if werr != nil {
		f.Truncate(0)
	}
	if cerr := f.Close(); cerr != nil && werr == nil {
		werr = errors.Wrap(cerr, errors.ErrParser, "perms.SaveFile")
	}
	return werr
}
