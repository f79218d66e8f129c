// Package permfs implements the filesystem permission domain: path-keyed
// entries each carrying a self modeset (flags that apply to the exact
// path) and a children modeset (flags that apply to any path with the
// entry's path as a strict directory prefix), gated through the mode
// action algorithm shared by GateFile and RequestNode.
package permfs

import (
	"strings"
	"sync"

	"ghostjail/errors"
	"ghostjail/perms/pathfd"
	"ghostjail/perms/parser"
	"ghostjail/perms/procfd"
	"ghostjail/perms/prompt"
	"ghostjail/perms/request"
	"ghostjail/perms/writer"
)

// Flags is the filesystem flag vocabulary: the five operation bits plus
// nine per-class access bits requested when a new file's mode matters.
type Flags uint32

const (
	Read Flags = 1 << iota
	Write
	CreateFile
	CreateDir
	Unlink
	AccessUserRead
	AccessUserWrite
	AccessUserExecute
	AccessGroupRead
	AccessGroupWrite
	AccessGroupExecute
	AccessOtherRead
	AccessOtherWrite
	AccessOtherExecute
)

// AllFlags is the union of every defined flag, used to validate a mode
// read back from a policy file.
const AllFlags = Read | Write | CreateFile | CreateDir | Unlink |
	AccessUserRead | AccessUserWrite | AccessUserExecute |
	AccessGroupRead | AccessGroupWrite | AccessGroupExecute |
	AccessOtherRead | AccessOtherWrite | AccessOtherExecute

// Valid reports whether mode contains only recognized bits.
func (f Flags) Valid() bool {
	return f&^AllFlags == 0
}

// IsAccessMode reports whether f is one of the nine per-class access bits.
func (f Flags) IsAccessMode() bool {
	return f&(AccessUserRead|AccessUserWrite|AccessUserExecute|
		AccessGroupRead|AccessGroupWrite|AccessGroupExecute|
		AccessOtherRead|AccessOtherWrite|AccessOtherExecute) == f && f != 0
}

// ModeSet carries the three bitfields a filesystem entry associates with
// a path: bits that are always rejected, bits that are always accepted,
// and bits that require an interactive prompt.
type ModeSet struct {
	Reject Flags
	Accept Flags
	Prompt Flags
}

// Join returns the bitwise-or of a and b across all three fields; every
// matching entry contributes to an evaluation by or-ing its mode sets in.
func Join(a, b ModeSet) ModeSet {
	return ModeSet{
		Reject: a.Reject | b.Reject,
		Accept: a.Accept | b.Accept,
		Prompt: a.Prompt | b.Prompt,
	}
}

// Entry is one stored filesystem policy row, keyed by canonical path.
type Entry struct {
	Path     string
	Self     ModeSet
	Children ModeSet
}

// Domain is the filesystem permission domain: an ordered list of entries,
// owned by a permission aggregate.
type Domain struct {
	mu      sync.RWMutex
	entries []*Entry
}

// NewDomain returns an empty filesystem domain.
func NewDomain() *Domain {
	return &Domain{}
}

// Add inserts or merges a policy entry for path.
//
// When no entry for path exists yet, a new one is created with Self and
// Children set independently from selfMode and childrenMode.
//
// When an entry for path already exists, both selfMode and childrenMode
// are merged into the existing entry's Self field only; Children is left
// untouched — a second Add for the same path can no longer grow Children,
// only Self. Deliberate; see DESIGN.md.
func (d *Domain) Add(path string, selfMode, childrenMode ModeSet) *Entry {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, e := range d.entries {
		if e.Path == path {
			e.Self = Join(e.Self, selfMode)
			e.Self = Join(e.Self, childrenMode)
			return e
		}
	}

	e := &Entry{Path: path, Self: selfMode, Children: childrenMode}
	d.entries = append(d.entries, e)
	return e
}

// isStrictPrefix reports whether prefix is a strict directory-prefix of
// path: prefix must match path up to and including a '/' boundary, and
// must not equal path itself.
func isStrictPrefix(prefix, path string) bool {
	if prefix == path {
		return false
	}
	p := strings.TrimRight(prefix, "/")
	if p == "" {
		p = "/"
	}
	if p == "/" {
		return strings.HasPrefix(path, "/") && path != "/"
	}
	return strings.HasPrefix(path, p+"/")
}

// GetMode computes the self and children modesets relevant to
// canonicalPath by merging every stored entry that either matches it
// exactly or is a strict directory prefix of it.
//
// For a strict-prefix entry, self is updated from the entry's Children
// field, and children is then computed from the *already-updated* self
// rather than from a fresh accumulator. Since Join is idempotent, children
// ends up tracking self's running value across all prefix matches rather
// than a sum of each entry's own Children. Deliberate; see DESIGN.md.
func (d *Domain) GetMode(canonicalPath string) (self, children ModeSet) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	for _, e := range d.entries {
		switch {
		case e.Path == canonicalPath:
			self = Join(self, e.Self)
			children = Join(children, e.Children)
		case isStrictPrefix(e.Path, canonicalPath):
			self = Join(self, e.Children)
			children = Join(self, e.Children)
		}
	}
	return self, children
}

// ActionResult is the outcome of evaluating a requested flag set against
// a ModeSet via the mode action algorithm.
type ActionResult struct {
	// Allowed is true if every requested bit was covered by Accept with
	// no Reject bits present.
	Allowed bool
	// RejectedBits holds the reject-intersected bits when Allowed is
	// false because of step 1 of the algorithm.
	RejectedBits Flags
	// PromptBits holds the remaining bits (after removing accepted
	// bits) that must be prompted for, whether because they fall in
	// Prompt or by default policy.
	PromptBits Flags
}

// NeedsPrompt reports whether acting on r requires asking a prompter.
func (r ActionResult) NeedsPrompt() bool {
	return !r.Allowed && r.RejectedBits == 0 && r.PromptBits != 0
}

// ActMode evaluates the requested flags m against modeset via the mode
// action algorithm: reject wins outright; fully-accepted requests succeed;
// anything left over is prompt-worthy, whether flagged Prompt or not —
// the default policy for unmentioned bits is also prompt.
func ActMode(modeset ModeSet, m Flags) ActionResult {
	if modeset.Reject&m != 0 {
		return ActionResult{RejectedBits: modeset.Reject & m}
	}

	a := modeset.Accept & m
	if a == m {
		return ActionResult{Allowed: true}
	}
	remaining := m &^ a
	return ActionResult{PromptBits: remaining}
}

// canonicalPath resolves fd to its canonical absolute path.
func canonicalPath(fd *pathfd.Handle) (string, error) {
	return procfd.Canonicalize(fd)
}

// GateFile checks fd against the merged modeset for its canonical path.
// On reject it fails with ErrPermFSDenied; on
// accept it returns nil; on prompt it builds a Request, asks prompter,
// and — if the response asks to remember — persists the decision as a
// new or merged entry keyed on the canonical path.
func GateFile(d *Domain, prompter prompt.Prompter, safeID string, fd *pathfd.Handle, mode Flags, hint string) error {
	path, err := canonicalPath(fd)
	if err != nil {
		return err
	}

	self, _ := d.GetMode(path)
	result := ActMode(self, mode)

	if result.RejectedBits != 0 {
		return errors.ErrPermFSDenied
	}
	if result.Allowed {
		return nil
	}

	req, err := request.New(safeID, "filesystem", "gatefile",
		request.Field{Name: "path", Value: path},
		request.Field{Name: "hint", Value: hint},
	)
	if err != nil {
		return err
	}

	resp, err := prompter.Prompt(req)
	if err != nil {
		return err
	}
	if resp == request.EmergencyKill {
		return errors.ErrPermFSDenied
	}
	if resp.ShouldRemember() {
		remembered := ModeSet{}
		if resp.IsAccept() {
			remembered.Accept = result.PromptBits
		} else {
			remembered.Reject = result.PromptBits
		}
		d.Add(path, remembered, ModeSet{})
	}
	if !resp.IsAccept() {
		return errors.ErrPermFSPromptDeclined
	}
	return nil
}

// RequestNode evaluates selfMode and childrenMode independently against
// fd's canonical path, the script-initiated explicit request:
// already-accepted bits drop out, rejected bits fail hard, remaining bits are
// prompt-worthy. When outWouldPrompt is non-nil, RequestNode runs as a
// dry-run: it reports whether prompting would be required without
// actually invoking the prompter, and returns nil.
func RequestNode(d *Domain, prompter prompt.Prompter, safeID string, fd *pathfd.Handle, selfMode, childrenMode Flags, hint string, outWouldPrompt *bool) error {
	path, err := canonicalPath(fd)
	if err != nil {
		return err
	}

	curSelf, curChildren := d.GetMode(path)
	selfResult := ActMode(curSelf, selfMode)
	childrenResult := ActMode(curChildren, childrenMode)

	if selfResult.RejectedBits != 0 || childrenResult.RejectedBits != 0 {
		return errors.ErrPermFSDenied
	}

	wouldPrompt := selfResult.NeedsPrompt() || childrenResult.NeedsPrompt()
	if outWouldPrompt != nil {
		*outWouldPrompt = wouldPrompt
		return nil
	}
	if !wouldPrompt {
		return nil
	}

	req, err := request.New(safeID, "filesystem", "node",
		request.Field{Name: "path", Value: path},
		request.Field{Name: "hint", Value: hint},
	)
	if err != nil {
		return err
	}

	resp, err := prompter.Prompt(req)
	if err != nil {
		return err
	}
	if resp == request.EmergencyKill {
		return errors.ErrPermFSDenied
	}
	if resp.ShouldRemember() {
		selfRemember := ModeSet{}
		childrenRemember := ModeSet{}
		if resp.IsAccept() {
			selfRemember.Accept = selfResult.PromptBits
			childrenRemember.Accept = childrenResult.PromptBits
		} else {
			selfRemember.Reject = selfResult.PromptBits
			childrenRemember.Reject = childrenResult.PromptBits
		}
		d.Add(path, selfRemember, childrenRemember)
	}
	if !resp.IsAccept() {
		return errors.ErrPermFSPromptDeclined
	}
	return nil
}

// FcntlFlagsToMode converts the flags passed to an open/openat call
// (plus the access mode used when creating a new file) into the
// filesystem flag vocabulary: O_RDONLY/O_WRONLY/O_RDWR become
// Read/Write/both, O_APPEND implies Write, O_CREAT implies CreateFile
// and additionally requests the nine per-class access bits set in
// createMode.
func FcntlFlagsToMode(fcntlFlags int, createMode uint32) Flags {
	var mode Flags

	switch fcntlFlags & 0x3 { // O_ACCMODE
	case 0: // O_RDONLY
		mode |= Read
	case 1: // O_WRONLY
		mode |= Write
	case 2: // O_RDWR
		mode |= Read | Write
	}

	const oAppend = 0x400
	if fcntlFlags&oAppend != 0 {
		mode |= Write
	}

	const oCreat = 0x40
	if fcntlFlags&oCreat != 0 {
		mode |= CreateFile

		const (
			sIRUSR = 0o400
			sIWUSR = 0o200
			sIXUSR = 0o100
			sIRGRP = 0o040
			sIWGRP = 0o020
			sIXGRP = 0o010
			sIROTH = 0o004
			sIWOTH = 0o002
			sIXOTH = 0o001
		)
		if createMode&sIRUSR != 0 {
			mode |= AccessUserRead
		}
		if createMode&sIWUSR != 0 {
			mode |= AccessUserWrite
		}
		if createMode&sIXUSR != 0 {
			mode |= AccessUserExecute
		}
		if createMode&sIRGRP != 0 {
			mode |= AccessGroupRead
		}
		if createMode&sIWGRP != 0 {
			mode |= AccessGroupWrite
		}
		if createMode&sIXGRP != 0 {
			mode |= AccessGroupExecute
		}
		if createMode&sIROTH != 0 {
			mode |= AccessOtherRead
		}
		if createMode&sIWOTH != 0 {
			mode |= AccessOtherWrite
		}
		if createMode&sIXOTH != 0 {
			mode |= AccessOtherExecute
		}
	}

	return mode
}

// Entries returns a snapshot copy of the domain's entries, in
// registration order, for the writer to serialize.
func (d *Domain) Entries() []Entry {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Entry, len(d.entries))
	for i, e := range d.entries {
		out[i] = *e
	}
	return out
}

// flagOrder fixes the iteration order used both when decomposing a
// bitmask into its GHPERM identifiers on write and when validating one
// on read.
var flagOrder = []struct {
	flag Flags
	name string
}{
	{Read, "read"},
	{Write, "write"},
	{CreateFile, "createfile"},
	{CreateDir, "createdir"},
	{Unlink, "unlink"},
	{AccessUserRead, "accessuserread"},
	{AccessUserWrite, "accessuserwrite"},
	{AccessUserExecute, "accessuserexecute"},
	{AccessGroupRead, "accessgroupread"},
	{AccessGroupWrite, "accessgroupwrite"},
	{AccessGroupExecute, "accessgroupexecute"},
	{AccessOtherRead, "accessotherread"},
	{AccessOtherWrite, "accessotherwrite"},
	{AccessOtherExecute, "accessotherexecute"},
}

// ParseFlag resolves a GHPERM flag identifier ("read", "createdir", ...)
// to its bit, for callers assembling a mode from user input.
func ParseFlag(name string) (Flags, bool) {
	return flagByName(name)
}

func flagByName(name string) (Flags, bool) {
	for _, e := range flagOrder {
		if e.name == name {
			return e.flag, true
		}
	}
	return 0, false
}

// RegisterParser registers the filesystem resource parser ("filesystem
// node") with p, reading entries directly into d.
func (d *Domain) RegisterParser(p *parser.Parser) error {
	return p.RegisterResource(parser.ResourceParser{
		Matches: func(groupID, resourceID string) bool {
			return groupID == "filesystem" && resourceID == "node"
		},
		NewEntry: func(pp *parser.Parser, key string) (any, error) {
			return d.Add(key, ModeSet{}, ModeSet{}), nil
		},
		SetField: func(pp *parser.Parser, entryAny any, field string) error {
			if field != "self" && field != "children" {
				return pp.ResourceError("unknown field")
			}
			e := entryAny.(*Entry)
			target := &e.Self
			if field == "children" {
				target = &e.Children
			}

			action, err := pp.NextIdentifier()
			if err != nil {
				return err
			}
			var bits *Flags
			switch action {
			case "accept":
				bits = &target.Accept
			case "reject":
				bits = &target.Reject
			case "prompt":
				bits = &target.Prompt
			default:
				return pp.ResourceError("unknown mode action")
			}

			for {
				tok, terr := pp.PeekToken()
				if terr != nil {
					return terr
				}
				if tok.Type != parser.String {
					break
				}
				name, serr := pp.NextString()
				if serr != nil {
					return serr
				}
				flag, ok := flagByName(name)
				if !ok {
					return pp.ResourceError("unknown mode flag")
				}
				*bits |= flag
			}
			return nil
		},
	})
}

func writeMode(w *writer.Writer, modesetName, actionName string, mode Flags) error {
	if mode == 0 {
		return nil
	}
	if err := w.Field(modesetName); err != nil {
		return err
	}
	if err := w.FieldArgIdent(actionName); err != nil {
		return err
	}
	for _, e := range flagOrder {
		if mode&e.flag != 0 {
			if err := w.FieldArgString(e.name); err != nil {
				return err
			}
		}
	}
	return nil
}

func writeModeSet(w *writer.Writer, modesetName string, modeset ModeSet) error {
	if err := writeMode(w, modesetName, "accept", modeset.Accept); err != nil {
		return err
	}
	if err := writeMode(w, modesetName, "reject", modeset.Reject); err != nil {
		return err
	}
	return writeMode(w, modesetName, "prompt", modeset.Prompt)
}

// Write serializes d as a "filesystem node" GHPERM block.
func (d *Domain) Write(w *writer.Writer) error {
	if err := w.BeginResource("filesystem", "node"); err != nil {
		return err
	}
	for _, e := range d.Entries() {
		if err := w.BeginEntry(e.Path); err != nil {
			return err
		}
		if err := writeModeSet(w, "self", e.Self); err != nil {
			return err
		}
		if err := writeModeSet(w, "children", e.Children); err != nil {
			return err
		}
		if err := w.EndEntry(); err != nil {
			return err
		}
	}
	return w.EndResource()
}
