// Package permexec implements the exec permission domain: process-exec
// attempts are gated by a combined hash of the executable's contents and
// its argv, keyed against stored accept/reject/prompt entries, with an
// environment allow-list filtering what the prompted child actually sees.
package permexec

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
	"sync"

	"ghostjail/errors"
	"ghostjail/perms/parser"
	"ghostjail/perms/prompt"
	"ghostjail/perms/request"
	"ghostjail/perms/writer"
)

// Mode is the decision a stored exec entry (or the domain default)
// carries.
type Mode int

const (
	Accept Mode = iota
	Reject
	Prompt
)

// MaxArgs bounds the argv length hashed in.
const MaxArgs = 2048

// MaxAllowedEnv caps how many environment entries Gate passes through the
// allow-list filter; the AllowedEnv list itself is not bounded.
const MaxAllowedEnv = 32

// Entry is one stored exec policy row, keyed by a combined hash.
type Entry struct {
	Mode Mode
	Hash [sha256.Size]byte
}

// Domain is the exec permission domain.
type Domain struct {
	mu          sync.RWMutex
	DefaultMode Mode
	entries     []Entry
	AllowedEnv  []string
}

// NewDomain returns a new exec domain defaulting to Reject: an exec whose
// hash matches no stored entry fails closed.
func NewDomain() *Domain {
	return &Domain{DefaultMode: Reject}
}

// BuildHash computes the combined hash of exe's contents and each argv
// entry: SHA-256(exe) concatenated with SHA-256(argv[i]) for each i, all
// hashed together again.
func BuildHash(exe io.Reader, argv []string) ([sha256.Size]byte, error) {
	var zero [sha256.Size]byte
	if len(argv) > MaxArgs {
		return zero, errors.ErrPermExecTooManyArgs
	}

	exeHash := sha256.New()
	if _, err := io.Copy(exeHash, exe); err != nil {
		return zero, errors.Wrap(err, errors.ErrPermExec, "permexec.BuildHash")
	}

	combined := sha256.New()
	combined.Write(exeHash.Sum(nil))
	for _, arg := range argv {
		argHash := sha256.Sum256([]byte(arg))
		combined.Write(argHash[:])
	}

	var out [sha256.Size]byte
	copy(out[:], combined.Sum(nil))
	return out, nil
}

// TryGet looks up hash among the domain's stored entries. A miss returns
// (Entry{}, false) with no error — a silent miss, not a failure; callers
// fall back to the domain default (see DESIGN.md).
func (d *Domain) TryGet(hash [sha256.Size]byte) (Entry, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, e := range d.entries {
		if e.Hash == hash {
			return e, true
		}
	}
	return Entry{}, false
}

// Add appends entry unconditionally, with no deduplication: two Add calls
// for the same hash leave both entries in the list, and TryGet returns
// whichever comes first.
func (d *Domain) Add(entry Entry) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries = append(d.entries, entry)
}

// filterEnv keeps only the KEY=VALUE pairs in env whose key appears in
// allowed, capped at MaxAllowedEnv entries.
func filterEnv(allowed, env []string) []string {
	allowedSet := make(map[string]struct{}, len(allowed))
	for _, k := range allowed {
		allowedSet[k] = struct{}{}
	}

	filtered := make([]string, 0, len(env))
	for _, kv := range env {
		eq := strings.IndexByte(kv, '=')
		if eq < 0 {
			continue
		}
		if _, ok := allowedSet[kv[:eq]]; !ok {
			continue
		}
		filtered = append(filtered, kv)
		if len(filtered) >= MaxAllowedEnv {
			break
		}
	}
	return filtered
}

func escapeArg(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '\\':
			b.WriteString(`\\`)
		case '"':
			b.WriteString(`\"`)
		case '\n':
			b.WriteString(`\n`)
		case '\t':
			b.WriteString(`\t`)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func buildCmdline(exePath string, argv []string) string {
	var b strings.Builder
	b.WriteString(exePath)
	for i, arg := range argv {
		if i == 0 {
			continue
		}
		b.WriteString(` "`)
		b.WriteString(escapeArg(arg))
		b.WriteByte('"')
	}
	return b.String()
}

func buildEnvLine(env []string) string {
	parts := make([]string, len(env))
	for i, kv := range env {
		parts[i] = `"` + escapeArg(kv) + `"`
	}
	return strings.Join(parts, " ")
}

func buildDescription(cmdline string, env []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "requesting permission to run the following command line:\n    %s", cmdline)
	if len(env) > 0 {
		fmt.Fprintf(&b, "\n\nthe following environment variables will be provided to the program:\n    %s", buildEnvLine(env))
	}
	b.WriteString("\n\nif you are not sure of what this program may do, REJECT the request!")
	return b.String()
}

// Gate decides whether an exec of exe (opened for reading) with argv and
// env is allowed. env is first filtered down to the domain's allow-list;
// the filtered set is both what any prompt displays and what the caller
// should actually pass to the child. The prompt's program name defaults
// to argv[0] when non-empty, else "<unknown>".
func Gate(d *Domain, prompter prompt.Prompter, safeID string, exePath string, exe io.Reader, argv, env []string) ([]string, error) {
	filteredEnv := filterEnv(d.AllowedEnv, env)

	hash, err := BuildHash(exe, argv)
	if err != nil {
		return nil, err
	}

	mode := d.DefaultMode
	if entry, ok := d.TryGet(hash); ok {
		mode = entry.Mode
	}

	switch mode {
	case Accept:
		return filteredEnv, nil
	case Reject:
		return nil, errors.ErrPermExecDenied
	}

	programName := "<unknown>"
	if len(argv) > 0 {
		programName = argv[0]
	}
	cmdline := buildCmdline(exePath, argv)

	fields := []request.Field{
		{Name: "description", Value: buildDescription(cmdline, filteredEnv)},
		{Name: "cmdline", Value: cmdline},
		{Name: "programname", Value: programName},
	}
	if len(filteredEnv) > 0 {
		fields = append(fields, request.Field{Name: "env", Value: buildEnvLine(filteredEnv)})
	}

	req, err := request.New(safeID, "exec", "cmdline", fields...)
	if err != nil {
		return nil, err
	}

	resp, err := prompter.Prompt(req)
	if err != nil {
		return nil, err
	}

	switch resp {
	case request.AcceptOnce:
		return filteredEnv, nil
	case request.RejectOnce:
		return nil, errors.ErrPermExecDenied
	case request.AcceptAndRemember:
		d.Add(Entry{Mode: Accept, Hash: hash})
		return filteredEnv, nil
	case request.RejectAndRemember:
		d.Add(Entry{Mode: Reject, Hash: hash})
		return nil, errors.ErrPermExecDenied
	default: // EmergencyKill or anything unrecognized
		return nil, errors.ErrPermExecDenied
	}
}

// Entries returns a snapshot copy of the domain's stored entries, in
// registration order, for the writer to serialize.
func (d *Domain) Entries() []Entry {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Entry, len(d.entries))
	copy(out, d.entries)
	return out
}

// RegisterParser registers the exec resource parser ("exec cmdline")
// with p: each entry key is a hex-encoded combined hash, defaulting to
// the domain's current DefaultMode until a "mode" field overrides it.
func (d *Domain) RegisterParser(p *parser.Parser) error {
	return p.RegisterResource(parser.ResourceParser{
		Matches: func(groupID, resourceID string) bool {
			return groupID == "exec" && resourceID == "cmdline"
		},
		NewEntry: func(pp *parser.Parser, key string) (any, error) {
			raw, err := hex.DecodeString(key)
			if err != nil || len(raw) != sha256.Size {
				return nil, pp.ResourceError("entry key is not a combined hash")
			}
			entry := Entry{Mode: d.DefaultMode}
			copy(entry.Hash[:], raw)
			d.mu.Lock()
			d.entries = append(d.entries, entry)
			idx := len(d.entries) - 1
			d.mu.Unlock()
			return idx, nil
		},
		SetField: func(pp *parser.Parser, entryAny any, field string) error {
			if field != "mode" {
				return pp.ResourceError("unknown field")
			}
			action, err := pp.NextIdentifier()
			if err != nil {
				return err
			}
			var mode Mode
			switch action {
			case "accept":
				mode = Accept
			case "reject":
				mode = Reject
			case "prompt":
				mode = Prompt
			default:
				return pp.ResourceError("unknown mode action")
			}
			idx := entryAny.(int)
			d.mu.Lock()
			d.entries[idx].Mode = mode
			d.mu.Unlock()
			return nil
		},
	})
}

func modeActionName(m Mode) string {
	switch m {
	case Accept:
		return "accept"
	case Reject:
		return "reject"
	default:
		return "prompt"
	}
}

// Write serializes d as an "exec cmdline" GHPERM block. Every entry's
// mode is written with FieldArgIdent regardless of action, since the
// parser always expects an identifier token back; quoting any of them
// would break the parse-write-parse round trip.
func (d *Domain) Write(w *writer.Writer) error {
	if err := w.BeginResource("exec", "cmdline"); err != nil {
		return err
	}
	for _, e := range d.Entries() {
		if err := w.BeginEntry(hex.EncodeToString(e.Hash[:])); err != nil {
			return err
		}
		if err := w.Field("mode"); err != nil {
			return err
		}
		if err := w.FieldArgIdent(modeActionName(e.Mode)); err != nil {
			return err
		}
		if err := w.EndEntry(); err != nil {
			return err
		}
	}
	return w.EndResource()
}
