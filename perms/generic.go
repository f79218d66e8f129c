package perms

import (
	"ghostjail/errors"
	"ghostjail/perms/parser"
	"ghostjail/perms/writer"
)

// MaxGenericDomains is the aggregate's fixed generic-domain capacity.
const MaxGenericDomains = 16

// MaxGenericIDLen bounds a generic domain's identifier.
const MaxGenericIDLen = 256

// GenericDomain is the contract a user-supplied permission domain
// implements. The aggregate dispatches parser matches across generic
// domains first, then filesystem and exec; the writer iterates them in
// registration order after the built-in blocks.
type GenericDomain interface {
	// ID is the identifier the domain registers under; RPC handlers use it
	// to look the instance back up for custom gating.
	ID() string

	// Matches reports whether this domain claims the group/resource pair
	// of a policy block being parsed.
	Matches(groupID, resourceID string) bool

	// NewEntry begins a policy entry with the given key; the returned
	// value is threaded through SetField calls for that entry.
	NewEntry(p *parser.Parser, key string) (any, error)

	// SetField loads one field of an entry during parsing, consuming the
	// field's argument tokens from p.
	SetField(p *parser.Parser, entry any, field string) error

	// Write serializes the domain's whole state as one GHPERM resource
	// block.
	Write(w *writer.Writer) error
}

// registerGenericParsers hooks every generic domain into pp ahead of the
// built-in resource parsers.
func (p *Permissions) registerGenericParsers(pp *parser.Parser) error {
	for _, g := range p.generics {
		g := g
		err := pp.RegisterResource(parser.ResourceParser{
			Matches:  g.Matches,
			NewEntry: g.NewEntry,
			SetField: g.SetField,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// RegisterGeneric adds a user-supplied domain to the aggregate. It fails
// once MaxGenericDomains are registered, or if the identifier is empty,
// overlong, or already taken.
func (p *Permissions) RegisterGeneric(d GenericDomain) error {
	id := d.ID()
	if id == "" || len(id) > MaxGenericIDLen {
		return errors.ErrPermGenericIDTooLong
	}
	if len(p.generics) >= MaxGenericDomains {
		return errors.ErrPermGenericFull
	}
	for _, g := range p.generics {
		if g.ID() == id {
			return errors.New(errors.ErrPermGeneric, "perms.RegisterGeneric", "domain id already registered")
		}
	}
	p.generics = append(p.generics, d)
	return nil
}

// Generic returns the registered domain with the given identifier, for RPC
// handlers implementing custom gating.
func (p *Permissions) Generic(id string) (GenericDomain, bool) {
	for _, g := range p.generics {
		if g.ID() == id {
			return g, true
		}
	}
	return nil, false
}
