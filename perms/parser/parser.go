// Package parser implements the GHPERM recursive-descent tokenizer and
// parser: a lazy, one-token-peek tokenizer over either an in-memory buffer
// or an mmap'd file, driving pluggable resource parsers (filesystem, exec,
// generic) registered by group/resource identifier.
package parser

import (
	"fmt"

	"golang.org/x/sys/unix"

	"ghostjail/errors"
)

// MaxResourceParsers bounds how many resource parsers a Parser can hold.
const MaxResourceParsers = 128

// TokenType enumerates the GHPERM lexical token kinds.
type TokenType int

const (
	Identifier TokenType = iota
	String
	LBrace
	RBrace
	EOF
)

// Loc is a (row, column) source location. Rows are 1-based; columns are
// 1-based except that a newline is considered to be in column 0 of the
// next line.
type Loc struct {
	Row    int
	Column int
}

func (l Loc) String() string {
	return fmt.Sprintf("%d:%d", l.Row, l.Column)
}

// Token is one lexed GHPERM token.
type Token struct {
	Type  TokenType
	Value string
	Loc   Loc
}

// ParseError carries the location of the token that caused a parse
// failure (or of the last token read before it) and an optional detail
// string.
type ParseError struct {
	Loc    Loc
	Detail string
	err    *errors.GhostError
}

func (e *ParseError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s at %s: %s", e.err.Error(), e.Loc, e.Detail)
	}
	return fmt.Sprintf("%s at %s", e.err.Error(), e.Loc)
}

func (e *ParseError) Unwrap() error { return e.err }

// MatchesFunc decides whether a resource parser handles the named
// group/resource pair.
type MatchesFunc func(groupID, resourceID string) bool

// NewEntryFunc is called once per entry with its string key; the
// returned value is threaded through to SetFieldFunc calls for that
// entry.
type NewEntryFunc func(p *Parser, key string) (any, error)

// SetFieldFunc is called once per field inside an entry; it must itself
// consume whatever argument tokens the field requires.
type SetFieldFunc func(p *Parser, entry any, field string) error

// ResourceParser is the three-callback contract a permission domain
// registers to claim a group/resource pair during parsing.
type ResourceParser struct {
	Matches  MatchesFunc
	NewEntry NewEntryFunc
	SetField SetFieldFunc
}

// Parser is a GHPERM tokenizer/parser instance.
type Parser struct {
	data    []byte
	mmapped bool

	idx int
	loc Loc

	peek    *Token
	parsers []ResourceParser
}

// NewFromBytes constructs a parser over an in-memory buffer, starting at
// row 1, column 1.
func NewFromBytes(buf []byte) *Parser {
	p := &Parser{data: buf, loc: Loc{Row: 1, Column: 1}}
	p.skipWhitespace()
	return p
}

// NewFromFile constructs a parser by mmapping the whole contents of fd
// read-only, starting at row 1, column 0 — one column short of
// NewFromBytes's starting column. The discrepancy only affects columns
// reported on the first line; see SPEC_FULL.md.
func NewFromFile(fd int) (*Parser, error) {
	size, err := unix.Seek(fd, 0, unix.SEEK_END)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrParser, "parser.NewFromFile").WithDetail("seek failed")
	}
	if size == 0 {
		return &Parser{data: nil, mmapped: false, loc: Loc{Row: 1, Column: 0}}, nil
	}
	data, err := unix.Mmap(fd, 0, int(size), unix.PROT_READ, unix.MAP_PRIVATE)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrParser, "parser.NewFromFile").WithDetail("mmap failed")
	}
	unix.Madvise(data, unix.MADV_SEQUENTIAL)
	p := &Parser{data: data, mmapped: true, loc: Loc{Row: 1, Column: 0}}
	p.skipWhitespace()
	return p, nil
}

// Close releases the mmap backing a file-constructed parser. It is a
// no-op for buffer-constructed parsers.
func (p *Parser) Close() error {
	if !p.mmapped || p.data == nil {
		return nil
	}
	if err := unix.Munmap(p.data); err != nil {
		return errors.Wrap(err, errors.ErrParser, "parser.Close").WithDetail("munmap failed")
	}
	return nil
}

func (p *Parser) newError(loc Loc, kind *errors.GhostError, detail string) *ParseError {
	return &ParseError{Loc: loc, Detail: detail, err: kind}
}

func (p *Parser) curChar() byte {
	if p.idx >= len(p.data) {
		return 0
	}
	return p.data[p.idx]
}

// advance moves past the current character and returns the new current
// character, transparently skipping any "#...\n" comment run so the
// caller never observes a literal '#'.
func (p *Parser) advance() byte {
	if p.idx >= len(p.data) {
		return 0
	}
	p.idx++
	p.loc.Column++

	c := p.curChar()
	if c == '\n' {
		p.loc.Row++
		p.loc.Column = 0
	}

	if c == '#' {
		for c != '\n' && c != 0 {
			c = p.advance()
		}
		return p.advance()
	}

	return c
}

func isWhitespace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

func isAlphanumeric(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c == '_'
}

func (p *Parser) skipWhitespace() {
	c := p.curChar()
	for isWhitespace(c) || c == '#' {
		if c == '#' {
			// A comment the cursor starts on (rather than advances into),
			// e.g. one on the first line of the input.
			for c != '\n' && c != 0 {
				c = p.advance()
			}
			continue
		}
		c = p.advance()
	}
}

func (p *Parser) readIdentifier() Token {
	startLoc := p.loc
	c := p.curChar()
	var buf []byte
	for isAlphanumeric(c) {
		buf = append(buf, c)
		c = p.advance()
	}
	return Token{Type: Identifier, Value: string(buf), Loc: startLoc}
}

// readString reads a double-quoted token, supporting \\ and \" escapes
// plus \n and \t. Each backslash toggles escaping for exactly the
// following character, so the documented escapes round-trip through the
// writer.
func (p *Parser) readString() (Token, *ParseError) {
	startLoc := p.loc
	c := p.advance() // skip opening quote

	var buf []byte
	escape := false
	for c != 0 {
		if escape {
			switch c {
			case 'n':
				buf = append(buf, '\n')
			case 't':
				buf = append(buf, '\t')
			default:
				buf = append(buf, c)
			}
			escape = false
		} else if c == '\\' {
			escape = true
		} else if c == '"' {
			break
		} else {
			buf = append(buf, c)
		}
		c = p.advance()
	}

	if c == 0 {
		return Token{}, p.newError(p.loc, errors.ErrParserUnterminatedString, "")
	}
	p.advance() // skip closing quote

	return Token{Type: String, Value: string(buf), Loc: startLoc}, nil
}

// NextToken consumes and returns the next token, draining a pending Peek
// result first if there is one.
func (p *Parser) NextToken() (Token, *ParseError) {
	if p.peek != nil {
		t := *p.peek
		p.peek = nil
		return t, nil
	}

	c := p.curChar()
	var tok Token
	var perr *ParseError

	switch {
	case p.idx >= len(p.data):
		tok = Token{Type: EOF, Loc: p.loc}
	case c == '{':
		loc := p.loc
		p.advance()
		tok = Token{Type: LBrace, Value: "{", Loc: loc}
	case c == '}':
		loc := p.loc
		p.advance()
		tok = Token{Type: RBrace, Value: "}", Loc: loc}
	case c == '"':
		tok, perr = p.readString()
	case isAlphanumeric(c):
		tok = p.readIdentifier()
	default:
		perr = p.newError(p.loc, errors.ErrParserUnexpectedToken, "")
	}

	if perr != nil {
		return Token{}, perr
	}
	p.skipWhitespace()
	return tok, nil
}

// PeekToken returns the next token without consuming it; repeated calls
// return the same token until NextToken is called.
func (p *Parser) PeekToken() (Token, *ParseError) {
	if p.peek == nil {
		t, err := p.NextToken()
		if err != nil {
			return Token{}, err
		}
		p.peek = &t
	}
	return *p.peek, nil
}

// RegisterResource adds a resource parser, consulted in registration
// order when a group/resource header is encountered.
func (p *Parser) RegisterResource(rp ResourceParser) error {
	if len(p.parsers) >= MaxResourceParsers {
		return errors.New(errors.ErrParser, "parser.RegisterResource", "resource parser limit reached")
	}
	p.parsers = append(p.parsers, rp)
	return nil
}

func (p *Parser) findResourceParser(groupID, resourceID string) (*ResourceParser, *ParseError) {
	for i := range p.parsers {
		if p.parsers[i].Matches(groupID, resourceID) {
			return &p.parsers[i], nil
		}
	}
	return nil, p.newError(p.loc, errors.ErrParserUnknownResource, fmt.Sprintf("%s %s", groupID, resourceID))
}

func (p *Parser) expect(tt TokenType, kind *errors.GhostError) (Token, *ParseError) {
	tok, err := p.NextToken()
	if err != nil {
		return Token{}, err
	}
	if tok.Type != tt {
		return Token{}, p.newError(tok.Loc, kind, "")
	}
	return tok, nil
}

func (p *Parser) parseNextResource() (eof bool, perr *ParseError) {
	tok, err := p.NextToken()
	if err != nil {
		return false, err
	}
	if tok.Type == EOF {
		return true, nil
	}
	if tok.Type != Identifier {
		return false, p.newError(tok.Loc, errors.New(errors.ErrParser, "parser.parseNextResource", "expected group identifier"), "")
	}
	groupID := tok.Value

	tok, err = p.NextToken()
	if err != nil {
		return false, err
	}
	if tok.Type != Identifier {
		return false, p.newError(tok.Loc, errors.New(errors.ErrParser, "parser.parseNextResource", "expected resource identifier"), "")
	}
	resourceID := tok.Value

	if _, err := p.expect(LBrace, errors.New(errors.ErrParser, "parser.parseNextResource", "expected '{' after resource header")); err != nil {
		return false, err
	}

	rp, err := p.findResourceParser(groupID, resourceID)
	if err != nil {
		return false, err
	}

	for {
		peeked, err := p.PeekToken()
		if err != nil {
			return false, err
		}
		if peeked.Type == RBrace {
			break
		}

		tok, err = p.NextToken()
		if err != nil {
			return false, err
		}
		if tok.Type != String {
			return false, p.newError(tok.Loc, errors.New(errors.ErrParser, "parser.parseNextResource", "expected entry key string"), "")
		}

		entry, nerr := rp.NewEntry(p, tok.Value)
		if nerr != nil {
			return false, p.wrapCallbackError(nerr, tok.Loc)
		}

		if _, err := p.expect(LBrace, errors.New(errors.ErrParser, "parser.parseNextResource", "expected '{' to begin entry")); err != nil {
			return false, err
		}

		tok, err = p.NextToken()
		if err != nil {
			return false, err
		}
		for tok.Type != RBrace && tok.Type != EOF {
			if tok.Type != Identifier {
				return false, p.newError(tok.Loc, errors.New(errors.ErrParser, "parser.parseNextResource", "expected field name"), "")
			}
			field := tok.Value

			if serr := rp.SetField(p, entry, field); serr != nil {
				return false, p.wrapCallbackError(serr, tok.Loc)
			}

			tok, err = p.NextToken()
			if err != nil {
				return false, err
			}
		}

		if tok.Type != RBrace {
			return false, p.newError(tok.Loc, errors.New(errors.ErrParser, "parser.parseNextResource", "expected '}' to end entry"), "")
		}
	}

	if _, err := p.expect(RBrace, errors.New(errors.ErrParser, "parser.parseNextResource", "expected '}' to end resource")); err != nil {
		return false, err
	}

	return false, nil
}

func (p *Parser) wrapCallbackError(err error, loc Loc) *ParseError {
	if pe, ok := err.(*ParseError); ok {
		return pe
	}
	return p.newError(loc, errors.Wrap(err, errors.ErrParser, "parser.callback"), "")
}

// Parse consumes the whole input, invoking the registered resource
// parsers for each declared resource block.
func (p *Parser) Parse() error {
	for {
		eof, err := p.parseNextResource()
		if err != nil {
			return err
		}
		if eof {
			return nil
		}
	}
}

// NextIdentifier reads the next token, failing unless it's an
// Identifier.
func (p *Parser) NextIdentifier() (string, *ParseError) {
	tok, err := p.PeekToken()
	if err != nil {
		return "", err
	}
	if tok.Type != Identifier {
		return "", p.newError(tok.Loc, errors.New(errors.ErrParser, "parser.NextIdentifier", "expected identifier"), "")
	}
	if _, err := p.NextToken(); err != nil {
		return "", err
	}
	return tok.Value, nil
}

// NextString reads the next token, failing unless it's a String.
func (p *Parser) NextString() (string, *ParseError) {
	tok, err := p.PeekToken()
	if err != nil {
		return "", err
	}
	if tok.Type != String {
		return "", p.newError(tok.Loc, errors.New(errors.ErrParser, "parser.NextString", "expected string"), "")
	}
	if _, err := p.NextToken(); err != nil {
		return "", err
	}
	return tok.Value, nil
}

// ResourceError builds a ParseError at the parser's current location
// carrying detail, for resource parsers (filesystem/exec/generic) to
// return from SetField/NewEntry callbacks when a field's value is
// invalid.
func (p *Parser) ResourceError(detail string) *ParseError {
	return p.newError(p.loc, errors.New(errors.ErrParser, "parser.ResourceError", detail), detail)
}
