package parser

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTokenizeIdentifiersBracesAndStrings(t *testing.T) {
	p := NewFromBytes([]byte(`filesystem node { "/tmp" { self accept "read" } }`))

	expect := []struct {
		typ TokenType
		val string
	}{
		{Identifier, "filesystem"},
		{Identifier, "node"},
		{LBrace, "{"},
		{String, "/tmp"},
		{LBrace, "{"},
		{Identifier, "self"},
		{Identifier, "accept"},
		{String, "read"},
		{RBrace, "}"},
		{RBrace, "}"},
		{EOF, ""},
	}

	for _, e := range expect {
		tok, err := p.NextToken()
		require.Nil(t, err)
		require.Equal(t, e.typ, tok.Type)
		if e.typ != EOF {
			require.Equal(t, e.val, tok.Value)
		}
	}
}

func TestCommentsAreSkipped(t *testing.T) {
	p := NewFromBytes([]byte("# a comment\nfoo # trailing\nbar"))
	tok, err := p.NextToken()
	require.Nil(t, err)
	require.Equal(t, Identifier, tok.Type)
	require.Equal(t, "foo", tok.Value)

	tok, err = p.NextToken()
	require.Nil(t, err)
	require.Equal(t, "bar", tok.Value)
}

func TestStringEscapes(t *testing.T) {
	p := NewFromBytes([]byte(`"a\\b\"c\nd\te"`))
	tok, err := p.NextToken()
	require.Nil(t, err)
	require.Equal(t, String, tok.Type)
	require.Equal(t, "a\\b\"c\nd\te", tok.Value)
}

func TestUnterminatedStringIsError(t *testing.T) {
	p := NewFromBytes([]byte(`"unterminated`))
	_, err := p.NextToken()
	require.NotNil(t, err)
}

func TestPeekTokenDoesNotConsume(t *testing.T) {
	p := NewFromBytes([]byte(`foo bar`))
	peeked, err := p.PeekToken()
	require.Nil(t, err)
	require.Equal(t, "foo", peeked.Value)

	again, err := p.PeekToken()
	require.Nil(t, err)
	require.Equal(t, "foo", again.Value)

	next, err := p.NextToken()
	require.Nil(t, err)
	require.Equal(t, "foo", next.Value)

	next, err = p.NextToken()
	require.Nil(t, err)
	require.Equal(t, "bar", next.Value)
}

func TestBufferConstructorStartsAtColumnOne(t *testing.T) {
	p := NewFromBytes([]byte(`x`))
	require.Equal(t, Loc{Row: 1, Column: 1}, p.loc)
}

type fakeEntry struct {
	key    string
	fields map[string]string
}

func TestParseDrivesResourceParser(t *testing.T) {
	p := NewFromBytes([]byte(`filesystem node { "/tmp" { self accept "read" } }`))

	var entries []*fakeEntry
	require.NoError(t, p.RegisterResource(ResourceParser{
		Matches: func(groupID, resourceID string) bool {
			return groupID == "filesystem" && resourceID == "node"
		},
		NewEntry: func(p *Parser, key string) (any, error) {
			e := &fakeEntry{key: key, fields: map[string]string{}}
			entries = append(entries, e)
			return e, nil
		},
		SetField: func(p *Parser, entryAny any, field string) error {
			e := entryAny.(*fakeEntry)
			arg, err := p.NextIdentifier()
			if err != nil {
				return err
			}
			val, err := p.NextString()
			if err != nil {
				return err
			}
			e.fields[field] = arg + ":" + val
			return nil
		},
	}))

	require.NoError(t, p.Parse())
	require.Len(t, entries, 1)
	require.Equal(t, "/tmp", entries[0].key)
	require.Equal(t, "accept:read", entries[0].fields["self"])
}

func TestParseUnknownResourceFails(t *testing.T) {
	p := NewFromBytes([]byte(`unknown thing { "x" { } }`))
	err := p.Parse()
	require.NotNil(t, err)
}
