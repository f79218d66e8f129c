package writer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBeginEndResource(t *testing.T) {
	var buf strings.Builder
	w := New(&buf)
	require.NoError(t, w.BeginResource("filesystem", "node"))
	require.NoError(t, w.EndResource())
	require.Equal(t, "filesystem node {\n}\n", buf.String())
}

func TestEntryWithFieldsIndentsAndSeparates(t *testing.T) {
	var buf strings.Builder
	w := New(&buf)
	require.NoError(t, w.BeginResource("filesystem", "node"))
	require.NoError(t, w.BeginEntry("/tmp"))
	require.NoError(t, w.Field("self"))
	require.NoError(t, w.FieldArgIdent("accept"))
	require.NoError(t, w.FieldArgString("read"))
	require.NoError(t, w.FieldArgString("createdir"))
	require.NoError(t, w.Field("self"))
	require.NoError(t, w.FieldArgIdent("reject"))
	require.NoError(t, w.FieldArgString("write"))
	require.NoError(t, w.EndEntry())
	require.NoError(t, w.EndResource())

	got := buf.String()
	require.Contains(t, got, `"/tmp" {`)
	require.Contains(t, got, `self accept "read" "createdir"`)
	require.Contains(t, got, `self reject "write"`)
	require.True(t, strings.HasSuffix(got, "}\n}\n"))
}

func TestEscapeString(t *testing.T) {
	require.Equal(t, `a\\b\"c\nd\te`, EscapeString("a\\b\"c\nd\te"))
}
