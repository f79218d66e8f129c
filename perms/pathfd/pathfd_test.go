package pathfd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOpenExisting(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "exists")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	h, err := Open(file, Options{})
	require.NoError(t, err)
	defer h.Close()
	require.True(t, h.Exists())
	require.Empty(t, h.Trailing)
}

func TestOpenMissingFailsWithoutAllowMissing(t *testing.T) {
	dir := t.TempDir()
	_, err := Open(filepath.Join(dir, "nope"), Options{})
	require.Error(t, err)
}

func TestOpenAllowMissingFallsBackToTrailing(t *testing.T) {
	dir := t.TempDir()
	h, err := Open(filepath.Join(dir, "new-file"), Options{AllowMissing: true})
	require.NoError(t, err)
	defer h.Close()
	require.False(t, h.Exists())
	require.Equal(t, "new-file", h.Trailing)
}

func TestOpenTrailingRejectsDotNames(t *testing.T) {
	dir := t.TempDir()
	for _, bad := range []string{".", ".."} {
		// Not filepath.Join: it would clean the dot name away.
		_, err := OpenTrailing(dir + "/" + bad)
		require.Error(t, err, bad)
	}
}

func TestRejectedNames(t *testing.T) {
	require.True(t, rejected("."))
	require.True(t, rejected(".."))
	require.True(t, rejected("/"))
	require.False(t, rejected("file.txt"))
}
