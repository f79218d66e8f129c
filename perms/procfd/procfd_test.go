package procfd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"ghostjail/perms/pathfd"
)

func TestCanonicalizeExistingFile(t *testing.T) {
	dir := t.TempDir()
	real, err := filepath.EvalSymlinks(dir)
	require.NoError(t, err)
	file := filepath.Join(real, "thing")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	h, err := pathfd.Open(file, pathfd.Options{})
	require.NoError(t, err)
	defer h.Close()

	got, err := Canonicalize(h)
	require.NoError(t, err)
	require.Equal(t, file, got)
}

func TestCanonicalizeTrailingName(t *testing.T) {
	dir := t.TempDir()
	real, err := filepath.EvalSymlinks(dir)
	require.NoError(t, err)

	h, err := pathfd.Open(filepath.Join(real, "missing"), pathfd.Options{AllowMissing: true})
	require.NoError(t, err)
	defer h.Close()

	got, err := Canonicalize(h)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(real, "missing"), got)
}

func TestReopenWithTrailingName(t *testing.T) {
	dir := t.TempDir()
	h, err := pathfd.OpenTrailing(filepath.Join(dir, "created"))
	require.NoError(t, err)
	defer h.Close()

	fd, err := Reopen(h, os.O_WRONLY|os.O_CREATE, 0o644)
	require.NoError(t, err)
	defer os.NewFile(uintptr(fd), "").Close()

	_, statErr := os.Stat(filepath.Join(dir, "created"))
	require.NoError(t, statErr)
}
