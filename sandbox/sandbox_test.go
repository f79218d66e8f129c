package sandbox

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestJailExecutableResolves(t *testing.T) {
	// In a test binary this resolves to the test executable itself; the
	// production host resolves to the ghostjail binary, which doubles as
	// the jail under the Arg0Jail name.
	path, err := JailExecutable()
	require.NoError(t, err)
	require.NotEmpty(t, path)
}

func TestArg0NamesAreDistinct(t *testing.T) {
	require.NotEqual(t, Arg0Jail, Arg0Subjail)
}
