package sandbox

import (
	"os"

	"ghostjail/errors"
)

// Arg0Jail is the argv[0] the controller gives a jail child; main()
// dispatches on it before cobra ever sees the command line, the same
// re-exec pattern the host uses for subjails.
const Arg0Jail = "ghost-jail"

// Arg0Subjail is the argv[0] a jail gives its subjail children.
const Arg0Subjail = "ghost-subjail"

// JailExecutable resolves the executable that provides the jail entry
// point: the host binary itself, re-exec'd under the Arg0Jail name. It is
// unavailable when the host binary's own path cannot be resolved.
func JailExecutable() (string, error) {
	self, err := os.Executable()
	if err != nil {
		return "", errors.ErrEmbeddedJailNotProvided
	}
	return self, nil
}
