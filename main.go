// ghostjail is a sandboxed script host: it embeds an untrusted scripting
// language behind a seccomp'd process boundary, with every privileged
// operation gated by a persisted, user-mediated permission policy.
//
// The same binary serves three roles, selected by argv[0]: the host CLI,
// the jail child (re-exec'd by the sandbox controller), and the subjail
// grandchild (re-exec'd by the jail). The jail and subjail names are never
// typed by a user; they exist only on the re-exec path.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"ghostjail/cmd"
	"ghostjail/jail"
	"ghostjail/sandbox"
	"ghostjail/subjail"
)

func main() {
	switch filepath.Base(os.Args[0]) {
	case sandbox.Arg0Jail:
		if err := jail.Main(os.Args); err != nil {
			fmt.Fprintf(os.Stderr, "ghost-jail: %v\n", err)
			os.Exit(1)
		}
		return

	case sandbox.Arg0Subjail:
		if err := subjail.Main(os.Args); err != nil {
			fmt.Fprintf(os.Stderr, "ghost-subjail: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "ghostjail: %v\n", err)
		os.Exit(1)
	}
}
