package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"ghostjail/perms"
	"ghostjail/perms/pathfd"
	"ghostjail/perms/permfs"
	"ghostjail/perms/procfd"
)

var permsCmd = &cobra.Command{
	Use:   "perms",
	Short: "Inspect and check GHPERM policy files",
}

var permsShowCmd = &cobra.Command{
	Use:   "show <policy-file>",
	Short: "Parse a policy file and print its canonical form",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := perms.New(nil)
		if err != nil {
			return err
		}
		defer p.Close()

		if err := p.LoadFile(args[0]); err != nil {
			return err
		}
		return p.WriteTo(os.Stdout)
	},
}

var permsCheckCmd = &cobra.Command{
	Use:   "check <policy-file> <path> <flag>...",
	Short: "Evaluate a filesystem mode against a policy without prompting",
	Long: `Check resolves <path> the same way gating does (through /proc/self/fd)
and reports, per the mode action algorithm, whether the requested flags
would be accepted, rejected, or would require a prompt.`,
	Args: cobra.MinimumNArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := perms.New(nil)
		if err != nil {
			return err
		}
		defer p.Close()

		if err := p.LoadFile(args[0]); err != nil {
			return err
		}

		var mode permfs.Flags
		for _, name := range args[2:] {
			flag, ok := permfs.ParseFlag(strings.ToLower(name))
			if !ok {
				return fmt.Errorf("unknown mode flag %q", name)
			}
			mode |= flag
		}

		h, err := pathfd.Open(args[1], pathfd.Options{AllowMissing: true})
		if err != nil {
			return err
		}
		defer h.Close()

		canonical, err := procfd.Canonicalize(h)
		if err != nil {
			return err
		}

		self, _ := p.FS.GetMode(canonical)
		action := permfs.ActMode(self, mode)
		switch {
		case action.Allowed:
			fmt.Printf("%s: accept\n", canonical)
		case action.RejectedBits != 0:
			fmt.Printf("%s: reject\n", canonical)
		default:
			fmt.Printf("%s: prompt\n", canonical)
		}
		return nil
	},
}

func init() {
	permsCmd.AddCommand(permsShowCmd)
	permsCmd.AddCommand(permsCheckCmd)
	rootCmd.AddCommand(permsCmd)
}
