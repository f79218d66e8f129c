package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"ghostjail/logging"
	"ghostjail/options"
	"ghostjail/perms/prompt"
	"ghostjail/rpc"
	"ghostjail/sandbox"
	"ghostjail/thread"
)

var (
	runPermsPath   string
	runName        string
	runMemoryLimit uint64
	runFrameLimit  uint64
	runTimeout     time.Duration
	runAutoReject  bool
)

var runCmd = &cobra.Command{
	Use:   "run <script-file>",
	Short: "Run a script in a fresh sandbox",
	Long: `Run spawns a sandbox (jail + one subjail), executes the script file in
the subjail, and tears everything down. Permission prompts are answered on
the controlling terminal unless --auto-reject is set; decisions marked
"remember" are persisted back to the policy file given with --perms.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runScript(args[0])
	},
}

func runScript(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	reg := rpc.NewRegistry()
	sb, err := sandbox.New(options.Sandbox{
		Name:                   runName,
		MemoryLimit:            runMemoryLimit,
		FunctionCallFrameLimit: runFrameLimit,
	}, reg)
	if err != nil {
		return err
	}
	defer func() {
		if res := sb.Quit(); res.IsErr() {
			logging.Default().Warn("sandbox quit", logging.WireResult(res))
		}
	}()

	var prompter prompt.Prompter
	if runAutoReject {
		prompter = prompt.AutoReject{}
	} else {
		prompter = prompt.NewTerminal(os.Stdin, os.Stdout)
	}

	th, err := thread.New(sb, thread.Options{
		Name:        filepath.Base(path),
		SafeID:      path,
		Prompter:    prompter,
		RecvTimeout: runTimeout,
	})
	if err != nil {
		return err
	}

	if runPermsPath != "" {
		if err := th.Perms().LoadFile(runPermsPath); err != nil {
			th.Quit()
			return err
		}
	}

	note, err := th.RunFileSync(f, filepath.Base(path))
	if err != nil {
		th.Quit()
		return err
	}

	if runPermsPath != "" {
		if err := th.Perms().SaveFile(runPermsPath); err != nil {
			logging.Default().Warn("failed to persist policy", "path", runPermsPath, "err", err)
		}
	}
	if res := th.Quit(); res.IsErr() {
		logging.Default().Warn("thread quit", logging.WireResult(res))
	}

	if note.Result.IsErr() {
		return fmt.Errorf("script failed: %s: %s", note.Result.Error(), note.ErrorMessage)
	}
	return nil
}

func init() {
	runCmd.Flags().StringVar(&runPermsPath, "perms", "", "GHPERM policy file to load and persist")
	runCmd.Flags().StringVar(&runName, "name", "ghostjail", "sandbox name")
	runCmd.Flags().Uint64Var(&runMemoryLimit, "memory-limit", 0, "RLIMIT_DATA for jail and subjails, in bytes (0 = unlimited)")
	runCmd.Flags().Uint64Var(&runFrameLimit, "frame-limit", 1<<20, "maximum RPC call frame size in bytes (0 = unlimited)")
	runCmd.Flags().DurationVar(&runTimeout, "timeout", 0, "IPC receive timeout (0 = block forever)")
	runCmd.Flags().BoolVar(&runAutoReject, "auto-reject", false, "answer every permission prompt with reject")
	rootCmd.AddCommand(runCmd)
}
