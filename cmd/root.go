// Package cmd implements the CLI commands for ghostjail.
package cmd

import (
	"github.com/spf13/cobra"

	"ghostjail/logging"
)

// Version information set at build time.
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
)

// Global flags.
var (
	globalLogLevel  string
	globalLogFormat string
	globalDebug     bool
)

// rootCmd is the base command for ghostjail.
var rootCmd = &cobra.Command{
	Use:   "ghostjail",
	Short: "Sandboxed script host",
	Long: `ghostjail embeds an untrusted scripting language behind a seccomp'd
process boundary. Scripts run in per-script subjail processes supervised by
a jail child; every privileged operation a script attempts is gated by a
persisted, user-mediated permission policy.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		setupLogging()
		return nil
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func setupLogging() {
	level := globalLogLevel
	if globalDebug {
		level = "debug"
	}
	logging.Setup(logging.TierHost, logging.Config{
		Level:  level,
		Format: globalLogFormat,
	})
}

func init() {
	rootCmd.PersistentFlags().StringVar(&globalLogLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&globalLogFormat, "log-format", "text", "log format (text or json)")
	rootCmd.PersistentFlags().BoolVar(&globalDebug, "debug", false, "enable debug logging")
}
