// Package logging configures structured logging for the ghostjail process
// tree. The host, its jail children, and their subjail grandchildren all
// write to the same stderr, so every record emitted through this package is
// stamped with the process tier and pid that produced it; without the
// stamp, interleaved lockdown and script diagnostics from three processes
// are unattributable.
package logging

import (
	"io"
	"log/slog"
	"os"
	"sync/atomic"

	"ghostjail/result"
)

// Tier identifies which process of the ghostjail tree is logging.
type Tier string

const (
	TierHost    Tier = "host"
	TierJail    Tier = "jail"
	TierSubjail Tier = "subjail"
)

// Config holds the logger configuration.
type Config struct {
	// Level is the minimum level as text ("debug", "info", "warn",
	// "error"). Unparseable or empty means info.
	Level string
	// Format selects "json" output; anything else means text.
	Format string
	// Output defaults to stderr.
	Output io.Writer
}

// active is swapped atomically so the re-exec'd jail/subjail entry points
// can reconfigure without racing any goroutine already logging.
var active atomic.Pointer[slog.Logger]

func init() {
	active.Store(build(TierHost, Config{}))
}

func build(tier Tier, cfg Config) *slog.Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	if cfg.Format == "json" {
		h = slog.NewJSONHandler(out, opts)
	} else {
		h = slog.NewTextHandler(out, opts)
	}

	return slog.New(h).With(
		slog.String("proc", string(tier)),
		slog.Int("pid", os.Getpid()),
	)
}

// Setup installs the process-wide logger for the given tier. The host CLI
// calls it once from flag handling; the jail and subjail entry points call
// it again in their own processes, which is what makes the tier stamp
// trustworthy — each process stamps itself.
func Setup(tier Tier, cfg Config) {
	active.Store(build(tier, cfg))
}

// Default returns the process-wide logger.
func Default() *slog.Logger {
	return active.Load()
}

// Sandbox returns a logger scoped to one jail process.
func Sandbox(jailPID int) *slog.Logger {
	return Default().With(slog.Int("jail_pid", jailPID))
}

// Thread returns a logger scoped to one thread's safe id, the same
// identity permission prompts report, so log lines and prompts about the
// same script correlate.
func Thread(safeID string) *slog.Logger {
	return Default().With(slog.String("safe_id", safeID))
}

// Script returns a logger scoped to one running script.
func Script(logger *slog.Logger, scriptID string) *slog.Logger {
	return logger.With(slog.String("script_id", scriptID))
}

// WireResult renders a packed wire result code as a structured attr group,
// splitting out the payload the way its context defines it.
func WireResult(res result.Result) slog.Attr {
	attrs := []any{slog.String("context", res.Context().String())}
	if code, ok := res.ExitCode(); ok {
		attrs = append(attrs, slog.Int("exit_code", code))
	} else if sig, ok := res.SignalNo(); ok {
		attrs = append(attrs, slog.Int("signal", sig))
	} else if errno, ok := res.Errno(); ok && errno != 0 {
		attrs = append(attrs, slog.String("errno", errno.Error()))
	}
	return slog.Group("result", attrs...)
}
