// Package voltalog sets up the process-wide slog logger from
// VOLTA_LOGLEVEL, TTY-detecting the default level the way
// cmd/tomei/root.go's --log-level flag and internal/ui's isatty check do.
package voltalog

import (
	"log/slog"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"

	"github.com/volta-toolchain/volta/internal/errs"
)

const envLogLevel = "VOLTA_LOGLEVEL"

// ParseLevel maps a VOLTA_LOGLEVEL value onto an slog.Level. Unknown
// values fall back to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "error":
		return slog.LevelError
	case "warn", "warning":
		return slog.LevelWarn
	case "info":
		return slog.LevelInfo
	case "debug":
		return slog.LevelDebug
	case "trace":
		// slog has no Trace level; map it one notch (4) below Debug,
		// to -8, so debug records and anything logged at -8 both surface.
		return slog.LevelDebug - 4
	default:
		return slog.LevelInfo
	}
}

// DefaultLevel is info on a TTY, error otherwise, per spec.md §6.
func DefaultLevel() slog.Level {
	if isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd()) {
		return slog.LevelInfo
	}
	return slog.LevelError
}

// Setup installs the process-wide slog logger. Level resolution order:
// VOLTA_LOGLEVEL env var, else DefaultLevel(). Colorized tone (used by
// callers formatting errs.Error values) is disabled automatically when
// stderr isn't a TTY or NO_COLOR is set, matching tomei's --no-color
// convention in cmd/tomei/root.go's loadConfig.
func Setup(noColor bool) *slog.Logger {
	level := DefaultLevel()
	if s := os.Getenv(envLogLevel); s != "" {
		level = ParseLevel(s)
	}

	if noColor || os.Getenv("NO_COLOR") != "" || !(isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd())) {
		color.NoColor = true
	}

	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// Tone colors a message by errs.Tone for CLI presentation: red for
// terminating errors, yellow for warnings that let the invocation
// progress, plain for info/debug (those are gated by level, not color).
func Tone(tone errs.Tone, msg string) string {
	switch tone {
	case errs.ToneError:
		return color.New(color.FgRed, color.Bold).Sprint(msg)
	case errs.ToneWarning:
		return color.New(color.FgYellow).Sprint(msg)
	default:
		return msg
	}
}
