package main

import (
	"fmt"
	"os"

	"github.com/volta-toolchain/volta/internal/layout"
	"github.com/volta-toolchain/volta/internal/platform"
	"github.com/volta-toolchain/volta/internal/session"
)

// homeOverride backs the persistent --home flag; empty means the
// VOLTA_HOME env var (or ~/.volta) as usual.
var homeOverride string

func newLayout() (*layout.Layout, error) {
	if homeOverride == "" {
		return layout.New()
	}
	expanded, err := layout.Expand(homeOverride)
	if err != nil {
		return nil, err
	}
	return layout.NewAt(expanded), nil
}

// newSession builds a Layout/Session pair rooted at the process's working
// directory, ensuring the home tree exists first (every subcommand but
// `run`/the shim itself may be a brand-new user's first invocation).
func newSession() (*session.Session, error) {
	l, err := newLayout()
	if err != nil {
		return nil, err
	}
	if err := l.EnsureTree(); err != nil {
		return nil, fmt.Errorf("failed to initialize %s: %w", l.Home(), err)
	}
	cwd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	return session.New(l, cwd), nil
}

// parseKind maps a CLI-facing tool kind name to its ToolKind. "node" and
// "runtime" are both accepted for the runtime kind, matching spec.md's own
// `volta fetch runtime 3.4.5` example.
func parseKind(s string) (platform.ToolKind, error) {
	switch s {
	case "runtime", "node":
		return platform.KindRuntime, nil
	case "npm":
		return platform.KindNpm, nil
	case "pnpm":
		return platform.KindPnpm, nil
	case "yarn":
		return platform.KindYarn, nil
	default:
		return 0, fmt.Errorf("unknown tool kind %q (want one of: runtime, npm, pnpm, yarn)", s)
	}
}
