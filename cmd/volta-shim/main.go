// Command volta-shim is the single dispatcher binary every shim link in
// bin/ points at (spec.md §4.H): it inspects its own invocation name to
// decide which tool it stands in for, then hands off to internal/executor.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/volta-toolchain/volta/internal/errs"
	"github.com/volta-toolchain/volta/internal/executor"
	"github.com/volta-toolchain/volta/internal/layout"
	"github.com/volta-toolchain/volta/internal/session"
	"github.com/volta-toolchain/volta/internal/voltalog"
)

func main() {
	os.Exit(run())
}

// run implements spec.md §4.H end to end. Step 1 (bypass) is checked
// before anything else touches the filesystem beyond resolving the home
// root itself, per spec.md §9's "no non-essential I/O before exec".
func run() int {
	binName := filepath.Base(os.Args[0])

	l, err := layout.New()
	if err != nil {
		fmt.Fprintln(os.Stderr, "volta-shim:", err)
		return 1
	}

	if os.Getenv(executor.EnvBypass) != "" {
		if err := executor.Bypass(binName, os.Args, os.Environ(), l.Home()); err != nil {
			return report(err)
		}
		// Bypass execs in place on success; reaching here means runExec
		// itself returned without replacing the process.
		return 0
	}

	voltalog.Setup(false)

	cwd, err := os.Getwd()
	if err != nil {
		fmt.Fprintln(os.Stderr, "volta-shim:", err)
		return 1
	}

	sess := session.New(l, cwd)
	defer func() { _ = sess.Close() }()

	req := executor.Request{BinName: binName, Argv: os.Args, Dir: cwd}
	code, err := executor.Execute(context.Background(), sess, req)
	if err != nil {
		return report(err)
	}
	return code
}

func report(err error) int {
	fmt.Fprintln(os.Stderr, voltalog.Tone(errs.ToneError, "volta: "+err.Error()))
	return errs.ExitCode(err)
}
