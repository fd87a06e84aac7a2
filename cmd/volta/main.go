// Command volta is the user-facing CLI: fetch, install, pin, list,
// which, setup, and run against the per-user toolchain store that
// cmd/volta-shim's dispatched invocations consume.
package main

import (
	"fmt"
	"os"

	"github.com/volta-toolchain/volta/internal/errs"
	"github.com/volta-toolchain/volta/internal/voltalog"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, voltalog.Tone(errs.ToneError, "volta: "+err.Error()))
		os.Exit(errs.ExitCode(err))
	}
}
