package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/volta-toolchain/volta/internal/executor"
	"github.com/volta-toolchain/volta/internal/platform"
	"github.com/volta-toolchain/volta/internal/semverx"
)

var runOverride struct {
	node string
	npm  string
	pnpm string
	yarn string
}

var runCmd = &cobra.Command{
	Use:   "run --node <version> -- <bin> [args...]",
	Short: "Run a binary under an explicit per-invocation platform override",
	Long: `Run behaves like invoking <bin> through its shim, except the
platform override (--node/--npm/--pnpm/--yarn) outranks every other
source for this one invocation, the same precedence a package
binary-origin pin or a project manifest would otherwise occupy.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVar(&runOverride.node, "node", "", "Override the runtime version for this invocation")
	runCmd.Flags().StringVar(&runOverride.npm, "npm", "", "Override the npm version for this invocation")
	runCmd.Flags().StringVar(&runOverride.pnpm, "pnpm", "", "Override the pnpm version for this invocation")
	runCmd.Flags().StringVar(&runOverride.yarn, "yarn", "", "Override the yarn version for this invocation")
}

func runRun(_ *cobra.Command, args []string) error {
	binName, rest := args[0], args[1:]

	sess, err := newSession()
	if err != nil {
		return err
	}
	defer func() { _ = sess.Close() }()

	override, err := buildOverrideImage()
	if err != nil {
		return err
	}

	cwd, err := os.Getwd()
	if err != nil {
		return err
	}

	req := executor.Request{
		BinName:  binName,
		Argv:     append([]string{binName}, rest...),
		Dir:      cwd,
		Override: override,
	}
	code, err := executor.Execute(context.Background(), sess, req)
	if err != nil {
		return err
	}
	_ = sess.Close()
	os.Exit(code)
	return nil
}

// buildOverrideImage turns whichever --node/--npm/--pnpm/--yarn flags
// were set into a command-line-sourced Image, or nil if none were.
func buildOverrideImage() (*platform.Image, error) {
	if runOverride.node == "" && runOverride.npm == "" && runOverride.pnpm == "" && runOverride.yarn == "" {
		return nil, nil
	}

	var img platform.Image
	for _, f := range []struct {
		raw    string
		assign func(semverx.Version)
	}{
		{runOverride.node, func(v semverx.Version) {
			img.Runtime = platform.Sourced[semverx.Version]{Value: v, Origin: platform.SourceCommandLine}
		}},
		{runOverride.npm, func(v semverx.Version) {
			img.Npm = &platform.Sourced[semverx.Version]{Value: v, Origin: platform.SourceCommandLine}
		}},
		{runOverride.pnpm, func(v semverx.Version) {
			img.Pnpm = &platform.Sourced[semverx.Version]{Value: v, Origin: platform.SourceCommandLine}
		}},
		{runOverride.yarn, func(v semverx.Version) {
			img.Yarn = &platform.Sourced[semverx.Version]{Value: v, Origin: platform.SourceCommandLine}
		}},
	} {
		if f.raw == "" {
			continue
		}
		v, err := semverx.ParseVersion(f.raw)
		if err != nil {
			return nil, err
		}
		f.assign(v)
	}
	return &img, nil
}
