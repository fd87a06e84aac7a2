package main

import (
	"github.com/spf13/cobra"

	"github.com/volta-toolchain/volta/internal/voltalog"
)

var noColor bool

var rootCmd = &cobra.Command{
	Use:   "volta",
	Short: "Per-user JavaScript toolchain manager",
	Long: `Volta manages a JavaScript runtime and its package managers per
project: invocations of node, npm, pnpm, yarn, or any binary installed by
a third-party package automatically run the versions a project pins, with
no explicit activation.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		voltalog.Setup(noColor)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&homeOverride, "home", "", "Override the Volta home root (default: $VOLTA_HOME or ~/.volta)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")

	rootCmd.AddCommand(
		fetchCmd,
		installCmd,
		pinCmd,
		listCmd,
		whichCmd,
		setupCmd,
		runCmd,
	)
}
