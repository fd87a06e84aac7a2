package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/volta-toolchain/volta/internal/project"
	"github.com/volta-toolchain/volta/internal/toolchain"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the default platform and every installed package",
	Args:  cobra.NoArgs,
	RunE:  runList,
}

func runList(_ *cobra.Command, _ []string) error {
	sess, err := newSession()
	if err != nil {
		return err
	}
	defer func() { _ = sess.Close() }()

	def, err := sess.DefaultPlatform()
	if err != nil {
		return err
	}
	fmt.Println("default platform:")
	printPinned(def)

	names, err := toolchain.ListPackageNames(sess.Layout())
	if err != nil {
		return err
	}
	if len(names) == 0 {
		return nil
	}
	fmt.Println("packages:")
	for _, name := range names {
		rec, ok, err := toolchain.LoadPackageRecord(sess.Layout(), name)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		fmt.Printf("  %s@%s  bin: %v\n", name, rec.Version, rec.Shims)
	}
	return nil
}

func printPinned(p project.PinnedPlatform) {
	line := func(label string, v *string) {
		if v != nil {
			fmt.Printf("  %s: %s\n", label, *v)
		}
	}
	line("node", p.Node)
	line("npm", p.Npm)
	line("pnpm", p.Pnpm)
	line("yarn", p.Yarn)
}
