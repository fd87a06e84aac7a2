package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/volta-toolchain/volta/internal/semverx"
	"github.com/volta-toolchain/volta/internal/toolchain"
)

var fetchCmd = &cobra.Command{
	Use:   "fetch <runtime|npm|pnpm|yarn> [version]",
	Short: "Resolve a tool version and ensure it is present in the inventory",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  runFetch,
}

func runFetch(cmd *cobra.Command, args []string) error {
	kind, err := parseKind(args[0])
	if err != nil {
		return err
	}
	specStr := ""
	if len(args) > 1 {
		specStr = args[1]
	}
	spec, err := semverx.Parse(specStr)
	if err != nil {
		return err
	}

	sess, err := newSession()
	if err != nil {
		return err
	}
	defer func() { _ = sess.Close() }()

	hookCfg, err := sess.Hooks()
	if err != nil {
		return err
	}
	mgr := toolchain.NewManager(sess.Layout(), sess.Inventory(), hookCfg)

	v, err := mgr.Fetch(cmd.Context(), kind, "", spec)
	if err != nil {
		return err
	}
	fmt.Printf("fetched %s@%s\n", toolchain.KindName(kind), v)
	return nil
}
