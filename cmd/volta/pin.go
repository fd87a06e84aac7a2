package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/volta-toolchain/volta/internal/semverx"
	"github.com/volta-toolchain/volta/internal/toolchain"
)

var pinCmd = &cobra.Command{
	Use:   "pin <runtime|npm|pnpm|yarn> <version>",
	Short: "Fetch a platform tool and pin it in the nearest project manifest",
	Args:  cobra.ExactArgs(2),
	RunE:  runPin,
}

func runPin(cmd *cobra.Command, args []string) error {
	kind, err := parseKind(args[0])
	if err != nil {
		return err
	}
	spec, err := semverx.Parse(args[1])
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

	dir, err := os.Getwd()
	if err != nil {
		return err
	}
	v, err := mgr.Pin(cmd.Context(), dir, kind, spec)
	if err != nil {
		return err
	}
	fmt.Printf("pinned %s@%s\n", toolchain.KindName(kind), v)
	return nil
}
