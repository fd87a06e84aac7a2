package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/volta-toolchain/volta/internal/semverx"
	"github.com/volta-toolchain/volta/internal/toolchain"
)

var installCmd = &cobra.Command{
	Use:   "install <runtime|npm|pnpm|yarn|package-name> [version]",
	Short: "Fetch a platform tool and set it as the default, or install a global package",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  runInstall,
}

func runInstall(cmd *cobra.Command, args []string) error {
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

	specStr := ""
	if len(args) > 1 {
		specStr = args[1]
	}
	spec, err := semverx.Parse(specStr)
	if err != nil {
		return err
	}

	// A recognized platform-tool kind installs-as-default; anything else
	// is a package name installed through the package lifecycle.
	if kind, kindErr := parseKind(args[0]); kindErr == nil {
		v, err := mgr.Install(cmd.Context(), kind, spec)
		if err != nil {
			return err
		}
		fmt.Printf("installed %s@%s as default\n", toolchain.KindName(kind), v)
		return nil
	}

	rec, err := mgr.InstallPackage(cmd.Context(), args[0], spec, nil)
	if err != nil {
		return err
	}
	fmt.Printf("installed %s@%s, exposing: %v\n", args[0], rec.Version, rec.Shims)
	return nil
}
