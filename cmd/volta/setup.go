package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/volta-toolchain/volta/internal/toolchain"
)

// builtinShimNames are the binary names every fresh install exposes
// before any project or package pins anything: the runtime's own
// entry points plus its three package managers.
var builtinShimNames = []string{"node", "npx", "npm", "pnpm", "yarn"}

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Install the shim dispatcher and shim links for every built-in tool and installed package",
	Args:  cobra.NoArgs,
	RunE:  runSetup,
}

func runSetup(_ *cobra.Command, _ []string) error {
	l, err := newLayout()
	if err != nil {
		return err
	}
	if err := l.EnsureTree(); err != nil {
		return err
	}

	dispatcherPath := toolchain.DispatcherPath(l)
	if err := installDispatcherBinary(dispatcherPath); err != nil {
		return err
	}

	if err := toolchain.CreateShimLinks(l, dispatcherPath, builtinShimNames); err != nil {
		return err
	}

	names, err := toolchain.ListPackageNames(l)
	if err != nil {
		return err
	}
	for _, name := range names {
		rec, ok, err := toolchain.LoadPackageRecord(l, name)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		if err := toolchain.CreateShimLinks(l, dispatcherPath, rec.Shims); err != nil {
			return err
		}
	}

	fmt.Printf("shims installed under %s\n", l.BinDir())
	return nil
}

// installDispatcherBinary copies the volta-shim binary installed
// alongside the running volta executable into bin/, where every shim
// link points. Both binaries are always built and distributed together.
func installDispatcherBinary(dispatcherPath string) error {
	self, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to locate the running volta binary: %w", err)
	}
	src := filepath.Join(filepath.Dir(self), toolchain.ShimDispatcherName)

	data, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("failed to locate %s next to volta: %w", toolchain.ShimDispatcherName, err)
	}

	tmp := dispatcherPath + ".tmp-setup"
	if err := os.WriteFile(tmp, data, 0o755); err != nil {
		return err
	}
	return os.Rename(tmp, dispatcherPath)
}
