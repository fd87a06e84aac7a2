package toolchain

import (
	"os"
	"path/filepath"

	"github.com/volta-toolchain/volta/internal/errs"
	"github.com/volta-toolchain/volta/internal/layout"
)

// ShimDispatcherName is the single binary every shim link points at;
// cmd/volta-shim inspects its own invocation name (os.Args[0]) to decide
// which tool it is standing in for (spec.md §4.H).
const ShimDispatcherName = "volta-shim"

// DispatcherPath is where `volta setup` installs the shared dispatcher
// binary, alongside every shim link it serves.
func DispatcherPath(l *layout.Layout) string {
	return filepath.Join(l.BinDir(), ShimDispatcherName)
}

// CreateShimLink atomically creates (or replaces) a shim link named
// binName in the shim directory, pointing at dispatcherPath. The
// rename-from-temp-name step keeps the publish atomic even against a
// concurrent shim invocation mid-dispatch.
func CreateShimLink(l *layout.Layout, dispatcherPath, binName string) error {
	if err := layout.EnsureDir(l.BinDir()); err != nil {
		return errs.Wrap(errs.KindFilesystem, "shim", err)
	}

	target := filepath.Join(l.BinDir(), binName)
	tmp := target + ".tmp-shim"

	_ = os.Remove(tmp)
	if err := os.Symlink(dispatcherPath, tmp); err != nil {
		return errs.Wrap(errs.KindFilesystem, "shim", err)
	}
	if err := os.Rename(tmp, target); err != nil {
		_ = os.Remove(tmp)
		return errs.Wrap(errs.KindFilesystem, "shim", err)
	}
	return nil
}

// RemoveShimLink removes binName's shim link, if present.
func RemoveShimLink(l *layout.Layout, binName string) error {
	if err := os.Remove(filepath.Join(l.BinDir(), binName)); err != nil && !os.IsNotExist(err) {
		return errs.Wrap(errs.KindFilesystem, "shim", err)
	}
	return nil
}

// CreateShimLinks creates a shim link for every name in binNames,
// removing every link it already created if any single one fails.
func CreateShimLinks(l *layout.Layout, dispatcherPath string, binNames []string) error {
	created := make([]string, 0, len(binNames))
	for _, name := range binNames {
		if err := CreateShimLink(l, dispatcherPath, name); err != nil {
			for _, c := range created {
				_ = RemoveShimLink(l, c)
			}
			return err
		}
		created = append(created, name)
	}
	return nil
}

// RemoveShimLinks removes every shim link in binNames, continuing past
// individual failures so an uninstall always makes forward progress.
func RemoveShimLinks(l *layout.Layout, binNames []string) error {
	var firstErr error
	for _, name := range binNames {
		if err := RemoveShimLink(l, name); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
