package toolchain

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/volta-toolchain/volta/internal/errs"
	"github.com/volta-toolchain/volta/internal/fetch"
	"github.com/volta-toolchain/volta/internal/hooks"
	"github.com/volta-toolchain/volta/internal/inventory"
	"github.com/volta-toolchain/volta/internal/layout"
	"github.com/volta-toolchain/volta/internal/platform"
	"github.com/volta-toolchain/volta/internal/project"
	"github.com/volta-toolchain/volta/internal/semverx"
	"github.com/volta-toolchain/volta/internal/versionresolve"
)

// Manager implements spec.md §4.G's three tool-lifecycle operations —
// fetch, install, pin — for every ToolKind, wiring together the version
// resolver (D), the fetcher (C), and this package's Locator/IndexProvider
// built-in sources.
type Manager struct {
	layout   *layout.Layout
	inv      *inventory.Store
	fetcher  *fetch.Fetcher
	resolver *versionresolve.Resolver
}

// NewManager builds a Manager over inv, resolving hooks and indexes via
// hookCfg (may be nil).
func NewManager(l *layout.Layout, inv *inventory.Store, hookCfg *hooks.Config) *Manager {
	return &Manager{
		layout:   l,
		inv:      inv,
		fetcher:  fetch.New(inv, hookCfg),
		resolver: versionresolve.New(inv, hookCfg),
	}
}

func (m *Manager) toolSources(kind platform.ToolKind, name string) (string, *Locator, *IndexProvider) {
	kindKey := KindName(kind)
	if kind == platform.KindPackage {
		kindKey = PackageKindName(name)
	}
	return kindKey, NewLocator(kind, name), NewIndexProvider(kind, name)
}

// Fetch resolves spec and ensures it is present in the inventory,
// performing no user-visible state change beyond the cache. name is
// only consulted for platform.KindPackage.
func (m *Manager) Fetch(ctx context.Context, kind platform.ToolKind, name string, spec semverx.VersionSpec) (semverx.Version, error) {
	kindKey, loc, provider := m.toolSources(kind, name)

	v, err := m.resolver.Resolve(ctx, kindKey, spec, provider)
	if err != nil {
		return semverx.Version{}, err
	}
	if err := m.fetcher.Ensure(ctx, loc, kindKey, v.String()); err != nil {
		return semverx.Version{}, err
	}
	return v, nil
}

// Install fetches spec for a platform tool kind (Runtime/Npm/Pnpm/Yarn)
// and sets the resolved version as the user's default platform. Package
// installs go through InstallPackage instead, per spec.md §4.G's "for
// Package, this additionally..." clause.
func (m *Manager) Install(ctx context.Context, kind platform.ToolKind, spec semverx.VersionSpec) (semverx.Version, error) {
	if kind == platform.KindPackage {
		return semverx.Version{}, errs.New(errs.KindUnsupported, "install").
			WithHint("install a named package via InstallPackage")
	}

	v, err := m.Fetch(ctx, kind, "", spec)
	if err != nil {
		return semverx.Version{}, err
	}

	pinned, err := platform.LoadDefault(m.layout)
	if err != nil {
		return semverx.Version{}, err
	}
	if err := platform.SaveDefault(m.layout, applyKind(pinned, kind, v)); err != nil {
		return semverx.Version{}, err
	}
	return v, nil
}

// Pin fetches spec for a platform tool kind and writes the resolved
// version into the nearest project manifest found walking up from dir.
// Fails with NotInProject if no manifest is found.
func (m *Manager) Pin(ctx context.Context, dir string, kind platform.ToolKind, spec semverx.VersionSpec) (semverx.Version, error) {
	if kind == platform.KindPackage {
		return semverx.Version{}, errs.New(errs.KindUnsupported, "pin").
			WithHint("packages are not part of the pinned platform")
	}

	manifestPath, ok, err := project.Locate(dir)
	if err != nil {
		return semverx.Version{}, err
	}
	if !ok {
		return semverx.Version{}, errs.New(errs.KindNotInProject, "pin").
			WithHint("run from inside a project containing a package.json")
	}

	v, err := m.Fetch(ctx, kind, "", spec)
	if err != nil {
		return semverx.Version{}, err
	}

	pinned, _, err := project.Read(manifestPath)
	if err != nil {
		return semverx.Version{}, err
	}
	if err := project.WritePin(manifestPath, applyKind(pinned, kind, v)); err != nil {
		return semverx.Version{}, err
	}
	return v, nil
}

func applyKind(pinned project.PinnedPlatform, kind platform.ToolKind, v semverx.Version) project.PinnedPlatform {
	s := v.String()
	switch kind {
	case platform.KindRuntime:
		pinned.Node = &s
	case platform.KindNpm:
		pinned.Npm = &s
	case platform.KindPnpm:
		pinned.Pnpm = &s
	case platform.KindYarn:
		pinned.Yarn = &s
	}
	return pinned
}

// DefaultImage resolves the user's persisted default platform into an
// Image, failing with NoPlatform if no runtime default has ever been set.
func (m *Manager) DefaultImage() (platform.Image, error) {
	pinned, err := platform.LoadDefault(m.layout)
	if err != nil {
		return platform.Image{}, err
	}
	def, err := platform.DefaultImage(pinned)
	if err != nil {
		return platform.Image{}, err
	}
	return platform.Resolve(platform.Inputs{Default: def}, true)
}

// InstallPackage runs spec.md §4.G's package install algorithm: resolve,
// fetch the tarball, run the runtime's package-install command scoped to
// a private prefix, enumerate exposed binaries, and publish shim links.
// img overrides the platform the package installs against; nil uses the
// resolved user default. Any failure from step 4 onward rolls back the
// partial install prefix and any shim links already created.
func (m *Manager) InstallPackage(ctx context.Context, name string, spec semverx.VersionSpec, img *platform.Image) (PackageRecord, error) {
	kindKey := PackageKindName(name)
	loc := NewLocator(platform.KindPackage, name)
	provider := NewIndexProvider(platform.KindPackage, name)

	// 1. Resolve package version via the public registry (or distro hook).
	v, err := m.resolver.Resolve(ctx, kindKey, spec, provider)
	if err != nil {
		return PackageRecord{}, err
	}

	// 2. Fetch the package tarball into staging (cached thereafter).
	archivePath, _, err := m.fetcher.EnsureArchive(ctx, loc, kindKey, v.String())
	if err != nil {
		return PackageRecord{}, err
	}

	// 3. Construct an ephemeral Image using the default platform, unless
	// the caller supplied one.
	effective := img
	if effective == nil {
		resolved, err := m.DefaultImage()
		if err != nil {
			return PackageRecord{}, err
		}
		effective = &resolved
	}

	prefix := m.layout.PackagePrefixDir(name)
	rollback := func() { _ = os.RemoveAll(prefix) }

	if err := os.RemoveAll(prefix); err != nil {
		return PackageRecord{}, errs.Wrap(errs.KindFilesystem, "install", err)
	}
	if err := layout.EnsureDir(prefix); err != nil {
		return PackageRecord{}, errs.Wrap(errs.KindFilesystem, "install", err)
	}

	// 4. Execute the runtime's package-install command with the tarball,
	// scoped to the private install prefix.
	if err := m.runPackageInstallCommand(ctx, *effective, archivePath, prefix); err != nil {
		rollback()
		return PackageRecord{}, errs.Wrap(errs.KindPackageInstallFailed, "install", err).WithTool(name, v.String())
	}

	// 5. Read the package's manifest to enumerate exposed binaries. npm
	// --global --prefix installs place the package under
	// <prefix>/lib/node_modules/<name>.
	manifestPath := filepath.Join(prefix, "lib", "node_modules", name, "package.json")
	shims, err := exposedBinaries(manifestPath, name)
	if err != nil {
		rollback()
		return PackageRecord{}, err
	}

	// 6. Write the Package record; create shim links atomically.
	if err := CreateShimLinks(m.layout, DispatcherPath(m.layout), shims); err != nil {
		rollback()
		return PackageRecord{}, err
	}

	rec := PackageRecord{
		Version:           v.String(),
		PlatformImageUsed: effective.Pinned(),
		Shims:             shims,
	}
	if err := SavePackageRecord(m.layout, name, rec); err != nil {
		_ = RemoveShimLinks(m.layout, shims)
		rollback()
		return PackageRecord{}, err
	}
	return rec, nil
}

// LinkLocal implements spec.md §4.I's "Link is treated as GlobalInstall
// of the current project directory": rather than fetching a tarball
// from the registry, it reads dir's own package.json for its name and
// exposed binaries and publishes shim links pointing at the same
// dispatcher every other package uses, recording a PackageRecord under
// the project's own manifest name.
func (m *Manager) LinkLocal(dir string, img *platform.Image) (PackageRecord, error) {
	name, version, bins, err := readLocalManifest(dir)
	if err != nil {
		return PackageRecord{}, err
	}

	effective := img
	if effective == nil {
		resolved, err := m.DefaultImage()
		if err != nil {
			return PackageRecord{}, err
		}
		effective = &resolved
	}

	if err := CreateShimLinks(m.layout, DispatcherPath(m.layout), bins); err != nil {
		return PackageRecord{}, err
	}

	if version == "" {
		version = "0.0.0-linked"
	}
	rec := PackageRecord{Version: version, PlatformImageUsed: effective.Pinned(), Shims: bins}
	if err := SavePackageRecord(m.layout, name, rec); err != nil {
		_ = RemoveShimLinks(m.layout, bins)
		return PackageRecord{}, err
	}
	return rec, nil
}

// UnlinkLocal reverses LinkLocal for dir's own package, identified by
// its package.json "name" rather than a registry spec.
func (m *Manager) UnlinkLocal(dir string) error {
	name, _, _, err := readLocalManifest(dir)
	if err != nil {
		return err
	}
	return m.UninstallPackage(name)
}

// UninstallPackage removes name's Package record and its shim links.
// Idempotent: uninstalling an already-absent package is not an error.
func (m *Manager) UninstallPackage(name string) error {
	rec, ok, err := LoadPackageRecord(m.layout, name)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	if err := RemoveShimLinks(m.layout, rec.Shims); err != nil {
		return err
	}
	if err := os.RemoveAll(m.layout.PackagePrefixDir(name)); err != nil {
		return errs.Wrap(errs.KindFilesystem, "uninstall", err)
	}
	return DeletePackageRecord(m.layout, name)
}

// runPackageInstallCommand runs img's npm against archivePath with
// --global --prefix prefix, mirroring how Volta scopes a package
// install to its own private tree rather than the runtime's own prefix.
func (m *Manager) runPackageInstallCommand(ctx context.Context, img platform.Image, archivePath, prefix string) error {
	nodeBin, err := m.resolveToolBinary(KindName(platform.KindRuntime), img.Runtime.Value.String(), "node")
	if err != nil {
		return err
	}

	var npmBin string
	if img.Npm != nil {
		npmBin, err = m.resolveToolBinary(KindName(platform.KindNpm), img.Npm.Value.String(), "npm")
	} else {
		// No pinned npm: fall back to the copy bundled with the runtime
		// tarball itself, the same one `node` ships alongside.
		npmBin, err = m.resolveToolBinary(KindName(platform.KindRuntime), img.Runtime.Value.String(), "npm")
	}
	if err != nil {
		return err
	}

	cmd := exec.CommandContext(ctx, npmBin, "install", "--global", "--prefix", prefix, archivePath)
	cmd.Env = append(os.Environ(), "PATH="+filepath.Dir(nodeBin)+string(os.PathListSeparator)+os.Getenv("PATH"))

	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s install %s: %w: %s", npmBin, archivePath, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// resolveToolBinary locates binName inside the unpacked image for
// (kindKey, version). Shared with internal/executor, which needs the
// same lookup to build a child's PATH and find its exec target.
func (m *Manager) resolveToolBinary(kindKey, version, binName string) (string, error) {
	return LocateBinary(m.inv, kindKey, version, binName)
}

// LocateBinary searches a bounded depth under the unpacked image root for
// (kindKey, version), looking for an executable file named binName. A
// bounded walk is necessary (rather than a fixed relative path) because
// archive decode preserves whatever top-level directory the upstream
// tarball used (e.g. node-v20.11.0-linux-x64/bin/node).
func LocateBinary(inv *inventory.Store, kindKey, version, binName string) (string, error) {
	root := inv.ImageRoot(kindKey, version)
	const maxDepth = 4

	var found string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if found != "" {
			return filepath.SkipAll
		}
		if d.IsDir() {
			rel, relErr := filepath.Rel(root, path)
			if relErr == nil && rel != "." && strings.Count(rel, string(filepath.Separator)) >= maxDepth {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Name() != binName {
			return nil
		}
		if info, infoErr := d.Info(); infoErr == nil && info.Mode()&0o111 != 0 {
			found = path
			return filepath.SkipAll
		}
		return nil
	})
	if err != nil {
		return "", errs.Wrap(errs.KindFilesystem, "install", err)
	}
	if found == "" {
		return "", errs.New(errs.KindNoSuchTool, "install").WithTool(binName, version).
			WithHint("binary not found in the unpacked image; the tarball layout may be unexpected")
	}
	return found, nil
}
