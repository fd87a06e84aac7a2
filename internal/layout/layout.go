// Package layout defines the canonical directory tree under a Volta home
// root. Every other component obtains its paths here; no other package
// synthesizes a path under the home root itself.
package layout

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// CurrentLayoutVersion is stamped into layout.v<n> at the home root. A
// mismatch signals that external migration tooling (out of scope for
// this core, per spec.md §1) needs to run before Volta operates on the
// tree.
const CurrentLayoutVersion = 1

const envHome = "VOLTA_HOME"

// Layout holds the canonical paths for a Volta home root.
type Layout struct {
	home string
}

// New resolves the home root from VOLTA_HOME, or ~/.volta if unset.
func New() (*Layout, error) {
	if h := os.Getenv(envHome); h != "" {
		return &Layout{home: h}, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve user home directory: %w", err)
	}
	return &Layout{home: filepath.Join(home, ".volta")}, nil
}

// NewAt pins the home root explicitly (used by tests and --home overrides).
func NewAt(home string) *Layout {
	return &Layout{home: home}
}

// Home returns the home root.
func (l *Layout) Home() string { return l.home }

// BinDir holds shim links, one per tool binary name.
func (l *Layout) BinDir() string { return filepath.Join(l.home, "bin") }

// TmpDir holds staging directories for in-progress fetches.
func (l *Layout) TmpDir() string { return filepath.Join(l.home, "tmp") }

// LogDir holds per-session diagnostic transcripts.
func (l *Layout) LogDir() string { return filepath.Join(l.home, "log") }

// SessionLogDir returns the directory for a single session's transcript.
func (l *Layout) SessionLogDir(sessionID string) string {
	return filepath.Join(l.LogDir(), sessionID)
}

// HooksFile is the merged-at-load hooks configuration.
func (l *Layout) HooksFile() string { return filepath.Join(l.home, "hooks.json") }

// InventoryArchiveDir holds downloaded archives for a tool kind.
func (l *Layout) InventoryArchiveDir(kind string) string {
	return filepath.Join(l.home, "tools", "inventory", kind)
}

// ArchivePath returns the deterministic archive filename for (kind, version).
func (l *Layout) ArchivePath(kind, version, ext string) string {
	return filepath.Join(l.InventoryArchiveDir(kind), fmt.Sprintf("%s%s", version, ext))
}

// RegistryIndexPath names an on-disk location for a kind's remote index
// document (e.g. a registry hook's YAML index). The version resolver
// neither reads nor writes it; it fetches index documents over the network.
func (l *Layout) RegistryIndexPath(kind string) string {
	return filepath.Join(l.InventoryArchiveDir(kind), "registry.yaml")
}

// ImageKindRoot is the unpacked-tree root holding every installed
// version of kind, used to enumerate local candidates for Range/Tag
// resolution before consulting a remote index.
func (l *Layout) ImageKindRoot(kind string) string {
	return filepath.Join(l.home, "tools", "image", kind)
}

// ImageRoot is the unpacked installation root for (kind, version).
func (l *Layout) ImageRoot(kind, version string) string {
	return filepath.Join(l.home, "tools", "image", kind, version)
}

// ReadyMarker is the sentinel file certifying ImageRoot is fully published.
func (l *Layout) ReadyMarker(kind, version string) string {
	return filepath.Join(l.ImageRoot(kind, version), ".ready")
}

// StagingDir reserves a unique staging directory under tmp/ for an
// in-progress fetch of (kind, version). Multiple concurrent fetchers race
// on the same path by design — see internal/inventory for the
// lock-directory protocol built atop it.
func (l *Layout) StagingDir(kind, version string) string {
	return filepath.Join(l.TmpDir(), "stage", kind, version)
}

// StagingLockDir is the per-key lock directory guarding concurrent
// stage/publish of (kind, version).
func (l *Layout) StagingLockDir(kind, version string) string {
	return filepath.Join(l.TmpDir(), "lock", kind, version+".lock")
}

// UserDir holds the user default platform and installed package records.
func (l *Layout) UserDir() string { return filepath.Join(l.home, "tools", "user") }

// DefaultPlatformFile is the user-scoped default platform manifest.
func (l *Layout) DefaultPlatformFile() string { return filepath.Join(l.UserDir(), "platform.json") }

// PackagesDir holds one record file per installed third-party package.
func (l *Layout) PackagesDir() string { return filepath.Join(l.UserDir(), "packages") }

// PackageRecordFile is the persisted record for an installed package.
func (l *Layout) PackageRecordFile(name string) string {
	return filepath.Join(l.PackagesDir(), name+".json")
}

// PackagePrefixDir is the private install prefix a package's own
// installer runs against.
func (l *Layout) PackagePrefixDir(name string) string {
	return filepath.Join(l.PackagesDir(), name)
}

// LayoutVersionStampFile stores the on-disk layout version.
func (l *Layout) LayoutVersionStampFile() string {
	return filepath.Join(l.home, fmt.Sprintf("layout.v%d", CurrentLayoutVersion))
}

// EnsureDir creates dir (and parents) if missing.
func EnsureDir(dir string) error {
	return os.MkdirAll(dir, 0o755)
}

// EnsureTree creates every directory the Layout will ever write into.
func (l *Layout) EnsureTree() error {
	for _, dir := range []string{
		l.BinDir(), l.TmpDir(), l.LogDir(), l.UserDir(), l.PackagesDir(),
	} {
		if err := EnsureDir(dir); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return os.WriteFile(l.LayoutVersionStampFile(), []byte(strconv.Itoa(CurrentLayoutVersion)+"\n"), 0o644)
}

// Expand expands a leading ~ to the user's home directory.
func Expand(p string) (string, error) {
	if p == "" {
		return "", nil
	}
	if p == "~" {
		return os.UserHomeDir()
	}
	if rest, ok := strings.CutPrefix(p, "~/"); ok {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, rest), nil
	}
	return p, nil
}
