package toolchain

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/volta-toolchain/volta/internal/errs"
	"github.com/volta-toolchain/volta/internal/layout"
	"github.com/volta-toolchain/volta/internal/project"
	"github.com/volta-toolchain/volta/internal/semverx"
)

// PackageRecord is the persisted state for one installed third-party
// package (spec.md §3's "Package record"): the version installed, the
// platform image it was installed against, and the binary names it
// exposes. Shim links under bin/ are owned by this record — created at
// install and removed at uninstall. PlatformImageUsed is stored
// structured (the same Exact-only shape as a project pin) rather than
// as a display string, so the executor can resolve a package binary's
// pinned image without reparsing free text.
type PackageRecord struct {
	Version           string                 `json:"version"`
	PlatformImageUsed project.PinnedPlatform `json:"platform_image_used"`
	Shims             []string               `json:"shims"`
}

// LoadPackageRecord reads name's record. Returns (record, false, nil) if
// no package by that name is installed.
func LoadPackageRecord(l *layout.Layout, name string) (PackageRecord, bool, error) {
	data, err := os.ReadFile(l.PackageRecordFile(name))
	if err != nil {
		if os.IsNotExist(err) {
			return PackageRecord{}, false, nil
		}
		return PackageRecord{}, false, errs.Wrap(errs.KindFilesystem, "package-record", err)
	}
	var rec PackageRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return PackageRecord{}, false, errs.Wrap(errs.KindBadManifest, "package-record", err)
	}
	return rec, true, nil
}

// SavePackageRecord atomically persists name's record.
func SavePackageRecord(l *layout.Layout, name string, rec PackageRecord) error {
	if err := layout.EnsureDir(l.PackagesDir()); err != nil {
		return errs.Wrap(errs.KindFilesystem, "package-record", err)
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return errs.Wrap(errs.KindBadManifest, "package-record", err)
	}

	path := l.PackageRecordFile(name)
	tmp, err := os.CreateTemp(filepath.Dir(path), ".volta-pkgrecord-*.tmp")
	if err != nil {
		return errs.Wrap(errs.KindFilesystem, "package-record", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errs.Wrap(errs.KindFilesystem, "package-record", err)
	}
	if err := tmp.Close(); err != nil {
		return errs.Wrap(errs.KindFilesystem, "package-record", err)
	}
	return os.Rename(tmp.Name(), path)
}

// DeletePackageRecord removes name's persisted record. A missing record
// is not an error (uninstall is idempotent).
func DeletePackageRecord(l *layout.Layout, name string) error {
	if err := os.Remove(l.PackageRecordFile(name)); err != nil && !os.IsNotExist(err) {
		return errs.Wrap(errs.KindFilesystem, "package-record", err)
	}
	return nil
}

// ListPackageNames enumerates every installed package's name.
func ListPackageNames(l *layout.Layout) ([]string, error) {
	entries, err := os.ReadDir(l.PackagesDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errs.Wrap(errs.KindFilesystem, "package-record", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if filepath.Ext(e.Name()) == ".json" {
			names = append(names, e.Name()[:len(e.Name())-len(".json")])
		}
	}
	return names, nil
}

// FindPackageOwning scans every installed package's record looking for
// one whose Shims list includes binName — the Executor's step 3
// package-binary lookup (spec.md §4.H). ok is false if no installed
// package exposes that binary.
func FindPackageOwning(l *layout.Layout, binName string) (name string, rec PackageRecord, ok bool, err error) {
	names, err := ListPackageNames(l)
	if err != nil {
		return "", PackageRecord{}, false, err
	}
	for _, n := range names {
		r, found, err := LoadPackageRecord(l, n)
		if err != nil {
			return "", PackageRecord{}, false, err
		}
		if !found {
			continue
		}
		for _, shim := range r.Shims {
			if shim == binName {
				return n, r, true, nil
			}
		}
	}
	return "", PackageRecord{}, false, nil
}

// SplitPackageSpec splits a package-manager-style spec ("name",
// "name@version", or the scoped "@scope/name@version") into a bare name
// and a parsed VersionSpec. A spec with no "@version" suffix resolves to
// semverx's None (spec.md §4.D treats that as Tag(Latest)).
func SplitPackageSpec(spec string) (string, semverx.VersionSpec, error) {
	name := spec
	versionStr := ""

	search := spec
	offset := 0
	if strings.HasPrefix(spec, "@") {
		search = spec[1:]
		offset = 1
	}
	if idx := strings.Index(search, "@"); idx >= 0 {
		name = spec[:idx+offset]
		versionStr = spec[idx+offset+1:]
	}

	vs, err := semverx.Parse(versionStr)
	if err != nil {
		return "", semverx.VersionSpec{}, err
	}
	return name, vs, nil
}
