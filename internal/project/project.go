// Package project locates a project's manifest file and reads/writes its
// pinned platform under a reserved key, preserving everything else in
// the file byte-for-byte.
package project

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/volta-toolchain/volta/internal/errs"
	"github.com/volta-toolchain/volta/internal/semverx"
)

// ManifestFileName is the file Project looks for walking up from CWD.
const ManifestFileName = "package.json"

// ReservedKey is the top-level manifest key holding the pinned platform.
const ReservedKey = "volta"

// PinnedPlatform is the on-disk shape of the reserved key: only exact
// versions are ever persisted (spec.md §3's Platform manifest invariant).
type PinnedPlatform struct {
	Node *string `json:"node,omitempty"`
	Npm  *string `json:"npm,omitempty"`
	Pnpm *string `json:"pnpm,omitempty"`
	Yarn *string `json:"yarn,omitempty"`
}

// NodeVersion, NpmVersion, PnpmVersion and YarnVersion parse the matching
// field as an exact semver Version; ok is false when the field is unset.
func (p PinnedPlatform) NodeVersion() (semverx.Version, bool, error) {
	return parseField(p.Node)
}

func (p PinnedPlatform) NpmVersion() (semverx.Version, bool, error) { return parseField(p.Npm) }

func (p PinnedPlatform) PnpmVersion() (semverx.Version, bool, error) { return parseField(p.Pnpm) }

func (p PinnedPlatform) YarnVersion() (semverx.Version, bool, error) { return parseField(p.Yarn) }

func parseField(s *string) (semverx.Version, bool, error) {
	if s == nil {
		return semverx.Version{}, false, nil
	}
	v, err := semverx.ParseVersion(*s)
	if err != nil {
		return semverx.Version{}, false, errs.Wrap(errs.KindBadManifest, "read", err)
	}
	return v, true, nil
}

// Locate walks from dir up to the filesystem root looking for the
// nearest ancestor containing ManifestFileName. Returns ("", false, nil)
// if none is found.
func Locate(dir string) (string, bool, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", false, err
	}

	for {
		candidate := filepath.Join(abs, ManifestFileName)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, true, nil
		}
		parent := filepath.Dir(abs)
		if parent == abs {
			return "", false, nil
		}
		abs = parent
	}
}

// Read parses the manifest at path and extracts its pinned platform.
// A manifest with no reserved key returns a zero PinnedPlatform and ok=false.
func Read(path string) (PinnedPlatform, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return PinnedPlatform{}, false, errs.Wrap(errs.KindFilesystem, "read", err)
	}

	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return PinnedPlatform{}, false, errs.Wrap(errs.KindBadManifest, "read", err)
	}

	raw, ok := doc[ReservedKey]
	if !ok {
		return PinnedPlatform{}, false, nil
	}

	var pinned PinnedPlatform
	if err := json.Unmarshal(raw, &pinned); err != nil {
		return PinnedPlatform{}, false, errs.Wrap(errs.KindBadManifest, "read", err)
	}
	return pinned, true, nil
}

// WritePin writes platform into path's reserved key via a minimal,
// order-preserving edit, leaving every other key and the file's existing
// formatting untouched. The write is atomic: temp-file + rename.
func WritePin(path string, platform PinnedPlatform) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errs.Wrap(errs.KindFilesystem, "pin", err)
	}

	encoded, err := json.MarshalIndent(platform, "", "  ")
	if err != nil {
		return errs.Wrap(errs.KindBadManifest, "pin", err)
	}
	// MarshalIndent's output starts at column 0; re-indent continuation
	// lines so nested braces line up under the inserted key, matching
	// how a human editor would format it inline.
	encoded = reindent(encoded, "  ")

	patched, err := setTopLevelKey(data, ReservedKey, encoded)
	if err != nil {
		return errs.Wrap(errs.KindBadManifest, "pin", err)
	}

	return atomicWrite(path, patched)
}

// reindent prefixes every line after the first with extra so a multi-line
// JSON blob nests correctly once spliced into an already-indented document.
func reindent(data []byte, extra string) []byte {
	out := make([]byte, 0, len(data)+len(extra)*8)
	for i, line := range splitLinesKeepingNewline(data) {
		if i > 0 {
			out = append(out, extra...)
		}
		out = append(out, line...)
	}
	return out
}

func splitLinesKeepingNewline(data []byte) [][]byte {
	var lines [][]byte
	start := 0
	for i, b := range data {
		if b == '\n' {
			lines = append(lines, data[start:i+1])
			start = i + 1
		}
	}
	if start < len(data) {
		lines = append(lines, data[start:])
	}
	return lines
}

// atomicWrite writes data to path via a temp file in the same directory
// followed by a rename, so readers never observe a partial write.
func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".volta-manifest-*.tmp")
	if err != nil {
		return errs.Wrap(errs.KindFilesystem, "pin", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errs.Wrap(errs.KindFilesystem, "pin", err)
	}
	if err := tmp.Close(); err != nil {
		return errs.Wrap(errs.KindFilesystem, "pin", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return errs.Wrap(errs.KindFilesystem, "pin", err)
	}
	return nil
}
