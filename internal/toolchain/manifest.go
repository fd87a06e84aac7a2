package toolchain

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/volta-toolchain/volta/internal/errs"
)

// packageManifest is the subset of an installed package's own
// package.json this module reads to enumerate the binaries it exposes.
type packageManifest struct {
	Bin json.RawMessage `json:"bin"`
}

// exposedBinaries reads manifestPath's "bin" field, which npm allows as
// either a bare string (the binary takes the package's own name) or a
// map of binary name to script path. A package with no "bin" field at
// all falls back to fallbackName, matching npm's own convention for
// single-binary packages.
func exposedBinaries(manifestPath, fallbackName string) ([]string, error) {
	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, errs.Wrap(errs.KindBadManifest, "install", err)
	}

	var m packageManifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, errs.Wrap(errs.KindBadManifest, "install", err)
	}
	return binsFromRaw(m.Bin, fallbackName)
}

// binsFromRaw parses an npm "bin" field's two accepted shapes (a bare
// string, taking the package's own name, or a name-to-script map) into
// the list of binary names it exposes.
func binsFromRaw(raw json.RawMessage, fallbackName string) ([]string, error) {
	if len(raw) == 0 {
		return []string{fallbackName}, nil
	}

	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return []string{fallbackName}, nil
	}

	var asMap map[string]string
	if err := json.Unmarshal(raw, &asMap); err != nil {
		return nil, errs.Wrap(errs.KindBadManifest, "install", fmt.Errorf(`unrecognized "bin" field shape: %w`, err))
	}
	names := make([]string, 0, len(asMap))
	for name := range asMap {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// localManifest is the subset of a project's own package.json read by
// Manager.LinkLocal to identify the package being linked globally.
type localManifest struct {
	Name    string          `json:"name"`
	Version string          `json:"version"`
	Bin     json.RawMessage `json:"bin"`
}

// readLocalManifest reads dir/package.json for the package's own name
// and exposed binaries, used by spec.md §4.I's "Link is treated as
// GlobalInstall of the current project directory" — the project links
// itself rather than fetching a tarball from the registry.
func readLocalManifest(dir string) (name, version string, bins []string, err error) {
	path := filepath.Join(dir, "package.json")
	data, err := os.ReadFile(path)
	if err != nil {
		return "", "", nil, errs.Wrap(errs.KindBadManifest, "link", err)
	}

	var m localManifest
	if err := json.Unmarshal(data, &m); err != nil {
		return "", "", nil, errs.Wrap(errs.KindBadManifest, "link", err)
	}
	if m.Name == "" {
		return "", "", nil, errs.New(errs.KindBadManifest, "link").
			WithHint(`package.json is missing "name"`)
	}

	bins, err = binsFromRaw(m.Bin, m.Name)
	if err != nil {
		return "", "", nil, err
	}
	return m.Name, m.Version, bins, nil
}
