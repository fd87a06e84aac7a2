package hooks

import (
	"fmt"

	"github.com/goccy/go-yaml"

	"github.com/volta-toolchain/volta/internal/semverx"
)

// RegistryIndex is the decoded form of a registry hook's remote index: an
// aqua-registry-style YAML document listing a tool kind's known versions
// and, optionally, which one is tagged "latest" or "lts". This is
// additive to spec.md's index/distro/latest/lts hooks — a hooks file
// without a `registry` block never touches this type.
type RegistryIndex struct {
	Versions []RegistryVersion `yaml:"versions"`
	Latest   string            `yaml:"latest,omitempty"`
	LTS      string            `yaml:"lts,omitempty"`
}

// RegistryVersion is one entry in a RegistryIndex.
type RegistryVersion struct {
	Version string `yaml:"version"`
	URL     string `yaml:"url,omitempty"`
	LTS     bool   `yaml:"lts,omitempty"`
}

// ParseRegistryIndex decodes a registry hook's YAML index document.
func ParseRegistryIndex(data []byte) (*RegistryIndex, error) {
	var idx RegistryIndex
	if err := yaml.Unmarshal(data, &idx); err != nil {
		return nil, fmt.Errorf("failed to parse registry index: %w", err)
	}
	return &idx, nil
}

// HighestLTS returns the version string of the highest-precedence entry
// marked LTS, preferring the index's explicit LTS field when set.
func (idx *RegistryIndex) HighestLTS() (string, bool) {
	if idx.LTS != "" {
		return idx.LTS, true
	}
	var best string
	var bestV semverx.Version
	for _, v := range idx.Versions {
		if !v.LTS {
			continue
		}
		pv, err := semverx.ParseVersion(v.Version)
		if err != nil {
			continue
		}
		if best == "" || bestV.LessThan(pv) {
			best, bestV = v.Version, pv
		}
	}
	return best, best != ""
}
