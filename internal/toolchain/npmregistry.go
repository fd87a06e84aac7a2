package toolchain

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/volta-toolchain/volta/internal/errs"
)

// defaultRegistryBase is the public npm registry, the built-in fallback
// source for npm/pnpm/yarn and any third-party package when no distro
// hook overrides it.
const defaultRegistryBase = "https://registry.npmjs.org"

// npmDist is one version's published artifact metadata.
type npmDist struct {
	Tarball string `json:"tarball"`
	Shasum  string `json:"shasum"`
}

// npmVersionMeta is the per-version slice of npm's package metadata
// document this module actually needs.
type npmVersionMeta struct {
	Dist npmDist `json:"dist"`
}

// npmPackageMeta is the subset of `GET /<package>` npm registry metadata
// the fetcher and version resolver consume: every published version's
// dist info plus the dist-tags map ("latest", and for node's package
// managers there is no "lts" dist-tag, so LTS resolution for those kinds
// always falls through to a hooks-configured lts hook).
type npmPackageMeta struct {
	DistTags map[string]string         `json:"dist-tags"`
	Versions map[string]npmVersionMeta `json:"versions"`
}

// fetchNpmPackageMeta fetches and decodes a package's registry metadata
// document from base (defaultRegistryBase unless a hook overrides it).
func fetchNpmPackageMeta(ctx context.Context, client *http.Client, base, name string) (*npmPackageMeta, error) {
	url := fmt.Sprintf("%s/%s", base, name)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errs.Wrap(errs.KindNetworkError, "fetch", err)
	}
	req.Header.Set("Accept", "application/vnd.npm.install-v1+json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, errs.Wrap(errs.KindNetworkError, "fetch", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, errs.New(errs.KindNoSuchVersion, "fetch").WithTool(name, "").
			WithHint("package not found in the registry")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errs.New(errs.KindNetworkError, "fetch").
			WithHint(fmt.Sprintf("registry returned status %d for %s", resp.StatusCode, name))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, errs.Wrap(errs.KindNetworkError, "fetch", err)
	}

	var meta npmPackageMeta
	if err := json.Unmarshal(body, &meta); err != nil {
		return nil, errs.Wrap(errs.KindBadManifest, "fetch", fmt.Errorf("malformed registry metadata for %s: %w", name, err))
	}
	return &meta, nil
}
