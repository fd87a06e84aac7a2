package toolchain

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/volta-toolchain/volta/internal/errs"
	"github.com/volta-toolchain/volta/internal/platform"
	"github.com/volta-toolchain/volta/internal/semverx"
	"github.com/volta-toolchain/volta/internal/versionresolve"
)

// IndexProvider implements internal/versionresolve.IndexProvider for one
// ToolKind, giving the version resolver a built-in remote index to fall
// back on when no hooks registry/index entry covers it: nodejs.org's
// release index for the runtime, and the public npm registry's
// dist-tags/versions document for npm/pnpm/yarn and third-party
// packages (all published as npm packages themselves).
type IndexProvider struct {
	Kind platform.ToolKind
	Name string

	client *http.Client
	// registryBase defaults to defaultRegistryBase; overridable (tests
	// only, via a struct literal) to point at a fake registry server.
	registryBase string
}

// NewIndexProvider builds an IndexProvider for kind. name is only
// consulted for platform.KindPackage.
func NewIndexProvider(kind platform.ToolKind, name string) *IndexProvider {
	return &IndexProvider{Kind: kind, Name: name, client: http.DefaultClient, registryBase: defaultRegistryBase}
}

func (p *IndexProvider) base() string {
	if p.registryBase != "" {
		return p.registryBase
	}
	return defaultRegistryBase
}

// FetchIndex implements versionresolve.IndexProvider.
func (p *IndexProvider) FetchIndex(ctx context.Context, kind string) (versionresolve.Index, error) {
	if p.Kind == platform.KindRuntime {
		return p.fetchNodeIndex(ctx)
	}
	return p.fetchNpmIndex(ctx)
}

// nodeIndexEntry is one release entry in nodejs.org/dist/index.json.
type nodeIndexEntry struct {
	Version string `json:"version"`
	LTS     any    `json:"lts"`
}

// fetchNodeIndex fetches and decodes the Node.js release index. The
// "lts" field is false for non-LTS releases and the codename string
// (e.g. "Hydrogen") for LTS ones, hence the any-typed field above.
func (p *IndexProvider) fetchNodeIndex(ctx context.Context) (versionresolve.Index, error) {
	const url = "https://nodejs.org/dist/index.json"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return versionresolve.Index{}, errs.Wrap(errs.KindNetworkError, "resolve", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return versionresolve.Index{}, errs.Wrap(errs.KindNetworkError, "resolve", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return versionresolve.Index{}, errs.New(errs.KindNetworkError, "resolve").
			WithHint(fmt.Sprintf("nodejs.org index returned status %d", resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return versionresolve.Index{}, errs.Wrap(errs.KindNetworkError, "resolve", err)
	}
	return parseNodeIndex(body)
}

// parseNodeIndex decodes nodejs.org/dist/index.json's document shape,
// split out from fetchNodeIndex so the parsing logic is testable without
// a real network round trip.
func parseNodeIndex(body []byte) (versionresolve.Index, error) {
	var entries []nodeIndexEntry
	if err := json.Unmarshal(body, &entries); err != nil {
		return versionresolve.Index{}, errs.Wrap(errs.KindBadManifest, "resolve", err)
	}

	idx := versionresolve.Index{ByLabel: map[string]semverx.Version{}}
	for i, e := range entries {
		v, err := semverx.ParseVersion(trimLeadingV(e.Version))
		if err != nil {
			continue
		}
		idx.Versions = append(idx.Versions, v)
		if lts, ok := e.LTS.(string); ok && lts != "" {
			idx.LTS = append(idx.LTS, v)
		}
		// nodejs.org's index is sorted newest-first; the first entry is
		// the current latest release.
		if i == 0 {
			latest := v
			idx.Latest = &latest
		}
	}
	return idx, nil
}

// fetchNpmIndex builds an Index from the npm registry's dist-tags and
// versions map for npm/pnpm/yarn or a named third-party package. The
// registry has no LTS concept, so idx.LTS is always empty here; a tool
// that wants LTS semantics for one of these kinds configures a distro
// lts hook instead (resolved before this provider is ever consulted).
func (p *IndexProvider) fetchNpmIndex(ctx context.Context) (versionresolve.Index, error) {
	name := p.Name
	if p.Kind != platform.KindPackage {
		name = KindName(p.Kind)
	}

	meta, err := fetchNpmPackageMeta(ctx, p.client, p.base(), name)
	if err != nil {
		return versionresolve.Index{}, err
	}

	idx := versionresolve.Index{ByLabel: map[string]semverx.Version{}}
	for vs := range meta.Versions {
		v, err := semverx.ParseVersion(vs)
		if err != nil {
			continue
		}
		idx.Versions = append(idx.Versions, v)
	}
	for tag, vs := range meta.DistTags {
		v, err := semverx.ParseVersion(vs)
		if err != nil {
			continue
		}
		idx.ByLabel[tag] = v
		if tag == "latest" {
			latest := v
			idx.Latest = &latest
		}
	}
	return idx, nil
}

func trimLeadingV(s string) string {
	if len(s) > 0 && (s[0] == 'v' || s[0] == 'V') {
		return s[1:]
	}
	return s
}
