// Package versionresolve implements spec.md §4.D: mapping a user-facing
// VersionSpec to a concrete Version for one tool kind, consulting the
// local inventory before the network and coalescing concurrent
// remote-index fetches for the same kind within one Resolver.
package versionresolve

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"golang.org/x/sync/singleflight"

	"github.com/volta-toolchain/volta/internal/errs"
	"github.com/volta-toolchain/volta/internal/hooks"
	"github.com/volta-toolchain/volta/internal/inventory"
	"github.com/volta-toolchain/volta/internal/semverx"
)

// Index is the decoded form of a tool kind's remote index: every known
// version plus which ones are tagged latest/LTS/custom (a dist-tag).
type Index struct {
	Versions []semverx.Version
	Latest   *semverx.Version
	LTS      []semverx.Version
	ByLabel  map[string]semverx.Version
}

// IndexProvider fetches a tool kind's remote index as a built-in
// fallback when no Hooks registry/index entry yields one. Implemented
// per-ToolKind by internal/toolchain, mirroring internal/fetch's
// Locator split between hook-driven and built-in resolution.
type IndexProvider interface {
	FetchIndex(ctx context.Context, kind string) (Index, error)
}

// Resolver resolves VersionSpecs against a Store's local inventory, a
// Hooks configuration, and a per-kind IndexProvider fallback.
type Resolver struct {
	inv    *inventory.Store
	hooks  *hooks.Config
	client *http.Client
	group  singleflight.Group
}

// New builds a Resolver. hookCfg may be nil (no hooks configured).
func New(inv *inventory.Store, hookCfg *hooks.Config) *Resolver {
	return &Resolver{inv: inv, hooks: hookCfg, client: http.DefaultClient}
}

// Resolve maps spec to a concrete Version for kind, per spec.md §4.D's
// algorithm. provider supplies the built-in remote-index fallback; it
// may be nil if hooks fully cover this kind (a Resolve call that needs
// the network with a nil provider and no matching hook fails
// NoSuchVersion rather than panicking).
func (r *Resolver) Resolve(ctx context.Context, kind string, spec semverx.VersionSpec, provider IndexProvider) (semverx.Version, error) {
	switch spec.Kind {
	case semverx.SpecNone:
		return r.Resolve(ctx, kind, semverx.TagSpec(semverx.Tag{Kind: semverx.TagLatest}), provider)

	case semverx.SpecExact:
		return spec.AsExact(), nil

	case semverx.SpecRange:
		return r.resolveRange(ctx, kind, spec.AsRange(), provider)

	case semverx.SpecTag:
		return r.resolveTag(ctx, kind, spec.AsTag(), provider)

	default:
		return semverx.Version{}, errs.New(errs.KindHookBadSpec, "resolve").WithHint("unknown VersionSpec kind")
	}
}

func (r *Resolver) resolveRange(ctx context.Context, kind string, rng semverx.Range, provider IndexProvider) (semverx.Version, error) {
	local := parseVersions(r.inv.Versions(kind))
	if v, ok := semverx.HighestSatisfying(rng, local); ok {
		return v, nil
	}

	idx, err := r.fetchIndex(ctx, kind, provider)
	if err != nil {
		return semverx.Version{}, err
	}
	if v, ok := semverx.HighestSatisfying(rng, idx.Versions); ok {
		return v, nil
	}
	return semverx.Version{}, errs.New(errs.KindNoSuchVersion, "resolve").WithTool(kind, rng.String()).
		WithHint("no published version satisfies this range")
}

func (r *Resolver) resolveTag(ctx context.Context, kind string, tag semverx.Tag, provider IndexProvider) (semverx.Version, error) {
	th := r.hooks.ForKind(kind)

	switch tag.Kind {
	case semverx.TagLatest:
		if v, ok, err := r.resolveHookVersion(ctx, th.Latest); err != nil {
			return semverx.Version{}, err
		} else if ok {
			return v, nil
		}
		idx, err := r.fetchIndex(ctx, kind, provider)
		if err != nil {
			return semverx.Version{}, err
		}
		if idx.Latest != nil {
			return *idx.Latest, nil
		}
		if v, ok := semverx.Highest(idx.Versions); ok {
			return v, nil
		}
		return semverx.Version{}, errs.New(errs.KindNoSuchVersion, "resolve").WithTool(kind, "latest")

	case semverx.TagLTS:
		if v, ok, err := r.resolveHookVersion(ctx, th.LTS); err != nil {
			return semverx.Version{}, err
		} else if ok {
			return v, nil
		}
		idx, err := r.fetchIndex(ctx, kind, provider)
		if err != nil {
			return semverx.Version{}, err
		}
		if v, ok := semverx.Highest(idx.LTS); ok {
			return v, nil
		}
		return semverx.Version{}, errs.New(errs.KindNoSuchVersion, "resolve").WithTool(kind, "lts").
			WithHint("no version in the remote index is marked LTS")

	case semverx.TagCustom:
		idx, err := r.fetchIndex(ctx, kind, provider)
		if err != nil {
			return semverx.Version{}, err
		}
		if v, ok := idx.ByLabel[tag.Label]; ok {
			return v, nil
		}
		return semverx.Version{}, errs.New(errs.KindNoSuchVersion, "resolve").WithTool(kind, tag.Label).
			WithHint(fmt.Sprintf("dist-tag %q not found in the remote index", tag.Label))

	default:
		return semverx.Version{}, errs.New(errs.KindHookBadSpec, "resolve").WithHint("unknown tag kind")
	}
}

// resolveHookVersion consults a latest/lts hook. A Command hook's output
// is the version itself; a Prefix/Template hook resolves to a URL which
// is fetched and parsed either as {"version": "..."} JSON or a bare
// trimmed version string.
func (r *Resolver) resolveHookVersion(ctx context.Context, h *hooks.Hook) (semverx.Version, bool, error) {
	if h == nil {
		return semverx.Version{}, false, nil
	}

	resolved, ok, err := hooks.Resolve(ctx, h, hooks.Vars{})
	if err != nil {
		return semverx.Version{}, false, err
	}
	if !ok {
		return semverx.Version{}, false, nil
	}

	if h.Kind == hooks.KindCommand || h.Kind == hooks.KindGitHubRelease {
		v, err := semverx.ParseVersion(resolved)
		if err != nil {
			return semverx.Version{}, false, errs.Wrap(errs.KindHookFailed, "resolve", err)
		}
		return v, true, nil
	}

	body, err := r.fetchBody(ctx, resolved)
	if err != nil {
		return semverx.Version{}, false, err
	}
	v, err := parseVersionResponse(body)
	if err != nil {
		return semverx.Version{}, false, errs.Wrap(errs.KindHookFailed, "resolve", err)
	}
	return v, true, nil
}

type versionResponse struct {
	Version string `json:"version"`
}

func parseVersionResponse(body []byte) (semverx.Version, error) {
	var vr versionResponse
	if err := json.Unmarshal(body, &vr); err == nil && vr.Version != "" {
		return semverx.ParseVersion(vr.Version)
	}
	return semverx.ParseVersion(strings.TrimSpace(string(body)))
}

// fetchIndex consults a Registry hook first (structured YAML index),
// then an Index hook, then falls back to provider's built-in default,
// coalescing concurrent lookups for the same kind within the process.
func (r *Resolver) fetchIndex(ctx context.Context, kind string, provider IndexProvider) (Index, error) {
	v, err, _ := r.group.Do(kind, func() (interface{}, error) {
		return r.fetchIndexUncached(ctx, kind, provider)
	})
	if err != nil {
		return Index{}, err
	}
	return v.(Index), nil
}

func (r *Resolver) fetchIndexUncached(ctx context.Context, kind string, provider IndexProvider) (Index, error) {
	th := r.hooks.ForKind(kind)

	if th.Registry != nil {
		url, ok, err := hooks.Resolve(ctx, th.Registry, hooks.Vars{})
		if err != nil {
			return Index{}, err
		}
		if ok {
			body, err := r.fetchBody(ctx, url)
			if err != nil {
				return Index{}, err
			}
			ri, err := hooks.ParseRegistryIndex(body)
			if err != nil {
				return Index{}, errs.Wrap(errs.KindHookFailed, "resolve", err)
			}
			return indexFromRegistry(ri), nil
		}
	}

	if th.Index != nil {
		url, ok, err := hooks.Resolve(ctx, th.Index, hooks.Vars{})
		if err != nil {
			return Index{}, err
		}
		if ok {
			body, err := r.fetchBody(ctx, url)
			if err != nil {
				return Index{}, err
			}
			return parseVersionList(body)
		}
	}

	if provider != nil {
		return provider.FetchIndex(ctx, kind)
	}

	return Index{}, errs.New(errs.KindNoSuchVersion, "resolve").WithTool(kind, "").
		WithHint("no index/registry hook configured and no built-in index available")
}

func (r *Resolver) fetchBody(ctx context.Context, url string) ([]byte, error) {
	// file:// lets hooks tests and offline mirrors point at a local
	// index without standing up an HTTP server.
	if path, ok := strings.CutPrefix(url, "file://"); ok {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errs.Wrap(errs.KindNetworkError, "resolve", err)
		}
		return data, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errs.Wrap(errs.KindNetworkError, "resolve", err)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, errs.Wrap(errs.KindNetworkError, "resolve", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, errs.New(errs.KindNetworkError, "resolve").
			WithHint(fmt.Sprintf("index fetch returned status %d", resp.StatusCode))
	}
	return io.ReadAll(io.LimitReader(resp.Body, 10<<20))
}

func indexFromRegistry(ri *hooks.RegistryIndex) Index {
	idx := Index{ByLabel: map[string]semverx.Version{}}
	for _, rv := range ri.Versions {
		v, err := semverx.ParseVersion(rv.Version)
		if err != nil {
			continue
		}
		idx.Versions = append(idx.Versions, v)
		if rv.LTS {
			idx.LTS = append(idx.LTS, v)
		}
	}
	if ri.Latest != "" {
		if v, err := semverx.ParseVersion(ri.Latest); err == nil {
			idx.Latest = &v
		}
	}
	return idx
}

// parseVersionList parses the built-in Index hook response format: a
// JSON array of version strings, e.g. ["20.11.0","18.19.0",...].
func parseVersionList(body []byte) (Index, error) {
	var raw []string
	if err := json.Unmarshal(body, &raw); err != nil {
		return Index{}, errs.Wrap(errs.KindHookFailed, "resolve", fmt.Errorf("index hook response is not a JSON version array: %w", err))
	}
	idx := Index{ByLabel: map[string]semverx.Version{}}
	for _, s := range raw {
		if v, err := semverx.ParseVersion(s); err == nil {
			idx.Versions = append(idx.Versions, v)
		}
	}
	return idx, nil
}

func parseVersions(ss []string) []semverx.Version {
	out := make([]semverx.Version, 0, len(ss))
	for _, s := range ss {
		if v, err := semverx.ParseVersion(s); err == nil {
			out = append(out, v)
		}
	}
	return out
}
