// Package hooks loads and resolves the user-configurable URL/command
// indirections that steer the Fetcher and Version resolver: where to
// list available versions, how to build a download URL, and how to
// learn a tool kind's "latest"/"lts" tag.
package hooks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"text/template"
	"time"

	"github.com/volta-toolchain/volta/internal/errs"
	"github.com/volta-toolchain/volta/internal/github"
)

// Kind is the closed discriminant for a Hook's resolution strategy.
type Kind int

const (
	KindPrefix Kind = iota
	KindTemplate
	KindCommand
	KindGitHubRelease
)

// Hook is one indirection: exactly one of Prefix, TemplatePattern, Argv,
// or the GitHub* trio is meaningful, selected by Kind.
type Hook struct {
	Kind            Kind
	Prefix          string
	TemplatePattern string
	Argv            []string
	GitHubOwner     string
	GitHubRepo      string
	GitHubTagPrefix string
}

// githubHookJSON names the repository a KindGitHubRelease hook consults
// for its latest release tag.
type githubHookJSON struct {
	Owner     string `json:"owner"`
	Repo      string `json:"repo"`
	TagPrefix string `json:"tagPrefix,omitempty"`
}

// hookJSON is the on-disk shape of a single hook object: exactly one of
// prefix|template|bin|github may be set. Unknown fields are ignored by
// encoding/json's default decode behavior.
type hookJSON struct {
	Prefix   *string         `json:"prefix,omitempty"`
	Template *string         `json:"template,omitempty"`
	Bin      []string        `json:"bin,omitempty"`
	GitHub   *githubHookJSON `json:"github,omitempty"`
}

func (h *hookJSON) toHook() (*Hook, error) {
	set := 0
	var out Hook
	if h.Prefix != nil {
		set++
		out = Hook{Kind: KindPrefix, Prefix: *h.Prefix}
	}
	if h.Template != nil {
		set++
		out = Hook{Kind: KindTemplate, TemplatePattern: *h.Template}
	}
	if len(h.Bin) > 0 {
		set++
		out = Hook{Kind: KindCommand, Argv: h.Bin}
	}
	if h.GitHub != nil {
		set++
		if h.GitHub.Owner == "" || h.GitHub.Repo == "" {
			return nil, fmt.Errorf("github hook requires both owner and repo")
		}
		out = Hook{
			Kind:            KindGitHubRelease,
			GitHubOwner:     h.GitHub.Owner,
			GitHubRepo:      h.GitHub.Repo,
			GitHubTagPrefix: h.GitHub.TagPrefix,
		}
	}
	if set != 1 {
		return nil, fmt.Errorf("hook must set exactly one of prefix|template|bin|github, got %d", set)
	}
	return &out, nil
}

// ToolHooks bundles the optional hooks for one tool kind.
type ToolHooks struct {
	Index    *Hook
	Distro   *Hook
	Latest   *Hook
	LTS      *Hook
	Registry *Hook
	Sigstore *SigstorePolicy
}

// SigstorePolicy opts a tool kind into the sigstore signature layer
// (SPEC_FULL.md §4.C's `verify: "sigstore"` hook flag). Its presence,
// not any field within it, is the opt-in; Issuer/SANRegex narrow which
// signer identity is accepted and may both be left empty to accept any
// valid signature.
type SigstorePolicy struct {
	Issuer   string
	SANRegex string
}

type sigstorePolicyJSON struct {
	Verify   bool   `json:"verify"`
	Issuer   string `json:"issuer,omitempty"`
	SANRegex string `json:"sanRegex,omitempty"`
}

type toolHooksJSON struct {
	Index    *hookJSON           `json:"index,omitempty"`
	Distro   *hookJSON           `json:"distro,omitempty"`
	Latest   *hookJSON           `json:"latest,omitempty"`
	LTS      *hookJSON           `json:"lts,omitempty"`
	Registry *hookJSON           `json:"registry,omitempty"`
	Sigstore *sigstorePolicyJSON `json:"sigstore,omitempty"`
}

// knownToolKinds is the closed set of hooks-file top-level keys; any
// other key is rejected with BadHooks.
var knownToolKinds = map[string]bool{
	"node": true, "npm": true, "pnpm": true, "yarn": true, "packages": true,
}

// Config is the fully-merged hooks document for a session: one ToolHooks
// per known tool kind.
type Config struct {
	byKind map[string]ToolHooks
}

// Parse decodes a hooks.json document. Unknown tool kinds are rejected
// with errs.KindBadHooks; unknown per-hook fields are silently ignored.
func Parse(data []byte) (*Config, error) {
	var raw map[string]toolHooksJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errs.Wrap(errs.KindBadHooks, "parse", err)
	}

	cfg := &Config{byKind: make(map[string]ToolHooks, len(raw))}
	for kind, th := range raw {
		if !knownToolKinds[kind] {
			return nil, errs.New(errs.KindBadHooks, "parse").WithHint(fmt.Sprintf("unknown tool kind %q in hooks file", kind))
		}
		converted, err := convertToolHooks(th)
		if err != nil {
			return nil, errs.Wrap(errs.KindBadHooks, "parse", err).WithHint(fmt.Sprintf("tool kind %q", kind))
		}
		cfg.byKind[kind] = converted
	}
	return cfg, nil
}

func convertToolHooks(th toolHooksJSON) (ToolHooks, error) {
	var out ToolHooks
	var err error
	if th.Index != nil {
		if out.Index, err = th.Index.toHook(); err != nil {
			return out, fmt.Errorf("index: %w", err)
		}
	}
	if th.Distro != nil {
		if out.Distro, err = th.Distro.toHook(); err != nil {
			return out, fmt.Errorf("distro: %w", err)
		}
	}
	if th.Latest != nil {
		if out.Latest, err = th.Latest.toHook(); err != nil {
			return out, fmt.Errorf("latest: %w", err)
		}
	}
	if th.LTS != nil {
		if out.LTS, err = th.LTS.toHook(); err != nil {
			return out, fmt.Errorf("lts: %w", err)
		}
	}
	if th.Registry != nil {
		if out.Registry, err = th.Registry.toHook(); err != nil {
			return out, fmt.Errorf("registry: %w", err)
		}
	}
	if th.Sigstore != nil && th.Sigstore.Verify {
		out.Sigstore = &SigstorePolicy{Issuer: th.Sigstore.Issuer, SANRegex: th.Sigstore.SANRegex}
	}
	return out, nil
}

// ForKind returns the ToolHooks for kind, or the zero value if unset.
func (c *Config) ForKind(kind string) ToolHooks {
	if c == nil {
		return ToolHooks{}
	}
	return c.byKind[kind]
}

// Merge layers user on top of project: for each tool kind, each hook
// slot present in user overrides the corresponding slot from project;
// slots user leaves nil fall back to project's, so the user layer wins
// wherever both layers set a slot.
func Merge(project, user *Config) *Config {
	merged := &Config{byKind: make(map[string]ToolHooks)}
	for kind, th := range safeByKind(project) {
		merged.byKind[kind] = th
	}
	for kind, uth := range safeByKind(user) {
		base := merged.byKind[kind]
		merged.byKind[kind] = ToolHooks{
			Index:    firstNonNil(uth.Index, base.Index),
			Distro:   firstNonNil(uth.Distro, base.Distro),
			Latest:   firstNonNil(uth.Latest, base.Latest),
			LTS:      firstNonNil(uth.LTS, base.LTS),
			Registry: firstNonNil(uth.Registry, base.Registry),
			Sigstore: firstNonNil(uth.Sigstore, base.Sigstore),
		}
	}
	return merged
}

func safeByKind(c *Config) map[string]ToolHooks {
	if c == nil {
		return nil
	}
	return c.byKind
}

func firstNonNil[T any](a, b *T) *T {
	if a != nil {
		return a
	}
	return b
}

// Vars supplies the substitution values for a Template hook. A Prefix
// hook uses only Filename; a Command hook receives none of them.
type Vars struct {
	Version  string
	Filename string
	OS       string
	Arch     string
}

// placeholderPattern finds spec.md's literal `{{name}}` placeholders
// (no leading dot, unlike Go template field syntax) so Resolve can
// translate them into text/template's `{{.Name}}` before executing —
// keeping the corpus's text/template-based renderer (see
// internal/hooks's grounding note) while matching the hooks file's
// documented placeholder syntax exactly.
var placeholderPattern = regexp.MustCompile(`\{\{\s*(version|filename|os|arch)\s*\}\}`)

func toGoTemplate(pattern string) string {
	return placeholderPattern.ReplaceAllStringFunc(pattern, func(m string) string {
		name := placeholderPattern.FindStringSubmatch(m)[1]
		switch name {
		case "version":
			return "{{.Version}}"
		case "filename":
			return "{{.Filename}}"
		case "os":
			return "{{.OS}}"
		case "arch":
			return "{{.Arch}}"
		default:
			return m
		}
	})
}

// commandTimeout bounds a Command hook's subprocess; a hung hook command
// must not hang the whole invocation indefinitely.
const commandTimeout = 30 * time.Second

// Resolve produces the URL a Hook names: Prefix concatenates vars.Filename
// onto the prefix, Template substitutes placeholders, Command runs argv
// and reads a trimmed single line of stdout, GitHubRelease queries the
// repository's latest release tag directly (the result is a bare version,
// not a URL, like Command). A nil hook resolves to ("", false) so callers
// fall back to a built-in default.
func Resolve(ctx context.Context, h *Hook, vars Vars) (string, bool, error) {
	if h == nil {
		return "", false, nil
	}

	switch h.Kind {
	case KindPrefix:
		return strings.TrimSuffix(h.Prefix, "/") + "/" + vars.Filename, true, nil

	case KindTemplate:
		tmpl, err := template.New("hook").Parse(toGoTemplate(h.TemplatePattern))
		if err != nil {
			return "", false, errs.Wrap(errs.KindHookBadSpec, "resolve", err)
		}
		var buf bytes.Buffer
		if err := tmpl.Execute(&buf, vars); err != nil {
			return "", false, errs.Wrap(errs.KindHookBadSpec, "resolve", err)
		}
		return buf.String(), true, nil

	case KindCommand:
		return runCommandHook(ctx, h.Argv)

	case KindGitHubRelease:
		return runGitHubReleaseHook(ctx, h)

	default:
		return "", false, errs.New(errs.KindHookBadSpec, "resolve").WithHint("unknown hook kind")
	}
}

// runGitHubReleaseHook asks the GitHub Releases API for the repository's
// latest release tag and strips the configured prefix, authenticating
// with GITHUB_TOKEN/GH_TOKEN when set to avoid the unauthenticated
// per-IP rate limit.
func runGitHubReleaseHook(ctx context.Context, h *Hook) (string, bool, error) {
	client := github.NewHTTPClient(github.TokenFromEnv())
	version, err := github.GetLatestRelease(ctx, client, h.GitHubOwner, h.GitHubRepo, h.GitHubTagPrefix)
	if err != nil {
		return "", false, errs.Wrap(errs.KindHookFailed, "resolve", err).
			WithHint(fmt.Sprintf("github release lookup failed for %s/%s", h.GitHubOwner, h.GitHubRepo))
	}
	return version, true, nil
}

// runCommandHook runs argv with a clean environment (sans Volta's
// recursion guard, so the hook command cannot itself be misclassified
// as a recursive shim invocation) and reads a trimmed single line from
// stdout as the resolved URL.
func runCommandHook(ctx context.Context, argv []string) (string, bool, error) {
	if len(argv) == 0 {
		return "", false, errs.New(errs.KindHookBadSpec, "resolve").WithHint("command hook has an empty argv")
	}

	cctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	cmd := exec.CommandContext(cctx, argv[0], argv[1:]...)
	cmd.Env = cleanHookEnv()

	out, err := cmd.Output()
	if err != nil {
		return "", false, errs.Wrap(errs.KindHookFailed, "resolve", err).WithHint(fmt.Sprintf("command %q exited non-zero", strings.Join(argv, " ")))
	}

	line, _, _ := strings.Cut(string(out), "\n")
	return strings.TrimSpace(line), true, nil
}

// recursionGuardEnv matches internal/executor's env key; duplicated here
// as a literal (rather than imported) to keep hooks free of a dependency
// on executor, which in turn depends on hooks.
const recursionGuardEnv = "_VOLTA_TOOL_RECURSION"

func cleanHookEnv() []string {
	env := os.Environ()
	out := env[:0:0]
	for _, kv := range env {
		if strings.HasPrefix(kv, recursionGuardEnv+"=") {
			continue
		}
		out = append(out, kv)
	}
	return out
}
