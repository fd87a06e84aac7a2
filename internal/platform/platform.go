// Package platform defines the shared tool-kind and image value types and
// implements the platform resolver: combining project, default, and
// override sources into the effective Image an Executor invocation runs
// against.
package platform

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/volta-toolchain/volta/internal/errs"
	"github.com/volta-toolchain/volta/internal/layout"
	"github.com/volta-toolchain/volta/internal/project"
	"github.com/volta-toolchain/volta/internal/semverx"
)

// Source is the closed enum of where a Sourced value came from. Higher
// values win when two sources disagree: CommandLine > Project > Default,
// with Binary sitting alongside CommandLine for package-binary pins.
type Source int

const (
	SourceDefault Source = iota
	SourceProject
	SourceBinary
	SourceCommandLine
)

func (s Source) String() string {
	switch s {
	case SourceDefault:
		return "default"
	case SourceProject:
		return "project"
	case SourceBinary:
		return "binary"
	case SourceCommandLine:
		return "command-line"
	default:
		return "unknown"
	}
}

// Sourced pairs a value with the provenance that produced it, so
// diagnostics can explain a resolution and conflicting sources can be
// ranked deterministically.
type Sourced[T any] struct {
	Value  T
	Origin Source
}

// ToolKind is the closed set of tool kinds the resolution pipeline
// reasons about. Runtime/Npm/Pnpm/Yarn are "platform tools" that
// co-reside in an Image; Package is a third-party CLI installed from the
// public registry.
type ToolKind int

const (
	KindRuntime ToolKind = iota
	KindNpm
	KindPnpm
	KindYarn
	KindPackage
)

func (k ToolKind) String() string {
	switch k {
	case KindRuntime:
		return "runtime"
	case KindNpm:
		return "npm"
	case KindPnpm:
		return "pnpm"
	case KindYarn:
		return "yarn"
	case KindPackage:
		return "package"
	default:
		return "unknown"
	}
}

// IsPlatformTool reports whether k co-resides in an Image (true for
// Runtime/Npm/Pnpm/Yarn, false for Package).
func (k ToolKind) IsPlatformTool() bool { return k != KindPackage }

// BinaryNames returns the default invocation names the executor
// recognizes as this ToolKind's platform-tool entry points. Runtime also
// answers for "node" itself plus "npx", which always rides along with npm.
func (k ToolKind) BinaryNames() []string {
	switch k {
	case KindRuntime:
		return []string{"node", "npx"}
	case KindNpm:
		return []string{"npm"}
	case KindPnpm:
		return []string{"pnpm"}
	case KindYarn:
		return []string{"yarn"}
	default:
		return nil
	}
}

// Image is the effective platform: the runtime version plus whichever
// package managers are pinned. Invariant: if an entry is present, its
// version has a materialized installation in the inventory by the time
// the Image reaches the Executor.
type Image struct {
	Runtime Sourced[semverx.Version]
	Npm     *Sourced[semverx.Version]
	Pnpm    *Sourced[semverx.Version]
	Yarn    *Sourced[semverx.Version]
}

// Inputs is the layered stack the resolver merges, highest-precedence
// first: a per-invocation Override, a package binary's pinned
// BinaryOrigin image, the nearest Project manifest's pinned platform, and
// the user's Default platform.
type Inputs struct {
	Override     *Image
	BinaryOrigin *Image
	Project      *Image
	Default      *Image
}

// Resolve merges Inputs by precedence (Override > BinaryOrigin > Project
// > Default) field by field, tagging each chosen field with its Source.
// Fails with errs.KindNoPlatform if no layer supplies a runtime version
// and requireRuntime is true (fetch operations may proceed without one).
func Resolve(in Inputs, requireRuntime bool) (Image, error) {
	var out Image

	if rt, ok := pickRuntime(in); ok {
		out.Runtime = rt
	} else if requireRuntime {
		return Image{}, errs.New(errs.KindNoPlatform, "resolve").
			WithHint("pin a runtime version in the project manifest or set a user default")
	}

	out.Npm = pickOptional(in, func(i *Image) *Sourced[semverx.Version] { return i.Npm })
	out.Pnpm = pickOptional(in, func(i *Image) *Sourced[semverx.Version] { return i.Pnpm })
	out.Yarn = pickOptional(in, func(i *Image) *Sourced[semverx.Version] { return i.Yarn })

	return out, nil
}

func pickRuntime(in Inputs) (Sourced[semverx.Version], bool) {
	for _, img := range []*Image{in.Override, in.BinaryOrigin, in.Project, in.Default} {
		if img != nil && !img.Runtime.Value.IsZero() {
			return img.Runtime, true
		}
	}
	return Sourced[semverx.Version]{}, false
}

func pickOptional(in Inputs, field func(*Image) *Sourced[semverx.Version]) *Sourced[semverx.Version] {
	for _, img := range []*Image{in.Override, in.BinaryOrigin, in.Project, in.Default} {
		if img == nil {
			continue
		}
		if v := field(img); v != nil {
			return v
		}
	}
	return nil
}

// ProjectImage converts a project manifest's persisted PinnedPlatform
// into an Image tagged SourceProject. Returns (nil, nil) when pinned is
// empty (no pin in this manifest).
func ProjectImage(pinned project.PinnedPlatform) (*Image, error) {
	return imageFromPinned(pinned, SourceProject)
}

// DefaultImage converts the user's persisted default platform into an
// Image tagged SourceDefault.
func DefaultImage(pinned project.PinnedPlatform) (*Image, error) {
	return imageFromPinned(pinned, SourceDefault)
}

func imageFromPinned(pinned project.PinnedPlatform, origin Source) (*Image, error) {
	rt, hasRuntime, err := pinned.NodeVersion()
	if err != nil {
		return nil, err
	}
	img := &Image{}
	if hasRuntime {
		img.Runtime = Sourced[semverx.Version]{Value: rt, Origin: origin}
	}

	if v, present, err := pinned.NpmVersion(); err != nil {
		return nil, err
	} else if present {
		img.Npm = &Sourced[semverx.Version]{Value: v, Origin: origin}
	}
	if v, present, err := pinned.PnpmVersion(); err != nil {
		return nil, err
	} else if present {
		img.Pnpm = &Sourced[semverx.Version]{Value: v, Origin: origin}
	}
	if v, present, err := pinned.YarnVersion(); err != nil {
		return nil, err
	} else if present {
		img.Yarn = &Sourced[semverx.Version]{Value: v, Origin: origin}
	}
	if !hasRuntime && img.Npm == nil && img.Pnpm == nil && img.Yarn == nil {
		return nil, nil
	}
	return img, nil
}

// BinaryImage converts an installed package's recorded pinned platform
// into an Image tagged SourceBinary — spec.md §3's "a packaged CLI pins
// the image it was installed with", consulted by the Executor for
// package-binary invocations ahead of the project/default layers.
func BinaryImage(pinned project.PinnedPlatform) (*Image, error) {
	return imageFromPinned(pinned, SourceBinary)
}

// Pinned converts img back into the Exact-only PinnedPlatform shape
// persisted alongside a project manifest, a user default, or a package
// record. Any slot without a materialized version is omitted.
func (img Image) Pinned() project.PinnedPlatform {
	var out project.PinnedPlatform
	if !img.Runtime.Value.IsZero() {
		s := img.Runtime.Value.String()
		out.Node = &s
	}
	if img.Npm != nil {
		s := img.Npm.Value.String()
		out.Npm = &s
	}
	if img.Pnpm != nil {
		s := img.Pnpm.Value.String()
		out.Pnpm = &s
	}
	if img.Yarn != nil {
		s := img.Yarn.Value.String()
		out.Yarn = &s
	}
	return out
}

// LoadDefault reads the user-scoped default platform from disk. Returns
// a zero PinnedPlatform if the file does not yet exist.
func LoadDefault(l *layout.Layout) (project.PinnedPlatform, error) {
	data, err := os.ReadFile(l.DefaultPlatformFile())
	if err != nil {
		if os.IsNotExist(err) {
			return project.PinnedPlatform{}, nil
		}
		return project.PinnedPlatform{}, errs.Wrap(errs.KindFilesystem, "load-default", err)
	}
	var pinned project.PinnedPlatform
	if err := json.Unmarshal(data, &pinned); err != nil {
		return project.PinnedPlatform{}, errs.Wrap(errs.KindBadManifest, "load-default", err)
	}
	return pinned, nil
}

// SaveDefault atomically persists the user-scoped default platform.
func SaveDefault(l *layout.Layout, pinned project.PinnedPlatform) error {
	if err := layout.EnsureDir(l.UserDir()); err != nil {
		return errs.Wrap(errs.KindFilesystem, "save-default", err)
	}
	data, err := json.MarshalIndent(pinned, "", "  ")
	if err != nil {
		return errs.Wrap(errs.KindBadManifest, "save-default", err)
	}

	path := l.DefaultPlatformFile()
	tmp, err := os.CreateTemp(filepath.Dir(path), ".volta-default-*.tmp")
	if err != nil {
		return errs.Wrap(errs.KindFilesystem, "save-default", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errs.Wrap(errs.KindFilesystem, "save-default", err)
	}
	if err := tmp.Close(); err != nil {
		return errs.Wrap(errs.KindFilesystem, "save-default", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return errs.Wrap(errs.KindFilesystem, "save-default", err)
	}
	return nil
}

// String renders kv for log fields (e.g. slog.Any("image", img)).
func (img Image) String() string {
	s := fmt.Sprintf("runtime=%s(%s)", img.Runtime.Value, img.Runtime.Origin)
	if img.Npm != nil {
		s += fmt.Sprintf(" npm=%s(%s)", img.Npm.Value, img.Npm.Origin)
	}
	if img.Pnpm != nil {
		s += fmt.Sprintf(" pnpm=%s(%s)", img.Pnpm.Value, img.Pnpm.Origin)
	}
	if img.Yarn != nil {
		s += fmt.Sprintf(" yarn=%s(%s)", img.Yarn.Value, img.Yarn.Origin)
	}
	return s
}
