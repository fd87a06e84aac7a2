// Package semverx adapts Masterminds/semver/v3 to Volta's closed
// VersionSpec sum type: None, Exact(v), Range(r), Tag(Latest|LTS|Custom).
package semverx

import (
	"fmt"

	"github.com/Masterminds/semver/v3"
)

// Version is an immutable, orderable semver triple.
type Version struct {
	v *semver.Version
}

// ParseVersion parses a semver string such as "20.11.0".
func ParseVersion(s string) (Version, error) {
	v, err := semver.NewVersion(s)
	if err != nil {
		return Version{}, fmt.Errorf("invalid version %q: %w", s, err)
	}
	return Version{v: v}, nil
}

// MustParseVersion panics on invalid input; for use with literal constants.
func MustParseVersion(s string) Version {
	v, err := ParseVersion(s)
	if err != nil {
		panic(err)
	}
	return v
}

// String renders the version in canonical "major.minor.patch" form.
func (v Version) String() string {
	if v.v == nil {
		return ""
	}
	return v.v.String()
}

// Compare returns -1, 0, or 1 comparing v to other, per semver precedence.
func (v Version) Compare(other Version) int {
	return v.v.Compare(other.v)
}

// LessThan reports whether v orders before other.
func (v Version) LessThan(other Version) bool { return v.Compare(other) < 0 }

// Major, Minor, Patch expose the version's numeric components.
func (v Version) Major() uint64 { return v.v.Major() }
func (v Version) Minor() uint64 { return v.v.Minor() }
func (v Version) Patch() uint64 { return v.v.Patch() }

// IsZero reports whether v is the zero Version (unset).
func (v Version) IsZero() bool { return v.v == nil }

// Range is a semver constraint predicate, e.g. "^20.0.0" or ">=18 <21".
type Range struct {
	c   *semver.Constraints
	raw string
}

// ParseRange parses a semver range expression.
func ParseRange(s string) (Range, error) {
	c, err := semver.NewConstraint(s)
	if err != nil {
		return Range{}, fmt.Errorf("invalid range %q: %w", s, err)
	}
	return Range{c: c, raw: s}, nil
}

// Matches reports whether v satisfies the range.
func (r Range) Matches(v Version) bool { return r.c.Check(v.v) }

// String renders the range's original expression.
func (r Range) String() string { return r.raw }

// TagKind is the closed enum of symbolic version tags.
type TagKind int

const (
	TagLatest TagKind = iota
	TagLTS
	TagCustom
)

// Tag is a symbolic, non-numeric version reference. Custom carries a
// caller-supplied Label (e.g. a dist-tag like "nightly").
type Tag struct {
	Kind  TagKind
	Label string
}

func (t Tag) String() string {
	switch t.Kind {
	case TagLatest:
		return "latest"
	case TagLTS:
		return "lts"
	case TagCustom:
		return t.Label
	default:
		return "unknown"
	}
}

// SpecKind is the closed discriminant for VersionSpec.
type SpecKind int

const (
	SpecNone SpecKind = iota
	SpecExact
	SpecRange
	SpecTag
)

// VersionSpec is the closed sum type None | Exact(v) | Range(r) | Tag(t).
// Exactly one of the payload fields is meaningful, selected by Kind;
// callers must switch exhaustively over Kind rather than probing fields.
type VersionSpec struct {
	Kind  SpecKind
	exact Version
	rng   Range
	tag   Tag
}

// None constructs the unspecified VersionSpec variant.
func None() VersionSpec { return VersionSpec{Kind: SpecNone} }

// Exact constructs the Exact(v) VersionSpec variant.
func Exact(v Version) VersionSpec { return VersionSpec{Kind: SpecExact, exact: v} }

// RangeSpec constructs the Range(r) VersionSpec variant.
func RangeSpec(r Range) VersionSpec { return VersionSpec{Kind: SpecRange, rng: r} }

// TagSpec constructs the Tag(t) VersionSpec variant.
func TagSpec(t Tag) VersionSpec { return VersionSpec{Kind: SpecTag, tag: t} }

// AsExact returns the Exact payload; callers must check Kind == SpecExact first.
func (s VersionSpec) AsExact() Version { return s.exact }

// AsRange returns the Range payload; callers must check Kind == SpecRange first.
func (s VersionSpec) AsRange() Range { return s.rng }

// AsTag returns the Tag payload; callers must check Kind == SpecTag first.
func (s VersionSpec) AsTag() Tag { return s.tag }

// String renders a human-readable form for logging/error messages.
func (s VersionSpec) String() string {
	switch s.Kind {
	case SpecNone:
		return "<none>"
	case SpecExact:
		return s.exact.String()
	case SpecRange:
		return s.rng.String()
	case SpecTag:
		return s.tag.String()
	default:
		return "<unknown>"
	}
}

// Parse parses a user-supplied spec string into a VersionSpec: "" → None,
// "latest"/"lts" → the matching Tag, a valid semver → Exact, anything else
// attempted as a Range, falling back to Tag(Custom(label)) so dist-tags
// like "nightly" round-trip.
func Parse(s string) (VersionSpec, error) {
	switch s {
	case "":
		return None(), nil
	case "latest":
		return TagSpec(Tag{Kind: TagLatest}), nil
	case "lts":
		return TagSpec(Tag{Kind: TagLTS}), nil
	}

	if v, err := ParseVersion(s); err == nil {
		return Exact(v), nil
	}

	if r, err := ParseRange(s); err == nil {
		return RangeSpec(r), nil
	}

	return TagSpec(Tag{Kind: TagCustom, Label: s}), nil
}

// HighestSatisfying returns the highest-precedence Version in candidates
// that satisfies r, and true if one exists.
func HighestSatisfying(r Range, candidates []Version) (Version, bool) {
	var best Version
	found := false
	for _, c := range candidates {
		if !r.Matches(c) {
			continue
		}
		if !found || best.LessThan(c) {
			best = c
			found = true
		}
	}
	return best, found
}

// Highest returns the highest-precedence Version among candidates.
func Highest(candidates []Version) (Version, bool) {
	var best Version
	found := false
	for _, c := range candidates {
		if !found || best.LessThan(c) {
			best = c
			found = true
		}
	}
	return best, found
}
