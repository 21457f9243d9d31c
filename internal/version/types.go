package version

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/nickromney-org/release-propagator/internal/failure"
)

// TagPrefix is prepended to a bare version to form its tag name
const TagPrefix = "v"

// pattern accepts MAJOR.MINOR.PATCH followed by a pre-release/build suffix.
// The suffix must survive a round trip through the quoted manifest value, so
// quotes, whitespace and control characters are refused.
var pattern = regexp.MustCompile(`^\d+\.\d+\.\d+([^\s"[:cntrl:]]+)?$`)

// Version is a validated bare release version (no "v" prefix)
type Version struct {
	raw    string
	semver *semver.Version // nil when the suffix is not semver-compatible (e.g. "1.2.3rc1")
}

// Parse validates s and returns a Version
func Parse(s string) (Version, error) {
	if s == "" {
		return Version{}, failure.Newf(failure.KindInvalidVersion, "version is empty")
	}
	if strings.HasPrefix(s, TagPrefix) {
		return Version{}, failure.Newf(failure.KindInvalidVersion, "version %q must not carry a %q prefix", s, TagPrefix)
	}
	if !pattern.MatchString(s) {
		return Version{}, failure.Newf(failure.KindInvalidVersion, "version %q is not MAJOR.MINOR.PATCH[suffix]", s)
	}

	if err := plumbing.NewTagReferenceName(TagPrefix + s).Validate(); err != nil {
		return Version{}, failure.Newf(failure.KindInvalidVersion, "version %q does not form a valid tag name", s)
	}

	v := Version{raw: s}
	if sv, err := semver.StrictNewVersion(s); err == nil {
		v.semver = sv
	}
	return v, nil
}

// MustParse is like Parse but panics on invalid input
func MustParse(s string) Version {
	v, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return v
}

// String returns the bare version
func (v Version) String() string { return v.raw }

// TagName returns the tag name for this version, e.g. "v1.2.3"
func (v Version) TagName() string { return TagPrefix + v.raw }

// IsZero reports whether v was never parsed
func (v Version) IsZero() bool { return v.raw == "" }

// IsPrerelease reports whether the version carries a pre-release suffix
func (v Version) IsPrerelease() bool {
	if v.semver != nil {
		return v.semver.Prerelease() != ""
	}
	return strings.ContainsAny(v.raw[len(core(v.raw)):], "abcdefghijklmnopqrstuvwxyz")
}

// IsDowngradeFrom reports whether v sorts before previous. Only used for
// warnings; either side failing to parse as semver yields false.
func (v Version) IsDowngradeFrom(previous string) bool {
	if v.semver == nil || previous == "" {
		return false
	}
	prev, err := semver.NewVersion(previous)
	if err != nil {
		return false
	}
	return v.semver.LessThan(prev)
}

// MarshalText implements encoding.TextMarshaler
func (v Version) MarshalText() ([]byte, error) { return []byte(v.raw), nil }

// UnmarshalText implements encoding.TextUnmarshaler
func (v *Version) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// StripTagPrefix removes a single leading "v" from a tag name
func StripTagPrefix(tag string) string {
	return strings.TrimPrefix(tag, TagPrefix)
}

// Format renders a version for humans, e.g. "v1.2.3 (pre-release)"
func Format(v Version) string {
	if v.IsPrerelease() {
		return fmt.Sprintf("%s (pre-release)", v.TagName())
	}
	return v.TagName()
}

// core returns the leading MAJOR.MINOR.PATCH portion of s
func core(s string) string {
	dots := 0
	for i, r := range s {
		switch {
		case r == '.':
			dots++
			if dots == 3 {
				return s[:i]
			}
		case r < '0' || r > '9':
			return s[:i]
		}
	}
	return s
}
