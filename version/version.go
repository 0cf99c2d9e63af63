// Package version parses and orders the three-part versions used to gate
// language-server upgrades and Meson features.
package version

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/mod/semver"
)

// ErrInvalid is returned when a version does not have exactly three
// non-negative integer components.
var ErrInvalid = errors.New("invalid version")

// Version is a (major, minor, patch) triple.
type Version struct {
	Major int
	Minor int
	Patch int
}

// New builds a Version from exactly three non-negative components.
func New(parts ...int) (Version, error) {
	if len(parts) != 3 {
		return Version{}, fmt.Errorf("%w: want 3 components, got %d", ErrInvalid, len(parts))
	}
	for _, p := range parts {
		if p < 0 {
			return Version{}, fmt.Errorf("%w: negative component %d", ErrInvalid, p)
		}
	}
	return Version{Major: parts[0], Minor: parts[1], Patch: parts[2]}, nil
}

// MustNew is New for static tables; it panics on invalid input.
func MustNew(major, minor, patch int) Version {
	v, err := New(major, minor, patch)
	if err != nil {
		panic(err)
	}
	return v
}

// Parse reads "X.Y.Z", optionally prefixed with "v" and surrounded by
// whitespace. Pre-release and build suffixes are rejected.
func Parse(s string) (Version, error) {
	raw := strings.TrimPrefix(strings.TrimSpace(s), "v")
	fields := strings.Split(raw, ".")
	if len(fields) != 3 {
		return Version{}, fmt.Errorf("%w: %q: want 3 components, got %d", ErrInvalid, s, len(fields))
	}
	parts := make([]int, 0, 3)
	for _, f := range fields {
		n, err := strconv.Atoi(f)
		if err != nil || strings.HasPrefix(f, "+") || strings.HasPrefix(f, "-") {
			return Version{}, fmt.Errorf("%w: %q: component %q is not an integer", ErrInvalid, s, f)
		}
		parts = append(parts, n)
	}
	return New(parts...)
}

// ParseRelease reads the X.Y.Z release at the start of s and drops any
// pre-release or build suffix on the patch component, so "1.7.0rc1",
// "1.7.0.rc1" and "1.7.0-dev" all yield 1.7.0. Tools report versions this
// way; stored version records go through Parse.
func ParseRelease(s string) (Version, error) {
	raw := strings.TrimPrefix(strings.TrimSpace(s), "v")
	fields := strings.SplitN(raw, ".", 4)
	if len(fields) < 3 {
		return Version{}, fmt.Errorf("%w: %q: want 3 components, got %d", ErrInvalid, s, len(fields))
	}
	if len(fields) == 4 && (fields[3] == "" || isDigit(fields[3][0])) {
		return Version{}, fmt.Errorf("%w: %q: unexpected fourth component", ErrInvalid, s)
	}
	patch := fields[2]
	end := 0
	for end < len(patch) && isDigit(patch[end]) {
		end++
	}
	if end == 0 {
		return Version{}, fmt.Errorf("%w: %q: component %q is not an integer", ErrInvalid, s, patch)
	}
	return Parse(fields[0] + "." + fields[1] + "." + patch[:end])
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }

// String renders the version as "X.Y.Z".
func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// Compare returns a negative number when v < other, zero when equal and a
// positive number when v > other.
func (v Version) Compare(other Version) int {
	return Compare(v, other)
}

// Less reports whether v orders before other.
func (v Version) Less(other Version) bool {
	return Compare(v, other) < 0
}

// AtLeast reports whether v is the same as or newer than min.
func (v Version) AtLeast(min Version) bool {
	return Compare(v, min) >= 0
}

// Compare orders a and b by major, then minor, then patch.
func Compare(a, b Version) int {
	return semver.Compare(a.canonical(), b.canonical())
}

func (v Version) canonical() string {
	return "v" + v.String()
}
