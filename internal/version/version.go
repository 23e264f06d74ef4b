// Package version implements the Version and VersionRange types: a
// structured release/pre-release version, or a branch name, plus
// disjunctive/conjunctive ranges of half-open version intervals.
package version

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/Masterminds/semver"
)

var branchPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Version is exactly one of: a branch name, a release, or a pre-release.
// The zero value is invalid; build one with NewRelease or NewBranch.
type Version struct {
	branch string // non-empty iff this is a branch
	sv     *semver.Version
}

// NewBranch builds a branch-form Version. Branch names are identifiers up
// to 200 characters matching [A-Za-z_][A-Za-z0-9_]*.
func NewBranch(name string) (Version, error) {
	if len(name) == 0 || len(name) > 200 || !branchPattern.MatchString(name) {
		return Version{}, fmt.Errorf("version: invalid branch name %q", name)
	}
	return Version{branch: name}, nil
}

// NewRelease parses a structured version string of the form
// "major.minor.patch[-pre][+build]" by passing s unchanged to
// semver.NewVersion. A fourth dotted tweak component ("1.2.3.4") is not
// accepted; a tweak can only be carried as a numeric build-metadata
// segment, which Tweak reads.
func NewRelease(s string) (Version, error) {
	sv, err := semver.NewVersion(s)
	if err != nil {
		return Version{}, fmt.Errorf("version: %w", err)
	}
	return Version{sv: sv}, nil
}

// IsBranch reports whether v is the branch form.
func (v Version) IsBranch() bool { return v.branch != "" }

// IsRelease reports whether v is a structured version with no pre-release
// tag.
func (v Version) IsRelease() bool {
	return v.sv != nil && v.sv.Prerelease() == ""
}

// IsPreRelease reports whether v is a structured version carrying a
// pre-release tag.
func (v Version) IsPreRelease() bool {
	return v.sv != nil && v.sv.Prerelease() != ""
}

// Branch returns the branch name; only meaningful when IsBranch is true.
func (v Version) Branch() string { return v.branch }

func (v Version) String() string {
	if v.IsBranch() {
		return v.branch
	}
	if v.sv == nil {
		return ""
	}
	return v.sv.String()
}

// Major/Minor/Patch expose the structured components; zero for branches.
func (v Version) Major() int64 {
	if v.sv == nil {
		return 0
	}
	return v.sv.Major()
}

func (v Version) Minor() int64 {
	if v.sv == nil {
		return 0
	}
	return v.sv.Minor()
}

func (v Version) Patch() int64 {
	if v.sv == nil {
		return 0
	}
	return v.sv.Patch()
}

// Tweak returns the fourth version component, if the original string
// carried one as a dot-separated metadata segment "tweak.N".
func (v Version) Tweak() int64 {
	if v.sv == nil {
		return 0
	}
	for _, seg := range strings.Split(v.sv.Metadata(), ".") {
		if n, err := strconv.ParseInt(seg, 10, 64); err == nil {
			return n
		}
	}
	return 0
}

// Equal reports whether v and o represent the same version. Branches
// compare equal only to identical branches; a branch never equals a
// release or pre-release.
func (v Version) Equal(o Version) bool {
	if v.IsBranch() || o.IsBranch() {
		return v.IsBranch() && o.IsBranch() && v.branch == o.branch
	}
	if v.sv == nil || o.sv == nil {
		return v.sv == o.sv
	}
	return v.sv.Equal(o.sv)
}

// Less orders releases above pre-releases, and both above/below each other
// by the usual semver precedence. Branches only ever compare equal to
// themselves; Less between a branch and anything else is undefined and
// always returns false (callers must special-case IsBranch before
// ordering).
func (v Version) Less(o Version) bool {
	if v.IsBranch() || o.IsBranch() {
		return false
	}
	if v.sv == nil || o.sv == nil {
		return false
	}
	return v.sv.LessThan(o.sv)
}

// Valid reports whether v was constructed through NewBranch/NewRelease
// rather than being the zero value.
func (v Version) Valid() bool {
	return v.branch != "" || v.sv != nil
}

// Parse round-trips a Version's String() form back into a Version,
// dispatching to NewRelease unless s fails to parse as one and matches the
// branch-name grammar instead. Used to reload versions recorded in the
// catalog or lock file.
func Parse(s string) (Version, error) {
	if sv, err := NewRelease(s); err == nil {
		return sv, nil
	}
	return NewBranch(s)
}
