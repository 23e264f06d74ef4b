// Package verselect holds the single version-acceptance policy,
// factored out so both the cross-storage ResolveRequest
// and a single storage's own internal ranking (e.g. the catalog choosing
// the best among its own known versions of a package) apply identical
// rules without the catalog having to depend on the storage package.
package verselect

import "github.com/sworg/swbuild/internal/version"

// Accepts reports whether candidate should replace current under
// acceptance rules:
//  1. no current -> accept
//  2. candidate is a branch, current is a version -> reject
//  3. current is pre-release, candidate is release -> accept
//  4. current is release, candidate is pre-release -> reject
//  5. otherwise accept iff current < candidate
func Accepts(current *version.Version, candidate version.Version) bool {
	if current == nil {
		return true
	}
	cur := *current
	if candidate.IsBranch() && !cur.IsBranch() {
		return false
	}
	if cur.IsPreRelease() && candidate.IsRelease() {
		return true
	}
	if cur.IsRelease() && candidate.IsPreRelease() {
		return false
	}
	return cur.Less(candidate)
}

// Best scans candidates satisfying rng and returns the one the acceptance
// policy would settle on, applying the rules in order of appearance.
func Best(candidates []version.Version, rng version.Range) (version.Version, bool) {
	var current *version.Version
	for _, c := range candidates {
		if !rng.Contains(c) {
			continue
		}
		if Accepts(current, c) {
			cc := c
			current = &cc
		}
	}
	if current == nil {
		return version.Version{}, false
	}
	return *current, true
}
