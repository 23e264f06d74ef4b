// Package storage implements the chain-of-responsibility resolver and its
// concrete storages: CachedStorage, LocalStorage,
// and RemoteStorage, all behind the IStorage interface.
package storage

import (
	"github.com/sworg/swbuild/internal/pkgid"
	"github.com/sworg/swbuild/internal/settings"
	"github.com/sworg/swbuild/internal/verselect"
	"github.com/sworg/swbuild/internal/version"
)

// IStorage is the interface every storage in the resolver chain satisfies.
type IStorage interface {
	// Resolve attempts to fill in rr.result with this storage's best
	// candidate for rr's unresolved name; it returns true iff it found and
	// accepted a candidate.
	Resolve(rr *ResolveRequest) bool
	// LoadData lazily loads a resolved package's metadata.
	LoadData(id pkgid.PackageId) (pkgid.Data, error)
}

// ResolveRequest carries one resolution in flight through the storage
// chain, accumulating the best candidate seen so far under SetPackage's
// acceptance rules.
type ResolveRequest struct {
	Unresolved pkgid.UnresolvedPackageName
	Settings   *settings.Node

	result *pkgid.Package
}

// NewResolveRequest builds a fresh, unresolved request.
func NewResolveRequest(u pkgid.UnresolvedPackageName, s *settings.Node) *ResolveRequest {
	return &ResolveRequest{Unresolved: u, Settings: s}
}

// IsResolved reports whether a candidate has been accepted.
func (rr *ResolveRequest) IsResolved() bool {
	return rr.result != nil
}

// Result returns the currently-accepted candidate, or nil.
func (rr *ResolveRequest) Result() *pkgid.Package {
	return rr.result
}

// SetPackage applies the acceptance rules, evaluated in order:
//  1. no current result -> accept
//  2. candidate is a branch, current is a version -> reject
//  3. current is pre-release, candidate is release -> accept (promote)
//  4. current is release, candidate is pre-release -> reject
//  5. otherwise accept iff current.version < candidate.version
//
// Returns true iff the candidate was accepted.
func (rr *ResolveRequest) SetPackage(candidate *pkgid.Package) bool {
	var cur *version.Version
	if rr.result != nil {
		v := rr.result.Id.Name.Version
		cur = &v
	}
	if !verselect.Accepts(cur, candidate.Id.Name.Version) {
		return false
	}
	rr.result = candidate
	return true
}

// SetPackageForce unconditionally assigns candidate, bypassing the
// acceptance rules; used by the cache storage.
func (rr *ResolveRequest) SetPackageForce(candidate *pkgid.Package) {
	rr.result = candidate
}

// versionSatisfies is a small helper shared by storages that need to filter
// candidates against rr.Unresolved.Range before calling SetPackage.
func versionSatisfies(rng version.Range, v version.Version) bool {
	return rng.Contains(v)
}
