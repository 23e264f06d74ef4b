package storage

import (
	"sync"

	"github.com/sworg/swbuild/internal/pkgid"
	"github.com/sworg/swbuild/internal/settings"
)

// CachedStorage is the in-memory, per-process front of the resolver
// chain: a map keyed by unresolved name (path and range) -> settings hash
// -> Package, guarded by a reader-writer lock. It holds no persistence;
// it is repopulated fresh each process, typically seeded from the lock
// file.
type CachedStorage struct {
	mu sync.RWMutex
	m  map[string]map[uint64]*pkgid.Package
}

// NewCachedStorage returns an empty cache.
func NewCachedStorage() *CachedStorage {
	return &CachedStorage{m: make(map[string]map[uint64]*pkgid.Package)}
}

// unresolvedKey keys the cache on the full unresolved name: path alone is
// not enough, since two requests for the same path with different ranges
// must resolve independently (a cache hit for "foo [1.0,2.0)" must never
// satisfy a later request for "foo [2.0,3.0)").
func unresolvedKey(u pkgid.UnresolvedPackageName) string {
	return u.Path.Hash() + " " + u.Range.String()
}

// Resolve is a read-under-shared-lock lookup; a hit is set with
// SetPackageForce, bypassing the usual acceptance rules. The Resolver still
// queries the later storages after a hit, and they may replace the cached
// package under those rules.
func (c *CachedStorage) Resolve(rr *ResolveRequest) bool {
	key := unresolvedKey(rr.Unresolved)
	sh := uint64(0)
	if rr.Settings != nil {
		sh = rr.Settings.Hash()
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	bySettings, ok := c.m[key]
	if !ok {
		return false
	}
	pkg, ok := bySettings[sh]
	if !ok {
		return false
	}
	rr.SetPackageForce(pkg)
	return true
}

// LoadData always returns errNoDirectLoad: the cache holds no metadata
// beyond the Package it stored, and that Package carries its own storage
// reference for loading.
func (c *CachedStorage) LoadData(id pkgid.PackageId) (pkgid.Data, error) {
	return pkgid.Data{}, errNoDirectLoad
}

// StorePackages is a write-under-exclusive-lock insert/update keyed by the
// full unresolved name (path and range) and settings hash.
func (c *CachedStorage) StorePackages(u pkgid.UnresolvedPackageName, s *settings.Node, pkg *pkgid.Package) {
	key := unresolvedKey(u)
	sh := uint64(0)
	if s != nil {
		sh = s.Hash()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	bySettings, ok := c.m[key]
	if !ok {
		bySettings = make(map[uint64]*pkgid.Package)
		c.m[key] = bySettings
	}
	bySettings[sh] = pkg
}

// Seed pre-populates the cache from an external source (the lock file's
// unresolved -> resolved map)
func (c *CachedStorage) Seed(u pkgid.UnresolvedPackageName, s *settings.Node, pkg *pkgid.Package) {
	c.StorePackages(u, s, pkg)
}
