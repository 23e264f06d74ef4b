package storage

// Resolver is an ordered chain of storages, queried in sequence: a cache
// first, then local storage, then one or more remote storages. A
// resolution that lands on a branch stops the chain early since no later
// storage can improve on a branch match.
type Resolver struct {
	storages []IStorage
	cache    *CachedStorage // first element of storages, if present; kept for writeback
}

// NewResolver builds a resolver over storages in priority order. If the
// first storage is a *CachedStorage, its writeback is wired automatically.
func NewResolver(storages ...IStorage) *Resolver {
	r := &Resolver{storages: storages}
	if len(storages) > 0 {
		if c, ok := storages[0].(*CachedStorage); ok {
			r.cache = c
		}
	}
	return r
}

// Resolve runs rr through the chain:
//
//	for s in storages:
//	    if s.resolve(rr):
//	        if rr.result.version.isBranch(): break
//	return rr.isResolved()
//
// On success, the cache storage (if any) is updated with (u, s) -> package
// so the next lookup for the same name skips straight to the cache.
func (r *Resolver) Resolve(rr *ResolveRequest) bool {
	for _, s := range r.storages {
		if s.Resolve(rr) {
			if rr.Result().Id.Name.Version.IsBranch() {
				break
			}
		}
	}

	if rr.IsResolved() && r.cache != nil {
		r.cache.StorePackages(rr.Unresolved, rr.Settings, rr.Result())
	}
	return rr.IsResolved()
}
