package pkgid

import "sync"

// DataLoader is the minimal capability a storage must expose for a Package
// to lazily load its metadata; satisfied by storage.IStorage without
// pkgid importing the storage package (which itself depends on pkgid).
type DataLoader interface {
	LoadData(id PackageId) (Data, error)
}

// Package owns a reference to the storage that produced it and lazily
// loads its PackageData on first access.
type Package struct {
	Id      PackageId
	storage DataLoader

	once sync.Once
	data Data
	err  error
}

// NewPackage builds a Package bound to the storage that resolved it.
func NewPackage(id PackageId, storage DataLoader) *Package {
	return &Package{Id: id, storage: storage}
}

// Data returns the package's metadata, loading it from storage on first
// call and caching the result (or error) thereafter.
func (p *Package) Data() (Data, error) {
	p.once.Do(func() {
		p.data, p.err = p.storage.LoadData(p.Id)
	})
	return p.data, p.err
}

// Hash is this package's content hash
func (p *Package) Hash() [64]byte {
	return Hash(p.Id.Name.Path, p.Id.Name.Version)
}

// HexHash is the hex-encoded form of Hash.
func (p *Package) HexHash() string {
	return HexHash(p.Id.Name.Path, p.Id.Name.Version)
}

// ShortHash is the first 8 hex chars of Hash.
func (p *Package) ShortHash() string {
	return ShortHash(p.Id.Name.Path, p.Id.Name.Version)
}

// HashPathLocal is the local-storage-schema hash path for this package.
func (p *Package) HashPathLocal() []string {
	return HashPathLocal(p.Id.Name.Path, p.Id.Name.Version)
}

// HashPathRemote is the remote-storage-schema hash path for this package.
func (p *Package) HashPathRemote() (subdirs []string, remainder string) {
	return HashPathRemote(p.Id.Name.Path, p.Id.Name.Version)
}
