package storage

import (
	"os"
	"path/filepath"
	"strconv"

	"github.com/karrick/godirwalk"

	"github.com/sworg/swbuild/internal/catalog"
	"github.com/sworg/swbuild/internal/pkgid"
	"github.com/sworg/swbuild/internal/pkgpath"
	"github.com/sworg/swbuild/internal/settings"
	"github.com/sworg/swbuild/internal/swerr"
	"github.com/sworg/swbuild/internal/version"
)

// LocalStorage is the content-addressed package store:
// a root directory laid out as
//
//	<root>/pkg/<hash_path>/p/<settings_hash>/<source_dir_name>/...
//	<root>/etc/database/1/packages.db
//
// backed by a SQLite catalog for version bookkeeping and resolution.
type LocalStorage struct {
	root string
	cat  *catalog.Catalog
}

// NewLocalStorage opens (creating if absent) the catalog at
// <root>/etc/database/1/packages.db and returns a LocalStorage rooted at
// root.
func NewLocalStorage(root string) (*LocalStorage, error) {
	dbDir := filepath.Join(root, "etc", "database", "1")
	if err := os.MkdirAll(dbDir, 0o755); err != nil {
		return nil, swerr.Wrap(swerr.CatalogCorruption, err, "local storage: create %s", dbDir)
	}
	cat, err := catalog.Open(filepath.Join(dbDir, "packages.db"))
	if err != nil {
		return nil, err
	}
	return &LocalStorage{root: root, cat: cat}, nil
}

// Close releases the underlying catalog handle.
func (l *LocalStorage) Close() error { return l.cat.Close() }

// Resolve looks up the best catalog version satisfying rr.Unresolved.Range,
// then confirms the package tree actually exists on disk before accepting
// it (a catalog row without its directory is not installed yet).
func (l *LocalStorage) Resolve(rr *ResolveRequest) bool {
	row, ok, err := l.cat.Resolve(rr.Unresolved.Path.Hash(), rr.Unresolved.Range)
	if err != nil || !ok {
		return false
	}

	name := pkgid.PackageName{Path: rr.Unresolved.Path, Version: row.Version}
	id := pkgid.PackageId{Name: name, Settings: rr.Settings}

	if row.Sdir == "" {
		dir := l.PackageDir(id)
		if _, err := os.Stat(dir); err != nil {
			return false
		}
	}

	pkg := pkgid.NewPackage(id, l)
	return rr.SetPackage(pkg)
}

// LoadData loads a resolved package's metadata from the catalog.
func (l *LocalStorage) LoadData(id pkgid.PackageId) (pkgid.Data, error) {
	row, ok, err := l.cat.ExactVersion(id.Name.Path.Hash(), id.Name.Version)
	if err != nil {
		return pkgid.Data{}, err
	}
	if !ok {
		return pkgid.Data{}, swerr.New(swerr.NotResolved, "local storage: %s not in catalog", id.Name.String())
	}

	deps, err := l.cat.DependenciesOf(row.PackageVersionID)
	if err != nil {
		return pkgid.Data{}, err
	}
	var depNames []pkgid.UnresolvedPackageName
	for path, rngStr := range deps {
		p, ok := pkgpath.New(path)
		if !ok {
			continue
		}
		rng, err := version.ParseRange(rngStr)
		if err != nil {
			continue
		}
		depNames = append(depNames, pkgid.UnresolvedPackageName{Path: p, Range: rng})
	}

	files, err := l.cat.FilesOf(row.PackageVersionID)
	if err != nil {
		return pkgid.Data{}, err
	}
	data := pkgid.Data{
		Dependencies:        depNames,
		OverriddenSourceDir: row.Sdir,
	}
	for _, f := range files {
		if f.Type == "archive" {
			data.Hash = f.Hash
		}
	}
	return data, nil
}

// PackageDir returns the directory a package's source tree is expected at,
// layout.
func (l *LocalStorage) PackageDir(id pkgid.PackageId) string {
	hp := pkgid.HashPathLocal(id.Name.Path, id.Name.Version)
	return filepath.Join(append([]string{l.root, "pkg"}, append(hp, "p", strconv.FormatUint(id.SettingsHash(), 16), sourceDirName(id.Name))...)...)
}

func sourceDirName(n pkgid.PackageName) string {
	return n.Path.String() + "-" + n.Version.String()
}

// ArchivePath returns the published archive location for id, inside its
// <hash_path> directory next to "p" rather than inside PackageDir
// (`<hash_path>/<settings_hash>.tar.gz`).
func (l *LocalStorage) ArchivePath(id pkgid.PackageId) string {
	hp := pkgid.HashPathLocal(id.Name.Path, id.Name.Version)
	return filepath.Join(append([]string{l.root, "pkg"}, hp...)...) + "/" + strconv.FormatUint(id.SettingsHash(), 16) + ".tar.gz"
}

// Catalog exposes the underlying catalog for the install pipeline.
func (l *LocalStorage) Catalog() *catalog.Catalog { return l.cat }

// Sweep walks every installed package directory under root (each
// <hash_path>/p/<settings_hash> directory) and calls fn on it. Nothing in
// this module calls it.
func (l *LocalStorage) Sweep(fn func(path string) error) error {
	pkgRoot := filepath.Join(l.root, "pkg")
	if _, err := os.Stat(pkgRoot); err != nil {
		return nil
	}
	return godirwalk.Walk(pkgRoot, &godirwalk.Options{
		Callback: func(path string, de *godirwalk.Dirent) error {
			if de.IsDir() && filepath.Base(filepath.Dir(path)) == "p" {
				return fn(path)
			}
			return nil
		},
		Unsorted: true,
	})
}

