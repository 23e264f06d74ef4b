package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sworg/swbuild/internal/catalog"
	"github.com/sworg/swbuild/internal/pkgid"
	"github.com/sworg/swbuild/internal/pkgpath"
	"github.com/sworg/swbuild/internal/version"
)

func TestLocalStorageResolveRequiresDirectoryPresence(t *testing.T) {
	root := t.TempDir()
	ls, err := NewLocalStorage(root)
	require.NoError(t, err)
	t.Cleanup(func() { ls.Close() })

	require.NoError(t, ls.Catalog().Install(catalog.NewVersion{
		Path:        "org.sw.demo.pkg",
		Version:     "1.0.0",
		ArchiveHash: "h",
	}))

	path, ok := pkgpath.New("org.sw.demo.pkg")
	require.True(t, ok)
	rng := version.Everything()

	rr := NewResolveRequest(pkgid.UnresolvedPackageName{Path: path, Range: rng}, nil)
	require.False(t, ls.Resolve(rr), "catalog row exists but package directory doesn't")

	v, err := version.NewRelease("1.0.0")
	require.NoError(t, err)
	dir := ls.PackageDir(pkgid.PackageId{Name: pkgid.PackageName{Path: path, Version: v}})
	require.NoError(t, os.MkdirAll(dir, 0o755))

	rr2 := NewResolveRequest(pkgid.UnresolvedPackageName{Path: path, Range: rng}, nil)
	require.True(t, ls.Resolve(rr2))
	require.Equal(t, "1.0.0", rr2.Result().Id.Name.Version.String())
}

func TestLocalStorageLoadData(t *testing.T) {
	root := t.TempDir()
	ls, err := NewLocalStorage(root)
	require.NoError(t, err)
	t.Cleanup(func() { ls.Close() })

	require.NoError(t, ls.Catalog().Install(catalog.NewVersion{
		Path:        "org.sw.demo.pkg",
		Version:     "1.0.0",
		ArchiveHash: "abc123",
		Dependencies: map[string]string{
			"org.sw.demo.dep": "[1.0.0, *)",
		},
	}))

	path, _ := pkgpath.New("org.sw.demo.pkg")
	v, err := version.NewRelease("1.0.0")
	require.NoError(t, err)
	id := pkgid.PackageId{Name: pkgid.PackageName{Path: path, Version: v}}

	data, err := ls.LoadData(id)
	require.NoError(t, err)
	require.Equal(t, "abc123", data.Hash)
	require.Len(t, data.Dependencies, 1)
	require.Equal(t, "org.sw.demo.dep", data.Dependencies[0].Path.String())
}

func TestLocalStoragePackageDirLayout(t *testing.T) {
	root := t.TempDir()
	path, _ := pkgpath.New("org.sw.demo.pkg")
	v, err := version.NewRelease("1.0.0")
	require.NoError(t, err)
	ls := &LocalStorage{root: root}

	dir := ls.PackageDir(pkgid.PackageId{Name: pkgid.PackageName{Path: path, Version: v}})
	require.True(t, filepath.IsAbs(dir) || filepath.IsAbs(root))
	require.Contains(t, dir, filepath.Join(root, "pkg"))
	require.Contains(t, dir, "org.sw.demo.pkg-1.0.0")
}
