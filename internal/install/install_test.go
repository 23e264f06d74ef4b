package install

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sworg/swbuild/internal/fsutil"
	"github.com/sworg/swbuild/internal/pkgid"
	"github.com/sworg/swbuild/internal/pkgpath"
	"github.com/sworg/swbuild/internal/storage"
	"github.com/sworg/swbuild/internal/version"
)

// fakeFetcher writes a canned archive to dst regardless of the requested
// package, simulating a remote storage's Copy.
type fakeFetcher struct {
	archive []byte
	calls   int
}

func (f *fakeFetcher) Copy(id pkgid.PackageId, wantHash, wantLegacyHash, dst string) (storage.CopyResult, error) {
	f.calls++
	if err := os.WriteFile(dst, f.archive, 0o644); err != nil {
		return storage.CopyResult{}, err
	}
	return storage.CopyResult{SourceURL: "fake://source"}, nil
}

func buildTarGz(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for name, content := range files {
		hdr := &tar.Header{Name: name, Mode: 0o644, Size: int64(len(content)), Typeflag: tar.TypeReg}
		require.NoError(t, tw.WriteHeader(hdr))
		_, err := tw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	return buf.Bytes()
}

func testPackage(t *testing.T, data pkgid.Data) *pkgid.Package {
	t.Helper()
	path, ok := pkgpath.New("org.sw.demo.pkg")
	require.True(t, ok)
	v, err := version.NewRelease("1.0.0")
	require.NoError(t, err)
	id := pkgid.PackageId{Name: pkgid.PackageName{Path: path, Version: v}}
	return pkgid.NewPackage(id, stubLoader{data: data})
}

type stubLoader struct{ data pkgid.Data }

func (s stubLoader) LoadData(pkgid.PackageId) (pkgid.Data, error) { return s.data, nil }

func TestInstallDownloadsVerifiesAndUnpacks(t *testing.T) {
	root := t.TempDir()
	ls, err := storage.NewLocalStorage(root)
	require.NoError(t, err)
	t.Cleanup(func() { ls.Close() })

	archiveBytes := buildTarGz(t, map[string]string{
		"pkg-1.0.0/src/main.go": "package main\n",
	})
	tmp := filepath.Join(t.TempDir(), "archive.tar.gz")
	require.NoError(t, os.WriteFile(tmp, archiveBytes, 0o644))
	hash, err := fsutil.StrongFileHash(tmp)
	require.NoError(t, err)

	pkg := testPackage(t, pkgid.Data{Hash: hash, PrefixLength: 1})

	in := New(ls, nil)
	fetcher := &fakeFetcher{archive: archiveBytes}
	require.NoError(t, in.Install(pkg, fetcher))
	require.Equal(t, 1, fetcher.calls)

	dest := ls.PackageDir(pkg.Id)
	content, err := os.ReadFile(filepath.Join(dest, "src", "main.go"))
	require.NoError(t, err)
	require.Equal(t, "package main\n", string(content))

	row, ok, err := ls.Catalog().ExactVersion(pkg.Id.Name.Path.Hash(), pkg.Id.Name.Version)
	require.NoError(t, err)
	require.True(t, ok)
	require.NotZero(t, row.PackageVersionID)

	// Installing again must not re-fetch (idempotence).
	require.NoError(t, in.Install(pkg, fetcher))
	require.Equal(t, 1, fetcher.calls)
}

