package storage

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sworg/swbuild/internal/fsutil"
	"github.com/sworg/swbuild/internal/pkgid"
	"github.com/sworg/swbuild/internal/pkgpath"
	"github.com/sworg/swbuild/internal/swlog"
	"github.com/sworg/swbuild/internal/version"
)

func TestParseCatalogCSVSkipsDenyListColumns(t *testing.T) {
	csv := "path,version,prefix,archive_hash,internal_notes\n" +
		"example.org/foo,1.0.0,0,deadbeef,secret\n"

	rows, err := parseCatalogCSV(strings.NewReader(csv))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, []string{"example.org/foo", "1.0.0", "0", "deadbeef"}, rows[0])
}

func TestParseCatalogCSVEmptyBody(t *testing.T) {
	rows, err := parseCatalogCSV(strings.NewReader(""))
	require.NoError(t, err)
	require.Empty(t, rows)
}

// TestCopyRetriesOnceAfterReresolvingHash exercises the hash-mismatch retry
// path: every configured data source returns an archive whose strong hash
// does not match the hash the caller started with (simulating a stale
// catalog entry), so Copy must re-sync the mirrored catalog from the
// registry, pick up the fresh hash recorded there, and retry exactly once
// before succeeding.
func TestCopyRetriesOnceAfterReresolvingHash(t *testing.T) {
	content := []byte("archive contents for the retry test")
	tmpArchive := filepath.Join(t.TempDir(), "served-archive")
	require.NoError(t, os.WriteFile(tmpArchive, content, 0o644))
	freshHash, err := fsutil.StrongFileHash(tmpArchive)
	require.NoError(t, err)

	mux := http.NewServeMux()
	mux.HandleFunc("/data/archive", func(w http.ResponseWriter, req *http.Request) {
		w.Write(content)
	})
	mux.HandleFunc("/catalog.csv", func(w http.ResponseWriter, req *http.Request) {
		fmt.Fprintf(w, "path,version,prefix,archive_hash\norg.sw.demo.pkg,1.0.0,0,%s\n", freshHash)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	rs, err := NewRemoteStorage(RemoteSpec{
		CatalogURL:     srv.URL + "/catalog.csv",
		DataSourceURLs: []string{srv.URL + "/data/archive"},
	}, t.TempDir(), swlog.Nop())
	require.NoError(t, err)
	defer rs.Close()

	v, err := version.NewRelease("1.0.0")
	require.NoError(t, err)
	id := pkgid.PackageId{Name: pkgid.PackageName{Path: pkgpath.MustNew("org.sw.demo.pkg"), Version: v}}

	dst := filepath.Join(t.TempDir(), "out-archive")
	res, err := rs.Copy(id, "a-stale-hash-that-will-never-match", "", dst)
	require.NoError(t, err)
	require.Equal(t, srv.URL+"/data/archive", res.SourceURL)

	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	require.Equal(t, content, got)
}

// TestCopyFailsWhenReresolveStillMismatches confirms the retry is capped at
// one attempt: if the re-resolved hash still doesn't match what's actually
// downloadable, Copy propagates the failure rather than looping forever.
func TestCopyFailsWhenReresolveStillMismatches(t *testing.T) {
	content := []byte("archive contents that never match")

	mux := http.NewServeMux()
	mux.HandleFunc("/data/archive", func(w http.ResponseWriter, req *http.Request) {
		w.Write(content)
	})
	mux.HandleFunc("/catalog.csv", func(w http.ResponseWriter, req *http.Request) {
		fmt.Fprintf(w, "path,version,prefix,archive_hash\norg.sw.demo.pkg,1.0.0,0,still-wrong-hash\n")
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	rs, err := NewRemoteStorage(RemoteSpec{
		CatalogURL:     srv.URL + "/catalog.csv",
		DataSourceURLs: []string{srv.URL + "/data/archive"},
	}, t.TempDir(), swlog.Nop())
	require.NoError(t, err)
	defer rs.Close()

	v, err := version.NewRelease("1.0.0")
	require.NoError(t, err)
	id := pkgid.PackageId{Name: pkgid.PackageName{Path: pkgpath.MustNew("org.sw.demo.pkg"), Version: v}}

	dst := filepath.Join(t.TempDir(), "out-archive")
	_, err = rs.Copy(id, "a-stale-hash-that-will-never-match", "", dst)
	require.Error(t, err)
}
