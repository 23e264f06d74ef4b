package lockfile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sworg/swbuild/internal/pkgid"
	"github.com/sworg/swbuild/internal/pkgpath"
	"github.com/sworg/swbuild/internal/version"
)

func TestLoadMissingFileReturnsEmpty(t *testing.T) {
	lf, err := Load(filepath.Join(t.TempDir(), "absent.lock.json"))
	require.NoError(t, err)
	require.Empty(t, lf.Resolved)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	p, ok := pkgpath.New("org.sw.demo.pkg")
	require.True(t, ok)
	v, err := version.NewRelease("1.2.3")
	require.NoError(t, err)

	lf := New()
	lf.Resolved["org.sw.demo.pkg *"] = pkgid.PackageName{Path: p, Version: v}

	path := filepath.Join(t.TempDir(), "lock.json")
	require.NoError(t, Save(path, lf, nil, nil))

	got, err := Load(path)
	require.NoError(t, err)
	require.Len(t, got.Resolved, 1)
	require.Equal(t, "1.2.3", got.Resolved["org.sw.demo.pkg *"].Version.String())
	require.True(t, got.Resolved["org.sw.demo.pkg *"].Path.Equal(p))
}

func TestLoadRejectsMismatchedSchemaVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lock.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"schema":{"version":2},"resolved_packages":{}}`), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}
