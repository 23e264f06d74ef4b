package catalog

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sworg/swbuild/internal/version"
)

func openMemory(t *testing.T) *Catalog {
	t.Helper()
	c, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	c.lock = nil // in-memory tests don't exercise cross-process locking
	return c
}

func TestOpenCreatesSchema(t *testing.T) {
	c := openMemory(t)

	rows, err := c.Versions("example.org/foo")
	require.NoError(t, err)
	require.Empty(t, rows)
}

func TestInstallAndResolve(t *testing.T) {
	c := openMemory(t)

	err := c.Install(NewVersion{
		Path:        "example.org/foo",
		Version:     "1.2.3",
		Prefix:      1,
		ArchiveHash: "deadbeef",
		Dependencies: map[string]string{
			"example.org/bar": ">=1.0.0",
		},
	})
	require.NoError(t, err)

	min, err := version.NewRelease("1.0.0")
	require.NoError(t, err)
	rng := version.NewIntervalRange(&min, nil)

	row, ok, err := c.Resolve("example.org/foo", rng)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "1.2.3", row.Version.String())

	deps, err := c.DependenciesOf(row.PackageVersionID)
	require.NoError(t, err)
	require.Equal(t, ">=1.0.0", deps["example.org/bar"])

	files, err := c.FilesOf(row.PackageVersionID)
	require.NoError(t, err)
	require.Len(t, files, 1)
	require.Equal(t, "deadbeef", files[0].Hash)
}

func TestInstallReplacesPriorVersion(t *testing.T) {
	c := openMemory(t)

	mk := func(hash string) NewVersion {
		return NewVersion{Path: "example.org/foo", Version: "1.0.0", ArchiveHash: hash}
	}
	require.NoError(t, c.Install(mk("first")))
	require.NoError(t, c.Install(mk("second")))

	rows, err := c.Versions("example.org/foo")
	require.NoError(t, err)
	require.Len(t, rows, 1)

	files, err := c.FilesOf(rows[0].PackageVersionID)
	require.NoError(t, err)
	require.Equal(t, "second", files[0].Hash)
}

func TestSetSourceDirRequiresExistingVersion(t *testing.T) {
	c := openMemory(t)

	err := c.SetSourceDir("example.org/foo", "1.0.0", "/src/foo")
	require.Error(t, err)

	require.NoError(t, c.Install(NewVersion{Path: "example.org/foo", Version: "1.0.0", ArchiveHash: "h"}))
	require.NoError(t, c.SetSourceDir("example.org/foo", "1.0.0", "/src/foo"))
}

func TestSyncTimeRoundTrip(t *testing.T) {
	c := openMemory(t)

	zero, err := c.SyncTime()
	require.NoError(t, err)
	require.True(t, zero.IsZero())

	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, c.SetSyncTime(now))

	got, err := c.SyncTime()
	require.NoError(t, err)
	require.True(t, got.Equal(now))
}

func TestBulkLoadCSVReplacesCatalog(t *testing.T) {
	c := openMemory(t)
	require.NoError(t, c.Install(NewVersion{Path: "stale.org/pkg", Version: "0.1.0", ArchiveHash: "stale"}))

	err := c.BulkLoadCSV([][]string{
		{"example.org/foo", "2.0.0", "0", "freshhash"},
	})
	require.NoError(t, err)

	stale, err := c.Versions("stale.org/pkg")
	require.NoError(t, err)
	require.Empty(t, stale)

	fresh, err := c.Versions("example.org/foo")
	require.NoError(t, err)
	require.Len(t, fresh, 1)
	require.Equal(t, "2.0.0", fresh[0].Version.String())
}
