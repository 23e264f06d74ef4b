package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadParsesSettingsAndPlanOptions(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "swbuild.toml")
	content := `
prepare_jobs = 4
build_jobs = 2
build_dir = "out"
time_limit = "1d2h"
skip_errors = 3

[remote]
registry_url = "https://registry.example.org"
catalog_url = "https://registry.example.org/catalog.tar.gz"
catalog_version_url = "https://registry.example.org/catalog.version"
data_source_urls = ["https://cdn.example.org/{PHPF}/{FN}"]

[settings]
os = "linux"
arch = "amd64"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 4, cfg.Build.PrepareJobs)
	require.Equal(t, 2, cfg.Build.BuildJobs)
	require.Equal(t, "out", cfg.Build.BuildDir)
	require.Equal(t, 26*time.Hour, cfg.Build.Plan.TimeLimit)
	require.Equal(t, 3, cfg.Build.Plan.SkipErrors)
	require.Equal(t, "https://registry.example.org", cfg.Remote.RegistryURL)
	require.Len(t, cfg.Remote.DataSourceURLs, 1)

	osNode, ok := cfg.Root.Get("os")
	require.True(t, ok)
	require.Equal(t, "linux", osNode.String())
}

func TestLoadParsesRequires(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "swbuild.toml")
	content := `
[[requires]]
path = "org.sw.demo.hello"
range = "[1.0.0, *)"

[[requires]]
path = "org.sw.demo.world"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Len(t, cfg.Requires, 2)
	require.Equal(t, "org.sw.demo.hello", cfg.Requires[0].Path.String())
	require.Equal(t, "org.sw.demo.world", cfg.Requires[1].Path.String())
}

func TestParseDurationPlainSuffix(t *testing.T) {
	d, err := parseDuration("90s")
	require.NoError(t, err)
	require.Equal(t, 90*time.Second, d)
}

func TestParseDurationEmptyMeansUnlimited(t *testing.T) {
	d, err := parseDuration("")
	require.NoError(t, err)
	require.Zero(t, d)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "swbuild.toml")
	require.NoError(t, os.WriteFile(path, []byte("build_dir = \"out\"\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	cfg.Build.PrepareJobs = 8

	out := filepath.Join(dir, "roundtrip.toml")
	require.NoError(t, Save(out, cfg))

	reloaded, err := Load(out)
	require.NoError(t, err)
	require.Equal(t, 8, reloaded.Build.PrepareJobs)
}
