package fsutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStrongAndLegacyHashDiffer(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "archive.tar.gz")
	require.NoError(t, os.WriteFile(path, []byte("package contents"), 0o644))

	strong, err := StrongFileHash(path)
	require.NoError(t, err)
	legacy, err := LegacyFileHash(path)
	require.NoError(t, err)

	require.NotEmpty(t, strong)
	require.NotEmpty(t, legacy)
	require.NotEqual(t, strong, legacy)

	strong2, err := StrongFileHash(path)
	require.NoError(t, err)
	require.Equal(t, strong, strong2)
}

func TestAtomicRenameRefusesDirectoryClobber(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	dst := filepath.Join(dir, "dst")
	require.NoError(t, os.Mkdir(src, 0o755))
	require.NoError(t, os.Mkdir(dst, 0o755))

	err := AtomicRename(src, dst)
	require.Error(t, err)
}

func TestAtomicRenameMovesFreshDir(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	dst := filepath.Join(dir, "dst")
	require.NoError(t, os.Mkdir(src, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "f"), []byte("x"), 0o644))

	require.NoError(t, AtomicRename(src, dst))
	_, err := os.Stat(filepath.Join(dst, "f"))
	require.NoError(t, err)
}

func TestTreeFingerprintStableAndSensitiveToContent(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("one"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sub", "b.txt"), []byte("two"), 0o644))

	fp1, err := TreeFingerprint(dir)
	require.NoError(t, err)
	fp2, err := TreeFingerprint(dir)
	require.NoError(t, err)
	require.Equal(t, fp1, fp2)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("changed"), 0o644))
	fp3, err := TreeFingerprint(dir)
	require.NoError(t, err)
	require.NotEqual(t, fp1, fp3)
}
