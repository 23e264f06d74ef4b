package fsutil

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"

	"github.com/pkg/errors"
	"golang.org/x/crypto/blake2b"
)

// StrongFileHash returns the hex blake2b_512 digest of the file at path,
// the primary archive-integrity hash.
func StrongFileHash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", errors.Wrapf(err, "fsutil: open %s for strong hash", path)
	}
	defer f.Close()

	h, err := blake2b.New512(nil)
	if err != nil {
		return "", errors.Wrap(err, "fsutil: init blake2b")
	}
	if _, err := io.Copy(h, f); err != nil {
		return "", errors.Wrapf(err, "fsutil: hash %s", path)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// LegacyFileHash returns the hex sha256 digest of the file at path, the
// weaker fallback hash checked when StrongFileHash doesn't match a
// catalog record written before the blake2b contract.
func LegacyFileHash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", errors.Wrapf(err, "fsutil: open %s for legacy hash", path)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", errors.Wrapf(err, "fsutil: hash %s", path)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
