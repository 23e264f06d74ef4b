// Package fsutil provides the atomic-rename and content-hash primitives
// the install pipeline and execution plan build on, grounded on the
// teacher's internal/fs package.
package fsutil

import (
	"os"

	"github.com/pkg/errors"
)

// AtomicRename moves src to dst, refusing to clobber an existing directory
// at dst. Used by the install pipeline to publish a verified, unpacked
// package tree only once it is complete.
func AtomicRename(src, dst string) error {
	fi, err := os.Stat(src)
	if err != nil {
		return errors.Wrapf(err, "fsutil: stat %s", src)
	}
	if dstfi, err := os.Stat(dst); err == nil {
		if fi.IsDir() && dstfi.IsDir() {
			return errors.Errorf("fsutil: refusing to rename directory %s onto existing %s", src, dst)
		}
	}
	return errors.Wrapf(os.Rename(src, dst), "fsutil: rename %s to %s", src, dst)
}
