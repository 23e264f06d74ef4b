// Package install implements the per-package install pipeline:
// download -> verify -> atomic rename -> unpack -> catalog record,
// idempotent and safe across cooperating processes.
package install

import (
	"archive/tar"
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/theckman/go-flock"

	"github.com/sworg/swbuild/internal/catalog"
	"github.com/sworg/swbuild/internal/fsutil"
	"github.com/sworg/swbuild/internal/pkgid"
	"github.com/sworg/swbuild/internal/storage"
	"github.com/sworg/swbuild/internal/swerr"
	"github.com/sworg/swbuild/internal/swlog"
)

// Fetcher is the capability a remote storage must expose for the installer
// to download a package's archive.
type Fetcher interface {
	Copy(id pkgid.PackageId, wantHash, wantLegacyHash, dst string) (storage.CopyResult, error)
}

// Installer drives one package's install pipeline against a LocalStorage.
type Installer struct {
	local *storage.LocalStorage
	log   *swlog.Logger
}

// New builds an Installer writing into local.
func New(local *storage.LocalStorage, log *swlog.Logger) *Installer {
	if log == nil {
		log = swlog.Nop()
	}
	return &Installer{local: local, log: log}
}

// Install runs the pipeline for pkg, fetched via remote, recording the
// result in the local catalog. It is idempotent: a prior successful
// install (catalog row + existing destination) short-circuits with no I/O,
// step 1.
func (in *Installer) Install(pkg *pkgid.Package, remote Fetcher) error {
	id := pkg.Id
	dest := in.local.PackageDir(id)

	if installed, err := in.isInstalled(id, dest); err != nil {
		return err
	} else if installed {
		return nil
	}

	data, err := pkg.Data()
	if err != nil {
		return swerr.Wrap(swerr.NotResolved, err, "install: load package data for %s", id.Name.String())
	}

	if data.OverriddenSourceDir != "" {
		return in.local.Catalog().SetSourceDir(id.Name.Path.Hash(), id.Name.Version.String(), data.OverriddenSourceDir)
	}

	if err := os.MkdirAll(dest, 0o755); err != nil {
		return swerr.Wrap(swerr.InternalInvariant, err, "install: create destination %s", dest)
	}

	lockPath := dest + ".lock"
	fl := flock.NewFlock(lockPath)
	locked, err := tryLockWithDeadline(fl, 60*time.Second)
	if err != nil {
		return swerr.Wrap(swerr.InternalInvariant, err, "install: lock %s", lockPath)
	}
	if !locked {
		return swerr.New(swerr.InternalInvariant, "install: timed out acquiring %s", lockPath)
	}
	defer fl.Unlock()

	// Re-check now that we hold the lock: another process may have raced us.
	if installed, err := in.isInstalled(id, dest); err != nil {
		return err
	} else if installed {
		return nil
	}

	archive := in.local.ArchivePath(id)
	defer os.Remove(archive) //  step 8: archive removed on scope exit, always

	staging := archive + ".new"
	result, err := remote.Copy(id, data.Hash, data.LegacyHash, staging)
	if err != nil {
		os.Remove(staging)
		return err
	}
	in.log.Debugf("install: %s fetched from %s (legacy=%v)", id.Name.String(), result.SourceURL, result.UsedLegacy)

	if err := fsutil.AtomicRename(staging, archive); err != nil {
		return swerr.Wrap(swerr.InternalInvariant, err, "install: publish archive for %s", id.Name.String())
	}

	if err := clearDirExcept(dest, archive); err != nil {
		return swerr.Wrap(swerr.InternalInvariant, err, "install: clear destination %s", dest)
	}
	if err := unpackTarGz(archive, dest, data.PrefixLength); err != nil {
		return swerr.Wrap(swerr.InternalInvariant, err, "install: unpack %s", archive)
	}

	finalHash := data.Hash
	if result.UsedLegacy {
		finalHash = data.LegacyHash
	}
	deps := make(map[string]string, len(data.Dependencies))
	for _, d := range data.Dependencies {
		deps[d.Path.Hash()] = d.Range.String()
	}
	return in.local.Catalog().Install(catalog.NewVersion{
		Path:         id.Name.Path.Hash(),
		Version:      id.Name.Version.String(),
		Prefix:       data.PrefixLength,
		ArchiveHash:  finalHash,
		Dependencies: deps,
	})
}

func (in *Installer) isInstalled(id pkgid.PackageId, dest string) (bool, error) {
	row, ok, err := in.local.Catalog().ExactVersion(id.Name.Path.Hash(), id.Name.Version)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	if row.Sdir != "" {
		return true, nil // overridden source dirs bypass the archive pipeline entirely
	}
	if _, err := os.Stat(dest); err != nil {
		return false, nil
	}
	return true, nil
}

// clearDirExcept removes every entry in dest other than keep.
func clearDirExcept(dest, keep string) error {
	entries, err := os.ReadDir(dest)
	if err != nil {
		return err
	}
	for _, e := range entries {
		full := filepath.Join(dest, e.Name())
		if full == keep {
			continue
		}
		if err := os.RemoveAll(full); err != nil {
			return err
		}
	}
	return nil
}

// unpackTarGz extracts a .tar.gz archive into dest, stripping prefix
// leading path segments from each member name.
func unpackTarGz(archive, dest string, prefix int) error {
	f, err := os.Open(archive)
	if err != nil {
		return err
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return err
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		rel := stripPrefix(hdr.Name, prefix)
		if rel == "" {
			continue
		}
		target := filepath.Join(dest, rel)

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, os.FileMode(hdr.Mode)); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, os.FileMode(hdr.Mode))
			if err != nil {
				return err
			}
			if _, err := io.Copy(out, tr); err != nil {
				out.Close()
				return err
			}
			out.Close()
		case tar.TypeSymlink:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			os.Remove(target)
			if err := os.Symlink(hdr.Linkname, target); err != nil {
				return err
			}
		}
	}
}

// stripPrefix removes the leading prefix path segments from a tar member
// name "PrefixLength" (the common single top-level
// directory most source archives wrap their contents in).
func stripPrefix(name string, prefix int) string {
	segs := strings.Split(filepath.ToSlash(filepath.Clean(name)), "/")
	if prefix >= len(segs) {
		return ""
	}
	return filepath.Join(segs[prefix:]...)
}

func tryLockWithDeadline(fl *flock.Flock, timeout time.Duration) (bool, error) {
	deadline := time.Now().Add(timeout)
	for {
		locked, err := fl.TryLock()
		if err != nil {
			return false, err
		}
		if locked {
			return true, nil
		}
		if time.Now().After(deadline) {
			return false, nil
		}
		time.Sleep(25 * time.Millisecond)
	}
}
