// Package pkgid implements the PackageName/PackageId family and the
// package hash contract.
package pkgid

import (
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/blake2b"

	"github.com/sworg/swbuild/internal/pkgpath"
	"github.com/sworg/swbuild/internal/settings"
	"github.com/sworg/swbuild/internal/version"
)

// PackageName is a resolved (path, version) pair.
type PackageName struct {
	Path    pkgpath.Path
	Version version.Version
}

func (n PackageName) String() string {
	return fmt.Sprintf("%s-%s", n.Path.String(), n.Version.String())
}

// UnresolvedPackageName is a (path, version range) pair awaiting
// resolution.
type UnresolvedPackageName struct {
	Path  pkgpath.Path
	Range version.Range
}

func (n UnresolvedPackageName) String() string {
	return fmt.Sprintf("%s %s", n.Path.String(), n.Range.String())
}

// PackageId is a PackageName pinned to a concrete settings tree.
type PackageId struct {
	Name     PackageName
	Settings *settings.Node
}

// UnresolvedPackageId is an UnresolvedPackageName pinned to a concrete
// settings tree, the key under which a resolve request is made and cached.
type UnresolvedPackageId struct {
	Name     UnresolvedPackageName
	Settings *settings.Node
}

// SettingsHash returns the stable hash of the id's settings, used to key
// hash-path subdirectories and cache maps.
func (id PackageId) SettingsHash() uint64 {
	if id.Settings == nil {
		return 0
	}
	return id.Settings.Hash()
}

// Hash computes blake2b_512(lowercased-dotted-path + "-" + version string),
// package hash contract.
func Hash(path pkgpath.Path, v version.Version) [64]byte {
	input := path.Hash() + "-" + v.String()
	return blake2b.Sum512([]byte(input))
}

// HexHash is the full hex-encoded hash.
func HexHash(path pkgpath.Path, v version.Version) string {
	h := Hash(path, v)
	return hex.EncodeToString(h[:])
}

// ShortHash returns the first 8 hex characters of the package hash.
func ShortHash(path pkgpath.Path, v version.Version) string {
	full := HexHash(path, v)
	return full[:8]
}

// HashPathLocal splits the short hash into the local storage schema's two
// two-char subdirs
func HashPathLocal(path pkgpath.Path, v version.Version) []string {
	sh := ShortHash(path, v)
	return []string{sh[0:2], sh[2:4]}
}

// HashPathRemote splits the full hex hash into the remote storage schema's
// four two-char subdirs plus the remaining hex characters.
func HashPathRemote(path pkgpath.Path, v version.Version) (subdirs []string, remainder string) {
	full := HexHash(path, v)
	return []string{full[0:2], full[2:4], full[4:6], full[6:8]}, full[8:]
}

// Data is PackageData: metadata attached to an installed
// or resolvable package.
type Data struct {
	// Hash is the strong content hash of the source archive (hex).
	Hash string
	// LegacyHash is a weaker, legacy file hash used as a fallback match
	// during verification when Hash doesn't match.
	LegacyHash string
	// Dependencies is the package's dependency list as unresolved names.
	Dependencies []UnresolvedPackageName
	// PrefixLength is the number of leading path segments stripped from
	// archive member names on unpack.
	PrefixLength int
	// OverriddenSourceDir, if non-empty, means this package's source has
	// been locally overridden (catalog "sdir" column) and the archive
	// pipeline should be bypassed entirely.
	OverriddenSourceDir string
	// Files are the per-file records for this package's installed tree.
	Files []FileRecord
}

// FileRecord is one installed file's relative path and role, tracked in
// the catalog's package_version_file table.
type FileRecord struct {
	RelPath string
	Type    string
	Hash    string
}
