package catalog

import (
	"database/sql"

	"github.com/sworg/swbuild/internal/swerr"
	"github.com/sworg/swbuild/internal/verselect"
	"github.com/sworg/swbuild/internal/version"
)

// FileRow is one package_version_file entry: the archive (or config
// variant) recorded against a package version
type FileRow struct {
	Hash           string
	Type           string
	ConfigID       string
	ArchiveVersion int
}

// VersionRow is one row of package_version joined with its owning path,
// enough to reconstruct a pkgid.PackageId.
type VersionRow struct {
	PackageVersionID int64
	PackageID        int64
	Path             string
	Version          version.Version
	Sdir             string
}

// packageID returns the package_id for path, or sql.ErrNoRows if unknown.
func (c *Catalog) packageID(path string) (int64, error) {
	var id int64
	err := c.db.QueryRow(`SELECT package_id FROM package WHERE path = ?`, path).Scan(&id)
	return id, err
}

// Versions returns every known version of path, newest acceptance order
// left to caller (use verselect.Best to pick one).
func (c *Catalog) Versions(path string) ([]VersionRow, error) {
	pid, err := c.packageID(path)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, swerr.Wrap(swerr.CatalogCorruption, err, "catalog: lookup package %s", path)
	}

	rows, err := c.db.Query(`
		SELECT package_version_id, version, prefix, sdir
		FROM package_version
		WHERE package_id = ?`, pid)
	if err != nil {
		return nil, swerr.Wrap(swerr.CatalogCorruption, err, "catalog: list versions of %s", path)
	}
	defer rows.Close()

	var out []VersionRow
	for rows.Next() {
		var (
			pvid   int64
			verStr string
			prefix int
			sdir   sql.NullString
		)
		if err := rows.Scan(&pvid, &verStr, &prefix, &sdir); err != nil {
			return nil, swerr.Wrap(swerr.CatalogCorruption, err, "catalog: scan version row for %s", path)
		}
		v, err := version.Parse(verStr)
		if err != nil {
			continue // tolerate rows written by a newer schema's version grammar
		}
		out = append(out, VersionRow{
			PackageVersionID: pvid,
			PackageID:        pid,
			Path:             path,
			Version:          v,
			Sdir:             sdir.String,
		})
	}
	return out, rows.Err()
}

// Resolve applies the shared acceptance policy (internal/verselect) to the
// catalog's own known versions of path within rng
func (c *Catalog) Resolve(path string, rng version.Range) (VersionRow, bool, error) {
	rows, err := c.Versions(path)
	if err != nil {
		return VersionRow{}, false, err
	}
	vs := make([]version.Version, len(rows))
	byVersion := make(map[string]VersionRow, len(rows))
	for i, r := range rows {
		vs[i] = r.Version
		byVersion[r.Version.String()] = r
	}
	best, ok := verselect.Best(vs, rng)
	if !ok {
		return VersionRow{}, false, nil
	}
	return byVersion[best.String()], true, nil
}

// ExactVersion returns the catalog row for path pinned at exactly ver (no
// acceptance-policy ranking), used to reload a package's own metadata once
// its version is already known.
func (c *Catalog) ExactVersion(path string, ver version.Version) (VersionRow, bool, error) {
	rows, err := c.Versions(path)
	if err != nil {
		return VersionRow{}, false, err
	}
	for _, r := range rows {
		if r.Version.Equal(ver) {
			return r, true, nil
		}
	}
	return VersionRow{}, false, nil
}

// DependenciesOf returns the recorded dependency ranges for a package
// version, keyed by the dependency's path.
func (c *Catalog) DependenciesOf(packageVersionID int64) (map[string]string, error) {
	rows, err := c.db.Query(`
		SELECT p.path, d.version_range
		FROM package_version_dependency d
		JOIN package p ON p.package_id = d.package_id
		WHERE d.package_version_id = ?`, packageVersionID)
	if err != nil {
		return nil, swerr.Wrap(swerr.CatalogCorruption, err, "catalog: load dependencies")
	}
	defer rows.Close()

	out := map[string]string{}
	for rows.Next() {
		var path, rng string
		if err := rows.Scan(&path, &rng); err != nil {
			return nil, swerr.Wrap(swerr.CatalogCorruption, err, "catalog: scan dependency row")
		}
		out[path] = rng
	}
	return out, rows.Err()
}

// FilesOf returns the archive/config file rows recorded against a package
// version.
func (c *Catalog) FilesOf(packageVersionID int64) ([]FileRow, error) {
	rows, err := c.db.Query(`
		SELECT f.hash, pvf.type, pvf.config_id, pvf.archive_version
		FROM package_version_file pvf
		JOIN file f ON f.file_id = pvf.file_id
		WHERE pvf.package_version_id = ?`, packageVersionID)
	if err != nil {
		return nil, swerr.Wrap(swerr.CatalogCorruption, err, "catalog: load files")
	}
	defer rows.Close()

	var out []FileRow
	for rows.Next() {
		var (
			hash, typ string
			configID  sql.NullString
			archiveV  int
		)
		if err := rows.Scan(&hash, &typ, &configID, &archiveV); err != nil {
			return nil, swerr.Wrap(swerr.CatalogCorruption, err, "catalog: scan file row")
		}
		out = append(out, FileRow{Hash: hash, Type: typ, ConfigID: configID.String, ArchiveVersion: archiveV})
	}
	return out, rows.Err()
}
