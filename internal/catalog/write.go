package catalog

import (
	"database/sql"
	"time"

	"github.com/sworg/swbuild/internal/swerr"
)

// NewVersion is everything Install needs recorded for one package version,
// step 7.
type NewVersion struct {
	Path         string
	Version      string
	Prefix       int
	ArchiveHash  string
	Dependencies map[string]string // path -> version range string
}

// upsertPackage returns path's package_id, inserting a row if absent.
func upsertPackage(tx *sql.Tx, path string) (int64, error) {
	var id int64
	err := tx.QueryRow(`SELECT package_id FROM package WHERE path = ?`, path).Scan(&id)
	if err == nil {
		return id, nil
	}
	if err != sql.ErrNoRows {
		return 0, err
	}
	res, err := tx.Exec(`INSERT INTO package(path) VALUES (?)`, path)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// upsertFile returns hash's file_id, inserting a row if absent.
func upsertFile(tx *sql.Tx, hash string) (int64, error) {
	var id int64
	err := tx.QueryRow(`SELECT file_id FROM file WHERE hash = ?`, hash).Scan(&id)
	if err == nil {
		return id, nil
	}
	if err != sql.ErrNoRows {
		return 0, err
	}
	res, err := tx.Exec(`INSERT INTO file(hash) VALUES (?)`, hash)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// Install records a freshly-unpacked package version: upsert the package
// path, replace any prior row for this (package, version), and insert the
// version's file and dependency rows — all in one transaction.
func (c *Catalog) Install(nv NewVersion) error {
	return c.withWriteLock(func() error {
		tx, err := c.db.Begin()
		if err != nil {
			return swerr.Wrap(swerr.CatalogCorruption, err, "catalog: begin install tx for %s", nv.Path)
		}
		defer tx.Rollback()

		pid, err := upsertPackage(tx, nv.Path)
		if err != nil {
			return swerr.Wrap(swerr.CatalogCorruption, err, "catalog: upsert package %s", nv.Path)
		}

		// The file and dependency rows reference package_version with
		// foreign keys on, so they go first.
		for _, child := range []string{"package_version_file", "package_version_dependency"} {
			if _, err := tx.Exec(`
				DELETE FROM `+child+` WHERE package_version_id IN (
					SELECT package_version_id FROM package_version WHERE package_id = ? AND version = ?)`, pid, nv.Version); err != nil {
				return swerr.Wrap(swerr.CatalogCorruption, err, "catalog: clear prior %s rows for %s-%s", child, nv.Path, nv.Version)
			}
		}
		if _, err := tx.Exec(`DELETE FROM package_version WHERE package_id = ? AND version = ?`, pid, nv.Version); err != nil {
			return swerr.Wrap(swerr.CatalogCorruption, err, "catalog: clear prior version row for %s-%s", nv.Path, nv.Version)
		}

		res, err := tx.Exec(`
			INSERT INTO package_version(package_id, version, prefix, updated, sdir)
			VALUES (?, ?, ?, ?, NULL)`, pid, nv.Version, nv.Prefix, time.Now().Unix())
		if err != nil {
			return swerr.Wrap(swerr.CatalogCorruption, err, "catalog: insert version row for %s-%s", nv.Path, nv.Version)
		}
		pvid, err := res.LastInsertId()
		if err != nil {
			return swerr.Wrap(swerr.CatalogCorruption, err, "catalog: read new version id for %s-%s", nv.Path, nv.Version)
		}

		fid, err := upsertFile(tx, nv.ArchiveHash)
		if err != nil {
			return swerr.Wrap(swerr.CatalogCorruption, err, "catalog: upsert file %s", nv.ArchiveHash)
		}
		if _, err := tx.Exec(`
			INSERT INTO package_version_file(package_version_id, file_id, type, config_id, archive_version)
			VALUES (?, ?, 'archive', NULL, 1)`, pvid, fid); err != nil {
			return swerr.Wrap(swerr.CatalogCorruption, err, "catalog: insert file row for %s-%s", nv.Path, nv.Version)
		}

		for depPath, rng := range nv.Dependencies {
			depID, err := upsertPackage(tx, depPath)
			if err != nil {
				return swerr.Wrap(swerr.CatalogCorruption, err, "catalog: upsert dependency package %s", depPath)
			}
			if _, err := tx.Exec(`
				INSERT INTO package_version_dependency(package_version_id, package_id, version_range)
				VALUES (?, ?, ?)`, pvid, depID, rng); err != nil {
				return swerr.Wrap(swerr.CatalogCorruption, err, "catalog: insert dependency row %s -> %s", nv.Path, depPath)
			}
		}

		if err := tx.Commit(); err != nil {
			return swerr.Wrap(swerr.CatalogCorruption, err, "catalog: commit install tx for %s-%s", nv.Path, nv.Version)
		}
		return nil
	})
}

// SetSourceDir records path@version as locally overridden by sdir, the
// locally-overridden-source-directory feature.
func (c *Catalog) SetSourceDir(path, ver, sdir string) error {
	return c.withWriteLock(func() error {
		res, err := c.db.Exec(`
			UPDATE package_version SET sdir = ?
			WHERE package_id = (SELECT package_id FROM package WHERE path = ?) AND version = ?`,
			sdir, path, ver)
		if err != nil {
			return swerr.Wrap(swerr.CatalogCorruption, err, "catalog: set sdir for %s-%s", path, ver)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return swerr.Wrap(swerr.CatalogCorruption, err, "catalog: read rows affected for %s-%s", path, ver)
		}
		if n == 0 {
			return swerr.New(swerr.NotResolved, "catalog: no version row for %s-%s to override", path, ver)
		}
		return nil
	})
}

// SyncTime returns the last recorded remote sync time, or the zero time if
// the catalog has never been synced.
func (c *Catalog) SyncTime() (time.Time, error) {
	var v string
	err := c.db.QueryRow(`SELECT value FROM packages_meta WHERE key = 'sync_time'`).Scan(&v)
	if err == sql.ErrNoRows {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, swerr.Wrap(swerr.CatalogCorruption, err, "catalog: read sync_time")
	}
	sec, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, swerr.Wrap(swerr.CatalogCorruption, err, "catalog: parse sync_time %q", v)
	}
	return sec, nil
}

// SetSyncTime records now as the catalog's last remote-sync time.
func (c *Catalog) SetSyncTime(now time.Time) error {
	return c.withWriteLock(func() error {
		_, err := c.db.Exec(`
			INSERT INTO packages_meta(key, value) VALUES ('sync_time', ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value`, now.Format(time.RFC3339))
		if err != nil {
			return swerr.Wrap(swerr.CatalogCorruption, err, "catalog: write sync_time")
		}
		return nil
	})
}

// BulkLoadCSV replaces the catalog's package_version, package_version_file
// and package_version_dependency rows from a remote registry's CSV dump;
// package rows are upserted by path and never removed. Rows carry no ids:
// fresh ids are assigned on insert. Foreign keys are switched off for the
// duration and the whole load happens in one transaction so readers never
// see a partial catalog.
func (c *Catalog) BulkLoadCSV(rows [][]string) error {
	return c.withWriteLock(func() error {
		if _, err := c.db.Exec(`PRAGMA foreign_keys = OFF`); err != nil {
			return swerr.Wrap(swerr.CatalogCorruption, err, "catalog: disable foreign_keys for bulk load")
		}
		defer c.db.Exec(`PRAGMA foreign_keys = ON`)

		tx, err := c.db.Begin()
		if err != nil {
			return swerr.Wrap(swerr.CatalogCorruption, err, "catalog: begin bulk load tx")
		}
		defer tx.Rollback()

		if _, err := tx.Exec(`DELETE FROM package_version_dependency`); err != nil {
			return swerr.Wrap(swerr.CatalogCorruption, err, "catalog: clear dependencies for bulk load")
		}
		if _, err := tx.Exec(`DELETE FROM package_version_file`); err != nil {
			return swerr.Wrap(swerr.CatalogCorruption, err, "catalog: clear file rows for bulk load")
		}
		if _, err := tx.Exec(`DELETE FROM package_version`); err != nil {
			return swerr.Wrap(swerr.CatalogCorruption, err, "catalog: clear versions for bulk load")
		}

		// row layout: path, version, prefix, archive_hash
		for _, row := range rows {
			if len(row) < 4 {
				continue // rows with fewer than four columns are skipped, not fatal
			}
			path, ver, prefix, hash := row[0], row[1], row[2], row[3]
			pid, err := upsertPackage(tx, path)
			if err != nil {
				return swerr.Wrap(swerr.CatalogCorruption, err, "catalog: bulk upsert package %s", path)
			}
			res, err := tx.Exec(`
				INSERT INTO package_version(package_id, version, prefix, updated, sdir)
				VALUES (?, ?, ?, ?, NULL)`, pid, ver, prefix, time.Now().Unix())
			if err != nil {
				return swerr.Wrap(swerr.CatalogCorruption, err, "catalog: bulk insert version %s-%s", path, ver)
			}
			pvid, err := res.LastInsertId()
			if err != nil {
				return swerr.Wrap(swerr.CatalogCorruption, err, "catalog: bulk read version id %s-%s", path, ver)
			}
			fid, err := upsertFile(tx, hash)
			if err != nil {
				return swerr.Wrap(swerr.CatalogCorruption, err, "catalog: bulk upsert file %s", hash)
			}
			if _, err := tx.Exec(`
				INSERT INTO package_version_file(package_version_id, file_id, type, config_id, archive_version)
				VALUES (?, ?, 'archive', NULL, 1)`, pvid, fid); err != nil {
				return swerr.Wrap(swerr.CatalogCorruption, err, "catalog: bulk insert file row %s-%s", path, ver)
			}
		}

		if _, err := tx.Exec(`
			INSERT INTO packages_meta(key, value) VALUES ('sync_time', ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value`, time.Now().Format(time.RFC3339)); err != nil {
			return swerr.Wrap(swerr.CatalogCorruption, err, "catalog: write sync_time for bulk load")
		}

		if err := tx.Commit(); err != nil {
			return swerr.Wrap(swerr.CatalogCorruption, err, "catalog: commit bulk load tx")
		}
		return nil
	})
}
