package catalog

import "github.com/sworg/swbuild/internal/swerr"

// schemaDDL creates the essential tables, using
// CREATE TABLE IF NOT EXISTS so Open is idempotent across processes.
// The exact SQL schema is explicitly a non-goal: only the
// semantic contract — these five tables and their columns — is fixed.
const schemaDDL = `
CREATE TABLE IF NOT EXISTS package (
	package_id INTEGER PRIMARY KEY,
	path       TEXT NOT NULL UNIQUE COLLATE NOCASE
);

CREATE TABLE IF NOT EXISTS package_version (
	package_version_id INTEGER PRIMARY KEY,
	package_id          INTEGER NOT NULL REFERENCES package(package_id),
	version             TEXT NOT NULL,
	prefix              INTEGER NOT NULL DEFAULT 0,
	updated             INTEGER NOT NULL,
	sdir                TEXT,
	UNIQUE(package_id, version)
);

CREATE TABLE IF NOT EXISTS package_version_dependency (
	package_version_id INTEGER NOT NULL REFERENCES package_version(package_version_id),
	package_id          INTEGER NOT NULL REFERENCES package(package_id),
	version_range       TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS file (
	file_id INTEGER PRIMARY KEY,
	hash    TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS package_version_file (
	package_version_id INTEGER NOT NULL REFERENCES package_version(package_version_id),
	file_id             INTEGER NOT NULL REFERENCES file(file_id),
	type                TEXT NOT NULL,
	config_id           TEXT,
	archive_version     INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS packages_meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_package_version_package_id ON package_version(package_id);
CREATE INDEX IF NOT EXISTS idx_pvd_package_version_id ON package_version_dependency(package_version_id);
CREATE INDEX IF NOT EXISTS idx_pvf_package_version_id ON package_version_file(package_version_id);
`

func (c *Catalog) migrate() error {
	if _, err := c.db.Exec(schemaDDL); err != nil {
		return swerr.Wrap(swerr.CatalogCorruption, err, "catalog: migrate schema")
	}
	return nil
}
