// Package catalog implements the SQLite catalog of known packages,
// versions, dependencies, and installed files: a cross-process-safe,
// WAL-mode database opened read-write for migration/install and
// read-only for lookups.
package catalog

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/theckman/go-flock"

	"github.com/sworg/swbuild/internal/swerr"
)

// Catalog wraps the packages.db SQLite database plus the file lock that
// gates cross-process writes.
type Catalog struct {
	db   *sql.DB
	path string
	lock *flock.Flock
	mu   sync.Mutex // serializes writes from within this process
}

// Open opens (creating if absent) the catalog at path, in read-write mode,
// with WAL journaling and a 60s busy timeout.
func Open(path string) (*Catalog, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=60000&_foreign_keys=on", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, swerr.Wrap(swerr.CatalogCorruption, err, "catalog: open %s", path)
	}
	c := &Catalog{
		db:   db,
		path: path,
		lock: flock.NewFlock(path + ".lock"),
	}
	if err := c.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return c, nil
}

// OpenReadOnly opens the catalog for lookups only; no migration or file
// lock is attempted.
func OpenReadOnly(path string) (*Catalog, error) {
	dsn := fmt.Sprintf("file:%s?mode=ro&_busy_timeout=60000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, swerr.Wrap(swerr.CatalogCorruption, err, "catalog: open read-only %s", path)
	}
	return &Catalog{db: db, path: path}, nil
}

func (c *Catalog) Close() error {
	return c.db.Close()
}

// withWriteLock serializes writers both within this process (mutex) and
// across processes (flock on <db>.lock)
func (c *Catalog) withWriteLock(fn func() error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.lock != nil {
		deadline := time.Now().Add(60 * time.Second)
		for {
			locked, err := c.lock.TryLock()
			if err != nil {
				return swerr.Wrap(swerr.CatalogCorruption, err, "catalog: acquire write lock")
			}
			if locked {
				break
			}
			if time.Now().After(deadline) {
				return swerr.New(swerr.CatalogCorruption, "catalog: timed out acquiring write lock on %s", c.lock.Path())
			}
			time.Sleep(25 * time.Millisecond)
		}
		defer c.lock.Unlock()
	}
	return fn()
}
