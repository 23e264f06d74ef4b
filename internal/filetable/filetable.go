// Package filetable is the central file arena shared across a build: a
// stable-index table of absolute file paths that commands reference by
// index instead of by shared pointer, each record keyed by its path and
// carrying an mtime and a content hash.
package filetable

import (
	"os"
	"sync"
	"time"
)

// ID is a stable index into a Table.
type ID int

// Record is one file keyed by its absolute path.
type Record struct {
	Path  string
	mtime time.Time
	hash  string
}

// Table interns absolute file paths into stable IDs so that commands and
// the execution plan can hold small integers instead of pointers or path
// strings, and so that two commands referencing the same path always share
// one Record.
type Table struct {
	mu      sync.RWMutex
	byPath  map[string]ID
	records []Record
}

// New returns an empty table.
func New() *Table {
	return &Table{byPath: make(map[string]ID)}
}

// Intern returns the stable ID for path, creating a Record if this is the
// first time the path has been seen.
func (t *Table) Intern(path string) ID {
	t.mu.RLock()
	if id, ok := t.byPath[path]; ok {
		t.mu.RUnlock()
		return id
	}
	t.mu.RUnlock()

	t.mu.Lock()
	defer t.mu.Unlock()
	if id, ok := t.byPath[path]; ok {
		return id
	}
	id := ID(len(t.records))
	t.records = append(t.records, Record{Path: path})
	t.byPath[path] = id
	return id
}

// Path returns the absolute path for id.
func (t *Table) Path(id ID) string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.records[id].Path
}

// Stat refreshes the cached mtime for id by statting the underlying file;
// the content hash is left as it is. Missing files yield a zero mtime.
func (t *Table) Stat(id ID) (mtime time.Time, exists bool) {
	t.mu.RLock()
	path := t.records[id].Path
	t.mu.RUnlock()

	fi, err := os.Stat(path)
	if err != nil {
		return time.Time{}, false
	}

	t.mu.Lock()
	t.records[id].mtime = fi.ModTime()
	t.mu.Unlock()
	return fi.ModTime(), true
}

// MTime returns the last mtime observed by Stat for id, without restatting.
func (t *Table) MTime(id ID) time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.records[id].mtime
}

// SetHash records a content hash for id (computed by the caller). Nothing
// else in the table reads or computes it; Hash returns it as stored.
func (t *Table) SetHash(id ID, hash string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.records[id].hash = hash
}

func (t *Table) Hash(id ID) string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.records[id].hash
}

// Len returns the number of interned paths.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.records)
}
