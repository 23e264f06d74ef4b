// Package lockfile implements the JSON lock file: a
// record of every resolved package name used to seed the cache storage at
// the start of a build, with a human-readable diff logged on update.
package lockfile

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/sworg/swbuild/internal/pkgid"
	"github.com/sworg/swbuild/internal/pkgpath"
	"github.com/sworg/swbuild/internal/swerr"
	"github.com/sworg/swbuild/internal/swlog"
	"github.com/sworg/swbuild/internal/version"
)

// CurrentSchemaVersion is the only schema version this package
// understands; a lock file recording any other version is a fatal error.
const CurrentSchemaVersion = 1

// schema is the on-disk JSON shape.
type schema struct {
	Schema           schemaVersion           `json:"schema"`
	ResolvedPackages map[string]resolvedName `json:"resolved_packages"`
}

type schemaVersion struct {
	Version int `json:"version"`
}

type resolvedName struct {
	Package string `json:"package"`
}

// Lockfile is the in-memory, typed view of the JSON document.
type Lockfile struct {
	Resolved map[string]pkgid.PackageName
}

// New returns an empty lock file at the current schema version.
func New() *Lockfile {
	return &Lockfile{Resolved: make(map[string]pkgid.PackageName)}
}

// Load reads and parses path. A missing file is not an error: it returns
// an empty Lockfile, since the first build of a tree has no prior lock.
func Load(path string) (*Lockfile, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return New(), nil
	}
	if err != nil {
		return nil, swerr.Wrap(swerr.InvalidInput, err, "lockfile: read %s", path)
	}

	var doc schema
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, swerr.Wrap(swerr.InvalidInput, err, "lockfile: parse %s", path)
	}
	if doc.Schema.Version != CurrentSchemaVersion {
		return nil, swerr.New(swerr.InvalidInput, "lockfile: unsupported schema version %d (want %d)", doc.Schema.Version, CurrentSchemaVersion)
	}

	lf := New()
	for unresolved, r := range doc.ResolvedPackages {
		name, err := parsePackageName(r.Package)
		if err != nil {
			return nil, swerr.Wrap(swerr.InvalidInput, err, "lockfile: resolved entry %q", unresolved)
		}
		lf.Resolved[unresolved] = name
	}
	return lf, nil
}

// parsePackageName parses "<path>-<version>" as written by String(), the
// same form the catalog and Save round-trip through.
func parsePackageName(s string) (pkgid.PackageName, error) {
	// Versions themselves may contain '-' (pre-release identifiers such as
	// "1.2.3-beta"), so the split is not on the last '-': it is at the first
	// '-' whose suffix parses as a version and whose prefix is a valid path.
	for i := 0; i < len(s); i++ {
		if s[i] == '-' {
			pathPart, verPart := s[:i], s[i+1:]
			if v, err := version.Parse(verPart); err == nil {
				if p, ok := pkgpath.New(pathPart); ok {
					return pkgid.PackageName{Path: p, Version: v}, nil
				}
			}
		}
	}
	return pkgid.PackageName{}, fmt.Errorf("lockfile: cannot parse package name %q", s)
}

// Save writes lf to path as pretty-printed JSON, and logs an add/remove/
// version-change diff against prior (the previously-loaded Lockfile, or
// nil for a fresh one) via log.
func Save(path string, lf *Lockfile, prior *Lockfile, log *swlog.Logger) error {
	if log == nil {
		log = swlog.Nop()
	}
	logDiff(prior, lf, log)

	doc := schema{
		Schema:           schemaVersion{Version: CurrentSchemaVersion},
		ResolvedPackages: make(map[string]resolvedName, len(lf.Resolved)),
	}
	for unresolved, name := range lf.Resolved {
		doc.ResolvedPackages[unresolved] = resolvedName{Package: name.String()}
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return swerr.Wrap(swerr.InternalInvariant, err, "lockfile: marshal")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return swerr.Wrap(swerr.InvalidInput, err, "lockfile: write %s", path)
	}
	return nil
}

func logDiff(prior, next *Lockfile, log *swlog.Logger) {
	before := map[string]pkgid.PackageName{}
	if prior != nil {
		before = prior.Resolved
	}

	keys := make(map[string]struct{}, len(before)+len(next.Resolved))
	for k := range before {
		keys[k] = struct{}{}
	}
	for k := range next.Resolved {
		keys[k] = struct{}{}
	}
	sorted := make([]string, 0, len(keys))
	for k := range keys {
		sorted = append(sorted, k)
	}
	sort.Strings(sorted)

	for _, k := range sorted {
		oldName, hadOld := before[k]
		newName, hasNew := next.Resolved[k]
		switch {
		case hadOld && !hasNew:
			log.Infof("lockfile: removed %s (was %s)", k, oldName.String())
		case !hadOld && hasNew:
			log.Infof("lockfile: added %s -> %s", k, newName.String())
		case hadOld && hasNew && oldName.Version.String() != newName.Version.String():
			log.Infof("lockfile: %s changed %s -> %s", k, oldName.Version.String(), newName.Version.String())
		}
	}
}
