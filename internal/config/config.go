// Package config loads the build-settings file and maps it onto the
// settings tree, in the same read-raw-struct/toml.Unmarshal idiom used
// elsewhere in this tree for TOML documents.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml"
	"github.com/pkg/errors"

	"github.com/sworg/swbuild/internal/build"
	"github.com/sworg/swbuild/internal/pkgpath"
	"github.com/sworg/swbuild/internal/plan"
	"github.com/sworg/swbuild/internal/settings"
	"github.com/sworg/swbuild/internal/version"
)

// FileName is the default build-settings file name looked for in the
// project root.
const FileName = "swbuild.toml"

// rawConfig is the on-disk TOML shape; field names are deliberately flat
// so a settings file stays easy to hand-write.
type rawConfig struct {
	PrepareJobs int               `toml:"prepare_jobs"`
	BuildJobs   int               `toml:"build_jobs"`
	BuildDir    string            `toml:"build_dir"`
	TimeLimit   string            `toml:"time_limit"`
	SkipErrors  int               `toml:"skip_errors"`
	BuildAlways bool              `toml:"build_always"`
	TimeTrace   bool              `toml:"time_trace"`
	Remote      rawRemote         `toml:"remote"`
	Settings    map[string]string `toml:"settings"`
	Requires    []rawRequire      `toml:"requires"`
}

// rawRequire is one top-level target this build resolves and builds,
// named by package path and an (optional) version range string in
// version.ParseRange's "[lo, hi)" / "||" / bare-branch-name form; an
// empty range means "any version".
type rawRequire struct {
	Path  string `toml:"path"`
	Range string `toml:"range"`
}

// Require is the parsed, typed form of a rawRequire.
type Require struct {
	Path  pkgpath.Path
	Range version.Range
}

type rawRemote struct {
	RegistryURL       string   `toml:"registry_url"`
	CatalogURL        string   `toml:"catalog_url"`
	CatalogVersionURL string   `toml:"catalog_version_url"`
	DataSourceURLs    []string `toml:"data_source_urls"`
	GitMirrorURL      string   `toml:"git_mirror_url"`
}

// Settings is the parsed, typed form of a build-settings file.
type Settings struct {
	Build  build.Config
	Remote rawRemote
	// Root is the settings tree built from the file's [settings] table,
	// one leaf string node per key Node kinds.
	Root *settings.Node
	// Requires is the top-level target list a CLI driver turns into a
	// build.EntryPoint.
	Requires []Require
}

// Load reads path (a TOML file) and returns its parsed Settings. CLI flags
// are expected to override individual fields on the returned value after
// Load returns.
func Load(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "config: read settings file")
	}

	var raw rawConfig
	if err := toml.Unmarshal(data, &raw); err != nil {
		return nil, errors.Wrap(err, "config: parse settings file as TOML")
	}

	root := settings.New()
	for k, v := range raw.Settings {
		child, err := root.Child(k)
		if err != nil {
			return nil, errors.Wrapf(err, "config: settings key %q", k)
		}
		child.MergeAndAssign(settings.NewString(v))
	}

	timeLimit, err := parseDuration(raw.TimeLimit)
	if err != nil {
		return nil, errors.Wrap(err, "config: time_limit")
	}

	requires := make([]Require, 0, len(raw.Requires))
	for _, r := range raw.Requires {
		p, ok := pkgpath.New(r.Path)
		if !ok {
			return nil, errors.Errorf("config: requires: invalid package path %q", r.Path)
		}
		rng := version.Everything()
		if r.Range != "" {
			rng, err = version.ParseRange(r.Range)
			if err != nil {
				return nil, errors.Wrapf(err, "config: requires: range for %q", r.Path)
			}
		}
		requires = append(requires, Require{Path: p, Range: rng})
	}

	return &Settings{
		Build: build.Config{
			BuildDir:     raw.BuildDir,
			RootSettings: root,
			PrepareJobs:  raw.PrepareJobs,
			BuildJobs:    raw.BuildJobs,
			Plan: buildPlanOptions(raw, timeLimit),
		},
		Remote:   raw.Remote,
		Root:     root,
		Requires: requires,
	}, nil
}

// Save writes s back out as TOML, e.g. after a CLI flag override, so the
// settings file stays in sync with the effective configuration.
func Save(path string, s *Settings) error {
	requires := make([]rawRequire, 0, len(s.Requires))
	for _, r := range s.Requires {
		requires = append(requires, rawRequire{Path: r.Path.String(), Range: r.Range.String()})
	}

	raw := rawConfig{
		PrepareJobs: s.Build.PrepareJobs,
		BuildJobs:   s.Build.BuildJobs,
		BuildDir:    s.Build.BuildDir,
		SkipErrors:  s.Build.Plan.SkipErrors,
		BuildAlways: s.Build.Plan.BuildAlways,
		TimeTrace:   s.Build.Plan.TimeTrace,
		Remote:      s.Remote,
		Settings:    flattenSettings(s.Root),
		Requires:    requires,
	}
	if s.Build.Plan.TimeLimit > 0 {
		raw.TimeLimit = s.Build.Plan.TimeLimit.String()
	}

	data, err := toml.Marshal(raw)
	if err != nil {
		return errors.Wrap(err, "config: marshal settings file")
	}
	return os.WriteFile(path, data, 0o644)
}

func buildPlanOptions(raw rawConfig, timeLimit time.Duration) plan.ExecuteOptions {
	return plan.ExecuteOptions{
		BuildJobs:         raw.BuildJobs,
		BuildAlways:       raw.BuildAlways,
		SkipErrors:        raw.SkipErrors,
		TimeLimit:         timeLimit,
		WriteOutputToFile: true,
		TimeTrace:         raw.TimeTrace,
		BuildDir:          raw.BuildDir,
		ThrowOnErrors:     true,
	}
}

// parseDuration parses the "N{d,h,m,s}" duration form: an
// optional leading count of days (a unit time.ParseDuration doesn't
// support) followed by whatever suffix time.ParseDuration already
// understands (h/m/s/ms/us/ns). An empty string means "no limit".
func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	if idx := strings.IndexByte(s, 'd'); idx >= 0 {
		days, err := strconv.Atoi(s[:idx])
		if err != nil {
			return 0, errors.Wrapf(err, "invalid day count in %q", s)
		}
		rest := s[idx+1:]
		var restDur time.Duration
		if rest != "" {
			var err error
			restDur, err = time.ParseDuration(rest)
			if err != nil {
				return 0, errors.Wrapf(err, "invalid duration tail in %q", s)
			}
		}
		return time.Duration(days)*24*time.Hour + restDur, nil
	}
	return time.ParseDuration(s)
}

func flattenSettings(root *settings.Node) map[string]string {
	out := map[string]string{}
	if root == nil {
		return out
	}
	for _, k := range root.Keys() {
		child, _ := root.Get(k)
		if child != nil && child.Kind() == settings.KindString {
			out[k] = child.String()
		}
	}
	return out
}
