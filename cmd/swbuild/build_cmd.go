package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/sworg/swbuild/internal/build"
	"github.com/sworg/swbuild/internal/config"
	"github.com/sworg/swbuild/internal/install"
	"github.com/sworg/swbuild/internal/lockfile"
	"github.com/sworg/swbuild/internal/pkgid"
	"github.com/sworg/swbuild/internal/plan"
	"github.com/sworg/swbuild/internal/settings"
	"github.com/sworg/swbuild/internal/storage"
	"github.com/sworg/swbuild/internal/swlog"
	"github.com/sworg/swbuild/internal/version"
)

func newBuildCmd() *cobra.Command {
	var configPath string
	var lockPath string

	cmd := &cobra.Command{
		Use:   "build",
		Short: "Resolve, fetch and build the configured targets",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBuild(cmd.Context(), configPath, lockPath)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", config.FileName, "path to the build-settings file")
	cmd.Flags().StringVar(&lockPath, "lockfile", "swbuild.lock.json", "path to the resolved-package lock file")
	return cmd
}

func runBuild(ctx context.Context, configPath, lockPath string) error {
	log := swlog.New()
	defer log.Sync()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if len(cfg.Requires) == 0 {
		return fmt.Errorf("swbuild: %s declares no [[requires]] targets", configPath)
	}

	prior, err := lockfile.Load(lockPath)
	if err != nil {
		return err
	}

	env, err := openStorageEnv(cfg, prior, log)
	if err != nil {
		return err
	}
	defer env.local.Close()

	b, result, err := buildTargets(ctx, cfg, env, log)
	if err != nil {
		return err
	}

	next := lockfileFromRequires(cfg.Requires, b)
	if err := lockfile.Save(lockPath, next, prior, log); err != nil {
		return err
	}

	ran, failed := 0, 0
	for _, status := range result.Statuses {
		if !status.Ran {
			continue
		}
		ran++
		if status.Err != nil {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("swbuild: %d command(s) failed", failed)
	}
	log.Infof("build: %d command(s) ran successfully", ran)
	return nil
}

// storageEnv bundles the resolver chain and install machinery wired from
// one config+lock-file pair, shared by the build and test subcommands.
type storageEnv struct {
	local    *storage.LocalStorage
	cache    *storage.CachedStorage
	resolver *storage.Resolver
	fetcher  install.Fetcher
}

func openStorageEnv(cfg *config.Settings, prior *lockfile.Lockfile, log *swlog.Logger) (*storageEnv, error) {
	localDir := filepath.Join(cfg.Build.BuildDir, "local")
	local, err := storage.NewLocalStorage(localDir)
	if err != nil {
		return nil, err
	}

	cache := storage.NewCachedStorage()
	seedCache(cache, local, prior, cfg.Requires, cfg.Build.RootSettings)

	storages := []storage.IStorage{cache, local}
	var fetcher install.Fetcher
	if cfg.Remote.RegistryURL != "" {
		remote, err := storage.NewRemoteStorage(storage.RemoteSpec{
			RegistryURL:       cfg.Remote.RegistryURL,
			CatalogURL:        cfg.Remote.CatalogURL,
			CatalogVersionURL: cfg.Remote.CatalogVersionURL,
			DataSourceURLs:    cfg.Remote.DataSourceURLs,
			GitMirrorURL:      cfg.Remote.GitMirrorURL,
		}, filepath.Join(cfg.Build.BuildDir, "remote-mirror"), log)
		if err != nil {
			local.Close()
			return nil, err
		}
		storages = append(storages, remote)
		fetcher = remote
	}

	return &storageEnv{
		local:    local,
		cache:    cache,
		resolver: storage.NewResolver(storages...),
		fetcher:  fetcher,
	}, nil
}

// buildTargets drives a full build (resolve -> install -> prepare ->
// execute) for cfg's requires and returns the finished Build alongside its
// execution result, for callers (build, test) that need the populated
// target container afterwards.
func buildTargets(ctx context.Context, cfg *config.Settings, env *storageEnv, log *swlog.Logger) (*build.Build, *plan.Result, error) {
	requires := cfg.Requires
	entry := func(bcfg *build.Config) ([]*build.UnresolvedTarget, error) {
		targets := make([]*build.UnresolvedTarget, 0, len(requires))
		for _, r := range requires {
			targets = append(targets, &build.UnresolvedTarget{
				Name:     pkgid.UnresolvedPackageName{Path: r.Path, Range: r.Range},
				Settings: bcfg.RootSettings,
			})
		}
		return targets, nil
	}

	bcfg := cfg.Build
	bcfg.Resolver = env.resolver
	bcfg.Cache = env.cache
	bcfg.Log = log

	b := build.New(bcfg, entry, install.New(env.local, log), env.fetcher)
	result, err := b.Run(ctx)
	if err != nil {
		return nil, nil, err
	}
	return b, result, nil
}

// seedCache pre-populates cache from a previously saved lock file, so a
// build whose lock is still valid starts from its prior resolutions; the
// later storages in the resolver chain are still queried and may replace a
// seeded package with a better match.
// Only requires whose unresolved key still appears in the current config
// are seeded; a dropped requirement is simply ignored.
func seedCache(cache *storage.CachedStorage, local *storage.LocalStorage, lf *lockfile.Lockfile, requires []config.Require, root *settings.Node) {
	for _, r := range requires {
		u := pkgid.UnresolvedPackageName{Path: r.Path, Range: r.Range}
		name, ok := lf.Resolved[u.String()]
		if !ok {
			continue
		}
		id := pkgid.PackageId{Name: name, Settings: root}
		cache.Seed(u, root, pkgid.NewPackage(id, local))
	}
}

// lockfileFromRequires rebuilds a Lockfile from the targets a completed
// build actually resolved, keyed the same way Load/Save expect.
func lockfileFromRequires(requires []config.Require, b *build.Build) *lockfile.Lockfile {
	lf := lockfile.New()
	for _, pkg := range b.Targets().All() {
		id := pkg.Id()
		u := pkgid.UnresolvedPackageName{Path: id.Name.Path, Range: version.Everything()}
		for _, r := range requires {
			if r.Path.Equal(id.Name.Path) {
				u.Range = r.Range
				break
			}
		}
		lf.Resolved[u.String()] = id.Name
	}
	return lf
}
