package build

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sworg/swbuild/internal/pkgid"
	"github.com/sworg/swbuild/internal/pkgpath"
	"github.com/sworg/swbuild/internal/plan"
	"github.com/sworg/swbuild/internal/settings"
	"github.com/sworg/swbuild/internal/storage"
	"github.com/sworg/swbuild/internal/target"
	"github.com/sworg/swbuild/internal/version"
)

type stubStorage struct {
	pkg *pkgid.Package
}

func (s *stubStorage) Resolve(rr *storage.ResolveRequest) bool {
	if s.pkg == nil {
		return false
	}
	return rr.SetPackage(s.pkg)
}

func (s *stubStorage) LoadData(id pkgid.PackageId) (pkgid.Data, error) {
	return pkgid.Data{}, nil
}

type stubLoader struct{}

func (stubLoader) LoadData(pkgid.PackageId) (pkgid.Data, error) { return pkgid.Data{}, nil }

// mapStorage resolves distinct unresolved names to distinct packages,
// keyed by path hash; stubStorage above only ever hands back one fixed
// package regardless of what was asked for, which isn't enough to test a
// target that discovers a second, different dependency mid-prepare.
type mapStorage struct {
	byPath map[string]*pkgid.Package
}

func (s *mapStorage) Resolve(rr *storage.ResolveRequest) bool {
	pkg, ok := s.byPath[rr.Unresolved.Path.Hash()]
	if !ok {
		return false
	}
	return rr.SetPackage(pkg)
}

func (s *mapStorage) LoadData(id pkgid.PackageId) (pkgid.Data, error) {
	return pkgid.Data{}, nil
}

// discoveringTarget is a test double for a target whose dependency set
// isn't known until a generated artifact names it: pass 1 reports it
// needs another look, pass 2 discovers the dependency and waits on it,
// pass 3 finishes once the driver has resolved and handed it back.
type discoveringTarget struct {
	target.Base

	calls    int
	depName  pkgid.UnresolvedPackageName
	depReady *pkgid.Package
}

func (d *discoveringTarget) Init() error { return nil }

func (d *discoveringTarget) Prepare() (target.PrepareOutcome, error) {
	d.calls++
	switch {
	case d.calls == 1:
		return target.NeedAnotherPass, nil
	case d.depReady == nil:
		return target.WaitingOnDeps, nil
	}
	d.AddCommand(&plan.Command{Name: "discovering:done"})
	return target.Done, nil
}

func (d *discoveringTarget) PendingDependencies() []target.UnresolvedDependency {
	return []target.UnresolvedDependency{{Name: d.depName, Settings: d.Settings()}}
}

func (d *discoveringTarget) DependencyResolved(name pkgid.UnresolvedPackageName, pkg *pkgid.Package) {
	d.depReady = pkg
}

var (
	_ target.Target               = (*discoveringTarget)(nil)
	_ target.DependencyDiscoverer = (*discoveringTarget)(nil)
)

func makePackage(t *testing.T) *pkgid.Package {
	t.Helper()
	p, ok := pkgpath.New("org.sw.demo.app")
	require.True(t, ok)
	v, err := version.NewRelease("1.0.0")
	require.NoError(t, err)
	id := pkgid.PackageId{Name: pkgid.PackageName{Path: p, Version: v}, Settings: settings.New()}
	return pkgid.NewPackage(id, stubLoader{})
}

func TestBuildRunsStatesInOrderAndProducesEmptyPlan(t *testing.T) {
	pkg := makePackage(t)
	entry := func(cfg *Config) ([]*UnresolvedTarget, error) {
		return []*UnresolvedTarget{{
			Name:     pkgid.UnresolvedPackageName{Path: pkg.Id.Name.Path, Range: version.Everything()},
			Settings: settings.New(),
		}}, nil
	}

	cfg := Config{
		BuildDir: t.TempDir(),
		Resolver: storage.NewResolver(&stubStorage{pkg: pkg}),
		Plan:     plan.ExecuteOptions{BuildJobs: 2, ThrowOnErrors: true},
	}
	b := New(cfg, entry, nil, nil)

	require.NoError(t, b.LoadInputs())
	require.Equal(t, InputsLoaded, b.State())
	require.NoError(t, b.SetTargetsToBuild())
	require.Equal(t, TargetsToBuildSet, b.State())
	require.NoError(t, b.ResolvePackages())
	require.Equal(t, PackagesResolved, b.State())
	require.NoError(t, b.PackagesLoad())
	require.Equal(t, PackagesLoaded, b.State())
	require.NoError(t, b.Prepare(context.Background()))
	require.Equal(t, Prepared, b.State())

	result, err := b.Execute(context.Background())
	require.NoError(t, err)
	require.NotNil(t, result)
	require.Equal(t, Executed, b.State())
}

func TestBuildTransitionRejectsOutOfOrderCall(t *testing.T) {
	entry := func(cfg *Config) ([]*UnresolvedTarget, error) { return nil, nil }
	b := New(Config{BuildDir: t.TempDir()}, entry, nil, nil)

	err := b.SetTargetsToBuild()
	require.Error(t, err)
	require.Equal(t, NotStarted, b.State())
}

func TestPrepareLoopRunsUntilFixedPoint(t *testing.T) {
	pkg := makePackage(t)
	entry := func(cfg *Config) ([]*UnresolvedTarget, error) { return nil, nil }
	cfg := Config{BuildDir: t.TempDir(), Plan: plan.ExecuteOptions{BuildJobs: 1}}
	b := New(cfg, entry, nil, nil)

	// Drive the machine up to PackagesLoaded by hand so Targets() can be
	// populated before Prepare runs.
	require.NoError(t, b.transition(NotStarted, InputsLoaded, func() error { return nil }))
	require.NoError(t, b.transition(InputsLoaded, TargetsToBuildSet, func() error { return nil }))
	require.NoError(t, b.transition(TargetsToBuildSet, PackagesResolved, func() error { return nil }))
	require.NoError(t, b.transition(PackagesResolved, PackagesLoaded, func() error { return nil }))

	ft := b.cfg.Files
	g := target.NewGeneric(pkg.Id, "app", t.TempDir(), target.Options{}, nil, ft)
	g.DryRun = true
	b.Targets().Add(g)

	require.NoError(t, b.Prepare(context.Background()))
	require.Len(t, g.Commands(), 0)
}

// TestPrepareLoopResolvesDiscoveredDependencyBeforeNextPass drives a target
// through NeedAnotherPass and WaitingOnDeps, confirming prepareLoop
// resolves the newly-discovered dependency via the resolver chain and
// hands it back before calling Prepare again.
func TestPrepareLoopResolvesDiscoveredDependencyBeforeNextPass(t *testing.T) {
	mainPkg := makePackage(t)

	depPath, ok := pkgpath.New("org.sw.demo.dep")
	require.True(t, ok)
	depVersion, err := version.NewRelease("2.0.0")
	require.NoError(t, err)
	depId := pkgid.PackageId{Name: pkgid.PackageName{Path: depPath, Version: depVersion}, Settings: settings.New()}
	depPkg := pkgid.NewPackage(depId, stubLoader{})

	resolver := storage.NewResolver(&mapStorage{byPath: map[string]*pkgid.Package{
		mainPkg.Id.Name.Path.Hash(): mainPkg,
		depPath.Hash():              depPkg,
	}})

	entry := func(cfg *Config) ([]*UnresolvedTarget, error) { return nil, nil }
	cfg := Config{BuildDir: t.TempDir(), Plan: plan.ExecuteOptions{BuildJobs: 1}, Resolver: resolver}
	b := New(cfg, entry, nil, nil)

	require.NoError(t, b.transition(NotStarted, InputsLoaded, func() error { return nil }))
	require.NoError(t, b.transition(InputsLoaded, TargetsToBuildSet, func() error { return nil }))
	require.NoError(t, b.transition(TargetsToBuildSet, PackagesResolved, func() error { return nil }))
	require.NoError(t, b.transition(PackagesResolved, PackagesLoaded, func() error { return nil }))

	dt := &discoveringTarget{}
	dt.PackageId = mainPkg.Id
	dt.depName = pkgid.UnresolvedPackageName{Path: depPath, Range: version.Everything()}
	b.Targets().Add(dt)

	require.NoError(t, b.Prepare(context.Background()))
	require.Equal(t, 3, dt.calls)
	require.NotNil(t, dt.depReady)
	require.Equal(t, depId.Name.String(), dt.depReady.Id.Name.String())
	require.Len(t, dt.Commands(), 1)
}

func TestProcessContextStopInterruptsRegisteredBuild(t *testing.T) {
	entry := func(cfg *Config) ([]*UnresolvedTarget, error) { return nil, nil }
	b := New(Config{BuildDir: t.TempDir()}, entry, nil, nil)

	tid := DefaultProcessContext().NewThreadID()
	done := make(chan struct{})
	go func() {
		_ = b.withRegistration(tid, func() error {
			<-b.stopCh
			return nil
		})
		close(done)
	}()

	DefaultProcessContext().Stop()
	<-done
	require.True(t, b.Stopped())
}
