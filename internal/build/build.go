// Package build implements the build state machine and prepare loop.
package build

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/sdboyer/constext"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/sworg/swbuild/internal/filetable"
	"github.com/sworg/swbuild/internal/install"
	"github.com/sworg/swbuild/internal/pkgid"
	"github.com/sworg/swbuild/internal/plan"
	"github.com/sworg/swbuild/internal/settings"
	"github.com/sworg/swbuild/internal/storage"
	"github.com/sworg/swbuild/internal/swerr"
	"github.com/sworg/swbuild/internal/swlog"
	"github.com/sworg/swbuild/internal/target"
)

// State is one point in the build's linear lifecycle
type State int

const (
	NotStarted State = iota
	InputsLoaded
	TargetsToBuildSet
	PackagesResolved
	PackagesLoaded
	Prepared
	Executed
)

func (s State) String() string {
	switch s {
	case NotStarted:
		return "NotStarted"
	case InputsLoaded:
		return "InputsLoaded"
	case TargetsToBuildSet:
		return "TargetsToBuildSet"
	case PackagesResolved:
		return "PackagesResolved"
	case PackagesLoaded:
		return "PackagesLoaded"
	case Prepared:
		return "Prepared"
	case Executed:
		return "Executed"
	default:
		return "Unknown"
	}
}

// Config gathers the inputs a Build needs, collected from the settings
// file and CLI flags before NotStarted -> InputsLoaded.
type Config struct {
	BuildDir     string
	RootSettings *settings.Node
	PrepareJobs  int
	BuildJobs    int
	Plan         plan.ExecuteOptions
	Resolver     *storage.Resolver
	Cache        *storage.CachedStorage
	// Files is the file arena every target's commands were built
	// against; shared with whatever constructed the targets so
	// filetable.ID values resolve consistently at Execute time.
	Files *filetable.Table
	Log   *swlog.Logger
}

// EntryPoint produces the initial, unresolved set of targets to build;
// concrete drivers (CLI, test runner) supply this after loading a settings
// file's target declarations.
type EntryPoint func(cfg *Config) ([]*UnresolvedTarget, error)

// UnresolvedTarget names a package and settings a build wants a Target
// for, before resolution has found a concrete PackageId.
type UnresolvedTarget struct {
	Name     pkgid.UnresolvedPackageName
	Settings *settings.Node
}

// Build drives one run of the state machine. Not safe for concurrent use
// by more than one goroutine at a time; concurrency lives inside Prepare's
// worker pool and the execution plan
type Build struct {
	cfg Config

	state State
	mu    sync.Mutex

	entry EntryPoint

	toResolve []*UnresolvedTarget
	resolved  []*pkgid.Package
	targets   *target.Container
	plan      *plan.Plan

	installer *install.Installer
	fetcher   install.Fetcher

	stopped  int32
	stopCh   chan struct{}
	stopOnce sync.Once
}

// New constructs a Build in state NotStarted.
func New(cfg Config, entry EntryPoint, installer *install.Installer, fetcher install.Fetcher) *Build {
	if cfg.Log == nil {
		cfg.Log = swlog.Nop()
	}
	if cfg.PrepareJobs <= 0 {
		cfg.PrepareJobs = runtime.NumCPU()
	}
	if cfg.Cache == nil {
		cfg.Cache = storage.NewCachedStorage()
	}
	if cfg.Resolver == nil {
		cfg.Resolver = storage.NewResolver(cfg.Cache)
	}
	if cfg.Files == nil {
		cfg.Files = filetable.New()
	}
	if cfg.Plan.BuildJobs <= 0 {
		if cfg.BuildJobs > 0 {
			cfg.Plan.BuildJobs = cfg.BuildJobs
		} else {
			cfg.Plan.BuildJobs = runtime.NumCPU()
		}
	}
	if cfg.Plan.BuildDir == "" {
		cfg.Plan.BuildDir = cfg.BuildDir
	}
	return &Build{
		cfg:       cfg,
		state:     NotStarted,
		entry:     entry,
		targets:   target.NewContainer(),
		installer: installer,
		fetcher:   fetcher,
		stopCh:    make(chan struct{}),
	}
}

func (b *Build) State() State { return b.state }

func (b *Build) requestStop() {
	atomic.StoreInt32(&b.stopped, 1)
	b.stopOnce.Do(func() { close(b.stopCh) })
}

// Stopped reports whether an external stop() call has interrupted this
// build.
func (b *Build) Stopped() bool { return atomic.LoadInt32(&b.stopped) == 1 }

// withRegistration registers b with the process context for the duration
// of fn, restoring whatever was previously registered on exit. tid
// identifies the calling goroutine's registration slot.
func (b *Build) withRegistration(tid int64, fn func() error) error {
	pc := DefaultProcessContext()
	prev := pc.register(tid, b)
	defer pc.restore(tid, prev)
	return fn()
}

// transition enforces the "from" state and, on success, advances to "to".
// On error the state is left unchanged
func (b *Build) transition(from, to State, fn func() error) error {
	b.mu.Lock()
	if b.state != from {
		cur := b.state
		b.mu.Unlock()
		return swerr.New(swerr.InternalInvariant, "build: expected state %s, have %s", from, cur)
	}
	b.mu.Unlock()

	tid := DefaultProcessContext().NewThreadID()
	if err := b.withRegistration(tid, fn); err != nil {
		return err
	}

	b.mu.Lock()
	b.state = to
	b.mu.Unlock()
	return nil
}

// LoadInputs runs the configured EntryPoint to gather the unresolved
// target set. NotStarted -> InputsLoaded.
func (b *Build) LoadInputs() error {
	return b.transition(NotStarted, InputsLoaded, func() error {
		targets, err := b.entry(&b.cfg)
		if err != nil {
			return swerr.Wrap(swerr.InvalidInput, err, "build: load inputs")
		}
		b.toResolve = targets
		return nil
	})
}

// SetTargetsToBuild finalizes the set of unresolved targets the build will
// resolve and prepare. InputsLoaded -> TargetsToBuildSet.
func (b *Build) SetTargetsToBuild() error {
	return b.transition(InputsLoaded, TargetsToBuildSet, func() error {
		if len(b.toResolve) == 0 {
			return swerr.New(swerr.InvalidInput, "build: no targets to build")
		}
		return nil
	})
}

// ResolvePackages runs every unresolved target through cfg.Resolver's
// storage chain (cache -> local -> remote), which also handles cache
// writeback on a successful hit. TargetsToBuildSet -> PackagesResolved.
func (b *Build) ResolvePackages() error {
	return b.transition(TargetsToBuildSet, PackagesResolved, func() error {
		resolved := make([]*pkgid.Package, 0, len(b.toResolve))
		for _, ut := range b.toResolve {
			rr := storage.NewResolveRequest(ut.Name, ut.Settings)
			if !b.cfg.Resolver.Resolve(rr) {
				return swerr.New(swerr.NotResolved, "build: could not resolve %s", ut.Name.String())
			}
			resolved = append(resolved, rr.Result())
		}
		b.resolved = resolved
		return nil
	})
}

// PackagesLoad installs (if necessary) and loads metadata for every
// resolved package, eagerly forcing each Package.Data() call so that later
// target construction never blocks on network I/O mid-prepare-pass.
// PackagesResolved -> PackagesLoaded.
func (b *Build) PackagesLoad() error {
	return b.transition(PackagesResolved, PackagesLoaded, func() error {
		for _, pkg := range b.resolved {
			if b.installer != nil {
				if err := b.installer.Install(pkg, b.fetcher); err != nil {
					return err
				}
			}
			if _, err := pkg.Data(); err != nil {
				return swerr.Wrap(swerr.NotResolved, err, "build: load package data for %s", pkg.Id.Name.String())
			}
		}
		return nil
	})
}

// Targets exposes the container every built target is registered into,
// for drivers that need to populate it between PackagesLoaded and Prepare.
func (b *Build) Targets() *target.Container { return b.targets }

// Prepare runs the bounded-worker-pool fixed-point loop:
// repeatedly call prepare() on every target until a pass makes no
// progress, bailing out early if stopped. PackagesLoaded -> Prepared.
func (b *Build) Prepare(ctx context.Context) error {
	return b.transition(PackagesLoaded, Prepared, func() error {
		return b.prepareLoop(ctx)
	})
}

func (b *Build) prepareLoop(ctx context.Context) error {
	sem := semaphore.NewWeighted(int64(b.cfg.PrepareJobs))

	for {
		if b.Stopped() {
			return swerr.New(swerr.Interrupted, "build: stopped during prepare")
		}

		targets := b.targets.All()
		if len(targets) == 0 {
			return nil
		}

		g, gctx := errgroup.WithContext(ctx)
		var anyNew int32

		for _, t := range targets {
			t := t
			if err := sem.Acquire(gctx, 1); err != nil {
				return err
			}
			g.Go(func() error {
				defer sem.Release(1)
				outcome, err := t.Prepare()
				if err != nil {
					return swerr.Wrap(swerr.CommandFailed, err, "build: prepare %s", t.Id().Name.String())
				}
				switch outcome {
				case target.NeedAnotherPass:
					atomic.StoreInt32(&anyNew, 1)
				case target.WaitingOnDeps:
					if err := b.resolveDiscovered(t); err != nil {
						return err
					}
					atomic.StoreInt32(&anyNew, 1)
				}
				return nil
			})
		}

		if err := g.Wait(); err != nil {
			return err
		}
		if anyNew == 0 {
			return nil
		}
		if b.Stopped() {
			return swerr.New(swerr.Interrupted, "build: stopped during prepare")
		}
	}
}

// resolveDiscovered handles a target that returned WaitingOnDeps: it asks
// the target what it's waiting on, resolves and loads each named
// dependency synchronously via the resolver chain, and feeds the result
// back before the caller's prepare pass returns. t must implement
// target.DependencyDiscoverer; any other target returning WaitingOnDeps is
// an invariant violation rather than a recoverable condition.
func (b *Build) resolveDiscovered(t target.Target) error {
	disc, ok := t.(target.DependencyDiscoverer)
	if !ok {
		return swerr.New(swerr.InternalInvariant, "build: %s returned WaitingOnDeps without discovering dependencies", t.Id().Name.String())
	}
	for _, dep := range disc.PendingDependencies() {
		rr := storage.NewResolveRequest(dep.Name, dep.Settings)
		if !b.cfg.Resolver.Resolve(rr) {
			return swerr.New(swerr.NotResolved, "build: could not resolve discovered dependency %s", dep.Name.String())
		}
		pkg := rr.Result()
		if b.installer != nil {
			if err := b.installer.Install(pkg, b.fetcher); err != nil {
				return err
			}
		}
		if _, err := pkg.Data(); err != nil {
			return swerr.Wrap(swerr.NotResolved, err, "build: load discovered dependency %s", pkg.Id.Name.String())
		}
		disc.DependencyResolved(dep.Name, pkg)
	}
	return nil
}

// Execute builds the execution plan from every target's commands and runs
// it. Prepared -> Executed.
func (b *Build) Execute(ctx context.Context) (*plan.Result, error) {
	var result *plan.Result
	err := b.transition(Prepared, Executed, func() error {
		var cmds []*plan.Command
		for _, t := range b.targets.All() {
			if t.IsDryRun() {
				continue
			}
			cmds = append(cmds, t.Commands()...)
		}

		p, err := plan.New(b.cfg.BuildDir, cmds)
		if err != nil {
			return err
		}
		b.plan = p

		res, err := p.Execute(ctx, b.cfg.Files, b.cfg.Plan, b.cfg.Log)
		if err != nil {
			return err
		}
		result = res
		return nil
	})
	return result, err
}

// Run drives the build end to end, combining the caller's context with
// this build's own stop signal via constext so either source can cancel
// in-flight command execution.
func (b *Build) Run(ctx context.Context) (*plan.Result, error) {
	stopCtx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-b.stopCh:
			cancel()
		case <-stopCtx.Done():
		}
	}()
	defer cancel()

	runCtx, runCancel := constext.Cons(ctx, stopCtx)
	defer runCancel()

	steps := []func() error{
		b.LoadInputs,
		b.SetTargetsToBuild,
		b.ResolvePackages,
		b.PackagesLoad,
		func() error { return b.Prepare(runCtx) },
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return nil, err
		}
	}
	return b.Execute(runCtx)
}
