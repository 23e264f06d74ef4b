// Package target implements the Target interface and its settings-keyed
// container, plus the Visibility scopes (private/protected/public/
// interface) a dependency carries. The package records a dependency's
// Visibility; it does not apply propagation itself.
package target

import (
	"sync"

	"github.com/sworg/swbuild/internal/pkgid"
	"github.com/sworg/swbuild/internal/plan"
	"github.com/sworg/swbuild/internal/settings"
)

// Visibility is a dependency's inheritance scope: how far it propagates
// to targets that depend on the one declaring it.
type Visibility int

const (
	// Private dependencies are used to build this target but never
	// propagate to anything depending on it.
	Private Visibility = iota
	// Protected dependencies propagate to targets in the same package
	// only.
	Protected
	// Public dependencies propagate to every direct and transitive
	// dependent.
	Public
	// Interface dependencies propagate without this target itself
	// linking/using them (header-only-style forwarding).
	Interface
)

// DependencyPtr is a lazily-resolved reference to another target, carried
// instead of a direct pointer to avoid cyclic target<->target ownership.
type DependencyPtr struct {
	Id         pkgid.PackageId
	Visibility Visibility
}

// Options holds the component configuration a target entry point fills
// in: sources, include dirs, link libraries, and declared dependencies.
type Options struct {
	Sources      []string
	IncludeDirs  []string
	LinkLibs     []string
	Dependencies []DependencyPtr
}

// PrepareOutcome is what one prepare() pass reports, driving the build
// state machine's multipass prepare loop.
type PrepareOutcome int

const (
	Done PrepareOutcome = iota
	NeedAnotherPass
	WaitingOnDeps
)

// Target is the interface every concrete target variant satisfies: init,
// prepare, commands, settings, dependencies. Shared behavior is composed
// via Options rather than deep interface inheritance.
type Target interface {
	Id() pkgid.PackageId
	Settings() *settings.Node
	BinaryDir() string
	IsDryRun() bool

	// Init performs one-time setup; called once before the first
	// Prepare pass.
	Init() error
	// Prepare advances this target's build-graph construction by one
	// pass. Passes for a single target are strictly ordered: pass k+1
	// never starts before pass k completes. A target that returns
	// WaitingOnDeps must implement DependencyDiscoverer so the driver
	// knows what to resolve before calling Prepare again.
	Prepare() (PrepareOutcome, error)
	// Commands returns the file-producing commands this target
	// contributes, valid only once Prepare has reached Done.
	Commands() []*plan.Command
	Dependencies() []DependencyPtr
}

// UnresolvedDependency names a dependency discovered mid-prepare, before
// it has been pinned to a concrete PackageId — e.g. a generated file that
// names another package only once it exists.
type UnresolvedDependency struct {
	Name     pkgid.UnresolvedPackageName
	Settings *settings.Node
}

// DependencyDiscoverer is implemented by target variants whose dependency
// set can grow between prepare passes. When Prepare returns
// WaitingOnDeps, the driver calls PendingDependencies to learn what to
// resolve, resolves and loads each one via the resolver chain, then calls
// DependencyResolved once per dependency before the next Prepare pass.
type DependencyDiscoverer interface {
	PendingDependencies() []UnresolvedDependency
	DependencyResolved(name pkgid.UnresolvedPackageName, pkg *pkgid.Package)
}

// Base is embedded by concrete target kinds to get the common
// bookkeeping (id, settings, options, prepare_pass, dry-run flag) for
// free, including Commands; concrete kinds implement Init and Prepare.
type Base struct {
	PackageId   pkgid.PackageId
	Opts        Options
	BinDir      string
	DryRun      bool
	PreparePass int
	commands    []*plan.Command
}

func (b *Base) Id() pkgid.PackageId           { return b.PackageId }
func (b *Base) Settings() *settings.Node      { return b.PackageId.Settings }
func (b *Base) BinaryDir() string             { return b.BinDir }
func (b *Base) IsDryRun() bool                { return b.DryRun }
func (b *Base) Dependencies() []DependencyPtr { return b.Opts.Dependencies }
func (b *Base) Commands() []*plan.Command     { return b.commands }

// AddCommand appends c to this target's produced commands.
func (b *Base) AddCommand(c *plan.Command) { b.commands = append(b.commands, c) }

// Container holds 0..N target instances for one package id, keyed by
// settings, with equal/subset settings lookup component #7.
type Container struct {
	mu      sync.RWMutex
	targets []Target
}

// NewContainer returns an empty container.
func NewContainer() *Container {
	return &Container{}
}

// Add registers t.
func (c *Container) Add(t Target) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.targets = append(c.targets, t)
}

// All returns every target currently held.
func (c *Container) All() []Target {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Target, len(c.targets))
	copy(out, c.targets)
	return out
}

// Exact returns the target whose settings hash equals s's hash exactly.
func (c *Container) Exact(s *settings.Node) (Target, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	want := hashOf(s)
	for _, t := range c.targets {
		if hashOf(t.Settings()) == want {
			return t, true
		}
	}
	return nil, false
}

// Subset returns the first target whose settings is a subset of s (every
// non-ignored key t's settings declares is present and equal in s).
func (c *Container) Subset(s *settings.Node) (Target, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, t := range c.targets {
		if t.Settings() == nil || t.Settings().IsSubsetOf(s) {
			return t, true
		}
	}
	return nil, false
}

func hashOf(s *settings.Node) uint64 {
	if s == nil {
		return 0
	}
	return s.Hash()
}
