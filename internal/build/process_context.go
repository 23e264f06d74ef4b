package build

import (
	"sync"
)

// ProcessContext is the process-wide registry of active builds: a map
// `thread_id -> active_build` guarded by one mutex, so an external Stop()
// can interrupt every build currently running in-process.
type ProcessContext struct {
	mu      sync.Mutex
	active  map[int64]*Build
	nextTID int64
}

var defaultProcessContext = &ProcessContext{active: make(map[int64]*Build)}

// DefaultProcessContext returns the process-wide registry every Build
// registers itself with on each state transition.
func DefaultProcessContext() *ProcessContext { return defaultProcessContext }

// register records b as thread tid's active build, returning the previous
// occupant (possibly nil) so the caller can restore it on scope exit.
func (pc *ProcessContext) register(tid int64, b *Build) *Build {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	prev := pc.active[tid]
	pc.active[tid] = b
	return prev
}

// restore puts prev back as tid's active build (removing the entry
// entirely if prev is nil).
func (pc *ProcessContext) restore(tid int64, prev *Build) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	if prev == nil {
		delete(pc.active, tid)
		return
	}
	pc.active[tid] = prev
}

// Stop iterates every currently-registered build and sets its stopped
// flag.
func (pc *ProcessContext) Stop() {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	for _, b := range pc.active {
		b.requestStop()
	}
}

// NewThreadID hands out a unique token for one call-stack's worth of
// build-state-method registrations; callers typically allocate one per
// goroutine driving a Build.
func (pc *ProcessContext) NewThreadID() int64 {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.nextTID++
	return pc.nextTID
}
