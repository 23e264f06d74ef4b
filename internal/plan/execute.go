package plan

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/sworg/swbuild/internal/filetable"
	"github.com/sworg/swbuild/internal/swerr"
	"github.com/sworg/swbuild/internal/swlog"
)

// ExecuteOptions configures a single Execute call, mapping directly onto
// the build-settings surface in 
type ExecuteOptions struct {
	BuildJobs         int
	BuildAlways       bool
	SkipErrors        int
	TimeLimit         time.Duration
	WriteOutputToFile bool
	ShowOutput        bool
	TimeTrace         bool
	BuildDir          string
	// ThrowOnErrors, when false, makes Execute return a non-nil Result
	// instead of an error on command failure — used by the test runner
	//, which wants every test command to run regardless of
	// earlier failures.
	ThrowOnErrors bool
}

// Result is Execute's outcome: per-command status plus whether the plan
// completed, was cut short by skip_errors, or hit its time limit.
type Result struct {
	Statuses       map[string]*CommandStatus
	Aborted        bool // true if time_limit or skip_errors stopped new dispatch
	TimeLimitHit   bool
	FailureSummary string
}

// CommandStatus is one command's execution outcome.
type CommandStatus struct {
	Skipped  bool
	Ran      bool
	Err      error
	Start    time.Time
	Duration time.Duration
	Stdout   string
	Stderr   string
}

// Execute runs the plan's commands respecting dependency order, a bounded
// worker pool, mtime-based skip logic, skip_errors tolerance, and an
// overall time limit.
func (p *Plan) Execute(ctx context.Context, ft *filetable.Table, opts ExecuteOptions, log *swlog.Logger) (*Result, error) {
	if opts.BuildJobs <= 0 {
		opts.BuildJobs = 1
	}
	if log == nil {
		log = swlog.Nop()
	}

	runCtx := ctx
	var cancel context.CancelFunc
	if opts.TimeLimit > 0 {
		runCtx, cancel = context.WithTimeout(ctx, opts.TimeLimit)
		defer cancel()
	}

	sem := semaphore.NewWeighted(int64(opts.BuildJobs))
	res := &Result{Statuses: make(map[string]*CommandStatus, len(p.g.cmds))}

	var mu sync.Mutex
	var failures int64
	var stopDispatch int32 // atomic bool: skip_errors exhausted, stop scheduling new work

	// done[i] closes once command i (or its skip decision) has completed,
	// so downstream commands can wait on their producers without a
	// separate barrier per pass.
	done := make([]chan struct{}, len(p.g.cmds))
	for i := range done {
		done[i] = make(chan struct{})
	}

	var wg sync.WaitGroup
	var trace []traceEvent
	var traceMu sync.Mutex

	for _, idx := range p.order {
		idx := idx
		c := p.g.cmds[idx]
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer close(done[idx])

			for _, dep := range p.g.rEdges[idx] {
				select {
				case <-done[dep]:
				case <-runCtx.Done():
					return
				}
			}

			if atomic.LoadInt32(&stopDispatch) == 1 {
				mu.Lock()
				res.Statuses[c.Name] = &CommandStatus{Skipped: true}
				mu.Unlock()
				return
			}

			if err := sem.Acquire(runCtx, 1); err != nil {
				return
			}
			defer sem.Release(1)

			status := p.runOne(runCtx, ft, c, opts, log)
			mu.Lock()
			res.Statuses[c.Name] = status
			mu.Unlock()

			if opts.TimeTrace && status.Ran {
				traceMu.Lock()
				trace = append(trace, traceEvent{
					Name: c.Name,
					Ph:   "X",
					TS:   status.Start.UnixMicro(),
					Dur:  status.Duration.Microseconds(),
					Args: traceArgs{Cmd: c.Program},
				})
				traceMu.Unlock()
			}

			if status.Err != nil {
				n := atomic.AddInt64(&failures, 1)
				if int(n) > opts.SkipErrors {
					atomic.StoreInt32(&stopDispatch, 1)
				}
			}
		}()
	}

	wg.Wait()

	res.TimeLimitHit = runCtx.Err() == context.DeadlineExceeded
	res.Aborted = atomic.LoadInt32(&stopDispatch) == 1 || res.TimeLimitHit

	if opts.TimeTrace && opts.BuildDir != "" {
		if err := writeTimeTrace(filepath.Join(opts.BuildDir, "time_trace.json"), trace); err != nil {
			log.Warnf("plan: writing time_trace.json: %v", err)
		}
	}

	if failures > 0 {
		msg := fmt.Sprintf("plan: %d command(s) failed", failures)
		res.FailureSummary = msg
		if opts.ThrowOnErrors {
			return res, swerr.New(swerr.CommandFailed, "%s", msg)
		}
	}
	if res.TimeLimitHit {
		res.FailureSummary = "plan: time limit exceeded"
		if opts.ThrowOnErrors {
			return res, swerr.New(swerr.TimeLimitExceeded, "wall-time budget of %s exhausted", opts.TimeLimit)
		}
	}
	return res, nil
}

func (p *Plan) runOne(ctx context.Context, ft *filetable.Table, c *Command, opts ExecuteOptions, log *swlog.Logger) *CommandStatus {
	if !c.Always && !opts.BuildAlways && isUpToDate(ft, c) {
		return &CommandStatus{Skipped: true}
	}

	cmdCtx := ctx
	var cancel context.CancelFunc
	if c.TimeLimit > 0 {
		cmdCtx, cancel = context.WithTimeout(ctx, c.TimeLimit)
		defer cancel()
	}

	start := time.Now()
	cmd := exec.CommandContext(cmdCtx, c.Program, c.Args...)
	cmd.Dir = c.Dir
	cmd.Env = c.Env

	var stdoutPath, stderrPath string
	if opts.WriteOutputToFile && opts.BuildDir != "" {
		stdoutPath = filepath.Join(opts.BuildDir, c.Name+".out")
		stderrPath = filepath.Join(opts.BuildDir, c.Name+".err")
	}

	outFile, errFile, err := openOutputFiles(stdoutPath, stderrPath)
	if err != nil {
		return &CommandStatus{Err: err, Start: start, Duration: time.Since(start)}
	}
	if outFile != nil {
		defer outFile.Close()
	}
	if errFile != nil {
		defer errFile.Close()
	}

	var stdoutBuf, stderrBuf limitedBuffer
	cmd.Stdout = multiWriter(outFile, &stdoutBuf, opts.ShowOutput, os.Stdout)
	cmd.Stderr = multiWriter(errFile, &stderrBuf, opts.ShowOutput, os.Stderr)

	runErr := cmd.Run()
	dur := time.Since(start)

	status := &CommandStatus{Ran: true, Start: start, Duration: dur, Stdout: stdoutBuf.String(), Stderr: stderrBuf.String()}
	if runErr != nil {
		if cmdCtx.Err() == context.DeadlineExceeded {
			status.Err = swerr.New(swerr.TimeLimitExceeded, "command %s exceeded its time limit", c.Name)
		} else {
			status.Err = swerr.Wrap(swerr.CommandFailed, runErr, "command %s failed", c.Name)
		}
		log.Warnf("plan: %s failed: %v", c.Name, status.Err)
	}

	for _, o := range c.Outputs {
		ft.Stat(o)
	}
	return status
}

// isUpToDate reports whether all of c's outputs exist and are not older
// than any of its inputs
func isUpToDate(ft *filetable.Table, c *Command) bool {
	if len(c.Outputs) == 0 {
		return false
	}
	var oldestOutput time.Time
	for i, o := range c.Outputs {
		mt, exists := ft.Stat(o)
		if !exists {
			return false
		}
		if i == 0 || mt.Before(oldestOutput) {
			oldestOutput = mt
		}
	}
	for _, in := range c.Inputs {
		mt, exists := ft.Stat(in)
		if exists && mt.After(oldestOutput) {
			return false
		}
	}
	return true
}

type traceEvent struct {
	Name string    `json:"name"`
	Ph   string    `json:"ph"`
	TS   int64     `json:"ts"`
	Dur  int64     `json:"dur"`
	Args traceArgs `json:"args"`
}

type traceArgs struct {
	Cmd string `json:"cmd"`
}

func writeTimeTrace(path string, events []traceEvent) error {
	doc := struct {
		TraceEvents []traceEvent `json:"traceEvents"`
	}{TraceEvents: events}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
