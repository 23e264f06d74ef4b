// Package plan implements the execution plan: a DAG of
// file-producing commands, Tarjan cycle detection with subgraph dumps, and
// bounded-parallel dispatch with time limits and skip-on-errors.
package plan

import (
	"time"

	"github.com/sworg/swbuild/internal/filetable"
)

// Command is one file-producing step, keyed by the inputs it reads and the
// outputs it produces. Per , the plan is valid only if every
// output is produced by exactly one command.
type Command struct {
	// Name identifies the command for logging/diagnostics (e.g. "cycle_0"
	// adjacency dumps, .out/.err file naming).
	Name string

	Program string
	Args    []string
	Dir     string
	Env     []string

	Inputs  []filetable.ID
	Outputs []filetable.ID

	// TimeLimit bounds this command's own execution, independent of the
	// plan-wide time limit.
	TimeLimit time.Duration

	// Always forces a rerun regardless of mtime-based skip logic
	//.
	Always bool

	// SkipErrors is carried with the command but not read by Execute: the
	// tolerated-failure budget is ExecuteOptions.SkipErrors alone, and every
	// failing command counts against it whatever this field holds.
	SkipErrors int
}

func (c *Command) hasOutput(id filetable.ID) bool {
	for _, o := range c.Outputs {
		if o == id {
			return true
		}
	}
	return false
}

func (c *Command) hasInput(id filetable.ID) bool {
	for _, in := range c.Inputs {
		if in == id {
			return true
		}
	}
	return false
}
