package plan

import (
	"fmt"

	"github.com/sworg/swbuild/internal/filetable"
	"github.com/sworg/swbuild/internal/swerr"
)

// Plan is a validated, topologically-ordered DAG of commands, ready for
// Execute. Construct with New.
type Plan struct {
	g     *graph
	order []int
}

// New builds the dependency DAG from cmds and checks it for cycles. On a
// cycle, the non-trivial SCCs are dumped under
// <buildDir>/misc/cyclic/cycle_<i> (plus processed/unprocessed subgraphs)
// and a *swerr.Error of kind CyclicDependencies is returned naming their
// sizes.
func New(buildDir string, cmds []*Command) (*Plan, error) {
	g, err := buildGraph(cmds)
	if err != nil {
		return nil, swerr.Wrap(swerr.InvalidInput, err, "plan: build graph")
	}

	sccs := g.nonTrivialSCCs()
	if len(sccs) > 0 {
		if err := dumpCycles(buildDir, g, sccs); err != nil {
			return nil, swerr.Wrap(swerr.InternalInvariant, err, "plan: dump cycles")
		}
		sizes := make([]int, len(sccs))
		for i, c := range sccs {
			sizes[i] = len(c)
		}
		return nil, swerr.New(swerr.CyclicDependencies, "cyclic dependencies detected: %d cycle(s), sizes %v", len(sccs), sizes)
	}

	return &Plan{g: g, order: g.topoOrder()}, nil
}

// Commands returns the plan's commands in topological order.
func (p *Plan) Commands() []*Command {
	out := make([]*Command, len(p.order))
	for i, idx := range p.order {
		out[i] = p.g.cmds[idx]
	}
	return out
}

// Len returns the number of commands in the plan.
func (p *Plan) Len() int { return len(p.g.cmds) }

// Validate re-checks that every input of every command has its producer
// preceding it in the topological order. That every output is produced by
// exactly one command is checked by New, not here.
func (p *Plan) Validate(ft *filetable.Table) error {
	pos := make(map[int]int, len(p.order))
	for i, idx := range p.order {
		pos[idx] = i
	}
	for idx, c := range p.g.cmds {
		for _, in := range c.Inputs {
			if j, ok := p.g.outOf[in]; ok {
				if pos[j] >= pos[idx] {
					return fmt.Errorf("plan: producer of %s does not precede consumer %s", ft.Path(in), c.Name)
				}
			}
		}
	}
	return nil
}
