package plan

import (
	"fmt"

	"github.com/sworg/swbuild/internal/filetable"
)

// graph is the command dependency DAG: an edge producer -> consumer exists
// iff the consumer's inputs intersect the producer's outputs.
type graph struct {
	cmds   []*Command
	outOf  map[filetable.ID]int // output file id -> producing command index
	edges  [][]int              // edges[i] = indices of commands that depend on cmds[i]
	rEdges [][]int              // reverse edges, for topo in-degree counting
}

// buildGraph indexes commands by output and derives the dependency edges.
// Returns an error if any output is produced by more than one command
//.
func buildGraph(cmds []*Command) (*graph, error) {
	g := &graph{
		cmds:  cmds,
		outOf: make(map[filetable.ID]int, len(cmds)),
	}
	for i, c := range cmds {
		for _, o := range c.Outputs {
			if j, ok := g.outOf[o]; ok {
				return nil, fmt.Errorf("plan: output produced by both %q and %q", cmds[j].Name, c.Name)
			}
			g.outOf[o] = i
		}
	}

	g.edges = make([][]int, len(cmds))
	g.rEdges = make([][]int, len(cmds))
	seen := make([]map[int]bool, len(cmds))
	for i := range seen {
		seen[i] = make(map[int]bool)
	}
	for i, c := range cmds {
		for _, in := range c.Inputs {
			if j, ok := g.outOf[in]; ok && j != i {
				if !seen[j][i] {
					seen[j][i] = true
					g.edges[j] = append(g.edges[j], i)
					g.rEdges[i] = append(g.rEdges[i], j)
				}
			}
		}
	}
	return g, nil
}

// tarjanSCC partitions the graph into strongly connected components using
// Tarjan's algorithm/"Cycle reporting". Components are
// returned in no particular order; a component of size 1 whose single node
// has no self-edge is trivial (not a cycle).
func (g *graph) tarjanSCC() [][]int {
	n := len(g.cmds)
	index := make([]int, n)
	lowlink := make([]int, n)
	onStack := make([]bool, n)
	for i := range index {
		index[i] = -1
	}
	var stack []int
	var sccs [][]int
	counter := 0

	var strongconnect func(v int)
	strongconnect = func(v int) {
		index[v] = counter
		lowlink[v] = counter
		counter++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range g.edges[v] {
			if index[w] == -1 {
				strongconnect(w)
				if lowlink[w] < lowlink[v] {
					lowlink[v] = lowlink[w]
				}
			} else if onStack[w] {
				if index[w] < lowlink[v] {
					lowlink[v] = index[w]
				}
			}
		}

		if lowlink[v] == index[v] {
			var comp []int
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				comp = append(comp, w)
				if w == v {
					break
				}
			}
			sccs = append(sccs, comp)
		}
	}

	for v := 0; v < n; v++ {
		if index[v] == -1 {
			strongconnect(v)
		}
	}
	return sccs
}

// nonTrivialSCCs returns only the components that constitute a real cycle:
// size > 1, or a single node with a self-edge.
func (g *graph) nonTrivialSCCs() [][]int {
	var out [][]int
	for _, comp := range g.tarjanSCC() {
		if len(comp) > 1 {
			out = append(out, comp)
			continue
		}
		v := comp[0]
		for _, w := range g.edges[v] {
			if w == v {
				out = append(out, comp)
				break
			}
		}
	}
	return out
}

// topoOrder returns a topological ordering of command indices. Callers
// must ensure the graph is acyclic (checked via nonTrivialSCCs) before
// calling this.
func (g *graph) topoOrder() []int {
	n := len(g.cmds)
	indeg := make([]int, n)
	for i := range g.cmds {
		for range g.rEdges[i] {
			indeg[i]++
		}
	}
	var ready []int
	for i, d := range indeg {
		if d == 0 {
			ready = append(ready, i)
		}
	}
	order := make([]int, 0, n)
	for len(ready) > 0 {
		v := ready[0]
		ready = ready[1:]
		order = append(order, v)
		for _, w := range g.edges[v] {
			indeg[w]--
			if indeg[w] == 0 {
				ready = append(ready, w)
			}
		}
	}
	return order
}
