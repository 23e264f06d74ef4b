package plan

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// dumpCycles writes each non-trivial SCC to <buildDir>/misc/cyclic/cycle_<i>
// in a human-readable adjacency form, plus the full processed/unprocessed
// subgraphs
func dumpCycles(buildDir string, g *graph, sccs [][]int) error {
	dir := filepath.Join(buildDir, "misc", "cyclic")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("plan: create cyclic dump dir: %w", err)
	}

	inCycle := make(map[int]bool)
	for i, comp := range sccs {
		inCycle[compIndexUnion(comp)] = true
		var b strings.Builder
		for _, v := range comp {
			fmt.Fprintf(&b, "%s ->", g.cmds[v].Name)
			for _, w := range g.edges[v] {
				if containsInt(comp, w) {
					fmt.Fprintf(&b, " %s", g.cmds[w].Name)
				}
			}
			b.WriteByte('\n')
		}
		path := filepath.Join(dir, fmt.Sprintf("cycle_%d", i))
		if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
			return fmt.Errorf("plan: write %s: %w", path, err)
		}
	}

	processed := make(map[int]bool)
	for _, comp := range sccs {
		for _, v := range comp {
			processed[v] = true
		}
	}

	if err := writeSubgraph(filepath.Join(dir, "processed"), g, processed, true); err != nil {
		return err
	}
	if err := writeSubgraph(filepath.Join(dir, "unprocessed"), g, processed, false); err != nil {
		return err
	}
	return nil
}

func compIndexUnion(comp []int) int {
	// a stable key per SCC for the inCycle marker set; only needs to be
	// distinct across SCCs, so the first member index suffices.
	if len(comp) == 0 {
		return -1
	}
	return comp[0]
}

func containsInt(xs []int, x int) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}

func writeSubgraph(path string, g *graph, processed map[int]bool, want bool) error {
	var b strings.Builder
	for v, c := range g.cmds {
		if processed[v] != want {
			continue
		}
		fmt.Fprintf(&b, "%s ->", c.Name)
		for _, w := range g.edges[v] {
			fmt.Fprintf(&b, " %s", g.cmds[w].Name)
		}
		b.WriteByte('\n')
	}
	return os.WriteFile(path, []byte(b.String()), 0o644)
}
