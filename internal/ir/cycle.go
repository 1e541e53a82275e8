package ir

import "slices"

// dependencyGraph maps operator ID → IDs of operators reading its outputs.
type dependencyGraph map[string][]string

// FindCycles reports every cycle among the graph's operators as a path of
// operator IDs whose last element repeats the first.
//
// The algorithm:
//  1. Build producer → consumer edges from variable uses
//  2. Use Tarjan's algorithm to find strongly connected components
//  3. Report each SCC with size > 1 or a self-loop as a cycle
//
// An acyclic graph returns nil.
func FindCycles(g *Graph) [][]string {
	deps := buildDependencyGraph(g)

	var cycles [][]string
	for _, scc := range tarjanSCC(deps, g) {
		if len(scc) > 1 || hasSelfLoop(scc[0], deps) {
			cycles = append(cycles, reconstructCyclePath(scc, deps))
		}
	}
	return cycles
}

func buildDependencyGraph(g *Graph) dependencyGraph {
	deps := make(dependencyGraph, len(g.ops))
	for _, op := range g.ops {
		if deps[op.ID] == nil {
			deps[op.ID] = []string{}
		}
		for _, out := range op.Outputs {
			for _, c := range g.Consumers(out.Var) {
				if !slices.Contains(deps[op.ID], c.ID) {
					deps[op.ID] = append(deps[op.ID], c.ID)
				}
			}
		}
	}
	return deps
}

func hasSelfLoop(node string, deps dependencyGraph) bool {
	return slices.Contains(deps[node], node)
}

// tarjanSCC finds strongly connected components. Nodes are visited in the
// graph's operator order so the output is deterministic.
func tarjanSCC(deps dependencyGraph, g *Graph) [][]string {
	var (
		index   = 0
		stack   []string
		indices = make(map[string]int)
		lowlink = make(map[string]int)
		onStack = make(map[string]bool)
		sccs    [][]string
	)

	var strongConnect func(string)
	strongConnect = func(v string) {
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range deps[v] {
			if _, visited := indices[w]; !visited {
				strongConnect(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				lowlink[v] = min(lowlink[v], indices[w])
			}
		}

		if lowlink[v] == indices[v] {
			var scc []string
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			sccs = append(sccs, scc)
		}
	}

	for _, op := range g.ops {
		if _, visited := indices[op.ID]; !visited {
			strongConnect(op.ID)
		}
	}
	return sccs
}

// reconstructCyclePath follows edges inside an SCC from its first member
// until it returns to the start.
func reconstructCyclePath(scc []string, deps dependencyGraph) []string {
	members := make(map[string]bool, len(scc))
	for _, n := range scc {
		members[n] = true
	}
	start := scc[0]
	path := []string{start}
	visited := map[string]bool{start: true}
	current := start
	for {
		next := ""
		for _, w := range deps[current] {
			if members[w] && (w == start || !visited[w]) {
				next = w
				break
			}
		}
		if next == "" {
			return path
		}
		path = append(path, next)
		if next == start {
			return path
		}
		visited[next] = true
		current = next
	}
}
