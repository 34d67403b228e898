package deps

import (
	"slices"

	"github.com/roach88/atomledger/internal/ir"
)

// graph maps atom_uid to the uids it depends on.
type graph map[string][]string

func buildGraph(edges []ir.Edge) graph {
	g := make(graph)
	for _, e := range edges {
		g[e.AtomUID] = append(g[e.AtomUID], e.DependsOn)
		if _, ok := g[e.DependsOn]; !ok {
			g[e.DependsOn] = nil
		}
	}
	for node := range g {
		slices.Sort(g[node])
	}
	return g
}

// DetectCycle reports whether the edges contain a directed cycle,
// including a self loop.
func DetectCycle(edges []ir.Edge) bool {
	return len(FindCycles(edges)) > 0
}

// FindCycles returns every strongly connected component that forms a
// cycle. Each cycle is returned as a closed path starting and ending at its
// smallest uid, e.g. [A B C A]. Cycles are ordered by their first uid.
//
// Cycle detection runs at validation time only; the indexer never walks
// the graph.
func FindCycles(edges []ir.Edge) [][]string {
	g := buildGraph(edges)
	var cycles [][]string
	for _, scc := range tarjanSCC(g) {
		if len(scc) > 1 || hasSelfLoop(scc[0], g) {
			cycles = append(cycles, cyclePath(scc, g))
		}
	}
	slices.SortFunc(cycles, func(a, b []string) int {
		return slices.Compare(a, b)
	})
	return cycles
}

func hasSelfLoop(node string, g graph) bool {
	return slices.Contains(g[node], node)
}

// tarjanSCC finds strongly connected components using Tarjan's algorithm.
// Nodes are visited in sorted order so the output is deterministic.
func tarjanSCC(g graph) [][]string {
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

		for _, w := range g[v] {
			if _, visited := indices[w]; !visited {
				strongConnect(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				lowlink[v] = min(lowlink[v], indices[w])
			}
		}

		// v is a root: pop its component
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
			slices.Sort(scc)
			sccs = append(sccs, scc)
		}
	}

	nodes := make([]string, 0, len(g))
	for node := range g {
		nodes = append(nodes, node)
	}
	slices.Sort(nodes)
	for _, node := range nodes {
		if _, visited := indices[node]; !visited {
			strongConnect(node)
		}
	}
	return sccs
}

// cyclePath walks edges inside the component from its smallest member
// until it returns to the start. The walk backtracks when it reaches a
// dead end, so the result is always a closed path.
func cyclePath(scc []string, g graph) []string {
	start := scc[0]
	if len(scc) == 1 {
		return []string{start, start}
	}
	members := make(map[string]bool, len(scc))
	for _, n := range scc {
		members[n] = true
	}

	visited := map[string]bool{start: true}
	path := []string{start}
	var walk func(string) bool
	walk = func(cur string) bool {
		for _, next := range g[cur] {
			if !members[next] {
				continue
			}
			if next == start && len(path) > 1 {
				path = append(path, start)
				return true
			}
			if visited[next] {
				continue
			}
			visited[next] = true
			path = append(path, next)
			if walk(next) {
				return true
			}
			path = path[:len(path)-1]
		}
		return false
	}
	walk(start)
	return path
}
