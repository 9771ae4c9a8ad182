package compiler

import (
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/finder/internal/ir"
)

// embeddingGraph maps an entity name to the entities it embeds.
type embeddingGraph map[string][]string

// embeddingCycles reports embeddable entities that embed each other,
// directly or through a chain. Such entities cannot be flattened into
// columns.
//
// The algorithm:
//  1. Build entity → embedded entity edges from linked properties
//  2. Use Tarjan's algorithm to find strongly connected components
//  3. Report each SCC with size > 1 or a self-loop
func embeddingCycles(model *ir.Metamodel) []*CompileError {
	graph := make(embeddingGraph)
	for _, e := range model.Entities() {
		graph[e.Name] = []string{}
		for _, p := range e.Properties {
			if p.Embedded != nil {
				graph[e.Name] = append(graph[e.Name], p.Embedded.Name)
			}
		}
	}

	var errs []*CompileError
	for _, scc := range tarjanSCC(graph) {
		if len(scc) == 1 && !hasSelfLoop(scc[0], graph) {
			continue
		}
		sort.Strings(scc)
		path := reconstructCyclePath(scc, graph)
		errs = append(errs, &CompileError{
			Code:    ErrCodeEmbeddingCycle,
			Field:   "entity." + scc[0],
			Message: fmt.Sprintf("embedding cycle: %s", strings.Join(path, " → ")),
		})
	}
	sort.Slice(errs, func(i, j int) bool { return errs[i].Field < errs[j].Field })
	return errs
}

// hasSelfLoop checks if a node has an edge to itself.
func hasSelfLoop(node string, graph embeddingGraph) bool {
	for _, neighbor := range graph[node] {
		if neighbor == node {
			return true
		}
	}
	return false
}

// tarjanSCC finds strongly connected components using Tarjan's algorithm.
// Nodes are visited in sorted order so results are deterministic.
func tarjanSCC(graph embeddingGraph) [][]string {
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

		for _, w := range graph[v] {
			if _, visited := indices[w]; !visited {
				strongConnect(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				lowlink[v] = min(lowlink[v], indices[w])
			}
		}

		// v is a root node: pop the stack into an SCC
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

	nodes := make([]string, 0, len(graph))
	for node := range graph {
		nodes = append(nodes, node)
	}
	sort.Strings(nodes)
	for _, node := range nodes {
		if _, visited := indices[node]; !visited {
			strongConnect(node)
		}
	}
	return sccs
}

// reconstructCyclePath follows edges within an SCC from its first member
// until it returns to the start.
func reconstructCyclePath(scc []string, graph embeddingGraph) []string {
	if len(scc) == 0 {
		return []string{}
	}

	members := make(map[string]bool)
	for _, node := range scc {
		members[node] = true
	}

	start := scc[0]
	current := start
	path := []string{current}
	visited := make(map[string]bool)
	for {
		visited[current] = true

		var next string
		for _, neighbor := range graph[current] {
			if members[neighbor] && (!visited[neighbor] || neighbor == start) {
				next = neighbor
				break
			}
		}
		if next == "" {
			break
		}
		path = append(path, next)
		if next == start {
			break
		}
		current = next
	}
	return path
}
