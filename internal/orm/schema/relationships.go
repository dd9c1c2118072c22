package schema

import (
	"errors"
	"fmt"
	"strings"
)

// ErrOwnershipCycle is returned when entity types own each other in a cycle.
// Instance-level cycles are fine; a type-level cycle leaves no insertion
// order in which every foreign key can be satisfied.
var ErrOwnershipCycle = errors.New("circular ownership between entity types")

// ownershipGraph links every type to the types it depends on: a type
// depends on the targets of its owned associations, which must therefore be
// persisted first.
type ownershipGraph struct {
	nodes      []string
	deps       map[string][]string
	dependents map[string][]string
}

func newOwnershipGraph(types []*EntityType) *ownershipGraph {
	g := &ownershipGraph{
		deps:       make(map[string][]string),
		dependents: make(map[string][]string),
	}
	for _, t := range types {
		g.nodes = append(g.nodes, t.Name)
	}
	for _, t := range types {
		for _, f := range t.Associations() {
			// Self references are satisfied by surrogate keys
			if f.MappedBy != "" || f.Target == t.Name {
				continue
			}
			g.addEdge(t.Name, f.Target)
		}
	}
	return g
}

func (g *ownershipGraph) addEdge(dependent, dependency string) {
	for _, d := range g.deps[dependent] {
		if d == dependency {
			return
		}
	}
	g.deps[dependent] = append(g.deps[dependent], dependency)
	g.dependents[dependency] = append(g.dependents[dependency], dependent)
}

// insertionOrder runs a depth-first search from the types that depend on
// nothing, following dependent edges, and reverses the finishing order so
// every type comes after everything it depends on.
func (g *ownershipGraph) insertionOrder() ([]string, error) {
	visited := make(map[string]bool)
	onStack := make(map[string]bool)
	finished := make([]string, 0, len(g.nodes))

	var dfs func(node string) bool
	dfs = func(node string) bool {
		visited[node] = true
		onStack[node] = true
		deps := g.dependents[node]
		for i := len(deps) - 1; i >= 0; i-- {
			next := deps[i]
			if onStack[next] {
				return false
			}
			if !visited[next] {
				if !dfs(next) {
					return false
				}
			}
		}
		onStack[node] = false
		finished = append(finished, node)
		return true
	}

	// Roots are walked in reverse so unrelated types keep registration order
	for i := len(g.nodes) - 1; i >= 0; i-- {
		node := g.nodes[i]
		if len(g.deps[node]) > 0 || visited[node] {
			continue
		}
		if !dfs(node) {
			return nil, g.cycleError()
		}
	}

	if len(finished) != len(g.nodes) {
		return nil, g.cycleError()
	}

	order := make([]string, len(finished))
	for i, name := range finished {
		order[len(finished)-1-i] = name
	}
	return order, nil
}

func (g *ownershipGraph) cycleError() error {
	cycles := g.detectCycles()
	if len(cycles) == 0 {
		return ErrOwnershipCycle
	}
	return fmt.Errorf("%w:\n%s", ErrOwnershipCycle, formatCycles(cycles))
}

// detectCycles returns the dependency cycles found, one per search root
func (g *ownershipGraph) detectCycles() [][]string {
	var cycles [][]string
	visited := make(map[string]bool)
	recursionStack := make(map[string]bool)

	var dfs func(node string, path []string) bool
	dfs = func(node string, path []string) bool {
		visited[node] = true
		recursionStack[node] = true
		path = append(path, node)

		for _, neighbor := range g.deps[node] {
			if !visited[neighbor] {
				if dfs(neighbor, path) {
					return true
				}
			} else if recursionStack[neighbor] {
				for i, n := range path {
					if n == neighbor {
						cycle := make([]string, len(path)-i)
						copy(cycle, path[i:])
						cycles = append(cycles, cycle)
						break
					}
				}
				return true
			}
		}

		recursionStack[node] = false
		return false
	}

	for _, node := range g.nodes {
		if !visited[node] {
			dfs(node, []string{})
		}
	}

	return cycles
}

// formatCycles formats cycle information for error messages
func formatCycles(cycles [][]string) string {
	var b strings.Builder
	for i, cycle := range cycles {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(fmt.Sprintf("  Cycle %d: %s -> %s",
			i+1,
			strings.Join(cycle, " -> "),
			cycle[0]))
	}
	return b.String()
}
