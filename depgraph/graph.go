// Package depgraph builds the plugin dependency graph, extracts a
// topological load order and level-batches from it, detects cycles, and
// cascades unsatisfied-dependency and critical-plugin failures -- a
// generalization of a single-pass topological-sort helper into a graph
// type that exposes batches, cycle detail, and failure cascades.
package depgraph

import "sort"

// Node is the minimal per-plugin input the graph needs: its declared
// dependencies, load-order tie-break, and criticality.
type Node struct {
	Name         string
	Dependencies []string
	LoadOrder    int
	Critical     bool
}

// Graph is the built dependency graph: node per plugin, plus the incoming
// (dependents) and outgoing (dependencies) adjacency for each survivor.
type Graph struct {
	nodes    map[string]Node
	Outgoing map[string][]string // name -> names it depends on
	Incoming map[string][]string // name -> names that depend on it
}

// Cycle is one detected circular-dependency group, in discovery order.
type Cycle struct {
	Members []string
}

// Result is the full output of building and analyzing a dependency graph.
type Result struct {
	Graph *Graph

	// Order is the topological order of every plugin that survived cycle
	// and unsatisfied-dependency exclusion.
	Order []string

	// Batches is a level-batch decomposition of Order: batch k contains no
	// plugin with a direct dependency on another plugin in batch k.
	Batches [][]string

	// Cycles lists every detected circular-dependency group; members never
	// appear in Order or Batches.
	Cycles []Cycle

	// Unsatisfied lists plugins excluded because a dependency (direct or
	// transitive) does not resolve to a known plugin.
	Unsatisfied []string

	// CriticalFailures lists plugins excluded because a critical-marked
	// plugin upstream of them failed to build into the graph cleanly.
	// Build leaves it empty and nothing in this package populates it.
	CriticalFailures []string
}

// Build constructs the graph from nodes and runs the full §4.7 pipeline:
// unsatisfied-dependency cascading, cycle detection, topological ordering
// with (loadOrder, name) tie-break, and batch extraction.
func Build(nodes []Node) Result {
	byName := make(map[string]Node, len(nodes))
	for _, n := range nodes {
		byName[n.Name] = n
	}

	unsatisfied := cascadeUnsatisfied(nodes, byName)

	survivorNodes := make([]Node, 0, len(nodes))
	for _, n := range nodes {
		if !unsatisfied[n.Name] {
			survivorNodes = append(survivorNodes, n)
		}
	}

	cycles, inCycle := detectCycles(survivorNodes)

	g := &Graph{
		nodes:    byName,
		Outgoing: make(map[string][]string),
		Incoming: make(map[string][]string),
	}
	finalNodes := make([]Node, 0, len(survivorNodes))
	for _, n := range survivorNodes {
		if inCycle[n.Name] {
			continue
		}
		finalNodes = append(finalNodes, n)
		g.Outgoing[n.Name] = append([]string{}, n.Dependencies...)
	}
	for _, n := range finalNodes {
		for _, dep := range n.Dependencies {
			g.Incoming[dep] = append(g.Incoming[dep], n.Name)
		}
	}

	order, batches := batchify(finalNodes, byName)

	res := Result{
		Graph:       g,
		Order:       order,
		Batches:     batches,
		Cycles:      cycles,
		Unsatisfied: sortedKeys(unsatisfied),
	}
	return res
}

// cascadeUnsatisfied marks a plugin unsatisfied if any dependency (direct
// or transitive) does not resolve to a known plugin, repeating until a
// fixed point.
func cascadeUnsatisfied(nodes []Node, byName map[string]Node) map[string]bool {
	unsatisfied := make(map[string]bool)
	for {
		changed := false
		for _, n := range nodes {
			if unsatisfied[n.Name] {
				continue
			}
			for _, dep := range n.Dependencies {
				if _, ok := byName[dep]; !ok || unsatisfied[dep] {
					unsatisfied[n.Name] = true
					changed = true
					break
				}
			}
		}
		if !changed {
			break
		}
	}
	return unsatisfied
}

// detectCycles runs DFS with a three-color scheme over the survivor set,
// reporting every cycle exactly once.
func detectCycles(nodes []Node) ([]Cycle, map[string]bool) {
	byName := make(map[string]Node, len(nodes))
	for _, n := range nodes {
		byName[n.Name] = n
	}

	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(nodes))
	var stack []string
	var cycles []Cycle
	inCycle := make(map[string]bool)

	var visit func(name string)
	visit = func(name string) {
		switch color[name] {
		case black:
			return
		case gray:
			idx := 0
			for i, s := range stack {
				if s == name {
					idx = i
					break
				}
			}
			members := append([]string{}, stack[idx:]...)
			cycles = append(cycles, Cycle{Members: members})
			for _, m := range members {
				inCycle[m] = true
			}
			return
		}

		color[name] = gray
		stack = append(stack, name)
		if n, ok := byName[name]; ok {
			for _, dep := range n.Dependencies {
				if _, known := byName[dep]; known {
					visit(dep)
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[name] = black
	}

	// Visit in name order for determinism.
	sorted := append([]Node{}, nodes...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })
	for _, n := range sorted {
		visit(n.Name)
	}

	return cycles, inCycle
}

// batchify extracts the topological order and level-batches of nodes via
// Kahn's algorithm, tie-breaking ready nodes by ascending LoadOrder then
// ascending Name.
func batchify(nodes []Node, byName map[string]Node) ([]string, [][]string) {
	if len(nodes) == 0 {
		return nil, nil
	}

	remainingDeps := make(map[string]int, len(nodes))
	dependents := make(map[string][]string, len(nodes))
	present := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		present[n.Name] = true
	}
	for _, n := range nodes {
		count := 0
		for _, dep := range n.Dependencies {
			if present[dep] {
				count++
				dependents[dep] = append(dependents[dep], n.Name)
			}
		}
		remainingDeps[n.Name] = count
	}

	var order []string
	var batches [][]string

	ready := readyNodes(nodes, remainingDeps)
	for len(ready) > 0 {
		batch := append([]string{}, ready...)
		batches = append(batches, batch)
		order = append(order, batch...)

		for _, name := range batch {
			delete(remainingDeps, name)
			for _, dep := range dependents[name] {
				if _, ok := remainingDeps[dep]; ok {
					remainingDeps[dep]--
				}
			}
		}
		ready = readyNodesFromMap(byName, remainingDeps)
	}

	return order, batches
}

func readyNodes(nodes []Node, remainingDeps map[string]int) []string {
	var ready []string
	for _, n := range nodes {
		if remainingDeps[n.Name] == 0 {
			ready = append(ready, n.Name)
		}
	}
	return sortByLoadOrderThenName(ready, func(name string) (int, bool) {
		for _, n := range nodes {
			if n.Name == name {
				return n.LoadOrder, true
			}
		}
		return 0, false
	})
}

func readyNodesFromMap(byName map[string]Node, remainingDeps map[string]int) []string {
	var ready []string
	for name, count := range remainingDeps {
		if count == 0 {
			ready = append(ready, name)
		}
	}
	return sortByLoadOrderThenName(ready, func(name string) (int, bool) {
		n, ok := byName[name]
		return n.LoadOrder, ok
	})
}

func sortByLoadOrderThenName(names []string, loadOrderOf func(string) (int, bool)) []string {
	sort.Slice(names, func(i, j int) bool {
		li, _ := loadOrderOf(names[i])
		lj, _ := loadOrderOf(names[j])
		if li != lj {
			return li < lj
		}
		return names[i] < names[j]
	})
	return names
}

func sortedKeys(m map[string]bool) []string {
	if len(m) == 0 {
		return nil
	}
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// ReverseOrder returns order reversed -- the teardown sequence used by
// Reload.
func ReverseOrder(order []string) []string {
	out := make([]string, len(order))
	for i, name := range order {
		out[len(order)-1-i] = name
	}
	return out
}

// CriticalDownstream returns every plugin reachable from critical (its
// transitive dependents, via Incoming) plus critical itself, used to
// cascade a critical-plugin failure across the whole downstream closure.
func (g *Graph) CriticalDownstream(critical string) []string {
	visited := map[string]bool{critical: true}
	queue := []string{critical}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, dependent := range g.Incoming[cur] {
			if !visited[dependent] {
				visited[dependent] = true
				queue = append(queue, dependent)
			}
		}
	}
	out := sortedKeys(visited)
	return out
}

// Dependents returns the direct and transitive dependents of name (plugins
// that, directly or indirectly, depend on it) plus name itself, used to
// cascade a non-critical plugin's failure to its downstream closure.
func (g *Graph) Dependents(name string) []string {
	return g.CriticalDownstream(name)
}
