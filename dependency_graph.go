package modctx

import (
	"cmp"
	"slices"
)

// orderKey ranks a module among those ready to bootstrap.
type orderKey struct {
	group int
	order int
}

func (k orderKey) compare(o orderKey) int {
	if c := cmp.Compare(k.group, o.group); c != 0 {
		return c
	}
	return cmp.Compare(k.order, o.order)
}

// dependencyGraph holds the enabled modules and the edges between them;
// deps[i] lists the modules i must bootstrap after.
type dependencyGraph struct {
	nodes []*ModuleDescriptor
	hard  [][]int
	opt   [][]int
}

// ResolveOrder returns the enabled descriptors in bootstrap order.
//
// A module comes after its required, runtime and enabled optional
// dependencies. Among the modules whose dependencies are satisfied,
// infrastructure modules go first and postprocessors last, then lower role
// order, then registration order. A module inherits the most urgent rank of
// the modules depending on it, so the dependencies of an infrastructure
// module are pulled forward with it. Optional dependencies forming a cycle
// are ignored; required cycles fail with a CyclicDependencyError.
func ResolveOrder(descriptors []*ModuleDescriptor) ([]*ModuleDescriptor, error) {
	g, err := buildGraph(descriptors)
	if err != nil {
		return nil, err
	}
	if err := g.detectCycle(); err != nil {
		return nil, err
	}

	preds := g.dropOptionalCycles()

	keys := make([]orderKey, len(g.nodes))
	for i, d := range g.nodes {
		keys[i] = orderKey{group: d.Role.group(), order: d.RoleOrder}
	}

	// Dependents are visited before their dependencies in reverse
	// topological order, so ranks propagate transitively in one pass.
	topo := g.sort(preds, func(a, b int) int { return cmp.Compare(a, b) })
	for i := len(topo) - 1; i >= 0; i-- {
		n := topo[i]
		for _, dep := range preds[n] {
			if keys[n].compare(keys[dep]) < 0 {
				keys[dep] = keys[n]
			}
		}
	}

	order := g.sort(preds, func(a, b int) int {
		if c := keys[a].compare(keys[b]); c != 0 {
			return c
		}
		return cmp.Compare(a, b)
	})

	result := make([]*ModuleDescriptor, len(order))
	for i, n := range order {
		result[i] = g.nodes[n]
	}
	return result, nil
}

func buildGraph(descriptors []*ModuleDescriptor) (*dependencyGraph, error) {
	g := &dependencyGraph{}
	index := make(map[string]int)
	disabled := make(map[string]bool)

	for _, d := range descriptors {
		if !d.Enabled {
			disabled[d.Name] = true
			for _, a := range d.Aliases {
				disabled[a] = true
			}
			continue
		}
		index[d.Name] = len(g.nodes)
		for _, a := range d.Aliases {
			index[a] = len(g.nodes)
		}
		g.nodes = append(g.nodes, d)
	}

	g.hard = make([][]int, len(g.nodes))
	g.opt = make([][]int, len(g.nodes))
	for i, d := range g.nodes {
		for _, name := range d.requiredDependencies() {
			j, ok := index[name]
			if !ok {
				return nil, &MissingDependencyError{Module: d.Name, Dependency: name, Disabled: disabled[name]}
			}
			if !slices.Contains(g.hard[i], j) {
				g.hard[i] = append(g.hard[i], j)
			}
		}
		for _, name := range d.OptionalDependencies {
			j, ok := index[name]
			if !ok || j == i || slices.Contains(g.hard[i], j) || slices.Contains(g.opt[i], j) {
				continue
			}
			g.opt[i] = append(g.opt[i], j)
		}
	}
	return g, nil
}

// detectCycle walks the required edges depth first.
func (g *dependencyGraph) detectCycle() error {
	const (
		unvisited = iota
		visiting
		done
	)
	state := make([]int, len(g.nodes))
	var path []int

	var visit func(n int) error
	visit = func(n int) error {
		state[n] = visiting
		path = append(path, n)
		for _, dep := range g.hard[n] {
			switch state[dep] {
			case visiting:
				start := slices.Index(path, dep)
				cycle := make([]string, 0, len(path)-start+1)
				for _, p := range path[start:] {
					cycle = append(cycle, g.nodes[p].Name)
				}
				cycle = append(cycle, g.nodes[dep].Name)
				return &CyclicDependencyError{Cycle: cycle}
			case unvisited:
				if err := visit(dep); err != nil {
					return err
				}
			}
		}
		path = path[:len(path)-1]
		state[n] = done
		return nil
	}

	for n := range g.nodes {
		if state[n] == unvisited {
			if err := visit(n); err != nil {
				return err
			}
		}
	}
	return nil
}

// dropOptionalCycles returns the dependencies of every node, leaving out
// optional edges inside a strongly connected component.
func (g *dependencyGraph) dropOptionalCycles() [][]int {
	component := g.components()
	preds := make([][]int, len(g.nodes))
	for i := range g.nodes {
		preds[i] = slices.Clone(g.hard[i])
		for _, j := range g.opt[i] {
			if component[i] != component[j] {
				preds[i] = append(preds[i], j)
			}
		}
	}
	return preds
}

// components labels the strongly connected components over all edges
// (Tarjan).
func (g *dependencyGraph) components() []int {
	n := len(g.nodes)
	index := make([]int, n)
	low := make([]int, n)
	onStack := make([]bool, n)
	component := make([]int, n)
	for i := range index {
		index[i] = -1
	}
	var stack []int
	next, label := 0, 0

	var connect func(v int)
	connect = func(v int) {
		index[v], low[v] = next, next
		next++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range slices.Concat(g.hard[v], g.opt[v]) {
			if index[w] < 0 {
				connect(w)
				low[v] = min(low[v], low[w])
			} else if onStack[w] {
				low[v] = min(low[v], index[w])
			}
		}

		if low[v] == index[v] {
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				component[w] = label
				if w == v {
					break
				}
			}
			label++
		}
	}

	for v := range n {
		if index[v] < 0 {
			connect(v)
		}
	}
	return component
}

// sort is Kahn's algorithm, picking the smallest ready node under less.
func (g *dependencyGraph) sort(preds [][]int, less func(a, b int) int) []int {
	n := len(g.nodes)
	pending := make([]int, n)
	dependents := make([][]int, n)
	for i, deps := range preds {
		pending[i] = len(deps)
		for _, d := range deps {
			dependents[d] = append(dependents[d], i)
		}
	}

	var ready []int
	for i := range n {
		if pending[i] == 0 {
			ready = append(ready, i)
		}
	}

	order := make([]int, 0, n)
	for len(ready) > 0 {
		best := 0
		for i := 1; i < len(ready); i++ {
			if less(ready[i], ready[best]) < 0 {
				best = i
			}
		}
		node := ready[best]
		ready = slices.Delete(ready, best, best+1)
		order = append(order, node)

		for _, dep := range dependents[node] {
			pending[dep]--
			if pending[dep] == 0 {
				ready = append(ready, dep)
			}
		}
	}
	return order
}
