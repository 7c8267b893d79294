package engine

import (
	"fmt"
	"slices"
	"strings"
)

// DAG orders resources by name so that every resource comes after the
// resources it depends on.
type DAG struct {
	nodes    map[string]*dagNode
	order    []string // creation order
	revOrder []string // destruction order
}

type dagNode struct {
	name     string
	edges    []string // resources this node depends on
	revEdges []string // resources that depend on this node
}

// NewDAG builds a graph over names. Edges to names outside the graph are
// dropped. Ties are broken by the order of names, so the result is stable.
func NewDAG(names []string, deps map[string][]string) (*DAG, error) {
	d := &DAG{nodes: make(map[string]*dagNode, len(names))}
	for _, n := range names {
		d.nodes[n] = &dagNode{name: n}
	}
	for _, n := range names {
		node := d.nodes[n]
		for _, dep := range deps[n] {
			if _, ok := d.nodes[dep]; !ok || dep == n || slices.Contains(node.edges, dep) {
				continue
			}
			node.edges = append(node.edges, dep)
		}
	}
	for _, n := range names {
		for _, dep := range d.nodes[n].edges {
			d.nodes[dep].revEdges = append(d.nodes[dep].revEdges, n)
		}
	}

	order, err := d.topoSort(names)
	if err != nil {
		return nil, err
	}
	d.order = order
	d.revOrder = make([]string, len(order))
	for i, n := range order {
		d.revOrder[len(order)-1-i] = n
	}
	return d, nil
}

// CreationOrder returns names in dependency-respecting creation order.
func (d *DAG) CreationOrder() []string { return d.order }

// DestructionOrder returns names in reverse dependency order.
func (d *DAG) DestructionOrder() []string { return d.revOrder }

// Dependencies returns the direct dependencies of name.
func (d *DAG) Dependencies(name string) []string {
	if node, ok := d.nodes[name]; ok {
		return node.edges
	}
	return nil
}

// Dependents returns the resources that depend directly on name.
func (d *DAG) Dependents(name string) []string {
	if node, ok := d.nodes[name]; ok {
		return node.revEdges
	}
	return nil
}

// TransitiveDeps returns everything name depends on, directly or not.
func (d *DAG) TransitiveDeps(name string) []string {
	seen := map[string]bool{}
	var out []string
	var walk func(string)
	walk = func(n string) {
		for _, dep := range d.Dependencies(n) {
			if !seen[dep] {
				seen[dep] = true
				out = append(out, dep)
				walk(dep)
			}
		}
	}
	walk(name)
	return out
}

// topoSort is Kahn's algorithm with the ready queue kept in input order.
func (d *DAG) topoSort(names []string) ([]string, error) {
	pos := make(map[string]int, len(names))
	inDegree := make(map[string]int, len(names))
	var queue []string
	for i, n := range names {
		pos[n] = i
		inDegree[n] = len(d.nodes[n].edges)
		if inDegree[n] == 0 {
			queue = append(queue, n)
		}
	}

	sorted := make([]string, 0, len(names))
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		sorted = append(sorted, n)

		for _, dependent := range d.nodes[n].revEdges {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				queue = append(queue, dependent)
				slices.SortFunc(queue, func(a, b string) int { return pos[a] - pos[b] })
			}
		}
	}

	if len(sorted) != len(names) {
		var cycle []string
		for _, n := range names {
			if inDegree[n] > 0 {
				cycle = append(cycle, n)
			}
		}
		return nil, fmt.Errorf("dependency cycle detected among resources: %s", strings.Join(cycle, ", "))
	}
	return sorted, nil
}
