// Package dag orders pipeline stages by their dependencies.
// It detects cycles, sorts topologically, and finds downstream dependents.
package dag

import (
	"fmt"
	"slices"
	"sort"
)

// Node is a graph vertex carrying a value.
type Node[T any] struct {
	ID    string
	Value T
}

// Graph is a directed acyclic graph. Iteration follows insertion order so
// that independent nodes keep the order they were added in.
type Graph[T any] struct {
	order    []string
	nodes    map[string]*Node[T]
	children map[string][]string // dependency -> dependents
	parents  map[string][]string // dependent -> dependencies
}

// New creates an empty graph.
func New[T any]() *Graph[T] {
	return &Graph[T]{
		nodes:    make(map[string]*Node[T]),
		children: make(map[string][]string),
		parents:  make(map[string][]string),
	}
}

// AddNode adds a node, or replaces the value of an existing one.
func (g *Graph[T]) AddNode(id string, value T) {
	if n, ok := g.nodes[id]; ok {
		n.Value = value
		return
	}
	g.nodes[id] = &Node[T]{ID: id, Value: value}
	g.order = append(g.order, id)
}

// AddEdge records that child depends on parent.
func (g *Graph[T]) AddEdge(parent, child string) error {
	if _, ok := g.nodes[parent]; !ok {
		return fmt.Errorf("parent node %q does not exist", parent)
	}
	if _, ok := g.nodes[child]; !ok {
		return fmt.Errorf("child node %q does not exist", child)
	}
	if parent == child {
		return fmt.Errorf("self-loop detected: %s", parent)
	}
	if !slices.Contains(g.children[parent], child) {
		g.children[parent] = append(g.children[parent], child)
	}
	if !slices.Contains(g.parents[child], parent) {
		g.parents[child] = append(g.parents[child], parent)
	}
	return nil
}

// Node returns a node by ID.
func (g *Graph[T]) Node(id string) (*Node[T], bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// Parents returns the direct dependencies of id.
func (g *Graph[T]) Parents(id string) []string {
	return g.parents[id]
}

// Children returns the direct dependents of id.
func (g *Graph[T]) Children(id string) []string {
	return g.children[id]
}

// Len returns the number of nodes.
func (g *Graph[T]) Len() int {
	return len(g.nodes)
}

// Cycle returns a cycle path if the graph has one.
func (g *Graph[T]) Cycle() []string {
	const (
		unvisited = iota
		onStack
		done
	)
	state := make(map[string]int, len(g.nodes))
	var stack []string
	var cycle []string

	var visit func(id string) bool
	visit = func(id string) bool {
		state[id] = onStack
		stack = append(stack, id)
		for _, c := range g.children[id] {
			switch state[c] {
			case onStack:
				i := slices.Index(stack, c)
				cycle = append(slices.Clone(stack[i:]), c)
				return true
			case unvisited:
				if visit(c) {
					return true
				}
			}
		}
		stack = stack[:len(stack)-1]
		state[id] = done
		return false
	}

	for _, id := range g.order {
		if state[id] == unvisited && visit(id) {
			return cycle
		}
	}
	return nil
}

// TopologicalSort returns the nodes with every dependency before its dependents.
func (g *Graph[T]) TopologicalSort() ([]*Node[T], error) {
	if cycle := g.Cycle(); cycle != nil {
		return nil, fmt.Errorf("cycle detected: %v", cycle)
	}

	seen := make(map[string]bool, len(g.nodes))
	out := make([]*Node[T], 0, len(g.nodes))

	var visit func(id string)
	visit = func(id string) {
		if seen[id] {
			return
		}
		seen[id] = true
		for _, p := range g.parents[id] {
			visit(p)
		}
		out = append(out, g.nodes[id])
	}
	for _, id := range g.order {
		visit(id)
	}
	return out, nil
}

// Downstream returns every transitive dependent of the given nodes, sorted.
// The given nodes themselves are not included.
func (g *Graph[T]) Downstream(ids ...string) []string {
	found := make(map[string]bool)
	var mark func(id string)
	mark = func(id string) {
		for _, c := range g.children[id] {
			if !found[c] {
				found[c] = true
				mark(c)
			}
		}
	}
	for _, id := range ids {
		mark(id)
	}
	return sortedKeys(found)
}

// Upstream returns every transitive dependency of id, sorted.
func (g *Graph[T]) Upstream(id string) []string {
	found := make(map[string]bool)
	var mark func(id string)
	mark = func(id string) {
		for _, p := range g.parents[id] {
			if !found[p] {
				found[p] = true
				mark(p)
			}
		}
	}
	mark(id)
	return sortedKeys(found)
}

// Roots returns nodes without dependencies, in insertion order.
func (g *Graph[T]) Roots() []string {
	var roots []string
	for _, id := range g.order {
		if len(g.parents[id]) == 0 {
			roots = append(roots, id)
		}
	}
	return roots
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
