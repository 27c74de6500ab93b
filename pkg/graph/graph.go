/*
Copyright 2025 The Crossplane Authors.
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at
    http://www.apache.org/licenses/LICENSE-2.0
Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package graph provides a small directed graph used to find dependency
// cycles between component declarations.
package graph

import (
	"fmt"
	"slices"
	"strings"
)

// CycleError indicates that a set of nodes depend on each other.
type CycleError struct {
	// Cycle contains the nodes that form the cycle, in insertion order.
	Cycle []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("circular dependency: %s", strings.Join(e.Cycle, " -> "))
}

// Graph is a directed graph keyed by string node names. An edge from A to B
// means A waits on B.
type Graph struct {
	adjacency map[string][]string
	nodes     []string
	index     map[string]int
}

// New creates an empty Graph.
func New() *Graph {
	return &Graph{
		adjacency: make(map[string][]string),
		index:     make(map[string]int),
	}
}

// AddNode adds a node. Adding an existing node is a no-op.
func (g *Graph) AddNode(name string) {
	if _, ok := g.index[name]; ok {
		return
	}
	g.index[name] = len(g.nodes)
	g.nodes = append(g.nodes, name)
}

// AddEdge adds a directed edge from -> to. Both nodes are added if missing.
// Duplicate edges are ignored.
func (g *Graph) AddEdge(from, to string) {
	g.AddNode(from)
	g.AddNode(to)
	for _, n := range g.adjacency[from] {
		if n == to {
			return
		}
	}
	g.adjacency[from] = append(g.adjacency[from], to)
}

// Nodes returns the nodes in insertion order.
func (g *Graph) Nodes() []string {
	out := make([]string, len(g.nodes))
	copy(out, g.nodes)
	return out
}

// Cycles returns every group of nodes that lie on a common cycle. A node
// with an edge to itself forms a cycle on its own. Groups and the nodes in
// them are ordered by insertion, so the result is deterministic.
//
// The search is a depth-first walk that colours nodes as it enters and
// leaves them and tracks the lowest entry number reachable from each node.
// A node whose low-link equals its own entry number roots a strongly
// connected component; components with more than one node, or with a self
// edge, are cycles.
func (g *Graph) Cycles() [][]string {
	w := &walk{
		g:     g,
		entry: make(map[string]int, len(g.nodes)),
		low:   make(map[string]int, len(g.nodes)),
		gray:  make(map[string]bool, len(g.nodes)),
	}
	for _, n := range g.nodes {
		if _, seen := w.entry[n]; !seen {
			w.visit(n)
		}
	}
	slices.SortFunc(w.cycles, func(a, b []string) int {
		return g.index[a[0]] - g.index[b[0]]
	})
	return w.cycles
}

// CycleErrors returns Cycles as errors.
func (g *Graph) CycleErrors() []*CycleError {
	cs := g.Cycles()
	out := make([]*CycleError, 0, len(cs))
	for _, c := range cs {
		out = append(out, &CycleError{Cycle: c})
	}
	return out
}

type walk struct {
	g      *Graph
	next   int
	entry  map[string]int
	low    map[string]int
	gray   map[string]bool
	stack  []string
	cycles [][]string
}

func (w *walk) visit(n string) {
	w.entry[n] = w.next
	w.low[n] = w.next
	w.next++
	w.stack = append(w.stack, n)
	w.gray[n] = true

	for _, m := range w.g.adjacency[n] {
		if _, seen := w.entry[m]; !seen {
			w.visit(m)
			w.low[n] = min(w.low[n], w.low[m])
			continue
		}
		if w.gray[m] {
			w.low[n] = min(w.low[n], w.entry[m])
		}
	}

	if w.low[n] != w.entry[n] {
		return
	}

	var members []string
	for {
		top := w.stack[len(w.stack)-1]
		w.stack = w.stack[:len(w.stack)-1]
		w.gray[top] = false
		members = append(members, top)
		if top == n {
			break
		}
	}

	if len(members) == 1 && !w.g.selfEdge(n) {
		return
	}

	w.cycles = append(w.cycles, w.g.ordered(members))
}

func (g *Graph) selfEdge(n string) bool {
	for _, m := range g.adjacency[n] {
		if m == n {
			return true
		}
	}
	return false
}

func (g *Graph) ordered(members []string) []string {
	in := make(map[string]bool, len(members))
	for _, m := range members {
		in[m] = true
	}
	out := make([]string, 0, len(members))
	for _, n := range g.nodes {
		if in[n] {
			out = append(out, n)
		}
	}
	return out
}
