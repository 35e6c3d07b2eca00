// Copyright 2026 Firefly Software Solutions Inc
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package pipeline

import (
	"fmt"
	"sort"
	"time"
)

// FailureStrategy controls how the engine reacts when a node fails after
// exhausting its retries.
type FailureStrategy string

const (
	// FailureSkipDownstream marks the node as failed and skips all of its
	// transitive successors. This is the default.
	FailureSkipDownstream FailureStrategy = "skip_downstream"

	// FailureFailPipeline aborts the entire run: no further nodes are
	// launched and in-flight nodes are cancelled.
	FailureFailPipeline FailureStrategy = "fail_pipeline"

	// FailurePropagate marks the node as failed and keeps executing
	// downstream nodes; their input maps simply lack the failed node's
	// output.
	FailurePropagate FailureStrategy = "propagate"
)

const (
	// DefaultBackoff is the base delay for exponential retry backoff.
	DefaultBackoff = time.Second

	defaultOutputKey = "output"
	defaultInputKey  = "input"
)

// Condition gates a node's execution against the run context. Returning
// false, an error, or panicking all cause the node to be skipped.
type Condition func(pc *Context) (bool, error)

// Node is a unit of work in the graph plus its execution policy.
// Nodes are immutable once added to a Graph.
type Node struct {
	// ID uniquely identifies the node within the graph.
	ID string

	// Step performs the node's work.
	Step Step

	// Condition optionally gates execution. Nil means always run.
	Condition Condition

	// RetryMax is the number of retries after the first failed attempt.
	RetryMax int

	// Backoff is the base delay for exponential backoff between retries.
	// The delay before retry n is Backoff * 2^(n-1) plus one-sided jitter
	// drawn uniformly from [0, 25%] of that delay. Zero means DefaultBackoff.
	Backoff time.Duration

	// Timeout bounds each execution attempt. Zero means no timeout.
	Timeout time.Duration

	// FailureStrategy selects the blast radius of a terminal failure.
	// Empty means FailureSkipDownstream.
	FailureStrategy FailureStrategy
}

// Edge is a directed data-flow link between two nodes.
//
// OutputKey selects which named output of the source to forward: when the
// source's output is a map, the value under OutputKey is forwarded;
// otherwise the whole output is. InputKey names the value in the target's
// input map. Empty keys default to "output" and "input".
type Edge struct {
	Source    string
	Target    string
	OutputKey string
	InputKey  string
}

// Graph is the immutable-after-build description of a pipeline: nodes,
// edges, and derived structural queries. Construction rejects duplicate
// IDs, dangling edge endpoints, and cycles, so a Graph handed to an
// Engine is always a valid DAG.
//
// Thread Safety:
//
//	Graph is not safe for concurrent mutation. Build it in one goroutine,
//	then treat it as read-only; concurrent reads are safe.
type Graph struct {
	name     string
	nodes    map[string]*Node
	edges    []Edge
	adj      map[string][]string
	inDegree map[string]int
}

// NewGraph creates an empty graph with the given pipeline name.
func NewGraph(name string) *Graph {
	if name == "" {
		name = "pipeline"
	}
	return &Graph{
		name:     name,
		nodes:    make(map[string]*Node),
		adj:      make(map[string][]string),
		inDegree: make(map[string]int),
	}
}

// Name returns the pipeline name.
func (g *Graph) Name() string { return g.name }

// NodeCount returns the number of registered nodes.
func (g *Graph) NodeCount() int { return len(g.nodes) }

// Node returns the node with the given ID.
func (g *Graph) Node(id string) (*Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// Nodes returns a copy of the node map.
func (g *Graph) Nodes() map[string]*Node {
	out := make(map[string]*Node, len(g.nodes))
	for id, n := range g.nodes {
		out[id] = n
	}
	return out
}

// Edges returns a copy of the edge list.
func (g *Graph) Edges() []Edge {
	out := make([]Edge, len(g.edges))
	copy(out, g.edges)
	return out
}

// AddNode registers a node. The node's zero-value policy fields are
// filled with defaults (DefaultBackoff, FailureSkipDownstream).
func (g *Graph) AddNode(node *Node) error {
	if node == nil {
		return ErrNilNode
	}
	if node.ID == "" {
		return ErrEmptyNodeID
	}
	if node.Step == nil {
		return NewNodeError(node.ID, ErrNilStep)
	}
	if node.RetryMax < 0 {
		return NewNodeError(node.ID, fmt.Errorf("retry max must be >= 0, got %d", node.RetryMax))
	}
	if _, exists := g.nodes[node.ID]; exists {
		return NewNodeError(node.ID, ErrDuplicateNode)
	}
	if node.Backoff <= 0 {
		node.Backoff = DefaultBackoff
	}
	if node.FailureStrategy == "" {
		node.FailureStrategy = FailureSkipDownstream
	}
	g.nodes[node.ID] = node
	if _, ok := g.inDegree[node.ID]; !ok {
		g.inDegree[node.ID] = 0
	}
	return nil
}

// AddEdge adds a directed edge. Both endpoints must already exist, and
// the edge must not introduce a cycle; on a cycle the edge is rolled
// back and a CycleError is returned.
func (g *Graph) AddEdge(edge Edge) error {
	if _, ok := g.nodes[edge.Source]; !ok {
		return NewNodeError(edge.Source, ErrNodeNotFound)
	}
	if _, ok := g.nodes[edge.Target]; !ok {
		return NewNodeError(edge.Target, ErrNodeNotFound)
	}
	if edge.OutputKey == "" {
		edge.OutputKey = defaultOutputKey
	}
	if edge.InputKey == "" {
		edge.InputKey = defaultInputKey
	}
	g.edges = append(g.edges, edge)
	g.adj[edge.Source] = append(g.adj[edge.Source], edge.Target)
	g.inDegree[edge.Target]++

	if g.hasCycle() {
		g.edges = g.edges[:len(g.edges)-1]
		g.adj[edge.Source] = g.adj[edge.Source][:len(g.adj[edge.Source])-1]
		g.inDegree[edge.Target]--
		return NewCycleError(g.cyclePath(edge))
	}
	return nil
}

// cyclePath reconstructs the cycle the rejected edge would have closed:
// the edge itself followed by the existing path from its target back to
// its source. Called after the edge has been rolled back.
func (g *Graph) cyclePath(edge Edge) []string {
	back := g.findPath(edge.Target, edge.Source)
	if back == nil {
		return []string{edge.Source, edge.Target, edge.Source}
	}
	return append([]string{edge.Source}, back...)
}

// findPath returns one path from one node to another along existing
// edges, inclusive of both endpoints, or nil when none exists.
func (g *Graph) findPath(from, to string) []string {
	visited := make(map[string]bool)
	var dfs func(id string, path []string) []string
	dfs = func(id string, path []string) []string {
		path = append(path, id)
		if id == to {
			return path
		}
		visited[id] = true
		for _, next := range g.adj[id] {
			if visited[next] {
				continue
			}
			if found := dfs(next, path); found != nil {
				return found
			}
		}
		return nil
	}
	return dfs(from, nil)
}

// TopologicalSort returns node IDs in dependency order via Kahn's
// algorithm. Ties are broken alphabetically for determinism.
func (g *Graph) TopologicalSort() []string {
	inDeg := g.copyInDegree()
	queue := g.zeroInDegree(inDeg)
	order := make([]string, 0, len(g.nodes))

	for len(queue) > 0 {
		sort.Strings(queue)
		id := queue[0]
		queue = queue[1:]
		order = append(order, id)
		for _, next := range g.adj[id] {
			inDeg[next]--
			if inDeg[next] == 0 {
				queue = append(queue, next)
			}
		}
	}
	return order
}

// ExecutionLevels partitions nodes into ordered layers: layer k contains
// exactly the nodes whose dependencies all sit in layers < k. The engine
// does not execute level-by-level; levels exist for diagnostics and tests.
func (g *Graph) ExecutionLevels() [][]string {
	inDeg := g.copyInDegree()
	queue := g.zeroInDegree(inDeg)
	var levels [][]string

	for len(queue) > 0 {
		sort.Strings(queue)
		level := queue
		levels = append(levels, level)
		var next []string
		for _, id := range level {
			for _, succ := range g.adj[id] {
				inDeg[succ]--
				if inDeg[succ] == 0 {
					next = append(next, succ)
				}
			}
		}
		queue = next
	}
	return levels
}

// Predecessors returns the direct upstream node IDs of id.
func (g *Graph) Predecessors(id string) []string {
	var out []string
	for _, e := range g.edges {
		if e.Target == id {
			out = append(out, e.Source)
		}
	}
	return out
}

// Successors returns the direct downstream node IDs of id.
func (g *Graph) Successors(id string) []string {
	out := make([]string, len(g.adj[id]))
	copy(out, g.adj[id])
	return out
}

// IncomingEdges returns all edges whose target is id.
func (g *Graph) IncomingEdges(id string) []Edge {
	var out []Edge
	for _, e := range g.edges {
		if e.Target == id {
			out = append(out, e)
		}
	}
	return out
}

// TransitiveSuccessors returns every node reachable from id, excluding
// id itself.
func (g *Graph) TransitiveSuccessors(id string) map[string]bool {
	visited := make(map[string]bool)
	queue := append([]string(nil), g.adj[id]...)
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		if visited[next] {
			continue
		}
		visited[next] = true
		queue = append(queue, g.adj[next]...)
	}
	return visited
}

// TerminalNodes returns the IDs of nodes with no outgoing edges, sorted
// alphabetically.
func (g *Graph) TerminalNodes() []string {
	var out []string
	for id := range g.nodes {
		if len(g.adj[id]) == 0 {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

func (g *Graph) copyInDegree() map[string]int {
	inDeg := make(map[string]int, len(g.nodes))
	for id := range g.nodes {
		inDeg[id] = g.inDegree[id]
	}
	return inDeg
}

func (g *Graph) zeroInDegree(inDeg map[string]int) []string {
	var queue []string
	for id, d := range inDeg {
		if d == 0 {
			queue = append(queue, id)
		}
	}
	return queue
}

// hasCycle runs Kahn's algorithm and reports whether any node was left
// unprocessed.
func (g *Graph) hasCycle() bool {
	inDeg := g.copyInDegree()
	queue := g.zeroInDegree(inDeg)
	count := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		count++
		for _, next := range g.adj[id] {
			inDeg[next]--
			if inDeg[next] == 0 {
				queue = append(queue, next)
			}
		}
	}
	return count != len(g.nodes)
}
