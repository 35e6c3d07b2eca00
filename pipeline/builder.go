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

import "time"

// Builder assembles a Graph fluently. Calls accumulate; validation
// happens in BuildGraph, which reports the first error encountered in
// declaration order.
//
//	engine, err := pipeline.NewBuilder("etl").
//		AddNode("extract", extractStep).
//		AddNode("transform", transformStep, pipeline.WithRetryMax(2)).
//		AddNode("load", loadStep).
//		Chain("extract", "transform", "load").
//		Build()
type Builder struct {
	name  string
	nodes []*Node
	edges []pendingEdge
}

type pendingEdge struct {
	source, target string
	opts           []EdgeOption
}

// NodeOption configures a node added through the builder.
type NodeOption func(*Node)

// WithRetryMax sets the maximum number of retries after the first
// failed attempt.
func WithRetryMax(n int) NodeOption {
	return func(node *Node) {
		node.RetryMax = n
	}
}

// WithBackoff sets the base backoff delay between retries.
func WithBackoff(d time.Duration) NodeOption {
	return func(node *Node) {
		node.Backoff = d
	}
}

// WithTimeout bounds each execution attempt.
func WithTimeout(d time.Duration) NodeOption {
	return func(node *Node) {
		node.Timeout = d
	}
}

// WithCondition gates the node on a predicate evaluated just before
// execution.
func WithCondition(cond Condition) NodeOption {
	return func(node *Node) {
		node.Condition = cond
	}
}

// WithFailureStrategy sets how the node's failure propagates.
func WithFailureStrategy(s FailureStrategy) NodeOption {
	return func(node *Node) {
		node.FailureStrategy = s
	}
}

// EdgeOption configures an edge added through the builder.
type EdgeOption func(*Edge)

// WithOutputKey selects a key from the source's map output instead of
// the whole output.
func WithOutputKey(key string) EdgeOption {
	return func(e *Edge) {
		e.OutputKey = key
	}
}

// WithInputKey names the key the value arrives under in the target's
// inputs.
func WithInputKey(key string) EdgeOption {
	return func(e *Edge) {
		e.InputKey = key
	}
}

// NewBuilder creates a builder for a pipeline with the given name.
func NewBuilder(name string) *Builder {
	return &Builder{name: name}
}

// AddNode declares a node.
func (b *Builder) AddNode(id string, step Step, opts ...NodeOption) *Builder {
	node := &Node{ID: id, Step: step}
	for _, opt := range opts {
		opt(node)
	}
	b.nodes = append(b.nodes, node)
	return b
}

// AddEdge declares a dependency from source to target.
func (b *Builder) AddEdge(source, target string, opts ...EdgeOption) *Builder {
	b.edges = append(b.edges, pendingEdge{source: source, target: target, opts: opts})
	return b
}

// Chain declares edges linking ids sequentially.
func (b *Builder) Chain(ids ...string) *Builder {
	for i := 0; i+1 < len(ids); i++ {
		b.AddEdge(ids[i], ids[i+1])
	}
	return b
}

// BuildGraph validates the accumulated declarations into a Graph.
func (b *Builder) BuildGraph() (*Graph, error) {
	g := NewGraph(b.name)
	for _, node := range b.nodes {
		if err := g.AddNode(node); err != nil {
			return nil, err
		}
	}
	for _, pe := range b.edges {
		edge := Edge{Source: pe.source, Target: pe.target}
		for _, opt := range pe.opts {
			opt(&edge)
		}
		if err := g.AddEdge(edge); err != nil {
			return nil, err
		}
	}
	if g.NodeCount() == 0 {
		return nil, ErrEmptyGraph
	}
	return g, nil
}

// Build validates the graph and wraps it in an Engine.
func (b *Builder) Build(opts ...EngineOption) (*Engine, error) {
	g, err := b.BuildGraph()
	if err != nil {
		return nil, err
	}
	return NewEngine(g, opts...)
}
