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
	"sync"

	"github.com/google/uuid"
)

// Context carries inputs, intermediate results, and metadata through one
// pipeline run. Create one per execution and discard it after consuming
// the Result.
//
// The engine is the sole writer of node results. Steps may read and
// write metadata concurrently; both maps are mutex-guarded.
type Context struct {
	// Inputs is the original pipeline input, forwarded to nodes with no
	// incoming edges under the "input" key.
	Inputs any

	// Memory is an optional external memory/collaboration object shared
	// across steps. The engine never touches it.
	Memory any

	// CorrelationID groups cross-cutting telemetry (usage, cost) for
	// this run. Generated when not supplied.
	CorrelationID string

	mu       sync.RWMutex
	metadata map[string]any
	results  map[string]*NodeResult
}

// ContextOption configures a Context.
type ContextOption func(*Context)

// WithMetadata seeds the metadata map.
func WithMetadata(metadata map[string]any) ContextOption {
	return func(c *Context) {
		for k, v := range metadata {
			c.metadata[k] = v
		}
	}
}

// WithCorrelationID sets an explicit correlation ID.
func WithCorrelationID(id string) ContextOption {
	return func(c *Context) {
		c.CorrelationID = id
	}
}

// WithMemory attaches an external memory object.
func WithMemory(memory any) ContextOption {
	return func(c *Context) {
		c.Memory = memory
	}
}

// NewContext creates a run context for the given initial inputs.
func NewContext(inputs any, opts ...ContextOption) *Context {
	c := &Context{
		Inputs:   inputs,
		metadata: make(map[string]any),
		results:  make(map[string]*NodeResult),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.CorrelationID == "" {
		c.CorrelationID = uuid.NewString()
	}
	return c
}

// SetMetadata stores a metadata value.
func (c *Context) SetMetadata(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.metadata[key] = value
}

// Metadata returns the metadata value for key.
func (c *Context) Metadata(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.metadata[key]
	return v, ok
}

// setNodeResult records the result for a completed node. Engine use only.
func (c *Context) setNodeResult(id string, result *NodeResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results[id] = result
}

// NodeResult returns the recorded result for a completed node.
func (c *Context) NodeResult(id string) (*NodeResult, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.results[id]
	return r, ok
}

// NodeOutput returns a named output of a completed node: the whole
// output for key "output", or the map entry under key when the output
// is a map. Missing nodes and keys yield nil.
func (c *Context) NodeOutput(id, key string) any {
	r, ok := c.NodeResult(id)
	if !ok || r == nil {
		return nil
	}
	if key == "" || key == defaultOutputKey {
		return r.Output
	}
	if m, ok := r.Output.(map[string]any); ok {
		return m[key]
	}
	return nil
}

// Results returns a snapshot of all node results recorded so far.
func (c *Context) Results() map[string]*NodeResult {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]*NodeResult, len(c.results))
	for id, r := range c.results {
		out[id] = r
	}
	return out
}

func (c *Context) String() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return fmt.Sprintf("Context(correlation_id=%s, completed_nodes=%d)", c.CorrelationID, len(c.results))
}
