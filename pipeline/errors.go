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
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for graph construction and engine setup. Use errors.Is
// to classify. Node-level execution failures are never returned as errors
// from Run; they are captured in NodeResult.Error instead.
var (
	// ErrNilGraph indicates an engine was created without a graph.
	ErrNilGraph = errors.New("pipeline: graph must not be nil")

	// ErrNilContext indicates a nil context.Context was passed to Run.
	ErrNilContext = errors.New("pipeline: context must not be nil")

	// ErrNilNode indicates a nil node was added to a graph or builder.
	ErrNilNode = errors.New("pipeline: node must not be nil")

	// ErrNilStep indicates a node was added without a step executor.
	ErrNilStep = errors.New("pipeline: node step must not be nil")

	// ErrEmptyNodeID indicates a node was added with an empty ID.
	ErrEmptyNodeID = errors.New("pipeline: node ID must not be empty")

	// ErrDuplicateNode indicates two nodes were registered under one ID.
	ErrDuplicateNode = errors.New("pipeline: duplicate node ID")

	// ErrNodeNotFound indicates an edge references a node ID that does
	// not exist in the graph.
	ErrNodeNotFound = errors.New("pipeline: node not found")

	// ErrEmptyGraph indicates a build was attempted with zero nodes.
	ErrEmptyGraph = errors.New("pipeline: graph has no nodes")

	// ErrNodeTimeout marks a node attempt that exceeded its timeout.
	// Surfaced through NodeResult.Error, not as a return value.
	ErrNodeTimeout = errors.New("pipeline: node timed out")
)

// NodeError associates a graph error with the node it concerns.
type NodeError struct {
	NodeID string
	Err    error
}

// NewNodeError wraps err with the offending node ID.
func NewNodeError(nodeID string, err error) *NodeError {
	return &NodeError{NodeID: nodeID, Err: err}
}

func (e *NodeError) Error() string {
	return fmt.Sprintf("node %q: %v", e.NodeID, e.Err)
}

func (e *NodeError) Unwrap() error {
	return e.Err
}

// CycleError reports a dependency cycle detected during graph construction.
// Path holds the node IDs along the cycle, ending where it begins.
type CycleError struct {
	Path []string
}

// NewCycleError builds a CycleError from the detected path.
func NewCycleError(path []string) *CycleError {
	return &CycleError{Path: path}
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("pipeline: dependency cycle: %s", strings.Join(e.Path, " -> "))
}
