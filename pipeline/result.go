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
	"sort"
	"time"

	"github.com/fireflyframework/genai/usage"
)

// Trace entry statuses.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// NodeResult is the outcome of one node in a run. The engine creates
// exactly one per node, after that node's terminal attempt or skip
// decision.
type NodeResult struct {
	// NodeID is the node that produced this result.
	NodeID string `json:"node_id"`

	// Output is the node's output value. Nil for failed or skipped nodes.
	Output any `json:"output,omitempty"`

	// Success reports whether execution succeeded.
	Success bool `json:"success"`

	// Skipped reports whether the node was skipped (condition gate or
	// upstream failure propagation) without invoking its step.
	Skipped bool `json:"skipped,omitempty"`

	// Error holds the final attempt's error text when execution failed.
	Error string `json:"error,omitempty"`

	// Latency is the wall-clock duration of the successful attempt.
	Latency time.Duration `json:"latency,omitempty"`

	// Retries is the number of retries actually performed.
	Retries int `json:"retries,omitempty"`

	// Usage is the node's LLM usage summary, when tracked.
	Usage *usage.Summary `json:"usage,omitempty"`
}

// TraceEntry records the terminal attempt of one node in chronological
// execution order. Retried attempts that will be re-run do not appear.
type TraceEntry struct {
	NodeID      string    `json:"node_id"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
	Status      string    `json:"status"`
}

// Result aggregates the outcome of an entire pipeline run.
type Result struct {
	// PipelineName is the graph's name.
	PipelineName string `json:"pipeline_name"`

	// Outputs maps node ID to its NodeResult for every node that reached
	// a terminal state. Nodes cancelled by a pipeline abort are absent.
	Outputs map[string]*NodeResult `json:"outputs"`

	// FinalOutput is derived from the successful terminal nodes: the
	// output itself when exactly one exists, a node-ID-keyed map when
	// several do, nil when none.
	FinalOutput any `json:"final_output,omitempty"`

	// ExecutionTrace lists terminal attempts in completion order.
	ExecutionTrace []TraceEntry `json:"execution_trace"`

	// TotalDuration is the end-to-end wall-clock run time.
	TotalDuration time.Duration `json:"total_duration"`

	// Success is true iff every recorded node result is successful or
	// skipped.
	Success bool `json:"success"`

	// Usage aggregates LLM usage recorded under this run's correlation
	// ID, when a usage source is configured and has records.
	Usage *usage.Summary `json:"usage,omitempty"`
}

// FailedNodes returns the IDs of nodes that failed hard (not skipped),
// sorted alphabetically.
func (r *Result) FailedNodes() []string {
	var out []string
	for id, nr := range r.Outputs {
		if !nr.Success && !nr.Skipped {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}
