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

// Package pipeline executes directed acyclic graphs of steps.
//
// A Graph holds named nodes and dependency edges; an Engine runs it
// with eager scheduling: each node starts the moment all of its
// dependencies have completed, so independent branches overlap fully.
// Per node the engine applies an optional condition gate, per-attempt
// timeouts, and retries with exponential backoff. Node failures
// propagate to downstream nodes according to the node's failure
// strategy.
//
// Build graphs either directly (NewGraph, AddNode, AddEdge) or through
// the fluent Builder. Progress can be observed by attaching an event
// handler implementing any subset of the observer interfaces.
package pipeline
