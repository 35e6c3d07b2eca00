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

// Package steps provides ready-made Step implementations: agent
// adapters, branching, fan-out/fan-in, concurrent batch mapping, and an
// OpenAI chat completion step with usage tracking.
package steps

import (
	"context"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/fireflyframework/genai/pipeline"
)

// Agent is the minimal contract for a prompt-in, text-out agent.
type Agent interface {
	Run(ctx context.Context, prompt string) (string, error)
}

// MemoryAware is implemented by agents that accept the run context's
// shared memory object before execution.
type MemoryAware interface {
	SetMemory(memory any)
}

// AgentStep adapts an Agent to the pipeline Step contract.
type AgentStep struct {
	agent     Agent
	promptKey string
}

// AgentStepOption configures an AgentStep.
type AgentStepOption func(*AgentStep)

// WithPromptKey selects which input key holds the prompt. Default "input".
func WithPromptKey(key string) AgentStepOption {
	return func(s *AgentStep) {
		s.promptKey = key
	}
}

// NewAgentStep wraps agent as a Step.
func NewAgentStep(agent Agent, opts ...AgentStepOption) *AgentStep {
	s := &AgentStep{agent: agent, promptKey: "input"}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Execute resolves the prompt from inputs (falling back to the run's
// initial inputs), hands shared memory to memory-aware agents, and runs
// the agent.
func (s *AgentStep) Execute(ctx context.Context, pc *pipeline.Context, inputs map[string]any) (any, error) {
	prompt := stringValue(inputs[s.promptKey])
	if prompt == "" {
		prompt = stringValue(pc.Inputs)
	}
	if prompt == "" {
		return nil, fmt.Errorf("steps: no prompt found under key %q", s.promptKey)
	}
	if ma, ok := s.agent.(MemoryAware); ok && pc.Memory != nil {
		ma.SetMemory(pc.Memory)
	}
	return s.agent.Run(ctx, prompt)
}

// BranchStep routes its input to one of several named outputs based on a
// selector, for use with edges that filter by output key.
type BranchStep struct {
	selector func(ctx context.Context, pc *pipeline.Context, inputs map[string]any) (string, error)
}

// NewBranchStep creates a branch whose selector returns the chosen
// output key.
func NewBranchStep(selector func(ctx context.Context, pc *pipeline.Context, inputs map[string]any) (string, error)) *BranchStep {
	return &BranchStep{selector: selector}
}

// Execute returns a single-entry map {selectedKey: inputs["input"]}.
func (s *BranchStep) Execute(ctx context.Context, pc *pipeline.Context, inputs map[string]any) (any, error) {
	key, err := s.selector(ctx, pc, inputs)
	if err != nil {
		return nil, fmt.Errorf("steps: branch selector: %w", err)
	}
	if key == "" {
		return nil, fmt.Errorf("steps: branch selector returned empty key")
	}
	return map[string]any{key: inputs["input"]}, nil
}

// FanOutStep splits one input into multiple named outputs so that
// downstream edges can each pick a slice of the work via output keys.
type FanOutStep struct {
	split func(ctx context.Context, pc *pipeline.Context, inputs map[string]any) (map[string]any, error)
}

// NewFanOutStep creates a fan-out from a split function.
func NewFanOutStep(split func(ctx context.Context, pc *pipeline.Context, inputs map[string]any) (map[string]any, error)) *FanOutStep {
	return &FanOutStep{split: split}
}

// Execute returns the split map as the node output.
func (s *FanOutStep) Execute(ctx context.Context, pc *pipeline.Context, inputs map[string]any) (any, error) {
	out, err := s.split(ctx, pc, inputs)
	if err != nil {
		return nil, fmt.Errorf("steps: fan-out split: %w", err)
	}
	return out, nil
}

// FanInStep merges the outputs of several upstream nodes into one value.
type FanInStep struct {
	merge func(ctx context.Context, pc *pipeline.Context, values []any) (any, error)
}

// NewFanInStep creates a fan-in. A nil merge returns the collected
// values as a slice.
func NewFanInStep(merge func(ctx context.Context, pc *pipeline.Context, values []any) (any, error)) *FanInStep {
	return &FanInStep{merge: merge}
}

// Execute collects the incoming values in deterministic (sorted input
// key) order and applies the merge function.
func (s *FanInStep) Execute(ctx context.Context, pc *pipeline.Context, inputs map[string]any) (any, error) {
	keys := make([]string, 0, len(inputs))
	for k := range inputs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	values := make([]any, 0, len(keys))
	for _, k := range keys {
		values = append(values, inputs[k])
	}
	if s.merge == nil {
		return values, nil
	}
	return s.merge(ctx, pc, values)
}

// BatchStep applies an inner step to every item of a slice input
// concurrently, bounded by a concurrency limit.
type BatchStep struct {
	inner       pipeline.Step
	inputKey    string
	concurrency int
}

// BatchStepOption configures a BatchStep.
type BatchStepOption func(*BatchStep)

// WithBatchInputKey selects the input key holding the item slice.
// Default "input".
func WithBatchInputKey(key string) BatchStepOption {
	return func(s *BatchStep) {
		s.inputKey = key
	}
}

// WithConcurrency bounds how many items run at once. Default 4.
func WithConcurrency(n int) BatchStepOption {
	return func(s *BatchStep) {
		s.concurrency = n
	}
}

// NewBatchStep creates a batch mapper around inner.
func NewBatchStep(inner pipeline.Step, opts ...BatchStepOption) *BatchStep {
	s := &BatchStep{inner: inner, inputKey: "input", concurrency: 4}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Execute maps the inner step over the items and returns per-item
// results in input order. Item failures do not abort the batch; the
// failed slot holds {"error": text}.
func (s *BatchStep) Execute(ctx context.Context, pc *pipeline.Context, inputs map[string]any) (any, error) {
	items, ok := inputs[s.inputKey].([]any)
	if !ok {
		return nil, fmt.Errorf("steps: batch input %q is not a slice", s.inputKey)
	}

	results := make([]any, len(items))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	for i, item := range items {
		i, item := i, item
		g.Go(func() error {
			out, err := s.inner.Execute(gctx, pc, map[string]any{"input": item})
			if err != nil {
				results[i] = map[string]any{"error": err.Error()}
				return nil
			}
			results[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func stringValue(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case fmt.Stringer:
		return s.String()
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", s)
	}
}
