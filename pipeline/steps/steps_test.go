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

package steps

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fireflyframework/genai/pipeline"
)

// fakeAgent echoes prompts and optionally records memory.
type fakeAgent struct {
	lastPrompt string
	memory     any
	err        error
}

func (a *fakeAgent) Run(ctx context.Context, prompt string) (string, error) {
	a.lastPrompt = prompt
	if a.err != nil {
		return "", a.err
	}
	return "echo: " + prompt, nil
}

func (a *fakeAgent) SetMemory(memory any) {
	a.memory = memory
}

func TestAgentStep_RunsWithPromptKey(t *testing.T) {
	agent := &fakeAgent{}
	step := NewAgentStep(agent, WithPromptKey("question"))

	pc := pipeline.NewContext(nil)
	out, err := step.Execute(context.Background(), pc, map[string]any{"question": "why?"})
	require.NoError(t, err)
	assert.Equal(t, "echo: why?", out)
	assert.Equal(t, "why?", agent.lastPrompt)
}

func TestAgentStep_FallsBackToRunInputs(t *testing.T) {
	agent := &fakeAgent{}
	step := NewAgentStep(agent)

	pc := pipeline.NewContext("fallback prompt")
	out, err := step.Execute(context.Background(), pc, map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, "echo: fallback prompt", out)
}

func TestAgentStep_NoPrompt(t *testing.T) {
	step := NewAgentStep(&fakeAgent{})
	pc := pipeline.NewContext(nil)
	_, err := step.Execute(context.Background(), pc, map[string]any{})
	require.Error(t, err)
}

func TestAgentStep_PassesMemory(t *testing.T) {
	agent := &fakeAgent{}
	step := NewAgentStep(agent)

	memory := map[string]any{"facts": []string{"a"}}
	pc := pipeline.NewContext("q", pipeline.WithMemory(memory))
	_, err := step.Execute(context.Background(), pc, nil)
	require.NoError(t, err)
	assert.NotNil(t, agent.memory)
}

func TestAgentStep_AgentError(t *testing.T) {
	agent := &fakeAgent{err: errors.New("model unavailable")}
	step := NewAgentStep(agent)
	pc := pipeline.NewContext("q")
	_, err := step.Execute(context.Background(), pc, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model unavailable")
}

func TestBranchStep_RoutesBySelector(t *testing.T) {
	step := NewBranchStep(func(ctx context.Context, pc *pipeline.Context, inputs map[string]any) (string, error) {
		if s, _ := inputs["input"].(string); strings.Contains(s, "?") {
			return "question", nil
		}
		return "statement", nil
	})

	pc := pipeline.NewContext(nil)
	out, err := step.Execute(context.Background(), pc, map[string]any{"input": "what time is it?"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"question": "what time is it?"}, out)
}

func TestBranchStep_SelectorErrors(t *testing.T) {
	pc := pipeline.NewContext(nil)

	step := NewBranchStep(func(ctx context.Context, pc *pipeline.Context, inputs map[string]any) (string, error) {
		return "", errors.New("cannot decide")
	})
	_, err := step.Execute(context.Background(), pc, map[string]any{})
	require.Error(t, err)

	step = NewBranchStep(func(ctx context.Context, pc *pipeline.Context, inputs map[string]any) (string, error) {
		return "", nil
	})
	_, err = step.Execute(context.Background(), pc, map[string]any{})
	require.Error(t, err)
}

func TestFanOutStep_Splits(t *testing.T) {
	step := NewFanOutStep(func(ctx context.Context, pc *pipeline.Context, inputs map[string]any) (map[string]any, error) {
		s, _ := inputs["input"].(string)
		parts := strings.SplitN(s, " ", 2)
		return map[string]any{"head": parts[0], "tail": parts[1]}, nil
	})

	pc := pipeline.NewContext(nil)
	out, err := step.Execute(context.Background(), pc, map[string]any{"input": "first rest of it"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"head": "first", "tail": "rest of it"}, out)
}

func TestFanInStep_DefaultMergeCollectsSorted(t *testing.T) {
	step := NewFanInStep(nil)
	pc := pipeline.NewContext(nil)
	out, err := step.Execute(context.Background(), pc, map[string]any{
		"c": 3, "a": 1, "b": 2,
	})
	require.NoError(t, err)
	assert.Equal(t, []any{1, 2, 3}, out)
}

func TestFanInStep_CustomMerge(t *testing.T) {
	step := NewFanInStep(func(ctx context.Context, pc *pipeline.Context, values []any) (any, error) {
		total := 0
		for _, v := range values {
			total += v.(int)
		}
		return total, nil
	})
	pc := pipeline.NewContext(nil)
	out, err := step.Execute(context.Background(), pc, map[string]any{"x": 4, "y": 5})
	require.NoError(t, err)
	assert.Equal(t, 9, out)
}

func TestBatchStep_MapsItemsInOrder(t *testing.T) {
	inner := pipeline.StepFunc(func(ctx context.Context, pc *pipeline.Context, inputs map[string]any) (any, error) {
		n := inputs["input"].(int)
		return n * n, nil
	})
	step := NewBatchStep(inner, WithConcurrency(2))

	pc := pipeline.NewContext(nil)
	out, err := step.Execute(context.Background(), pc, map[string]any{
		"input": []any{1, 2, 3, 4},
	})
	require.NoError(t, err)
	assert.Equal(t, []any{1, 4, 9, 16}, out)
}

func TestBatchStep_ItemErrorsDoNotAbort(t *testing.T) {
	inner := pipeline.StepFunc(func(ctx context.Context, pc *pipeline.Context, inputs map[string]any) (any, error) {
		n := inputs["input"].(int)
		if n%2 == 0 {
			return nil, fmt.Errorf("even rejected: %d", n)
		}
		return n, nil
	})
	step := NewBatchStep(inner)

	pc := pipeline.NewContext(nil)
	out, err := step.Execute(context.Background(), pc, map[string]any{
		"input": []any{1, 2, 3},
	})
	require.NoError(t, err)

	results := out.([]any)
	require.Len(t, results, 3)
	assert.Equal(t, 1, results[0])
	assert.Equal(t, 3, results[2])
	failed, ok := results[1].(map[string]any)
	require.True(t, ok, "failed slot must carry an error map, got %T", results[1])
	assert.Contains(t, failed["error"], "even rejected")
}

func TestBatchStep_RespectsConcurrencyLimit(t *testing.T) {
	var active, peak atomic.Int32
	inner := pipeline.StepFunc(func(ctx context.Context, pc *pipeline.Context, inputs map[string]any) (any, error) {
		cur := active.Add(1)
		for {
			p := peak.Load()
			if cur <= p || peak.CompareAndSwap(p, cur) {
				break
			}
		}
		defer active.Add(-1)
		return inputs["input"], nil
	})
	step := NewBatchStep(inner, WithConcurrency(2))

	pc := pipeline.NewContext(nil)
	items := make([]any, 20)
	for i := range items {
		items[i] = i
	}
	_, err := step.Execute(context.Background(), pc, map[string]any{"input": items})
	require.NoError(t, err)
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestBatchStep_NonSliceInput(t *testing.T) {
	step := NewBatchStep(pipeline.StepFunc(func(ctx context.Context, pc *pipeline.Context, inputs map[string]any) (any, error) {
		return nil, nil
	}))
	pc := pipeline.NewContext(nil)
	_, err := step.Execute(context.Background(), pc, map[string]any{"input": "not a slice"})
	require.Error(t, err)
}
