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
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuilder_BuildsValidGraph(t *testing.T) {
	g, err := NewBuilder("etl").
		AddNode("extract", echoStep("extract")).
		AddNode("transform", echoStep("transform"), WithRetryMax(2), WithBackoff(10*time.Millisecond)).
		AddNode("load", echoStep("load"), WithTimeout(time.Second)).
		Chain("extract", "transform", "load").
		BuildGraph()
	require.NoError(t, err)

	assert.Equal(t, "etl", g.Name())
	assert.Equal(t, 3, g.NodeCount())
	assert.Equal(t, []string{"extract", "transform", "load"}, g.TopologicalSort())

	transform, ok := g.Node("transform")
	require.True(t, ok)
	assert.Equal(t, 2, transform.RetryMax)
	assert.Equal(t, 10*time.Millisecond, transform.Backoff)

	load, ok := g.Node("load")
	require.True(t, ok)
	assert.Equal(t, time.Second, load.Timeout)
}

func TestBuilder_NodeOptions(t *testing.T) {
	cond := func(pc *Context) (bool, error) { return false, nil }
	g, err := NewBuilder("opts").
		AddNode("a", noopStep(),
			WithCondition(cond),
			WithFailureStrategy(FailureFailPipeline),
		).
		BuildGraph()
	require.NoError(t, err)

	node, ok := g.Node("a")
	require.True(t, ok)
	assert.NotNil(t, node.Condition)
	assert.Equal(t, FailureFailPipeline, node.FailureStrategy)
}

func TestBuilder_EdgeOptions(t *testing.T) {
	g, err := NewBuilder("edges").
		AddNode("a", noopStep()).
		AddNode("b", noopStep()).
		AddEdge("a", "b", WithOutputKey("summary"), WithInputKey("document")).
		BuildGraph()
	require.NoError(t, err)

	edges := g.Edges()
	require.Len(t, edges, 1)
	assert.Equal(t, "summary", edges[0].OutputKey)
	assert.Equal(t, "document", edges[0].InputKey)
}

func TestBuilder_Errors(t *testing.T) {
	testCases := []struct {
		name    string
		builder *Builder
		wantErr error
	}{
		{
			name:    "empty graph",
			builder: NewBuilder("empty"),
			wantErr: ErrEmptyGraph,
		},
		{
			name: "duplicate node",
			builder: NewBuilder("dup").
				AddNode("a", noopStep()).
				AddNode("a", noopStep()),
			wantErr: ErrDuplicateNode,
		},
		{
			name: "dangling edge",
			builder: NewBuilder("dangling").
				AddNode("a", noopStep()).
				AddEdge("a", "ghost"),
			wantErr: ErrNodeNotFound,
		},
		{
			name: "nil step",
			builder: NewBuilder("nilstep").
				AddNode("a", nil),
			wantErr: ErrNilStep,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := tc.builder.BuildGraph()
			require.Error(t, err)
			assert.True(t, errors.Is(err, tc.wantErr), "expected %v, got %v", tc.wantErr, err)
		})
	}
}

func TestBuilder_CycleRejected(t *testing.T) {
	_, err := NewBuilder("cyclic").
		AddNode("a", noopStep()).
		AddNode("b", noopStep()).
		Chain("a", "b").
		AddEdge("b", "a").
		BuildGraph()
	require.Error(t, err)

	var ce *CycleError
	assert.True(t, errors.As(err, &ce))
}

func TestBuilder_BuildRunsEndToEnd(t *testing.T) {
	engine, err := NewBuilder("e2e").
		AddNode("double", StepFunc(func(ctx context.Context, pc *Context, inputs map[string]any) (any, error) {
			n, _ := inputs["input"].(int)
			return n * 2, nil
		})).
		AddNode("inc", StepFunc(func(ctx context.Context, pc *Context, inputs map[string]any) (any, error) {
			n, _ := inputs["input"].(int)
			return n + 1, nil
		})).
		Chain("double", "inc").
		Build()
	require.NoError(t, err)

	result, err := engine.RunWithInputs(context.Background(), 20)
	require.NoError(t, err)
	require.True(t, result.Success)
	assert.Equal(t, 41, result.FinalOutput)
}
