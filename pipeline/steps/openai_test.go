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
	"testing"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fireflyframework/genai/pipeline"
	"github.com/fireflyframework/genai/usage"
)

// fakeChatClient returns canned completions and captures the request.
type fakeChatClient struct {
	lastReq openai.ChatCompletionRequest
	content string
	usage   openai.Usage
	err     error
}

func (f *fakeChatClient) CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	f.lastReq = req
	if f.err != nil {
		return openai.ChatCompletionResponse{}, f.err
	}
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: f.content}},
		},
		Usage: f.usage,
	}, nil
}

func TestChatCompletionStep_ReturnsContent(t *testing.T) {
	client := &fakeChatClient{
		content: "the answer",
		usage:   openai.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}
	tracker := usage.NewTracker(100)
	step := NewChatCompletionStep(client, "gpt-4o-mini",
		WithSystemPrompt("You are terse."),
		WithUsageTracker(tracker),
	)

	pc := pipeline.NewContext(nil, pipeline.WithCorrelationID("run-1"))
	out, err := step.Execute(context.Background(), pc, map[string]any{"input": "question"})
	require.NoError(t, err)
	assert.Equal(t, "the answer", out)

	require.Len(t, client.lastReq.Messages, 2)
	assert.Equal(t, openai.ChatMessageRoleSystem, client.lastReq.Messages[0].Role)
	assert.Equal(t, "question", client.lastReq.Messages[1].Content)
}

func TestChatCompletionStep_RecordsUsage(t *testing.T) {
	client := &fakeChatClient{
		content: "ok",
		usage:   openai.Usage{PromptTokens: 7, CompletionTokens: 3, TotalTokens: 10},
	}
	tracker := usage.NewTracker(100)
	step := NewChatCompletionStep(client, "gpt-4o-mini", WithUsageTracker(tracker))

	pc := pipeline.NewContext("hi", pipeline.WithCorrelationID("run-usage"))
	_, err := step.Execute(context.Background(), pc, nil)
	require.NoError(t, err)

	summary, ok := tracker.SummaryForCorrelation("run-usage")
	require.True(t, ok)
	assert.Equal(t, 10, summary.TotalTokens)
	assert.Equal(t, 1, summary.RecordCount)
	assert.Contains(t, summary.ByModel, "gpt-4o-mini")
}

func TestChatCompletionStep_APIFailure(t *testing.T) {
	client := &fakeChatClient{err: errors.New("rate limited")}
	step := NewChatCompletionStep(client, "gpt-4o-mini", WithUsageTracker(usage.NewTracker(10)))

	pc := pipeline.NewContext("hi")
	_, err := step.Execute(context.Background(), pc, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limited")
}

func TestChatCompletionStep_NoChoices(t *testing.T) {
	step := NewChatCompletionStep(emptyChoicesClient{}, "gpt-4o-mini", WithUsageTracker(usage.NewTracker(10)))

	pc := pipeline.NewContext("hi")
	_, err := step.Execute(context.Background(), pc, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no choices")
}

type emptyChoicesClient struct{}

func (emptyChoicesClient) CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	return openai.ChatCompletionResponse{}, nil
}

func TestChatCompletionStep_NoPrompt(t *testing.T) {
	step := NewChatCompletionStep(&fakeChatClient{content: "x"}, "gpt-4o-mini")
	pc := pipeline.NewContext(nil)
	_, err := step.Execute(context.Background(), pc, map[string]any{})
	require.Error(t, err)
}
