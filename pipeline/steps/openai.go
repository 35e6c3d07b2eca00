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
	"fmt"
	"log/slog"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/fireflyframework/genai/pipeline"
	"github.com/fireflyframework/genai/usage"
)

// ChatCompleter is the slice of the OpenAI client the step needs.
// *openai.Client satisfies it; tests substitute a fake.
type ChatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// ChatCompletionStep calls an OpenAI-compatible chat completion API and
// records token usage against the run's correlation ID.
type ChatCompletionStep struct {
	client       ChatCompleter
	model        string
	systemPrompt string
	promptKey    string
	temperature  float32
	maxTokens    int
	tracker      *usage.Tracker
	logger       *slog.Logger
}

// ChatOption configures a ChatCompletionStep.
type ChatOption func(*ChatCompletionStep)

// WithSystemPrompt sets the system message. Empty means none.
func WithSystemPrompt(prompt string) ChatOption {
	return func(s *ChatCompletionStep) {
		s.systemPrompt = prompt
	}
}

// WithChatPromptKey selects the input key holding the user prompt.
// Default "input".
func WithChatPromptKey(key string) ChatOption {
	return func(s *ChatCompletionStep) {
		s.promptKey = key
	}
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float32) ChatOption {
	return func(s *ChatCompletionStep) {
		s.temperature = t
	}
}

// WithMaxTokens caps completion tokens.
func WithMaxTokens(n int) ChatOption {
	return func(s *ChatCompletionStep) {
		s.maxTokens = n
	}
}

// WithUsageTracker overrides the tracker usage is recorded to.
func WithUsageTracker(t *usage.Tracker) ChatOption {
	return func(s *ChatCompletionStep) {
		s.tracker = t
	}
}

// WithChatLogger sets the step's logger.
func WithChatLogger(l *slog.Logger) ChatOption {
	return func(s *ChatCompletionStep) {
		s.logger = l
	}
}

// NewChatCompletionStep creates a chat completion step for the given
// client and model.
func NewChatCompletionStep(client ChatCompleter, model string, opts ...ChatOption) *ChatCompletionStep {
	s := &ChatCompletionStep{
		client:    client,
		model:     model,
		promptKey: "input",
		tracker:   usage.Default(),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Execute sends the prompt and returns the first choice's content.
func (s *ChatCompletionStep) Execute(ctx context.Context, pc *pipeline.Context, inputs map[string]any) (any, error) {
	prompt := stringValue(inputs[s.promptKey])
	if prompt == "" {
		prompt = stringValue(pc.Inputs)
	}
	if prompt == "" {
		return nil, fmt.Errorf("steps: no prompt found under key %q", s.promptKey)
	}

	var messages []openai.ChatCompletionMessage
	if s.systemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: s.systemPrompt,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: prompt,
	})

	req := openai.ChatCompletionRequest{
		Model:    s.model,
		Messages: messages,
	}
	if s.temperature > 0 {
		req.Temperature = s.temperature
	}
	if s.maxTokens > 0 {
		req.MaxCompletionTokens = s.maxTokens
	}

	start := time.Now()
	resp, err := s.client.CreateChatCompletion(ctx, req)
	if err != nil {
		s.logger.Error("chat completion failed", slog.String("model", s.model), slog.String("error", err.Error()))
		return nil, fmt.Errorf("steps: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("steps: chat completion returned no choices")
	}

	if s.tracker != nil {
		s.tracker.Record(usage.Record{
			Model:         s.model,
			InputTokens:   resp.Usage.PromptTokens,
			OutputTokens:  resp.Usage.CompletionTokens,
			TotalTokens:   resp.Usage.TotalTokens,
			Latency:       time.Since(start),
			CorrelationID: pc.CorrelationID,
		})
	}

	s.logger.Debug("chat completion succeeded",
		slog.String("model", s.model),
		slog.Int("total_tokens", resp.Usage.TotalTokens),
	)
	return resp.Choices[0].Message.Content, nil
}
