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

// Package usage tracks LLM token consumption and cost across pipeline
// runs. A Tracker accumulates per-call Records and serves aggregated
// summaries broken down by agent, model, or run correlation ID.
package usage

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var usageMeter = otel.Meter("firefly.usage")

// DefaultMaxRecords bounds the default tracker's record buffer.
const DefaultMaxRecords = 10000

// Record is one LLM call's usage.
type Record struct {
	// Agent identifies the calling agent or step.
	Agent string `json:"agent,omitempty"`

	// Model is the model that served the call.
	Model string `json:"model,omitempty"`

	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`

	// CacheCreationTokens and CacheReadTokens cover prompt-cache
	// accounting on providers that report it.
	CacheCreationTokens int `json:"cache_creation_tokens,omitempty"`
	CacheReadTokens     int `json:"cache_read_tokens,omitempty"`

	// RequestCount is usually 1; batched calls may report more.
	RequestCount int `json:"request_count"`

	// CostUSD is the estimated cost of the call.
	CostUSD float64 `json:"cost_usd"`

	// Latency is the call's wall-clock duration.
	Latency time.Duration `json:"latency,omitempty"`

	// Timestamp is when the call completed. Zero means time.Now() at
	// record time.
	Timestamp time.Time `json:"timestamp"`

	// CorrelationID groups records belonging to one pipeline run.
	CorrelationID string `json:"correlation_id,omitempty"`
}

// AgentUsage is an aggregated usage bucket (per agent, model, or run).
type AgentUsage struct {
	InputTokens         int           `json:"input_tokens"`
	OutputTokens        int           `json:"output_tokens"`
	TotalTokens         int           `json:"total_tokens"`
	CacheCreationTokens int           `json:"cache_creation_tokens,omitempty"`
	CacheReadTokens     int           `json:"cache_read_tokens,omitempty"`
	RequestCount        int           `json:"request_count"`
	CostUSD             float64       `json:"cost_usd"`
	TotalLatency        time.Duration `json:"total_latency,omitempty"`
}

func (a *AgentUsage) add(r Record) {
	a.InputTokens += r.InputTokens
	a.OutputTokens += r.OutputTokens
	a.TotalTokens += r.TotalTokens
	a.CacheCreationTokens += r.CacheCreationTokens
	a.CacheReadTokens += r.CacheReadTokens
	a.RequestCount += r.RequestCount
	a.CostUSD += r.CostUSD
	a.TotalLatency += r.Latency
}

// Summary is an aggregated view over a set of records.
type Summary struct {
	InputTokens         int           `json:"input_tokens"`
	OutputTokens        int           `json:"output_tokens"`
	TotalTokens         int           `json:"total_tokens"`
	CacheCreationTokens int           `json:"cache_creation_tokens,omitempty"`
	CacheReadTokens     int           `json:"cache_read_tokens,omitempty"`
	RequestCount        int           `json:"request_count"`
	CostUSD             float64       `json:"cost_usd"`
	TotalLatency        time.Duration `json:"total_latency,omitempty"`
	RecordCount         int           `json:"record_count"`

	// ByAgent and ByModel break totals down by record attribution.
	ByAgent map[string]*AgentUsage `json:"by_agent,omitempty"`
	ByModel map[string]*AgentUsage `json:"by_model,omitempty"`
}

func summarize(records []Record) *Summary {
	s := &Summary{
		ByAgent: make(map[string]*AgentUsage),
		ByModel: make(map[string]*AgentUsage),
	}
	for _, r := range records {
		s.InputTokens += r.InputTokens
		s.OutputTokens += r.OutputTokens
		s.TotalTokens += r.TotalTokens
		s.CacheCreationTokens += r.CacheCreationTokens
		s.CacheReadTokens += r.CacheReadTokens
		s.RequestCount += r.RequestCount
		s.CostUSD += r.CostUSD
		s.TotalLatency += r.Latency
		s.RecordCount++

		if r.Agent != "" {
			bucket := s.ByAgent[r.Agent]
			if bucket == nil {
				bucket = &AgentUsage{}
				s.ByAgent[r.Agent] = bucket
			}
			bucket.add(r)
		}
		if r.Model != "" {
			bucket := s.ByModel[r.Model]
			if bucket == nil {
				bucket = &AgentUsage{}
				s.ByModel[r.Model] = bucket
			}
			bucket.add(r)
		}
	}
	return s
}

// Tracker accumulates usage records. Safe for concurrent use. Old
// records are evicted FIFO past MaxRecords; cumulative cost survives
// eviction.
type Tracker struct {
	mu             sync.Mutex
	records        []Record
	maxRecords     int
	cumulativeCost float64

	metricsOnce sync.Once
	tokenCount  metric.Int64Counter
	costTotal   metric.Float64Counter
}

// NewTracker creates a tracker keeping at most maxRecords records.
// Non-positive means DefaultMaxRecords.
func NewTracker(maxRecords int) *Tracker {
	if maxRecords <= 0 {
		maxRecords = DefaultMaxRecords
	}
	return &Tracker{maxRecords: maxRecords}
}

var (
	defaultTracker     *Tracker
	defaultTrackerOnce sync.Once
)

// Default returns the process-wide tracker used by the pipeline engine
// when no explicit usage source is configured.
func Default() *Tracker {
	defaultTrackerOnce.Do(func() {
		defaultTracker = NewTracker(DefaultMaxRecords)
	})
	return defaultTracker
}

func (t *Tracker) initMetrics() {
	t.metricsOnce.Do(func() {
		var err error
		t.tokenCount, err = usageMeter.Int64Counter("llm_tokens_total",
			metric.WithDescription("Total LLM tokens consumed"),
		)
		if err != nil {
			t.tokenCount = nil
		}
		t.costTotal, err = usageMeter.Float64Counter("llm_cost_usd_total",
			metric.WithDescription("Cumulative estimated LLM cost"),
			metric.WithUnit("{usd}"),
		)
		if err != nil {
			t.costTotal = nil
		}
	})
}

// Record stores one usage record and emits token/cost metrics.
func (t *Tracker) Record(r Record) {
	t.initMetrics()

	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now()
	}
	if r.RequestCount == 0 {
		r.RequestCount = 1
	}
	if r.TotalTokens == 0 {
		r.TotalTokens = r.InputTokens + r.OutputTokens
	}

	t.mu.Lock()
	t.records = append(t.records, r)
	if len(t.records) > t.maxRecords {
		t.records = t.records[len(t.records)-t.maxRecords:]
	}
	t.cumulativeCost += r.CostUSD
	t.mu.Unlock()

	attrs := metric.WithAttributes(
		attribute.String("agent", r.Agent),
		attribute.String("model", r.Model),
	)
	ctx := context.Background()
	if t.tokenCount != nil {
		t.tokenCount.Add(ctx, int64(r.TotalTokens), attrs)
	}
	if t.costTotal != nil {
		t.costTotal.Add(ctx, r.CostUSD, attrs)
	}
}

// Records returns a snapshot of the retained records, oldest first.
func (t *Tracker) Records() []Record {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Record, len(t.records))
	copy(out, t.records)
	return out
}

// CumulativeCostUSD returns total cost across all records ever seen,
// including evicted ones.
func (t *Tracker) CumulativeCostUSD() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cumulativeCost
}

// Summary aggregates all retained records.
func (t *Tracker) Summary() *Summary {
	return summarize(t.Records())
}

// SummaryForAgent aggregates retained records attributed to one agent.
func (t *Tracker) SummaryForAgent(agent string) *Summary {
	var matched []Record
	for _, r := range t.Records() {
		if r.Agent == agent {
			matched = append(matched, r)
		}
	}
	return summarize(matched)
}

// SummaryForCorrelation aggregates retained records for one run. The
// second return is false when no records carry the correlation ID.
func (t *Tracker) SummaryForCorrelation(correlationID string) (*Summary, bool) {
	var matched []Record
	for _, r := range t.Records() {
		if r.CorrelationID == correlationID {
			matched = append(matched, r)
		}
	}
	if len(matched) == 0 {
		return nil, false
	}
	return summarize(matched), true
}

// Reset discards all retained records and the cumulative cost.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.records = nil
	t.cumulativeCost = 0
}
