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
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/fireflyframework/genai/usage"
)

var (
	tracer = otel.Tracer("firefly.pipeline")
	meter  = otel.Meter("firefly.pipeline")
)

// UsageSource supplies an aggregated usage summary for a correlation ID.
// The engine queries it once per run, after all nodes finish; absence
// (ok == false) or a panic yields a result without a summary and never
// fails the run.
type UsageSource interface {
	SummaryForCorrelation(correlationID string) (*usage.Summary, bool)
}

// Engine executes a Graph: it walks the DAG, launches nodes the instant
// their dependencies complete, applies retry/timeout/condition policy
// per node, propagates failures, and aggregates the final result.
//
// Thread Safety:
//
//	Engine is safe for concurrent use; multiple runs may share one
//	Engine, each with its own Context.
type Engine struct {
	graph   *Graph
	handler any
	usage   UsageSource
	logger  *slog.Logger

	// Metrics (initialized lazily)
	metricsOnce     sync.Once
	nodeLatency     metric.Float64Histogram
	nodeSuccesses   metric.Int64Counter
	nodeFailures    metric.Int64Counter
	activeNodes     metric.Int64UpDownCounter
	pipelineLatency metric.Float64Histogram
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithEventHandler attaches a progress observer. The handler may
// implement any subset of the observer interfaces in events.go.
func WithEventHandler(handler any) EngineOption {
	return func(e *Engine) {
		e.handler = handler
	}
}

// WithLogger sets the engine's logger. Nil means slog.Default().
func WithLogger(logger *slog.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithUsageSource overrides the usage aggregator queried at run end.
// The default is the package-level usage tracker.
func WithUsageSource(src UsageSource) EngineOption {
	return func(e *Engine) {
		e.usage = src
	}
}

// NewEngine creates an engine for the given graph.
func NewEngine(graph *Graph, opts ...EngineOption) (*Engine, error) {
	if graph == nil {
		return nil, ErrNilGraph
	}
	e := &Engine{
		graph:  graph,
		usage:  usage.Default(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	return e, nil
}

// initMetrics lazily initializes metrics. Metric creation failures
// degrade observability but never execution.
func (e *Engine) initMetrics() {
	e.metricsOnce.Do(func() {
		var initErrors []string

		var err error
		e.nodeLatency, err = meter.Float64Histogram("pipeline_node_duration_seconds",
			metric.WithDescription("Time spent executing each pipeline node"),
			metric.WithUnit("s"),
		)
		if err != nil {
			initErrors = append(initErrors, "node_latency: "+err.Error())
		}

		e.nodeSuccesses, err = meter.Int64Counter("pipeline_node_success_total",
			metric.WithDescription("Number of successful node executions"),
		)
		if err != nil {
			initErrors = append(initErrors, "node_successes: "+err.Error())
		}

		e.nodeFailures, err = meter.Int64Counter("pipeline_node_failure_total",
			metric.WithDescription("Number of failed node executions"),
		)
		if err != nil {
			initErrors = append(initErrors, "node_failures: "+err.Error())
		}

		e.activeNodes, err = meter.Int64UpDownCounter("pipeline_active_nodes",
			metric.WithDescription("Number of currently executing nodes"),
		)
		if err != nil {
			initErrors = append(initErrors, "active_nodes: "+err.Error())
		}

		e.pipelineLatency, err = meter.Float64Histogram("pipeline_duration_seconds",
			metric.WithDescription("Total pipeline execution time"),
			metric.WithUnit("s"),
		)
		if err != nil {
			initErrors = append(initErrors, "pipeline_latency: "+err.Error())
		}

		if len(initErrors) > 0 {
			e.logger.Error("failed to initialize some pipeline metrics (observability degraded)",
				slog.Int("failed_count", len(initErrors)),
				slog.Any("errors", initErrors),
			)
		}
	})
}

// nodeOutcome is what a node goroutine reports back to the scheduler.
type nodeOutcome struct {
	nodeID string
	result *NodeResult
	trace  *TraceEntry
}

// RunWithInputs creates a fresh Context for inputs and runs the pipeline.
func (e *Engine) RunWithInputs(ctx context.Context, inputs any) (*Result, error) {
	return e.Run(ctx, NewContext(inputs))
}

// Run executes the pipeline to completion.
//
// Description:
//
//	Eager scheduling: every pending node whose dependencies all have a
//	recorded result is launched immediately in its own goroutine; the
//	scheduler then blocks for the first completion, records it, applies
//	failure propagation, and loops. Nodes are never batched by
//	topological level.
//
//	Node-level failures never surface as errors here; inspect
//	Result.Success and Result.Outputs. The returned error is non-nil
//	only for invalid arguments.
//
// Inputs:
//
//	ctx - Context for cancellation. Must not be nil.
//	pc - Run context, or nil to create an empty one.
//
// Outputs:
//
//	*Result - Aggregated outcome with all node results and trace.
//	error - Non-nil only for nil ctx.
func (e *Engine) Run(ctx context.Context, pc *Context) (*Result, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}
	if pc == nil {
		pc = NewContext(nil)
	}

	e.initMetrics()

	ctx, span := tracer.Start(ctx, "pipeline."+e.graph.Name(),
		trace.WithAttributes(
			attribute.String("firefly.pipeline", e.graph.Name()),
			attribute.String("firefly.correlation_id", pc.CorrelationID),
			attribute.Int("firefly.node_count", e.graph.NodeCount()),
		),
	)
	defer span.End()

	start := time.Now()
	e.logger.Info("pipeline started",
		slog.String("pipeline", e.graph.Name()),
		slog.String("correlation_id", pc.CorrelationID),
		slog.Int("nodes", e.graph.NodeCount()),
	)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	pending := make(map[string]bool, e.graph.NodeCount())
	for id := range e.graph.nodes {
		pending[id] = true
	}
	completed := make(map[string]bool)
	running := make(map[string]bool)
	skip := make(map[string]bool)
	results := make(map[string]*NodeResult, e.graph.NodeCount())
	var traceEntries []TraceEntry
	// Buffered so abandoned goroutines can always deliver and exit.
	done := make(chan nodeOutcome, e.graph.NodeCount())
	abort := false

	ready := func(id string) bool {
		for _, edge := range e.graph.IncomingEdges(id) {
			if !completed[edge.Source] {
				return false
			}
		}
		return true
	}

	for len(pending) > 0 || len(running) > 0 {
		if !abort {
			for id := range pending {
				if ready(id) && !running[id] {
					delete(pending, id)
					running[id] = true
					go e.executeNode(runCtx, pc, id, skip[id], done)
				}
			}
		}

		if len(running) == 0 {
			break
		}

		// Wait for the first node to complete.
		outcome := <-done
		delete(running, outcome.nodeID)
		completed[outcome.nodeID] = true

		nr := outcome.result
		results[nr.NodeID] = nr
		pc.setNodeResult(nr.NodeID, nr)
		if outcome.trace != nil {
			traceEntries = append(traceEntries, *outcome.trace)
		}

		e.emitNodeResult(nr)

		if !nr.Success && !nr.Skipped {
			strategy := FailureSkipDownstream
			if node, ok := e.graph.Node(nr.NodeID); ok {
				strategy = node.FailureStrategy
			}
			switch strategy {
			case FailureFailPipeline:
				abort = true
			case FailureSkipDownstream:
				skip[nr.NodeID] = true
				for succ := range e.graph.TransitiveSuccessors(nr.NodeID) {
					skip[succ] = true
				}
			case FailurePropagate:
				// Downstream nodes still run; the failed output is
				// simply absent from their inputs.
			}
		}

		if abort {
			// Cancel in-flight nodes and stop scheduling. Cancellation
			// is cooperative; late results are discarded, not recorded.
			cancel()
			break
		}
	}

	elapsed := time.Since(start)
	if e.pipelineLatency != nil {
		e.pipelineLatency.Record(ctx, elapsed.Seconds(),
			metric.WithAttributes(attribute.String("pipeline", e.graph.Name())),
		)
	}

	finalOutput := e.deriveFinalOutput(results)

	success := true
	for _, nr := range results {
		if !nr.Success && !nr.Skipped {
			success = false
			break
		}
	}

	e.emitPipelineComplete(success, elapsed)

	result := &Result{
		PipelineName:   e.graph.Name(),
		Outputs:        results,
		FinalOutput:    finalOutput,
		ExecutionTrace: traceEntries,
		TotalDuration:  elapsed,
		Success:        success,
	}
	result.Usage = e.aggregateUsage(pc.CorrelationID)

	if success {
		span.SetStatus(codes.Ok, "")
		e.logger.Info("pipeline completed",
			slog.String("pipeline", e.graph.Name()),
			slog.String("correlation_id", pc.CorrelationID),
			slog.Duration("duration", elapsed),
		)
	} else {
		span.SetStatus(codes.Error, "pipeline failed")
		e.logger.Error("pipeline failed",
			slog.String("pipeline", e.graph.Name()),
			slog.String("correlation_id", pc.CorrelationID),
			slog.Any("failed_nodes", result.FailedNodes()),
		)
	}

	return result, nil
}

// executeNode runs one node to its terminal state and reports the
// outcome on done. It never blocks on done: the channel is buffered for
// every node in the graph.
func (e *Engine) executeNode(ctx context.Context, pc *Context, nodeID string, skipped bool, done chan<- nodeOutcome) {
	// Upstream failure propagation: no step invocation, no start event.
	if skipped {
		e.logger.Debug("node skipped (upstream failure)", slog.String("node", nodeID))
		done <- nodeOutcome{nodeID: nodeID, result: &NodeResult{
			NodeID:  nodeID,
			Skipped: true,
			Error:   "skipped due to upstream failure",
		}}
		return
	}

	node, ok := e.graph.Node(nodeID)
	if !ok {
		done <- nodeOutcome{nodeID: nodeID, result: &NodeResult{
			NodeID: nodeID,
			Error:  NewNodeError(nodeID, ErrNodeNotFound).Error(),
		}}
		return
	}

	// Condition gate: false, error, or panic all mean skip.
	if node.Condition != nil && !evalCondition(pc, node.Condition) {
		e.logger.Debug("node skipped (condition not met)", slog.String("node", nodeID))
		done <- nodeOutcome{nodeID: nodeID, result: &NodeResult{
			NodeID:  nodeID,
			Skipped: true,
		}}
		return
	}

	inputs := e.gatherInputs(nodeID, pc)

	ctx, span := tracer.Start(ctx, "pipeline.node."+nodeID,
		trace.WithAttributes(
			attribute.String("firefly.node", nodeID),
			attribute.String("firefly.pipeline", e.graph.Name()),
		),
	)
	defer span.End()

	if e.activeNodes != nil {
		e.activeNodes.Add(ctx, 1)
		defer e.activeNodes.Add(ctx, -1)
	}

	e.emitNodeStart(nodeID)

	retries := 0
	var lastErr error
	var startedAt time.Time

retryLoop:
	for retries <= node.RetryMax {
		startedAt = time.Now()
		output, err := e.runAttempt(ctx, node, pc, inputs)
		if err == nil {
			latency := time.Since(startedAt)
			if e.nodeLatency != nil {
				e.nodeLatency.Record(ctx, latency.Seconds(),
					metric.WithAttributes(attribute.String("node", nodeID)),
				)
			}
			if e.nodeSuccesses != nil {
				e.nodeSuccesses.Add(ctx, 1,
					metric.WithAttributes(attribute.String("node", nodeID)),
				)
			}
			span.SetStatus(codes.Ok, "")
			e.logger.Info("node completed",
				slog.String("node", nodeID),
				slog.Duration("duration", latency),
			)
			done <- nodeOutcome{
				nodeID: nodeID,
				result: &NodeResult{
					NodeID:  nodeID,
					Output:  output,
					Success: true,
					Latency: latency,
					Retries: retries,
				},
				trace: &TraceEntry{
					NodeID:      nodeID,
					StartedAt:   startedAt,
					CompletedAt: time.Now(),
					Status:      StatusSuccess,
				},
			}
			return
		}

		lastErr = err
		retries++
		if retries <= node.RetryMax {
			// Exponential backoff with one-sided jitter in [0, 25%].
			delay := node.Backoff * (1 << (retries - 1))
			jitter := time.Duration(rand.Float64() * 0.25 * float64(delay))
			backoff := delay + jitter
			e.logger.Warn("node failed, retrying",
				slog.String("node", nodeID),
				slog.Int("attempt", retries),
				slog.Int("max_attempts", node.RetryMax+1),
				slog.String("error", err.Error()),
				slog.Duration("backoff", backoff),
			)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				// Pipeline aborted mid-backoff; stop retrying. The
				// reported retry count covers only attempts made.
				break retryLoop
			}
		}
	}

	if e.nodeFailures != nil {
		e.nodeFailures.Add(ctx, 1,
			metric.WithAttributes(attribute.String("node", nodeID)),
		)
	}
	span.RecordError(lastErr)
	span.SetStatus(codes.Error, lastErr.Error())
	e.logger.Error("node failed",
		slog.String("node", nodeID),
		slog.Int("retries", retries-1),
		slog.String("error", lastErr.Error()),
	)
	done <- nodeOutcome{
		nodeID: nodeID,
		result: &NodeResult{
			NodeID:  nodeID,
			Error:   lastErr.Error(),
			Retries: retries - 1,
		},
		trace: &TraceEntry{
			NodeID:      nodeID,
			StartedAt:   startedAt,
			CompletedAt: time.Now(),
			Status:      StatusFailed,
		},
	}
}

// runAttempt invokes the node's step once, bounded by the node timeout.
// The step runs in its own goroutine so a step that ignores ctx still
// cannot stall the attempt past its deadline; such a step is abandoned,
// not joined.
func (e *Engine) runAttempt(ctx context.Context, node *Node, pc *Context, inputs map[string]any) (any, error) {
	if node.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, node.Timeout)
		defer cancel()
	}

	type stepResult struct {
		output any
		err    error
	}
	ch := make(chan stepResult, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- stepResult{err: fmt.Errorf("step panicked: %v", r)}
			}
		}()
		output, err := node.Step.Execute(ctx, pc, inputs)
		ch <- stepResult{output: output, err: err}
	}()

	select {
	case res := <-ch:
		if res.err != nil && node.Timeout > 0 && ctx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("%w: %s after %s", ErrNodeTimeout, node.ID, node.Timeout)
		}
		return res.output, res.err
	case <-ctx.Done():
		if node.Timeout > 0 && ctx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("%w: %s after %s", ErrNodeTimeout, node.ID, node.Timeout)
		}
		return nil, ctx.Err()
	}
}

// gatherInputs builds a node's input map from its incoming edges. Nodes
// with no incoming edges receive the run's initial inputs under "input".
func (e *Engine) gatherInputs(nodeID string, pc *Context) map[string]any {
	edges := e.graph.IncomingEdges(nodeID)
	if len(edges) == 0 {
		return map[string]any{defaultInputKey: pc.Inputs}
	}

	inputs := make(map[string]any, len(edges))
	for _, edge := range edges {
		nr, ok := pc.NodeResult(edge.Source)
		if !ok || nr == nil || !nr.Success {
			// Failed or skipped upstreams contribute nothing; the key
			// stays absent rather than carrying a nil value.
			continue
		}
		value := nr.Output
		if edge.OutputKey != defaultOutputKey {
			if m, ok := value.(map[string]any); ok {
				value = m[edge.OutputKey]
			}
		}
		inputs[edge.InputKey] = value
	}
	return inputs
}

// deriveFinalOutput collects outputs of successful terminal nodes: one
// means its output directly, several mean a node-ID-keyed map, none
// means nil.
func (e *Engine) deriveFinalOutput(results map[string]*NodeResult) any {
	finalOutputs := make(map[string]any)
	for _, id := range e.graph.TerminalNodes() {
		if nr, ok := results[id]; ok && nr.Success {
			finalOutputs[id] = nr.Output
		}
	}
	switch len(finalOutputs) {
	case 0:
		return nil
	case 1:
		for _, v := range finalOutputs {
			return v
		}
	}
	return finalOutputs
}

// aggregateUsage queries the usage source for this run's summary.
// Absence, emptiness, or a panicking source all yield nil.
func (e *Engine) aggregateUsage(correlationID string) (summary *usage.Summary) {
	if e.usage == nil {
		return nil
	}
	defer func() {
		if recover() != nil {
			summary = nil
		}
	}()
	s, ok := e.usage.SummaryForCorrelation(correlationID)
	if !ok {
		return nil
	}
	return s
}

// evalCondition evaluates a condition predicate; errors and panics count
// as false.
func evalCondition(pc *Context, cond Condition) (run bool) {
	defer func() {
		if recover() != nil {
			run = false
		}
	}()
	ok, err := cond(pc)
	if err != nil {
		return false
	}
	return ok
}
