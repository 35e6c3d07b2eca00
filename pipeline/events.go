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
	"log/slog"
	"time"
)

// Event observer contracts. A handler passed to WithEventHandler may
// implement any subset of these single-method interfaces; the engine
// type-asserts per callback and silently skips the rest. Callbacks are
// best-effort: a panicking observer is recovered and logged, never
// allowed to disturb the run.

// NodeStartObserver is notified before a node's first execution attempt.
type NodeStartObserver interface {
	OnNodeStart(nodeID, pipelineName string)
}

// NodeCompleteObserver is notified after a node completes successfully.
type NodeCompleteObserver interface {
	OnNodeComplete(nodeID, pipelineName string, latency time.Duration)
}

// NodeErrorObserver is notified after a node fails with retries exhausted.
type NodeErrorObserver interface {
	OnNodeError(nodeID, pipelineName, errText string)
}

// NodeSkipObserver is notified when a node is skipped.
type NodeSkipObserver interface {
	OnNodeSkip(nodeID, pipelineName, reason string)
}

// PipelineCompleteObserver is notified once after the whole run finishes.
type PipelineCompleteObserver interface {
	OnPipelineComplete(pipelineName string, success bool, duration time.Duration)
}

// EventHandler unions all observer interfaces for handlers that want
// every callback.
type EventHandler interface {
	NodeStartObserver
	NodeCompleteObserver
	NodeErrorObserver
	NodeSkipObserver
	PipelineCompleteObserver
}

// safeEmit invokes fn, recovering observer panics.
func safeEmit(logger *slog.Logger, event string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Debug("event handler panicked",
				slog.String("event", event),
				slog.Any("panic", r),
			)
		}
	}()
	fn()
}

func (e *Engine) emitNodeStart(nodeID string) {
	obs, ok := e.handler.(NodeStartObserver)
	if !ok {
		return
	}
	safeEmit(e.logger, "node_start", func() {
		obs.OnNodeStart(nodeID, e.graph.Name())
	})
}

// emitNodeResult fires exactly one of skip/complete/error for a terminal
// node result.
func (e *Engine) emitNodeResult(nr *NodeResult) {
	switch {
	case nr.Skipped:
		obs, ok := e.handler.(NodeSkipObserver)
		if !ok {
			return
		}
		reason := nr.Error
		if reason == "" {
			reason = "skipped"
		}
		safeEmit(e.logger, "node_skip", func() {
			obs.OnNodeSkip(nr.NodeID, e.graph.Name(), reason)
		})
	case nr.Success:
		obs, ok := e.handler.(NodeCompleteObserver)
		if !ok {
			return
		}
		safeEmit(e.logger, "node_complete", func() {
			obs.OnNodeComplete(nr.NodeID, e.graph.Name(), nr.Latency)
		})
	default:
		obs, ok := e.handler.(NodeErrorObserver)
		if !ok {
			return
		}
		errText := nr.Error
		if errText == "" {
			errText = "unknown"
		}
		safeEmit(e.logger, "node_error", func() {
			obs.OnNodeError(nr.NodeID, e.graph.Name(), errText)
		})
	}
}

func (e *Engine) emitPipelineComplete(success bool, duration time.Duration) {
	obs, ok := e.handler.(PipelineCompleteObserver)
	if !ok {
		return
	}
	safeEmit(e.logger, "pipeline_complete", func() {
		obs.OnPipelineComplete(e.graph.Name(), success, duration)
	})
}
