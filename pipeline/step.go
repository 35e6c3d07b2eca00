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

import "context"

// Step is the work-unit contract every graph node must satisfy. The
// engine owns all scheduling, retry, and timeout decisions; a failed
// step is re-invoked verbatim on retry, so implementations should be
// prepared for repeated calls.
//
// Steps must honor ctx cancellation: the engine cancels ctx on node
// timeout and on pipeline abort, and does not wait for steps that
// ignore it.
type Step interface {
	Execute(ctx context.Context, pc *Context, inputs map[string]any) (any, error)
}

// StepFunc adapts a plain function to the Step interface.
type StepFunc func(ctx context.Context, pc *Context, inputs map[string]any) (any, error)

// Execute calls f.
func (f StepFunc) Execute(ctx context.Context, pc *Context, inputs map[string]any) (any, error) {
	return f(ctx, pc, inputs)
}
