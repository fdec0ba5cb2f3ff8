// Copyright (C) 2026 Driftwood AI
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package phases implements the individual phases of the task state
// machine.
//
// Each phase handles a specific stage of task execution:
//   - PLAN: Produce the action plan (one upstream call).
//   - GENERATE: Synthesize one code artifact for the current attempt.
//   - EXECUTE: Run the artifact in the sandbox and classify the outcome.
//   - RESPOND: Stream the narrative for a successful run.
//   - FALLBACK: Produce the user-facing message after exhaustion.
//
// Thread Safety:
//
//	Phase implementations must be safe for concurrent use.
package phases

import (
	"fmt"

	"github.com/driftwood-ai/analyst/services/analyst/agent"
	"github.com/driftwood-ai/analyst/services/analyst/agent/events"
	"github.com/driftwood-ai/analyst/services/analyst/llm"
	"github.com/driftwood-ai/analyst/services/analyst/sandbox"
	"github.com/driftwood-ai/analyst/services/analyst/telemetry"
)

// Dependencies contains everything a phase needs for one task.
//
// The struct decouples phases from the loop: the loop hands it through
// as an opaque value and phases recover it with FromDeps.
type Dependencies struct {
	// Session is the current task session.
	Session *agent.Session

	// LLM is the model backend for planning, synthesis, and narration.
	LLM llm.Client

	// Params tunes model calls.
	Params llm.GenerationParams

	// Executor runs artifacts in the sandbox.
	Executor *sandbox.Executor

	// Emitter broadcasts task events.
	Emitter *events.Emitter

	// Metrics records counters and durations. Never nil; use
	// telemetry.NopMetrics when metrics are disabled.
	Metrics *telemetry.Metrics
}

// FromDeps recovers a *Dependencies from the loop's opaque value.
func FromDeps(deps any) (*Dependencies, error) {
	d, ok := deps.(*Dependencies)
	if !ok || d == nil {
		return nil, fmt.Errorf("phase dependencies have type %T, want *phases.Dependencies", deps)
	}
	if d.Session == nil {
		return nil, fmt.Errorf("phase dependencies missing session")
	}
	return d, nil
}

// Registry maps task states to their phase implementations. It
// satisfies the loop's PhaseRegistry interface.
//
// Thread Safety: Registry is immutable after construction.
type Registry struct {
	phases map[agent.TaskState]agent.PhaseExecutor
}

// NewRegistry creates a registry with the standard phase set.
func NewRegistry() *Registry {
	return &Registry{
		phases: map[agent.TaskState]agent.PhaseExecutor{
			agent.StatePlan:     &PlanPhase{},
			agent.StateGenerate: &GeneratePhase{},
			agent.StateExecute:  &ExecutePhase{},
			agent.StateRespond:  &RespondPhase{},
			agent.StateFallback: &FallbackPhase{},
		},
	}
}

// GetPhase implements agent.PhaseRegistry.
func (r *Registry) GetPhase(state agent.TaskState) (agent.PhaseExecutor, bool) {
	phase, ok := r.phases[state]
	return phase, ok
}
