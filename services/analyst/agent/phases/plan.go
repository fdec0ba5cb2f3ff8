// Copyright (C) 2026 Driftwood AI
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package phases

import (
	"context"
	"log/slog"
	"time"

	"github.com/driftwood-ai/analyst/services/analyst/agent"
	"github.com/driftwood-ai/analyst/services/analyst/agent/events"
)

// PlanPhase produces the action plan with a single upstream call.
//
// Description:
//
//	Planning runs exactly once per task. The plan is immutable for the
//	task's lifetime: repair attempts re-synthesize code against the same
//	plan rather than re-planning. If the upstream call fails the task
//	routes directly to FALLBACK; there is no plan to repair against.
type PlanPhase struct{}

// Name implements agent.PhaseExecutor.
func (p *PlanPhase) Name() string {
	return "plan"
}

// Execute implements agent.PhaseExecutor.
func (p *PlanPhase) Execute(ctx context.Context, rawDeps any) (agent.TaskState, error) {
	deps, err := FromDeps(rawDeps)
	if err != nil {
		return agent.StateError, err
	}
	session := deps.Session
	task := session.Task

	datasetNames := make([]string, 0, len(task.Datasets))
	for _, d := range task.Datasets {
		datasetNames = append(datasetNames, d.Name)
	}
	deps.Emitter.Emit(events.TypeTaskStart, &events.TaskStartData{
		Question: task.Question,
		Datasets: datasetNames,
	})

	session.IncrementPlannerCalls()

	start := time.Now()
	plan, err := deps.LLM.Generate(ctx, buildPlanMessages(task), deps.Params)
	deps.Metrics.LLMCallDuration.WithLabelValues("plan").Observe(time.Since(start).Seconds())

	if err != nil {
		// No plan means nothing to synthesize against; the fallback
		// phase owns the user-facing ending.
		slog.Error("Planning call failed",
			slog.String("task_id", task.ID),
			slog.String("error", err.Error()),
		)
		return agent.StateFallback, nil
	}

	session.SetPlan(plan)
	deps.Emitter.Emit(events.TypePlanReady, &events.PlanReadyData{Plan: plan})

	slog.Info("Plan ready",
		slog.String("task_id", task.ID),
		slog.Int("plan_chars", len(plan)),
	)
	return agent.StateGenerate, nil
}
