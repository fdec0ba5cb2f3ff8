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

// FallbackPhase produces the user-facing message after exhaustion.
//
// Description:
//
//	The fallback is always terminal: it acknowledges the miss, restates
//	the question, and suggests rewordings, never internal detail. When
//	the model is itself unavailable a canned message with the same
//	contract is used, so this phase cannot fail back into the loop.
type FallbackPhase struct{}

// Name implements agent.PhaseExecutor.
func (p *FallbackPhase) Name() string {
	return "fallback"
}

// Execute implements agent.PhaseExecutor.
func (p *FallbackPhase) Execute(ctx context.Context, rawDeps any) (agent.TaskState, error) {
	deps, err := FromDeps(rawDeps)
	if err != nil {
		return agent.StateError, err
	}
	session := deps.Session

	start := time.Now()
	message, err := deps.LLM.Generate(ctx, buildFallbackMessages(session.Task), deps.Params)
	deps.Metrics.LLMCallDuration.WithLabelValues("fallback").Observe(time.Since(start).Seconds())

	if err != nil || message == "" {
		if err != nil {
			slog.Warn("Fallback generation failed, using canned message",
				slog.String("task_id", session.Task.ID),
				slog.String("error", err.Error()),
			)
		}
		message = cannedFallbackMessage(session.Task.Question)
	}

	session.SetFallback(message)
	deps.Emitter.Emit(events.TypeFallbackMessage, &events.FallbackMessageData{Message: message})

	deps.Metrics.TasksTotal.WithLabelValues("fallback").Inc()
	deps.Emitter.Emit(events.TypeTaskEnd, &events.TaskEndData{
		State:    agent.StateComplete,
		Attempts: session.Repair().Attempt,
	})

	slog.Info("Task ended through fallback",
		slog.String("task_id", session.Task.ID),
		slog.Int("attempts", session.Repair().Attempt),
	)
	return agent.StateComplete, nil
}
