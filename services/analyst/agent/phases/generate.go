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
	"github.com/driftwood-ai/analyst/services/analyst/llm"
)

// GeneratePhase synthesizes one code artifact for the current attempt.
//
// Description:
//
//	The first call synthesizes from the plan alone; later calls are
//	repair calls that additionally carry the previous failing code and
//	its error. An upstream failure here consumes an attempt without
//	reaching the sandbox: the budget bounds total repair work, not just
//	executions. Model output with no fenced code block is used as the
//	source anyway and fails at execution like any other bad program.
type GeneratePhase struct{}

// Name implements agent.PhaseExecutor.
func (p *GeneratePhase) Name() string {
	return "generate"
}

// Execute implements agent.PhaseExecutor.
func (p *GeneratePhase) Execute(ctx context.Context, rawDeps any) (agent.TaskState, error) {
	deps, err := FromDeps(rawDeps)
	if err != nil {
		return agent.StateError, err
	}
	session := deps.Session
	repair := session.Repair()

	deps.Emitter.SetAttempt(repair.Attempt)
	deps.Emitter.Emit(events.TypeAttemptStarted, &events.AttemptStartedData{
		Attempt:     repair.Attempt,
		MaxAttempts: repair.MaxAttempts,
		Repair:      repair.PriorFailure() != nil,
	})

	session.IncrementSynthesizerCalls()

	messages := buildSynthesisMessages(
		session.Task,
		session.Plan(),
		session.Environment().Names(),
		repair.PriorFailure(),
	)

	start := time.Now()
	output, err := deps.LLM.Generate(ctx, messages, deps.Params)
	deps.Metrics.LLMCallDuration.WithLabelValues("synthesize").Observe(time.Since(start).Seconds())

	if err != nil {
		return p.recordGenerationFailure(deps, err)
	}

	source, fenced := llm.ExtractCodeBlock(output)
	if !fenced {
		slog.Warn("Model output had no fenced code block, using raw text",
			slog.String("task_id", session.Task.ID),
			slog.Int("attempt", repair.Attempt),
		)
	}

	artifact := session.NewArtifact(source)
	slog.Debug("Artifact synthesized",
		slog.String("task_id", session.Task.ID),
		slog.String("artifact_id", artifact.ID),
		slog.Int("attempt", repair.Attempt),
		slog.Int("source_chars", len(source)),
	)
	return agent.StateExecute, nil
}

// recordGenerationFailure folds an upstream synthesis failure into the
// repair state. The error text enters the repair context but never the
// event stream.
func (p *GeneratePhase) recordGenerationFailure(deps *Dependencies, genErr error) (agent.TaskState, error) {
	session := deps.Session

	slog.Error("Synthesis call failed",
		slog.String("task_id", session.Task.ID),
		slog.String("error", genErr.Error()),
	)

	repair := session.RecordFailure("code generation failed: "+genErr.Error(), "")
	deps.Metrics.AttemptsTotal.WithLabelValues("generation_error").Inc()
	deps.Emitter.Emit(events.TypeAttemptFailed, &events.AttemptFailedData{
		Attempt:   repair.Attempt - 1,
		Reason:    events.ReasonGenerationError,
		Exhausted: repair.Exhausted(),
	})

	if repair.Exhausted() {
		return agent.StateFallback, nil
	}
	return agent.StateGenerate, nil
}
