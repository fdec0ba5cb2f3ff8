// Copyright (C) 2026 Driftwood AI
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package phases

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/driftwood-ai/analyst/services/analyst/agent"
	"github.com/driftwood-ai/analyst/services/analyst/agent/events"
	"github.com/driftwood-ai/analyst/services/analyst/sandbox"
)

// RespondPhase finalizes a successful run.
//
// Description:
//
//	Ordering is part of the contract: the visualization event (when one
//	exists) is emitted before any narrative text, and narrative chunks
//	are emitted in stream order with the final marker last. If narration
//	itself fails, the structured report is rendered deterministically
//	instead; a successful execution never regresses to an error.
type RespondPhase struct{}

// Name implements agent.PhaseExecutor.
func (p *RespondPhase) Name() string {
	return "respond"
}

// Execute implements agent.PhaseExecutor.
func (p *RespondPhase) Execute(ctx context.Context, rawDeps any) (agent.TaskState, error) {
	deps, err := FromDeps(rawDeps)
	if err != nil {
		return agent.StateError, err
	}
	session := deps.Session

	success, ok := session.Outcome().(*sandbox.Success)
	if !ok {
		return agent.StateError, fmt.Errorf("respond phase reached without a successful outcome")
	}

	if success.Visualization != nil {
		deps.Emitter.Emit(events.TypeVisualizationReady, &events.VisualizationReadyData{
			Format: success.Visualization.Format,
			Data:   success.Visualization.Data,
		})
	}

	findings := renderFindings(success.Report)
	messages := buildNarrativeMessages(session.Task, session.Plan(), findings)

	start := time.Now()
	narrative, err := deps.LLM.GenerateStream(ctx, messages, deps.Params, func(chunk string) error {
		deps.Emitter.Emit(events.TypeNarrativeChunk, &events.NarrativeChunkData{Text: chunk})
		return nil
	})
	deps.Metrics.LLMCallDuration.WithLabelValues("narrate").Observe(time.Since(start).Seconds())

	if err != nil {
		slog.Warn("Narration failed, rendering report directly",
			slog.String("task_id", session.Task.ID),
			slog.String("error", err.Error()),
		)
		narrative = findings
		deps.Emitter.Emit(events.TypeNarrativeChunk, &events.NarrativeChunkData{Text: narrative})
	}

	deps.Emitter.Emit(events.TypeNarrativeChunk, &events.NarrativeChunkData{Final: true})
	session.SetNarrative(narrative)

	deps.Metrics.TasksTotal.WithLabelValues("success").Inc()
	deps.Emitter.Emit(events.TypeTaskEnd, &events.TaskEndData{
		State:    agent.StateComplete,
		Attempts: session.Repair().Attempt,
	})
	return agent.StateComplete, nil
}

// renderFindings flattens the structured report into prompt-ready (and,
// when narration is unavailable, user-ready) text.
func renderFindings(report sandbox.Report) string {
	if len(report) == 0 {
		return "The analysis completed but recorded no explicit findings."
	}

	var b strings.Builder
	for i, step := range report {
		fmt.Fprintf(&b, "%d. %s", i+1, step.Text)

		keys := make([]string, 0, len(step.Fields))
		for key := range step.Fields {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			fmt.Fprintf(&b, " [%s=%v]", key, step.Fields[key])
		}
		b.WriteString("\n")
	}
	return b.String()
}
