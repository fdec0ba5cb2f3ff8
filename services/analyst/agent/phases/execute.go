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
	"time"

	"github.com/driftwood-ai/analyst/services/analyst/agent"
	"github.com/driftwood-ai/analyst/services/analyst/agent/events"
	"github.com/driftwood-ai/analyst/services/analyst/sandbox"
)

// ExecutePhase runs the current artifact in the sandbox and classifies
// the outcome.
//
// Description:
//
//	Success replaces the session environment with the run's folded
//	environment and routes to RESPOND. Failure leaves the environment
//	untouched, feeds the error and failing code into the repair state,
//	and routes back to GENERATE while attempts remain, to FALLBACK once
//	the budget is spent.
type ExecutePhase struct{}

// Name implements agent.PhaseExecutor.
func (p *ExecutePhase) Name() string {
	return "execute"
}

// Execute implements agent.PhaseExecutor.
func (p *ExecutePhase) Execute(ctx context.Context, rawDeps any) (agent.TaskState, error) {
	deps, err := FromDeps(rawDeps)
	if err != nil {
		return agent.StateError, err
	}
	session := deps.Session

	artifact := session.CurrentArtifact()
	if artifact == nil {
		return agent.StateError, fmt.Errorf("no artifact to execute")
	}

	session.IncrementExecutorCalls()

	start := time.Now()
	outcome := deps.Executor.Execute(ctx, artifact.Source, session.Environment(), session.Task.Capabilities)
	deps.Metrics.ExecutionDuration.Observe(time.Since(start).Seconds())

	session.SetOutcome(outcome)

	switch result := outcome.(type) {
	case *sandbox.Success:
		session.ReplaceEnvironment(result.Env)
		deps.Metrics.AttemptsTotal.WithLabelValues("success").Inc()

		slog.Info("Execution succeeded",
			slog.String("task_id", session.Task.ID),
			slog.String("artifact_id", artifact.ID),
			slog.Int("attempt", artifact.Attempt),
			slog.Int("report_steps", len(result.Report)),
			slog.Bool("visualization", result.Visualization != nil),
		)
		return agent.StateRespond, nil

	case *sandbox.Failure:
		return p.recordExecutionFailure(deps, artifact, result)

	default:
		return agent.StateError, fmt.Errorf("unknown execution outcome %T", outcome)
	}
}

// recordExecutionFailure folds a failed run into the repair state. The
// raw error goes to logs and the repair context; subscribers only see
// the reason tag.
func (p *ExecutePhase) recordExecutionFailure(deps *Dependencies, artifact *agent.CodeArtifact, failure *sandbox.Failure) (agent.TaskState, error) {
	session := deps.Session

	reason := events.ReasonExecutionError
	outcomeLabel := "execution_error"
	if failure.Timeout {
		reason = events.ReasonTimeout
		outcomeLabel = "timeout"
	}

	slog.Warn("Execution failed",
		slog.String("task_id", session.Task.ID),
		slog.String("artifact_id", artifact.ID),
		slog.Int("attempt", artifact.Attempt),
		slog.Bool("timeout", failure.Timeout),
		slog.String("error", failure.Error),
	)

	repair := session.RecordFailure(failure.Error, failure.FailingCode)
	deps.Metrics.AttemptsTotal.WithLabelValues(outcomeLabel).Inc()
	deps.Emitter.Emit(events.TypeAttemptFailed, &events.AttemptFailedData{
		Attempt:   artifact.Attempt,
		Reason:    reason,
		Exhausted: repair.Exhausted(),
	})

	if repair.Exhausted() {
		slog.Info("Attempt budget exhausted",
			slog.String("task_id", session.Task.ID),
			slog.Int("attempts", repair.Attempt),
		)
		return agent.StateFallback, nil
	}
	return agent.StateGenerate, nil
}
