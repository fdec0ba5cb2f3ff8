// Copyright (C) 2026 Driftwood AI
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package agent

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/driftwood-ai/analyst/services/analyst/sandbox"
)

// stubPhase adapts a function to PhaseExecutor. Tests pass the session
// itself as the opaque dependency value.
type stubPhase struct {
	name string
	fn   func(ctx context.Context, session *Session) (TaskState, error)
}

func (p *stubPhase) Name() string { return p.name }

func (p *stubPhase) Execute(ctx context.Context, deps any) (TaskState, error) {
	return p.fn(ctx, deps.(*Session))
}

// stubRegistry is a fixed state-to-phase map.
type stubRegistry map[TaskState]PhaseExecutor

func (r stubRegistry) GetPhase(state TaskState) (PhaseExecutor, bool) {
	phase, ok := r[state]
	return phase, ok
}

// passthroughPlan satisfies the PLAN state for loop-level tests.
func passthroughPlan() PhaseExecutor {
	return &stubPhase{name: "plan", fn: func(_ context.Context, s *Session) (TaskState, error) {
		s.IncrementPlannerCalls()
		s.SetPlan("1. count the rows")
		return StateGenerate, nil
	}}
}

func TestLoop_SuccessFirstAttempt(t *testing.T) {
	registry := stubRegistry{
		StatePlan: passthroughPlan(),
		StateGenerate: &stubPhase{name: "generate", fn: func(_ context.Context, s *Session) (TaskState, error) {
			s.IncrementSynthesizerCalls()
			s.NewArtifact("analysis_report = [\"10 rows\"]")
			return StateExecute, nil
		}},
		StateExecute: &stubPhase{name: "execute", fn: func(_ context.Context, s *Session) (TaskState, error) {
			s.IncrementExecutorCalls()
			s.SetOutcome(&sandbox.Success{
				Report: sandbox.Report{{Text: "10 rows"}},
				Env:    s.Environment().Clone(),
			})
			return StateRespond, nil
		}},
		StateRespond: &stubPhase{name: "respond", fn: func(_ context.Context, s *Session) (TaskState, error) {
			s.SetNarrative("There are 10 rows.")
			return StateComplete, nil
		}},
	}

	loop := NewDefaultLoop(WithPhaseRegistry(registry))
	session := newTestSession(t, 3)

	result, err := loop.Run(context.Background(), session, session)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.State != StateComplete {
		t.Errorf("expected COMPLETE, got %s", result.State)
	}
	if result.Narrative != "There are 10 rows." {
		t.Errorf("unexpected narrative %q", result.Narrative)
	}
	if result.Attempts != 0 {
		t.Errorf("expected 0 failed attempts, got %d", result.Attempts)
	}
	if result.Exhausted() {
		t.Error("successful task must not be exhausted")
	}
	if result.Metrics.SynthesizerCalls != 1 || result.Metrics.ExecutorCalls != 1 {
		t.Errorf("expected one synthesis and one execution, got %+v", result.Metrics)
	}
	if len(result.Report) != 1 || result.Report[0].Text != "10 rows" {
		t.Errorf("unexpected report %+v", result.Report)
	}
}

func TestLoop_RepairsUntilSuccess(t *testing.T) {
	failures := 2

	registry := stubRegistry{
		StatePlan: passthroughPlan(),
		StateGenerate: &stubPhase{name: "generate", fn: func(_ context.Context, s *Session) (TaskState, error) {
			s.IncrementSynthesizerCalls()
			if prior := s.Repair().PriorFailure(); prior != nil && prior.Error == "" {
				t.Error("repair synthesis must see the prior error")
			}
			s.NewArtifact("total = undefined_name")
			return StateExecute, nil
		}},
		StateExecute: &stubPhase{name: "execute", fn: func(_ context.Context, s *Session) (TaskState, error) {
			s.IncrementExecutorCalls()
			if failures > 0 {
				failures--
				repair := s.RecordFailure("undefined: undefined_name", "total = undefined_name")
				if repair.Exhausted() {
					return StateFallback, nil
				}
				return StateGenerate, nil
			}
			s.SetOutcome(&sandbox.Success{Env: s.Environment().Clone()})
			return StateRespond, nil
		}},
		StateRespond: &stubPhase{name: "respond", fn: func(_ context.Context, s *Session) (TaskState, error) {
			s.SetNarrative("fixed on the third try")
			return StateComplete, nil
		}},
	}

	loop := NewDefaultLoop(WithPhaseRegistry(registry))
	session := newTestSession(t, 5)

	result, err := loop.Run(context.Background(), session, session)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.State != StateComplete {
		t.Fatalf("expected COMPLETE, got %s", result.State)
	}
	if result.Attempts != 2 {
		t.Errorf("expected 2 failed attempts, got %d", result.Attempts)
	}
	// Each synthesis that produced an artifact was executed.
	if result.Metrics.SynthesizerCalls != 3 || result.Metrics.ExecutorCalls != 3 {
		t.Errorf("expected 3 synthesis and 3 executions, got %+v", result.Metrics)
	}
}

func TestLoop_ExhaustionRoutesToFallback(t *testing.T) {
	registry := stubRegistry{
		StatePlan: passthroughPlan(),
		StateGenerate: &stubPhase{name: "generate", fn: func(_ context.Context, s *Session) (TaskState, error) {
			s.IncrementSynthesizerCalls()
			s.NewArtifact("broken")
			return StateExecute, nil
		}},
		StateExecute: &stubPhase{name: "execute", fn: func(_ context.Context, s *Session) (TaskState, error) {
			s.IncrementExecutorCalls()
			repair := s.RecordFailure("syntax error", "broken")
			if repair.Exhausted() {
				return StateFallback, nil
			}
			return StateGenerate, nil
		}},
		StateFallback: &stubPhase{name: "fallback", fn: func(_ context.Context, s *Session) (TaskState, error) {
			s.SetFallback("I couldn't complete this analysis. Could you rephrase?")
			return StateComplete, nil
		}},
	}

	loop := NewDefaultLoop(WithPhaseRegistry(registry))
	session := newTestSession(t, 2)

	result, err := loop.Run(context.Background(), session, session)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.State != StateComplete {
		t.Fatalf("expected COMPLETE, got %s", result.State)
	}
	if !result.Exhausted() {
		t.Error("expected exhausted result")
	}
	if result.Attempts != 2 {
		t.Errorf("expected exactly MaxAttempts failures, got %d", result.Attempts)
	}
	if result.Narrative != "" {
		t.Errorf("fallback result must carry no narrative, got %q", result.Narrative)
	}
	// The bound holds exactly: no extra synthesis after exhaustion.
	if result.Metrics.SynthesizerCalls != 2 {
		t.Errorf("expected 2 synthesizer calls, got %d", result.Metrics.SynthesizerCalls)
	}
}

func TestLoop_CancellationProducesErrorResult(t *testing.T) {
	registry := stubRegistry{StatePlan: passthroughPlan()}
	loop := NewDefaultLoop(WithPhaseRegistry(registry))
	session := newTestSession(t, 3)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := loop.Run(ctx, session, session)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.State != StateError {
		t.Fatalf("expected ERROR, got %s", result.State)
	}
	if result.Error == nil || !strings.Contains(result.Error.Message, ErrCanceled.Error()) {
		t.Errorf("expected cancellation error, got %+v", result.Error)
	}
}

func TestLoop_TotalTimeout(t *testing.T) {
	registry := stubRegistry{
		StatePlan: &stubPhase{name: "plan", fn: func(_ context.Context, s *Session) (TaskState, error) {
			time.Sleep(20 * time.Millisecond)
			s.SetPlan("slow plan")
			return StateGenerate, nil
		}},
		StateGenerate: &stubPhase{name: "generate", fn: func(_ context.Context, s *Session) (TaskState, error) {
			t.Error("generate must not run after the total timeout")
			return StateError, nil
		}},
	}

	loop := NewDefaultLoop(WithPhaseRegistry(registry))
	session := newTestSession(t, 3)
	session.Config.TotalTimeout = 5 * time.Millisecond

	result, err := loop.Run(context.Background(), session, session)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.State != StateError {
		t.Fatalf("expected ERROR, got %s", result.State)
	}
	if result.Error == nil || !strings.Contains(result.Error.Message, ErrTimeout.Error()) {
		t.Errorf("expected timeout error, got %+v", result.Error)
	}
}

func TestLoop_ValidatesInput(t *testing.T) {
	loop := NewDefaultLoop(WithPhaseRegistry(stubRegistry{}))

	t.Run("nil session", func(t *testing.T) {
		_, err := loop.Run(context.Background(), nil, nil)
		if !errors.Is(err, ErrInvalidSession) {
			t.Errorf("expected ErrInvalidSession, got %v", err)
		}
	})

	t.Run("empty question", func(t *testing.T) {
		task := NewTask("", nil, nil)
		session := NewSession(task, nil, SessionConfig{MaxAttempts: 3})
		_, err := loop.Run(context.Background(), session, session)
		if !errors.Is(err, ErrEmptyQuestion) {
			t.Errorf("expected ErrEmptyQuestion, got %v", err)
		}
	})

	t.Run("data-free task is accepted", func(t *testing.T) {
		task := NewTask("what is 2+2?", nil, []string{"math"})
		if !task.DataFree {
			t.Fatal("task without datasets should be data-free")
		}
		session := NewSession(task, nil, SessionConfig{MaxAttempts: 3})
		// Loop with no registered phases fails at PLAN, but validation
		// must pass.
		result, err := loop.Run(context.Background(), session, session)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result.State != StateError {
			t.Errorf("expected ERROR with empty registry, got %s", result.State)
		}
	})
}

func TestLoop_SessionLifecycle(t *testing.T) {
	registry := stubRegistry{
		StatePlan: &stubPhase{name: "plan", fn: func(_ context.Context, s *Session) (TaskState, error) {
			return StateFallback, nil
		}},
		StateFallback: &stubPhase{name: "fallback", fn: func(_ context.Context, s *Session) (TaskState, error) {
			s.SetFallback("no plan")
			return StateComplete, nil
		}},
	}

	loop := NewDefaultLoop(WithPhaseRegistry(registry))
	session := newTestSession(t, 3)

	if _, err := loop.Run(context.Background(), session, session); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	state, err := loop.GetState(session.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if state != StateComplete {
		t.Errorf("expected COMPLETE, got %s", state)
	}

	if err := loop.CloseSession(session.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := loop.GetState(session.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound after close, got %v", err)
	}
}

func TestInMemorySessionStore(t *testing.T) {
	store := NewInMemorySessionStore()
	a := newTestSession(t, 1)
	b := newTestSession(t, 1)

	store.Put(a)
	store.Put(b)

	if got, ok := store.Get(a.ID); !ok || got.ID != a.ID {
		t.Errorf("expected to retrieve session %s", a.ID)
	}
	if ids := store.List(); len(ids) != 2 {
		t.Errorf("expected 2 sessions, got %d", len(ids))
	}

	store.Delete(a.ID)
	if _, ok := store.Get(a.ID); ok {
		t.Error("expected session to be deleted")
	}
}

func TestSession_FailedAttemptLeavesEnvironmentUntouched(t *testing.T) {
	env := sandbox.Environment{}
	task := NewTask("q", []DatasetDescriptor{{Name: "d", Summary: "d"}}, nil)
	session := NewSession(task, env, SessionConfig{MaxAttempts: 3})

	before := session.Environment().Names()
	session.RecordFailure("boom", "x = boom()")
	after := session.Environment().Names()

	if len(before) != len(after) {
		t.Errorf("failure must not change the environment: %v vs %v", before, after)
	}
	if session.Repair().Attempt != 1 {
		t.Errorf("expected attempt 1, got %d", session.Repair().Attempt)
	}
}
