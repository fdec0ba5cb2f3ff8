// Copyright (C) 2026 Driftwood AI
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package agent

import (
	"errors"
	"testing"

	"github.com/driftwood-ai/analyst/services/analyst/sandbox"
)

func TestStateMachine_ValidTransitions(t *testing.T) {
	sm := NewStateMachine()

	validTransitions := []struct {
		from TaskState
		to   TaskState
	}{
		// IDLE transitions
		{StateIdle, StatePlan},

		// PLAN transitions
		{StatePlan, StateGenerate},
		{StatePlan, StateFallback},
		{StatePlan, StateError},

		// GENERATE transitions
		{StateGenerate, StateExecute},
		{StateGenerate, StateGenerate},
		{StateGenerate, StateFallback},
		{StateGenerate, StateError},

		// EXECUTE transitions
		{StateExecute, StateRespond},
		{StateExecute, StateGenerate},
		{StateExecute, StateFallback},
		{StateExecute, StateError},

		// RESPOND transitions
		{StateRespond, StateComplete},
		{StateRespond, StateError},

		// FALLBACK transitions
		{StateFallback, StateComplete},
		{StateFallback, StateError},
	}

	for _, tt := range validTransitions {
		t.Run(tt.from.String()+"->"+tt.to.String(), func(t *testing.T) {
			if !sm.CanTransition(tt.from, tt.to) {
				t.Errorf("expected transition %s -> %s to be valid", tt.from, tt.to)
			}
		})
	}
}

func TestStateMachine_InvalidTransitions(t *testing.T) {
	sm := NewStateMachine()

	invalidTransitions := []struct {
		from TaskState
		to   TaskState
	}{
		// Terminal states have no successors
		{StateComplete, StateIdle},
		{StateComplete, StatePlan},
		{StateComplete, StateGenerate},
		{StateError, StateIdle},
		{StateError, StatePlan},

		// Planning never repeats
		{StateGenerate, StatePlan},
		{StateExecute, StatePlan},
		{StateRespond, StatePlan},

		// FALLBACK never re-enters the loop
		{StateFallback, StateGenerate},
		{StateFallback, StateExecute},
		{StateFallback, StateRespond},

		// Execution requires a fresh artifact
		{StateExecute, StateExecute},

		// Success and exhaustion paths never cross
		{StateRespond, StateFallback},
		{StateIdle, StateComplete},
		{StateIdle, StateError},
	}

	for _, tt := range invalidTransitions {
		t.Run(tt.from.String()+"->"+tt.to.String(), func(t *testing.T) {
			if sm.CanTransition(tt.from, tt.to) {
				t.Errorf("expected transition %s -> %s to be invalid", tt.from, tt.to)
			}
		})
	}
}

func TestStateMachine_Transition(t *testing.T) {
	sm := NewStateMachine()
	session := newTestSession(t, 3)

	if err := sm.Transition(session, StatePlan); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := session.GetState(); got != StatePlan {
		t.Errorf("expected state %s, got %s", StatePlan, got)
	}

	err := sm.Transition(session, StateComplete)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}
	if got := session.GetState(); got != StatePlan {
		t.Errorf("rejected transition must not change state, got %s", got)
	}
}

func TestStateMachine_ValidNextStates(t *testing.T) {
	sm := NewStateMachine()

	if next := sm.ValidNextStates(StateComplete); len(next) != 0 {
		t.Errorf("terminal state should have no successors, got %v", next)
	}

	next := sm.ValidNextStates(StateExecute)
	if len(next) != 4 {
		t.Errorf("expected 4 successors for EXECUTE, got %d: %v", len(next), next)
	}
}

func TestTaskState_Predicates(t *testing.T) {
	for _, s := range AllStates() {
		if s.IsTerminal() && s.IsActive() {
			t.Errorf("state %s cannot be both terminal and active", s)
		}
	}

	if !StateComplete.IsTerminal() || !StateError.IsTerminal() {
		t.Error("COMPLETE and ERROR must be terminal")
	}
	if StateIdle.IsActive() {
		t.Error("IDLE is not an active state")
	}
}

// newTestSession builds a session in IDLE with an empty environment.
func newTestSession(t *testing.T, maxAttempts int) *Session {
	t.Helper()
	task := NewTask("how many rows are there?", []DatasetDescriptor{
		{Name: "sales", Summary: "sales: 10 rows, 2 columns"},
	}, []string{"math"})
	return NewSession(task, sandbox.Environment{}, SessionConfig{MaxAttempts: maxAttempts})
}
