// Copyright (C) 2026 Driftwood AI
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package agent

import "sync"

// StateMachine validates and applies task state transitions.
//
// Description:
//
//	The transition table encodes the repair loop: PLAN runs once,
//	GENERATE and EXECUTE alternate while attempts remain, EXECUTE routes
//	to RESPOND on success and to FALLBACK on exhaustion. FALLBACK is the
//	only state with no retry edge. ERROR is reachable from every active
//	state so cancellation can interrupt anywhere.
//
// Thread Safety: StateMachine is safe for concurrent use.
type StateMachine struct {
	mu          sync.RWMutex
	transitions map[TaskState][]TaskState
}

// NewStateMachine creates a state machine with the default transition table.
func NewStateMachine() *StateMachine {
	return &StateMachine{
		transitions: map[TaskState][]TaskState{
			StateIdle: {StatePlan},

			// Planning -> Generating: always, once.
			StatePlan: {StateGenerate, StateFallback, StateError},

			// A generation error consumes an attempt without reaching the
			// executor, so GENERATE may loop on itself or exhaust directly.
			StateGenerate: {StateExecute, StateGenerate, StateFallback, StateError},

			// Success, retry, or exhaustion.
			StateExecute: {StateRespond, StateGenerate, StateFallback, StateError},

			StateRespond:  {StateComplete, StateError},
			StateFallback: {StateComplete, StateError},
		},
	}
}

// DefaultStateMachine is the shared transition table used by the loop.
var DefaultStateMachine = NewStateMachine()

// CanTransition reports whether from -> to is a valid transition.
func (m *StateMachine) CanTransition(from, to TaskState) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, next := range m.transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition applies a validated transition to the session.
//
// Inputs:
//
//	session - The session to transition.
//	to - The target state.
//
// Outputs:
//
//	error - ErrInvalidTransition if the transition is not allowed.
func (m *StateMachine) Transition(session *Session, to TaskState) error {
	from := session.GetState()
	if !m.CanTransition(from, to) {
		return ErrInvalidTransition
	}
	session.SetState(to)
	return nil
}

// ValidNextStates returns the allowed successor states, or nil for
// terminal states.
func (m *StateMachine) ValidNextStates(from TaskState) []TaskState {
	m.mu.RLock()
	defer m.mu.RUnlock()

	next := m.transitions[from]
	out := make([]TaskState, len(next))
	copy(out, next)
	return out
}
