// Copyright (C) 2026 Driftwood AI
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/driftwood-ai/analyst/services/analyst/sandbox"
)

// Loop defines the interface for running tasks through the repair loop.
type Loop interface {
	// Run processes one task to a terminal state.
	//
	// Description:
	//   Drives the session through the state machine until COMPLETE or
	//   ERROR. Attempts within a task are strictly sequential; tasks are
	//   independent and may run concurrently.
	//
	// Inputs:
	//   ctx - Context for cancellation and timeout.
	//   session - The session to run (must be in IDLE state).
	//   deps - Per-task dependencies handed to each phase.
	//
	// Outputs:
	//   *RunResult - The terminal result.
	//   error - Non-nil if the task could not be started.
	//
	// Thread Safety: Safe for concurrent use with different sessions.
	Run(ctx context.Context, session *Session, deps any) (*RunResult, error)

	// Abort terminates a running session. No-op for terminal sessions.
	Abort(sessionID string) error

	// GetState returns the current state of a session.
	GetState(sessionID string) (TaskState, error)

	// CloseSession removes a finished session from the store.
	CloseSession(sessionID string) error
}

// PhaseExecutor executes one phase and returns the next state.
//
// The deps parameter is typed as any to avoid an import cycle between
// this package and the phase implementations; phases assert it to their
// own Dependencies type.
type PhaseExecutor interface {
	// Execute runs the phase.
	Execute(ctx context.Context, deps any) (TaskState, error)

	// Name returns the phase name for logging.
	Name() string
}

// PhaseRegistry provides access to phase implementations.
type PhaseRegistry interface {
	// GetPhase returns the phase implementation for a state.
	GetPhase(state TaskState) (PhaseExecutor, bool)
}

// SessionStore manages live sessions.
type SessionStore interface {
	// Get retrieves a session by ID.
	Get(id string) (*Session, bool)

	// Put stores a session.
	Put(session *Session)

	// Delete removes a session.
	Delete(id string)

	// List returns all stored session IDs, sorted.
	List() []string
}

// DefaultLoop implements Loop.
//
// Thread Safety: DefaultLoop is safe for concurrent use.
type DefaultLoop struct {
	mu sync.Mutex

	sessions      SessionStore
	stateMachine  *StateMachine
	phaseRegistry PhaseRegistry

	// maxConcurrent limits concurrent sessions (0 = unlimited).
	maxConcurrent int
	active        int
}

// LoopOption configures a DefaultLoop.
type LoopOption func(*DefaultLoop)

// WithSessionStore sets the session store.
func WithSessionStore(store SessionStore) LoopOption {
	return func(l *DefaultLoop) {
		l.sessions = store
	}
}

// WithPhaseRegistry sets the phase registry.
func WithPhaseRegistry(registry PhaseRegistry) LoopOption {
	return func(l *DefaultLoop) {
		l.phaseRegistry = registry
	}
}

// WithMaxConcurrentSessions limits concurrent sessions (0 = unlimited).
func WithMaxConcurrentSessions(max int) LoopOption {
	return func(l *DefaultLoop) {
		l.maxConcurrent = max
	}
}

// NewDefaultLoop creates a repair loop.
//
// Description:
//
//	Creates a loop with the given options. If no session store is
//	provided an in-memory store is used. A phase registry must be set
//	before Run is called.
func NewDefaultLoop(opts ...LoopOption) *DefaultLoop {
	l := &DefaultLoop{
		sessions:     NewInMemorySessionStore(),
		stateMachine: DefaultStateMachine,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Run implements Loop.
func (l *DefaultLoop) Run(ctx context.Context, session *Session, deps any) (*RunResult, error) {
	if err := l.validateRunInput(session); err != nil {
		slog.Error("Repair loop validation failed", slog.String("error", err.Error()))
		return nil, err
	}

	slog.Info("Repair loop starting",
		slog.String("task_id", session.ID),
		slog.Int("datasets", len(session.Task.Datasets)),
		slog.Int("max_attempts", session.Config.MaxAttempts),
	)

	if !session.TryAcquire() {
		return nil, ErrSessionInProgress
	}
	defer session.Release()

	if err := l.acquireSlot(); err != nil {
		return nil, err
	}
	defer l.releaseSlot()

	l.sessions.Put(session)

	if err := l.transition(session, StatePlan, "task received"); err != nil {
		return nil, err
	}

	return l.runLoop(ctx, session, deps)
}

// Abort implements Loop.
func (l *DefaultLoop) Abort(sessionID string) error {
	session, ok := l.sessions.Get(sessionID)
	if !ok {
		return ErrSessionNotFound
	}
	if session.GetState().IsTerminal() {
		return nil
	}

	session.SetState(StateError)
	session.AddHistoryEntry(HistoryEntry{
		Type:  "abort",
		Error: "task aborted by caller",
	})
	return nil
}

// GetState implements Loop.
func (l *DefaultLoop) GetState(sessionID string) (TaskState, error) {
	session, ok := l.sessions.Get(sessionID)
	if !ok {
		return "", ErrSessionNotFound
	}
	return session.GetState(), nil
}

// CloseSession implements Loop.
func (l *DefaultLoop) CloseSession(sessionID string) error {
	if _, ok := l.sessions.Get(sessionID); !ok {
		return ErrSessionNotFound
	}
	l.sessions.Delete(sessionID)
	return nil
}

// validateRunInput validates inputs for Run.
func (l *DefaultLoop) validateRunInput(session *Session) error {
	if session == nil || session.Task == nil {
		return ErrInvalidSession
	}
	if session.Task.Question == "" {
		return ErrEmptyQuestion
	}
	if len(session.Task.Datasets) == 0 && !session.Task.DataFree {
		return ErrNoDatasets
	}
	if session.GetState() != StateIdle {
		return ErrInvalidTransition
	}
	if l.phaseRegistry == nil {
		return fmt.Errorf("phase registry not configured")
	}
	return nil
}

// acquireSlot reserves a concurrent session slot.
func (l *DefaultLoop) acquireSlot() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.maxConcurrent > 0 && l.active >= l.maxConcurrent {
		return fmt.Errorf("maximum concurrent tasks reached (%d)", l.maxConcurrent)
	}
	l.active++
	return nil
}

// releaseSlot releases a concurrent session slot.
func (l *DefaultLoop) releaseSlot() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.active--
}

// transition applies a validated state transition and records it.
func (l *DefaultLoop) transition(session *Session, to TaskState, reason string) error {
	from := session.GetState()

	slog.Debug("State transition",
		slog.String("task_id", session.ID),
		slog.String("from", string(from)),
		slog.String("to", string(to)),
		slog.String("reason", reason),
	)

	if err := l.stateMachine.Transition(session, to); err != nil {
		slog.Error("State transition rejected",
			slog.String("task_id", session.ID),
			slog.String("from", string(from)),
			slog.String("to", string(to)),
		)
		return fmt.Errorf("%w: %s -> %s", err, from, to)
	}

	session.AddHistoryEntry(HistoryEntry{
		Type:  "state_transition",
		State: to,
		Input: fmt.Sprintf("%s -> %s: %s", from, to, reason),
	})
	return nil
}

// runLoop executes the state machine until a terminal state.
func (l *DefaultLoop) runLoop(ctx context.Context, session *Session, deps any) (*RunResult, error) {
	startTime := time.Now()

	for {
		if err := ctx.Err(); err != nil {
			session.AddHistoryEntry(HistoryEntry{
				Type:  "context_cancelled",
				Input: err.Error(),
				Error: ErrCanceled.Error(),
			})
			session.SetState(StateError)
			return l.buildErrorResult(session, ErrCanceled), nil
		}

		if session.Config.TotalTimeout > 0 && time.Since(startTime) > session.Config.TotalTimeout {
			session.AddHistoryEntry(HistoryEntry{
				Type:  "timeout",
				Input: fmt.Sprintf("exceeded %v", session.Config.TotalTimeout),
				Error: ErrTimeout.Error(),
			})
			session.SetState(StateError)
			return l.buildErrorResult(session, ErrTimeout), nil
		}

		currentState := session.GetState()
		if currentState.IsTerminal() {
			return l.buildResult(session), nil
		}

		nextState, err := l.executePhase(ctx, session, deps)
		if err != nil {
			session.AddHistoryEntry(HistoryEntry{
				Type:  "phase_error",
				Input: fmt.Sprintf("phase %s failed", currentState),
				Error: err.Error(),
			})
			session.SetState(StateError)
			return l.buildErrorResult(session, err), nil
		}

		if nextState != currentState {
			if err := l.transition(session, nextState, "phase completed"); err != nil {
				session.SetState(StateError)
				return l.buildErrorResult(session, err), nil
			}
			continue
		}

		// A self-transition (GENERATE retry after a generation error)
		// still needs a history record so the attempt is auditable.
		session.AddHistoryEntry(HistoryEntry{
			Type:  "state_retry",
			State: currentState,
			Input: string(currentState),
		})
	}
}

// executePhase runs the phase registered for the current state.
func (l *DefaultLoop) executePhase(ctx context.Context, session *Session, deps any) (TaskState, error) {
	currentState := session.GetState()

	phase, ok := l.phaseRegistry.GetPhase(currentState)
	if !ok || phase == nil {
		return StateError, fmt.Errorf("no phase registered for state %s", currentState)
	}

	slog.Debug("Executing phase",
		slog.String("task_id", session.ID),
		slog.String("phase", phase.Name()),
	)

	nextState, err := phase.Execute(ctx, deps)
	if err != nil {
		slog.Error("Phase execution failed",
			slog.String("task_id", session.ID),
			slog.String("phase", phase.Name()),
			slog.String("error", err.Error()),
		)
		return StateError, err
	}

	slog.Debug("Phase completed",
		slog.String("task_id", session.ID),
		slog.String("phase", phase.Name()),
		slog.String("next_state", string(nextState)),
	)
	return nextState, nil
}

// buildResult creates the RunResult for a terminal session.
func (l *DefaultLoop) buildResult(session *Session) *RunResult {
	result := &RunResult{
		State:    session.GetState(),
		Attempts: session.Repair().Attempt,
		Metrics:  session.Metrics(),
	}

	if result.State != StateComplete {
		return result
	}

	if msg := session.Fallback(); msg != "" {
		result.FallbackMessage = msg
		return result
	}

	result.Narrative = session.Narrative()
	if outcome := session.Outcome(); outcome != nil {
		if success, ok := outcome.(*sandbox.Success); ok {
			result.Report = success.Report
			result.Visualization = success.Visualization
		}
	}
	return result
}

// buildErrorResult creates the RunResult for a failed run.
func (l *DefaultLoop) buildErrorResult(session *Session, err error) *RunResult {
	return &RunResult{
		State:    StateError,
		Attempts: session.Repair().Attempt,
		Metrics:  session.Metrics(),
		Error: &TaskError{
			Code:    "TASK_FAILED",
			Message: err.Error(),
		},
	}
}

// =============================================================================
// In-memory session store
// =============================================================================

// InMemorySessionStore is a map-backed session store.
//
// Thread Safety: InMemorySessionStore is safe for concurrent use.
type InMemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewInMemorySessionStore creates an empty store.
func NewInMemorySessionStore() *InMemorySessionStore {
	return &InMemorySessionStore{sessions: make(map[string]*Session)}
}

// Get implements SessionStore.
func (s *InMemorySessionStore) Get(id string) (*Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[id]
	return session, ok
}

// Put implements SessionStore.
func (s *InMemorySessionStore) Put(session *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.ID] = session
}

// Delete implements SessionStore.
func (s *InMemorySessionStore) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
}

// List implements SessionStore. IDs are sorted for determinism.
func (s *InMemorySessionStore) List() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
