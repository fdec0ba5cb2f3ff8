// Copyright (C) 2026 Driftwood AI
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package agent implements the repair-loop engine that turns a natural
// language question about in-memory datasets into executed analysis code.
//
// The engine is a state machine: a task is planned once, then code is
// synthesized and executed in a bounded repair loop. Each failed execution
// feeds its error back into the next synthesis call. When the attempt
// budget is exhausted the task routes to a graceful fallback instead of
// surfacing internal errors.
//
// Thread Safety:
//
//	Sessions are owned by exactly one running task. The loop, registry,
//	and session store are safe for concurrent use across sessions.
package agent

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/driftwood-ai/analyst/services/analyst/sandbox"
)

// =============================================================================
// States
// =============================================================================

// TaskState identifies a state of the task state machine. States are
// immutable strings; invalid transitions return ErrInvalidTransition.
type TaskState string

const (
	// StateIdle is the initial state before a task is accepted.
	StateIdle TaskState = "IDLE"

	// StatePlan produces the action plan with a single upstream call.
	StatePlan TaskState = "PLAN"

	// StateGenerate synthesizes one code artifact for the current attempt.
	StateGenerate TaskState = "GENERATE"

	// StateExecute runs the current artifact in the sandbox.
	StateExecute TaskState = "EXECUTE"

	// StateRespond finalizes a successful outcome: visualization first
	// when present, narrative always last.
	StateRespond TaskState = "RESPOND"

	// StateFallback produces the user-facing apology after exhaustion.
	StateFallback TaskState = "FALLBACK"

	// StateComplete indicates the task finished and a result is available.
	StateComplete TaskState = "COMPLETE"

	// StateError indicates an unrecoverable error or cancellation.
	StateError TaskState = "ERROR"
)

// String returns the state as a string (e.g. "IDLE", "EXECUTE").
func (s TaskState) String() string {
	return string(s)
}

// IsTerminal returns true for COMPLETE and ERROR.
func (s TaskState) IsTerminal() bool {
	return s == StateComplete || s == StateError
}

// IsActive returns true if the state allows continued execution.
func (s TaskState) IsActive() bool {
	switch s {
	case StatePlan, StateGenerate, StateExecute, StateRespond, StateFallback:
		return true
	default:
		return false
	}
}

// AllStates returns all valid task states.
func AllStates() []TaskState {
	return []TaskState{
		StateIdle,
		StatePlan,
		StateGenerate,
		StateExecute,
		StateRespond,
		StateFallback,
		StateComplete,
		StateError,
	}
}

// =============================================================================
// Task model
// =============================================================================

// DatasetDescriptor names one dataset resident in the environment.
type DatasetDescriptor struct {
	// Name is the environment variable under which the rows are visible.
	Name string `json:"name"`

	// Summary is the human-readable schema description given to the
	// planner and synthesizer.
	Summary string `json:"summary"`
}

// Task is one user request for analysis. Tasks are immutable once created.
type Task struct {
	// ID uniquely identifies the task.
	ID string `json:"id"`

	// Question is the user's natural-language question.
	Question string `json:"question"`

	// Datasets describes the datasets already resident in the
	// environment. Empty only when DataFree is set.
	Datasets []DatasetDescriptor `json:"datasets"`

	// Capabilities is the closed list of library identifiers the
	// generated code may reference.
	Capabilities []string `json:"capabilities"`

	// DataFree marks a task that intentionally has no datasets.
	DataFree bool `json:"data_free,omitempty"`
}

// NewTask creates an immutable task with a fresh ID.
func NewTask(question string, datasets []DatasetDescriptor, capabilities []string) *Task {
	return &Task{
		ID:           uuid.NewString(),
		Question:     question,
		Datasets:     datasets,
		Capabilities: capabilities,
		DataFree:     len(datasets) == 0,
	}
}

// CodeArtifact is one generated, executable source unit for one attempt.
// Artifacts are never mutated, only superseded by the next attempt.
type CodeArtifact struct {
	// ID uniquely identifies the artifact.
	ID string `json:"id"`

	// Attempt is the 0-indexed attempt this artifact belongs to.
	Attempt int `json:"attempt"`

	// Source is the executable code.
	Source string `json:"source"`

	// PlanRef links the artifact back to the action plan it implements.
	PlanRef string `json:"plan_ref"`

	// EnvSnapshot records the environment variable names visible when
	// the artifact was generated.
	EnvSnapshot []string `json:"env_snapshot"`

	// CreatedAt is when the artifact was produced (Unix milliseconds UTC).
	CreatedAt int64 `json:"created_at"`
}

// =============================================================================
// Repair state
// =============================================================================

// FailureContext is the error/code pair fed back into synthesis.
type FailureContext struct {
	// Error is the captured error description.
	Error string `json:"error"`

	// FailingCode is the exact source that failed.
	FailingCode string `json:"failing_code"`
}

// RepairState tracks the bounded retry budget for one task.
//
// Lifecycle: initialized at attempt 0 when the task enters the loop,
// incremented on each failure, and terminal once attempt reaches
// MaxAttempts. The repair loop controller is the sole writer.
type RepairState struct {
	// Attempt is the number of failed attempts so far.
	Attempt int `json:"attempt"`

	// MaxAttempts is the fixed retry bound.
	MaxAttempts int `json:"max_attempts"`

	// LastError is the most recent failure description, empty before
	// the first failure.
	LastError string `json:"last_error,omitempty"`

	// LastCode is the source of the most recent failed artifact.
	LastCode string `json:"last_code,omitempty"`
}

// RecordFailure increments the attempt counter and stores the failure
// context for the next synthesis call.
func (r *RepairState) RecordFailure(errText, code string) {
	r.Attempt++
	r.LastError = errText
	r.LastCode = code
}

// Exhausted reports whether the retry budget is spent.
func (r *RepairState) Exhausted() bool {
	return r.Attempt >= r.MaxAttempts
}

// PriorFailure returns the failure context for the next synthesis call,
// or nil before the first failure.
func (r RepairState) PriorFailure() *FailureContext {
	if r.LastError == "" {
		return nil
	}
	return &FailureContext{Error: r.LastError, FailingCode: r.LastCode}
}

// =============================================================================
// Session
// =============================================================================

// SessionConfig holds per-session limits.
type SessionConfig struct {
	// MaxAttempts bounds the repair loop. Must be a small fixed bound.
	MaxAttempts int

	// ExecutionTimeout bounds one sandbox run. Zero disables the bound.
	ExecutionTimeout time.Duration

	// TotalTimeout bounds the whole task. Zero disables the bound.
	TotalTimeout time.Duration
}

// SessionMetrics counts component invocations for one task.
type SessionMetrics struct {
	// PlannerCalls is the number of planner invocations (at most one).
	PlannerCalls int `json:"planner_calls"`

	// SynthesizerCalls is the number of code synthesis invocations.
	SynthesizerCalls int `json:"synthesizer_calls"`

	// ExecutorCalls is the number of sandbox executions.
	ExecutorCalls int `json:"executor_calls"`

	// FailedAttempts is the number of failed attempts.
	FailedAttempts int `json:"failed_attempts"`
}

// HistoryEntry records a single step in a session's execution history.
type HistoryEntry struct {
	// Type describes what happened (state_transition, attempt_failed, ...).
	Type string `json:"type"`

	// State is the task state at this step.
	State TaskState `json:"state"`

	// Input contains step input, such as a transition description.
	Input string `json:"input,omitempty"`

	// Error contains any error message from this step.
	Error string `json:"error,omitempty"`

	// Timestamp is when the step occurred (Unix milliseconds UTC).
	Timestamp int64 `json:"timestamp"`
}

// Session carries all mutable state for one running task: the current
// state, the action plan, the artifact history, the repair budget, and
// the variable environment.
//
// Thread Safety: Session is safe for concurrent reads, but it is owned
// by exactly one repair loop for the duration of a run. No other
// component mutates it concurrently.
type Session struct {
	// ID is the session identifier (equal to the task ID).
	ID string

	// Task is the immutable task being processed.
	Task *Task

	// Config holds the per-session limits.
	Config SessionConfig

	mu sync.RWMutex

	state     TaskState
	plan      string
	artifacts []*CodeArtifact
	repair    RepairState
	env       sandbox.Environment
	outcome   sandbox.ExecutionOutcome
	narrative string
	fallback  string
	history   []HistoryEntry
	metrics   SessionMetrics
	running   bool

	// CreatedAt is when the session was created (Unix milliseconds UTC).
	CreatedAt int64
}

// NewSession creates a session for a task with the given initial
// environment (the provisioned datasets) and limits.
func NewSession(task *Task, env sandbox.Environment, cfg SessionConfig) *Session {
	if env == nil {
		env = sandbox.Environment{}
	}
	return &Session{
		ID:        task.ID,
		Task:      task,
		Config:    cfg,
		state:     StateIdle,
		env:       env,
		repair:    RepairState{MaxAttempts: cfg.MaxAttempts},
		CreatedAt: time.Now().UnixMilli(),
	}
}

// TryAcquire marks the session as running. Returns false if a run is
// already in progress.
func (s *Session) TryAcquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return false
	}
	s.running = true
	return true
}

// Release marks the session as no longer running.
func (s *Session) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
}

// GetState returns the current task state.
func (s *Session) GetState() TaskState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// SetState sets the task state without validation. Prefer the state
// machine's Transition for normal flow.
func (s *Session) SetState(state TaskState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
}

// SetPlan stores the immutable action plan.
func (s *Session) SetPlan(plan string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.plan = plan
}

// Plan returns the action plan, empty before planning completes.
func (s *Session) Plan() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.plan
}

// NewArtifact records a new code artifact for the current attempt and
// returns it.
func (s *Session) NewArtifact(source string) *CodeArtifact {
	s.mu.Lock()
	defer s.mu.Unlock()

	a := &CodeArtifact{
		ID:          uuid.NewString(),
		Attempt:     s.repair.Attempt,
		Source:      source,
		PlanRef:     s.ID,
		EnvSnapshot: s.env.Names(),
		CreatedAt:   time.Now().UnixMilli(),
	}
	s.artifacts = append(s.artifacts, a)
	return a
}

// CurrentArtifact returns the most recent artifact, or nil.
func (s *Session) CurrentArtifact() *CodeArtifact {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.artifacts) == 0 {
		return nil
	}
	return s.artifacts[len(s.artifacts)-1]
}

// Artifacts returns the artifact history in generation order.
func (s *Session) Artifacts() []*CodeArtifact {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*CodeArtifact, len(s.artifacts))
	copy(out, s.artifacts)
	return out
}

// Repair returns a copy of the repair state.
func (s *Session) Repair() RepairState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.repair
}

// RecordFailure folds one failed attempt into the repair state and
// returns the updated copy.
func (s *Session) RecordFailure(errText, code string) RepairState {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.repair.RecordFailure(errText, code)
	s.metrics.FailedAttempts++
	return s.repair
}

// Environment returns the current variable environment. The returned
// value must be treated as read-only; the executor replaces it wholesale.
func (s *Session) Environment() sandbox.Environment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.env
}

// ReplaceEnvironment swaps in the environment produced by a successful
// execution.
func (s *Session) ReplaceEnvironment(env sandbox.Environment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.env = env
}

// SetOutcome stores the latest execution outcome.
func (s *Session) SetOutcome(outcome sandbox.ExecutionOutcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcome = outcome
}

// Outcome returns the latest execution outcome, or nil.
func (s *Session) Outcome() sandbox.ExecutionOutcome {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.outcome
}

// SetNarrative stores the finalized narrative text.
func (s *Session) SetNarrative(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.narrative = text
}

// Narrative returns the finalized narrative text.
func (s *Session) Narrative() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.narrative
}

// SetFallback stores the user-facing fallback message.
func (s *Session) SetFallback(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fallback = text
}

// Fallback returns the user-facing fallback message.
func (s *Session) Fallback() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fallback
}

// AddHistoryEntry appends an entry to the session history.
func (s *Session) AddHistoryEntry(entry HistoryEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry.Timestamp == 0 {
		entry.Timestamp = time.Now().UnixMilli()
	}
	if entry.State == "" {
		entry.State = s.state
	}
	s.history = append(s.history, entry)
}

// History returns a copy of the session history.
func (s *Session) History() []HistoryEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]HistoryEntry, len(s.history))
	copy(out, s.history)
	return out
}

// IncrementPlannerCalls bumps the planner invocation count.
func (s *Session) IncrementPlannerCalls() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics.PlannerCalls++
}

// IncrementSynthesizerCalls bumps the synthesizer invocation count.
func (s *Session) IncrementSynthesizerCalls() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics.SynthesizerCalls++
}

// IncrementExecutorCalls bumps the executor invocation count.
func (s *Session) IncrementExecutorCalls() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics.ExecutorCalls++
}

// Metrics returns a copy of the session metrics.
func (s *Session) Metrics() SessionMetrics {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.metrics
}

// =============================================================================
// Results and errors
// =============================================================================

// RunResult contains the outcome of one Run call.
type RunResult struct {
	// State is the terminal task state.
	State TaskState `json:"state"`

	// Narrative is the user-facing explanation (COMPLETE via RESPOND).
	Narrative string `json:"narrative,omitempty"`

	// Report is the structured step report from the successful run.
	Report sandbox.Report `json:"report,omitempty"`

	// Visualization is the renderable payload, when one was produced.
	Visualization *sandbox.Visualization `json:"visualization,omitempty"`

	// FallbackMessage is the apology/reword message (COMPLETE via FALLBACK).
	FallbackMessage string `json:"fallback_message,omitempty"`

	// Attempts is the number of failed attempts consumed.
	Attempts int `json:"attempts"`

	// Metrics counts component invocations.
	Metrics SessionMetrics `json:"metrics"`

	// Error contains error details (ERROR state only).
	Error *TaskError `json:"error,omitempty"`
}

// Exhausted reports whether the task ended through the fallback path.
func (r *RunResult) Exhausted() bool {
	return r.FallbackMessage != ""
}

// TaskError carries structured error information for the ERROR state.
// It implements the error interface.
type TaskError struct {
	// Code is a machine-readable error code.
	Code string `json:"code"`

	// Message is a human-readable error message.
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *TaskError) Error() string {
	if e.Code != "" {
		return e.Code + ": " + e.Message
	}
	return e.Message
}

// Sentinel errors returned by the loop and state machine.
var (
	// ErrInvalidTransition indicates a disallowed state transition.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrSessionNotFound indicates an unknown session ID.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionInProgress indicates the session is already running.
	ErrSessionInProgress = errors.New("session already in progress")

	// ErrInvalidSession indicates a nil or malformed session.
	ErrInvalidSession = errors.New("invalid session")

	// ErrEmptyQuestion indicates a task without a question.
	ErrEmptyQuestion = errors.New("question is empty")

	// ErrNoDatasets indicates a task with neither datasets nor the
	// data-free marker.
	ErrNoDatasets = errors.New("task has no datasets and is not data-free")

	// ErrCanceled indicates the task context was cancelled.
	ErrCanceled = errors.New("task cancelled")

	// ErrTimeout indicates the total task timeout was exceeded.
	ErrTimeout = errors.New("task timeout exceeded")
)
