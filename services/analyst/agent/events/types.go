// Copyright (C) 2026 Driftwood AI
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package events provides event types and broadcasting for the repair
// loop.
//
// Events let transports and metrics observe task progress without
// coupling to the engine. User-visible events never carry internal error
// text: failed attempts are reported by reason tag only, and the raw
// error stays in logs and the repair context.
//
// Thread Safety:
//
//	All types in this package are designed for concurrent use.
package events

import (
	"github.com/driftwood-ai/analyst/services/analyst/agent"
)

// Type identifies the kind of event.
type Type string

const (
	// TypeTaskStart is emitted when a task enters the loop.
	TypeTaskStart Type = "task_start"

	// TypeTaskEnd is emitted when a task reaches a terminal state.
	TypeTaskEnd Type = "task_end"

	// TypeStateTransition is emitted on every state change.
	TypeStateTransition Type = "state_transition"

	// TypePlanReady is emitted when the action plan is available.
	TypePlanReady Type = "plan_ready"

	// TypeAttemptStarted is emitted when a synthesis attempt begins.
	TypeAttemptStarted Type = "attempt_started"

	// TypeAttemptFailed is emitted when an attempt fails. The payload
	// carries a reason tag, never the raw error.
	TypeAttemptFailed Type = "attempt_failed"

	// TypeVisualizationReady is emitted before any narrative text when a
	// successful run produced a renderable payload.
	TypeVisualizationReady Type = "visualization_ready"

	// TypeNarrativeChunk is emitted for each streamed narrative fragment.
	TypeNarrativeChunk Type = "narrative_chunk"

	// TypeFallbackMessage is emitted when the task exhausts its attempts
	// and responds with the fallback message.
	TypeFallbackMessage Type = "fallback_message"

	// TypeError is emitted when a task fails outside the repair loop
	// (cancellation, timeout, internal error).
	TypeError Type = "error"
)

// Failure reason tags for TypeAttemptFailed payloads.
const (
	// ReasonExecutionError marks a runtime or parse error in the sandbox.
	ReasonExecutionError = "execution_error"

	// ReasonTimeout marks an attempt cancelled for exceeding its budget.
	ReasonTimeout = "timeout"

	// ReasonGenerationError marks an upstream synthesis failure that
	// consumed the attempt without reaching the sandbox.
	ReasonGenerationError = "generation_error"
)

// Event represents one observable step of a task.
//
// Thread Safety: Event structs are immutable after creation.
type Event struct {
	// ID is a unique identifier for this event.
	ID string `json:"id"`

	// Type identifies the kind of event.
	Type Type `json:"type"`

	// TaskID links the event to a task.
	TaskID string `json:"task_id"`

	// Timestamp is when the event occurred (Unix milliseconds UTC).
	Timestamp int64 `json:"timestamp"`

	// Attempt is the attempt counter when this event occurred.
	Attempt int `json:"attempt"`

	// Data contains event-specific data: one of the typed data structs
	// in this file.
	Data any `json:"data,omitempty"`
}

// TaskStartData is the data for task start events.
type TaskStartData struct {
	// Question is the user's question.
	Question string `json:"question"`

	// Datasets names the datasets visible to the task.
	Datasets []string `json:"datasets,omitempty"`
}

// TaskEndData is the data for task end events.
type TaskEndData struct {
	// State is the terminal state.
	State agent.TaskState `json:"state"`

	// Attempts is the number of failed attempts consumed.
	Attempts int `json:"attempts"`
}

// StateTransitionData is the data for state transition events.
type StateTransitionData struct {
	// FromState is the previous state.
	FromState agent.TaskState `json:"from_state"`

	// ToState is the new state.
	ToState agent.TaskState `json:"to_state"`

	// Reason explains why the transition occurred.
	Reason string `json:"reason,omitempty"`
}

// PlanReadyData is the data for plan ready events.
type PlanReadyData struct {
	// Plan is the action plan text.
	Plan string `json:"plan"`
}

// AttemptStartedData is the data for attempt started events.
type AttemptStartedData struct {
	// Attempt is the 0-indexed attempt number.
	Attempt int `json:"attempt"`

	// MaxAttempts is the retry bound.
	MaxAttempts int `json:"max_attempts"`

	// Repair is true when this attempt repairs a prior failure.
	Repair bool `json:"repair"`
}

// AttemptFailedData is the data for attempt failed events.
//
// Reason is a tag from the Reason* constants. The raw error never
// appears here; it is logged and fed back into synthesis only.
type AttemptFailedData struct {
	// Attempt is the 0-indexed attempt that failed.
	Attempt int `json:"attempt"`

	// Reason tags the failure kind.
	Reason string `json:"reason"`

	// Exhausted is true when this failure spent the retry budget.
	Exhausted bool `json:"exhausted"`
}

// VisualizationReadyData is the data for visualization ready events.
type VisualizationReadyData struct {
	// Format identifies the payload encoding.
	Format string `json:"format"`

	// Data is the renderable payload.
	Data string `json:"data"`
}

// NarrativeChunkData is the data for narrative chunk events.
type NarrativeChunkData struct {
	// Text is the narrative fragment, in stream order.
	Text string `json:"text"`

	// Final marks the last chunk of the narrative.
	Final bool `json:"final"`
}

// FallbackMessageData is the data for fallback message events.
type FallbackMessageData struct {
	// Message is the user-facing fallback text.
	Message string `json:"message"`
}

// ErrorData is the data for error events.
type ErrorData struct {
	// Code is a machine-readable error code.
	Code string `json:"code"`

	// Message is a human-readable error message.
	Message string `json:"message"`
}
