// Copyright (C) 2026 Driftwood AI
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package sandbox

// StepRecord is one entry of the structured analysis report produced by
// executed code.
type StepRecord struct {
	// Text is the human-readable description of the step.
	Text string `json:"text"`

	// Fields holds optional structured values attached to the step.
	Fields map[string]any `json:"fields,omitempty"`
}

// Report is the ordered list of step records a successful run produced.
// An empty report is valid; success does not require one.
type Report []StepRecord

// Visualization is a renderable payload produced by executed code.
type Visualization struct {
	// Format identifies the payload encoding (e.g. "svg", "png-base64").
	Format string `json:"format"`

	// Data is the payload itself.
	Data string `json:"data"`
}

// ExecutionOutcome is the result of one sandbox run. It is a closed sum:
// the only implementations are Success and Failure.
type ExecutionOutcome interface {
	// Succeeded reports whether the run completed without error.
	Succeeded() bool

	sealed()
}

// Success is the outcome of a run that completed without error.
type Success struct {
	// Report is the structured report extracted from the run, possibly
	// empty.
	Report Report `json:"report,omitempty"`

	// Visualization is the extracted renderable payload, or nil.
	Visualization *Visualization `json:"visualization,omitempty"`

	// Env is the post-run environment: the prior environment with the
	// run's transferable result variables folded in.
	Env Environment `json:"-"`
}

// Succeeded implements ExecutionOutcome.
func (*Success) Succeeded() bool { return true }

func (*Success) sealed() {}

// Failure is the outcome of a run that raised an error or exceeded its
// time budget. The environment is untouched on failure.
type Failure struct {
	// Error is the captured error description, including position
	// information when available.
	Error string `json:"error"`

	// FailingCode is the exact source that failed.
	FailingCode string `json:"failing_code"`

	// Timeout marks a run cancelled for exceeding its time budget.
	Timeout bool `json:"timeout,omitempty"`
}

// Succeeded implements ExecutionOutcome.
func (*Failure) Succeeded() bool { return false }

func (*Failure) sealed() {}
