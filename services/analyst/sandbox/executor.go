// Copyright (C) 2026 Driftwood AI
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package sandbox

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
)

// Designated variable names extracted from a successful run.
const (
	// ReportVariable holds the structured analysis report: a list of
	// strings or dicts.
	ReportVariable = "analysis_report"

	// VisualizationVariable holds a renderable payload: a dict with
	// "format" and "data" string entries.
	VisualizationVariable = "visualization"
)

// sourceFilename is the synthetic filename attached to error positions.
const sourceFilename = "analysis.star"

// Executor runs generated Starlark code against a variable environment.
//
// Description:
//
//	Each run is hermetic: the code sees exactly the environment
//	variables plus the resolved capability modules, nothing else. No
//	filesystem, network, or process access is reachable from inside the
//	interpreter. Runs are transactional with respect to the environment.
//
// Thread Safety: Executor is safe for concurrent use; each run gets its
// own interpreter thread.
type Executor struct {
	registry *CapabilityRegistry
	timeout  time.Duration
	options  *syntax.FileOptions
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithExecutionTimeout bounds each run. Zero disables the bound.
func WithExecutionTimeout(d time.Duration) ExecutorOption {
	return func(e *Executor) {
		e.timeout = d
	}
}

// NewExecutor creates an executor backed by the given capability registry.
//
// The interpreter dialect is permissive: sets, while loops, top-level
// control flow, global reassignment, and recursion are all enabled so
// synthesized code reads like ordinary scripting code.
func NewExecutor(registry *CapabilityRegistry, opts ...ExecutorOption) *Executor {
	e := &Executor{
		registry: registry,
		options: &syntax.FileOptions{
			Set:             true,
			While:           true,
			TopLevelControl: true,
			GlobalReassign:  true,
			Recursion:       true,
		},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs one source unit against the environment.
//
// Description:
//
//	Resolves the requested capabilities, merges them with the
//	environment into the predeclared scope, and executes the source. On
//	success the outcome carries a new environment: the input environment
//	plus the run's transferable global variables, with the designated
//	report and visualization variables extracted rather than persisted.
//	On any failure (parse error, runtime error, timeout) the input
//	environment is untouched.
//
// Inputs:
//
//	ctx - Context for cancellation; a run past its budget is cancelled.
//	source - The Starlark source to execute.
//	env - The variable environment visible to the code.
//	capabilities - Capability identifiers to resolve and expose.
//
// Outputs:
//
//	ExecutionOutcome - *Success or *Failure.
func (e *Executor) Execute(ctx context.Context, source string, env Environment, capabilities []string) ExecutionOutcome {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	predeclared := e.registry.Resolve(capabilities)
	for name, value := range env {
		if _, clash := predeclared[name]; clash {
			slog.Warn("Environment variable shadows capability",
				slog.String("name", name),
			)
		}
		value.Freeze()
		predeclared[name] = value
	}

	thread := &starlark.Thread{
		Name: sourceFilename,
		Print: func(_ *starlark.Thread, msg string) {
			slog.Debug("Sandbox print", slog.String("output", msg))
		},
	}

	// Watchdog: cancel the interpreter when the context expires. The
	// done channel keeps the goroutine from outliving the run.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			thread.Cancel("time budget exceeded")
		case <-done:
		}
	}()

	start := time.Now()
	globals, err := starlark.ExecFileOptions(e.options, thread, sourceFilename, source, predeclared)
	elapsed := time.Since(start)

	if err != nil {
		return e.failureFor(ctx, err, source, elapsed)
	}

	globals.Freeze()

	slog.Debug("Sandbox run succeeded",
		slog.Duration("elapsed", elapsed),
		slog.Int("globals", len(globals)),
	)

	return &Success{
		Report:        extractReport(globals[ReportVariable]),
		Visualization: extractVisualization(globals[VisualizationVariable]),
		Env:           foldGlobals(env, globals, predeclared),
	}
}

// failureFor classifies an execution error into a Failure outcome.
func (e *Executor) failureFor(ctx context.Context, err error, source string, elapsed time.Duration) *Failure {
	timeout := errors.Is(ctx.Err(), context.DeadlineExceeded)

	msg := err.Error()
	var evalErr *starlark.EvalError
	if errors.As(err, &evalErr) {
		// The backtrace includes positions, which is exactly what the
		// next synthesis call needs to repair the code.
		msg = evalErr.Backtrace()
	}

	slog.Debug("Sandbox run failed",
		slog.Duration("elapsed", elapsed),
		slog.Bool("timeout", timeout),
		slog.String("error", err.Error()),
	)

	return &Failure{
		Error:       msg,
		FailingCode: source,
		Timeout:     timeout,
	}
}

// foldGlobals builds the post-run environment: the prior environment
// plus the run's transferable globals, minus capability modules and the
// designated output variables.
func foldGlobals(env Environment, globals starlark.StringDict, predeclared starlark.StringDict) Environment {
	next := env.Clone()
	for name, value := range globals {
		if name == ReportVariable || name == VisualizationVariable {
			continue
		}
		if !Transferable(value) {
			slog.Debug("Dropping non-transferable variable",
				slog.String("name", name),
				slog.String("type", value.Type()),
			)
			continue
		}
		next[name] = value
	}
	// GlobalReassign lets code rebind predeclared capability names;
	// those rebindings must not persist as data.
	for name := range next {
		if module, ok := predeclared[name]; ok && !Transferable(module) {
			if next[name] == module {
				delete(next, name)
			}
		}
	}
	return next
}

// extractReport converts the designated report variable into a Report.
// Unrecognized shapes degrade to their string form rather than failing
// an otherwise successful run.
func extractReport(v starlark.Value) Report {
	if v == nil || v == starlark.None {
		return nil
	}

	list, ok := v.(*starlark.List)
	if !ok {
		return Report{{Text: v.String()}}
	}

	report := make(Report, 0, list.Len())
	for i := 0; i < list.Len(); i++ {
		switch item := list.Index(i).(type) {
		case starlark.String:
			report = append(report, StepRecord{Text: string(item)})

		case *starlark.Dict:
			record := StepRecord{Fields: make(map[string]any, item.Len())}
			for _, kv := range item.Items() {
				key, ok := starlark.AsString(kv[0])
				if !ok {
					key = kv[0].String()
				}
				if key == "text" {
					if text, ok := starlark.AsString(kv[1]); ok {
						record.Text = text
						continue
					}
				}
				record.Fields[key] = ToGo(kv[1])
			}
			if len(record.Fields) == 0 {
				record.Fields = nil
			}
			report = append(report, record)

		default:
			report = append(report, StepRecord{Text: item.String()})
		}
	}
	return report
}

// extractVisualization converts the designated visualization variable,
// returning nil when absent or malformed.
func extractVisualization(v starlark.Value) *Visualization {
	dict, ok := v.(*starlark.Dict)
	if !ok {
		return nil
	}

	format, _, _ := dict.Get(starlark.String("format"))
	data, _, _ := dict.Get(starlark.String("data"))

	formatStr, ok := starlark.AsString(format)
	if !ok {
		return nil
	}
	dataStr, ok := starlark.AsString(data)
	if !ok || dataStr == "" {
		return nil
	}
	return &Visualization{Format: formatStr, Data: dataStr}
}
