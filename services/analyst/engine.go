// Copyright (C) 2026 Driftwood AI
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package analyst wires the configuration, model backend, sandbox, and
// repair loop into a runnable engine.
package analyst

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/driftwood-ai/analyst/services/analyst/agent"
	"github.com/driftwood-ai/analyst/services/analyst/agent/events"
	"github.com/driftwood-ai/analyst/services/analyst/agent/phases"
	"github.com/driftwood-ai/analyst/services/analyst/config"
	"github.com/driftwood-ai/analyst/services/analyst/dataset"
	"github.com/driftwood-ai/analyst/services/analyst/llm"
	"github.com/driftwood-ai/analyst/services/analyst/sandbox"
	"github.com/driftwood-ai/analyst/services/analyst/telemetry"
)

// Engine runs analysis tasks end to end.
//
// Thread Safety: Engine is safe for concurrent use; each Run gets its
// own session and emitter.
type Engine struct {
	cfg      *config.Config
	client   llm.Client
	caps     *sandbox.CapabilityRegistry
	executor *sandbox.Executor
	registry *phases.Registry
	loop     *agent.DefaultLoop
	metrics  *telemetry.Metrics
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithClient overrides the model backend built from configuration.
func WithClient(client llm.Client) EngineOption {
	return func(e *Engine) {
		e.client = client
	}
}

// WithCapabilityRegistry overrides the default capability registry.
func WithCapabilityRegistry(caps *sandbox.CapabilityRegistry) EngineOption {
	return func(e *Engine) {
		e.caps = caps
	}
}

// NewEngine creates an engine from validated configuration.
//
// Inputs:
//
//	cfg - The configuration (see config.Load).
//	opts - Optional overrides.
//
// Outputs:
//
//	*Engine - The ready engine.
//	error - Non-nil if the model backend cannot be constructed.
func NewEngine(cfg *config.Config, opts ...EngineOption) (*Engine, error) {
	e := &Engine{
		cfg:  cfg,
		caps: sandbox.NewCapabilityRegistry(),
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.client == nil {
		client, err := buildClient(&cfg.LLM)
		if err != nil {
			return nil, err
		}
		e.client = client
	}

	e.executor = sandbox.NewExecutor(e.caps,
		sandbox.WithExecutionTimeout(cfg.Engine.ExecutionTimeout.Std()))
	e.registry = phases.NewRegistry()
	e.loop = agent.NewDefaultLoop(
		agent.WithPhaseRegistry(e.registry),
		agent.WithMaxConcurrentSessions(cfg.Engine.MaxConcurrentTasks),
	)

	e.metrics = telemetry.NopMetrics()
	if cfg.Telemetry.MetricsEnabled {
		e.metrics = telemetry.NewMetrics()
		if err := e.metrics.Register(prometheus.DefaultRegisterer); err != nil {
			return nil, fmt.Errorf("registering metrics: %w", err)
		}
	}

	slog.Info("Engine ready",
		slog.String("backend", e.client.Name()),
		slog.Int("max_attempts", cfg.Engine.MaxAttempts),
		slog.Any("capabilities", cfg.Capabilities),
	)
	return e, nil
}

// buildClient constructs the configured model backend.
func buildClient(cfg *config.LLMConfig) (llm.Client, error) {
	switch cfg.Provider {
	case "openai":
		opts := []llm.OpenAIOption{llm.WithOpenAIModel(cfg.Model)}
		if cfg.BaseURL != "" {
			opts = append(opts, llm.WithOpenAIBaseURL(cfg.BaseURL))
		}
		return llm.NewOpenAIClient(cfg.APIKey(), opts...)
	case "ollama":
		return llm.NewOllamaClient(cfg.BaseURL, cfg.Model)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}

// Capabilities returns the capability identifiers available to tasks:
// the configured list is the task-facing allow-list, the registry is
// what actually resolves.
func (e *Engine) Capabilities() []string {
	return e.caps.Names()
}

// Run processes one question against the given datasets.
//
// Inputs:
//
//	ctx - Context for cancellation.
//	question - The user's natural-language question.
//	datasets - Loaded datasets, possibly empty.
//	handler - Optional event handler for progress and streaming output.
//
// Outputs:
//
//	*agent.RunResult - The terminal result.
//	error - Non-nil if the task could not be started.
func (e *Engine) Run(ctx context.Context, question string, datasets []*dataset.Dataset, handler events.Handler) (*agent.RunResult, error) {
	env := sandbox.Environment{}
	descriptors := make([]agent.DatasetDescriptor, 0, len(datasets))
	for _, ds := range datasets {
		env[ds.Name] = ds.Value
		descriptors = append(descriptors, agent.DatasetDescriptor{
			Name:    ds.Name,
			Summary: ds.Summary(),
		})
	}

	task := agent.NewTask(question, descriptors, e.cfg.Capabilities)
	session := agent.NewSession(task, env, agent.SessionConfig{
		MaxAttempts:      e.cfg.Engine.MaxAttempts,
		ExecutionTimeout: e.cfg.Engine.ExecutionTimeout.Std(),
		TotalTimeout:     e.cfg.Engine.TotalTimeout.Std(),
	})

	emitter := events.NewEmitter(events.WithTaskID(task.ID))
	if handler != nil {
		emitter.Subscribe(handler)
	}

	deps := &phases.Dependencies{
		Session:  session,
		LLM:      e.client,
		Params:   llm.GenerationParams{Temperature: e.cfg.LLM.Temperature},
		Executor: e.executor,
		Emitter:  emitter,
		Metrics:  e.metrics,
	}

	ctx, span := telemetry.StartSpan(ctx, "analyst.run")
	defer span.End()

	result, err := e.loop.Run(ctx, session, deps)
	if err != nil {
		return nil, err
	}
	defer func() {
		if closeErr := e.loop.CloseSession(session.ID); closeErr != nil {
			slog.Debug("Closing session", slog.String("error", closeErr.Error()))
		}
	}()

	if result.State == agent.StateError && result.Error != nil {
		e.metrics.TasksTotal.WithLabelValues("error").Inc()
		emitter.Emit(events.TypeError, &events.ErrorData{
			Code:    result.Error.Code,
			Message: result.Error.Message,
		})
	}
	return result, nil
}

// RunAll processes several questions concurrently against the same
// datasets.
//
// Description:
//
//	Tasks are independent: each gets its own session and environment
//	view, so a failure in one never affects another. Concurrency is
//	bounded by the configured task limit. The first start-up error
//	cancels the remaining tasks; per-task analysis failures are
//	reported in their results, not as errors.
//
// Outputs:
//
//	[]*agent.RunResult - Results in question order.
//	error - Non-nil if any task failed to start.
func (e *Engine) RunAll(ctx context.Context, questions []string, datasets []*dataset.Dataset, handler events.Handler) ([]*agent.RunResult, error) {
	results := make([]*agent.RunResult, len(questions))

	g, ctx := errgroup.WithContext(ctx)
	if e.cfg.Engine.MaxConcurrentTasks > 0 {
		g.SetLimit(e.cfg.Engine.MaxConcurrentTasks)
	}

	for i, question := range questions {
		g.Go(func() error {
			result, err := e.Run(ctx, question, datasets, handler)
			if err != nil {
				return fmt.Errorf("task %d: %w", i, err)
			}
			results[i] = result
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
