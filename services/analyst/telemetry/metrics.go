// Copyright (C) 2026 Driftwood AI
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package telemetry provides Prometheus metrics and OpenTelemetry
// tracing for the engine.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the engine's Prometheus collectors.
//
// Thread Safety: Metrics is safe for concurrent use.
type Metrics struct {
	// TasksTotal counts finished tasks by result: "success",
	// "fallback", or "error".
	TasksTotal *prometheus.CounterVec

	// AttemptsTotal counts execution attempts by outcome: "success",
	// "execution_error", "timeout", or "generation_error".
	AttemptsTotal *prometheus.CounterVec

	// ExecutionDuration observes sandbox run durations in seconds.
	ExecutionDuration prometheus.Histogram

	// LLMCallDuration observes model call durations in seconds, by
	// purpose: "plan", "synthesize", "narrate", or "fallback".
	LLMCallDuration *prometheus.HistogramVec
}

// NewMetrics creates the collector set.
func NewMetrics() *Metrics {
	return &Metrics{
		TasksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "analyst",
			Name:      "tasks_total",
			Help:      "Finished tasks by result.",
		}, []string{"result"}),

		AttemptsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "analyst",
			Name:      "attempts_total",
			Help:      "Execution attempts by outcome.",
		}, []string{"outcome"}),

		ExecutionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "analyst",
			Name:      "execution_duration_seconds",
			Help:      "Sandbox run duration.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}),

		LLMCallDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "analyst",
			Name:      "llm_call_duration_seconds",
			Help:      "Model call duration by purpose.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
		}, []string{"purpose"}),
	}
}

// Register registers all collectors with the given registerer.
//
// Outputs:
//
//	error - Non-nil if any collector is already registered.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{
		m.TasksTotal,
		m.AttemptsTotal,
		m.ExecutionDuration,
		m.LLMCallDuration,
	} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// NopMetrics returns an unregistered collector set. Observations are
// recorded but never exported; useful when metrics are disabled.
func NopMetrics() *Metrics {
	return NewMetrics()
}
