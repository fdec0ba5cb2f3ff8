// Copyright (C) 2026 Driftwood AI
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// tracerName scopes spans created by this module.
const tracerName = "github.com/driftwood-ai/analyst"

// InitTracing installs the global tracer provider.
//
// Description:
//
//	When stdout export is enabled, spans are pretty-printed to stdout;
//	otherwise a provider with no exporter is installed so span creation
//	stays cheap and valid.
//
// Inputs:
//
//	stdoutExport - Write spans to stdout.
//
// Outputs:
//
//	func(context.Context) error - Shutdown function, flushes exporters.
//	error - Non-nil if the exporter cannot be constructed.
func InitTracing(stdoutExport bool) (func(context.Context) error, error) {
	var opts []sdktrace.TracerProviderOption

	if stdoutExport {
		exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("creating stdout trace exporter: %w", err)
		}
		opts = append(opts, sdktrace.WithBatcher(exporter))
	}

	provider := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(provider)
	return provider.Shutdown, nil
}

// Tracer returns the module tracer.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a span on the module tracer.
func StartSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name)
}
