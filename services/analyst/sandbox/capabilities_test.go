// Copyright (C) 2026 Driftwood AI
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package sandbox

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCapabilityRegistry_Names(t *testing.T) {
	registry := NewCapabilityRegistry()
	assert.Equal(t, []string{"json", "math", "stats", "table", "time"}, registry.Names())
}

func TestCapabilityRegistry_ResolveSkipsUnknown(t *testing.T) {
	registry := NewCapabilityRegistry()

	resolved := registry.Resolve([]string{"math", "pandas", "stats"})
	assert.Len(t, resolved, 2)
	assert.Contains(t, resolved, "math")
	assert.Contains(t, resolved, "stats")
	assert.NotContains(t, resolved, "pandas")
}

// runForReport executes source with all capabilities and returns the
// report of the successful run.
func runForReport(t *testing.T, source string) Report {
	t.Helper()
	executor := NewExecutor(NewCapabilityRegistry())
	outcome := executor.Execute(context.Background(), source, Environment{},
		[]string{"math", "time", "json", "stats", "table"})
	success, ok := outcome.(*Success)
	require.True(t, ok, "expected success, got %#v", outcome)
	return success.Report
}

func TestStatsModule(t *testing.T) {
	report := runForReport(t, `
values = [4.0, 1.0, 3.0, 2.0]
analysis_report = [{
    "text": "descriptives",
    "sum": stats.sum(values),
    "mean": stats.mean(values),
    "median": stats.median(values),
    "p50": stats.percentile(values, 50),
}]
`)
	require.Len(t, report, 1)
	fields := report[0].Fields
	assert.Equal(t, 10.0, fields["sum"])
	assert.Equal(t, 2.5, fields["mean"])
	assert.Equal(t, 2.5, fields["median"])
	assert.Equal(t, 2.5, fields["p50"])
}

func TestStatsModule_Errors(t *testing.T) {
	executor := NewExecutor(NewCapabilityRegistry())

	for _, source := range []string{
		`m = stats.mean([])`,
		`v = stats.stdev([1.0])`,
		`p = stats.percentile([1.0], 200)`,
		`s = stats.sum("not a list of numbers")`,
	} {
		outcome := executor.Execute(context.Background(), source, Environment{}, []string{"stats"})
		_, ok := outcome.(*Failure)
		assert.True(t, ok, "expected failure for %q", source)
	}
}

func TestTableModule(t *testing.T) {
	report := runForReport(t, `
rows = [
    {"region": "north", "units": 10},
    {"region": "south", "units": 3},
    {"region": "north", "units": 5},
]
analysis_report = [{
    "text": "table ops",
    "units": table.column(rows, "units"),
    "regions": table.unique(rows, "region"),
    "counts": table.group_count(rows, "region"),
    "top": table.sort_by(rows, "units", reverse=True)[0]["region"],
    "head": len(table.head(rows, 2)),
}]
`)
	require.Len(t, report, 1)
	fields := report[0].Fields

	assert.Equal(t, []any{int64(10), int64(3), int64(5)}, fields["units"])
	assert.Equal(t, []any{"north", "south"}, fields["regions"])
	assert.Equal(t, map[string]any{"north": int64(2), "south": int64(1)}, fields["counts"])
	assert.Equal(t, "north", fields["top"])
	assert.Equal(t, int64(2), fields["head"])
}

func TestTableModule_MissingColumnIsNone(t *testing.T) {
	report := runForReport(t, `
rows = [{"a": 1}]
analysis_report = [{"text": "missing", "col": table.column(rows, "nope")}]
`)
	assert.Equal(t, []any{nil}, report[0].Fields["col"])
}
