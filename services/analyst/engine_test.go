// Copyright (C) 2026 Driftwood AI
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package analyst

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftwood-ai/analyst/services/analyst/agent"
	"github.com/driftwood-ai/analyst/services/analyst/agent/events"
	"github.com/driftwood-ai/analyst/services/analyst/config"
	"github.com/driftwood-ai/analyst/services/analyst/dataset"
	"github.com/driftwood-ai/analyst/services/analyst/llm"
)

// queueLLM returns queued responses in order, shared across calls.
type queueLLM struct {
	mu        sync.Mutex
	responses []string
}

func (q *queueLLM) next() string {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.responses) == 0 {
		return ""
	}
	r := q.responses[0]
	q.responses = q.responses[1:]
	return r
}

func (q *queueLLM) Generate(context.Context, []llm.Message, llm.GenerationParams) (string, error) {
	return q.next(), nil
}

func (q *queueLLM) GenerateStream(_ context.Context, _ []llm.Message, _ llm.GenerationParams, onChunk llm.StreamFunc) (string, error) {
	text := q.next()
	if onChunk != nil {
		if err := onChunk(text); err != nil {
			return "", err
		}
	}
	return text, nil
}

func (q *queueLLM) Name() string { return "queue" }

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Engine.MaxAttempts = 3
	return cfg
}

func TestEngine_RunEndToEnd(t *testing.T) {
	client := &queueLLM{responses: []string{
		"1. sum the units column",
		"```\ntotal = 0\nfor row in sales:\n    total += row[\"units\"]\nanalysis_report = [{\"text\": \"total units\", \"value\": total}]\n```",
		"There are 13 units in total.",
	}}

	engine, err := NewEngine(testConfig(), WithClient(client))
	require.NoError(t, err)

	ds, err := dataset.ReadCSV("sales", strings.NewReader("region,units\nnorth,10\nsouth,3\n"))
	require.NoError(t, err)

	var narrative strings.Builder
	handler := func(event *events.Event) {
		if data, ok := event.Data.(*events.NarrativeChunkData); ok && !data.Final {
			narrative.WriteString(data.Text)
		}
	}

	result, err := engine.Run(context.Background(), "how many units were sold?", []*dataset.Dataset{ds}, handler)
	require.NoError(t, err)

	assert.Equal(t, agent.StateComplete, result.State)
	assert.Equal(t, "There are 13 units in total.", result.Narrative)
	assert.Equal(t, result.Narrative, narrative.String())
	assert.Equal(t, 0, result.Attempts)
	require.Len(t, result.Report, 1)
	assert.Equal(t, int64(13), result.Report[0].Fields["value"])
}

func TestEngine_RunDataFree(t *testing.T) {
	client := &queueLLM{responses: []string{
		"1. compute the expression",
		"```\nanswer = 2 + 2\nanalysis_report = [{\"text\": \"computed\", \"answer\": answer}]\n```",
		"2 + 2 is 4.",
	}}

	engine, err := NewEngine(testConfig(), WithClient(client))
	require.NoError(t, err)

	result, err := engine.Run(context.Background(), "what is 2 + 2?", nil, nil)
	require.NoError(t, err)

	assert.Equal(t, agent.StateComplete, result.State)
	assert.Equal(t, int64(4), result.Report[0].Fields["answer"])
}

func TestEngine_RunAllIsolatesTasks(t *testing.T) {
	// One task succeeds, the other produces broken code on every attempt
	// and exhausts. The single-task limit keeps the scripted responses
	// in order.
	client := &queueLLM{responses: []string{
		"plan a",
		"```\nanalysis_report = [\"ok\"]\n```",
		"narrative a",
		"plan b",
		"```\nx = broken_name\n```",
		"```\nx = broken_name\n```",
		"```\nx = broken_name\n```",
		"Sorry, try rephrasing.",
	}}

	cfg := testConfig()
	cfg.Engine.MaxConcurrentTasks = 1
	engine, err := NewEngine(cfg, WithClient(client))
	require.NoError(t, err)

	results, err := engine.RunAll(context.Background(),
		[]string{"question one", "question two"}, nil, nil)
	require.NoError(t, err)
	require.Len(t, results, 2)

	exhausted := 0
	for _, result := range results {
		assert.Equal(t, agent.StateComplete, result.State)
		if result.Exhausted() {
			exhausted++
		}
	}
	assert.Equal(t, 1, exhausted)
}

func TestEngine_UnknownProvider(t *testing.T) {
	cfg := testConfig()
	cfg.LLM.Provider = "psychic"
	_, err := NewEngine(cfg)
	assert.Error(t, err)
}

func TestEngine_Capabilities(t *testing.T) {
	engine, err := NewEngine(testConfig(), WithClient(&queueLLM{}))
	require.NoError(t, err)
	assert.Contains(t, engine.Capabilities(), "stats")
	assert.Contains(t, engine.Capabilities(), "table")
}
