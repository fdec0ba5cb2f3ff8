// Copyright (C) 2026 Driftwood AI
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package llm abstracts the model backends used for planning, code
// synthesis, and narrative generation.
//
// Two backends are provided: an OpenAI-compatible client and an Ollama
// client for local models. Both implement Client; the engine never
// depends on a concrete backend.
package llm

import (
	"context"
	"errors"
)

// Role identifies the author of a message.
type Role string

const (
	// RoleSystem carries instructions to the model.
	RoleSystem Role = "system"

	// RoleUser carries user-originated content.
	RoleUser Role = "user"

	// RoleAssistant carries prior model output.
	RoleAssistant Role = "assistant"
)

// Message is one entry of a chat exchange.
type Message struct {
	// Role identifies the author.
	Role Role `json:"role"`

	// Content is the message text.
	Content string `json:"content"`
}

// GenerationParams tunes one generation call.
type GenerationParams struct {
	// Temperature controls sampling randomness. Zero means the backend
	// default.
	Temperature float32 `json:"temperature,omitempty"`

	// MaxTokens bounds the response length. Zero means the backend
	// default.
	MaxTokens int `json:"max_tokens,omitempty"`
}

// StreamFunc receives narrative fragments in stream order. Returning an
// error aborts the stream.
type StreamFunc func(chunk string) error

// Client is a chat model backend.
//
// Thread Safety: implementations must be safe for concurrent use.
type Client interface {
	// Generate produces a complete response for the given messages.
	//
	// Inputs:
	//   ctx - Context for cancellation and timeout.
	//   messages - The chat exchange, system message first.
	//   params - Generation tuning.
	//
	// Outputs:
	//   string - The response text.
	//   error - Non-nil on transport or backend failure.
	Generate(ctx context.Context, messages []Message, params GenerationParams) (string, error)

	// GenerateStream produces a response incrementally, invoking onChunk
	// for each fragment in order, and returns the full response text.
	GenerateStream(ctx context.Context, messages []Message, params GenerationParams, onChunk StreamFunc) (string, error)

	// Name identifies the backend for logging.
	Name() string
}

// Errors returned by backends.
var (
	// ErrEmptyResponse indicates the backend returned no choices.
	ErrEmptyResponse = errors.New("llm returned an empty response")

	// ErrNoMessages indicates a generation call without messages.
	ErrNoMessages = errors.New("no messages provided")
)
