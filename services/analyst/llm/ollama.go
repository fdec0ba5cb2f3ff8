// Copyright (C) 2026 Driftwood AI
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
)

// OllamaClient is a Client backed by a local Ollama server.
//
// Thread Safety: OllamaClient is safe for concurrent use.
type OllamaClient struct {
	model *ollama.LLM
	name  string
}

// NewOllamaClient creates an Ollama-backed client.
//
// Inputs:
//
//	serverURL - The Ollama server URL. Empty uses the default
//	            (http://localhost:11434).
//	modelName - The model to run (e.g. "llama3.1").
//
// Outputs:
//
//	*OllamaClient - The configured client.
//	error - Non-nil if the client cannot be constructed.
func NewOllamaClient(serverURL, modelName string) (*OllamaClient, error) {
	if strings.TrimSpace(modelName) == "" {
		return nil, fmt.Errorf("ollama model name is empty")
	}

	opts := []ollama.Option{ollama.WithModel(modelName)}
	if serverURL != "" {
		opts = append(opts, ollama.WithServerURL(serverURL))
	}

	model, err := ollama.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("creating ollama client: %w", err)
	}

	return &OllamaClient{model: model, name: modelName}, nil
}

// Name implements Client.
func (c *OllamaClient) Name() string {
	return "ollama/" + c.name
}

// Generate implements Client.
func (c *OllamaClient) Generate(ctx context.Context, messages []Message, params GenerationParams) (string, error) {
	return c.generate(ctx, messages, params, nil)
}

// GenerateStream implements Client.
func (c *OllamaClient) GenerateStream(ctx context.Context, messages []Message, params GenerationParams, onChunk StreamFunc) (string, error) {
	return c.generate(ctx, messages, params, onChunk)
}

func (c *OllamaClient) generate(ctx context.Context, messages []Message, params GenerationParams, onChunk StreamFunc) (string, error) {
	if len(messages) == 0 {
		return "", ErrNoMessages
	}

	content := make([]llms.MessageContent, 0, len(messages))
	for _, m := range messages {
		content = append(content, llms.TextParts(toChatMessageType(m.Role), m.Content))
	}

	callOpts := []llms.CallOption{}
	if params.Temperature > 0 {
		callOpts = append(callOpts, llms.WithTemperature(float64(params.Temperature)))
	}
	if params.MaxTokens > 0 {
		callOpts = append(callOpts, llms.WithMaxTokens(params.MaxTokens))
	}
	if onChunk != nil {
		callOpts = append(callOpts, llms.WithStreamingFunc(func(_ context.Context, chunk []byte) error {
			return onChunk(string(chunk))
		}))
	}

	resp, err := c.model.GenerateContent(ctx, content, callOpts...)
	if err != nil {
		return "", fmt.Errorf("ollama generation: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	return resp.Choices[0].Content, nil
}

// toChatMessageType maps backend-neutral roles onto langchaingo types.
func toChatMessageType(role Role) llms.ChatMessageType {
	switch role {
	case RoleSystem:
		return llms.ChatMessageTypeSystem
	case RoleAssistant:
		return llms.ChatMessageTypeAI
	default:
		return llms.ChatMessageTypeHuman
	}
}
