// Copyright (C) 2026 Driftwood AI
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIClient is a Client backed by an OpenAI-compatible API.
//
// Thread Safety: OpenAIClient is safe for concurrent use.
type OpenAIClient struct {
	client *openai.Client
	model  string
}

// OpenAIOption configures an OpenAIClient.
type OpenAIOption func(*openaiConfig)

type openaiConfig struct {
	baseURL string
	model   string
}

// WithOpenAIBaseURL points the client at a compatible endpoint
// (Azure, vLLM, a proxy). Empty uses the public API.
func WithOpenAIBaseURL(url string) OpenAIOption {
	return func(c *openaiConfig) {
		c.baseURL = url
	}
}

// WithOpenAIModel sets the model name. Default: gpt-4o.
func WithOpenAIModel(model string) OpenAIOption {
	return func(c *openaiConfig) {
		c.model = model
	}
}

// NewOpenAIClient creates an OpenAI-backed client.
//
// Inputs:
//
//	apiKey - The API key. Must not be empty.
//	opts - Optional configuration.
//
// Outputs:
//
//	*OpenAIClient - The configured client.
//	error - Non-nil if apiKey is empty.
func NewOpenAIClient(apiKey string, opts ...OpenAIOption) (*OpenAIClient, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("openai api key is empty")
	}

	cfg := &openaiConfig{model: openai.GPT4o}
	for _, opt := range opts {
		opt(cfg)
	}

	clientCfg := openai.DefaultConfig(apiKey)
	if cfg.baseURL != "" {
		clientCfg.BaseURL = cfg.baseURL
	}

	return &OpenAIClient{
		client: openai.NewClientWithConfig(clientCfg),
		model:  cfg.model,
	}, nil
}

// Name implements Client.
func (c *OpenAIClient) Name() string {
	return "openai/" + c.model
}

// Generate implements Client.
func (c *OpenAIClient) Generate(ctx context.Context, messages []Message, params GenerationParams) (string, error) {
	if len(messages) == 0 {
		return "", ErrNoMessages
	}

	resp, err := c.client.CreateChatCompletion(ctx, c.buildRequest(messages, params, false))
	if err != nil {
		return "", fmt.Errorf("openai completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}

	slog.Debug("OpenAI completion finished",
		slog.String("model", c.model),
		slog.Int("prompt_tokens", resp.Usage.PromptTokens),
		slog.Int("completion_tokens", resp.Usage.CompletionTokens),
	)
	return resp.Choices[0].Message.Content, nil
}

// GenerateStream implements Client.
func (c *OpenAIClient) GenerateStream(ctx context.Context, messages []Message, params GenerationParams, onChunk StreamFunc) (string, error) {
	if len(messages) == 0 {
		return "", ErrNoMessages
	}

	stream, err := c.client.CreateChatCompletionStream(ctx, c.buildRequest(messages, params, true))
	if err != nil {
		return "", fmt.Errorf("openai stream: %w", err)
	}
	defer stream.Close()

	var full strings.Builder
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("openai stream recv: %w", err)
		}
		if len(chunk.Choices) == 0 {
			continue
		}

		delta := chunk.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		full.WriteString(delta)
		if onChunk != nil {
			if err := onChunk(delta); err != nil {
				return "", fmt.Errorf("stream handler: %w", err)
			}
		}
	}
	return full.String(), nil
}

// buildRequest converts the backend-neutral inputs to an API request.
func (c *OpenAIClient) buildRequest(messages []Message, params GenerationParams, stream bool) openai.ChatCompletionRequest {
	apiMessages := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		apiMessages = append(apiMessages, openai.ChatCompletionMessage{
			Role:    string(m.Role),
			Content: m.Content,
		})
	}

	return openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    apiMessages,
		Temperature: params.Temperature,
		MaxTokens:   params.MaxTokens,
		Stream:      stream,
	}
}
