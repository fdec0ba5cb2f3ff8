// Copyright (C) 2026 Driftwood AI
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package config loads and validates engine configuration.
//
// Configuration comes from a YAML file with environment variables for
// secrets. Every field has a working default; an absent config file
// yields the default configuration rather than an error.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML values can be written as
// strings like "30s" or "5m". Bare integers are taken as nanoseconds.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}

	var n int64
	if err := node.Decode(&n); err != nil {
		return fmt.Errorf("invalid duration value")
	}
	*d = Duration(n)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config is the root configuration.
type Config struct {
	// LLM configures the model backend.
	LLM LLMConfig `yaml:"llm" validate:"required"`

	// Engine configures the repair loop and sandbox.
	Engine EngineConfig `yaml:"engine" validate:"required"`

	// Capabilities is the closed list of library identifiers generated
	// code may use. Unknown identifiers are skipped at resolution.
	Capabilities []string `yaml:"capabilities"`

	// Logging configures log output.
	Logging LoggingConfig `yaml:"logging"`

	// Telemetry configures metrics and tracing.
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// LLMConfig selects and configures the model backend.
type LLMConfig struct {
	// Provider is "openai" or "ollama".
	Provider string `yaml:"provider" validate:"required,oneof=openai ollama"`

	// Model is the model name (e.g. "gpt-4o", "llama3.1").
	Model string `yaml:"model" validate:"required"`

	// BaseURL overrides the backend endpoint. Optional.
	BaseURL string `yaml:"base_url,omitempty"`

	// APIKeyEnv names the environment variable holding the API key.
	// Only consulted for providers that need one.
	APIKeyEnv string `yaml:"api_key_env"`

	// Temperature is the sampling temperature for synthesis calls.
	Temperature float32 `yaml:"temperature" validate:"gte=0,lte=2"`
}

// APIKey resolves the API key from the configured environment variable.
func (c *LLMConfig) APIKey() string {
	if c.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(c.APIKeyEnv)
}

// EngineConfig bounds the repair loop and sandbox.
type EngineConfig struct {
	// MaxAttempts is the repair loop bound, capped at single digits.
	MaxAttempts int `yaml:"max_attempts" validate:"min=1,max=9"`

	// ExecutionTimeout bounds one sandbox run.
	ExecutionTimeout Duration `yaml:"execution_timeout" validate:"min=0"`

	// TotalTimeout bounds a whole task. Zero disables the bound.
	TotalTimeout Duration `yaml:"total_timeout" validate:"min=0"`

	// MaxConcurrentTasks bounds concurrent tasks. Zero means unlimited.
	MaxConcurrentTasks int `yaml:"max_concurrent_tasks" validate:"min=0"`
}

// LoggingConfig configures log output.
type LoggingConfig struct {
	// Level is the minimum level: debug, info, warn, or error.
	Level string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`

	// Dir enables JSON file logging to the given directory.
	Dir string `yaml:"dir,omitempty"`

	// JSON switches stderr output to JSON.
	JSON bool `yaml:"json"`

	// Quiet disables stderr logging.
	Quiet bool `yaml:"quiet"`
}

// TelemetryConfig configures metrics and tracing.
type TelemetryConfig struct {
	// MetricsEnabled registers Prometheus collectors.
	MetricsEnabled bool `yaml:"metrics_enabled"`

	// TraceStdout writes OpenTelemetry spans to stdout for debugging.
	TraceStdout bool `yaml:"trace_stdout"`
}

// Default returns the default configuration: OpenAI backend, five
// attempts, thirty-second execution budget, the full capability set.
func Default() *Config {
	return &Config{
		LLM: LLMConfig{
			Provider:    "openai",
			Model:       "gpt-4o",
			APIKeyEnv:   "OPENAI_API_KEY",
			Temperature: 0.2,
		},
		Engine: EngineConfig{
			MaxAttempts:      5,
			ExecutionTimeout: Duration(30 * time.Second),
			TotalTimeout:     Duration(5 * time.Minute),
		},
		Capabilities: []string{"math", "time", "json", "stats", "table"},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads, merges, and validates configuration.
//
// Description:
//
//	Starts from Default and overlays the YAML file at path. An empty
//	path or a missing file yields the defaults. Validation failures
//	return the validator's error verbatim so the offending field is
//	named.
//
// Inputs:
//
//	path - The config file path, or "" for defaults.
//
// Outputs:
//
//	*Config - The validated configuration.
//	error - Non-nil on parse or validation failure.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return validate(cfg)
			}
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}

	return validate(cfg)
}

func validate(cfg *Config) (*Config, error) {
	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
