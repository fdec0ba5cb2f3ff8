// Copyright (C) 2026 Driftwood AI
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/driftwood-ai/analyst/pkg/logging"
	analyst "github.com/driftwood-ai/analyst/services/analyst"
	"github.com/driftwood-ai/analyst/services/analyst/agent"
	"github.com/driftwood-ai/analyst/services/analyst/agent/events"
	"github.com/driftwood-ai/analyst/services/analyst/config"
	"github.com/driftwood-ai/analyst/services/analyst/dataset"
	"github.com/driftwood-ai/analyst/services/analyst/telemetry"
)

// Version is set at build time.
var Version = "dev"

var (
	flagConfig   string
	flagLogLevel string
	flagQuiet    bool
	flagTrace    bool
	flagData     []string
	flagVizOut   string
)

// Execute runs the CLI.
func Execute() error {
	rootCmd := &cobra.Command{
		Use:           "analyst",
		Short:         "Answer questions about tabular data with generated analysis code",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "config file path")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().BoolVar(&flagQuiet, "quiet", false, "disable stderr logging")
	rootCmd.PersistentFlags().BoolVar(&flagTrace, "trace", false, "write spans to stdout")

	rootCmd.AddCommand(newAskCommand(), newCapabilitiesCommand(), newVersionCommand())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return err
	}
	return nil
}

// loadRuntime builds configuration, logging, and tracing for a command.
func loadRuntime() (*config.Config, *logging.Logger, func(context.Context) error, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, nil, nil, err
	}

	if flagLogLevel != "" {
		cfg.Logging.Level = flagLogLevel
	}
	if flagQuiet {
		cfg.Logging.Quiet = true
	}
	if flagTrace {
		cfg.Telemetry.TraceStdout = true
	}

	logger := logging.New(logging.Config{
		Level:   logging.ParseLevel(cfg.Logging.Level),
		LogDir:  cfg.Logging.Dir,
		Service: "analyst",
		JSON:    cfg.Logging.JSON,
		Quiet:   cfg.Logging.Quiet,
	})
	slog.SetDefault(logger.Logger)

	shutdown, err := telemetry.InitTracing(cfg.Telemetry.TraceStdout)
	if err != nil {
		logger.Close()
		return nil, nil, nil, err
	}
	return cfg, logger, shutdown, nil
}

func newAskCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Run one analysis question against the loaded datasets",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, shutdown, err := loadRuntime()
			if err != nil {
				return err
			}
			defer logger.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			defer func() {
				if err := shutdown(context.Background()); err != nil {
					slog.Debug("Trace shutdown", slog.String("error", err.Error()))
				}
			}()

			datasets, err := loadDatasets(ctx, flagData)
			if err != nil {
				return err
			}

			engine, err := analyst.NewEngine(cfg)
			if err != nil {
				return err
			}

			result, err := engine.Run(ctx, args[0], datasets, consoleHandler())
			if err != nil {
				return err
			}
			return reportResult(result)
		},
	}

	cmd.Flags().StringArrayVar(&flagData, "data", nil, "dataset as name=path.csv (repeatable)")
	cmd.Flags().StringVar(&flagVizOut, "viz-out", "", "write the visualization payload to this file")
	return cmd
}

func newCapabilitiesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "capabilities",
		Short: "List the library capabilities available to generated code",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, shutdown, err := loadRuntime()
			if err != nil {
				return err
			}
			defer logger.Close()
			defer shutdown(context.Background())

			engine, err := analyst.NewEngine(cfg)
			if err != nil {
				return err
			}

			configured := make(map[string]bool, len(cfg.Capabilities))
			for _, name := range cfg.Capabilities {
				configured[name] = true
			}
			for _, name := range engine.Capabilities() {
				marker := " "
				if configured[name] {
					marker = "*"
				}
				fmt.Printf("%s %s\n", marker, name)
			}
			fmt.Println("\n* enabled for tasks by configuration")
			return nil
		},
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the analyst version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("analyst", Version)
		},
	}
}

// loadDatasets parses --data name=path flags and loads the files
// concurrently.
func loadDatasets(ctx context.Context, specs []string) ([]*dataset.Dataset, error) {
	datasets := make([]*dataset.Dataset, len(specs))

	g, _ := errgroup.WithContext(ctx)
	for i, spec := range specs {
		name, path, ok := strings.Cut(spec, "=")
		if !ok || name == "" || path == "" {
			return nil, fmt.Errorf("invalid --data %q, want name=path.csv", spec)
		}
		g.Go(func() error {
			ds, err := dataset.LoadCSV(name, path)
			if err != nil {
				return err
			}
			datasets[i] = ds
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return datasets, nil
}

// consoleHandler streams task output to the terminal: visualization
// notice first, narrative chunks as they arrive, fallback verbatim.
func consoleHandler() events.Handler {
	return func(event *events.Event) {
		switch data := event.Data.(type) {
		case *events.VisualizationReadyData:
			if flagVizOut != "" {
				if err := os.WriteFile(flagVizOut, []byte(data.Data), 0o644); err != nil {
					fmt.Fprintf(os.Stderr, "writing visualization: %v\n", err)
					return
				}
				fmt.Printf("[visualization: %s written to %s]\n", data.Format, flagVizOut)
				return
			}
			fmt.Printf("[visualization available: %s, %d bytes; use --viz-out to save]\n",
				data.Format, len(data.Data))

		case *events.NarrativeChunkData:
			if data.Final {
				fmt.Println()
				return
			}
			fmt.Print(data.Text)

		case *events.FallbackMessageData:
			fmt.Println(data.Message)
		}
	}
}

// reportResult maps the terminal state to process output and exit
// status.
func reportResult(result *agent.RunResult) error {
	switch {
	case result.State == agent.StateError:
		if result.Error != nil {
			return result.Error
		}
		return fmt.Errorf("task failed")
	case result.Exhausted():
		slog.Info("Task ended through fallback", slog.Int("attempts", result.Attempts))
		return nil
	default:
		slog.Info("Task complete",
			slog.Int("attempts", result.Attempts),
			slog.Int("executor_calls", result.Metrics.ExecutorCalls),
		)
		return nil
	}
}
