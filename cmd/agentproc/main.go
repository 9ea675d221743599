// Package main provides the CLI entry point for the message processor.
//
// The processor turns ordered model event streams into durable message
// state: text and reasoning parts, tool call lifecycles, step boundaries
// with usage and cost, doom-loop protection, and retry across transient
// provider failures.
//
// # Basic Usage
//
// Replay a recorded event stream into a store:
//
//	agentproc replay events.jsonl --config agentproc.yaml
//
// Run a live turn against the configured provider:
//
//	agentproc run --prompt "list the files in this directory"
//
// # Environment Variables
//
//   - AGENTPROC_CONFIG: Path to configuration file (default: agentproc.yaml)
//   - ANTHROPIC_API_KEY: Anthropic API key, expanded inside the config file
package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/adolago/agent-core-sub009/internal/config"
	"github.com/adolago/agent-core-sub009/internal/observability"
)

// Build information - populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "agentproc",
		Short: "agentproc - stream-to-state message processor",
		Long: `agentproc consumes ordered model event streams and builds durable
conversation state: message parts, tool call lifecycles, per-step usage
and cost, with doom-loop protection and retry across provider failures.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildReplayCmd(),
		buildRunCmd(),
	)
	return rootCmd
}

func resolveConfigPath(path string) string {
	if path != "" {
		return path
	}
	if env := os.Getenv("AGENTPROC_CONFIG"); env != "" {
		return env
	}
	return "agentproc.yaml"
}

// loadConfig loads the config file if present, else falls back to
// defaults so the tool works out of the box.
func loadConfig(path string) (*config.Config, error) {
	resolved := resolveConfigPath(path)
	cfg, err := config.Load(resolved)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && path == "" {
			return config.Default(), nil
		}
		return nil, err
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) *slog.Logger {
	logger := observability.NewLogger(cfg.Logging)
	slog.SetDefault(logger)
	return logger
}
