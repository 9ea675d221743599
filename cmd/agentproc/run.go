package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/adolago/agent-core-sub009/internal/observability"
	"github.com/adolago/agent-core-sub009/internal/processor"
	"github.com/adolago/agent-core-sub009/internal/providers/anthropic"
	"github.com/adolago/agent-core-sub009/internal/snapshot"
	"github.com/adolago/agent-core-sub009/pkg/models"
)

// maxTurnStreams bounds how many times one run re-opens a stream for
// the same message (retries plus tool-call continuations).
const maxTurnStreams = 25

func buildRunCmd() *cobra.Command {
	var (
		configPath string
		prompt     string
		system     string
		sessionID  string
		workspace  string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Stream one live turn from the configured provider",
		RunE: func(cmd *cobra.Command, args []string) error {
			if prompt == "" {
				return fmt.Errorf("--prompt is required")
			}
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			logger := newLogger(cfg)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			shutdownTracing, err := observability.InitTracing(ctx, cfg.Tracing)
			if err != nil {
				return fmt.Errorf("initialize tracing: %w", err)
			}
			defer func() {
				shutdownCtx, cancel := context.WithCancel(context.Background())
				defer cancel()
				_ = shutdownTracing(shutdownCtx)
			}()

			store, closeStore, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer closeStore()

			if sessionID == "" {
				sessionID = uuid.NewString()
			}
			msg := &models.AssistantMessage{
				ID:         uuid.NewString(),
				SessionID:  sessionID,
				ModelID:    cfg.Provider.Model,
				ProviderID: anthropic.ProviderID,
			}

			opts := processor.Options{
				Guard:   cfg.Guard.Guard(),
				Retry:   cfg.Retry.Strategy(),
				Pricing: cfg.PricingFor(cfg.Provider.Model),
				Logger:  logger,
				Metrics: observability.NewMetrics(prometheus.DefaultRegisterer),
			}
			if workspace != "" {
				opts.Snapshots = snapshot.NewManager(workspace)
			}
			proc := processor.New(store, opts)
			client := anthropic.New(cfg.Provider, logger)

			req := anthropic.Request{
				System: system,
				Messages: []sdk.MessageParam{
					sdk.NewUserMessage(sdk.NewTextBlock(prompt)),
				},
			}
			verdict := processor.VerdictStop
			for i := 0; i < maxTurnStreams; i++ {
				verdict = proc.Process(ctx, msg, client.Stream(ctx, req))
				if verdict == processor.VerdictStop || msg.Completed() {
					break
				}
			}

			return printOutcome(ctx, cmd, store, msg, verdict)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to configuration file")
	cmd.Flags().StringVarP(&prompt, "prompt", "p", "", "User prompt for the turn")
	cmd.Flags().StringVar(&system, "system", "", "System prompt")
	cmd.Flags().StringVar(&sessionID, "session", "", "Session id (generated when empty)")
	cmd.Flags().StringVar(&workspace, "workspace", "", "Workspace directory for step snapshots")
	return cmd
}
