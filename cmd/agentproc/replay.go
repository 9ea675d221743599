package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"

	"github.com/adolago/agent-core-sub009/internal/config"
	"github.com/adolago/agent-core-sub009/internal/processor"
	"github.com/adolago/agent-core-sub009/internal/sessions"
	"github.com/adolago/agent-core-sub009/internal/snapshot"
	"github.com/adolago/agent-core-sub009/internal/stream"
	"github.com/adolago/agent-core-sub009/internal/usage"
	"github.com/adolago/agent-core-sub009/pkg/models"
)

func buildReplayCmd() *cobra.Command {
	var (
		configPath string
		sessionID  string
		parentID   string
		model      string
		workspace  string
	)

	cmd := &cobra.Command{
		Use:   "replay <events.jsonl>",
		Short: "Replay a recorded event stream into the session store",
		Long: `Replay reads one JSON Lines event stream and processes it as a single
assistant turn, printing the resulting message state.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			logger := newLogger(cfg)

			file, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("open event stream: %w", err)
			}
			defer file.Close()
			events, err := stream.ReadAll(file)
			if err != nil {
				return fmt.Errorf("decode event stream: %w", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			store, closeStore, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer closeStore()

			if sessionID == "" {
				sessionID = uuid.NewString()
			}
			if model == "" {
				model = cfg.Provider.Model
			}
			msg := &models.AssistantMessage{
				ID:         uuid.NewString(),
				SessionID:  sessionID,
				ParentID:   parentID,
				ModelID:    model,
				ProviderID: "replay",
			}

			opts := processor.Options{
				Guard:   cfg.Guard.Guard(),
				Retry:   cfg.Retry.Strategy(),
				Pricing: cfg.PricingFor(model),
				Logger:  logger,
			}
			if workspace != "" {
				opts.Snapshots = snapshot.NewManager(workspace)
			}
			proc := processor.New(store, opts)

			ch := make(chan stream.Event, len(events))
			for _, ev := range events {
				ch <- ev
			}
			close(ch)

			verdict := proc.Process(ctx, msg, ch)
			return printOutcome(ctx, cmd, store, msg, verdict)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to configuration file")
	cmd.Flags().StringVar(&sessionID, "session", "", "Session id (generated when empty)")
	cmd.Flags().StringVar(&parentID, "parent", "", "Parent user message id")
	cmd.Flags().StringVar(&model, "model", "", "Model id for pricing lookup")
	cmd.Flags().StringVar(&workspace, "workspace", "", "Workspace directory for step snapshots")
	return cmd
}

// openStore opens the configured session store: SQLite when a database
// path is set, in-memory otherwise.
func openStore(ctx context.Context, cfg *config.Config) (sessions.Store, func(), error) {
	if cfg.Database.Path == "" {
		return sessions.NewMemoryStore(), func() {}, nil
	}
	db, err := sql.Open("sqlite", cfg.Database.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	initCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	store, err := sessions.NewSQLStore(initCtx, db)
	if err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("initialize session store: %w", err)
	}
	return store, func() { _ = db.Close() }, nil
}

func printOutcome(ctx context.Context, cmd *cobra.Command, store sessions.Store, msg *models.AssistantMessage, verdict processor.Verdict) error {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "message: %s\n", msg.ID)
	fmt.Fprintf(out, "verdict: %s\n", verdict)
	if msg.Finish != "" {
		fmt.Fprintf(out, "finish:  %s\n", msg.Finish)
	}
	if msg.Error != nil {
		fmt.Fprintf(out, "error:   %s: %s\n", msg.Error.Name, msg.Error.Message)
	}
	fmt.Fprintf(out, "tokens:  %s\n", usage.FormatTokens(msg.Tokens))
	fmt.Fprintf(out, "cost:    %s\n", usage.FormatUSD(msg.Cost))

	parts, err := store.ListParts(ctx, msg.ID)
	if err != nil {
		return err
	}
	for _, part := range parts {
		switch p := part.(type) {
		case *models.TextPart:
			fmt.Fprintf(out, "  [text] %s\n", p.Text)
		case *models.ReasoningPart:
			fmt.Fprintf(out, "  [reasoning] %d chars\n", len(p.Text))
		case *models.ToolPart:
			fmt.Fprintf(out, "  [tool] %s (%s) %s\n", p.Tool, p.CallID, p.State.Status)
			if p.State.Error != "" {
				fmt.Fprintf(out, "         error: %s\n", p.State.Error)
			}
		case *models.StepStartPart:
			fmt.Fprintln(out, "  [step-start]")
		case *models.StepFinishPart:
			fmt.Fprintf(out, "  [step-finish] %s, %s, %s\n",
				p.Reason, usage.FormatTokens(p.Tokens), usage.FormatUSD(p.Cost))
		}
	}
	return nil
}
