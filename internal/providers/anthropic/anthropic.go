// Package anthropic adapts the Anthropic Messages streaming API to the
// processor's event taxonomy. One SSE stream becomes one step: the
// adapter brackets the provider's content blocks with step-start and
// step-finish and carries the raw usage counters through provider
// metadata for cost normalization.
package anthropic

import (
	"context"
	"errors"
	"log/slog"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/adolago/agent-core-sub009/internal/config"
	"github.com/adolago/agent-core-sub009/internal/processor"
	"github.com/adolago/agent-core-sub009/internal/stream"
)

// ProviderID identifies this adapter on AssistantMessage.ProviderID.
const ProviderID = "anthropic"

// Client streams model turns from the Anthropic API.
type Client struct {
	api       sdk.Client
	model     string
	maxTokens int64
	logger    *slog.Logger
}

// New builds a client from the provider configuration.
func New(cfg config.ProviderConfig, logger *slog.Logger) *Client {
	opts := []option.RequestOption{}
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		api:       sdk.NewClient(opts...),
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
		logger:    logger,
	}
}

// Request is one model turn to stream.
type Request struct {
	// Model overrides the client default when set.
	Model string
	// System is the system prompt.
	System string
	// Messages is the conversation so far, in API order.
	Messages []sdk.MessageParam
	// Tools the model may call.
	Tools []sdk.ToolUnionParam
}

// Stream opens one streaming turn and translates it into ordered
// processor events. The returned channel closes when the turn ends; a
// transport or API failure arrives as a terminal error event.
func (c *Client) Stream(ctx context.Context, req Request) <-chan stream.Event {
	events := make(chan stream.Event)
	go func() {
		defer close(events)
		c.run(ctx, req, events)
	}()
	return events
}

func (c *Client) run(ctx context.Context, req Request, events chan<- stream.Event) {
	model := req.Model
	if model == "" {
		model = c.model
	}
	params := sdk.MessageNewParams{
		Model:     sdk.Model(model),
		MaxTokens: c.maxTokens,
		Messages:  req.Messages,
		Tools:     req.Tools,
	}
	if req.System != "" {
		params.System = []sdk.TextBlockParam{{Text: req.System}}
	}

	sse := c.api.Messages.NewStreaming(ctx, params)
	tr := newTracker()

	if !emit(ctx, events, stream.Event{Type: stream.EventStart}) {
		return
	}
	if !emit(ctx, events, stream.Event{Type: stream.EventStepStart}) {
		return
	}

	for sse.Next() {
		event := sse.Current()
		var out []stream.Event

		switch variant := event.AsAny().(type) {
		case sdk.MessageStartEvent:
			tr.messageStart(
				variant.Message.Usage.InputTokens,
				variant.Message.Usage.CacheReadInputTokens,
				variant.Message.Usage.CacheCreationInputTokens,
			)

		case sdk.ContentBlockStartEvent:
			switch variant.ContentBlock.Type {
			case "text":
				out = tr.startText(variant.Index)
			case "thinking":
				out = tr.startThinking(variant.Index)
			case "tool_use":
				out = tr.startTool(variant.Index, variant.ContentBlock.ID, variant.ContentBlock.Name)
			}

		case sdk.ContentBlockDeltaEvent:
			switch deltaVariant := variant.Delta.AsAny().(type) {
			case sdk.TextDelta:
				out = tr.textDelta(variant.Index, deltaVariant.Text)
			case sdk.ThinkingDelta:
				out = tr.thinkingDelta(variant.Index, deltaVariant.Thinking)
			case sdk.InputJSONDelta:
				out = tr.inputDelta(variant.Index, deltaVariant.PartialJSON)
			}

		case sdk.ContentBlockStopEvent:
			out = tr.stopBlock(variant.Index)

		case sdk.MessageDeltaEvent:
			tr.messageDelta(variant.Usage.OutputTokens, string(variant.Delta.StopReason))

		case sdk.MessageStopEvent:
			for _, ev := range tr.finish() {
				if !emit(ctx, events, ev) {
					return
				}
			}
			return
		}

		for _, ev := range out {
			if !emit(ctx, events, ev) {
				return
			}
		}
	}

	if err := sse.Err(); err != nil {
		emit(ctx, events, stream.Event{Type: stream.EventError, Err: wrapError(err)})
		return
	}
	// The SSE stream ended without a message_stop; close out what we saw.
	for _, ev := range tr.finish() {
		if !emit(ctx, events, ev) {
			return
		}
	}
}

func emit(ctx context.Context, events chan<- stream.Event, ev stream.Event) bool {
	select {
	case events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// wrapError maps SDK failures into the processor's error taxonomy so
// retry decisions see a status code.
func wrapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		message := apiErr.Error()
		return processor.NewAPIError(apiErr.StatusCode, message)
	}
	// Transport-level failures have no status; treat as retryable server
	// trouble.
	return &processor.APIError{StatusCode: 0, Message: err.Error(), Retryable: true}
}
