// Package stream defines the ordered event stream a model provider
// produces during one assistant turn.
//
// Events use a single Type discriminator with one payload pointer set per
// event, so consumers can switch exhaustively on Type. New event types
// are a forced review surface for every switch.
package stream

import (
	"encoding/json"
)

// EventType identifies the kind of stream event.
type EventType string

const (
	EventStart          EventType = "start"
	EventTextStart      EventType = "text-start"
	EventTextDelta      EventType = "text-delta"
	EventTextEnd        EventType = "text-end"
	EventReasoningStart EventType = "reasoning-start"
	EventReasoningDelta EventType = "reasoning-delta"
	EventReasoningEnd   EventType = "reasoning-end"
	EventToolInputStart EventType = "tool-input-start"
	EventToolCall       EventType = "tool-call"
	EventToolResult     EventType = "tool-result"
	EventToolError      EventType = "tool-error"
	EventStepStart      EventType = "step-start"
	EventStepFinish     EventType = "step-finish"
	EventFinish         EventType = "finish"
	EventError          EventType = "error"
)

// Event is one element of the ordered stream. Exactly one payload pointer
// is non-nil for a given Type; lifecycle-only events (start, text-start,
// text-end, step-start, finish) may carry none.
type Event struct {
	Type EventType `json:"type"`

	Text      *TextPayload      `json:"text,omitempty"`
	Reasoning *ReasoningPayload `json:"reasoning,omitempty"`
	Tool      *ToolPayload      `json:"tool,omitempty"`
	Step      *StepPayload      `json:"step,omitempty"`

	// Err carries the failure for EventError. It is transported over the
	// wire by the codec as a plain message.
	Err error `json:"-"`
}

// TextPayload carries a text delta.
type TextPayload struct {
	Text string `json:"text"`
}

// ReasoningPayload carries reasoning stream events. ID is the
// provider-assigned ephemeral stream id; multiple reasoning channels may
// be open concurrently.
type ReasoningPayload struct {
	ID   string `json:"id"`
	Text string `json:"text,omitempty"`
}

// ToolPayload carries tool lifecycle events. CallID correlates
// tool-input-start, tool-call, and tool-result/tool-error for one
// invocation.
type ToolPayload struct {
	CallID   string          `json:"call_id"`
	Name     string          `json:"name,omitempty"`
	Input    json.RawMessage `json:"input,omitempty"`
	Output   string          `json:"output,omitempty"`
	Title    string          `json:"title,omitempty"`
	Metadata map[string]any  `json:"metadata,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// RawUsage holds the provider-reported token counts for one step, before
// normalization.
type RawUsage struct {
	InputTokens       int64 `json:"input_tokens"`
	OutputTokens      int64 `json:"output_tokens"`
	ReasoningTokens   int64 `json:"reasoning_tokens,omitempty"`
	CachedInputTokens int64 `json:"cached_input_tokens,omitempty"`
}

// StepPayload closes one model step with its finish reason and raw usage.
type StepPayload struct {
	Reason           string         `json:"reason"`
	Usage            RawUsage       `json:"usage"`
	ProviderMetadata map[string]any `json:"provider_metadata,omitempty"`
}
