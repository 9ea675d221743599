package models

import (
	"encoding/json"
	"fmt"
)

// PartKind identifies the kind of a message part.
type PartKind string

const (
	PartText       PartKind = "text"
	PartReasoning  PartKind = "reasoning"
	PartTool       PartKind = "tool"
	PartStepStart  PartKind = "step-start"
	PartStepFinish PartKind = "step-finish"
)

// PartBase carries the identity fields shared by every part. A part
// belongs to exactly one message and one session.
type PartBase struct {
	ID        string `json:"id"`
	MessageID string `json:"message_id"`
	SessionID string `json:"session_id"`
}

// Base returns the shared identity fields.
func (b PartBase) Base() PartBase { return b }

// Part is one typed fragment of an assistant message.
type Part interface {
	Base() PartBase
	Kind() PartKind
}

// TextPart is a span of assistant output text. At most one instance is
// open (End unset) at a time per processor.
type TextPart struct {
	PartBase
	Text      string   `json:"text"`
	Synthetic bool     `json:"synthetic,omitempty"`
	Time      TimeSpan `json:"time"`
}

func (*TextPart) Kind() PartKind { return PartText }

// ReasoningPart is a span of model reasoning. During accumulation it is
// keyed by a provider-assigned ephemeral stream id, distinct from ID.
type ReasoningPart struct {
	PartBase
	Text     string         `json:"text"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Time     TimeSpan       `json:"time"`
}

func (*ReasoningPart) Kind() PartKind { return PartReasoning }

// StepStartPart opens one model step and optionally records a workspace
// snapshot handle taken at the step boundary.
type StepStartPart struct {
	PartBase
	Snapshot string `json:"snapshot,omitempty"`
}

func (*StepStartPart) Kind() PartKind { return PartStepStart }

// StepFinishPart closes one model step with its finish reason, usage and
// cost, and optionally a second snapshot handle.
type StepFinishPart struct {
	PartBase
	Reason   string     `json:"reason"`
	Snapshot string     `json:"snapshot,omitempty"`
	Cost     float64    `json:"cost"`
	Tokens   TokenUsage `json:"tokens"`
}

func (*StepFinishPart) Kind() PartKind { return PartStepFinish }

// ToolStatus is the lifecycle state of a tool call.
type ToolStatus string

const (
	ToolPending   ToolStatus = "pending"
	ToolRunning   ToolStatus = "running"
	ToolCompleted ToolStatus = "completed"
	ToolError     ToolStatus = "error"
)

// Terminal reports whether the status is final.
func (s ToolStatus) Terminal() bool {
	return s == ToolCompleted || s == ToolError
}

// ToolState is the state machine of one tool call. Transitions are
// monotonic: pending -> running -> completed|error, and pending may jump
// straight to error when a call is blocked before execution.
type ToolState struct {
	Status   ToolStatus      `json:"status"`
	Input    json.RawMessage `json:"input,omitempty"`
	Raw      string          `json:"raw,omitempty"`
	Output   string          `json:"output,omitempty"`
	Title    string          `json:"title,omitempty"`
	Metadata map[string]any  `json:"metadata,omitempty"`
	Error    string          `json:"error,omitempty"`
	Time     TimeSpan        `json:"time"`
}

// ToolPart is one tool invocation. CallID is the provider-assigned id
// that correlates call, result, and error events.
type ToolPart struct {
	PartBase
	CallID string    `json:"call_id"`
	Tool   string    `json:"tool"`
	State  ToolState `json:"state"`
}

func (*ToolPart) Kind() PartKind { return PartTool }

// Run transitions the call from pending to running.
func (p *ToolPart) Run(input json.RawMessage, title string, start int64) error {
	if p.State.Status != ToolPending {
		return fmt.Errorf("tool %s call %s: cannot run from %q", p.Tool, p.CallID, p.State.Status)
	}
	p.State.Status = ToolRunning
	p.State.Input = input
	p.State.Title = title
	p.State.Time.Start = start
	return nil
}

// Complete transitions the call to its completed terminal state.
func (p *ToolPart) Complete(output, title string, metadata map[string]any, end int64) error {
	if p.State.Status.Terminal() {
		return fmt.Errorf("tool %s call %s: cannot complete from %q", p.Tool, p.CallID, p.State.Status)
	}
	p.State.Status = ToolCompleted
	p.State.Output = output
	if title != "" {
		p.State.Title = title
	}
	p.State.Metadata = metadata
	if p.State.Time.Start == 0 {
		p.State.Time.Start = end
	}
	p.State.Time.End = end
	return nil
}

// Fail transitions the call to its error terminal state. Unlike Complete
// it is valid from pending, for calls blocked before execution.
func (p *ToolPart) Fail(message string, end int64) error {
	if p.State.Status.Terminal() {
		return fmt.Errorf("tool %s call %s: cannot fail from %q", p.Tool, p.CallID, p.State.Status)
	}
	p.State.Status = ToolError
	p.State.Error = message
	if p.State.Time.Start == 0 {
		p.State.Time.Start = end
	}
	p.State.Time.End = end
	return nil
}
