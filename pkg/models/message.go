// Package models provides the domain types for assistant messages and
// their constituent parts.
package models

// TokenUsage holds normalized token counts by kind for one model step or
// for a whole message.
type TokenUsage struct {
	Input     int64      `json:"input"`
	Output    int64      `json:"output"`
	Reasoning int64      `json:"reasoning"`
	Cache     CacheUsage `json:"cache"`
}

// CacheUsage breaks cache token counts into read and write buckets.
type CacheUsage struct {
	Read  int64 `json:"read"`
	Write int64 `json:"write"`
}

// Total returns the total token count across all buckets.
func (u TokenUsage) Total() int64 {
	return u.Input + u.Output + u.Reasoning + u.Cache.Read + u.Cache.Write
}

// Add accumulates another usage record into this one.
func (u *TokenUsage) Add(other TokenUsage) {
	u.Input += other.Input
	u.Output += other.Output
	u.Reasoning += other.Reasoning
	u.Cache.Read += other.Cache.Read
	u.Cache.Write += other.Cache.Write
}

// TimeSpan records a window in unix milliseconds. End is zero while the
// window is still open.
type TimeSpan struct {
	Start int64 `json:"start"`
	End   int64 `json:"end,omitempty"`
}

// MessageTime records when a message was created and completed, in unix
// milliseconds. Completed is zero until the message is finalized.
type MessageTime struct {
	Created   int64 `json:"created"`
	Completed int64 `json:"completed,omitempty"`
}

// MessageError is the only error state visible above the processor. Name
// identifies the error kind ("aborted", "api_error", "unknown").
type MessageError struct {
	Name    string         `json:"name"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
}

// AssistantMessage is one model turn. It is created empty before stream
// consumption begins, mutated in place by the single processor that owns
// it, and finalized on every exit path.
type AssistantMessage struct {
	ID         string        `json:"id"`
	SessionID  string        `json:"session_id"`
	ParentID   string        `json:"parent_id"`
	Agent      string        `json:"agent,omitempty"`
	ModelID    string        `json:"model_id"`
	ProviderID string        `json:"provider_id"`
	Time       MessageTime   `json:"time"`
	Cost       float64       `json:"cost"`
	Tokens     TokenUsage    `json:"tokens"`
	Finish     string        `json:"finish,omitempty"`
	Error      *MessageError `json:"error,omitempty"`
}

// Completed reports whether the message has been finalized.
func (m *AssistantMessage) Completed() bool {
	return m.Time.Completed != 0
}
