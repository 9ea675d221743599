package processor

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/adolago/agent-core-sub009/internal/backoff"
	"github.com/adolago/agent-core-sub009/internal/guard"
	"github.com/adolago/agent-core-sub009/internal/sessions"
	"github.com/adolago/agent-core-sub009/internal/stream"
	"github.com/adolago/agent-core-sub009/pkg/models"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newMessage() *models.AssistantMessage {
	return &models.AssistantMessage{
		ID:         "msg-1",
		SessionID:  "sess-1",
		ParentID:   "user-1",
		ModelID:    "claude-sonnet-4-20250514",
		ProviderID: "anthropic",
	}
}

func runEvents(t *testing.T, p *Processor, msg *models.AssistantMessage, evs []stream.Event) Verdict {
	t.Helper()
	ch := make(chan stream.Event, len(evs))
	for _, ev := range evs {
		ch <- ev
	}
	close(ch)
	return p.Process(context.Background(), msg, ch)
}

func toolParts(t *testing.T, store sessions.Store, messageID string) []*models.ToolPart {
	t.Helper()
	parts, err := store.ListParts(context.Background(), messageID)
	if err != nil {
		t.Fatal(err)
	}
	var tools []*models.ToolPart
	for _, part := range parts {
		if tp, ok := part.(*models.ToolPart); ok {
			tools = append(tools, tp)
		}
	}
	return tools
}

func TestTextAccumulationTrimsTrailingWhitespaceOnce(t *testing.T) {
	store := sessions.NewMemoryStore()
	p := New(store, Options{Logger: quietLogger()})
	msg := newMessage()

	verdict := runEvents(t, p, msg, []stream.Event{
		{Type: stream.EventStart},
		{Type: stream.EventTextStart},
		{Type: stream.EventTextDelta, Text: &stream.TextPayload{Text: "Hello "}},
		{Type: stream.EventTextDelta, Text: &stream.TextPayload{Text: "world"}},
		{Type: stream.EventTextDelta, Text: &stream.TextPayload{Text: "  \n"}},
		{Type: stream.EventTextEnd},
		{Type: stream.EventFinish},
	})
	if verdict != VerdictContinue {
		t.Errorf("verdict = %q, want continue", verdict)
	}

	parts, err := store.ListParts(context.Background(), msg.ID)
	if err != nil {
		t.Fatal(err)
	}
	var text *models.TextPart
	for _, part := range parts {
		if tp, ok := part.(*models.TextPart); ok {
			text = tp
		}
	}
	if text == nil {
		t.Fatal("no text part persisted")
	}
	if text.Text != "Hello world" {
		t.Errorf("text = %q, want %q", text.Text, "Hello world")
	}
	if text.Time.End == 0 {
		t.Error("text part not ended")
	}
}

func TestOrphanDeltaOpensPartLazily(t *testing.T) {
	store := sessions.NewMemoryStore()
	p := New(store, Options{Logger: quietLogger()})
	msg := newMessage()

	runEvents(t, p, msg, []stream.Event{
		{Type: stream.EventStart},
		{Type: stream.EventTextDelta, Text: &stream.TextPayload{Text: "no start event"}},
		{Type: stream.EventTextEnd},
		{Type: stream.EventFinish},
	})

	parts, err := store.ListParts(context.Background(), msg.ID)
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, part := range parts {
		if tp, ok := part.(*models.TextPart); ok && tp.Text == "no start event" {
			found = true
		}
	}
	if !found {
		t.Error("orphan delta did not produce a text part")
	}
}

func TestReasoningChannelsInterleave(t *testing.T) {
	store := sessions.NewMemoryStore()
	p := New(store, Options{Logger: quietLogger()})
	msg := newMessage()

	runEvents(t, p, msg, []stream.Event{
		{Type: stream.EventStart},
		{Type: stream.EventReasoningStart, Reasoning: &stream.ReasoningPayload{ID: "r1"}},
		{Type: stream.EventReasoningStart, Reasoning: &stream.ReasoningPayload{ID: "r2"}},
		{Type: stream.EventReasoningDelta, Reasoning: &stream.ReasoningPayload{ID: "r1", Text: "first "}},
		{Type: stream.EventReasoningDelta, Reasoning: &stream.ReasoningPayload{ID: "r2", Text: "second"}},
		{Type: stream.EventReasoningDelta, Reasoning: &stream.ReasoningPayload{ID: "r1", Text: "channel\n"}},
		{Type: stream.EventReasoningEnd, Reasoning: &stream.ReasoningPayload{ID: "r1"}},
		{Type: stream.EventReasoningEnd, Reasoning: &stream.ReasoningPayload{ID: "r2"}},
		{Type: stream.EventFinish},
	})

	parts, err := store.ListParts(context.Background(), msg.ID)
	if err != nil {
		t.Fatal(err)
	}
	texts := map[string]bool{}
	for _, part := range parts {
		if rp, ok := part.(*models.ReasoningPart); ok {
			texts[rp.Text] = true
		}
	}
	if !texts["first channel"] || !texts["second"] {
		t.Errorf("reasoning channels mixed up: %v", texts)
	}
}

func TestToolLifecycleEndToEnd(t *testing.T) {
	store := sessions.NewMemoryStore()
	p := New(store, Options{Logger: quietLogger()})
	msg := newMessage()

	verdict := runEvents(t, p, msg, []stream.Event{
		{Type: stream.EventStart},
		{Type: stream.EventToolInputStart, Tool: &stream.ToolPayload{CallID: "a", Name: "bash"}},
		{Type: stream.EventToolCall, Tool: &stream.ToolPayload{CallID: "a", Name: "bash", Input: json.RawMessage(`{"cmd":"ls"}`)}},
		{Type: stream.EventToolResult, Tool: &stream.ToolPayload{CallID: "a", Output: "file.txt"}},
		{Type: stream.EventFinish},
	})

	if verdict != VerdictContinue {
		t.Errorf("verdict = %q, want continue", verdict)
	}
	if msg.Error != nil {
		t.Errorf("message error = %+v, want nil", msg.Error)
	}
	tools := toolParts(t, store, msg.ID)
	if len(tools) != 1 {
		t.Fatalf("tool parts = %d, want 1", len(tools))
	}
	part := tools[0]
	if part.State.Status != models.ToolCompleted {
		t.Errorf("status = %q, want completed", part.State.Status)
	}
	if part.State.Output != "file.txt" {
		t.Errorf("output = %q, want file.txt", part.State.Output)
	}
	if part.State.Time.Start == 0 || part.State.Time.End == 0 {
		t.Errorf("tool time window not recorded: %+v", part.State.Time)
	}
}

func TestTerminalInvariantOnStreamExhaustion(t *testing.T) {
	store := sessions.NewMemoryStore()
	p := New(store, Options{Logger: quietLogger()})
	msg := newMessage()

	runEvents(t, p, msg, []stream.Event{
		{Type: stream.EventStart},
		{Type: stream.EventToolInputStart, Tool: &stream.ToolPayload{CallID: "a", Name: "bash"}},
		{Type: stream.EventToolCall, Tool: &stream.ToolPayload{CallID: "a", Name: "bash", Input: json.RawMessage(`{"cmd":"sleep"}`)}},
		// The stream dies before a result arrives.
	})

	for _, part := range toolParts(t, store, msg.ID) {
		if !part.State.Status.Terminal() {
			t.Errorf("part %s left in %q", part.CallID, part.State.Status)
		}
		if part.State.Error != ErrorAborted {
			t.Errorf("part %s error = %q, want aborted", part.CallID, part.State.Error)
		}
	}
	if !msg.Completed() {
		t.Error("message not finalized")
	}
}

func TestDoomLoopBlocksFourthIdenticalCall(t *testing.T) {
	store := sessions.NewMemoryStore()
	p := New(store, Options{
		Logger: quietLogger(),
		Guard:  &guard.Guard{Threshold: 3, Policy: guard.PolicyDeny},
	})
	msg := newMessage()

	input := json.RawMessage(`{"cmd":"ls","cwd":"/tmp"}`)
	// Same input with reordered keys must still count as identical.
	reordered := json.RawMessage(`{"cwd":"/tmp","cmd":"ls"}`)
	events := []stream.Event{{Type: stream.EventStart}}
	for _, id := range []string{"c1", "c2", "c3"} {
		events = append(events,
			stream.Event{Type: stream.EventToolCall, Tool: &stream.ToolPayload{CallID: id, Name: "bash", Input: input}},
			stream.Event{Type: stream.EventToolResult, Tool: &stream.ToolPayload{CallID: id, Output: "nothing"}},
		)
	}
	events = append(events,
		stream.Event{Type: stream.EventToolCall, Tool: &stream.ToolPayload{CallID: "c4", Name: "bash", Input: reordered}},
		stream.Event{Type: stream.EventFinish},
	)

	verdict := runEvents(t, p, msg, events)

	if verdict != VerdictStop {
		t.Errorf("verdict = %q, want stop after a guard block", verdict)
	}
	if msg.Error != nil {
		t.Errorf("a guard block is not a message error, got %+v", msg.Error)
	}

	var blocked *models.ToolPart
	for _, part := range toolParts(t, store, msg.ID) {
		if part.CallID == "c4" {
			blocked = part
		}
	}
	if blocked == nil {
		t.Fatal("blocked call part missing")
	}
	if blocked.State.Status != models.ToolError {
		t.Errorf("blocked status = %q, want error", blocked.State.Status)
	}
	if blocked.State.Error == "" || blocked.State.Error == ErrorAborted {
		t.Errorf("blocked part should carry the doom-loop diagnostic, got %q", blocked.State.Error)
	}
}

func TestDoomLoopAskPolicyApproved(t *testing.T) {
	store := sessions.NewMemoryStore()
	p := New(store, Options{
		Logger: quietLogger(),
		Guard:  &guard.Guard{Threshold: 2, Policy: guard.PolicyAsk},
		Permission: func(ctx context.Context, req guard.PermissionRequest) (bool, error) {
			return true, nil
		},
	})
	msg := newMessage()

	input := json.RawMessage(`{"cmd":"ls"}`)
	verdict := runEvents(t, p, msg, []stream.Event{
		{Type: stream.EventStart},
		{Type: stream.EventToolCall, Tool: &stream.ToolPayload{CallID: "c1", Name: "bash", Input: input}},
		{Type: stream.EventToolResult, Tool: &stream.ToolPayload{CallID: "c1", Output: "a"}},
		{Type: stream.EventToolCall, Tool: &stream.ToolPayload{CallID: "c2", Name: "bash", Input: input}},
		{Type: stream.EventToolResult, Tool: &stream.ToolPayload{CallID: "c2", Output: "b"}},
		{Type: stream.EventToolCall, Tool: &stream.ToolPayload{CallID: "c3", Name: "bash", Input: input}},
		{Type: stream.EventToolResult, Tool: &stream.ToolPayload{CallID: "c3", Output: "c"}},
		{Type: stream.EventFinish},
	})

	if verdict != VerdictContinue {
		t.Errorf("approved calls should not force a stop, got %q", verdict)
	}
	for _, part := range toolParts(t, store, msg.ID) {
		if part.State.Status != models.ToolCompleted {
			t.Errorf("call %s status = %q, want completed", part.CallID, part.State.Status)
		}
	}
}

func TestStepFinishUpdatesUsage(t *testing.T) {
	store := sessions.NewMemoryStore()
	proc := New(store, Options{Logger: quietLogger()})
	msg := newMessage()

	runEvents(t, proc, msg, []stream.Event{
		{Type: stream.EventStart},
		{Type: stream.EventStepStart},
		{Type: stream.EventTextStart},
		{Type: stream.EventTextDelta, Text: &stream.TextPayload{Text: "hi"}},
		{Type: stream.EventTextEnd},
		{Type: stream.EventStepFinish, Step: &stream.StepPayload{
			Reason: "end_turn",
			Usage:  stream.RawUsage{InputTokens: 100, OutputTokens: 10, CachedInputTokens: 40},
			ProviderMetadata: map[string]any{
				"anthropic": map[string]any{"cacheCreationInputTokens": float64(5)},
			},
		}},
		{Type: stream.EventFinish},
	})

	if msg.Tokens.Input != 100 {
		t.Errorf("anthropic input tokens = %d, want 100 (cache-inclusive)", msg.Tokens.Input)
	}
	if msg.Tokens.Cache.Read != 40 {
		t.Errorf("cache read = %d, want 40", msg.Tokens.Cache.Read)
	}
	if msg.Tokens.Cache.Write != 5 {
		t.Errorf("cache write = %d, want 5", msg.Tokens.Cache.Write)
	}
	if msg.Finish != "end_turn" {
		t.Errorf("finish = %q, want end_turn", msg.Finish)
	}
}

func TestStepFinishSubtractsCacheWithoutMarker(t *testing.T) {
	store := sessions.NewMemoryStore()
	p := New(store, Options{Logger: quietLogger()})
	msg := newMessage()

	runEvents(t, p, msg, []stream.Event{
		{Type: stream.EventStart},
		{Type: stream.EventStepFinish, Step: &stream.StepPayload{
			Reason: "end_turn",
			Usage:  stream.RawUsage{InputTokens: 100, CachedInputTokens: 40},
		}},
		{Type: stream.EventFinish},
	})

	if msg.Tokens.Input != 60 {
		t.Errorf("input tokens = %d, want 60 (cache subtracted)", msg.Tokens.Input)
	}
}

type recordingNotifier struct {
	retries []int
	blocked []string
}

func (n *recordingNotifier) RetryScheduled(attempt int, delay time.Duration, err error) {
	n.retries = append(n.retries, attempt)
}

func (n *recordingNotifier) CallBlocked(tool, callID string) {
	n.blocked = append(n.blocked, callID)
}

func TestRetryableErrorSchedulesRetry(t *testing.T) {
	store := sessions.NewMemoryStore()
	notifier := &recordingNotifier{}
	p := New(store, Options{
		Logger:   quietLogger(),
		Notifier: notifier,
		Retry: &backoff.Exponential{
			Policy:      backoff.Policy{InitialMs: 1, MaxMs: 2, Factor: 1, Jitter: 0},
			MaxAttempts: 3,
		},
	})
	msg := newMessage()

	verdict := runEvents(t, p, msg, []stream.Event{
		{Type: stream.EventStart},
		{Type: stream.EventError, Err: NewAPIError(529, "overloaded")},
	})

	if verdict != VerdictContinue {
		t.Fatalf("verdict = %q, want continue for a retryable failure", verdict)
	}
	if msg.Error != nil {
		t.Errorf("message error set during retry window: %+v", msg.Error)
	}
	if msg.Completed() {
		t.Error("message finalized during retry window")
	}
	if len(notifier.retries) != 1 || notifier.retries[0] != 1 {
		t.Errorf("retry notifications = %v, want [1]", notifier.retries)
	}
}

func TestRetryExhaustionStopsWithoutExtraAttempt(t *testing.T) {
	store := sessions.NewMemoryStore()
	notifier := &recordingNotifier{}
	p := New(store, Options{
		Logger:   quietLogger(),
		Notifier: notifier,
		Retry: &backoff.Exponential{
			Policy:      backoff.Policy{InitialMs: 1, MaxMs: 2, Factor: 1, Jitter: 0},
			MaxAttempts: 2,
		},
	})
	msg := newMessage()

	failOnce := func() Verdict {
		return runEvents(t, p, msg, []stream.Event{
			{Type: stream.EventStart},
			{Type: stream.EventError, Err: NewAPIError(503, "unavailable")},
		})
	}

	if v := failOnce(); v != VerdictContinue {
		t.Fatalf("attempt 1 verdict = %q, want continue", v)
	}
	if v := failOnce(); v != VerdictContinue {
		t.Fatalf("attempt 2 verdict = %q, want continue", v)
	}
	v := failOnce()
	if v != VerdictStop {
		t.Fatalf("exhausted verdict = %q, want stop", v)
	}
	if msg.Error == nil || msg.Error.Name != ErrorAPI {
		t.Errorf("message error = %+v, want api_error", msg.Error)
	}
	if len(notifier.retries) != 2 {
		t.Errorf("retry notifications = %v, want exactly 2 before exhaustion", notifier.retries)
	}
	if !msg.Completed() {
		t.Error("exhausted message not finalized")
	}
}

func TestNonRetryableErrorStopsImmediately(t *testing.T) {
	store := sessions.NewMemoryStore()
	p := New(store, Options{
		Logger: quietLogger(),
		Retry:  backoff.NewExponential(3),
	})
	msg := newMessage()

	verdict := runEvents(t, p, msg, []stream.Event{
		{Type: stream.EventStart},
		{Type: stream.EventError, Err: NewAPIError(401, "invalid api key")},
	})

	if verdict != VerdictStop {
		t.Errorf("verdict = %q, want stop", verdict)
	}
	if msg.Error == nil || msg.Error.Name != ErrorAPI {
		t.Fatalf("message error = %+v, want api_error", msg.Error)
	}
	if retr, ok := msg.Error.Data["retryable"].(bool); !ok || retr {
		t.Errorf("error data retryable = %v, want false", msg.Error.Data["retryable"])
	}
}

func TestAbortMidStreamFinalizesOpenToolCall(t *testing.T) {
	store := sessions.NewMemoryStore()
	p := New(store, Options{Logger: quietLogger()})
	msg := newMessage()

	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan stream.Event)
	go func() {
		ch <- stream.Event{Type: stream.EventStart}
		ch <- stream.Event{Type: stream.EventToolInputStart, Tool: &stream.ToolPayload{CallID: "a", Name: "bash"}}
		cancel()
	}()

	verdict := p.Process(ctx, msg, ch)

	if verdict != VerdictStop {
		t.Errorf("verdict = %q, want stop", verdict)
	}
	if msg.Error == nil || msg.Error.Name != ErrorAborted {
		t.Errorf("message error = %+v, want aborted", msg.Error)
	}
	if !msg.Completed() {
		t.Error("aborted message not finalized")
	}
	tools := toolParts(t, store, msg.ID)
	if len(tools) != 1 {
		t.Fatalf("tool parts = %d, want 1", len(tools))
	}
	if tools[0].State.Status != models.ToolError || tools[0].State.Error != ErrorAborted {
		t.Errorf("open call not finalized as aborted: %+v", tools[0].State)
	}
}

func TestMonotonicToolTransitionsIgnoreLateEvents(t *testing.T) {
	store := sessions.NewMemoryStore()
	p := New(store, Options{Logger: quietLogger()})
	msg := newMessage()

	runEvents(t, p, msg, []stream.Event{
		{Type: stream.EventStart},
		{Type: stream.EventToolCall, Tool: &stream.ToolPayload{CallID: "a", Name: "bash", Input: json.RawMessage(`{"cmd":"ls"}`)}},
		{Type: stream.EventToolResult, Tool: &stream.ToolPayload{CallID: "a", Output: "done"}},
		{Type: stream.EventToolError, Tool: &stream.ToolPayload{CallID: "a", Error: "too late"}},
		{Type: stream.EventFinish},
	})

	tools := toolParts(t, store, msg.ID)
	var settled *models.ToolPart
	for _, part := range tools {
		if part.CallID == "a" && part.State.Status == models.ToolCompleted {
			settled = part
		}
	}
	if settled == nil {
		t.Fatal("completed part missing")
	}
	if settled.State.Output != "done" {
		t.Errorf("late tool-error overwrote a terminal part: %+v", settled.State)
	}
}
