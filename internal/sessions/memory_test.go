package sessions

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/adolago/agent-core-sub009/pkg/models"
)

func TestMemoryStoreMessageRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	msg := &models.AssistantMessage{ID: "msg_1", SessionID: "ses_1", ModelID: "m"}
	if err := store.UpdateMessage(ctx, msg); err != nil {
		t.Fatalf("UpdateMessage: %v", err)
	}

	// Last write wins.
	msg.Cost = 0.25
	if err := store.UpdateMessage(ctx, msg); err != nil {
		t.Fatalf("UpdateMessage: %v", err)
	}

	got, err := store.GetMessage(ctx, "msg_1")
	if err != nil {
		t.Fatalf("GetMessage: %v", err)
	}
	if got.Cost != 0.25 {
		t.Fatalf("cost = %v, want 0.25", got.Cost)
	}

	if _, err := store.GetMessage(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetMessage(missing) = %v, want ErrNotFound", err)
	}
}

func TestMemoryStorePartsOrderAndIsolation(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	text := &models.TextPart{
		PartBase: models.PartBase{ID: "p1", MessageID: "msg_1", SessionID: "ses_1"},
		Text:     "hel",
	}
	if err := store.UpdatePart(ctx, text, "hel"); err != nil {
		t.Fatalf("UpdatePart: %v", err)
	}

	tool := &models.ToolPart{
		PartBase: models.PartBase{ID: "p2", MessageID: "msg_1", SessionID: "ses_1"},
		CallID:   "c1",
		Tool:     "bash",
		State:    models.ToolState{Status: models.ToolPending},
	}
	if err := store.UpdatePart(ctx, tool, ""); err != nil {
		t.Fatalf("UpdatePart: %v", err)
	}

	// Mutating the live part must not change what was persisted.
	text.Text = "hello"

	parts, err := store.ListParts(ctx, "msg_1")
	if err != nil {
		t.Fatalf("ListParts: %v", err)
	}
	if len(parts) != 2 {
		t.Fatalf("got %d parts, want 2", len(parts))
	}
	if got := parts[0].(*models.TextPart).Text; got != "hel" {
		t.Fatalf("persisted text = %q, want snapshot %q", got, "hel")
	}

	// Re-update keeps insertion order.
	if err := store.UpdatePart(ctx, text, "lo"); err != nil {
		t.Fatalf("UpdatePart: %v", err)
	}
	parts, _ = store.ListParts(ctx, "msg_1")
	if parts[0].Base().ID != "p1" || parts[1].Base().ID != "p2" {
		t.Fatalf("order = %s, %s", parts[0].Base().ID, parts[1].Base().ID)
	}
	if got := parts[0].(*models.TextPart).Text; got != "hello" {
		t.Fatalf("updated text = %q, want hello", got)
	}
}

func TestMemoryStoreRecentToolParts(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	for i, id := range []string{"t1", "t2", "t3"} {
		p := &models.ToolPart{
			PartBase: models.PartBase{ID: id, MessageID: "msg_1", SessionID: "ses_1"},
			CallID:   id,
			Tool:     "bash",
			State: models.ToolState{
				Status: models.ToolCompleted,
				Input:  json.RawMessage(`{"cmd":"ls"}`),
				Time:   models.TimeSpan{Start: int64(i), End: int64(i + 1)},
			},
		}
		if err := store.UpdatePart(ctx, p, ""); err != nil {
			t.Fatalf("UpdatePart: %v", err)
		}
	}
	// A different tool and a different session must not be returned.
	other := &models.ToolPart{
		PartBase: models.PartBase{ID: "t4", MessageID: "msg_1", SessionID: "ses_1"},
		Tool:     "grep",
		State:    models.ToolState{Status: models.ToolCompleted},
	}
	_ = store.UpdatePart(ctx, other, "")
	foreign := &models.ToolPart{
		PartBase: models.PartBase{ID: "t5", MessageID: "msg_2", SessionID: "ses_2"},
		Tool:     "bash",
		State:    models.ToolState{Status: models.ToolCompleted},
	}
	_ = store.UpdatePart(ctx, foreign, "")

	parts, err := store.RecentToolParts(ctx, "ses_1", "bash", 2)
	if err != nil {
		t.Fatalf("RecentToolParts: %v", err)
	}
	if len(parts) != 2 {
		t.Fatalf("got %d parts, want 2", len(parts))
	}
	// Most recent first.
	if parts[0].CallID != "t3" || parts[1].CallID != "t2" {
		t.Fatalf("order = %s, %s; want t3, t2", parts[0].CallID, parts[1].CallID)
	}
}
