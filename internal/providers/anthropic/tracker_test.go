package anthropic

import (
	"testing"

	"github.com/adolago/agent-core-sub009/internal/stream"
)

func types(events []stream.Event) []stream.EventType {
	out := make([]stream.EventType, len(events))
	for i, ev := range events {
		out[i] = ev.Type
	}
	return out
}

func TestTrackerTextBlock(t *testing.T) {
	tr := newTracker()

	if got := types(tr.startText(0)); got[0] != stream.EventTextStart {
		t.Errorf("start = %v", got)
	}
	evs := tr.textDelta(0, "hello")
	if evs[0].Text.Text != "hello" {
		t.Errorf("delta text = %q", evs[0].Text.Text)
	}
	if got := types(tr.stopBlock(0)); got[0] != stream.EventTextEnd {
		t.Errorf("stop = %v", got)
	}
	if evs := tr.stopBlock(0); evs != nil {
		t.Errorf("double stop produced events: %v", evs)
	}
}

func TestTrackerToolBlockAssemblesInput(t *testing.T) {
	tr := newTracker()

	evs := tr.startTool(1, "toolu_01", "bash")
	if evs[0].Tool.CallID != "toolu_01" || evs[0].Tool.Name != "bash" {
		t.Fatalf("tool-input-start payload = %+v", evs[0].Tool)
	}
	tr.inputDelta(1, `{"cmd"`)
	tr.inputDelta(1, `:"ls"}`)

	evs = tr.stopBlock(1)
	if evs[0].Type != stream.EventToolCall {
		t.Fatalf("stop type = %v", evs[0].Type)
	}
	if string(evs[0].Tool.Input) != `{"cmd":"ls"}` {
		t.Errorf("assembled input = %s", evs[0].Tool.Input)
	}
}

func TestTrackerToolBlockEmptyInputDefaultsToObject(t *testing.T) {
	tr := newTracker()
	tr.startTool(0, "toolu_02", "list")
	evs := tr.stopBlock(0)
	if string(evs[0].Tool.Input) != "{}" {
		t.Errorf("empty input = %s, want {}", evs[0].Tool.Input)
	}
}

func TestTrackerGeneratesCallIDWhenMissing(t *testing.T) {
	tr := newTracker()
	first := tr.startTool(0, "", "bash")
	second := tr.startTool(1, "", "bash")
	if first[0].Tool.CallID == "" || first[0].Tool.CallID == second[0].Tool.CallID {
		t.Errorf("generated ids not unique: %q vs %q", first[0].Tool.CallID, second[0].Tool.CallID)
	}
}

func TestTrackerThinkingChannel(t *testing.T) {
	tr := newTracker()

	evs := tr.startThinking(2)
	id := evs[0].Reasoning.ID
	if id == "" {
		t.Fatal("no reasoning stream id assigned")
	}
	evs = tr.thinkingDelta(2, "pondering")
	if evs[0].Reasoning.ID != id {
		t.Errorf("delta id %q does not match start id %q", evs[0].Reasoning.ID, id)
	}
	evs = tr.stopBlock(2)
	if evs[0].Type != stream.EventReasoningEnd || evs[0].Reasoning.ID != id {
		t.Errorf("end event = %+v", evs[0])
	}
}

func TestTrackerFinishCarriesUsage(t *testing.T) {
	tr := newTracker()
	tr.messageStart(100, 40, 5)
	tr.messageDelta(25, "end_turn")

	evs := tr.finish()
	if len(evs) < 2 {
		t.Fatalf("finish events = %v", types(evs))
	}
	step := evs[len(evs)-2]
	if step.Type != stream.EventStepFinish {
		t.Fatalf("penultimate event = %v, want step-finish", step.Type)
	}
	if step.Step.Reason != "end_turn" {
		t.Errorf("reason = %q", step.Step.Reason)
	}
	if step.Step.Usage.InputTokens != 100 || step.Step.Usage.CachedInputTokens != 40 || step.Step.Usage.OutputTokens != 25 {
		t.Errorf("usage = %+v", step.Step.Usage)
	}
	meta, ok := step.Step.ProviderMetadata["anthropic"].(map[string]any)
	if !ok || meta["cacheCreationInputTokens"] != int64(5) {
		t.Errorf("provider metadata = %+v", step.Step.ProviderMetadata)
	}
	if evs[len(evs)-1].Type != stream.EventFinish {
		t.Errorf("last event = %v, want finish", evs[len(evs)-1].Type)
	}
}

func TestTrackerFinishClosesDanglingBlocks(t *testing.T) {
	tr := newTracker()
	tr.startText(0)
	tr.textDelta(0, "partial")

	evs := tr.finish()
	if evs[0].Type != stream.EventTextEnd {
		t.Errorf("dangling text block not closed first: %v", types(evs))
	}
}
