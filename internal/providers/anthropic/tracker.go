package anthropic

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/adolago/agent-core-sub009/internal/stream"
)

type blockKind int

const (
	blockText blockKind = iota
	blockThinking
	blockTool
)

// block is one in-flight content block, keyed by the provider's block
// index.
type block struct {
	kind  blockKind
	id    string
	name  string
	input strings.Builder
}

// tracker folds the provider's indexed content blocks into ordered
// processor events. It is pure state: the SSE loop feeds it and emits
// whatever it returns.
type tracker struct {
	blocks     map[int64]*block
	usage      stream.RawUsage
	cacheWrite int64
	reason     string
	toolSeq    int
}

func newTracker() *tracker {
	return &tracker{blocks: make(map[int64]*block)}
}

func (t *tracker) messageStart(inputTokens, cacheRead, cacheWrite int64) {
	t.usage.InputTokens = inputTokens
	t.usage.CachedInputTokens = cacheRead
	t.cacheWrite = cacheWrite
}

func (t *tracker) messageDelta(outputTokens int64, stopReason string) {
	if outputTokens > 0 {
		t.usage.OutputTokens = outputTokens
	}
	if stopReason != "" {
		t.reason = stopReason
	}
}

func (t *tracker) startText(index int64) []stream.Event {
	t.blocks[index] = &block{kind: blockText}
	return []stream.Event{{Type: stream.EventTextStart}}
}

func (t *tracker) startThinking(index int64) []stream.Event {
	t.blocks[index] = &block{kind: blockThinking, id: reasoningID(index)}
	return []stream.Event{{
		Type:      stream.EventReasoningStart,
		Reasoning: &stream.ReasoningPayload{ID: reasoningID(index)},
	}}
}

func (t *tracker) startTool(index int64, callID, name string) []stream.Event {
	if callID == "" {
		t.toolSeq++
		callID = fmt.Sprintf("call_%d", t.toolSeq)
	}
	t.blocks[index] = &block{kind: blockTool, id: callID, name: name}
	return []stream.Event{{
		Type: stream.EventToolInputStart,
		Tool: &stream.ToolPayload{CallID: callID, Name: name},
	}}
}

func (t *tracker) textDelta(index int64, text string) []stream.Event {
	if text == "" {
		return nil
	}
	if _, open := t.blocks[index]; !open {
		t.blocks[index] = &block{kind: blockText}
	}
	return []stream.Event{{
		Type: stream.EventTextDelta,
		Text: &stream.TextPayload{Text: text},
	}}
}

func (t *tracker) thinkingDelta(index int64, text string) []stream.Event {
	if text == "" {
		return nil
	}
	if _, open := t.blocks[index]; !open {
		t.blocks[index] = &block{kind: blockThinking, id: reasoningID(index)}
	}
	return []stream.Event{{
		Type:      stream.EventReasoningDelta,
		Reasoning: &stream.ReasoningPayload{ID: t.blocks[index].id, Text: text},
	}}
}

func (t *tracker) inputDelta(index int64, partial string) []stream.Event {
	b, open := t.blocks[index]
	if !open || b.kind != blockTool {
		return nil
	}
	b.input.WriteString(partial)
	return nil
}

// stopBlock closes the block at index. A text block ends the open text
// part, a thinking block its reasoning channel, and a tool block yields
// the assembled tool-call.
func (t *tracker) stopBlock(index int64) []stream.Event {
	b, open := t.blocks[index]
	if !open {
		return nil
	}
	delete(t.blocks, index)

	switch b.kind {
	case blockText:
		return []stream.Event{{Type: stream.EventTextEnd}}
	case blockThinking:
		return []stream.Event{{
			Type:      stream.EventReasoningEnd,
			Reasoning: &stream.ReasoningPayload{ID: b.id},
		}}
	case blockTool:
		raw := strings.TrimSpace(b.input.String())
		if raw == "" {
			raw = "{}"
		}
		return []stream.Event{{
			Type: stream.EventToolCall,
			Tool: &stream.ToolPayload{
				CallID: b.id,
				Name:   b.name,
				Input:  json.RawMessage(raw),
			},
		}}
	}
	return nil
}

// finish closes any blocks the provider left open and emits the step
// boundary with raw usage, then the stream end marker.
func (t *tracker) finish() []stream.Event {
	var out []stream.Event
	for index := range t.blocks {
		out = append(out, t.stopBlock(index)...)
	}
	meta := map[string]any{
		"anthropic": map[string]any{
			"cacheCreationInputTokens": t.cacheWrite,
		},
	}
	out = append(out,
		stream.Event{Type: stream.EventStepFinish, Step: &stream.StepPayload{
			Reason:           t.reason,
			Usage:            t.usage,
			ProviderMetadata: meta,
		}},
		stream.Event{Type: stream.EventFinish},
	)
	return out
}

func reasoningID(index int64) string {
	return fmt.Sprintf("thinking_%d", index)
}
