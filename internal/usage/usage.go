// Package usage normalizes provider-reported token counts into token
// buckets and computes cost from a per-model pricing table.
package usage

import (
	"github.com/adolago/agent-core-sub009/internal/stream"
	"github.com/adolago/agent-core-sub009/pkg/models"
)

// Pricing holds rates per one million tokens for a model.
type Pricing struct {
	Input      float64 `json:"input" yaml:"input"`
	Output     float64 `json:"output" yaml:"output"`
	CacheRead  float64 `json:"cache_read" yaml:"cache_read"`
	CacheWrite float64 `json:"cache_write" yaml:"cache_write"`
}

// Provider metadata keys whose presence marks providers that already
// include cached tokens inside their reported input total.
var cacheInclusiveMarkers = []string{"anthropic", "bedrock"}

// Compute maps raw provider token counts to normalized buckets and total
// cost.
//
// Reasoning tokens are billed at the output rate but kept in their own
// bucket for reporting. Anthropic and Bedrock report input totals that
// already include cached tokens, so their input count is used as-is; for
// every other provider the cached count is subtracted from input to avoid
// double-counting. Cache write tokens are only known when the provider
// metadata carries them (anthropic cacheCreationInputTokens). All buckets
// are floored at zero.
func Compute(raw stream.RawUsage, pricing Pricing, providerMetadata map[string]any) (models.TokenUsage, float64) {
	input := raw.InputTokens
	if !cacheInclusiveInput(providerMetadata) {
		input -= raw.CachedInputTokens
	}

	tokens := models.TokenUsage{
		Input:     floor0(input),
		Output:    floor0(raw.OutputTokens),
		Reasoning: floor0(raw.ReasoningTokens),
		Cache: models.CacheUsage{
			Read:  floor0(raw.CachedInputTokens),
			Write: floor0(cacheWriteTokens(providerMetadata)),
		},
	}

	cost := (float64(tokens.Input)*pricing.Input +
		float64(tokens.Output)*pricing.Output +
		float64(tokens.Reasoning)*pricing.Output +
		float64(tokens.Cache.Read)*pricing.CacheRead +
		float64(tokens.Cache.Write)*pricing.CacheWrite) / 1_000_000

	return tokens, cost
}

func cacheInclusiveInput(meta map[string]any) bool {
	for _, marker := range cacheInclusiveMarkers {
		if _, ok := meta[marker]; ok {
			return true
		}
	}
	return false
}

func cacheWriteTokens(meta map[string]any) int64 {
	a, ok := meta["anthropic"].(map[string]any)
	if !ok {
		return 0
	}
	switch v := a["cacheCreationInputTokens"].(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	case int:
		return int64(v)
	default:
		return 0
	}
}

func floor0(n int64) int64 {
	if n < 0 {
		return 0
	}
	return n
}
