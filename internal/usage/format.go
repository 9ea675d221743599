package usage

import (
	"fmt"
	"math"

	"github.com/adolago/agent-core-sub009/pkg/models"
)

// FormatTokenCount formats a token count for display.
func FormatTokenCount(count int64) string {
	if count <= 0 {
		return "0"
	}
	if count >= 1_000_000 {
		return fmt.Sprintf("%.1fm", float64(count)/1_000_000)
	}
	if count >= 10_000 {
		return fmt.Sprintf("%dk", count/1_000)
	}
	if count >= 1_000 {
		return fmt.Sprintf("%.1fk", float64(count)/1_000)
	}
	return fmt.Sprintf("%d", count)
}

// FormatUSD formats a dollar amount for display. Zero and non-finite
// amounts render empty.
func FormatUSD(amount float64) string {
	if amount <= 0 || math.IsNaN(amount) || math.IsInf(amount, 0) {
		return ""
	}
	if amount >= 0.01 {
		return fmt.Sprintf("$%.2f", amount)
	}
	return fmt.Sprintf("$%.4f", amount)
}

// FormatTokens renders a usage breakdown for display.
func FormatTokens(u models.TokenUsage) string {
	out := fmt.Sprintf("in: %s, out: %s", FormatTokenCount(u.Input), FormatTokenCount(u.Output))
	if u.Reasoning > 0 {
		out += fmt.Sprintf(", reasoning: %s", FormatTokenCount(u.Reasoning))
	}
	if u.Cache.Read > 0 {
		out += fmt.Sprintf(", cache-r: %s", FormatTokenCount(u.Cache.Read))
	}
	if u.Cache.Write > 0 {
		out += fmt.Sprintf(", cache-w: %s", FormatTokenCount(u.Cache.Write))
	}
	return out
}
