// Package guard detects and blocks runaway repeated tool invocations: a
// model issuing the same tool call with identical arguments over and over
// without progress.
package guard

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/adolago/agent-core-sub009/pkg/models"
)

// Policy decides what happens when the repetition threshold is reached.
type Policy string

const (
	// PolicyAllow never blocks; the guard is effectively disabled.
	PolicyAllow Policy = "allow"
	// PolicyAsk defers to the permission collaborator.
	PolicyAsk Policy = "ask"
	// PolicyDeny blocks unconditionally.
	PolicyDeny Policy = "deny"
)

// Valid reports whether p is a known policy.
func (p Policy) Valid() bool {
	switch p {
	case PolicyAllow, PolicyAsk, PolicyDeny:
		return true
	}
	return false
}

// DefaultThreshold is the number of identical terminal calls that trips
// the guard.
const DefaultThreshold = 3

// PermissionRequest is passed to the permission collaborator when the
// policy is ask.
type PermissionRequest struct {
	Tool  string          `json:"tool"`
	Input json.RawMessage `json:"input"`
	Count int             `json:"count"`
}

// PermissionFunc asks for interactive approval. It returns true to let
// the call through.
type PermissionFunc func(ctx context.Context, req PermissionRequest) (bool, error)

// Guard applies the doom-loop policy over a tool call history.
type Guard struct {
	Threshold int
	Policy    Policy
}

// New returns a guard with the given policy and the default threshold.
func New(policy Policy) *Guard {
	return &Guard{Threshold: DefaultThreshold, Policy: policy}
}

// Diagnostic returns the message recorded on a blocked tool call.
func Diagnostic(tool string, count int) string {
	return fmt.Sprintf("Doom loop detected: tool %q was invoked %d times with identical input. The call was blocked; change the input or ask the user how to proceed.", tool, count)
}

// Check decides whether a new call for tool with the given input must be
// blocked. recent holds that tool's most-recent-first parts as returned
// by the store; only terminal parts with structurally equal input count
// toward the threshold. ask may be nil; with the ask policy that is
// treated as a decline.
func (g *Guard) Check(ctx context.Context, tool string, input json.RawMessage, recent []*models.ToolPart, ask PermissionFunc) (bool, error) {
	if g == nil || g.Policy == PolicyAllow {
		return false, nil
	}
	threshold := g.Threshold
	if threshold <= 0 {
		threshold = DefaultThreshold
	}

	count := 0
	for _, p := range recent {
		if p == nil || !p.State.Status.Terminal() {
			continue
		}
		if Equal(input, p.State.Input) {
			count++
		}
	}
	if count < threshold {
		return false, nil
	}

	switch g.Policy {
	case PolicyDeny:
		return true, nil
	case PolicyAsk:
		if ask == nil {
			return true, nil
		}
		allowed, err := ask(ctx, PermissionRequest{Tool: tool, Input: input, Count: count})
		if err != nil {
			return false, err
		}
		return !allowed, nil
	default:
		return false, nil
	}
}
