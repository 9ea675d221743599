// Package sessions persists assistant messages and their parts. It
// implements the persistence side of the processor's collaborator
// boundary; the processor itself only depends on the interface.
package sessions

import (
	"context"
	"errors"

	"github.com/adolago/agent-core-sub009/pkg/models"
)

// ErrNotFound is returned when a message does not exist.
var ErrNotFound = errors.New("message not found")

// Store persists messages and parts. Writes are idempotent per id:
// updating an existing part or message overwrites it (last-write-wins),
// since retries may re-deliver updates for the same id.
type Store interface {
	// UpdateMessage persists the message, inserting or overwriting by id.
	UpdateMessage(ctx context.Context, msg *models.AssistantMessage) error

	// UpdatePart persists a part, inserting or overwriting by id. delta
	// is the incremental text that triggered the update, present only on
	// delta events so live renderers can append instead of re-painting;
	// the persisted value is always the full part.
	UpdatePart(ctx context.Context, part models.Part, delta string) error

	// GetMessage returns the message with the given id, or ErrNotFound.
	GetMessage(ctx context.Context, id string) (*models.AssistantMessage, error)

	// ListParts returns the parts of a message in insertion order.
	ListParts(ctx context.Context, messageID string) ([]models.Part, error)

	// RecentToolParts returns up to limit tool parts for the named tool
	// within a session, most recent first.
	RecentToolParts(ctx context.Context, sessionID, tool string, limit int) ([]*models.ToolPart, error)
}
