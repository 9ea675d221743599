package sessions

import (
	"context"
	"errors"
	"sync"

	"github.com/adolago/agent-core-sub009/pkg/models"
)

// MemoryStore provides an in-memory Store implementation for testing and
// local runs.
type MemoryStore struct {
	mu       sync.RWMutex
	messages map[string]*models.AssistantMessage
	parts    map[string]models.Part // by part id
	order    []string               // part ids in insertion order
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		messages: map[string]*models.AssistantMessage{},
		parts:    map[string]models.Part{},
	}
}

// UpdateMessage implements Store.
func (m *MemoryStore) UpdateMessage(ctx context.Context, msg *models.AssistantMessage) error {
	if msg == nil || msg.ID == "" {
		return errors.New("message with id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	clone := *msg
	m.messages[msg.ID] = &clone
	return nil
}

// UpdatePart implements Store. The delta is ignored; the full part is the
// authoritative value.
func (m *MemoryStore) UpdatePart(ctx context.Context, part models.Part, _ string) error {
	if part == nil || part.Base().ID == "" {
		return errors.New("part with id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	// Store a decoupled copy so later in-place mutation by the processor
	// does not leak into persisted state before the next update.
	clone, err := clonePart(part)
	if err != nil {
		return err
	}
	id := part.Base().ID
	if _, exists := m.parts[id]; !exists {
		m.order = append(m.order, id)
	}
	m.parts[id] = clone
	return nil
}

// GetMessage implements Store.
func (m *MemoryStore) GetMessage(ctx context.Context, id string) (*models.AssistantMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	msg, ok := m.messages[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *msg
	return &clone, nil
}

// ListParts implements Store.
func (m *MemoryStore) ListParts(ctx context.Context, messageID string) ([]models.Part, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var parts []models.Part
	for _, id := range m.order {
		p := m.parts[id]
		if p.Base().MessageID == messageID {
			parts = append(parts, p)
		}
	}
	return parts, nil
}

// RecentToolParts implements Store.
func (m *MemoryStore) RecentToolParts(ctx context.Context, sessionID, tool string, limit int) ([]*models.ToolPart, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var parts []*models.ToolPart
	for i := len(m.order) - 1; i >= 0 && (limit <= 0 || len(parts) < limit); i-- {
		tp, ok := m.parts[m.order[i]].(*models.ToolPart)
		if !ok {
			continue
		}
		if tp.SessionID == sessionID && tp.Tool == tool {
			parts = append(parts, tp)
		}
	}
	return parts, nil
}

func clonePart(p models.Part) (models.Part, error) {
	data, err := models.MarshalPart(p)
	if err != nil {
		return nil, err
	}
	return models.UnmarshalPart(data)
}
