package sessions

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/adolago/agent-core-sub009/pkg/models"
)

// SQLStore implements Store on top of database/sql. It targets SQLite
// (modernc.org/sqlite) but uses only portable SQL, so any driver with
// upsert support works. Messages and parts are stored as JSON documents
// with the columns needed for lookups broken out.
type SQLStore struct {
	db  *sql.DB
	seq atomic.Int64
}

const schema = `
CREATE TABLE IF NOT EXISTS messages (
	id         TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	data       TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id);

CREATE TABLE IF NOT EXISTS parts (
	id         TEXT PRIMARY KEY,
	message_id TEXT NOT NULL,
	session_id TEXT NOT NULL,
	kind       TEXT NOT NULL,
	tool       TEXT NOT NULL DEFAULT '',
	seq        INTEGER NOT NULL,
	data       TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_parts_message ON parts(message_id, seq);
CREATE INDEX IF NOT EXISTS idx_parts_tool ON parts(session_id, kind, tool, seq);
`

// NewSQLStore creates a store over an open database handle and ensures
// the schema exists.
func NewSQLStore(ctx context.Context, db *sql.DB) (*SQLStore, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("init schema: %w", err)
	}
	s := &SQLStore{db: db}
	// Resume the insertion sequence after the highest persisted value.
	var max sql.NullInt64
	if err := db.QueryRowContext(ctx, `SELECT MAX(seq) FROM parts`).Scan(&max); err == nil && max.Valid {
		s.seq.Store(max.Int64)
	}
	return s, nil
}

// DB exposes the underlying handle for callers that manage its lifecycle.
func (s *SQLStore) DB() *sql.DB { return s.db }

// UpdateMessage implements Store.
func (s *SQLStore) UpdateMessage(ctx context.Context, msg *models.AssistantMessage) error {
	if msg == nil || msg.ID == "" {
		return errors.New("message with id is required")
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO messages (id, session_id, data) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET data = excluded.data`,
		msg.ID, msg.SessionID, string(data))
	return err
}

// UpdatePart implements Store. Re-updates keep the part's original
// insertion sequence so ordering is stable across rewrites.
func (s *SQLStore) UpdatePart(ctx context.Context, part models.Part, _ string) error {
	if part == nil || part.Base().ID == "" {
		return errors.New("part with id is required")
	}
	data, err := models.MarshalPart(part)
	if err != nil {
		return err
	}
	base := part.Base()
	tool := ""
	if tp, ok := part.(*models.ToolPart); ok {
		tool = tp.Tool
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO parts (id, message_id, session_id, kind, tool, seq, data)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET data = excluded.data`,
		base.ID, base.MessageID, base.SessionID, string(part.Kind()), tool, s.seq.Add(1), string(data))
	return err
}

// GetMessage implements Store.
func (s *SQLStore) GetMessage(ctx context.Context, id string) (*models.AssistantMessage, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM messages WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var msg models.AssistantMessage
	if err := json.Unmarshal([]byte(data), &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// ListParts implements Store.
func (s *SQLStore) ListParts(ctx context.Context, messageID string) ([]models.Part, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT data FROM parts WHERE message_id = ? ORDER BY seq ASC`, messageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var parts []models.Part
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		p, err := models.UnmarshalPart([]byte(data))
		if err != nil {
			return nil, err
		}
		parts = append(parts, p)
	}
	return parts, rows.Err()
}

// RecentToolParts implements Store.
func (s *SQLStore) RecentToolParts(ctx context.Context, sessionID, tool string, limit int) ([]*models.ToolPart, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT data FROM parts
		WHERE session_id = ? AND kind = ? AND tool = ?
		ORDER BY seq DESC LIMIT ?`,
		sessionID, string(models.PartTool), tool, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var parts []*models.ToolPart
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		p, err := models.UnmarshalPart([]byte(data))
		if err != nil {
			return nil, err
		}
		tp, ok := p.(*models.ToolPart)
		if !ok {
			return nil, fmt.Errorf("part %s: kind mismatch", p.Base().ID)
		}
		parts = append(parts, tp)
	}
	return parts, rows.Err()
}
