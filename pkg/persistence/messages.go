package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// PostMessage appends a message to the notification log.
func (s *Store) PostMessage(ctx context.Context, m *Message) error {
	if m.ID == "" {
		m.ID = NewID()
	}
	if m.Type == "" {
		m.Type = MessageChat
	}
	if m.FromAgentID == "" {
		m.FromAgentID = SystemSender
	}
	m.CreatedAt = s.now()
	_, err := s.db.ExecContext(ctx, `INSERT INTO messages (id, from_agent_id, to_agent_id, content, type, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		m.ID, m.FromAgentID, nullString(m.ToAgentID), m.Content, m.Type, formatTime(m.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to post message: %w", err)
	}
	return nil
}

// SystemMessage is shorthand for posting a message from the system sender.
func (s *Store) SystemMessage(ctx context.Context, msgType, content string) error {
	return s.PostMessage(ctx, &Message{FromAgentID: SystemSender, Type: msgType, Content: content})
}

// ListMessages returns up to limit messages newer than since, newest first.
func (s *Store) ListMessages(ctx context.Context, since time.Time, limit int) ([]*Message, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, from_agent_id, to_agent_id, content, type, created_at
		FROM messages WHERE created_at >= ? ORDER BY created_at DESC, rowid DESC LIMIT ?`,
		formatTime(since), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	var out []*Message
	for rows.Next() {
		var (
			m       Message
			to      sql.NullString
			created string
		)
		if err := rows.Scan(&m.ID, &m.FromAgentID, &to, &m.Content, &m.Type, &created); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		m.ToAgentID = to.String
		m.CreatedAt = parseTime(created)
		out = append(out, &m)
	}
	return out, rows.Err()
}
