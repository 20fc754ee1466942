package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Activity event types.
const (
	EventTaskStarted     = "task_started"
	EventTaskCompleted   = "task_completed"
	EventTaskFailed      = "task_failed"
	EventTaskCreated     = "task_created"
	EventAutoReview      = "auto_review"
	EventHumanReview     = "human_review"
	EventDedupBlocked    = "dedup_blocked"
	EventWIPCapped       = "wip_capped"
	EventStagingBlocked  = "staging_blocked"
	EventProducerBatch   = "producer_batch"
	EventAutoRefill      = "auto_refill"
	EventQueueTransition = "queue"
	EventContentQueued   = "content_queued"
)

// LogActivity appends an audit entry.
func (s *Store) LogActivity(ctx context.Context, a *Activity) error {
	if a.ID == "" {
		a.ID = NewID()
	}
	if a.Metadata == nil {
		a.Metadata = map[string]any{}
	}
	meta, err := json.Marshal(a.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode activity metadata: %w", err)
	}
	a.CreatedAt = s.now()
	_, err = s.db.ExecContext(ctx, `INSERT INTO activity_log (id, event_type, title, description, agent_id, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.EventType, a.Title, a.Description, nullString(a.AgentID), string(meta), formatTime(a.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to log activity %s: %w", a.EventType, err)
	}
	return nil
}

// ActivityFilter narrows activity queries. Zero fields match everything.
type ActivityFilter struct {
	Since       time.Time
	EventType   string
	TitlePrefix string
	Limit       int
}

func (f ActivityFilter) where() (string, []any) {
	clause := `created_at >= ?`
	args := []any{formatTime(f.Since)}
	if f.EventType != "" {
		clause += ` AND event_type = ?`
		args = append(args, f.EventType)
	}
	if f.TitlePrefix != "" {
		clause += ` AND substr(title, 1, ?) = ?`
		args = append(args, len(f.TitlePrefix), f.TitlePrefix)
	}
	return clause, args
}

// CountActivity counts entries matching f.
func (s *Store) CountActivity(ctx context.Context, f ActivityFilter) (int, error) {
	clause, args := f.where()
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM activity_log WHERE `+clause, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count activity: %w", err)
	}
	return n, nil
}

// ListActivity returns entries matching f, newest first.
func (s *Store) ListActivity(ctx context.Context, f ActivityFilter) ([]*Activity, error) {
	clause, args := f.where()
	query := `SELECT id, event_type, title, description, agent_id, metadata, created_at
		FROM activity_log WHERE ` + clause + ` ORDER BY created_at DESC, rowid DESC`
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list activity: %w", err)
	}
	defer rows.Close()

	var out []*Activity
	for rows.Next() {
		var (
			a       Activity
			agent   sql.NullString
			meta    string
			created string
		)
		if err := rows.Scan(&a.ID, &a.EventType, &a.Title, &a.Description, &agent, &meta, &created); err != nil {
			return nil, fmt.Errorf("failed to scan activity: %w", err)
		}
		a.AgentID = agent.String
		if err := json.Unmarshal([]byte(meta), &a.Metadata); err != nil || a.Metadata == nil {
			a.Metadata = map[string]any{}
		}
		a.CreatedAt = parseTime(created)
		out = append(out, &a)
	}
	return out, rows.Err()
}
