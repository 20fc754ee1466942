package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// GetQueueState returns the queue singleton, idle when never written.
func (s *Store) GetQueueState(ctx context.Context) (*QueueState, error) {
	var (
		q                QueueState
		status           string
		current, started sql.NullString
		updated          string
	)
	err := s.db.QueryRowContext(ctx, `SELECT status, current_task_id, tasks_processed, tasks_remaining, started_at, updated_at
		FROM queue_state WHERE id = 1`).Scan(&status, &current, &q.TasksProcessed, &q.TasksRemaining, &started, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return &QueueState{Status: QueueIdle}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read queue state: %w", err)
	}
	q.Status = QueueStatus(status)
	q.CurrentTaskID = current.String
	q.StartedAt = parseTimePtr(started)
	q.UpdatedAt = parseTime(updated)
	return &q, nil
}

// SaveQueueState overwrites the queue singleton.
func (s *Store) SaveQueueState(ctx context.Context, q *QueueState) error {
	q.UpdatedAt = s.now()
	var started sql.NullString
	if q.StartedAt != nil {
		started = sql.NullString{String: formatTime(*q.StartedAt), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO queue_state (id, status, current_task_id, tasks_processed, tasks_remaining, started_at, updated_at)
		VALUES (1, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET status = excluded.status, current_task_id = excluded.current_task_id,
			tasks_processed = excluded.tasks_processed, tasks_remaining = excluded.tasks_remaining,
			started_at = excluded.started_at, updated_at = excluded.updated_at`,
		string(q.Status), nullString(q.CurrentTaskID), q.TasksProcessed, q.TasksRemaining, started, formatTime(q.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to save queue state: %w", err)
	}
	return nil
}
