package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const resultColumns = `id, task_id, agent_id, prompt, response, tokens_used, cost_usd, duration_ms, status, superseded, created_at`

func scanResult(row rowScanner) (*TaskResult, error) {
	var (
		r       TaskResult
		status  string
		created string
		sup     int
	)
	if err := row.Scan(&r.ID, &r.TaskID, &r.AgentID, &r.Prompt, &r.Response, &r.TokensUsed, &r.CostUSD,
		&r.DurationMs, &status, &sup, &created); err != nil {
		return nil, err
	}
	r.Status = ResultStatus(status)
	r.Superseded = sup != 0
	r.CreatedAt = parseTime(created)
	return &r, nil
}

func insertResult(ctx context.Context, tx *sql.Tx, r *TaskResult, now time.Time) error {
	if r.ID == "" {
		r.ID = NewID()
	}
	r.CreatedAt = now
	_, err := tx.ExecContext(ctx, `INSERT INTO task_results
		(id, task_id, agent_id, prompt, response, tokens_used, cost_usd, duration_ms, status, superseded, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?)`,
		r.ID, r.TaskID, r.AgentID, r.Prompt, r.Response, r.TokensUsed, r.CostUSD, r.DurationMs,
		string(r.Status), formatTime(now))
	if err != nil {
		return fmt.Errorf("failed to insert task result for %s: %w", r.TaskID, err)
	}
	return nil
}

// LatestCompletedResult returns the newest live (not superseded) completed
// result for taskID.
func (s *Store) LatestCompletedResult(ctx context.Context, taskID string) (*TaskResult, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+resultColumns+` FROM task_results
		WHERE task_id = ? AND status = 'completed' AND superseded = 0
		ORDER BY created_at DESC, rowid DESC LIMIT 1`, taskID)
	r, err := scanResult(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("completed result for task %s: %w", taskID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load result for task %s: %w", taskID, err)
	}
	return r, nil
}

// ListResults returns every result for taskID, oldest first, including
// errors and superseded attempts.
func (s *Store) ListResults(ctx context.Context, taskID string) ([]*TaskResult, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+resultColumns+` FROM task_results
		WHERE task_id = ? ORDER BY created_at ASC, rowid ASC`, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to list results for %s: %w", taskID, err)
	}
	defer rows.Close()
	var out []*TaskResult
	for rows.Next() {
		r, err := scanResult(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// CompletedResultsSince returns live completed results created at or after since.
func (s *Store) CompletedResultsSince(ctx context.Context, since time.Time) ([]*TaskResult, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+resultColumns+` FROM task_results
		WHERE status = 'completed' AND superseded = 0 AND created_at >= ?
		ORDER BY created_at ASC`, formatTime(since))
	if err != nil {
		return nil, fmt.Errorf("failed to list recent results: %w", err)
	}
	defer rows.Close()
	var out []*TaskResult
	for rows.Next() {
		r, err := scanResult(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// SupersedeResults marks every live completed result of taskID superseded
// and returns how many rows changed. Rows are never deleted.
func (s *Store) SupersedeResults(ctx context.Context, taskID string) (int, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE task_results SET superseded = 1
		WHERE task_id = ? AND status = 'completed' AND superseded = 0`, taskID)
	if err != nil {
		return 0, fmt.Errorf("failed to supersede results for %s: %w", taskID, err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// InsertResult records a result without touching task or agent state. The
// execution path uses CompleteExecution and FailExecution instead.
func (s *Store) InsertResult(ctx context.Context, r *TaskResult) error {
	if r.Status == "" {
		r.Status = ResultCompleted
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return insertResult(ctx, tx, r, s.now())
	})
}
