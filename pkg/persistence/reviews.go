package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// InsertAutoReview persists a review decision.
func (s *Store) InsertAutoReview(ctx context.Context, r *AutoReview) error {
	if r.ID == "" {
		r.ID = NewID()
	}
	r.CreatedAt = s.now()
	if r.Reasons == nil {
		r.Reasons = []string{}
	}
	if r.Checks == nil {
		r.Checks = []ReviewCheck{}
	}
	reasons, err := json.Marshal(r.Reasons)
	if err != nil {
		return fmt.Errorf("failed to encode review reasons: %w", err)
	}
	checks, err := json.Marshal(r.Checks)
	if err != nil {
		return fmt.Errorf("failed to encode review checks: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO auto_reviews (id, task_id, decision, reasons, checks, repaired_content, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.TaskID, r.Decision, string(reasons), string(checks), nullString(r.RepairedContent), formatTime(r.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert auto review for %s: %w", r.TaskID, err)
	}
	return nil
}

// ListAutoReviews returns the reviews of taskID, oldest first.
func (s *Store) ListAutoReviews(ctx context.Context, taskID string) ([]*AutoReview, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, task_id, decision, reasons, checks, repaired_content, created_at
		FROM auto_reviews WHERE task_id = ? ORDER BY created_at ASC, rowid ASC`, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to list auto reviews for %s: %w", taskID, err)
	}
	defer rows.Close()

	var out []*AutoReview
	for rows.Next() {
		var (
			r               AutoReview
			reasons, checks string
			repaired        sql.NullString
			created         string
		)
		if err := rows.Scan(&r.ID, &r.TaskID, &r.Decision, &reasons, &checks, &repaired, &created); err != nil {
			return nil, fmt.Errorf("failed to scan auto review: %w", err)
		}
		_ = json.Unmarshal([]byte(reasons), &r.Reasons)
		_ = json.Unmarshal([]byte(checks), &r.Checks)
		r.RepairedContent = repaired.String
		r.CreatedAt = parseTime(created)
		out = append(out, &r)
	}
	return out, rows.Err()
}
