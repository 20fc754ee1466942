package persistence

import (
	"context"
	"database/sql"
	"fmt"
)

// BeginExecution moves a todo task to in_progress and marks its agent busy
// with a back-reference, atomically. It fails with ErrConflict if the task
// is no longer todo or the agent already holds a task.
func (s *Store) BeginExecution(ctx context.Context, taskID, agentID string) error {
	now := formatTime(s.now())
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE tasks SET status = 'in_progress', updated_at = ?
			WHERE id = ? AND status = 'todo'`, now, taskID)
		if err != nil {
			return fmt.Errorf("failed to start task %s: %w", taskID, err)
		}
		if err := expectOneRow(res, "start task "+taskID); err != nil {
			return err
		}

		res, err = tx.ExecContext(ctx, `UPDATE agents SET status = 'busy', current_task_id = ?, updated_at = ?
			WHERE id = ? AND (current_task_id IS NULL OR current_task_id = '')`, taskID, now, agentID)
		if err != nil {
			return fmt.Errorf("failed to mark agent %s busy: %w", agentID, err)
		}
		return expectOneRow(res, "claim agent "+agentID)
	})
}

// FailExecution rolls an in-progress task back to todo, frees its agent and
// records the error result. Repeating it after the task left in_progress
// only records the result.
func (s *Store) FailExecution(ctx context.Context, taskID, agentID string, r *TaskResult) error {
	now := s.now()
	ts := formatTime(now)
	r.TaskID = taskID
	r.AgentID = agentID
	r.Status = ResultError
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `UPDATE tasks SET status = 'todo', updated_at = ?
			WHERE id = ? AND status = 'in_progress'`, ts, taskID); err != nil {
			return fmt.Errorf("failed to reset task %s: %w", taskID, err)
		}
		if _, err := tx.ExecContext(ctx, `UPDATE agents SET status = 'online', current_task_id = NULL, updated_at = ?
			WHERE id = ? AND (current_task_id = ? OR current_task_id IS NULL)`, ts, agentID, taskID); err != nil {
			return fmt.Errorf("failed to free agent %s: %w", agentID, err)
		}
		return insertResult(ctx, tx, r, now)
	})
}

// CompleteExecution records a completed result, moves the task to review,
// and releases the agent while bumping its counters.
func (s *Store) CompleteExecution(ctx context.Context, taskID, agentID string, r *TaskResult) error {
	now := s.now()
	ts := formatTime(now)
	r.TaskID = taskID
	r.AgentID = agentID
	r.Status = ResultCompleted
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE tasks SET status = 'review', actual_tokens = actual_tokens + ?, updated_at = ?
			WHERE id = ? AND status = 'in_progress'`, r.TokensUsed, ts, taskID)
		if err != nil {
			return fmt.Errorf("failed to move task %s to review: %w", taskID, err)
		}
		if err := expectOneRow(res, "complete task "+taskID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `UPDATE agents SET status = 'online', current_task_id = NULL,
				tokens_used = tokens_used + ?, cost_usd = cost_usd + ?, tasks_completed = tasks_completed + 1,
				updated_at = ?
			WHERE id = ?`, r.TokensUsed, r.CostUSD, ts, agentID); err != nil {
			return fmt.Errorf("failed to update agent %s: %w", agentID, err)
		}
		return insertResult(ctx, tx, r, now)
	})
}
