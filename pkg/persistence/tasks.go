package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

const taskColumns = `id, title, description, status, priority, assignee_id, tags, depends_on,
	chain_context, retry_count, actual_tokens, created_at, updated_at, completed_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*Task, error) {
	var (
		t                   Task
		assignee, completed sql.NullString
		tags, deps          string
		created, updated    string
		status, priority    string
	)
	if err := row.Scan(&t.ID, &t.Title, &t.Description, &status, &priority, &assignee, &tags, &deps,
		&t.ChainContext, &t.RetryCount, &t.ActualTokens, &created, &updated, &completed); err != nil {
		return nil, err
	}
	t.Status = TaskStatus(status)
	t.Priority = Priority(priority)
	t.AssigneeID = assignee.String
	t.CreatedAt = parseTime(created)
	t.UpdatedAt = parseTime(updated)
	t.CompletedAt = parseTimePtr(completed)
	if err := json.Unmarshal([]byte(tags), &t.Tags); err != nil {
		t.Tags = nil
	}
	if err := json.Unmarshal([]byte(deps), &t.DependsOn); err != nil {
		t.DependsOn = nil
	}
	if t.Tags == nil {
		t.Tags = []string{}
	}
	if t.DependsOn == nil {
		t.DependsOn = []string{}
	}
	return &t, nil
}

func (s *Store) queryTasks(ctx context.Context, query string, args ...any) ([]*Task, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate tasks: %w", err)
	}
	return tasks, nil
}

func marshalStrings(v []string) string {
	if v == nil {
		v = []string{}
	}
	b, _ := json.Marshal(v)
	return string(b)
}

// CreateTask inserts t, filling id, timestamps and defaults. It performs no
// admission checks; use the intake service for guarded creation.
func (s *Store) CreateTask(ctx context.Context, t *Task) error {
	if strings.TrimSpace(t.Title) == "" {
		return fmt.Errorf("task title cannot be empty")
	}
	if t.ID == "" {
		t.ID = NewID()
	}
	if t.Status == "" {
		t.Status = TaskBacklog
	}
	if t.Priority == "" {
		t.Priority = PriorityMedium
	}
	now := s.now()
	t.CreatedAt = now
	t.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (id, title, description, status, priority, assignee_id, tags, depends_on,
			chain_context, retry_count, actual_tokens, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?)`,
		t.ID, t.Title, t.Description, string(t.Status), string(t.Priority), nullString(t.AssigneeID),
		marshalStrings(t.Tags), marshalStrings(t.DependsOn), t.ChainContext, t.RetryCount,
		formatTime(now), formatTime(now))
	if err != nil {
		return fmt.Errorf("failed to insert task %s: %w", t.ID, err)
	}
	return nil
}

// GetTask returns the task with id.
func (s *Store) GetTask(ctx context.Context, id string) (*Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task %s: %w", id, err)
	}
	return t, nil
}

// TaskFilter narrows ListTasks. Zero fields match everything.
type TaskFilter struct {
	Statuses   []TaskStatus
	AssigneeID string
	Limit      int
}

// ListTasks returns tasks ordered by priority then creation time.
func (s *Store) ListTasks(ctx context.Context, f TaskFilter) ([]*Task, error) {
	var (
		where []string
		args  []any
	)
	if len(f.Statuses) > 0 {
		ph := make([]string, len(f.Statuses))
		for i, st := range f.Statuses {
			ph[i] = "?"
			args = append(args, string(st))
		}
		where = append(where, "status IN ("+strings.Join(ph, ",")+")")
	}
	if f.AssigneeID != "" {
		where = append(where, "assignee_id = ?")
		args = append(args, f.AssigneeID)
	}

	query := `SELECT ` + taskColumns + ` FROM tasks`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY " + priorityOrderSQL + ", created_at ASC, rowid ASC"
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}
	return s.queryTasks(ctx, query, args...)
}

// CountTasks counts tasks in status, optionally for one assignee.
func (s *Store) CountTasks(ctx context.Context, status TaskStatus, assigneeID string) (int, error) {
	query := `SELECT COUNT(*) FROM tasks WHERE status = ?`
	args := []any{string(status)}
	if assigneeID != "" {
		query += ` AND assignee_id = ?`
		args = append(args, assigneeID)
	}
	var n int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count %s tasks: %w", status, err)
	}
	return n, nil
}

// TasksDependingOn returns tasks whose depends_on list contains id.
func (s *Store) TasksDependingOn(ctx context.Context, id string) ([]*Task, error) {
	return s.queryTasks(ctx, `SELECT `+taskColumns+` FROM tasks
		WHERE EXISTS (SELECT 1 FROM json_each(tasks.depends_on) WHERE json_each.value = ?)
		ORDER BY created_at ASC`, id)
}

// TransitionTask moves a task to status `to` if it is currently in one of
// `from` (any status when from is empty). Returns ErrConflict otherwise.
func (s *Store) TransitionTask(ctx context.Context, id string, to TaskStatus, from ...TaskStatus) error {
	now := formatTime(s.now())
	query := `UPDATE tasks SET status = ?, updated_at = ?`
	args := []any{string(to), now}
	if to == TaskDone {
		query += `, completed_at = ?`
		args = append(args, now)
	}
	query += ` WHERE id = ?`
	args = append(args, id)
	if len(from) > 0 {
		ph := make([]string, len(from))
		for i, st := range from {
			ph[i] = "?"
			args = append(args, string(st))
		}
		query += ` AND status IN (` + strings.Join(ph, ",") + `)`
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to transition task %s to %s: %w", id, to, err)
	}
	return expectOneRow(res, fmt.Sprintf("transition task %s to %s", id, to))
}

// AssignTask sets the assignee of an unassigned task.
func (s *Store) AssignTask(ctx context.Context, id, agentID string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE tasks SET assignee_id = ?, updated_at = ?
		WHERE id = ? AND (assignee_id IS NULL OR assignee_id = '')`,
		agentID, formatTime(s.now()), id)
	if err != nil {
		return fmt.Errorf("failed to assign task %s: %w", id, err)
	}
	return expectOneRow(res, "assign task "+id)
}

// AppendTaskDescription appends suffix to a task's description.
func (s *Store) AppendTaskDescription(ctx context.Context, id, suffix string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE tasks SET description = description || ?, updated_at = ? WHERE id = ?`,
		suffix, formatTime(s.now()), id)
	if err != nil {
		return fmt.Errorf("failed to update task %s description: %w", id, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	return nil
}

// SetTaskTags replaces a task's tags.
func (s *Store) SetTaskTags(ctx context.Context, id string, tags []string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE tasks SET tags = ?, updated_at = ? WHERE id = ?`,
		marshalStrings(tags), formatTime(s.now()), id)
	if err != nil {
		return fmt.Errorf("failed to update task %s tags: %w", id, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	return nil
}

// IncrementRetry bumps retry_count and returns the new value.
func (s *Store) IncrementRetry(ctx context.Context, id string) (int, error) {
	var count int
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE tasks SET retry_count = retry_count + 1, updated_at = ? WHERE id = ?`,
			formatTime(s.now()), id)
		if err != nil {
			return fmt.Errorf("failed to increment retry for %s: %w", id, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("task %s: %w", id, ErrNotFound)
		}
		return tx.QueryRowContext(ctx, `SELECT retry_count FROM tasks WHERE id = ?`, id).Scan(&count)
	})
	return count, err
}

// FindTaskByNormalizedTitle returns the newest task created at or after
// since whose lower-cased trimmed title equals normalized.
func (s *Store) FindTaskByNormalizedTitle(ctx context.Context, normalized string, since time.Time) (*Task, error) {
	tasks, err := s.queryTasks(ctx, `SELECT `+taskColumns+` FROM tasks
		WHERE LOWER(TRIM(title)) = ? AND created_at >= ?
		ORDER BY created_at DESC LIMIT 1`, normalized, formatTime(since))
	if err != nil {
		return nil, err
	}
	if len(tasks) == 0 {
		return nil, ErrNotFound
	}
	return tasks[0], nil
}

// FindActiveTaskWithTitleFragment returns an active task of assigneeID whose
// lower-cased title contains fragment.
func (s *Store) FindActiveTaskWithTitleFragment(ctx context.Context, assigneeID, fragment string) (*Task, error) {
	tasks, err := s.queryTasks(ctx, `SELECT `+taskColumns+` FROM tasks
		WHERE assignee_id = ? AND status IN ('backlog','todo','in_progress','review')
		AND instr(LOWER(title), ?) > 0
		ORDER BY created_at DESC LIMIT 1`, assigneeID, fragment)
	if err != nil {
		return nil, err
	}
	if len(tasks) == 0 {
		return nil, ErrNotFound
	}
	return tasks[0], nil
}

// CountTasksWithTitlePrefix counts tasks created since whose title starts with prefix.
func (s *Store) CountTasksWithTitlePrefix(ctx context.Context, prefix string, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks
		WHERE substr(title, 1, ?) = ? AND created_at >= ?`,
		len(prefix), prefix, formatTime(since)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count tasks with prefix %q: %w", prefix, err)
	}
	return n, nil
}

// FindTasksByTitles returns tasks keyed by lower-cased trimmed title.
func (s *Store) FindTasksByTitles(ctx context.Context) (map[string]*Task, error) {
	tasks, err := s.queryTasks(ctx, `SELECT `+taskColumns+` FROM tasks ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	out := make(map[string]*Task, len(tasks))
	for _, t := range tasks {
		out[strings.ToLower(strings.TrimSpace(t.Title))] = t
	}
	return out, nil
}

// CountTasksByStatus returns the number of tasks per status.
func (s *Store) CountTasksByStatus(ctx context.Context) (map[TaskStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM tasks GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count tasks by status: %w", err)
	}
	defer rows.Close()
	out := map[TaskStatus]int{}
	for rows.Next() {
		var (
			st string
			n  int
		)
		if err := rows.Scan(&st, &n); err != nil {
			return nil, fmt.Errorf("failed to scan status count: %w", err)
		}
		out[TaskStatus(st)] = n
	}
	return out, rows.Err()
}

// TasksCreatedSince returns tasks created at or after since.
func (s *Store) TasksCreatedSince(ctx context.Context, since time.Time) ([]*Task, error) {
	return s.queryTasks(ctx, `SELECT `+taskColumns+` FROM tasks WHERE created_at >= ? ORDER BY created_at ASC`,
		formatTime(since))
}

// TasksCompletedSince returns done tasks completed at or after since.
func (s *Store) TasksCompletedSince(ctx context.Context, since time.Time) ([]*Task, error) {
	return s.queryTasks(ctx, `SELECT `+taskColumns+` FROM tasks
		WHERE status = 'done' AND completed_at IS NOT NULL AND completed_at >= ? ORDER BY completed_at ASC`,
		formatTime(since))
}
