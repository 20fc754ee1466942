package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
)

// ContentQuery narrows ListContent. Zero fields match everything.
type ContentQuery struct {
	Status  string
	AgentID string
	Search  string
	Tags    []string
	Limit   int
}

// ContentRow is a task joined with its assignee name and the newest live
// completed response, for agent-facing lookups.
type ContentRow struct {
	ID           string
	Title        string
	Description  string
	Status       string
	AssigneeName string
	Response     string
	CreatedAt    string
	Tags         []string
}

const liveResultJoin = `LEFT JOIN task_results tr ON tr.rowid = (
		SELECT r.rowid FROM task_results r
		WHERE r.task_id = t.id AND r.status = 'completed' AND r.superseded = 0
		ORDER BY r.created_at DESC, r.rowid DESC LIMIT 1)`

func (s *Store) queryContent(ctx context.Context, where []string, args []any, limit int) ([]*ContentRow, error) {
	query := `SELECT t.id, t.title, t.description, t.status, t.tags, t.created_at,
			COALESCE(a.name, ''), COALESCE(tr.response, '')
		FROM tasks t
		LEFT JOIN agents a ON t.assignee_id = a.id
		` + liveResultJoin
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += fmt.Sprintf(` ORDER BY t.updated_at DESC, t.rowid DESC LIMIT %d`, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query content: %w", err)
	}
	defer rows.Close()

	var out []*ContentRow
	for rows.Next() {
		var (
			r    ContentRow
			tags sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.Title, &r.Description, &r.Status, &tags, &r.CreatedAt,
			&r.AssigneeName, &r.Response); err != nil {
			return nil, fmt.Errorf("failed to scan content row: %w", err)
		}
		_ = json.Unmarshal([]byte(tags.String), &r.Tags)
		if r.Tags == nil {
			r.Tags = []string{}
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

// ListContent returns tasks matching q, most recently updated first.
func (s *Store) ListContent(ctx context.Context, q ContentQuery) ([]*ContentRow, error) {
	var (
		where []string
		args  []any
	)
	if q.Status != "" {
		where = append(where, "t.status = ?")
		args = append(args, q.Status)
	}
	if q.AgentID != "" {
		where = append(where, "t.assignee_id = ?")
		args = append(args, q.AgentID)
	}
	if q.Search != "" {
		where = append(where, "(t.title LIKE ? OR t.description LIKE ?)")
		args = append(args, "%"+q.Search+"%", "%"+q.Search+"%")
	}
	for _, tag := range q.Tags {
		where = append(where, "t.tags LIKE ?")
		args = append(args, "%"+tag+"%")
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	return s.queryContent(ctx, where, args, limit)
}

// SearchTasks returns up to 10 tasks whose title or description contains term.
func (s *Store) SearchTasks(ctx context.Context, term string) ([]*ContentRow, error) {
	like := "%" + term + "%"
	return s.queryContent(ctx, []string{"(t.title LIKE ? OR t.description LIKE ?)"}, []any{like, like}, 10)
}
