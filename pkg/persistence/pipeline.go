package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
)

// CreatePipelineItem inserts a content pipeline item.
func (s *Store) CreatePipelineItem(ctx context.Context, it *PipelineItem) error {
	if it.ID == "" {
		it.ID = NewID()
	}
	if it.Stage == "" {
		it.Stage = StageIdea
	}
	if it.Metadata == nil {
		it.Metadata = map[string]any{}
	}
	meta, err := json.Marshal(it.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode pipeline metadata: %w", err)
	}
	now := s.now()
	it.CreatedAt = now
	it.UpdatedAt = now
	_, err = s.db.ExecContext(ctx, `INSERT INTO content_pipeline
		(id, title, body, stage, platform, assigned_agent_id, thumbnail_url, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		it.ID, it.Title, it.Body, it.Stage, it.Platform, nullString(it.AssignedAgentID), nullString(it.ThumbnailURL),
		string(meta), formatTime(now), formatTime(now))
	if err != nil {
		return fmt.Errorf("failed to insert pipeline item %q: %w", it.Title, err)
	}
	return nil
}

// ListPipelineItems returns items in any of stages (all when empty), oldest first.
func (s *Store) ListPipelineItems(ctx context.Context, stages ...string) ([]*PipelineItem, error) {
	query := `SELECT id, title, body, stage, platform, assigned_agent_id, thumbnail_url, metadata, created_at, updated_at
		FROM content_pipeline`
	var args []any
	if len(stages) > 0 {
		ph := make([]string, len(stages))
		for i, st := range stages {
			ph[i] = "?"
			args = append(args, st)
		}
		query += ` WHERE stage IN (` + strings.Join(ph, ",") + `)`
	}
	query += ` ORDER BY created_at ASC, rowid ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list pipeline items: %w", err)
	}
	defer rows.Close()

	var out []*PipelineItem
	for rows.Next() {
		var (
			it               PipelineItem
			agent, thumb     sql.NullString
			meta             string
			created, updated string
		)
		if err := rows.Scan(&it.ID, &it.Title, &it.Body, &it.Stage, &it.Platform, &agent, &thumb, &meta,
			&created, &updated); err != nil {
			return nil, fmt.Errorf("failed to scan pipeline item: %w", err)
		}
		it.AssignedAgentID = agent.String
		it.ThumbnailURL = thumb.String
		if err := json.Unmarshal([]byte(meta), &it.Metadata); err != nil || it.Metadata == nil {
			it.Metadata = map[string]any{}
		}
		it.CreatedAt = parseTime(created)
		it.UpdatedAt = parseTime(updated)
		out = append(out, &it)
	}
	return out, rows.Err()
}
