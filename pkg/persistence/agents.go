package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

const agentColumns = `id, name, codename, avatar, role, status, personality, soul, provider, model,
	current_task_id, tasks_completed, tokens_used, cost_usd, created_at, updated_at`

func scanAgent(row rowScanner) (*Agent, error) {
	var (
		a                Agent
		status           string
		current          sql.NullString
		created, updated string
	)
	if err := row.Scan(&a.ID, &a.Name, &a.Codename, &a.Avatar, &a.Role, &status, &a.Personality, &a.Soul,
		&a.Provider, &a.Model, &current, &a.TasksCompleted, &a.TokensUsed, &a.CostUSD, &created, &updated); err != nil {
		return nil, err
	}
	a.Status = AgentStatus(status)
	a.CurrentTaskID = current.String
	a.CreatedAt = parseTime(created)
	a.UpdatedAt = parseTime(updated)
	return &a, nil
}

// UpsertAgent inserts a or updates the persona fields of the agent with the
// same codename. Counters and the current task are left alone on update.
func (s *Store) UpsertAgent(ctx context.Context, a *Agent) error {
	a.Codename = strings.ToUpper(strings.TrimSpace(a.Codename))
	if a.Codename == "" {
		return fmt.Errorf("agent codename cannot be empty")
	}
	if a.ID == "" {
		a.ID = NewID()
	}
	if a.Status == "" {
		a.Status = AgentOnline
	}
	if a.Avatar == "" {
		a.Avatar = "🤖"
	}
	now := formatTime(s.now())
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO agents (id, name, codename, avatar, role, status, personality, soul, provider, model,
			created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(codename) DO UPDATE SET
			name = excluded.name, avatar = excluded.avatar, role = excluded.role,
			personality = excluded.personality, soul = excluded.soul,
			provider = excluded.provider, model = excluded.model, updated_at = excluded.updated_at`,
		a.ID, a.Name, a.Codename, a.Avatar, a.Role, string(a.Status), a.Personality, a.Soul, a.Provider, a.Model,
		now, now)
	if err != nil {
		return fmt.Errorf("failed to upsert agent %s: %w", a.Codename, err)
	}
	stored, err := s.GetAgentByCodename(ctx, a.Codename)
	if err != nil {
		return err
	}
	*a = *stored
	return nil
}

// GetAgent returns the agent with id.
func (s *Store) GetAgent(ctx context.Context, id string) (*Agent, error) {
	a, err := scanAgent(s.db.QueryRowContext(ctx, `SELECT `+agentColumns+` FROM agents WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("agent %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get agent %s: %w", id, err)
	}
	return a, nil
}

// GetAgentByCodename looks an agent up by codename, case-insensitively.
func (s *Store) GetAgentByCodename(ctx context.Context, codename string) (*Agent, error) {
	a, err := scanAgent(s.db.QueryRowContext(ctx, `SELECT `+agentColumns+` FROM agents WHERE codename = ?`,
		strings.ToUpper(strings.TrimSpace(codename))))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("agent %s: %w", codename, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get agent %s: %w", codename, err)
	}
	return a, nil
}

// ListAgents returns every agent ordered by codename.
func (s *Store) ListAgents(ctx context.Context) ([]*Agent, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+agentColumns+` FROM agents ORDER BY codename`)
	if err != nil {
		return nil, fmt.Errorf("failed to list agents: %w", err)
	}
	defer rows.Close()
	var out []*Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan agent: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// SetAgentStatus sets an idle agent's availability. Busy agents are left
// alone; the execution path owns that state.
func (s *Store) SetAgentStatus(ctx context.Context, id string, status AgentStatus) error {
	res, err := s.db.ExecContext(ctx, `UPDATE agents SET status = ?, updated_at = ?
		WHERE id = ? AND (current_task_id IS NULL OR current_task_id = '')`,
		string(status), formatTime(s.now()), id)
	if err != nil {
		return fmt.Errorf("failed to set agent %s status: %w", id, err)
	}
	return expectOneRow(res, "set status of agent "+id)
}
