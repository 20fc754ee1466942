package testkit

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"missioncontrol/pkg/persistence"
)

// Epoch is the first instant handed out by a NewStore clock.
//
//nolint:gochecknoglobals // fixed test clock origin
var Epoch = time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

// NewStore opens a fresh database under t.TempDir. Its clock advances one
// second per read so creation order is deterministic.
func NewStore(t *testing.T) *persistence.Store {
	t.Helper()
	s, err := persistence.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	var mu sync.Mutex
	clock := Epoch
	s.SetClock(func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		clock = clock.Add(time.Second)
		return clock
	})
	return s
}

// SeedAgent upserts an agent with codename and applies mutators.
func SeedAgent(t *testing.T, s *persistence.Store, codename string, mutate ...func(*persistence.Agent)) *persistence.Agent {
	t.Helper()
	a := &persistence.Agent{
		Name:     codename + " Bot",
		Codename: codename,
		Role:     "tester",
		Soul:     "You are " + codename + ".",
		Provider: "claude",
	}
	for _, m := range mutate {
		m(a)
	}
	require.NoError(t, s.UpsertAgent(context.Background(), a))
	return a
}

// SeedTask creates a task directly in the store, bypassing admission guards.
func SeedTask(t *testing.T, s *persistence.Store, title string, status persistence.TaskStatus, mutate ...func(*persistence.Task)) *persistence.Task {
	t.Helper()
	task := &persistence.Task{Title: title, Status: status}
	for _, m := range mutate {
		m(task)
	}
	require.NoError(t, s.CreateTask(context.Background(), task))
	return task
}

// SeedProvider creates a provider row with a dummy key.
func SeedProvider(t *testing.T, s *persistence.Store, typ string, isDefault bool) *persistence.ProviderConfig {
	t.Helper()
	p := &persistence.ProviderConfig{
		Type:      typ,
		Name:      typ,
		APIKey:    "test-key",
		Model:     "test-model",
		IsDefault: isDefault,
	}
	require.NoError(t, s.CreateProvider(context.Background(), p))
	return p
}

// AssignedTo sets the assignee of a seeded task.
func AssignedTo(a *persistence.Agent) func(*persistence.Task) {
	return func(t *persistence.Task) { t.AssigneeID = a.ID }
}

// Tagged sets the tags of a seeded task.
func Tagged(tags ...string) func(*persistence.Task) {
	return func(t *persistence.Task) { t.Tags = tags }
}

// DependsOn sets the dependency list of a seeded task.
func DependsOn(ids ...string) func(*persistence.Task) {
	return func(t *persistence.Task) { t.DependsOn = ids }
}

// Described sets the description of a seeded task.
func Described(desc string) func(*persistence.Task) {
	return func(t *persistence.Task) { t.Description = desc }
}

// WithPriority sets the priority of a seeded task.
func WithPriority(p persistence.Priority) func(*persistence.Task) {
	return func(t *persistence.Task) { t.Priority = p }
}

// SeedResult records a completed result for task by agent.
func SeedResult(t *testing.T, s *persistence.Store, task *persistence.Task, agent *persistence.Agent, response string) *persistence.TaskResult {
	t.Helper()
	r := &persistence.TaskResult{
		TaskID:     task.ID,
		AgentID:    agent.ID,
		Prompt:     "seeded",
		Response:   response,
		TokensUsed: 100,
	}
	require.NoError(t, s.InsertResult(context.Background(), r))
	return r
}
