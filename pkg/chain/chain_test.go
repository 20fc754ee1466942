package chain

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"missioncontrol/pkg/persistence"
	"missioncontrol/pkg/testkit"
)

func TestBuildPromptWithoutDependencies(t *testing.T) {
	s := testkit.NewStore(t)
	r := NewResolver(s)

	task := testkit.SeedTask(t, s, "Write a lick", persistence.TaskTodo)
	prompt, err := r.BuildPrompt(context.Background(), task)
	require.NoError(t, err)
	assert.Equal(t, "Task: Write a lick\n\n"+NoDescription, prompt)

	task.Description = "E minor"
	prompt, err = r.BuildPrompt(context.Background(), task)
	require.NoError(t, err)
	assert.Equal(t, "Task: Write a lick\n\nE minor", prompt)
}

func TestBuildPromptOrdersDependencies(t *testing.T) {
	ctx := context.Background()
	s := testkit.NewStore(t)
	r := NewResolver(s)
	agent := testkit.SeedAgent(t, s, "TABSMITH")

	p1 := testkit.SeedTask(t, s, "P1", persistence.TaskDone)
	p2 := testkit.SeedTask(t, s, "P2", persistence.TaskDone)
	testkit.SeedResult(t, s, p1, agent, "A")
	testkit.SeedResult(t, s, p2, agent, "B")

	child := testkit.SeedTask(t, s, "Child", persistence.TaskTodo, testkit.DependsOn(p2.ID, p1.ID), testkit.Described("combine"))
	prompt, err := r.BuildPrompt(ctx, child)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(prompt, "## Context from previous tasks:\n\n"))
	posB := strings.Index(prompt, "### P2 (by TABSMITH Bot)\nB")
	posA := strings.Index(prompt, "### P1 (by TABSMITH Bot)\nA")
	require.GreaterOrEqual(t, posB, 0)
	require.GreaterOrEqual(t, posA, 0)
	assert.Less(t, posB, posA, "sections follow dependsOn order")
	assert.True(t, strings.HasSuffix(prompt, "\n\n---\n\n## Your Task: Child\ncombine"))
}

func TestBuildPromptIgnoresSupersededResults(t *testing.T) {
	ctx := context.Background()
	s := testkit.NewStore(t)
	r := NewResolver(s)
	agent := testkit.SeedAgent(t, s, "TABSMITH")

	parent := testkit.SeedTask(t, s, "Parent", persistence.TaskDone)
	testkit.SeedResult(t, s, parent, agent, "old")
	_, err := s.SupersedeResults(ctx, parent.ID)
	require.NoError(t, err)
	testkit.SeedResult(t, s, parent, agent, "new")

	child := testkit.SeedTask(t, s, "Child", persistence.TaskTodo, testkit.DependsOn(parent.ID))
	prompt, err := r.BuildPrompt(ctx, child)
	require.NoError(t, err)
	assert.Contains(t, prompt, "\nnew")
	assert.NotContains(t, prompt, "old")
}

func TestBuildPromptFallsBackToChainContext(t *testing.T) {
	s := testkit.NewStore(t)
	r := NewResolver(s)
	parent := testkit.SeedTask(t, s, "Parent", persistence.TaskDone)
	child := testkit.SeedTask(t, s, "Child", persistence.TaskTodo, testkit.DependsOn(parent.ID), func(t *persistence.Task) {
		t.ChainContext = "Brand voice: friendly"
	})

	prompt, err := r.BuildPrompt(context.Background(), child)
	require.NoError(t, err)
	assert.Equal(t, "Brand voice: friendly\n\n---\n\n## Your Task: Child\n"+NoDescription, prompt)
}

func TestUnlockDependents(t *testing.T) {
	ctx := context.Background()
	s := testkit.NewStore(t)
	r := NewResolver(s)

	a := testkit.SeedTask(t, s, "A", persistence.TaskDone)
	b := testkit.SeedTask(t, s, "B", persistence.TaskInProgress)
	onlyA := testkit.SeedTask(t, s, "Needs A", persistence.TaskBacklog, testkit.DependsOn(a.ID))
	both := testkit.SeedTask(t, s, "Needs A and B", persistence.TaskBacklog, testkit.DependsOn(a.ID, b.ID))

	unlocked, err := r.UnlockDependents(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, unlocked, 1)
	assert.Equal(t, onlyA.ID, unlocked[0].ID)
	testkit.AssertTaskStatus(t, s, onlyA.ID, persistence.TaskTodo)
	testkit.AssertTaskStatus(t, s, both.ID, persistence.TaskBacklog)

	require.NoError(t, s.TransitionTask(ctx, b.ID, persistence.TaskReview))
	unlocked, err = r.UnlockDependents(ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, unlocked, 1)
	testkit.AssertTaskStatus(t, s, both.ID, persistence.TaskTodo)

	unlocked, err = r.UnlockDependents(ctx, b.ID)
	require.NoError(t, err)
	assert.Empty(t, unlocked, "second unlock is a no-op")
}

func TestUnlockLeavesMissingDependencyLocked(t *testing.T) {
	ctx := context.Background()
	s := testkit.NewStore(t)
	r := NewResolver(s)

	a := testkit.SeedTask(t, s, "A", persistence.TaskDone)
	blocked := testkit.SeedTask(t, s, "Blocked", persistence.TaskBacklog, testkit.DependsOn(a.ID, "missing"))

	unlocked, err := r.UnlockDependents(ctx, a.ID)
	require.NoError(t, err)
	assert.Empty(t, unlocked)
	testkit.AssertTaskStatus(t, s, blocked.ID, persistence.TaskBacklog)
}

// holdTitles keeps the named tasks in backlog.
type holdTitles map[string]bool

func (h holdTitles) HoldOnUnlock(_ context.Context, t *persistence.Task) (bool, error) {
	return h[t.Title], nil
}

func TestUnlockConsultsGate(t *testing.T) {
	ctx := context.Background()
	s := testkit.NewStore(t)
	r := NewResolver(s)
	r.SetGate(holdTitles{"Held": true})

	a := testkit.SeedTask(t, s, "A", persistence.TaskDone)
	held := testkit.SeedTask(t, s, "Held", persistence.TaskBacklog, testkit.DependsOn(a.ID))
	free := testkit.SeedTask(t, s, "Free", persistence.TaskBacklog, testkit.DependsOn(a.ID))

	unlocked, err := r.UnlockDependents(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, unlocked, 1)
	assert.Equal(t, free.ID, unlocked[0].ID)
	testkit.AssertTaskStatus(t, s, held.ID, persistence.TaskBacklog)
}

func TestBuildPromptBoundsDependencyResults(t *testing.T) {
	ctx := context.Background()
	s := testkit.NewStore(t)
	r := NewResolver(s)
	agent := testkit.SeedAgent(t, s, "TABSMITH")

	parent := testkit.SeedTask(t, s, "Long draft", persistence.TaskDone, testkit.AssignedTo(agent))
	huge := strings.Repeat("Hammer-ons and pull-offs build legato speed. ", 3000)
	testkit.SeedResult(t, s, parent, agent, huge)
	child := testkit.SeedTask(t, s, "Edit draft", persistence.TaskTodo, testkit.DependsOn(parent.ID))

	prompt, err := r.BuildPrompt(ctx, child)
	require.NoError(t, err)
	assert.Contains(t, prompt, "### Long draft (by TABSMITH Bot)\nHammer-ons and pull-offs")
	assert.Contains(t, prompt, "...")
	assert.Less(t, len(prompt), len(huge))
	assert.True(t, strings.HasSuffix(prompt, "## Your Task: Edit draft\n"+NoDescription))
}
