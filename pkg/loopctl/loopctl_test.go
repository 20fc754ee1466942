package loopctl

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"missioncontrol/pkg/config"
	"missioncontrol/pkg/persistence"
	"missioncontrol/pkg/testkit"
)

func fixedLimits() config.LoopConfig {
	return config.LoopConfig{
		MaxTodoPerAgent:       2,
		StagingBlockThreshold: 6,
		DuplicateWindow:       14 * 24 * time.Hour,
		DuplicatePrefixLength: 32,
	}
}

func TestInferCategory(t *testing.T) {
	tests := []struct {
		title string
		tags  []string
		want  Category
	}{
		{"Generate 5 blues licks", nil, CategoryLicks},
		{"Solo over ii-V", nil, CategoryLicks},
		{"Course outline", nil, CategoryCourses},
		{"Weekly plan", []string{"lesson"}, CategoryCourses},
		{"Caption ideas", nil, CategoryBlogSocial},
		{"Post", []string{"x"}, CategoryBlogSocial},
		{"Pricing research", nil, CategoryOther},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, InferCategory(tt.title, tt.tags), tt.title)
	}
}

func TestFindDuplicateSameTitle(t *testing.T) {
	ctx := context.Background()
	s := testkit.NewStore(t)
	c := New(s, fixedLimits)

	first := testkit.SeedTask(t, s, "Generate 5 blues licks in E minor pentatonic", persistence.TaskTodo)

	dup, err := c.FindDuplicate(ctx, "  generate 5 Blues licks in E minor pentatonic ", "")
	require.NoError(t, err)
	require.NotNil(t, dup)
	assert.Equal(t, first.ID, dup.ID)

	dup, err = c.FindDuplicate(ctx, "Something else", "")
	require.NoError(t, err)
	assert.Nil(t, dup)
}

func TestFindDuplicateOutsideWindow(t *testing.T) {
	ctx := context.Background()
	s := testkit.NewStore(t)
	testkit.SeedTask(t, s, "Old idea", persistence.TaskDone)

	c := New(s, func() config.LoopConfig {
		l := fixedLimits()
		l.DuplicateWindow = time.Millisecond
		return l
	})
	dup, err := c.FindDuplicate(ctx, "Old idea", "")
	require.NoError(t, err)
	assert.Nil(t, dup)
}

func TestFindDuplicateSimilarActiveTask(t *testing.T) {
	ctx := context.Background()
	s := testkit.NewStore(t)
	c := New(s, fixedLimits)
	tab := testkit.SeedAgent(t, s, "TABSMITH")
	other := testkit.SeedAgent(t, s, "THEORYBOT")

	existing := testkit.SeedTask(t, s, "Write a beginner blues turnaround lick in A - v1", persistence.TaskBacklog, testkit.AssignedTo(tab))

	dup, err := c.FindDuplicate(ctx, "Write a beginner blues turnaround lick in A - v2", tab.ID)
	require.NoError(t, err)
	require.NotNil(t, dup)
	assert.Equal(t, existing.ID, dup.ID)

	dup, err = c.FindDuplicate(ctx, "Write a beginner blues turnaround lick in A - v2", other.ID)
	require.NoError(t, err)
	assert.Nil(t, dup, "similar titles only collide for the same assignee")

	require.NoError(t, s.TransitionTask(ctx, existing.ID, persistence.TaskDone))
	_, err = s.DB().ExecContext(ctx, `UPDATE tasks SET title = 'x' || title WHERE id = ?`, existing.ID)
	require.NoError(t, err)
	dup, err = c.FindDuplicate(ctx, "Write a beginner blues turnaround lick in A - v2", tab.ID)
	require.NoError(t, err)
	assert.Nil(t, dup, "done tasks are not active")
}

func TestAtWIPCap(t *testing.T) {
	ctx := context.Background()
	s := testkit.NewStore(t)
	c := New(s, fixedLimits)
	agent := testkit.SeedAgent(t, s, "TABSMITH")

	capped, n, err := c.AtWIPCap(ctx, agent.ID)
	require.NoError(t, err)
	assert.False(t, capped)
	assert.Zero(t, n)

	testkit.SeedTask(t, s, "one", persistence.TaskTodo, testkit.AssignedTo(agent))
	testkit.SeedTask(t, s, "two", persistence.TaskTodo, testkit.AssignedTo(agent))
	testkit.SeedTask(t, s, "three", persistence.TaskBacklog, testkit.AssignedTo(agent))

	capped, n, err = c.AtWIPCap(ctx, agent.ID)
	require.NoError(t, err)
	assert.True(t, capped)
	assert.Equal(t, 2, n)

	capped, _, err = c.AtWIPCap(ctx, "")
	require.NoError(t, err)
	assert.False(t, capped, "unassigned tasks are never capped")
}

func TestShouldGate(t *testing.T) {
	ctx := context.Background()
	s := testkit.NewStore(t)
	c := New(s, fixedLimits)

	for i := 0; i < 6; i++ {
		require.NoError(t, s.CreatePipelineItem(ctx, &persistence.PipelineItem{
			Title: fmt.Sprintf("Blues lick #%d", i), Stage: persistence.StageReview,
		}))
	}
	require.NoError(t, s.CreatePipelineItem(ctx, &persistence.PipelineItem{
		Title: "Lesson 1", Stage: persistence.StagePublished,
	}))

	gated, n, err := c.ShouldGate(ctx, CategoryLicks)
	require.NoError(t, err)
	assert.True(t, gated)
	assert.Equal(t, 6, n)

	gated, _, err = c.ShouldGate(ctx, CategoryCourses)
	require.NoError(t, err)
	assert.False(t, gated, "published items are not staged")

	gated, _, err = c.ShouldGate(ctx, CategoryOther)
	require.NoError(t, err)
	assert.False(t, gated)
}

func TestComputeHealth(t *testing.T) {
	ctx := context.Background()
	s := testkit.NewStore(t)
	agent := testkit.SeedAgent(t, s, "TABSMITH")

	done := testkit.SeedTask(t, s, "Done task", persistence.TaskReview, testkit.AssignedTo(agent))
	require.NoError(t, s.InsertResult(ctx, &persistence.TaskResult{TaskID: done.ID, AgentID: agent.ID, Response: "r", DurationMs: 1000}))
	other := testkit.SeedTask(t, s, "Still in review", persistence.TaskReview, testkit.AssignedTo(agent))
	require.NoError(t, s.InsertResult(ctx, &persistence.TaskResult{TaskID: other.ID, AgentID: agent.ID, Response: "r", DurationMs: 3000}))
	require.NoError(t, s.TransitionTask(ctx, done.ID, persistence.TaskDone))
	testkit.SeedTask(t, s, "Open task", persistence.TaskTodo)

	for _, a := range []*persistence.Activity{
		{EventType: persistence.EventAutoReview, Title: AutoApprovedPrefix + " a"},
		{EventType: persistence.EventAutoReview, Title: AutoApprovedPrefix + " b"},
		{EventType: persistence.EventAutoReview, Title: AutoApprovedPrefix + " c"},
		{EventType: persistence.EventHumanReview, Title: HumanRevisedPrefix + " d"},
		{EventType: persistence.EventDedupBlocked, Title: "Dedup blocked: e"},
	} {
		require.NoError(t, s.LogActivity(ctx, a))
	}

	h, err := ComputeHealth(ctx, s)
	require.NoError(t, err)
	assert.Equal(t, int64(2000), h.AvgCycleMs)
	assert.Positive(t, h.AvgReviewWaitMs)
	assert.Equal(t, 75, h.AutoApprovedPct)
	assert.Equal(t, 25, h.HumanRevisedPct)
	assert.Equal(t, 1, h.DedupBlocked)
	require.Len(t, h.CreatedVsCompleted, 1)
	assert.Equal(t, DayCount{Day: "2025-01-01", Created: 3, Completed: 1}, h.CreatedVsCompleted[0])
}
