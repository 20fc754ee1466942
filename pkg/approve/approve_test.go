package approve

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"missioncontrol/pkg/config"
	"missioncontrol/pkg/intake"
	"missioncontrol/pkg/loopctl"
	"missioncontrol/pkg/persistence"
	"missioncontrol/pkg/publish"
	"missioncontrol/pkg/testkit"
)

const longResponse = "A thorough pricing analysis covering three tiers, churn risk and the upgrade path for existing students."

type recordingPublisher struct {
	mu        sync.Mutex
	approvals []publish.Approval
}

func (p *recordingPublisher) Approved(_ context.Context, a publish.Approval) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.approvals = append(p.approvals, a)
}

type fixture struct {
	store *persistence.Store
	svc   *Service
	pub   *recordingPublisher
	agent *persistence.Agent
	fired int
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s := testkit.NewStore(t)
	limits := func() config.LoopConfig {
		return config.LoopConfig{
			MaxTodoPerAgent:       2,
			StagingBlockThreshold: 6,
			DuplicateWindow:       14 * 24 * time.Hour,
			DuplicatePrefixLength: 32,
		}
	}
	creator := intake.New(s, loopctl.New(s, limits))
	f := &fixture{store: s, pub: &recordingPublisher{}, agent: testkit.SeedAgent(t, s, "TABSMITH")}
	f.svc = New(s, creator, f.pub)
	f.svc.SetTrigger(func() { f.fired++ })
	return f
}

func (f *fixture) reviewTask(t *testing.T, title, response string, opts ...func(*persistence.Task)) *persistence.Task {
	t.Helper()
	opts = append([]func(*persistence.Task){testkit.AssignedTo(f.agent)}, opts...)
	task := testkit.SeedTask(t, f.store, title, persistence.TaskReview, opts...)
	testkit.SeedResult(t, f.store, task, f.agent, response)
	return task
}

func (f *fixture) latestMessage(t *testing.T) *persistence.Message {
	t.Helper()
	msgs, err := f.store.ListMessages(context.Background(), time.Time{}, 1)
	require.NoError(t, err)
	require.NotEmpty(t, msgs)
	return msgs[0]
}

func TestProcessApproves(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	task := f.reviewTask(t, "Pricing research", longResponse)
	child := testkit.SeedTask(t, f.store, "Pricing page copy", persistence.TaskBacklog, testkit.DependsOn(task.ID))

	require.NoError(t, f.svc.Process(ctx, task.ID))

	got, err := f.store.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, persistence.TaskDone, got.Status)
	assert.NotNil(t, got.CompletedAt)

	unlocked, err := f.store.GetTask(ctx, child.ID)
	require.NoError(t, err)
	assert.Equal(t, persistence.TaskTodo, unlocked.Status)
	assert.Equal(t, 1, f.fired)

	reviews, err := f.store.ListAutoReviews(ctx, task.ID)
	require.NoError(t, err)
	require.Len(t, reviews, 1)
	assert.Equal(t, "approve", reviews[0].Decision)

	msg := f.latestMessage(t)
	assert.Equal(t, "🤖 Auto-approved: **Pricing research**. Checks passed: Minimum Length, Not Prompt Echo, Content Length.", msg.Content)
	assert.Equal(t, persistence.SystemSender, msg.FromAgentID)

	require.Len(t, f.pub.approvals, 1)
	assert.Equal(t, longResponse, f.pub.approvals[0].Content)
	assert.Equal(t, f.agent.Name, f.pub.approvals[0].AgentName)

	n, err := f.store.CountActivity(ctx, persistence.ActivityFilter{TitlePrefix: loopctl.AutoApprovedPrefix})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestProcessApprovePublishesRepairedContent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	raw := `{"summary": "A long enough summary to clear the minimum length gate"}` + "\nHope this helps!"
	task := f.reviewTask(t, "Research notes", raw)

	require.NoError(t, f.svc.Process(ctx, task.ID))

	require.Len(t, f.pub.approvals, 1)
	assert.Equal(t, `{"summary": "A long enough summary to clear the minimum length gate"}`, f.pub.approvals[0].Content)
	assert.Equal(t, raw, f.pub.approvals[0].Response)
}

func TestProcessRejectRetries(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	task := f.reviewTask(t, "Pricing research", "too short")

	require.NoError(t, f.svc.Process(ctx, task.ID))

	got, err := f.store.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, persistence.TaskTodo, got.Status)
	assert.Equal(t, 1, got.RetryCount)

	_, err = f.store.LatestCompletedResult(ctx, task.ID)
	assert.ErrorIs(t, err, persistence.ErrNotFound, "rejected result is superseded")
	results, err := f.store.ListResults(ctx, task.ID)
	require.NoError(t, err)
	assert.Len(t, results, 1, "superseded results are kept")

	assert.Contains(t, f.latestMessage(t).Content, "Retrying (attempt 2/3).")
	assert.Equal(t, 1, f.fired)
	assert.Empty(t, f.pub.approvals)
}

func TestProcessEscalatesAfterMaxRejects(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	task := f.reviewTask(t, "Pricing research", "too short")

	for attempt := 1; attempt <= DefaultMaxRetries; attempt++ {
		if attempt > 1 {
			require.NoError(t, f.store.TransitionTask(ctx, task.ID, persistence.TaskReview, persistence.TaskTodo))
			testkit.SeedResult(t, f.store, task, f.agent, "still short")
		}
		require.NoError(t, f.svc.Process(ctx, task.ID))
	}

	got, err := f.store.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, persistence.TaskReview, got.Status)
	assert.Equal(t, DefaultMaxRetries, got.RetryCount)

	msg := f.latestMessage(t)
	assert.Equal(t, persistence.MessageAlert, msg.Type)
	assert.Equal(t, f.agent.ID, msg.ToAgentID)
	assert.True(t, strings.HasPrefix(msg.Content, "🤖 Auto-rejected 3 times: **Pricing research**. Flagging for human review."))
	assert.Equal(t, 2, f.fired)
}

func TestProcessFlags(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	task := f.reviewTask(t, "Launch captions", longResponse, testkit.Tagged("social"))

	require.NoError(t, f.svc.Process(ctx, task.ID))

	got, err := f.store.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, persistence.TaskReview, got.Status)

	msg := f.latestMessage(t)
	assert.Equal(t, persistence.MessageAlert, msg.Type)
	assert.Equal(t, "👀 Flagged for review: **Launch captions**. Reasons: Public-facing content (social/email/caption).", msg.Content)
	assert.Zero(t, f.fired)
}

func TestProcessSkipsTaskOutOfReview(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	task := testkit.SeedTask(t, f.store, "Still queued", persistence.TaskTodo, testkit.AssignedTo(f.agent))

	require.NoError(t, f.svc.Process(ctx, task.ID))
	reviews, err := f.store.ListAutoReviews(ctx, task.ID)
	require.NoError(t, err)
	assert.Empty(t, reviews)
}

func TestActApproveMentionsUnblockedAssignees(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	task := f.reviewTask(t, "Blues licks", longResponse)
	testkit.SeedTask(t, f.store, "Blues lesson", persistence.TaskBacklog,
		testkit.AssignedTo(f.agent), testkit.DependsOn(task.ID))

	out, err := f.svc.Act(ctx, task.ID, ActionApprove, "")
	require.NoError(t, err)
	assert.Equal(t, "Task approved and completed.", out.Message)
	assert.Empty(t, out.NewTaskID)

	msgs, err := f.store.ListMessages(ctx, time.Time{}, 10)
	require.NoError(t, err)
	var approval string
	for _, m := range msgs {
		if strings.HasPrefix(m.Content, "✅ Task approved") {
			approval = m.Content
		}
	}
	assert.Equal(t, "✅ Task approved: **Blues licks**. Great work!\n@TABSMITH Bot — your task **Blues lesson** is now unblocked and ready to go.", approval)
	require.Len(t, f.pub.approvals, 1)

	n, err := f.store.CountActivity(ctx, persistence.ActivityFilter{EventType: persistence.EventHumanReview})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestActApproveMentionsOnlyUnlockedDependents(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	other := testkit.SeedTask(t, f.store, "Record backing track", persistence.TaskInProgress)
	task := f.reviewTask(t, "Slide licks", longResponse)
	ready := testkit.SeedTask(t, f.store, "Slide lesson", persistence.TaskBacklog,
		testkit.AssignedTo(f.agent), testkit.DependsOn(task.ID))
	waiting := testkit.SeedTask(t, f.store, "Slide jam video", persistence.TaskBacklog,
		testkit.AssignedTo(f.agent), testkit.DependsOn(task.ID, other.ID))

	_, err := f.svc.Act(ctx, task.ID, ActionApprove, "")
	require.NoError(t, err)

	testkit.AssertTaskStatus(t, f.store, ready.ID, persistence.TaskTodo)
	testkit.AssertTaskStatus(t, f.store, waiting.ID, persistence.TaskBacklog)
	msg := testkit.FindMessage(t, f.store, "✅ Task approved: **Slide licks**")
	require.NotNil(t, msg)
	assert.Contains(t, msg.Content, "**Slide lesson** is now unblocked")
	assert.NotContains(t, msg.Content, "Slide jam video")
}

func TestApproveHoldsDependentAtWIPCap(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	testkit.SeedTask(t, f.store, "Lick one", persistence.TaskTodo, testkit.AssignedTo(f.agent))
	testkit.SeedTask(t, f.store, "Lick two", persistence.TaskTodo, testkit.AssignedTo(f.agent))
	task := f.reviewTask(t, "Blues licks", longResponse)
	child := testkit.SeedTask(t, f.store, "Blues lesson", persistence.TaskBacklog,
		testkit.AssignedTo(f.agent), testkit.DependsOn(task.ID))

	_, err := f.svc.Act(ctx, task.ID, ActionApprove, "")
	require.NoError(t, err)

	got := testkit.AssertTaskStatus(t, f.store, child.ID, persistence.TaskBacklog)
	assert.True(t, got.HasTag(intake.HeldTag))
	n, err := f.store.CountTasks(ctx, persistence.TaskTodo, f.agent.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	msg := testkit.FindMessage(t, f.store, "✅ Task approved: **Blues licks**")
	require.NotNil(t, msg)
	assert.NotContains(t, msg.Content, "unblocked")
}

func TestActApproveStrategicCreatesImplementationTask(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	bizops := testkit.SeedAgent(t, f.store, "BIZOPS")
	producer := testkit.SeedAgent(t, f.store, intake.ProducerCodename)
	task := testkit.SeedTask(t, f.store, "Q3 pricing strategy", persistence.TaskReview, testkit.AssignedTo(bizops))
	testkit.SeedResult(t, f.store, task, bizops, longResponse)

	out, err := f.svc.Act(ctx, task.ID, ActionApprove, "")
	require.NoError(t, err)
	require.NotEmpty(t, out.NewTaskID)

	impl, err := f.store.GetTask(ctx, out.NewTaskID)
	require.NoError(t, err)
	assert.Equal(t, "Implement: Q3 pricing strategy", impl.Title)
	assert.Equal(t, producer.ID, impl.AssigneeID)
	assert.Equal(t, persistence.TaskTodo, impl.Status)
	assert.Equal(t, persistence.PriorityHigh, impl.Priority)
	assert.Equal(t, []string{task.ID}, impl.DependsOn)
	assert.Contains(t, impl.Description, longResponse)
}

func TestActRejectRequiresFeedback(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	task := f.reviewTask(t, "Blues licks", longResponse)

	_, err := f.svc.Act(ctx, task.ID, ActionReject, "  ")
	require.ErrorIs(t, err, ErrFeedbackRequired)

	got, err := f.store.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, persistence.TaskReview, got.Status)
}

func TestActReject(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	task := f.reviewTask(t, "Blues licks", longResponse, testkit.Described("Five licks"))

	out, err := f.svc.Act(ctx, task.ID, ActionReject, "Add fret numbers")
	require.NoError(t, err)
	assert.Equal(t, "Task rejected and returned to todo.", out.Message)

	got, err := f.store.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, persistence.TaskTodo, got.Status)
	assert.Equal(t, "Five licks\n\n---\n**Review Feedback (Rejected):** Add fret numbers", got.Description)

	_, err = f.store.LatestCompletedResult(ctx, task.ID)
	assert.ErrorIs(t, err, persistence.ErrNotFound)

	msg := f.latestMessage(t)
	assert.Equal(t, persistence.MessageAlert, msg.Type)
	assert.Equal(t, f.agent.ID, msg.ToAgentID)
	assert.Contains(t, msg.Content, "@TABSMITH Bot — please review the feedback")
	assert.Equal(t, 1, f.fired)
	assert.Empty(t, f.pub.approvals)
}

func TestActRevise(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	task := f.reviewTask(t, "Blues licks", longResponse, testkit.Tagged("lick"), testkit.WithPriority(persistence.PriorityHigh))

	out, err := f.svc.Act(ctx, task.ID, ActionRevise, "Slower tempo")
	require.NoError(t, err)
	require.NotEmpty(t, out.NewTaskID)

	orig, err := f.store.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, persistence.TaskDone, orig.Status)

	rev, err := f.store.GetTask(ctx, out.NewTaskID)
	require.NoError(t, err)
	assert.Equal(t, "Revise: Blues licks", rev.Title)
	assert.Equal(t, persistence.TaskTodo, rev.Status)
	assert.Equal(t, persistence.PriorityHigh, rev.Priority)
	assert.Equal(t, f.agent.ID, rev.AssigneeID)
	assert.Equal(t, []string{"lick"}, rev.Tags)
	assert.Equal(t, []string{task.ID}, rev.DependsOn)
	assert.Equal(t, "**Revision of:** Blues licks\n**Feedback:** Slower tempo\n\n---\nOriginal description:\n(none)", rev.Description)

	n, err := f.store.CountActivity(ctx, persistence.ActivityFilter{TitlePrefix: loopctl.HumanRevisedPrefix})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestActUnknownAction(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Act(context.Background(), "any", Action("archive"), "")
	require.ErrorIs(t, err, ErrUnknownAction)
}

func TestActRefillsWhenDrained(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	testkit.SeedAgent(t, f.store, intake.ProducerCodename)
	task := f.reviewTask(t, "Blues licks", longResponse)

	_, err := f.svc.Act(ctx, task.ID, ActionApprove, "")
	require.NoError(t, err)

	n, err := f.store.CountTasksWithTitlePrefix(ctx, intake.RefillTitlePrefix, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
