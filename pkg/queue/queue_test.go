package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"missioncontrol/pkg/autoassign"
	"missioncontrol/pkg/config"
	"missioncontrol/pkg/executor"
	"missioncontrol/pkg/intake"
	"missioncontrol/pkg/loopctl"
	"missioncontrol/pkg/persistence"
	"missioncontrol/pkg/testkit"
)

// fakeExec moves executed tasks to review, like a successful run.
type fakeExec struct {
	store   *persistence.Store
	gate    chan struct{}
	fail    map[string]bool
	panicOn string

	mu    sync.Mutex
	order []string
}

func (f *fakeExec) Execute(ctx context.Context, id string, _ *persistence.ProviderConfig) (*executor.Result, error) {
	f.mu.Lock()
	f.order = append(f.order, id)
	f.mu.Unlock()

	if f.gate != nil {
		<-f.gate
	}
	if id == f.panicOn {
		panic("boom")
	}
	if f.fail[id] {
		return &executor.Result{TaskID: id, Status: persistence.ResultError, Error: "provider down"}, nil
	}
	if err := f.store.TransitionTask(ctx, id, persistence.TaskReview, persistence.TaskTodo); err != nil {
		return nil, err
	}
	return &executor.Result{TaskID: id, Status: persistence.ResultCompleted}, nil
}

func (f *fakeExec) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.order...)
}

func limits() config.LoopConfig {
	return config.LoopConfig{
		MaxTodoPerAgent:       5,
		StagingBlockThreshold: 6,
		DuplicateWindow:       14 * 24 * time.Hour,
		DuplicatePrefixLength: 32,
	}
}

// runController starts Run and returns a stop function that waits for it.
func runController(t *testing.T, c *Controller) (context.Context, func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	return ctx, func() {
		cancel()
		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("Run did not return")
		}
	}
}

func queueStatus(t *testing.T, s *persistence.Store) persistence.QueueStatus {
	t.Helper()
	st, err := s.GetQueueState(context.Background())
	require.NoError(t, err)
	return st.Status
}

func TestDrainRunsInPriorityOrder(t *testing.T) {
	s := testkit.NewStore(t)
	agent := testkit.SeedAgent(t, s, "TABSMITH")
	low := testkit.SeedTask(t, s, "low", persistence.TaskTodo, testkit.AssignedTo(agent), testkit.WithPriority(persistence.PriorityLow))
	crit := testkit.SeedTask(t, s, "critical", persistence.TaskTodo, testkit.AssignedTo(agent), testkit.WithPriority(persistence.PriorityCritical))
	high := testkit.SeedTask(t, s, "high", persistence.TaskTodo, testkit.AssignedTo(agent), testkit.WithPriority(persistence.PriorityHigh))
	high2 := testkit.SeedTask(t, s, "high, later", persistence.TaskTodo, testkit.AssignedTo(agent), testkit.WithPriority(persistence.PriorityHigh))

	fx := &fakeExec{store: s}
	c := New(s, fx, nil, nil, Options{})

	n, err := c.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, []string{crit.ID, high.ID, high2.ID, low.ID}, fx.calls())

	st, err := s.GetQueueState(context.Background())
	require.NoError(t, err)
	assert.Equal(t, persistence.QueueIdle, st.Status)
	assert.Equal(t, 4, st.TasksProcessed)
	assert.Zero(t, st.TasksRemaining)
	assert.Empty(t, st.CurrentTaskID)
	assert.Nil(t, st.StartedAt)
}

func TestDrainAutoAssigns(t *testing.T) {
	s := testkit.NewStore(t)
	tab := testkit.SeedAgent(t, s, "TABSMITH")
	routed := testkit.SeedTask(t, s, "Some licks", persistence.TaskTodo, testkit.Tagged("lick"))
	stray := testkit.SeedTask(t, s, "Misc chore", persistence.TaskTodo, testkit.Tagged("misc"))

	fx := &fakeExec{store: s}
	c := New(s, fx, autoassign.New(s, nil), nil, Options{})

	n, err := c.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{routed.ID}, fx.calls())

	got := testkit.AssertTaskStatus(t, s, routed.ID, persistence.TaskReview)
	assert.Equal(t, tab.ID, got.AssigneeID)
	testkit.AssertTaskStatus(t, s, stray.ID, persistence.TaskTodo)
}

func TestDrainDoesNotRetryFailuresWithinRun(t *testing.T) {
	s := testkit.NewStore(t)
	agent := testkit.SeedAgent(t, s, "TABSMITH")
	bad := testkit.SeedTask(t, s, "flaky", persistence.TaskTodo, testkit.AssignedTo(agent), testkit.WithPriority(persistence.PriorityCritical))
	good := testkit.SeedTask(t, s, "fine", persistence.TaskTodo, testkit.AssignedTo(agent))

	fx := &fakeExec{store: s, fail: map[string]bool{bad.ID: true}}
	c := New(s, fx, nil, nil, Options{})

	_, err := c.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{bad.ID, good.ID}, fx.calls())
	testkit.AssertTaskStatus(t, s, bad.ID, persistence.TaskTodo)
}

func TestDrainRecoversPanics(t *testing.T) {
	s := testkit.NewStore(t)
	agent := testkit.SeedAgent(t, s, "TABSMITH")
	boom := testkit.SeedTask(t, s, "boom", persistence.TaskTodo, testkit.AssignedTo(agent), testkit.WithPriority(persistence.PriorityHigh))
	next := testkit.SeedTask(t, s, "next", persistence.TaskTodo, testkit.AssignedTo(agent))

	fx := &fakeExec{store: s, panicOn: boom.ID}
	c := New(s, fx, nil, nil, Options{})

	_, err := c.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{boom.ID, next.ID}, fx.calls())
	testkit.AssertTaskStatus(t, s, next.ID, persistence.TaskReview)
}

func TestStartStop(t *testing.T) {
	s := testkit.NewStore(t)
	agent := testkit.SeedAgent(t, s, "TABSMITH")
	fx := &fakeExec{store: s, gate: make(chan struct{})}
	c := New(s, fx, nil, nil, Options{PollInterval: time.Hour})
	ctx, stop := runController(t, c)

	r, err := c.Start(ctx)
	require.NoError(t, err)
	assert.False(t, r.OK)
	assert.Equal(t, `No todo tasks found. Add tasks with status "todo" and an assigned agent.`, r.Message)

	first := testkit.SeedTask(t, s, "first", persistence.TaskTodo, testkit.AssignedTo(agent))
	second := testkit.SeedTask(t, s, "second", persistence.TaskTodo, testkit.AssignedTo(agent))

	r, err = c.Start(ctx)
	require.NoError(t, err)
	assert.True(t, r.OK)
	assert.Equal(t, 2, r.TasksQueued)
	assert.Equal(t, "Queue started. 2 todo task(s) found.", r.Message)

	r, err = c.Start(ctx)
	require.NoError(t, err)
	assert.False(t, r.OK)
	assert.Equal(t, "Queue is already running.", r.Message)

	require.Eventually(t, func() bool { return len(fx.calls()) == 1 }, 5*time.Second, 10*time.Millisecond)

	r, err = c.Stop(ctx)
	require.NoError(t, err)
	assert.True(t, r.OK)
	assert.Equal(t, "Queue will stop after current task.", r.Message)

	st, err := s.GetQueueState(ctx)
	require.NoError(t, err)
	assert.Equal(t, persistence.QueueStopping, st.Status)
	assert.Equal(t, first.ID, st.CurrentTaskID)

	close(fx.gate)
	require.Eventually(t, func() bool { return queueStatus(t, s) == persistence.QueueIdle }, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, []string{first.ID}, fx.calls(), "stop waits for the in-flight task only")
	testkit.AssertTaskStatus(t, s, first.ID, persistence.TaskReview)
	testkit.AssertTaskStatus(t, s, second.ID, persistence.TaskTodo)

	r, err = c.Stop(ctx)
	require.NoError(t, err)
	assert.False(t, r.OK)
	assert.Equal(t, "Queue is not running.", r.Message)

	stop()
	_, err = c.Start(context.Background())
	assert.True(t, errors.Is(err, ErrNotRunning))
}

func TestTriggerStartsIdleQueue(t *testing.T) {
	s := testkit.NewStore(t)
	agent := testkit.SeedAgent(t, s, "TABSMITH")
	fx := &fakeExec{store: s}
	c := New(s, fx, nil, nil, Options{PollInterval: time.Hour})
	_, stop := runController(t, c)
	defer stop()

	c.Trigger()
	task := testkit.SeedTask(t, s, "triggered", persistence.TaskTodo, testkit.AssignedTo(agent))
	c.Trigger()

	require.Eventually(t, func() bool { return len(fx.calls()) == 1 }, 5*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return queueStatus(t, s) == persistence.QueueIdle }, 5*time.Second, 10*time.Millisecond)
	testkit.AssertTaskStatus(t, s, task.ID, persistence.TaskReview)

	st, err := c.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, st.TasksProcessed)
	assert.Zero(t, st.TasksRemaining)
}

// lateArrivalStore adds a todo task and triggers the queue right after the
// worker has read an empty board, before the worker reports its exit.
type lateArrivalStore struct {
	*persistence.Store
	agent   *persistence.Agent
	trigger func()
	once    sync.Once
	late    chan string
}

func (l *lateArrivalStore) ListTasks(ctx context.Context, f persistence.TaskFilter) ([]*persistence.Task, error) {
	tasks, err := l.Store.ListTasks(ctx, f)
	if err != nil || len(tasks) > 0 {
		return tasks, err
	}
	l.once.Do(func() {
		task := &persistence.Task{Title: "late arrival", Status: persistence.TaskTodo, AssigneeID: l.agent.ID}
		if err := l.Store.CreateTask(ctx, task); err != nil {
			close(l.late)
			return
		}
		l.late <- task.ID
		l.trigger()
		// Let the owner take the trigger while the run is still in flight.
		time.Sleep(50 * time.Millisecond)
	})
	return tasks, nil
}

func TestTriggerDuringRunIsNotLost(t *testing.T) {
	s := testkit.NewStore(t)
	agent := testkit.SeedAgent(t, s, "TABSMITH")
	first := testkit.SeedTask(t, s, "first", persistence.TaskTodo, testkit.AssignedTo(agent))

	ls := &lateArrivalStore{Store: s, agent: agent, late: make(chan string, 1)}
	fx := &fakeExec{store: s}
	c := New(ls, fx, nil, nil, Options{PollInterval: time.Hour})
	ls.trigger = c.Trigger
	ctx, stop := runController(t, c)
	defer stop()

	r, err := c.Start(ctx)
	require.NoError(t, err)
	require.True(t, r.OK)

	var lateID string
	select {
	case id, ok := <-ls.late:
		require.True(t, ok, "late task was not created")
		lateID = id
	case <-time.After(5 * time.Second):
		t.Fatal("worker never saw an empty board")
	}

	require.Eventually(t, func() bool { return len(fx.calls()) == 2 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{first.ID, lateID}, fx.calls())
	require.Eventually(t, func() bool { return queueStatus(t, s) == persistence.QueueIdle }, 5*time.Second, 10*time.Millisecond)
	testkit.AssertTaskStatus(t, s, lateID, persistence.TaskReview)
}

func TestIdlePollRefillsFromProducer(t *testing.T) {
	s := testkit.NewStore(t)
	testkit.SeedAgent(t, s, intake.ProducerCodename)
	in := intake.New(s, loopctl.New(s, limits))
	fx := &fakeExec{store: s}
	c := New(s, fx, nil, in, Options{
		RefillEnabled: true,
		Refill:        intake.RefillPolicy{IdleThreshold: time.Second, Cooldown: 24 * time.Hour},
		PollInterval:  10 * time.Millisecond,
	})
	in.SetTrigger(c.Trigger)
	_, stop := runController(t, c)
	defer stop()

	require.Eventually(t, func() bool { return len(fx.calls()) >= 1 }, 5*time.Second, 10*time.Millisecond)

	n, err := s.CountTasksWithTitlePrefix(context.Background(), intake.RefillTitlePrefix, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	testkit.AssertMessage(t, s, "Triggered Producer emergency refill")
}

func TestOptionsFromConfig(t *testing.T) {
	assert.Equal(t, Options{}, OptionsFromConfig(nil))
	o := OptionsFromConfig(&config.RefillConfig{Enabled: true, IdleThreshold: time.Minute, Cooldown: time.Hour, PollInterval: time.Second})
	assert.True(t, o.RefillEnabled)
	assert.Equal(t, time.Minute, o.Refill.IdleThreshold)
	assert.Equal(t, time.Hour, o.Refill.Cooldown)
	assert.Equal(t, time.Second, o.PollInterval)
}
