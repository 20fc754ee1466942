// Package queue runs todo tasks one at a time in priority order.
//
// A single goroutine (Run) owns the Idle → Running → Stopping → Idle state.
// Start, Stop and Trigger are commands sent to it; the worker that actually
// executes tasks reports progress back as events.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc/panics"

	"missioncontrol/pkg/config"
	"missioncontrol/pkg/executor"
	"missioncontrol/pkg/intake"
	"missioncontrol/pkg/logx"
	"missioncontrol/pkg/metrics"
	"missioncontrol/pkg/persistence"
)

// ErrNotRunning is returned by commands sent after Run has exited.
var ErrNotRunning = errors.New("queue controller is not running")

// Store is the persistence surface the queue needs.
type Store interface {
	Now() time.Time
	ListTasks(ctx context.Context, f persistence.TaskFilter) ([]*persistence.Task, error)
	CountTasks(ctx context.Context, status persistence.TaskStatus, assigneeID string) (int, error)
	GetQueueState(ctx context.Context) (*persistence.QueueState, error)
	SaveQueueState(ctx context.Context, q *persistence.QueueState) error
	LogActivity(ctx context.Context, a *persistence.Activity) error
}

// Executor runs one task.
type Executor interface {
	Execute(ctx context.Context, taskID string, override *persistence.ProviderConfig) (*executor.Result, error)
}

// Assigner picks an agent for an unassigned task.
type Assigner interface {
	Assign(ctx context.Context, taskID string, tags []string, description string) (bool, error)
}

// Maintainer keeps the board stocked: held tasks are released as capacity
// frees up, and an idle board asks the Producer for more work.
type Maintainer interface {
	ReleaseHeld(ctx context.Context) (int, error)
	RefillIfIdle(ctx context.Context, idleSince time.Time, p intake.RefillPolicy) (*persistence.Task, error)
}

// Options configures the idle poll.
type Options struct {
	Refill        intake.RefillPolicy
	RefillEnabled bool
	PollInterval  time.Duration
}

// OptionsFromConfig maps the refill section of the config file.
func OptionsFromConfig(r *config.RefillConfig) Options {
	if r == nil {
		return Options{}
	}
	return Options{
		Refill:        intake.RefillPolicy{IdleThreshold: r.IdleThreshold, Cooldown: r.Cooldown},
		RefillEnabled: r.Enabled,
		PollInterval:  r.PollInterval,
	}
}

// Reply answers Start and Stop.
type Reply struct {
	OK          bool   `json:"ok"`
	Message     string `json:"message"`
	TasksQueued int    `json:"tasksQueued,omitempty"`
}

type cmdKind int

const (
	cmdStart cmdKind = iota
	cmdStop
	cmdTrigger
)

type command struct {
	kind  cmdKind
	reply chan Reply
}

type evKind int

const (
	evStarted evKind = iota
	evFinished
	evExit
)

type event struct {
	kind      evKind
	taskID    string
	remaining int
}

// ownerState is touched only by the Run goroutine.
type ownerState struct {
	status    persistence.QueueStatus
	current   string
	processed int
	remaining int
	startedAt *time.Time
	idleSince time.Time
	// pending records a start request that arrived while a run was in
	// flight; the worker may already have seen an empty board.
	pending bool
}

// Controller is the queue controller.
type Controller struct {
	store    Store
	exec     Executor
	assigner Assigner
	maint    Maintainer
	opts     Options
	recorder metrics.Recorder
	logger   *logx.Logger

	cmds     chan command
	events   chan event
	done     chan struct{}
	stopping atomic.Bool
}

// New creates a controller. assigner and maint may be nil.
func New(store Store, exec Executor, assigner Assigner, maint Maintainer, opts Options) *Controller {
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Minute
	}
	return &Controller{
		store:    store,
		exec:     exec,
		assigner: assigner,
		maint:    maint,
		opts:     opts,
		recorder: metrics.Nop(),
		logger:   logx.NewLogger("queue"),
		cmds:     make(chan command, 4),
		events:   make(chan event),
		done:     make(chan struct{}),
	}
}

// SetRecorder installs the queue metrics sink.
func (c *Controller) SetRecorder(r metrics.Recorder) {
	if r != nil {
		c.recorder = r
	}
}

// Run owns the queue state until ctx is cancelled. A state left running by
// a previous process is reset to idle on entry. On exit the in-flight task
// is allowed to return before the final state is written.
func (c *Controller) Run(ctx context.Context) error {
	defer close(c.done)

	prev, err := c.store.GetQueueState(ctx)
	if err != nil {
		return err
	}
	s := &ownerState{status: persistence.QueueIdle, processed: prev.TasksProcessed, idleSince: prev.UpdatedAt}
	if s.idleSince.IsZero() || prev.Status != persistence.QueueIdle {
		s.idleSince = c.store.Now()
	}
	c.save(ctx, s)

	ticker := time.NewTicker(c.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if s.status != persistence.QueueIdle {
				c.stopping.Store(true)
				for ev := range c.events {
					c.apply(context.WithoutCancel(ctx), s, ev)
					if ev.kind == evExit {
						break
					}
				}
			}
			c.logger.Info("Queue controller stopped")
			return nil
		case cmd := <-c.cmds:
			c.handle(ctx, s, cmd)
		case ev := <-c.events:
			c.apply(ctx, s, ev)
		case <-ticker.C:
			c.poll(ctx, s)
		}
	}
}

// Start begins processing todo tasks. It is a no-op when already running
// or when nothing is queued.
func (c *Controller) Start(ctx context.Context) (Reply, error) {
	return c.send(ctx, cmdStart)
}

// Stop asks the queue to halt after the current task. The in-flight
// execution is never interrupted.
func (c *Controller) Stop(ctx context.Context) (Reply, error) {
	return c.send(ctx, cmdStop)
}

// Trigger starts the queue if it is idle and todo tasks exist. It never
// blocks; a trigger already pending makes another one redundant.
func (c *Controller) Trigger() {
	select {
	case c.cmds <- command{kind: cmdTrigger}:
	default:
	}
}

func (c *Controller) send(ctx context.Context, kind cmdKind) (Reply, error) {
	cmd := command{kind: kind, reply: make(chan Reply, 1)}
	select {
	case c.cmds <- cmd:
	case <-c.done:
		return Reply{}, ErrNotRunning
	case <-ctx.Done():
		return Reply{}, ctx.Err()
	}
	select {
	case r := <-cmd.reply:
		return r, nil
	case <-c.done:
		return Reply{}, ErrNotRunning
	case <-ctx.Done():
		return Reply{}, ctx.Err()
	}
}

func (c *Controller) handle(ctx context.Context, s *ownerState, cmd command) {
	var r Reply
	switch cmd.kind {
	case cmdStart, cmdTrigger:
		r = c.start(ctx, s)
	case cmdStop:
		r = c.stop(ctx, s)
	}
	if cmd.reply != nil {
		cmd.reply <- r
	}
}

func (c *Controller) start(ctx context.Context, s *ownerState) Reply {
	if s.status != persistence.QueueIdle {
		if s.status == persistence.QueueRunning {
			s.pending = true
		}
		return Reply{Message: "Queue is already running."}
	}
	n, err := c.store.CountTasks(ctx, persistence.TaskTodo, "")
	if err != nil {
		c.logger.Error("failed to count todo tasks: %v", err)
		return Reply{Message: "Failed to read the task board."}
	}
	if n == 0 {
		return Reply{Message: `No todo tasks found. Add tasks with status "todo" and an assigned agent.`}
	}

	now := c.store.Now()
	s.status = persistence.QueueRunning
	s.remaining = n
	s.startedAt = &now
	c.stopping.Store(false)
	c.save(ctx, s)
	c.transition(ctx, "Queue started", fmt.Sprintf("%d todo task(s) found", n))

	go c.work(ctx)
	return Reply{OK: true, Message: fmt.Sprintf("Queue started. %d todo task(s) found.", n), TasksQueued: n}
}

func (c *Controller) stop(ctx context.Context, s *ownerState) Reply {
	switch s.status {
	case persistence.QueueIdle:
		return Reply{Message: "Queue is not running."}
	case persistence.QueueStopping:
		return Reply{OK: true, Message: "Queue will stop after current task."}
	}
	c.stopping.Store(true)
	s.status = persistence.QueueStopping
	s.pending = false
	c.save(ctx, s)
	c.transition(ctx, "Queue stopping", "Halting after the current task")
	return Reply{OK: true, Message: "Queue will stop after current task."}
}

func (c *Controller) apply(ctx context.Context, s *ownerState, ev event) {
	switch ev.kind {
	case evStarted:
		s.current = ev.taskID
		s.remaining = ev.remaining
	case evFinished:
		s.current = ""
		s.processed++
	case evExit:
		s.status = persistence.QueueIdle
		s.current = ""
		s.remaining = 0
		s.startedAt = nil
		s.idleSince = c.store.Now()
		c.transition(ctx, "Queue idle", fmt.Sprintf("%d task(s) processed in total", s.processed))
	}
	c.save(ctx, s)

	if ev.kind == evExit && s.pending {
		s.pending = false
		if !c.stopping.Load() && ctx.Err() == nil {
			c.start(ctx, s)
		}
	}
}

// poll runs board maintenance while the queue is idle.
func (c *Controller) poll(ctx context.Context, s *ownerState) {
	if s.status != persistence.QueueIdle || c.maint == nil {
		return
	}
	if n, err := c.maint.ReleaseHeld(ctx); err != nil {
		c.logger.Warn("failed to release held tasks: %v", err)
	} else if n > 0 {
		c.logger.Info("🔓 Released %d held task(s)", n)
	}
	if !c.opts.RefillEnabled {
		return
	}
	t, err := c.maint.RefillIfIdle(ctx, s.idleSince, c.opts.Refill)
	switch {
	case errors.Is(err, intake.ErrNoProducer):
	case err != nil:
		c.logger.Warn("idle refill failed: %v", err)
	case t != nil:
		c.logger.Info("🏭 Queue idle, asked the Producer for more work: %q", t.Title)
	}
}

func (c *Controller) save(ctx context.Context, s *ownerState) {
	if err := c.store.SaveQueueState(ctx, &persistence.QueueState{
		Status:         s.status,
		CurrentTaskID:  s.current,
		TasksProcessed: s.processed,
		TasksRemaining: s.remaining,
		StartedAt:      s.startedAt,
	}); err != nil {
		c.logger.Error("%v", err)
	}
	c.recorder.QueueState(string(s.status), s.remaining)
}

func (c *Controller) transition(ctx context.Context, title, desc string) {
	if err := c.store.LogActivity(ctx, &persistence.Activity{
		EventType:   persistence.EventQueueTransition,
		Title:       title,
		Description: desc,
	}); err != nil {
		c.logger.Warn("failed to log queue transition: %v", err)
	}
	c.logger.Info("%s (%s)", title, desc)
}

// work is the worker goroutine started by start. Its final event is always
// evExit.
func (c *Controller) work(ctx context.Context) {
	defer func() { c.events <- event{kind: evExit} }()
	c.process(ctx,
		func(id string, remaining int) { c.events <- event{kind: evStarted, taskID: id, remaining: remaining} },
		func(id string) { c.events <- event{kind: evFinished, taskID: id} },
	)
}

// process executes tasks until none are eligible, a stop is requested or
// ctx ends. A task whose execution fails is not retried within the same
// run.
func (c *Controller) process(ctx context.Context, started func(string, int), finished func(string)) {
	skip := make(map[string]bool)
	for !c.stopping.Load() && ctx.Err() == nil {
		task, remaining, err := c.next(ctx, skip)
		if err != nil {
			c.logger.Error("failed to select next task: %v", err)
			return
		}
		if task == nil {
			return
		}
		started(task.ID, remaining)
		if !c.execute(ctx, task) {
			skip[task.ID] = true
		}
		finished(task.ID)
	}
}

// next returns the highest-priority, oldest eligible todo task and how many
// other eligible tasks remain. Unassigned tasks are auto-assigned first;
// those that cannot be assigned are skipped.
func (c *Controller) next(ctx context.Context, skip map[string]bool) (*persistence.Task, int, error) {
	if c.maint != nil {
		if _, err := c.maint.ReleaseHeld(ctx); err != nil {
			c.logger.Warn("failed to release held tasks: %v", err)
		}
	}
	tasks, err := c.store.ListTasks(ctx, persistence.TaskFilter{Statuses: []persistence.TaskStatus{persistence.TaskTodo}})
	if err != nil {
		return nil, 0, err
	}

	var eligible []*persistence.Task
	for _, t := range tasks {
		if skip[t.ID] {
			continue
		}
		if t.AssigneeID == "" {
			if c.assigner == nil {
				continue
			}
			ok, err := c.assigner.Assign(ctx, t.ID, t.Tags, t.Description)
			if err != nil {
				c.logger.Warn("auto-assign failed for %q: %v", t.Title, err)
				continue
			}
			if !ok {
				continue
			}
		}
		eligible = append(eligible, t)
	}
	if len(eligible) == 0 {
		return nil, 0, nil
	}
	return eligible[0], len(eligible) - 1, nil
}

// execute runs one task and reports whether it completed. Panics are
// recovered so one bad task cannot take the queue down.
func (c *Controller) execute(ctx context.Context, task *persistence.Task) bool {
	ok := false
	var pc panics.Catcher
	pc.Try(func() {
		res, err := c.exec.Execute(ctx, task.ID, nil)
		switch {
		case err != nil:
			c.logger.Warn("⏭️  Skipping %q: %v", task.Title, err)
		case res.Status == persistence.ResultError:
			c.logger.Warn("Task %q failed: %s", task.Title, res.Error)
		default:
			ok = true
		}
	})
	if r := pc.Recovered(); r != nil {
		c.logger.Error("💥 Execution of %q panicked: %s", task.Title, r.String())
		return false
	}
	return ok
}

// Drain processes tasks on the calling goroutine until none are eligible
// and returns how many ran. It must not be used while Run is active.
func (c *Controller) Drain(ctx context.Context) (int, error) {
	prev, err := c.store.GetQueueState(ctx)
	if err != nil {
		return 0, err
	}
	n, err := c.store.CountTasks(ctx, persistence.TaskTodo, "")
	if err != nil {
		return 0, err
	}
	now := c.store.Now()
	s := &ownerState{status: persistence.QueueRunning, processed: prev.TasksProcessed, remaining: n, startedAt: &now}
	c.stopping.Store(false)
	c.save(ctx, s)

	ran := 0
	c.process(ctx,
		func(id string, remaining int) {
			s.current, s.remaining = id, remaining
			c.save(ctx, s)
		},
		func(string) {
			ran++
			s.current = ""
			s.processed++
			c.save(ctx, s)
		},
	)
	c.apply(context.WithoutCancel(ctx), s, event{kind: evExit})
	return ran, ctx.Err()
}

// Status is the queue state as reported to clients.
type Status struct {
	Status         persistence.QueueStatus `json:"status"`
	CurrentTaskID  string                  `json:"currentTaskId,omitempty"`
	TasksProcessed int                     `json:"tasksProcessed"`
	TasksRemaining int                     `json:"tasksRemaining"`
	StartedAt      *time.Time              `json:"startedAt,omitempty"`
	UpdatedAt      time.Time               `json:"updatedAt"`
}

// Status reads the persisted state. TasksRemaining is the live todo count.
func (c *Controller) Status(ctx context.Context) (*Status, error) {
	st, err := c.store.GetQueueState(ctx)
	if err != nil {
		return nil, err
	}
	todo, err := c.store.CountTasks(ctx, persistence.TaskTodo, "")
	if err != nil {
		return nil, err
	}
	return &Status{
		Status:         st.Status,
		CurrentTaskID:  st.CurrentTaskID,
		TasksProcessed: st.TasksProcessed,
		TasksRemaining: todo,
		StartedAt:      st.StartedAt,
		UpdatedAt:      st.UpdatedAt,
	}, nil
}
