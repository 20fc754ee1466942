// Package intake is the single guarded path through which tasks enter the
// board. Every creator (API, delegate_task, Producer fan-out, review
// actions, idle refill) goes through Service.Create so duplicate
// suppression, WIP caps and staging gates apply uniformly.
package intake

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"missioncontrol/pkg/chain"
	"missioncontrol/pkg/loopctl"
	"missioncontrol/pkg/logx"
	"missioncontrol/pkg/metrics"
	"missioncontrol/pkg/persistence"
)

// HeldTag marks tasks a guard kept in backlog; ReleaseHeld re-evaluates them.
const HeldTag = "held"

// ErrInvalidTask wraps rejections of malformed task requests.
var ErrInvalidTask = errors.New("invalid task")

// DuplicateError reports that a task was not created because an equivalent
// one already exists.
type DuplicateError struct {
	Title          string
	ExistingID     string
	ExistingStatus persistence.TaskStatus
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("duplicate task %q: existing task %s (%s)", e.Title, e.ExistingID, e.ExistingStatus)
}

// IsDuplicate reports whether err is a *DuplicateError.
func IsDuplicate(err error) bool {
	var d *DuplicateError
	return errors.As(err, &d)
}

// Store is the persistence surface intake needs.
type Store interface {
	loopctl.Store
	chain.Store
	CreateTask(ctx context.Context, t *persistence.Task) error
	ListTasks(ctx context.Context, f persistence.TaskFilter) ([]*persistence.Task, error)
	ListAgents(ctx context.Context) ([]*persistence.Agent, error)
	GetAgentByCodename(ctx context.Context, codename string) (*persistence.Agent, error)
	FindTasksByTitles(ctx context.Context) (map[string]*persistence.Task, error)
	CountTasksByStatus(ctx context.Context) (map[persistence.TaskStatus]int, error)
	CountTasksWithTitlePrefix(ctx context.Context, prefix string, since time.Time) (int, error)
	TasksCompletedSince(ctx context.Context, since time.Time) ([]*persistence.Task, error)
	SetTaskTags(ctx context.Context, id string, tags []string) error
	LogActivity(ctx context.Context, a *persistence.Activity) error
	SystemMessage(ctx context.Context, msgType, content string) error
}

// Outcome describes what Create did.
type Outcome struct {
	Task   *persistence.Task
	Reason string // why a requested todo task was held in backlog; empty otherwise
}

// Held reports whether the task was requested as todo but kept in backlog.
func (o *Outcome) Held() bool {
	return o.Reason != ""
}

// Service creates tasks through the loop guards.
type Service struct {
	store    Store
	guards   *loopctl.Controller
	resolver *chain.Resolver
	recorder metrics.Recorder
	logger   *logx.Logger

	mu      sync.RWMutex
	trigger func()
}

// New creates an intake service.
func New(store Store, guards *loopctl.Controller) *Service {
	return &Service{
		store:    store,
		guards:   guards,
		resolver: chain.NewResolver(store),
		recorder: metrics.Nop(),
		logger:   logx.NewLogger("intake"),
	}
}

// SetRecorder installs the admission metrics sink.
func (s *Service) SetRecorder(r metrics.Recorder) {
	if r != nil {
		s.recorder = r
	}
}

// SetTrigger installs the function called when a todo task is created.
func (s *Service) SetTrigger(fn func()) {
	s.mu.Lock()
	s.trigger = fn
	s.mu.Unlock()
}

func (s *Service) fire() {
	s.mu.RLock()
	fn := s.trigger
	s.mu.RUnlock()
	if fn != nil {
		fn()
	}
}

// CreateTask implements tools.TaskCreator.
func (s *Service) CreateTask(ctx context.Context, t *persistence.Task) error {
	_, err := s.Create(ctx, t)
	return err
}

// Create admits t. Duplicates are rejected with *DuplicateError. A task
// requested as todo is stored in backlog instead when its dependencies are
// not finished, its assignee is at the WIP cap, or its category is gated.
// An empty status means backlog.
func (s *Service) Create(ctx context.Context, t *persistence.Task) (*Outcome, error) {
	t.Title = strings.TrimSpace(t.Title)
	if t.Title == "" {
		return nil, fmt.Errorf("%w: title is required", ErrInvalidTask)
	}
	if t.Status == "" {
		t.Status = persistence.TaskBacklog
	}
	if t.Status != persistence.TaskBacklog && t.Status != persistence.TaskTodo {
		return nil, fmt.Errorf("%w: new tasks must start in backlog or todo, not %s", ErrInvalidTask, t.Status)
	}

	existing, err := s.guards.FindDuplicate(ctx, t.Title, t.AssigneeID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		s.audit(ctx, persistence.EventDedupBlocked, "Dedup blocked: "+t.Title,
			fmt.Sprintf("Matches existing task %s (%s)", existing.ID, existing.Status), t.AssigneeID,
			map[string]any{"existingTaskId": existing.ID})
		s.logger.Info("🚫 Dedup blocked %q (existing %s)", t.Title, existing.ID)
		s.recorder.TaskAdmitted("duplicate")
		return nil, &DuplicateError{Title: t.Title, ExistingID: existing.ID, ExistingStatus: existing.Status}
	}

	out := &Outcome{Task: t}
	if t.Status == persistence.TaskTodo {
		reason, event, err := s.holdReason(ctx, t)
		if err != nil {
			return nil, err
		}
		if reason != "" {
			t.Status = persistence.TaskBacklog
			out.Reason = reason
			if event != "" {
				t.Tags = appendTag(t.Tags, HeldTag)
				s.audit(ctx, event, "Held in backlog: "+t.Title, reason, t.AssigneeID, nil)
			}
		}
	}

	if err := s.store.CreateTask(ctx, t); err != nil {
		return nil, err
	}
	if out.Held() {
		s.recorder.TaskAdmitted("held")
	} else {
		s.recorder.TaskAdmitted("created")
	}
	s.audit(ctx, persistence.EventTaskCreated, "Task created: "+t.Title, string(t.Status), t.AssigneeID,
		map[string]any{"taskId": t.ID, "status": string(t.Status)})

	if t.Status == persistence.TaskTodo {
		s.fire()
	}
	return out, nil
}

// holdReason returns why t cannot enter todo yet, and the activity event to
// record for guard holds. Unfinished dependencies are not a guard hold;
// dependency unlocking releases those.
func (s *Service) holdReason(ctx context.Context, t *persistence.Task) (string, string, error) {
	if len(t.DependsOn) > 0 {
		ready, err := s.resolver.Ready(ctx, t)
		if err != nil {
			return "", "", err
		}
		if !ready {
			return "waiting on dependencies", "", nil
		}
	}
	return s.guardReason(ctx, t)
}

// guardReason applies the WIP cap and staging gate to t.
func (s *Service) guardReason(ctx context.Context, t *persistence.Task) (string, string, error) {
	capped, n, err := s.guards.AtWIPCap(ctx, t.AssigneeID)
	if err != nil {
		return "", "", err
	}
	if capped {
		return fmt.Sprintf("assignee already has %d todo tasks (max %d)", n, s.guards.Limits().MaxTodoPerAgent),
			persistence.EventWIPCapped, nil
	}

	cat := loopctl.InferCategory(t.Title, t.Tags)
	gated, n, err := s.guards.ShouldGate(ctx, cat)
	if err != nil {
		return "", "", err
	}
	if gated {
		return fmt.Sprintf("%s staging backlog has %d items (threshold %d)", cat, n, s.guards.Limits().StagingBlockThreshold),
			persistence.EventStagingBlocked, nil
	}
	return "", "", nil
}

// ReleaseHeld moves guard-held backlog tasks to todo once the guard that
// held them no longer applies. It returns how many moved.
func (s *Service) ReleaseHeld(ctx context.Context) (int, error) {
	backlog, err := s.store.ListTasks(ctx, persistence.TaskFilter{Statuses: []persistence.TaskStatus{persistence.TaskBacklog}})
	if err != nil {
		return 0, err
	}
	released := 0
	for _, t := range backlog {
		if !t.HasTag(HeldTag) {
			continue
		}
		reason, _, err := s.holdReason(ctx, t)
		if err != nil {
			return released, err
		}
		if reason != "" {
			continue
		}
		err = s.store.TransitionTask(ctx, t.ID, persistence.TaskTodo, persistence.TaskBacklog)
		if errors.Is(err, persistence.ErrConflict) {
			continue
		}
		if err != nil {
			return released, err
		}
		if err := s.store.SetTaskTags(ctx, t.ID, removeTag(t.Tags, HeldTag)); err != nil {
			s.logger.Warn("failed to clear held tag on %q: %v", t.Title, err)
		}
		s.logger.Info("▶️  Released held task %q", t.Title)
		released++
	}
	if released > 0 {
		s.fire()
	}
	return released, nil
}

// HoldOnUnlock implements chain.Gate. A dependent whose assignee is at the
// WIP cap or whose category is gated stays in backlog tagged held, so
// ReleaseHeld moves it once capacity frees up.
func (s *Service) HoldOnUnlock(ctx context.Context, t *persistence.Task) (bool, error) {
	reason, event, err := s.guardReason(ctx, t)
	if err != nil || reason == "" {
		return false, err
	}
	if !t.HasTag(HeldTag) {
		tags := appendTag(t.Tags, HeldTag)
		if err := s.store.SetTaskTags(ctx, t.ID, tags); err != nil {
			return false, err
		}
		t.Tags = tags
	}
	s.audit(ctx, event, "Held in backlog: "+t.Title, reason, t.AssigneeID, map[string]any{"taskId": t.ID})
	s.recorder.TaskAdmitted("held")
	return true, nil
}

func (s *Service) audit(ctx context.Context, event, title, description, agentID string, meta map[string]any) {
	if err := s.store.LogActivity(ctx, &persistence.Activity{
		EventType:   event,
		Title:       title,
		Description: description,
		AgentID:     agentID,
		Metadata:    meta,
	}); err != nil {
		s.logger.Warn("failed to log %s activity: %v", event, err)
	}
}

func appendTag(tags []string, tag string) []string {
	for _, t := range tags {
		if strings.EqualFold(t, tag) {
			return tags
		}
	}
	return append(tags, tag)
}

func removeTag(tags []string, tag string) []string {
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if !strings.EqualFold(t, tag) {
			out = append(out, t)
		}
	}
	return out
}
