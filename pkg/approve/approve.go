// Package approve acts on review decisions: the automatic pass that runs
// after every execution, and the human review actions.
package approve

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"missioncontrol/pkg/chain"
	"missioncontrol/pkg/intake"
	"missioncontrol/pkg/logx"
	"missioncontrol/pkg/metrics"
	"missioncontrol/pkg/persistence"
	"missioncontrol/pkg/publish"
	"missioncontrol/pkg/review"
)

// DefaultMaxRetries is how many auto-rejects a task gets before it is left
// in review for a human.
const DefaultMaxRetries = 3

// Store is the persistence surface approval needs.
type Store interface {
	chain.Store
	GetAgentByCodename(ctx context.Context, codename string) (*persistence.Agent, error)
	InsertAutoReview(ctx context.Context, r *persistence.AutoReview) error
	IncrementRetry(ctx context.Context, id string) (int, error)
	SupersedeResults(ctx context.Context, taskID string) (int, error)
	AppendTaskDescription(ctx context.Context, id, suffix string) error
	LogActivity(ctx context.Context, a *persistence.Activity) error
	PostMessage(ctx context.Context, m *persistence.Message) error
}

// Creator admits follow-up tasks through the loop guards. As a chain.Gate
// it also decides whether an unlocked dependent may enter todo.
type Creator interface {
	chain.Gate
	Create(ctx context.Context, t *persistence.Task) (*intake.Outcome, error)
	RefillIfDrained(ctx context.Context) (*persistence.Task, error)
}

// Publisher receives approved results.
type Publisher interface {
	Approved(ctx context.Context, a publish.Approval)
}

// Service applies review outcomes.
type Service struct {
	store      Store
	creator    Creator
	publisher  Publisher
	resolver   *chain.Resolver
	recorder   metrics.Recorder
	maxRetries int
	logger     *logx.Logger
	trigger    func()
}

// New creates a service. creator and publisher may be nil; without a
// creator dependents are unlocked with no capacity check.
func New(store Store, creator Creator, publisher Publisher) *Service {
	resolver := chain.NewResolver(store)
	if creator != nil {
		resolver.SetGate(creator)
	}
	return &Service{
		store:      store,
		creator:    creator,
		publisher:  publisher,
		resolver:   resolver,
		recorder:   metrics.Nop(),
		maxRetries: DefaultMaxRetries,
		logger:     logx.NewLogger("approve"),
		trigger:    func() {},
	}
}

// SetTrigger sets the callback that wakes the queue.
func (s *Service) SetTrigger(fn func()) {
	if fn != nil {
		s.trigger = fn
	}
}

// SetRecorder installs the review metrics sink.
func (s *Service) SetRecorder(r metrics.Recorder) {
	if r != nil {
		s.recorder = r
	}
}

// SetMaxRetries overrides DefaultMaxRetries.
func (s *Service) SetMaxRetries(n int) {
	if n > 0 {
		s.maxRetries = n
	}
}

// Process auto-reviews the latest completed result of taskID and applies
// the decision. Tasks that already left review are skipped.
func (s *Service) Process(ctx context.Context, taskID string) error {
	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return fmt.Errorf("failed to load task %s for review: %w", taskID, err)
	}
	if task.Status != persistence.TaskReview {
		s.logger.Warn("skipping auto-review of %q: task is %s", task.Title, task.Status)
		return nil
	}
	result, err := s.store.LatestCompletedResult(ctx, taskID)
	if err != nil {
		return fmt.Errorf("failed to load result of %s: %w", taskID, err)
	}

	rv := review.Review(task, result)
	if err := s.store.InsertAutoReview(ctx, &persistence.AutoReview{
		TaskID:          task.ID,
		Decision:        string(rv.Decision),
		Reasons:         rv.Reasons,
		Checks:          rv.Checks,
		RepairedContent: rv.RepairedContent,
	}); err != nil {
		return err
	}
	s.activity(ctx, persistence.EventAutoReview,
		fmt.Sprintf("Auto-review %s: %s", rv.Decision, task.Title),
		strings.Join(rv.Reasons, "; "), task.AssigneeID,
		map[string]any{"taskId": task.ID, "decision": string(rv.Decision)})
	s.recorder.ReviewDecision(string(rv.Decision))
	s.logger.Info("🤖 Auto-review %s for %q", rv.Decision, task.Title)

	switch rv.Decision {
	case review.Approve:
		return s.autoApprove(ctx, task, result, &rv)
	case review.Reject:
		return s.autoReject(ctx, task, &rv)
	default:
		s.message(ctx, persistence.SystemSender, "", persistence.MessageAlert,
			fmt.Sprintf("👀 Flagged for review: **%s**. Reasons: %s.", task.Title, strings.Join(rv.Reasons, ", ")))
		return nil
	}
}

func (s *Service) autoApprove(ctx context.Context, task *persistence.Task, result *persistence.TaskResult, rv *review.Result) error {
	if err := s.store.TransitionTask(ctx, task.ID, persistence.TaskDone, persistence.TaskReview); err != nil {
		return err
	}

	var passed []string
	for _, c := range rv.Checks {
		if c.Passed {
			passed = append(passed, c.Name)
		}
	}
	s.message(ctx, persistence.SystemSender, "", persistence.MessageSystem,
		fmt.Sprintf("🤖 Auto-approved: **%s**. Checks passed: %s.", task.Title, strings.Join(passed, ", ")))

	if _, err := s.resolver.UnlockDependents(ctx, task.ID); err != nil {
		s.logger.Warn("failed to unlock dependents of %s: %v", task.ID, err)
	}
	s.trigger()

	content := result.Response
	if rv.RepairedContent != "" {
		content = rv.RepairedContent
	}
	s.publish(ctx, task, content, result.Response)
	return nil
}

func (s *Service) autoReject(ctx context.Context, task *persistence.Task, rv *review.Result) error {
	count, err := s.store.IncrementRetry(ctx, task.ID)
	if err != nil {
		return err
	}
	reasons := strings.Join(rv.Reasons, ", ")

	if count >= s.maxRetries {
		s.message(ctx, persistence.SystemSender, task.AssigneeID, persistence.MessageAlert,
			fmt.Sprintf("🤖 Auto-rejected %d times: **%s**. Flagging for human review. Reasons: %s.",
				count, task.Title, reasons))
		return nil
	}

	if _, err := s.store.SupersedeResults(ctx, task.ID); err != nil {
		return err
	}
	if err := s.store.TransitionTask(ctx, task.ID, persistence.TaskTodo, persistence.TaskReview); err != nil {
		return err
	}
	s.message(ctx, persistence.SystemSender, "", persistence.MessageSystem,
		fmt.Sprintf("🤖 Auto-rejected: **%s**. Reasons: %s. Retrying (attempt %d/%d).",
			task.Title, reasons, count+1, s.maxRetries))
	s.trigger()
	return nil
}

// publish hands an approved result to the publisher with its author's name.
func (s *Service) publish(ctx context.Context, task *persistence.Task, content, response string) {
	if s.publisher == nil {
		return
	}
	agentName := ""
	if task.AssigneeID != "" {
		if a, err := s.store.GetAgent(ctx, task.AssigneeID); err == nil {
			agentName = a.Name
		}
	}
	s.publisher.Approved(ctx, publish.Approval{
		Task:      task,
		AgentName: agentName,
		Content:   content,
		Response:  response,
	})
}

func (s *Service) message(ctx context.Context, from, to, msgType, content string) {
	if err := s.store.PostMessage(ctx, &persistence.Message{
		FromAgentID: from,
		ToAgentID:   to,
		Content:     content,
		Type:        msgType,
	}); err != nil {
		s.logger.Warn("failed to post %s message: %v", msgType, err)
	}
}

func (s *Service) activity(ctx context.Context, eventType, title, desc, agentID string, meta map[string]any) {
	if err := s.store.LogActivity(ctx, &persistence.Activity{
		EventType:   eventType,
		Title:       title,
		Description: desc,
		AgentID:     agentID,
		Metadata:    meta,
	}); err != nil {
		s.logger.Warn("failed to log %s activity: %v", eventType, err)
	}
}

func isNotFound(err error) bool {
	return errors.Is(err, persistence.ErrNotFound)
}
