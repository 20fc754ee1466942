package approve

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"missioncontrol/pkg/intake"
	"missioncontrol/pkg/persistence"
)

// Action is a human review verdict.
type Action string

// Actions.
const (
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
	ActionRevise  Action = "revise"
)

// Errors returned for malformed review requests. Neither mutates state.
var (
	ErrFeedbackRequired = errors.New("feedback is required")
	ErrUnknownAction    = errors.New("unknown action; use approve, reject or revise")
)

// StrategicCodenames are the agents whose approved output is broken down
// into implementation work by the Producer.
//
//nolint:gochecknoglobals // constant set
var StrategicCodenames = []string{"BIZOPS", "COACH", "FEEDBACK", "COMMUNITY"}

// Outcome reports what a human action did.
type Outcome struct {
	Message   string `json:"message"`
	NewTaskID string `json:"newTaskId,omitempty"`
}

// Act applies a human review action to taskID. reject and revise require
// feedback.
func (s *Service) Act(ctx context.Context, taskID string, action Action, feedback string) (*Outcome, error) {
	feedback = strings.TrimSpace(feedback)
	switch action {
	case ActionApprove:
	case ActionReject, ActionRevise:
		if feedback == "" {
			return nil, fmt.Errorf("%s: %w", action, ErrFeedbackRequired)
		}
	default:
		return nil, fmt.Errorf("%q: %w", action, ErrUnknownAction)
	}

	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to load task %s: %w", taskID, err)
	}
	var agent *persistence.Agent
	if task.AssigneeID != "" {
		agent, err = s.store.GetAgent(ctx, task.AssigneeID)
		if err != nil && !isNotFound(err) {
			return nil, err
		}
	}

	var out *Outcome
	switch action {
	case ActionApprove:
		out, err = s.humanApprove(ctx, task, agent)
	case ActionReject:
		out, err = s.humanReject(ctx, task, agent, feedback)
	case ActionRevise:
		out, err = s.humanRevise(ctx, task, agent, feedback)
	}
	if err != nil {
		return nil, err
	}

	s.activity(ctx, persistence.EventHumanReview, fmt.Sprintf("Task %s: %s", action, task.Title), feedback, "",
		map[string]any{"taskId": task.ID, "action": string(action)})
	s.recorder.ReviewDecision("human_" + string(action))
	s.refillIfDrained(ctx)
	return out, nil
}

func (s *Service) humanApprove(ctx context.Context, task *persistence.Task, agent *persistence.Agent) (*Outcome, error) {
	if err := s.store.TransitionTask(ctx, task.ID, persistence.TaskDone, persistence.TaskReview); err != nil {
		return nil, fmt.Errorf("task %q is %s: %w", task.Title, task.Status, err)
	}
	unlocked, err := s.resolver.UnlockDependents(ctx, task.ID)
	if err != nil {
		s.logger.Warn("failed to unlock dependents of %s: %v", task.ID, err)
	}
	s.trigger()

	content := fmt.Sprintf("✅ Task approved: **%s**. Great work!", task.Title)
	for _, dep := range unlocked {
		if dep.AssigneeID == "" {
			continue
		}
		if a, err := s.store.GetAgent(ctx, dep.AssigneeID); err == nil {
			content += fmt.Sprintf("\n@%s — your task **%s** is now unblocked and ready to go.", a.Name, dep.Title)
		}
	}
	from := persistence.SystemSender
	if task.AssigneeID != "" {
		from = task.AssigneeID
	}
	s.message(ctx, from, "", persistence.MessageSystem, content)

	out := &Outcome{Message: "Task approved and completed."}
	result, err := s.store.LatestCompletedResult(ctx, task.ID)
	if isNotFound(err) {
		return out, nil
	}
	if err != nil {
		return nil, err
	}
	s.publish(ctx, task, result.Response, result.Response)

	if agent != nil && isStrategic(agent.Codename) {
		id, err := s.implementStrategy(ctx, task, agent, result.Response)
		if err != nil {
			s.logger.Warn("failed to create implementation task for %q: %v", task.Title, err)
		}
		out.NewTaskID = id
	}
	return out, nil
}

func isStrategic(codename string) bool {
	for _, c := range StrategicCodenames {
		if strings.EqualFold(c, codename) {
			return true
		}
	}
	return false
}

const implementBrief = `**This strategy from %s was approved. Break it down into concrete implementation tasks and delegate to the right agents.**

## Approved Strategy: %s

%s

---

Create 2-5 specific, actionable implementation tasks. Assign each to the most appropriate agent:
- CONTENTMILL for marketing copy, social posts, landing page updates
- SEOHAWK for SEO changes
- ARCHITECT for course/lesson content
- TABSMITH for tab/lick content
- THEORYBOT for music theory content
- TRACKMASTER for audio/backing tracks
- COACH for practice plans

Use the delegate_task tool for each implementation task. Be specific in the instructions.`

// implementStrategy creates a Producer task that turns an approved strategy
// into implementation work.
func (s *Service) implementStrategy(ctx context.Context, task *persistence.Task, agent *persistence.Agent, response string) (string, error) {
	if s.creator == nil {
		return "", nil
	}
	producer, err := s.store.GetAgentByCodename(ctx, intake.ProducerCodename)
	if isNotFound(err) {
		return "", nil
	}
	if err != nil {
		return "", err
	}

	impl := &persistence.Task{
		Title:       "Implement: " + task.Title,
		Description: fmt.Sprintf(implementBrief, agent.Name, task.Title, response),
		Status:      persistence.TaskTodo,
		Priority:    persistence.PriorityHigh,
		AssigneeID:  producer.ID,
		Tags:        []string{"implementation", "delegated-strategy"},
		DependsOn:   []string{task.ID},
	}
	if _, err := s.creator.Create(ctx, impl); err != nil {
		var dup *intake.DuplicateError
		if errors.As(err, &dup) {
			return dup.ExistingID, nil
		}
		return "", err
	}
	s.message(ctx, persistence.SystemSender, "", persistence.MessageSystem,
		fmt.Sprintf("🚀 Strategy approved: **%s**. Implementation task created — Producer will break it down and delegate to the team.", task.Title))
	return impl.ID, nil
}

func (s *Service) humanReject(ctx context.Context, task *persistence.Task, agent *persistence.Agent, feedback string) (*Outcome, error) {
	if err := s.store.TransitionTask(ctx, task.ID, persistence.TaskTodo, persistence.TaskReview); err != nil {
		return nil, fmt.Errorf("task %q is %s: %w", task.Title, task.Status, err)
	}
	if err := s.store.AppendTaskDescription(ctx, task.ID, "\n\n---\n**Review Feedback (Rejected):** "+feedback); err != nil {
		return nil, err
	}
	if _, err := s.store.SupersedeResults(ctx, task.ID); err != nil {
		return nil, err
	}
	s.trigger()

	s.message(ctx, persistence.SystemSender, task.AssigneeID, persistence.MessageAlert,
		fmt.Sprintf("❌ Task rejected: **%s**. Feedback: %s. @%s — please review the feedback and re-do this task.",
			task.Title, feedback, agentName(agent)))
	return &Outcome{Message: "Task rejected and returned to todo."}, nil
}

func (s *Service) humanRevise(ctx context.Context, task *persistence.Task, agent *persistence.Agent, feedback string) (*Outcome, error) {
	if err := s.store.TransitionTask(ctx, task.ID, persistence.TaskDone, persistence.TaskReview); err != nil {
		return nil, fmt.Errorf("task %q is %s: %w", task.Title, task.Status, err)
	}

	description := task.Description
	if strings.TrimSpace(description) == "" {
		description = "(none)"
	}
	revision := &persistence.Task{
		Title: "Revise: " + task.Title,
		Description: fmt.Sprintf("**Revision of:** %s\n**Feedback:** %s\n\n---\nOriginal description:\n%s",
			task.Title, feedback, description),
		Status:     persistence.TaskTodo,
		Priority:   task.Priority,
		AssigneeID: task.AssigneeID,
		Tags:       task.Tags,
		DependsOn:  []string{task.ID},
	}

	out := &Outcome{Message: "Revision task created."}
	if s.creator != nil {
		_, err := s.creator.Create(ctx, revision)
		var dup *intake.DuplicateError
		switch {
		case errors.As(err, &dup):
			out.NewTaskID = dup.ExistingID
			out.Message = "A matching revision task already exists."
		case err != nil:
			return nil, err
		default:
			out.NewTaskID = revision.ID
		}
	}

	s.message(ctx, persistence.SystemSender, task.AssigneeID, persistence.MessageAlert,
		fmt.Sprintf("🔄 Revision requested: **%s**. Feedback: %s. @%s — a revision task has been created for you.",
			task.Title, feedback, agentName(agent)))
	return out, nil
}

// refillIfDrained asks the Producer for more work once a review action
// leaves nothing to review or run.
func (s *Service) refillIfDrained(ctx context.Context) {
	if s.creator == nil {
		return
	}
	t, err := s.creator.RefillIfDrained(ctx)
	if err != nil {
		if !errors.Is(err, intake.ErrNoProducer) {
			s.logger.Warn("auto-produce after review failed: %v", err)
		}
		return
	}
	if t != nil {
		s.logger.Info("🏭 Review queue drained, created %q", t.Title)
	}
}

func agentName(a *persistence.Agent) string {
	if a == nil || a.Name == "" {
		return "Agent"
	}
	return a.Name
}
