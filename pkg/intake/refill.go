package intake

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"missioncontrol/pkg/persistence"
)

// RefillTitlePrefix starts the title of every automatic planning task.
const RefillTitlePrefix = "[Auto] Generate task batch"

// RefillPolicy bounds the idle refill.
type RefillPolicy struct {
	IdleThreshold time.Duration
	Cooldown      time.Duration
}

// ErrNoProducer is returned when the roster has no PRODUCER agent.
var ErrNoProducer = errors.New("producer agent not found")

const refillBrief = `## BUSINESS PLAN CONTEXT
FretCoach.ai is an AI-powered guitar learning platform. Key phases:
- Phase 0 (Foundation): complete. Landing page, lead magnets, email funnel, Mission Control, all agents active
- Phase 1 (Content Engine): in progress. Need 250+ licks, courses, theory content, SEO blog posts, social content
- Phase 2 (Platform Build): upcoming. Web app, auth, subscription, practice room
- Phase 3 (Launch): upcoming. Email sequences, Product Hunt, ads

## YOUR TASK
Analyze the current state and generate 10-15 NEW tasks that:
1. Fill gaps in content (licks, courses, theory, blog posts)
2. Don't duplicate recently completed or in-review work
3. Balance workload across agents (prioritize underutilized agents)
4. Push the project toward Phase 1 completion
5. Include some marketing/growth tasks alongside content tasks

Respond with a JSON array of objects with fields title, description,
priority (low|medium|high|critical), agent (codename), tags and optional
depends_on_title naming another task in the batch or an existing task.`

// AutoProduce queues a Producer planning task describing the current board.
// It returns nil without error when the Producer already has queued or
// running work.
func (s *Service) AutoProduce(ctx context.Context) (*persistence.Task, error) {
	producer, err := s.store.GetAgentByCodename(ctx, ProducerCodename)
	if errors.Is(err, persistence.ErrNotFound) {
		return nil, ErrNoProducer
	}
	if err != nil {
		return nil, err
	}

	active, err := s.store.ListTasks(ctx, persistence.TaskFilter{
		Statuses:   []persistence.TaskStatus{persistence.TaskTodo, persistence.TaskInProgress},
		AssigneeID: producer.ID,
		Limit:      1,
	})
	if err != nil {
		return nil, err
	}
	if len(active) > 0 {
		s.logger.Debug("Producer already has active task %s", active[0].ID)
		return nil, nil
	}

	desc, err := s.boardSummary(ctx)
	if err != nil {
		return nil, err
	}

	task := &persistence.Task{
		Title:       fmt.Sprintf("%s — %s", RefillTitlePrefix, s.store.Now().UTC().Format("2006-01-02 15:04")),
		Description: desc,
		Status:      persistence.TaskTodo,
		Priority:    persistence.PriorityHigh,
		AssigneeID:  producer.ID,
		Tags:        []string{"meta", "planning", "auto-produce"},
	}
	if _, err := s.Create(ctx, task); err != nil {
		return nil, err
	}
	return task, nil
}

// RefillIfIdle runs AutoProduce when nothing is queued or running, the
// queue has been idle since idleSince for longer than the threshold, and no
// planning task was created within the cooldown.
func (s *Service) RefillIfIdle(ctx context.Context, idleSince time.Time, p RefillPolicy) (*persistence.Task, error) {
	counts, err := s.store.CountTasksByStatus(ctx)
	if err != nil {
		return nil, err
	}
	if counts[persistence.TaskTodo]+counts[persistence.TaskInProgress] > 0 {
		return nil, nil
	}
	now := s.store.Now()
	if now.Sub(idleSince) <= p.IdleThreshold {
		return nil, nil
	}
	recent, err := s.store.CountTasksWithTitlePrefix(ctx, RefillTitlePrefix, now.Add(-p.Cooldown))
	if err != nil {
		return nil, err
	}
	if recent > 0 {
		return nil, nil
	}

	task, err := s.AutoProduce(ctx)
	if err != nil || task == nil {
		return task, err
	}
	s.audit(ctx, persistence.EventAutoRefill, "Auto refill: "+task.Title,
		fmt.Sprintf("Queue idle since %s", idleSince.UTC().Format(time.RFC3339)), task.AssigneeID,
		map[string]any{"taskId": task.ID})
	if err := s.store.SystemMessage(ctx, persistence.MessageSystem,
		fmt.Sprintf("⚠️ Queue idle >%s with no active work. Triggered Producer emergency refill.", shortDuration(p.IdleThreshold))); err != nil {
		s.logger.Warn("failed to post refill message: %v", err)
	}
	s.logger.Info("🔄 Idle refill queued %q", task.Title)
	return task, nil
}

// RefillIfDrained runs AutoProduce when the review column is empty and
// nothing is queued or running.
func (s *Service) RefillIfDrained(ctx context.Context) (*persistence.Task, error) {
	counts, err := s.store.CountTasksByStatus(ctx)
	if err != nil {
		return nil, err
	}
	if counts[persistence.TaskReview] > 0 || counts[persistence.TaskTodo]+counts[persistence.TaskInProgress] > 0 {
		return nil, nil
	}
	return s.AutoProduce(ctx)
}

func (s *Service) boardSummary(ctx context.Context) (string, error) {
	counts, err := s.store.CountTasksByStatus(ctx)
	if err != nil {
		return "", err
	}
	agents, err := s.store.ListAgents(ctx)
	if err != nil {
		return "", err
	}
	names := make(map[string]string, len(agents))
	for _, a := range agents {
		names[a.ID] = a.Name
	}

	statuses := make([]string, 0, len(counts))
	for st := range counts {
		statuses = append(statuses, string(st))
	}
	sort.Strings(statuses)
	parts := make([]string, 0, len(statuses))
	for _, st := range statuses {
		parts = append(parts, fmt.Sprintf("%s: %d", st, counts[persistence.TaskStatus(st)]))
	}

	done, err := s.store.TasksCompletedSince(ctx, time.Time{})
	if err != nil {
		return "", err
	}
	var recent []string
	for i := len(done) - 1; i >= 0 && len(recent) < 15; i-- {
		recent = append(recent, fmt.Sprintf("- ✅ %q (%s)", done[i].Title, names[done[i].AssigneeID]))
	}

	inReview, err := s.store.ListTasks(ctx, persistence.TaskFilter{Statuses: []persistence.TaskStatus{persistence.TaskReview}})
	if err != nil {
		return "", err
	}
	review := make([]string, 0, len(inReview))
	for _, t := range inReview {
		review = append(review, fmt.Sprintf("- 🔍 %q (%s)", t.Title, names[t.AssigneeID]))
	}

	var workload []string
	for _, a := range agents {
		if a.Codename == "CEO" || a.Codename == ProducerCodename {
			continue
		}
		todo, err := s.store.CountTasks(ctx, persistence.TaskTodo, a.ID)
		if err != nil {
			return "", err
		}
		completed, err := s.store.CountTasks(ctx, persistence.TaskDone, a.ID)
		if err != nil {
			return "", err
		}
		workload = append(workload, fmt.Sprintf("- %s (%s): %d queued, %d completed", a.Name, a.Codename, todo, completed))
	}

	var b strings.Builder
	b.WriteString("You are generating the next batch of tasks for the FretCoach.ai agent fleet.\n\n")
	b.WriteString("## CURRENT PROJECT STATE\n")
	fmt.Fprintf(&b, "Task counts: %s\n\n", strings.Join(parts, ", "))
	fmt.Fprintf(&b, "### Recently Completed Work\n%s\n\n", orNone(recent))
	fmt.Fprintf(&b, "### Currently In Review\n%s\n\n", orNone(review))
	fmt.Fprintf(&b, "### Agent Workload\n%s\n\n", orNone(workload))
	b.WriteString(refillBrief)
	return b.String(), nil
}

func orNone(lines []string) string {
	if len(lines) == 0 {
		return "(none)"
	}
	return strings.Join(lines, "\n")
}

func shortDuration(d time.Duration) string {
	if d%time.Minute == 0 {
		return fmt.Sprintf("%dm", int(d/time.Minute))
	}
	return d.String()
}
