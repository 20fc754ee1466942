package loopctl

import (
	"context"
	"errors"
	"math"
	"sort"
	"time"

	"missioncontrol/pkg/persistence"
)

// HealthWindow is the lookback for loop health metrics.
const HealthWindow = 7 * 24 * time.Hour

// Activity title prefixes counted by Health. The approve and human review
// paths write entries with these prefixes.
const (
	AutoApprovedPrefix = "Auto-review approve:"
	HumanRevisedPrefix = "Task revise:"
)

// HealthStore is the persistence surface Health needs.
type HealthStore interface {
	Now() time.Time
	CompletedResultsSince(ctx context.Context, since time.Time) ([]*persistence.TaskResult, error)
	TasksCompletedSince(ctx context.Context, since time.Time) ([]*persistence.Task, error)
	TasksCreatedSince(ctx context.Context, since time.Time) ([]*persistence.Task, error)
	LatestCompletedResult(ctx context.Context, taskID string) (*persistence.TaskResult, error)
	CountActivity(ctx context.Context, f persistence.ActivityFilter) (int, error)
}

// DayCount is created versus completed tasks for one day.
type DayCount struct {
	Day       string `json:"day"`
	Created   int    `json:"created"`
	Completed int    `json:"completed"`
}

// Health summarizes how the loop has behaved over HealthWindow.
type Health struct {
	CreatedVsCompleted []DayCount `json:"tasksCreatedVsCompletedByDay"`
	AvgCycleMs         int64      `json:"avgCycleMs"`
	AvgReviewWaitMs    int64      `json:"avgReviewWaitMs"`
	AutoApprovedPct    int        `json:"autoApprovedPct"`
	HumanRevisedPct    int        `json:"humanRevisedPct"`
	DedupBlocked       int        `json:"duplicateTaskRate"`
}

// ComputeHealth gathers loop health metrics from s.
func ComputeHealth(ctx context.Context, s HealthStore) (*Health, error) {
	since := s.Now().Add(-HealthWindow)
	h := &Health{CreatedVsCompleted: []DayCount{}}

	results, err := s.CompletedResultsSince(ctx, since)
	if err != nil {
		return nil, err
	}
	var cycle int64
	for _, r := range results {
		cycle += r.DurationMs
	}
	if len(results) > 0 {
		h.AvgCycleMs = int64(math.Round(float64(cycle) / float64(len(results))))
	}

	// Review wait is the time between the live result landing in review and
	// the task being marked done.
	done, err := s.TasksCompletedSince(ctx, since)
	if err != nil {
		return nil, err
	}
	var (
		wait    time.Duration
		waitedN int
	)
	for _, t := range done {
		r, err := s.LatestCompletedResult(ctx, t.ID)
		if errors.Is(err, persistence.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if t.CompletedAt != nil && t.CompletedAt.After(r.CreatedAt) {
			wait += t.CompletedAt.Sub(r.CreatedAt)
		}
		waitedN++
	}
	if waitedN > 0 {
		h.AvgReviewWaitMs = (wait / time.Duration(waitedN)).Milliseconds()
	}

	approved, err := s.CountActivity(ctx, persistence.ActivityFilter{
		Since: since, EventType: persistence.EventAutoReview, TitlePrefix: AutoApprovedPrefix,
	})
	if err != nil {
		return nil, err
	}
	revised, err := s.CountActivity(ctx, persistence.ActivityFilter{
		Since: since, EventType: persistence.EventHumanReview, TitlePrefix: HumanRevisedPrefix,
	})
	if err != nil {
		return nil, err
	}
	if total := approved + revised; total > 0 {
		h.AutoApprovedPct = int(math.Round(float64(approved) / float64(total) * 100))
		h.HumanRevisedPct = int(math.Round(float64(revised) / float64(total) * 100))
	}

	h.DedupBlocked, err = s.CountActivity(ctx, persistence.ActivityFilter{Since: since, EventType: persistence.EventDedupBlocked})
	if err != nil {
		return nil, err
	}

	created, err := s.TasksCreatedSince(ctx, since)
	if err != nil {
		return nil, err
	}
	byDay := map[string]*DayCount{}
	for _, t := range created {
		day := t.CreatedAt.UTC().Format(time.DateOnly)
		dc, ok := byDay[day]
		if !ok {
			dc = &DayCount{Day: day}
			byDay[day] = dc
		}
		dc.Created++
		if t.Status == persistence.TaskDone {
			dc.Completed++
		}
	}
	for _, dc := range byDay {
		h.CreatedVsCompleted = append(h.CreatedVsCompleted, *dc)
	}
	sort.Slice(h.CreatedVsCompleted, func(i, j int) bool {
		return h.CreatedVsCompleted[i].Day < h.CreatedVsCompleted[j].Day
	})
	return h, nil
}
