// Package chain turns a task's dependency list into prompt context and
// releases dependents once their parents finish.
package chain

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"missioncontrol/pkg/logx"
	"missioncontrol/pkg/persistence"
	"missioncontrol/pkg/utils"
)

// NoDescription stands in for an empty task description.
const NoDescription = "No additional description provided."

const sectionSeparator = "\n\n---\n\n"

// MaxDependencyTokens bounds each parent result carried into a prompt.
const MaxDependencyTokens = 8000

// Store is the persistence surface the resolver needs.
type Store interface {
	GetTask(ctx context.Context, id string) (*persistence.Task, error)
	GetAgent(ctx context.Context, id string) (*persistence.Agent, error)
	LatestCompletedResult(ctx context.Context, taskID string) (*persistence.TaskResult, error)
	TasksDependingOn(ctx context.Context, id string) ([]*persistence.Task, error)
	TransitionTask(ctx context.Context, id string, to persistence.TaskStatus, from ...persistence.TaskStatus) error
}

// Gate can keep a ready dependent in backlog, for example while its
// assignee is at capacity. Held tasks are released later by whoever owns
// the gate.
type Gate interface {
	HoldOnUnlock(ctx context.Context, t *persistence.Task) (bool, error)
}

// Resolver assembles chained prompts and unlocks dependent tasks.
type Resolver struct {
	store  Store
	gate   Gate
	logger *logx.Logger
}

// NewResolver creates a resolver over store.
func NewResolver(store Store) *Resolver {
	return &Resolver{store: store, logger: logx.NewLogger("chain")}
}

// SetGate installs the admission check consulted before a dependent moves
// to todo.
func (r *Resolver) SetGate(g Gate) {
	r.gate = g
}

// BuildPrompt returns the user prompt for task. Dependency results are
// included in dependsOn order; dependencies without a live completed result
// are skipped.
func (r *Resolver) BuildPrompt(ctx context.Context, task *persistence.Task) (string, error) {
	description := task.Description
	if strings.TrimSpace(description) == "" {
		description = NoDescription
	}

	parts, err := r.dependencySections(ctx, task.DependsOn)
	if err != nil {
		return "", err
	}

	switch {
	case len(parts) > 0:
		return "## Context from previous tasks:\n\n" + strings.Join(parts, sectionSeparator) +
			sectionSeparator + "## Your Task: " + task.Title + "\n" + description, nil
	case task.ChainContext != "":
		return task.ChainContext + sectionSeparator + "## Your Task: " + task.Title + "\n" + description, nil
	default:
		return "Task: " + task.Title + "\n\n" + description, nil
	}
}

func (r *Resolver) dependencySections(ctx context.Context, deps []string) ([]string, error) {
	var parts []string
	for _, id := range deps {
		parent, err := r.store.GetTask(ctx, id)
		if errors.Is(err, persistence.ErrNotFound) {
			r.logger.Warn("dependency %s no longer exists", id)
			continue
		}
		if err != nil {
			return nil, err
		}
		result, err := r.store.LatestCompletedResult(ctx, id)
		if errors.Is(err, persistence.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}

		heading := "### " + parent.Title
		if agent, err := r.store.GetAgent(ctx, result.AgentID); err == nil && agent.Name != "" {
			heading += " (by " + agent.Name + ")"
		}
		parts = append(parts, heading+"\n"+utils.TruncateTokens(result.Response, MaxDependencyTokens))
	}
	return parts, nil
}

// Ready reports whether every dependency of task is done or in review.
// Missing dependencies count as not ready.
func (r *Resolver) Ready(ctx context.Context, task *persistence.Task) (bool, error) {
	for _, id := range task.DependsOn {
		dep, err := r.store.GetTask(ctx, id)
		if errors.Is(err, persistence.ErrNotFound) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		if dep.Status != persistence.TaskDone && dep.Status != persistence.TaskReview {
			return false, nil
		}
	}
	return true, nil
}

// UnlockDependents moves every backlog task that lists taskID among its
// dependencies to todo once all of its dependencies are done or in review
// and the gate, if any, lets it through. It returns the tasks that moved.
// Repeated calls are harmless.
func (r *Resolver) UnlockDependents(ctx context.Context, taskID string) ([]*persistence.Task, error) {
	dependents, err := r.store.TasksDependingOn(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to load dependents of %s: %w", taskID, err)
	}

	var unlocked []*persistence.Task
	for _, t := range dependents {
		if t.Status != persistence.TaskBacklog {
			continue
		}
		ready, err := r.Ready(ctx, t)
		if err != nil {
			return unlocked, err
		}
		if !ready {
			continue
		}
		if r.gate != nil {
			held, err := r.gate.HoldOnUnlock(ctx, t)
			if err != nil {
				return unlocked, err
			}
			if held {
				r.logger.Info("⏸️  %q is ready but held in backlog", t.Title)
				continue
			}
		}
		err = r.store.TransitionTask(ctx, t.ID, persistence.TaskTodo, persistence.TaskBacklog)
		if errors.Is(err, persistence.ErrConflict) {
			continue
		}
		if err != nil {
			return unlocked, err
		}
		r.logger.Info("🔓 Unlocked %q after %s", t.Title, taskID)
		t.Status = persistence.TaskTodo
		unlocked = append(unlocked, t)
	}
	return unlocked, nil
}
