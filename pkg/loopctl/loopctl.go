// Package loopctl holds the admission-control guards that keep the work
// loop from flooding agents or the publishing pipeline: per-agent WIP caps,
// duplicate suppression and per-category staging gates.
package loopctl

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"missioncontrol/pkg/config"
	"missioncontrol/pkg/persistence"
)

// Category is a coarse content bucket used by the staging gate.
type Category string

// Categories.
const (
	CategoryLicks      Category = "licks"
	CategoryCourses    Category = "courses"
	CategoryBlogSocial Category = "blog_social"
	CategoryOther      Category = "other"
)

// Categories lists every category in reporting order.
//
//nolint:gochecknoglobals // constant set
var Categories = []Category{CategoryCourses, CategoryLicks, CategoryBlogSocial, CategoryOther}

//nolint:gochecknoglobals // compiled once
var (
	licksPattern      = regexp.MustCompile(`lick|tab|riff|solo`)
	coursesPattern    = regexp.MustCompile(`course|lesson|curriculum|module`)
	blogSocialPattern = regexp.MustCompile(`blog|seo|social|instagram|twitter|x\b|tiktok|caption|email|marketing`)
)

// InferCategory classifies content by keywords in its title and tags.
func InferCategory(title string, tags []string) Category {
	text := strings.ToLower(title + " " + strings.Join(tags, " "))
	switch {
	case licksPattern.MatchString(text):
		return CategoryLicks
	case coursesPattern.MatchString(text):
		return CategoryCourses
	case blogSocialPattern.MatchString(text):
		return CategoryBlogSocial
	default:
		return CategoryOther
	}
}

// NormalizeTitle is the comparison form of a task title.
func NormalizeTitle(title string) string {
	return strings.ToLower(strings.TrimSpace(title))
}

// Store is the persistence surface the guards need.
type Store interface {
	Now() time.Time
	CountTasks(ctx context.Context, status persistence.TaskStatus, assigneeID string) (int, error)
	FindTaskByNormalizedTitle(ctx context.Context, normalized string, since time.Time) (*persistence.Task, error)
	FindActiveTaskWithTitleFragment(ctx context.Context, assigneeID, fragment string) (*persistence.Task, error)
	ListPipelineItems(ctx context.Context, stages ...string) ([]*persistence.PipelineItem, error)
}

// Controller evaluates loop guards against the store.
type Controller struct {
	store  Store
	limits func() config.LoopConfig
}

// New creates a controller. A nil limits func reads config.LoopLimits on
// every call so hot-reloaded values apply immediately.
func New(store Store, limits func() config.LoopConfig) *Controller {
	if limits == nil {
		limits = config.LoopLimits
	}
	return &Controller{store: store, limits: limits}
}

// Limits returns the limits currently in force.
func (c *Controller) Limits() config.LoopConfig {
	return c.limits()
}

// FindDuplicate returns the task that makes title a duplicate, or nil. A
// task is a duplicate of one with the same normalized title created within
// the duplicate window, or of an active task of the same assignee whose
// title contains the normalized title's prefix.
func (c *Controller) FindDuplicate(ctx context.Context, title, assigneeID string) (*persistence.Task, error) {
	limits := c.limits()
	norm := NormalizeTitle(title)
	if norm == "" {
		return nil, nil
	}

	since := c.store.Now().Add(-limits.DuplicateWindow)
	existing, err := c.store.FindTaskByNormalizedTitle(ctx, norm, since)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, persistence.ErrNotFound) {
		return nil, fmt.Errorf("failed to check duplicate title: %w", err)
	}

	if assigneeID == "" {
		return nil, nil
	}
	fragment := norm
	if n := limits.DuplicatePrefixLength; n > 0 && len([]rune(fragment)) > n {
		fragment = string([]rune(fragment)[:n])
	}
	existing, err = c.store.FindActiveTaskWithTitleFragment(ctx, assigneeID, fragment)
	if errors.Is(err, persistence.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to check similar active tasks: %w", err)
	}
	return existing, nil
}

// AtWIPCap reports whether assigneeID already holds the maximum number of
// todo tasks, along with the current count.
func (c *Controller) AtWIPCap(ctx context.Context, assigneeID string) (bool, int, error) {
	if assigneeID == "" {
		return false, 0, nil
	}
	n, err := c.store.CountTasks(ctx, persistence.TaskTodo, assigneeID)
	if err != nil {
		return false, 0, err
	}
	return n >= c.limits().MaxTodoPerAgent, n, nil
}

// StagingBacklog counts unresolved pipeline items per category.
func (c *Controller) StagingBacklog(ctx context.Context) (map[Category]int, error) {
	items, err := c.store.ListPipelineItems(ctx, persistence.StagedStages...)
	if err != nil {
		return nil, err
	}
	out := make(map[Category]int, len(Categories))
	for _, cat := range Categories {
		out[cat] = 0
	}
	for _, it := range items {
		out[InferCategory(it.Title, []string{it.Platform})]++
	}
	return out, nil
}

// ShouldGate reports whether new tasks of cat must wait in backlog because
// the pipeline already holds too many unresolved items of that category.
// CategoryOther is never gated.
func (c *Controller) ShouldGate(ctx context.Context, cat Category) (bool, int, error) {
	if cat == CategoryOther {
		return false, 0, nil
	}
	backlog, err := c.StagingBacklog(ctx)
	if err != nil {
		return false, 0, err
	}
	n := backlog[cat]
	return n >= c.limits().StagingBlockThreshold, n, nil
}
