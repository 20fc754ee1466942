package intake

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/gammazero/toposort"

	"missioncontrol/pkg/loopctl"
	"missioncontrol/pkg/persistence"
	"missioncontrol/pkg/review"
)

// ProducerCodename is the planning agent whose results fan out into tasks.
const ProducerCodename = "PRODUCER"

// Spec is one task proposed by the Producer.
type Spec struct {
	Title          string   `json:"title"`
	Description    string   `json:"description"`
	Priority       string   `json:"priority"`
	Agent          string   `json:"agent"`
	Tags           []string `json:"tags"`
	DependsOnTitle string   `json:"depends_on_title"`
}

// Skipped is a spec that produced no task.
type Skipped struct {
	Title  string `json:"title"`
	Reason string `json:"reason"`
}

// BatchResult summarizes a fan-out.
type BatchResult struct {
	Created []*persistence.Task `json:"created"`
	Skipped []Skipped           `json:"skipped"`
}

// TaskIDs returns the ids of created tasks in creation order.
func (b *BatchResult) TaskIDs() []string {
	ids := make([]string, 0, len(b.Created))
	for _, t := range b.Created {
		ids = append(ids, t.ID)
	}
	return ids
}

// Batch errors.
var (
	// ErrInvalidBatch wraps every failure to read Producer output.
	ErrInvalidBatch = errors.New("invalid task batch")
	// ErrCyclicBatch is returned when batch dependencies form a cycle.
	ErrCyclicBatch = errors.New("batch dependencies form a cycle")
)

// ParseBatch decodes Producer output: a JSON array of specs, optionally
// fenced, optionally wrapped as {"tasks": [...]}, optionally surrounded by
// prose.
func ParseBatch(raw string) ([]Spec, error) {
	text, err := batchJSON(raw)
	if err != nil {
		return nil, err
	}

	var specs []Spec
	if err := json.Unmarshal([]byte(text), &specs); err != nil {
		var wrapped struct {
			Tasks []Spec `json:"tasks"`
		}
		if werr := json.Unmarshal([]byte(text), &wrapped); werr != nil || wrapped.Tasks == nil {
			return nil, fmt.Errorf("%w: failed to decode task batch: %w", ErrInvalidBatch, err)
		}
		specs = wrapped.Tasks
	}

	out := specs[:0]
	for _, s := range specs {
		s.Title = strings.TrimSpace(s.Title)
		if s.Title == "" {
			s.Title = "Untitled Task"
		}
		out = append(out, s)
	}
	return out, nil
}

func batchJSON(raw string) (string, error) {
	if _, diag := review.RepairableParse(raw); diag.Structured && diag.Err == nil {
		return diag.Text, nil
	}
	start, end := strings.Index(raw, "["), strings.LastIndex(raw, "]")
	if start < 0 || end <= start {
		return "", fmt.Errorf("%w: no JSON array found in producer output", ErrInvalidBatch)
	}
	_, diag := review.RepairableParse(raw[start : end+1])
	if diag.Err != nil {
		return "", fmt.Errorf("%w: failed to parse producer output: %w", ErrInvalidBatch, diag.Err)
	}
	return diag.Text, nil
}

// Produce fans the latest result of a completed Producer task out into tasks.
func (s *Service) Produce(ctx context.Context, producerTaskID string) (*BatchResult, error) {
	res, err := s.store.LatestCompletedResult(ctx, producerTaskID)
	if err != nil {
		return nil, fmt.Errorf("failed to load producer result for %s: %w", producerTaskID, err)
	}
	specs, err := ParseBatch(res.Response)
	if err != nil {
		return nil, err
	}
	return s.ProduceSpecs(ctx, specs, producerTaskID)
}

// ProduceSpecs creates specs through Create in dependency order. A
// depends_on_title names an existing task or another spec in the batch.
// Cyclic batches are rejected before anything is created. Duplicates and
// unknown agents do not fail the batch.
func (s *Service) ProduceSpecs(ctx context.Context, specs []Spec, sourceTaskID string) (*BatchResult, error) {
	existing, err := s.store.FindTasksByTitles(ctx)
	if err != nil {
		return nil, err
	}

	byTitle := make(map[string]int, len(specs))
	for i, sp := range specs {
		key := loopctl.NormalizeTitle(sp.Title)
		if _, seen := byTitle[key]; !seen {
			byTitle[key] = i
		}
	}

	order, err := batchOrder(specs, byTitle, existing)
	if err != nil {
		return nil, err
	}

	result := &BatchResult{}
	ids := make(map[int]string, len(specs))
	for _, i := range order {
		sp := specs[i]
		task := &persistence.Task{
			Title:       sp.Title,
			Description: sp.Description,
			Priority:    persistence.ParsePriority(sp.Priority),
			Tags:        sp.Tags,
			Status:      persistence.TaskTodo,
		}

		if code := strings.TrimSpace(sp.Agent); code != "" {
			agent, err := s.store.GetAgentByCodename(ctx, code)
			switch {
			case errors.Is(err, persistence.ErrNotFound):
				s.logger.Warn("⚠️  Producer named unknown agent %q for %q", code, sp.Title)
			case err != nil:
				return result, err
			default:
				task.AssigneeID = agent.ID
			}
		}

		if dep := loopctl.NormalizeTitle(sp.DependsOnTitle); dep != "" {
			if t, ok := existing[dep]; ok {
				task.DependsOn = []string{t.ID}
			} else if j, ok := byTitle[dep]; ok && j != i {
				if id := ids[j]; id != "" {
					task.DependsOn = []string{id}
				}
			} else {
				s.logger.Warn("⚠️  Producer dependency %q for %q not found", sp.DependsOnTitle, sp.Title)
			}
		}

		_, err := s.Create(ctx, task)
		var dup *DuplicateError
		switch {
		case errors.As(err, &dup):
			ids[i] = dup.ExistingID
			result.Skipped = append(result.Skipped, Skipped{Title: sp.Title, Reason: dup.Error()})
			continue
		case err != nil:
			return result, err
		}
		ids[i] = task.ID
		result.Created = append(result.Created, task)
	}

	s.audit(ctx, persistence.EventProducerBatch,
		fmt.Sprintf("Producer batch: %d created", len(result.Created)),
		fmt.Sprintf("%d created, %d skipped", len(result.Created), len(result.Skipped)), "",
		map[string]any{"sourceTaskId": sourceTaskID, "taskIds": result.TaskIDs()})
	s.logger.Info("🏭 Producer batch: %d created, %d skipped", len(result.Created), len(result.Skipped))
	return result, nil
}

// batchOrder returns spec indexes with in-batch dependencies first.
// Dependencies satisfied by existing tasks do not constrain the order.
func batchOrder(specs []Spec, byTitle map[string]int, existing map[string]*persistence.Task) ([]int, error) {
	edges := make([]toposort.Edge, 0, len(specs))
	for i, sp := range specs {
		dep := loopctl.NormalizeTitle(sp.DependsOnTitle)
		if _, ok := existing[dep]; dep == "" || ok {
			edges = append(edges, toposort.Edge{nil, i})
			continue
		}
		j, ok := byTitle[dep]
		switch {
		case !ok:
			edges = append(edges, toposort.Edge{nil, i})
		case j == i:
			return nil, fmt.Errorf("%w: %q depends on itself", ErrCyclicBatch, sp.Title)
		default:
			edges = append(edges, toposort.Edge{j, i})
		}
	}

	sorted, err := toposort.Toposort(edges)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCyclicBatch, err)
	}
	order := make([]int, 0, len(specs))
	for _, v := range sorted {
		if v == nil {
			continue
		}
		order = append(order, v.(int))
	}
	return order, nil
}
