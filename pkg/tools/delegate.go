package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"missioncontrol/pkg/persistence"
)

// TaskCreator creates tasks through the guarded admission path.
type TaskCreator interface {
	CreateTask(ctx context.Context, t *persistence.Task) error
}

// DelegateStore is the store surface delegate_task needs.
type DelegateStore interface {
	GetAgentByCodename(ctx context.Context, codename string) (*persistence.Agent, error)
	PostMessage(ctx context.Context, m *persistence.Message) error
}

const delegateRoster = `AGENT ROSTER (recruit by codename):
• TABSMITH: Guitar tab notation expert. Writes accurate, well-formatted tablature.
• ARCHITECT: Builds structured lessons with learning objectives, activities, and assessments.
• TRACKMASTER: Creates backing tracks and audio content.
• THEORYBOT: Music theory specialist. Scales, chords, intervals, progressions.
• COACH: Practice plans, technique advice, student guidance.
• FEEDBACK: Reviews content quality, UX, and consistency.
• CONTENTMILL: Social media captions, blog posts, marketing copy.
• SEOHAWK: SEO optimization, keyword research, meta descriptions.
• COMMUNITY: Community engagement, social listening, trend analysis.
• BIZOPS: Business strategy, pricing, market research.
• PRODUCER: Project management, task planning, batch generation.`

// DelegateTaskTool lets one agent create work for another.
type DelegateTaskTool struct {
	store   DelegateStore
	creator TaskCreator
	trigger func()
}

// NewDelegateTaskTool creates the delegate_task tool. trigger may be nil.
func NewDelegateTaskTool(store DelegateStore, creator TaskCreator, trigger func()) *DelegateTaskTool {
	return &DelegateTaskTool{store: store, creator: creator, trigger: trigger}
}

// Name returns the tool name.
func (t *DelegateTaskTool) Name() string {
	return ToolDelegateTask
}

// Definition returns the tool definition for the model.
func (t *DelegateTaskTool) Definition() ToolDefinition {
	return ToolDefinition{
		Name: ToolDelegateTask,
		Description: "Create a task and assign it to another agent. Use this whenever you need specialized help; " +
			"don't try to do everything yourself.\n\n" + delegateRoster +
			"\n\nThe delegated task runs automatically.",
		InputSchema: InputSchema{
			Type: "object",
			Properties: map[string]Property{
				"title":       {Type: "string", Description: "Task title. Be specific about what you need."},
				"description": {Type: "string", Description: "Detailed instructions for the agent, including context, requirements, and expected output format."},
				"agent_codename": {
					Type:        "string",
					Description: "Codename of the agent to assign, e.g. TABSMITH, THEORYBOT, CONTENTMILL",
				},
				"priority": {
					Type:        "string",
					Description: "Task priority (default: medium)",
					Enum:        []string{"low", "medium", "high", "critical"},
				},
			},
			Required: []string{"title", "description", "agent_codename"},
		},
	}
}

// Exec creates the delegated task, posts a delegation message and nudges the queue.
func (t *DelegateTaskTool) Exec(ctx context.Context, args map[string]any) (*ExecResult, error) {
	title := strings.TrimSpace(stringArg(args, "title"))
	description := stringArg(args, "description")
	codename := strings.TrimSpace(stringArg(args, "agent_codename"))
	if title == "" || codename == "" {
		return nil, fmt.Errorf("title and agent_codename are required")
	}

	agent, err := t.store.GetAgentByCodename(ctx, codename)
	if errors.Is(err, persistence.ErrNotFound) {
		return jsonResult(map[string]any{
			"error": fmt.Sprintf("Agent %q not found. Available: TABSMITH, ARCHITECT, TRACKMASTER, THEORYBOT, "+
				"COACH, FEEDBACK, CONTENTMILL, SEOHAWK, COMMUNITY, BIZOPS, PRODUCER", codename),
		})
	}
	if err != nil {
		return nil, err
	}

	fromName, fromCodename, fromID := "Another agent", "unknown", persistence.SystemSender
	if caller, ok := CallerFrom(ctx); ok {
		if caller.Name != "" {
			fromName = caller.Name
		}
		if caller.Codename != "" {
			fromCodename = caller.Codename
		}
		if caller.AgentID != "" {
			fromID = caller.AgentID
		}
	}

	task := &persistence.Task{
		Title:       title,
		Description: fmt.Sprintf("**📨 Delegated by %s (@%s)**\n\n%s", fromName, fromCodename, description),
		Status:      persistence.TaskTodo,
		Priority:    persistence.ParsePriority(stringArg(args, "priority")),
		AssigneeID:  agent.ID,
		Tags:        []string{"delegated"},
	}
	if err := t.creator.CreateTask(ctx, task); err != nil {
		return nil, fmt.Errorf("failed to create delegated task: %w", err)
	}

	if err := t.store.PostMessage(ctx, &persistence.Message{
		FromAgentID: fromID,
		ToAgentID:   agent.ID,
		Content:     fmt.Sprintf("📨 **%s** recruited **%s**: %s", fromName, agent.Name, title),
		Type:        persistence.MessageDelegation,
	}); err != nil {
		return nil, err
	}

	if t.trigger != nil {
		t.trigger()
	}

	return jsonResult(map[string]any{
		"success":      true,
		"task_id":      task.ID,
		"status":       task.Status,
		"assigned_to":  agent.Name,
		"codename":     agent.Codename,
		"delegated_by": fromName,
		"message": fmt.Sprintf("Task %q created and assigned to %s. %s has been notified. It will execute automatically.",
			title, agent.Name, agent.Name),
	})
}
