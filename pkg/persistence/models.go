package persistence

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// TaskStatus is a task's board column.
type TaskStatus string

// Task statuses.
const (
	TaskBacklog    TaskStatus = "backlog"
	TaskTodo       TaskStatus = "todo"
	TaskInProgress TaskStatus = "in_progress"
	TaskReview     TaskStatus = "review"
	TaskDone       TaskStatus = "done"
)

// ActiveStatuses are the statuses that count as live work for duplicate checks.
//
//nolint:gochecknoglobals // constant set
var ActiveStatuses = []TaskStatus{TaskBacklog, TaskTodo, TaskInProgress, TaskReview}

// Priority orders the queue; critical runs first.
type Priority string

// Priorities.
const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// ParsePriority normalizes p, falling back to medium.
func ParsePriority(p string) Priority {
	switch Priority(strings.ToLower(strings.TrimSpace(p))) {
	case PriorityCritical:
		return PriorityCritical
	case PriorityHigh:
		return PriorityHigh
	case PriorityLow:
		return PriorityLow
	default:
		return PriorityMedium
	}
}

// Rank returns the sort key for p, lower runs first.
func (p Priority) Rank() int {
	switch p {
	case PriorityCritical:
		return 0
	case PriorityHigh:
		return 1
	case PriorityMedium:
		return 2
	default:
		return 3
	}
}

// priorityOrderSQL must agree with Priority.Rank.
const priorityOrderSQL = `CASE priority WHEN 'critical' THEN 0 WHEN 'high' THEN 1 WHEN 'medium' THEN 2 ELSE 3 END`

// AgentStatus is an agent's availability.
type AgentStatus string

// Agent statuses.
const (
	AgentOnline  AgentStatus = "online"
	AgentBusy    AgentStatus = "busy"
	AgentIdle    AgentStatus = "idle"
	AgentOffline AgentStatus = "offline"
	AgentError   AgentStatus = "error"
)

// ResultStatus is the outcome of one execution attempt.
type ResultStatus string

// Result statuses.
const (
	ResultCompleted ResultStatus = "completed"
	ResultError     ResultStatus = "error"
)

// QueueStatus is the queue controller state.
type QueueStatus string

// Queue statuses.
const (
	QueueIdle     QueueStatus = "idle"
	QueueRunning  QueueStatus = "running"
	QueueStopping QueueStatus = "stopping"
)

// Message types.
const (
	MessageSystem     = "system"
	MessageAlert      = "alert"
	MessageDelegation = "delegation"
	MessageChat       = "message"
)

// SystemSender is the from id for messages not sent by an agent.
const SystemSender = "system"

// Pipeline stages. The first five are "staged" for loop control purposes.
const (
	StageIdea      = "idea"
	StageWriting   = "writing"
	StageReview    = "review"
	StageAssets    = "assets"
	StageScheduled = "scheduled"
	StagePublished = "published"
)

// StagedStages are the pipeline stages counted by the staging gate.
//
//nolint:gochecknoglobals // constant set
var StagedStages = []string{StageIdea, StageWriting, StageReview, StageAssets, StageScheduled}

// Task is a unit of work on the board.
type Task struct {
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	ID           string     `json:"id"`
	Title        string     `json:"title"`
	Description  string     `json:"description"`
	Status       TaskStatus `json:"status"`
	Priority     Priority   `json:"priority"`
	AssigneeID   string     `json:"assignee_id,omitempty"`
	ChainContext string     `json:"chain_context,omitempty"`
	Tags         []string   `json:"tags"`
	DependsOn    []string   `json:"depends_on"`
	RetryCount   int        `json:"retry_count"`
	ActualTokens int        `json:"actual_tokens"`
}

// HasTag reports whether the task carries tag (case-insensitive).
func (t *Task) HasTag(tag string) bool {
	for _, tt := range t.Tags {
		if strings.EqualFold(tt, tag) {
			return true
		}
	}
	return false
}

// Agent is an LLM persona that executes tasks.
type Agent struct {
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
	ID             string      `json:"id"`
	Name           string      `json:"name"`
	Codename       string      `json:"codename"`
	Avatar         string      `json:"avatar"`
	Role           string      `json:"role"`
	Status         AgentStatus `json:"status"`
	Personality    string      `json:"personality"`
	Soul           string      `json:"soul"`
	Provider       string      `json:"provider"`
	Model          string      `json:"model"`
	CurrentTaskID  string      `json:"current_task_id,omitempty"`
	TasksCompleted int         `json:"tasks_completed"`
	TokensUsed     int         `json:"tokens_used"`
	CostUSD        float64     `json:"cost_usd"`
}

// TaskResult is the append-only record of one execution attempt.
type TaskResult struct {
	CreatedAt  time.Time    `json:"created_at"`
	ID         string       `json:"id"`
	TaskID     string       `json:"task_id"`
	AgentID    string       `json:"agent_id"`
	Prompt     string       `json:"prompt"`
	Response   string       `json:"response"`
	Status     ResultStatus `json:"status"`
	TokensUsed int          `json:"tokens_used"`
	CostUSD    float64      `json:"cost_usd"`
	DurationMs int64        `json:"duration_ms"`
	Superseded bool         `json:"superseded"`
}

// ReviewCheck is one evaluated auto-review check.
type ReviewCheck struct {
	Name   string `json:"name"`
	Detail string `json:"detail"`
	Passed bool   `json:"passed"`
}

// AutoReview is a persisted auto-review decision.
type AutoReview struct {
	CreatedAt       time.Time     `json:"created_at"`
	ID              string        `json:"id"`
	TaskID          string        `json:"task_id"`
	Decision        string        `json:"decision"`
	RepairedContent string        `json:"repaired_content,omitempty"`
	Reasons         []string      `json:"reasons"`
	Checks          []ReviewCheck `json:"checks"`
}

// QueueState is the queue controller singleton row.
type QueueState struct {
	UpdatedAt      time.Time   `json:"updated_at"`
	StartedAt      *time.Time  `json:"started_at,omitempty"`
	Status         QueueStatus `json:"status"`
	CurrentTaskID  string      `json:"current_task_id,omitempty"`
	TasksProcessed int         `json:"tasks_processed"`
	TasksRemaining int         `json:"tasks_remaining"`
}

// Message is an entry in the notification log.
type Message struct {
	CreatedAt   time.Time `json:"created_at"`
	ID          string    `json:"id"`
	FromAgentID string    `json:"from_agent_id"`
	ToAgentID   string    `json:"to_agent_id,omitempty"`
	Content     string    `json:"content"`
	Type        string    `json:"type"`
}

// ProviderConfig is a configured LLM endpoint.
type ProviderConfig struct {
	CreatedAt     time.Time `json:"created_at"`
	ID            string    `json:"id"`
	Type          string    `json:"type"`
	Name          string    `json:"name"`
	BaseURL       string    `json:"base_url"`
	APIKey        string    `json:"-"`
	Model         string    `json:"model"`
	ContextWindow int       `json:"context_window"`
	MaxTokens     int       `json:"max_tokens"`
	IsDefault     bool      `json:"is_default"`
}

// PipelineItem is a piece of content moving through the publishing pipeline.
type PipelineItem struct {
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
	Metadata        map[string]any `json:"metadata"`
	ID              string         `json:"id"`
	Title           string         `json:"title"`
	Body            string         `json:"body"`
	Stage           string         `json:"stage"`
	Platform        string         `json:"platform"`
	AssignedAgentID string         `json:"assigned_agent_id,omitempty"`
	ThumbnailURL    string         `json:"thumbnail_url,omitempty"`
}

// Activity is an audit log entry.
type Activity struct {
	CreatedAt   time.Time      `json:"created_at"`
	Metadata    map[string]any `json:"metadata"`
	ID          string         `json:"id"`
	EventType   string         `json:"event_type"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	AgentID     string         `json:"agent_id,omitempty"`
}

// NewID returns a fresh row id.
func NewID() string {
	return uuid.NewString()
}
