// Package executor runs one task end to end: provider resolution, the
// tool-use loop against the agent's model, and the bookkeeping that moves
// the task to review or back to todo.
package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"missioncontrol/pkg/chain"
	"missioncontrol/pkg/config"
	"missioncontrol/pkg/intake"
	"missioncontrol/pkg/llm"
	"missioncontrol/pkg/logx"
	"missioncontrol/pkg/metrics"
	"missioncontrol/pkg/persistence"
	"missioncontrol/pkg/provider"
	"missioncontrol/pkg/publish"
	"missioncontrol/pkg/tools"
)

// ValidationError rejects an execution before any state is touched.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string {
	return e.Msg
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

func invalid(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// Result describes one execution attempt.
type Result struct {
	ID          string                   `json:"id"`
	TaskID      string                   `json:"taskId"`
	AgentID     string                   `json:"agentId"`
	AgentName   string                   `json:"agentName"`
	AgentAvatar string                   `json:"agentAvatar"`
	Prompt      string                   `json:"prompt"`
	Response    string                   `json:"response"`
	Status      persistence.ResultStatus `json:"status"`
	Error       string                   `json:"error,omitempty"`
	TokensUsed  int                      `json:"tokensUsed"`
	CostUSD     float64                  `json:"costUsd"`
	DurationMs  int64                    `json:"durationMs"`
}

// Store is the persistence surface the executor needs.
type Store interface {
	chain.Store
	provider.Store
	BeginExecution(ctx context.Context, taskID, agentID string) error
	FailExecution(ctx context.Context, taskID, agentID string, r *persistence.TaskResult) error
	CompleteExecution(ctx context.Context, taskID, agentID string, r *persistence.TaskResult) error
	LogActivity(ctx context.Context, a *persistence.Activity) error
	PostMessage(ctx context.Context, m *persistence.Message) error
	CreatePipelineItem(ctx context.Context, item *persistence.PipelineItem) error
}

// ClientFactory builds a model client for a resolved provider.
type ClientFactory interface {
	Client(ctx context.Context, p *persistence.ProviderConfig) (llm.Client, error)
}

// ToolRunner exposes the tools an agent may call.
type ToolRunner interface {
	ToolsFor(codename string) []tools.ToolDefinition
	Invoke(ctx context.Context, name string, args map[string]any) (*tools.ExecResult, error)
}

// Reviewer receives every successful execution synchronously.
type Reviewer interface {
	Process(ctx context.Context, taskID string) error
}

// Producer fans a Producer result out into new tasks.
type Producer interface {
	Produce(ctx context.Context, producerTaskID string) (*intake.BatchResult, error)
}

// Notifier announces results that are waiting for review.
type Notifier interface {
	ReviewReady(ctx context.Context, n publish.ReviewNotice)
}

// Options bound one execution.
type Options struct {
	MaxToolRounds int
	Temperature   float32
	ToolTimeout   time.Duration
}

// OptionsFromConfig derives Options from the executor config section.
func OptionsFromConfig(c *config.ExecutorConfig) Options {
	if c == nil {
		return Options{MaxToolRounds: 10, Temperature: llm.TemperatureDefault, ToolTimeout: time.Minute}
	}
	return Options{MaxToolRounds: c.MaxToolRounds, Temperature: c.Temperature, ToolTimeout: c.ToolTimeout}
}

// Deps wires an Executor. Reviewer, Producer, Notifier, Gate and Recorder
// are optional.
type Deps struct {
	Store    Store
	Clients  ClientFactory
	Tools    ToolRunner
	Reviewer Reviewer
	Producer Producer
	Notifier Notifier
	Gate     chain.Gate // admission check for unlocked dependents
	Recorder metrics.Recorder
	Options  Options
}

// Executor executes tasks. It is safe for concurrent use, but the queue
// only ever runs one execution at a time.
type Executor struct {
	store    Store
	clients  ClientFactory
	tools    ToolRunner
	reviewer Reviewer
	producer Producer
	notifier Notifier
	recorder metrics.Recorder
	resolver *chain.Resolver
	opts     Options
	logger   *logx.Logger
	trigger  func()
}

// New creates an executor.
func New(d Deps) *Executor {
	if d.Recorder == nil {
		d.Recorder = metrics.Nop()
	}
	if d.Options.MaxToolRounds <= 0 {
		d.Options.MaxToolRounds = 10
	}
	resolver := chain.NewResolver(d.Store)
	if d.Gate != nil {
		resolver.SetGate(d.Gate)
	}
	return &Executor{
		store:    d.Store,
		clients:  d.Clients,
		tools:    d.Tools,
		reviewer: d.Reviewer,
		producer: d.Producer,
		notifier: d.Notifier,
		recorder: d.Recorder,
		resolver: resolver,
		opts:     d.Options,
		logger:   logx.NewLogger("executor"),
		trigger:  func() {},
	}
}

// SetTrigger sets the callback used to wake the queue after dependents are
// unlocked.
func (e *Executor) SetTrigger(fn func()) {
	if fn == nil {
		fn = func() {}
	}
	e.trigger = fn
}

// Execute runs taskID with its assigned agent. override, when non-nil,
// replaces provider resolution.
//
// Returned errors are ValidationErrors raised before any state changed, or
// store failures. A provider failure is not an error: the task is rolled
// back and a Result with status error is returned.
func (e *Executor) Execute(ctx context.Context, taskID string, override *persistence.ProviderConfig) (*Result, error) {
	task, err := e.store.GetTask(ctx, taskID)
	if errors.Is(err, persistence.ErrNotFound) {
		return nil, invalid("task %s not found", taskID)
	}
	if err != nil {
		return nil, err
	}
	if task.AssigneeID == "" {
		return nil, invalid("task %q has no assigned agent", task.Title)
	}
	if task.Status != persistence.TaskTodo {
		return nil, invalid("task %q is %s, not todo", task.Title, task.Status)
	}
	agent, err := e.store.GetAgent(ctx, task.AssigneeID)
	if errors.Is(err, persistence.ErrNotFound) {
		return nil, invalid("agent %s for task %q not found", task.AssigneeID, task.Title)
	}
	if err != nil {
		return nil, err
	}

	prov, err := provider.Resolve(ctx, e.store, override, agent.Provider)
	if errors.Is(err, provider.ErrNoProvider) {
		return nil, &ValidationError{Msg: err.Error()}
	}
	if err != nil {
		return nil, err
	}
	client, err := e.clients.Client(ctx, prov)
	if err != nil {
		return nil, invalid("failed to build %s client: %v", prov.Type, err)
	}

	userPrompt, err := e.resolver.BuildPrompt(ctx, task)
	if err != nil {
		return nil, fmt.Errorf("failed to build prompt for %s: %w", task.ID, err)
	}

	if err := e.store.BeginExecution(ctx, task.ID, agent.ID); err != nil {
		if errors.Is(err, persistence.ErrConflict) {
			return nil, invalid("task %q or agent %s is already busy", task.Title, agent.Codename)
		}
		return nil, err
	}

	e.activity(ctx, persistence.EventTaskStarted, "Task started: "+task.Title,
		fmt.Sprintf("%s picked up the task using %s", agent.Name, client.GetModelName()),
		agent.ID, map[string]any{"taskId": task.ID, "status": "started"})
	e.logger.Info("▶️  %s executing %q on %s", agent.Codename, task.Title, client.GetModelName())

	start := time.Now()
	toolCtx := tools.WithCaller(ctx, tools.Caller{
		AgentID:  agent.ID,
		Name:     agent.Name,
		Codename: agent.Codename,
		Avatar:   agent.Avatar,
	})
	model := client.GetModelName()
	out, runErr := e.runToolLoop(toolCtx, client, &loopConfig{
		SystemPrompt: SystemPrompt(agent),
		UserPrompt:   userPrompt,
		Tools:        e.tools.ToolsFor(agent.Codename),
		MaxRounds:    e.opts.MaxToolRounds,
		MaxTokens:    config.MaxOutputTokens(model, prov.MaxTokens),
		Temperature:  e.opts.Temperature,
		ToolTimeout:  e.opts.ToolTimeout,
	})
	duration := time.Since(start)

	res := &Result{
		TaskID:      task.ID,
		AgentID:     agent.ID,
		AgentName:   agent.Name,
		AgentAvatar: agent.Avatar,
		Prompt:      userPrompt,
		DurationMs:  duration.Milliseconds(),
	}

	if runErr != nil {
		return e.fail(ctx, task, agent, res, runErr, duration)
	}

	response := out.Content
	if !out.Finished {
		response += MaxRoundsNotice
	}
	if len(out.Summaries) > 0 {
		response += "\n\n---\n**Tools used:** " + strings.Join(out.Summaries, ", ")
	}
	res.Response = response
	res.TokensUsed = out.Usage.Total()
	res.CostUSD = config.CalculateCost(model, out.Usage.InputTokens, out.Usage.OutputTokens)

	if err := e.complete(ctx, task, agent, res); err != nil {
		return nil, err
	}
	e.recorder.TaskExecuted(agent.Codename, metrics.OutcomeCompleted, duration)
	return res, nil
}

// fail rolls the task back to todo and records the error result. It runs on
// a context that survives cancellation of the caller.
func (e *Executor) fail(ctx context.Context, task *persistence.Task, agent *persistence.Agent, res *Result, cause error, duration time.Duration) (*Result, error) {
	ctx = context.WithoutCancel(ctx)
	msg := cause.Error()
	e.logger.Error("❌ Task %q failed: %s", task.Title, msg)

	tr := &persistence.TaskResult{
		Prompt:     res.Prompt,
		Response:   msg,
		DurationMs: res.DurationMs,
	}
	if err := e.store.FailExecution(ctx, task.ID, agent.ID, tr); err != nil {
		return nil, fmt.Errorf("failed to roll back task %s after %q: %w", task.ID, msg, err)
	}

	e.activity(ctx, persistence.EventTaskFailed, "Task failed: "+task.Title, msg, agent.ID,
		map[string]any{"taskId": task.ID, "status": "failed"})
	e.recorder.TaskExecuted(agent.Codename, metrics.OutcomeError, duration)

	res.ID = tr.ID
	res.Status = persistence.ResultError
	res.Error = msg
	return res, nil
}

// complete persists a successful result and runs the post-completion hooks
// in order. Hook failures are logged and do not undo the completion.
func (e *Executor) complete(ctx context.Context, task *persistence.Task, agent *persistence.Agent, res *Result) error {
	tr := &persistence.TaskResult{
		Prompt:     res.Prompt,
		Response:   res.Response,
		TokensUsed: res.TokensUsed,
		CostUSD:    res.CostUSD,
		DurationMs: res.DurationMs,
	}
	if err := e.store.CompleteExecution(ctx, task.ID, agent.ID, tr); err != nil {
		return fmt.Errorf("failed to record completion of %s: %w", task.ID, err)
	}
	res.ID = tr.ID
	res.Status = persistence.ResultCompleted

	e.activity(ctx, persistence.EventTaskCompleted, "Task completed: "+task.Title,
		fmt.Sprintf("Agent %s finished in %dms", agent.Name, res.DurationMs), agent.ID,
		map[string]any{"taskId": task.ID, "status": "completed", "tokens": res.TokensUsed, "cost": res.CostUSD})
	e.logger.Info("✅ %s completed %q in %.1fs (%d tokens)", agent.Codename, task.Title,
		float64(res.DurationMs)/1000, res.TokensUsed)

	if isPipelineTask(task) {
		if _, err := e.queueContent(ctx, task, res.Response); err != nil {
			e.logger.Warn("failed to queue content for %s: %v", task.ID, err)
		}
	}

	summary := fmt.Sprintf("✅ Completed task %q in %.1fs using %d tokens ($%.4f)",
		task.Title, float64(res.DurationMs)/1000, res.TokensUsed, res.CostUSD)
	if err := e.store.PostMessage(ctx, &persistence.Message{
		FromAgentID: agent.ID,
		Content:     summary,
		Type:        persistence.MessageSystem,
	}); err != nil {
		e.logger.Warn("failed to post completion message: %v", err)
	}

	if e.notifier != nil {
		e.notifier.ReviewReady(ctx, publish.ReviewNotice{
			TaskID:      task.ID,
			TaskTitle:   task.Title,
			AgentName:   agent.Name,
			AgentAvatar: agent.Avatar,
			Summary:     res.Response,
		})
	}

	unlocked, err := e.resolver.UnlockDependents(ctx, task.ID)
	if err != nil {
		e.logger.Warn("failed to unlock dependents of %s: %v", task.ID, err)
	}
	if len(unlocked) > 0 {
		e.trigger()
	}

	if e.reviewer != nil {
		if err := e.reviewer.Process(ctx, task.ID); err != nil {
			e.logger.Error("auto-review failed for %s: %v", task.ID, err)
		}
	}

	if e.producer != nil && strings.EqualFold(agent.Codename, intake.ProducerCodename) {
		batch, err := e.producer.Produce(ctx, task.ID)
		if err != nil {
			e.logger.Error("producer fan-out failed for %s: %v", task.ID, err)
		} else {
			e.logger.Info("📦 Producer created %d tasks from %q", len(batch.Created), task.Title)
		}
	}
	return nil
}

func (e *Executor) activity(ctx context.Context, eventType, title, desc, agentID string, meta map[string]any) {
	if err := e.store.LogActivity(ctx, &persistence.Activity{
		EventType:   eventType,
		Title:       title,
		Description: desc,
		AgentID:     agentID,
		Metadata:    meta,
	}); err != nil {
		e.logger.Warn("failed to log %s activity: %v", eventType, err)
	}
}
