package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"missioncontrol/pkg/llm"
	"missioncontrol/pkg/tools"
	"missioncontrol/pkg/utils"
)

// MaxRoundsNotice is appended to the response when the model keeps calling
// tools past the round limit.
const MaxRoundsNotice = "\n\n[Tool use loop exceeded maximum rounds]"

const toolArgsPreview = 100

// loopConfig defines one tool loop run.
//
//nolint:govet // fieldalignment: grouped for readability
type loopConfig struct {
	SystemPrompt string
	UserPrompt   string
	Tools        []tools.ToolDefinition
	MaxRounds    int
	MaxTokens    int
	Temperature  float32
	ToolTimeout  time.Duration
}

// loopOutcome is what the loop produced. Usage is summed over every round.
type loopOutcome struct {
	Content   string
	Summaries []string
	Usage     llm.Usage
	Finished  bool
}

// runToolLoop drives provider round-trips until the model answers without
// tool calls or MaxRounds is reached. Only provider errors abort the loop;
// tool failures are fed back as error results.
func (e *Executor) runToolLoop(ctx context.Context, client llm.Client, cfg *loopConfig) (*loopOutcome, error) {
	if cfg.MaxRounds <= 0 {
		cfg.MaxRounds = 10
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = llm.DefaultMaxTokens
	}

	messages := []llm.CompletionMessage{
		llm.NewSystemMessage(cfg.SystemPrompt),
		llm.NewUserMessage(cfg.UserPrompt),
	}
	out := &loopOutcome{}

	for round := 1; round <= cfg.MaxRounds; round++ {
		req := llm.CompletionRequest{
			Messages:    messages,
			Tools:       cfg.Tools,
			MaxTokens:   cfg.MaxTokens,
			Temperature: cfg.Temperature,
		}

		e.logger.Debug("LLM call to '%s' with %d messages, %d tools (round %d)",
			client.GetModelName(), len(messages), len(cfg.Tools), round)

		start := time.Now()
		resp, err := client.Complete(ctx, req)
		if err != nil {
			e.logger.Error("❌ LLM call failed after %.3gs: %v", time.Since(start).Seconds(), err)
			return out, err
		}

		usage := resp.Usage
		if usage.Total() == 0 {
			usage = estimateUsage(messages, resp)
		}
		out.Usage.InputTokens += usage.InputTokens
		out.Usage.OutputTokens += usage.OutputTokens

		if len(resp.ToolCalls) == 0 {
			out.Content = resp.Content
			out.Finished = true
			return out, nil
		}

		messages = append(messages, llm.NewAssistantMessage(resp.Content, resp.ToolCalls))

		// Every tool call must be answered with a result.
		results := make([]llm.ToolResult, 0, len(resp.ToolCalls))
		for i := range resp.ToolCalls {
			call := &resp.ToolCalls[i]
			content, ok := e.invokeTool(ctx, call, cfg.ToolTimeout)
			results = append(results, llm.ToolResult{ToolCallID: call.ID, Content: content, IsError: !ok})
			if ok {
				out.Summaries = append(out.Summaries, summarizeCall(call))
			}
		}
		messages = append(messages, llm.NewToolResultMessage(results))
	}

	e.logger.Warn("⚠️  Maximum tool rounds (%d) reached", cfg.MaxRounds)
	return out, nil
}

// invokeTool runs one call under its own timeout. A failure is returned as
// "Error: <msg>" text with ok false.
func (e *Executor) invokeTool(ctx context.Context, call *llm.ToolCall, timeout time.Duration) (string, bool) {
	toolCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		toolCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	res, err := e.tools.Invoke(toolCtx, call.Name, call.Parameters)
	e.recorder.ToolInvoked(call.Name, err == nil)
	if err != nil {
		e.logger.Warn("Tool %s failed after %.3fs: %v", call.Name, time.Since(start).Seconds(), err)
		return "Error: " + err.Error(), false
	}
	e.logger.Debug("Tool %s completed in %.3fs", call.Name, time.Since(start).Seconds())
	if res == nil {
		return "", true
	}
	return res.Content, true
}

func summarizeCall(call *llm.ToolCall) string {
	args, err := json.Marshal(call.Parameters)
	if err != nil {
		args = []byte("{}")
	}
	return fmt.Sprintf("%s(%s...)", call.Name, truncateRunes(string(args), toolArgsPreview))
}

// estimateUsage approximates token counts for providers that report none.
func estimateUsage(messages []llm.CompletionMessage, resp llm.CompletionResponse) llm.Usage {
	var in strings.Builder
	for i := range messages {
		in.WriteString(messages[i].Content)
		for _, r := range messages[i].ToolResults {
			in.WriteString(r.Content)
		}
	}
	return llm.Usage{
		InputTokens:  utils.CountTokensSimple(in.String()),
		OutputTokens: utils.CountTokensSimple(resp.Content),
	}
}
