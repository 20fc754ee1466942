package testkit

import (
	"context"
	"sync"

	"missioncontrol/pkg/llm"
)

// FakeClient is a scripted llm.Client. Each Complete call pops the next
// step; once exhausted the last step repeats.
type FakeClient struct {
	Model string

	mu       sync.Mutex
	steps    []FakeStep
	requests []llm.CompletionRequest
}

// FakeStep is one scripted outcome.
type FakeStep struct {
	Err      error
	Response llm.CompletionResponse
}

// NewFakeClient returns a client that answers with steps in order.
func NewFakeClient(steps ...FakeStep) *FakeClient {
	return &FakeClient{Model: "fake-model", steps: steps}
}

// Respond is shorthand for a plain text step.
func Respond(content string, inputTokens, outputTokens int) FakeStep {
	return FakeStep{Response: llm.CompletionResponse{
		Content: content,
		Usage:   llm.Usage{InputTokens: inputTokens, OutputTokens: outputTokens},
	}}
}

// CallTool is shorthand for a step requesting one tool call.
func CallTool(id, name string, args map[string]any) FakeStep {
	return FakeStep{Response: llm.CompletionResponse{
		ToolCalls: []llm.ToolCall{{ID: id, Name: name, Parameters: args}},
		Usage:     llm.Usage{InputTokens: 5, OutputTokens: 5},
	}}
}

// Fail is shorthand for an error step.
func Fail(err error) FakeStep {
	return FakeStep{Err: err}
}

// Complete implements llm.Client.
//
//nolint:gocritic // CompletionRequest passed by value to match the interface
func (f *FakeClient) Complete(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
	if err := ctx.Err(); err != nil {
		return llm.CompletionResponse{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if len(f.steps) == 0 {
		return llm.CompletionResponse{Content: "ok"}, nil
	}
	step := f.steps[0]
	if len(f.steps) > 1 {
		f.steps = f.steps[1:]
	}
	return step.Response, step.Err
}

// GetModelName implements llm.Client.
func (f *FakeClient) GetModelName() string {
	return f.Model
}

// Requests returns every request received.
func (f *FakeClient) Requests() []llm.CompletionRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]llm.CompletionRequest(nil), f.requests...)
}

// LastUserPrompt returns the text of the first user message of the first
// request, which is the task prompt built by the executor.
func (f *FakeClient) LastUserPrompt() string {
	reqs := f.Requests()
	if len(reqs) == 0 {
		return ""
	}
	for _, m := range reqs[0].Messages {
		if m.Role == llm.RoleUser {
			return m.Content
		}
	}
	return ""
}
