// Package testkit provides fixtures shared by package tests: a seeded store,
// a scripted llm.Client and httptest servers that speak the provider wire
// formats.
package testkit

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
)

// ToolUse is a scripted tool invocation in a mock provider reply.
type ToolUse struct {
	Input map[string]any
	ID    string
	Name  string
}

// Reply is one scripted provider response. A non-zero Status makes the
// server answer with an error body instead.
type Reply struct {
	Text         string
	ToolUses     []ToolUse
	InputTokens  int
	OutputTokens int
	Status       int
}

// MockServer serves scripted replies in order and records request bodies.
// Once the script is exhausted the last reply repeats.
type MockServer struct {
	*httptest.Server

	mu       sync.Mutex
	replies  []Reply
	requests []map[string]any
}

// Requests returns the decoded request bodies received so far.
func (m *MockServer) Requests() []map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]map[string]any(nil), m.requests...)
}

func (m *MockServer) next(body map[string]any) Reply {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, body)
	if len(m.replies) == 0 {
		return Reply{Text: "mock response", InputTokens: 10, OutputTokens: 20}
	}
	r := m.replies[0]
	if len(m.replies) > 1 {
		m.replies = m.replies[1:]
	}
	return r
}

func newMockServer(pathSuffix string, replies []Reply, render func(Reply, map[string]any) any) *MockServer {
	m := &MockServer{replies: replies}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, pathSuffix) {
			http.Error(w, "Not found", http.StatusNotFound)
			return
		}
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "Invalid JSON", http.StatusBadRequest)
			return
		}

		reply := m.next(body)
		w.Header().Set("Content-Type", "application/json")
		if reply.Status != 0 {
			w.WriteHeader(reply.Status)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"type":  "error",
				"error": map[string]any{"type": "api_error", "message": fmt.Sprintf("mock status %d", reply.Status)},
			})
			return
		}
		_ = json.NewEncoder(w).Encode(render(reply, body))
	}))
	return m
}

// MockAnthropicServer emulates POST /v1/messages.
func MockAnthropicServer(replies ...Reply) *MockServer {
	return newMockServer("/messages", replies, func(r Reply, req map[string]any) any {
		content := []map[string]any{}
		if r.Text != "" {
			content = append(content, map[string]any{"type": "text", "text": r.Text})
		}
		stop := "end_turn"
		for _, tu := range r.ToolUses {
			content = append(content, map[string]any{"type": "tool_use", "id": tu.ID, "name": tu.Name, "input": tu.Input})
			stop = "tool_use"
		}
		return map[string]any{
			"id":            "msg_mock_12345",
			"type":          "message",
			"role":          "assistant",
			"model":         req["model"],
			"content":       content,
			"stop_reason":   stop,
			"stop_sequence": nil,
			"usage": map[string]any{
				"input_tokens":  r.InputTokens,
				"output_tokens": r.OutputTokens,
			},
		}
	})
}

// MockOpenAIServer emulates POST /chat/completions.
func MockOpenAIServer(replies ...Reply) *MockServer {
	return newMockServer("/chat/completions", replies, func(r Reply, req map[string]any) any {
		message := map[string]any{"role": "assistant", "content": r.Text}
		finish := "stop"
		if len(r.ToolUses) > 0 {
			calls := make([]map[string]any, 0, len(r.ToolUses))
			for _, tu := range r.ToolUses {
				args, _ := json.Marshal(tu.Input)
				calls = append(calls, map[string]any{
					"id":       tu.ID,
					"type":     "function",
					"function": map[string]any{"name": tu.Name, "arguments": string(args)},
				})
			}
			message["tool_calls"] = calls
			finish = "tool_calls"
		}
		return map[string]any{
			"id":      "chatcmpl-mock12345",
			"object":  "chat.completion",
			"created": 1699999999,
			"model":   req["model"],
			"choices": []map[string]any{{
				"index":         0,
				"message":       message,
				"finish_reason": finish,
			}},
			"usage": map[string]any{
				"prompt_tokens":     r.InputTokens,
				"completion_tokens": r.OutputTokens,
				"total_tokens":      r.InputTokens + r.OutputTokens,
			},
		}
	})
}

// MockOllamaServer emulates POST /api/chat with streaming disabled.
func MockOllamaServer(replies ...Reply) *MockServer {
	return newMockServer("/api/chat", replies, func(r Reply, req map[string]any) any {
		message := map[string]any{"role": "assistant", "content": r.Text}
		if len(r.ToolUses) > 0 {
			calls := make([]map[string]any, 0, len(r.ToolUses))
			for _, tu := range r.ToolUses {
				calls = append(calls, map[string]any{
					"function": map[string]any{"name": tu.Name, "arguments": tu.Input},
				})
			}
			message["tool_calls"] = calls
		}
		return map[string]any{
			"model":             req["model"],
			"created_at":        "2025-01-01T00:00:00Z",
			"message":           message,
			"done":              true,
			"done_reason":       "stop",
			"prompt_eval_count": r.InputTokens,
			"eval_count":        r.OutputTokens,
		}
	})
}
