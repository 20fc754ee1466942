// Package tools provides the agent tool implementations and the per-agent registry.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Tool names.
const (
	ToolSearchWeb       = "search_web"
	ToolFetchURL        = "fetch_url"
	ToolMusicTheory     = "music_theory"
	ToolListContent     = "list_content"
	ToolSearchTasks     = "search_tasks"
	ToolValidateTab     = "validate_tab"
	ToolGetBrandContext = "get_brand_context"
	ToolWriteContent    = "write_content"
	ToolDelegateTask    = "delegate_task"
)

// Tool is a capability an agent can invoke during execution.
type Tool interface {
	// Name returns the tool's identifier.
	Name() string
	// Definition returns the schema sent to the model.
	Definition() ToolDefinition
	// Exec runs the tool. A returned error is reported back to the model.
	Exec(ctx context.Context, args map[string]any) (*ExecResult, error)
}

// ToolDefinition describes a tool to the model.
type ToolDefinition struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	InputSchema InputSchema `json:"input_schema"`
}

// InputSchema is the JSON schema of a tool's arguments.
type InputSchema struct {
	Properties map[string]Property `json:"properties"`
	Type       string              `json:"type"`
	Required   []string            `json:"required,omitempty"`
}

// Property is one argument in an InputSchema.
//
//nolint:govet // fieldalignment: Logical grouping preferred over memory optimization
type Property struct {
	Type        string    `json:"type"`
	Description string    `json:"description,omitempty"`
	Enum        []string  `json:"enum,omitempty"`
	Items       *Property `json:"items,omitempty"`
	Minimum     *float64  `json:"minimum,omitempty"`
	Maximum     *float64  `json:"maximum,omitempty"`
}

// PropertiesMap returns the properties as generic JSON values, the shape the
// provider SDKs accept for free-form schemas.
func (s InputSchema) PropertiesMap() map[string]any {
	out := make(map[string]any, len(s.Properties))
	b, err := json.Marshal(s.Properties)
	if err != nil {
		return out
	}
	_ = json.Unmarshal(b, &out)
	return out
}

// JSONSchema returns the whole schema as generic JSON values.
func (s InputSchema) JSONSchema() map[string]any {
	schema := map[string]any{
		"type":       "object",
		"properties": s.PropertiesMap(),
	}
	if len(s.Required) > 0 {
		schema["required"] = s.Required
	}
	return schema
}

// ExecResult is the text handed back to the model.
type ExecResult struct {
	Content string
}

// Caller identifies the agent invoking a tool.
type Caller struct {
	AgentID  string
	Name     string
	Codename string
	Avatar   string
}

type callerKey struct{}

// WithCaller attaches the invoking agent to ctx.
func WithCaller(ctx context.Context, c Caller) context.Context {
	return context.WithValue(ctx, callerKey{}, c)
}

// CallerFrom returns the invoking agent, if any.
func CallerFrom(ctx context.Context) (Caller, bool) {
	c, ok := ctx.Value(callerKey{}).(Caller)
	return c, ok
}

func jsonResult(v any) (*ExecResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}
	return &ExecResult{Content: string(b)}, nil
}

func bound(v float64) *float64 { return &v }

func stringArg(args map[string]any, key string) string {
	switch v := args[key].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func intArg(args map[string]any, key string, def int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return int(n)
		}
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	return def
}

func boolArg(args map[string]any, key string) bool {
	switch v := args[key].(type) {
	case bool:
		return v
	case string:
		b, _ := strconv.ParseBool(v)
		return b
	}
	return false
}

func stringSliceArg(args map[string]any, key string) []string {
	switch v := args[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	}
	return nil
}
