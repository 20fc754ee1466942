package tools

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// DefaultAllowlist maps agent codenames to the tools they may call.
//
//nolint:gochecknoglobals // static policy table
var DefaultAllowlist = map[string][]string{
	"TABSMITH":    {ToolMusicTheory, ToolValidateTab, ToolListContent, ToolGetBrandContext, ToolDelegateTask},
	"ARCHITECT":   {ToolMusicTheory, ToolListContent, ToolSearchTasks, ToolGetBrandContext, ToolDelegateTask},
	"TRACKMASTER": {ToolMusicTheory, ToolListContent, ToolGetBrandContext, ToolDelegateTask},
	"THEORYBOT":   {ToolMusicTheory, ToolListContent, ToolSearchTasks, ToolGetBrandContext, ToolDelegateTask},
	"COACH":       {ToolMusicTheory, ToolListContent, ToolSearchTasks, ToolGetBrandContext, ToolDelegateTask},
	"FEEDBACK":    {ToolListContent, ToolSearchTasks, ToolGetBrandContext, ToolDelegateTask},
	"CONTENTMILL": {ToolSearchWeb, ToolFetchURL, ToolListContent, ToolGetBrandContext, ToolWriteContent, ToolDelegateTask},
	"SEOHAWK":     {ToolSearchWeb, ToolFetchURL, ToolListContent, ToolGetBrandContext, ToolDelegateTask},
	"COMMUNITY":   {ToolSearchWeb, ToolFetchURL, ToolListContent, ToolGetBrandContext, ToolDelegateTask},
	"BIZOPS":      {ToolSearchWeb, ToolFetchURL, ToolListContent, ToolSearchTasks, ToolGetBrandContext, ToolDelegateTask},
	"PRODUCER":    {ToolListContent, ToolSearchTasks, ToolGetBrandContext, ToolDelegateTask},
}

// Registry resolves tool names to implementations and filters them per agent.
//
//nolint:govet // fieldalignment: Logical grouping preferred over memory optimization
type Registry struct {
	mu        sync.RWMutex
	tools     map[string]Tool
	allowlist map[string][]string
}

// NewRegistry creates a registry with the given allowlist. A nil allowlist
// uses DefaultAllowlist.
func NewRegistry(allowlist map[string][]string) *Registry {
	if allowlist == nil {
		allowlist = DefaultAllowlist
	}
	normalized := make(map[string][]string, len(allowlist))
	for codename, names := range allowlist {
		normalized[strings.ToUpper(codename)] = names
	}
	return &Registry{
		tools:     make(map[string]Tool),
		allowlist: normalized,
	}
}

// Register adds tool, replacing any tool with the same name.
func (r *Registry) Register(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name()] = tool
}

// Get retrieves a registered tool.
func (r *Registry) Get(name string) (Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	if !ok {
		return nil, fmt.Errorf("tool %q not found", name)
	}
	return tool, nil
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ToolsFor returns the definitions visible to codename, in allowlist order.
// Allowed tools that are not registered are skipped.
func (r *Registry) ToolsFor(codename string) []ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	allowed := r.allowlist[strings.ToUpper(codename)]
	defs := make([]ToolDefinition, 0, len(allowed))
	for _, name := range allowed {
		if tool, ok := r.tools[name]; ok {
			defs = append(defs, tool.Definition())
		}
	}
	return defs
}

// HasAccess reports whether codename may call toolName.
func (r *Registry) HasAccess(codename, toolName string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, name := range r.allowlist[strings.ToUpper(codename)] {
		if name == toolName {
			return true
		}
	}
	return false
}

// Invoke runs the named tool. When ctx carries a Caller, the caller's
// allowlist is enforced.
func (r *Registry) Invoke(ctx context.Context, name string, args map[string]any) (*ExecResult, error) {
	tool, err := r.Get(name)
	if err != nil {
		return nil, err
	}
	if caller, ok := CallerFrom(ctx); ok && caller.Codename != "" && !r.HasAccess(caller.Codename, name) {
		return nil, fmt.Errorf("tool %q not allowed for %s", name, caller.Codename)
	}
	if args == nil {
		args = map[string]any{}
	}
	res, err := tool.Exec(ctx, args)
	if err != nil {
		return nil, fmt.Errorf("tool %q execution failed: %w", name, err)
	}
	return res, nil
}
