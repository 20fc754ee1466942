package tools

import (
	"context"
	"fmt"

	"missioncontrol/pkg/persistence"
)

// ContentStore is the read side used by list_content and search_tasks.
type ContentStore interface {
	ListContent(ctx context.Context, q persistence.ContentQuery) ([]*persistence.ContentRow, error)
	SearchTasks(ctx context.Context, term string) ([]*persistence.ContentRow, error)
}

func preview(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func assigneeOrUnassigned(name string) string {
	if name == "" {
		return "Unassigned"
	}
	return name
}

// ListContentTool lets agents look up existing work to avoid duplicating it.
type ListContentTool struct {
	store ContentStore
}

// NewListContentTool creates the list_content tool.
func NewListContentTool(store ContentStore) *ListContentTool {
	return &ListContentTool{store: store}
}

// Name returns the tool name.
func (t *ListContentTool) Name() string {
	return ToolListContent
}

// Definition returns the tool definition for the model.
func (t *ListContentTool) Definition() ToolDefinition {
	return ToolDefinition{
		Name:        ToolListContent,
		Description: "Query the MC database for existing approved/completed content to avoid duplication.",
		InputSchema: InputSchema{
			Type: "object",
			Properties: map[string]Property{
				"status":  {Type: "string", Description: "Filter by status (e.g., done, review)"},
				"tags":    {Type: "array", Items: &Property{Type: "string"}, Description: "Filter by tags"},
				"agentId": {Type: "string", Description: "Filter by agent ID"},
				"search":  {Type: "string", Description: "Search in title and description"},
				"limit": {
					Type:        "number",
					Description: "Limit number of results (default: 20)",
					Minimum:     bound(1),
					Maximum:     bound(100),
				},
			},
		},
	}
}

// Exec runs the content query.
func (t *ListContentTool) Exec(ctx context.Context, args map[string]any) (*ExecResult, error) {
	rows, err := t.store.ListContent(ctx, persistence.ContentQuery{
		Status:  stringArg(args, "status"),
		AgentID: stringArg(args, "agentId"),
		Search:  stringArg(args, "search"),
		Tags:    stringSliceArg(args, "tags"),
		Limit:   intArg(args, "limit", 20),
	})
	if err != nil {
		return nil, fmt.Errorf("database query failed: %w", err)
	}

	results := make([]map[string]any, 0, len(rows))
	for _, r := range rows {
		resultPreview := "No result yet"
		if r.Response != "" {
			resultPreview = preview(r.Response, 200)
		}
		results = append(results, map[string]any{
			"id":            r.ID,
			"title":         r.Title,
			"status":        r.Status,
			"tags":          r.Tags,
			"assignee":      assigneeOrUnassigned(r.AssigneeName),
			"resultPreview": resultPreview,
		})
	}
	return jsonResult(map[string]any{"results": results})
}

// SearchTasksTool searches task history.
type SearchTasksTool struct {
	store ContentStore
}

// NewSearchTasksTool creates the search_tasks tool.
func NewSearchTasksTool(store ContentStore) *SearchTasksTool {
	return &SearchTasksTool{store: store}
}

// Name returns the tool name.
func (t *SearchTasksTool) Name() string {
	return ToolSearchTasks
}

// Definition returns the tool definition for the model.
func (t *SearchTasksTool) Definition() ToolDefinition {
	return ToolDefinition{
		Name:        ToolSearchTasks,
		Description: "Search task history and results for reference.",
		InputSchema: InputSchema{
			Type: "object",
			Properties: map[string]Property{
				"query":          {Type: "string", Description: "Search query for title/description"},
				"includeResults": {Type: "boolean", Description: "Include task results in response (default: false)"},
			},
			Required: []string{"query"},
		},
	}
}

// Exec runs the search.
func (t *SearchTasksTool) Exec(ctx context.Context, args map[string]any) (*ExecResult, error) {
	query := stringArg(args, "query")
	if query == "" {
		return nil, fmt.Errorf("query is required")
	}
	includeResults := boolArg(args, "includeResults")

	rows, err := t.store.SearchTasks(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("task search failed: %w", err)
	}

	results := make([]map[string]any, 0, len(rows))
	for _, r := range rows {
		entry := map[string]any{
			"id":          r.ID,
			"title":       r.Title,
			"description": r.Description,
			"status":      r.Status,
			"assignee":    assigneeOrUnassigned(r.AssigneeName),
			"created_at":  r.CreatedAt,
		}
		if includeResults && r.Response != "" {
			entry["resultPreview"] = preview(r.Response, 500)
		}
		results = append(results, entry)
	}
	return jsonResult(map[string]any{"results": results})
}
