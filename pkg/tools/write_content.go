package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// WriteContentTool writes generated content into the staging export directory.
type WriteContentTool struct {
	dir     string
	baseURL string
}

// NewWriteContentTool creates the write_content tool rooted at dir. baseURL,
// when set, is used to report the public URL of the written file.
func NewWriteContentTool(dir, baseURL string) *WriteContentTool {
	return &WriteContentTool{dir: dir, baseURL: strings.TrimRight(baseURL, "/")}
}

// Name returns the tool name.
func (t *WriteContentTool) Name() string {
	return ToolWriteContent
}

// Definition returns the tool definition for the model.
func (t *WriteContentTool) Definition() ToolDefinition {
	return ToolDefinition{
		Name:        ToolWriteContent,
		Description: "Write generated content to the staging export directory.",
		InputSchema: InputSchema{
			Type: "object",
			Properties: map[string]Property{
				"filename": {Type: "string", Description: "Filename to write"},
				"content":  {Type: "string", Description: "Content to write"},
				"type":     {Type: "string", Description: "Content type", Enum: []string{"html", "md", "json"}},
			},
			Required: []string{"filename", "content", "type"},
		},
	}
}

// Exec writes the file.
func (t *WriteContentTool) Exec(_ context.Context, args map[string]any) (*ExecResult, error) {
	filename := stringArg(args, "filename")
	content := stringArg(args, "content")
	typ := stringArg(args, "type")
	switch typ {
	case "html", "md", "json":
	default:
		return nil, fmt.Errorf("type must be one of html, md, json")
	}
	// Only a bare filename is accepted; directories are stripped.
	filename = filepath.Base(filepath.Clean("/" + filename))
	if filename == "/" || filename == "." || filename == "" {
		return nil, fmt.Errorf("filename is required")
	}
	if !strings.HasSuffix(filename, "."+typ) {
		filename += "." + typ
	}

	if err := os.MkdirAll(t.dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to write content: %w", err)
	}
	path := filepath.Join(t.dir, filename)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return nil, fmt.Errorf("failed to write content: %w", err)
	}

	out := map[string]any{
		"path":     path,
		"filename": filename,
		"size":     len(content),
	}
	if t.baseURL != "" {
		out["url"] = t.baseURL + "/" + filename
	}
	return jsonResult(out)
}
