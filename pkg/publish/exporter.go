package publish

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"missioncontrol/pkg/persistence"
	"missioncontrol/pkg/review"
)

// Export categories. CategoryOther is not exported.
const (
	CategoryLicks   = "licks"
	CategoryCourses = "courses"
	CategoryBlog    = "blog"
	CategoryLessons = "lessons"
	CategoryOther   = "other"
)

// ExportMeta is written alongside exported content.
type ExportMeta struct {
	ExportedAt time.Time `json:"exportedAt" yaml:"exported_at"`
	TaskID     string    `json:"taskId" yaml:"task_id"`
	TaskTitle  string    `json:"taskTitle" yaml:"title"`
	Agent      string    `json:"agent" yaml:"agent"`
	Category   string    `json:"category" yaml:"category"`
}

// Exporter writes approved content to <dir>/<category>/<slug>.json for
// structured results and <slug>.md otherwise.
type Exporter struct {
	dir string
	now func() time.Time
}

// NewExporter creates an exporter rooted at dir.
func NewExporter(dir string) *Exporter {
	return &Exporter{dir: dir, now: time.Now}
}

//nolint:gochecknoglobals // compiled once
var slugUnsafe = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify returns the file name stem for a title.
func Slugify(s string) string {
	slug := strings.Trim(slugUnsafe.ReplaceAllString(strings.ToLower(s), "-"), "-")
	if len(slug) > 80 {
		slug = strings.TrimRight(slug[:80], "-")
	}
	if slug == "" {
		slug = "untitled"
	}
	return slug
}

// Categorize picks the export directory from tags, title, then the shape
// of parsed structured content (nil when the content is prose).
func Categorize(task *persistence.Task, parsed any) string {
	title := strings.ToLower(task.Title)
	tags := make([]string, 0, len(task.Tags))
	for _, t := range task.Tags {
		tags = append(tags, strings.ToLower(t))
	}
	has := func(tag string) bool { return slices.Contains(tags, tag) }

	switch {
	case has("licks") || has("tabs") || strings.Contains(title, "lick"):
		return CategoryLicks
	case has("course") || has("curriculum") || strings.Contains(title, "course"):
		return CategoryCourses
	case has("blog") || strings.Contains(title, "blog"):
		return CategoryBlog
	case strings.Contains(title, "lesson") || strings.Contains(title, "onboarding"),
		strings.Contains(title, "practice") || strings.Contains(title, "routine"):
		return CategoryLessons
	}

	switch v := parsed.(type) {
	case []any:
		if len(v) > 0 {
			if first, ok := v[0].(map[string]any); ok {
				switch {
				case first["lick_name"] != nil || first["tab_notation"] != nil:
					return CategoryLicks
				case first["lessonNumber"] != nil || first["lessonTitle"] != nil:
					return CategoryLessons
				}
			}
		}
	case map[string]any:
		switch {
		case v["courseTitle"] != nil || v["lessons"] != nil:
			return CategoryCourses
		case v["lick_name"] != nil:
			return CategoryLicks
		}
	}
	return CategoryOther
}

// Export writes content for task and returns the file path, or "" when the
// content has no export category.
func (e *Exporter) Export(task *persistence.Task, agentName, content string) (string, error) {
	if strings.TrimSpace(content) == "" {
		return "", nil
	}
	parsed, diag := review.RepairableParse(content)
	if diag.Err != nil {
		parsed = nil
	}
	category := Categorize(task, parsed)
	if category == CategoryOther {
		return "", nil
	}

	dir := filepath.Join(e.dir, category)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create export directory %s: %w", dir, err)
	}

	meta := ExportMeta{
		TaskID:     task.ID,
		TaskTitle:  task.Title,
		Agent:      agentName,
		ExportedAt: e.now().UTC(),
		Category:   category,
	}

	var (
		path string
		data []byte
		err  error
	)
	if parsed != nil {
		path = filepath.Join(dir, Slugify(task.Title)+".json")
		data, err = json.MarshalIndent(struct {
			Meta    ExportMeta `json:"_meta"`
			Content any        `json:"content"`
		}{meta, parsed}, "", "  ")
	} else {
		path = filepath.Join(dir, Slugify(task.Title)+".md")
		data, err = markdownWithFrontMatter(meta, content)
	}
	if err != nil {
		return "", fmt.Errorf("failed to encode export for %s: %w", task.ID, err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write export %s: %w", path, err)
	}
	return path, nil
}

func markdownWithFrontMatter(meta ExportMeta, body string) ([]byte, error) {
	front, err := yaml.Marshal(meta)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	buf.WriteString("---\n")
	buf.Write(front)
	buf.WriteString("---\n\n")
	buf.WriteString(strings.TrimSpace(body))
	buf.WriteString("\n")
	return buf.Bytes(), nil
}
