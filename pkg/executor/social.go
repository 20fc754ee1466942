package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"missioncontrol/pkg/persistence"
)

const maxPipelineBody = 5000

//nolint:gochecknoglobals // static tables and compiled patterns
var (
	pipelineTags      = []string{"social", "instagram", "twitter", "tiktok", "youtube", "caption", "reel", "post"}
	pipelinePlatforms = []string{"instagram", "twitter", "tiktok", "youtube"}

	postArrayPattern = regexp.MustCompile(`\[\s*\{[\s\S]*"(?:platform|caption)"[\s\S]*\}\s*\]`)
	imageURLPattern  = regexp.MustCompile(`"image_url"\s*:\s*"(https?://[^"]+)"`)
	replicatePattern = regexp.MustCompile(`(https://replicate\.delivery/[^\s"']+)`)
)

type socialPost struct {
	Platform string `json:"platform"`
	Caption  string `json:"caption"`
	Title    string `json:"title"`
	ImageURL string `json:"image_url"`
}

// isPipelineTask reports whether a completed task feeds the content pipeline.
func isPipelineTask(task *persistence.Task) bool {
	for _, t := range task.Tags {
		lower := strings.ToLower(t)
		for _, st := range pipelineTags {
			if strings.Contains(lower, st) {
				return true
			}
		}
	}
	return false
}

func normalizePlatform(p string) string {
	p = strings.ReplaceAll(strings.ToLower(strings.TrimSpace(p)), "twitter", "x")
	if p == "" {
		return "x"
	}
	return p
}

// parseSocialPosts extracts a [{platform, caption}, ...] array. It returns
// nil unless the first post has a caption.
func parseSocialPosts(response string) []socialPost {
	match := postArrayPattern.FindString(response)
	if match == "" {
		return nil
	}
	var posts []socialPost
	if err := json.Unmarshal([]byte(match), &posts); err != nil {
		return nil
	}
	if len(posts) == 0 || posts[0].Caption == "" {
		return nil
	}
	return posts
}

func fallbackPlatform(tags []string) string {
	for _, t := range tags {
		lower := strings.ToLower(t)
		if lower == "x" {
			return "x"
		}
		for _, p := range pipelinePlatforms {
			if strings.Contains(lower, p) {
				return normalizePlatform(lower)
			}
		}
	}
	return "x"
}

func thumbnailURL(response string) string {
	if m := imageURLPattern.FindStringSubmatch(response); m != nil {
		return m[1]
	}
	if m := replicatePattern.FindStringSubmatch(response); m != nil {
		return m[1]
	}
	return ""
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// queueContent files the response of a social task as content pipeline
// items in stage review: one per parsed post, else one for the whole
// response.
func (e *Executor) queueContent(ctx context.Context, task *persistence.Task, response string) (int, error) {
	meta := func() map[string]any {
		return map[string]any{"taskId": task.ID, "autoCreated": true}
	}

	if posts := parseSocialPosts(response); posts != nil {
		created := 0
		for _, p := range posts {
			if p.Caption == "" {
				continue
			}
			platform := normalizePlatform(p.Platform)
			title := p.Title
			if title == "" {
				title = task.Title + " — " + platform
			}
			if err := e.store.CreatePipelineItem(ctx, &persistence.PipelineItem{
				Title:           title,
				Body:            truncateRunes(p.Caption, maxPipelineBody),
				Stage:           persistence.StageReview,
				Platform:        platform,
				AssignedAgentID: task.AssigneeID,
				ThumbnailURL:    p.ImageURL,
				Metadata:        meta(),
			}); err != nil {
				return created, err
			}
			created++
		}
		e.activity(ctx, persistence.EventContentQueued,
			fmt.Sprintf("%d social posts created from: %s", created, task.Title),
			"Split into individual pipeline items", task.AssigneeID,
			map[string]any{"taskId": task.ID, "count": created})
		return created, nil
	}

	platform := fallbackPlatform(task.Tags)
	if err := e.store.CreatePipelineItem(ctx, &persistence.PipelineItem{
		Title:           task.Title,
		Body:            truncateRunes(response, maxPipelineBody),
		Stage:           persistence.StageReview,
		Platform:        platform,
		AssignedAgentID: task.AssigneeID,
		ThumbnailURL:    thumbnailURL(response),
		Metadata:        meta(),
	}); err != nil {
		return 0, err
	}
	e.activity(ctx, persistence.EventContentQueued, "Content created: "+task.Title,
		fmt.Sprintf("Auto-added to pipeline as %q content", platform), task.AssigneeID,
		map[string]any{"taskId": task.ID, "stage": persistence.StageReview})
	return 1, nil
}
