package publish

import (
	"context"
	"regexp"
	"slices"
	"strings"

	"missioncontrol/pkg/persistence"
)

// Post length bounds, exclusive.
const (
	minPostLen = 10
	maxPostLen = 2200
	maxPosts   = 3
)

//nolint:gochecknoglobals // compiled once
var (
	postSeparator = regexp.MustCompile(`\n---\n`)
	boldLead      = regexp.MustCompile(`(?m)^\*\*.*?\*\*\n*`)
	headingLine   = regexp.MustCompile(`(?m)^#+\s.*\n*`)

	socialTags   = []string{"social", "instagram", "twitter", "x", "tiktok", "caption"}
	socialTitles = []string{"instagram", "caption", "social", "tweet"}
)

// DefaultPlatforms receive every approved social post.
//
//nolint:gochecknoglobals // static default
var DefaultPlatforms = []string{"x", "instagram"}

// IsSocial reports whether an approved task should be scheduled as posts.
func IsSocial(task *persistence.Task) bool {
	for _, t := range task.Tags {
		if slices.Contains(socialTags, strings.ToLower(t)) {
			return true
		}
	}
	title := strings.ToLower(task.Title)
	for _, s := range socialTitles {
		if strings.Contains(title, s) {
			return true
		}
	}
	return false
}

// SplitPosts splits a response into at most three posts on "---" lines,
// keeping posts of plausible length and dropping the leading bold label
// and markdown headings.
func SplitPosts(response string) []string {
	var posts []string
	for _, part := range postSeparator.Split(response, -1) {
		p := strings.TrimSpace(part)
		if len(p) <= minPostLen || len(p) >= maxPostLen {
			continue
		}
		if strings.HasPrefix(p, "**Tools used:**") {
			continue
		}
		posts = append(posts, p)
		if len(posts) == maxPosts {
			break
		}
	}

	for i, p := range posts {
		if loc := boldLead.FindStringIndex(p); loc != nil {
			p = p[:loc[0]] + p[loc[1]:]
		}
		posts[i] = strings.TrimSpace(headingLine.ReplaceAllString(p, ""))
	}
	return posts
}

// PipelineStore is the persistence surface the social publisher needs.
type PipelineStore interface {
	CreatePipelineItem(ctx context.Context, it *persistence.PipelineItem) error
}

// SocialPublisher schedules approved posts as content pipeline items.
type SocialPublisher struct {
	store     PipelineStore
	platforms []string
}

// NewSocialPublisher creates a publisher. Nil platforms means DefaultPlatforms.
func NewSocialPublisher(store PipelineStore, platforms []string) *SocialPublisher {
	if len(platforms) == 0 {
		platforms = DefaultPlatforms
	}
	return &SocialPublisher{store: store, platforms: platforms}
}

// Publish queues each post of response once per platform in stage
// scheduled and returns how many items were created.
func (p *SocialPublisher) Publish(ctx context.Context, task *persistence.Task, response string) (int, error) {
	n := 0
	for i, post := range SplitPosts(response) {
		if post == "" {
			continue
		}
		for _, platform := range p.platforms {
			err := p.store.CreatePipelineItem(ctx, &persistence.PipelineItem{
				Title:           task.Title + " — " + platform,
				Body:            post,
				Stage:           persistence.StageScheduled,
				Platform:        platform,
				AssignedAgentID: task.AssigneeID,
				Metadata:        map[string]any{"taskId": task.ID, "post": i + 1, "source": "approval"},
			})
			if err != nil {
				return n, err
			}
			n++
		}
	}
	return n, nil
}
