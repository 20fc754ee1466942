// Package review implements the automated quality gate run on every
// completed task result.
package review

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"missioncontrol/pkg/persistence"
	"missioncontrol/pkg/tools"
)

// Decision is the outcome of a review.
type Decision string

// Decisions.
const (
	Approve Decision = "approve"
	Reject  Decision = "reject"
	Flag    Decision = "flag"
)

// Check names, in evaluation order.
const (
	CheckMinimumLength = "Minimum Length"
	CheckNotPromptEcho = "Not Prompt Echo"
	CheckValidJSON     = "Valid JSON"
	CheckTab           = "Tab Validation"
	CheckPublicContent = "Public Content Check"
	CheckRequireReview = "Requires Review Tag"
	CheckContentLength = "Content Length"
)

const (
	// MinResponseChars is the reject threshold for near-empty output.
	MinResponseChars = 20
	// DefaultMinChars is the category minimum for uncategorized content.
	DefaultMinChars = 50
)

// PromptMarkers are strings from the output format contract. Output that
// contains them is echoing the system prompt.
//
//nolint:gochecknoglobals // constant set
var PromptMarkers = []string{"OUTPUT FORMAT RULES", "MANDATORY"}

//nolint:gochecknoglobals // compiled once
var tabLine = regexp.MustCompile(`[eEbBgGdDaA]\|[\d\-hpb/\\~x|\s]+`)

// Result is a review decision with its audit trail.
type Result struct {
	Decision        Decision
	RepairedContent string
	Reasons         []string
	Checks          []persistence.ReviewCheck
}

func (r *Result) check(name string, passed bool, detail string) {
	r.Checks = append(r.Checks, persistence.ReviewCheck{Name: name, Passed: passed, Detail: detail})
}

func (r *Result) decide(d Decision, reason string) Result {
	r.Decision = d
	r.Reasons = append(r.Reasons, reason)
	return *r
}

// Review evaluates a completed result. It reads nothing but its arguments,
// so equal inputs always produce equal results. Checks short-circuit on
// the first reject or flag.
//
//nolint:gocyclo,cyclop // one branch per check
func Review(task *persistence.Task, result *persistence.TaskResult) Result {
	res := Result{Reasons: []string{}, Checks: []persistence.ReviewCheck{}}
	response := result.Response
	tags := lowerTags(task.Tags)

	// 1. Near-empty output.
	length := utf8.RuneCountInString(response)
	if utf8.RuneCountInString(strings.TrimSpace(response)) < MinResponseChars {
		res.check(CheckMinimumLength, false, fmt.Sprintf("Only %d chars, minimum is %d", length, MinResponseChars))
		return res.decide(Reject, fmt.Sprintf("Response too short (< %d chars)", MinResponseChars))
	}
	res.check(CheckMinimumLength, true, fmt.Sprintf("%d chars", length))

	// 2. System prompt echoed back.
	for _, marker := range PromptMarkers {
		if strings.Contains(response, marker) {
			res.check(CheckNotPromptEcho, false, "Response appears to echo system prompt")
			return res.decide(Reject, "Response echoes system prompt")
		}
	}
	res.check(CheckNotPromptEcho, true, "Response is original content")

	// 3. Structured output must parse, possibly after repair.
	if _, diag := RepairableParse(response); diag.Structured {
		if diag.Err != nil {
			res.check(CheckValidJSON, false, "Invalid and unrepairable JSON")
			return res.decide(Reject, "Malformed JSON that cannot be repaired")
		}
		if diag.Repaired {
			res.RepairedContent = diag.Text
			response = diag.Text
			length = utf8.RuneCountInString(response)
			res.check(CheckValidJSON, true, "Valid after repair")
		} else {
			res.check(CheckValidJSON, true, "Valid as-is")
		}
	}

	// 4. Tablature must validate.
	if hasAny(tags, "tab", "lick") {
		var problems []string
		if lines := tabLine.FindAllString(response, -1); len(lines) > 0 {
			problems = tools.ValidateTab(strings.Join(lines, "\n")).Errors
		} else {
			problems = []string{"No valid tab notation found in response"}
		}
		if len(problems) > 0 {
			res.check(CheckTab, false, strings.Join(problems, "; "))
			return res.decide(Flag, "Tab validation failed: "+strings.Join(problems, ", "))
		}
		res.check(CheckTab, true, "Tab notation is valid")
	}

	// 5. Public-facing or explicitly gated content always goes to a human.
	if hasAny(tags, "social", "email", "caption") {
		res.check(CheckPublicContent, false, "Public-facing content requires human review")
		return res.decide(Flag, "Public-facing content (social/email/caption)")
	}
	if hasAny(tags, "review-required", "external") {
		res.check(CheckRequireReview, false, "Tagged for mandatory human review")
		return res.decide(Flag, "Tagged as requiring human review")
	}

	// 6. Category minimum length.
	minChars := CategoryMinChars(task.Title, tags)
	if length < minChars {
		res.check(CheckContentLength, false, fmt.Sprintf("Only %d chars, minimum is %d", length, minChars))
		return res.decide(Flag, fmt.Sprintf("Content seems too short (%d chars, expected at least %d)", length, minChars))
	}
	res.check(CheckContentLength, true, fmt.Sprintf("%d chars (min: %d)", length, minChars))

	return res.decide(Approve, "All automated checks passed")
}

// CategoryMinChars returns the minimum plausible length for content with
// this title and these lower-cased tags.
func CategoryMinChars(title string, tags []string) int {
	title = strings.ToLower(title)
	switch {
	case tagPrefixed(tags, "lick", "tab") || strings.Contains(title, "lick") || strings.Contains(title, "tab"):
		return 100
	case tagPrefixed(tags, "lesson") || strings.Contains(title, "lesson"):
		return 300
	case tagPrefixed(tags, "blog", "post") || strings.Contains(title, "blog") || strings.Contains(title, "post"):
		return 500
	default:
		// social and caption content share the default minimum.
		return DefaultMinChars
	}
}

func lowerTags(tags []string) []string {
	out := make([]string, len(tags))
	for i, t := range tags {
		out[i] = strings.ToLower(strings.TrimSpace(t))
	}
	return out
}

func hasAny(tags []string, want ...string) bool {
	for _, t := range tags {
		for _, w := range want {
			if t == w {
				return true
			}
		}
	}
	return false
}

// tagPrefixed matches plural and suffixed forms such as "licks" or "tabs".
func tagPrefixed(tags []string, prefixes ...string) bool {
	for _, t := range tags {
		for _, p := range prefixes {
			if strings.HasPrefix(t, p) {
				return true
			}
		}
	}
	return false
}
