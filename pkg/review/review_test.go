package review

import (
	"reflect"
	"strings"
	"testing"

	"missioncontrol/pkg/persistence"
)

const validTab = "e|-----5-8-|\nB|---5-----|\nG|-7-------|\nD|---------|\nA|---------|\nE|---------|"

func run(title string, tags []string, response string) Result {
	return Review(
		&persistence.Task{Title: title, Tags: tags},
		&persistence.TaskResult{Response: response, Status: persistence.ResultCompleted},
	)
}

func lastCheck(t *testing.T, r Result) persistence.ReviewCheck {
	t.Helper()
	if len(r.Checks) == 0 {
		t.Fatal("no checks recorded")
	}
	return r.Checks[len(r.Checks)-1]
}

func TestReviewDecisions(t *testing.T) {
	long := strings.Repeat("Practice slowly with a metronome. ", 20)

	tests := []struct {
		name      string
		title     string
		tags      []string
		response  string
		want      Decision
		lastCheck string
	}{
		{"too short", "Anything", nil, "   ok   ", Reject, CheckMinimumLength},
		{"prompt echo", "Anything", nil, "## OUTPUT FORMAT RULES (MANDATORY) follow these", Reject, CheckNotPromptEcho},
		{"broken json", "Anything", nil, "{\"lick_name\": \"Blues\", \"tab\": ", Reject, CheckValidJSON},
		{"tab without notation", "Lick", []string{"lick"}, long, Flag, CheckTab},
		{"social", "Weekly post", []string{"social"}, long, Flag, CheckPublicContent},
		{"email", "Newsletter", []string{"Email"}, long, Flag, CheckPublicContent},
		{"review required", "Pricing", []string{"review-required"}, long, Flag, CheckRequireReview},
		{"external", "Pricing", []string{"external"}, long, Flag, CheckRequireReview},
		{"short blog", "Blog: bends", nil, strings.Repeat("x", 200), Flag, CheckContentLength},
		{"approve default", "Market research", nil, strings.Repeat("y", 60), Approve, CheckContentLength},
		{"approve valid tab", "Lick", []string{"tab"}, validTab + "\n" + long, Approve, CheckContentLength},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := run(tt.title, tt.tags, tt.response)
			if got.Decision != tt.want {
				t.Fatalf("decision = %s, want %s (reasons %v)", got.Decision, tt.want, got.Reasons)
			}
			if c := lastCheck(t, got); c.Name != tt.lastCheck {
				t.Errorf("last check = %s, want %s", c.Name, tt.lastCheck)
			}
			if len(got.Reasons) != 1 {
				t.Errorf("want exactly one reason, got %v", got.Reasons)
			}
		})
	}
}

func TestLicksLengthFlag(t *testing.T) {
	response := strings.Repeat("a", 40)
	got := run("Generate blues licks", []string{"licks"}, response)

	if got.Decision != Flag {
		t.Fatalf("decision = %s, want flag", got.Decision)
	}
	c := lastCheck(t, got)
	if c.Name != CheckContentLength || c.Passed {
		t.Fatalf("last check = %+v, want failed %s", c, CheckContentLength)
	}
	if !strings.Contains(c.Detail, "40") || !strings.Contains(c.Detail, "100") {
		t.Errorf("detail %q should name actual and required lengths", c.Detail)
	}
}

func TestEveryEvaluatedCheckRecorded(t *testing.T) {
	got := run("Market research", nil, strings.Repeat("z", 80))
	var names []string
	for _, c := range got.Checks {
		names = append(names, c.Name)
		if !c.Passed {
			t.Errorf("check %s failed on approved content", c.Name)
		}
	}
	want := []string{CheckMinimumLength, CheckNotPromptEcho, CheckContentLength}
	if !reflect.DeepEqual(names, want) {
		t.Errorf("checks = %v, want %v", names, want)
	}
}

func TestRepairedContentCarriedForward(t *testing.T) {
	raw := `[{"lick_name": "Box 1", "description": "` + strings.Repeat("bend ", 30) + `"}] trailing chatter`
	got := run("Market research", nil, raw)
	if got.Decision != Approve {
		t.Fatalf("decision = %s, reasons %v", got.Decision, got.Reasons)
	}
	if !strings.HasSuffix(got.RepairedContent, "}]") {
		t.Errorf("repaired content = %q", got.RepairedContent)
	}
	if got.Checks[2].Detail != "Valid after repair" {
		t.Errorf("json check detail = %q", got.Checks[2].Detail)
	}
}

func TestReviewRejectsTypedNonJSONFence(t *testing.T) {
	raw := "```python\ndef practice():\n    " + strings.Repeat("play_scale('A minor')\n    ", 10) + "```"
	got := run("Market research", nil, raw)
	if got.Decision != Reject {
		t.Fatalf("decision = %s, reasons %v", got.Decision, got.Reasons)
	}
	var jsonCheck *persistence.ReviewCheck
	for i := range got.Checks {
		if got.Checks[i].Name == CheckValidJSON {
			jsonCheck = &got.Checks[i]
		}
	}
	if jsonCheck == nil {
		t.Fatalf("no %q check in %+v", CheckValidJSON, got.Checks)
	}
	if jsonCheck.Passed {
		t.Errorf("json check passed for a python block")
	}
}

func TestReviewIsPure(t *testing.T) {
	task := &persistence.Task{Title: "Lesson plan", Tags: []string{"lesson"}}
	result := &persistence.TaskResult{Response: strings.Repeat("q", 120)}
	first := Review(task, result)
	second := Review(task, result)
	if !reflect.DeepEqual(first, second) {
		t.Errorf("review not deterministic:\n%+v\n%+v", first, second)
	}
	if first.Decision != Flag {
		t.Errorf("120-char lesson should be flagged, got %s", first.Decision)
	}
}

func TestRepairableParse(t *testing.T) {
	tests := []struct {
		name       string
		raw        string
		structured bool
		repaired   bool
		wantErr    bool
	}{
		{"prose", "Here is your lick", false, false, false},
		{"valid object", `{"a": 1}`, true, false, false},
		{"fenced json", "```json\n[1, 2]\n```", true, false, false},
		{"bare fence", "```\n{\"a\": [1]}\n```", true, false, false},
		{"html fence", "```html\n<div></div>\n```", true, false, true},
		{"python fence", "```python\ndef f(): ...```", true, false, true},
		{"unclosed fence", "```json\n{\"a\": 1}\n", true, false, false},
		{"trailing junk", `{"a": {"b": 2}} and more`, true, true, false},
		{"unrepairable", `{"a": [1, 2`, true, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, diag := RepairableParse(tt.raw)
			if diag.Structured != tt.structured {
				t.Fatalf("structured = %v, want %v", diag.Structured, tt.structured)
			}
			if diag.Repaired != tt.repaired {
				t.Errorf("repaired = %v, want %v", diag.Repaired, tt.repaired)
			}
			if (diag.Err != nil) != tt.wantErr {
				t.Errorf("err = %v, wantErr %v", diag.Err, tt.wantErr)
			}
			if tt.structured && !tt.wantErr && v == nil {
				t.Error("expected a decoded value")
			}
		})
	}
}

func TestCategoryMinChars(t *testing.T) {
	tests := []struct {
		title string
		tags  []string
		want  int
	}{
		{"Anything", []string{"licks"}, 100},
		{"New tab for box 2", nil, 100},
		{"Lesson 3", nil, 300},
		{"Misc", []string{"lessons"}, 300},
		{"Blog draft", nil, 500},
		{"Instagram", []string{"caption"}, 50},
		{"Research", nil, 50},
	}
	for _, tt := range tests {
		if got := CategoryMinChars(tt.title, tt.tags); got != tt.want {
			t.Errorf("CategoryMinChars(%q, %v) = %d, want %d", tt.title, tt.tags, got, tt.want)
		}
	}
}
