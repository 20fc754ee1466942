package tools

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

//nolint:gochecknoglobals // compiled once
var (
	tabValidChars = regexp.MustCompile(`^[\d\-hpb/\\~x|\s]*$`)
	tabFretNumber = regexp.MustCompile(`\d+`)
	tabStrings    = []string{"e", "B", "G", "D", "A", "E"}
)

// TabReport is the outcome of validating a piece of tablature.
type TabReport struct {
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
	Valid    bool     `json:"valid"`
}

// ValidateTab checks that tab is six-string tablature (e|B|G|D|A|E| from
// high to low) using only fret digits and technique symbols, with equal
// line lengths. Frets above 24 only warn.
func ValidateTab(tab string) TabReport {
	report := TabReport{Errors: []string{}, Warnings: []string{}}

	var stringLines []string
	for _, line := range strings.Split(tab, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		if strings.Contains(line, "|") {
			stringLines = append(stringLines, line)
		}
	}
	if len(stringLines) != len(tabStrings) {
		report.Errors = append(report.Errors, fmt.Sprintf("Expected 6 string lines, found %d", len(stringLines)))
	}

	lengths := make([]int, 0, len(stringLines))
	for i, line := range stringLines {
		trimmed := strings.TrimSpace(line)
		lineNo := i + 1

		if i < len(tabStrings) && !strings.HasPrefix(trimmed, tabStrings[i]+"|") {
			preview := trimmed
			if len(preview) > 10 {
				preview = preview[:10]
			}
			report.Errors = append(report.Errors,
				fmt.Sprintf("Line %d should start with %q, found: %s...", lineNo, tabStrings[i]+"|", preview))
		}

		body := ""
		if len(trimmed) > 2 {
			body = trimmed[2:]
		}
		lengths = append(lengths, len(body))

		if !tabValidChars.MatchString(body) {
			report.Errors = append(report.Errors, fmt.Sprintf(
				"Line %d contains invalid characters. Only digits, -, h, p, b, /, \\, ~, x, |, and spaces allowed.", lineNo))
		}
		for _, fret := range tabFretNumber.FindAllString(body, -1) {
			if n, err := strconv.Atoi(fret); err == nil && n > 24 {
				report.Warnings = append(report.Warnings,
					fmt.Sprintf("Fret %s on line %d is unusually high (>24)", fret, lineNo))
			}
		}
	}

	for _, l := range lengths {
		if l != lengths[0] {
			parts := make([]string, len(lengths))
			for i, n := range lengths {
				parts[i] = strconv.Itoa(n)
			}
			report.Errors = append(report.Errors,
				"All string lines should have the same length. Lengths: "+strings.Join(parts, ", "))
			break
		}
	}

	report.Valid = len(report.Errors) == 0
	return report
}

// ValidateTabTool exposes ValidateTab to agents.
type ValidateTabTool struct{}

// NewValidateTabTool creates the tab validation tool.
func NewValidateTabTool() *ValidateTabTool {
	return &ValidateTabTool{}
}

// Name returns the tool name.
func (t *ValidateTabTool) Name() string {
	return ToolValidateTab
}

// Definition returns the tool definition for the model.
func (t *ValidateTabTool) Definition() ToolDefinition {
	return ToolDefinition{
		Name:        ToolValidateTab,
		Description: "Validate guitar tablature notation for correctness.",
		InputSchema: InputSchema{
			Type: "object",
			Properties: map[string]Property{
				"tab": {Type: "string", Description: "Guitar tablature to validate"},
			},
			Required: []string{"tab"},
		},
	}
}

// Exec validates the tab argument.
func (t *ValidateTabTool) Exec(_ context.Context, args map[string]any) (*ExecResult, error) {
	tab := stringArg(args, "tab")
	if tab == "" {
		return nil, fmt.Errorf("tab is required")
	}
	return jsonResult(ValidateTab(tab))
}
