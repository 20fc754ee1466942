package review

import (
	"encoding/json"
	"regexp"
	"strings"
)

//nolint:gochecknoglobals // compiled once
var fencedBlock = regexp.MustCompile("(?s)```([A-Za-z0-9_-]*)\\s*(.*?)\\s*```")

// Diagnostics describes what RepairableParse saw and did.
type Diagnostics struct {
	Err        error  // final parse error, nil on success
	Text       string // the JSON text that was parsed (after extraction and repair)
	Structured bool   // raw looked like structured data
	Repaired   bool   // Text is a truncated version of the extracted block
}

// LooksStructured reports whether raw starts with a code fence, a bracket
// or a brace once trimmed. The fence language is not consulted.
func LooksStructured(raw string) bool {
	trimmed := strings.TrimSpace(raw)
	return strings.HasPrefix(trimmed, "```") ||
		strings.HasPrefix(trimmed, "[") ||
		strings.HasPrefix(trimmed, "{")
}

// RepairableParse decodes structured model output. The payload of the
// first fenced block is used when present. When it does not parse as-is,
// it is truncated after the last closing brace or bracket and retried.
// Non-structured input returns a nil value and Structured=false.
func RepairableParse(raw string) (any, Diagnostics) {
	if !LooksStructured(raw) {
		return nil, Diagnostics{}
	}
	diag := Diagnostics{Structured: true, Text: raw}
	if m := fencedBlock.FindStringSubmatch(raw); m != nil {
		diag.Text = strings.TrimSpace(m[2])
	} else if trimmed := strings.TrimSpace(raw); strings.HasPrefix(trimmed, "```") {
		// Unclosed fence, usually a truncated response.
		if nl := strings.IndexByte(trimmed, '\n'); nl >= 0 {
			diag.Text = strings.TrimSpace(trimmed[nl+1:])
		}
	}

	var v any
	err := json.Unmarshal([]byte(diag.Text), &v)
	if err == nil {
		return v, diag
	}

	last := strings.LastIndexAny(diag.Text, "}]")
	if last <= 0 {
		diag.Err = err
		return nil, diag
	}
	repaired := diag.Text[:last+1]
	if rerr := json.Unmarshal([]byte(repaired), &v); rerr != nil {
		diag.Err = err
		return nil, diag
	}
	diag.Text = repaired
	diag.Repaired = true
	return v, diag
}
