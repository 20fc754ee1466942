package executor

import (
	"strings"

	"missioncontrol/pkg/persistence"
)

// outputFormatGuide is appended to every system prompt. The auto-reviewer
// rejects responses that echo its heading back.
const outputFormatGuide = `
## OUTPUT FORMAT RULES (MANDATORY)

Your output will be rendered in a content preview system. Follow these rules strictly:

### For Licks, Exercises, Tab Content:
Return a JSON array. Each item MUST include these fields:
- "lick_name": string
- "scale": string (e.g. "E Minor Pentatonic")
- "key": string (e.g. "E Minor")
- "difficulty": "Beginner" | "Intermediate" | "Advanced"
- "techniques": string[] (e.g. ["hammer-on", "pull-off", "bend"])
- "tab_notation": string, standard 6-line guitar tab using e|, B|, G|, D|, A|, E| format. Use h for hammer-on, p for pull-off, b for bend, s or / for slide, ~ for vibrato.
- "description": string
- "practice_tips": string
- "tempo": number (BPM, optional)
- "fret_range": string (e.g. "5-8", optional)

### For Courses, Lesson Sequences, Curricula:
Return a JSON object with:
- "courseTitle": string
- "courseDescription": string
- "lessons": array of lesson objects, each with:
  - "lessonNumber": number
  - "lessonTitle": string
  - "learningObjectives": string[]
  - "bloomsLevel": string (optional)
  - "activities": array of activity objects, each with:
    - "activityType": string (e.g. "Concept Introduction", "Demonstration", "Guided Practice", "Assessment")
    - "title": string
    - "content": string (for explanations)
    - "tasks": string[] (for practice items)
    - "successCriteria": string (optional)
    - "questions": string[] (for assessments, optional)

### For Practice Routines/Templates:
Return a JSON object or HTML. If HTML, use complete valid HTML with inline CSS (dark theme: #0a0a0f background, #f59e0b amber accent, white text).

### For Blog Posts, Social Captions, Emails, Strategies:
Use well-structured Markdown with headers (##), bold, bullet lists, and clear sections. Separate multiple items (e.g. caption options) with --- on its own line.

### For Instagram/Social Captions specifically:
Structure each caption as a separate section divided by ---. Include hashtags at the end of each caption.

### CRITICAL:
- Always wrap JSON output in ` + "```json" + ` code fences
- Always wrap HTML output in ` + "```html" + ` code fences
- Ensure JSON is valid and properly escape special characters in strings
- Do NOT truncate output. Complete every JSON array and close all braces/brackets.
- Do NOT include conversational text before or after the JSON/HTML code fence. Output ONLY the content.
`

// SystemPrompt builds the persona prompt for agent followed by the output
// format contract.
func SystemPrompt(agent *persistence.Agent) string {
	parts := make([]string, 0, 4)
	if agent.Soul != "" {
		parts = append(parts, agent.Soul)
	}
	if agent.Personality != "" {
		parts = append(parts, "\nPersonality: "+agent.Personality)
	}
	if agent.Role != "" {
		parts = append(parts, "\nRole: "+agent.Role)
	}
	parts = append(parts, outputFormatGuide)
	return strings.Join(parts, "\n")
}
