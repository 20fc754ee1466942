package tools

import "context"

// BrandContext is the static brand sheet agents write against.
type BrandContext struct {
	Colors         map[string]string `json:"colors"`
	SocialAccounts map[string]string `json:"socialAccounts"`
	BrandName      string            `json:"brandName"`
	Tagline        string            `json:"tagline"`
	URL            string            `json:"url"`
	Tone           string            `json:"tone"`
	TargetAudience string            `json:"targetAudience"`
	CompetitorApps []string          `json:"competitorApps"`
	KeyFeatures    []string          `json:"keyFeatures"`
}

// FretCoachBrand returns the brand sheet.
func FretCoachBrand() BrandContext {
	return BrandContext{
		BrandName: "FretCoach",
		Tagline:   "AI-powered guitar learning that adapts to you",
		URL:       "https://fretcoach.ai",
		Colors: map[string]string{
			"primary": "#f59e0b",
			"accent":  "#0ea5e9",
			"bg":      "#0a0a0f",
			"text":    "#ffffff",
		},
		Tone:           "Encouraging, knowledgeable, and approachable. We make guitar learning feel achievable and fun.",
		TargetAudience: "Guitar learners of all levels - from complete beginners to advanced players seeking structured practice.",
		SocialAccounts: map[string]string{
			"twitter":   "@FretCoach",
			"instagram": "@FretCoachAI",
			"tiktok":    "@fretcoachai",
			"youtube":   "@FretCoachAI",
		},
		CompetitorApps: []string{"Simply Guitar", "Yousician", "Fender Play", "JamPlay", "Guitar Tricks"},
		KeyFeatures: []string{
			"AI-powered personalized learning paths",
			"Real-time feedback on playing",
			"Interactive fretboard visualization",
			"Progress tracking and analytics",
			"Community features and challenges",
		},
	}
}

// BrandContextTool returns the brand sheet.
type BrandContextTool struct{}

// NewBrandContextTool creates the get_brand_context tool.
func NewBrandContextTool() *BrandContextTool {
	return &BrandContextTool{}
}

// Name returns the tool name.
func (t *BrandContextTool) Name() string {
	return ToolGetBrandContext
}

// Definition returns the tool definition for the model.
func (t *BrandContextTool) Definition() ToolDefinition {
	return ToolDefinition{
		Name:        ToolGetBrandContext,
		Description: "Returns FretCoach brand information for consistency across content.",
		InputSchema: InputSchema{Type: "object", Properties: map[string]Property{}},
	}
}

// Exec returns the brand sheet.
func (t *BrandContextTool) Exec(_ context.Context, _ map[string]any) (*ExecResult, error) {
	return jsonResult(FretCoachBrand())
}
