package tools

import (
	"context"
	"fmt"
	"strings"
)

//nolint:gochecknoglobals // reference tables
var (
	noteNames = []string{"C", "C#", "D", "D#", "E", "F", "F#", "G", "G#", "A", "A#", "B"}

	scales = map[string][]int{
		"Major (Ionian)":          {0, 2, 4, 5, 7, 9, 11},
		"Dorian":                  {0, 2, 3, 5, 7, 9, 10},
		"Phrygian":                {0, 1, 3, 5, 7, 8, 10},
		"Lydian":                  {0, 2, 4, 6, 7, 9, 11},
		"Mixolydian":              {0, 2, 4, 5, 7, 9, 10},
		"Natural Minor (Aeolian)": {0, 2, 3, 5, 7, 8, 10},
		"Locrian":                 {0, 1, 3, 5, 6, 8, 10},
		"Harmonic Minor":          {0, 2, 3, 5, 7, 8, 11},
		"Melodic Minor":           {0, 2, 3, 5, 7, 9, 11},
		"Major Pentatonic":        {0, 2, 4, 7, 9},
		"Minor Pentatonic":        {0, 3, 5, 7, 10},
		"Blues":                   {0, 3, 5, 6, 7, 10},
		"Major Blues":             {0, 2, 3, 4, 7, 9},
		"Whole Tone":              {0, 2, 4, 6, 8, 10},
		"Diminished (H-W)":        {0, 1, 3, 4, 6, 7, 9, 10},
		"Diminished (W-H)":        {0, 2, 3, 5, 6, 8, 9, 11},
		"Chromatic":               {0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11},
		"Phrygian Dominant":       {0, 1, 4, 5, 7, 8, 10},
		"Hungarian Minor":         {0, 2, 3, 6, 7, 8, 11},
		"Double Harmonic":         {0, 1, 4, 5, 7, 8, 11},
		"Bebop Dominant":          {0, 2, 4, 5, 7, 9, 10, 11},
		"Super Locrian":           {0, 1, 3, 4, 6, 8, 10},
		"Dorian b2":               {0, 1, 3, 5, 7, 9, 10},
		"Lydian Augmented":        {0, 2, 4, 6, 8, 9, 11},
		"Lydian Dominant":         {0, 2, 4, 6, 7, 9, 10},
		"Mixolydian b6":           {0, 2, 4, 5, 7, 8, 10},
		"Aeolian b5":              {0, 2, 3, 5, 6, 8, 10},
		"Locrian nat6":            {0, 1, 3, 5, 6, 9, 10},
		"Ionian Augmented":        {0, 2, 4, 5, 8, 9, 11},
		"Dorian #4":               {0, 2, 3, 6, 7, 9, 10},
		"Lydian #2":               {0, 3, 4, 6, 7, 9, 11},
		"Ultra Locrian":           {0, 1, 3, 4, 6, 8, 9},
		"Lydian #2 #6":            {0, 3, 4, 6, 7, 10, 11},
		"Ultra Phrygian":          {0, 1, 3, 4, 7, 8, 9},
		"Oriental":                {0, 1, 4, 5, 6, 9, 10},
		"Ionian #2 #5":            {0, 3, 4, 5, 8, 9, 11},
		"Locrian bb3 bb7":         {0, 1, 2, 5, 6, 8, 9},
		"Harmonic Major":          {0, 2, 4, 5, 7, 8, 11},
		"Dorian b5":               {0, 2, 3, 5, 6, 9, 10},
		"Phrygian b4":             {0, 1, 3, 4, 7, 8, 10},
		"Lydian b3":               {0, 2, 3, 6, 7, 9, 11},
		"Mixolydian b2":           {0, 1, 4, 5, 7, 9, 10},
		"Lydian Augmented #2":     {0, 3, 4, 6, 8, 9, 11},
		"Locrian bb7":             {0, 1, 3, 5, 6, 8, 9},
		"Bebop Major":             {0, 2, 4, 5, 7, 8, 9, 11},
		"Bebop Dorian":            {0, 2, 3, 4, 5, 7, 9, 10},
		"Hirajoshi":               {0, 2, 3, 7, 8},
		"In-Sen":                  {0, 1, 5, 7, 10},
		"Kumoi":                   {0, 2, 3, 7, 9},
		"Augmented":               {0, 3, 4, 7, 8, 11},
	}

	scaleFamilies = map[string][]string{
		"Diatonic":           {"Major (Ionian)", "Dorian", "Phrygian", "Lydian", "Mixolydian", "Natural Minor (Aeolian)", "Locrian"},
		"Pentatonic & Blues": {"Major Pentatonic", "Minor Pentatonic", "Blues", "Major Blues"},
		"Modal Scale Families": {
			"Melodic Minor", "Dorian b2", "Lydian Augmented", "Lydian Dominant", "Mixolydian b6", "Aeolian b5",
			"Super Locrian", "Harmonic Minor", "Locrian nat6", "Ionian Augmented", "Dorian #4", "Phrygian Dominant",
			"Lydian #2", "Ultra Locrian", "Harmonic Major", "Dorian b5", "Phrygian b4", "Lydian b3", "Mixolydian b2",
			"Lydian Augmented #2", "Locrian bb7",
		},
		"Exotic":             {"Double Harmonic", "Lydian #2 #6", "Ultra Phrygian", "Hungarian Minor", "Oriental", "Ionian #2 #5", "Locrian bb3 bb7"},
		"Exotic Pentatonics": {"Hirajoshi", "In-Sen", "Kumoi"},
		"Symmetric":          {"Whole Tone", "Diminished (H-W)", "Diminished (W-H)", "Augmented", "Chromatic"},
		"Jazz":               {"Bebop Dominant", "Bebop Major", "Bebop Dorian"},
	}

	intervalNames = map[int]string{
		0: "Root", 1: "Minor 2nd", 2: "Major 2nd", 3: "Minor 3rd", 4: "Major 3rd",
		5: "Perfect 4th", 6: "Tritone", 7: "Perfect 5th", 8: "Minor 6th",
		9: "Major 6th", 10: "Minor 7th", 11: "Major 7th",
	}

	positionRanges = map[string]map[int][2]int{
		"CAGED": {1: {0, 4}, 2: {2, 7}, 3: {5, 9}, 4: {7, 12}, 5: {9, 14}},
		"Standard": {
			1: {0, 4}, 2: {2, 6}, 3: {4, 8}, 4: {6, 10}, 5: {8, 12}, 6: {10, 14}, 7: {12, 16},
		},
		"3NPS": {
			1: {0, 4}, 2: {2, 6}, 3: {4, 8}, 4: {6, 10}, 5: {8, 12}, 6: {10, 14}, 7: {12, 16},
		},
	}

	// Extensions above the octave are written as semitones + 12.
	chordFormulas = map[string][]int{
		"major": {0, 4, 7},
		"minor": {0, 3, 7},
		"dom7":  {0, 4, 7, 10},
		"maj7":  {0, 4, 7, 11},
		"min7":  {0, 3, 7, 10},
		"dim":   {0, 3, 6},
		"aug":   {0, 4, 8},
		"sus4":  {0, 5, 7},
		"sus2":  {0, 2, 7},
		"add9":  {0, 4, 7, 14},
		"6":     {0, 4, 7, 9},
		"min6":  {0, 3, 7, 9},
		"9":     {0, 4, 7, 10, 14},
		"maj9":  {0, 4, 7, 11, 14},
		"min9":  {0, 3, 7, 10, 14},
		"11":    {0, 4, 7, 10, 14, 17},
		"13":    {0, 4, 7, 10, 14, 21},
	}

	chordOrder = []string{
		"major", "minor", "dom7", "maj7", "min7", "dim", "aug", "sus4", "sus2",
		"add9", "6", "min6", "9", "maj9", "min9", "11", "13",
	}

	scaleDescriptions = map[string]string{
		"Major (Ionian)":          "Bright, happy, resolved. The foundation of Western music.",
		"Dorian":                  "Jazzy minor with a bright 6th. Think Santana, Pink Floyd.",
		"Phrygian":                "Dark, Spanish, exotic. Flamenco and metal staple.",
		"Lydian":                  "Dreamy, floating, ethereal. The brightest mode with its raised 4th.",
		"Mixolydian":              "Bluesy major feel. Classic rock, country, and funk.",
		"Natural Minor (Aeolian)": "Sad, dark, introspective. The natural minor sound.",
		"Locrian":                 "Unstable, dissonant, tense. Rarely used as a tonal center.",
		"Harmonic Minor":          "Classical, dramatic, Middle Eastern tension.",
		"Melodic Minor":           "Smooth, jazzy minor. Bridges minor and major tonalities.",
		"Major Pentatonic":        "Simple, bright, uplifting. Country, pop, and folk essential.",
		"Minor Pentatonic":        "The go-to rock/blues scale. Raw, emotional, versatile.",
		"Blues":                   "Gritty, soulful, expressive. Minor pentatonic with added blue note.",
		"Major Blues":             "Bright blues flavor with a chromatic passing tone.",
		"Whole Tone":              "Floating, ambiguous, dreamlike. Pure symmetry.",
		"Diminished (H-W)":        "Tense, symmetric, jazzy. Used over diminished chords.",
		"Diminished (W-H)":        "Dark, symmetric, versatile. Used over dominant 7th chords.",
		"Chromatic":               "All 12 notes. Used for passing tones and chromatic runs.",
		"Phrygian Dominant":       "Intense, Middle Eastern, flamenco. 5th mode of harmonic minor.",
		"Hungarian Minor":         "Exotic, dramatic, augmented 4th gives unique tension.",
		"Double Harmonic":         "Arabic/Byzantine feel. Symmetric and intensely exotic.",
		"Bebop Dominant":          "Smooth jazz lines. Added chromatic passing tone.",
		"Super Locrian":           "Altered dominant scale. Maximum tension for jazz.",
	}
)

// MusicTheoryTool answers scale, interval, position and chord queries from
// static tables.
type MusicTheoryTool struct{}

// NewMusicTheoryTool creates the music theory tool.
func NewMusicTheoryTool() *MusicTheoryTool {
	return &MusicTheoryTool{}
}

// Name returns the tool name.
func (t *MusicTheoryTool) Name() string {
	return ToolMusicTheory
}

// Definition returns the tool definition for the model.
func (t *MusicTheoryTool) Definition() ToolDefinition {
	return ToolDefinition{
		Name:        ToolMusicTheory,
		Description: "Query music theory data including scales, intervals, positions, and chord tones.",
		InputSchema: InputSchema{
			Type: "object",
			Properties: map[string]Property{
				"command": {
					Type:        "string",
					Description: "Command to execute",
					Enum:        []string{"get_scale", "list_scales", "get_scale_positions", "get_intervals", "get_chord_tones"},
				},
				"name":      {Type: "string", Description: "Scale name (for get_scale)"},
				"scaleName": {Type: "string", Description: "Scale name (for get_scale_positions)"},
				"positionSystem": {
					Type:        "string",
					Description: "Position system (for get_scale_positions)",
					Enum:        []string{"CAGED", "Standard", "3NPS"},
				},
				"chordType": {Type: "string", Description: "Chord type (for get_chord_tones)"},
			},
			Required: []string{"command"},
		},
	}
}

// Exec runs one music theory command.
func (t *MusicTheoryTool) Exec(_ context.Context, args map[string]any) (*ExecResult, error) {
	command := stringArg(args, "command")
	switch command {
	case "get_scale":
		name := stringArg(args, "name")
		if name == "" {
			return nil, fmt.Errorf("scale name is required")
		}
		canonical, intervals, ok := lookupScale(name)
		if !ok {
			return nil, fmt.Errorf("scale %q not found", name)
		}
		return jsonResult(map[string]any{
			"name":        canonical,
			"intervals":   intervals,
			"allKeys":     scaleInAllKeys(intervals),
			"description": scaleDescriptions[canonical],
		})

	case "list_scales":
		return jsonResult(map[string]any{"scalesByFamily": scaleFamilies})

	case "get_scale_positions":
		scaleName := stringArg(args, "scaleName")
		system := stringArg(args, "positionSystem")
		if scaleName == "" || system == "" {
			return nil, fmt.Errorf("scaleName and positionSystem are required")
		}
		ranges, ok := positionRanges[system]
		if !ok {
			return nil, fmt.Errorf("invalid position system: %s", system)
		}
		return jsonResult(map[string]any{
			"scaleName":      scaleName,
			"positionSystem": system,
			"positions":      ranges,
		})

	case "get_intervals":
		return jsonResult(map[string]any{"intervals": intervalNames})

	case "get_chord_tones":
		chordType := stringArg(args, "chordType")
		if chordType == "" {
			return nil, fmt.Errorf("chordType is required")
		}
		intervals, ok := chordFormulas[chordType]
		if !ok {
			return nil, fmt.Errorf("chord type %q not found", chordType)
		}
		return jsonResult(map[string]any{
			"chordType":           chordType,
			"intervals":           intervals,
			"availableChordTypes": chordOrder,
		})

	default:
		return nil, fmt.Errorf("invalid command: %s", command)
	}
}

// lookupScale matches exactly first, then case-insensitively.
func lookupScale(name string) (string, []int, bool) {
	if iv, ok := scales[name]; ok {
		return name, iv, true
	}
	for canonical, iv := range scales {
		if strings.EqualFold(canonical, strings.TrimSpace(name)) {
			return canonical, iv, true
		}
	}
	return "", nil, false
}

func scaleInAllKeys(intervals []int) map[string][]string {
	out := make(map[string][]string, len(noteNames))
	for root, rootName := range noteNames {
		notes := make([]string, len(intervals))
		for i, iv := range intervals {
			notes[i] = noteNames[(root+iv)%12]
		}
		out[rootName] = notes
	}
	return out
}
