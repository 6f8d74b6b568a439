// Package sceneplan derives visual generation directives from a song's
// analysis. Planning is a pure function of its inputs: the same segment
// and analysis always produce the same scene plan and prompt text.
package sceneplan

import (
	"fmt"
	"strings"

	"github.com/beatreel/beatreel/internal/models"
)

// Mood labels derived from the analysis mood vector.
const (
	MoodEnergetic   = "energetic"
	MoodIntense     = "intense"
	MoodCalm        = "calm"
	MoodMelancholic = "melancholic"
	MoodNeutral     = "neutral"
)

// Palette is a three-color scheme for a scene.
type Palette struct {
	Name      string `json:"name"`
	Primary   string `json:"primary"`
	Secondary string `json:"secondary"`
	Accent    string `json:"accent"`
}

// CameraMotion describes how the virtual camera should move.
type CameraMotion struct {
	Type      string  `json:"type"`
	Intensity float64 `json:"intensity"`
	Speed     float64 `json:"speed"`
}

// ShotPattern describes framing and pacing for a scene.
type ShotPattern struct {
	Framing    string `json:"framing"`
	Pacing     string `json:"pacing"`
	Transition string `json:"transition"`
}

// ScenePlan is the full visual directive for one clip segment.
type ScenePlan struct {
	Prompt            string       `json:"prompt"`
	Palette           Palette      `json:"palette"`
	Camera            CameraMotion `json:"camera"`
	Shot              ShotPattern  `json:"shot"`
	Intensity         float64      `json:"intensity"`
	TargetDurationSec float64      `json:"target_duration_sec"`
	ReferenceImageURL string       `json:"reference_image_url,omitempty"`
}

// Input carries everything the planner needs for one segment.
type Input struct {
	// Segment is the beat-aligned window the clip covers.
	Segment models.PlannedClip
	// Section is the musical section containing the segment start. May
	// be nil when the analysis produced no sections.
	Section *models.Section
	// Analysis is the song-level analysis (BPM, mood, genre).
	Analysis *models.SongAnalysis
	// BaseStyle is the visual style the whole video shares.
	BaseStyle string
	// ReferenceImageURL points at the character reference image, if any.
	ReferenceImageURL string
}

var palettes = map[string]Palette{
	MoodEnergetic: {
		Name:      "vibrant",
		Primary:   "#FF3D7F",
		Secondary: "#FF9E2C",
		Accent:    "#3DFFF3",
	},
	MoodIntense: {
		Name:      "high-contrast",
		Primary:   "#0D0D0D",
		Secondary: "#E8E8E8",
		Accent:    "#FF1E1E",
	},
	MoodCalm: {
		Name:      "soft blues",
		Primary:   "#7FB8D4",
		Secondary: "#CFE8F0",
		Accent:    "#F2E9DC",
	},
	MoodMelancholic: {
		Name:      "muted",
		Primary:   "#5C6672",
		Secondary: "#8B8FA3",
		Accent:    "#C9A66B",
	},
	MoodNeutral: {
		Name:      "balanced",
		Primary:   "#4A6FA5",
		Secondary: "#B8C4D0",
		Accent:    "#E3A857",
	},
}

// cameraPresets maps genre to a base camera motion; speed is scaled by
// tempo at plan time.
var cameraPresets = map[string]CameraMotion{
	"electronic": {Type: "fast_zoom", Intensity: 0.8, Speed: 1.0},
	"hip-hop":    {Type: "quick_cuts", Intensity: 0.7, Speed: 1.0},
	"rock":       {Type: "handheld_shake", Intensity: 0.7, Speed: 1.0},
	"pop":        {Type: "smooth_dolly", Intensity: 0.5, Speed: 1.0},
	"ambient":    {Type: "slow_pan", Intensity: 0.2, Speed: 1.0},
	"classical":  {Type: "slow_pan", Intensity: 0.3, Speed: 1.0},
	"jazz":       {Type: "drift", Intensity: 0.4, Speed: 1.0},
	"folk":       {Type: "static_wide", Intensity: 0.3, Speed: 1.0},
}

var defaultCamera = CameraMotion{Type: "smooth_dolly", Intensity: 0.5, Speed: 1.0}

var shotPatterns = map[models.SectionType]ShotPattern{
	models.SectionTypeIntro:      {Framing: "wide", Pacing: "slow", Transition: "fade_in"},
	models.SectionTypeVerse:      {Framing: "medium", Pacing: "moderate", Transition: "cut"},
	models.SectionTypePreChorus:  {Framing: "medium_close", Pacing: "building", Transition: "cut"},
	models.SectionTypeChorus:     {Framing: "close_to_wide", Pacing: "fast", Transition: "beat_cut"},
	models.SectionTypeBridge:     {Framing: "medium", Pacing: "shifting", Transition: "dissolve"},
	models.SectionTypeDrop:       {Framing: "rapid_mix", Pacing: "very_fast", Transition: "beat_cut"},
	models.SectionTypeBreakdown:  {Framing: "close", Pacing: "sparse", Transition: "dissolve"},
	models.SectionTypeInstrument: {Framing: "wide", Pacing: "moderate", Transition: "cut"},
	models.SectionTypeOutro:      {Framing: "wide", Pacing: "slow", Transition: "fade_out"},
}

var defaultShot = ShotPattern{Framing: "medium", Pacing: "moderate", Transition: "cut"}

// sectionIntensity weights each section type's contribution to scene
// intensity.
var sectionIntensity = map[models.SectionType]float64{
	models.SectionTypeIntro:      0.2,
	models.SectionTypeVerse:      0.4,
	models.SectionTypePreChorus:  0.6,
	models.SectionTypeChorus:     0.8,
	models.SectionTypeBridge:     0.5,
	models.SectionTypeDrop:       1.0,
	models.SectionTypeBreakdown:  0.3,
	models.SectionTypeInstrument: 0.5,
	models.SectionTypeOutro:      0.2,
}

// Plan builds the scene plan for one segment.
func Plan(in Input) ScenePlan {
	mood := classifyMood(in.Analysis)
	palette := palettes[mood]

	bpm := 0.0
	if in.Analysis != nil && in.Analysis.BPM != nil {
		bpm = *in.Analysis.BPM
	}

	camera := cameraForGenre(genreOf(in.Analysis))
	camera.Speed = tempoScale(bpm)

	shot := defaultShot
	sectionWeight := 0.5
	if in.Section != nil {
		if p, ok := shotPatterns[in.Section.Type]; ok {
			shot = p
		}
		if w, ok := sectionIntensity[in.Section.Type]; ok {
			sectionWeight = w
		}
	}

	energy := 0.5
	if in.Analysis != nil && in.Analysis.Mood != nil {
		energy = in.Analysis.Mood.Energy
	}
	intensity := clamp01(0.6*sectionWeight + 0.4*energy)

	return ScenePlan{
		Prompt:            buildPrompt(in, mood, palette, camera, shot, bpm),
		Palette:           palette,
		Camera:            camera,
		Shot:              shot,
		Intensity:         intensity,
		TargetDurationSec: in.Segment.DurationSec(),
		ReferenceImageURL: in.ReferenceImageURL,
	}
}

// classifyMood reduces the mood vector to one of the palette labels.
func classifyMood(a *models.SongAnalysis) string {
	if a == nil || a.Mood == nil {
		return MoodNeutral
	}
	m := a.Mood
	switch {
	case m.Tension >= 0.7 && m.Energy >= 0.5:
		return MoodIntense
	case m.Energy >= 0.65 && m.Valence >= 0.5:
		return MoodEnergetic
	case m.Energy >= 0.65:
		return MoodIntense
	case m.Valence < 0.4 && m.Energy < 0.5:
		return MoodMelancholic
	case m.Energy < 0.35:
		return MoodCalm
	default:
		return MoodNeutral
	}
}

func genreOf(a *models.SongAnalysis) string {
	if a == nil || a.Genre == nil {
		return ""
	}
	return strings.ToLower(*a.Genre)
}

func cameraForGenre(genre string) CameraMotion {
	if preset, ok := cameraPresets[genre]; ok {
		return preset
	}
	return defaultCamera
}

// tempoScale maps BPM to a camera speed multiplier in [0.5, 2.0].
func tempoScale(bpm float64) float64 {
	switch {
	case bpm <= 0:
		return 1.0
	case bpm < 100:
		return 0.5 + bpm/200
	case bpm < 160:
		return 1.0 + (bpm-100)/120
	default:
		return 2.0
	}
}

// TempoDescriptor names the rhythmic feel of a BPM.
func TempoDescriptor(bpm float64) string {
	switch {
	case bpm <= 0:
		return "steady"
	case bpm < 100:
		return "slow, flowing"
	case bpm < 130:
		return "steady, moderate"
	case bpm < 160:
		return "energetic, driving"
	default:
		return "frenetic, rapid"
	}
}

func buildPrompt(in Input, mood string, palette Palette, camera CameraMotion, shot ShotPattern, bpm float64) string {
	var parts []string

	style := in.BaseStyle
	if style == "" {
		style = "cinematic music video scene"
	}
	parts = append(parts, style)

	parts = append(parts, fmt.Sprintf("%s color palette of %s, %s and %s",
		palette.Name, palette.Primary, palette.Secondary, palette.Accent))
	parts = append(parts, mood+" mood")

	if genre := genreOf(in.Analysis); genre != "" {
		parts = append(parts, genre+" aesthetic")
	}

	parts = append(parts, fmt.Sprintf("%s framing with %s pacing", shot.Framing, shot.Pacing))
	parts = append(parts, strings.ReplaceAll(camera.Type, "_", " ")+" camera movement")

	if in.Section != nil {
		parts = append(parts, string(in.Section.Type)+" section")
		if keywords := LyricKeywords(in.Section.Lyrics, 5); len(keywords) > 0 {
			parts = append(parts, "evoking "+strings.Join(keywords, ", "))
		}
	}

	if bpm > 0 {
		parts = append(parts, fmt.Sprintf("%s motion synced to %.0f BPM", TempoDescriptor(bpm), bpm))
	}

	return strings.Join(parts, ", ")
}

var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {},
	"but": {}, "by": {}, "for": {}, "from": {}, "i": {}, "in": {}, "is": {},
	"it": {}, "my": {}, "of": {}, "on": {}, "or": {}, "so": {}, "that": {},
	"the": {}, "to": {}, "we": {}, "with": {}, "you": {}, "your": {},
	"oh": {}, "yeah": {}, "la": {}, "na": {}, "ooh": {},
}

// LyricKeywords extracts up to max distinct content words from lyric text,
// in order of first appearance.
func LyricKeywords(lyrics string, max int) []string {
	if lyrics == "" || max <= 0 {
		return nil
	}

	seen := make(map[string]struct{})
	var keywords []string
	for _, field := range strings.Fields(lyrics) {
		word := strings.ToLower(strings.Trim(field, ".,!?;:\"'()-"))
		if len(word) < 3 {
			continue
		}
		if _, skip := stopwords[word]; skip {
			continue
		}
		if _, dup := seen[word]; dup {
			continue
		}
		seen[word] = struct{}{}
		keywords = append(keywords, word)
		if len(keywords) == max {
			break
		}
	}
	return keywords
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
