package sceneplan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beatreel/beatreel/internal/models"
)

func floatPtr(v float64) *float64 { return &v }
func strPtr(v string) *string     { return &v }

func analysisWith(bpm float64, mood *models.MoodVector, genre string) *models.SongAnalysis {
	a := &models.SongAnalysis{
		BPM:  floatPtr(bpm),
		Mood: mood,
	}
	if mood != nil {
		a.MoodTags = []string{"tagged"}
	}
	if genre != "" {
		a.Genre = strPtr(genre)
	}
	return a
}

func TestClassifyMood(t *testing.T) {
	tests := []struct {
		name string
		mood *models.MoodVector
		want string
	}{
		{"nil vector", nil, MoodNeutral},
		{"energetic high valence", &models.MoodVector{Energy: 0.8, Valence: 0.7}, MoodEnergetic},
		{"energetic low valence", &models.MoodVector{Energy: 0.8, Valence: 0.2}, MoodIntense},
		{"tense", &models.MoodVector{Energy: 0.6, Valence: 0.5, Tension: 0.8}, MoodIntense},
		{"calm", &models.MoodVector{Energy: 0.2, Valence: 0.6}, MoodCalm},
		{"melancholic", &models.MoodVector{Energy: 0.3, Valence: 0.2}, MoodMelancholic},
		{"middle of the road", &models.MoodVector{Energy: 0.5, Valence: 0.5}, MoodNeutral},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := &models.SongAnalysis{Mood: tt.mood}
			assert.Equal(t, tt.want, classifyMood(a))
		})
	}
}

func TestPlan_PaletteFollowsMood(t *testing.T) {
	in := Input{
		Segment:  models.PlannedClip{StartSec: 10, EndSec: 15},
		Analysis: analysisWith(128, &models.MoodVector{Energy: 0.8, Valence: 0.7}, "pop"),
	}

	plan := Plan(in)
	assert.Equal(t, "vibrant", plan.Palette.Name)
	assert.Equal(t, "#FF3D7F", plan.Palette.Primary)
	assert.NotEmpty(t, plan.Palette.Secondary)
	assert.NotEmpty(t, plan.Palette.Accent)
}

func TestPlan_CameraPresetByGenre(t *testing.T) {
	mood := &models.MoodVector{Energy: 0.8, Valence: 0.7}

	electronic := Plan(Input{Analysis: analysisWith(140, mood, "electronic")})
	assert.Equal(t, "fast_zoom", electronic.Camera.Type)

	ambient := Plan(Input{Analysis: analysisWith(70, mood, "ambient")})
	assert.Equal(t, "slow_pan", ambient.Camera.Type)

	unknown := Plan(Input{Analysis: analysisWith(120, mood, "polka")})
	assert.Equal(t, defaultCamera.Type, unknown.Camera.Type)
}

func TestPlan_CameraSpeedScalesWithTempo(t *testing.T) {
	mood := &models.MoodVector{Energy: 0.5, Valence: 0.5}

	slow := Plan(Input{Analysis: analysisWith(80, mood, "electronic")})
	fast := Plan(Input{Analysis: analysisWith(150, mood, "electronic")})
	assert.Less(t, slow.Camera.Speed, fast.Camera.Speed)

	capped := Plan(Input{Analysis: analysisWith(200, mood, "electronic")})
	assert.Equal(t, 2.0, capped.Camera.Speed)
}

func TestPlan_ShotPatternBySection(t *testing.T) {
	tests := []struct {
		section models.SectionType
		pacing  string
	}{
		{models.SectionTypeIntro, "slow"},
		{models.SectionTypeChorus, "fast"},
		{models.SectionTypeDrop, "very_fast"},
		{models.SectionTypeOutro, "slow"},
	}

	for _, tt := range tests {
		t.Run(string(tt.section), func(t *testing.T) {
			plan := Plan(Input{
				Analysis: analysisWith(120, nil, ""),
				Section:  &models.Section{Type: tt.section},
			})
			assert.Equal(t, tt.pacing, plan.Shot.Pacing)
		})
	}

	t.Run("outro fades out", func(t *testing.T) {
		plan := Plan(Input{Section: &models.Section{Type: models.SectionTypeOutro}})
		assert.Equal(t, "fade_out", plan.Shot.Transition)
	})

	t.Run("no section uses default", func(t *testing.T) {
		plan := Plan(Input{Analysis: analysisWith(120, nil, "")})
		assert.Equal(t, defaultShot, plan.Shot)
	})
}

func TestPlan_IntensityBounds(t *testing.T) {
	drop := Plan(Input{
		Analysis: analysisWith(150, &models.MoodVector{Energy: 1.0, Valence: 0.8}, ""),
		Section:  &models.Section{Type: models.SectionTypeDrop},
	})
	intro := Plan(Input{
		Analysis: analysisWith(80, &models.MoodVector{Energy: 0.1, Valence: 0.5}, ""),
		Section:  &models.Section{Type: models.SectionTypeIntro},
	})

	assert.Greater(t, drop.Intensity, intro.Intensity)
	for _, p := range []ScenePlan{drop, intro} {
		assert.GreaterOrEqual(t, p.Intensity, 0.0)
		assert.LessOrEqual(t, p.Intensity, 1.0)
	}
}

func TestTempoDescriptor(t *testing.T) {
	assert.Equal(t, "slow, flowing", TempoDescriptor(85))
	assert.Equal(t, "steady, moderate", TempoDescriptor(110))
	assert.Equal(t, "energetic, driving", TempoDescriptor(145))
	assert.Equal(t, "frenetic, rapid", TempoDescriptor(175))
	assert.Equal(t, "steady", TempoDescriptor(0))
}

func TestLyricKeywords(t *testing.T) {
	t.Run("strips stopwords and duplicates", func(t *testing.T) {
		got := LyricKeywords("Running through the midnight city, running with the neon lights", 5)
		assert.Equal(t, []string{"running", "through", "midnight", "city", "neon"}, got)
	})

	t.Run("respects max", func(t *testing.T) {
		got := LyricKeywords("fire water earth wind storm thunder", 3)
		assert.Len(t, got, 3)
	})

	t.Run("empty lyrics", func(t *testing.T) {
		assert.Nil(t, LyricKeywords("", 5))
	})
}

func TestPlan_PromptContents(t *testing.T) {
	in := Input{
		Segment: models.PlannedClip{StartSec: 40, EndSec: 45.5},
		Section: &models.Section{
			Type:   models.SectionTypeChorus,
			Lyrics: "dancing under electric skies",
		},
		Analysis:          analysisWith(128, &models.MoodVector{Energy: 0.8, Valence: 0.7}, "electronic"),
		BaseStyle:         "neon-soaked anime illustration",
		ReferenceImageURL: "http://localhost/files/songs/x/character/reference.jpg",
	}

	plan := Plan(in)
	require.NotEmpty(t, plan.Prompt)

	assert.Contains(t, plan.Prompt, "neon-soaked anime illustration")
	assert.Contains(t, plan.Prompt, plan.Palette.Primary)
	assert.Contains(t, plan.Prompt, "energetic mood")
	assert.Contains(t, plan.Prompt, "electronic aesthetic")
	assert.Contains(t, plan.Prompt, "chorus section")
	assert.Contains(t, plan.Prompt, "dancing")
	assert.Contains(t, plan.Prompt, "128 BPM")

	assert.InDelta(t, 5.5, plan.TargetDurationSec, 1e-9)
	assert.Equal(t, in.ReferenceImageURL, plan.ReferenceImageURL)
}

func TestPlan_Deterministic(t *testing.T) {
	in := Input{
		Segment:  models.PlannedClip{StartSec: 10, EndSec: 14},
		Section:  &models.Section{Type: models.SectionTypeVerse, Lyrics: "shadows on the wall"},
		Analysis: analysisWith(97, &models.MoodVector{Energy: 0.3, Valence: 0.2}, "folk"),
	}

	assert.Equal(t, Plan(in), Plan(in))
}
