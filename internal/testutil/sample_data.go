// Package testutil provides test utilities including sample data generation.
package testutil

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/beatreel/beatreel/internal/models"
)

// Standard fictional song metadata for test data.
// NEVER use real artist or track names.
var (
	SongTitles = []string{
		"midnight-circuit",
		"glass-harbor",
		"neon-undertow",
		"paper-satellites",
		"low-tide-engine",
		"afterglow-arcade",
		"static-bloom",
		"velvet-antenna",
	}

	Genres = []string{
		"electronic",
		"hip-hop",
		"rock",
		"pop",
		"ambient",
		"house",
	}

	MoodTags = []string{
		"energetic",
		"uplifting",
		"dark",
		"dreamy",
		"driving",
		"melancholic",
		"playful",
		"tense",
	}

	// SectionSequence is a typical pop structure used when generating
	// sample sections.
	SectionSequence = []models.SectionType{
		models.SectionTypeIntro,
		models.SectionTypeVerse,
		models.SectionTypeChorus,
		models.SectionTypeVerse,
		models.SectionTypeChorus,
		models.SectionTypeOutro,
	}
)

// BeatGrid returns a strictly increasing beat grid at the given BPM
// covering [0, durationSec). The first beat lands on 0.
func BeatGrid(bpm, durationSec float64) []float64 {
	if bpm <= 0 || durationSec <= 0 {
		return nil
	}
	interval := 60.0 / bpm
	var beats []float64
	for t := 0.0; t < durationSec; t += interval {
		beats = append(beats, t)
	}
	return beats
}

// Sections returns a contiguous section cover of [0, durationSec] using
// the standard sequence. Every section gets an equal share.
func Sections(durationSec float64) []models.Section {
	n := len(SectionSequence)
	share := durationSec / float64(n)
	sections := make([]models.Section, n)
	for i, st := range SectionSequence {
		sections[i] = models.Section{
			StartSec:   float64(i) * share,
			EndSec:     float64(i+1) * share,
			Type:       st,
			Confidence: 0.9,
			Label:      string(st),
		}
	}
	// Guard against float accumulation at the boundary.
	sections[n-1].EndSec = durationSec
	return sections
}

// SampleDataGenerator generates realistic but fictional song data for testing.
type SampleDataGenerator struct {
	rng *rand.Rand
}

// NewSampleDataGenerator creates a new sample data generator with a random seed.
func NewSampleDataGenerator() *SampleDataGenerator {
	return &SampleDataGenerator{
		rng: rand.New(rand.NewSource(rand.Int63())),
	}
}

// NewSampleDataGeneratorWithSeed creates a new generator with a fixed seed for reproducibility.
func NewSampleDataGeneratorWithSeed(seed int64) *SampleDataGenerator {
	return &SampleDataGenerator{
		rng: rand.New(rand.NewSource(seed)),
	}
}

// RandomTitle returns a random fictional song title.
func (g *SampleDataGenerator) RandomTitle() string {
	return SongTitles[g.rng.Intn(len(SongTitles))]
}

// RandomGenre returns a random genre label.
func (g *SampleDataGenerator) RandomGenre() string {
	return Genres[g.rng.Intn(len(Genres))]
}

// RandomMoodTags returns n distinct mood tags.
func (g *SampleDataGenerator) RandomMoodTags(n int) []string {
	if n > len(MoodTags) {
		n = len(MoodTags)
	}
	perm := g.rng.Perm(len(MoodTags))
	tags := make([]string, n)
	for i := 0; i < n; i++ {
		tags[i] = MoodTags[perm[i]]
	}
	return tags
}

// Song returns an unsaved song with a fictional title and source blob key.
func (g *SampleDataGenerator) Song(durationSec float64) *models.Song {
	title := g.RandomTitle()
	return &models.Song{
		Title:         title,
		SourceBlobKey: fmt.Sprintf("songs/test/%s.mp3", title),
		SourceFormat:  "mp3",
		DurationSec:   durationSec,
		AnalysisState: models.AnalysisStateIdle,
	}
}

// Analysis returns an unsaved analysis for the song: a 120 BPM beat grid,
// a standard section sequence, a mood vector with tags, a genre and a
// waveform summary.
func (g *SampleDataGenerator) Analysis(songID models.ULID, durationSec float64) *models.SongAnalysis {
	bpm := 120.0
	genre := g.RandomGenre()
	mood := &models.MoodVector{
		Energy:       g.rng.Float64(),
		Valence:      g.rng.Float64(),
		Danceability: g.rng.Float64(),
		Tension:      g.rng.Float64(),
	}
	return &models.SongAnalysis{
		SongID:    songID,
		Version:   1,
		BPM:       &bpm,
		BeatTimes: BeatGrid(bpm, durationSec),
		Sections:  Sections(durationSec),
		Mood:      mood,
		MoodTags:  g.RandomMoodTags(2),
		Genre:     &genre,
		Waveform:  g.Waveform(1024),
	}
}

// Waveform returns n amplitude buckets in [0,1] shaped like a song:
// quiet edges, louder middle, with some noise.
func (g *SampleDataGenerator) Waveform(n int) []float64 {
	buckets := make([]float64, n)
	for i := range buckets {
		pos := float64(i) / float64(n)
		envelope := math.Sin(pos * math.Pi)
		noise := g.rng.Float64() * 0.2
		buckets[i] = math.Min(1.0, envelope*0.8+noise)
	}
	return buckets
}

// Plan returns an unsaved clip plan partitioning [0, durationSec] into
// equal beat-aligned windows at the analysis BPM.
func (g *SampleDataGenerator) Plan(songID models.ULID, durationSec float64, clipCount, fps int) *models.ClipPlan {
	beatInterval := 0.5 // 120 BPM
	beatsPerClip := int(durationSec / beatInterval / float64(clipCount))
	if beatsPerClip < 1 {
		beatsPerClip = 1
	}

	entries := make([]models.PlannedClip, clipCount)
	for i := 0; i < clipCount; i++ {
		startBeat := i * beatsPerClip
		endBeat := (i + 1) * beatsPerClip
		start := float64(startBeat) * beatInterval
		end := float64(endBeat) * beatInterval
		if i == clipCount-1 {
			end = durationSec
		}
		entries[i] = models.PlannedClip{
			Index:       i,
			StartSec:    start,
			EndSec:      end,
			StartBeat:   startBeat,
			EndBeat:     endBeat,
			StartFrame:  int(math.Round(start * float64(fps))),
			EndFrame:    int(math.Round(end * float64(fps))),
			BeatsInClip: endBeat - startBeat,
		}
	}

	return &models.ClipPlan{
		SongID:    songID,
		TargetFPS: fps,
		Entries:   entries,
		Status:    "valid",
	}
}

// Clips returns unsaved queued clips matching the plan entries.
func (g *SampleDataGenerator) Clips(songID models.ULID, plan *models.ClipPlan) []*models.Clip {
	clips := make([]*models.Clip, len(plan.Entries))
	for i, entry := range plan.Entries {
		clips[i] = &models.Clip{
			SongID:    songID,
			PlanIndex: entry.Index,
			Prompt:    fmt.Sprintf("%s scene, %s mood, section %d", g.RandomGenre(), MoodTags[i%len(MoodTags)], i),
			Seed:      g.rng.Int63(),
			Frames:    entry.FrameCount(),
			FPS:       plan.TargetFPS,
			Status:    models.ClipStatusQueued,
		}
	}
	return clips
}
