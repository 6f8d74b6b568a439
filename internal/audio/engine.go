package audio

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/beatreel/beatreel/internal/config"
	"github.com/beatreel/beatreel/internal/models"
	"github.com/beatreel/beatreel/internal/observability"
)

// Progress milestones reported during analysis.
const (
	ProgressBeats    = 25
	ProgressSections = 50
	ProgressMood     = 70
	ProgressLyrics   = 85
	ProgressDone     = 100
)

// ProgressFunc receives analysis progress updates. Percent is monotonic
// non-decreasing.
type ProgressFunc func(stage string, percent int)

// Result is the outcome of one analysis run. The analysis record carries
// no identity; the caller assigns the song and version.
type Result struct {
	Analysis    *models.SongAnalysis
	DurationSec float64
}

// Engine runs the full audio analysis pipeline.
type Engine struct {
	decoder   *Decoder
	segmenter *Segmenter
	structure *StructureClient
	lyrics    *LyricsClient
	cfg       config.AnalysisConfig
	logger    *slog.Logger
}

// NewEngine wires the analysis pipeline from configuration. The external
// structure and lyrics clients are nil when unconfigured.
func NewEngine(cfg config.AnalysisConfig, ffmpegPath string, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	logger = observability.WithComponent(logger, "audio-engine")

	return &Engine{
		decoder:   NewDecoder(ffmpegPath, cfg.SampleRate, logger),
		segmenter: NewSegmenter(cfg.MinSectionSec),
		structure: NewStructureClient(cfg.StructureService, logger),
		lyrics:    NewLyricsClient(cfg.LyricsService, logger),
		cfg:       cfg,
		logger:    logger,
	}
}

// Analyze decodes the source at path and runs every analysis stage.
// Mood, genre and lyrics failures are non-fatal and leave their fields
// unset; a decode or segmentation failure aborts the run.
func (e *Engine) Analyze(ctx context.Context, path string, progress ProgressFunc) (*Result, error) {
	if progress == nil {
		progress = func(string, int) {}
	}

	samples, err := e.decoder.DecodeMonoPCM(ctx, path)
	if err != nil {
		return nil, err
	}
	duration := float64(len(samples)) / float64(e.decoder.SampleRate())

	grid := DetectBeats(samples, e.decoder.SampleRate())
	if len(grid.BeatTimes) == 0 {
		e.logger.Warn("beat tracking found no beats", slog.String("path", path))
	}
	progress("beat_detection", ProgressBeats)

	sections, err := e.inferSections(ctx, samples, grid, duration)
	if err != nil {
		return nil, fmt.Errorf("inferring sections: %w", err)
	}
	progress("sections", ProgressSections)

	mood := ComputeMood(samples, e.decoder.SampleRate(), grid)
	var moodTags []string
	if mood != nil {
		moodTags = MoodTags(mood)
	}
	genre := ClassifyGenre(mood, grid, samples)
	progress("mood_genre", ProgressMood)

	if e.lyrics != nil {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		words, err := e.lyrics.Transcribe(ctx, path)
		if err != nil {
			e.logger.Warn("lyric transcription failed, continuing without lyrics",
				slog.Any("error", err))
		} else {
			AlignLyrics(sections, words)
		}
	}
	progress("lyrics", ProgressLyrics)

	analysis := &models.SongAnalysis{
		BeatTimes: grid.BeatTimes,
		Sections:  sections,
		Mood:      mood,
		MoodTags:  moodTags,
		Genre:     genre,
		Waveform:  Waveform(samples, e.cfg.WaveformSamples),
	}
	if grid.BPM > 0 {
		bpm := grid.BPM
		analysis.BPM = &bpm
	}

	progress("complete", ProgressDone)
	return &Result{Analysis: analysis, DurationSec: duration}, nil
}

// inferSections tries the external structure service first and falls
// back to the internal segmenter on any failure.
func (e *Engine) inferSections(ctx context.Context, samples []float64, grid BeatGrid, duration float64) ([]models.Section, error) {
	if e.structure != nil {
		_, flux := onsetEnvelope(samples)
		req := StructureRequest{
			DurationSec:   duration,
			BPM:           grid.BPM,
			OnsetEnvelope: Waveform(flux, MinWaveformBuckets),
			FrameSec:      float64(onsetWindowSize) / float64(e.decoder.SampleRate()),
		}
		sections, err := e.structure.InferSections(ctx, req)
		if err == nil {
			return sections, nil
		}
		e.logger.Warn("structure service failed, using internal segmenter",
			slog.Any("error", err))
	}

	return e.segmenter.Segment(samples, e.decoder.SampleRate())
}
