package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/beatreel/beatreel/internal/audio"
	"github.com/beatreel/beatreel/internal/models"
	"github.com/beatreel/beatreel/internal/repository"
	"github.com/beatreel/beatreel/internal/scheduler"
	"github.com/beatreel/beatreel/internal/storage"
)

// AnalysisService owns the analysis lifecycle: it enqueues analysis
// jobs and runs the audio engine when a worker picks one up.
type AnalysisService struct {
	songRepo     repository.SongRepository
	analysisRepo repository.AnalysisRepository
	engine       *audio.Engine
	sched        *scheduler.Scheduler
	store        *storage.Store
	logger       *slog.Logger
}

// NewAnalysisService creates a new AnalysisService.
func NewAnalysisService(
	songRepo repository.SongRepository,
	analysisRepo repository.AnalysisRepository,
	engine *audio.Engine,
	sched *scheduler.Scheduler,
	store *storage.Store,
) *AnalysisService {
	return &AnalysisService{
		songRepo:     songRepo,
		analysisRepo: analysisRepo,
		engine:       engine,
		sched:        sched,
		store:        store,
		logger:       slog.Default(),
	}
}

// WithLogger sets a custom logger.
func (s *AnalysisService) WithLogger(logger *slog.Logger) *AnalysisService {
	s.logger = logger
	return s
}

// RequestAnalysis enqueues an analysis job for a song and moves the
// song's analysis state to queued. Returns the existing job when one is
// already pending or running.
func (s *AnalysisService) RequestAnalysis(ctx context.Context, songID models.ULID) (*models.Job, error) {
	song, err := s.songRepo.GetByID(ctx, songID)
	if err != nil {
		return nil, fmt.Errorf("getting song: %w", err)
	}
	if song == nil {
		return nil, models.ErrSongNotFound
	}

	job, created, err := s.sched.Enqueue(ctx, models.JobTypeSongAnalysis, songID, scheduler.EnqueueOptions{})
	if err != nil {
		return nil, fmt.Errorf("enqueueing analysis: %w", err)
	}

	if created {
		if err := s.songRepo.UpdateAnalysisState(ctx, songID, models.AnalysisStateQueued); err != nil {
			return nil, fmt.Errorf("updating analysis state: %w", err)
		}
		s.logger.Info("enqueued analysis",
			slog.String("song_id", songID.String()),
			slog.String("job_id", job.ID.String()))
	}

	return job, nil
}

// RunAnalysis executes the audio analysis pipeline for a song. It is
// invoked by the job executor and drives Song.AnalysisState through
// processing into completed or failed.
func (s *AnalysisService) RunAnalysis(ctx context.Context, songID models.ULID, report scheduler.ProgressFunc, checkpoint scheduler.CheckpointFunc) (string, error) {
	song, err := s.songRepo.GetByID(ctx, songID)
	if err != nil {
		return "", fmt.Errorf("getting song: %w", err)
	}
	if song == nil {
		return "", models.ErrSongNotFound
	}

	if err := checkpoint(); err != nil {
		s.markAborted(ctx, songID, err)
		return "", err
	}

	if err := s.songRepo.UpdateAnalysisState(ctx, songID, models.AnalysisStateProcessing); err != nil {
		return "", fmt.Errorf("updating analysis state: %w", err)
	}

	path, err := s.store.AbsPath(song.SourceBlobKey)
	if err != nil {
		s.markAborted(ctx, songID, err)
		return "", fmt.Errorf("locating source blob: %w", err)
	}

	result, err := s.engine.Analyze(ctx, path, func(stage string, percent int) {
		report(stage, percent)
	})
	if err != nil {
		s.markAborted(ctx, songID, err)
		return "", fmt.Errorf("analyzing audio: %w", err)
	}

	if err := checkpoint(); err != nil {
		s.markAborted(ctx, songID, err)
		return "", err
	}

	analysis := result.Analysis
	analysis.SongID = songID
	if err := s.analysisRepo.CreateNextVersion(ctx, analysis); err != nil {
		s.markAborted(ctx, songID, err)
		return "", fmt.Errorf("persisting analysis: %w", err)
	}

	// Duration is set once known and immutable thereafter.
	if song.DurationSec == 0 && result.DurationSec > 0 {
		song.DurationSec = result.DurationSec
		if err := s.songRepo.Update(ctx, song); err != nil {
			return "", fmt.Errorf("updating song duration: %w", err)
		}
	}

	if err := s.songRepo.UpdateAnalysisState(ctx, songID, models.AnalysisStateCompleted); err != nil {
		return "", fmt.Errorf("updating analysis state: %w", err)
	}

	bpm := 0.0
	if analysis.BPM != nil {
		bpm = *analysis.BPM
	}
	s.logger.Info("analysis completed",
		slog.String("song_id", songID.String()),
		slog.Int("version", analysis.Version),
		slog.Float64("bpm", bpm),
		slog.Int("beats", len(analysis.BeatTimes)),
		slog.Int("sections", len(analysis.Sections)))

	return fmt.Sprintf("analysis v%d: %.1f bpm, %d beats, %d sections",
		analysis.Version, bpm, len(analysis.BeatTimes), len(analysis.Sections)), nil
}

// markAborted records the terminal analysis state for an aborted run:
// idle when the run was cancelled, failed otherwise. Errors here are
// logged rather than propagated so the original error reaches the job.
func (s *AnalysisService) markAborted(ctx context.Context, songID models.ULID, cause error) {
	state := models.AnalysisStateFailed
	if errors.Is(cause, scheduler.ErrJobCanceled) {
		state = models.AnalysisStateIdle
	}
	if err := s.songRepo.UpdateAnalysisState(ctx, songID, state); err != nil {
		s.logger.Error("failed to record analysis state",
			slog.String("song_id", songID.String()),
			slog.Any("error", err))
	}
}

// GetLatest retrieves the current analysis for a song, returning
// models.ErrAnalysisNotFound when none exists.
func (s *AnalysisService) GetLatest(ctx context.Context, songID models.ULID) (*models.SongAnalysis, error) {
	analysis, err := s.analysisRepo.GetLatestBySongID(ctx, songID)
	if err != nil {
		return nil, fmt.Errorf("getting analysis: %w", err)
	}
	if analysis == nil {
		return nil, models.ErrAnalysisNotFound
	}
	return analysis, nil
}

// Ensure AnalysisService satisfies the scheduler contract at compile time.
var _ scheduler.AnalysisService = (*AnalysisService)(nil)
