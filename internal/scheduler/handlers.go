package scheduler

import (
	"context"
	"fmt"

	"github.com/beatreel/beatreel/internal/models"
)

// AnalysisService runs the audio analysis pipeline for a song.
type AnalysisService interface {
	RunAnalysis(ctx context.Context, songID models.ULID, report ProgressFunc, checkpoint CheckpointFunc) (string, error)
}

// ClipGenerationService drives external clip generation for a song.
type ClipGenerationService interface {
	// GenerateBatch works through every pending clip of the song.
	GenerateBatch(ctx context.Context, songID models.ULID, report ProgressFunc, checkpoint CheckpointFunc) (string, error)
	// RegenerateClip re-runs generation for a single clip.
	RegenerateClip(ctx context.Context, songID, clipID models.ULID, report ProgressFunc, checkpoint CheckpointFunc) (string, error)
}

// CompositionService runs the composition pipeline for a song.
type CompositionService interface {
	RunComposition(ctx context.Context, songID, compositionJobID models.ULID, report ProgressFunc, checkpoint CheckpointFunc) (string, error)
}

// BlobSweeper removes unreferenced blobs.
type BlobSweeper interface {
	SweepBlobs(ctx context.Context) (removed int, err error)
}

// NewSongAnalysisHandler builds the handler for song_analysis jobs.
func NewSongAnalysisHandler(svc AnalysisService) JobHandler {
	return JobHandlerFunc(func(ctx context.Context, job *models.Job, report ProgressFunc, checkpoint CheckpointFunc) (string, error) {
		return svc.RunAnalysis(ctx, job.SongID, report, checkpoint)
	})
}

// NewClipGenerationHandler builds the handler for clip_generation jobs.
func NewClipGenerationHandler(svc ClipGenerationService) JobHandler {
	return JobHandlerFunc(func(ctx context.Context, job *models.Job, report ProgressFunc, checkpoint CheckpointFunc) (string, error) {
		return svc.GenerateBatch(ctx, job.SongID, report, checkpoint)
	})
}

// NewClipRetryHandler builds the handler for clip_retry jobs. The clip
// to regenerate travels in the job's TargetID.
func NewClipRetryHandler(svc ClipGenerationService) JobHandler {
	return JobHandlerFunc(func(ctx context.Context, job *models.Job, report ProgressFunc, checkpoint CheckpointFunc) (string, error) {
		if job.TargetID.IsZero() {
			return "", fmt.Errorf("clip_retry job %s has no target clip", job.ID)
		}
		return svc.RegenerateClip(ctx, job.SongID, job.TargetID, report, checkpoint)
	})
}

// NewCompositionHandler builds the handler for composition jobs. The
// CompositionJob row travels in the job's TargetID.
func NewCompositionHandler(svc CompositionService) JobHandler {
	return JobHandlerFunc(func(ctx context.Context, job *models.Job, report ProgressFunc, checkpoint CheckpointFunc) (string, error) {
		if job.TargetID.IsZero() {
			return "", fmt.Errorf("composition job %s has no composition record", job.ID)
		}
		return svc.RunComposition(ctx, job.SongID, job.TargetID, report, checkpoint)
	})
}

// NewBlobSweepHandler builds the handler for blob_sweep jobs.
func NewBlobSweepHandler(sweeper BlobSweeper) JobHandler {
	return JobHandlerFunc(func(ctx context.Context, _ *models.Job, _ ProgressFunc, _ CheckpointFunc) (string, error) {
		removed, err := sweeper.SweepBlobs(ctx)
		if err != nil {
			return "", fmt.Errorf("sweeping blobs: %w", err)
		}
		return fmt.Sprintf("removed %d unreferenced blobs", removed), nil
	})
}
