package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/beatreel/beatreel/internal/compose"
	"github.com/beatreel/beatreel/internal/models"
	"github.com/beatreel/beatreel/internal/repository"
	"github.com/beatreel/beatreel/internal/scheduler"
	"github.com/beatreel/beatreel/internal/storage"
)

// CompositionService owns the composition lifecycle: it validates the
// preconditions, tracks the CompositionJob state machine and bridges
// job progress to the compose engine.
type CompositionService struct {
	songRepo     repository.SongRepository
	analysisRepo repository.AnalysisRepository
	planRepo     repository.ClipPlanRepository
	clipRepo     repository.ClipRepository
	compRepo     repository.CompositionRepository
	engine       *compose.Engine
	sched        *scheduler.Scheduler
	store        *storage.Store
	logger       *slog.Logger
}

// NewCompositionService creates a new CompositionService.
func NewCompositionService(
	songRepo repository.SongRepository,
	analysisRepo repository.AnalysisRepository,
	planRepo repository.ClipPlanRepository,
	clipRepo repository.ClipRepository,
	compRepo repository.CompositionRepository,
	engine *compose.Engine,
	sched *scheduler.Scheduler,
	store *storage.Store,
) *CompositionService {
	return &CompositionService{
		songRepo:     songRepo,
		analysisRepo: analysisRepo,
		planRepo:     planRepo,
		clipRepo:     clipRepo,
		compRepo:     compRepo,
		engine:       engine,
		sched:        sched,
		store:        store,
		logger:       slog.Default(),
	}
}

// WithLogger sets a custom logger.
func (s *CompositionService) WithLogger(logger *slog.Logger) *CompositionService {
	s.logger = logger
	return s
}

// RequestComposition validates preconditions, creates the composition
// record and enqueues its job. At most one non-terminal composition
// exists per song.
func (s *CompositionService) RequestComposition(ctx context.Context, songID models.ULID) (*models.CompositionJob, *models.Job, error) {
	song, err := s.songRepo.GetByID(ctx, songID)
	if err != nil {
		return nil, nil, fmt.Errorf("getting song: %w", err)
	}
	if song == nil {
		return nil, nil, models.ErrSongNotFound
	}

	plan, err := s.planRepo.GetBySongID(ctx, songID)
	if err != nil {
		return nil, nil, fmt.Errorf("getting clip plan: %w", err)
	}
	if plan == nil {
		return nil, nil, models.ErrPlanRequired
	}

	active, err := s.compRepo.FindActiveBySongID(ctx, songID)
	if err != nil {
		return nil, nil, fmt.Errorf("checking active composition: %w", err)
	}
	if active != nil {
		return nil, nil, models.ErrCompositionInProgress
	}

	clips, err := s.clipRepo.GetBySongID(ctx, songID)
	if err != nil {
		return nil, nil, fmt.Errorf("getting clips: %w", err)
	}
	ordered, err := completedClipsInPlanOrder(plan, clips)
	if err != nil {
		return nil, nil, err
	}

	clipIDs := make([]models.ULID, len(ordered))
	for i, clip := range ordered {
		clipIDs[i] = clip.ID
	}

	compJob := &models.CompositionJob{
		SongID:  songID,
		ClipIDs: clipIDs,
		Status:  models.CompositionStatusQueued,
		Step:    models.CompositionStepQueued,
	}
	if err := s.compRepo.Create(ctx, compJob); err != nil {
		return nil, nil, fmt.Errorf("creating composition: %w", err)
	}

	job, _, err := s.sched.Enqueue(ctx, models.JobTypeComposition, songID, scheduler.EnqueueOptions{
		TargetID: compJob.ID,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("enqueueing composition: %w", err)
	}

	s.logger.Info("enqueued composition",
		slog.String("song_id", songID.String()),
		slog.String("composition_id", compJob.ID.String()),
		slog.String("job_id", job.ID.String()),
		slog.Int("clips", len(clipIDs)))

	return compJob, job, nil
}

// completedClipsInPlanOrder verifies every plan entry has a completed
// clip and returns the clips in plan order.
func completedClipsInPlanOrder(plan *models.ClipPlan, clips []*models.Clip) ([]*models.Clip, error) {
	byIndex := make(map[int]*models.Clip, len(clips))
	for _, clip := range clips {
		byIndex[clip.PlanIndex] = clip
	}

	ordered := make([]*models.Clip, 0, len(plan.Entries))
	for _, entry := range plan.Entries {
		clip, ok := byIndex[entry.Index]
		if !ok || clip.Status != models.ClipStatusCompleted {
			return nil, models.ErrClipsIncomplete
		}
		ordered = append(ordered, clip)
	}
	return ordered, nil
}

// RunComposition executes the composition pipeline for one
// CompositionJob. Invoked by the job executor; mirrors every engine
// step into the composition row so clients can follow along.
func (s *CompositionService) RunComposition(ctx context.Context, songID, compositionJobID models.ULID, report scheduler.ProgressFunc, checkpoint scheduler.CheckpointFunc) (string, error) {
	compJob, err := s.compRepo.GetByID(ctx, compositionJobID)
	if err != nil {
		return "", fmt.Errorf("getting composition: %w", err)
	}
	if compJob == nil || compJob.SongID != songID {
		return "", fmt.Errorf("composition %s not found for song %s", compositionJobID, songID)
	}
	if compJob.IsTerminal() {
		return "", fmt.Errorf("composition %s already %s", compositionJobID, compJob.Status)
	}

	req, err := s.buildRequest(ctx, songID, compJob)
	if err != nil {
		s.finish(ctx, compJob, models.CompositionStatusFailed, err)
		return "", err
	}

	compJob.Status = models.CompositionStatusProcessing
	if err := s.compRepo.Update(ctx, compJob); err != nil {
		return "", fmt.Errorf("updating composition: %w", err)
	}

	progress := func(step models.CompositionStep, percent int) {
		report(string(step), percent)
		if err := s.compRepo.AdvanceStep(ctx, compJob.ID, step, percent); err != nil {
			s.logger.Warn("failed to record composition step",
				slog.String("composition_id", compJob.ID.String()),
				slog.Any("error", err))
		}
	}

	video, err := s.engine.Run(ctx, req, progress, compose.CheckpointFunc(checkpoint))
	if err != nil {
		if errors.Is(err, scheduler.ErrJobCanceled) || errors.Is(err, context.Canceled) {
			s.finish(ctx, compJob, models.CompositionStatusCanceled, nil)
		} else {
			s.finish(ctx, compJob, models.CompositionStatusFailed, err)
		}
		return "", err
	}

	if err := s.compRepo.CreateVideo(ctx, video); err != nil {
		// The artifact was uploaded; roll it back so the sweeper does
		// not have to.
		if derr := s.store.Delete(video.BlobKey); derr != nil {
			s.logger.Error("failed to delete orphaned artifact",
				slog.String("blob_key", video.BlobKey),
				slog.Any("error", derr))
		}
		s.finish(ctx, compJob, models.CompositionStatusFailed, err)
		return "", fmt.Errorf("persisting composed video: %w", err)
	}

	s.finish(ctx, compJob, models.CompositionStatusCompleted, nil)

	s.logger.Info("composition completed",
		slog.String("song_id", songID.String()),
		slog.String("composition_id", compJob.ID.String()),
		slog.String("video_id", video.ID.String()),
		slog.Float64("duration_sec", video.DurationSec),
		slog.Int64("bytes", video.ByteSize))

	return fmt.Sprintf("composed %d clips into %.1fs video %s", len(compJob.ClipIDs), video.DurationSec, video.ID), nil
}

// buildRequest assembles the engine request from the persisted state.
func (s *CompositionService) buildRequest(ctx context.Context, songID models.ULID, compJob *models.CompositionJob) (compose.Request, error) {
	song, err := s.songRepo.GetByID(ctx, songID)
	if err != nil {
		return compose.Request{}, fmt.Errorf("getting song: %w", err)
	}
	if song == nil {
		return compose.Request{}, models.ErrSongNotFound
	}

	plan, err := s.planRepo.GetBySongID(ctx, songID)
	if err != nil {
		return compose.Request{}, fmt.Errorf("getting clip plan: %w", err)
	}
	if plan == nil {
		return compose.Request{}, models.ErrPlanRequired
	}

	analysis, err := s.analysisRepo.GetLatestBySongID(ctx, songID)
	if err != nil {
		return compose.Request{}, fmt.Errorf("getting analysis: %w", err)
	}
	if analysis == nil {
		return compose.Request{}, models.ErrAnalysisRequired
	}

	clips := make([]models.Clip, 0, len(compJob.ClipIDs))
	for _, clipID := range compJob.ClipIDs {
		clip, err := s.clipRepo.GetByID(ctx, clipID)
		if err != nil {
			return compose.Request{}, fmt.Errorf("getting clip: %w", err)
		}
		if clip == nil {
			return compose.Request{}, models.ErrClipNotFound
		}
		if clip.Status != models.ClipStatusCompleted {
			return compose.Request{}, models.ErrClipsIncomplete
		}
		clips = append(clips, *clip)
	}

	audioPath, err := s.store.AbsPath(song.SourceBlobKey)
	if err != nil {
		return compose.Request{}, fmt.Errorf("locating source blob: %w", err)
	}

	start, end := song.EffectiveWindow()
	return compose.Request{
		SongID:        songID,
		JobID:         compJob.ID,
		Plan:          plan,
		Clips:         clips,
		AudioPath:     audioPath,
		AudioStartSec: start,
		AudioEndSec:   end,
		BeatTimes:     analysis.BeatTimes,
	}, nil
}

// finish records the terminal composition state. Runs with a detached
// context so cancellation does not lose the transition.
func (s *CompositionService) finish(ctx context.Context, compJob *models.CompositionJob, status models.CompositionStatus, cause error) {
	compJob.Status = status
	if status == models.CompositionStatusCompleted {
		compJob.Step = models.CompositionStepDone
		compJob.Progress = 100
		compJob.Error = ""
	}
	if cause != nil {
		compJob.Error = cause.Error()
	}
	if err := s.compRepo.Update(context.WithoutCancel(ctx), compJob); err != nil {
		s.logger.Error("failed to record composition state",
			slog.String("composition_id", compJob.ID.String()),
			slog.String("status", string(status)),
			slog.Any("error", err))
	}
}

// GetByID retrieves a composition job.
func (s *CompositionService) GetByID(ctx context.Context, id models.ULID) (*models.CompositionJob, error) {
	return s.compRepo.GetByID(ctx, id)
}

// ActiveComposition returns the non-terminal composition for a song, if any.
func (s *CompositionService) ActiveComposition(ctx context.Context, songID models.ULID) (*models.CompositionJob, error) {
	return s.compRepo.FindActiveBySongID(ctx, songID)
}

// LatestVideo returns the most recent composed video for a song plus a
// signed read URL, or a nil video when none exists.
func (s *CompositionService) LatestVideo(ctx context.Context, songID models.ULID) (*models.ComposedVideo, string, error) {
	video, err := s.compRepo.GetLatestVideoBySongID(ctx, songID)
	if err != nil {
		return nil, "", fmt.Errorf("getting composed video: %w", err)
	}
	if video == nil {
		return nil, "", nil
	}
	return video, s.store.SignedURL(video.BlobKey, time.Now()), nil
}

// Ensure CompositionService satisfies the scheduler contract at compile time.
var _ scheduler.CompositionService = (*CompositionService)(nil)
