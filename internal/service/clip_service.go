package service

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"math"
	"math/rand"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/beatreel/beatreel/internal/beatalign"
	"github.com/beatreel/beatreel/internal/config"
	"github.com/beatreel/beatreel/internal/ffmpeg"
	"github.com/beatreel/beatreel/internal/generator"
	"github.com/beatreel/beatreel/internal/models"
	"github.com/beatreel/beatreel/internal/repository"
	"github.com/beatreel/beatreel/internal/sceneplan"
	"github.com/beatreel/beatreel/internal/scheduler"
	"github.com/beatreel/beatreel/internal/storage"
)

// Coordinator defaults applied when configuration leaves them unset.
const (
	defaultMinClipSec         = 3.0
	defaultMaxClipSec         = 6.0
	defaultConcurrencyPerSong = 4
	defaultMaxAttempts        = 3
	defaultInitialBackoff     = 2 * time.Second
	defaultBackoffMultiplier  = 2.0
)

// mediaProber verifies generated results. Satisfied by ffmpeg.Prober.
type mediaProber interface {
	ProbeMedia(ctx context.Context, target string) (*ffmpeg.MediaInfo, error)
}

// ClipService coordinates clip planning and external generation: it
// builds the beat-aligned plan with per-clip prompts, drives generation
// with a per-song concurrency cap, and aggregates status.
type ClipService struct {
	planning config.PlanningConfig
	genCfg   config.GeneratorConfig
	retryCfg config.RetryConfig
	workers  config.WorkersConfig
	compCfg  config.CompositionConfig

	songRepo     repository.SongRepository
	analysisRepo repository.AnalysisRepository
	planRepo     repository.ClipPlanRepository
	clipRepo     repository.ClipRepository
	compRepo     repository.CompositionRepository

	gen    generator.Client
	prober mediaProber
	sched  *scheduler.Scheduler
	store  *storage.Store
	logger *slog.Logger
}

// NewClipService creates a new ClipService.
func NewClipService(
	cfg *config.Config,
	songRepo repository.SongRepository,
	analysisRepo repository.AnalysisRepository,
	planRepo repository.ClipPlanRepository,
	clipRepo repository.ClipRepository,
	compRepo repository.CompositionRepository,
	gen generator.Client,
	ffprobePath string,
	sched *scheduler.Scheduler,
	store *storage.Store,
) *ClipService {
	s := &ClipService{
		planning:     cfg.Planning,
		genCfg:       cfg.Generator,
		retryCfg:     cfg.Retry,
		workers:      cfg.Workers,
		compCfg:      cfg.Composition,
		songRepo:     songRepo,
		analysisRepo: analysisRepo,
		planRepo:     planRepo,
		clipRepo:     clipRepo,
		compRepo:     compRepo,
		gen:          gen,
		prober:       ffmpeg.NewProber(ffprobePath),
		sched:        sched,
		store:        store,
		logger:       slog.Default(),
	}
	if s.planning.MinClipSec <= 0 {
		s.planning.MinClipSec = defaultMinClipSec
	}
	if s.planning.MaxClipSec <= 0 {
		s.planning.MaxClipSec = defaultMaxClipSec
	}
	if s.genCfg.ConcurrencyPerSong <= 0 {
		s.genCfg.ConcurrencyPerSong = defaultConcurrencyPerSong
	}
	if s.retryCfg.MaxAttempts <= 0 {
		s.retryCfg.MaxAttempts = defaultMaxAttempts
	}
	if s.retryCfg.InitialBackoff <= 0 {
		s.retryCfg.InitialBackoff = defaultInitialBackoff
	}
	if s.retryCfg.BackoffMultiplier <= 0 {
		s.retryCfg.BackoffMultiplier = defaultBackoffMultiplier
	}
	if s.compCfg.TargetFPS <= 0 {
		s.compCfg.TargetFPS = 24
	}
	return s
}

// WithLogger sets a custom logger.
func (s *ClipService) WithLogger(logger *slog.Logger) *ClipService {
	s.logger = logger
	return s
}

// Boundaries computes beat-aligned clip boundaries for the song's
// effective window at the given fps, without persisting anything.
func (s *ClipService) Boundaries(ctx context.Context, songID models.ULID, fps int) (beatalign.Plan, error) {
	song, analysis, err := s.songWithAnalysis(ctx, songID)
	if err != nil {
		return beatalign.Plan{}, err
	}

	start, end := song.EffectiveWindow()
	return beatalign.Align(analysis.BeatTimes, start, end, beatalign.Config{
		MinClipSec: s.planning.MinClipSec,
		MaxClipSec: s.planning.MaxClipSec,
		TargetFPS:  fps,
	})
}

// GetPlan returns the song's current clip plan.
func (s *ClipService) GetPlan(ctx context.Context, songID models.ULID) (*models.ClipPlan, error) {
	plan, err := s.planRepo.GetBySongID(ctx, songID)
	if err != nil {
		return nil, fmt.Errorf("getting clip plan: %w", err)
	}
	if plan == nil {
		return nil, models.ErrPlanNotFound
	}
	return plan, nil
}

// Clips returns the song's clips ordered by plan index.
func (s *ClipService) Clips(ctx context.Context, songID models.ULID) ([]*models.Clip, error) {
	clips, err := s.clipRepo.GetBySongID(ctx, songID)
	if err != nil {
		return nil, fmt.Errorf("getting clips: %w", err)
	}
	return clips, nil
}

// Plan replaces the song's clip plan and clip rows. Completed clips
// whose boundaries still match the new plan are kept; everything else
// is deleted and re-created with fresh prompts.
func (s *ClipService) Plan(ctx context.Context, songID models.ULID, clipCount int, maxClipSec float64) (*models.ClipPlan, []*models.Clip, error) {
	song, analysis, err := s.songWithAnalysis(ctx, songID)
	if err != nil {
		return nil, nil, err
	}
	if song.VideoType == models.VideoTypeUnset {
		return nil, nil, models.ErrVideoTypeRequired
	}
	if song.VideoType == models.VideoTypeShortForm && !song.HasSelection() {
		return nil, nil, models.ErrSelectionRequired
	}

	start, end := song.EffectiveWindow()
	cfg := beatalign.Config{
		MinClipSec: s.planning.MinClipSec,
		MaxClipSec: s.planning.MaxClipSec,
		TargetFPS:  s.compCfg.TargetFPS,
	}
	if maxClipSec > 0 {
		cfg.MaxClipSec = math.Max(maxClipSec, cfg.MinClipSec)
	}
	// A requested clip count translates to a duration target; the
	// planner itself stays beat-driven.
	if clipCount > 0 {
		desired := (end - start) / float64(clipCount)
		cfg.MaxClipSec = math.Min(cfg.MaxClipSec, math.Max(desired, cfg.MinClipSec))
	}

	aligned, err := beatalign.Align(analysis.BeatTimes, start, end, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("aligning clip boundaries: %w", err)
	}

	plan := &models.ClipPlan{
		SongID:               songID,
		TargetFPS:            cfg.TargetFPS,
		Entries:              make([]models.PlannedClip, len(aligned.Segments)),
		MaxAlignmentErrorSec: aligned.MaxAlignmentErrorSec,
		AvgAlignmentErrorSec: aligned.AvgAlignmentErrorSec,
		Status:               aligned.Status,
	}
	for i, seg := range aligned.Segments {
		plan.Entries[i] = models.PlannedClip{
			Index:       seg.Index,
			StartSec:    seg.StartSec,
			EndSec:      seg.EndSec,
			StartBeat:   seg.StartBeat,
			EndBeat:     seg.EndBeat,
			StartFrame:  seg.StartFrame,
			EndFrame:    seg.EndFrame,
			BeatsInClip: seg.BeatsInClip,
		}
	}

	if err := s.planRepo.Replace(ctx, plan); err != nil {
		return nil, nil, fmt.Errorf("replacing clip plan: %w", err)
	}

	clips, err := s.reconcileClips(ctx, song, analysis, plan)
	if err != nil {
		return nil, nil, err
	}

	s.logger.Info("planned clips",
		slog.String("song_id", songID.String()),
		slog.Int("entries", len(plan.Entries)),
		slog.Float64("max_alignment_error_sec", plan.MaxAlignmentErrorSec),
		slog.String("status", plan.Status))

	return plan, clips, nil
}

// reconcileClips deletes clips invalidated by a new plan and creates
// rows for entries that lack one. Completed clips survive only when
// their plan slot and frame budget are unchanged.
func (s *ClipService) reconcileClips(ctx context.Context, song *models.Song, analysis *models.SongAnalysis, plan *models.ClipPlan) ([]*models.Clip, error) {
	existing, err := s.clipRepo.GetBySongID(ctx, song.ID)
	if err != nil {
		return nil, fmt.Errorf("getting clips: %w", err)
	}

	kept := make(map[int]*models.Clip)
	for _, clip := range existing {
		keep := false
		if clip.Status == models.ClipStatusCompleted && clip.PlanIndex < len(plan.Entries) {
			entry := plan.Entries[clip.PlanIndex]
			keep = clip.Frames == entry.FrameCount() && clip.FPS == plan.TargetFPS
		}
		if keep {
			kept[clip.PlanIndex] = clip
			continue
		}
		if err := s.clipRepo.Delete(ctx, clip.ID); err != nil {
			return nil, fmt.Errorf("deleting stale clip: %w", err)
		}
	}

	refURL := s.referenceImageURL(song)
	var created []*models.Clip
	for _, entry := range plan.Entries {
		if _, ok := kept[entry.Index]; ok {
			continue
		}
		scene := sceneplan.Plan(sceneplan.Input{
			Segment:           entry,
			Section:           analysis.SectionAt(entry.StartSec),
			Analysis:          analysis,
			ReferenceImageURL: refURL,
		})
		created = append(created, &models.Clip{
			SongID:    song.ID,
			PlanIndex: entry.Index,
			Prompt:    scene.Prompt,
			Seed:      clipSeed(song.ID, entry.Index),
			Frames:    entry.FrameCount(),
			FPS:       plan.TargetFPS,
			Status:    models.ClipStatusQueued,
		})
	}
	if len(created) > 0 {
		if err := s.clipRepo.CreateBatch(ctx, created); err != nil {
			return nil, fmt.Errorf("creating clips: %w", err)
		}
	}

	all := make([]*models.Clip, 0, len(kept)+len(created))
	for _, clip := range kept {
		all = append(all, clip)
	}
	all = append(all, created...)
	return all, nil
}

// clipSeed derives a stable per-clip generation seed so replanning an
// unchanged song reproduces the same clips.
func clipSeed(songID models.ULID, index int) int64 {
	h := fnv.New64a()
	fmt.Fprintf(h, "%s:%d", songID, index)
	return int64(h.Sum64() & math.MaxInt64)
}

// referenceImageURL returns a signed URL for the song's character
// reference image, or empty when none was uploaded.
func (s *ClipService) referenceImageURL(song *models.Song) string {
	if song.CharacterBlobKey == "" {
		return ""
	}
	return s.store.SignedURL(song.CharacterBlobKey, time.Now())
}

// RequestGeneration enqueues a batch generation job covering every
// pending clip of the song. Returns the existing job when one is
// already pending or running.
func (s *ClipService) RequestGeneration(ctx context.Context, songID models.ULID) (*models.Job, bool, error) {
	plan, err := s.planRepo.GetBySongID(ctx, songID)
	if err != nil {
		return nil, false, fmt.Errorf("getting clip plan: %w", err)
	}
	if plan == nil {
		return nil, false, models.ErrPlanRequired
	}

	job, created, err := s.sched.Enqueue(ctx, models.JobTypeClipGeneration, songID, scheduler.EnqueueOptions{
		Queue: s.workers.QueueName(models.QueueClipGeneration),
	})
	if err != nil {
		return nil, false, fmt.Errorf("enqueueing generation: %w", err)
	}
	return job, created, nil
}

// ActiveBatchJob returns the pending or running batch generation job
// for a song, or nil when none exists.
func (s *ClipService) ActiveBatchJob(ctx context.Context, songID models.ULID) (*models.Job, error) {
	return s.sched.FindPending(ctx, models.JobTypeClipGeneration, songID)
}

// RetryClip resets a failed or canceled clip to queued and enqueues a
// single-clip regeneration job.
func (s *ClipService) RetryClip(ctx context.Context, songID, clipID models.ULID) (*models.Clip, *models.Job, error) {
	clip, err := s.clipRepo.GetByID(ctx, clipID)
	if err != nil {
		return nil, nil, fmt.Errorf("getting clip: %w", err)
	}
	if clip == nil || clip.SongID != songID {
		return nil, nil, models.ErrClipNotFound
	}
	if !clip.IsRetryable() {
		return nil, nil, models.ErrClipNotRetryable
	}

	clip.ResetForRetry()
	if err := s.clipRepo.Update(ctx, clip); err != nil {
		return nil, nil, fmt.Errorf("updating clip: %w", err)
	}

	job, _, err := s.sched.Enqueue(ctx, models.JobTypeClipRetry, songID, scheduler.EnqueueOptions{
		Queue:    s.workers.QueueName(models.QueueClipGeneration),
		TargetID: clipID,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("enqueueing retry: %w", err)
	}

	s.logger.Info("enqueued clip retry",
		slog.String("song_id", songID.String()),
		slog.String("clip_id", clipID.String()),
		slog.String("job_id", job.ID.String()))

	return clip, job, nil
}

// GenerationStatus aggregates clip progress for a song.
type GenerationStatus struct {
	Total     int                       `json:"total"`
	Completed int                       `json:"completed"`
	Counts    map[models.ClipStatus]int `json:"counts"`
	VideoURL  string                    `json:"video_url,omitempty"`
}

// Status aggregates per-status clip counts and the current composed
// video URL, if any.
func (s *ClipService) Status(ctx context.Context, songID models.ULID) (*GenerationStatus, error) {
	clips, err := s.clipRepo.GetBySongID(ctx, songID)
	if err != nil {
		return nil, fmt.Errorf("getting clips: %w", err)
	}

	status := &GenerationStatus{
		Total:  len(clips),
		Counts: make(map[models.ClipStatus]int),
	}
	for _, clip := range clips {
		status.Counts[clip.Status]++
		if clip.Status == models.ClipStatusCompleted {
			status.Completed++
		}
	}

	video, err := s.compRepo.GetLatestVideoBySongID(ctx, songID)
	if err != nil {
		return nil, fmt.Errorf("getting composed video: %w", err)
	}
	if video != nil {
		status.VideoURL = s.store.SignedURL(video.BlobKey, time.Now())
	}

	return status, nil
}

// GenerateBatch works through every pending clip of the song with a
// bounded worker group. Individual clip failures are recorded on the
// clip row; only cancellation aborts the batch.
func (s *ClipService) GenerateBatch(ctx context.Context, songID models.ULID, report scheduler.ProgressFunc, checkpoint scheduler.CheckpointFunc) (string, error) {
	song, err := s.songRepo.GetByID(ctx, songID)
	if err != nil {
		return "", fmt.Errorf("getting song: %w", err)
	}
	if song == nil {
		return "", models.ErrSongNotFound
	}

	if err := s.recoverOrphanedClaims(ctx, songID); err != nil {
		return "", err
	}
	if err := s.requeueRetryable(ctx, songID); err != nil {
		return "", err
	}

	refURL := s.referenceImageURL(song)

	for {
		if err := checkpoint(); err != nil {
			return "", err
		}

		clips, err := s.clipRepo.GetBySongID(ctx, songID)
		if err != nil {
			return "", fmt.Errorf("getting clips: %w", err)
		}
		if len(clips) == 0 {
			return "", models.ErrPlanRequired
		}

		var queued, resumable, active []*models.Clip
		completed := 0
		for _, clip := range clips {
			switch clip.Status {
			case models.ClipStatusQueued:
				queued = append(queued, clip)
			case models.ClipStatusProcessing:
				// A processing clip with a stored provider id is an
				// orphaned submission from a crashed worker; resume
				// polling it. Without one, another worker is mid-claim.
				if clip.ExternalJobID != "" {
					resumable = append(resumable, clip)
				} else {
					active = append(active, clip)
				}
			case models.ClipStatusCompleted:
				completed++
			}
		}

		if percent := completed * 100 / len(clips); percent < 100 {
			report("generating", percent)
		}

		if len(queued) == 0 && len(resumable) == 0 {
			if len(active) > 0 {
				// Clips claimed by another worker; wait for them to settle.
				if err := sleepCtx(ctx, s.pollInterval()); err != nil {
					return "", err
				}
				continue
			}
			failed := len(clips) - completed
			report("generating", 100)
			if failed > 0 {
				return fmt.Sprintf("generated %d/%d clips, %d failed", completed, len(clips), failed), nil
			}
			return fmt.Sprintf("generated %d/%d clips", completed, len(clips)), nil
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(s.genCfg.ConcurrencyPerSong)
		for _, clip := range resumable {
			g.Go(func() error {
				return s.awaitResult(gctx, clip, checkpoint)
			})
		}
		for _, clip := range queued {
			g.Go(func() error {
				return s.generateClip(gctx, clip, refURL, checkpoint)
			})
		}
		if err := g.Wait(); err != nil {
			return "", err
		}
	}
}

// RegenerateClip re-runs generation for a single clip until it reaches
// a terminal state. A terminal failure fails the job with the clip's
// error message.
func (s *ClipService) RegenerateClip(ctx context.Context, songID, clipID models.ULID, report scheduler.ProgressFunc, checkpoint scheduler.CheckpointFunc) (string, error) {
	song, err := s.songRepo.GetByID(ctx, songID)
	if err != nil {
		return "", fmt.Errorf("getting song: %w", err)
	}
	if song == nil {
		return "", models.ErrSongNotFound
	}

	refURL := s.referenceImageURL(song)

	for {
		if err := checkpoint(); err != nil {
			return "", err
		}

		clip, err := s.clipRepo.GetByID(ctx, clipID)
		if err != nil {
			return "", fmt.Errorf("getting clip: %w", err)
		}
		if clip == nil || clip.SongID != songID {
			return "", models.ErrClipNotFound
		}

		switch clip.Status {
		case models.ClipStatusCompleted:
			report("generating", 100)
			return fmt.Sprintf("clip %d completed after %d attempts", clip.PlanIndex, clip.AttemptCount), nil
		case models.ClipStatusFailed, models.ClipStatusCanceled:
			if clip.Error != "" {
				return "", fmt.Errorf("clip %d failed: %s", clip.PlanIndex, clip.Error)
			}
			return "", fmt.Errorf("clip %d did not complete", clip.PlanIndex)
		case models.ClipStatusProcessing:
			// Orphaned claim from a crashed worker; resume or release.
			if clip.ExternalJobID == "" {
				if err := s.clipRepo.ReleaseClaim(ctx, clipID); err != nil {
					return "", fmt.Errorf("releasing orphaned claim: %w", err)
				}
				continue
			}
			if err := s.awaitResult(ctx, clip, checkpoint); err != nil {
				return "", err
			}
		default:
			report("generating", 50)
			if err := s.generateClip(ctx, clip, refURL, checkpoint); err != nil {
				return "", err
			}
		}
	}
}

// recoverOrphanedClaims resolves clips stuck in processing from a
// crashed worker: claims with a stored external job id resume polling
// later; claims without one never submitted and return to queued.
func (s *ClipService) recoverOrphanedClaims(ctx context.Context, songID models.ULID) error {
	stuck, err := s.clipRepo.GetBySongIDAndStatus(ctx, songID, models.ClipStatusProcessing)
	if err != nil {
		return fmt.Errorf("getting processing clips: %w", err)
	}
	for _, clip := range stuck {
		if clip.ExternalJobID != "" {
			continue
		}
		if err := s.clipRepo.ReleaseClaim(ctx, clip.ID); err != nil {
			return fmt.Errorf("releasing orphaned claim: %w", err)
		}
		s.logger.Warn("released orphaned clip claim",
			slog.String("clip_id", clip.ID.String()))
	}
	return nil
}

// requeueRetryable returns failed and canceled clips with remaining
// attempts to the queue, so a generate request covers them too.
func (s *ClipService) requeueRetryable(ctx context.Context, songID models.ULID) error {
	clips, err := s.clipRepo.GetBySongID(ctx, songID)
	if err != nil {
		return fmt.Errorf("getting clips: %w", err)
	}
	for _, clip := range clips {
		if !clip.IsRetryable() || clip.AttemptCount >= s.retryCfg.MaxAttempts {
			continue
		}
		clip.ResetForRetry()
		if err := s.clipRepo.Update(ctx, clip); err != nil {
			return fmt.Errorf("requeueing clip: %w", err)
		}
	}
	return nil
}

// generateClip runs one generation attempt for a queued clip: claim,
// submit, poll, verify. Retriable failures return the clip to queued
// for a later round; terminal failures are recorded on the clip.
func (s *ClipService) generateClip(ctx context.Context, clip *models.Clip, refURL string, checkpoint scheduler.CheckpointFunc) error {
	if err := checkpoint(); err != nil {
		return s.markCanceled(ctx, clip, err)
	}

	claimed, err := s.clipRepo.ClaimForGeneration(ctx, clip.ID)
	if err != nil {
		return fmt.Errorf("claiming clip: %w", err)
	}
	if !claimed {
		return nil
	}

	// The claim count includes this clip; over the cap means another
	// job got there first. Back off with jitter to avoid a stampede.
	count, err := s.clipRepo.CountBySongIDAndStatus(ctx, clip.SongID, models.ClipStatusProcessing)
	if err != nil {
		return fmt.Errorf("counting processing clips: %w", err)
	}
	if int(count) > s.genCfg.ConcurrencyPerSong {
		if err := s.clipRepo.ReleaseClaim(ctx, clip.ID); err != nil {
			return fmt.Errorf("releasing claim: %w", err)
		}
		return sleepCtx(ctx, time.Duration(200+rand.Intn(500))*time.Millisecond)
	}

	clip.AttemptCount++
	clip.Status = models.ClipStatusProcessing
	if err := s.clipRepo.Update(ctx, clip); err != nil {
		return fmt.Errorf("recording attempt: %w", err)
	}

	externalID, err := s.gen.Submit(ctx, clip.ID, clip.AttemptCount, generator.SubmitRequest{
		Prompt:            clip.Prompt,
		Frames:            clip.Frames,
		FPS:               clip.FPS,
		Seed:              clip.Seed,
		ReferenceImageURL: refURL,
	})
	if err != nil {
		// Submission failures never reached the provider; always retriable.
		return s.handleFailure(ctx, clip, err.Error(), true)
	}

	// Persist the provider job id before polling so a restarted worker
	// resumes instead of resubmitting.
	if err := s.clipRepo.SetExternalJobID(ctx, clip.ID, externalID); err != nil {
		return fmt.Errorf("storing external job id: %w", err)
	}
	clip.ExternalJobID = externalID

	return s.awaitResult(ctx, clip, checkpoint)
}

// awaitResult polls the provider until the generation finishes, then
// verifies and records the outcome.
func (s *ClipService) awaitResult(ctx context.Context, clip *models.Clip, checkpoint scheduler.CheckpointFunc) error {
	result, err := generator.Await(ctx, s.gen, clip.ExternalJobID, s.genCfg.PollInterval, s.genCfg.GenerationTimeout, checkpoint)
	if err != nil {
		if errors.Is(err, scheduler.ErrJobCanceled) || errors.Is(err, context.Canceled) {
			return s.markCanceled(ctx, clip, err)
		}
		if errors.Is(err, generator.ErrJobNotFound) {
			// The provider lost the job; resubmit on the next round.
			return s.handleFailure(ctx, clip, "generation job vanished from provider", true)
		}
		return s.handleFailure(ctx, clip, err.Error(), true)
	}

	switch result.Status {
	case generator.StatusSucceeded:
		return s.recordSuccess(ctx, clip, result.ResultURL)
	case generator.StatusTimedOut:
		// Timeouts are retriable on the first two attempts, fatal after.
		return s.handleFailure(ctx, clip, "generation timed out", clip.AttemptCount <= 2)
	default:
		return s.handleFailure(ctx, clip, result.Error, isRetriableProviderError(result.Error))
	}
}

// recordSuccess probes the generated video and marks the clip
// completed. A result that fails verification counts as a retriable
// provider failure.
func (s *ClipService) recordSuccess(ctx context.Context, clip *models.Clip, resultURL string) error {
	info, err := s.prober.ProbeMedia(ctx, resultURL)
	if err != nil {
		return s.handleFailure(ctx, clip, fmt.Sprintf("probing result: %v", err), true)
	}
	if !info.HasVideo || !clip.DurationWithinTolerance(info.DurationSec) {
		return s.handleFailure(ctx, clip,
			fmt.Sprintf("result duration %.3fs outside tolerance of %.3fs", info.DurationSec, clip.RequestedDurationSec()),
			true)
	}

	clip.Status = models.ClipStatusCompleted
	clip.ResultURL = resultURL
	clip.ResultWidth = info.Width
	clip.ResultHeight = info.Height
	clip.ResultFPS = info.FPS
	clip.Error = ""
	if err := s.clipRepo.Update(ctx, clip); err != nil {
		return fmt.Errorf("recording clip result: %w", err)
	}

	s.logger.Info("clip generated",
		slog.String("clip_id", clip.ID.String()),
		slog.Int("plan_index", clip.PlanIndex),
		slog.Int("attempt", clip.AttemptCount),
		slog.Float64("duration_sec", info.DurationSec))

	return nil
}

// handleFailure records a generation failure. Retriable failures with
// remaining attempts return the clip to queued after a backoff wait;
// everything else marks the clip failed.
func (s *ClipService) handleFailure(ctx context.Context, clip *models.Clip, message string, retriable bool) error {
	if retriable && clip.AttemptCount < s.retryCfg.MaxAttempts {
		clip.ResetForRetry()
		if err := s.clipRepo.Update(ctx, clip); err != nil {
			return fmt.Errorf("requeueing clip: %w", err)
		}
		s.logger.Warn("clip generation failed, will retry",
			slog.String("clip_id", clip.ID.String()),
			slog.Int("attempt", clip.AttemptCount),
			slog.String("error", message))
		return sleepCtx(ctx, s.backoff(clip.AttemptCount))
	}

	clip.Status = models.ClipStatusFailed
	clip.Error = message
	if err := s.clipRepo.Update(ctx, clip); err != nil {
		return fmt.Errorf("recording clip failure: %w", err)
	}

	s.logger.Error("clip generation failed",
		slog.String("clip_id", clip.ID.String()),
		slog.Int("attempt", clip.AttemptCount),
		slog.String("error", message))

	return nil
}

// markCanceled marks an in-flight clip canceled and propagates the
// cancellation to the caller.
func (s *ClipService) markCanceled(ctx context.Context, clip *models.Clip, cause error) error {
	if clip.Status == models.ClipStatusProcessing {
		clip.Status = models.ClipStatusCanceled
		if err := s.clipRepo.Update(context.WithoutCancel(ctx), clip); err != nil {
			s.logger.Error("failed to mark clip canceled",
				slog.String("clip_id", clip.ID.String()),
				slog.Any("error", err))
		}
	}
	return cause
}

// backoff computes the exponential retry delay for an attempt number.
func (s *ClipService) backoff(attempt int) time.Duration {
	d := float64(s.retryCfg.InitialBackoff)
	for i := 1; i < attempt; i++ {
		d *= s.retryCfg.BackoffMultiplier
	}
	return time.Duration(d)
}

func (s *ClipService) pollInterval() time.Duration {
	if s.genCfg.PollInterval > 0 {
		return s.genCfg.PollInterval
	}
	return 4 * time.Second
}

// songWithAnalysis loads a song and its latest analysis, enforcing the
// analysis precondition shared by planning operations.
func (s *ClipService) songWithAnalysis(ctx context.Context, songID models.ULID) (*models.Song, *models.SongAnalysis, error) {
	song, err := s.songRepo.GetByID(ctx, songID)
	if err != nil {
		return nil, nil, fmt.Errorf("getting song: %w", err)
	}
	if song == nil {
		return nil, nil, models.ErrSongNotFound
	}

	analysis, err := s.analysisRepo.GetLatestBySongID(ctx, songID)
	if err != nil {
		return nil, nil, fmt.Errorf("getting analysis: %w", err)
	}
	if analysis == nil {
		return nil, nil, models.ErrAnalysisRequired
	}
	return song, analysis, nil
}

// isRetriableProviderError classifies a provider failure message.
// Throttling and upstream faults retry; prompt and moderation failures
// are permanent.
func isRetriableProviderError(message string) bool {
	m := strings.ToLower(message)
	for _, marker := range []string{
		"timeout", "timed out", "rate limit", "too many requests",
		"429", "500", "502", "503", "504",
		"internal error", "unavailable", "connection", "try again",
	} {
		if strings.Contains(m, marker) {
			return true
		}
	}
	return false
}

// sleepCtx sleeps for d or until the context is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Ensure ClipService satisfies the scheduler contract at compile time.
var _ scheduler.ClipGenerationService = (*ClipService)(nil)
