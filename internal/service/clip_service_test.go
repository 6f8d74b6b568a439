package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beatreel/beatreel/internal/config"
	"github.com/beatreel/beatreel/internal/ffmpeg"
	"github.com/beatreel/beatreel/internal/generator"
	"github.com/beatreel/beatreel/internal/models"
	"github.com/beatreel/beatreel/internal/scheduler"
)

// fakeProvider doubles as the generation client and the result prober.
// The default outcome succeeds with a result of exactly the requested
// duration; tests override outcome to inject failures.
type fakeProvider struct {
	mu        sync.Mutex
	submits   map[string]int
	jobs      map[string]generator.PollResult
	durations map[string]float64
	outcome   func(clipID models.ULID, attempt int, req generator.SubmitRequest) generator.PollResult
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		submits:   make(map[string]int),
		jobs:      make(map[string]generator.PollResult),
		durations: make(map[string]float64),
	}
}

func (f *fakeProvider) Submit(_ context.Context, clipID models.ULID, attempt int, req generator.SubmitRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.submits[clipID.String()]++
	jobID := fmt.Sprintf("ext-%s-%d", clipID, attempt)

	result := generator.PollResult{Status: generator.StatusSucceeded}
	if f.outcome != nil {
		result = f.outcome(clipID, attempt, req)
	}
	if result.Status == generator.StatusSucceeded && result.ResultURL == "" {
		result.ResultURL = "gen://" + jobID
		f.durations[result.ResultURL] = float64(req.Frames) / float64(req.FPS)
	}
	f.jobs[jobID] = result
	return jobID, nil
}

func (f *fakeProvider) Poll(_ context.Context, externalJobID string) (generator.PollResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	result, ok := f.jobs[externalJobID]
	if !ok {
		return generator.PollResult{}, generator.ErrJobNotFound
	}
	return result, nil
}

func (f *fakeProvider) ProbeMedia(_ context.Context, target string) (*ffmpeg.MediaInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return &ffmpeg.MediaInfo{
		DurationSec: f.durations[target],
		Container:   "mp4",
		HasVideo:    true,
		VideoCodec:  "h264",
		Width:       1280,
		Height:      720,
		FPS:         24,
	}, nil
}

func (f *fakeProvider) submitCount(clipID models.ULID) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.submits[clipID.String()]
}

func testClipConfig() *config.Config {
	return &config.Config{
		Planning: config.PlanningConfig{MinClipSec: 3, MaxClipSec: 6},
		Generator: config.GeneratorConfig{
			PollInterval:       time.Millisecond,
			GenerationTimeout:  time.Second,
			ConcurrencyPerSong: 4,
		},
		Retry: config.RetryConfig{
			MaxAttempts:       3,
			InitialBackoff:    time.Millisecond,
			BackoffMultiplier: 2,
		},
		Composition: config.CompositionConfig{TargetFPS: 24},
	}
}

func newTestClipService(e *testEnv, provider *fakeProvider) *ClipService {
	svc := NewClipService(testClipConfig(), e.songRepo, e.analysisRepo, e.planRepo,
		e.clipRepo, e.compRepo, provider, "", e.sched, e.store)
	svc.prober = provider
	return svc
}

// planSong creates an analyzed song of the given duration and plans it.
func planSong(t *testing.T, e *testEnv, svc *ClipService, durationSec float64) (*models.Song, *models.ClipPlan, []*models.Clip) {
	t.Helper()
	ctx := context.Background()

	song := e.createTestSong(t, models.VideoTypeFullLength)
	song.DurationSec = durationSec
	require.NoError(t, e.songRepo.Update(ctx, song))
	e.createTestAnalysis(t, song.ID, durationSec)

	plan, clips, err := svc.Plan(ctx, song.ID, 0, 0)
	require.NoError(t, err)
	require.NotEmpty(t, plan.Entries)
	require.Len(t, clips, len(plan.Entries))
	return song, plan, clips
}

func noReport(string, int) {}

func noCheckpoint() error { return nil }

func TestClipServicePlanPreconditions(t *testing.T) {
	e := setupTestEnv(t)
	svc := newTestClipService(e, newFakeProvider())
	ctx := context.Background()

	_, _, err := svc.Plan(ctx, models.NewULID(), 0, 0)
	assert.ErrorIs(t, err, models.ErrSongNotFound)

	song := e.createTestSong(t, models.VideoTypeUnset)
	_, _, err = svc.Plan(ctx, song.ID, 0, 0)
	assert.ErrorIs(t, err, models.ErrAnalysisRequired)

	e.createTestAnalysis(t, song.ID, song.DurationSec)
	_, _, err = svc.Plan(ctx, song.ID, 0, 0)
	assert.ErrorIs(t, err, models.ErrVideoTypeRequired)

	shortForm := e.createTestSong(t, models.VideoTypeShortForm)
	e.createTestAnalysis(t, shortForm.ID, shortForm.DurationSec)
	_, _, err = svc.Plan(ctx, shortForm.ID, 0, 0)
	assert.ErrorIs(t, err, models.ErrSelectionRequired)
}

func TestClipServicePlanCreatesClips(t *testing.T) {
	e := setupTestEnv(t)
	svc := newTestClipService(e, newFakeProvider())

	_, plan, clips := planSong(t, e, svc, 12)

	assert.Equal(t, 24, plan.TargetFPS)
	for i, entry := range plan.Entries {
		assert.Equal(t, i, entry.Index)
		assert.GreaterOrEqual(t, entry.DurationSec(), 3.0)
		assert.LessOrEqual(t, entry.DurationSec(), 6.0+0.001)
	}

	byIndex := make(map[int]*models.Clip)
	for _, clip := range clips {
		byIndex[clip.PlanIndex] = clip
	}
	for _, entry := range plan.Entries {
		clip := byIndex[entry.Index]
		require.NotNil(t, clip)
		assert.Equal(t, models.ClipStatusQueued, clip.Status)
		assert.Equal(t, entry.FrameCount(), clip.Frames)
		assert.Equal(t, 24, clip.FPS)
		assert.NotEmpty(t, clip.Prompt)
		assert.NotZero(t, clip.Seed)
	}
}

func TestClipServiceSeedIsDeterministic(t *testing.T) {
	songID := models.MustParseULID("01ARZ3NDEKTSV4RRFFQ69G5FAV")

	assert.Equal(t, clipSeed(songID, 0), clipSeed(songID, 0))
	assert.NotEqual(t, clipSeed(songID, 0), clipSeed(songID, 1))
	assert.NotEqual(t, clipSeed(songID, 0), clipSeed(models.NewULID(), 0))
	assert.GreaterOrEqual(t, clipSeed(songID, 0), int64(0))
}

func TestClipServicePlanClipCountBoundsClipLength(t *testing.T) {
	e := setupTestEnv(t)
	svc := newTestClipService(e, newFakeProvider())
	ctx := context.Background()

	song := e.createTestSong(t, models.VideoTypeFullLength)
	song.DurationSec = 24
	require.NoError(t, e.songRepo.Update(ctx, song))
	e.createTestAnalysis(t, song.ID, 24)

	// Eight clips over 24s pushes the duration target down to the
	// minimum clip length.
	plan, _, err := svc.Plan(ctx, song.ID, 8, 0)
	require.NoError(t, err)
	for _, entry := range plan.Entries {
		assert.LessOrEqual(t, entry.DurationSec(), 3.0+0.001)
	}
	assert.GreaterOrEqual(t, len(plan.Entries), 6)
}

func TestClipServiceReplanKeepsMatchingCompletedClips(t *testing.T) {
	e := setupTestEnv(t)
	svc := newTestClipService(e, newFakeProvider())
	ctx := context.Background()

	song, plan, clips := planSong(t, e, svc, 12)

	var done *models.Clip
	for _, clip := range clips {
		if clip.PlanIndex == 0 {
			done = clip
		}
	}
	require.NotNil(t, done)
	done.Status = models.ClipStatusCompleted
	done.ResultURL = "gen://done"
	require.NoError(t, e.clipRepo.Update(ctx, done))

	newPlan, newClips, err := svc.Plan(ctx, song.ID, 0, 0)
	require.NoError(t, err)
	require.Len(t, newPlan.Entries, len(plan.Entries))

	kept := 0
	for _, clip := range newClips {
		if clip.ID == done.ID {
			kept++
			assert.Equal(t, models.ClipStatusCompleted, clip.Status)
		} else {
			assert.Equal(t, models.ClipStatusQueued, clip.Status)
		}
	}
	assert.Equal(t, 1, kept)
}

func TestClipServiceRequestGenerationRequiresPlan(t *testing.T) {
	e := setupTestEnv(t)
	svc := newTestClipService(e, newFakeProvider())

	song := e.createTestSong(t, models.VideoTypeFullLength)
	_, _, err := svc.RequestGeneration(context.Background(), song.ID)
	assert.ErrorIs(t, err, models.ErrPlanRequired)
}

func TestClipServiceRequestGenerationDeduplicates(t *testing.T) {
	e := setupTestEnv(t)
	svc := newTestClipService(e, newFakeProvider())
	ctx := context.Background()

	song, _, _ := planSong(t, e, svc, 12)

	job, created, err := svc.RequestGeneration(ctx, song.ID)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, models.JobTypeClipGeneration, job.Type)
	assert.Equal(t, "clip-generation", job.Queue)

	again, created, err := svc.RequestGeneration(ctx, song.ID)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, job.ID, again.ID)

	active, err := svc.ActiveBatchJob(ctx, song.ID)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, job.ID, active.ID)
}

func TestClipServiceGenerateBatchCompletesAllClips(t *testing.T) {
	e := setupTestEnv(t)
	provider := newFakeProvider()
	svc := newTestClipService(e, provider)
	ctx := context.Background()

	song, plan, _ := planSong(t, e, svc, 12)

	summary, err := svc.GenerateBatch(ctx, song.ID, noReport, noCheckpoint)
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("generated %d/%d clips", len(plan.Entries), len(plan.Entries)), summary)

	clips, err := e.clipRepo.GetBySongID(ctx, song.ID)
	require.NoError(t, err)
	for _, clip := range clips {
		assert.Equal(t, models.ClipStatusCompleted, clip.Status)
		assert.NotEmpty(t, clip.ResultURL)
		assert.Equal(t, 1, clip.AttemptCount)
		assert.Equal(t, 1280, clip.ResultWidth)
		assert.Equal(t, 1, provider.submitCount(clip.ID))
	}
}

func TestClipServiceGenerateBatchRetriesTransientFailure(t *testing.T) {
	e := setupTestEnv(t)
	provider := newFakeProvider()
	provider.outcome = func(_ models.ULID, attempt int, _ generator.SubmitRequest) generator.PollResult {
		if attempt == 1 {
			return generator.PollResult{Status: generator.StatusFailed, Error: "503 service unavailable"}
		}
		return generator.PollResult{Status: generator.StatusSucceeded}
	}
	svc := newTestClipService(e, provider)
	ctx := context.Background()

	song, plan, _ := planSong(t, e, svc, 12)

	summary, err := svc.GenerateBatch(ctx, song.ID, noReport, noCheckpoint)
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("generated %d/%d clips", len(plan.Entries), len(plan.Entries)), summary)

	clips, err := e.clipRepo.GetBySongID(ctx, song.ID)
	require.NoError(t, err)
	for _, clip := range clips {
		assert.Equal(t, models.ClipStatusCompleted, clip.Status)
		assert.Equal(t, 2, clip.AttemptCount)
	}
}

func TestClipServiceGenerateBatchRecordsPermanentFailure(t *testing.T) {
	e := setupTestEnv(t)
	provider := newFakeProvider()
	provider.outcome = func(_ models.ULID, _ int, _ generator.SubmitRequest) generator.PollResult {
		return generator.PollResult{Status: generator.StatusFailed, Error: "prompt rejected by moderation"}
	}
	svc := newTestClipService(e, provider)
	ctx := context.Background()

	song, plan, _ := planSong(t, e, svc, 12)
	total := len(plan.Entries)

	summary, err := svc.GenerateBatch(ctx, song.ID, noReport, noCheckpoint)
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("generated 0/%d clips, %d failed", total, total), summary)

	clips, err := e.clipRepo.GetBySongID(ctx, song.ID)
	require.NoError(t, err)
	for _, clip := range clips {
		assert.Equal(t, models.ClipStatusFailed, clip.Status)
		assert.Equal(t, "prompt rejected by moderation", clip.Error)
		// Non-retriable failures stop at the first attempt.
		assert.Equal(t, 1, clip.AttemptCount)
	}
}

func TestClipServiceGenerateBatchTimeoutPolicy(t *testing.T) {
	e := setupTestEnv(t)
	provider := newFakeProvider()
	provider.outcome = func(_ models.ULID, _ int, _ generator.SubmitRequest) generator.PollResult {
		return generator.PollResult{Status: generator.StatusTimedOut, Error: "generation exceeded wall-clock limit"}
	}
	svc := newTestClipService(e, provider)
	ctx := context.Background()

	song, _, _ := planSong(t, e, svc, 4)

	_, err := svc.GenerateBatch(ctx, song.ID, noReport, noCheckpoint)
	require.NoError(t, err)

	clips, err := e.clipRepo.GetBySongID(ctx, song.ID)
	require.NoError(t, err)
	require.Len(t, clips, 1)
	// Timeouts retry twice, then fail for good.
	assert.Equal(t, models.ClipStatusFailed, clips[0].Status)
	assert.Equal(t, 3, clips[0].AttemptCount)
	assert.Equal(t, "generation timed out", clips[0].Error)
}

func TestClipServiceGenerateBatchCancellation(t *testing.T) {
	e := setupTestEnv(t)
	svc := newTestClipService(e, newFakeProvider())
	ctx := context.Background()

	song, _, _ := planSong(t, e, svc, 12)

	canceled := func() error { return scheduler.ErrJobCanceled }
	_, err := svc.GenerateBatch(ctx, song.ID, noReport, canceled)
	assert.ErrorIs(t, err, scheduler.ErrJobCanceled)

	clips, err := e.clipRepo.GetBySongID(ctx, song.ID)
	require.NoError(t, err)
	for _, clip := range clips {
		assert.Equal(t, models.ClipStatusQueued, clip.Status)
	}
}

func TestClipServiceGenerateBatchReleasesOrphanedClaims(t *testing.T) {
	e := setupTestEnv(t)
	svc := newTestClipService(e, newFakeProvider())
	ctx := context.Background()

	song, _, clips := planSong(t, e, svc, 12)

	// Simulate a worker that crashed after claiming but before submitting.
	orphan := clips[0]
	claimed, err := e.clipRepo.ClaimForGeneration(ctx, orphan.ID)
	require.NoError(t, err)
	require.True(t, claimed)

	summary, err := svc.GenerateBatch(ctx, song.ID, noReport, noCheckpoint)
	require.NoError(t, err)
	assert.Contains(t, summary, fmt.Sprintf("generated %d/%d clips", len(clips), len(clips)))
}

func TestClipServiceGenerateBatchResumesOrphanedSubmission(t *testing.T) {
	e := setupTestEnv(t)
	provider := newFakeProvider()
	svc := newTestClipService(e, provider)
	ctx := context.Background()

	song, _, clips := planSong(t, e, svc, 12)

	// Simulate a worker that crashed after submitting to the provider:
	// the clip sits in processing with a stored provider job id.
	orphan := clips[0]
	claimed, err := e.clipRepo.ClaimForGeneration(ctx, orphan.ID)
	require.NoError(t, err)
	require.True(t, claimed)

	externalID, err := provider.Submit(ctx, orphan.ID, 1, generator.SubmitRequest{
		Frames: orphan.Frames,
		FPS:    orphan.FPS,
	})
	require.NoError(t, err)
	require.NoError(t, e.clipRepo.SetExternalJobID(ctx, orphan.ID, externalID))

	summary, err := svc.GenerateBatch(ctx, song.ID, noReport, noCheckpoint)
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("generated %d/%d clips", len(clips), len(clips)), summary)

	got, err := e.clipRepo.GetByID(ctx, orphan.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ClipStatusCompleted, got.Status)
	assert.NotEmpty(t, got.ResultURL)
	// The stored submission was polled to completion, not resubmitted.
	assert.Equal(t, 1, provider.submitCount(orphan.ID))
}

func TestClipServiceRetryClip(t *testing.T) {
	e := setupTestEnv(t)
	svc := newTestClipService(e, newFakeProvider())
	ctx := context.Background()

	song, _, clips := planSong(t, e, svc, 12)
	clip := clips[0]

	_, _, err := svc.RetryClip(ctx, song.ID, clip.ID)
	assert.ErrorIs(t, err, models.ErrClipNotRetryable)

	clip.Status = models.ClipStatusFailed
	clip.Error = "prompt rejected by moderation"
	clip.AttemptCount = 1
	require.NoError(t, e.clipRepo.Update(ctx, clip))

	reset, job, err := svc.RetryClip(ctx, song.ID, clip.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ClipStatusQueued, reset.Status)
	assert.Empty(t, reset.Error)
	assert.Equal(t, 1, reset.AttemptCount)
	assert.Equal(t, models.JobTypeClipRetry, job.Type)
	assert.Equal(t, clip.ID, job.TargetID)

	_, _, err = svc.RetryClip(ctx, models.NewULID(), clip.ID)
	assert.ErrorIs(t, err, models.ErrClipNotFound)
}

func TestClipServiceRegenerateClip(t *testing.T) {
	e := setupTestEnv(t)
	svc := newTestClipService(e, newFakeProvider())
	ctx := context.Background()

	song, _, clips := planSong(t, e, svc, 4)
	clip := clips[0]

	clip.Status = models.ClipStatusFailed
	clip.Error = "prompt rejected by moderation"
	clip.AttemptCount = 1
	require.NoError(t, e.clipRepo.Update(ctx, clip))

	_, _, err := svc.RetryClip(ctx, song.ID, clip.ID)
	require.NoError(t, err)

	summary, err := svc.RegenerateClip(ctx, song.ID, clip.ID, noReport, noCheckpoint)
	require.NoError(t, err)
	assert.Contains(t, summary, "completed after 2 attempts")

	got, err := e.clipRepo.GetByID(ctx, clip.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ClipStatusCompleted, got.Status)
	assert.NotEmpty(t, got.ResultURL)
}

func TestClipServiceStatusAggregates(t *testing.T) {
	e := setupTestEnv(t)
	svc := newTestClipService(e, newFakeProvider())
	ctx := context.Background()

	song, _, clips := planSong(t, e, svc, 12)
	require.GreaterOrEqual(t, len(clips), 2)

	clips[0].Status = models.ClipStatusCompleted
	clips[0].ResultURL = "gen://done"
	require.NoError(t, e.clipRepo.Update(ctx, clips[0]))
	clips[1].Status = models.ClipStatusFailed
	clips[1].Error = "prompt rejected by moderation"
	require.NoError(t, e.clipRepo.Update(ctx, clips[1]))

	status, err := svc.Status(ctx, song.ID)
	require.NoError(t, err)
	assert.Equal(t, len(clips), status.Total)
	assert.Equal(t, 1, status.Completed)
	assert.Equal(t, 1, status.Counts[models.ClipStatusCompleted])
	assert.Equal(t, 1, status.Counts[models.ClipStatusFailed])
	assert.Equal(t, len(clips)-2, status.Counts[models.ClipStatusQueued])
	assert.Empty(t, status.VideoURL)
}

func TestClipServiceBoundaries(t *testing.T) {
	e := setupTestEnv(t)
	svc := newTestClipService(e, newFakeProvider())
	ctx := context.Background()

	song := e.createTestSong(t, models.VideoTypeFullLength)
	song.DurationSec = 12
	require.NoError(t, e.songRepo.Update(ctx, song))
	e.createTestAnalysis(t, song.ID, 12)

	plan, err := svc.Boundaries(ctx, song.ID, 30)
	require.NoError(t, err)
	require.NotEmpty(t, plan.Segments)

	for _, seg := range plan.Segments {
		assert.Equal(t, int(seg.StartSec*30+0.5), seg.StartFrame)
	}

	gotPlan, err := e.planRepo.GetBySongID(ctx, song.ID)
	require.NoError(t, err)
	assert.Nil(t, gotPlan, "boundaries preview must not persist a plan")
}
