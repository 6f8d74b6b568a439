// Package repository defines data access interfaces for beatreel entities.
// All database access goes through these interfaces, enabling easy testing
// and database backend switching.
package repository

import (
	"context"
	"time"

	"github.com/beatreel/beatreel/internal/models"
)

// SongRepository defines operations for song persistence.
type SongRepository interface {
	// Create creates a new song.
	Create(ctx context.Context, song *models.Song) error
	// GetByID retrieves a song by ID.
	GetByID(ctx context.Context, id models.ULID) (*models.Song, error)
	// GetAll retrieves all songs, newest first.
	GetAll(ctx context.Context) ([]*models.Song, error)
	// GetAllPaginated retrieves songs with pagination, newest first.
	GetAllPaginated(ctx context.Context, offset, limit int) ([]*models.Song, int64, error)
	// Update updates an existing song.
	Update(ctx context.Context, song *models.Song) error
	// Delete hard-deletes a song by ID.
	Delete(ctx context.Context, id models.ULID) error
	// UpdateAnalysisState updates only the analysis state column.
	UpdateAnalysisState(ctx context.Context, id models.ULID, state models.AnalysisState) error
}

// AnalysisRepository defines operations for song analysis persistence.
// Analyses are versioned per song; the highest version is current.
type AnalysisRepository interface {
	// CreateNextVersion creates an analysis with the next version number
	// for its song, atomically.
	CreateNextVersion(ctx context.Context, analysis *models.SongAnalysis) error
	// GetByID retrieves an analysis by ID.
	GetByID(ctx context.Context, id models.ULID) (*models.SongAnalysis, error)
	// GetLatestBySongID retrieves the highest-version analysis for a song.
	GetLatestBySongID(ctx context.Context, songID models.ULID) (*models.SongAnalysis, error)
	// GetBySongID retrieves all analyses for a song, newest version first.
	GetBySongID(ctx context.Context, songID models.ULID) ([]*models.SongAnalysis, error)
	// DeleteBySongID deletes all analyses for a song.
	DeleteBySongID(ctx context.Context, songID models.ULID) (int64, error)
}

// ClipPlanRepository defines operations for clip plan persistence.
// A song has at most one plan; replanning replaces it.
type ClipPlanRepository interface {
	// Replace stores the plan for a song, removing any previous plan.
	Replace(ctx context.Context, plan *models.ClipPlan) error
	// GetBySongID retrieves the plan for a song.
	GetBySongID(ctx context.Context, songID models.ULID) (*models.ClipPlan, error)
	// DeleteBySongID deletes the plan for a song.
	DeleteBySongID(ctx context.Context, songID models.ULID) error
}

// ClipRepository defines operations for clip persistence.
type ClipRepository interface {
	// Create creates a new clip.
	Create(ctx context.Context, clip *models.Clip) error
	// CreateBatch creates multiple clips in a single batch.
	CreateBatch(ctx context.Context, clips []*models.Clip) error
	// GetByID retrieves a clip by ID.
	GetByID(ctx context.Context, id models.ULID) (*models.Clip, error)
	// GetBySongID retrieves all clips for a song ordered by plan index.
	GetBySongID(ctx context.Context, songID models.ULID) ([]*models.Clip, error)
	// GetBySongIDAndStatus retrieves clips for a song in a given status,
	// ordered by plan index.
	GetBySongIDAndStatus(ctx context.Context, songID models.ULID, status models.ClipStatus) ([]*models.Clip, error)
	// Update updates an existing clip.
	Update(ctx context.Context, clip *models.Clip) error
	// Delete deletes a clip by ID.
	Delete(ctx context.Context, id models.ULID) error
	// DeleteBySongID deletes all clips for a song.
	DeleteBySongID(ctx context.Context, songID models.ULID) (int64, error)
	// ClaimForGeneration atomically moves a clip from queued to processing.
	// Returns false if another worker already holds the claim or the clip
	// left the queued state.
	ClaimForGeneration(ctx context.Context, id models.ULID) (bool, error)
	// ReleaseClaim returns a processing clip to queued.
	ReleaseClaim(ctx context.Context, id models.ULID) error
	// SetExternalJobID persists the provider job id without touching other
	// columns, so a restarted worker resumes polling instead of resubmitting.
	SetExternalJobID(ctx context.Context, id models.ULID, externalJobID string) error
	// CountBySongIDAndStatus returns the number of clips for a song in a status.
	CountBySongIDAndStatus(ctx context.Context, songID models.ULID, status models.ClipStatus) (int64, error)
}

// CompositionRepository defines operations for composition job and
// composed video persistence.
type CompositionRepository interface {
	// Create creates a new composition job.
	Create(ctx context.Context, job *models.CompositionJob) error
	// GetByID retrieves a composition job by ID.
	GetByID(ctx context.Context, id models.ULID) (*models.CompositionJob, error)
	// GetBySongID retrieves all composition jobs for a song, newest first.
	GetBySongID(ctx context.Context, songID models.ULID) ([]*models.CompositionJob, error)
	// FindActiveBySongID retrieves the non-terminal composition job for a
	// song, if one exists. At most one non-terminal job exists per song.
	FindActiveBySongID(ctx context.Context, songID models.ULID) (*models.CompositionJob, error)
	// Update updates an existing composition job.
	Update(ctx context.Context, job *models.CompositionJob) error
	// AdvanceStep updates the step and ratchets progress upward. Progress
	// never decreases even when called with a smaller value.
	AdvanceStep(ctx context.Context, id models.ULID, step models.CompositionStep, progress int) error
	// CreateVideo creates a composed video artifact record.
	CreateVideo(ctx context.Context, video *models.ComposedVideo) error
	// GetVideoByID retrieves a composed video by ID.
	GetVideoByID(ctx context.Context, id models.ULID) (*models.ComposedVideo, error)
	// GetLatestVideoBySongID retrieves the most recent composed video for a song.
	GetLatestVideoBySongID(ctx context.Context, songID models.ULID) (*models.ComposedVideo, error)
	// GetVideosBySongID retrieves all composed videos for a song, newest first.
	GetVideosBySongID(ctx context.Context, songID models.ULID) ([]*models.ComposedVideo, error)
	// DeleteBySongID deletes all composition jobs and composed videos for
	// a song. Returns the number of rows removed.
	DeleteBySongID(ctx context.Context, songID models.ULID) (int64, error)
}

// JobRepository defines operations for job persistence.
type JobRepository interface {
	// Create creates a new job.
	Create(ctx context.Context, job *models.Job) error
	// GetByID retrieves a job by ID.
	GetByID(ctx context.Context, id models.ULID) (*models.Job, error)
	// GetAll retrieves all jobs.
	GetAll(ctx context.Context) ([]*models.Job, error)
	// GetPending retrieves all pending/scheduled jobs ready for execution.
	GetPending(ctx context.Context) ([]*models.Job, error)
	// GetByStatus retrieves jobs by status.
	GetByStatus(ctx context.Context, status models.JobStatus) ([]*models.Job, error)
	// GetByType retrieves jobs by type.
	GetByType(ctx context.Context, jobType models.JobType) ([]*models.Job, error)
	// GetBySongID retrieves jobs for a specific song.
	GetBySongID(ctx context.Context, songID models.ULID) ([]*models.Job, error)
	// GetRunning retrieves all currently running jobs, including those
	// with a pending cancellation request.
	GetRunning(ctx context.Context) ([]*models.Job, error)
	// Update updates an existing job.
	Update(ctx context.Context, job *models.Job) error
	// UpdateProgress updates only the step and progress columns. Progress
	// is ratcheted; it never decreases.
	UpdateProgress(ctx context.Context, id models.ULID, step string, progress int) error
	// Delete deletes a job by ID.
	Delete(ctx context.Context, id models.ULID) error
	// DeleteCompleted deletes finished jobs older than the specified time.
	DeleteCompleted(ctx context.Context, before time.Time) (int64, error)
	// AcquireJob atomically acquires a pending job for execution (sets
	// status to running). Only jobs in the given queues are considered;
	// an empty queue list matches all queues. Returns nil if no jobs are
	// available or another worker acquired it first.
	AcquireJob(ctx context.Context, workerID string, queues []string) (*models.Job, error)
	// ReleaseJob releases a job lock (used when a worker fails unexpectedly).
	ReleaseJob(ctx context.Context, id models.ULID) error
	// RequestCancel requests cancellation of a job. Pending and scheduled
	// jobs are cancelled immediately; running jobs transition to canceling
	// and stop at the next checkpoint. Returns models.ErrJobNotCancelable
	// for finished jobs.
	RequestCancel(ctx context.Context, id models.ULID) (*models.Job, error)
	// IsCanceling reports whether cancellation has been requested for a
	// running job. Workers poll this at checkpoints.
	IsCanceling(ctx context.Context, id models.ULID) (bool, error)
	// FindDuplicatePending finds an existing pending/scheduled/running job
	// for the same type and song. Used for deduplication of concurrent
	// job requests.
	FindDuplicatePending(ctx context.Context, jobType models.JobType, songID models.ULID) (*models.Job, error)
	// CreateHistory creates a job history record.
	CreateHistory(ctx context.Context, history *models.JobHistory) error
	// GetHistory retrieves job history with pagination.
	GetHistory(ctx context.Context, jobType *models.JobType, offset, limit int) ([]*models.JobHistory, int64, error)
	// DeleteHistory deletes history records older than the specified time.
	DeleteHistory(ctx context.Context, before time.Time) (int64, error)
}
