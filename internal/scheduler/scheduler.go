// Package scheduler provides job scheduling and execution for beatreel.
// It supports cron-based recurring jobs and one-off immediate jobs
// dequeued by a worker pool from named queues.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/beatreel/beatreel/internal/models"
	"github.com/beatreel/beatreel/internal/repository"
)

// Scheduler creates jobs when their cron schedules come due and exposes
// one-off job creation with deduplication. The only recurring job today
// is the blob sweep.
type Scheduler struct {
	mu sync.RWMutex

	jobRepo repository.JobRepository
	logger  *slog.Logger

	// parser handles 6-field cron expressions with a seconds column.
	parser cron.Parser

	// Running state
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	syncInterval time.Duration

	// sweepCron is the blob sweep schedule; empty disables sweeping.
	sweepCron string
}

// SchedulerConfig holds configuration for the scheduler.
type SchedulerConfig struct {
	// SyncInterval is how often to check for due schedules.
	// Default: 1 minute
	SyncInterval time.Duration

	// SweepCron is the 6-field cron expression for blob sweeps.
	// Empty disables scheduled sweeping.
	SweepCron string
}

// DefaultSchedulerConfig returns the default scheduler configuration.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		SyncInterval: time.Minute,
		SweepCron:    "0 0 3 * * *",
	}
}

// NewScheduler creates a new scheduler.
func NewScheduler(jobRepo repository.JobRepository) *Scheduler {
	config := DefaultSchedulerConfig()
	return &Scheduler{
		jobRepo:      jobRepo,
		logger:       slog.Default(),
		parser:       cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		syncInterval: config.SyncInterval,
		sweepCron:    config.SweepCron,
	}
}

// WithLogger sets a custom logger.
func (s *Scheduler) WithLogger(logger *slog.Logger) *Scheduler {
	s.logger = logger
	return s
}

// WithConfig applies configuration to the scheduler.
func (s *Scheduler) WithConfig(config SchedulerConfig) *Scheduler {
	if config.SyncInterval > 0 {
		s.syncInterval = config.SyncInterval
	}
	s.sweepCron = config.SweepCron
	return s
}

// Start begins the scheduler's background sync loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ctx != nil {
		return fmt.Errorf("scheduler already started")
	}

	s.ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go s.syncLoop()

	s.logger.Info("scheduler started",
		slog.Duration("sync_interval", s.syncInterval),
		slog.String("sweep_cron", s.sweepCron))

	return nil
}

// Stop stops the scheduler.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()

	s.wg.Wait()

	s.mu.Lock()
	s.ctx = nil
	s.cancel = nil
	s.mu.Unlock()

	s.logger.Info("scheduler stopped")
}

// syncLoop periodically creates due recurring jobs.
func (s *Scheduler) syncLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.syncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.syncSchedules(s.ctx)
		}
	}
}

// syncSchedules creates jobs whose schedules have come due.
func (s *Scheduler) syncSchedules(ctx context.Context) {
	if s.sweepCron == "" || !s.isDue(s.sweepCron) {
		return
	}

	existing, err := s.jobRepo.FindDuplicatePending(ctx, models.JobTypeBlobSweep, models.ULID{})
	if err != nil {
		s.logger.Error("failed to check for duplicate sweep job", slog.Any("error", err))
		return
	}
	if existing != nil {
		s.logger.Debug("skipping duplicate blob sweep job")
		return
	}

	job := &models.Job{
		Type:         models.JobTypeBlobSweep,
		Queue:        models.QueueDefault,
		Status:       models.JobStatusPending,
		CronSchedule: s.sweepCron,
	}
	if err := s.jobRepo.Create(ctx, job); err != nil {
		s.logger.Error("failed to create blob sweep job", slog.Any("error", err))
		return
	}

	s.logger.Info("created scheduled blob sweep job", slog.String("job_id", job.ID.String()))
}

// isDue checks if a cron schedule is due for execution. A schedule is
// due if a run time falls within the current sync window.
func (s *Scheduler) isDue(cronExpr string) bool {
	schedule, err := s.parser.Parse(cronExpr)
	if err != nil {
		s.logger.Warn("invalid cron expression", slog.String("cron", cronExpr), slog.Any("error", err))
		return false
	}

	now := time.Now()
	next := schedule.Next(now.Add(-s.syncInterval))

	return !next.After(now)
}

// EnqueueOptions customize one-off job creation.
type EnqueueOptions struct {
	// Queue overrides the default queue for the job.
	Queue string
	// TargetID narrows the job to a single entity under the song.
	TargetID models.ULID
	// MaxAttempts overrides the default retry count.
	MaxAttempts int
}

// Enqueue creates an immediate one-off job for a song. If an equivalent
// job is already pending or running, the existing job is returned
// instead of creating a duplicate.
func (s *Scheduler) Enqueue(ctx context.Context, jobType models.JobType, songID models.ULID, opts EnqueueOptions) (*models.Job, bool, error) {
	existing, err := s.jobRepo.FindDuplicatePending(ctx, jobType, songID)
	if err != nil {
		return nil, false, fmt.Errorf("checking for duplicate job: %w", err)
	}

	if existing != nil && (opts.TargetID.IsZero() || existing.TargetID == opts.TargetID) {
		s.logger.Debug("returning existing pending job",
			slog.String("type", string(jobType)),
			slog.String("song_id", songID.String()),
			slog.String("job_id", existing.ID.String()))
		return existing, false, nil
	}

	job := &models.Job{
		Type:     jobType,
		SongID:   songID,
		TargetID: opts.TargetID,
		Status:   models.JobStatusPending,
	}
	if opts.Queue != "" {
		job.Queue = opts.Queue
	}
	if opts.MaxAttempts > 0 {
		job.MaxAttempts = opts.MaxAttempts
	}

	if err := s.jobRepo.Create(ctx, job); err != nil {
		return nil, false, fmt.Errorf("creating job: %w", err)
	}

	s.logger.Info("created job",
		slog.String("type", string(jobType)),
		slog.String("song_id", songID.String()),
		slog.String("queue", job.Queue),
		slog.String("job_id", job.ID.String()))

	return job, true, nil
}

// FindPending returns the pending, scheduled or running job of the
// given type for a song, or nil when none exists.
func (s *Scheduler) FindPending(ctx context.Context, jobType models.JobType, songID models.ULID) (*models.Job, error) {
	return s.jobRepo.FindDuplicatePending(ctx, jobType, songID)
}

// ValidateCron validates a 6-field cron expression.
func (s *Scheduler) ValidateCron(expr string) error {
	_, err := s.parser.Parse(expr)
	return err
}
