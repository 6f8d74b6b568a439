package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/beatreel/beatreel/internal/models"
	"github.com/beatreel/beatreel/internal/repository"
	"github.com/beatreel/beatreel/internal/scheduler"
)

// JobService provides high-level job management operations.
type JobService struct {
	jobRepo repository.JobRepository
	sched   *scheduler.Scheduler
	runner  *scheduler.Runner
	logger  *slog.Logger
}

// NewJobService creates a new JobService.
func NewJobService(jobRepo repository.JobRepository) *JobService {
	return &JobService{
		jobRepo: jobRepo,
		logger:  slog.Default(),
	}
}

// WithLogger sets a custom logger.
func (s *JobService) WithLogger(logger *slog.Logger) *JobService {
	s.logger = logger
	return s
}

// WithScheduler sets the scheduler instance.
func (s *JobService) WithScheduler(sched *scheduler.Scheduler) *JobService {
	s.sched = sched
	return s
}

// WithRunner sets the runner instance.
func (s *JobService) WithRunner(runner *scheduler.Runner) *JobService {
	s.runner = runner
	return s
}

// GetByID retrieves a job, returning models.ErrJobNotFound when absent.
func (s *JobService) GetByID(ctx context.Context, id models.ULID) (*models.Job, error) {
	job, err := s.jobRepo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("getting job: %w", err)
	}
	if job == nil {
		return nil, models.ErrJobNotFound
	}
	return job, nil
}

// GetAll retrieves all jobs.
func (s *JobService) GetAll(ctx context.Context) ([]*models.Job, error) {
	return s.jobRepo.GetAll(ctx)
}

// GetBySongID retrieves all jobs for a song, newest first.
func (s *JobService) GetBySongID(ctx context.Context, songID models.ULID) ([]*models.Job, error) {
	return s.jobRepo.GetBySongID(ctx, songID)
}

// GetRunning retrieves all running jobs.
func (s *JobService) GetRunning(ctx context.Context) ([]*models.Job, error) {
	return s.jobRepo.GetRunning(ctx)
}

// GetHistory retrieves job history with pagination.
func (s *JobService) GetHistory(ctx context.Context, jobType *models.JobType, offset, limit int) ([]*models.JobHistory, int64, error) {
	return s.jobRepo.GetHistory(ctx, jobType, offset, limit)
}

// Cancel requests cooperative cancellation of a job. Pending jobs are
// cancelled immediately; running jobs stop at the next checkpoint.
func (s *JobService) Cancel(ctx context.Context, id models.ULID) (*models.Job, error) {
	job, err := s.jobRepo.RequestCancel(ctx, id)
	if err != nil {
		return nil, err
	}

	s.logger.Info("requested job cancellation",
		slog.String("job_id", id.String()),
		slog.String("type", string(job.Type)),
		slog.String("status", string(job.Status)))

	return job, nil
}

// Cleanup deletes old completed jobs and history.
func (s *JobService) Cleanup(ctx context.Context, olderThan time.Duration) (jobsDeleted, historyDeleted int64, err error) {
	cutoff := time.Now().Add(-olderThan)

	jobsDeleted, err = s.jobRepo.DeleteCompleted(ctx, cutoff)
	if err != nil {
		return 0, 0, fmt.Errorf("deleting completed jobs: %w", err)
	}

	historyDeleted, err = s.jobRepo.DeleteHistory(ctx, cutoff)
	if err != nil {
		return jobsDeleted, 0, fmt.Errorf("deleting history: %w", err)
	}

	if jobsDeleted > 0 || historyDeleted > 0 {
		s.logger.Info("cleaned up old jobs",
			slog.Int64("jobs_deleted", jobsDeleted),
			slog.Int64("history_deleted", historyDeleted),
			slog.Duration("older_than", olderThan))
	}

	return jobsDeleted, historyDeleted, nil
}

// ValidateCron validates a cron expression.
func (s *JobService) ValidateCron(expr string) error {
	if s.sched == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return s.sched.ValidateCron(expr)
}

// GetRunnerStatus returns the current runner status.
func (s *JobService) GetRunnerStatus() (*scheduler.RunnerStatus, error) {
	if s.runner == nil {
		return nil, fmt.Errorf("runner not configured")
	}
	status := s.runner.GetStatus()
	return &status, nil
}

// JobStats represents job statistics.
type JobStats struct {
	PendingCount   int64            `json:"pending_count"`
	RunningCount   int64            `json:"running_count"`
	CompletedCount int64            `json:"completed_count"`
	FailedCount    int64            `json:"failed_count"`
	CancelledCount int64            `json:"cancelled_count"`
	ByType         map[string]int64 `json:"by_type"`
}

// GetStats returns job statistics.
func (s *JobService) GetStats(ctx context.Context) (*JobStats, error) {
	all, err := s.jobRepo.GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("getting jobs: %w", err)
	}

	stats := &JobStats{ByType: make(map[string]int64)}
	for _, job := range all {
		stats.ByType[string(job.Type)]++
		switch job.Status {
		case models.JobStatusPending, models.JobStatusScheduled:
			stats.PendingCount++
		case models.JobStatusRunning, models.JobStatusCanceling:
			stats.RunningCount++
		case models.JobStatusCompleted:
			stats.CompletedCount++
		case models.JobStatusFailed:
			stats.FailedCount++
		case models.JobStatusCancelled:
			stats.CancelledCount++
		}
	}

	return stats, nil
}
