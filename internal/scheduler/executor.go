package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/beatreel/beatreel/internal/models"
	"github.com/beatreel/beatreel/internal/repository"
)

// ErrJobCanceled is returned from a checkpoint once cancellation has been
// requested for the running job.
var ErrJobCanceled = errors.New("job canceled")

// ProgressFunc persists a step transition with a percentage (monotonic).
type ProgressFunc func(step string, percent int)

// CheckpointFunc is polled by handlers between units of work. It returns
// ErrJobCanceled when the job should stop.
type CheckpointFunc func() error

// JobHandler executes one job type. The result string is stored on the
// job record on success.
type JobHandler interface {
	Execute(ctx context.Context, job *models.Job, report ProgressFunc, checkpoint CheckpointFunc) (string, error)
}

// JobHandlerFunc adapts a function to the JobHandler interface.
type JobHandlerFunc func(ctx context.Context, job *models.Job, report ProgressFunc, checkpoint CheckpointFunc) (string, error)

// Execute implements JobHandler.
func (f JobHandlerFunc) Execute(ctx context.Context, job *models.Job, report ProgressFunc, checkpoint CheckpointFunc) (string, error) {
	return f(ctx, job, report, checkpoint)
}

// ProgressNotifier receives live job progress, e.g. to fan out over SSE.
type ProgressNotifier interface {
	NotifyJobProgress(job *models.Job, step string, percent int)
	NotifyJobFinished(job *models.Job)
}

// Executor dispatches jobs to the registered handlers and owns the job
// status lifecycle around each execution.
type Executor struct {
	handlers map[models.JobType]JobHandler
	jobRepo  repository.JobRepository
	notifier ProgressNotifier
	logger   *slog.Logger
}

// NewExecutor creates a new job executor.
func NewExecutor(jobRepo repository.JobRepository) *Executor {
	return &Executor{
		handlers: make(map[models.JobType]JobHandler),
		jobRepo:  jobRepo,
		logger:   slog.Default(),
	}
}

// WithLogger sets a custom logger.
func (e *Executor) WithLogger(logger *slog.Logger) *Executor {
	e.logger = logger
	return e
}

// WithNotifier sets the live progress notifier.
func (e *Executor) WithNotifier(notifier ProgressNotifier) *Executor {
	e.notifier = notifier
	return e
}

// RegisterHandler registers a handler for a job type.
func (e *Executor) RegisterHandler(jobType models.JobType, handler JobHandler) {
	e.handlers[jobType] = handler
}

// Execute runs a job and updates its status. Cancellation requests are
// surfaced to the handler through its checkpoint; a handler returning
// ErrJobCanceled finishes the job as cancelled, not failed.
func (e *Executor) Execute(ctx context.Context, job *models.Job) error {
	handler, ok := e.handlers[job.Type]
	if !ok {
		return fmt.Errorf("no handler registered for job type: %s", job.Type)
	}

	e.logger.Info("executing job",
		slog.String("job_id", job.ID.String()),
		slog.String("type", string(job.Type)),
		slog.String("song_id", job.SongID.String()))

	report := func(step string, percent int) {
		if err := e.jobRepo.UpdateProgress(ctx, job.ID, step, percent); err != nil {
			e.logger.Warn("failed to persist job progress",
				slog.String("job_id", job.ID.String()),
				slog.Any("error", err))
		}
		job.Step = step
		if percent > job.Progress {
			job.Progress = percent
		}
		if e.notifier != nil {
			e.notifier.NotifyJobProgress(job, step, percent)
		}
	}

	checkpoint := func() error {
		if err := ctx.Err(); err != nil {
			return err
		}
		canceling, err := e.jobRepo.IsCanceling(ctx, job.ID)
		if err != nil {
			e.logger.Warn("failed to poll cancellation",
				slog.String("job_id", job.ID.String()),
				slog.Any("error", err))
			return nil
		}
		if canceling {
			return ErrJobCanceled
		}
		return nil
	}

	result, err := handler.Execute(ctx, job, report, checkpoint)

	switch {
	case errors.Is(err, ErrJobCanceled):
		e.logger.Info("job cancelled",
			slog.String("job_id", job.ID.String()),
			slog.String("type", string(job.Type)))
		job.MarkCancelled()

	case err != nil:
		e.logger.Error("job failed",
			slog.String("job_id", job.ID.String()),
			slog.String("type", string(job.Type)),
			slog.Any("error", err))

		job.MarkFailed(err)
		if job.CanRetry() {
			job.ScheduleRetry()
			e.logger.Info("job scheduled for retry",
				slog.String("job_id", job.ID.String()),
				slog.Int("attempt", job.AttemptCount),
				slog.Time("next_run", job.NextRunAt.UTC()))
		}

	default:
		e.logger.Info("job completed",
			slog.String("job_id", job.ID.String()),
			slog.String("type", string(job.Type)),
			slog.String("result", result))
		job.MarkCompleted(result)
	}

	if err := e.jobRepo.Update(ctx, job); err != nil {
		e.logger.Error("failed to update job status",
			slog.String("job_id", job.ID.String()),
			slog.Any("error", err))
		return fmt.Errorf("updating job status: %w", err)
	}

	if job.IsFinished() {
		e.createHistoryRecord(ctx, job)
		if e.notifier != nil {
			e.notifier.NotifyJobFinished(job)
		}
	}

	return nil
}

// createHistoryRecord creates a job history record.
func (e *Executor) createHistoryRecord(ctx context.Context, job *models.Job) {
	history := &models.JobHistory{
		JobID:         job.ID,
		Type:          job.Type,
		SongID:        job.SongID,
		Status:        job.Status,
		StartedAt:     job.StartedAt,
		CompletedAt:   job.CompletedAt,
		DurationMs:    job.DurationMs,
		AttemptNumber: job.AttemptCount,
		Error:         job.LastError,
		Result:        job.Result,
	}

	if err := e.jobRepo.CreateHistory(ctx, history); err != nil {
		e.logger.Error("failed to create job history",
			slog.String("job_id", job.ID.String()),
			slog.Any("error", err))
	}
}
