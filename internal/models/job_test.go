package models

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJob_TableName(t *testing.T) {
	job := Job{}
	assert.Equal(t, "jobs", job.TableName())
}

func TestJobHistory_TableName(t *testing.T) {
	history := JobHistory{}
	assert.Equal(t, "job_history", history.TableName())
}

func TestJob_IsRecurring(t *testing.T) {
	tests := []struct {
		name         string
		cronSchedule string
		want         bool
	}{
		{
			name:         "recurring job with cron schedule",
			cronSchedule: "0 0 3 * * *",
			want:         true,
		},
		{
			name:         "one-off job without cron schedule",
			cronSchedule: "",
			want:         false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := &Job{CronSchedule: tt.cronSchedule}
			assert.Equal(t, tt.want, job.IsRecurring())
		})
	}
}

func TestJob_StatusChecks(t *testing.T) {
	tests := []struct {
		name         string
		status       JobStatus
		isPending    bool
		isRunning    bool
		isFinished   bool
		isCancelable bool
	}{
		{
			name:         "pending status",
			status:       JobStatusPending,
			isPending:    true,
			isCancelable: true,
		},
		{
			name:         "scheduled status",
			status:       JobStatusScheduled,
			isPending:    true,
			isCancelable: true,
		},
		{
			name:         "running status",
			status:       JobStatusRunning,
			isRunning:    true,
			isCancelable: true,
		},
		{
			name:      "canceling status",
			status:    JobStatusCanceling,
			isRunning: true,
		},
		{
			name:       "completed status",
			status:     JobStatusCompleted,
			isFinished: true,
		},
		{
			name:       "failed status",
			status:     JobStatusFailed,
			isFinished: true,
		},
		{
			name:       "cancelled status",
			status:     JobStatusCancelled,
			isFinished: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := &Job{Status: tt.status}
			assert.Equal(t, tt.isPending, job.IsPending(), "IsPending")
			assert.Equal(t, tt.isRunning, job.IsRunning(), "IsRunning")
			assert.Equal(t, tt.isFinished, job.IsFinished(), "IsFinished")
			assert.Equal(t, tt.isCancelable, job.IsCancelable(), "IsCancelable")
		})
	}
}

func TestJob_CanRetry(t *testing.T) {
	tests := []struct {
		name         string
		status       JobStatus
		attemptCount int
		maxAttempts  int
		want         bool
	}{
		{
			name:         "failed with attempts remaining",
			status:       JobStatusFailed,
			attemptCount: 1,
			maxAttempts:  3,
			want:         true,
		},
		{
			name:         "failed with no attempts remaining",
			status:       JobStatusFailed,
			attemptCount: 3,
			maxAttempts:  3,
			want:         false,
		},
		{
			name:         "completed cannot retry",
			status:       JobStatusCompleted,
			attemptCount: 1,
			maxAttempts:  3,
			want:         false,
		},
		{
			name:         "running cannot retry",
			status:       JobStatusRunning,
			attemptCount: 1,
			maxAttempts:  3,
			want:         false,
		},
		{
			name:         "no max attempts",
			status:       JobStatusFailed,
			attemptCount: 1,
			maxAttempts:  0,
			want:         false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := &Job{
				Status:       tt.status,
				AttemptCount: tt.attemptCount,
				MaxAttempts:  tt.maxAttempts,
			}
			assert.Equal(t, tt.want, job.CanRetry())
		})
	}
}

func TestJob_MarkRunning(t *testing.T) {
	job := &Job{
		Status:       JobStatusPending,
		AttemptCount: 0,
		LastError:    "previous error",
	}

	job.MarkRunning("worker-1")

	assert.Equal(t, JobStatusRunning, job.Status)
	assert.Equal(t, 1, job.AttemptCount)
	assert.Equal(t, "worker-1", job.LockedBy)
	assert.NotNil(t, job.StartedAt)
	assert.NotNil(t, job.LockedAt)
	assert.Empty(t, job.LastError)
}

func TestJob_MarkCompleted(t *testing.T) {
	startTime := time.Now()
	job := &Job{
		Status:    JobStatusRunning,
		StartedAt: &startTime,
		LockedBy:  "worker-1",
	}

	// Wait a tiny bit to ensure duration is measurable
	time.Sleep(time.Millisecond)
	job.MarkCompleted("composed 6 clips")

	assert.Equal(t, JobStatusCompleted, job.Status)
	assert.NotNil(t, job.CompletedAt)
	assert.Equal(t, "composed 6 clips", job.Result)
	assert.Equal(t, 100, job.Progress)
	assert.Empty(t, job.LockedBy)
	assert.Nil(t, job.LockedAt)
	assert.GreaterOrEqual(t, job.DurationMs, int64(0))
}

func TestJob_MarkFailed(t *testing.T) {
	startTime := time.Now()
	job := &Job{
		Status:    JobStatusRunning,
		StartedAt: &startTime,
		LockedBy:  "worker-1",
	}

	testErr := errors.New("connection timeout")
	job.MarkFailed(testErr)

	assert.Equal(t, JobStatusFailed, job.Status)
	assert.NotNil(t, job.CompletedAt)
	assert.Equal(t, "connection timeout", job.LastError)
	assert.Empty(t, job.LockedBy)
	assert.Nil(t, job.LockedAt)
}

func TestJob_MarkCancelled(t *testing.T) {
	job := &Job{
		Status:   JobStatusCanceling,
		LockedBy: "worker-1",
	}

	job.MarkCancelled()

	assert.Equal(t, JobStatusCancelled, job.Status)
	assert.NotNil(t, job.CompletedAt)
	assert.Empty(t, job.LockedBy)
	assert.Nil(t, job.LockedAt)
}

func TestJob_CalculateNextBackoff(t *testing.T) {
	tests := []struct {
		name           string
		backoffSeconds int
		attemptCount   int
		want           time.Duration
	}{
		{
			name:           "first retry with 2s base",
			backoffSeconds: 2,
			attemptCount:   1,
			want:           2 * time.Second,
		},
		{
			name:           "second retry doubles backoff",
			backoffSeconds: 2,
			attemptCount:   2,
			want:           4 * time.Second,
		},
		{
			name:           "third retry quadruples backoff",
			backoffSeconds: 2,
			attemptCount:   3,
			want:           8 * time.Second,
		},
		{
			name:           "backoff capped at 1 hour",
			backoffSeconds: 60,
			attemptCount:   10,
			want:           3600 * time.Second,
		},
		{
			name:           "default backoff when zero",
			backoffSeconds: 0,
			attemptCount:   1,
			want:           2 * time.Second,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := &Job{
				BackoffSeconds: tt.backoffSeconds,
				AttemptCount:   tt.attemptCount,
			}
			assert.Equal(t, tt.want, job.CalculateNextBackoff())
		})
	}
}

func TestJob_ScheduleRetry(t *testing.T) {
	t.Run("schedules retry when can retry", func(t *testing.T) {
		job := &Job{
			Status:         JobStatusFailed,
			AttemptCount:   1,
			MaxAttempts:    3,
			BackoffSeconds: 2,
			LockedBy:       "worker-1",
		}

		job.ScheduleRetry()

		assert.Equal(t, JobStatusScheduled, job.Status)
		assert.NotNil(t, job.NextRunAt)
		assert.Empty(t, job.LockedBy)
		assert.Nil(t, job.LockedAt)
	})

	t.Run("does not schedule retry when cannot retry", func(t *testing.T) {
		job := &Job{
			Status:       JobStatusFailed,
			AttemptCount: 3,
			MaxAttempts:  3,
		}

		job.ScheduleRetry()

		// Status should remain failed
		assert.Equal(t, JobStatusFailed, job.Status)
		assert.Nil(t, job.NextRunAt)
	})
}

func TestJob_Validate(t *testing.T) {
	tests := []struct {
		name    string
		job     *Job
		wantErr error
	}{
		{
			name: "valid job",
			job: &Job{
				Type:   JobTypeSongAnalysis,
				SongID: NewULID(),
			},
			wantErr: nil,
		},
		{
			name: "missing type",
			job: &Job{
				SongID: NewULID(),
			},
			wantErr: ErrJobTypeRequired,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.job.Validate()
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestJob_Integration(t *testing.T) {
	// Integration test: simulate a clip generation job lifecycle
	job := &Job{
		Type:           JobTypeClipGeneration,
		Queue:          QueueClipGeneration,
		SongID:         NewULID(),
		Status:         JobStatusPending,
		MaxAttempts:    3,
		BackoffSeconds: 2,
	}

	// Job starts
	require.True(t, job.IsPending())
	job.MarkRunning("worker-1")
	require.True(t, job.IsRunning())
	require.Equal(t, 1, job.AttemptCount)

	// First attempt fails
	job.MarkFailed(errors.New("network error"))
	require.True(t, job.IsFinished())
	require.True(t, job.CanRetry())

	// Schedule retry
	job.ScheduleRetry()
	require.Equal(t, JobStatusScheduled, job.Status)
	require.NotNil(t, job.NextRunAt)

	// Second attempt
	job.MarkRunning("worker-2")
	require.Equal(t, 2, job.AttemptCount)

	// Second attempt fails
	job.MarkFailed(errors.New("timeout"))
	require.True(t, job.CanRetry())

	// Third attempt succeeds
	job.MarkRunning("worker-1")
	require.Equal(t, 3, job.AttemptCount)
	job.MarkCompleted("generated 6 clips")
	require.True(t, job.IsFinished())
	require.False(t, job.CanRetry())
	require.Equal(t, "generated 6 clips", job.Result)
}
