// Package progress provides real-time job progress tracking and SSE
// broadcasting. Jobs publish step transitions through the scheduler's
// notifier hook; HTTP clients subscribe and receive JobEvent streams.
package progress

import (
	"time"

	"github.com/beatreel/beatreel/internal/models"
)

// Event types emitted to SSE subscribers.
const (
	// EventTypeProgress is a step or percent change on a running job.
	EventTypeProgress = "progress"
	// EventTypeFinished is a terminal transition (completed, failed, cancelled).
	EventTypeFinished = "finished"
	// EventTypeHeartbeat keeps idle SSE connections alive.
	EventTypeHeartbeat = "heartbeat"
)

// JobEvent is the wire shape sent to SSE subscribers. It carries enough
// of the job row that clients can render status without a follow-up GET.
type JobEvent struct {
	// EventType identifies the kind of event.
	EventType string `json:"event_type"`
	// JobID is the job this event describes.
	JobID models.ULID `json:"job_id"`
	// JobType is the job's type.
	JobType models.JobType `json:"job_type"`
	// SongID is the song the job operates on, if any.
	SongID models.ULID `json:"song_id,omitempty"`
	// Status is the job status at event time.
	Status models.JobStatus `json:"status"`
	// Step names the pipeline step currently executing.
	Step string `json:"step,omitempty"`
	// Progress is the completion percentage, 0-100, monotonic.
	Progress int `json:"progress"`
	// Error holds the last error message, if any.
	Error string `json:"error,omitempty"`
	// Result holds the job result on successful completion.
	Result string `json:"result,omitempty"`
	// Timestamp is when the event was generated.
	Timestamp time.Time `json:"timestamp"`
}

// Filter defines criteria for narrowing a subscription.
type Filter struct {
	// SongID restricts events to jobs of one song.
	SongID *models.ULID `json:"song_id,omitempty"`
	// JobType restricts events to one job type.
	JobType *models.JobType `json:"job_type,omitempty"`
}

// Matches returns true if the event passes the filter criteria.
func (f *Filter) Matches(e *JobEvent) bool {
	if f == nil {
		return true
	}
	if f.SongID != nil && *f.SongID != e.SongID {
		return false
	}
	if f.JobType != nil && *f.JobType != e.JobType {
		return false
	}
	return true
}

// HeartbeatEvent builds a keepalive event.
func HeartbeatEvent() *JobEvent {
	return &JobEvent{
		EventType: EventTypeHeartbeat,
		Timestamp: time.Now(),
	}
}
