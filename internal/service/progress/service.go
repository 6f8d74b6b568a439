package progress

import (
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/beatreel/beatreel/internal/models"
)

// Subscriber represents a client subscribed to job events.
type Subscriber struct {
	ID     string
	Filter *Filter
	Events chan *JobEvent
}

// Service fans job progress out to SSE subscribers and keeps the latest
// event per in-flight job so reconnecting clients can catch up without
// re-reading every job row.
type Service struct {
	mu          sync.RWMutex
	latest      map[models.ULID]*JobEvent
	subscribers map[string]*Subscriber
	logger      *slog.Logger

	staleDuration time.Duration
	cleanupTicker *time.Ticker
	stopCleanup   chan struct{}
}

// NewService creates a new progress service.
func NewService(logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		latest:        make(map[models.ULID]*JobEvent),
		subscribers:   make(map[string]*Subscriber),
		logger:        logger.With("component", "progress_service"),
		staleDuration: 5 * time.Minute,
		stopCleanup:   make(chan struct{}),
	}
}

// Start begins background cleanup of stale finished jobs.
func (s *Service) Start() {
	s.cleanupTicker = time.NewTicker(time.Minute)
	go s.cleanupLoop()
}

// Stop halts the background cleanup.
func (s *Service) Stop() {
	if s.cleanupTicker != nil {
		s.cleanupTicker.Stop()
		close(s.stopCleanup)
	}
}

func (s *Service) cleanupLoop() {
	for {
		select {
		case <-s.cleanupTicker.C:
			s.cleanupStale()
		case <-s.stopCleanup:
			return
		}
	}
}

// cleanupStale removes finished jobs older than staleDuration from the
// latest-event cache.
func (s *Service) cleanupStale() {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-s.staleDuration)
	removed := 0

	for jobID, ev := range s.latest {
		if ev.EventType == EventTypeFinished && ev.Timestamp.Before(cutoff) {
			delete(s.latest, jobID)
			removed++
		}
	}

	if removed > 0 {
		s.logger.Debug("cleaned up stale job events", "count", removed)
	}
}

// NotifyJobProgress publishes a step/percent change for a running job.
// Implements the scheduler's progress notifier.
func (s *Service) NotifyJobProgress(job *models.Job, step string, percent int) {
	s.publish(&JobEvent{
		EventType: EventTypeProgress,
		JobID:     job.ID,
		JobType:   job.Type,
		SongID:    job.SongID,
		Status:    job.Status,
		Step:      step,
		Progress:  percent,
		Timestamp: time.Now(),
	})
}

// NotifyJobFinished publishes a terminal transition for a job.
// Implements the scheduler's progress notifier.
func (s *Service) NotifyJobFinished(job *models.Job) {
	s.publish(&JobEvent{
		EventType: EventTypeFinished,
		JobID:     job.ID,
		JobType:   job.Type,
		SongID:    job.SongID,
		Status:    job.Status,
		Step:      job.Step,
		Progress:  job.Progress,
		Error:     job.LastError,
		Result:    job.Result,
		Timestamp: time.Now(),
	})
}

// Latest returns the most recent event for a job, if one is cached.
func (s *Service) Latest(jobID models.ULID) (*JobEvent, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ev, ok := s.latest[jobID]
	return ev, ok
}

// Snapshot returns the latest cached event for every job matching the
// filter. Used to prime a reconnecting SSE client.
func (s *Service) Snapshot(filter *Filter) []*JobEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*JobEvent
	for _, ev := range s.latest {
		if filter.Matches(ev) {
			out = append(out, ev)
		}
	}
	return out
}

// Subscribe creates a new subscriber for job events.
func (s *Service) Subscribe(filter *Filter) *Subscriber {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub := &Subscriber{
		ID:     ulid.Make().String(),
		Filter: filter,
		Events: make(chan *JobEvent, 100),
	}
	s.subscribers[sub.ID] = sub

	s.logger.Debug("subscriber added", "subscriber_id", sub.ID)
	return sub
}

// Unsubscribe removes a subscriber and closes its channel.
func (s *Service) Unsubscribe(subscriberID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sub, ok := s.subscribers[subscriberID]; ok {
		close(sub.Events)
		delete(s.subscribers, subscriberID)
		s.logger.Debug("subscriber removed", "subscriber_id", subscriberID)
	}
}

// publish caches the event and fans it out to matching subscribers.
func (s *Service) publish(event *JobEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.latest[event.JobID] = event

	for _, sub := range s.subscribers {
		if !sub.Filter.Matches(event) {
			continue
		}
		select {
		case sub.Events <- event:
		default:
			// Channel full, drop rather than block the worker.
			s.logger.Warn("subscriber event channel full, dropping event",
				"subscriber_id", sub.ID,
				"job_id", event.JobID.String())
		}
	}
}
