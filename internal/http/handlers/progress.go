package handlers

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/beatreel/beatreel/internal/models"
	"github.com/beatreel/beatreel/internal/service/progress"
)

// ProgressHandler streams job progress events over SSE. Clients poll
// the job endpoints for durable state; the event stream is a low-latency
// overlay on top of it.
type ProgressHandler struct {
	service           *progress.Service
	heartbeatInterval time.Duration
}

// NewProgressHandler creates a new progress handler.
func NewProgressHandler(service *progress.Service) *ProgressHandler {
	return &ProgressHandler{
		service:           service,
		heartbeatInterval: 30 * time.Second,
	}
}

// SetHeartbeatInterval sets the SSE heartbeat interval (for testing).
func (h *ProgressHandler) SetHeartbeatInterval(interval time.Duration) {
	h.heartbeatInterval = interval
}

// RegisterSSE registers the SSE endpoint on a chi router. Huma does not
// stream SSE natively, so this bypasses the typed operation layer.
func (h *ProgressHandler) RegisterSSE(router interface {
	Get(pattern string, handlerFn http.HandlerFunc)
}) {
	router.Get("/api/v1/events", h.handleSSEEvents)
}

// handleSSEEvents streams job events to the client until it disconnects.
// On connect, the latest cached event of every matching in-flight job is
// replayed so reloading clients resume without extra requests.
func (h *ProgressHandler) handleSSEEvents(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	filter := h.parseSSEFilter(r)

	sub := h.service.Subscribe(filter)
	defer h.service.Unsubscribe(sub.ID)

	rc := http.NewResponseController(w)

	heartbeat := time.NewTicker(h.heartbeatInterval)
	defer heartbeat.Stop()

	ctx := r.Context()

	// Establish the connection and trigger onopen in the browser.
	fmt.Fprintf(w, ":connected\n\n")
	if err := rc.Flush(); err != nil {
		return
	}

	// Prime the client with the latest state of matching jobs.
	for _, ev := range h.service.Snapshot(filter) {
		if err := h.writeSSEEvent(w, ev); err != nil {
			return
		}
	}
	if err := rc.Flush(); err != nil {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			fmt.Fprintf(w, ":heartbeat %d\n\n", time.Now().Unix())
			if err := rc.Flush(); err != nil {
				slog.Debug("heartbeat flush failed, client likely disconnected", "error", err)
				return
			}
		case event, ok := <-sub.Events:
			if !ok {
				return
			}
			if err := h.writeSSEEvent(w, event); err != nil {
				slog.Error("failed to write SSE event",
					"event_type", event.EventType,
					"job_id", event.JobID.String(),
					"error", err)
				return
			}
			if err := rc.Flush(); err != nil {
				slog.Debug("event flush failed, client likely disconnected",
					"event_type", event.EventType,
					"error", err)
				return
			}
		}
	}
}

// parseSSEFilter parses subscription filters from the request. Invalid
// IDs are ignored rather than rejected: an unfiltered stream is safe.
func (h *ProgressHandler) parseSSEFilter(r *http.Request) *progress.Filter {
	query := r.URL.Query()
	filter := &progress.Filter{}

	if songID := query.Get("song_id"); songID != "" {
		if id, err := models.ParseULID(songID); err == nil {
			filter.SongID = &id
		}
	}
	if jobType := query.Get("job_type"); jobType != "" {
		t := models.JobType(jobType)
		filter.JobType = &t
	}

	return filter
}

// writeSSEEvent writes one event in SSE wire format.
func (h *ProgressHandler) writeSSEEvent(w http.ResponseWriter, event *progress.JobEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.EventType, data); err != nil {
		return err
	}
	return nil
}
