// Package handlers provides HTTP API handlers for beatreel.
package handlers

import (
	"errors"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/beatreel/beatreel/internal/models"
)

// PaginationMeta describes the page window of a list response.
type PaginationMeta struct {
	CurrentPage int   `json:"current_page"`
	PageSize    int   `json:"page_size"`
	TotalItems  int64 `json:"total_items"`
	TotalPages  int64 `json:"total_pages"`
}

// NewPaginationMeta computes pagination metadata from an offset window.
func NewPaginationMeta(offset, limit int, total int64) PaginationMeta {
	if limit < 1 {
		limit = 1
	}
	totalPages := total / int64(limit)
	if total%int64(limit) > 0 {
		totalPages++
	}
	return PaginationMeta{
		CurrentPage: (offset / limit) + 1,
		PageSize:    limit,
		TotalItems:  total,
		TotalPages:  totalPages,
	}
}

// JobResponse represents a job in API responses. Progress and step come
// straight from the job row, which is the durable progress record.
type JobResponse struct {
	ID           string     `json:"id"`
	Type         string     `json:"type"`
	Queue        string     `json:"queue"`
	SongID       string     `json:"song_id,omitempty"`
	TargetID     string     `json:"target_id,omitempty"`
	Status       string     `json:"status"`
	Step         string     `json:"step,omitempty"`
	Progress     int        `json:"progress"`
	Error        string     `json:"error,omitempty"`
	Result       string     `json:"result,omitempty"`
	AttemptCount int        `json:"attempt_count"`
	MaxAttempts  int        `json:"max_attempts"`
	CreatedAt    time.Time  `json:"created_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	DurationMs   int64      `json:"duration_ms,omitempty"`
}

// JobFromModel converts a job model to a response. The canceling status
// is reported as running: cancellation is an internal handshake and
// clients only need terminal "cancelled".
func JobFromModel(j *models.Job) JobResponse {
	status := j.Status
	if status == models.JobStatusCanceling {
		status = models.JobStatusRunning
	}

	resp := JobResponse{
		ID:           j.ID.String(),
		Type:         string(j.Type),
		Queue:        j.Queue,
		Status:       string(status),
		Step:         j.Step,
		Progress:     j.Progress,
		Error:        j.LastError,
		Result:       j.Result,
		AttemptCount: j.AttemptCount,
		MaxAttempts:  j.MaxAttempts,
		CreatedAt:    j.CreatedAt,
		StartedAt:    j.StartedAt,
		CompletedAt:  j.CompletedAt,
		DurationMs:   j.DurationMs,
	}
	if !j.SongID.IsZero() {
		resp.SongID = j.SongID.String()
	}
	if !j.TargetID.IsZero() {
		resp.TargetID = j.TargetID.String()
	}
	return resp
}

// JobHistoryResponse represents a job history record in API responses.
type JobHistoryResponse struct {
	ID            string     `json:"id"`
	JobID         string     `json:"job_id"`
	Type          string     `json:"type"`
	SongID        string     `json:"song_id,omitempty"`
	Status        string     `json:"status"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	DurationMs    int64      `json:"duration_ms,omitempty"`
	AttemptNumber int        `json:"attempt_number"`
	Error         string     `json:"error,omitempty"`
	Result        string     `json:"result,omitempty"`
}

// JobHistoryFromModel converts a job history model to a response.
func JobHistoryFromModel(h *models.JobHistory) JobHistoryResponse {
	resp := JobHistoryResponse{
		ID:            h.ID.String(),
		JobID:         h.JobID.String(),
		Type:          string(h.Type),
		Status:        string(h.Status),
		StartedAt:     h.StartedAt,
		CompletedAt:   h.CompletedAt,
		DurationMs:    h.DurationMs,
		AttemptNumber: h.AttemptNumber,
		Error:         h.Error,
		Result:        h.Result,
	}
	if !h.SongID.IsZero() {
		resp.SongID = h.SongID.String()
	}
	return resp
}

// SongResponse represents a song in API responses.
type SongResponse struct {
	ID                string    `json:"id"`
	Title             string    `json:"title"`
	SourceFormat      string    `json:"source_format"`
	SourceURL         string    `json:"source_url,omitempty"`
	DurationSec       float64   `json:"duration_sec"`
	VideoType         string    `json:"video_type"`
	SelectionStartSec *float64  `json:"selection_start_sec,omitempty"`
	SelectionEndSec   *float64  `json:"selection_end_sec,omitempty"`
	HasCharacterRef   bool      `json:"has_character_ref"`
	AnalysisState     string    `json:"analysis_state"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// SongFromModel converts a song model to a response. sourceURL is the
// short-lived signed read URL for the audio blob; empty omits the field.
func SongFromModel(s *models.Song, sourceURL string) SongResponse {
	return SongResponse{
		ID:                s.ID.String(),
		Title:             s.Title,
		SourceFormat:      s.SourceFormat,
		SourceURL:         sourceURL,
		DurationSec:       s.DurationSec,
		VideoType:         string(s.VideoType),
		SelectionStartSec: s.SelectionStartSec,
		SelectionEndSec:   s.SelectionEndSec,
		HasCharacterRef:   s.CharacterBlobKey != "",
		AnalysisState:     string(s.AnalysisState),
		CreatedAt:         s.CreatedAt,
		UpdatedAt:         s.UpdatedAt,
	}
}

// ClipResponse represents a clip in API responses.
type ClipResponse struct {
	ID           string    `json:"id"`
	SongID       string    `json:"song_id"`
	PlanIndex    int       `json:"plan_index"`
	Prompt       string    `json:"prompt"`
	Seed         int64     `json:"seed"`
	Frames       int       `json:"frames"`
	FPS          int       `json:"fps"`
	Status       string    `json:"status"`
	ResultURL    string    `json:"result_url,omitempty"`
	ResultWidth  int       `json:"result_width,omitempty"`
	ResultHeight int       `json:"result_height,omitempty"`
	ResultFPS    float64   `json:"result_fps,omitempty"`
	Error        string    `json:"error,omitempty"`
	AttemptCount int       `json:"attempt_count"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// ClipFromModel converts a clip model to a response.
func ClipFromModel(c *models.Clip) ClipResponse {
	return ClipResponse{
		ID:           c.ID.String(),
		SongID:       c.SongID.String(),
		PlanIndex:    c.PlanIndex,
		Prompt:       c.Prompt,
		Seed:         c.Seed,
		Frames:       c.Frames,
		FPS:          c.FPS,
		Status:       string(c.Status),
		ResultURL:    c.ResultURL,
		ResultWidth:  c.ResultWidth,
		ResultHeight: c.ResultHeight,
		ResultFPS:    c.ResultFPS,
		Error:        c.Error,
		AttemptCount: c.AttemptCount,
		UpdatedAt:    c.UpdatedAt,
	}
}

// CompositionResponse represents a composition job in API responses.
type CompositionResponse struct {
	ID        string    `json:"id"`
	SongID    string    `json:"song_id"`
	ClipIDs   []string  `json:"clip_ids"`
	Status    string    `json:"status"`
	Step      string    `json:"step"`
	Progress  int       `json:"progress"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CompositionFromModel converts a composition job model to a response.
func CompositionFromModel(c *models.CompositionJob) CompositionResponse {
	clipIDs := make([]string, 0, len(c.ClipIDs))
	for _, id := range c.ClipIDs {
		clipIDs = append(clipIDs, id.String())
	}
	return CompositionResponse{
		ID:        c.ID.String(),
		SongID:    c.SongID.String(),
		ClipIDs:   clipIDs,
		Status:    string(c.Status),
		Step:      string(c.Step),
		Progress:  c.Progress,
		Error:     c.Error,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
}

// ComposedVideoResponse represents a composed video artifact in API responses.
type ComposedVideoResponse struct {
	ID               string    `json:"id"`
	SongID           string    `json:"song_id"`
	CompositionJobID string    `json:"composition_job_id"`
	URL              string    `json:"url,omitempty"`
	Width            int       `json:"width"`
	Height           int       `json:"height"`
	FPS              int       `json:"fps"`
	DurationSec      float64   `json:"duration_sec"`
	ByteSize         int64     `json:"byte_size"`
	CreatedAt        time.Time `json:"created_at"`
}

// ComposedVideoFromModel converts a composed video model to a response.
// url is the short-lived signed read URL for the MP4 blob.
func ComposedVideoFromModel(v *models.ComposedVideo, url string) ComposedVideoResponse {
	return ComposedVideoResponse{
		ID:               v.ID.String(),
		SongID:           v.SongID.String(),
		CompositionJobID: v.CompositionJobID.String(),
		URL:              url,
		Width:            v.Width,
		Height:           v.Height,
		FPS:              v.FPS,
		DurationSec:      v.DurationSec,
		ByteSize:         v.ByteSize,
		CreatedAt:        v.CreatedAt,
	}
}

// parseULID parses a path or query ULID, mapping failure to a 400.
func parseULID(raw string) (models.ULID, error) {
	id, err := models.ParseULID(raw)
	if err != nil {
		return models.ULID{}, huma.Error400BadRequest("invalid ID format", err)
	}
	return id, nil
}

// serviceError maps service-layer sentinel errors onto HTTP statuses:
// not-found to 404, precondition failures to 409, validation to 422 and
// everything else to a generic 500 with the fallback message.
func serviceError(err error, fallback string) error {
	switch {
	case errors.Is(err, models.ErrSongNotFound),
		errors.Is(err, models.ErrAnalysisNotFound),
		errors.Is(err, models.ErrPlanNotFound),
		errors.Is(err, models.ErrClipNotFound),
		errors.Is(err, models.ErrJobNotFound):
		return huma.Error404NotFound(err.Error())

	case errors.Is(err, models.ErrVideoTypeLocked),
		errors.Is(err, models.ErrVideoTypeRequired),
		errors.Is(err, models.ErrSelectionRequired),
		errors.Is(err, models.ErrAnalysisRequired),
		errors.Is(err, models.ErrAnalysisInProgress),
		errors.Is(err, models.ErrPlanRequired),
		errors.Is(err, models.ErrClipsIncomplete),
		errors.Is(err, models.ErrCompositionInProgress),
		errors.Is(err, models.ErrClipNotRetryable),
		errors.Is(err, models.ErrJobNotCancelable):
		return huma.Error409Conflict(err.Error())

	case errors.Is(err, models.ErrInvalidVideoType),
		errors.Is(err, models.ErrInvalidSelection),
		errors.Is(err, models.ErrSongDurationExceeded),
		errors.Is(err, models.ErrUnsupportedAudioFormat):
		return huma.Error422UnprocessableEntity(err.Error())
	}

	var validation models.ErrValidation
	if errors.As(err, &validation) {
		return huma.Error422UnprocessableEntity(validation.Error())
	}

	return huma.Error500InternalServerError(fallback, err)
}
