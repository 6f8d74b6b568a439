package models

import (
	"math"

	"gorm.io/gorm"
)

// PlannedClip is one entry of a clip plan: a beat-aligned window of the
// song that a visual clip will cover.
type PlannedClip struct {
	Index       int     `json:"index"`
	StartSec    float64 `json:"start_sec"`
	EndSec      float64 `json:"end_sec"`
	StartBeat   int     `json:"start_beat"`
	EndBeat     int     `json:"end_beat"`
	StartFrame  int     `json:"start_frame"`
	EndFrame    int     `json:"end_frame"`
	BeatsInClip int     `json:"beats_in_clip"`
}

// DurationSec returns the planned clip length in seconds.
func (p PlannedClip) DurationSec() float64 {
	return p.EndSec - p.StartSec
}

// FrameCount returns the target frame count at the plan fps.
func (p PlannedClip) FrameCount() int {
	return p.EndFrame - p.StartFrame
}

// ClipPlan is the ordered, beat-aligned partition of a song (or its
// selection window) into clip boundaries. One plan per song; replanning
// replaces it.
type ClipPlan struct {
	BaseModel

	// SongID is the owning song.
	SongID ULID `gorm:"type:varchar(26);not null;uniqueIndex" json:"song_id"`

	// TargetFPS is the fps the frame columns were computed at.
	TargetFPS int `gorm:"not null" json:"target_fps"`

	// Entries is the ordered boundary list.
	Entries []PlannedClip `gorm:"serializer:json" json:"entries"`

	// MaxAlignmentErrorSec is the largest endpoint-to-beat error.
	MaxAlignmentErrorSec float64 `json:"max_alignment_error_sec"`

	// AvgAlignmentErrorSec is the mean endpoint-to-beat error.
	AvgAlignmentErrorSec float64 `json:"avg_alignment_error_sec"`

	// Status is "valid" when MaxAlignmentErrorSec <= 50ms, else "warning".
	Status string `gorm:"size:20" json:"status"`
}

// TableName returns the table name for ClipPlan.
func (ClipPlan) TableName() string {
	return "clip_plans"
}

// ClipStatus represents the generation state of a clip.
type ClipStatus string

const (
	// ClipStatusQueued means the clip awaits generation.
	ClipStatusQueued ClipStatus = "queued"
	// ClipStatusProcessing means a worker holds the generation claim.
	ClipStatusProcessing ClipStatus = "processing"
	// ClipStatusCompleted means a fetchable result exists with the
	// requested duration within one frame.
	ClipStatusCompleted ClipStatus = "completed"
	// ClipStatusFailed means generation failed terminally.
	ClipStatusFailed ClipStatus = "failed"
	// ClipStatusCanceled means generation was canceled.
	ClipStatusCanceled ClipStatus = "canceled"
)

// Clip is a generated (or to-be-generated) visual segment for one plan entry.
type Clip struct {
	BaseModel

	// SongID is the owning song.
	SongID ULID `gorm:"type:varchar(26);not null;index" json:"song_id"`

	// PlanIndex is the position of this clip in the plan.
	PlanIndex int `gorm:"not null" json:"plan_index"`

	// Prompt is the assembled visual prompt text.
	Prompt string `gorm:"size:4096" json:"prompt"`

	// Seed is the generation seed for reproducibility.
	Seed int64 `json:"seed"`

	// Frames is the requested frame count.
	Frames int `gorm:"not null" json:"frames"`

	// FPS is the requested frame rate.
	FPS int `gorm:"not null" json:"fps"`

	// Status is the generation state machine.
	Status ClipStatus `gorm:"not null;default:'queued';size:20;index" json:"status"`

	// ExternalJobID is the provider-side job id, stored before polling
	// begins so a restarted worker resumes instead of resubmitting.
	ExternalJobID string `gorm:"size:255" json:"external_job_id,omitempty"`

	// ResultURL locates the generated video. Non-null iff completed.
	ResultURL string `gorm:"size:1024" json:"result_url,omitempty"`

	// ResultWidth, ResultHeight and ResultFPS are probed from the result.
	ResultWidth  int     `json:"result_width,omitempty"`
	ResultHeight int     `json:"result_height,omitempty"`
	ResultFPS    float64 `json:"result_fps,omitempty"`

	// Error holds the last generation error message.
	Error string `gorm:"size:4096" json:"error,omitempty"`

	// AttemptCount is the number of generation attempts made.
	AttemptCount int `gorm:"default:0" json:"attempt_count"`
}

// TableName returns the table name for Clip.
func (Clip) TableName() string {
	return "clips"
}

// RequestedDurationSec returns frames/fps.
func (c *Clip) RequestedDurationSec() float64 {
	if c.FPS == 0 {
		return 0
	}
	return float64(c.Frames) / float64(c.FPS)
}

// DurationWithinTolerance reports whether a probed duration matches the
// requested frames/fps within one frame.
func (c *Clip) DurationWithinTolerance(probedSec float64) bool {
	if c.FPS == 0 {
		return false
	}
	frameInterval := 1.0 / float64(c.FPS)
	return math.Abs(probedSec-c.RequestedDurationSec()) <= frameInterval
}

// IsTerminal returns true when the clip is in a final state.
func (c *Clip) IsTerminal() bool {
	return c.Status == ClipStatusCompleted || c.Status == ClipStatusFailed || c.Status == ClipStatusCanceled
}

// IsRetryable returns true when the clip can be reset to queued.
func (c *Clip) IsRetryable() bool {
	return c.Status == ClipStatusFailed || c.Status == ClipStatusCanceled
}

// IsPending returns true when the clip still needs generation work.
func (c *Clip) IsPending() bool {
	return c.Status == ClipStatusQueued || c.Status == ClipStatusFailed || c.Status == ClipStatusCanceled
}

// ResetForRetry returns the clip to queued and clears prior results.
func (c *Clip) ResetForRetry() {
	c.Status = ClipStatusQueued
	c.ExternalJobID = ""
	c.ResultURL = ""
	c.ResultWidth = 0
	c.ResultHeight = 0
	c.ResultFPS = 0
	c.Error = ""
}

// Validate performs basic validation on the clip.
func (c *Clip) Validate() error {
	if c.SongID.IsZero() {
		return ErrValidation{Field: "song_id", Message: "is required"}
	}
	if c.Frames <= 0 {
		return ErrValidation{Field: "frames", Message: "must be positive"}
	}
	if c.FPS <= 0 {
		return ErrValidation{Field: "fps", Message: "must be positive"}
	}
	return nil
}

// BeforeCreate is a GORM hook that validates the clip and generates its ID.
func (c *Clip) BeforeCreate(tx *gorm.DB) error {
	if err := c.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	if c.Status == "" {
		c.Status = ClipStatusQueued
	}
	return c.Validate()
}
