package models

import (
	"gorm.io/gorm"
)

// CompositionStatus represents the state of a composition job.
type CompositionStatus string

const (
	CompositionStatusQueued     CompositionStatus = "queued"
	CompositionStatusProcessing CompositionStatus = "processing"
	CompositionStatusCompleted  CompositionStatus = "completed"
	CompositionStatusFailed     CompositionStatus = "failed"
	CompositionStatusCanceled   CompositionStatus = "canceled"
)

// CompositionStep names the pipeline steps of a composition run.
type CompositionStep string

const (
	CompositionStepQueued        CompositionStep = "queued"
	CompositionStepValidating    CompositionStep = "validating"
	CompositionStepDownloading   CompositionStep = "downloading"
	CompositionStepNormalizing   CompositionStep = "normalizing"
	CompositionStepBeatAligning  CompositionStep = "beat_aligning"
	CompositionStepConcatenating CompositionStep = "concatenating"
	CompositionStepBeatEffects   CompositionStep = "beat_effects"
	CompositionStepMuxing        CompositionStep = "muxing"
	CompositionStepVerifying     CompositionStep = "verifying"
	CompositionStepUploading     CompositionStep = "uploading"
	CompositionStepDone          CompositionStep = "done"
)

// CompositionJob tracks one composition run for a song. At most one
// non-terminal composition exists per song.
type CompositionJob struct {
	BaseModel

	// SongID is the owning song.
	SongID ULID `gorm:"type:varchar(26);not null;index" json:"song_id"`

	// ClipIDs is the ordered list of clips being composed.
	ClipIDs []ULID `gorm:"serializer:json" json:"clip_ids"`

	// Status is the job state machine.
	Status CompositionStatus `gorm:"not null;default:'queued';size:20;index" json:"status"`

	// Step is the pipeline step currently executing.
	Step CompositionStep `gorm:"size:30;default:'queued'" json:"step"`

	// Progress is the completion percentage, 0-100, monotonic.
	Progress int `gorm:"default:0" json:"progress"`

	// Error holds the failure message when Status is failed.
	Error string `gorm:"size:4096" json:"error,omitempty"`
}

// TableName returns the table name for CompositionJob.
func (CompositionJob) TableName() string {
	return "composition_jobs"
}

// IsTerminal returns true when the composition reached a final state.
func (c *CompositionJob) IsTerminal() bool {
	return c.Status == CompositionStatusCompleted ||
		c.Status == CompositionStatusFailed ||
		c.Status == CompositionStatusCanceled
}

// AdvanceStep moves to the given step, ratcheting progress upward.
func (c *CompositionJob) AdvanceStep(step CompositionStep, progress int) {
	c.Step = step
	if progress > c.Progress {
		c.Progress = progress
	}
}

// Validate performs basic validation on the composition job.
func (c *CompositionJob) Validate() error {
	if c.SongID.IsZero() {
		return ErrValidation{Field: "song_id", Message: "is required"}
	}
	return nil
}

// BeforeCreate is a GORM hook that validates the job and generates its ID.
func (c *CompositionJob) BeforeCreate(tx *gorm.DB) error {
	if err := c.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	if c.Status == "" {
		c.Status = CompositionStatusQueued
	}
	if c.Step == "" {
		c.Step = CompositionStepQueued
	}
	return c.Validate()
}

// ComposedVideo is a finished video artifact. Multiple may exist per
// song; the most recent is current.
type ComposedVideo struct {
	BaseModel

	// SongID is the owning song.
	SongID ULID `gorm:"type:varchar(26);not null;index" json:"song_id"`

	// CompositionJobID is the job that produced this artifact.
	CompositionJobID ULID `gorm:"type:varchar(26);not null;index" json:"composition_job_id"`

	// BlobKey locates the MP4 bytes in the blob store.
	BlobKey string `gorm:"not null;size:512" json:"blob_key"`

	// ClipIDs is the ordered list of clips used.
	ClipIDs []ULID `gorm:"serializer:json" json:"clip_ids"`

	Width       int     `json:"width"`
	Height      int     `json:"height"`
	FPS         int     `json:"fps"`
	DurationSec float64 `json:"duration_sec"`
	ByteSize    int64   `json:"byte_size"`
}

// TableName returns the table name for ComposedVideo.
func (ComposedVideo) TableName() string {
	return "composed_videos"
}

// Validate performs basic validation on the composed video.
func (v *ComposedVideo) Validate() error {
	if v.SongID.IsZero() {
		return ErrValidation{Field: "song_id", Message: "is required"}
	}
	if v.BlobKey == "" {
		return ErrValidation{Field: "blob_key", Message: "is required"}
	}
	return nil
}

// BeforeCreate is a GORM hook that validates the record and generates its ID.
func (v *ComposedVideo) BeforeCreate(tx *gorm.DB) error {
	if err := v.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	return v.Validate()
}
