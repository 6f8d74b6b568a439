package models

import (
	"gorm.io/gorm"
)

// VideoType classifies the output the user wants for a song.
type VideoType string

const (
	// VideoTypeUnset means the user has not chosen yet.
	VideoTypeUnset VideoType = ""
	// VideoTypeFullLength produces a video over the whole track.
	VideoTypeFullLength VideoType = "full_length"
	// VideoTypeShortForm produces a video over a selected window of at
	// most 30 seconds.
	VideoTypeShortForm VideoType = "short_form"
)

// AnalysisState tracks the lifecycle of audio analysis for a song.
type AnalysisState string

const (
	// AnalysisStateIdle means no analysis has been requested.
	AnalysisStateIdle AnalysisState = "idle"
	// AnalysisStateQueued means an analysis job is enqueued.
	AnalysisStateQueued AnalysisState = "queued"
	// AnalysisStateProcessing means an analysis job is running.
	AnalysisStateProcessing AnalysisState = "processing"
	// AnalysisStateCompleted means the latest analysis finished.
	AnalysisStateCompleted AnalysisState = "completed"
	// AnalysisStateFailed means the latest analysis failed.
	AnalysisStateFailed AnalysisState = "failed"
)

// ShortFormMaxSelectionSec is the longest allowed audio selection for
// short-form songs.
const ShortFormMaxSelectionSec = 30.0

// Song represents an uploaded audio track and its creative inputs.
type Song struct {
	BaseModel

	// Title is taken from the uploaded filename, without extension.
	Title string `gorm:"size:255" json:"title"`

	// SourceBlobKey locates the uploaded audio bytes in the blob store.
	SourceBlobKey string `gorm:"not null;size:512" json:"source_blob_key"`

	// SourceFormat is the lowercase file extension of the upload (mp3, wav, ...).
	SourceFormat string `gorm:"size:16" json:"source_format"`

	// DurationSec is the decoded duration. Set once known, immutable after.
	DurationSec float64 `json:"duration_sec"`

	// VideoType is immutable once any analysis exists.
	VideoType VideoType `gorm:"size:20;default:''" json:"video_type"`

	// SelectionStartSec and SelectionEndSec bound the user-selected audio
	// window. Both nil when no selection has been made. For short_form,
	// 1 <= end-start <= 30.
	SelectionStartSec *float64 `json:"selection_start_sec,omitempty"`
	SelectionEndSec   *float64 `json:"selection_end_sec,omitempty"`

	// CharacterBlobKey locates the optional character reference image.
	CharacterBlobKey string `gorm:"size:512" json:"character_blob_key,omitempty"`

	// AnalysisState tracks the analysis lifecycle.
	AnalysisState AnalysisState `gorm:"size:20;default:'idle';index" json:"analysis_state"`
}

// TableName returns the table name for Song.
func (Song) TableName() string {
	return "songs"
}

// HasSelection returns true if the user has selected an audio window.
func (s *Song) HasSelection() bool {
	return s.SelectionStartSec != nil && s.SelectionEndSec != nil
}

// EffectiveWindow returns the [start, end] region used for planning and
// composition: the selection when set, otherwise the whole track.
func (s *Song) EffectiveWindow() (start, end float64) {
	if s.HasSelection() {
		return *s.SelectionStartSec, *s.SelectionEndSec
	}
	return 0, s.DurationSec
}

// SetSelection validates and applies an audio selection window.
func (s *Song) SetSelection(start, end float64) error {
	if start < 0 || end <= start {
		return ErrInvalidSelection
	}
	if s.DurationSec > 0 && end > s.DurationSec {
		return ErrInvalidSelection
	}
	if s.VideoType == VideoTypeShortForm {
		if d := end - start; d < 1.0 || d > ShortFormMaxSelectionSec {
			return ErrInvalidSelection
		}
	}
	s.SelectionStartSec = &start
	s.SelectionEndSec = &end
	return nil
}

// SetVideoType applies the video type. Callers must check the
// analysis-exists precondition before calling.
func (s *Song) SetVideoType(vt VideoType) error {
	if vt != VideoTypeFullLength && vt != VideoTypeShortForm {
		return ErrInvalidVideoType
	}
	s.VideoType = vt
	return nil
}

// Validate performs basic validation on the song.
func (s *Song) Validate() error {
	if s.SourceBlobKey == "" {
		return ErrValidation{Field: "source_blob_key", Message: "is required"}
	}
	if s.DurationSec < 0 {
		return ErrValidation{Field: "duration_sec", Message: "must be non-negative"}
	}
	return nil
}

// BeforeCreate is a GORM hook that validates the song and generates its ID.
func (s *Song) BeforeCreate(tx *gorm.DB) error {
	if err := s.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	if s.AnalysisState == "" {
		s.AnalysisState = AnalysisStateIdle
	}
	return s.Validate()
}
