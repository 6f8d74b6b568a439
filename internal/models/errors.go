package models

import (
	"errors"
	"fmt"
)

// ErrValidation represents a validation error with field and message.
type ErrValidation struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e ErrValidation) Error() string {
	return fmt.Sprintf("validation error on field %s: %s", e.Field, e.Message)
}

// Common errors for models and services.
var (
	// ErrSongNotFound indicates a song was not found.
	ErrSongNotFound = errors.New("song not found")

	// ErrAnalysisNotFound indicates no analysis exists for a song.
	ErrAnalysisNotFound = errors.New("analysis not found")

	// ErrPlanNotFound indicates no clip plan exists for a song.
	ErrPlanNotFound = errors.New("clip plan not found")

	// ErrClipNotFound indicates a clip was not found.
	ErrClipNotFound = errors.New("clip not found")

	// ErrJobNotFound indicates a job was not found.
	ErrJobNotFound = errors.New("job not found")

	// ErrVideoTypeLocked indicates the video type cannot change once
	// an analysis exists for the song.
	ErrVideoTypeLocked = errors.New("video type is locked after analysis")

	// ErrInvalidVideoType indicates an unknown video type value.
	ErrInvalidVideoType = errors.New("invalid video type: must be 'full_length' or 'short_form'")

	// ErrVideoTypeRequired indicates an operation needs the video type set first.
	ErrVideoTypeRequired = errors.New("video type must be set")

	// ErrInvalidSelection indicates an audio selection window outside the
	// allowed bounds for the song's video type.
	ErrInvalidSelection = errors.New("invalid audio selection window")

	// ErrSelectionRequired indicates a short-form operation needs an
	// audio selection first.
	ErrSelectionRequired = errors.New("audio selection must be set")

	// ErrAnalysisRequired indicates an operation needs a completed analysis.
	ErrAnalysisRequired = errors.New("song analysis must be completed")

	// ErrAnalysisInProgress indicates an analysis job is already running.
	ErrAnalysisInProgress = errors.New("analysis already in progress")

	// ErrPlanRequired indicates an operation needs a clip plan first.
	ErrPlanRequired = errors.New("clip plan must be created")

	// ErrClipsIncomplete indicates composition was requested before every
	// planned clip reached a terminal successful state.
	ErrClipsIncomplete = errors.New("all clips must be completed before composition")

	// ErrCompositionInProgress indicates a non-terminal composition job
	// already exists for the song.
	ErrCompositionInProgress = errors.New("composition already in progress")

	// ErrClipNotRetryable indicates a retry was requested for a clip that
	// is not in a failed or canceled state.
	ErrClipNotRetryable = errors.New("clip is not in a retryable state")

	// ErrJobNotCancelable indicates the job is already terminal.
	ErrJobNotCancelable = errors.New("job is not in a cancelable state")

	// ErrJobTypeRequired indicates a required job type field is empty.
	ErrJobTypeRequired = errors.New("job type is required")

	// ErrSongDurationExceeded indicates the source audio exceeds the
	// configured maximum duration.
	ErrSongDurationExceeded = errors.New("song exceeds maximum duration")

	// ErrUnsupportedAudioFormat indicates the uploaded file could not be
	// decoded as audio.
	ErrUnsupportedAudioFormat = errors.New("unsupported audio format")
)
