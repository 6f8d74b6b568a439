package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClip_RequestedDurationSec(t *testing.T) {
	clip := &Clip{Frames: 120, FPS: 24}
	assert.InDelta(t, 5.0, clip.RequestedDurationSec(), 0.0001)

	zero := &Clip{}
	assert.Equal(t, 0.0, zero.RequestedDurationSec())
}

func TestClip_DurationWithinTolerance(t *testing.T) {
	clip := &Clip{Frames: 120, FPS: 24} // 5.0s, frame interval ~41.7ms

	assert.True(t, clip.DurationWithinTolerance(5.0))
	assert.True(t, clip.DurationWithinTolerance(5.04))
	assert.True(t, clip.DurationWithinTolerance(4.96))
	assert.False(t, clip.DurationWithinTolerance(5.1))
	assert.False(t, clip.DurationWithinTolerance(4.9))
}

func TestClip_StatusChecks(t *testing.T) {
	tests := []struct {
		status      ClipStatus
		isTerminal  bool
		isRetryable bool
		isPending   bool
	}{
		{ClipStatusQueued, false, false, true},
		{ClipStatusProcessing, false, false, false},
		{ClipStatusCompleted, true, false, false},
		{ClipStatusFailed, true, true, true},
		{ClipStatusCanceled, true, true, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			clip := &Clip{Status: tt.status}
			assert.Equal(t, tt.isTerminal, clip.IsTerminal(), "IsTerminal")
			assert.Equal(t, tt.isRetryable, clip.IsRetryable(), "IsRetryable")
			assert.Equal(t, tt.isPending, clip.IsPending(), "IsPending")
		})
	}
}

func TestClip_ResetForRetry(t *testing.T) {
	clip := &Clip{
		Status:        ClipStatusFailed,
		ExternalJobID: "ext-123",
		ResultURL:     "https://cdn.example.com/clip.mp4",
		ResultWidth:   1280,
		ResultHeight:  720,
		ResultFPS:     24,
		Error:         "moderation block",
		AttemptCount:  2,
	}

	clip.ResetForRetry()

	assert.Equal(t, ClipStatusQueued, clip.Status)
	assert.Empty(t, clip.ExternalJobID)
	assert.Empty(t, clip.ResultURL)
	assert.Zero(t, clip.ResultWidth)
	assert.Empty(t, clip.Error)
	// Attempt count is preserved; it increments on the next claim.
	assert.Equal(t, 2, clip.AttemptCount)
}

func TestClip_Validate(t *testing.T) {
	valid := &Clip{SongID: NewULID(), Frames: 120, FPS: 24}
	assert.NoError(t, valid.Validate())

	noSong := &Clip{Frames: 120, FPS: 24}
	assert.Error(t, noSong.Validate())

	noFrames := &Clip{SongID: NewULID(), FPS: 24}
	assert.Error(t, noFrames.Validate())

	noFPS := &Clip{SongID: NewULID(), Frames: 120}
	assert.Error(t, noFPS.Validate())
}

func TestPlannedClip_Derived(t *testing.T) {
	p := PlannedClip{
		Index:      2,
		StartSec:   40.0,
		EndSec:     45.0,
		StartFrame: 960,
		EndFrame:   1080,
	}
	assert.InDelta(t, 5.0, p.DurationSec(), 0.0001)
	assert.Equal(t, 120, p.FrameCount())
}

func TestCompositionJob_AdvanceStep(t *testing.T) {
	job := &CompositionJob{SongID: NewULID(), Status: CompositionStatusProcessing}

	job.AdvanceStep(CompositionStepNormalizing, 40)
	assert.Equal(t, CompositionStepNormalizing, job.Step)
	assert.Equal(t, 40, job.Progress)

	// Progress never regresses.
	job.AdvanceStep(CompositionStepConcatenating, 30)
	assert.Equal(t, CompositionStepConcatenating, job.Step)
	assert.Equal(t, 40, job.Progress)
}

func TestCompositionJob_IsTerminal(t *testing.T) {
	tests := []struct {
		status CompositionStatus
		want   bool
	}{
		{CompositionStatusQueued, false},
		{CompositionStatusProcessing, false},
		{CompositionStatusCompleted, true},
		{CompositionStatusFailed, true},
		{CompositionStatusCanceled, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			job := &CompositionJob{Status: tt.status}
			assert.Equal(t, tt.want, job.IsTerminal())
		})
	}
}

func TestComposedVideo_BeforeCreate(t *testing.T) {
	v := &ComposedVideo{
		SongID:           NewULID(),
		CompositionJobID: NewULID(),
		BlobKey:          "composed/x.mp4",
	}
	require.NoError(t, v.BeforeCreate(nil))
	assert.False(t, v.ID.IsZero())

	missing := &ComposedVideo{SongID: NewULID()}
	assert.Error(t, missing.BeforeCreate(nil))
}
