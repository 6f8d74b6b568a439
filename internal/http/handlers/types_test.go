package handlers

import (
	"testing"

	"github.com/danielgtaylor/huma/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beatreel/beatreel/internal/models"
	"github.com/beatreel/beatreel/internal/testutil"
)

func TestNewPaginationMeta(t *testing.T) {
	tests := []struct {
		name      string
		offset    int
		limit     int
		total     int64
		wantPage  int
		wantPages int64
	}{
		{"first page", 0, 20, 45, 1, 3},
		{"middle page", 20, 20, 45, 2, 3},
		{"exact division", 0, 10, 30, 1, 3},
		{"empty", 0, 20, 0, 1, 0},
		{"zero limit clamps", 0, 0, 5, 1, 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			meta := NewPaginationMeta(tt.offset, tt.limit, tt.total)
			assert.Equal(t, tt.wantPage, meta.CurrentPage)
			assert.Equal(t, tt.wantPages, meta.TotalPages)
			assert.Equal(t, tt.total, meta.TotalItems)
		})
	}
}

func TestJobFromModel(t *testing.T) {
	t.Run("maps fields and omits zero IDs", func(t *testing.T) {
		job := &models.Job{
			Type:        models.JobTypeSongAnalysis,
			Queue:       models.QueueDefault,
			Status:      models.JobStatusRunning,
			Step:        "decoding",
			Progress:    40,
			MaxAttempts: 3,
		}
		job.ID = models.NewULID()
		job.SongID = models.NewULID()

		resp := JobFromModel(job)
		assert.Equal(t, job.ID.String(), resp.ID)
		assert.Equal(t, "song_analysis", resp.Type)
		assert.Equal(t, "running", resp.Status)
		assert.Equal(t, "decoding", resp.Step)
		assert.Equal(t, 40, resp.Progress)
		assert.Equal(t, job.SongID.String(), resp.SongID)
		assert.Empty(t, resp.TargetID)
	})

	t.Run("reports canceling as running", func(t *testing.T) {
		job := &models.Job{
			Type:   models.JobTypeComposition,
			Status: models.JobStatusCanceling,
		}
		job.ID = models.NewULID()

		resp := JobFromModel(job)
		assert.Equal(t, string(models.JobStatusRunning), resp.Status)
	})
}

func TestSongFromModel(t *testing.T) {
	gen := testutil.NewSampleDataGeneratorWithSeed(11)
	song := gen.Song(180)
	song.ID = models.NewULID()
	song.VideoType = models.VideoTypeFullLength
	song.CharacterBlobKey = "songs/x/character.png"

	resp := SongFromModel(song, "/files/songs/x/audio.mp3?exp=1&sig=abc")

	assert.Equal(t, song.ID.String(), resp.ID)
	assert.Equal(t, song.Title, resp.Title)
	assert.Equal(t, "full_length", resp.VideoType)
	assert.Equal(t, 180.0, resp.DurationSec)
	assert.True(t, resp.HasCharacterRef)
	assert.Contains(t, resp.SourceURL, "sig=")
}

func TestClipFromModel(t *testing.T) {
	gen := testutil.NewSampleDataGeneratorWithSeed(11)
	songID := models.NewULID()
	plan := gen.Plan(songID, 60, 10, 24)
	clips := gen.Clips(songID, plan)

	clip := clips[3]
	clip.ID = models.NewULID()
	clip.Status = models.ClipStatusCompleted
	clip.ResultURL = "https://provider.example.com/results/abc.mp4"
	clip.ResultWidth = 1920
	clip.ResultHeight = 1080

	resp := ClipFromModel(clip)
	assert.Equal(t, clip.ID.String(), resp.ID)
	assert.Equal(t, songID.String(), resp.SongID)
	assert.Equal(t, 3, resp.PlanIndex)
	assert.Equal(t, "completed", resp.Status)
	assert.Equal(t, 1920, resp.ResultWidth)
	assert.Equal(t, clip.Frames, resp.Frames)
}

func TestCompositionFromModel(t *testing.T) {
	comp := &models.CompositionJob{
		SongID:   models.NewULID(),
		ClipIDs:  []models.ULID{models.NewULID(), models.NewULID()},
		Status:   models.CompositionStatusProcessing,
		Progress: 55,
	}
	comp.ID = models.NewULID()

	resp := CompositionFromModel(comp)
	assert.Equal(t, comp.ID.String(), resp.ID)
	assert.Equal(t, "processing", resp.Status)
	assert.Equal(t, 55, resp.Progress)
	require.Len(t, resp.ClipIDs, 2)
	assert.Equal(t, comp.ClipIDs[0].String(), resp.ClipIDs[0])
}

func TestParseULID(t *testing.T) {
	id := models.NewULID()

	parsed, err := parseULID(id.String())
	require.NoError(t, err)
	assert.Equal(t, id, parsed)

	_, err = parseULID("not-a-ulid")
	require.Error(t, err)
	var statusErr huma.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, 400, statusErr.GetStatus())
}

func TestServiceError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"song not found", models.ErrSongNotFound, 404},
		{"analysis not found", models.ErrAnalysisNotFound, 404},
		{"video type locked", models.ErrVideoTypeLocked, 409},
		{"plan required", models.ErrPlanRequired, 409},
		{"clips incomplete", models.ErrClipsIncomplete, 409},
		{"job not cancelable", models.ErrJobNotCancelable, 409},
		{"invalid selection", models.ErrInvalidSelection, 422},
		{"unsupported format", models.ErrUnsupportedAudioFormat, 422},
		{"validation error", models.ErrValidation{Field: "bpm", Message: "bad"}, 422},
		{"unknown error", assert.AnError, 500},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := serviceError(tt.err, "fallback message")
			var statusErr huma.StatusError
			require.ErrorAs(t, err, &statusErr)
			assert.Equal(t, tt.wantStatus, statusErr.GetStatus())
		})
	}
}
