package service

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beatreel/beatreel/internal/models"
	"github.com/beatreel/beatreel/internal/storage"
)

func newTestSongService(e *testEnv) *SongService {
	return NewSongService(e.songRepo, e.analysisRepo, e.planRepo, e.clipRepo, e.compRepo, e.store)
}

func TestSongServiceUploadStoresBlobs(t *testing.T) {
	e := setupTestEnv(t)
	svc := newTestSongService(e)
	ctx := context.Background()

	song, err := svc.Upload(ctx, UploadInput{
		Filename:  "My Track.MP3",
		Audio:     strings.NewReader("audio bytes"),
		Character: strings.NewReader("image bytes"),
	})
	require.NoError(t, err)

	assert.Equal(t, "My Track", song.Title)
	assert.Equal(t, "mp3", song.SourceFormat)
	assert.Equal(t, models.VideoTypeUnset, song.VideoType)
	assert.Equal(t, models.AnalysisStateIdle, song.AnalysisState)

	exists, err := e.store.Exists(song.SourceBlobKey)
	require.NoError(t, err)
	assert.True(t, exists)

	require.NotEmpty(t, song.CharacterBlobKey)
	exists, err = e.store.Exists(song.CharacterBlobKey)
	require.NoError(t, err)
	assert.True(t, exists)

	stored, err := svc.GetByID(ctx, song.ID)
	require.NoError(t, err)
	assert.Equal(t, song.SourceBlobKey, stored.SourceBlobKey)
}

func TestSongServiceUploadRejectsUnsupportedFormat(t *testing.T) {
	e := setupTestEnv(t)
	svc := newTestSongService(e)

	_, err := svc.Upload(context.Background(), UploadInput{
		Filename: "track.aiff",
		Audio:    strings.NewReader("audio bytes"),
	})
	assert.ErrorIs(t, err, models.ErrUnsupportedAudioFormat)
}

func TestSongServiceGetByIDNotFound(t *testing.T) {
	e := setupTestEnv(t)
	svc := newTestSongService(e)

	_, err := svc.GetByID(context.Background(), models.NewULID())
	assert.ErrorIs(t, err, models.ErrSongNotFound)
}

func TestSongServiceSetVideoType(t *testing.T) {
	e := setupTestEnv(t)
	svc := newTestSongService(e)
	ctx := context.Background()

	song := e.createTestSong(t, models.VideoTypeUnset)

	updated, err := svc.SetVideoType(ctx, song.ID, models.VideoTypeShortForm)
	require.NoError(t, err)
	assert.Equal(t, models.VideoTypeShortForm, updated.VideoType)

	_, err = svc.SetVideoType(ctx, song.ID, "portrait")
	assert.ErrorIs(t, err, models.ErrInvalidVideoType)
}

func TestSongServiceSetVideoTypeLockedAfterAnalysis(t *testing.T) {
	e := setupTestEnv(t)
	svc := newTestSongService(e)
	ctx := context.Background()

	song := e.createTestSong(t, models.VideoTypeFullLength)
	e.createTestAnalysis(t, song.ID, song.DurationSec)

	_, err := svc.SetVideoType(ctx, song.ID, models.VideoTypeShortForm)
	assert.ErrorIs(t, err, models.ErrVideoTypeLocked)
}

func TestSongServiceSetAudioSelection(t *testing.T) {
	e := setupTestEnv(t)
	svc := newTestSongService(e)
	ctx := context.Background()

	song := e.createTestSong(t, models.VideoTypeShortForm)

	updated, err := svc.SetAudioSelection(ctx, song.ID, 10, 35)
	require.NoError(t, err)
	start, end := updated.EffectiveWindow()
	assert.Equal(t, 10.0, start)
	assert.Equal(t, 35.0, end)

	// Short-form selections are capped at 30 seconds.
	_, err = svc.SetAudioSelection(ctx, song.ID, 10, 45)
	assert.ErrorIs(t, err, models.ErrInvalidSelection)

	_, err = svc.SetAudioSelection(ctx, song.ID, 20, 15)
	assert.ErrorIs(t, err, models.ErrInvalidSelection)

	// Selection must fit inside the track.
	_, err = svc.SetAudioSelection(ctx, song.ID, 170, 190)
	assert.ErrorIs(t, err, models.ErrInvalidSelection)
}

func TestSongServiceDeleteCascades(t *testing.T) {
	e := setupTestEnv(t)
	svc := newTestSongService(e)
	ctx := context.Background()

	song := e.createTestSong(t, models.VideoTypeFullLength)
	e.createTestAnalysis(t, song.ID, song.DurationSec)

	plan := &models.ClipPlan{
		SongID:    song.ID,
		TargetFPS: 24,
		Entries: []models.PlannedClip{
			{Index: 0, StartSec: 0, EndSec: 4, EndBeat: 8, EndFrame: 96, BeatsInClip: 8},
		},
		Status: "valid",
	}
	require.NoError(t, e.planRepo.Replace(ctx, plan))

	clip := &models.Clip{SongID: song.ID, PlanIndex: 0, Frames: 96, FPS: 24}
	require.NoError(t, e.clipRepo.Create(ctx, clip))

	comp := &models.CompositionJob{
		SongID:  song.ID,
		ClipIDs: []models.ULID{clip.ID},
		Status:  models.CompositionStatusCompleted,
		Step:    models.CompositionStepDone,
	}
	require.NoError(t, e.compRepo.Create(ctx, comp))

	require.NoError(t, svc.Delete(ctx, song.ID))

	_, err := svc.GetByID(ctx, song.ID)
	assert.ErrorIs(t, err, models.ErrSongNotFound)

	analysis, err := e.analysisRepo.GetLatestBySongID(ctx, song.ID)
	require.NoError(t, err)
	assert.Nil(t, analysis)

	gotPlan, err := e.planRepo.GetBySongID(ctx, song.ID)
	require.NoError(t, err)
	assert.Nil(t, gotPlan)

	clips, err := e.clipRepo.GetBySongID(ctx, song.ID)
	require.NoError(t, err)
	assert.Empty(t, clips)

	gotComp, err := e.compRepo.GetByID(ctx, comp.ID)
	require.NoError(t, err)
	assert.Nil(t, gotComp)

	exists, err := e.store.Exists(storage.SourceKey(song.ID, "mp3"))
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestSongServiceDeleteNotFound(t *testing.T) {
	e := setupTestEnv(t)
	svc := newTestSongService(e)

	err := svc.Delete(context.Background(), models.NewULID())
	assert.ErrorIs(t, err, models.ErrSongNotFound)
}
