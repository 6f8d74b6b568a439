package repository

import (
	"context"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/beatreel/beatreel/internal/models"
)

func setupCompositionTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	err = db.AutoMigrate(&models.CompositionJob{}, &models.ComposedVideo{})
	require.NoError(t, err)

	return db
}

func TestCompositionRepo_Create(t *testing.T) {
	db := setupCompositionTestDB(t)
	repo := NewCompositionRepository(db)
	ctx := context.Background()

	job := &models.CompositionJob{
		SongID:  models.NewULID(),
		ClipIDs: []models.ULID{models.NewULID(), models.NewULID()},
	}
	err := repo.Create(ctx, job)
	require.NoError(t, err)
	assert.False(t, job.ID.IsZero())
	assert.Equal(t, models.CompositionStatusQueued, job.Status)
	assert.Equal(t, models.CompositionStepQueued, job.Step)

	found, err := repo.GetByID(ctx, job.ID)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Len(t, found.ClipIDs, 2)
}

func TestCompositionRepo_FindActiveBySongID(t *testing.T) {
	db := setupCompositionTestDB(t)
	repo := NewCompositionRepository(db)
	ctx := context.Background()

	songID := models.NewULID()

	// A finished job is not active.
	done := &models.CompositionJob{SongID: songID}
	require.NoError(t, repo.Create(ctx, done))
	done.Status = models.CompositionStatusCompleted
	require.NoError(t, repo.Update(ctx, done))

	active, err := repo.FindActiveBySongID(ctx, songID)
	require.NoError(t, err)
	assert.Nil(t, active)

	// A queued job is active.
	queued := &models.CompositionJob{SongID: songID}
	require.NoError(t, repo.Create(ctx, queued))

	active, err = repo.FindActiveBySongID(ctx, songID)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, queued.ID, active.ID)
}

func TestCompositionRepo_AdvanceStep(t *testing.T) {
	db := setupCompositionTestDB(t)
	repo := NewCompositionRepository(db)
	ctx := context.Background()

	job := &models.CompositionJob{SongID: models.NewULID()}
	require.NoError(t, repo.Create(ctx, job))

	err := repo.AdvanceStep(ctx, job.ID, models.CompositionStepNormalizing, 40)
	require.NoError(t, err)

	found, err := repo.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CompositionStepNormalizing, found.Step)
	assert.Equal(t, 40, found.Progress)

	// Progress never goes backwards, even if a later step reports less.
	err = repo.AdvanceStep(ctx, job.ID, models.CompositionStepConcatenating, 30)
	require.NoError(t, err)

	found, err = repo.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CompositionStepConcatenating, found.Step)
	assert.Equal(t, 40, found.Progress)
}

func TestCompositionRepo_Videos(t *testing.T) {
	db := setupCompositionTestDB(t)
	repo := NewCompositionRepository(db)
	ctx := context.Background()

	songID := models.NewULID()
	jobID := models.NewULID()

	first := &models.ComposedVideo{
		SongID:           songID,
		CompositionJobID: jobID,
		BlobKey:          "composed/first.mp4",
		Width:            1920,
		Height:           1080,
		FPS:              24,
		DurationSec:      180.5,
		ByteSize:         1 << 20,
	}
	require.NoError(t, repo.CreateVideo(ctx, first))

	second := &models.ComposedVideo{
		SongID:           songID,
		CompositionJobID: models.NewULID(),
		BlobKey:          "composed/second.mp4",
	}
	require.NoError(t, repo.CreateVideo(ctx, second))

	t.Run("get by id", func(t *testing.T) {
		found, err := repo.GetVideoByID(ctx, first.ID)
		require.NoError(t, err)
		require.NotNil(t, found)
		assert.Equal(t, "composed/first.mp4", found.BlobKey)
		assert.Equal(t, 1920, found.Width)
	})

	t.Run("latest wins", func(t *testing.T) {
		latest, err := repo.GetLatestVideoBySongID(ctx, songID)
		require.NoError(t, err)
		require.NotNil(t, latest)
		assert.Equal(t, second.ID, latest.ID)
	})

	t.Run("all for song", func(t *testing.T) {
		videos, err := repo.GetVideosBySongID(ctx, songID)
		require.NoError(t, err)
		assert.Len(t, videos, 2)
	})

	t.Run("none for unknown song", func(t *testing.T) {
		latest, err := repo.GetLatestVideoBySongID(ctx, models.NewULID())
		require.NoError(t, err)
		assert.Nil(t, latest)
	})
}
