package service

import (
	"context"
	"io"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/beatreel/beatreel/internal/config"
	"github.com/beatreel/beatreel/internal/models"
	"github.com/beatreel/beatreel/internal/repository"
	"github.com/beatreel/beatreel/internal/scheduler"
	"github.com/beatreel/beatreel/internal/storage"
)

// testEnv bundles the repositories and store every service test needs.
type testEnv struct {
	songRepo     repository.SongRepository
	analysisRepo repository.AnalysisRepository
	planRepo     repository.ClipPlanRepository
	clipRepo     repository.ClipRepository
	compRepo     repository.CompositionRepository
	jobRepo      repository.JobRepository
	store        *storage.Store
	sched        *scheduler.Scheduler
}

func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	err = db.AutoMigrate(
		&models.Song{}, &models.SongAnalysis{}, &models.ClipPlan{},
		&models.Clip{}, &models.CompositionJob{}, &models.ComposedVideo{},
		&models.Job{}, &models.JobHistory{},
	)
	require.NoError(t, err)

	base := t.TempDir()
	store, err := storage.NewStore(config.StorageConfig{
		BaseDir:       base,
		TempDir:       filepath.Join(base, "temp"),
		SigningSecret: "test-secret",
		ReadURLTTL:    5 * time.Minute,
	}, nil)
	require.NoError(t, err)

	jobRepo := repository.NewJobRepository(db)
	return &testEnv{
		songRepo:     repository.NewSongRepository(db),
		analysisRepo: repository.NewAnalysisRepository(db),
		planRepo:     repository.NewClipPlanRepository(db),
		clipRepo:     repository.NewClipRepository(db),
		compRepo:     repository.NewCompositionRepository(db),
		jobRepo:      jobRepo,
		store:        store,
		sched:        scheduler.NewScheduler(jobRepo),
	}
}

func testBlob() io.Reader {
	return strings.NewReader("test blob bytes")
}

// createTestSong persists a song with a stored source blob.
func (e *testEnv) createTestSong(t *testing.T, vt models.VideoType) *models.Song {
	t.Helper()

	song := &models.Song{
		BaseModel:    models.BaseModel{ID: models.NewULID()},
		Title:        "test track",
		SourceFormat: "mp3",
		VideoType:    vt,
		DurationSec:  180,
	}
	song.SourceBlobKey = storage.SourceKey(song.ID, "mp3")
	_, err := e.store.Put(song.SourceBlobKey, testBlob())
	require.NoError(t, err)
	require.NoError(t, e.songRepo.Create(context.Background(), song))
	return song
}

// createTestAnalysis persists an analysis with a steady 120 BPM grid.
func (e *testEnv) createTestAnalysis(t *testing.T, songID models.ULID, durationSec float64) *models.SongAnalysis {
	t.Helper()

	var beats []float64
	for bt := 0.0; bt < durationSec; bt += 0.5 {
		beats = append(beats, bt)
	}
	bpm := 120.0
	analysis := &models.SongAnalysis{
		SongID:    songID,
		BPM:       &bpm,
		BeatTimes: beats,
		Sections: []models.Section{
			{Type: models.SectionTypeIntro, StartSec: 0, EndSec: durationSec / 2, Confidence: 0.8},
			{Type: models.SectionTypeChorus, StartSec: durationSec / 2, EndSec: durationSec, Confidence: 0.8},
		},
		Waveform: make([]float64, 512),
	}
	require.NoError(t, e.analysisRepo.CreateNextVersion(context.Background(), analysis))
	return analysis
}
