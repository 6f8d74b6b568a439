// Package service implements the high-level operations behind the HTTP
// API: song management, analysis, clip generation, composition, job
// management and blob sweeping. Services own preconditions and state
// transitions; heavy lifting lives in the engine packages.
package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/beatreel/beatreel/internal/models"
	"github.com/beatreel/beatreel/internal/repository"
	"github.com/beatreel/beatreel/internal/storage"
)

// supportedAudioFormats are the upload extensions the decoder handles.
var supportedAudioFormats = map[string]bool{
	"mp3":  true,
	"wav":  true,
	"m4a":  true,
	"flac": true,
	"ogg":  true,
}

// SongService manages the song library: uploads, creative inputs and
// cascading deletion.
type SongService struct {
	songRepo     repository.SongRepository
	analysisRepo repository.AnalysisRepository
	planRepo     repository.ClipPlanRepository
	clipRepo     repository.ClipRepository
	compRepo     repository.CompositionRepository
	store        *storage.Store
	logger       *slog.Logger
}

// NewSongService creates a new SongService.
func NewSongService(
	songRepo repository.SongRepository,
	analysisRepo repository.AnalysisRepository,
	planRepo repository.ClipPlanRepository,
	clipRepo repository.ClipRepository,
	compRepo repository.CompositionRepository,
	store *storage.Store,
) *SongService {
	return &SongService{
		songRepo:     songRepo,
		analysisRepo: analysisRepo,
		planRepo:     planRepo,
		clipRepo:     clipRepo,
		compRepo:     compRepo,
		store:        store,
		logger:       slog.Default(),
	}
}

// WithLogger sets a custom logger.
func (s *SongService) WithLogger(logger *slog.Logger) *SongService {
	s.logger = logger
	return s
}

// UploadInput carries one upload request.
type UploadInput struct {
	// Filename is the original upload name; the title derives from it.
	Filename string
	// Audio streams the audio bytes.
	Audio io.Reader
	// Character optionally streams a character reference image.
	Character io.Reader
}

// Upload stores the audio blob and creates the song record. The optional
// character reference image is stored alongside it.
func (s *SongService) Upload(ctx context.Context, in UploadInput) (*models.Song, error) {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(in.Filename), "."))
	if !supportedAudioFormats[ext] {
		return nil, models.ErrUnsupportedAudioFormat
	}

	song := &models.Song{
		BaseModel:    models.BaseModel{ID: models.NewULID()},
		Title:        strings.TrimSuffix(filepath.Base(in.Filename), filepath.Ext(in.Filename)),
		SourceFormat: ext,
	}
	song.SourceBlobKey = storage.SourceKey(song.ID, ext)

	size, err := s.store.Put(song.SourceBlobKey, in.Audio)
	if err != nil {
		return nil, fmt.Errorf("storing audio blob: %w", err)
	}

	if in.Character != nil {
		song.CharacterBlobKey = storage.CharacterKey(song.ID)
		if _, err := s.store.Put(song.CharacterBlobKey, in.Character); err != nil {
			s.store.DeleteTree(storage.SongDirKey(song.ID))
			return nil, fmt.Errorf("storing character image: %w", err)
		}
	}

	if err := s.songRepo.Create(ctx, song); err != nil {
		s.store.DeleteTree(storage.SongDirKey(song.ID))
		return nil, fmt.Errorf("creating song: %w", err)
	}

	s.logger.Info("uploaded song",
		slog.String("song_id", song.ID.String()),
		slog.String("title", song.Title),
		slog.String("format", ext),
		slog.Int64("bytes", size))

	return song, nil
}

// GetByID retrieves a song, returning models.ErrSongNotFound when absent.
func (s *SongService) GetByID(ctx context.Context, id models.ULID) (*models.Song, error) {
	song, err := s.songRepo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("getting song: %w", err)
	}
	if song == nil {
		return nil, models.ErrSongNotFound
	}
	return song, nil
}

// List retrieves songs with pagination, newest first.
func (s *SongService) List(ctx context.Context, offset, limit int) ([]*models.Song, int64, error) {
	return s.songRepo.GetAllPaginated(ctx, offset, limit)
}

// SetVideoType sets the video type exactly once, before any analysis
// exists. Returns models.ErrVideoTypeLocked once an analysis exists.
func (s *SongService) SetVideoType(ctx context.Context, id models.ULID, vt models.VideoType) (*models.Song, error) {
	song, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	analysis, err := s.analysisRepo.GetLatestBySongID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("checking for analysis: %w", err)
	}
	if analysis != nil {
		return nil, models.ErrVideoTypeLocked
	}

	if err := song.SetVideoType(vt); err != nil {
		return nil, err
	}
	if err := s.songRepo.Update(ctx, song); err != nil {
		return nil, fmt.Errorf("updating song: %w", err)
	}

	s.logger.Info("set video type",
		slog.String("song_id", id.String()),
		slog.String("video_type", string(vt)))

	return song, nil
}

// SetAudioSelection sets the user-selected audio window. Short-form
// songs are bound to a 1-30 second window.
func (s *SongService) SetAudioSelection(ctx context.Context, id models.ULID, start, end float64) (*models.Song, error) {
	song, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := song.SetSelection(start, end); err != nil {
		return nil, err
	}
	if err := s.songRepo.Update(ctx, song); err != nil {
		return nil, fmt.Errorf("updating song: %w", err)
	}

	s.logger.Info("set audio selection",
		slog.String("song_id", id.String()),
		slog.Float64("start_sec", start),
		slog.Float64("end_sec", end))

	return song, nil
}

// Delete removes a song and everything it owns: analyses, plan, clips,
// composition records and every blob under the song's directory.
func (s *SongService) Delete(ctx context.Context, id models.ULID) error {
	song, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}

	if _, err := s.analysisRepo.DeleteBySongID(ctx, id); err != nil {
		return fmt.Errorf("deleting analyses: %w", err)
	}
	if err := s.planRepo.DeleteBySongID(ctx, id); err != nil {
		return fmt.Errorf("deleting clip plan: %w", err)
	}
	if _, err := s.clipRepo.DeleteBySongID(ctx, id); err != nil {
		return fmt.Errorf("deleting clips: %w", err)
	}
	if _, err := s.compRepo.DeleteBySongID(ctx, id); err != nil {
		return fmt.Errorf("deleting compositions: %w", err)
	}
	if err := s.songRepo.Delete(ctx, id); err != nil {
		return fmt.Errorf("deleting song: %w", err)
	}

	if err := s.store.DeleteTree(storage.SongDirKey(id)); err != nil {
		s.logger.Warn("failed to delete song blobs, sweeper will reclaim",
			slog.String("song_id", id.String()),
			slog.Any("error", err))
	}

	s.logger.Info("deleted song",
		slog.String("song_id", id.String()),
		slog.String("title", song.Title))

	return nil
}

// SourceURL returns a short-lived signed read URL for the song's audio.
func (s *SongService) SourceURL(song *models.Song) string {
	return s.store.SignedURL(song.SourceBlobKey, time.Now())
}
