package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/beatreel/beatreel/internal/repository"
	"github.com/beatreel/beatreel/internal/scheduler"
	"github.com/beatreel/beatreel/internal/storage"
)

// sweepMinAge protects blobs younger than this from the sweeper, so an
// upload racing the sweep is never collected before its row commits.
const sweepMinAge = 24 * time.Hour

// SweepService removes blobs no entity row references. The record
// store is authoritative: a blob survives iff a song or composed video
// points at it.
type SweepService struct {
	songRepo repository.SongRepository
	compRepo repository.CompositionRepository
	store    *storage.Store
	logger   *slog.Logger
}

// NewSweepService creates a new SweepService.
func NewSweepService(
	songRepo repository.SongRepository,
	compRepo repository.CompositionRepository,
	store *storage.Store,
) *SweepService {
	return &SweepService{
		songRepo: songRepo,
		compRepo: compRepo,
		store:    store,
		logger:   slog.Default(),
	}
}

// WithLogger sets a custom logger.
func (s *SweepService) WithLogger(logger *slog.Logger) *SweepService {
	s.logger = logger
	return s
}

// SweepBlobs deletes unreferenced blobs older than the minimum age and
// returns the number removed.
func (s *SweepService) SweepBlobs(ctx context.Context) (int, error) {
	referenced, err := s.referencedKeys(ctx)
	if err != nil {
		return 0, err
	}

	removed, err := s.store.Sweep(func(key string) bool {
		_, ok := referenced[key]
		return ok
	}, sweepMinAge)
	if err != nil {
		return removed, fmt.Errorf("sweeping blobs: %w", err)
	}

	if removed > 0 {
		s.logger.Info("swept unreferenced blobs",
			slog.Int("removed", removed),
			slog.Int("referenced", len(referenced)))
	}

	return removed, nil
}

// referencedKeys collects every blob key an entity row points at.
func (s *SweepService) referencedKeys(ctx context.Context) (map[string]struct{}, error) {
	keys := make(map[string]struct{})

	songs, err := s.songRepo.GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing songs: %w", err)
	}
	for _, song := range songs {
		keys[song.SourceBlobKey] = struct{}{}
		if song.CharacterBlobKey != "" {
			keys[song.CharacterBlobKey] = struct{}{}
		}

		videos, err := s.compRepo.GetVideosBySongID(ctx, song.ID)
		if err != nil {
			return nil, fmt.Errorf("listing composed videos: %w", err)
		}
		for _, video := range videos {
			keys[video.BlobKey] = struct{}{}
		}
	}

	return keys, nil
}

// Ensure SweepService satisfies the scheduler contract at compile time.
var _ scheduler.BlobSweeper = (*SweepService)(nil)
