package repository

import (
	"context"
	"fmt"

	"github.com/beatreel/beatreel/internal/models"
	"gorm.io/gorm"
)

// songRepo implements SongRepository using GORM.
type songRepo struct {
	db *gorm.DB
}

// NewSongRepository creates a new SongRepository.
func NewSongRepository(db *gorm.DB) *songRepo {
	return &songRepo{db: db}
}

// Create creates a new song.
func (r *songRepo) Create(ctx context.Context, song *models.Song) error {
	if err := r.db.WithContext(ctx).Create(song).Error; err != nil {
		return fmt.Errorf("creating song: %w", err)
	}
	return nil
}

// GetByID retrieves a song by ID.
func (r *songRepo) GetByID(ctx context.Context, id models.ULID) (*models.Song, error) {
	var song models.Song
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&song).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting song by ID: %w", err)
	}
	return &song, nil
}

// GetAll retrieves all songs, newest first.
func (r *songRepo) GetAll(ctx context.Context) ([]*models.Song, error) {
	var songs []*models.Song
	if err := r.db.WithContext(ctx).Order("created_at DESC").Find(&songs).Error; err != nil {
		return nil, fmt.Errorf("getting all songs: %w", err)
	}
	return songs, nil
}

// GetAllPaginated retrieves songs with pagination, newest first.
func (r *songRepo) GetAllPaginated(ctx context.Context, offset, limit int) ([]*models.Song, int64, error) {
	var songs []*models.Song
	var total int64

	query := r.db.WithContext(ctx).Model(&models.Song{})
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("counting songs: %w", err)
	}

	if err := query.Order("created_at DESC").Offset(offset).Limit(limit).Find(&songs).Error; err != nil {
		return nil, 0, fmt.Errorf("getting songs: %w", err)
	}
	return songs, total, nil
}

// Update updates an existing song.
func (r *songRepo) Update(ctx context.Context, song *models.Song) error {
	if err := r.db.WithContext(ctx).Save(song).Error; err != nil {
		return fmt.Errorf("updating song: %w", err)
	}
	return nil
}

// Delete hard-deletes a song by ID. Uses Unscoped so the row is removed
// rather than soft-deleted; dependent rows are removed by the caller.
func (r *songRepo) Delete(ctx context.Context, id models.ULID) error {
	if err := r.db.WithContext(ctx).Unscoped().Where("id = ?", id).Delete(&models.Song{}).Error; err != nil {
		return fmt.Errorf("deleting song: %w", err)
	}
	return nil
}

// UpdateAnalysisState updates only the analysis state column.
func (r *songRepo) UpdateAnalysisState(ctx context.Context, id models.ULID, state models.AnalysisState) error {
	if err := r.db.WithContext(ctx).Model(&models.Song{}).Where("id = ?", id).
		UpdateColumn("analysis_state", state).Error; err != nil {
		return fmt.Errorf("updating analysis state: %w", err)
	}
	return nil
}

// Ensure songRepo implements SongRepository at compile time.
var _ SongRepository = (*songRepo)(nil)
