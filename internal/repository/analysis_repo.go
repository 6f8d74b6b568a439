package repository

import (
	"context"
	"fmt"

	"github.com/beatreel/beatreel/internal/models"
	"gorm.io/gorm"
)

// analysisRepo implements AnalysisRepository using GORM.
type analysisRepo struct {
	db *gorm.DB
}

// NewAnalysisRepository creates a new AnalysisRepository.
func NewAnalysisRepository(db *gorm.DB) *analysisRepo {
	return &analysisRepo{db: db}
}

// CreateNextVersion creates an analysis with the next version number for
// its song. The version lookup and insert run in one transaction so two
// concurrent analyses cannot claim the same version.
func (r *analysisRepo) CreateNextVersion(ctx context.Context, analysis *models.SongAnalysis) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var maxVersion int
		if err := tx.Model(&models.SongAnalysis{}).
			Where("song_id = ?", analysis.SongID).
			Select("COALESCE(MAX(version), 0)").
			Scan(&maxVersion).Error; err != nil {
			return fmt.Errorf("finding latest version: %w", err)
		}

		analysis.Version = maxVersion + 1
		return tx.Create(analysis).Error
	})
	if err != nil {
		return fmt.Errorf("creating analysis: %w", err)
	}
	return nil
}

// GetByID retrieves an analysis by ID.
func (r *analysisRepo) GetByID(ctx context.Context, id models.ULID) (*models.SongAnalysis, error) {
	var analysis models.SongAnalysis
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&analysis).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting analysis by ID: %w", err)
	}
	return &analysis, nil
}

// GetLatestBySongID retrieves the highest-version analysis for a song.
func (r *analysisRepo) GetLatestBySongID(ctx context.Context, songID models.ULID) (*models.SongAnalysis, error) {
	var analysis models.SongAnalysis
	if err := r.db.WithContext(ctx).
		Where("song_id = ?", songID).
		Order("version DESC").
		First(&analysis).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting latest analysis: %w", err)
	}
	return &analysis, nil
}

// GetBySongID retrieves all analyses for a song, newest version first.
func (r *analysisRepo) GetBySongID(ctx context.Context, songID models.ULID) ([]*models.SongAnalysis, error) {
	var analyses []*models.SongAnalysis
	if err := r.db.WithContext(ctx).
		Where("song_id = ?", songID).
		Order("version DESC").
		Find(&analyses).Error; err != nil {
		return nil, fmt.Errorf("getting analyses by song ID: %w", err)
	}
	return analyses, nil
}

// DeleteBySongID deletes all analyses for a song.
func (r *analysisRepo) DeleteBySongID(ctx context.Context, songID models.ULID) (int64, error) {
	result := r.db.WithContext(ctx).Unscoped().
		Where("song_id = ?", songID).
		Delete(&models.SongAnalysis{})
	if result.Error != nil {
		return 0, fmt.Errorf("deleting analyses: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// Ensure analysisRepo implements AnalysisRepository at compile time.
var _ AnalysisRepository = (*analysisRepo)(nil)
