package repository

import (
	"context"
	"fmt"

	"github.com/beatreel/beatreel/internal/models"
	"gorm.io/gorm"
)

// compositionRepo implements CompositionRepository using GORM.
type compositionRepo struct {
	db *gorm.DB
}

// NewCompositionRepository creates a new CompositionRepository.
func NewCompositionRepository(db *gorm.DB) *compositionRepo {
	return &compositionRepo{db: db}
}

// Create creates a new composition job.
func (r *compositionRepo) Create(ctx context.Context, job *models.CompositionJob) error {
	if err := r.db.WithContext(ctx).Create(job).Error; err != nil {
		return fmt.Errorf("creating composition job: %w", err)
	}
	return nil
}

// GetByID retrieves a composition job by ID.
func (r *compositionRepo) GetByID(ctx context.Context, id models.ULID) (*models.CompositionJob, error) {
	var job models.CompositionJob
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&job).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting composition job by ID: %w", err)
	}
	return &job, nil
}

// GetBySongID retrieves all composition jobs for a song, newest first.
func (r *compositionRepo) GetBySongID(ctx context.Context, songID models.ULID) ([]*models.CompositionJob, error) {
	var jobs []*models.CompositionJob
	if err := r.db.WithContext(ctx).
		Where("song_id = ?", songID).
		Order("created_at DESC").
		Find(&jobs).Error; err != nil {
		return nil, fmt.Errorf("getting composition jobs by song ID: %w", err)
	}
	return jobs, nil
}

// FindActiveBySongID retrieves the non-terminal composition job for a song.
func (r *compositionRepo) FindActiveBySongID(ctx context.Context, songID models.ULID) (*models.CompositionJob, error) {
	var job models.CompositionJob
	if err := r.db.WithContext(ctx).
		Where("song_id = ? AND status IN (?, ?)",
			songID, models.CompositionStatusQueued, models.CompositionStatusProcessing).
		First(&job).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("finding active composition job: %w", err)
	}
	return &job, nil
}

// Update updates an existing composition job.
func (r *compositionRepo) Update(ctx context.Context, job *models.CompositionJob) error {
	if err := r.db.WithContext(ctx).Save(job).Error; err != nil {
		return fmt.Errorf("updating composition job: %w", err)
	}
	return nil
}

// AdvanceStep updates the step and ratchets progress upward. The CASE
// expression keeps progress monotonic even if steps report out of order.
func (r *compositionRepo) AdvanceStep(ctx context.Context, id models.ULID, step models.CompositionStep, progress int) error {
	if err := r.db.WithContext(ctx).Model(&models.CompositionJob{}).
		Where("id = ?", id).
		UpdateColumns(map[string]interface{}{
			"step":     step,
			"progress": gorm.Expr("CASE WHEN progress < ? THEN ? ELSE progress END", progress, progress),
		}).Error; err != nil {
		return fmt.Errorf("advancing composition step: %w", err)
	}
	return nil
}

// CreateVideo creates a composed video artifact record.
func (r *compositionRepo) CreateVideo(ctx context.Context, video *models.ComposedVideo) error {
	if err := r.db.WithContext(ctx).Create(video).Error; err != nil {
		return fmt.Errorf("creating composed video: %w", err)
	}
	return nil
}

// GetVideoByID retrieves a composed video by ID.
func (r *compositionRepo) GetVideoByID(ctx context.Context, id models.ULID) (*models.ComposedVideo, error) {
	var video models.ComposedVideo
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&video).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting composed video by ID: %w", err)
	}
	return &video, nil
}

// GetLatestVideoBySongID retrieves the most recent composed video for a song.
func (r *compositionRepo) GetLatestVideoBySongID(ctx context.Context, songID models.ULID) (*models.ComposedVideo, error) {
	var video models.ComposedVideo
	if err := r.db.WithContext(ctx).
		Where("song_id = ?", songID).
		Order("created_at DESC").
		First(&video).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting latest composed video: %w", err)
	}
	return &video, nil
}

// GetVideosBySongID retrieves all composed videos for a song, newest first.
func (r *compositionRepo) GetVideosBySongID(ctx context.Context, songID models.ULID) ([]*models.ComposedVideo, error) {
	var videos []*models.ComposedVideo
	if err := r.db.WithContext(ctx).
		Where("song_id = ?", songID).
		Order("created_at DESC").
		Find(&videos).Error; err != nil {
		return nil, fmt.Errorf("getting composed videos by song ID: %w", err)
	}
	return videos, nil
}

// DeleteBySongID deletes all composition jobs and composed videos for a song.
func (r *compositionRepo) DeleteBySongID(ctx context.Context, songID models.ULID) (int64, error) {
	var total int64

	result := r.db.WithContext(ctx).Where("song_id = ?", songID).Delete(&models.CompositionJob{})
	if result.Error != nil {
		return 0, fmt.Errorf("deleting composition jobs by song ID: %w", result.Error)
	}
	total += result.RowsAffected

	result = r.db.WithContext(ctx).Where("song_id = ?", songID).Delete(&models.ComposedVideo{})
	if result.Error != nil {
		return total, fmt.Errorf("deleting composed videos by song ID: %w", result.Error)
	}
	total += result.RowsAffected

	return total, nil
}

// Ensure compositionRepo implements CompositionRepository at compile time.
var _ CompositionRepository = (*compositionRepo)(nil)
