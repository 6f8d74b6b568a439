package repository

import (
	"context"
	"fmt"

	"github.com/beatreel/beatreel/internal/models"
	"gorm.io/gorm"
)

// clipRepo implements ClipRepository using GORM.
type clipRepo struct {
	db *gorm.DB
}

// NewClipRepository creates a new ClipRepository.
func NewClipRepository(db *gorm.DB) *clipRepo {
	return &clipRepo{db: db}
}

// Create creates a new clip.
func (r *clipRepo) Create(ctx context.Context, clip *models.Clip) error {
	if err := r.db.WithContext(ctx).Create(clip).Error; err != nil {
		return fmt.Errorf("creating clip: %w", err)
	}
	return nil
}

// CreateBatch creates multiple clips in a single batch.
func (r *clipRepo) CreateBatch(ctx context.Context, clips []*models.Clip) error {
	if len(clips) == 0 {
		return nil
	}
	if err := r.db.WithContext(ctx).CreateInBatches(clips, 100).Error; err != nil {
		return fmt.Errorf("creating clips: %w", err)
	}
	return nil
}

// GetByID retrieves a clip by ID.
func (r *clipRepo) GetByID(ctx context.Context, id models.ULID) (*models.Clip, error) {
	var clip models.Clip
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&clip).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting clip by ID: %w", err)
	}
	return &clip, nil
}

// GetBySongID retrieves all clips for a song ordered by plan index.
func (r *clipRepo) GetBySongID(ctx context.Context, songID models.ULID) ([]*models.Clip, error) {
	var clips []*models.Clip
	if err := r.db.WithContext(ctx).
		Where("song_id = ?", songID).
		Order("plan_index ASC").
		Find(&clips).Error; err != nil {
		return nil, fmt.Errorf("getting clips by song ID: %w", err)
	}
	return clips, nil
}

// GetBySongIDAndStatus retrieves clips for a song in a given status,
// ordered by plan index.
func (r *clipRepo) GetBySongIDAndStatus(ctx context.Context, songID models.ULID, status models.ClipStatus) ([]*models.Clip, error) {
	var clips []*models.Clip
	if err := r.db.WithContext(ctx).
		Where("song_id = ? AND status = ?", songID, status).
		Order("plan_index ASC").
		Find(&clips).Error; err != nil {
		return nil, fmt.Errorf("getting clips by status: %w", err)
	}
	return clips, nil
}

// Update updates an existing clip.
func (r *clipRepo) Update(ctx context.Context, clip *models.Clip) error {
	if err := r.db.WithContext(ctx).Save(clip).Error; err != nil {
		return fmt.Errorf("updating clip: %w", err)
	}
	return nil
}

// Delete deletes a clip by ID.
func (r *clipRepo) Delete(ctx context.Context, id models.ULID) error {
	if err := r.db.WithContext(ctx).Unscoped().Where("id = ?", id).Delete(&models.Clip{}).Error; err != nil {
		return fmt.Errorf("deleting clip: %w", err)
	}
	return nil
}

// DeleteBySongID deletes all clips for a song.
func (r *clipRepo) DeleteBySongID(ctx context.Context, songID models.ULID) (int64, error) {
	result := r.db.WithContext(ctx).Unscoped().
		Where("song_id = ?", songID).
		Delete(&models.Clip{})
	if result.Error != nil {
		return 0, fmt.Errorf("deleting clips: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// ClaimForGeneration atomically moves a clip from queued to processing.
// The status guard in the WHERE clause makes the claim a compare-and-set,
// so at most one worker generates a given clip at a time.
func (r *clipRepo) ClaimForGeneration(ctx context.Context, id models.ULID) (bool, error) {
	result := r.db.WithContext(ctx).Model(&models.Clip{}).
		Where("id = ? AND status = ?", id, models.ClipStatusQueued).
		UpdateColumns(map[string]interface{}{
			"status":        models.ClipStatusProcessing,
			"attempt_count": gorm.Expr("attempt_count + 1"),
		})
	if result.Error != nil {
		return false, fmt.Errorf("claiming clip: %w", result.Error)
	}
	return result.RowsAffected == 1, nil
}

// ReleaseClaim returns a processing clip to queued. Used when a worker
// gives the claim back without finishing, e.g. when the per-song
// concurrency cap was exceeded or the worker is shutting down.
func (r *clipRepo) ReleaseClaim(ctx context.Context, id models.ULID) error {
	result := r.db.WithContext(ctx).Model(&models.Clip{}).
		Where("id = ? AND status = ?", id, models.ClipStatusProcessing).
		UpdateColumns(map[string]interface{}{
			"status":          models.ClipStatusQueued,
			"external_job_id": "",
		})
	if result.Error != nil {
		return fmt.Errorf("releasing clip claim: %w", result.Error)
	}
	return nil
}

// SetExternalJobID persists the provider job id without touching other
// columns. Stored before polling begins so a restarted worker resumes
// the existing provider job instead of resubmitting.
func (r *clipRepo) SetExternalJobID(ctx context.Context, id models.ULID, externalJobID string) error {
	if err := r.db.WithContext(ctx).Model(&models.Clip{}).
		Where("id = ?", id).
		UpdateColumn("external_job_id", externalJobID).Error; err != nil {
		return fmt.Errorf("setting external job ID: %w", err)
	}
	return nil
}

// CountBySongIDAndStatus returns the number of clips for a song in a status.
func (r *clipRepo) CountBySongIDAndStatus(ctx context.Context, songID models.ULID, status models.ClipStatus) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.Clip{}).
		Where("song_id = ? AND status = ?", songID, status).
		Count(&count).Error; err != nil {
		return 0, fmt.Errorf("counting clips: %w", err)
	}
	return count, nil
}

// Ensure clipRepo implements ClipRepository at compile time.
var _ ClipRepository = (*clipRepo)(nil)
