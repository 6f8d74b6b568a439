package repository

import (
	"context"
	"fmt"

	"github.com/beatreel/beatreel/internal/models"
	"gorm.io/gorm"
)

// clipPlanRepo implements ClipPlanRepository using GORM.
type clipPlanRepo struct {
	db *gorm.DB
}

// NewClipPlanRepository creates a new ClipPlanRepository.
func NewClipPlanRepository(db *gorm.DB) *clipPlanRepo {
	return &clipPlanRepo{db: db}
}

// Replace stores the plan for a song, removing any previous plan. Delete
// and insert run in one transaction so the unique song_id index never
// sees both rows.
func (r *clipPlanRepo) Replace(ctx context.Context, plan *models.ClipPlan) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Unscoped().
			Where("song_id = ?", plan.SongID).
			Delete(&models.ClipPlan{}).Error; err != nil {
			return fmt.Errorf("removing previous plan: %w", err)
		}
		return tx.Create(plan).Error
	})
	if err != nil {
		return fmt.Errorf("replacing clip plan: %w", err)
	}
	return nil
}

// GetBySongID retrieves the plan for a song.
func (r *clipPlanRepo) GetBySongID(ctx context.Context, songID models.ULID) (*models.ClipPlan, error) {
	var plan models.ClipPlan
	if err := r.db.WithContext(ctx).Where("song_id = ?", songID).First(&plan).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting clip plan: %w", err)
	}
	return &plan, nil
}

// DeleteBySongID deletes the plan for a song.
func (r *clipPlanRepo) DeleteBySongID(ctx context.Context, songID models.ULID) error {
	if err := r.db.WithContext(ctx).Unscoped().
		Where("song_id = ?", songID).
		Delete(&models.ClipPlan{}).Error; err != nil {
		return fmt.Errorf("deleting clip plan: %w", err)
	}
	return nil
}

// Ensure clipPlanRepo implements ClipPlanRepository at compile time.
var _ ClipPlanRepository = (*clipPlanRepo)(nil)
