package migrations

import (
	"gorm.io/gorm"

	"github.com/beatreel/beatreel/internal/models"
)

// AllMigrations returns all registered migrations in order.
// - 001: Schema creation using GORM AutoMigrate
func AllMigrations() []Migration {
	return []Migration{
		migration001Schema(),
	}
}

// migration001Schema creates all database tables using GORM AutoMigrate.
func migration001Schema() Migration {
	return Migration{
		Version:     "001",
		Description: "Create all database tables",
		Up: func(tx *gorm.DB) error {
			// AutoMigrate all models in dependency order
			return tx.AutoMigrate(
				// Core entities
				&models.Song{},
				&models.SongAnalysis{},
				&models.ClipPlan{},
				&models.Clip{},
				&models.CompositionJob{},
				&models.ComposedVideo{},

				// Scheduler
				&models.Job{},
				&models.JobHistory{},
			)
		},
		Down: func(tx *gorm.DB) error {
			// Drop tables in reverse dependency order
			tables := []string{
				"job_history",
				"jobs",
				"composed_videos",
				"composition_jobs",
				"clips",
				"clip_plans",
				"song_analyses",
				"songs",
			}
			for _, table := range tables {
				if tx.Migrator().HasTable(table) {
					if err := tx.Migrator().DropTable(table); err != nil {
						return err
					}
				}
			}
			return nil
		},
	}
}
