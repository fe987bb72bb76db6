package repository

import (
	"context"
	"fmt"

	"github.com/reqtrace/engine/internal/models"
	"gorm.io/gorm"
)

// registerModels returns all models that need migration
func registerModels() []any {
	return []any{
		// Hierarchy
		&models.Project{},
		&models.Group{},
		&models.Chapter{},

		// Requirements & traceability
		&models.Requirement{},
		&models.RequirementCounter{},
		&models.RequirementChangeLog{},
	}
}

// Migrate creates or updates the Postgres schema.
func Migrate(ctx context.Context, db *gorm.DB) error {
	db = db.WithContext(ctx)
	if err := db.AutoMigrate(registerModels()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return runCustomMigrations(db)
}

// runCustomMigrations handles schema changes AutoMigrate can't handle
func runCustomMigrations(db *gorm.DB) error {
	migrations := []func(*gorm.DB) error{
		addSingleActiveIndexes,
		addRelationIndexes,
	}

	for _, migration := range migrations {
		if err := migration(db); err != nil {
			return err
		}
	}

	return nil
}

// addSingleActiveIndexes backs the at-most-one-active rule for projects and
// for groups within a project.
func addSingleActiveIndexes(db *gorm.DB) error {
	if err := db.Exec(`
		CREATE UNIQUE INDEX IF NOT EXISTS idx_projects_single_active
		ON projects (is_active)
		WHERE is_active
	`).Error; err != nil {
		return err
	}
	return db.Exec(`
		CREATE UNIQUE INDEX IF NOT EXISTS idx_groups_single_active
		ON groups (project_id)
		WHERE is_active
	`).Error
}

// addRelationIndexes speeds up the containment lookups used when links are repaired.
func addRelationIndexes(db *gorm.DB) error {
	for _, col := range []string{"parent_ids", "child_ids"} {
		if err := db.Exec(fmt.Sprintf(
			`CREATE INDEX IF NOT EXISTS idx_requirements_%s ON requirements USING GIN (%s jsonb_path_ops)`,
			col, col)).Error; err != nil {
			return err
		}
	}
	return nil
}

// SeedCounters raises every project's req_id counter to at least the highest
// REQ-NNN suffix already stored, so data created before counters existed
// never collides. It returns the number of counters written.
func SeedCounters(ctx context.Context, db *gorm.DB) (int64, error) {
	res := db.WithContext(ctx).Exec(`
		INSERT INTO requirement_counters (project_id, value)
		SELECT project_id, MAX(CAST(SUBSTRING(req_id FROM 5) AS BIGINT))
		FROM requirements
		WHERE req_id ~ '^REQ-[0-9]+$'
		GROUP BY project_id
		ON CONFLICT (project_id) DO UPDATE
		SET value = GREATEST(requirement_counters.value, EXCLUDED.value)
	`)
	if res.Error != nil {
		return 0, fmt.Errorf("seed requirement counters: %w", res.Error)
	}
	return res.RowsAffected, nil
}
