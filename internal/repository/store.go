package repository

import (
	"context"

	"gorm.io/gorm"
)

type gormLifecycle struct {
	db *gorm.DB
}

func (l gormLifecycle) Ping(ctx context.Context) error {
	sqlDB, err := l.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (l gormLifecycle) Close(context.Context) error {
	sqlDB, err := l.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// NewGormStore wires the Postgres repositories around one connection pool.
func NewGormStore(db *gorm.DB) *Store {
	return &Store{
		Lifecycle:    gormLifecycle{db: db},
		Projects:     NewProjectRepository(db),
		Groups:       NewGroupRepository(db),
		Chapters:     NewChapterRepository(db),
		Requirements: NewRequirementRepository(db),
		ChangeLogs:   NewChangeLogRepository(db),
	}
}
