package repository

import (
	"context"

	"github.com/reqtrace/engine/internal/models"
	"gorm.io/gorm"
)

type changeLogRepository struct {
	baseRepository[models.RequirementChangeLog]
}

func NewChangeLogRepository(db *gorm.DB) ChangeLogRepository {
	return &changeLogRepository{baseRepository: newBaseRepository[models.RequirementChangeLog](db, "change log")}
}

func (r *changeLogRepository) Create(ctx context.Context, l *models.RequirementChangeLog) error {
	return r.create(ctx, l)
}

func (r *changeLogRepository) ListByRequirement(ctx context.Context, requirementID string, limit int) ([]models.RequirementChangeLog, error) {
	q := r.db.WithContext(ctx).
		Where("requirement_id = ?", requirementID).
		Order("created_at DESC")
	return r.find(q, ClampLimit(limit, ListLimit), "change logs")
}
