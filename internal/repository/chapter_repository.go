package repository

import (
	"context"
	"time"

	"github.com/reqtrace/engine/internal/models"
	"gorm.io/gorm"
)

type chapterRepository struct {
	baseRepository[models.Chapter]
}

func NewChapterRepository(db *gorm.DB) ChapterRepository {
	return &chapterRepository{baseRepository: newBaseRepository[models.Chapter](db, "chapter")}
}

func (r *chapterRepository) Create(ctx context.Context, c *models.Chapter) error {
	return r.create(ctx, c)
}

func (r *chapterRepository) List(ctx context.Context, f ChapterFilter, limit int) ([]models.Chapter, error) {
	q := r.db.WithContext(ctx)
	if f.GroupID != "" {
		q = q.Where("group_id = ?", f.GroupID)
	}
	if f.GroupIDs != nil {
		if len(f.GroupIDs) == 0 {
			return []models.Chapter{}, nil
		}
		q = q.Where("group_id IN ?", f.GroupIDs)
	}
	if f.ParentIDs != nil {
		if len(f.ParentIDs) == 0 {
			return []models.Chapter{}, nil
		}
		q = q.Where("parent_id IN ?", f.ParentIDs)
	}
	q = q.Order("sort_order ASC").Order("created_at ASC")
	return r.find(q, ClampLimit(limit, ListLimit), "chapters")
}

func (r *chapterRepository) Reorder(ctx context.Context, id string, order int, parentID *string, at time.Time) error {
	return reorder(ctx, r.db, &models.Chapter{}, r.entity, id, order, parentID, at)
}
