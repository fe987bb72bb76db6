package repository

import (
	"context"
	"errors"

	"github.com/reqtrace/engine/internal/models"
	appErr "github.com/reqtrace/engine/pkg/errors"
	"gorm.io/gorm"
)

const projectScope = "projects:active"

type projectRepository struct {
	baseRepository[models.Project]
}

func NewProjectRepository(db *gorm.DB) ProjectRepository {
	return &projectRepository{baseRepository: newBaseRepository[models.Project](db, "project")}
}

func (r *projectRepository) CreateActive(ctx context.Context, p *models.Project) error {
	p.IsActive = true
	p.Normalize()
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockScope(tx, projectScope); err != nil {
			return appErr.Wrap(err, appErr.CodeInternal, "lock projects failed")
		}
		if err := tx.Model(&models.Project{}).Where("is_active = ?", true).UpdateColumn("is_active", false).Error; err != nil {
			return appErr.Wrap(err, appErr.CodeInternal, "deactivate projects failed")
		}
		if err := tx.Create(p).Error; err != nil {
			return mapWriteError(err, "create project failed")
		}
		return nil
	})
}

func (r *projectRepository) GetActive(ctx context.Context, dest *models.Project) error {
	if err := r.db.WithContext(ctx).Where("is_active = ?", true).Order("updated_at DESC").First(dest).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return appErr.New(appErr.CodeNotFound, "no active project")
		}
		return appErr.Wrap(err, appErr.CodeInternal, "get active project failed")
	}
	dest.Normalize()
	return nil
}

func (r *projectRepository) List(ctx context.Context, limit int) ([]models.Project, error) {
	q := r.db.WithContext(ctx).Order("created_at ASC")
	return r.find(q, ClampLimit(limit, ListLimit), "projects")
}

// Activate clears the active flag on every other project and sets it on id in
// one transaction.
func (r *projectRepository) Activate(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockScope(tx, projectScope); err != nil {
			return appErr.Wrap(err, appErr.CodeInternal, "lock projects failed")
		}
		var n int64
		if err := tx.Model(&models.Project{}).Where("id = ?", id).Count(&n).Error; err != nil {
			return appErr.Wrap(err, appErr.CodeInternal, "lookup project failed")
		}
		if n == 0 {
			return appErr.NotFound("project")
		}
		if err := tx.Model(&models.Project{}).Where("is_active = ? AND id <> ?", true, id).UpdateColumn("is_active", false).Error; err != nil {
			return appErr.Wrap(err, appErr.CodeInternal, "deactivate projects failed")
		}
		if err := tx.Model(&models.Project{}).Where("id = ?", id).UpdateColumn("is_active", true).Error; err != nil {
			return mapWriteError(err, "activate project failed")
		}
		return nil
	})
}
