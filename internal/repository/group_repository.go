package repository

import (
	"context"
	"errors"
	"time"

	"github.com/reqtrace/engine/internal/models"
	appErr "github.com/reqtrace/engine/pkg/errors"
	"gorm.io/gorm"
)

type groupRepository struct {
	baseRepository[models.Group]
}

func NewGroupRepository(db *gorm.DB) GroupRepository {
	return &groupRepository{baseRepository: newBaseRepository[models.Group](db, "group")}
}

func groupScope(projectID string) string { return "groups:active:" + projectID }

func (r *groupRepository) CreateActive(ctx context.Context, g *models.Group) error {
	g.IsActive = true
	g.Normalize()
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockScope(tx, groupScope(g.ProjectID)); err != nil {
			return appErr.Wrap(err, appErr.CodeInternal, "lock groups failed")
		}
		if err := tx.Model(&models.Group{}).
			Where("project_id = ? AND is_active = ?", g.ProjectID, true).
			UpdateColumn("is_active", false).Error; err != nil {
			return appErr.Wrap(err, appErr.CodeInternal, "deactivate groups failed")
		}
		if err := tx.Create(g).Error; err != nil {
			return mapWriteError(err, "create group failed")
		}
		return nil
	})
}

func (r *groupRepository) GetActive(ctx context.Context, projectID string, dest *models.Group) error {
	q := r.db.WithContext(ctx).Where("is_active = ?", true)
	if projectID != "" {
		q = q.Where("project_id = ?", projectID)
	}
	if err := q.Order("updated_at DESC").First(dest).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return appErr.New(appErr.CodeNotFound, "no active group")
		}
		return appErr.Wrap(err, appErr.CodeInternal, "get active group failed")
	}
	dest.Normalize()
	return nil
}

func (r *groupRepository) List(ctx context.Context, f GroupFilter, limit int) ([]models.Group, error) {
	q := r.db.WithContext(ctx)
	if f.ProjectID != "" {
		q = q.Where("project_id = ?", f.ProjectID)
	}
	if f.ParentIDs != nil {
		if len(f.ParentIDs) == 0 {
			return []models.Group{}, nil
		}
		q = q.Where("parent_id IN ?", f.ParentIDs)
	}
	q = q.Order("sort_order ASC").Order("created_at ASC")
	return r.find(q, ClampLimit(limit, ListLimit), "groups")
}

func (r *groupRepository) Activate(ctx context.Context, id string) error {
	var g models.Group
	if err := r.GetByID(ctx, id, &g); err != nil {
		return err
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockScope(tx, groupScope(g.ProjectID)); err != nil {
			return appErr.Wrap(err, appErr.CodeInternal, "lock groups failed")
		}
		if err := tx.Model(&models.Group{}).
			Where("project_id = ? AND is_active = ? AND id <> ?", g.ProjectID, true, id).
			UpdateColumn("is_active", false).Error; err != nil {
			return appErr.Wrap(err, appErr.CodeInternal, "deactivate groups failed")
		}
		res := tx.Model(&models.Group{}).Where("id = ?", id).UpdateColumn("is_active", true)
		if res.Error != nil {
			return mapWriteError(res.Error, "activate group failed")
		}
		if res.RowsAffected == 0 {
			return appErr.NotFound("group")
		}
		return nil
	})
}

func (r *groupRepository) Reorder(ctx context.Context, id string, order int, parentID *string, at time.Time) error {
	return reorder(ctx, r.db, &models.Group{}, r.entity, id, order, parentID, at)
}

// reorder sets sort_order and optionally parent_id; an empty parent detaches
// the node to the root.
func reorder(ctx context.Context, db *gorm.DB, model any, entity, id string, order int, parentID *string, at time.Time) error {
	updates := map[string]any{"sort_order": order, "updated_at": at}
	if parentID != nil {
		if *parentID == "" {
			updates["parent_id"] = nil
		} else {
			updates["parent_id"] = *parentID
		}
	}
	res := db.WithContext(ctx).Model(model).Where("id = ?", id).UpdateColumns(updates)
	if res.Error != nil {
		return appErr.Wrap(res.Error, appErr.CodeInternal, "reorder "+entity+" failed")
	}
	if res.RowsAffected == 0 {
		return appErr.NotFound(entity)
	}
	return nil
}
