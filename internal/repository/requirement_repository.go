package repository

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/reqtrace/engine/internal/models"
	appErr "github.com/reqtrace/engine/pkg/errors"
	"gorm.io/gorm"
)

type requirementRepository struct {
	baseRepository[models.Requirement]
}

func NewRequirementRepository(db *gorm.DB) RequirementRepository {
	return &requirementRepository{baseRepository: newBaseRepository[models.Requirement](db, "requirement")}
}

func (r *requirementRepository) Create(ctx context.Context, req *models.Requirement) error {
	return r.create(ctx, req)
}

// applyFilter returns false when the filter can match nothing.
func applyFilter(q *gorm.DB, f RequirementFilter) (*gorm.DB, bool) {
	if f.ProjectID != "" {
		q = q.Where("project_id = ?", f.ProjectID)
	}
	if f.GroupID != "" {
		q = q.Where("group_id = ?", f.GroupID)
	}
	if f.ChapterID != "" {
		q = q.Where("chapter_id = ?", f.ChapterID)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	for _, in := range []struct {
		col string
		ids []string
	}{{"id", f.IDs}, {"group_id", f.GroupIDs}, {"chapter_id", f.ChapterIDs}} {
		if in.ids == nil {
			continue
		}
		if len(in.ids) == 0 {
			return q, false
		}
		q = q.Where(in.col+" IN ?", in.ids)
	}
	return q, true
}

func (r *requirementRepository) List(ctx context.Context, f RequirementFilter, limit int) ([]models.Requirement, error) {
	q, ok := applyFilter(r.db.WithContext(ctx), f)
	if !ok {
		return []models.Requirement{}, nil
	}
	return r.find(q.Order("created_at ASC"), ClampLimit(limit, ListLimit), "requirements")
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func (r *requirementRepository) Search(ctx context.Context, query, projectID string, limit int) ([]models.Requirement, error) {
	pattern := "%" + likeEscaper.Replace(query) + "%"
	q := r.db.WithContext(ctx).
		Where(`(title ILIKE ? OR "text" ILIKE ? OR req_id ILIKE ?)`, pattern, pattern, pattern)
	if projectID != "" {
		q = q.Where("project_id = ?", projectID)
	}
	return r.find(q.Order("created_at ASC"), ClampLimit(limit, SearchLimit), "requirements")
}

type statusRow struct {
	Status           models.Status
	Total            int64
	WithChildren     int64
	WithVerification int64
}

func (r *requirementRepository) Stats(ctx context.Context, projectID string) (*RequirementStats, error) {
	var rows []statusRow
	err := r.db.WithContext(ctx).Model(&models.Requirement{}).
		Select(`status,
			COUNT(*) AS total,
			COALESCE(SUM(CASE WHEN jsonb_array_length(child_ids) > 0 THEN 1 ELSE 0 END), 0) AS with_children,
			COALESCE(SUM(CASE WHEN jsonb_array_length(verification_methods) > 0 THEN 1 ELSE 0 END), 0) AS with_verification`).
		Where("project_id = ?", projectID).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, appErr.Wrap(err, appErr.CodeInternal, "requirement stats failed")
	}
	stats := &RequirementStats{ByStatus: make(map[models.Status]int64, len(models.Statuses))}
	for _, row := range rows {
		stats.Total += row.Total
		stats.ByStatus[row.Status] += row.Total
		stats.WithChildren += row.WithChildren
		stats.WithVerification += row.WithVerification
	}
	return stats, nil
}

func jsonbExpr(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return gorm.Expr("?::jsonb", string(b)), nil
}

func patchColumns(p RequirementPatch) (map[string]any, error) {
	cols := map[string]any{"updated_at": p.UpdatedAt}
	if p.Title != nil {
		cols["title"] = *p.Title
	}
	if p.Text != nil {
		cols["text"] = *p.Text
	}
	if p.Status != nil {
		cols["status"] = *p.Status
	}
	if p.GroupID != nil {
		cols["group_id"] = *p.GroupID
	}
	if p.ChapterID != nil {
		if *p.ChapterID == "" {
			cols["chapter_id"] = nil
		} else {
			cols["chapter_id"] = *p.ChapterID
		}
	}
	if p.UpdatedBy != nil {
		cols["updated_by"] = *p.UpdatedBy
	}
	if p.VerificationMethods != nil {
		expr, err := jsonbExpr(models.UniqueMethods(*p.VerificationMethods))
		if err != nil {
			return nil, err
		}
		cols["verification_methods"] = expr
	}
	if p.ParentIDs != nil {
		expr, err := jsonbExpr(models.UniqueIDs(*p.ParentIDs))
		if err != nil {
			return nil, err
		}
		cols["parent_ids"] = expr
	}
	return cols, nil
}

func (r *requirementRepository) Update(ctx context.Context, id string, patch RequirementPatch) error {
	cols, err := patchColumns(patch)
	if err != nil {
		return appErr.Wrap(err, appErr.CodeInternal, "encode requirement patch failed")
	}
	res := r.db.WithContext(ctx).Model(&models.Requirement{}).Where("id = ?", id).UpdateColumns(cols)
	if res.Error != nil {
		return mapWriteError(res.Error, "update requirement failed")
	}
	if res.RowsAffected == 0 {
		return appErr.NotFound(r.entity)
	}
	return nil
}

func (r *requirementRepository) UpdateMany(ctx context.Context, ids []string, patch RequirementPatch) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	cols, err := patchColumns(patch)
	if err != nil {
		return 0, appErr.Wrap(err, appErr.CodeInternal, "encode requirement patch failed")
	}
	res := r.db.WithContext(ctx).Model(&models.Requirement{}).Where("id IN ?", ids).UpdateColumns(cols)
	if res.Error != nil {
		return 0, mapWriteError(res.Error, "batch update requirements failed")
	}
	return res.RowsAffected, nil
}

func relationColumn(field RelationField) (string, error) {
	switch field {
	case ParentsField, ChildrenField:
		return string(field), nil
	}
	return "", appErr.Invalid("unknown relation field %q", field)
}

func (r *requirementRepository) AddRelation(ctx context.Context, id string, field RelationField, other string) error {
	col, err := relationColumn(field)
	if err != nil {
		return err
	}
	expr := gorm.Expr(
		"CASE WHEN "+col+" @> jsonb_build_array(?::text) THEN "+col+" ELSE "+col+" || jsonb_build_array(?::text) END",
		other, other)
	res := r.db.WithContext(ctx).Model(&models.Requirement{}).Where("id = ?", id).UpdateColumn(col, expr)
	if res.Error != nil {
		return appErr.Wrap(res.Error, appErr.CodeInternal, "add relation failed")
	}
	if res.RowsAffected == 0 {
		return appErr.NotFound(r.entity)
	}
	return nil
}

func (r *requirementRepository) PullRelation(ctx context.Context, id string, field RelationField, other string) error {
	col, err := relationColumn(field)
	if err != nil {
		return err
	}
	err = r.db.WithContext(ctx).Model(&models.Requirement{}).
		Where("id = ?", id).
		UpdateColumn(col, gorm.Expr(col+" - ?::text", other)).Error
	if err != nil {
		return appErr.Wrap(err, appErr.CodeInternal, "pull relation failed")
	}
	return nil
}

func (r *requirementRepository) PullEverywhere(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, id := range ids {
			err := tx.Exec(`UPDATE requirements
				SET parent_ids = parent_ids - ?::text, child_ids = child_ids - ?::text
				WHERE parent_ids @> jsonb_build_array(?::text) OR child_ids @> jsonb_build_array(?::text)`,
				id, id, id, id).Error
			if err != nil {
				return appErr.Wrap(err, appErr.CodeInternal, "pull relations failed")
			}
		}
		return nil
	})
}

func (r *requirementRepository) DeleteMany(ctx context.Context, f RequirementFilter) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q, ok := applyFilter(tx.Model(&models.Requirement{}), f)
		if !ok {
			return nil
		}
		if err := q.Pluck("id", &ids).Error; err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		return tx.Delete(&models.Requirement{}, "id IN ?", ids).Error
	})
	if err != nil {
		return nil, appErr.Wrap(err, appErr.CodeInternal, "delete requirements failed")
	}
	if ids == nil {
		ids = []string{}
	}
	return ids, nil
}

func (r *requirementRepository) NextSequence(ctx context.Context, projectID string) (int64, error) {
	var value int64
	err := r.db.WithContext(ctx).Raw(`INSERT INTO requirement_counters (project_id, value) VALUES (?, 1)
		ON CONFLICT (project_id) DO UPDATE SET value = requirement_counters.value + 1
		RETURNING value`, projectID).Scan(&value).Error
	if err != nil {
		return 0, appErr.Wrap(err, appErr.CodeInternal, "reserve requirement sequence failed")
	}
	return value, nil
}
