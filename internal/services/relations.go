package services

import (
	"context"

	"github.com/reqtrace/engine/internal/metrics"
	"github.com/reqtrace/engine/internal/models"
	"github.com/reqtrace/engine/internal/repository"
	appErr "github.com/reqtrace/engine/pkg/errors"
	"github.com/reqtrace/engine/pkg/logger"
	"go.uber.org/zap"
)

// relations keeps parent_ids and child_ids symmetric. Every edge write goes
// through AddRelation/PullRelation on both endpoints.
type relations struct {
	repo repository.RequirementRepository
}

// link writes the edge parent -> child on both sides. When the second side is
// gone the first write is undone and not_found is returned.
func (r relations) link(ctx context.Context, parentID, childID string) error {
	if err := r.repo.AddRelation(ctx, parentID, repository.ChildrenField, childID); err != nil {
		return err
	}
	if err := r.repo.AddRelation(ctx, childID, repository.ParentsField, parentID); err != nil {
		if undo := r.repo.PullRelation(ctx, parentID, repository.ChildrenField, childID); undo != nil {
			logger.FromContext(ctx).Error("undo half-written link failed",
				zap.String("parent_id", parentID), zap.String("child_id", childID), zap.Error(undo))
		}
		return err
	}
	metrics.RelationChanges.WithLabelValues("link").Inc()
	return nil
}

func (r relations) unlink(ctx context.Context, parentID, childID string) error {
	if err := r.repo.PullRelation(ctx, parentID, repository.ChildrenField, childID); err != nil {
		return err
	}
	if err := r.repo.PullRelation(ctx, childID, repository.ParentsField, parentID); err != nil {
		return err
	}
	metrics.RelationChanges.WithLabelValues("unlink").Inc()
	return nil
}

// adoptParents adds childID to the child_ids of every parent. A parent that
// vanished since validation is dropped from the child's parent_ids instead.
func (r relations) adoptParents(ctx context.Context, childID string, parentIDs []string) error {
	for _, p := range parentIDs {
		err := r.repo.AddRelation(ctx, p, repository.ChildrenField, childID)
		if appErr.IsCode(err, appErr.CodeNotFound) {
			logger.FromContext(ctx).Warn("parent disappeared while linking",
				zap.String("parent_id", p), zap.String("child_id", childID))
			if err := r.repo.PullRelation(ctx, childID, repository.ParentsField, p); err != nil {
				return err
			}
			continue
		}
		if err != nil {
			return err
		}
		metrics.RelationChanges.WithLabelValues("link").Inc()
	}
	return nil
}

// releaseParents removes childID from the child_ids of every parent.
func (r relations) releaseParents(ctx context.Context, childID string, parentIDs []string) error {
	for _, p := range parentIDs {
		if err := r.repo.PullRelation(ctx, p, repository.ChildrenField, childID); err != nil {
			return err
		}
		metrics.RelationChanges.WithLabelValues("unlink").Inc()
	}
	return nil
}

// detach removes req from both ends of every edge it takes part in.
func (r relations) detach(ctx context.Context, req *models.Requirement) error {
	if err := r.releaseParents(ctx, req.ID, req.ParentIDs); err != nil {
		return err
	}
	for _, c := range req.ChildIDs {
		if err := r.repo.PullRelation(ctx, c, repository.ParentsField, req.ID); err != nil {
			return err
		}
		metrics.RelationChanges.WithLabelValues("unlink").Inc()
	}
	return nil
}

// requireExisting fails with not_found naming the first id that has no
// requirement.
func (r relations) requireExisting(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	found, err := r.repo.List(ctx, repository.RequirementFilter{IDs: ids}, len(ids))
	if err != nil {
		return err
	}
	present := make(map[string]bool, len(found))
	for _, f := range found {
		present[f.ID] = true
	}
	for _, id := range ids {
		if !present[id] {
			return appErr.NotFound("requirement").WithMeta("id", id)
		}
	}
	return nil
}
