package mongostore

import (
	"context"
	"time"

	"github.com/reqtrace/engine/internal/models"
	"github.com/reqtrace/engine/internal/repository"
	appErr "github.com/reqtrace/engine/pkg/errors"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

var (
	byCreated = bson.D{{Key: "created_at", Value: 1}}
	byOrder   = bson.D{{Key: "order", Value: 1}, {Key: "created_at", Value: 1}}
	byUpdated = options.FindOne().SetSort(bson.D{{Key: "updated_at", Value: -1}})
)

type projectRepository struct {
	collection[models.Project]
}

var _ repository.ProjectRepository = (*projectRepository)(nil)

func (r *projectRepository) CreateActive(ctx context.Context, p *models.Project) error {
	p.IsActive = true
	return flipActive(ctx, r.coll, bson.M{}, "", func() error {
		return r.insert(ctx, p)
	})
}

func (r *projectRepository) GetActive(ctx context.Context, dest *models.Project) error {
	err := r.findOne(ctx, bson.M{"is_active": true}, dest, byUpdated)
	if appErr.IsCode(err, appErr.CodeNotFound) {
		return appErr.New(appErr.CodeNotFound, "no active project")
	}
	return err
}

func (r *projectRepository) List(ctx context.Context, limit int) ([]models.Project, error) {
	return r.find(ctx, bson.M{}, byCreated, repository.ClampLimit(limit, repository.ListLimit), "projects")
}

func (r *projectRepository) Activate(ctx context.Context, id string) error {
	var p models.Project
	if err := r.GetByID(ctx, id, &p); err != nil {
		return err
	}
	return flipActive(ctx, r.coll, bson.M{}, id, func() error {
		return setActive(ctx, r.coll, id, r.entity)
	})
}

func setActive(ctx context.Context, coll *mongo.Collection, id, entity string) error {
	res, err := coll.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{"is_active": true}})
	if err != nil {
		return mapWriteError(err, "activate "+entity+" failed")
	}
	if res.MatchedCount == 0 {
		return appErr.NotFound(entity)
	}
	return nil
}

type groupRepository struct {
	collection[models.Group]
}

var _ repository.GroupRepository = (*groupRepository)(nil)

func (r *groupRepository) CreateActive(ctx context.Context, g *models.Group) error {
	g.IsActive = true
	return flipActive(ctx, r.coll, bson.M{"project_id": g.ProjectID}, "", func() error {
		return r.insert(ctx, g)
	})
}

func (r *groupRepository) GetActive(ctx context.Context, projectID string, dest *models.Group) error {
	filter := bson.M{"is_active": true}
	if projectID != "" {
		filter["project_id"] = projectID
	}
	err := r.findOne(ctx, filter, dest, byUpdated)
	if appErr.IsCode(err, appErr.CodeNotFound) {
		return appErr.New(appErr.CodeNotFound, "no active group")
	}
	return err
}

func (r *groupRepository) List(ctx context.Context, f repository.GroupFilter, limit int) ([]models.Group, error) {
	filter := bson.M{}
	if f.ProjectID != "" {
		filter["project_id"] = f.ProjectID
	}
	if f.ParentIDs != nil {
		filter["parent_id"] = bson.M{"$in": f.ParentIDs}
	}
	return r.find(ctx, filter, byOrder, repository.ClampLimit(limit, repository.ListLimit), "groups")
}

func (r *groupRepository) Activate(ctx context.Context, id string) error {
	var g models.Group
	if err := r.GetByID(ctx, id, &g); err != nil {
		return err
	}
	return flipActive(ctx, r.coll, bson.M{"project_id": g.ProjectID}, id, func() error {
		return setActive(ctx, r.coll, id, r.entity)
	})
}

func (r *groupRepository) Reorder(ctx context.Context, id string, order int, parentID *string, at time.Time) error {
	return reorder(ctx, r.coll, r.entity, id, order, parentID, at)
}

type chapterRepository struct {
	collection[models.Chapter]
}

var _ repository.ChapterRepository = (*chapterRepository)(nil)

func (r *chapterRepository) Create(ctx context.Context, c *models.Chapter) error {
	return r.insert(ctx, c)
}

func (r *chapterRepository) List(ctx context.Context, f repository.ChapterFilter, limit int) ([]models.Chapter, error) {
	filter := bson.M{}
	if f.GroupID != "" {
		filter["group_id"] = f.GroupID
	}
	if f.GroupIDs != nil {
		if f.GroupID != "" {
			filter["$and"] = bson.A{bson.M{"group_id": bson.M{"$in": f.GroupIDs}}}
		} else {
			filter["group_id"] = bson.M{"$in": f.GroupIDs}
		}
	}
	if f.ParentIDs != nil {
		filter["parent_id"] = bson.M{"$in": f.ParentIDs}
	}
	return r.find(ctx, filter, byOrder, repository.ClampLimit(limit, repository.ListLimit), "chapters")
}

func (r *chapterRepository) Reorder(ctx context.Context, id string, order int, parentID *string, at time.Time) error {
	return reorder(ctx, r.coll, r.entity, id, order, parentID, at)
}

func reorder(ctx context.Context, coll *mongo.Collection, entity, id string, order int, parentID *string, at time.Time) error {
	update := bson.M{}
	set := bson.M{"order": order, "updated_at": at}
	if parentID != nil {
		if *parentID == "" {
			update["$unset"] = bson.M{"parent_id": ""}
		} else {
			set["parent_id"] = *parentID
		}
	}
	update["$set"] = set
	res, err := coll.UpdateOne(ctx, bson.M{"_id": id}, update)
	if err != nil {
		return appErr.Wrap(err, appErr.CodeInternal, "reorder "+entity+" failed")
	}
	if res.MatchedCount == 0 {
		return appErr.NotFound(entity)
	}
	return nil
}
