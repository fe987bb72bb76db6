package mongostore

import (
	"context"
	"regexp"

	"github.com/reqtrace/engine/internal/models"
	"github.com/reqtrace/engine/internal/repository"
	appErr "github.com/reqtrace/engine/pkg/errors"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

type requirementRepository struct {
	collection[models.Requirement]
	counters *mongo.Collection
}

var _ repository.RequirementRepository = (*requirementRepository)(nil)

func (r *requirementRepository) Create(ctx context.Context, req *models.Requirement) error {
	return r.insert(ctx, req)
}

func requirementFilter(f repository.RequirementFilter) bson.M {
	filter := bson.M{}
	var and bson.A
	if f.ProjectID != "" {
		filter["project_id"] = f.ProjectID
	}
	if f.GroupID != "" {
		filter["group_id"] = f.GroupID
	}
	if f.ChapterID != "" {
		filter["chapter_id"] = f.ChapterID
	}
	if f.Status != "" {
		filter["status"] = f.Status
	}
	if f.IDs != nil {
		filter["_id"] = bson.M{"$in": f.IDs}
	}
	if f.GroupIDs != nil {
		and = append(and, bson.M{"group_id": bson.M{"$in": f.GroupIDs}})
	}
	if f.ChapterIDs != nil {
		and = append(and, bson.M{"chapter_id": bson.M{"$in": f.ChapterIDs}})
	}
	if len(and) > 0 {
		filter["$and"] = and
	}
	return filter
}

func (r *requirementRepository) List(ctx context.Context, f repository.RequirementFilter, limit int) ([]models.Requirement, error) {
	return r.find(ctx, requirementFilter(f), byCreated, repository.ClampLimit(limit, repository.ListLimit), "requirements")
}

func (r *requirementRepository) Search(ctx context.Context, query, projectID string, limit int) ([]models.Requirement, error) {
	re := bson.Regex{Pattern: regexp.QuoteMeta(query), Options: "i"}
	filter := bson.M{"$or": bson.A{
		bson.M{"title": re},
		bson.M{"text": re},
		bson.M{"req_id": re},
	}}
	if projectID != "" {
		filter["project_id"] = projectID
	}
	return r.find(ctx, filter, byCreated, repository.ClampLimit(limit, repository.SearchLimit), "requirements")
}

func nonEmpty(field string) bson.M {
	return bson.M{"$cond": bson.A{
		bson.M{"$gt": bson.A{bson.M{"$size": bson.M{"$ifNull": bson.A{"$" + field, bson.A{}}}}, 0}},
		1, 0,
	}}
}

func (r *requirementRepository) Stats(ctx context.Context, projectID string) (*repository.RequirementStats, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"project_id": projectID}}},
		{{Key: "$group", Value: bson.M{
			"_id":               "$status",
			"total":             bson.M{"$sum": 1},
			"with_children":     bson.M{"$sum": nonEmpty("child_ids")},
			"with_verification": bson.M{"$sum": nonEmpty("verification_methods")},
		}}},
	}
	cur, err := r.coll.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, appErr.Wrap(err, appErr.CodeInternal, "requirement stats failed")
	}
	var rows []struct {
		Status           models.Status `bson:"_id"`
		Total            int64         `bson:"total"`
		WithChildren     int64         `bson:"with_children"`
		WithVerification int64         `bson:"with_verification"`
	}
	if err := cur.All(ctx, &rows); err != nil {
		return nil, appErr.Wrap(err, appErr.CodeInternal, "decode requirement stats failed")
	}
	stats := &repository.RequirementStats{ByStatus: make(map[models.Status]int64, len(models.Statuses))}
	for _, row := range rows {
		stats.Total += row.Total
		stats.ByStatus[row.Status] += row.Total
		stats.WithChildren += row.WithChildren
		stats.WithVerification += row.WithVerification
	}
	return stats, nil
}

func patchUpdate(p repository.RequirementPatch) bson.M {
	set := bson.M{"updated_at": p.UpdatedAt}
	update := bson.M{"$set": set}
	if p.Title != nil {
		set["title"] = *p.Title
	}
	if p.Text != nil {
		set["text"] = *p.Text
	}
	if p.Status != nil {
		set["status"] = *p.Status
	}
	if p.GroupID != nil {
		set["group_id"] = *p.GroupID
	}
	if p.ChapterID != nil {
		if *p.ChapterID == "" {
			update["$unset"] = bson.M{"chapter_id": ""}
		} else {
			set["chapter_id"] = *p.ChapterID
		}
	}
	if p.UpdatedBy != nil {
		set["updated_by"] = *p.UpdatedBy
	}
	if p.VerificationMethods != nil {
		set["verification_methods"] = models.UniqueMethods(*p.VerificationMethods)
	}
	if p.ParentIDs != nil {
		set["parent_ids"] = models.UniqueIDs(*p.ParentIDs)
	}
	return update
}

func (r *requirementRepository) Update(ctx context.Context, id string, patch repository.RequirementPatch) error {
	res, err := r.coll.UpdateOne(ctx, bson.M{"_id": id}, patchUpdate(patch))
	if err != nil {
		return mapWriteError(err, "update requirement failed")
	}
	if res.MatchedCount == 0 {
		return appErr.NotFound(r.entity)
	}
	return nil
}

func (r *requirementRepository) UpdateMany(ctx context.Context, ids []string, patch repository.RequirementPatch) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res, err := r.coll.UpdateMany(ctx, bson.M{"_id": bson.M{"$in": ids}}, patchUpdate(patch))
	if err != nil {
		return 0, mapWriteError(err, "batch update requirements failed")
	}
	return res.MatchedCount, nil
}

func relationField(field repository.RelationField) (string, error) {
	switch field {
	case repository.ParentsField, repository.ChildrenField:
		return string(field), nil
	}
	return "", appErr.Invalid("unknown relation field %q", field)
}

func (r *requirementRepository) AddRelation(ctx context.Context, id string, field repository.RelationField, other string) error {
	name, err := relationField(field)
	if err != nil {
		return err
	}
	res, err := r.coll.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$addToSet": bson.M{name: other}})
	if err != nil {
		return appErr.Wrap(err, appErr.CodeInternal, "add relation failed")
	}
	if res.MatchedCount == 0 {
		return appErr.NotFound(r.entity)
	}
	return nil
}

func (r *requirementRepository) PullRelation(ctx context.Context, id string, field repository.RelationField, other string) error {
	name, err := relationField(field)
	if err != nil {
		return err
	}
	if _, err := r.coll.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$pull": bson.M{name: other}}); err != nil {
		return appErr.Wrap(err, appErr.CodeInternal, "pull relation failed")
	}
	return nil
}

func (r *requirementRepository) PullEverywhere(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	in := bson.M{"$in": ids}
	_, err := r.coll.UpdateMany(ctx,
		bson.M{"$or": bson.A{bson.M{"parent_ids": in}, bson.M{"child_ids": in}}},
		bson.M{"$pull": bson.M{"parent_ids": in, "child_ids": in}},
	)
	if err != nil {
		return appErr.Wrap(err, appErr.CodeInternal, "pull relations failed")
	}
	return nil
}

func (r *requirementRepository) DeleteMany(ctx context.Context, f repository.RequirementFilter) ([]string, error) {
	filter := requirementFilter(f)
	cur, err := r.coll.Find(ctx, filter, options.Find().SetProjection(bson.M{"_id": 1}))
	if err != nil {
		return nil, appErr.Wrap(err, appErr.CodeInternal, "delete requirements failed")
	}
	var docs []struct {
		ID string `bson:"_id"`
	}
	if err := cur.All(ctx, &docs); err != nil {
		return nil, appErr.Wrap(err, appErr.CodeInternal, "delete requirements failed")
	}
	ids := make([]string, 0, len(docs))
	for _, d := range docs {
		ids = append(ids, d.ID)
	}
	if _, err := r.collection.DeleteMany(ctx, ids); err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *requirementRepository) NextSequence(ctx context.Context, projectID string) (int64, error) {
	var counter models.RequirementCounter
	err := r.counters.FindOneAndUpdate(ctx,
		bson.M{"_id": projectID},
		bson.M{"$inc": bson.M{"value": 1}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&counter)
	if err != nil {
		return 0, appErr.Wrap(err, appErr.CodeInternal, "reserve requirement sequence failed")
	}
	return counter.Value, nil
}

type changeLogRepository struct {
	collection[models.RequirementChangeLog]
}

var _ repository.ChangeLogRepository = (*changeLogRepository)(nil)

func (r *changeLogRepository) Create(ctx context.Context, l *models.RequirementChangeLog) error {
	return r.insert(ctx, l)
}

func (r *changeLogRepository) ListByRequirement(ctx context.Context, requirementID string, limit int) ([]models.RequirementChangeLog, error) {
	return r.find(ctx, bson.M{"requirement_id": requirementID},
		bson.D{{Key: "created_at", Value: -1}},
		repository.ClampLimit(limit, repository.ListLimit), "change logs")
}
