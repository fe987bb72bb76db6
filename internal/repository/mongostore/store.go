// Package mongostore implements the repositories on MongoDB.
package mongostore

import (
	"context"
	"fmt"

	"github.com/reqtrace/engine/internal/models"
	"github.com/reqtrace/engine/internal/repository"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// Collection names.
const (
	ProjectsCollection     = "projects"
	GroupsCollection       = "groups"
	ChaptersCollection     = "chapters"
	RequirementsCollection = "requirements"
	CountersCollection     = "requirement_counters"
	ChangeLogsCollection   = "requirement_change_logs"
)

type lifecycle struct {
	client *mongo.Client
}

func (l lifecycle) Ping(ctx context.Context) error { return l.client.Ping(ctx, nil) }

func (l lifecycle) Close(ctx context.Context) error { return l.client.Disconnect(ctx) }

// New wires the Mongo repositories on db. The client is owned by the store
// and disconnected by Close.
func New(client *mongo.Client, db *mongo.Database) *repository.Store {
	return &repository.Store{
		Lifecycle: lifecycle{client: client},
		Projects:  &projectRepository{newCollection[models.Project](db, ProjectsCollection, "project")},
		Groups:    &groupRepository{newCollection[models.Group](db, GroupsCollection, "group")},
		Chapters:  &chapterRepository{newCollection[models.Chapter](db, ChaptersCollection, "chapter")},
		Requirements: &requirementRepository{
			collection: newCollection[models.Requirement](db, RequirementsCollection, "requirement"),
			counters:   db.Collection(CountersCollection),
		},
		ChangeLogs: &changeLogRepository{newCollection[models.RequirementChangeLog](db, ChangeLogsCollection, "change log")},
	}
}

// EnsureIndexes creates the secondary indexes, including the partial unique
// indexes that keep at most one active project and one active group per project.
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	onlyActive := bson.M{"is_active": true}
	indexes := map[string][]mongo.IndexModel{
		ProjectsCollection: {
			{
				Keys:    bson.D{{Key: "is_active", Value: 1}},
				Options: options.Index().SetUnique(true).SetPartialFilterExpression(onlyActive).SetName("one_active_project"),
			},
			{Keys: bson.D{{Key: "created_at", Value: 1}}},
		},
		GroupsCollection: {
			{
				Keys:    bson.D{{Key: "project_id", Value: 1}},
				Options: options.Index().SetUnique(true).SetPartialFilterExpression(onlyActive).SetName("one_active_group_per_project"),
			},
			{Keys: bson.D{{Key: "project_id", Value: 1}, {Key: "order", Value: 1}}},
			{Keys: bson.D{{Key: "parent_id", Value: 1}}},
		},
		ChaptersCollection: {
			{Keys: bson.D{{Key: "group_id", Value: 1}, {Key: "order", Value: 1}}},
			{Keys: bson.D{{Key: "parent_id", Value: 1}}},
		},
		RequirementsCollection: {
			{
				Keys:    bson.D{{Key: "project_id", Value: 1}, {Key: "req_id", Value: 1}},
				Options: options.Index().SetUnique(true).SetName("unique_req_id_per_project"),
			},
			{Keys: bson.D{{Key: "group_id", Value: 1}}},
			{Keys: bson.D{{Key: "chapter_id", Value: 1}}},
			{Keys: bson.D{{Key: "status", Value: 1}}},
			{Keys: bson.D{{Key: "parent_ids", Value: 1}}},
			{Keys: bson.D{{Key: "child_ids", Value: 1}}},
		},
		ChangeLogsCollection: {
			{Keys: bson.D{{Key: "requirement_id", Value: 1}, {Key: "created_at", Value: -1}}},
		},
	}
	for name, idx := range indexes {
		if _, err := db.Collection(name).Indexes().CreateMany(ctx, idx); err != nil {
			return fmt.Errorf("create indexes on %s: %w", name, err)
		}
	}
	return nil
}
