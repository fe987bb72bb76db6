package mongostore

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// SeedCounters raises every project's req_id counter to at least the highest
// REQ-NNN suffix already stored, so data written before counters existed is
// never reissued. It returns the number of projects seen.
func SeedCounters(ctx context.Context, db *mongo.Database) (int64, error) {
	suffix := bson.M{"$substrCP": bson.A{"$req_id", 4, bson.M{"$subtract": bson.A{bson.M{"$strLenCP": "$req_id"}, 4}}}}
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"req_id": bson.M{"$regex": `^REQ-[0-9]+$`}}}},
		{{Key: "$group", Value: bson.M{
			"_id": "$project_id",
			"max": bson.M{"$max": bson.M{"$toLong": suffix}},
		}}},
	}
	cur, err := db.Collection(RequirementsCollection).Aggregate(ctx, pipeline)
	if err != nil {
		return 0, fmt.Errorf("scan req_ids: %w", err)
	}
	var rows []struct {
		ProjectID string `bson:"_id"`
		Max       int64  `bson:"max"`
	}
	if err := cur.All(ctx, &rows); err != nil {
		return 0, fmt.Errorf("decode req_id maxima: %w", err)
	}

	counters := db.Collection(CountersCollection)
	for _, row := range rows {
		_, err := counters.UpdateOne(ctx,
			bson.M{"_id": row.ProjectID},
			bson.M{"$max": bson.M{"value": row.Max}},
			options.UpdateOne().SetUpsert(true),
		)
		if err != nil {
			return 0, fmt.Errorf("seed counter for %s: %w", row.ProjectID, err)
		}
	}
	return int64(len(rows)), nil
}

// NormalizeTimestamps converts created_at and updated_at values stored as
// ISO-8601 strings into BSON dates. It returns the number of documents changed.
func NormalizeTimestamps(ctx context.Context, db *mongo.Database) (int64, error) {
	var total int64
	for _, name := range []string{ProjectsCollection, GroupsCollection, ChaptersCollection, RequirementsCollection, ChangeLogsCollection} {
		for _, field := range []string{"created_at", "updated_at"} {
			res, err := db.Collection(name).UpdateMany(ctx,
				bson.M{field: bson.M{"$type": "string"}},
				mongo.Pipeline{{{Key: "$set", Value: bson.M{field: bson.M{"$toDate": "$" + field}}}}},
			)
			if err != nil {
				return total, fmt.Errorf("normalize %s.%s: %w", name, field, err)
			}
			total += res.ModifiedCount
		}
	}
	return total, nil
}
