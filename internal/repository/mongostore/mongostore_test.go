package mongostore

import (
	"context"
	"testing"
	"time"

	"github.com/reqtrace/engine/internal/repository/repotest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcmongo "github.com/testcontainers/testcontainers-go/modules/mongodb"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

func openTestDB(t *testing.T, name string) (*mongo.Client, *mongo.Database) {
	t.Helper()
	if testing.Short() {
		t.Skip("mongo integration test skipped in -short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	ctr, err := tcmongo.Run(ctx, "mongo:7")
	testcontainers.CleanupContainer(t, ctr)
	require.NoError(t, err)

	uri, err := ctr.ConnectionString(ctx)
	require.NoError(t, err)

	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	require.NoError(t, err)
	db := client.Database(name)
	require.NoError(t, EnsureIndexes(ctx, db))
	return client, db
}

func TestMongoStoreContract(t *testing.T) {
	client, db := openTestDB(t, "reqtrace_test")
	ctx := context.Background()

	store := New(client, db)
	t.Cleanup(func() { _ = store.Close(context.Background()) })
	require.NoError(t, store.Ping(ctx))

	repotest.Run(t, store)
}

func TestMaintenance(t *testing.T) {
	client, db := openTestDB(t, "reqtrace_maintenance")
	ctx := context.Background()
	store := New(client, db)
	t.Cleanup(func() { _ = store.Close(context.Background()) })

	_, err := db.Collection(RequirementsCollection).InsertMany(ctx, []any{
		bson.M{"_id": "r1", "req_id": "REQ-007", "project_id": "p1", "title": "a", "text": "",
			"status": "Draft", "verification_methods": bson.A{}, "group_id": "g1",
			"parent_ids": bson.A{}, "child_ids": bson.A{},
			"created_at": "2024-03-01T10:00:00.000Z", "updated_at": "2024-03-02T10:00:00.000Z"},
		bson.M{"_id": "r2", "req_id": "REQ-012", "project_id": "p1", "title": "b", "text": "",
			"status": "Draft", "verification_methods": bson.A{}, "group_id": "g1",
			"parent_ids": bson.A{}, "child_ids": bson.A{},
			"created_at": time.Now(), "updated_at": time.Now()},
	})
	require.NoError(t, err)

	t.Run("SeedCounters", func(t *testing.T) {
		n, err := SeedCounters(ctx, db)
		require.NoError(t, err)
		assert.EqualValues(t, 1, n)

		next, err := store.Requirements.NextSequence(ctx, "p1")
		require.NoError(t, err)
		assert.EqualValues(t, 13, next)

		// Seeding again never lowers an advanced counter.
		_, err = SeedCounters(ctx, db)
		require.NoError(t, err)
		next, err = store.Requirements.NextSequence(ctx, "p1")
		require.NoError(t, err)
		assert.EqualValues(t, 14, next)
	})

	t.Run("NormalizeTimestamps", func(t *testing.T) {
		n, err := NormalizeTimestamps(ctx, db)
		require.NoError(t, err)
		assert.EqualValues(t, 2, n)

		raw, err := db.Collection(RequirementsCollection).FindOne(ctx, bson.M{"_id": "r1"}).Raw()
		require.NoError(t, err)
		assert.Equal(t, bson.TypeDateTime, raw.Lookup("created_at").Type)

		n, err = NormalizeTimestamps(ctx, db)
		require.NoError(t, err)
		assert.Zero(t, n)
	})
}
