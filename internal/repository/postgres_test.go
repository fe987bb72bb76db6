package repository_test

import (
	"context"
	"testing"
	"time"

	"github.com/reqtrace/engine/internal/repository"
	"github.com/reqtrace/engine/internal/repository/repotest"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	if testing.Short() {
		t.Skip("postgres integration test skipped in -short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	ctr, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("reqtrace"),
		tcpostgres.WithUsername("reqtrace"),
		tcpostgres.WithPassword("reqtrace"),
		tcpostgres.BasicWaitStrategies(),
	)
	testcontainers.CleanupContainer(t, ctr)
	require.NoError(t, err)

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormlogger.Discard})
	require.NoError(t, err)
	require.NoError(t, repository.Migrate(ctx, db))
	return db
}

func TestGormStoreContract(t *testing.T) {
	db := openTestDB(t)
	store := repository.NewGormStore(db)
	t.Cleanup(func() { _ = store.Close(context.Background()) })
	require.NoError(t, store.Ping(context.Background()))

	repotest.Run(t, store)
}

func TestSeedCountersSkipsPastExistingIDs(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	require.NoError(t, db.Exec(`INSERT INTO requirements
		(id, req_id, title, text, status, verification_methods, project_id, group_id, parent_ids, child_ids, created_at, updated_at)
		VALUES ('r1', 'REQ-041', 't', 'x', 'Draft', '[]', 'p1', 'g1', '[]', '[]', now(), now())`).Error)

	n, err := repository.SeedCounters(ctx, db)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	next, err := repository.NewRequirementRepository(db).NextSequence(ctx, "p1")
	require.NoError(t, err)
	require.EqualValues(t, 42, next)
}
