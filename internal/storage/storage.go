// Package storage opens the repository backend selected by configuration.
package storage

import (
	"context"
	"fmt"

	"github.com/reqtrace/engine/internal/repository"
	"github.com/reqtrace/engine/internal/repository/memstore"
	"github.com/reqtrace/engine/internal/repository/mongostore"
	"github.com/reqtrace/engine/pkg/config"
	"github.com/reqtrace/engine/pkg/database"
	"github.com/reqtrace/engine/pkg/logger"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Handles exposes the raw connections behind a store for maintenance
// commands. Only the field of the selected backend is set.
type Handles struct {
	Gorm  *gorm.DB
	Mongo *mongo.Database
}

// Options controls what Open does besides connecting.
type Options struct {
	// Bootstrap creates tables and indexes before returning.
	Bootstrap bool
}

// Open connects to cfg.StoreBackend.
func Open(ctx context.Context, cfg *config.Config, opts Options) (*repository.Store, *Handles, error) {
	log := logger.L().With(zap.String("backend", cfg.StoreBackend))
	switch cfg.StoreBackend {
	case config.BackendPostgres:
		db, err := database.OpenPostgres(ctx, cfg.DatabaseURL, cfg.AppEnv)
		if err != nil {
			return nil, nil, err
		}
		if opts.Bootstrap {
			if err := repository.Migrate(ctx, db); err != nil {
				return nil, nil, fmt.Errorf("bootstrap postgres: %w", err)
			}
			log.Info("postgres schema ready")
		}
		return repository.NewGormStore(db), &Handles{Gorm: db}, nil

	case config.BackendMongo:
		client, err := database.OpenMongo(ctx, cfg.MongoURL)
		if err != nil {
			return nil, nil, err
		}
		db := client.Database(cfg.MongoDB)
		if opts.Bootstrap {
			if err := mongostore.EnsureIndexes(ctx, db); err != nil {
				_ = client.Disconnect(context.Background())
				return nil, nil, fmt.Errorf("bootstrap mongo: %w", err)
			}
			log.Info("mongo indexes ready", zap.String("database", cfg.MongoDB))
		}
		return mongostore.New(client, db), &Handles{Mongo: db}, nil

	case config.BackendMemory:
		log.Warn("using in-memory store; data is lost on exit")
		return memstore.New(), &Handles{}, nil

	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}
