package database

import (
	"context"
	"fmt"
	"time"

	"github.com/reqtrace/engine/pkg/logger"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.uber.org/zap"
)

// OpenMongo connects to MongoDB and pings it, retrying with the same backoff
// as OpenPostgres.
func OpenMongo(ctx context.Context, uri string) (*mongo.Client, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri).SetMaxPoolSize(25))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	b := defaultBackoff
	for attempt := 0; ; attempt++ {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = client.Ping(pingCtx, nil)
		cancel()
		if err == nil {
			return client, nil
		}
		if attempt >= b.maxRetries {
			_ = client.Disconnect(context.Background())
			return nil, fmt.Errorf("failed to ping MongoDB after retries: %w", err)
		}
		logger.FromContext(ctx).Warn("mongo not ready, retrying", zap.Int("attempt", attempt+1), zap.Error(err))
		if err := b.wait(ctx, attempt); err != nil {
			_ = client.Disconnect(context.Background())
			return nil, fmt.Errorf("open mongo canceled: %w", err)
		}
	}
}
