package storage

import (
	"context"
	"os"
	"testing"

	"github.com/reqtrace/engine/pkg/config"
	"github.com/reqtrace/engine/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestMain(m *testing.M) {
	logger.Replace(zap.NewNop())
	os.Exit(m.Run())
}

func TestOpenMemory(t *testing.T) {
	store, handles, err := Open(context.Background(), &config.Config{StoreBackend: config.BackendMemory}, Options{Bootstrap: true})
	require.NoError(t, err)
	assert.Nil(t, handles.Gorm)
	assert.Nil(t, handles.Mongo)
	assert.NoError(t, store.Ping(context.Background()))
}

func TestOpenUnknownBackend(t *testing.T) {
	_, _, err := Open(context.Background(), &config.Config{StoreBackend: "sqlite"}, Options{})
	assert.ErrorContains(t, err, "unknown store backend")
}
