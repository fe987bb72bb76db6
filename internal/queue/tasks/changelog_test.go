package tasks

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/reqtrace/engine/internal/models"
	"github.com/reqtrace/engine/internal/services"
	appErr "github.com/reqtrace/engine/pkg/errors"
	"github.com/reqtrace/engine/pkg/logger"
)

func TestMain(m *testing.M) {
	// Initialize logger for tests (required by tasks)
	_, err := logger.Init("info", "json")
	if err != nil {
		panic("failed to init logger: " + err.Error())
	}
	os.Exit(m.Run())
}

type mockChangeLogRepo struct {
	mock.Mock
}

func (m *mockChangeLogRepo) Create(ctx context.Context, l *models.RequirementChangeLog) error {
	return m.Called(ctx, l).Error(0)
}

func (m *mockChangeLogRepo) ListByRequirement(ctx context.Context, requirementID string, limit int) ([]models.RequirementChangeLog, error) {
	args := m.Called(ctx, requirementID, limit)
	return args.Get(0).([]models.RequirementChangeLog), args.Error(1)
}

func newTask(t *testing.T, entry *models.RequirementChangeLog) *asynq.Task {
	t.Helper()
	task, err := services.NewChangeLogTask(entry)
	require.NoError(t, err)
	return task
}

func TestChangeLogTaskHandler_HandleRecord(t *testing.T) {
	entry := models.NewChangeLog("req-1", models.ChangeStatusChanged, "Status changed from Draft to Tested", "avery").
		WithField("status", "Draft", "Tested")

	t.Run("persists entry", func(t *testing.T) {
		repo := new(mockChangeLogRepo)
		repo.On("Create", mock.Anything, mock.MatchedBy(func(l *models.RequirementChangeLog) bool {
			return l.ID == entry.ID && l.ChangeType == models.ChangeStatusChanged && *l.NewValue == "Tested"
		})).Return(nil).Once()

		err := NewChangeLogTaskHandler(repo).HandleRecord(context.Background(), newTask(t, entry))
		assert.NoError(t, err)
		repo.AssertExpectations(t)
	})

	t.Run("redelivery is a no-op", func(t *testing.T) {
		repo := new(mockChangeLogRepo)
		repo.On("Create", mock.Anything, mock.Anything).Return(appErr.New(appErr.CodeConflict, "duplicate")).Once()

		err := NewChangeLogTaskHandler(repo).HandleRecord(context.Background(), newTask(t, entry))
		assert.NoError(t, err)
	})

	t.Run("store failure is retried", func(t *testing.T) {
		repo := new(mockChangeLogRepo)
		repo.On("Create", mock.Anything, mock.Anything).Return(errors.New("connection reset")).Once()

		err := NewChangeLogTaskHandler(repo).HandleRecord(context.Background(), newTask(t, entry))
		require.Error(t, err)
		assert.False(t, errors.Is(err, asynq.SkipRetry))
	})

	t.Run("malformed payload is skipped", func(t *testing.T) {
		repo := new(mockChangeLogRepo)
		task := asynq.NewTask(services.TypeRecordChangeLog, []byte("{not json"))

		err := NewChangeLogTaskHandler(repo).HandleRecord(context.Background(), task)
		assert.ErrorIs(t, err, asynq.SkipRetry)
		repo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	})

	t.Run("missing ids are skipped", func(t *testing.T) {
		repo := new(mockChangeLogRepo)
		task := asynq.NewTask(services.TypeRecordChangeLog, []byte(`{"change_type":"created"}`))

		err := NewChangeLogTaskHandler(repo).HandleRecord(context.Background(), task)
		assert.ErrorIs(t, err, asynq.SkipRetry)
	})
}

func TestRegisterRoutesTaskType(t *testing.T) {
	repo := new(mockChangeLogRepo)
	repo.On("Create", mock.Anything, mock.Anything).Return(nil).Once()
	mux := asynq.NewServeMux()
	NewChangeLogTaskHandler(repo).Register(mux)

	entry := models.NewChangeLog("req-2", models.ChangeCreated, "created", "")
	err := mux.ProcessTask(context.Background(), newTask(t, entry))
	assert.NoError(t, err)
	repo.AssertExpectations(t)
}
