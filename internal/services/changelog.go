package services

import (
	"context"
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
	"github.com/reqtrace/engine/internal/metrics"
	"github.com/reqtrace/engine/internal/models"
	"github.com/reqtrace/engine/internal/repository"
	"github.com/reqtrace/engine/pkg/logger"
	"go.uber.org/zap"
)

// TypeRecordChangeLog is the asynq task type carrying one change log entry.
const TypeRecordChangeLog = "changelog:record"

// ChangeRecorder receives audit entries. Implementations never fail the
// calling operation; errors are logged.
type ChangeRecorder interface {
	Record(ctx context.Context, entries ...*models.RequirementChangeLog)
}

type actorKey struct{}

// WithActor stores the identity of the caller in ctx.
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// ActorFrom returns the caller identity, or "" when none was supplied.
func ActorFrom(ctx context.Context) string {
	if v, ok := ctx.Value(actorKey{}).(string); ok {
		return v
	}
	return ""
}

func actorPtr(ctx context.Context) *string {
	if a := ActorFrom(ctx); a != "" {
		return &a
	}
	return nil
}

type nopRecorder struct{}

// NewNopRecorder discards every entry.
func NewNopRecorder() ChangeRecorder { return nopRecorder{} }

func (nopRecorder) Record(context.Context, ...*models.RequirementChangeLog) {}

type storeRecorder struct {
	repo repository.ChangeLogRepository
}

// NewStoreRecorder writes entries synchronously through repo.
func NewStoreRecorder(repo repository.ChangeLogRepository) ChangeRecorder {
	return &storeRecorder{repo: repo}
}

func (r *storeRecorder) Record(ctx context.Context, entries ...*models.RequirementChangeLog) {
	for _, e := range entries {
		if err := r.repo.Create(ctx, e); err != nil {
			metrics.ChangeLogEntries.WithLabelValues("sync", "error").Inc()
			logger.FromContext(ctx).Warn("record change log failed",
				zap.String("requirement_id", e.RequirementID),
				zap.String("change_type", string(e.ChangeType)),
				zap.Error(err))
			continue
		}
		metrics.ChangeLogEntries.WithLabelValues("sync", "ok").Inc()
	}
}

// TaskEnqueuer is the subset of *asynq.Client the queue recorder needs.
type TaskEnqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

type queueRecorder struct {
	client TaskEnqueuer
}

// NewQueueRecorder enqueues entries for cmd/worker to persist.
func NewQueueRecorder(client TaskEnqueuer) ChangeRecorder {
	return &queueRecorder{client: client}
}

// NewChangeLogTask wraps one entry in a task.
func NewChangeLogTask(entry *models.RequirementChangeLog) (*asynq.Task, error) {
	b, err := json.Marshal(entry)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeRecordChangeLog, b, asynq.MaxRetry(5), asynq.Timeout(30*time.Second)), nil
}

func (r *queueRecorder) Record(ctx context.Context, entries ...*models.RequirementChangeLog) {
	log := logger.FromContext(ctx)
	for _, e := range entries {
		task, err := NewChangeLogTask(e)
		if err == nil {
			_, err = r.client.EnqueueContext(ctx, task)
		}
		if err != nil {
			metrics.ChangeLogEntries.WithLabelValues("async", "error").Inc()
			log.Warn("enqueue change log failed",
				zap.String("requirement_id", e.RequirementID),
				zap.String("change_type", string(e.ChangeType)),
				zap.Error(err))
			continue
		}
		metrics.ChangeLogEntries.WithLabelValues("async", "ok").Inc()
	}
}
