package tasks

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/reqtrace/engine/internal/models"
	"github.com/reqtrace/engine/internal/repository"
	"github.com/reqtrace/engine/internal/services"
	appErr "github.com/reqtrace/engine/pkg/errors"
	"github.com/reqtrace/engine/pkg/logger"
	"go.uber.org/zap"
)

// ChangeLogTaskHandler persists change log entries enqueued by the API.
type ChangeLogTaskHandler struct {
	repo repository.ChangeLogRepository
}

func NewChangeLogTaskHandler(repo repository.ChangeLogRepository) *ChangeLogTaskHandler {
	return &ChangeLogTaskHandler{repo: repo}
}

// Register binds the handler on mux.
func (h *ChangeLogTaskHandler) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(services.TypeRecordChangeLog, h.HandleRecord)
}

// HandleRecord writes one entry. Redelivered entries hit the primary key and
// are treated as done; malformed payloads are not retried.
func (h *ChangeLogTaskHandler) HandleRecord(ctx context.Context, t *asynq.Task) error {
	var entry models.RequirementChangeLog
	if err := json.Unmarshal(t.Payload(), &entry); err != nil {
		logger.L().Error("invalid change log task payload", zap.Error(err))
		return fmt.Errorf("decode change log: %v: %w", err, asynq.SkipRetry)
	}
	if entry.ID == "" || entry.RequirementID == "" {
		logger.L().Error("change log task missing ids", zap.String("id", entry.ID))
		return fmt.Errorf("change log without id or requirement_id: %w", asynq.SkipRetry)
	}
	if entry.ChangedBy == "" {
		entry.ChangedBy = models.SystemActor
	}
	entry.CreatedAt = entry.CreatedAt.UTC()

	log := logger.L().With(zap.String("change_log_id", entry.ID), zap.String("requirement_id", entry.RequirementID))
	if err := h.repo.Create(ctx, &entry); err != nil {
		if appErr.IsCode(err, appErr.CodeConflict) {
			log.Info("change log already recorded")
			return nil
		}
		log.Error("record change log failed", zap.Error(err))
		return err
	}
	log.Info("change log recorded", zap.String("change_type", string(entry.ChangeType)))
	return nil
}
