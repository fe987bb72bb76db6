package services

import (
	"context"
	"math"
	"strings"

	"github.com/reqtrace/engine/internal/models"
	"github.com/reqtrace/engine/internal/repository"
	appErr "github.com/reqtrace/engine/pkg/errors"
	"github.com/reqtrace/engine/pkg/logger"
	"go.uber.org/zap"
)

// DashboardStats summarizes the requirements of one project.
type DashboardStats struct {
	TotalRequirements             int64                     `json:"total_requirements"`
	StatusPercentages             map[models.Status]float64 `json:"status_percentages"`
	ChildrenAssignmentPercentage  float64                   `json:"children_assignment_percentage"`
	VerificationMethodsPercentage float64                   `json:"verification_methods_percentage"`
}

type StatsService interface {
	Dashboard(ctx context.Context, projectID string) (*DashboardStats, error)
}

type statsService struct {
	requirements repository.RequirementRepository
}

func NewStatsService(requirements repository.RequirementRepository) StatsService {
	return &statsService{requirements: requirements}
}

var _ StatsService = (*statsService)(nil)

func (s *statsService) Dashboard(ctx context.Context, projectID string) (*DashboardStats, error) {
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return nil, appErr.Invalid("project_id is required")
	}
	st, err := s.requirements.Stats(ctx, projectID)
	if err != nil {
		return nil, err
	}

	out := &DashboardStats{
		TotalRequirements:             st.Total,
		StatusPercentages:             make(map[models.Status]float64, len(models.Statuses)),
		ChildrenAssignmentPercentage:  percent(st.WithChildren, st.Total),
		VerificationMethodsPercentage: percent(st.WithVerification, st.Total),
	}
	for _, status := range models.Statuses {
		out.StatusPercentages[status] = percent(st.ByStatus[status], st.Total)
	}
	logger.FromContext(ctx).Debug("dashboard stats computed",
		zap.String("project_id", projectID), zap.Int64("total", st.Total))
	return out, nil
}

// percent returns part/total as a percentage rounded to one decimal, or 0 for
// an empty total.
func percent(part, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return math.Round(float64(part)/float64(total)*1000) / 10
}
