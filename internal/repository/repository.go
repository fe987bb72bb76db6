package repository

import (
	"context"
	"time"

	"github.com/reqtrace/engine/internal/models"
)

// Result caps shared by every backend.
const (
	ListLimit   = 1000
	SearchLimit = 100
)

// RelationField names one side of a requirement traceability edge.
type RelationField string

const (
	ParentsField  RelationField = "parent_ids"
	ChildrenField RelationField = "child_ids"
)

// Opposite returns the field that stores the same edge on the other requirement.
func (f RelationField) Opposite() RelationField {
	if f == ParentsField {
		return ChildrenField
	}
	return ParentsField
}

// ProjectRepository persists projects. Activation and active creation are
// single units: afterwards exactly one project is active.
type ProjectRepository interface {
	CreateActive(ctx context.Context, p *models.Project) error
	GetByID(ctx context.Context, id string, dest *models.Project) error
	GetActive(ctx context.Context, dest *models.Project) error
	List(ctx context.Context, limit int) ([]models.Project, error)
	Activate(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
}

// GroupFilter narrows group listings. Empty fields do not filter.
type GroupFilter struct {
	ProjectID string
	ParentIDs []string
}

// GroupRepository persists groups. Activation is scoped to the group's project.
type GroupRepository interface {
	CreateActive(ctx context.Context, g *models.Group) error
	GetByID(ctx context.Context, id string, dest *models.Group) error
	GetActive(ctx context.Context, projectID string, dest *models.Group) error
	List(ctx context.Context, f GroupFilter, limit int) ([]models.Group, error)
	Activate(ctx context.Context, id string) error
	Reorder(ctx context.Context, id string, order int, parentID *string, at time.Time) error
	Delete(ctx context.Context, id string) error
	DeleteMany(ctx context.Context, ids []string) (int64, error)
}

// ChapterFilter narrows chapter listings. Empty fields do not filter.
type ChapterFilter struct {
	GroupID   string
	GroupIDs  []string
	ParentIDs []string
}

// ChapterRepository persists chapters.
type ChapterRepository interface {
	Create(ctx context.Context, c *models.Chapter) error
	GetByID(ctx context.Context, id string, dest *models.Chapter) error
	List(ctx context.Context, f ChapterFilter, limit int) ([]models.Chapter, error)
	Reorder(ctx context.Context, id string, order int, parentID *string, at time.Time) error
	Delete(ctx context.Context, id string) error
	DeleteMany(ctx context.Context, ids []string) (int64, error)
}

// RequirementFilter narrows requirement queries. Empty fields do not filter;
// a non-nil empty slice matches nothing.
type RequirementFilter struct {
	ProjectID  string
	GroupID    string
	ChapterID  string
	Status     models.Status
	IDs        []string
	GroupIDs   []string
	ChapterIDs []string
}

// RequirementPatch is a partial update. Nil fields are left untouched. An empty
// ChapterID clears the chapter.
type RequirementPatch struct {
	Title               *string
	Text                *string
	Status              *models.Status
	VerificationMethods *[]models.VerificationMethod
	GroupID             *string
	ChapterID           *string
	ParentIDs           *[]string
	UpdatedBy           *string
	UpdatedAt           time.Time
}

// RequirementStats is the per-project aggregate behind the dashboard.
type RequirementStats struct {
	Total            int64
	ByStatus         map[models.Status]int64
	WithChildren     int64
	WithVerification int64
}

// RequirementRepository persists requirements and owns the set primitives
// every relationship mutation goes through.
type RequirementRepository interface {
	Create(ctx context.Context, r *models.Requirement) error
	GetByID(ctx context.Context, id string, dest *models.Requirement) error
	List(ctx context.Context, f RequirementFilter, limit int) ([]models.Requirement, error)
	Search(ctx context.Context, query, projectID string, limit int) ([]models.Requirement, error)
	Stats(ctx context.Context, projectID string) (*RequirementStats, error)
	Update(ctx context.Context, id string, patch RequirementPatch) error
	UpdateMany(ctx context.Context, ids []string, patch RequirementPatch) (int64, error)

	// AddRelation adds other to the field set of id (set union). It fails with
	// not_found when id does not exist and is a no-op when other is present.
	AddRelation(ctx context.Context, id string, field RelationField, other string) error
	// PullRelation removes other from the field set of id. Missing documents
	// and missing members are not errors.
	PullRelation(ctx context.Context, id string, field RelationField, other string) error
	// PullEverywhere removes ids from the relation sets of every requirement.
	PullEverywhere(ctx context.Context, ids []string) error

	Delete(ctx context.Context, id string) error
	// DeleteMany removes matching requirements and returns their ids.
	DeleteMany(ctx context.Context, f RequirementFilter) ([]string, error)

	// NextSequence atomically reserves the next req_id number for a project.
	NextSequence(ctx context.Context, projectID string) (int64, error)
}

// ChangeLogRepository is the write-mostly audit sink.
type ChangeLogRepository interface {
	Create(ctx context.Context, l *models.RequirementChangeLog) error
	ListByRequirement(ctx context.Context, requirementID string, limit int) ([]models.RequirementChangeLog, error)
}

// Lifecycle is implemented by each backend's connection holder.
type Lifecycle interface {
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

// Store bundles one backend's repositories.
type Store struct {
	Lifecycle
	Projects     ProjectRepository
	Groups       GroupRepository
	Chapters     ChapterRepository
	Requirements RequirementRepository
	ChangeLogs   ChangeLogRepository
}

// ClampLimit applies the default cap to a caller-supplied limit.
func ClampLimit(limit, max int) int {
	if limit <= 0 || limit > max {
		return max
	}
	return limit
}
