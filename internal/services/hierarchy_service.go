package services

import (
	"context"
	"strings"

	"github.com/reqtrace/engine/internal/metrics"
	"github.com/reqtrace/engine/internal/models"
	"github.com/reqtrace/engine/internal/repository"
	appErr "github.com/reqtrace/engine/pkg/errors"
	"github.com/reqtrace/engine/pkg/logger"
	"go.uber.org/zap"
)

// HierarchyService manages projects, groups and chapters.
type HierarchyService interface {
	CreateProject(ctx context.Context, input *CreateProjectInput) (*models.Project, error)
	ListProjects(ctx context.Context) ([]models.Project, error)
	// GetActiveProject returns nil when no project is active.
	GetActiveProject(ctx context.Context) (*models.Project, error)
	ActivateProject(ctx context.Context, id string) (*models.Project, error)
	DeleteProject(ctx context.Context, id string) (*CascadeResult, error)

	CreateGroup(ctx context.Context, input *CreateGroupInput) (*models.Group, error)
	ListGroups(ctx context.Context, projectID string) ([]models.Group, error)
	// GetActiveGroup returns nil when no group is active. An empty projectID
	// matches any project.
	GetActiveGroup(ctx context.Context, projectID string) (*models.Group, error)
	ActivateGroup(ctx context.Context, id string) (*models.Group, error)
	ReorderGroup(ctx context.Context, id string, input *ReorderInput) (*models.Group, error)
	DeleteGroup(ctx context.Context, id string) (*CascadeResult, error)

	CreateChapter(ctx context.Context, input *CreateChapterInput) (*models.Chapter, error)
	ListChapters(ctx context.Context, groupID string) ([]models.Chapter, error)
	ReorderChapter(ctx context.Context, id string, input *ReorderInput) (*models.Chapter, error)
	DeleteChapter(ctx context.Context, id string) (*CascadeResult, error)
}

type CreateProjectInput struct {
	Name        string
	Description *string
}

type CreateGroupInput struct {
	Name        string
	Description *string
	ProjectID   string
	ParentID    *string
	Order       int
}

type CreateChapterInput struct {
	Name        string
	Description *string
	GroupID     string
	ParentID    *string
	Order       int
}

// ReorderInput moves a node. A nil ParentID keeps the parent; an empty one
// detaches the node to the root.
type ReorderInput struct {
	Order    int
	ParentID *string
}

// CascadeResult reports what a delete removed.
type CascadeResult struct {
	Groups        int64 `json:"groups_deleted"`
	Chapters      int64 `json:"chapters_deleted"`
	Requirements  int64 `json:"requirements_deleted"`
	LinksRepaired bool  `json:"links_repaired"`
}

// HierarchyOptions tunes cascade behaviour.
type HierarchyOptions struct {
	// RepairLinks pulls requirements removed by a cascade out of the relation
	// sets of every surviving requirement.
	RepairLinks bool
}

type hierarchyService struct {
	store *repository.Store
	opts  HierarchyOptions
}

func NewHierarchyService(store *repository.Store, opts HierarchyOptions) HierarchyService {
	return &hierarchyService{store: store, opts: opts}
}

// Ensure interfaces are satisfied at compile time
var _ HierarchyService = (*hierarchyService)(nil)

func requireName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", appErr.Invalid("name is required")
	}
	return name, nil
}

func (s *hierarchyService) CreateProject(ctx context.Context, input *CreateProjectInput) (*models.Project, error) {
	name, err := requireName(input.Name)
	if err != nil {
		return nil, err
	}
	now := models.Now()
	p := &models.Project{
		ID:          models.NewID(),
		Name:        name,
		Description: input.Description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.Projects.CreateActive(ctx, p); err != nil {
		return nil, err
	}
	metrics.Activations.WithLabelValues("project").Inc()
	logger.FromContext(ctx).Info("project created", zap.String("project_id", p.ID), zap.String("name", p.Name))
	return p, nil
}

func (s *hierarchyService) ListProjects(ctx context.Context) ([]models.Project, error) {
	return s.store.Projects.List(ctx, repository.ListLimit)
}

func (s *hierarchyService) GetActiveProject(ctx context.Context) (*models.Project, error) {
	var p models.Project
	if err := s.store.Projects.GetActive(ctx, &p); err != nil {
		if appErr.IsCode(err, appErr.CodeNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &p, nil
}

func (s *hierarchyService) ActivateProject(ctx context.Context, id string) (*models.Project, error) {
	if err := s.store.Projects.Activate(ctx, id); err != nil {
		return nil, err
	}
	metrics.Activations.WithLabelValues("project").Inc()
	logger.FromContext(ctx).Info("project activated", zap.String("project_id", id))
	var p models.Project
	if err := s.store.Projects.GetByID(ctx, id, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *hierarchyService) DeleteProject(ctx context.Context, id string) (*CascadeResult, error) {
	var p models.Project
	if err := s.store.Projects.GetByID(ctx, id, &p); err != nil {
		return nil, err
	}
	res := &CascadeResult{}

	// Groups are drained page by page; chapters are reached through their groups.
	for {
		groups, err := s.store.Groups.List(ctx, repository.GroupFilter{ProjectID: id}, repository.ListLimit)
		if err != nil {
			return nil, err
		}
		if len(groups) == 0 {
			break
		}
		ids := make([]string, len(groups))
		for i, g := range groups {
			ids[i] = g.ID
		}
		n, err := s.drainChapters(ctx, repository.ChapterFilter{GroupIDs: ids})
		if err != nil {
			return nil, err
		}
		res.Chapters += n
		if n, err = s.store.Groups.DeleteMany(ctx, ids); err != nil {
			return nil, err
		}
		res.Groups += n
		if n == 0 {
			break
		}
	}

	if err := s.deleteRequirements(ctx, repository.RequirementFilter{ProjectID: id}, res); err != nil {
		return nil, err
	}
	if err := s.store.Projects.Delete(ctx, id); err != nil {
		return nil, err
	}
	s.observeCascade(res)
	logger.FromContext(ctx).Info("project deleted",
		zap.String("project_id", id),
		zap.Int64("groups", res.Groups),
		zap.Int64("chapters", res.Chapters),
		zap.Int64("requirements", res.Requirements))
	return res, nil
}

func (s *hierarchyService) drainChapters(ctx context.Context, f repository.ChapterFilter) (int64, error) {
	var total int64
	for {
		chapters, err := s.store.Chapters.List(ctx, f, repository.ListLimit)
		if err != nil {
			return total, err
		}
		if len(chapters) == 0 {
			return total, nil
		}
		ids := make([]string, len(chapters))
		for i, c := range chapters {
			ids[i] = c.ID
		}
		n, err := s.store.Chapters.DeleteMany(ctx, ids)
		if err != nil {
			return total, err
		}
		if n == 0 {
			return total, nil
		}
		total += n
	}
}

// deleteRequirements removes matching requirements and, when enabled, strips
// their ids from the survivors.
func (s *hierarchyService) deleteRequirements(ctx context.Context, f repository.RequirementFilter, res *CascadeResult) error {
	ids, err := s.store.Requirements.DeleteMany(ctx, f)
	if err != nil {
		return err
	}
	res.Requirements += int64(len(ids))
	if s.opts.RepairLinks && len(ids) > 0 {
		if err := s.store.Requirements.PullEverywhere(ctx, ids); err != nil {
			return err
		}
		res.LinksRepaired = true
		metrics.RelationChanges.WithLabelValues("repair").Add(float64(len(ids)))
	}
	return nil
}

func (s *hierarchyService) observeCascade(res *CascadeResult) {
	metrics.CascadeDeletes.WithLabelValues("group").Add(float64(res.Groups))
	metrics.CascadeDeletes.WithLabelValues("chapter").Add(float64(res.Chapters))
	metrics.CascadeDeletes.WithLabelValues("requirement").Add(float64(res.Requirements))
}

func (s *hierarchyService) CreateGroup(ctx context.Context, input *CreateGroupInput) (*models.Group, error) {
	name, err := requireName(input.Name)
	if err != nil {
		return nil, err
	}
	var p models.Project
	if err := s.store.Projects.GetByID(ctx, input.ProjectID, &p); err != nil {
		return nil, err
	}
	parentID := nonEmpty(input.ParentID)
	if parentID != nil {
		var parent models.Group
		if err := s.store.Groups.GetByID(ctx, *parentID, &parent); err != nil {
			return nil, err
		}
		if parent.ProjectID != input.ProjectID {
			return nil, appErr.Invalid("parent group belongs to another project")
		}
	}
	now := models.Now()
	g := &models.Group{
		ID:          models.NewID(),
		Name:        name,
		Description: input.Description,
		ProjectID:   input.ProjectID,
		ParentID:    parentID,
		Order:       input.Order,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.Groups.CreateActive(ctx, g); err != nil {
		return nil, err
	}
	metrics.Activations.WithLabelValues("group").Inc()
	logger.FromContext(ctx).Info("group created", zap.String("group_id", g.ID), zap.String("project_id", g.ProjectID))
	return g, nil
}

func nonEmpty(p *string) *string {
	if p == nil || strings.TrimSpace(*p) == "" {
		return nil
	}
	v := strings.TrimSpace(*p)
	return &v
}

func (s *hierarchyService) ListGroups(ctx context.Context, projectID string) ([]models.Group, error) {
	return s.store.Groups.List(ctx, repository.GroupFilter{ProjectID: projectID}, repository.ListLimit)
}

func (s *hierarchyService) GetActiveGroup(ctx context.Context, projectID string) (*models.Group, error) {
	var g models.Group
	if err := s.store.Groups.GetActive(ctx, projectID, &g); err != nil {
		if appErr.IsCode(err, appErr.CodeNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &g, nil
}

func (s *hierarchyService) ActivateGroup(ctx context.Context, id string) (*models.Group, error) {
	if err := s.store.Groups.Activate(ctx, id); err != nil {
		return nil, err
	}
	metrics.Activations.WithLabelValues("group").Inc()
	logger.FromContext(ctx).Info("group activated", zap.String("group_id", id))
	var g models.Group
	if err := s.store.Groups.GetByID(ctx, id, &g); err != nil {
		return nil, err
	}
	return &g, nil
}

// groupDescendants returns the ids of every group nested under root.
func (s *hierarchyService) groupDescendants(ctx context.Context, root string) ([]string, error) {
	return descendants(root, func(frontier []string) ([]string, error) {
		groups, err := s.store.Groups.List(ctx, repository.GroupFilter{ParentIDs: frontier}, repository.ListLimit)
		if err != nil {
			return nil, err
		}
		ids := make([]string, len(groups))
		for i, g := range groups {
			ids[i] = g.ID
		}
		return ids, nil
	})
}

func (s *hierarchyService) chapterDescendants(ctx context.Context, root string) ([]string, error) {
	return descendants(root, func(frontier []string) ([]string, error) {
		chapters, err := s.store.Chapters.List(ctx, repository.ChapterFilter{ParentIDs: frontier}, repository.ListLimit)
		if err != nil {
			return nil, err
		}
		ids := make([]string, len(chapters))
		for i, c := range chapters {
			ids[i] = c.ID
		}
		return ids, nil
	})
}

// descendants walks a parent_id tree breadth first. Already visited ids are
// skipped so corrupt cycles terminate.
func descendants(root string, children func(frontier []string) ([]string, error)) ([]string, error) {
	seen := map[string]bool{root: true}
	var out []string
	frontier := []string{root}
	for len(frontier) > 0 {
		next, err := children(frontier)
		if err != nil {
			return nil, err
		}
		frontier = frontier[:0:0]
		for _, id := range next {
			if seen[id] {
				continue
			}
			seen[id] = true
			out = append(out, id)
			frontier = append(frontier, id)
		}
	}
	return out, nil
}

func (s *hierarchyService) ReorderGroup(ctx context.Context, id string, input *ReorderInput) (*models.Group, error) {
	var g models.Group
	if err := s.store.Groups.GetByID(ctx, id, &g); err != nil {
		return nil, err
	}
	if input.ParentID != nil && *input.ParentID != "" {
		parentID := *input.ParentID
		var parent models.Group
		if err := s.store.Groups.GetByID(ctx, parentID, &parent); err != nil {
			return nil, err
		}
		if parent.ProjectID != g.ProjectID {
			return nil, appErr.Invalid("parent group belongs to another project")
		}
		if err := s.rejectCycle(ctx, id, parentID, s.groupDescendants); err != nil {
			return nil, err
		}
	}
	if err := s.store.Groups.Reorder(ctx, id, input.Order, input.ParentID, models.Now()); err != nil {
		return nil, err
	}
	logger.FromContext(ctx).Info("group reordered", zap.String("group_id", id), zap.Int("order", input.Order))
	if err := s.store.Groups.GetByID(ctx, id, &g); err != nil {
		return nil, err
	}
	return &g, nil
}

func (s *hierarchyService) rejectCycle(ctx context.Context, id, parentID string, below func(context.Context, string) ([]string, error)) error {
	if parentID == id {
		return appErr.Invalid("a node cannot be its own parent")
	}
	under, err := below(ctx, id)
	if err != nil {
		return err
	}
	if models.Contains(under, parentID) {
		return appErr.Invalid("parent %s is nested under %s", parentID, id)
	}
	return nil
}

func (s *hierarchyService) DeleteGroup(ctx context.Context, id string) (*CascadeResult, error) {
	var g models.Group
	if err := s.store.Groups.GetByID(ctx, id, &g); err != nil {
		return nil, err
	}
	sub, err := s.groupDescendants(ctx, id)
	if err != nil {
		return nil, err
	}
	ids := append([]string{id}, sub...)
	res := &CascadeResult{}

	if res.Chapters, err = s.drainChapters(ctx, repository.ChapterFilter{GroupIDs: ids}); err != nil {
		return nil, err
	}
	if err := s.deleteRequirements(ctx, repository.RequirementFilter{GroupIDs: ids}, res); err != nil {
		return nil, err
	}
	if res.Groups, err = s.store.Groups.DeleteMany(ctx, ids); err != nil {
		return nil, err
	}
	s.observeCascade(res)
	logger.FromContext(ctx).Info("group deleted",
		zap.String("group_id", id),
		zap.Int64("groups", res.Groups),
		zap.Int64("chapters", res.Chapters),
		zap.Int64("requirements", res.Requirements))
	return res, nil
}

func (s *hierarchyService) CreateChapter(ctx context.Context, input *CreateChapterInput) (*models.Chapter, error) {
	name, err := requireName(input.Name)
	if err != nil {
		return nil, err
	}
	var g models.Group
	if err := s.store.Groups.GetByID(ctx, input.GroupID, &g); err != nil {
		return nil, err
	}
	parentID := nonEmpty(input.ParentID)
	if parentID != nil {
		var parent models.Chapter
		if err := s.store.Chapters.GetByID(ctx, *parentID, &parent); err != nil {
			return nil, err
		}
		if parent.GroupID != input.GroupID {
			return nil, appErr.Invalid("parent chapter belongs to another group")
		}
	}
	now := models.Now()
	c := &models.Chapter{
		ID:          models.NewID(),
		Name:        name,
		Description: input.Description,
		GroupID:     input.GroupID,
		ParentID:    parentID,
		Order:       input.Order,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.Chapters.Create(ctx, c); err != nil {
		return nil, err
	}
	logger.FromContext(ctx).Info("chapter created", zap.String("chapter_id", c.ID), zap.String("group_id", c.GroupID))
	return c, nil
}

func (s *hierarchyService) ListChapters(ctx context.Context, groupID string) ([]models.Chapter, error) {
	return s.store.Chapters.List(ctx, repository.ChapterFilter{GroupID: groupID}, repository.ListLimit)
}

func (s *hierarchyService) ReorderChapter(ctx context.Context, id string, input *ReorderInput) (*models.Chapter, error) {
	var c models.Chapter
	if err := s.store.Chapters.GetByID(ctx, id, &c); err != nil {
		return nil, err
	}
	if input.ParentID != nil && *input.ParentID != "" {
		parentID := *input.ParentID
		var parent models.Chapter
		if err := s.store.Chapters.GetByID(ctx, parentID, &parent); err != nil {
			return nil, err
		}
		if parent.GroupID != c.GroupID {
			return nil, appErr.Invalid("parent chapter belongs to another group")
		}
		if err := s.rejectCycle(ctx, id, parentID, s.chapterDescendants); err != nil {
			return nil, err
		}
	}
	if err := s.store.Chapters.Reorder(ctx, id, input.Order, input.ParentID, models.Now()); err != nil {
		return nil, err
	}
	logger.FromContext(ctx).Info("chapter reordered", zap.String("chapter_id", id), zap.Int("order", input.Order))
	if err := s.store.Chapters.GetByID(ctx, id, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *hierarchyService) DeleteChapter(ctx context.Context, id string) (*CascadeResult, error) {
	var c models.Chapter
	if err := s.store.Chapters.GetByID(ctx, id, &c); err != nil {
		return nil, err
	}
	sub, err := s.chapterDescendants(ctx, id)
	if err != nil {
		return nil, err
	}
	ids := append([]string{id}, sub...)
	res := &CascadeResult{}
	if err := s.deleteRequirements(ctx, repository.RequirementFilter{ChapterIDs: ids}, res); err != nil {
		return nil, err
	}
	if res.Chapters, err = s.store.Chapters.DeleteMany(ctx, ids); err != nil {
		return nil, err
	}
	s.observeCascade(res)
	logger.FromContext(ctx).Info("chapter deleted",
		zap.String("chapter_id", id),
		zap.Int64("chapters", res.Chapters),
		zap.Int64("requirements", res.Requirements))
	return res, nil
}
