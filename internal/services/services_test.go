package services

import (
	"context"
	"os"
	"sync"
	"testing"

	"github.com/reqtrace/engine/internal/models"
	"github.com/reqtrace/engine/internal/repository"
	"github.com/reqtrace/engine/internal/repository/memstore"
	"github.com/reqtrace/engine/pkg/logger"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestMain(m *testing.M) {
	// Services log through the global logger.
	logger.Replace(zap.NewNop())
	os.Exit(m.Run())
}

// captureRecorder keeps every entry in memory.
type captureRecorder struct {
	mu      sync.Mutex
	entries []*models.RequirementChangeLog
}

func (c *captureRecorder) Record(_ context.Context, entries ...*models.RequirementChangeLog) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, entries...)
}

func (c *captureRecorder) types(requirementID string) []models.ChangeType {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []models.ChangeType
	for _, e := range c.entries {
		if e.RequirementID == requirementID {
			out = append(out, e.ChangeType)
		}
	}
	return out
}

type fixture struct {
	store    *repository.Store
	hier     HierarchyService
	reqs     RequirementService
	stats    StatsService
	recorder *captureRecorder
}

func newFixture(t *testing.T, opts HierarchyOptions) *fixture {
	t.Helper()
	store := memstore.New()
	rec := &captureRecorder{}
	return &fixture{
		store:    store,
		hier:     NewHierarchyService(store, opts),
		reqs:     NewRequirementService(store, rec),
		stats:    NewStatsService(store.Requirements),
		recorder: rec,
	}
}

// tree is one project with one group and one chapter.
type tree struct {
	project *models.Project
	group   *models.Group
	chapter *models.Chapter
}

func (f *fixture) tree(t *testing.T, name string) tree {
	t.Helper()
	ctx := context.Background()
	p, err := f.hier.CreateProject(ctx, &CreateProjectInput{Name: name})
	require.NoError(t, err)
	g, err := f.hier.CreateGroup(ctx, &CreateGroupInput{Name: name + " group", ProjectID: p.ID})
	require.NoError(t, err)
	c, err := f.hier.CreateChapter(ctx, &CreateChapterInput{Name: name + " chapter", GroupID: g.ID})
	require.NoError(t, err)
	return tree{project: p, group: g, chapter: c}
}

func (f *fixture) requirement(t *testing.T, tr tree, title string, parents ...string) *models.Requirement {
	t.Helper()
	r, err := f.reqs.Create(context.Background(), &CreateRequirementInput{
		Title:     title,
		Text:      title + " text",
		ProjectID: tr.project.ID,
		GroupID:   tr.group.ID,
		ChapterID: &tr.chapter.ID,
		ParentIDs: parents,
	})
	require.NoError(t, err)
	return r
}

func (f *fixture) get(t *testing.T, id string) *models.Requirement {
	t.Helper()
	r, err := f.reqs.Get(context.Background(), id)
	require.NoError(t, err)
	return r
}
