// Package repotest holds the behaviour every repository backend must share.
// Backends call Run from their own tests.
package repotest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/reqtrace/engine/internal/models"
	"github.com/reqtrace/engine/internal/repository"
	appErr "github.com/reqtrace/engine/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Run exercises store. Tests create their own projects so they can share one
// database.
func Run(t *testing.T, store *repository.Store) {
	t.Helper()
	tests := []struct {
		name string
		fn   func(t *testing.T, s *repository.Store)
	}{
		{"ProjectActivation", testProjectActivation},
		{"ConcurrentProjectActivation", testConcurrentProjectActivation},
		{"GroupActivationIsPerProject", testGroupActivation},
		{"ReorderAndDetach", testReorder},
		{"ChapterListing", testChapterListing},
		{"RequirementRoundTrip", testRequirementRoundTrip},
		{"RequirementPatch", testRequirementPatch},
		{"RelationPrimitives", testRelationPrimitives},
		{"PullEverywhere", testPullEverywhere},
		{"SearchIsLiteral", testSearch},
		{"Stats", testStats},
		{"DeleteManyReturnsIDs", testDeleteMany},
		{"ConcurrentSequences", testConcurrentSequences},
		{"ChangeLogNewestFirst", testChangeLogs},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) { tt.fn(t, store) })
	}
}

func ctx(t *testing.T) context.Context {
	c, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return c
}

func newProject(t *testing.T, s *repository.Store, name string) models.Project {
	t.Helper()
	now := models.Now()
	p := models.Project{ID: models.NewID(), Name: name, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, s.Projects.CreateActive(ctx(t), &p))
	return p
}

func newGroup(t *testing.T, s *repository.Store, projectID string, parentID *string, order int) models.Group {
	t.Helper()
	now := models.Now()
	g := models.Group{ID: models.NewID(), Name: "g", ProjectID: projectID, ParentID: parentID, Order: order, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, s.Groups.CreateActive(ctx(t), &g))
	return g
}

func newRequirement(t *testing.T, s *repository.Store, projectID, groupID, title string) models.Requirement {
	t.Helper()
	seq, err := s.Requirements.NextSequence(ctx(t), projectID)
	require.NoError(t, err)
	now := models.Now()
	r := models.Requirement{
		ID:        models.NewID(),
		ReqID:     models.FormatReqID(seq),
		Title:     title,
		Text:      "text of " + title,
		Status:    models.StatusDraft,
		ProjectID: projectID,
		GroupID:   groupID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, s.Requirements.Create(ctx(t), &r))
	return r
}

func activeProjects(t *testing.T, s *repository.Store) []string {
	t.Helper()
	all, err := s.Projects.List(ctx(t), 0)
	require.NoError(t, err)
	var ids []string
	for _, p := range all {
		if p.IsActive {
			ids = append(ids, p.ID)
		}
	}
	return ids
}

func testProjectActivation(t *testing.T, s *repository.Store) {
	a := newProject(t, s, "a")
	b := newProject(t, s, "b")
	assert.Equal(t, []string{b.ID}, activeProjects(t, s))

	require.NoError(t, s.Projects.Activate(ctx(t), a.ID))
	assert.Equal(t, []string{a.ID}, activeProjects(t, s))

	var active models.Project
	require.NoError(t, s.Projects.GetActive(ctx(t), &active))
	assert.Equal(t, a.ID, active.ID)

	err := s.Projects.Activate(ctx(t), models.NewID())
	assert.True(t, appErr.IsCode(err, appErr.CodeNotFound))
	assert.Equal(t, []string{a.ID}, activeProjects(t, s))

	require.NoError(t, s.Projects.Delete(ctx(t), b.ID))
	err = s.Projects.Delete(ctx(t), b.ID)
	assert.True(t, appErr.IsCode(err, appErr.CodeNotFound))
}

func testConcurrentProjectActivation(t *testing.T, s *repository.Store) {
	var ids []string
	for i := range 5 {
		ids = append(ids, newProject(t, s, fmt.Sprintf("p%d", i)).ID)
	}
	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.Projects.Activate(context.Background(), id))
		}()
	}
	wg.Wait()
	assert.Len(t, activeProjects(t, s), 1)
}

func testGroupActivation(t *testing.T, s *repository.Store) {
	p1 := newProject(t, s, "p1")
	p2 := newProject(t, s, "p2")
	g1 := newGroup(t, s, p1.ID, nil, 0)
	g2 := newGroup(t, s, p1.ID, nil, 1)
	other := newGroup(t, s, p2.ID, nil, 0)

	var active models.Group
	require.NoError(t, s.Groups.GetActive(ctx(t), p1.ID, &active))
	assert.Equal(t, g2.ID, active.ID)

	require.NoError(t, s.Groups.Activate(ctx(t), g1.ID))
	require.NoError(t, s.Groups.GetActive(ctx(t), p1.ID, &active))
	assert.Equal(t, g1.ID, active.ID)

	require.NoError(t, s.Groups.GetByID(ctx(t), other.ID, &active))
	assert.True(t, active.IsActive, "activation in one project leaves others alone")

	err := s.Groups.GetActive(ctx(t), models.NewID(), &active)
	assert.True(t, appErr.IsCode(err, appErr.CodeNotFound))
}

func testReorder(t *testing.T, s *repository.Store) {
	p := newProject(t, s, "reorder")
	root := newGroup(t, s, p.ID, nil, 0)
	child := newGroup(t, s, p.ID, &root.ID, 0)

	kids, err := s.Groups.List(ctx(t), repository.GroupFilter{ParentIDs: []string{root.ID}}, 0)
	require.NoError(t, err)
	require.Len(t, kids, 1)
	assert.Equal(t, child.ID, kids[0].ID)

	at := models.Now().Add(time.Second)
	require.NoError(t, s.Groups.Reorder(ctx(t), child.ID, 7, nil, at))
	var got models.Group
	require.NoError(t, s.Groups.GetByID(ctx(t), child.ID, &got))
	assert.Equal(t, 7, got.Order)
	require.NotNil(t, got.ParentID)
	assert.True(t, at.Equal(got.UpdatedAt))

	detach := ""
	require.NoError(t, s.Groups.Reorder(ctx(t), child.ID, 1, &detach, at))
	require.NoError(t, s.Groups.GetByID(ctx(t), child.ID, &got))
	assert.Nil(t, got.ParentID)

	all, err := s.Groups.List(ctx(t), repository.GroupFilter{ProjectID: p.ID}, 0)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, root.ID, all[0].ID, "ordered by order field")

	err = s.Groups.Reorder(ctx(t), models.NewID(), 0, nil, at)
	assert.True(t, appErr.IsCode(err, appErr.CodeNotFound))
}

func testChapterListing(t *testing.T, s *repository.Store) {
	p := newProject(t, s, "chapters")
	g := newGroup(t, s, p.ID, nil, 0)
	now := models.Now()
	mk := func(order int, parent *string) models.Chapter {
		c := models.Chapter{ID: models.NewID(), Name: "c", GroupID: g.ID, ParentID: parent, Order: order, CreatedAt: now, UpdatedAt: now}
		require.NoError(t, s.Chapters.Create(ctx(t), &c))
		return c
	}
	second := mk(2, nil)
	first := mk(1, nil)
	sub := mk(0, &first.ID)

	list, err := s.Chapters.List(ctx(t), repository.ChapterFilter{GroupID: g.ID}, 0)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, []string{sub.ID, first.ID, second.ID}, []string{list[0].ID, list[1].ID, list[2].ID})

	list, err = s.Chapters.List(ctx(t), repository.ChapterFilter{GroupIDs: []string{}}, 0)
	require.NoError(t, err)
	assert.Empty(t, list)

	n, err := s.Chapters.DeleteMany(ctx(t), []string{first.ID, sub.ID, models.NewID()})
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
}

func testRequirementRoundTrip(t *testing.T, s *repository.Store) {
	p := newProject(t, s, "roundtrip")
	g := newGroup(t, s, p.ID, nil, 0)
	r := newRequirement(t, s, p.ID, g.ID, "Brake")

	var got models.Requirement
	require.NoError(t, s.Requirements.GetByID(ctx(t), r.ID, &got))
	assert.Equal(t, "REQ-001", got.ReqID)
	assert.Equal(t, models.StatusDraft, got.Status)
	assert.NotNil(t, got.ParentIDs)
	assert.NotNil(t, got.ChildIDs)
	assert.Nil(t, got.ChapterID)
	assert.True(t, r.CreatedAt.Equal(got.CreatedAt))

	dup := r
	dup.ID = models.NewID()
	err := s.Requirements.Create(ctx(t), &dup)
	assert.True(t, appErr.IsCode(err, appErr.CodeConflict), "req_id is unique per project")

	err = s.Requirements.GetByID(ctx(t), models.NewID(), &got)
	assert.True(t, appErr.IsCode(err, appErr.CodeNotFound))
}

func testRequirementPatch(t *testing.T, s *repository.Store) {
	p := newProject(t, s, "patch")
	g := newGroup(t, s, p.ID, nil, 0)
	r := newRequirement(t, s, p.ID, g.ID, "Patch me")
	chapter := models.NewID()
	title := "Patched"
	status := models.StatusAccepted
	methods := []models.VerificationMethod{models.VerificationTest, models.VerificationTest}
	actor := "alice"
	at := models.Now().Add(time.Second)

	require.NoError(t, s.Requirements.Update(ctx(t), r.ID, repository.RequirementPatch{
		Title: &title, Status: &status, VerificationMethods: &methods, ChapterID: &chapter, UpdatedBy: &actor, UpdatedAt: at,
	}))
	var got models.Requirement
	require.NoError(t, s.Requirements.GetByID(ctx(t), r.ID, &got))
	assert.Equal(t, title, got.Title)
	assert.Equal(t, r.Text, got.Text)
	assert.Equal(t, status, got.Status)
	assert.Equal(t, []models.VerificationMethod{models.VerificationTest}, got.VerificationMethods)
	require.NotNil(t, got.ChapterID)
	assert.Equal(t, chapter, *got.ChapterID)
	require.NotNil(t, got.UpdatedBy)
	assert.Equal(t, actor, *got.UpdatedBy)
	assert.True(t, at.Equal(got.UpdatedAt))

	none := ""
	n, err := s.Requirements.UpdateMany(ctx(t), []string{r.ID, models.NewID()}, repository.RequirementPatch{ChapterID: &none, UpdatedAt: at})
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	require.NoError(t, s.Requirements.GetByID(ctx(t), r.ID, &got))
	assert.Nil(t, got.ChapterID)

	err = s.Requirements.Update(ctx(t), models.NewID(), repository.RequirementPatch{Title: &title, UpdatedAt: at})
	assert.True(t, appErr.IsCode(err, appErr.CodeNotFound))
}

func testRelationPrimitives(t *testing.T, s *repository.Store) {
	p := newProject(t, s, "relations")
	g := newGroup(t, s, p.ID, nil, 0)
	a := newRequirement(t, s, p.ID, g.ID, "A")
	b := newRequirement(t, s, p.ID, g.ID, "B")

	require.NoError(t, s.Requirements.AddRelation(ctx(t), a.ID, repository.ChildrenField, b.ID))
	require.NoError(t, s.Requirements.AddRelation(ctx(t), a.ID, repository.ChildrenField, b.ID))
	require.NoError(t, s.Requirements.AddRelation(ctx(t), b.ID, repository.ParentsField, a.ID))

	var got models.Requirement
	require.NoError(t, s.Requirements.GetByID(ctx(t), a.ID, &got))
	assert.Equal(t, []string{b.ID}, got.ChildIDs, "set union is idempotent")

	err := s.Requirements.AddRelation(ctx(t), models.NewID(), repository.ChildrenField, b.ID)
	assert.True(t, appErr.IsCode(err, appErr.CodeNotFound))

	require.NoError(t, s.Requirements.PullRelation(ctx(t), a.ID, repository.ChildrenField, b.ID))
	require.NoError(t, s.Requirements.PullRelation(ctx(t), a.ID, repository.ChildrenField, b.ID))
	require.NoError(t, s.Requirements.PullRelation(ctx(t), models.NewID(), repository.ChildrenField, b.ID))
	require.NoError(t, s.Requirements.GetByID(ctx(t), a.ID, &got))
	assert.Empty(t, got.ChildIDs)
	assert.NotNil(t, got.ChildIDs)

	assert.Equal(t, repository.ChildrenField, repository.ParentsField.Opposite())
}

func testPullEverywhere(t *testing.T, s *repository.Store) {
	p := newProject(t, s, "pull")
	g := newGroup(t, s, p.ID, nil, 0)
	a := newRequirement(t, s, p.ID, g.ID, "A")
	b := newRequirement(t, s, p.ID, g.ID, "B")
	c := newRequirement(t, s, p.ID, g.ID, "C")
	for _, link := range [][2]string{{a.ID, b.ID}, {a.ID, c.ID}, {b.ID, c.ID}} {
		require.NoError(t, s.Requirements.AddRelation(ctx(t), link[0], repository.ChildrenField, link[1]))
		require.NoError(t, s.Requirements.AddRelation(ctx(t), link[1], repository.ParentsField, link[0]))
	}

	require.NoError(t, s.Requirements.PullEverywhere(ctx(t), []string{b.ID}))

	var got models.Requirement
	require.NoError(t, s.Requirements.GetByID(ctx(t), a.ID, &got))
	assert.Equal(t, []string{c.ID}, got.ChildIDs)
	require.NoError(t, s.Requirements.GetByID(ctx(t), c.ID, &got))
	assert.Equal(t, []string{a.ID}, got.ParentIDs)
}

func testSearch(t *testing.T, s *repository.Store) {
	p := newProject(t, s, "search")
	g := newGroup(t, s, p.ID, nil, 0)
	hit := newRequirement(t, s, p.ID, g.ID, "Throughput 100% at peak")
	newRequirement(t, s, p.ID, g.ID, "Throughput 1000 at peak")

	got, err := s.Requirements.Search(ctx(t), "100%", p.ID, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, hit.ID, got[0].ID)

	got, err = s.Requirements.Search(ctx(t), "THROUGHPUT", p.ID, 0)
	require.NoError(t, err)
	assert.Len(t, got, 2)

	got, err = s.Requirements.Search(ctx(t), hit.ReqID, p.ID, 1)
	require.NoError(t, err)
	assert.Len(t, got, 1)

	got, err = s.Requirements.Search(ctx(t), "a.b", p.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func testStats(t *testing.T, s *repository.Store) {
	p := newProject(t, s, "stats")
	g := newGroup(t, s, p.ID, nil, 0)
	a := newRequirement(t, s, p.ID, g.ID, "A")
	b := newRequirement(t, s, p.ID, g.ID, "B")
	newRequirement(t, s, p.ID, g.ID, "C")

	status := models.StatusTested
	methods := []models.VerificationMethod{models.VerificationReview}
	require.NoError(t, s.Requirements.Update(ctx(t), a.ID, repository.RequirementPatch{
		Status: &status, VerificationMethods: &methods, UpdatedAt: models.Now(),
	}))
	require.NoError(t, s.Requirements.AddRelation(ctx(t), a.ID, repository.ChildrenField, b.ID))

	stats, err := s.Requirements.Stats(ctx(t), p.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 3, stats.Total)
	assert.EqualValues(t, 2, stats.ByStatus[models.StatusDraft])
	assert.EqualValues(t, 1, stats.ByStatus[models.StatusTested])
	assert.EqualValues(t, 1, stats.WithChildren)
	assert.EqualValues(t, 1, stats.WithVerification)

	empty, err := s.Requirements.Stats(ctx(t), models.NewID())
	require.NoError(t, err)
	assert.Zero(t, empty.Total)
}

func testDeleteMany(t *testing.T, s *repository.Store) {
	p := newProject(t, s, "delete")
	g1 := newGroup(t, s, p.ID, nil, 0)
	g2 := newGroup(t, s, p.ID, nil, 1)
	a := newRequirement(t, s, p.ID, g1.ID, "A")
	newRequirement(t, s, p.ID, g2.ID, "B")

	ids, err := s.Requirements.DeleteMany(ctx(t), repository.RequirementFilter{GroupIDs: []string{g1.ID}})
	require.NoError(t, err)
	assert.Equal(t, []string{a.ID}, ids)

	ids, err = s.Requirements.DeleteMany(ctx(t), repository.RequirementFilter{GroupIDs: []string{}})
	require.NoError(t, err)
	assert.Empty(t, ids)

	left, err := s.Requirements.List(ctx(t), repository.RequirementFilter{ProjectID: p.ID}, 0)
	require.NoError(t, err)
	assert.Len(t, left, 1)
}

func testConcurrentSequences(t *testing.T, s *repository.Store) {
	p := newProject(t, s, "sequences")
	const n = 20
	seqs := make([]int64, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := s.Requirements.NextSequence(context.Background(), p.ID)
			assert.NoError(t, err)
			seqs[i] = v
		}()
	}
	wg.Wait()
	seen := map[int64]bool{}
	for _, v := range seqs {
		assert.False(t, seen[v], "sequence %d handed out twice", v)
		seen[v] = true
		assert.True(t, v >= 1 && v <= n)
	}
}

func testChangeLogs(t *testing.T, s *repository.Store) {
	reqID := models.NewID()
	first := models.NewChangeLog(reqID, models.ChangeCreated, "created", "")
	second := models.NewChangeLog(reqID, models.ChangeStatusChanged, "status", "bob").
		WithField("status", "Draft", "Accepted")
	second.CreatedAt = first.CreatedAt.Add(time.Second)
	require.NoError(t, s.ChangeLogs.Create(ctx(t), first))
	require.NoError(t, s.ChangeLogs.Create(ctx(t), second))

	logs, err := s.ChangeLogs.ListByRequirement(ctx(t), reqID, 0)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, second.ID, logs[0].ID)
	assert.Equal(t, models.SystemActor, logs[1].ChangedBy)
	require.NotNil(t, logs[0].NewValue)
	assert.Equal(t, "Accepted", *logs[0].NewValue)
}
