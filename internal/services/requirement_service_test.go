package services

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/reqtrace/engine/internal/models"
	appErr "github.com/reqtrace/engine/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateRequirementAssignsSequentialIDs(t *testing.T) {
	f := newFixture(t, HierarchyOptions{})
	a := f.tree(t, "A")
	b := f.tree(t, "B")

	first := f.requirement(t, a, "first")
	second := f.requirement(t, a, "second")
	other := f.requirement(t, b, "other")

	assert.Equal(t, "REQ-001", first.ReqID)
	assert.Equal(t, "REQ-002", second.ReqID)
	assert.Equal(t, "REQ-001", other.ReqID, "sequences are per project")
	assert.Equal(t, models.StatusDraft, first.Status)
	assert.NotNil(t, first.ParentIDs)
	assert.NotNil(t, first.ChildIDs)
	assert.NotNil(t, first.VerificationMethods)
}

func TestCreateRequirementStampsActor(t *testing.T) {
	f := newFixture(t, HierarchyOptions{})
	tr := f.tree(t, "A")
	ctx := WithActor(context.Background(), "dana")

	r, err := f.reqs.Create(ctx, &CreateRequirementInput{Title: "t", ProjectID: tr.project.ID, GroupID: tr.group.ID})
	require.NoError(t, err)
	require.NotNil(t, r.CreatedBy)
	assert.Equal(t, "dana", *r.CreatedBy)
	assert.Equal(t, "dana", *r.UpdatedBy)
	require.NotEmpty(t, f.recorder.entries)
	assert.Equal(t, "dana", f.recorder.entries[0].ChangedBy)
}

func TestCreateRequirementValidatesPlacement(t *testing.T) {
	f := newFixture(t, HierarchyOptions{})
	ctx := context.Background()
	a := f.tree(t, "A")
	b := f.tree(t, "B")

	cases := map[string]struct {
		input *CreateRequirementInput
		code  appErr.Code
	}{
		"missing project": {&CreateRequirementInput{Title: "x", ProjectID: "nope", GroupID: a.group.ID}, appErr.CodeNotFound},
		"missing group":   {&CreateRequirementInput{Title: "x", ProjectID: a.project.ID, GroupID: "nope"}, appErr.CodeNotFound},
		"foreign group":   {&CreateRequirementInput{Title: "x", ProjectID: a.project.ID, GroupID: b.group.ID}, appErr.CodeInvalid},
		"foreign chapter": {&CreateRequirementInput{Title: "x", ProjectID: a.project.ID, GroupID: a.group.ID, ChapterID: &b.chapter.ID}, appErr.CodeInvalid},
		"missing parent":  {&CreateRequirementInput{Title: "x", ProjectID: a.project.ID, GroupID: a.group.ID, ParentIDs: []string{"nope"}}, appErr.CodeNotFound},
		"empty title":     {&CreateRequirementInput{Title: " ", ProjectID: a.project.ID, GroupID: a.group.ID}, appErr.CodeInvalid},
		"bad status":      {&CreateRequirementInput{Title: "x", Status: "Done", ProjectID: a.project.ID, GroupID: a.group.ID}, appErr.CodeInvalid},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.reqs.Create(ctx, tc.input)
			assert.True(t, appErr.IsCode(err, tc.code), "got %v", err)
		})
	}

	all, err := f.reqs.List(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestCreateWithParentsLinksBothSides(t *testing.T) {
	f := newFixture(t, HierarchyOptions{})
	tr := f.tree(t, "A")
	p1 := f.requirement(t, tr, "p1")
	p2 := f.requirement(t, tr, "p2")

	child := f.requirement(t, tr, "child", p1.ID, p2.ID, p1.ID)

	assert.Equal(t, []string{p1.ID, p2.ID}, child.ParentIDs)
	assert.Equal(t, []string{child.ID}, f.get(t, p1.ID).ChildIDs)
	assert.Equal(t, []string{child.ID}, f.get(t, p2.ID).ChildIDs)
}

func TestConcurrentCreatesYieldDistinctReqIDs(t *testing.T) {
	f := newFixture(t, HierarchyOptions{})
	tr := f.tree(t, "A")
	const n = 40

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = map[string]bool{}
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, err := f.reqs.Create(context.Background(), &CreateRequirementInput{Title: "c", ProjectID: tr.project.ID, GroupID: tr.group.ID})
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			seen[r.ReqID] = true
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Len(t, seen, n)
}

func TestReqIDIsNeverReused(t *testing.T) {
	f := newFixture(t, HierarchyOptions{})
	tr := f.tree(t, "A")
	f.requirement(t, tr, "one")
	two := f.requirement(t, tr, "two")
	require.NoError(t, f.reqs.Delete(context.Background(), two.ID))

	three := f.requirement(t, tr, "three")
	assert.Equal(t, "REQ-003", three.ReqID)
}

func TestUpdateRequirementDiffsParents(t *testing.T) {
	f := newFixture(t, HierarchyOptions{})
	ctx := context.Background()
	tr := f.tree(t, "A")
	a := f.requirement(t, tr, "a")
	b := f.requirement(t, tr, "b")
	c := f.requirement(t, tr, "c")
	child := f.requirement(t, tr, "child", a.ID, b.ID)

	parents := []string{b.ID, c.ID}
	updated, err := f.reqs.Update(ctx, child.ID, &UpdateRequirementInput{ParentIDs: &parents})
	require.NoError(t, err)

	assert.Equal(t, []string{b.ID, c.ID}, updated.ParentIDs)
	assert.Empty(t, f.get(t, a.ID).ChildIDs)
	assert.Equal(t, []string{child.ID}, f.get(t, b.ID).ChildIDs)
	assert.Equal(t, []string{child.ID}, f.get(t, c.ID).ChildIDs)

	types := f.recorder.types(child.ID)
	assert.Contains(t, types, models.ChangeRelationshipAdded)
	assert.Contains(t, types, models.ChangeRelationshipRemoved)
}

func TestUpdateRequirementWithMissingParentWritesNothing(t *testing.T) {
	f := newFixture(t, HierarchyOptions{})
	ctx := context.Background()
	tr := f.tree(t, "A")
	a := f.requirement(t, tr, "a")
	child := f.requirement(t, tr, "child", a.ID)

	title := "renamed"
	parents := []string{"ghost"}
	_, err := f.reqs.Update(ctx, child.ID, &UpdateRequirementInput{Title: &title, ParentIDs: &parents})
	assert.True(t, appErr.IsCode(err, appErr.CodeNotFound))

	got := f.get(t, child.ID)
	assert.Equal(t, "child", got.Title)
	assert.Equal(t, []string{a.ID}, got.ParentIDs)
	assert.Equal(t, []string{child.ID}, f.get(t, a.ID).ChildIDs)
}

func TestUpdateRequirementRejectsSelfParent(t *testing.T) {
	f := newFixture(t, HierarchyOptions{})
	tr := f.tree(t, "A")
	r := f.requirement(t, tr, "r")

	parents := []string{r.ID}
	_, err := f.reqs.Update(context.Background(), r.ID, &UpdateRequirementInput{ParentIDs: &parents})
	assert.True(t, appErr.IsCode(err, appErr.CodeInvalid))
}

func TestUpdateRequirementFields(t *testing.T) {
	f := newFixture(t, HierarchyOptions{})
	ctx := WithActor(context.Background(), "lee")
	tr := f.tree(t, "A")
	r := f.requirement(t, tr, "r")

	status := models.StatusAccepted
	methods := []models.VerificationMethod{models.VerificationTest}
	noChapter := ""
	updated, err := f.reqs.Update(ctx, r.ID, &UpdateRequirementInput{
		Status:              &status,
		VerificationMethods: &methods,
		ChapterID:           &noChapter,
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusAccepted, updated.Status)
	assert.Equal(t, methods, updated.VerificationMethods)
	assert.Nil(t, updated.ChapterID)
	require.NotNil(t, updated.UpdatedBy)
	assert.Equal(t, "lee", *updated.UpdatedBy)
	assert.Equal(t, "r", updated.Title, "nil fields are untouched")

	assert.Contains(t, f.recorder.types(r.ID), models.ChangeStatusChanged)

	_, err = f.reqs.Update(ctx, "missing", &UpdateRequirementInput{Status: &status})
	assert.True(t, appErr.IsCode(err, appErr.CodeNotFound))
}

func TestDeleteRequirementDetachesBothDirections(t *testing.T) {
	f := newFixture(t, HierarchyOptions{})
	ctx := context.Background()
	tr := f.tree(t, "A")
	parent := f.requirement(t, tr, "parent")
	mid := f.requirement(t, tr, "mid", parent.ID)
	child := f.requirement(t, tr, "child", mid.ID)

	require.NoError(t, f.reqs.Delete(ctx, mid.ID))

	assert.Empty(t, f.get(t, parent.ID).ChildIDs)
	assert.Empty(t, f.get(t, child.ID).ParentIDs)

	err := f.reqs.Delete(ctx, mid.ID)
	assert.True(t, appErr.IsCode(err, appErr.CodeNotFound))
}

func TestLinkIsIdempotent(t *testing.T) {
	f := newFixture(t, HierarchyOptions{})
	ctx := context.Background()
	tr := f.tree(t, "A")
	p := f.requirement(t, tr, "p")
	c := f.requirement(t, tr, "c")

	require.NoError(t, f.reqs.Link(ctx, p.ID, c.ID))
	require.NoError(t, f.reqs.Link(ctx, p.ID, c.ID))

	assert.Equal(t, []string{c.ID}, f.get(t, p.ID).ChildIDs)
	assert.Equal(t, []string{p.ID}, f.get(t, c.ID).ParentIDs)
}

func TestLinkWithMissingSideWritesNothing(t *testing.T) {
	f := newFixture(t, HierarchyOptions{})
	ctx := context.Background()
	tr := f.tree(t, "A")
	p := f.requirement(t, tr, "p")

	err := f.reqs.Link(ctx, p.ID, "ghost")
	assert.True(t, appErr.IsCode(err, appErr.CodeNotFound))
	assert.Empty(t, f.get(t, p.ID).ChildIDs)

	err = f.reqs.Link(ctx, "ghost", p.ID)
	assert.True(t, appErr.IsCode(err, appErr.CodeNotFound))
	assert.Empty(t, f.get(t, p.ID).ParentIDs)

	err = f.reqs.Link(ctx, p.ID, p.ID)
	assert.True(t, appErr.IsCode(err, appErr.CodeInvalid))
}

func TestLinkUndoesFirstWriteWhenChildVanishes(t *testing.T) {
	f := newFixture(t, HierarchyOptions{})
	ctx := context.Background()
	tr := f.tree(t, "A")
	p := f.requirement(t, tr, "p")

	rel := relations{repo: f.store.Requirements}
	err := rel.link(ctx, p.ID, "ghost")
	assert.True(t, appErr.IsCode(err, appErr.CodeNotFound))
	assert.Empty(t, f.get(t, p.ID).ChildIDs)
}

func TestUnlinkAlwaysSucceeds(t *testing.T) {
	f := newFixture(t, HierarchyOptions{})
	ctx := context.Background()
	tr := f.tree(t, "A")
	p := f.requirement(t, tr, "p")
	c := f.requirement(t, tr, "c", p.ID)

	require.NoError(t, f.reqs.Unlink(ctx, p.ID, c.ID))
	assert.Empty(t, f.get(t, p.ID).ChildIDs)
	assert.Empty(t, f.get(t, c.ID).ParentIDs)

	before := len(f.recorder.types(p.ID))
	require.NoError(t, f.reqs.Unlink(ctx, p.ID, c.ID))
	require.NoError(t, f.reqs.Unlink(ctx, "ghost", "phantom"))
	assert.Len(t, f.recorder.types(p.ID), before, "a no-op unlink records nothing")
}

func TestParseBatchFields(t *testing.T) {
	raw := func(s string) map[string]json.RawMessage {
		var m map[string]json.RawMessage
		require.NoError(t, json.Unmarshal([]byte(s), &m))
		return m
	}

	fields, err := ParseBatchFields(raw(`{"status":"in_review","verification_methods":["Test"]}`))
	require.NoError(t, err)
	require.NotNil(t, fields.Status)
	assert.Equal(t, models.StatusInReview, *fields.Status)

	for _, body := range []string{
		`{"parent_ids":["x"]}`,
		`{"child_ids":[]}`,
		`{"req_id":"REQ-9"}`,
		`{"project_id":"p"}`,
		`{"colour":"red"}`,
		`{"status":"Done"}`,
		`{}`,
	} {
		_, err := ParseBatchFields(raw(body))
		assert.True(t, appErr.IsCode(err, appErr.CodeInvalid), body)
	}
}

func TestBatchUpdate(t *testing.T) {
	f := newFixture(t, HierarchyOptions{})
	ctx := context.Background()
	tr := f.tree(t, "A")
	a := f.requirement(t, tr, "a")
	b := f.requirement(t, tr, "b")
	untouched := f.requirement(t, tr, "c")

	status := models.StatusTested
	n, err := f.reqs.BatchUpdate(ctx, []string{a.ID, b.ID, "ghost"}, &BatchFields{Status: &status})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	assert.Equal(t, models.StatusTested, f.get(t, a.ID).Status)
	assert.Equal(t, models.StatusTested, f.get(t, b.ID).Status)
	assert.Equal(t, models.StatusDraft, f.get(t, untouched.ID).Status)
	assert.Contains(t, f.recorder.types(a.ID), models.ChangeStatusChanged)

	_, err = f.reqs.BatchUpdate(ctx, nil, &BatchFields{Status: &status})
	assert.True(t, appErr.IsCode(err, appErr.CodeInvalid))

	other := f.tree(t, "B")
	_, err = f.reqs.BatchUpdate(ctx, []string{a.ID}, &BatchFields{GroupID: &other.group.ID})
	assert.True(t, appErr.IsCode(err, appErr.CodeInvalid))
}

func TestSearchIsLiteralAndCaseInsensitive(t *testing.T) {
	f := newFixture(t, HierarchyOptions{})
	ctx := context.Background()
	a := f.tree(t, "A")
	b := f.tree(t, "B")
	f.requirement(t, a, "Brake pressure (max)")
	f.requirement(t, a, "Brake light")
	f.requirement(t, b, "brake fluid")

	got, err := f.reqs.Search(ctx, "BRAKE", a.project.ID)
	require.NoError(t, err)
	assert.Len(t, got, 2)

	got, err = f.reqs.Search(ctx, "(max)", "")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Brake pressure (max)", got[0].Title)

	got, err = f.reqs.Search(ctx, "req-00", "")
	require.NoError(t, err)
	assert.Len(t, got, 3)

	_, err = f.reqs.Search(ctx, "  ", "")
	assert.True(t, appErr.IsCode(err, appErr.CodeInvalid))
}

func TestHistoryThroughStoreRecorder(t *testing.T) {
	f := newFixture(t, HierarchyOptions{})
	reqs := NewRequirementService(f.store, NewStoreRecorder(f.store.ChangeLogs))
	ctx := context.Background()
	tr := f.tree(t, "A")

	r, err := reqs.Create(ctx, &CreateRequirementInput{Title: "r", ProjectID: tr.project.ID, GroupID: tr.group.ID})
	require.NoError(t, err)
	title := "r2"
	_, err = reqs.Update(ctx, r.ID, &UpdateRequirementInput{Title: &title})
	require.NoError(t, err)

	history, err := reqs.History(ctx, r.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, models.ChangeUpdated, history[0].ChangeType)
	assert.Equal(t, models.ChangeCreated, history[1].ChangeType)
	assert.Equal(t, models.SystemActor, history[0].ChangedBy)
	require.NotNil(t, history[0].FieldName)
	assert.Equal(t, "title", *history[0].FieldName)
}
