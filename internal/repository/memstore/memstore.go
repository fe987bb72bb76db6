// Package memstore is an in-process backend used by tests and the memory
// STORE_BACKEND. One mutex guards every table so multi-record operations
// (activation flips, sequence reservation) are atomic.
package memstore

import (
	"cmp"
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/reqtrace/engine/internal/models"
	"github.com/reqtrace/engine/internal/repository"
	appErr "github.com/reqtrace/engine/pkg/errors"
)

type row[T any] struct {
	seq int64
	v   T
}

type table[T any] struct {
	rows map[string]row[T]
	next int64
}

func newTable[T any]() *table[T] { return &table[T]{rows: map[string]row[T]{}} }

func (t *table[T]) insert(id string, v T) bool {
	if _, ok := t.rows[id]; ok {
		return false
	}
	t.next++
	t.rows[id] = row[T]{seq: t.next, v: v}
	return true
}

func (t *table[T]) get(id string) (T, bool) {
	r, ok := t.rows[id]
	return r.v, ok
}

func (t *table[T]) set(id string, v T) {
	r := t.rows[id]
	r.v = v
	t.rows[id] = r
}

// scan returns matching values sorted by key then insertion order.
func (t *table[T]) scan(match func(T) bool, key func(a, b T) int) []T {
	rows := make([]row[T], 0, len(t.rows))
	for _, r := range t.rows {
		if match == nil || match(r.v) {
			rows = append(rows, r)
		}
	}
	slices.SortFunc(rows, func(a, b row[T]) int {
		if c := key(a.v, b.v); c != 0 {
			return c
		}
		return cmp.Compare(a.seq, b.seq)
	})
	out := make([]T, len(rows))
	for i, r := range rows {
		out[i] = r.v
	}
	return out
}

func (t *table[T]) deleteIDs(ids []string) int64 {
	var n int64
	for _, id := range ids {
		if _, ok := t.rows[id]; ok {
			delete(t.rows, id)
			n++
		}
	}
	return n
}

type memDB struct {
	mu           sync.Mutex
	projects     *table[models.Project]
	groups       *table[models.Group]
	chapters     *table[models.Chapter]
	requirements *table[models.Requirement]
	changeLogs   *table[models.RequirementChangeLog]
	counters     map[string]int64
}

// New returns an empty store.
func New() *repository.Store {
	db := &memDB{
		projects:     newTable[models.Project](),
		groups:       newTable[models.Group](),
		chapters:     newTable[models.Chapter](),
		requirements: newTable[models.Requirement](),
		changeLogs:   newTable[models.RequirementChangeLog](),
		counters:     map[string]int64{},
	}
	return &repository.Store{
		Lifecycle:    lifecycle{},
		Projects:     &projectRepo{db},
		Groups:       &groupRepo{db},
		Chapters:     &chapterRepo{db},
		Requirements: &requirementRepo{db},
		ChangeLogs:   &changeLogRepo{db},
	}
}

type lifecycle struct{}

func (lifecycle) Ping(ctx context.Context) error { return ctx.Err() }

func (lifecycle) Close(context.Context) error { return nil }

func cloneStr(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func byCreated[T any](created func(T) time.Time) func(a, b T) int {
	return func(a, b T) int { return created(a).Compare(created(b)) }
}

func limited[T any](in []T, limit, max int) []T {
	if n := repository.ClampLimit(limit, max); len(in) > n {
		return in[:n]
	}
	return in
}

func inSet(ids []string) func(string) bool {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return func(id string) bool {
		_, ok := set[id]
		return ok
	}
}

// projects

type projectRepo struct{ db *memDB }

func copyProject(p models.Project) models.Project {
	p.Description = cloneStr(p.Description)
	return p
}

func (r *projectRepo) CreateActive(_ context.Context, p *models.Project) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	p.IsActive = true
	p.Normalize()
	if _, ok := r.db.projects.get(p.ID); ok {
		return appErr.New(appErr.CodeConflict, "create project failed: duplicate id")
	}
	r.deactivateAll()
	r.db.projects.insert(p.ID, copyProject(*p))
	return nil
}

func (r *projectRepo) deactivateAll() {
	for id, row := range r.db.projects.rows {
		if row.v.IsActive {
			row.v.IsActive = false
			r.db.projects.rows[id] = row
		}
	}
}

func (r *projectRepo) GetByID(_ context.Context, id string, dest *models.Project) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	p, ok := r.db.projects.get(id)
	if !ok {
		return appErr.NotFound("project")
	}
	*dest = copyProject(p)
	return nil
}

func (r *projectRepo) GetActive(_ context.Context, dest *models.Project) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, row := range r.db.projects.rows {
		if row.v.IsActive {
			*dest = copyProject(row.v)
			return nil
		}
	}
	return appErr.New(appErr.CodeNotFound, "no active project")
}

func (r *projectRepo) List(_ context.Context, limit int) ([]models.Project, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	out := r.db.projects.scan(nil, byCreated(func(p models.Project) time.Time { return p.CreatedAt }))
	for i := range out {
		out[i] = copyProject(out[i])
	}
	return limited(out, limit, repository.ListLimit), nil
}

func (r *projectRepo) Activate(_ context.Context, id string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	p, ok := r.db.projects.get(id)
	if !ok {
		return appErr.NotFound("project")
	}
	r.deactivateAll()
	p.IsActive = true
	r.db.projects.set(id, p)
	return nil
}

func (r *projectRepo) Delete(_ context.Context, id string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if r.db.projects.deleteIDs([]string{id}) == 0 {
		return appErr.NotFound("project")
	}
	return nil
}

// groups

type groupRepo struct{ db *memDB }

func copyGroup(g models.Group) models.Group {
	g.Description = cloneStr(g.Description)
	g.ParentID = cloneStr(g.ParentID)
	return g
}

func groupOrder(a, b models.Group) int {
	if c := cmp.Compare(a.Order, b.Order); c != 0 {
		return c
	}
	return a.CreatedAt.Compare(b.CreatedAt)
}

func (r *groupRepo) deactivateIn(projectID string) {
	for id, row := range r.db.groups.rows {
		if row.v.IsActive && row.v.ProjectID == projectID {
			row.v.IsActive = false
			r.db.groups.rows[id] = row
		}
	}
}

func (r *groupRepo) CreateActive(_ context.Context, g *models.Group) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	g.IsActive = true
	g.Normalize()
	if _, ok := r.db.groups.get(g.ID); ok {
		return appErr.New(appErr.CodeConflict, "create group failed: duplicate id")
	}
	r.deactivateIn(g.ProjectID)
	r.db.groups.insert(g.ID, copyGroup(*g))
	return nil
}

func (r *groupRepo) GetByID(_ context.Context, id string, dest *models.Group) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	g, ok := r.db.groups.get(id)
	if !ok {
		return appErr.NotFound("group")
	}
	*dest = copyGroup(g)
	return nil
}

func (r *groupRepo) GetActive(_ context.Context, projectID string, dest *models.Group) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	active := r.db.groups.scan(func(g models.Group) bool {
		return g.IsActive && (projectID == "" || g.ProjectID == projectID)
	}, func(a, b models.Group) int { return b.UpdatedAt.Compare(a.UpdatedAt) })
	if len(active) == 0 {
		return appErr.New(appErr.CodeNotFound, "no active group")
	}
	*dest = copyGroup(active[0])
	return nil
}

func (r *groupRepo) List(_ context.Context, f repository.GroupFilter, limit int) ([]models.Group, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	inParents := inSet(f.ParentIDs)
	out := r.db.groups.scan(func(g models.Group) bool {
		if f.ProjectID != "" && g.ProjectID != f.ProjectID {
			return false
		}
		if f.ParentIDs != nil && (g.ParentID == nil || !inParents(*g.ParentID)) {
			return false
		}
		return true
	}, groupOrder)
	for i := range out {
		out[i] = copyGroup(out[i])
	}
	return limited(out, limit, repository.ListLimit), nil
}

func (r *groupRepo) Activate(_ context.Context, id string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	g, ok := r.db.groups.get(id)
	if !ok {
		return appErr.NotFound("group")
	}
	r.deactivateIn(g.ProjectID)
	g.IsActive = true
	r.db.groups.set(id, g)
	return nil
}

func reparent(current *string, parentID *string) *string {
	switch {
	case parentID == nil:
		return current
	case *parentID == "":
		return nil
	default:
		return cloneStr(parentID)
	}
}

func (r *groupRepo) Reorder(_ context.Context, id string, order int, parentID *string, at time.Time) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	g, ok := r.db.groups.get(id)
	if !ok {
		return appErr.NotFound("group")
	}
	g.Order = order
	g.ParentID = reparent(g.ParentID, parentID)
	g.UpdatedAt = at.UTC()
	r.db.groups.set(id, g)
	return nil
}

func (r *groupRepo) Delete(_ context.Context, id string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if r.db.groups.deleteIDs([]string{id}) == 0 {
		return appErr.NotFound("group")
	}
	return nil
}

func (r *groupRepo) DeleteMany(_ context.Context, ids []string) (int64, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	return r.db.groups.deleteIDs(ids), nil
}

// chapters

type chapterRepo struct{ db *memDB }

func copyChapter(c models.Chapter) models.Chapter {
	c.Description = cloneStr(c.Description)
	c.ParentID = cloneStr(c.ParentID)
	return c
}

func (r *chapterRepo) Create(_ context.Context, c *models.Chapter) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	c.Normalize()
	if !r.db.chapters.insert(c.ID, copyChapter(*c)) {
		return appErr.New(appErr.CodeConflict, "create chapter failed: duplicate id")
	}
	return nil
}

func (r *chapterRepo) GetByID(_ context.Context, id string, dest *models.Chapter) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	c, ok := r.db.chapters.get(id)
	if !ok {
		return appErr.NotFound("chapter")
	}
	*dest = copyChapter(c)
	return nil
}

func (r *chapterRepo) List(_ context.Context, f repository.ChapterFilter, limit int) ([]models.Chapter, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	inGroups, inParents := inSet(f.GroupIDs), inSet(f.ParentIDs)
	out := r.db.chapters.scan(func(c models.Chapter) bool {
		if f.GroupID != "" && c.GroupID != f.GroupID {
			return false
		}
		if f.GroupIDs != nil && !inGroups(c.GroupID) {
			return false
		}
		if f.ParentIDs != nil && (c.ParentID == nil || !inParents(*c.ParentID)) {
			return false
		}
		return true
	}, func(a, b models.Chapter) int {
		if c := cmp.Compare(a.Order, b.Order); c != 0 {
			return c
		}
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	for i := range out {
		out[i] = copyChapter(out[i])
	}
	return limited(out, limit, repository.ListLimit), nil
}

func (r *chapterRepo) Reorder(_ context.Context, id string, order int, parentID *string, at time.Time) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	c, ok := r.db.chapters.get(id)
	if !ok {
		return appErr.NotFound("chapter")
	}
	c.Order = order
	c.ParentID = reparent(c.ParentID, parentID)
	c.UpdatedAt = at.UTC()
	r.db.chapters.set(id, c)
	return nil
}

func (r *chapterRepo) Delete(_ context.Context, id string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if r.db.chapters.deleteIDs([]string{id}) == 0 {
		return appErr.NotFound("chapter")
	}
	return nil
}

func (r *chapterRepo) DeleteMany(_ context.Context, ids []string) (int64, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	return r.db.chapters.deleteIDs(ids), nil
}

// requirements

type requirementRepo struct{ db *memDB }

func copyRequirement(req models.Requirement) models.Requirement {
	out := req.Clone()
	out.CreatedBy = cloneStr(req.CreatedBy)
	out.UpdatedBy = cloneStr(req.UpdatedBy)
	return out
}

func matcher(f repository.RequirementFilter) func(models.Requirement) bool {
	inIDs, inGroups, inChapters := inSet(f.IDs), inSet(f.GroupIDs), inSet(f.ChapterIDs)
	return func(r models.Requirement) bool {
		switch {
		case f.ProjectID != "" && r.ProjectID != f.ProjectID,
			f.GroupID != "" && r.GroupID != f.GroupID,
			f.ChapterID != "" && (r.ChapterID == nil || *r.ChapterID != f.ChapterID),
			f.Status != "" && r.Status != f.Status,
			f.IDs != nil && !inIDs(r.ID),
			f.GroupIDs != nil && !inGroups(r.GroupID),
			f.ChapterIDs != nil && (r.ChapterID == nil || !inChapters(*r.ChapterID)):
			return false
		}
		return true
	}
}

var requirementsByCreated = byCreated(func(r models.Requirement) time.Time { return r.CreatedAt })

func (r *requirementRepo) Create(_ context.Context, req *models.Requirement) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	req.Normalize()
	for _, row := range r.db.requirements.rows {
		if row.v.ProjectID == req.ProjectID && row.v.ReqID == req.ReqID {
			return appErr.New(appErr.CodeConflict, "create requirement failed: duplicate req_id")
		}
	}
	if !r.db.requirements.insert(req.ID, copyRequirement(*req)) {
		return appErr.New(appErr.CodeConflict, "create requirement failed: duplicate id")
	}
	return nil
}

func (r *requirementRepo) GetByID(_ context.Context, id string, dest *models.Requirement) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	req, ok := r.db.requirements.get(id)
	if !ok {
		return appErr.NotFound("requirement")
	}
	*dest = copyRequirement(req)
	return nil
}

func (r *requirementRepo) list(match func(models.Requirement) bool, limit, max int) []models.Requirement {
	out := r.db.requirements.scan(match, requirementsByCreated)
	out = limited(out, limit, max)
	for i := range out {
		out[i] = copyRequirement(out[i])
	}
	return out
}

func (r *requirementRepo) List(_ context.Context, f repository.RequirementFilter, limit int) ([]models.Requirement, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	return r.list(matcher(f), limit, repository.ListLimit), nil
}

func (r *requirementRepo) Search(_ context.Context, query, projectID string, limit int) ([]models.Requirement, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	q := strings.ToLower(query)
	return r.list(func(req models.Requirement) bool {
		if projectID != "" && req.ProjectID != projectID {
			return false
		}
		return strings.Contains(strings.ToLower(req.Title), q) ||
			strings.Contains(strings.ToLower(req.Text), q) ||
			strings.Contains(strings.ToLower(req.ReqID), q)
	}, limit, repository.SearchLimit), nil
}

func (r *requirementRepo) Stats(_ context.Context, projectID string) (*repository.RequirementStats, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	stats := &repository.RequirementStats{ByStatus: make(map[models.Status]int64, len(models.Statuses))}
	for _, row := range r.db.requirements.rows {
		req := row.v
		if req.ProjectID != projectID {
			continue
		}
		stats.Total++
		stats.ByStatus[req.Status]++
		if len(req.ChildIDs) > 0 {
			stats.WithChildren++
		}
		if len(req.VerificationMethods) > 0 {
			stats.WithVerification++
		}
	}
	return stats, nil
}

func applyPatch(req *models.Requirement, p repository.RequirementPatch) {
	if p.Title != nil {
		req.Title = *p.Title
	}
	if p.Text != nil {
		req.Text = *p.Text
	}
	if p.Status != nil {
		req.Status = *p.Status
	}
	if p.VerificationMethods != nil {
		req.VerificationMethods = models.UniqueMethods(*p.VerificationMethods)
	}
	if p.GroupID != nil {
		req.GroupID = *p.GroupID
	}
	if p.ChapterID != nil {
		if *p.ChapterID == "" {
			req.ChapterID = nil
		} else {
			req.ChapterID = cloneStr(p.ChapterID)
		}
	}
	if p.ParentIDs != nil {
		req.ParentIDs = models.UniqueIDs(*p.ParentIDs)
	}
	if p.UpdatedBy != nil {
		req.UpdatedBy = cloneStr(p.UpdatedBy)
	}
	req.UpdatedAt = p.UpdatedAt.UTC()
}

func (r *requirementRepo) Update(_ context.Context, id string, patch repository.RequirementPatch) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	req, ok := r.db.requirements.get(id)
	if !ok {
		return appErr.NotFound("requirement")
	}
	applyPatch(&req, patch)
	r.db.requirements.set(id, req)
	return nil
}

func (r *requirementRepo) UpdateMany(_ context.Context, ids []string, patch repository.RequirementPatch) (int64, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var n int64
	for _, id := range models.UniqueIDs(ids) {
		req, ok := r.db.requirements.get(id)
		if !ok {
			continue
		}
		applyPatch(&req, patch)
		r.db.requirements.set(id, req)
		n++
	}
	return n, nil
}

func relationSet(req *models.Requirement, field repository.RelationField) (*[]string, error) {
	switch field {
	case repository.ParentsField:
		return &req.ParentIDs, nil
	case repository.ChildrenField:
		return &req.ChildIDs, nil
	}
	return nil, appErr.Invalid("unknown relation field %q", field)
}

func (r *requirementRepo) AddRelation(_ context.Context, id string, field repository.RelationField, other string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	req, ok := r.db.requirements.get(id)
	if !ok {
		return appErr.NotFound("requirement")
	}
	set, err := relationSet(&req, field)
	if err != nil {
		return err
	}
	if !models.Contains(*set, other) {
		*set = append(slices.Clone(*set), other)
		r.db.requirements.set(id, req)
	}
	return nil
}

func (r *requirementRepo) PullRelation(_ context.Context, id string, field repository.RelationField, other string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	req, ok := r.db.requirements.get(id)
	if !ok {
		return nil
	}
	set, err := relationSet(&req, field)
	if err != nil {
		return err
	}
	*set = slices.DeleteFunc(slices.Clone(*set), func(v string) bool { return v == other })
	r.db.requirements.set(id, req)
	return nil
}

func (r *requirementRepo) PullEverywhere(_ context.Context, ids []string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	drop := inSet(ids)
	for id, row := range r.db.requirements.rows {
		req := row.v
		parents := slices.DeleteFunc(slices.Clone(req.ParentIDs), drop)
		children := slices.DeleteFunc(slices.Clone(req.ChildIDs), drop)
		if len(parents) != len(req.ParentIDs) || len(children) != len(req.ChildIDs) {
			req.ParentIDs, req.ChildIDs = parents, children
			r.db.requirements.set(id, req)
		}
	}
	return nil
}

func (r *requirementRepo) Delete(_ context.Context, id string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if r.db.requirements.deleteIDs([]string{id}) == 0 {
		return appErr.NotFound("requirement")
	}
	return nil
}

func (r *requirementRepo) DeleteMany(_ context.Context, f repository.RequirementFilter) ([]string, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	match := matcher(f)
	ids := []string{}
	for id, row := range r.db.requirements.rows {
		if match(row.v) {
			ids = append(ids, id)
		}
	}
	r.db.requirements.deleteIDs(ids)
	return ids, nil
}

func (r *requirementRepo) NextSequence(_ context.Context, projectID string) (int64, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	r.db.counters[projectID]++
	return r.db.counters[projectID], nil
}

// change logs

type changeLogRepo struct{ db *memDB }

func (r *changeLogRepo) Create(_ context.Context, l *models.RequirementChangeLog) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if !r.db.changeLogs.insert(l.ID, *l) {
		return appErr.New(appErr.CodeConflict, "create change log failed: duplicate id")
	}
	return nil
}

func (r *changeLogRepo) ListByRequirement(_ context.Context, requirementID string, limit int) ([]models.RequirementChangeLog, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	out := r.db.changeLogs.scan(func(l models.RequirementChangeLog) bool {
		return l.RequirementID == requirementID
	}, byCreated(func(l models.RequirementChangeLog) time.Time { return l.CreatedAt }))
	slices.Reverse(out)
	return limited(out, limit, repository.ListLimit), nil
}

var (
	_ repository.ProjectRepository     = (*projectRepo)(nil)
	_ repository.GroupRepository       = (*groupRepo)(nil)
	_ repository.ChapterRepository     = (*chapterRepo)(nil)
	_ repository.RequirementRepository = (*requirementRepo)(nil)
	_ repository.ChangeLogRepository   = (*changeLogRepo)(nil)
)
