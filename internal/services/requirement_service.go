package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/reqtrace/engine/internal/metrics"
	"github.com/reqtrace/engine/internal/models"
	"github.com/reqtrace/engine/internal/repository"
	appErr "github.com/reqtrace/engine/pkg/errors"
	"github.com/reqtrace/engine/pkg/logger"
	"go.uber.org/zap"
)

// RequirementService manages requirements and their traceability links.
type RequirementService interface {
	Create(ctx context.Context, input *CreateRequirementInput) (*models.Requirement, error)
	Get(ctx context.Context, id string) (*models.Requirement, error)
	List(ctx context.Context, filter *RequirementQuery) ([]models.Requirement, error)
	Update(ctx context.Context, id string, input *UpdateRequirementInput) (*models.Requirement, error)
	Delete(ctx context.Context, id string) error
	// BatchUpdate applies the same fields to every listed requirement and
	// returns how many matched.
	BatchUpdate(ctx context.Context, ids []string, fields *BatchFields) (int64, error)

	Link(ctx context.Context, parentID, childID string) error
	Unlink(ctx context.Context, parentID, childID string) error

	Search(ctx context.Context, query, projectID string) ([]models.Requirement, error)
	History(ctx context.Context, id string) ([]models.RequirementChangeLog, error)
}

type CreateRequirementInput struct {
	Title               string
	Text                string
	Status              models.Status
	VerificationMethods []models.VerificationMethod
	ProjectID           string
	GroupID             string
	ChapterID           *string
	ParentIDs           []string
}

// UpdateRequirementInput is a partial update; nil fields are left alone. An
// empty ChapterID clears the chapter.
type UpdateRequirementInput struct {
	Title               *string
	Text                *string
	Status              *models.Status
	VerificationMethods *[]models.VerificationMethod
	GroupID             *string
	ChapterID           *string
	ParentIDs           *[]string
}

type RequirementQuery struct {
	ProjectID string
	GroupID   string
	ChapterID string
	Status    models.Status
}

// BatchFields are the fields a batch update may set. Relationship and identity
// fields are deliberately absent.
type BatchFields struct {
	Title               *string                      `json:"title"`
	Text                *string                      `json:"text"`
	Status              *models.Status               `json:"status"`
	VerificationMethods *[]models.VerificationMethod `json:"verification_methods"`
	GroupID             *string                      `json:"group_id"`
	ChapterID           *string                      `json:"chapter_id"`
}

var batchForbidden = map[string]string{
	"parent_ids": "relationships must be changed through the relationship endpoints",
	"child_ids":  "relationships must be changed through the relationship endpoints",
	"id":         "identity fields are immutable",
	"req_id":     "identity fields are immutable",
	"project_id": "identity fields are immutable",
	"created_at": "timestamps are managed by the server",
	"updated_at": "timestamps are managed by the server",
	"created_by": "actors come from the X-Actor header",
	"updated_by": "actors come from the X-Actor header",
}

// ParseBatchFields decodes a batch update body, rejecting relationship,
// identity and unknown fields.
func ParseBatchFields(raw map[string]json.RawMessage) (*BatchFields, error) {
	if len(raw) == 0 {
		return nil, appErr.Invalid("update_data must set at least one field")
	}
	for _, k := range slices.Sorted(maps.Keys(raw)) {
		if why, ok := batchForbidden[k]; ok {
			return nil, appErr.Invalid("field %q cannot be batch updated: %s", k, why)
		}
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return nil, appErr.Wrap(err, appErr.CodeInvalid, "invalid update_data")
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	var f BatchFields
	if err := dec.Decode(&f); err != nil {
		return nil, appErr.Wrap(err, appErr.CodeInvalid, "invalid update_data")
	}
	return &f, nil
}

type requirementService struct {
	store    *repository.Store
	rel      relations
	recorder ChangeRecorder
}

func NewRequirementService(store *repository.Store, recorder ChangeRecorder) RequirementService {
	if recorder == nil {
		recorder = NewNopRecorder()
	}
	return &requirementService{store: store, rel: relations{repo: store.Requirements}, recorder: recorder}
}

// Ensure interfaces are satisfied at compile time
var _ RequirementService = (*requirementService)(nil)

func (s *requirementService) checkPlacement(ctx context.Context, projectID, groupID string, chapterID *string) error {
	var g models.Group
	if err := s.store.Groups.GetByID(ctx, groupID, &g); err != nil {
		return err
	}
	if g.ProjectID != projectID {
		return appErr.Invalid("group %s belongs to another project", groupID)
	}
	if chapterID != nil && *chapterID != "" {
		var c models.Chapter
		if err := s.store.Chapters.GetByID(ctx, *chapterID, &c); err != nil {
			return err
		}
		if c.GroupID != groupID {
			return appErr.Invalid("chapter %s belongs to another group", *chapterID)
		}
	}
	return nil
}

func checkParentCount(ids []string) error {
	if len(ids) > repository.ListLimit {
		return appErr.Invalid("at most %d parents are allowed", repository.ListLimit)
	}
	return nil
}

func (s *requirementService) Create(ctx context.Context, input *CreateRequirementInput) (*models.Requirement, error) {
	log := logger.FromContext(ctx)
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return nil, appErr.Invalid("title is required")
	}
	status := input.Status
	if status == "" {
		status = models.StatusDraft
	}
	if !status.Valid() {
		return nil, appErr.Invalid("invalid status %q", status)
	}

	var p models.Project
	if err := s.store.Projects.GetByID(ctx, input.ProjectID, &p); err != nil {
		return nil, err
	}
	chapterID := nonEmpty(input.ChapterID)
	if err := s.checkPlacement(ctx, input.ProjectID, input.GroupID, chapterID); err != nil {
		return nil, err
	}
	parents := models.UniqueIDs(input.ParentIDs)
	if err := checkParentCount(parents); err != nil {
		return nil, err
	}
	if err := s.rel.requireExisting(ctx, parents); err != nil {
		return nil, err
	}

	seq, err := s.store.Requirements.NextSequence(ctx, input.ProjectID)
	if err != nil {
		return nil, err
	}
	now := models.Now()
	actor := actorPtr(ctx)
	r := &models.Requirement{
		ID:                  models.NewID(),
		ReqID:               models.FormatReqID(seq),
		Title:               title,
		Text:                input.Text,
		Status:              status,
		VerificationMethods: input.VerificationMethods,
		ProjectID:           input.ProjectID,
		GroupID:             input.GroupID,
		ChapterID:           chapterID,
		ParentIDs:           parents,
		CreatedAt:           now,
		UpdatedAt:           now,
		CreatedBy:           actor,
		UpdatedBy:           actor,
	}
	if err := s.store.Requirements.Create(ctx, r); err != nil {
		return nil, err
	}
	if err := s.rel.adoptParents(ctx, r.ID, parents); err != nil {
		return nil, err
	}
	metrics.RequirementsCreated.Inc()
	log.Info("requirement created", zap.String("requirement_id", r.ID), zap.String("req_id", r.ReqID), zap.String("project_id", r.ProjectID))

	entries := []*models.RequirementChangeLog{
		models.NewChangeLog(r.ID, models.ChangeCreated, fmt.Sprintf("Requirement %s created", r.ReqID), ActorFrom(ctx)),
	}
	for _, parent := range parents {
		entries = append(entries, relationEntry(ctx, models.ChangeRelationshipAdded, parent, r.ID)...)
	}
	s.recorder.Record(ctx, entries...)
	return s.Get(ctx, r.ID)
}

func (s *requirementService) Get(ctx context.Context, id string) (*models.Requirement, error) {
	var r models.Requirement
	if err := s.store.Requirements.GetByID(ctx, id, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *requirementService) List(ctx context.Context, q *RequirementQuery) ([]models.Requirement, error) {
	f := repository.RequirementFilter{}
	if q != nil {
		f = repository.RequirementFilter{ProjectID: q.ProjectID, GroupID: q.GroupID, ChapterID: q.ChapterID, Status: q.Status}
	}
	return s.store.Requirements.List(ctx, f, repository.ListLimit)
}

func (s *requirementService) Update(ctx context.Context, id string, input *UpdateRequirementInput) (*models.Requirement, error) {
	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	patch := repository.RequirementPatch{
		Title:               input.Title,
		Text:                input.Text,
		Status:              input.Status,
		VerificationMethods: input.VerificationMethods,
		GroupID:             input.GroupID,
		ChapterID:           input.ChapterID,
		UpdatedBy:           actorPtr(ctx),
		UpdatedAt:           models.Now(),
	}
	if input.Title != nil && strings.TrimSpace(*input.Title) == "" {
		return nil, appErr.Invalid("title cannot be empty")
	}
	if input.Status != nil && !input.Status.Valid() {
		return nil, appErr.Invalid("invalid status %q", *input.Status)
	}
	if input.GroupID != nil || (input.ChapterID != nil && *input.ChapterID != "") {
		groupID := current.GroupID
		if input.GroupID != nil {
			groupID = *input.GroupID
		}
		chapterID := current.ChapterID
		if input.ChapterID != nil {
			chapterID = input.ChapterID
		}
		if err := s.checkPlacement(ctx, current.ProjectID, groupID, chapterID); err != nil {
			return nil, err
		}
	}

	var added, removed []string
	if input.ParentIDs != nil {
		next := models.UniqueIDs(*input.ParentIDs)
		if models.Contains(next, id) {
			return nil, appErr.Invalid("a requirement cannot be its own parent")
		}
		if err := checkParentCount(next); err != nil {
			return nil, err
		}
		added, removed = models.Diff(current.ParentIDs, next)
		if err := s.rel.requireExisting(ctx, added); err != nil {
			return nil, err
		}
		patch.ParentIDs = &next
	}

	if err := s.store.Requirements.Update(ctx, id, patch); err != nil {
		return nil, err
	}
	if err := s.rel.releaseParents(ctx, id, removed); err != nil {
		return nil, err
	}
	if err := s.rel.adoptParents(ctx, id, added); err != nil {
		return nil, err
	}
	logger.FromContext(ctx).Info("requirement updated",
		zap.String("requirement_id", id),
		zap.Int("parents_added", len(added)),
		zap.Int("parents_removed", len(removed)))

	entries := fieldChanges(ctx, current, patch)
	for _, p := range added {
		entries = append(entries, relationEntry(ctx, models.ChangeRelationshipAdded, p, id)...)
	}
	for _, p := range removed {
		entries = append(entries, relationEntry(ctx, models.ChangeRelationshipRemoved, p, id)...)
	}
	s.recorder.Record(ctx, entries...)
	return s.Get(ctx, id)
}

func (s *requirementService) Delete(ctx context.Context, id string) error {
	current, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.rel.detach(ctx, current); err != nil {
		return err
	}
	if err := s.store.Requirements.Delete(ctx, id); err != nil {
		return err
	}
	logger.FromContext(ctx).Info("requirement deleted", zap.String("requirement_id", id), zap.String("req_id", current.ReqID))
	s.recorder.Record(ctx, models.NewChangeLog(id, models.ChangeDeleted,
		fmt.Sprintf("Requirement %s deleted", current.ReqID), ActorFrom(ctx)))
	return nil
}

func (s *requirementService) BatchUpdate(ctx context.Context, ids []string, fields *BatchFields) (int64, error) {
	ids = models.UniqueIDs(ids)
	if len(ids) == 0 {
		return 0, appErr.Invalid("requirement_ids is required")
	}
	if len(ids) > repository.ListLimit {
		return 0, appErr.Invalid("at most %d requirements per batch", repository.ListLimit)
	}
	if fields == nil {
		return 0, appErr.Invalid("update_data is required")
	}
	if fields.Title != nil && strings.TrimSpace(*fields.Title) == "" {
		return 0, appErr.Invalid("title cannot be empty")
	}
	if fields.Status != nil && !fields.Status.Valid() {
		return 0, appErr.Invalid("invalid status %q", *fields.Status)
	}

	before, err := s.store.Requirements.List(ctx, repository.RequirementFilter{IDs: ids}, len(ids))
	if err != nil {
		return 0, err
	}
	if fields.GroupID != nil || (fields.ChapterID != nil && *fields.ChapterID != "") {
		for _, r := range before {
			groupID, chapterID := r.GroupID, r.ChapterID
			if fields.GroupID != nil {
				groupID = *fields.GroupID
			}
			if fields.ChapterID != nil {
				chapterID = fields.ChapterID
			}
			if err := s.checkPlacement(ctx, r.ProjectID, groupID, chapterID); err != nil {
				return 0, err
			}
		}
	}

	patch := repository.RequirementPatch{
		Title:               fields.Title,
		Text:                fields.Text,
		Status:              fields.Status,
		VerificationMethods: fields.VerificationMethods,
		GroupID:             fields.GroupID,
		ChapterID:           fields.ChapterID,
		UpdatedBy:           actorPtr(ctx),
		UpdatedAt:           models.Now(),
	}
	n, err := s.store.Requirements.UpdateMany(ctx, ids, patch)
	if err != nil {
		return 0, err
	}
	logger.FromContext(ctx).Info("requirements batch updated", zap.Int("requested", len(ids)), zap.Int64("matched", n))

	var entries []*models.RequirementChangeLog
	for i := range before {
		entries = append(entries, fieldChanges(ctx, &before[i], patch)...)
	}
	s.recorder.Record(ctx, entries...)
	return n, nil
}

func (s *requirementService) Link(ctx context.Context, parentID, childID string) error {
	if parentID == childID {
		return appErr.Invalid("a requirement cannot be linked to itself")
	}
	if err := s.rel.requireExisting(ctx, []string{parentID, childID}); err != nil {
		return err
	}
	if err := s.rel.link(ctx, parentID, childID); err != nil {
		return err
	}
	logger.FromContext(ctx).Info("requirements linked", zap.String("parent_id", parentID), zap.String("child_id", childID))
	s.recorder.Record(ctx, relationEntry(ctx, models.ChangeRelationshipAdded, parentID, childID)...)
	return nil
}

func (s *requirementService) Unlink(ctx context.Context, parentID, childID string) error {
	var parent models.Requirement
	existed := false
	if err := s.store.Requirements.GetByID(ctx, parentID, &parent); err == nil {
		existed = models.Contains(parent.ChildIDs, childID)
	} else if !appErr.IsCode(err, appErr.CodeNotFound) {
		return err
	}
	if err := s.rel.unlink(ctx, parentID, childID); err != nil {
		return err
	}
	logger.FromContext(ctx).Info("requirements unlinked", zap.String("parent_id", parentID), zap.String("child_id", childID))
	if existed {
		s.recorder.Record(ctx, relationEntry(ctx, models.ChangeRelationshipRemoved, parentID, childID)...)
	}
	return nil
}

func (s *requirementService) Search(ctx context.Context, query, projectID string) ([]models.Requirement, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, appErr.Invalid("search query is required")
	}
	return s.store.Requirements.Search(ctx, query, projectID, repository.SearchLimit)
}

func (s *requirementService) History(ctx context.Context, id string) ([]models.RequirementChangeLog, error) {
	return s.store.ChangeLogs.ListByRequirement(ctx, id, repository.ListLimit)
}

// relationEntry records an edge change on both endpoints.
func relationEntry(ctx context.Context, ct models.ChangeType, parentID, childID string) []*models.RequirementChangeLog {
	verb := "added"
	if ct == models.ChangeRelationshipRemoved {
		verb = "removed"
	}
	actor := ActorFrom(ctx)
	return []*models.RequirementChangeLog{
		models.NewChangeLog(parentID, ct, fmt.Sprintf("Child %s %s", childID, verb), actor).WithField("child_ids", "", childID),
		models.NewChangeLog(childID, ct, fmt.Sprintf("Parent %s %s", parentID, verb), actor).WithField("parent_ids", "", parentID),
	}
}

// fieldChanges builds one entry per field the patch actually changes.
func fieldChanges(ctx context.Context, before *models.Requirement, p repository.RequirementPatch) []*models.RequirementChangeLog {
	actor := ActorFrom(ctx)
	var out []*models.RequirementChangeLog
	add := func(ct models.ChangeType, field, oldV, newV string) {
		if oldV == newV {
			return
		}
		desc := fmt.Sprintf("%s changed", field)
		if ct == models.ChangeStatusChanged {
			desc = fmt.Sprintf("Status changed from %s to %s", oldV, newV)
		}
		out = append(out, models.NewChangeLog(before.ID, ct, desc, actor).WithField(field, oldV, newV))
	}
	if p.Title != nil {
		add(models.ChangeUpdated, "title", before.Title, *p.Title)
	}
	if p.Text != nil {
		add(models.ChangeUpdated, "text", before.Text, *p.Text)
	}
	if p.Status != nil {
		add(models.ChangeStatusChanged, "status", string(before.Status), string(*p.Status))
	}
	if p.VerificationMethods != nil {
		add(models.ChangeUpdated, "verification_methods",
			joinMethods(before.VerificationMethods), joinMethods(models.UniqueMethods(*p.VerificationMethods)))
	}
	if p.GroupID != nil {
		add(models.ChangeUpdated, "group_id", before.GroupID, *p.GroupID)
	}
	if p.ChapterID != nil {
		old := ""
		if before.ChapterID != nil {
			old = *before.ChapterID
		}
		add(models.ChangeUpdated, "chapter_id", old, *p.ChapterID)
	}
	return out
}

func joinMethods(ms []models.VerificationMethod) string {
	parts := make([]string, len(ms))
	for i, m := range ms {
		parts[i] = string(m)
	}
	return strings.Join(parts, ", ")
}
