package handlers

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/reqtrace/engine/internal/api/types"
	"github.com/reqtrace/engine/internal/models"
	"github.com/reqtrace/engine/internal/services"
	appErr "github.com/reqtrace/engine/pkg/errors"
)

type RequirementsHandler struct {
	svc      services.RequirementService
	validate Validator
}

func NewRequirementsHandler(svc services.RequirementService, v Validator) *RequirementsHandler {
	return &RequirementsHandler{svc: svc, validate: v}
}

// Routes mounts the handler under /requirements. Static segments are
// registered alongside /{id}; chi prefers them.
func (h *RequirementsHandler) Routes(r chi.Router) {
	r.Route("/requirements", func(rr chi.Router) {
		rr.Post("/", h.Create)
		rr.Get("/", h.List)
		rr.Get("/search", h.Search)
		rr.Put("/batch", h.BatchUpdate)
		rr.Post("/relationships", h.Link)
		rr.Delete("/relationships/{parent_id}/{child_id}", h.Unlink)
		rr.Get("/{id}", h.Get)
		rr.Put("/{id}", h.Update)
		rr.Delete("/{id}", h.Delete)
		rr.Get("/{id}/history", h.History)
	})
}

func (h *RequirementsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req types.RequirementCreateRequest
	if err := decode(r, h.validate, &req); err != nil {
		writeError(w, r, err)
		return
	}
	out, err := h.svc.Create(r.Context(), &services.CreateRequirementInput{
		Title:               req.Title,
		Text:                req.Text,
		Status:              req.Status,
		VerificationMethods: req.VerificationMethods,
		ProjectID:           req.ProjectID,
		GroupID:             req.GroupID,
		ChapterID:           req.ChapterID,
		ParentIDs:           req.ParentIDs,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, r, http.StatusCreated, out)
}

func (h *RequirementsHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := &services.RequirementQuery{
		ProjectID: q.Get("project_id"),
		GroupID:   q.Get("group_id"),
		ChapterID: q.Get("chapter_id"),
	}
	if s := q.Get("status"); s != "" {
		status, err := models.ParseStatus(s)
		if err != nil {
			writeError(w, r, appErr.Invalid("%s", err.Error()))
			return
		}
		query.Status = status
	}
	items, err := h.svc.List(r.Context(), query)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeList(w, r, items)
}

func (h *RequirementsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	out, err := h.svc.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, out)
}

func (h *RequirementsHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req types.RequirementUpdateRequest
	if err := decode(r, h.validate, &req); err != nil {
		writeError(w, r, err)
		return
	}
	out, err := h.svc.Update(r.Context(), id, &services.UpdateRequirementInput{
		Title:               req.Title,
		Text:                req.Text,
		Status:              req.Status,
		VerificationMethods: req.VerificationMethods,
		GroupID:             req.GroupID,
		ChapterID:           req.ChapterID,
		ParentIDs:           req.ParentIDs,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, out)
}

func (h *RequirementsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.svc.Delete(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, types.Message{Message: "Requirement deleted"})
}

func (h *RequirementsHandler) BatchUpdate(w http.ResponseWriter, r *http.Request) {
	var req types.BatchUpdateRequest
	if err := decode(r, h.validate, &req); err != nil {
		writeError(w, r, err)
		return
	}
	fields, err := services.ParseBatchFields(req.UpdateData)
	if err != nil {
		writeError(w, r, err)
		return
	}
	n, err := h.svc.BatchUpdate(r.Context(), req.RequirementIDs, fields)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, types.BatchResult{Message: fmt.Sprintf("Updated %d requirements", n), Matched: n})
}

func (h *RequirementsHandler) Link(w http.ResponseWriter, r *http.Request) {
	var req types.RelationshipRequest
	if err := decode(r, h.validate, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.svc.Link(r.Context(), req.ParentID, req.ChildID); err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, r, http.StatusCreated, types.Message{Message: "Relationship created"})
}

func (h *RequirementsHandler) Unlink(w http.ResponseWriter, r *http.Request) {
	parentID, err := pathID(r, "parent_id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	childID, err := pathID(r, "child_id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.svc.Unlink(r.Context(), parentID, childID); err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, types.Message{Message: "Relationship deleted"})
}

func (h *RequirementsHandler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	items, err := h.svc.Search(r.Context(), q.Get("q"), q.Get("project_id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeList(w, r, items)
}

func (h *RequirementsHandler) History(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	items, err := h.svc.History(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeList(w, r, items)
}
