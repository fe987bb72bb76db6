package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/reqtrace/engine/internal/api/types"
	"github.com/reqtrace/engine/internal/services"
	appErr "github.com/reqtrace/engine/pkg/errors"
)

// HierarchyHandler serves projects, groups and chapters.
type HierarchyHandler struct {
	svc      services.HierarchyService
	validate Validator
}

func NewHierarchyHandler(svc services.HierarchyService, v Validator) *HierarchyHandler {
	return &HierarchyHandler{svc: svc, validate: v}
}

// Routes mounts the handler under /projects, /groups and /chapters.
func (h *HierarchyHandler) Routes(r chi.Router) {
	r.Route("/projects", func(pr chi.Router) {
		pr.Post("/", h.CreateProject)
		pr.Get("/", h.ListProjects)
		pr.Get("/active", h.ActiveProject)
		pr.Put("/{id}/activate", h.ActivateProject)
		pr.Delete("/{id}", h.DeleteProject)
	})
	r.Route("/groups", func(gr chi.Router) {
		gr.Post("/", h.CreateGroup)
		gr.Get("/", h.ListGroups)
		gr.Get("/active", h.ActiveGroup)
		gr.Put("/{id}/activate", h.ActivateGroup)
		gr.Put("/{id}/reorder", h.ReorderGroup)
		gr.Delete("/{id}", h.DeleteGroup)
	})
	r.Route("/chapters", func(cr chi.Router) {
		cr.Post("/", h.CreateChapter)
		cr.Get("/", h.ListChapters)
		cr.Put("/{id}/reorder", h.ReorderChapter)
		cr.Delete("/{id}", h.DeleteChapter)
	})
}

func (h *HierarchyHandler) CreateProject(w http.ResponseWriter, r *http.Request) {
	var req types.ProjectCreateRequest
	if err := decode(r, h.validate, &req); err != nil {
		writeError(w, r, err)
		return
	}
	p, err := h.svc.CreateProject(r.Context(), &services.CreateProjectInput{Name: req.Name, Description: req.Description})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, r, http.StatusCreated, p)
}

func (h *HierarchyHandler) ListProjects(w http.ResponseWriter, r *http.Request) {
	items, err := h.svc.ListProjects(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeList(w, r, items)
}

func (h *HierarchyHandler) ActiveProject(w http.ResponseWriter, r *http.Request) {
	p, err := h.svc.GetActiveProject(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, p)
}

func (h *HierarchyHandler) ActivateProject(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	p, err := h.svc.ActivateProject(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, p)
}

func (h *HierarchyHandler) DeleteProject(w http.ResponseWriter, r *http.Request) {
	h.cascade(w, r, h.svc.DeleteProject)
}

func (h *HierarchyHandler) CreateGroup(w http.ResponseWriter, r *http.Request) {
	var req types.GroupCreateRequest
	if err := decode(r, h.validate, &req); err != nil {
		writeError(w, r, err)
		return
	}
	g, err := h.svc.CreateGroup(r.Context(), &services.CreateGroupInput{
		Name:        req.Name,
		Description: req.Description,
		ProjectID:   req.ProjectID,
		ParentID:    req.ParentID,
		Order:       req.Order,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, r, http.StatusCreated, g)
}

func (h *HierarchyHandler) ListGroups(w http.ResponseWriter, r *http.Request) {
	items, err := h.svc.ListGroups(r.Context(), r.URL.Query().Get("project_id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeList(w, r, items)
}

func (h *HierarchyHandler) ActiveGroup(w http.ResponseWriter, r *http.Request) {
	g, err := h.svc.GetActiveGroup(r.Context(), r.URL.Query().Get("project_id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, g)
}

func (h *HierarchyHandler) ActivateGroup(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	g, err := h.svc.ActivateGroup(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, g)
}

func (h *HierarchyHandler) ReorderGroup(w http.ResponseWriter, r *http.Request) {
	id, in, err := reorderInput(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	g, err := h.svc.ReorderGroup(r.Context(), id, in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, g)
}

func (h *HierarchyHandler) DeleteGroup(w http.ResponseWriter, r *http.Request) {
	h.cascade(w, r, h.svc.DeleteGroup)
}

func (h *HierarchyHandler) CreateChapter(w http.ResponseWriter, r *http.Request) {
	var req types.ChapterCreateRequest
	if err := decode(r, h.validate, &req); err != nil {
		writeError(w, r, err)
		return
	}
	c, err := h.svc.CreateChapter(r.Context(), &services.CreateChapterInput{
		Name:        req.Name,
		Description: req.Description,
		GroupID:     req.GroupID,
		ParentID:    req.ParentID,
		Order:       req.Order,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, r, http.StatusCreated, c)
}

func (h *HierarchyHandler) ListChapters(w http.ResponseWriter, r *http.Request) {
	items, err := h.svc.ListChapters(r.Context(), r.URL.Query().Get("group_id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeList(w, r, items)
}

func (h *HierarchyHandler) ReorderChapter(w http.ResponseWriter, r *http.Request) {
	id, in, err := reorderInput(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	c, err := h.svc.ReorderChapter(r.Context(), id, in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, c)
}

func (h *HierarchyHandler) DeleteChapter(w http.ResponseWriter, r *http.Request) {
	h.cascade(w, r, h.svc.DeleteChapter)
}

func (h *HierarchyHandler) cascade(w http.ResponseWriter, r *http.Request, del func(context.Context, string) (*services.CascadeResult, error)) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	res, err := del(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, res)
}

// reorderInput reads new_order and the optional new_parent_id. An empty
// new_parent_id detaches the node.
func reorderInput(r *http.Request) (string, *services.ReorderInput, error) {
	id, err := pathID(r, "id")
	if err != nil {
		return "", nil, err
	}
	q := r.URL.Query()
	raw := q.Get("new_order")
	if raw == "" {
		return "", nil, appErr.Invalid("new_order is required")
	}
	order, err := strconv.Atoi(raw)
	if err != nil {
		return "", nil, appErr.Invalid("new_order must be an integer")
	}
	in := &services.ReorderInput{Order: order}
	if q.Has("new_parent_id") {
		parent := q.Get("new_parent_id")
		in.ParentID = &parent
	}
	return id, in, nil
}
