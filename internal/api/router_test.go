package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/reqtrace/engine/internal/api/handlers"
	"github.com/reqtrace/engine/internal/api/validators"
	"github.com/reqtrace/engine/internal/repository/memstore"
	"github.com/reqtrace/engine/internal/services"
	"github.com/reqtrace/engine/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestMain(m *testing.M) {
	logger.Replace(zap.NewNop())
	os.Exit(m.Run())
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	Meta *struct {
		RequestID string `json:"request_id"`
		Total     int64  `json:"total"`
	} `json:"meta"`
}

type client struct {
	t *testing.T
	h http.Handler
}

func newClient(t *testing.T) *client {
	store := memstore.New()
	v := validators.New()
	rec := services.NewStoreRecorder(store.ChangeLogs)
	h := NewRouter(Dependencies{
		HealthHandler:       handlers.NewHealthHandler(store, time.Second),
		HierarchyHandler:    handlers.NewHierarchyHandler(services.NewHierarchyService(store, services.HierarchyOptions{}), v),
		RequirementsHandler: handlers.NewRequirementsHandler(services.NewRequirementService(store, rec), v),
		DashboardHandler:    handlers.NewDashboardHandler(services.NewStatsService(store.Requirements)),
		AllowedOrigins:      []string{"*"},
		RequestTimeout:      5 * time.Second,
	})
	return &client{t: t, h: h}
}

func (c *client) do(method, path string, body any, headers ...string) (int, envelope) {
	c.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else {
			require.NoError(c.t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rr := httptest.NewRecorder()
	c.h.ServeHTTP(rr, req)
	var env envelope
	require.NoError(c.t, json.Unmarshal(rr.Body.Bytes(), &env), rr.Body.String())
	return rr.Code, env
}

func (c *client) create(path string, body any, dest any) {
	c.t.Helper()
	code, env := c.do(http.MethodPost, path, body)
	require.Equal(c.t, http.StatusCreated, code, string(env.Data))
	require.NoError(c.t, json.Unmarshal(env.Data, dest))
}

type entity struct {
	ID        string   `json:"id"`
	ReqID     string   `json:"req_id"`
	Status    string   `json:"status"`
	ParentIDs []string `json:"parent_ids"`
	ChildIDs  []string `json:"child_ids"`
	ParentID  *string  `json:"parent_id"`
	Order     int      `json:"order"`
	IsActive  bool     `json:"is_active"`
	CreatedBy *string  `json:"created_by"`
}

func (c *client) seed() (project, group, chapter entity) {
	c.create("/api/v1/projects", map[string]any{"name": "Brakes"}, &project)
	c.create("/api/v1/groups", map[string]any{"name": "System", "project_id": project.ID}, &group)
	c.create("/api/v1/chapters", map[string]any{"name": "Intro", "group_id": group.ID}, &chapter)
	return
}

func TestProjectLifecycle(t *testing.T) {
	c := newClient(t)

	code, env := c.do(http.MethodGet, "/api/v1/projects/active", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "null", string(env.Data))

	var a, b entity
	c.create("/api/v1/projects", map[string]any{"name": "A"}, &a)
	c.create("/api/v1/projects", map[string]any{"name": "B", "description": "second"}, &b)
	assert.True(t, b.IsActive)

	code, env = c.do(http.MethodPut, "/api/v1/projects/"+a.ID+"/activate", nil)
	require.Equal(t, http.StatusOK, code)
	var active entity
	require.NoError(t, json.Unmarshal(env.Data, &active))
	assert.True(t, active.IsActive)

	code, env = c.do(http.MethodGet, "/api/v1/projects", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, int64(2), env.Meta.Total)
	assert.NotEmpty(t, env.Meta.RequestID)

	code, env = c.do(http.MethodPut, "/api/v1/projects/missing/activate", nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "not_found", env.Error.Code)
	assert.Equal(t, "Project not found", env.Error.Message)

	code, _ = c.do(http.MethodDelete, "/api/v1/projects/"+a.ID, nil)
	assert.Equal(t, http.StatusOK, code)
	code, _ = c.do(http.MethodDelete, "/api/v1/projects/"+a.ID, nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestCreateValidation(t *testing.T) {
	c := newClient(t)

	code, env := c.do(http.MethodPost, "/api/v1/projects", map[string]any{"name": ""})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "invalid", env.Error.Code)

	code, _ = c.do(http.MethodPost, "/api/v1/projects", `{"name":`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = c.do(http.MethodPost, "/api/v1/projects", map[string]any{"name": "x", "cloud": "aws"})
	assert.Equal(t, http.StatusBadRequest, code, "unknown fields are rejected")

	code, _ = c.do(http.MethodPost, "/api/v1/groups", map[string]any{"name": "g", "project_id": "missing"})
	assert.Equal(t, http.StatusNotFound, code)
}

func TestReorderEndpoint(t *testing.T) {
	c := newClient(t)
	project, group, _ := c.seed()
	var child entity
	c.create("/api/v1/groups", map[string]any{"name": "child", "project_id": project.ID, "parent_id": group.ID}, &child)

	code, env := c.do(http.MethodPut, "/api/v1/groups/"+child.ID+"/reorder?new_order=4", nil)
	require.Equal(t, http.StatusOK, code)
	var got entity
	require.NoError(t, json.Unmarshal(env.Data, &got))
	assert.Equal(t, 4, got.Order)
	require.NotNil(t, got.ParentID)

	code, env = c.do(http.MethodPut, "/api/v1/groups/"+child.ID+"/reorder?new_order=1&new_parent_id=", nil)
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(env.Data, &got))
	assert.Nil(t, got.ParentID)

	code, _ = c.do(http.MethodPut, "/api/v1/groups/"+child.ID+"/reorder?new_order=abc", nil)
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = c.do(http.MethodPut, "/api/v1/groups/missing/reorder?new_order=1", nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestRequirementFlow(t *testing.T) {
	c := newClient(t)
	project, group, chapter := c.seed()

	var parent, child entity
	c.create("/api/v1/requirements", map[string]any{
		"title": "Stop within 40m", "text": "At 100 km/h", "project_id": project.ID,
		"group_id": group.ID, "chapter_id": chapter.ID, "verification_methods": []string{"Test"},
	}, &parent)
	assert.Equal(t, "REQ-001", parent.ReqID)
	assert.Equal(t, "Draft", parent.Status)

	code, env := c.do(http.MethodPost, "/api/v1/requirements", map[string]any{
		"title": "ABS", "text": "Anti-lock", "status": "in_review",
		"project_id": project.ID, "group_id": group.ID, "parent_ids": []string{parent.ID},
	}, "X-Actor", "morgan")
	require.Equal(t, http.StatusCreated, code)
	require.NoError(t, json.Unmarshal(env.Data, &child))
	assert.Equal(t, "In Review", child.Status)
	require.NotNil(t, child.CreatedBy)
	assert.Equal(t, "morgan", *child.CreatedBy)

	code, env = c.do(http.MethodGet, "/api/v1/requirements/"+parent.ID, nil)
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(env.Data, &parent))
	assert.Equal(t, []string{child.ID}, parent.ChildIDs)

	code, _ = c.do(http.MethodDelete, "/api/v1/requirements/relationships/"+parent.ID+"/"+child.ID, nil)
	require.Equal(t, http.StatusOK, code)
	code, _ = c.do(http.MethodPost, "/api/v1/requirements/relationships", map[string]any{"parent_id": parent.ID, "child_id": child.ID})
	require.Equal(t, http.StatusCreated, code)
	code, _ = c.do(http.MethodPost, "/api/v1/requirements/relationships", map[string]any{"parent_id": parent.ID, "child_id": "ghost"})
	assert.Equal(t, http.StatusNotFound, code)

	code, env = c.do(http.MethodGet, "/api/v1/requirements/search?q=abs&project_id="+project.ID, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, int64(1), env.Meta.Total)
	code, _ = c.do(http.MethodGet, "/api/v1/requirements/search?q=", nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code, env = c.do(http.MethodGet, "/api/v1/requirements?project_id="+project.ID+"&status=In%20Review", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, int64(1), env.Meta.Total)
	code, _ = c.do(http.MethodGet, "/api/v1/requirements?status=done", nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code, env = c.do(http.MethodPut, "/api/v1/requirements/"+child.ID, map[string]any{"status": "Accepted", "parent_ids": []string{}})
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(env.Data, &child))
	assert.Equal(t, "Accepted", child.Status)
	assert.Empty(t, child.ParentIDs)

	code, env = c.do(http.MethodGet, "/api/v1/requirements/"+child.ID+"/history", nil)
	require.Equal(t, http.StatusOK, code)
	assert.GreaterOrEqual(t, env.Meta.Total, int64(3))

	code, _ = c.do(http.MethodDelete, "/api/v1/requirements/"+child.ID, nil)
	require.Equal(t, http.StatusOK, code)
	code, _ = c.do(http.MethodGet, "/api/v1/requirements/"+child.ID, nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestBatchUpdateEndpoint(t *testing.T) {
	c := newClient(t)
	project, group, _ := c.seed()
	var a, b entity
	c.create("/api/v1/requirements", map[string]any{"title": "a", "project_id": project.ID, "group_id": group.ID}, &a)
	c.create("/api/v1/requirements", map[string]any{"title": "b", "project_id": project.ID, "group_id": group.ID}, &b)

	code, env := c.do(http.MethodPut, "/api/v1/requirements/batch", map[string]any{
		"requirement_ids": []string{a.ID, b.ID},
		"update_data":     map[string]any{"status": "Tested"},
	})
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(env.Data), `"matched":2`)

	code, env = c.do(http.MethodPut, "/api/v1/requirements/batch", map[string]any{
		"requirement_ids": []string{a.ID},
		"update_data":     map[string]any{"parent_ids": []string{b.ID}},
	})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, env.Error.Message, "parent_ids")

	code, _ = c.do(http.MethodPut, "/api/v1/requirements/batch", map[string]any{
		"requirement_ids": []string{},
		"update_data":     map[string]any{"status": "Tested"},
	})
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestDashboardEndpoint(t *testing.T) {
	c := newClient(t)
	project, group, _ := c.seed()
	var r entity
	c.create("/api/v1/requirements", map[string]any{"title": "a", "project_id": project.ID, "group_id": group.ID}, &r)

	code, env := c.do(http.MethodGet, "/api/v1/dashboard/stats?project_id="+project.ID, nil)
	require.Equal(t, http.StatusOK, code)
	var stats struct {
		Total    int64              `json:"total_requirements"`
		Statuses map[string]float64 `json:"status_percentages"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &stats))
	assert.Equal(t, int64(1), stats.Total)
	assert.Equal(t, 100.0, stats.Statuses["Draft"])
	assert.Contains(t, stats.Statuses, "In Review")

	code, _ = c.do(http.MethodGet, "/api/v1/dashboard/stats", nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestOpsEndpoints(t *testing.T) {
	c := newClient(t)
	code, _ := c.do(http.MethodGet, "/readyz", nil)
	assert.Equal(t, http.StatusOK, code)

	rr := httptest.NewRecorder()
	c.h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "reqtrace_http_requests_total")
}
