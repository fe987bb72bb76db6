package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/reqtrace/engine/internal/api/middleware"
	"github.com/reqtrace/engine/internal/api/types"
	"github.com/reqtrace/engine/internal/api/validators"
	appErr "github.com/reqtrace/engine/pkg/errors"
	"github.com/reqtrace/engine/pkg/logger"
	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 20

// Validator is the subset of *validator.Validate the handlers use.
type Validator interface {
	Struct(any) error
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeData(w http.ResponseWriter, r *http.Request, status int, data any) {
	writeJSON(w, status, types.APIResponse{Success: true, Data: data, Meta: meta(r)})
}

func writeList[T any](w http.ResponseWriter, r *http.Request, items []T) {
	if items == nil {
		items = []T{}
	}
	m := meta(r)
	m.Total = int64(len(items))
	writeJSON(w, http.StatusOK, types.APIResponse{Success: true, Data: items, Meta: m})
}

func meta(r *http.Request) *types.Meta {
	return &types.Meta{RequestID: middleware.GetRequestID(r.Context())}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := types.StatusFor(err)
	if status >= http.StatusInternalServerError {
		logger.FromContext(r.Context()).Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
	}
	writeJSON(w, status, types.APIResponse{Success: false, Error: types.FromAppError(err), Meta: meta(r)})
}

// decode reads a JSON body into dst and validates it.
func decode(r *http.Request, v Validator, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return appErr.Invalid("request body is required")
		}
		return appErr.Wrap(err, appErr.CodeInvalid, "invalid json: "+err.Error())
	}
	if err := v.Struct(dst); err != nil {
		return appErr.Wrap(err, appErr.CodeInvalid, validators.Describe(err))
	}
	return nil
}

func pathID(r *http.Request, name string) (string, error) {
	id := strings.TrimSpace(chi.URLParam(r, name))
	if id == "" {
		return "", appErr.Invalid("%s is required", name)
	}
	return id, nil
}
