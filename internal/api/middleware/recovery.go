package middleware

import (
	"encoding/json"
	"net/http"
	"runtime/debug"

	"github.com/reqtrace/engine/internal/api/types"
	appErr "github.com/reqtrace/engine/pkg/errors"
	"github.com/reqtrace/engine/pkg/logger"
	"go.uber.org/zap"
)

// Recovery logs panics and returns 500 in the standard envelope.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				logger.FromContext(r.Context()).Error("panic recovered", zap.Any("panic", rec), zap.ByteString("stack", debug.Stack()))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusInternalServerError)
				_ = json.NewEncoder(w).Encode(types.APIResponse{
					Success: false,
					Error:   &types.APIError{Code: string(appErr.CodeInternal), Message: "internal error"},
				})
			}
		}()
		next.ServeHTTP(w, r)
	})
}
