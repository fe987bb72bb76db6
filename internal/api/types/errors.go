package types

import (
	"context"
	"errors"
	"net/http"

	appErr "github.com/reqtrace/engine/pkg/errors"
)

// FromAppError converts err into the wire error. Errors that are not an
// AppError are reported as internal without leaking their text.
func FromAppError(err error) *APIError {
	if err == nil {
		return nil
	}
	var e *appErr.AppError
	if errors.As(err, &e) {
		out := &APIError{Code: string(e.Code), Message: e.Message}
		if id, ok := e.Meta["id"].(string); ok {
			out.Details = id
		}
		return out
	}
	return &APIError{Code: string(appErr.CodeInternal), Message: "internal error"}
}

// StatusFor maps an error code to its HTTP status.
func StatusFor(err error) int {
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	switch appErr.CodeOf(err) {
	case appErr.CodeInvalid:
		return http.StatusBadRequest
	case appErr.CodeNotFound:
		return http.StatusNotFound
	case appErr.CodeConflict:
		return http.StatusConflict
	case appErr.CodeUnavailable:
		return http.StatusServiceUnavailable
	case appErr.CodeDeadline:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
