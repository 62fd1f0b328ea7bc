package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	mw "github.com/lorrc/marketplace-realtime/internal/adapters/primary/http/middleware"
	apperrors "github.com/lorrc/marketplace-realtime/internal/core/errors"
)

// GetRequestID retrieves the request ID from context
func GetRequestID(ctx context.Context) string {
	return mw.GetRequestID(ctx)
}

// ErrorHandler provides centralized error handling with logging
type ErrorHandler struct {
	logger *slog.Logger
}

// NewErrorHandler creates a new error handler with the given logger
func NewErrorHandler(logger *slog.Logger) *ErrorHandler {
	return &ErrorHandler{logger: logger.With("component", "error_handler")}
}

// Handle processes an error and writes the nested error envelope.
func (h *ErrorHandler) Handle(w http.ResponseWriter, r *http.Request, err error) {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		h.logError(r, appErr.StatusCode, err)
		mw.WriteError(w, r, appErr.StatusCode, mw.ErrorBody{
			Code:    appErr.Code,
			Message: appErr.Message,
			Details: appErr.Details,
		})
		return
	}

	var validationErrs *apperrors.ValidationErrors
	if errors.As(err, &validationErrs) {
		h.logError(r, http.StatusUnprocessableEntity, err)
		fields := make(map[string]any, len(validationErrs.Errors))
		for field, msgs := range validationErrs.Errors {
			fields[field] = msgs
		}
		mw.WriteError(w, r, http.StatusUnprocessableEntity, mw.ErrorBody{
			Code:    "VALIDATION_ERROR",
			Message: "Validation failed",
			Details: map[string]any{"fields": fields},
		})
		return
	}

	// A body cut off by http.MaxBytesReader
	var maxBytesErr *http.MaxBytesError
	if errors.As(err, &maxBytesErr) {
		err = errors.Join(apperrors.ErrImageTooLarge, err)
	}

	status, body := mapDomainError(err)
	h.logError(r, status, err)
	mw.WriteError(w, r, status, body)
}

// kindStatus maps domain error kinds to HTTP status codes.
var kindStatus = map[apperrors.Kind]int{
	apperrors.KindInvalid:          http.StatusBadRequest,
	apperrors.KindUnauthorized:     http.StatusUnauthorized,
	apperrors.KindForbidden:        http.StatusForbidden,
	apperrors.KindNotFound:         http.StatusNotFound,
	apperrors.KindConflict:         http.StatusConflict,
	apperrors.KindTooLarge:         http.StatusRequestEntityTooLarge,
	apperrors.KindUnsupportedMedia: http.StatusUnsupportedMediaType,
	apperrors.KindRateLimited:      http.StatusTooManyRequests,
}

// mapDomainError converts domain errors to HTTP status codes and bodies.
// Anything unrecognised is a 500 with a generic message.
func mapDomainError(err error) (int, mw.ErrorBody) {
	e := apperrors.Describe(err)
	status, ok := kindStatus[e.Kind()]
	if !ok {
		status = http.StatusInternalServerError
	}
	return status, mw.ErrorBody{Code: e.Code(), Message: e.Public()}
}

// logError logs server faults at error level and client mistakes at debug;
// the access log already records the status of every request.
func (h *ErrorHandler) logError(r *http.Request, statusCode int, err error) {
	level, msg := slog.LevelDebug, "client error"
	if statusCode >= http.StatusInternalServerError {
		level, msg = slog.LevelError, "server error"
	}
	h.logger.Log(r.Context(), level, msg,
		"request_id", GetRequestID(r.Context()),
		"method", r.Method,
		"path", r.URL.Path,
		"status_code", statusCode,
		"error", err.Error(),
	)
}
