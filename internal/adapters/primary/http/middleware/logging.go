package middleware

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/lorrc/marketplace-realtime/internal/infrastructure/logging"
)

// wrap returns a writer that records status and size while still exposing
// Flusher and Hijacker to SSE and websocket handlers.
func wrap(w http.ResponseWriter, r *http.Request) chimw.WrapResponseWriter {
	return chimw.NewWrapResponseWriter(w, r.ProtoMajor)
}

// statusOf reports the status a wrapped writer sent. Hijacked upgrades never
// write through the wrapper, so they count as 101.
func statusOf(ww chimw.WrapResponseWriter, r *http.Request) int {
	if s := ww.Status(); s != 0 {
		return s
	}
	if isUpgrade(r) {
		return http.StatusSwitchingProtocols
	}
	return http.StatusOK
}

func isUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}

func isEventStream(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "text/event-stream")
}

// RequestLogger writes one access line per request. Long-lived SSE and
// websocket requests also get a line when they open, since their access
// line only appears once the client goes away.
func RequestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ctx := r.Context()
			streaming := isUpgrade(r) || isEventStream(r)
			if streaming {
				logger.InfoContext(ctx, "stream opened",
					"method", r.Method,
					"path", r.URL.Path,
					"client_ip", getClientIP(r),
				)
			}

			ww := wrap(w, r)
			next.ServeHTTP(ww, r)

			status := statusOf(ww, r)
			attrs := []any{
				"method", r.Method,
				"path", r.URL.Path,
				"status", status,
				"duration_ms", time.Since(start).Milliseconds(),
				"bytes", ww.BytesWritten(),
				"client_ip", getClientIP(r),
			}
			if claims, ok := GetClaims(r.Context()); ok {
				attrs = append(attrs, "user_id", claims.UserID.String())
			}
			if r.URL.RawQuery != "" {
				attrs = append(attrs, "query", r.URL.RawQuery)
			}
			if streaming {
				attrs = append(attrs, "stream", true)
			}

			level := slog.LevelInfo
			switch {
			case status >= 500:
				level = slog.LevelError
			case status >= 400:
				level = slog.LevelWarn
			}
			logger.Log(ctx, level, "http request", attrs...)
		})
	}
}

// RecoveryLogger turns a handler panic into a logged 500 with the standard
// error body. http.ErrAbortHandler is re-raised.
func RecoveryLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				logging.LogPanic(logger.With(
					"request_id", GetRequestID(r.Context()),
					"method", r.Method,
					"path", r.URL.Path,
				), rec)
				WriteError(w, r, http.StatusInternalServerError, ErrorBody{
					Code:    "INTERNAL_ERROR",
					Message: "Internal server error",
				})
			}()
			next.ServeHTTP(w, r)
		})
	}
}
