package http

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// ListResponse is the envelope for unpaginated collections.
type ListResponse[T any] struct {
	Data  []T `json:"data"`
	Count int `json:"count"`
}

// NotificationListResponse is one page of notifications. Watermark is the
// highest sequence the caller can see; clients seed stream dedup with it.
type NotificationListResponse[T any] struct {
	Data      []T   `json:"data"`
	Count     int   `json:"count"`
	Limit     int   `json:"limit"`
	Offset    int   `json:"offset"`
	Watermark int64 `json:"watermark"`
}

// WriteJSON encodes before touching the status line, so an unencodable
// value becomes a 500 instead of a truncated 200.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		slog.Error("encode response", "error", err)
		status = http.StatusInternalServerError
		body = []byte(`{"error":{"code":"INTERNAL_ERROR","message":"An unexpected error occurred"}}`)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(append(body, '\n'))
}

func WriteCreated(w http.ResponseWriter, v any) { WriteJSON(w, http.StatusCreated, v) }

func WriteNoContent(w http.ResponseWriter) { w.WriteHeader(http.StatusNoContent) }

// WriteList never emits "data": null.
func WriteList[T any](w http.ResponseWriter, items []T) {
	if items == nil {
		items = []T{}
	}
	WriteJSON(w, http.StatusOK, ListResponse[T]{Data: items, Count: len(items)})
}
