package http

import (
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	apperrors "github.com/lorrc/marketplace-realtime/internal/core/errors"
	"github.com/lorrc/marketplace-realtime/internal/core/ports"
)

// UploadHandler serves stored chat images when the store has no public URL.
// Only participants of the owning chat may read an image.
type UploadHandler struct {
	images       ports.ImageStore
	chats        ports.ChatService
	errorHandler *ErrorHandler
	logger       *slog.Logger
}

// NewUploadHandler creates a new UploadHandler.
func NewUploadHandler(
	images ports.ImageStore,
	chats ports.ChatService,
	errorHandler *ErrorHandler,
	logger *slog.Logger,
) *UploadHandler {
	return &UploadHandler{
		images:       images,
		chats:        chats,
		errorHandler: errorHandler,
		logger:       logger.With("handler", "upload"),
	}
}

// RegisterRoutes registers the /uploads routes.
func (h *UploadHandler) RegisterRoutes(r chi.Router) {
	r.Get("/*", h.HandleGet)
}

// HandleGet handles GET /uploads/{key...}
func (h *UploadHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireClaims(w, r)
	if !ok {
		return
	}

	key := strings.TrimPrefix(chi.URLParam(r, "*"), "/")
	chatID, ok := chatIDFromKey(key)
	if !ok {
		h.errorHandler.Handle(w, r, apperrors.ErrNotFound)
		return
	}
	if _, err := h.chats.EnsureParticipant(r.Context(), claims.UserID, chatID); err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}

	obj, body, err := h.images.Get(r.Context(), key)
	if err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}
	defer func() { _ = body.Close() }()

	if obj.ContentType != "" {
		w.Header().Set("Content-Type", obj.ContentType)
	}
	if obj.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(obj.Size, 10))
	}
	w.Header().Set("Cache-Control", "private, max-age=86400, immutable")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, body); err != nil {
		h.logger.Warn("failed to stream upload", "key", key, "error", err)
	}
}

// chatIDFromKey extracts the chat id from keys shaped chats/<chatID>/<name>.
func chatIDFromKey(key string) (uuid.UUID, bool) {
	parts := strings.SplitN(key, "/", 3)
	if len(parts) != 3 || parts[0] != "chats" || parts[2] == "" {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(parts[1])
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}
