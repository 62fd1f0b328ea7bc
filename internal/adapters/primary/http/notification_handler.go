package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/lorrc/marketplace-realtime/internal/adapters/primary/validation"
	"github.com/lorrc/marketplace-realtime/internal/core/domain"
	"github.com/lorrc/marketplace-realtime/internal/core/ports"
)

const (
	maxNotificationsPerPage = 100
	maxReadManyIDs          = 500
)

// NotificationHandler handles HTTP requests for the caller's notifications.
type NotificationHandler struct {
	notifications ports.NotificationService
	errorHandler  *ErrorHandler
	logger        *slog.Logger
}

// NewNotificationHandler creates a new NotificationHandler.
func NewNotificationHandler(
	notifications ports.NotificationService,
	errorHandler *ErrorHandler,
	logger *slog.Logger,
) *NotificationHandler {
	return &NotificationHandler{
		notifications: notifications,
		errorHandler:  errorHandler,
		logger:        logger.With("handler", "notification"),
	}
}

// RegisterRoutes registers the /notifications routes. The stream endpoint
// is registered separately by the SSE handler.
func (h *NotificationHandler) RegisterRoutes(r chi.Router) {
	r.Get("/me", h.HandleList)
	r.Patch("/read-many", h.HandleReadMany)
	r.Patch("/{notificationID}/read", h.HandleRead)
}

// ReadManyRequest defines the expected JSON body for bulk read marks.
type ReadManyRequest struct {
	NotificationIDs []string `json:"notificationIds"`
}

// Validate validates the read-many request
func (r *ReadManyRequest) Validate() error {
	return validation.NewValidator().
		UUIDList("notificationIds", r.NotificationIDs, maxReadManyIDs).
		Err()
}

// ReadManyResponse lists the ids that are now read and owned by the caller.
type ReadManyResponse struct {
	Updated []string `json:"updated"`
}

// HandleList handles GET /notifications/me
func (h *NotificationHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireClaims(w, r)
	if !ok {
		return
	}

	pagination := validation.ParsePagination(r, maxNotificationsPerPage)

	page, err := h.notifications.ListForUser(r.Context(), claims.UserID, pagination.Limit, pagination.Offset)
	if err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}

	items := make([]domain.NotificationSnapshot, 0, len(page.Items))
	for _, n := range page.Items {
		items = append(items, domain.NewNotificationSnapshot(n))
	}

	h.logger.DebugContext(r.Context(), "listed notifications", "count", len(items), "watermark", page.Watermark)

	WriteJSON(w, http.StatusOK, NotificationListResponse[domain.NotificationSnapshot]{
		Data:      items,
		Count:     len(items),
		Limit:     pagination.Limit,
		Offset:    pagination.Offset,
		Watermark: page.Watermark,
	})
}

// HandleReadMany handles PATCH /notifications/read-many. Ids the caller
// does not own are ignored.
func (h *NotificationHandler) HandleReadMany(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireClaims(w, r)
	if !ok {
		return
	}

	req, err := validation.DecodeAndValidate[ReadManyRequest](r)
	if err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}

	ids := make([]uuid.UUID, 0, len(req.NotificationIDs))
	for _, raw := range req.NotificationIDs {
		ids = append(ids, uuid.MustParse(raw))
	}

	updated, err := h.notifications.MarkManyRead(r.Context(), claims.UserID, ids)
	if err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}

	resp := ReadManyResponse{Updated: make([]string, 0, len(updated))}
	for _, id := range updated {
		resp.Updated = append(resp.Updated, id.String())
	}
	WriteJSON(w, http.StatusOK, resp)
}

// HandleRead handles PATCH /notifications/{notificationID}/read
func (h *NotificationHandler) HandleRead(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireClaims(w, r)
	if !ok {
		return
	}

	notificationID, err := validation.URLParamUUID(r, "notificationID")
	if err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}

	n, err := h.notifications.MarkRead(r.Context(), claims.UserID, notificationID)
	if err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}

	WriteJSON(w, http.StatusOK, domain.NewNotificationSnapshot(n))
}
