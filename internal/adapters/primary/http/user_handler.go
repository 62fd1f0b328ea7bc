package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/lorrc/marketplace-realtime/internal/adapters/primary/validation"
	"github.com/lorrc/marketplace-realtime/internal/core/ports"
)

// UserHandler serves the current user and lightweight user lookups.
type UserHandler struct {
	users        ports.UserRepository
	userLookup   ports.UserLookupService
	errorHandler *ErrorHandler
	logger       *slog.Logger
}

// NewUserHandler creates a new UserHandler.
func NewUserHandler(
	users ports.UserRepository,
	userLookup ports.UserLookupService,
	errorHandler *ErrorHandler,
	logger *slog.Logger,
) *UserHandler {
	return &UserHandler{
		users:        users,
		userLookup:   userLookup,
		errorHandler: errorHandler,
		logger:       logger.With("handler", "user"),
	}
}

// RegisterRoutes registers the /users routes.
func (h *UserHandler) RegisterRoutes(r chi.Router) {
	r.Get("/me", h.HandleMe)
	r.Get("/{userID}/avatar", h.HandleAvatar)
}

// HandleMe handles GET /users/me
func (h *UserHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireClaims(w, r)
	if !ok {
		return
	}

	user, err := h.users.GetByID(r.Context(), claims.UserID)
	if err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}

	WriteJSON(w, http.StatusOK, toUserDTO(user))
}

// HandleAvatar handles GET /users/{userID}/avatar
func (h *UserHandler) HandleAvatar(w http.ResponseWriter, r *http.Request) {
	userID, err := validation.URLParamUUID(r, "userID")
	if err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}

	info, err := h.userLookup.GetAvatar(r.Context(), userID)
	if err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}

	WriteJSON(w, http.StatusOK, toUserInfoDTO(*info))
}
