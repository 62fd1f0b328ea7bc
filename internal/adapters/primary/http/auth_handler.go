package http

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	mw "github.com/lorrc/marketplace-realtime/internal/adapters/primary/http/middleware"
	"github.com/lorrc/marketplace-realtime/internal/adapters/primary/validation"
	"github.com/lorrc/marketplace-realtime/internal/auth"
	"github.com/lorrc/marketplace-realtime/internal/core/domain"
	"github.com/lorrc/marketplace-realtime/internal/core/ports"
)

// SessionCookieConfig controls the session cookie issued on login.
type SessionCookieConfig struct {
	Name   string
	Secure bool
}

// AuthHandler handles registration, login and logout.
type AuthHandler struct {
	authService  ports.AuthService
	tokenManager *auth.TokenManager
	cookie       SessionCookieConfig
	errorHandler *ErrorHandler
	logger       *slog.Logger
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(
	authService ports.AuthService,
	tokenManager *auth.TokenManager,
	cookie SessionCookieConfig,
	errorHandler *ErrorHandler,
	logger *slog.Logger,
) *AuthHandler {
	if cookie.Name == "" {
		cookie.Name = mw.DefaultSessionCookie
	}
	return &AuthHandler{
		authService:  authService,
		tokenManager: tokenManager,
		cookie:       cookie,
		errorHandler: errorHandler,
		logger:       logger.With("handler", "auth"),
	}
}

// RegisterRoutes registers the /auth routes.
func (h *AuthHandler) RegisterRoutes(r chi.Router) {
	r.Post("/register", h.HandleRegister)
	r.Post("/login", h.HandleLogin)
	r.Post("/logout", h.HandleLogout)
}

// --- Request/Response DTOs ---

// RegisterRequest defines the expected JSON body for registration.
type RegisterRequest struct {
	FullName string `json:"fullName"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

// LoginRequest defines the expected JSON body for login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Validate validates the login request
func (r *LoginRequest) Validate() error {
	return validation.NewValidator().
		Required("email", r.Email).
		Required("password", r.Password).
		Err()
}

// UserDTO defines the JSON response for the signed-in user.
type UserDTO struct {
	UserID    string `json:"userId"`
	FullName  string `json:"fullName"`
	Email     string `json:"email"`
	Role      string `json:"role"`
	AvatarURL string `json:"avatarUrl,omitempty"`
	CreatedAt string `json:"createdAt"`
}

// LoginResponse carries the session token for non-browser clients.
type LoginResponse struct {
	Token     string  `json:"token"`
	ExpiresAt string  `json:"expiresAt"`
	User      UserDTO `json:"user"`
}

func toUserDTO(u *domain.User) UserDTO {
	return UserDTO{
		UserID:    u.ID.String(),
		FullName:  u.FullName,
		Email:     u.Email,
		Role:      string(u.Role),
		AvatarURL: u.AvatarURL,
		CreatedAt: u.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// --- Handlers ---

// HandleRegister handles POST /auth/register
func (h *AuthHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	req, err := validation.DecodeAndValidate[RegisterRequest](r)
	if err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}

	user, err := h.authService.Register(r.Context(), domain.UserRegistrationParams{
		FullName: strings.TrimSpace(req.FullName),
		Email:    strings.TrimSpace(req.Email),
		Password: req.Password,
		Role:     req.Role,
	})
	if err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}

	h.logger.Info("user registered", "user_id", user.ID, "role", user.Role)
	WriteCreated(w, toUserDTO(user))
}

// HandleLogin handles POST /auth/login. The token is set as an HttpOnly
// cookie and also returned in the body.
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	req, err := validation.DecodeAndValidate[LoginRequest](r)
	if err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}

	user, err := h.authService.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}

	token, err := h.tokenManager.GenerateToken(user.ID, user.Role)
	if err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}
	expiresAt := time.Now().Add(h.tokenManager.TTL())

	http.SetCookie(w, &http.Cookie{
		Name:     h.cookie.Name,
		Value:    token,
		Path:     "/",
		Expires:  expiresAt,
		MaxAge:   int(h.tokenManager.TTL().Seconds()),
		HttpOnly: true,
		Secure:   h.cookie.Secure,
		SameSite: http.SameSiteLaxMode,
	})

	WriteJSON(w, http.StatusOK, LoginResponse{
		Token:     token,
		ExpiresAt: expiresAt.UTC().Format(time.RFC3339),
		User:      toUserDTO(user),
	})
}

// HandleLogout handles POST /auth/logout by expiring the session cookie.
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.cookie.Name,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.cookie.Secure,
		SameSite: http.SameSiteLaxMode,
	})
	WriteNoContent(w)
}

// requireClaims extracts the caller's claims or writes a 401.
func requireClaims(w http.ResponseWriter, r *http.Request) (*auth.Claims, bool) {
	claims, ok := mw.GetClaims(r.Context())
	if !ok {
		mw.WriteError(w, r, http.StatusUnauthorized, mw.ErrorBody{
			Code:    "UNAUTHORIZED",
			Message: "Not authorized",
		})
		return nil, false
	}
	return claims, true
}
