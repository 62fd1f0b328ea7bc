package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/lorrc/marketplace-realtime/internal/auth"
	"github.com/lorrc/marketplace-realtime/internal/infrastructure/logging"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

// UserClaimsKey is the key used to store user claims in the request context.
const UserClaimsKey contextKey = "userClaims"

// DefaultSessionCookie is the cookie holding the session token.
const DefaultSessionCookie = "session"

// TokenFromRequest extracts the session token, preferring the
// Authorization header and falling back to the session cookie.
func TokenFromRequest(r *http.Request, cookieName string) string {
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
		return ""
	}
	if cookie, err := r.Cookie(cookieName); err == nil {
		return cookie.Value
	}
	return ""
}

// JWTMiddleware authenticates the request from the bearer header or session cookie.
func JWTMiddleware(tm *auth.TokenManager, cookieName string) func(http.Handler) http.Handler {
	if cookieName == "" {
		cookieName = DefaultSessionCookie
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := TokenFromRequest(r, cookieName)
			if token == "" {
				WriteError(w, r, http.StatusUnauthorized, ErrorBody{
					Code:    "UNAUTHORIZED",
					Message: "Authentication required",
				})
				return
			}

			claims, err := tm.ValidateToken(token)
			if err != nil {
				WriteError(w, r, http.StatusUnauthorized, ErrorBody{
					Code:    "UNAUTHORIZED",
					Message: "Invalid or expired session",
				})
				return
			}

			ctx := WithClaims(r.Context(), claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// WithClaims stores the claims and tags the context for logging.
func WithClaims(ctx context.Context, claims *auth.Claims) context.Context {
	ctx = context.WithValue(ctx, UserClaimsKey, claims)
	return logging.WithUserID(ctx, claims.UserID.String())
}

// GetClaims returns the authenticated user's claims, if any.
func GetClaims(ctx context.Context) (*auth.Claims, bool) {
	claims, ok := ctx.Value(UserClaimsKey).(*auth.Claims)
	return claims, ok && claims != nil
}

// Language records the preferred language from Accept-Language on the context.
func Language(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lang := r.Header.Get("Accept-Language")
		if i := strings.IndexAny(lang, ",;"); i >= 0 {
			lang = lang[:i]
		}
		lang = strings.TrimSpace(lang)
		if lang != "" {
			r = r.WithContext(logging.WithLanguage(r.Context(), lang))
		}
		next.ServeHTTP(w, r)
	})
}
