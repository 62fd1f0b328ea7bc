package http

import (
	stdhttp "net/http"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/lorrc/marketplace-realtime/internal/core/domain"
	apperrors "github.com/lorrc/marketplace-realtime/internal/core/errors"
)

func TestAuthHandler_Login(t *testing.T) {
	env := newTestEnv(t)

	hash, err := domain.HashPassword("Secret123")
	require.NoError(t, err)
	user := &domain.User{
		ID:             uuid.New(),
		FullName:       "Ada Buyer",
		Email:          "ada@example.com",
		HashedPassword: hash,
		Role:           domain.RoleBuyer,
	}
	env.users.On("GetByEmail", mock.Anything, "ada@example.com").Return(user, nil)

	rec := env.do(t, stdhttp.MethodPost, "/api/auth/login", "", map[string]string{
		"email":    "Ada@Example.com",
		"password": "Secret123",
	})
	require.Equal(t, stdhttp.StatusOK, rec.Code)

	cookie := findCookie(rec.Result(), testCookie)
	require.NotNil(t, cookie)
	assert.True(t, cookie.HttpOnly)
	assert.Equal(t, "/", cookie.Path)

	resp := decodeBody[LoginResponse](t, rec)
	assert.Equal(t, cookie.Value, resp.Token)
	assert.Equal(t, user.ID.String(), resp.User.UserID)
	assert.Equal(t, "buyer", resp.User.Role)

	claims, err := env.tm.ValidateToken(resp.Token)
	require.NoError(t, err)
	assert.Equal(t, user.ID, claims.UserID)
	assert.Equal(t, domain.RoleBuyer, claims.Role)
}

func TestAuthHandler_LoginInvalidCredentials(t *testing.T) {
	env := newTestEnv(t)
	env.users.On("GetByEmail", mock.Anything, "ghost@example.com").Return(nil, apperrors.ErrUserNotFound)

	rec := env.do(t, stdhttp.MethodPost, "/api/auth/login", "", map[string]string{
		"email":    "ghost@example.com",
		"password": "Secret123",
	})

	require.Equal(t, stdhttp.StatusUnauthorized, rec.Code)
	body := decodeError(t, rec)
	assert.Equal(t, "INVALID_CREDENTIALS", body.Code)
	assert.NotEmpty(t, body.Message)
	assert.NotEmpty(t, body.RequestID)
}

func TestAuthHandler_LoginMissingFields(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, stdhttp.MethodPost, "/api/auth/login", "", map[string]string{"email": "a@b.co"})

	require.Equal(t, stdhttp.StatusUnprocessableEntity, rec.Code)
	body := decodeError(t, rec)
	assert.Equal(t, "VALIDATION_ERROR", body.Code)
	assert.Contains(t, body.Details["fields"], "password")
}

func TestAuthHandler_Register(t *testing.T) {
	env := newTestEnv(t)
	created := &domain.User{ID: uuid.New(), FullName: "Sam Supplier", Email: "sam@example.com", Role: domain.RoleSupplier}
	env.users.On("GetByEmail", mock.Anything, "sam@example.com").Return(nil, apperrors.ErrUserNotFound)
	env.users.On("Create", mock.Anything, mock.AnythingOfType("*domain.User")).Return(created, nil)

	rec := env.do(t, stdhttp.MethodPost, "/api/auth/register", "", map[string]string{
		"fullName": "Sam Supplier",
		"email":    "sam@example.com",
		"password": "Secret123",
		"role":     "supplier",
	})

	require.Equal(t, stdhttp.StatusCreated, rec.Code)
	resp := decodeBody[UserDTO](t, rec)
	assert.Equal(t, created.ID.String(), resp.UserID)
	assert.Equal(t, "supplier", resp.Role)
}

func TestAuthHandler_RegisterValidation(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, stdhttp.MethodPost, "/api/auth/register", "", map[string]string{
		"fullName": "Weak",
		"email":    "weak@example.com",
		"password": "short",
		"role":     "admin",
	})

	require.Equal(t, stdhttp.StatusUnprocessableEntity, rec.Code)
	fields, ok := decodeError(t, rec).Details["fields"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, fields, "password")
	assert.Contains(t, fields, "role")
	env.users.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestAuthHandler_RegisterDuplicate(t *testing.T) {
	env := newTestEnv(t)
	env.users.On("GetByEmail", mock.Anything, "dup@example.com").Return(&domain.User{ID: uuid.New()}, nil)

	rec := env.do(t, stdhttp.MethodPost, "/api/auth/register", "", map[string]string{
		"fullName": "Dup",
		"email":    "dup@example.com",
		"password": "Secret123",
	})

	require.Equal(t, stdhttp.StatusConflict, rec.Code)
	assert.Equal(t, "USER_EXISTS", decodeError(t, rec).Code)
}

func TestAuthHandler_Logout(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, stdhttp.MethodPost, "/api/auth/logout", "", nil)

	require.Equal(t, stdhttp.StatusNoContent, rec.Code)
	cookie := findCookie(rec.Result(), testCookie)
	require.NotNil(t, cookie)
	assert.Empty(t, cookie.Value)
	assert.Negative(t, cookie.MaxAge)
}

func TestUserHandler(t *testing.T) {
	env := newTestEnv(t)
	me := &domain.User{ID: uuid.New(), FullName: "Ada", Email: "ada@example.com", Role: domain.RoleBuyer}
	other := &domain.User{ID: uuid.New(), FullName: "Sam", AvatarURL: "https://cdn.example.com/sam.png", Role: domain.RoleSupplier}
	env.users.On("GetByID", mock.Anything, me.ID).Return(me, nil)
	env.users.On("GetByID", mock.Anything, other.ID).Return(other, nil)
	token := env.token(t, me.ID, me.Role)

	t.Run("me", func(t *testing.T) {
		rec := env.do(t, stdhttp.MethodGet, "/api/users/me", token, nil)
		require.Equal(t, stdhttp.StatusOK, rec.Code)
		assert.Equal(t, "ada@example.com", decodeBody[UserDTO](t, rec).Email)
	})

	t.Run("avatar", func(t *testing.T) {
		rec := env.do(t, stdhttp.MethodGet, "/api/users/"+other.ID.String()+"/avatar", token, nil)
		require.Equal(t, stdhttp.StatusOK, rec.Code)
		info := decodeBody[UserInfoDTO](t, rec)
		assert.Equal(t, "Sam", info.Name)
		assert.Equal(t, other.AvatarURL, info.AvatarURL)
	})

	t.Run("avatar of unknown user", func(t *testing.T) {
		missing := uuid.New()
		env.users.On("GetByID", mock.Anything, missing).Return(nil, apperrors.ErrUserNotFound)
		rec := env.do(t, stdhttp.MethodGet, "/api/users/"+missing.String()+"/avatar", token, nil)
		require.Equal(t, stdhttp.StatusNotFound, rec.Code)
		assert.Equal(t, "USER_NOT_FOUND", decodeError(t, rec).Code)
	})

	t.Run("unauthenticated", func(t *testing.T) {
		rec := env.do(t, stdhttp.MethodGet, "/api/users/me", "", nil)
		require.Equal(t, stdhttp.StatusUnauthorized, rec.Code)
	})
}
