package services

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/lorrc/marketplace-realtime/internal/core/domain"
	apperrors "github.com/lorrc/marketplace-realtime/internal/core/errors"
	"github.com/lorrc/marketplace-realtime/internal/core/ports"
)

// AuthService registers buyers, suppliers and guests and checks their
// credentials. Session tokens are issued by the HTTP layer.
type AuthService struct {
	users ports.UserRepository
}

var _ ports.AuthService = (*AuthService)(nil)

func NewAuthService(users ports.UserRepository) ports.AuthService {
	return &AuthService{users: users}
}

// decoyUser is compared against when an email is unknown so both failure
// paths pay for one bcrypt comparison.
var decoyUser = sync.OnceValue(func() *domain.User {
	hash, _ := domain.HashPassword("Decoy-Password-1")
	return &domain.User{HashedPassword: hash}
})

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Register creates an account. Emails are unique case-insensitively.
func (s *AuthService) Register(ctx context.Context, params domain.UserRegistrationParams) (*domain.User, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	params.Email = normalizeEmail(params.Email)

	switch _, err := s.users.GetByEmail(ctx, params.Email); {
	case err == nil:
		return nil, apperrors.ErrUserExists
	case !errors.Is(err, apperrors.ErrUserNotFound):
		return nil, err
	}

	user, err := domain.NewUser(params)
	if err != nil {
		return nil, err
	}
	// A concurrent registration loses on the unique index; the repository
	// reports that as ErrUserExists too.
	return s.users.Create(ctx, user)
}

// Login returns the user whose credentials match. Unknown emails and wrong
// passwords fail identically.
func (s *AuthService) Login(ctx context.Context, email, password string) (*domain.User, error) {
	email = normalizeEmail(email)
	switch {
	case email == "":
		return nil, apperrors.ErrEmailRequired
	case password == "":
		return nil, apperrors.ErrPasswordRequired
	}

	user, err := s.users.GetByEmail(ctx, email)
	if errors.Is(err, apperrors.ErrUserNotFound) {
		decoyUser().CheckPassword(password)
		return nil, apperrors.ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if !user.CheckPassword(password) {
		return nil, apperrors.ErrInvalidCredentials
	}
	return user, nil
}
