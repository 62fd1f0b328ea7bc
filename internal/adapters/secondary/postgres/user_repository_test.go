package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lorrc/marketplace-realtime/internal/core/domain"
	apperrors "github.com/lorrc/marketplace-realtime/internal/core/errors"
)

func TestUserRepository_RoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := NewUserRepository(testPool)

	in := &domain.User{
		ID:             uuid.New(),
		FullName:       "Karim Supplies",
		Email:          "karim+" + uuid.NewString()[:8] + "@example.com",
		HashedPassword: "$2a$10$placeholder",
		Role:           domain.RoleSupplier,
		AvatarURL:      "https://cdn.example.com/karim.png",
		CreatedAt:      time.Now().UTC().Truncate(time.Microsecond),
	}
	created, err := repo.Create(ctx, in)
	require.NoError(t, err)
	assertSameUser(t, in, created)

	byEmail, err := repo.GetByEmail(ctx, in.Email)
	require.NoError(t, err)
	assertSameUser(t, in, byEmail)

	byID, err := repo.GetByID(ctx, in.ID)
	require.NoError(t, err)
	assertSameUser(t, in, byID)
}

func TestUserRepository_Failures(t *testing.T) {
	ctx := context.Background()
	repo := NewUserRepository(testPool)
	existing := seedUser(t, "First Buyer", domain.RoleBuyer)

	t.Run("duplicate email", func(t *testing.T) {
		dup := *existing
		dup.ID = uuid.New()
		_, err := repo.Create(ctx, &dup)
		assert.ErrorIs(t, err, apperrors.ErrUserExists)
	})

	t.Run("unknown email", func(t *testing.T) {
		_, err := repo.GetByEmail(ctx, "nobody-"+uuid.NewString()+"@example.com")
		assert.ErrorIs(t, err, apperrors.ErrUserNotFound)
	})

	t.Run("unknown id", func(t *testing.T) {
		_, err := repo.GetByID(ctx, uuid.New())
		assert.ErrorIs(t, err, apperrors.ErrUserNotFound)
	})
}

func TestUserRepository_EmptyAvatarIsNull(t *testing.T) {
	user := seedUser(t, "No Avatar", domain.RoleGuest)

	var isNull bool
	require.NoError(t, testPool.QueryRow(context.Background(),
		`SELECT avatar_url IS NULL FROM users WHERE id = $1`, user.ID).Scan(&isNull))
	assert.True(t, isNull)
	assert.Empty(t, user.AvatarURL)
}

func assertSameUser(t *testing.T, want, got *domain.User) {
	t.Helper()
	assert.True(t, want.CreatedAt.Equal(got.CreatedAt), "created_at %v != %v", want.CreatedAt, got.CreatedAt)
	w, g := *want, *got
	w.CreatedAt, g.CreatedAt = time.Time{}, time.Time{}
	assert.Equal(t, w, g)
}
