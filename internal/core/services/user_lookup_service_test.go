package services_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lorrc/marketplace-realtime/internal/core/domain"
	apperrors "github.com/lorrc/marketplace-realtime/internal/core/errors"
	"github.com/lorrc/marketplace-realtime/internal/core/mocks"
	"github.com/lorrc/marketplace-realtime/internal/core/services"
)

func TestUserLookupService_GetUserInfo(t *testing.T) {
	ctx := context.Background()
	known := &domain.User{ID: uuid.New(), FullName: "Ada", AvatarURL: "https://cdn.example.com/ada.png"}
	missing := uuid.New()

	repo := mocks.NewMockUserRepository()
	repo.On("GetByID", ctx, known.ID).Return(known, nil).Once()
	repo.On("GetByID", ctx, missing).Return(nil, apperrors.ErrUserNotFound)

	svc := services.NewUserLookupService(repo)
	infos, err := svc.GetUserInfo(ctx, []uuid.UUID{known.ID, known.ID, missing, uuid.Nil})
	require.NoError(t, err)

	require.Len(t, infos, 1)
	assert.Equal(t, "Ada", infos[known.ID].FullName)
	assert.Equal(t, known.AvatarURL, infos[known.ID].AvatarURL)
	repo.AssertExpectations(t)
}

func TestUserLookupService_GetAvatar(t *testing.T) {
	ctx := context.Background()
	user := &domain.User{ID: uuid.New(), FullName: "Grace"}

	repo := mocks.NewMockUserRepository()
	repo.On("GetByID", ctx, user.ID).Return(user, nil)
	svc := services.NewUserLookupService(repo)

	info, err := svc.GetAvatar(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "Grace", info.FullName)
	assert.Empty(t, info.AvatarURL)

	_, err = svc.GetAvatar(ctx, uuid.Nil)
	assert.ErrorIs(t, err, apperrors.ErrUserNotFound)
}
