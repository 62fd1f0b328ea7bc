package services_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/lorrc/marketplace-realtime/internal/core/domain"
	apperrors "github.com/lorrc/marketplace-realtime/internal/core/errors"
	"github.com/lorrc/marketplace-realtime/internal/core/mocks"
	"github.com/lorrc/marketplace-realtime/internal/core/ports"
	"github.com/lorrc/marketplace-realtime/internal/core/services"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNotificationService_Notify(t *testing.T) {
	ctx := context.Background()
	recipient := uuid.New()
	params := domain.NotificationParams{
		RecipientID:       recipient,
		SenderID:          uuid.New(),
		RelatedEntityType: domain.EntityBid,
		RelatedEntityID:   "bid-1",
		Title:             "New bid",
		Content:           "A supplier placed a bid",
	}

	t.Run("delivered live", func(t *testing.T) {
		repo := mocks.NewMockNotificationRepository()
		publisher := mocks.NewMockNotificationPublisher()
		notifier := mocks.NewMockNotifier()
		svc := services.NewNotificationService(repo, publisher, notifier, discardLogger(), 0)

		stored := &domain.Notification{ID: uuid.New(), Seq: 7, RecipientID: recipient, Title: "New bid"}
		repo.On("Create", ctx, mock.AnythingOfType("*domain.Notification")).Return(stored, nil)
		publisher.On("Publish", recipient, stored).Return(true)

		n, err := svc.Notify(ctx, params)
		require.NoError(t, err)
		assert.Equal(t, int64(7), n.Seq)

		svc.Shutdown()
		notifier.AssertNotCalled(t, "Notify", mock.Anything, mock.Anything)
		repo.AssertExpectations(t)
		publisher.AssertExpectations(t)
	})

	t.Run("offline recipient gets mail", func(t *testing.T) {
		repo := mocks.NewMockNotificationRepository()
		publisher := mocks.NewMockNotificationPublisher()
		notifier := mocks.NewMockNotifier()
		svc := services.NewNotificationService(repo, publisher, notifier, discardLogger(), 0)

		stored := &domain.Notification{
			ID:                uuid.New(),
			Seq:               8,
			RecipientID:       recipient,
			RelatedEntityType: domain.EntityBid,
			RelatedEntityID:   "bid-1",
			Title:             "New bid",
			Content:           "A supplier placed a bid",
		}
		repo.On("Create", ctx, mock.AnythingOfType("*domain.Notification")).Return(stored, nil)
		publisher.On("Publish", recipient, stored).Return(false)
		notifier.On("Notify", mock.Anything, ports.MailParams{
			RecipientUserID:   recipient,
			Subject:           "New bid",
			Message:           "A supplier placed a bid",
			RelatedEntityType: domain.EntityBid,
			RelatedEntityID:   "bid-1",
		}).Return()

		_, err := svc.Notify(ctx, params)
		require.NoError(t, err)

		svc.Shutdown()
		notifier.AssertExpectations(t)
	})

	t.Run("invalid params are not stored", func(t *testing.T) {
		repo := mocks.NewMockNotificationRepository()
		svc := services.NewNotificationService(repo, nil, nil, discardLogger(), 0)

		_, err := svc.Notify(ctx, domain.NotificationParams{RecipientID: recipient, RelatedEntityType: "ticket", Title: "x"})
		assert.ErrorIs(t, err, apperrors.ErrInvalidEntityType)
		repo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	})

	t.Run("repository failure", func(t *testing.T) {
		repo := mocks.NewMockNotificationRepository()
		publisher := mocks.NewMockNotificationPublisher()
		svc := services.NewNotificationService(repo, publisher, nil, discardLogger(), 0)

		dbErr := errors.New("connection reset")
		repo.On("Create", ctx, mock.Anything).Return(nil, dbErr)

		_, err := svc.Notify(ctx, params)
		assert.ErrorIs(t, err, dbErr)
		publisher.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything)
	})
}

func TestNotificationService_ListForUser(t *testing.T) {
	ctx := context.Background()
	userID := uuid.New()

	repo := mocks.NewMockNotificationRepository()
	svc := services.NewNotificationService(repo, nil, nil, discardLogger(), 0)

	items := []*domain.Notification{{ID: uuid.New(), Seq: 3}, {ID: uuid.New(), Seq: 2}}
	repo.On("ListByRecipient", ctx, ports.ListNotificationsParams{RecipientID: userID, Limit: 100, Offset: 0}).
		Return(items, nil)
	repo.On("MaxSeq", ctx, userID).Return(int64(3), nil)

	page, err := svc.ListForUser(ctx, userID, 1000, -5)
	require.NoError(t, err)
	assert.Len(t, page.Items, 2)
	assert.Equal(t, int64(3), page.Watermark)
	repo.AssertExpectations(t)
}

func TestNotificationService_Replay(t *testing.T) {
	ctx := context.Background()
	userID := uuid.New()

	t.Run("negative cursor means no replay", func(t *testing.T) {
		repo := mocks.NewMockNotificationRepository()
		svc := services.NewNotificationService(repo, nil, nil, discardLogger(), 10)

		items, err := svc.Replay(ctx, userID, -1)
		require.NoError(t, err)
		assert.Empty(t, items)
		repo.AssertNotCalled(t, "ListAfterSeq", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("zero cursor replays from the start", func(t *testing.T) {
		repo := mocks.NewMockNotificationRepository()
		svc := services.NewNotificationService(repo, nil, nil, discardLogger(), 10)

		repo.On("ListAfterSeq", ctx, userID, int64(0), 10).
			Return([]*domain.Notification{{Seq: 1}}, nil)

		items, err := svc.Replay(ctx, userID, 0)
		require.NoError(t, err)
		require.Len(t, items, 1)
		repo.AssertExpectations(t)
	})

	t.Run("bounded by replay limit", func(t *testing.T) {
		repo := mocks.NewMockNotificationRepository()
		svc := services.NewNotificationService(repo, nil, nil, discardLogger(), 10)

		repo.On("ListAfterSeq", ctx, userID, int64(41), 10).
			Return([]*domain.Notification{{Seq: 42}}, nil)

		items, err := svc.Replay(ctx, userID, 41)
		require.NoError(t, err)
		require.Len(t, items, 1)
		assert.Equal(t, int64(42), items[0].Seq)
	})
}

func TestNotificationService_MarkManyRead(t *testing.T) {
	ctx := context.Background()
	userID := uuid.New()
	n1, n3 := uuid.New(), uuid.New()

	t.Run("only owned ids are reported", func(t *testing.T) {
		repo := mocks.NewMockNotificationRepository()
		svc := services.NewNotificationService(repo, nil, nil, discardLogger(), 0)

		repo.On("MarkManyRead", ctx, userID, []uuid.UUID{n1, n3}).Return([]uuid.UUID{n1}, nil)

		updated, err := svc.MarkManyRead(ctx, userID, []uuid.UUID{n1, n1, uuid.Nil, n3})
		require.NoError(t, err)
		assert.Equal(t, []uuid.UUID{n1}, updated)
	})

	t.Run("empty input skips the repository", func(t *testing.T) {
		repo := mocks.NewMockNotificationRepository()
		svc := services.NewNotificationService(repo, nil, nil, discardLogger(), 0)

		updated, err := svc.MarkManyRead(ctx, userID, nil)
		require.NoError(t, err)
		assert.Empty(t, updated)
		repo.AssertNotCalled(t, "MarkManyRead", mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestNotificationService_MarkRead(t *testing.T) {
	ctx := context.Background()
	userID := uuid.New()

	repo := mocks.NewMockNotificationRepository()
	svc := services.NewNotificationService(repo, nil, nil, discardLogger(), 0)

	_, err := svc.MarkRead(ctx, userID, uuid.Nil)
	assert.ErrorIs(t, err, apperrors.ErrNotificationNotFound)

	id := uuid.New()
	repo.On("MarkRead", ctx, userID, id).Return(&domain.Notification{ID: id, IsRead: true}, nil)

	n, err := svc.MarkRead(ctx, userID, id)
	require.NoError(t, err)
	assert.True(t, n.IsRead)
}
