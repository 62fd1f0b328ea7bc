package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/lorrc/marketplace-realtime/internal/core/domain"
	apperrors "github.com/lorrc/marketplace-realtime/internal/core/errors"
	"github.com/lorrc/marketplace-realtime/internal/core/ports"
)

const (
	defaultNotificationPageSize = 25
	maxNotificationPageSize     = 100
	defaultReplayLimit          = 200
)

// NotificationService persists notifications and hands them to live subscribers.
type NotificationService struct {
	repo        ports.NotificationRepository
	publisher   ports.NotificationPublisher
	notifier    ports.Notifier
	logger      *slog.Logger
	replayLimit int
	wg          sync.WaitGroup
}

var _ ports.NotificationService = (*NotificationService)(nil)

// NewNotificationService creates a new NotificationService. A replayLimit of
// zero or less falls back to the default.
func NewNotificationService(
	repo ports.NotificationRepository,
	publisher ports.NotificationPublisher,
	notifier ports.Notifier,
	logger *slog.Logger,
	replayLimit int,
) *NotificationService {
	if replayLimit <= 0 {
		replayLimit = defaultReplayLimit
	}
	return &NotificationService{
		repo:        repo,
		publisher:   publisher,
		notifier:    notifier,
		logger:      logger.With("component", "notification_service"),
		replayLimit: replayLimit,
	}
}

// Notify stores a notification and pushes it to the recipient's open streams.
// Recipients with no open stream get a mail instead.
func (s *NotificationService) Notify(ctx context.Context, params domain.NotificationParams) (*domain.Notification, error) {
	n, err := domain.NewNotification(params)
	if err != nil {
		return nil, err
	}

	stored, err := s.repo.Create(ctx, n)
	if err != nil {
		return nil, fmt.Errorf("store notification: %w", err)
	}

	if s.publisher != nil && s.publisher.Publish(stored.RecipientID, stored) {
		return stored, nil
	}

	s.mailOffline(stored)
	return stored, nil
}

// ListForUser returns a page of the user's notifications, most recent first.
func (s *NotificationService) ListForUser(ctx context.Context, userID uuid.UUID, limit, offset int) (*domain.NotificationPage, error) {
	if limit <= 0 {
		limit = defaultNotificationPageSize
	}
	if limit > maxNotificationPageSize {
		limit = maxNotificationPageSize
	}
	if offset < 0 {
		offset = 0
	}

	items, err := s.repo.ListByRecipient(ctx, ports.ListNotificationsParams{
		RecipientID: userID,
		Limit:       limit,
		Offset:      offset,
	})
	if err != nil {
		return nil, err
	}

	watermark, err := s.repo.MaxSeq(ctx, userID)
	if err != nil {
		return nil, err
	}

	return &domain.NotificationPage{Items: items, Watermark: watermark}, nil
}

// Replay returns the user's notifications with seq above afterSeq, oldest
// first. afterSeq 0 is a client that has seen nothing yet.
func (s *NotificationService) Replay(ctx context.Context, userID uuid.UUID, afterSeq int64) ([]*domain.Notification, error) {
	if afterSeq < 0 {
		return nil, nil
	}
	return s.repo.ListAfterSeq(ctx, userID, afterSeq, s.replayLimit)
}

// MarkRead marks one of the user's notifications as read.
func (s *NotificationService) MarkRead(ctx context.Context, userID, notificationID uuid.UUID) (*domain.Notification, error) {
	if notificationID == uuid.Nil {
		return nil, apperrors.ErrNotificationNotFound
	}
	return s.repo.MarkRead(ctx, userID, notificationID)
}

// MarkManyRead marks the given notifications as read. Ids the user does not
// own are ignored; the returned slice holds only the ids that were updated.
func (s *NotificationService) MarkManyRead(ctx context.Context, userID uuid.UUID, ids []uuid.UUID) ([]uuid.UUID, error) {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	unique := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if id == uuid.Nil {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		unique = append(unique, id)
	}
	if len(unique) == 0 {
		return []uuid.UUID{}, nil
	}

	updated, err := s.repo.MarkManyRead(ctx, userID, unique)
	if err != nil {
		return nil, err
	}
	if updated == nil {
		updated = []uuid.UUID{}
	}
	return updated, nil
}

// mailOffline sends the fallback mail without holding up the caller.
func (s *NotificationService) mailOffline(n *domain.Notification) {
	if s.notifier == nil {
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		// Use background context since the HTTP request may be done
		ctx := context.Background()

		s.notifier.Notify(ctx, ports.MailParams{
			RecipientUserID:   n.RecipientID,
			Subject:           n.Title,
			Message:           n.Content,
			RelatedEntityType: n.RelatedEntityType,
			RelatedEntityID:   n.RelatedEntityID,
		})
	}()
}

// Shutdown waits for in-flight mails.
func (s *NotificationService) Shutdown() {
	s.wg.Wait()
}
