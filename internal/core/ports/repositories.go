package ports

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/lorrc/marketplace-realtime/internal/core/domain"
)

type UserRepository interface {
	Create(ctx context.Context, user *domain.User) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error)
}

// ListNotificationsParams selects one page of a recipient's notifications.
type ListNotificationsParams struct {
	RecipientID uuid.UUID
	Limit       int
	Offset      int
}

// NotificationRepository persists notifications and assigns their sequence numbers.
type NotificationRepository interface {
	Create(ctx context.Context, n *domain.Notification) (*domain.Notification, error)
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Notification, error)
	ListByRecipient(ctx context.Context, params ListNotificationsParams) ([]*domain.Notification, error)
	// ListAfterSeq returns notifications with seq > afterSeq in ascending seq order.
	ListAfterSeq(ctx context.Context, recipientID uuid.UUID, afterSeq int64, limit int) ([]*domain.Notification, error)
	MaxSeq(ctx context.Context, recipientID uuid.UUID) (int64, error)
	MarkRead(ctx context.Context, recipientID, id uuid.UUID) (*domain.Notification, error)
	// MarkManyRead marks the given ids read and returns those owned by recipientID.
	MarkManyRead(ctx context.Context, recipientID uuid.UUID, ids []uuid.UUID) ([]uuid.UUID, error)
}

// ChatRepository persists chats keyed by their ordered participant pair.
type ChatRepository interface {
	// CreateOrGet inserts the chat unless one already exists for the pair.
	// The bool result is true when a new row was created.
	CreateOrGet(ctx context.Context, chat *domain.Chat) (*domain.Chat, bool, error)
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Chat, error)
	ListByParticipant(ctx context.Context, userID uuid.UUID) ([]*domain.Chat, error)
	// Touch records activity on the chat so listings sort by recency.
	Touch(ctx context.Context, chatID uuid.UUID, at time.Time) error
}

type MessageRepository interface {
	Create(ctx context.Context, msg *domain.ChatMessage) (*domain.ChatMessage, error)
	// ListByChat returns up to limit most recent messages, oldest first.
	ListByChat(ctx context.Context, chatID uuid.UUID, limit int) ([]*domain.ChatMessage, error)
	// MarkReadBy marks messages not authored by readerID as read.
	MarkReadBy(ctx context.Context, chatID, readerID uuid.UUID) (int64, error)
}

// TransactionManager defines the port for running atomic operations.
type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
