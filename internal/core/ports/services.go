package ports

import (
	"context"
	"io"

	"github.com/google/uuid"

	"github.com/lorrc/marketplace-realtime/internal/core/domain"
)

// AuthService defines the port for authentication business logic.
type AuthService interface {
	Register(ctx context.Context, params domain.UserRegistrationParams) (*domain.User, error)
	Login(ctx context.Context, email, password string) (*domain.User, error)
}

// UserLookupService resolves lightweight display data for users.
type UserLookupService interface {
	GetUserInfo(ctx context.Context, userIDs []uuid.UUID) (map[uuid.UUID]domain.UserInfo, error)
	GetAvatar(ctx context.Context, userID uuid.UUID) (*domain.UserInfo, error)
}

// NotificationService defines the port for notification delivery and read state.
type NotificationService interface {
	Notify(ctx context.Context, params domain.NotificationParams) (*domain.Notification, error)
	ListForUser(ctx context.Context, userID uuid.UUID, limit, offset int) (*domain.NotificationPage, error)
	Replay(ctx context.Context, userID uuid.UUID, afterSeq int64) ([]*domain.Notification, error)
	MarkRead(ctx context.Context, userID, notificationID uuid.UUID) (*domain.Notification, error)
	MarkManyRead(ctx context.Context, userID uuid.UUID, ids []uuid.UUID) ([]uuid.UUID, error)
	Shutdown()
}

// SendMessageParams defines the input for sending a text message.
type SendMessageParams struct {
	ChatID   uuid.UUID
	SenderID uuid.UUID
	Text     string
}

// UploadImageParams defines the input for an image upload.
type UploadImageParams struct {
	ChatID   uuid.UUID
	SenderID uuid.UUID
	Filename string
	Body     io.Reader
}

// ChatService defines the core operations for one-to-one chats.
type ChatService interface {
	OpenChat(ctx context.Context, userID, recipientID uuid.UUID) (*domain.Chat, bool, error)
	ListChats(ctx context.Context, userID uuid.UUID) ([]*domain.Chat, error)
	GetMessages(ctx context.Context, userID, chatID uuid.UUID) ([]*domain.ChatMessage, error)
	SendMessage(ctx context.Context, params SendMessageParams) (*domain.ChatMessage, error)
	UploadImage(ctx context.Context, params UploadImageParams) (*domain.ChatMessage, error)
	MarkRead(ctx context.Context, userID, chatID uuid.UUID) (int64, error)
	EnsureParticipant(ctx context.Context, userID, chatID uuid.UUID) (*domain.Chat, error)
}

// EventBroadcaster fans chat events out to the sockets joined to a chat room.
type EventBroadcaster interface {
	Broadcast(event domain.Event) error
}

// NotificationPublisher pushes a stored notification to live subscribers.
// It reports whether at least one subscriber received it.
type NotificationPublisher interface {
	Publish(userID uuid.UUID, n *domain.Notification) bool
}

// MailParams defines the input for an out-of-band mail.
type MailParams struct {
	RecipientUserID   uuid.UUID
	Subject           string
	Message           string
	RelatedEntityType domain.RelatedEntityType
	RelatedEntityID   string
}

// Notifier defines the port for sending asynchronous notifications.
type Notifier interface {
	Notify(ctx context.Context, params MailParams)
}
