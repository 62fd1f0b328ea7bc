package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/lorrc/marketplace-realtime/internal/core/domain"
	apperrors "github.com/lorrc/marketplace-realtime/internal/core/errors"
	"github.com/lorrc/marketplace-realtime/internal/core/ports"
)

const defaultHistoryLimit = 200

// ChatService implements one-to-one chat operations.
type ChatService struct {
	chats         ports.ChatRepository
	messages      ports.MessageRepository
	users         ports.UserRepository
	notifications ports.NotificationService
	broadcaster   ports.EventBroadcaster
	images        ports.ImageStore
	txManager     ports.TransactionManager
	logger        *slog.Logger
	historyLimit  int
	maxImageSize  int64
}

var _ ports.ChatService = (*ChatService)(nil)

// ChatServiceDeps groups the collaborators of ChatService.
type ChatServiceDeps struct {
	Chats         ports.ChatRepository
	Messages      ports.MessageRepository
	Users         ports.UserRepository
	Notifications ports.NotificationService
	Broadcaster   ports.EventBroadcaster
	Images        ports.ImageStore
	TxManager     ports.TransactionManager
	Logger        *slog.Logger
	HistoryLimit  int
	MaxImageSize  int64
}

// NewChatService creates a new ChatService.
func NewChatService(deps ChatServiceDeps) *ChatService {
	historyLimit := deps.HistoryLimit
	if historyLimit <= 0 {
		historyLimit = defaultHistoryLimit
	}
	maxImageSize := deps.MaxImageSize
	if maxImageSize <= 0 || maxImageSize > domain.MaxImageSize {
		maxImageSize = domain.MaxImageSize
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &ChatService{
		chats:         deps.Chats,
		messages:      deps.Messages,
		users:         deps.Users,
		notifications: deps.Notifications,
		broadcaster:   deps.Broadcaster,
		images:        deps.Images,
		txManager:     deps.TxManager,
		logger:        logger.With("component", "chat_service"),
		historyLimit:  historyLimit,
		maxImageSize:  maxImageSize,
	}
}

// OpenChat returns the chat between the two users, creating it when absent.
// The bool result reports whether a new chat was created.
func (s *ChatService) OpenChat(ctx context.Context, userID, recipientID uuid.UUID) (*domain.Chat, bool, error) {
	chat, err := domain.NewChat(userID, recipientID)
	if err != nil {
		return nil, false, err
	}

	for _, id := range []uuid.UUID{userID, recipientID} {
		user, err := s.users.GetByID(ctx, id)
		if err != nil {
			return nil, false, err
		}
		if !user.CanChat() {
			return nil, false, apperrors.ErrGuestCannotChat
		}
	}

	return s.chats.CreateOrGet(ctx, chat)
}

// ListChats returns the user's chats, most recently active first.
func (s *ChatService) ListChats(ctx context.Context, userID uuid.UUID) ([]*domain.Chat, error) {
	return s.chats.ListByParticipant(ctx, userID)
}

// EnsureParticipant loads the chat and checks that userID belongs to it.
func (s *ChatService) EnsureParticipant(ctx context.Context, userID, chatID uuid.UUID) (*domain.Chat, error) {
	chat, err := s.chats.GetByID(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if !chat.HasParticipant(userID) {
		return nil, apperrors.ErrNotParticipant
	}
	return chat, nil
}

// GetMessages returns the chat history, oldest first.
func (s *ChatService) GetMessages(ctx context.Context, userID, chatID uuid.UUID) ([]*domain.ChatMessage, error) {
	if _, err := s.EnsureParticipant(ctx, userID, chatID); err != nil {
		return nil, err
	}
	return s.messages.ListByChat(ctx, chatID, s.historyLimit)
}

// SendMessage persists a text message and fans it out to the chat room.
func (s *ChatService) SendMessage(ctx context.Context, params ports.SendMessageParams) (*domain.ChatMessage, error) {
	chat, err := s.EnsureParticipant(ctx, params.SenderID, params.ChatID)
	if err != nil {
		return nil, err
	}

	msg, err := domain.NewTextMessage(chat.ID, params.SenderID, params.Text)
	if err != nil {
		return nil, err
	}

	stored, err := s.persist(ctx, msg)
	if err != nil {
		return nil, err
	}

	s.deliver(ctx, chat, stored)
	return stored, nil
}

// UploadImage stores an image and posts it to the chat as a message.
func (s *ChatService) UploadImage(ctx context.Context, params ports.UploadImageParams) (*domain.ChatMessage, error) {
	chat, err := s.EnsureParticipant(ctx, params.SenderID, params.ChatID)
	if err != nil {
		return nil, err
	}
	if s.images == nil {
		return nil, fmt.Errorf("image store not configured")
	}

	data, err := io.ReadAll(io.LimitReader(params.Body, s.maxImageSize+1))
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	if int64(len(data)) > s.maxImageSize {
		return nil, apperrors.ErrImageTooLarge
	}
	if len(data) == 0 {
		return nil, apperrors.ErrMessageEmpty
	}

	contentType := http.DetectContentType(data)
	ext, ok := domain.ImageExtension(contentType)
	if !ok {
		return nil, apperrors.ErrUnsupportedImageType
	}

	key := fmt.Sprintf("chats/%s/%s%s", chat.ID, uuid.NewString(), ext)
	obj, err := s.images.Put(ctx, key, bytes.NewReader(data), contentType)
	if err != nil {
		return nil, fmt.Errorf("store image: %w", err)
	}

	msg, err := domain.NewImageMessage(chat.ID, params.SenderID, s.images.URL(obj.Key))
	if err != nil {
		return nil, err
	}

	stored, err := s.persist(ctx, msg)
	if err != nil {
		if _, delErr := s.images.Delete(context.Background(), obj.Key); delErr != nil {
			s.logger.Warn("failed to remove orphaned image", "key", obj.Key, "error", delErr)
		}
		return nil, err
	}

	s.deliver(ctx, chat, stored)
	return stored, nil
}

// MarkRead marks the counterpart's messages in the chat as read.
func (s *ChatService) MarkRead(ctx context.Context, userID, chatID uuid.UUID) (int64, error) {
	if _, err := s.EnsureParticipant(ctx, userID, chatID); err != nil {
		return 0, err
	}
	return s.messages.MarkReadBy(ctx, chatID, userID)
}

// persist writes the message and bumps the chat's activity time atomically.
func (s *ChatService) persist(ctx context.Context, msg *domain.ChatMessage) (*domain.ChatMessage, error) {
	var stored *domain.ChatMessage
	write := func(ctx context.Context) error {
		var err error
		stored, err = s.messages.Create(ctx, msg)
		if err != nil {
			return err
		}
		return s.chats.Touch(ctx, msg.ChatID, stored.CreatedAt)
	}

	if s.txManager == nil {
		if err := write(ctx); err != nil {
			return nil, err
		}
		return stored, nil
	}
	if err := s.txManager.WithTransaction(ctx, write); err != nil {
		return nil, err
	}
	return stored, nil
}

// deliver broadcasts the message and notifies the counterpart. Failures are logged only.
func (s *ChatService) deliver(ctx context.Context, chat *domain.Chat, msg *domain.ChatMessage) {
	if s.broadcaster != nil {
		event := domain.Event{
			Type:    domain.EventNewMessage,
			Payload: domain.NewMessageSnapshot(msg),
			ChatID:  chat.ID,
		}
		if err := s.broadcaster.Broadcast(event); err != nil {
			s.logger.Warn("failed to broadcast message", "chat_id", chat.ID, "error", err)
		}
	}

	if s.notifications == nil {
		return
	}

	// Detach from the caller so a cancelled request does not drop the notification.
	notifyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	_, err := s.notifications.Notify(notifyCtx, domain.NotificationParams{
		RecipientID:       chat.Counterpart(msg.SenderID),
		SenderID:          msg.SenderID,
		RelatedEntityType: domain.EntityChat,
		RelatedEntityID:   chat.ID.String(),
		Title:             "New message",
		Content:           msg.Preview(),
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Warn("failed to notify chat recipient", "chat_id", chat.ID, "error", err)
	}
}
