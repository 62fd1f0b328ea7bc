package domain

import (
	"bytes"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	apperrors "github.com/lorrc/marketplace-realtime/internal/core/errors"
)

const (
	MaxMessageLength = 4000
	// MaxImageSize is the upload ceiling for chat images.
	MaxImageSize = 5 << 20
)

// allowedImageTypes maps accepted image MIME types to the file extension used for storage.
var allowedImageTypes = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/webp": ".webp",
}

// ImageExtension returns the storage extension for an accepted MIME type.
func ImageExtension(contentType string) (string, bool) {
	ext, ok := allowedImageTypes[strings.ToLower(contentType)]
	return ext, ok
}

// Chat is a one-to-one conversation. Participants are stored in a canonical
// order so that a pair maps to exactly one chat.
type Chat struct {
	ID           uuid.UUID
	ParticipantA uuid.UUID
	ParticipantB uuid.UUID
	CreatedAt    time.Time

	// Populated by list queries only.
	LastMessage *ChatMessage
	UnreadCount int
}

// OrderedPair returns the two ids in canonical order.
func OrderedPair(a, b uuid.UUID) (uuid.UUID, uuid.UUID) {
	if bytes.Compare(a[:], b[:]) <= 0 {
		return a, b
	}
	return b, a
}

// NewChat builds a chat between two distinct users.
func NewChat(userID, recipientID uuid.UUID) (*Chat, error) {
	if recipientID == uuid.Nil {
		return nil, apperrors.ErrRecipientRequired
	}
	if userID == recipientID {
		return nil, apperrors.ErrSelfChat
	}
	a, b := OrderedPair(userID, recipientID)
	return &Chat{
		ID:           uuid.New(),
		ParticipantA: a,
		ParticipantB: b,
		CreatedAt:    time.Now().UTC(),
	}, nil
}

// HasParticipant reports whether userID is part of the chat.
func (c *Chat) HasParticipant(userID uuid.UUID) bool {
	return c.ParticipantA == userID || c.ParticipantB == userID
}

// Counterpart returns the other participant from userID's point of view.
func (c *Chat) Counterpart(userID uuid.UUID) uuid.UUID {
	if c.ParticipantA == userID {
		return c.ParticipantB
	}
	return c.ParticipantA
}

// ChatMessage carries either text or an image URL.
type ChatMessage struct {
	ID        uuid.UUID
	ChatID    uuid.UUID
	SenderID  uuid.UUID
	Text      string
	ImageURL  string
	IsRead    bool
	CreatedAt time.Time
}

// NewTextMessage validates and builds a text message.
func NewTextMessage(chatID, senderID uuid.UUID, text string) (*ChatMessage, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, apperrors.ErrMessageEmpty
	}
	if utf8.RuneCountInString(text) > MaxMessageLength {
		return nil, apperrors.ErrMessageTooLong
	}
	return &ChatMessage{
		ID:        uuid.New(),
		ChatID:    chatID,
		SenderID:  senderID,
		Text:      text,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// NewImageMessage builds a message pointing at a stored image.
func NewImageMessage(chatID, senderID uuid.UUID, imageURL string) (*ChatMessage, error) {
	if imageURL == "" {
		return nil, apperrors.ErrMessageEmpty
	}
	return &ChatMessage{
		ID:        uuid.New(),
		ChatID:    chatID,
		SenderID:  senderID,
		ImageURL:  imageURL,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// Preview is a short description used in notifications.
func (m *ChatMessage) Preview() string {
	if m.Text == "" {
		return "Sent an image"
	}
	if utf8.RuneCountInString(m.Text) <= 80 {
		return m.Text
	}
	runes := []rune(m.Text)
	return string(runes[:80]) + "..."
}
