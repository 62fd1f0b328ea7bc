package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/lorrc/marketplace-realtime/internal/core/errors"
)

const (
	MaxNotificationTitleLength   = 200
	MaxNotificationContentLength = 2000
)

// RelatedEntityType names the marketplace entity a notification points at.
type RelatedEntityType string

const (
	EntityChat    RelatedEntityType = "chat"
	EntityBid     RelatedEntityType = "bid"
	EntityOrder   RelatedEntityType = "order"
	EntityInvoice RelatedEntityType = "invoice"
	EntityProduct RelatedEntityType = "product"
)

// IsValid checks if the entity type is one of the known kinds.
func (t RelatedEntityType) IsValid() bool {
	switch t {
	case EntityChat, EntityBid, EntityOrder, EntityInvoice, EntityProduct:
		return true
	}
	return false
}

// Notification is a message addressed to a single user.
// Seq is assigned by storage and grows monotonically across all notifications.
type Notification struct {
	ID                uuid.UUID
	Seq               int64
	RecipientID       uuid.UUID
	Sender            *UserInfo
	RelatedEntityType RelatedEntityType
	RelatedEntityID   string
	Title             string
	Content           string
	IsRead            bool
	CreatedAt         time.Time
}

// NotificationParams holds the input for creating a notification.
type NotificationParams struct {
	RecipientID       uuid.UUID
	SenderID          uuid.UUID // uuid.Nil for system notifications
	RelatedEntityType RelatedEntityType
	RelatedEntityID   string
	Title             string
	Content           string
}

// NewNotification validates params and builds an unread notification.
func NewNotification(p NotificationParams) (*Notification, error) {
	if p.RecipientID == uuid.Nil {
		return nil, apperrors.ErrRecipientRequired
	}
	if !p.RelatedEntityType.IsValid() {
		return nil, apperrors.ErrInvalidEntityType
	}

	title := strings.TrimSpace(p.Title)
	if title == "" {
		return nil, apperrors.ErrTitleRequired
	}
	if len(title) > MaxNotificationTitleLength {
		title = title[:MaxNotificationTitleLength]
	}

	content := strings.TrimSpace(p.Content)
	if len(content) > MaxNotificationContentLength {
		content = content[:MaxNotificationContentLength]
	}

	n := &Notification{
		ID:                uuid.New(),
		RecipientID:       p.RecipientID,
		RelatedEntityType: p.RelatedEntityType,
		RelatedEntityID:   p.RelatedEntityID,
		Title:             title,
		Content:           content,
		CreatedAt:         time.Now().UTC(),
	}
	if p.SenderID != uuid.Nil {
		n.Sender = &UserInfo{ID: p.SenderID}
	}
	return n, nil
}

// MarkRead flips the read flag. It is idempotent.
func (n *Notification) MarkRead() {
	n.IsRead = true
}

// NotificationPage is one page of a user's notifications plus the highest
// sequence number visible to that user.
type NotificationPage struct {
	Items     []*Notification
	Watermark int64
}
