package domain

import (
	"time"
)

// MessageSnapshot matches the API response shape for chat messages.
// It is also the payload of the new_message socket event.
type MessageSnapshot struct {
	MessageID string `json:"messageId"`
	ChatID    string `json:"chatId"`
	SenderID  string `json:"senderId"`
	Text      string `json:"text,omitempty"`
	ImageURL  string `json:"imageUrl,omitempty"`
	IsRead    bool   `json:"isRead"`
	CreatedAt string `json:"createdAt"`
}

// SenderSnapshot identifies who triggered a notification.
type SenderSnapshot struct {
	UserID    string `json:"userId"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatarUrl,omitempty"`
}

// NotificationSnapshot matches the API response shape for notifications.
// It is also the data of the notification SSE event.
type NotificationSnapshot struct {
	NotificationID    string          `json:"notificationId"`
	Seq               int64           `json:"seq"`
	IsRead            bool            `json:"isRead"`
	Sender            *SenderSnapshot `json:"sender,omitempty"`
	RelatedEntityType string          `json:"relatedEntityType"`
	RelatedEntityID   string          `json:"relatedEntityId,omitempty"`
	Title             string          `json:"title"`
	Content           string          `json:"content"`
	CreatedAt         string          `json:"createdAt"`
}

// NewMessageSnapshot builds a message snapshot from a domain message.
func NewMessageSnapshot(msg *ChatMessage) MessageSnapshot {
	return MessageSnapshot{
		MessageID: msg.ID.String(),
		ChatID:    msg.ChatID.String(),
		SenderID:  msg.SenderID.String(),
		Text:      msg.Text,
		ImageURL:  msg.ImageURL,
		IsRead:    msg.IsRead,
		CreatedAt: msg.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

// NewNotificationSnapshot builds a notification snapshot from a domain notification.
func NewNotificationSnapshot(n *Notification) NotificationSnapshot {
	var sender *SenderSnapshot
	if n.Sender != nil {
		sender = &SenderSnapshot{
			UserID:    n.Sender.ID.String(),
			Name:      n.Sender.FullName,
			AvatarURL: n.Sender.AvatarURL,
		}
	}

	return NotificationSnapshot{
		NotificationID:    n.ID.String(),
		Seq:               n.Seq,
		IsRead:            n.IsRead,
		Sender:            sender,
		RelatedEntityType: string(n.RelatedEntityType),
		RelatedEntityID:   n.RelatedEntityID,
		Title:             n.Title,
		Content:           n.Content,
		CreatedAt:         n.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}
