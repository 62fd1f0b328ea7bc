package api

import "time"

// User is the signed-in account.
type User struct {
	UserID    string `json:"userId"`
	FullName  string `json:"fullName"`
	Email     string `json:"email"`
	Role      string `json:"role"`
	AvatarURL string `json:"avatarUrl,omitempty"`
	CreatedAt string `json:"createdAt"`
}

// Session is the result of a successful login.
type Session struct {
	Token     string `json:"token"`
	ExpiresAt string `json:"expiresAt"`
	User      User   `json:"user"`
}

// Expiry parses ExpiresAt; the zero time means unknown.
func (s Session) Expiry() time.Time {
	t, err := time.Parse(time.RFC3339, s.ExpiresAt)
	if err != nil {
		return time.Time{}
	}
	return t
}

// Sender identifies who triggered a notification.
type Sender struct {
	UserID    string `json:"userId"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatarUrl,omitempty"`
}

// Notification mirrors the backend notification snapshot.
type Notification struct {
	NotificationID    string  `json:"notificationId"`
	Seq               int64   `json:"seq,omitempty"`
	IsRead            bool    `json:"isRead"`
	Sender            *Sender `json:"sender,omitempty"`
	RelatedEntityType string  `json:"relatedEntityType"`
	RelatedEntityID   string  `json:"relatedEntityId,omitempty"`
	Title             string  `json:"title"`
	Content           string  `json:"content"`
	CreatedAt         string  `json:"createdAt"`
}

// NotificationPage is one page of GET /api/notifications/me.
type NotificationPage struct {
	Data      []Notification `json:"data"`
	Count     int            `json:"count"`
	Limit     int            `json:"limit"`
	Offset    int            `json:"offset"`
	Watermark int64          `json:"watermark"`
}

// UserInfo is the public profile used for avatars.
type UserInfo struct {
	UserID    string `json:"userId"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatarUrl,omitempty"`
}

// ChatMessage mirrors the backend message snapshot and the new_message payload.
type ChatMessage struct {
	MessageID string `json:"messageId"`
	ChatID    string `json:"chatId"`
	SenderID  string `json:"senderId"`
	Text      string `json:"text,omitempty"`
	ImageURL  string `json:"imageUrl,omitempty"`
	IsRead    bool   `json:"isRead"`
	CreatedAt string `json:"createdAt"`
}

// Chat is one conversation of the signed-in user.
type Chat struct {
	ChatID       string       `json:"chatId"`
	Counterpart  UserInfo     `json:"counterpart"`
	LastMessage  *ChatMessage `json:"lastMessage,omitempty"`
	UnreadCount  int          `json:"unreadCount"`
	CreatedAt    string       `json:"createdAt"`
	Participants []string     `json:"participants"`
}

type listResponse[T any] struct {
	Data  []T `json:"data"`
	Count int `json:"count"`
}
