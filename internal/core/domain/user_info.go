package domain

import "github.com/google/uuid"

// UserInfo is a lightweight projection for displaying a counterpart or sender.
type UserInfo struct {
	ID        uuid.UUID
	FullName  string
	AvatarURL string
}

func (u *User) Info() UserInfo {
	return UserInfo{ID: u.ID, FullName: u.FullName, AvatarURL: u.AvatarURL}
}
