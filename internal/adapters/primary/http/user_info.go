package http

import (
	"context"

	"github.com/google/uuid"

	"github.com/lorrc/marketplace-realtime/internal/core/domain"
	"github.com/lorrc/marketplace-realtime/internal/core/ports"
)

// UserInfoDTO is the public face of another user: enough to render a chat
// row or a sender bubble.
type UserInfoDTO struct {
	UserID    string `json:"userId"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatarUrl,omitempty"`
}

func toUserInfoDTO(u domain.UserInfo) UserInfoDTO {
	return UserInfoDTO{UserID: u.ID.String(), Name: u.FullName, AvatarURL: u.AvatarURL}
}

// userDirectory holds the resolved users for one response.
type userDirectory map[uuid.UUID]UserInfoDTO

// get falls back to a bare id for users that could not be resolved.
func (d userDirectory) get(id uuid.UUID) UserInfoDTO {
	if u, ok := d[id]; ok {
		return u
	}
	return UserInfoDTO{UserID: id.String()}
}

func resolveUsers(ctx context.Context, lookup ports.UserLookupService, ids []uuid.UUID) (userDirectory, error) {
	dir := userDirectory{}
	if lookup == nil || len(ids) == 0 {
		return dir, nil
	}
	users, err := lookup.GetUserInfo(ctx, ids)
	if err != nil {
		return nil, err
	}
	for id, u := range users {
		dir[id] = toUserInfoDTO(u)
	}
	return dir, nil
}
