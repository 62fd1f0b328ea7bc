package services

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/lorrc/marketplace-realtime/internal/core/domain"
	apperrors "github.com/lorrc/marketplace-realtime/internal/core/errors"
	"github.com/lorrc/marketplace-realtime/internal/core/ports"
)

// lookupParallelism bounds concurrent repository reads per GetUserInfo call.
const lookupParallelism = 8

// UserLookupService resolves display names and avatars for chat lists and
// the notification avatar worker.
type UserLookupService struct {
	users ports.UserRepository
}

var _ ports.UserLookupService = (*UserLookupService)(nil)

func NewUserLookupService(users ports.UserRepository) ports.UserLookupService {
	return &UserLookupService{users: users}
}

// GetUserInfo resolves each distinct id once. Unknown and nil ids are
// absent from the result rather than failing the batch.
func (s *UserLookupService) GetUserInfo(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]domain.UserInfo, error) {
	out := make(map[uuid.UUID]domain.UserInfo, len(ids))
	seen := make(map[uuid.UUID]bool, len(ids))

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(lookupParallelism)

	for _, id := range ids {
		if id == uuid.Nil || seen[id] {
			continue
		}
		seen[id] = true

		g.Go(func() error {
			user, err := s.users.GetByID(ctx, id)
			switch {
			case errors.Is(err, apperrors.ErrUserNotFound):
				return nil
			case err != nil:
				return err
			}
			mu.Lock()
			out[id] = user.Info()
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// GetAvatar returns the display name and avatar of a single user.
func (s *UserLookupService) GetAvatar(ctx context.Context, id uuid.UUID) (*domain.UserInfo, error) {
	if id == uuid.Nil {
		return nil, apperrors.ErrUserNotFound
	}
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	info := user.Info()
	return &info, nil
}
