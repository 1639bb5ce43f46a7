package user

import (
	"context"
	"fmt"

	"github.com/kinkyharbor/harbor-api/internal/domain"
)

// Profile is the public projection of a user. It never carries credential
// or moderation state.
type Profile struct {
	UserID      string `json:"id"`
	DisplayName string `json:"display_name"`
	Username    string `json:"username"`
}

type Service interface {
	GetProfile(ctx context.Context, key domain.ProfileKey) (*Profile, error)
}

type userStore interface {
	Get(ctx context.Context, userID string) (*domain.User, error)
	GetByUsername(ctx context.Context, username string) (*domain.User, error)
}

type service struct {
	users userStore
}

type ServiceDeps struct {
	UserRepo userStore
}

func NewService(deps ServiceDeps) Service {
	return &service{users: deps.UserRepo}
}

func (s *service) GetProfile(ctx context.Context, key domain.ProfileKey) (*Profile, error) {
	var (
		u   *domain.User
		err error
	)
	switch key.Kind {
	case domain.ProfileKeyID:
		u, err = s.users.Get(ctx, key.Value)
	case domain.ProfileKeyUsername:
		u, err = s.users.GetByUsername(ctx, key.Value)
	default:
		return nil, fmt.Errorf("unknown profile key kind %d: %w", key.Kind, domain.ErrBadRequest)
	}
	if err != nil {
		return nil, err
	}
	return &Profile{
		UserID:      u.UserID,
		DisplayName: u.DisplayName,
		Username:    u.Username,
	}, nil
}
