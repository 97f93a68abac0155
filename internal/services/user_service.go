package services

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"convohub/internal/apperr"
	"convohub/internal/models"
	"convohub/internal/repositories"
)

// UserService serves the user directory and the manual status override.
type UserService struct {
	base
}

func NewUserService(d Deps) *UserService {
	return &UserService{base: newBase(d)}
}

// List returns every user except userID.
func (s *UserService) List(ctx context.Context, userID string) ([]models.UserSummary, error) {
	users, err := s.store.Users.ListUsersExcept(ctx, userID)
	if err != nil {
		return nil, s.internal("list users", err)
	}
	out := make([]models.UserSummary, 0, len(users))
	for _, u := range users {
		out = append(out, u.Summary())
	}
	return out, nil
}

func (s *UserService) Profile(ctx context.Context, userID string) (models.UserSummary, error) {
	user, err := s.user(ctx, userID)
	if err != nil {
		return models.UserSummary{}, err
	}
	return user.Summary(), nil
}

// TouchLastSeen stamps the caller's last seen time.
func (s *UserService) TouchLastSeen(ctx context.Context, userID string) (models.UserSummary, error) {
	if err := s.store.Users.TouchLastSeen(ctx, userID, s.now()); err != nil {
		return models.UserSummary{}, s.userErr("touch last seen", userID, err)
	}
	return s.Profile(ctx, userID)
}

// SetOnlineStatus is a manual override of the presence flag. Going offline
// stamps lastSeen.
func (s *UserService) SetOnlineStatus(ctx context.Context, userID string, online bool) (models.UserSummary, error) {
	var lastSeen *time.Time
	if !online {
		now := s.now()
		lastSeen = &now
	}
	if err := s.store.Users.SetOnline(ctx, userID, online, lastSeen); err != nil {
		return models.UserSummary{}, s.userErr("set online status", userID, err)
	}
	return s.Profile(ctx, userID)
}

func (s *UserService) userErr(op, userID string, err error) error {
	if errors.Is(err, repositories.ErrUserNotFound) {
		return apperr.NotFound("user not found")
	}
	return s.internal(op, err, zap.String("user_id", userID))
}
