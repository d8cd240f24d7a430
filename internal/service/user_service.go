package service

import (
	"context"
	"fmt"

	"codechat/internal/domain"
)

// UserService exposes user lookup and presence mutation.
type UserService struct {
	users domain.UserRepository
}

func NewUserService(users domain.UserRepository) *UserService {
	return &UserService{users: users}
}

func (s *UserService) Get(ctx context.Context, id int64) (*domain.User, error) {
	return s.users.GetByID(ctx, id)
}

func (s *UserService) List(ctx context.Context) ([]*domain.User, error) {
	return s.users.List(ctx)
}

func (s *UserService) ListOnline(ctx context.Context) ([]*domain.User, error) {
	return s.users.ListOnline(ctx)
}

// SetPresence validates and applies a presence change. Unknown users come
// back as ErrNotFound; callers decide whether that is worth more than a log
// line.
func (s *UserService) SetPresence(ctx context.Context, userID int64, p domain.Presence) error {
	if !domain.ValidPresence(p) {
		return fmt.Errorf("%w: unknown presence %q", domain.ErrValidation, p)
	}
	return s.users.SetPresence(ctx, userID, p)
}
