package service

import (
	"context"
	"errors"
	"fmt"

	"codechat/internal/domain"
)

// GroupService manages groups and their rosters. The creator becomes the
// first member and admin; roster mutations require admin rights.
type GroupService struct {
	groups domain.GroupRepository
	users  domain.UserRepository
}

func NewGroupService(groups domain.GroupRepository, users domain.UserRepository) *GroupService {
	return &GroupService{groups: groups, users: users}
}

type GroupCreateInput struct {
	Name  string
	Icon  string
	Color string
}

func (s *GroupService) Create(ctx context.Context, in GroupCreateInput, ownerID int64) (*domain.Group, error) {
	if in.Name == "" {
		return nil, fmt.Errorf("%w: group name is required", domain.ErrValidation)
	}
	g := &domain.Group{
		Name:  in.Name,
		Icon:  in.Icon,
		Color: in.Color,
	}
	if err := s.groups.Create(ctx, g, ownerID); err != nil {
		return nil, err
	}
	return g, nil
}

func (s *GroupService) Get(ctx context.Context, id int64) (*domain.Group, error) {
	return s.groups.GetByID(ctx, id)
}

func (s *GroupService) List(ctx context.Context) ([]*domain.Group, error) {
	return s.groups.List(ctx)
}

func (s *GroupService) ListForUser(ctx context.Context, userID int64) ([]*domain.Group, error) {
	return s.groups.ListForUser(ctx, userID)
}

func (s *GroupService) ListMembers(ctx context.Context, groupID int64) ([]*domain.GroupMember, error) {
	return s.groups.ListMembers(ctx, groupID)
}

// isAdmin reports whether the user is an admin of the group.
func (s *GroupService) isAdmin(ctx context.Context, groupID, userID int64) (bool, error) {
	members, err := s.groups.ListMembers(ctx, groupID)
	if err != nil {
		return false, err
	}
	for _, m := range members {
		if m.UserID == userID {
			return m.IsAdmin, nil
		}
	}
	return false, nil
}

func (s *GroupService) AppendMember(ctx context.Context, groupID, callerID, userID int64) error {
	admin, err := s.isAdmin(ctx, groupID, callerID)
	if err != nil {
		return err
	}
	if !admin {
		return domain.ErrForbidden
	}
	if _, err := s.users.GetByID(ctx, userID); err != nil {
		return err
	}
	err = s.groups.AppendMember(ctx, groupID, userID, false)
	if errors.Is(err, domain.ErrConflict) {
		// already a member; treat as idempotent
		return nil
	}
	return err
}

func (s *GroupService) RemoveMember(ctx context.Context, groupID, callerID, userID int64) error {
	// members may leave on their own; removing others takes admin rights
	if callerID != userID {
		admin, err := s.isAdmin(ctx, groupID, callerID)
		if err != nil {
			return err
		}
		if !admin {
			return domain.ErrForbidden
		}
	}
	return s.groups.RemoveMember(ctx, groupID, userID)
}
