package memory

import (
	"context"
	"sort"
	"time"

	"codechat/internal/domain"
)

type GroupRepo struct {
	s *Store
}

var _ domain.GroupRepository = (*GroupRepo)(nil)

func (r *GroupRepo) Create(ctx context.Context, g *domain.Group, ownerID int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.users[ownerID]; !ok {
		return domain.ErrNotFound
	}

	r.s.nextGroupID++
	g.ID = r.s.nextGroupID
	g.CreatedAt = time.Now().UTC()

	stored := *g
	r.s.groups[g.ID] = &stored
	r.s.members[g.ID] = map[int64]*domain.GroupMember{
		ownerID: {
			GroupID:  g.ID,
			UserID:   ownerID,
			IsAdmin:  true,
			JoinedAt: g.CreatedAt,
		},
	}
	return nil
}

func (r *GroupRepo) GetByID(ctx context.Context, id int64) (*domain.Group, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	g, ok := r.s.groups[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *g
	return &cp, nil
}

func (r *GroupRepo) List(ctx context.Context) ([]*domain.Group, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	res := make([]*domain.Group, 0, len(r.s.groups))
	for _, g := range r.s.groups {
		cp := *g
		res = append(res, &cp)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res, nil
}

func (r *GroupRepo) ListForUser(ctx context.Context, userID int64) ([]*domain.Group, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var res []*domain.Group
	for gid, members := range r.s.members {
		if _, ok := members[userID]; !ok {
			continue
		}
		if g, ok := r.s.groups[gid]; ok {
			cp := *g
			res = append(res, &cp)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res, nil
}

func (r *GroupRepo) AppendMember(ctx context.Context, groupID, userID int64, isAdmin bool) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	members, ok := r.s.members[groupID]
	if !ok {
		return domain.ErrNotFound
	}
	if _, ok := r.s.users[userID]; !ok {
		return domain.ErrNotFound
	}
	if _, ok := members[userID]; ok {
		return domain.ErrConflict
	}
	members[userID] = &domain.GroupMember{
		GroupID:  groupID,
		UserID:   userID,
		IsAdmin:  isAdmin,
		JoinedAt: time.Now().UTC(),
	}
	return nil
}

func (r *GroupRepo) RemoveMember(ctx context.Context, groupID, userID int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	members, ok := r.s.members[groupID]
	if !ok {
		return domain.ErrNotFound
	}
	if _, ok := members[userID]; !ok {
		return domain.ErrNotFound
	}
	delete(members, userID)
	return nil
}

func (r *GroupRepo) ListMembers(ctx context.Context, groupID int64) ([]*domain.GroupMember, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	members, ok := r.s.members[groupID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	res := make([]*domain.GroupMember, 0, len(members))
	for _, m := range members {
		cp := *m
		res = append(res, &cp)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].UserID < res[j].UserID })
	return res, nil
}

func (r *GroupRepo) IsMember(ctx context.Context, groupID, userID int64) (bool, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	members, ok := r.s.members[groupID]
	if !ok {
		return false, domain.ErrNotFound
	}
	_, ok = members[userID]
	return ok, nil
}
