package memory

import (
	"context"
	"sort"
	"time"

	"codechat/internal/domain"
)

type UserRepo struct {
	s *Store
}

var _ domain.UserRepository = (*UserRepo)(nil)

func (r *UserRepo) Create(ctx context.Context, u *domain.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, existing := range r.s.users {
		if existing.Username == u.Username {
			return domain.ErrConflict
		}
	}

	r.s.nextUserID++
	u.ID = r.s.nextUserID
	now := time.Now().UTC()
	u.CreatedAt = now
	u.LastSeen = now
	if u.Presence == "" {
		u.Presence = domain.PresenceOffline
	}

	stored := *u
	r.s.users[u.ID] = &stored
	return nil
}

func (r *UserRepo) GetByID(ctx context.Context, id int64) (*domain.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	u, ok := r.s.users[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (r *UserRepo) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	for _, u := range r.s.users {
		if u.Username == username {
			cp := *u
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *UserRepo) List(ctx context.Context) ([]*domain.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	res := make([]*domain.User, 0, len(r.s.users))
	for _, u := range r.s.users {
		cp := *u
		res = append(res, &cp)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res, nil
}

func (r *UserRepo) ListOnline(ctx context.Context) ([]*domain.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var res []*domain.User
	for _, u := range r.s.users {
		if u.Presence == domain.PresenceOnline || u.Presence == domain.PresenceAway {
			cp := *u
			res = append(res, &cp)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res, nil
}

func (r *UserRepo) SetPresence(ctx context.Context, id int64, p domain.Presence) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	u, ok := r.s.users[id]
	if !ok {
		return domain.ErrNotFound
	}
	u.Presence = p
	u.LastSeen = time.Now().UTC()
	return nil
}
