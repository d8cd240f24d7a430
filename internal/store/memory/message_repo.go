package memory

import (
	"context"

	"codechat/internal/domain"
)

type MessageRepo struct {
	s *Store
}

var _ domain.MessageRepository = (*MessageRepo)(nil)

// Create validates the direct/group target exclusivity, assigns the id and
// a per-conversation monotonic timestamp, and appends to the conversation log.
func (r *MessageRepo) Create(ctx context.Context, m *domain.Message) error {
	if (m.RecipientID == nil) == (m.GroupID == nil) {
		return domain.ErrValidation
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.users[m.SenderID]; !ok {
		return domain.ErrNotFound
	}
	if m.RecipientID != nil {
		if _, ok := r.s.users[*m.RecipientID]; !ok {
			return domain.ErrNotFound
		}
	}
	if m.GroupID != nil {
		if _, ok := r.s.groups[*m.GroupID]; !ok {
			return domain.ErrNotFound
		}
	}

	key := m.Ref().Key()
	r.s.nextMessageID++
	m.ID = r.s.nextMessageID
	m.CreatedAt = r.s.stamp(key)

	stored := *m
	r.s.messages[m.ID] = &stored
	r.s.logs[key] = append(r.s.logs[key], m.ID)
	return nil
}

func (r *MessageRepo) GetByID(ctx context.Context, id int64) (*domain.Message, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	m, ok := r.s.messages[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (r *MessageRepo) Update(ctx context.Context, m *domain.Message) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.messages[m.ID]; !ok {
		return domain.ErrNotFound
	}
	stored := *m
	r.s.messages[m.ID] = &stored
	return nil
}

func (r *MessageRepo) ListConversation(ctx context.Context, ref domain.ConversationRef, limit int) ([]*domain.Message, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	log := r.s.logs[ref.Key()]
	if limit > 0 && len(log) > limit {
		log = log[len(log)-limit:]
	}
	res := make([]*domain.Message, 0, len(log))
	for _, id := range log {
		if m, ok := r.s.messages[id]; ok {
			cp := *m
			res = append(res, &cp)
		}
	}
	return res, nil
}

func (r *MessageRepo) PruneConversation(ctx context.Context, ref domain.ConversationRef, keepLimit int) error {
	if keepLimit <= 0 {
		return nil
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	key := ref.Key()
	log := r.s.logs[key]
	if len(log) <= keepLimit {
		return nil
	}
	drop := log[:len(log)-keepLimit]
	for _, id := range drop {
		delete(r.s.messages, id)
	}
	r.s.logs[key] = append([]int64(nil), log[len(log)-keepLimit:]...)
	return nil
}
