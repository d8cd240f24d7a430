// Package memory provides the map-backed session store. It is the default
// backend: a single authoritative in-process record of users, groups and
// messages, safe for concurrent use and cheap to instantiate per test.
package memory

import (
	"sync"
	"time"

	"codechat/internal/domain"
)

type Store struct {
	mu sync.RWMutex

	users    map[int64]*domain.User
	groups   map[int64]*domain.Group
	members  map[int64]map[int64]*domain.GroupMember
	messages map[int64]*domain.Message

	// logs keeps message ids per conversation in acceptance order; it is
	// what makes the ordering invariant checkable without sorting.
	logs map[string][]int64

	// lastStamp clamps assigned timestamps so they never run backwards
	// within a conversation, even across clock steps.
	lastStamp map[string]time.Time

	nextUserID    int64
	nextGroupID   int64
	nextMessageID int64
}

func New() *Store {
	return &Store{
		users:     make(map[int64]*domain.User),
		groups:    make(map[int64]*domain.Group),
		members:   make(map[int64]map[int64]*domain.GroupMember),
		messages:  make(map[int64]*domain.Message),
		logs:      make(map[string][]int64),
		lastStamp: make(map[string]time.Time),
	}
}

func (s *Store) Users() domain.UserRepository       { return &UserRepo{s: s} }
func (s *Store) Groups() domain.GroupRepository     { return &GroupRepo{s: s} }
func (s *Store) Messages() domain.MessageRepository { return &MessageRepo{s: s} }

// stamp assigns a server timestamp for the given conversation, monotonically
// non-decreasing per conversation key. Callers must hold s.mu.
func (s *Store) stamp(key string) time.Time {
	now := time.Now().UTC()
	if last, ok := s.lastStamp[key]; ok && now.Before(last) {
		now = last
	}
	s.lastStamp[key] = now
	return now
}
