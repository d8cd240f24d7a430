package domain

import (
	"context"
)

// UserRepository defines persistence operations for users.
type UserRepository interface {
	Create(ctx context.Context, u *User) error
	GetByID(ctx context.Context, id int64) (*User, error)
	GetByUsername(ctx context.Context, username string) (*User, error)
	List(ctx context.Context) ([]*User, error)
	ListOnline(ctx context.Context) ([]*User, error)
	// SetPresence updates a user's presence and last-seen timestamp.
	// Returns ErrNotFound for unknown users.
	SetPresence(ctx context.Context, id int64, p Presence) error
}

// GroupRepository defines persistence operations for groups and rosters.
type GroupRepository interface {
	Create(ctx context.Context, g *Group, ownerID int64) error
	GetByID(ctx context.Context, id int64) (*Group, error)
	List(ctx context.Context) ([]*Group, error)
	ListForUser(ctx context.Context, userID int64) ([]*Group, error)
	AppendMember(ctx context.Context, groupID, userID int64, isAdmin bool) error
	RemoveMember(ctx context.Context, groupID, userID int64) error
	ListMembers(ctx context.Context, groupID int64) ([]*GroupMember, error)
	IsMember(ctx context.Context, groupID, userID int64) (bool, error)
}

// MessageRepository defines persistence operations for messages.
// Create assigns the message id and a server timestamp that is
// monotonically non-decreasing within the message's conversation.
type MessageRepository interface {
	Create(ctx context.Context, m *Message) error
	GetByID(ctx context.Context, id int64) (*Message, error)
	Update(ctx context.Context, m *Message) error
	ListConversation(ctx context.Context, ref ConversationRef, limit int) ([]*Message, error)
	PruneConversation(ctx context.Context, ref ConversationRef, keepLimit int) error
}
