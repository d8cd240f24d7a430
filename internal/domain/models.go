package domain

import (
	"fmt"
	"time"
)

// Presence is a user's reachability status, broadcast on change.
type Presence string

const (
	PresenceOnline  Presence = "online"
	PresenceAway    Presence = "away"
	PresenceOffline Presence = "offline"
)

// ValidPresence reports whether p is one of the known presence values.
func ValidPresence(p Presence) bool {
	switch p {
	case PresenceOnline, PresenceAway, PresenceOffline:
		return true
	}
	return false
}

// User represents an application user.
type User struct {
	ID             int64     `db:"id" json:"id"`
	Username       string    `db:"username" json:"username"`
	HashedPassword string    `db:"hashed_password" json:"-"`
	AvatarInitial  string    `db:"avatar_initial" json:"avatar_initial"`
	AvatarColor    string    `db:"avatar_color" json:"avatar_color"`
	Presence       Presence  `db:"presence" json:"presence"`
	IsActive       bool      `db:"is_active" json:"is_active"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	LastSeen       time.Time `db:"last_seen" json:"last_seen"`
}

// Profile is the public slice of a user embedded in fan-out payloads.
type Profile struct {
	ID            int64    `json:"id"`
	Username      string   `json:"username"`
	AvatarInitial string   `json:"avatar_initial"`
	AvatarColor   string   `json:"avatar_color"`
	Presence      Presence `json:"presence"`
}

// Profile returns the user's public profile fields.
func (u *User) Profile() Profile {
	return Profile{
		ID:            u.ID,
		Username:      u.Username,
		AvatarInitial: u.AvatarInitial,
		AvatarColor:   u.AvatarColor,
		Presence:      u.Presence,
	}
}

// Group represents a named channel with a mutable member roster.
type Group struct {
	ID        int64     `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	Icon      string    `db:"icon" json:"icon"`
	Color     string    `db:"color" json:"color"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// GroupMember represents the membership of a user in a group.
type GroupMember struct {
	GroupID  int64     `db:"group_id" json:"group_id"`
	UserID   int64     `db:"user_id" json:"user_id"`
	IsAdmin  bool      `db:"is_admin" json:"is_admin"`
	JoinedAt time.Time `db:"joined_at" json:"joined_at"`
}

// CodeSnippet is a language-tagged block of code attached to a message.
type CodeSnippet struct {
	Language string `json:"language"`
	Code     string `json:"code"`
}

// Attachment is a file reference attached to a message. The file itself
// lives under the upload directory and is served over HTTP.
type Attachment struct {
	Name string `json:"name"`
	Path string `json:"path"`
	Type string `json:"type"`
	Size int64  `json:"size"`
}

// Message represents a single chat message. Exactly one of RecipientID and
// GroupID is set. Text is immutable except through edit; deletion leaves a
// tombstone rather than removing the row.
type Message struct {
	ID           int64         `db:"id" json:"id"`
	SenderID     int64         `db:"sender_id" json:"sender_id"`
	RecipientID  *int64        `db:"recipient_id" json:"recipient_id,omitempty"`
	GroupID      *int64        `db:"group_id" json:"group_id,omitempty"`
	Text         string        `db:"text" json:"text"` // encrypted at rest
	CodeSnippets []CodeSnippet `db:"code_snippets" json:"code_snippets,omitempty"`
	Attachments  []Attachment  `db:"attachments" json:"attachments,omitempty"`
	CreatedAt    time.Time     `db:"created_at" json:"created_at"`
	IsEdited     bool          `db:"is_edited" json:"is_edited"`
	IsDeleted    bool          `db:"is_deleted" json:"is_deleted"`
}

// Ref returns the conversation the message belongs to.
func (m *Message) Ref() ConversationRef {
	if m.GroupID != nil {
		return GroupRef(*m.GroupID)
	}
	return DirectRef(m.SenderID, *m.RecipientID)
}

// ConversationRef identifies the unit of message ordering and fan-out:
// a normalized direct pair or a group.
type ConversationRef struct {
	UserA   int64 `json:"user_a,omitempty"`
	UserB   int64 `json:"user_b,omitempty"`
	GroupID int64 `json:"group_id,omitempty"`
}

// DirectRef builds a normalized reference for a direct pair.
func DirectRef(a, b int64) ConversationRef {
	if a > b {
		a, b = b, a
	}
	return ConversationRef{UserA: a, UserB: b}
}

// GroupRef builds a reference for a group conversation.
func GroupRef(groupID int64) ConversationRef {
	return ConversationRef{GroupID: groupID}
}

// IsGroup reports whether the reference targets a group.
func (r ConversationRef) IsGroup() bool {
	return r.GroupID != 0
}

// Key returns a stable string key, used for per-conversation serialization.
func (r ConversationRef) Key() string {
	if r.IsGroup() {
		return fmt.Sprintf("group:%d", r.GroupID)
	}
	return fmt.Sprintf("direct:%d:%d", r.UserA, r.UserB)
}

// CallType distinguishes audio-only calls from video calls.
type CallType string

const (
	CallAudio CallType = "audio"
	CallVideo CallType = "video"
)

// CallStatus is the lifecycle state of a call session.
type CallStatus string

const (
	CallIdle      CallStatus = "idle"
	CallCalling   CallStatus = "calling"
	CallConnected CallStatus = "connected"
	CallEnded     CallStatus = "ended"
)

// CallParticipant holds per-participant media flags within a session.
type CallParticipant struct {
	UserID   int64     `json:"user_id"`
	Audio    bool      `json:"audio"`
	Video    bool      `json:"video"`
	Screen   bool      `json:"screen"`
	JoinedAt time.Time `json:"joined_at"`
}

// CallSession is a snapshot of a call session as observed by clients.
// The live session is owned by the call state machine; snapshots are taken
// under its lock so no reader sees a half-applied transition.
type CallSession struct {
	ID             string            `json:"id"`
	InitiatorID    int64             `json:"initiator_id"`
	Type           CallType          `json:"type"`
	Status         CallStatus        `json:"status"`
	Participants   []CallParticipant `json:"participants"`
	Invited        []int64           `json:"invited,omitempty"`
	ScreenSharerID *int64            `json:"screen_sharer_id,omitempty"`
	StartedAt      time.Time         `json:"started_at"`
	EndedAt        *time.Time        `json:"ended_at,omitempty"`
}
