package ws

import (
	"errors"

	"codechat/internal/domain"
	"codechat/internal/service"
)

// Target addresses a conversation in an inbound envelope.
type Target struct {
	Kind string `json:"kind"` // "direct" | "group"
	ID   int64  `json:"id"`
}

// Envelope is the single client→server message shape; Type selects which
// fields are meaningful.
type Envelope struct {
	Type string `json:"type"`

	// message / message:edit / message:delete / typing
	Target      *Target             `json:"target,omitempty"`
	Text        string              `json:"text,omitempty"`
	CodeSnippet *domain.CodeSnippet `json:"codeSnippet,omitempty"`
	Attachments []domain.Attachment `json:"attachments,omitempty"`
	MessageID   int64               `json:"messageId,omitempty"`

	// presence
	Status domain.Presence `json:"status,omitempty"`

	// call control
	Recipients []int64         `json:"recipients,omitempty"`
	CallType   domain.CallType `json:"callType,omitempty"`
	SessionID  string          `json:"sessionId,omitempty"`
}

// Ref resolves the envelope's target into a conversation reference from the
// sender's point of view.
func (e *Envelope) Ref(senderID int64) (domain.ConversationRef, error) {
	if e.Target == nil {
		return domain.ConversationRef{}, domain.ErrValidation
	}
	switch e.Target.Kind {
	case "direct":
		return domain.DirectRef(senderID, e.Target.ID), nil
	case "group":
		return domain.GroupRef(e.Target.ID), nil
	default:
		return domain.ConversationRef{}, domain.ErrValidation
	}
}

// Server→client event shapes.

type messageEvent struct {
	Type    string                   `json:"type"`
	Message *service.MessageResponse `json:"message"`
}

type typingEvent struct {
	Type   string         `json:"type"`
	Target *Target        `json:"target"`
	User   domain.Profile `json:"user"`
}

type presenceEvent struct {
	Type   string          `json:"type"`
	UserID int64           `json:"userId"`
	Status domain.Presence `json:"status"`
}

type callEvent struct {
	Type    string             `json:"type"`
	Session domain.CallSession `json:"session"`
	Reason  string             `json:"reason,omitempty"`
	ActorID int64              `json:"actorId,omitempty"`
}

type errorEvent struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// errorCode maps domain sentinels onto wire error codes.
func errorCode(err error) string {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return "validation_error"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrConflict):
		return "conflict"
	case errors.Is(err, domain.ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, domain.ErrDelivery):
		return "delivery_error"
	case errors.Is(err, domain.ErrForbidden):
		return "forbidden"
	case errors.Is(err, domain.ErrUnauthorized):
		return "unauthorized"
	default:
		return "internal_error"
	}
}
