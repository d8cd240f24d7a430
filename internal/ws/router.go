package ws

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"codechat/internal/domain"
	"codechat/internal/service"
)

// Router turns one inbound message envelope into validated persistence plus
// fan-out. Persist-then-enqueue runs under a per-conversation lock, which
// together with the per-connection writer queues guarantees that every
// member observes a conversation's messages in acceptance order.
type Router struct {
	hub      *Hub
	messages *service.MessageService

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewRouter(hub *Hub, messages *service.MessageService) *Router {
	return &Router{
		hub:      hub,
		messages: messages,
		locks:    make(map[string]*sync.Mutex),
	}
}

// lockFor returns the mutex serializing one conversation. Entries are never
// freed; the map is bounded by the number of conversations ever touched.
func (r *Router) lockFor(key string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.locks[key]
	if !ok {
		l = &sync.Mutex{}
		r.locks[key] = l
	}
	return l
}

// Route validates, persists (with one retry) and fans the message out to
// the recipient snapshot. Fan-out failures never roll persistence back.
func (r *Router) Route(ctx context.Context, senderID int64, env *Envelope) (*service.MessageResponse, error) {
	ref, err := env.Ref(senderID)
	if err != nil {
		return nil, err
	}

	in := service.MessageCreateInput{
		Text:        env.Text,
		Attachments: env.Attachments,
	}
	if env.CodeSnippet != nil {
		in.CodeSnippets = []domain.CodeSnippet{*env.CodeSnippet}
	}
	if ref.IsGroup() {
		gid := ref.GroupID
		in.GroupID = &gid
	} else {
		rid := env.Target.ID
		in.RecipientID = &rid
	}

	l := r.lockFor(ref.Key())
	l.Lock()
	defer l.Unlock()

	msg, err := r.messages.CreateMessage(ctx, in, senderID)
	if err != nil {
		if isClientFault(err) {
			return nil, err
		}
		// persistence hiccup: retry once, then surface as a delivery error
		msg, err = r.messages.CreateMessage(ctx, in, senderID)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrDelivery, err)
		}
	}

	resp, err := r.messages.ToResponse(ctx, msg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrDelivery, err)
	}

	recipients, err := r.messages.Recipients(ctx, msg)
	if err != nil {
		// the message is durable; recipients fetch it from history
		log.Printf("router: resolve recipients for message %d: %v", msg.ID, err)
		return resp, nil
	}

	r.hub.BroadcastToUsers(recipients, messageEvent{Type: "message", Message: resp})
	return resp, nil
}

// Fanout pushes an already-persisted message event (edit, delete) to the
// conversation's current roster.
func (r *Router) Fanout(ctx context.Context, eventType string, msg *domain.Message) error {
	resp, err := r.messages.ToResponse(ctx, msg)
	if err != nil {
		return err
	}
	recipients, err := r.messages.Recipients(ctx, msg)
	if err != nil {
		return err
	}
	r.hub.BroadcastToUsers(recipients, messageEvent{Type: eventType, Message: resp})
	return nil
}

// isClientFault reports whether the error is the sender's, in which case a
// retry cannot help.
func isClientFault(err error) bool {
	return errors.Is(err, domain.ErrValidation) ||
		errors.Is(err, domain.ErrNotFound) ||
		errors.Is(err, domain.ErrForbidden)
}
