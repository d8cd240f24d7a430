package service

import (
	"context"
	"fmt"
	"time"

	"codechat/internal/domain"
	"codechat/internal/security"
)

// ErrMessageDeleted marks operations on tombstoned messages. It wraps
// ErrInvalidState so the wire and HTTP layers report it as a client fault.
var ErrMessageDeleted = fmt.Errorf("%w: message is already deleted", domain.ErrInvalidState)

const maxTextRunes = 5000

// MessageService validates, persists and enriches chat messages. Message
// text is encrypted before it reaches any repository and decrypted on the
// way out.
type MessageService struct {
	users     domain.UserRepository
	groups    domain.GroupRepository
	messages  domain.MessageRepository
	encryptor *security.Encryptor

	MaxMessagesPerConversation int
}

func NewMessageService(
	users domain.UserRepository,
	groups domain.GroupRepository,
	messages domain.MessageRepository,
	encryptor *security.Encryptor,
	maxMessages int,
) *MessageService {
	return &MessageService{
		users:                      users,
		groups:                     groups,
		messages:                   messages,
		encryptor:                  encryptor,
		MaxMessagesPerConversation: maxMessages,
	}
}

type MessageCreateInput struct {
	RecipientID  *int64
	GroupID      *int64
	Text         string
	CodeSnippets []domain.CodeSnippet
	Attachments  []domain.Attachment
}

// CreateMessage validates the target and content, checks the sender may
// write to the conversation, encrypts and persists.
func (s *MessageService) CreateMessage(ctx context.Context, in MessageCreateInput, senderID int64) (*domain.Message, error) {
	if (in.RecipientID == nil) == (in.GroupID == nil) {
		return nil, fmt.Errorf("%w: exactly one of recipient_id and group_id must be set", domain.ErrValidation)
	}
	if in.Text == "" && len(in.CodeSnippets) == 0 && len(in.Attachments) == 0 {
		return nil, fmt.Errorf("%w: message needs text, a code snippet or an attachment", domain.ErrValidation)
	}
	if len([]rune(in.Text)) > maxTextRunes {
		return nil, fmt.Errorf("%w: message text exceeds %d characters", domain.ErrValidation, maxTextRunes)
	}

	if in.RecipientID != nil {
		if *in.RecipientID == senderID {
			return nil, fmt.Errorf("%w: a direct pair needs two distinct users", domain.ErrValidation)
		}
		if _, err := s.users.GetByID(ctx, *in.RecipientID); err != nil {
			return nil, err
		}
	} else {
		isMember, err := s.groups.IsMember(ctx, *in.GroupID, senderID)
		if err != nil {
			return nil, err
		}
		if !isMember {
			return nil, domain.ErrForbidden
		}
	}

	encrypted, err := s.encryptor.Encrypt(in.Text)
	if err != nil {
		return nil, fmt.Errorf("encrypt text: %w", err)
	}

	msg := &domain.Message{
		SenderID:     senderID,
		RecipientID:  in.RecipientID,
		GroupID:      in.GroupID,
		Text:         encrypted,
		CodeSnippets: in.CodeSnippets,
		Attachments:  in.Attachments,
	}

	if err := s.messages.Create(ctx, msg); err != nil {
		return nil, err
	}

	if s.MaxMessagesPerConversation > 0 {
		if err := s.messages.PruneConversation(ctx, msg.Ref(), s.MaxMessagesPerConversation); err != nil {
			return nil, fmt.Errorf("prune old messages: %w", err)
		}
	}

	return msg, nil
}

// EditMessage replaces the text of the caller's own message.
func (s *MessageService) EditMessage(ctx context.Context, callerID, messageID int64, newText string) (*domain.Message, error) {
	if newText == "" {
		return nil, fmt.Errorf("%w: edited text must not be empty", domain.ErrValidation)
	}
	if len([]rune(newText)) > maxTextRunes {
		return nil, fmt.Errorf("%w: message text exceeds %d characters", domain.ErrValidation, maxTextRunes)
	}

	msg, err := s.messages.GetByID(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if msg.IsDeleted {
		return nil, ErrMessageDeleted
	}
	if msg.SenderID != callerID {
		return nil, domain.ErrForbidden
	}

	encrypted, err := s.encryptor.Encrypt(newText)
	if err != nil {
		return nil, fmt.Errorf("encrypt text: %w", err)
	}
	msg.Text = encrypted
	msg.IsEdited = true
	if err := s.messages.Update(ctx, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// DeleteMessage tombstones the caller's own message: the row stays so the
// conversation log keeps its shape, but all content is cleared.
func (s *MessageService) DeleteMessage(ctx context.Context, callerID, messageID int64) (*domain.Message, error) {
	msg, err := s.messages.GetByID(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if msg.SenderID != callerID {
		return nil, domain.ErrForbidden
	}
	if msg.IsDeleted {
		return msg, nil
	}

	empty, err := s.encryptor.Encrypt("")
	if err != nil {
		return nil, fmt.Errorf("encrypt tombstone: %w", err)
	}
	msg.Text = empty
	msg.CodeSnippets = nil
	msg.Attachments = nil
	msg.IsDeleted = true
	if err := s.messages.Update(ctx, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// Recipients computes the fan-out set for a message: the direct pair, or
// the group roster as it stands right now. Group snapshots are taken at
// send time; later joiners do not receive earlier messages by push.
func (s *MessageService) Recipients(ctx context.Context, msg *domain.Message) ([]int64, error) {
	if msg.GroupID == nil {
		return []int64{msg.SenderID, *msg.RecipientID}, nil
	}
	members, err := s.groups.ListMembers(ctx, *msg.GroupID)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, len(members))
	for i, m := range members {
		ids[i] = m.UserID
	}
	return ids, nil
}

// CanRead reports whether the user belongs to the conversation.
func (s *MessageService) CanRead(ctx context.Context, ref domain.ConversationRef, userID int64) (bool, error) {
	if !ref.IsGroup() {
		return ref.UserA == userID || ref.UserB == userID, nil
	}
	return s.groups.IsMember(ctx, ref.GroupID, userID)
}

// ListConversation returns the conversation history in acceptance order,
// decrypted and enriched. This is the offline-delivery path: users with no
// live connection pick messages up here.
func (s *MessageService) ListConversation(ctx context.Context, ref domain.ConversationRef, callerID int64, limit int) ([]*MessageResponse, error) {
	ok, err := s.CanRead(ctx, ref, callerID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, domain.ErrForbidden
	}

	if limit <= 0 || (s.MaxMessagesPerConversation > 0 && limit > s.MaxMessagesPerConversation) {
		limit = s.MaxMessagesPerConversation
	}

	msgs, err := s.messages.ListConversation(ctx, ref, limit)
	if err != nil {
		return nil, err
	}
	return s.ToResponses(ctx, msgs)
}

// MessageResponse is the enriched message shape pushed to clients and
// returned from history queries.
type MessageResponse struct {
	ID           int64                `json:"id"`
	Sender       domain.Profile       `json:"sender"`
	RecipientID  *int64               `json:"recipient_id,omitempty"`
	GroupID      *int64               `json:"group_id,omitempty"`
	Text         string               `json:"text"`
	CodeSnippets []domain.CodeSnippet `json:"code_snippets,omitempty"`
	Attachments  []domain.Attachment  `json:"attachments,omitempty"`
	CreatedAt    time.Time            `json:"created_at"`
	IsEdited     bool                 `json:"is_edited"`
	IsDeleted    bool                 `json:"is_deleted"`
}

func (s *MessageService) ToResponse(ctx context.Context, msg *domain.Message) (*MessageResponse, error) {
	sender, err := s.users.GetByID(ctx, msg.SenderID)
	if err != nil {
		return nil, fmt.Errorf("get sender: %w", err)
	}

	text := ""
	if !msg.IsDeleted {
		text, err = s.encryptor.Decrypt(msg.Text)
		if err != nil {
			return nil, fmt.Errorf("decrypt text: %w", err)
		}
	}

	return &MessageResponse{
		ID:           msg.ID,
		Sender:       sender.Profile(),
		RecipientID:  msg.RecipientID,
		GroupID:      msg.GroupID,
		Text:         text,
		CodeSnippets: msg.CodeSnippets,
		Attachments:  msg.Attachments,
		CreatedAt:    msg.CreatedAt,
		IsEdited:     msg.IsEdited,
		IsDeleted:    msg.IsDeleted,
	}, nil
}

func (s *MessageService) ToResponses(ctx context.Context, msgs []*domain.Message) ([]*MessageResponse, error) {
	res := make([]*MessageResponse, 0, len(msgs))
	for _, m := range msgs {
		r, err := s.ToResponse(ctx, m)
		if err != nil {
			return nil, err
		}
		res = append(res, r)
	}
	return res, nil
}
