package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"codechat/internal/domain"
)

type MessageRepo struct {
	db *sql.DB
}

func NewMessageRepo(db *sql.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

var _ domain.MessageRepository = (*MessageRepo)(nil)

func marshalJSON[T any](items []T) (*string, error) {
	if len(items) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(items)
	if err != nil {
		return nil, err
	}
	s := string(b)
	return &s, nil
}

func (r *MessageRepo) Create(ctx context.Context, m *domain.Message) error {
	if (m.RecipientID == nil) == (m.GroupID == nil) {
		return domain.ErrValidation
	}

	snippets, err := marshalJSON(m.CodeSnippets)
	if err != nil {
		return fmt.Errorf("marshal snippets: %w", err)
	}
	attachments, err := marshalJSON(m.Attachments)
	if err != nil {
		return fmt.Errorf("marshal attachments: %w", err)
	}

	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}

	err = r.db.QueryRowContext(ctx, `
		INSERT INTO messages (sender_id, recipient_id, group_id, text, code_snippets, attachments, created_at, is_edited, is_deleted)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`, m.SenderID, m.RecipientID, m.GroupID, m.Text, snippets, attachments, m.CreatedAt, m.IsEdited, m.IsDeleted,
	).Scan(&m.ID)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

const messageColumns = `id, sender_id, recipient_id, group_id, text, code_snippets, attachments, created_at, is_edited, is_deleted`

func scanMessage(scan func(...any) error) (*domain.Message, error) {
	m := &domain.Message{}
	var snippets, attachments *string
	if err := scan(
		&m.ID, &m.SenderID, &m.RecipientID, &m.GroupID, &m.Text,
		&snippets, &attachments, &m.CreatedAt, &m.IsEdited, &m.IsDeleted,
	); err != nil {
		return nil, err
	}
	if snippets != nil {
		if err := json.Unmarshal([]byte(*snippets), &m.CodeSnippets); err != nil {
			return nil, fmt.Errorf("unmarshal snippets: %w", err)
		}
	}
	if attachments != nil {
		if err := json.Unmarshal([]byte(*attachments), &m.Attachments); err != nil {
			return nil, fmt.Errorf("unmarshal attachments: %w", err)
		}
	}
	return m, nil
}

func (r *MessageRepo) GetByID(ctx context.Context, id int64) (*domain.Message, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = $1`, id)
	m, err := scanMessage(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan message: %w", err)
	}
	return m, nil
}

func (r *MessageRepo) Update(ctx context.Context, m *domain.Message) error {
	snippets, err := marshalJSON(m.CodeSnippets)
	if err != nil {
		return fmt.Errorf("marshal snippets: %w", err)
	}
	attachments, err := marshalJSON(m.Attachments)
	if err != nil {
		return fmt.Errorf("marshal attachments: %w", err)
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE messages SET text = $1, code_snippets = $2, attachments = $3, is_edited = $4, is_deleted = $5 WHERE id = $6
	`, m.Text, snippets, attachments, m.IsEdited, m.IsDeleted, m.ID)
	if err != nil {
		return fmt.Errorf("update message: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func conversationWhere(ref domain.ConversationRef, firstArg int) (string, []any) {
	if ref.IsGroup() {
		return fmt.Sprintf(`group_id = $%d`, firstArg), []any{ref.GroupID}
	}
	return fmt.Sprintf(
			`group_id IS NULL AND ((sender_id = $%d AND recipient_id = $%d) OR (sender_id = $%d AND recipient_id = $%d))`,
			firstArg, firstArg+1, firstArg+2, firstArg+3),
		[]any{ref.UserA, ref.UserB, ref.UserB, ref.UserA}
}

func (r *MessageRepo) ListConversation(ctx context.Context, ref domain.ConversationRef, limit int) ([]*domain.Message, error) {
	where, args := conversationWhere(ref, 1)
	query := `SELECT ` + messageColumns + ` FROM messages WHERE ` + where + ` ORDER BY id`
	if limit > 0 {
		query = `SELECT ` + messageColumns + ` FROM (
			SELECT ` + messageColumns + ` FROM messages WHERE ` + where +
			fmt.Sprintf(` ORDER BY id DESC LIMIT $%d`, len(args)+1) + `
		) newest ORDER BY id`
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var res []*domain.Message
	for rows.Next() {
		m, err := scanMessage(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

func (r *MessageRepo) PruneConversation(ctx context.Context, ref domain.ConversationRef, keepLimit int) error {
	if keepLimit <= 0 {
		return nil
	}
	where, args := conversationWhere(ref, 1)

	var count int
	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE `+where, args...,
	).Scan(&count); err != nil {
		return fmt.Errorf("count messages: %w", err)
	}
	if count <= keepLimit {
		return nil
	}

	del := `DELETE FROM messages WHERE id IN (
		SELECT id FROM messages WHERE ` + where +
		fmt.Sprintf(` ORDER BY id ASC LIMIT $%d`, len(args)+1) + `
	)`
	args = append(args, count-keepLimit)
	if _, err := r.db.ExecContext(ctx, del, args...); err != nil {
		return fmt.Errorf("delete old messages: %w", err)
	}
	return nil
}
