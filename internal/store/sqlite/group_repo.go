package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"codechat/internal/domain"
)

type GroupRepo struct {
	db *sql.DB
}

func NewGroupRepo(db *sql.DB) *GroupRepo {
	return &GroupRepo{db: db}
}

var _ domain.GroupRepository = (*GroupRepo)(nil)

func (r *GroupRepo) Create(ctx context.Context, g *domain.Group, ownerID int64) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO groups (name, icon, color) VALUES (?, ?, ?)
	`, g.Name, g.Icon, g.Color)
	if err != nil {
		return fmt.Errorf("insert group: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	g.ID = id
	g.CreatedAt = time.Now().UTC()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO group_members (group_id, user_id, is_admin) VALUES (?, ?, TRUE)
	`, g.ID, ownerID); err != nil {
		return fmt.Errorf("insert owner: %w", err)
	}
	return tx.Commit()
}

func (r *GroupRepo) GetByID(ctx context.Context, id int64) (*domain.Group, error) {
	g := &domain.Group{}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, name, icon, color, created_at FROM groups WHERE id = ?
	`, id).Scan(&g.ID, &g.Name, &g.Icon, &g.Color, &g.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan group: %w", err)
	}
	return g, nil
}

func (r *GroupRepo) listGroups(ctx context.Context, query string, args ...any) ([]*domain.Group, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	defer rows.Close()

	var res []*domain.Group
	for rows.Next() {
		g := &domain.Group{}
		if err := rows.Scan(&g.ID, &g.Name, &g.Icon, &g.Color, &g.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan group: %w", err)
		}
		res = append(res, g)
	}
	return res, rows.Err()
}

func (r *GroupRepo) List(ctx context.Context) ([]*domain.Group, error) {
	return r.listGroups(ctx, `SELECT id, name, icon, color, created_at FROM groups ORDER BY id`)
}

func (r *GroupRepo) ListForUser(ctx context.Context, userID int64) ([]*domain.Group, error) {
	return r.listGroups(ctx, `
		SELECT g.id, g.name, g.icon, g.color, g.created_at
		FROM groups g
		JOIN group_members gm ON gm.group_id = g.id
		WHERE gm.user_id = ?
		ORDER BY g.id
	`, userID)
}

func (r *GroupRepo) AppendMember(ctx context.Context, groupID, userID int64, isAdmin bool) error {
	if _, err := r.GetByID(ctx, groupID); err != nil {
		return err
	}
	var exists int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users WHERE id = ?`, userID).Scan(&exists); err != nil {
		return fmt.Errorf("check user: %w", err)
	}
	if exists == 0 {
		return domain.ErrNotFound
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO group_members (group_id, user_id, is_admin) VALUES (?, ?, ?)
	`, groupID, userID, isAdmin)
	if err != nil {
		// unique violation on the composite primary key
		return domain.ErrConflict
	}
	return nil
}

func (r *GroupRepo) RemoveMember(ctx context.Context, groupID, userID int64) error {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM group_members WHERE group_id = ? AND user_id = ?
	`, groupID, userID)
	if err != nil {
		return fmt.Errorf("remove member: %w", err)
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

func (r *GroupRepo) ListMembers(ctx context.Context, groupID int64) ([]*domain.GroupMember, error) {
	if _, err := r.GetByID(ctx, groupID); err != nil {
		return nil, err
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT group_id, user_id, is_admin, joined_at
		FROM group_members WHERE group_id = ? ORDER BY user_id
	`, groupID)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()

	var res []*domain.GroupMember
	for rows.Next() {
		m := &domain.GroupMember{}
		if err := rows.Scan(&m.GroupID, &m.UserID, &m.IsAdmin, &m.JoinedAt); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

func (r *GroupRepo) IsMember(ctx context.Context, groupID, userID int64) (bool, error) {
	if _, err := r.GetByID(ctx, groupID); err != nil {
		return false, err
	}
	var count int
	if err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM group_members WHERE group_id = ? AND user_id = ?
	`, groupID, userID).Scan(&count); err != nil {
		return false, fmt.Errorf("check member: %w", err)
	}
	return count > 0, nil
}
