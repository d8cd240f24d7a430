package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"codechat/internal/domain"
)

type UserRepo struct {
	db *sql.DB
}

func NewUserRepo(db *sql.DB) *UserRepo {
	return &UserRepo{db: db}
}

var _ domain.UserRepository = (*UserRepo)(nil)

const userColumns = `id, username, hashed_password, avatar_initial, avatar_color, presence, is_active, created_at, last_seen`

func (r *UserRepo) Create(ctx context.Context, u *domain.User) error {
	if u.Presence == "" {
		u.Presence = domain.PresenceOffline
	}
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO users (username, hashed_password, avatar_initial, avatar_color, presence, is_active)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, last_seen
	`, u.Username, u.HashedPassword, u.AvatarInitial, u.AvatarColor, u.Presence, u.IsActive,
	).Scan(&u.ID, &u.CreatedAt, &u.LastSeen)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (r *UserRepo) scanUser(ctx context.Context, query string, args ...any) (*domain.User, error) {
	u := &domain.User{}
	err := r.db.QueryRowContext(ctx, query, args...).Scan(
		&u.ID, &u.Username, &u.HashedPassword, &u.AvatarInitial, &u.AvatarColor,
		&u.Presence, &u.IsActive, &u.CreatedAt, &u.LastSeen,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan user: %w", err)
	}
	return u, nil
}

func (r *UserRepo) GetByID(ctx context.Context, id int64) (*domain.User, error) {
	return r.scanUser(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

func (r *UserRepo) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	return r.scanUser(ctx, `SELECT `+userColumns+` FROM users WHERE username = $1`, username)
}

func (r *UserRepo) listUsers(ctx context.Context, query string, args ...any) ([]*domain.User, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var res []*domain.User
	for rows.Next() {
		u := &domain.User{}
		if err := rows.Scan(
			&u.ID, &u.Username, &u.HashedPassword, &u.AvatarInitial, &u.AvatarColor,
			&u.Presence, &u.IsActive, &u.CreatedAt, &u.LastSeen,
		); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		res = append(res, u)
	}
	return res, rows.Err()
}

func (r *UserRepo) List(ctx context.Context) ([]*domain.User, error) {
	return r.listUsers(ctx, `SELECT `+userColumns+` FROM users ORDER BY id`)
}

func (r *UserRepo) ListOnline(ctx context.Context) ([]*domain.User, error) {
	return r.listUsers(ctx, `SELECT `+userColumns+` FROM users WHERE presence IN ('online', 'away') ORDER BY id`)
}

func (r *UserRepo) SetPresence(ctx context.Context, id int64, p domain.Presence) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE users SET presence = $1, last_seen = NOW() WHERE id = $2
	`, p, id)
	if err != nil {
		return fmt.Errorf("set presence: %w", err)
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
