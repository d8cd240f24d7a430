package postgres

import (
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// Open opens a PostgreSQL database using the pgx stdlib driver.
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// Migrate runs idempotent DDL migrations for the codechat schema on PostgreSQL.
func Migrate(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id              BIGSERIAL    PRIMARY KEY,
			username        VARCHAR(50)  UNIQUE NOT NULL,
			hashed_password VARCHAR(255) NOT NULL,
			avatar_initial  VARCHAR(4)   NOT NULL DEFAULT '',
			avatar_color    VARCHAR(32)  NOT NULL DEFAULT '',
			presence        VARCHAR(10)  NOT NULL DEFAULT 'offline',
			is_active       BOOLEAN      NOT NULL DEFAULT TRUE,
			created_at      TIMESTAMPTZ  NOT NULL DEFAULT NOW(),
			last_seen       TIMESTAMPTZ  NOT NULL DEFAULT NOW()
		)`,

		`CREATE TABLE IF NOT EXISTS groups (
			id         BIGSERIAL    PRIMARY KEY,
			name       VARCHAR(100) NOT NULL,
			icon       VARCHAR(32)  NOT NULL DEFAULT '',
			color      VARCHAR(32)  NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ  NOT NULL DEFAULT NOW()
		)`,

		`CREATE TABLE IF NOT EXISTS group_members (
			group_id  BIGINT      NOT NULL REFERENCES groups(id),
			user_id   BIGINT      NOT NULL REFERENCES users(id),
			is_admin  BOOLEAN     NOT NULL DEFAULT FALSE,
			joined_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (group_id, user_id)
		)`,

		`CREATE TABLE IF NOT EXISTS messages (
			id            BIGSERIAL   PRIMARY KEY,
			sender_id     BIGINT      NOT NULL REFERENCES users(id),
			recipient_id  BIGINT      REFERENCES users(id),
			group_id      BIGINT      REFERENCES groups(id),
			text          TEXT        NOT NULL DEFAULT '',
			code_snippets JSONB,
			attachments   JSONB,
			created_at    TIMESTAMPTZ NOT NULL,
			is_edited     BOOLEAN     NOT NULL DEFAULT FALSE,
			is_deleted    BOOLEAN     NOT NULL DEFAULT FALSE,
			CHECK ((recipient_id IS NULL) <> (group_id IS NULL))
		)`,

		`CREATE INDEX IF NOT EXISTS idx_users_presence ON users(presence)`,
		`CREATE INDEX IF NOT EXISTS idx_group_members_user ON group_members(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_direct ON messages(sender_id, recipient_id, id)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_group ON messages(group_id, id)`,
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
