package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

// Connect opens the Postgres pool and applies migrations.
func Connect(ctx context.Context, dsn string, log *zap.Logger) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := runMigrations(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	log.Info("database migrations applied", zap.String("driver", "postgres"))
	return db, nil
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS chat_groups (
            id BIGSERIAL PRIMARY KEY,
            name TEXT NOT NULL,
            description TEXT,
            creator_id BIGINT NOT NULL,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        );`,
	`CREATE TABLE IF NOT EXISTS group_memberships (
            id BIGSERIAL PRIMARY KEY,
            user_id BIGINT NOT NULL,
            group_id BIGINT NOT NULL REFERENCES chat_groups(id) ON DELETE CASCADE,
            role TEXT NOT NULL DEFAULT 'member' CHECK (role IN ('member', 'admin')),
            joined_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            UNIQUE(user_id, group_id)
        );`,
	`CREATE TABLE IF NOT EXISTS group_join_requests (
            id BIGSERIAL PRIMARY KEY,
            user_id BIGINT NOT NULL,
            group_id BIGINT NOT NULL REFERENCES chat_groups(id) ON DELETE CASCADE,
            status TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('pending', 'accepted', 'rejected')),
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            processed_at TIMESTAMPTZ
        );`,
	`CREATE UNIQUE INDEX IF NOT EXISTS uq_group_join_requests_pending
            ON group_join_requests (user_id, group_id) WHERE status = 'pending';`,
	`CREATE TABLE IF NOT EXISTS messages (
            id BIGSERIAL PRIMARY KEY,
            content TEXT NOT NULL,
            sender_id BIGINT NOT NULL,
            recipient_id BIGINT,
            group_id BIGINT REFERENCES chat_groups(id) ON DELETE CASCADE,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            is_read BOOLEAN NOT NULL DEFAULT FALSE,
            delivery_status TEXT NOT NULL DEFAULT 'sent' CHECK (delivery_status IN ('sent', 'delivered', 'read')),
            delivered_at TIMESTAMPTZ,
            read_at TIMESTAMPTZ,
            CHECK ((recipient_id IS NULL) <> (group_id IS NULL))
        );`,
	`CREATE INDEX IF NOT EXISTS idx_messages_recipient_status ON messages (recipient_id, delivery_status) WHERE recipient_id IS NOT NULL;`,
	`CREATE INDEX IF NOT EXISTS idx_messages_sender ON messages (sender_id) WHERE recipient_id IS NOT NULL;`,
	`CREATE INDEX IF NOT EXISTS idx_messages_group_created ON messages (group_id, created_at DESC) WHERE group_id IS NOT NULL;`,
}

func runMigrations(ctx context.Context, db *sqlx.DB) error {
	for _, m := range migrations {
		if _, err := db.ExecContext(ctx, m); err != nil {
			return err
		}
	}
	return nil
}
