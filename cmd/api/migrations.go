// cmd/api/migrations.go
// Schema bootstrap, idempotent via IF NOT EXISTS

package main

import (
	"fmt"

	"github.com/jmoiron/sqlx"
)

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id           TEXT PRIMARY KEY,
		email        TEXT NOT NULL UNIQUE,
		display_name TEXT NOT NULL,
		created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS profiles (
		id                  TEXT PRIMARY KEY REFERENCES users(id),
		display_name        TEXT NOT NULL,
		age                 INT NOT NULL,
		gender              TEXT NOT NULL,
		preferred_gender    TEXT,
		interests           TEXT[] NOT NULL DEFAULT '{}',
		needs               TEXT[] NOT NULL DEFAULT '{}',
		location_preference TEXT,
		age_preference      TEXT,
		latitude            DOUBLE PRECISION,
		longitude           DOUBLE PRECISION,
		invisible           BOOLEAN NOT NULL DEFAULT FALSE,
		last_active         TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		deleted_at          TIMESTAMPTZ
	)`,

	`CREATE TABLE IF NOT EXISTS friendships (
		user_id    TEXT NOT NULL REFERENCES users(id),
		friend_id  TEXT NOT NULL REFERENCES users(id),
		status     TEXT NOT NULL DEFAULT 'pending',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (user_id, friend_id)
	)`,

	`CREATE TABLE IF NOT EXISTS blocks (
		blocker_id TEXT NOT NULL REFERENCES users(id),
		blocked_id TEXT NOT NULL REFERENCES users(id),
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (blocker_id, blocked_id)
	)`,

	`CREATE TABLE IF NOT EXISTS proposals (
		id         TEXT PRIMARY KEY,
		user_a     TEXT NOT NULL REFERENCES users(id),
		user_b     TEXT NOT NULL REFERENCES users(id),
		status     TEXT NOT NULL,
		score      DOUBLE PRECISION NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		expires_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE INDEX IF NOT EXISTS idx_proposals_user_status
		ON proposals (user_a, user_b, status)`,

	`CREATE INDEX IF NOT EXISTS idx_proposals_expiry
		ON proposals (expires_at)
		WHERE status IN ('pending', 'accepted_by_a', 'accepted_by_b')`,

	`CREATE TABLE IF NOT EXISTS matches (
		id          TEXT PRIMARY KEY,
		user_a      TEXT NOT NULL REFERENCES users(id),
		user_b      TEXT NOT NULL REFERENCES users(id),
		proposal_id TEXT NOT NULL UNIQUE REFERENCES proposals(id),
		score       DOUBLE PRECISION NOT NULL,
		matched_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE INDEX IF NOT EXISTS idx_profiles_location
		ON profiles (last_active DESC)
		WHERE latitude IS NOT NULL AND longitude IS NOT NULL AND deleted_at IS NULL`,
}

func runMigrations(db *sqlx.DB) error {
	for i, stmt := range migrations {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}
	return nil
}
