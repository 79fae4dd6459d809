package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS episodes (
		id TEXT PRIMARY KEY,
		program_id TEXT NOT NULL,
		episode_number INTEGER NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'not_started',
		current_step INTEGER NOT NULL DEFAULT 1,
		created_by TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		UNIQUE (program_id, episode_number)
	)`,

	`CREATE TABLE IF NOT EXISTS workflow_step_progress (
		episode_id TEXT NOT NULL REFERENCES episodes(id) ON DELETE CASCADE,
		step INTEGER NOT NULL,
		step_key TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'pending',
		completed_at TIMESTAMPTZ,
		notes TEXT NOT NULL DEFAULT '',
		updated_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (episode_id, step)
	)`,

	`CREATE TABLE IF NOT EXISTS sub_works (
		id TEXT PRIMARY KEY,
		episode_id TEXT NOT NULL REFERENCES episodes(id) ON DELETE CASCADE,
		discipline TEXT NOT NULL,
		status TEXT NOT NULL,
		assigned_to TEXT NOT NULL DEFAULT '',
		notes TEXT NOT NULL DEFAULT '',
		created_by TEXT NOT NULL DEFAULT '',
		fields JSONB NOT NULL DEFAULT '{}'::jsonb,
		predecessors JSONB NOT NULL DEFAULT '{}'::jsonb,
		checklist JSONB,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		CONSTRAINT sub_works_episode_discipline_key UNIQUE (episode_id, discipline)
	)`,

	`CREATE INDEX IF NOT EXISTS idx_sub_works_episode ON sub_works(episode_id)`,
	`CREATE INDEX IF NOT EXISTS idx_sub_works_status ON sub_works(discipline, status)`,
}

// sqliteMigrations mirror migrations. Timestamps are fixed-width UTC text and
// JSON columns are TEXT.
var sqliteMigrations = []string{
	`CREATE TABLE IF NOT EXISTS episodes (
		id TEXT PRIMARY KEY,
		program_id TEXT NOT NULL,
		episode_number INTEGER NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'not_started',
		current_step INTEGER NOT NULL DEFAULT 1,
		created_by TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		UNIQUE (program_id, episode_number)
	)`,

	`CREATE TABLE IF NOT EXISTS workflow_step_progress (
		episode_id TEXT NOT NULL REFERENCES episodes(id) ON DELETE CASCADE,
		step INTEGER NOT NULL,
		step_key TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'pending',
		completed_at TEXT,
		notes TEXT NOT NULL DEFAULT '',
		updated_at TEXT NOT NULL,
		PRIMARY KEY (episode_id, step)
	)`,

	`CREATE TABLE IF NOT EXISTS sub_works (
		id TEXT PRIMARY KEY,
		episode_id TEXT NOT NULL REFERENCES episodes(id) ON DELETE CASCADE,
		discipline TEXT NOT NULL,
		status TEXT NOT NULL,
		assigned_to TEXT NOT NULL DEFAULT '',
		notes TEXT NOT NULL DEFAULT '',
		created_by TEXT NOT NULL DEFAULT '',
		fields TEXT NOT NULL DEFAULT '{}',
		predecessors TEXT NOT NULL DEFAULT '{}',
		checklist TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		UNIQUE (episode_id, discipline)
	)`,

	`CREATE INDEX IF NOT EXISTS idx_sub_works_episode ON sub_works(episode_id)`,
	`CREATE INDEX IF NOT EXISTS idx_sub_works_status ON sub_works(discipline, status)`,
}

// Migrate runs all database migrations.
func Migrate(ctx context.Context, db *pgxpool.Pool) error {
	for i, migration := range migrations {
		if _, err := db.Exec(ctx, migration); err != nil {
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
	}
	return nil
}

// MigrateSQLite applies the SQLite schema.
func MigrateSQLite(ctx context.Context, db *sql.DB) error {
	for i, migration := range sqliteMigrations {
		if _, err := db.ExecContext(ctx, migration); err != nil {
			return fmt.Errorf("sqlite migration %d: %w", i+1, err)
		}
	}
	return nil
}
