package postgres

import (
	"context"
	"fmt"
)

// schema bootstraps the catalog tables. It is idempotent and not a migration system.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS profiles (
	username TEXT PRIMARY KEY,
	full_name TEXT NOT NULL DEFAULT '',
	display_name TEXT NOT NULL DEFAULT '',
	biography TEXT,
	image_filename TEXT NOT NULL DEFAULT '',
	auto_archive BOOLEAN NOT NULL DEFAULT FALSE,
	last_archive_timestamp TIMESTAMPTZ,
	last_archive_latest_post_timestamp TIMESTAMPTZ
)`,
	`CREATE TABLE IF NOT EXISTS posts (
	shortcode TEXT PRIMARY KEY,
	username TEXT NOT NULL REFERENCES profiles (username),
	"timestamp" TIMESTAMPTZ NOT NULL,
	type TEXT NOT NULL CHECK (type IN ('image', 'video', 'sidecar')),
	caption TEXT,
	caption_hashtags TEXT[] NOT NULL DEFAULT '{}',
	caption_mentions TEXT[] NOT NULL DEFAULT '{}'
)`,
	`CREATE INDEX IF NOT EXISTS posts_username_timestamp_idx ON posts (username, "timestamp" DESC)`,
	`CREATE TABLE IF NOT EXISTS post_items (
	shortcode TEXT NOT NULL REFERENCES posts (shortcode) ON DELETE CASCADE,
	"index" INTEGER NOT NULL CHECK ("index" >= 0),
	type TEXT NOT NULL CHECK (type IN ('image', 'video')),
	duration DOUBLE PRECISION,
	filename TEXT NOT NULL,
	thumb_image_filename TEXT,
	PRIMARY KEY (shortcode, "index")
)`,
	`CREATE TABLE IF NOT EXISTS tasks (
	id TEXT PRIMARY KEY,
	username TEXT,
	type TEXT NOT NULL CHECK (type IN ('catch_up', 'time_range', 'saved_posts')),
	status TEXT NOT NULL DEFAULT 'pending'
		CHECK (status IN ('pending', 'in_progress', 'succeeded', 'failed')),
	created TIMESTAMPTZ NOT NULL,
	started TIMESTAMPTZ,
	completed TIMESTAMPTZ,
	post_count INTEGER,
	time_range_start TIMESTAMPTZ,
	time_range_end TIMESTAMPTZ,
	scan_limit INTEGER
)`,
	`CREATE INDEX IF NOT EXISTS tasks_status_created_idx ON tasks (status, created)`,
	`CREATE INDEX IF NOT EXISTS profiles_auto_archive_idx ON profiles (last_archive_timestamp) WHERE auto_archive`,
}

// EnsureSchema creates the catalog tables and indexes when missing.
func (c *Catalog) EnsureSchema(ctx context.Context) error {
	for i, stmt := range schema {
		if _, err := c.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema statement %d: %w", i, err)
		}
	}
	return nil
}
