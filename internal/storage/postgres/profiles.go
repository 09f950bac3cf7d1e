package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/post-archiver/internal/archive"
)

const profileColumns = `username, full_name, display_name, biography, image_filename,
	auto_archive, last_archive_timestamp, last_archive_latest_post_timestamp`

func scanProfile(row pgx.Row) (archive.Profile, error) {
	var p archive.Profile
	err := row.Scan(
		&p.Username,
		&p.FullName,
		&p.DisplayName,
		&p.Biography,
		&p.ImageFilename,
		&p.AutoArchive,
		&p.LastArchiveAt,
		&p.LastArchiveWatermark,
	)
	return p, err
}

// ProfileExists reports whether username is in the catalog.
func (c *Catalog) ProfileExists(ctx context.Context, username string) (bool, error) {
	var exists bool
	err := c.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM profiles WHERE username = $1)`, username,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check profile %s: %w", username, err)
	}
	return exists, nil
}

// GetProfile fetches a profile by username.
func (c *Catalog) GetProfile(ctx context.Context, username string) (archive.Profile, error) {
	row := c.pool.QueryRow(ctx,
		`SELECT `+profileColumns+` FROM profiles WHERE username = $1`, username)
	p, err := scanProfile(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return archive.Profile{}, fmt.Errorf("%w: %s", archive.ErrProfileNotFound, username)
	}
	if err != nil {
		return archive.Profile{}, fmt.Errorf("get profile %s: %w", username, err)
	}
	return p, nil
}

// UpsertProfile inserts a profile or refreshes its descriptive fields.
// The auto-archive flag and bookkeeping timestamps are only set on insert.
func (c *Catalog) UpsertProfile(ctx context.Context, p archive.Profile) error {
	_, err := c.pool.Exec(ctx, `
INSERT INTO profiles (username, full_name, display_name, biography, image_filename, auto_archive)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (username) DO UPDATE SET
	full_name = EXCLUDED.full_name,
	display_name = EXCLUDED.display_name,
	biography = EXCLUDED.biography,
	image_filename = EXCLUDED.image_filename`,
		p.Username, p.FullName, p.DisplayName, p.Biography, p.ImageFilename, p.AutoArchive,
	)
	if err != nil {
		return fmt.Errorf("upsert profile %s: %w", p.Username, err)
	}
	return nil
}

// SetAutoArchive toggles periodic archiving for a profile.
func (c *Catalog) SetAutoArchive(ctx context.Context, username string, enabled bool) error {
	tag, err := c.pool.Exec(ctx,
		`UPDATE profiles SET auto_archive = $2 WHERE username = $1`, username, enabled)
	if err != nil {
		return fmt.Errorf("set auto archive %s: %w", username, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", archive.ErrProfileNotFound, username)
	}
	return nil
}

// ClaimAutoArchive locks the most overdue auto-archive profile and runs fn while the
// lock is held. Rows locked by a concurrent selector are skipped. NO KEY UPDATE leaves
// the KEY SHARE locks taken by post inserts unblocked, so fn may ingest posts for the
// locked profile. An fn error rolls the claim back.
func (c *Catalog) ClaimAutoArchive(
	ctx context.Context,
	staleBefore time.Time,
	fn func(ctx context.Context, profile archive.Profile) (archive.AutoArchiveResult, error),
) (archive.Profile, bool, error) {
	var (
		claimed archive.Profile
		found   bool
	)
	err := c.withTx(ctx, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `
SELECT `+profileColumns+`
FROM profiles
WHERE auto_archive AND (last_archive_timestamp IS NULL OR last_archive_timestamp < $1)
ORDER BY last_archive_timestamp ASC NULLS FIRST, username
LIMIT 1
FOR NO KEY UPDATE SKIP LOCKED`, staleBefore)
		p, err := scanProfile(row)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("select auto archive profile: %w", err)
		}
		res, err := fn(ctx, p)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `
UPDATE profiles SET
	last_archive_timestamp = $2,
	last_archive_latest_post_timestamp = COALESCE($3::timestamptz, last_archive_latest_post_timestamp)
WHERE username = $1`, p.Username, res.ArchivedAt, res.Watermark); err != nil {
			return fmt.Errorf("record auto archive %s: %w", p.Username, err)
		}
		archivedAt := res.ArchivedAt
		p.LastArchiveAt = &archivedAt
		if res.Watermark != nil {
			wm := *res.Watermark
			p.LastArchiveWatermark = &wm
		}
		claimed, found = p, true
		return nil
	})
	if err != nil {
		return archive.Profile{}, false, err
	}
	return claimed, found, nil
}
