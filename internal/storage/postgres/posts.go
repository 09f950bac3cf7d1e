package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/post-archiver/internal/archive"
)

const postColumns = `shortcode, username, "timestamp", type, caption, caption_hashtags, caption_mentions`

const itemColumns = `shortcode, "index", type, duration, filename, thumb_image_filename`

func scanPost(row pgx.Row) (archive.Post, error) {
	var (
		p   archive.Post
		typ string
	)
	if err := row.Scan(&p.Shortcode, &p.Username, &p.Timestamp, &typ, &p.Caption, &p.Hashtags, &p.Mentions); err != nil {
		return archive.Post{}, err
	}
	p.Type = archive.PostType(typ)
	return p, nil
}

func queryItems(ctx context.Context, q querier, shortcode string) ([]archive.PostItem, error) {
	rows, err := q.Query(ctx,
		`SELECT `+itemColumns+` FROM post_items WHERE shortcode = $1 ORDER BY "index"`, shortcode)
	if err != nil {
		return nil, fmt.Errorf("query post items %s: %w", shortcode, err)
	}
	defer rows.Close()
	var items []archive.PostItem
	for rows.Next() {
		var (
			item archive.PostItem
			typ  string
		)
		if err := rows.Scan(&item.Shortcode, &item.Index, &typ, &item.Duration, &item.Filename, &item.ThumbFilename); err != nil {
			return nil, fmt.Errorf("scan post item: %w", err)
		}
		item.Type = archive.MediaType(typ)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate post items: %w", err)
	}
	return items, nil
}

// PostExists reports whether shortcode is in the catalog.
func (c *Catalog) PostExists(ctx context.Context, shortcode string) (bool, error) {
	var exists bool
	err := c.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM posts WHERE shortcode = $1)`, shortcode,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check post %s: %w", shortcode, err)
	}
	return exists, nil
}

// GetPost fetches a post and its items ordered by index.
func (c *Catalog) GetPost(ctx context.Context, shortcode string) (archive.Post, error) {
	return getPost(ctx, c.pool, shortcode, "")
}

func getPost(ctx context.Context, q querier, shortcode, lock string) (archive.Post, error) {
	row := q.QueryRow(ctx, `SELECT `+postColumns+` FROM posts WHERE shortcode = $1`+lock, shortcode)
	post, err := scanPost(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return archive.Post{}, fmt.Errorf("%w: %s", archive.ErrPostNotFound, shortcode)
	}
	if err != nil {
		return archive.Post{}, fmt.Errorf("get post %s: %w", shortcode, err)
	}
	items, err := queryItems(ctx, q, shortcode)
	if err != nil {
		return archive.Post{}, err
	}
	post.Items = items
	return post, nil
}

// SavePost upserts the post row and every item row in one transaction.
func (c *Catalog) SavePost(ctx context.Context, post archive.Post) error {
	return c.withTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
INSERT INTO posts (`+postColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (shortcode) DO UPDATE SET
	username = EXCLUDED.username,
	"timestamp" = EXCLUDED."timestamp",
	type = EXCLUDED.type,
	caption = EXCLUDED.caption,
	caption_hashtags = EXCLUDED.caption_hashtags,
	caption_mentions = EXCLUDED.caption_mentions`,
			post.Shortcode,
			post.Username,
			post.Timestamp,
			string(post.Type),
			post.Caption,
			nonNil(post.Hashtags),
			nonNil(post.Mentions),
		); err != nil {
			return fmt.Errorf("upsert post %s: %w", post.Shortcode, err)
		}
		for _, item := range post.Items {
			if _, err := tx.Exec(ctx, `
INSERT INTO post_items (`+itemColumns+`)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (shortcode, "index") DO UPDATE SET
	type = EXCLUDED.type,
	duration = EXCLUDED.duration,
	filename = EXCLUDED.filename,
	thumb_image_filename = EXCLUDED.thumb_image_filename`,
				post.Shortcode,
				item.Index,
				string(item.Type),
				item.Duration,
				item.Filename,
				item.ThumbFilename,
			); err != nil {
				return fmt.Errorf("upsert post item %s/%d: %w", post.Shortcode, item.Index, err)
			}
		}
		return nil
	})
}

// DeletePostItems removes one item, or every item when index is nil, in one
// transaction. The post row goes with its last item.
func (c *Catalog) DeletePostItems(ctx context.Context, shortcode string, index *int) (archive.PostDeletion, error) {
	var out archive.PostDeletion
	err := c.withTx(ctx, func(tx pgx.Tx) error {
		post, err := getPost(ctx, tx, shortcode, " FOR UPDATE")
		if err != nil {
			return err
		}
		out.Post = post
		if index == nil {
			out.Removed = post.Items
		} else {
			for _, item := range post.Items {
				if item.Index == *index {
					out.Removed = []archive.PostItem{item}
					break
				}
			}
			if len(out.Removed) == 0 {
				return fmt.Errorf("%w: %s/%d", archive.ErrPostItemNotFound, shortcode, *index)
			}
		}
		if index == nil || len(post.Items) == 1 {
			if _, err := tx.Exec(ctx, `DELETE FROM posts WHERE shortcode = $1`, shortcode); err != nil {
				return fmt.Errorf("delete post %s: %w", shortcode, err)
			}
			out.PostDeleted = true
			return nil
		}
		if _, err := tx.Exec(ctx,
			`DELETE FROM post_items WHERE shortcode = $1 AND "index" = $2`, shortcode, *index); err != nil {
			return fmt.Errorf("delete post item %s/%d: %w", shortcode, *index, err)
		}
		return nil
	})
	if err != nil {
		return archive.PostDeletion{}, err
	}
	return out, nil
}

// LatestPostTimestamp returns the newest archived post time for username, or nil.
func (c *Catalog) LatestPostTimestamp(ctx context.Context, username string) (*time.Time, error) {
	var latest *time.Time
	err := c.pool.QueryRow(ctx,
		`SELECT max("timestamp") FROM posts WHERE username = $1`, username,
	).Scan(&latest)
	if err != nil {
		return nil, fmt.Errorf("latest post timestamp %s: %w", username, err)
	}
	return latest, nil
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
