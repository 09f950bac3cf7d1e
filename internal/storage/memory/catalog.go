// Package memory provides an in-memory catalog for development and testing.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/post-archiver/internal/archive"
)

// Catalog implements archive.Catalog with mutex-guarded maps.
type Catalog struct {
	mu       sync.RWMutex
	profiles map[string]archive.Profile
	posts    map[string]archive.Post
	tasks    map[string]archive.Task
	// claimed marks profiles held by an in-flight ClaimAutoArchive.
	claimed map[string]struct{}
}

// NewCatalog constructs an empty Catalog.
func NewCatalog() *Catalog {
	return &Catalog{
		profiles: make(map[string]archive.Profile),
		posts:    make(map[string]archive.Post),
		tasks:    make(map[string]archive.Task),
		claimed:  make(map[string]struct{}),
	}
}

// ProfileExists reports whether username is stored.
func (c *Catalog) ProfileExists(_ context.Context, username string) (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.profiles[username]
	return ok, nil
}

// GetProfile fetches a profile by username.
func (c *Catalog) GetProfile(_ context.Context, username string) (archive.Profile, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.profiles[username]
	if !ok {
		return archive.Profile{}, fmt.Errorf("%w: %s", archive.ErrProfileNotFound, username)
	}
	return p, nil
}

// UpsertProfile inserts a profile or refreshes its descriptive fields.
func (c *Catalog) UpsertProfile(_ context.Context, p archive.Profile) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	existing, ok := c.profiles[p.Username]
	if ok {
		existing.FullName = p.FullName
		existing.DisplayName = p.DisplayName
		existing.Biography = p.Biography
		existing.ImageFilename = p.ImageFilename
		c.profiles[p.Username] = existing
		return nil
	}
	p.LastArchiveAt = nil
	p.LastArchiveWatermark = nil
	c.profiles[p.Username] = p
	return nil
}

// SetAutoArchive toggles periodic archiving for a profile.
func (c *Catalog) SetAutoArchive(_ context.Context, username string, enabled bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.profiles[username]
	if !ok {
		return fmt.Errorf("%w: %s", archive.ErrProfileNotFound, username)
	}
	p.AutoArchive = enabled
	c.profiles[username] = p
	return nil
}

// PostExists reports whether shortcode is stored.
func (c *Catalog) PostExists(_ context.Context, shortcode string) (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.posts[shortcode]
	return ok, nil
}

// GetPost fetches a post with its items ordered by index.
func (c *Catalog) GetPost(_ context.Context, shortcode string) (archive.Post, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.posts[shortcode]
	if !ok {
		return archive.Post{}, fmt.Errorf("%w: %s", archive.ErrPostNotFound, shortcode)
	}
	return clonePost(p), nil
}

// SavePost upserts a post and its items atomically.
func (c *Catalog) SavePost(_ context.Context, post archive.Post) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.profiles[post.Username]; !ok {
		return fmt.Errorf("save post %s: %w: %s", post.Shortcode, archive.ErrProfileNotFound, post.Username)
	}
	merged := clonePost(post)
	if existing, ok := c.posts[post.Shortcode]; ok {
		byIndex := make(map[int]archive.PostItem, len(existing.Items))
		for _, item := range existing.Items {
			byIndex[item.Index] = item
		}
		for _, item := range merged.Items {
			byIndex[item.Index] = item
		}
		merged.Items = merged.Items[:0]
		for _, item := range byIndex {
			merged.Items = append(merged.Items, item)
		}
	}
	for i := range merged.Items {
		merged.Items[i].Shortcode = post.Shortcode
	}
	sort.Slice(merged.Items, func(i, j int) bool { return merged.Items[i].Index < merged.Items[j].Index })
	c.posts[post.Shortcode] = merged
	return nil
}

// DeletePostItems removes one item, or every item when index is nil.
func (c *Catalog) DeletePostItems(_ context.Context, shortcode string, index *int) (archive.PostDeletion, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	post, ok := c.posts[shortcode]
	if !ok {
		return archive.PostDeletion{}, fmt.Errorf("%w: %s", archive.ErrPostNotFound, shortcode)
	}
	out := archive.PostDeletion{Post: clonePost(post)}
	if index == nil {
		out.Removed = out.Post.Items
		out.PostDeleted = true
		delete(c.posts, shortcode)
		return out, nil
	}
	pos := slices.IndexFunc(post.Items, func(item archive.PostItem) bool { return item.Index == *index })
	if pos < 0 {
		return archive.PostDeletion{}, fmt.Errorf("%w: %s/%d", archive.ErrPostItemNotFound, shortcode, *index)
	}
	out.Removed = []archive.PostItem{post.Items[pos]}
	if len(post.Items) == 1 {
		out.PostDeleted = true
		delete(c.posts, shortcode)
		return out, nil
	}
	post.Items = slices.Delete(slices.Clone(post.Items), pos, pos+1)
	c.posts[shortcode] = post
	return out, nil
}

// LatestPostTimestamp returns the newest post time for username, or nil.
func (c *Catalog) LatestPostTimestamp(_ context.Context, username string) (*time.Time, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var latest *time.Time
	for _, p := range c.posts {
		if p.Username != username {
			continue
		}
		if latest == nil || p.Timestamp.After(*latest) {
			ts := p.Timestamp
			latest = &ts
		}
	}
	return latest, nil
}

// ClaimAutoArchive picks the most overdue auto-archive profile not held by another
// claim and runs fn for it. The catalog mutex is released while fn runs.
func (c *Catalog) ClaimAutoArchive(
	ctx context.Context,
	staleBefore time.Time,
	fn func(ctx context.Context, profile archive.Profile) (archive.AutoArchiveResult, error),
) (archive.Profile, bool, error) {
	c.mu.Lock()
	var candidates []archive.Profile
	for _, p := range c.profiles {
		if _, held := c.claimed[p.Username]; held || !p.AutoArchive {
			continue
		}
		if p.LastArchiveAt != nil && !p.LastArchiveAt.Before(staleBefore) {
			continue
		}
		candidates = append(candidates, p)
	}
	if len(candidates) == 0 {
		c.mu.Unlock()
		return archive.Profile{}, false, nil
	}
	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		switch {
		case a.LastArchiveAt == nil && b.LastArchiveAt != nil:
			return true
		case a.LastArchiveAt != nil && b.LastArchiveAt == nil:
			return false
		case a.LastArchiveAt != nil && !a.LastArchiveAt.Equal(*b.LastArchiveAt):
			return a.LastArchiveAt.Before(*b.LastArchiveAt)
		default:
			return a.Username < b.Username
		}
	})
	profile := candidates[0]
	c.claimed[profile.Username] = struct{}{}
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.claimed, profile.Username)
		c.mu.Unlock()
	}()

	res, err := fn(ctx, profile)
	if err != nil {
		return archive.Profile{}, false, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	stored := c.profiles[profile.Username]
	archivedAt := res.ArchivedAt
	stored.LastArchiveAt = &archivedAt
	if res.Watermark != nil {
		wm := *res.Watermark
		stored.LastArchiveWatermark = &wm
	}
	c.profiles[profile.Username] = stored
	return stored, true, nil
}

func clonePost(p archive.Post) archive.Post {
	p.Hashtags = slices.Clone(p.Hashtags)
	p.Mentions = slices.Clone(p.Mentions)
	p.Items = slices.Clone(p.Items)
	return p
}
