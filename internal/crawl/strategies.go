package crawl

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/post-archiver/internal/archive"
)

// CatchUp archives a profile's posts newer than the newest archived one.
type CatchUp struct {
	w walker
}

// NewCatchUp builds a catch-up strategy.
func NewCatchUp(deps Deps) *CatchUp {
	return &CatchUp{w: newWalker(deps)}
}

// Run walks the task's profile until it reaches a post already in the catalog.
func (s *CatchUp) Run(ctx context.Context, task *archive.Task) error {
	username, err := taskUsername(task)
	if err != nil {
		return err
	}
	profile, err := s.w.profile(ctx, username)
	if err != nil {
		return err
	}
	seq, err := s.w.Source.Posts(ctx, profile)
	if err != nil {
		return fmt.Errorf("list posts of %s: %w", username, err)
	}
	decide := func(ctx context.Context, rec archive.PostRecord) (decision, error) {
		if rec.Pinned {
			return skipPost, nil
		}
		return s.w.stopIfKnown(ctx, rec)
	}
	return s.w.walk(ctx, seq, decide, s.w.countInto(task))
}

// TimeRange archives a profile's posts created in [start, end).
type TimeRange struct {
	w walker
}

// NewTimeRange builds a time-range strategy.
func NewTimeRange(deps Deps) *TimeRange {
	return &TimeRange{w: newWalker(deps)}
}

// Run walks the task's profile from newest to oldest, stopping before start.
func (s *TimeRange) Run(ctx context.Context, task *archive.Task) error {
	username, err := taskUsername(task)
	if err != nil {
		return err
	}
	if task.TimeRangeStart == nil || task.TimeRangeEnd == nil {
		return fmt.Errorf("%w: time range task %s has no bounds", archive.ErrInvalidRequest, task.ID)
	}
	start, end := *task.TimeRangeStart, *task.TimeRangeEnd
	profile, err := s.w.profile(ctx, username)
	if err != nil {
		return err
	}
	seq, err := s.w.Source.Posts(ctx, profile)
	if err != nil {
		return fmt.Errorf("list posts of %s: %w", username, err)
	}
	decide := func(_ context.Context, rec archive.PostRecord) (decision, error) {
		switch {
		case rec.Pinned:
			return skipPost, nil
		case !rec.CreatedAt.Before(end):
			return skipPost, nil
		case rec.CreatedAt.Before(start):
			return stopWalk, nil
		default:
			return ingestPost, nil
		}
	}
	return s.w.walk(ctx, seq, decide, s.w.countInto(task))
}

// SavedItems archives the configured identity's saved posts.
type SavedItems struct {
	w        walker
	identity string
}

// NewSavedItems builds a saved-posts strategy for the given source identity.
func NewSavedItems(deps Deps, identity string) *SavedItems {
	return &SavedItems{w: newWalker(deps), identity: identity}
}

// Run stops at the first known saved post. With a scan limit it skips known
// posts instead and stops after examining that many candidates.
func (s *SavedItems) Run(ctx context.Context, task *archive.Task) error {
	if s.identity == "" {
		return errors.New("saved posts: source username is not configured")
	}
	profile, err := s.w.profile(ctx, s.identity)
	if err != nil {
		return err
	}
	seq, err := s.w.Source.SavedPosts(ctx, profile)
	if err != nil {
		return fmt.Errorf("list saved posts of %s: %w", s.identity, err)
	}
	decide := s.w.stopIfKnown
	if task.ScanLimit != nil {
		limit, examined := *task.ScanLimit, 0
		decide = func(ctx context.Context, rec archive.PostRecord) (decision, error) {
			if examined >= limit {
				return stopWalk, nil
			}
			examined++
			exists, err := s.w.Catalog.PostExists(ctx, rec.Shortcode)
			if err != nil {
				return stopWalk, err
			}
			if exists {
				return skipPost, nil
			}
			return ingestPost, nil
		}
	}
	return s.w.walk(ctx, seq, decide, s.w.countInto(task))
}

// ArchiveSince ingests a profile's posts newer than a watermark. It backs the
// auto-archive selector.
type ArchiveSince struct {
	w walker
}

// NewArchiveSince builds the auto-archive pass.
func NewArchiveSince(deps Deps) *ArchiveSince {
	return &ArchiveSince{w: newWalker(deps)}
}

// Run ingests non-pinned posts created after watermark (all posts when nil)
// and returns the newest ingested timestamp, or nil when nothing was stored.
func (s *ArchiveSince) Run(ctx context.Context, username string, watermark *time.Time) (*time.Time, int, error) {
	profile, err := s.w.profile(ctx, username)
	if err != nil {
		return nil, 0, err
	}
	seq, err := s.w.Source.Posts(ctx, profile)
	if err != nil {
		return nil, 0, fmt.Errorf("list posts of %s: %w", username, err)
	}
	decide := func(_ context.Context, rec archive.PostRecord) (decision, error) {
		if rec.Pinned {
			return skipPost, nil
		}
		if watermark != nil && !rec.CreatedAt.After(*watermark) {
			return stopWalk, nil
		}
		return ingestPost, nil
	}
	var (
		newest *time.Time
		count  int
	)
	onIngest := func(_ context.Context, post archive.Post) error {
		count++
		if newest == nil || post.Timestamp.After(*newest) {
			ts := post.Timestamp
			newest = &ts
		}
		return nil
	}
	if err := s.w.walk(ctx, seq, decide, onIngest); err != nil {
		return newest, count, err
	}
	s.w.Logger.Info("auto-archive pass finished",
		zap.String("username", username),
		zap.Int("posts", count),
	)
	return newest, count, nil
}

func taskUsername(task *archive.Task) (string, error) {
	if task.Username == nil || *task.Username == "" {
		return "", fmt.Errorf("%w: task %s has no username", archive.ErrInvalidRequest, task.ID)
	}
	return *task.Username, nil
}
