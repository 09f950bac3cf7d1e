// Package ingest turns remote post records into catalog entries and media files.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/post-archiver/internal/archive"
	"github.com/JakeFAU/post-archiver/internal/metrics"
	"github.com/JakeFAU/post-archiver/internal/storage/local"
)

// Pipeline downloads media for remote posts and commits them to the catalog.
type Pipeline struct {
	catalog    archive.Catalog
	source     archive.ContentSource
	media      archive.MediaStore
	downloader archive.Downloader
	clock      archive.Clock
	logger     *zap.Logger
}

// New constructs a Pipeline.
func New(
	catalog archive.Catalog,
	source archive.ContentSource,
	media archive.MediaStore,
	downloader archive.Downloader,
	clock archive.Clock,
	logger *zap.Logger,
) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		catalog:    catalog,
		source:     source,
		media:      media,
		downloader: downloader,
		clock:      clock,
		logger:     logger,
	}
}

type itemPlan struct {
	mediaType archive.MediaType
	url       string
	thumbURL  string
	duration  float64
}

func classify(rec archive.PostRecord) ([]itemPlan, error) {
	switch rec.Type {
	case archive.PostTypeImage:
		return []itemPlan{{mediaType: archive.MediaTypeImage, url: rec.MediaURL}}, nil
	case archive.PostTypeVideo:
		return []itemPlan{{
			mediaType: archive.MediaTypeVideo,
			url:       rec.MediaURL,
			thumbURL:  rec.ThumbnailURL,
			duration:  rec.VideoDuration,
		}}, nil
	case archive.PostTypeSidecar:
		if len(rec.Items) == 0 {
			return nil, fmt.Errorf("%w: sidecar %s has no items", archive.ErrUnsupportedPost, rec.Shortcode)
		}
		plans := make([]itemPlan, 0, len(rec.Items))
		for _, item := range rec.Items {
			plan := itemPlan{mediaType: archive.MediaTypeImage, url: item.MediaURL}
			if item.IsVideo {
				plan = itemPlan{
					mediaType: archive.MediaTypeVideo,
					url:       item.MediaURL,
					thumbURL:  item.ThumbnailURL,
					duration:  item.VideoDuration,
				}
			}
			plans = append(plans, plan)
		}
		return plans, nil
	default:
		return nil, fmt.Errorf("%w: %s has type %q", archive.ErrUnsupportedPost, rec.Shortcode, rec.Type)
	}
}

// Ingest stores one remote post. Re-ingesting the same shortcode refreshes the
// catalog rows and only downloads files that are missing or empty.
func (p *Pipeline) Ingest(ctx context.Context, rec archive.PostRecord) (archive.Post, error) {
	plans, err := classify(rec)
	if err != nil {
		return archive.Post{}, err
	}
	for i, plan := range plans {
		if plan.url == "" {
			return archive.Post{}, fmt.Errorf("%w: %s item %d has no media url", archive.ErrUnsupportedPost, rec.Shortcode, i)
		}
	}
	if _, err := p.EnsureProfile(ctx, rec.OwnerUsername); err != nil {
		return archive.Post{}, err
	}

	existing := map[int]archive.PostItem{}
	if stored, err := p.catalog.GetPost(ctx, rec.Shortcode); err == nil {
		for _, item := range stored.Items {
			existing[item.Index] = item
		}
	} else if !errors.Is(err, archive.ErrPostNotFound) {
		return archive.Post{}, err
	}

	post := archive.Post{
		Shortcode: rec.Shortcode,
		Username:  rec.OwnerUsername,
		Timestamp: rec.CreatedAt.UTC(),
		Type:      rec.Type,
		Hashtags:  Hashtags(rec.Hashtags, rec.Caption),
		Mentions:  Mentions(rec.Mentions, rec.Caption),
		Items:     make([]archive.PostItem, 0, len(plans)),
	}
	if rec.Caption != "" {
		caption := rec.Caption
		post.Caption = &caption
	}

	for i, plan := range plans {
		base := BaseName(rec.CreatedAt, rec.Shortcode, i, len(plans))
		prev, hasPrev := existing[i]
		item := archive.PostItem{Shortcode: rec.Shortcode, Index: i, Type: plan.mediaType}
		if plan.mediaType == archive.MediaTypeVideo && plan.duration > 0 {
			d := plan.duration
			item.Duration = &d
		}

		var known string
		if hasPrev {
			known = prev.Filename
		}
		item.Filename, err = p.store(ctx, plan.url, post.Username, known, base, local.PostPath, "post", post.Timestamp)
		if err != nil {
			return archive.Post{}, fmt.Errorf("store %s item %d: %w", rec.Shortcode, i, err)
		}

		if plan.thumbURL != "" {
			known = ""
			if hasPrev && prev.ThumbFilename != nil {
				known = *prev.ThumbFilename
			}
			thumb, err := p.store(ctx, plan.thumbURL, post.Username, known, base, local.ThumbPath, "thumb", post.Timestamp)
			if err != nil {
				return archive.Post{}, fmt.Errorf("store %s thumbnail %d: %w", rec.Shortcode, i, err)
			}
			item.ThumbFilename = &thumb
		}
		post.Items = append(post.Items, item)
	}

	if err := p.catalog.SavePost(ctx, post); err != nil {
		return archive.Post{}, err
	}
	metrics.ObservePostIngested(string(post.Type))
	p.logger.Info("post ingested",
		zap.String("shortcode", post.Shortcode),
		zap.String("username", post.Username),
		zap.String("type", string(post.Type)),
		zap.Int("items", len(post.Items)),
	)
	return post, nil
}

// store downloads url into the tree unless known already names a file with content.
func (p *Pipeline) store(
	ctx context.Context,
	url, username, known, base string,
	pathFor func(username, filename string) string,
	kind string,
	modTime time.Time,
) (string, error) {
	if known != "" && p.media.Exists(pathFor(username, known)) {
		p.logger.Debug("media already present", zap.String("file", known))
		return known, nil
	}
	m, err := p.downloader.Download(ctx, url)
	if err != nil {
		return "", err
	}
	filename := base + Extension(m)
	if err := p.media.Write(ctx, pathFor(username, filename), m.Data, modTime); err != nil {
		return "", err
	}
	metrics.ObserveMediaBytes(kind, len(m.Data))
	return filename, nil
}

// EnsureProfile returns the catalog profile for username, creating it from the
// content source (with its avatar) when missing.
func (p *Pipeline) EnsureProfile(ctx context.Context, username string) (archive.Profile, error) {
	if username == "" {
		return archive.Profile{}, fmt.Errorf("%w: empty username", archive.ErrProfileNotFound)
	}
	exists, err := p.catalog.ProfileExists(ctx, username)
	if err != nil {
		return archive.Profile{}, err
	}
	if exists {
		return p.catalog.GetProfile(ctx, username)
	}

	rec, err := p.source.FetchProfile(ctx, username)
	if err != nil {
		return archive.Profile{}, fmt.Errorf("fetch profile %s: %w", username, err)
	}
	profile := archive.Profile{
		Username:    username,
		FullName:    rec.FullName,
		DisplayName: rec.FullName,
	}
	if profile.DisplayName == "" {
		profile.DisplayName = username
	}
	if rec.Biography != "" {
		bio := rec.Biography
		profile.Biography = &bio
	}
	if rec.AvatarURL != "" {
		m, err := p.downloader.Download(ctx, rec.AvatarURL)
		if err != nil {
			return archive.Profile{}, fmt.Errorf("download avatar %s: %w", username, err)
		}
		ext := Extension(m)
		if err := p.media.Write(ctx, local.ProfileImagePath(username, ext), m.Data, p.clock.Now()); err != nil {
			return archive.Profile{}, err
		}
		metrics.ObserveMediaBytes("profile", len(m.Data))
		profile.ImageFilename = username + ext
	}
	if err := p.catalog.UpsertProfile(ctx, profile); err != nil {
		return archive.Profile{}, err
	}
	p.logger.Info("profile created", zap.String("username", username))
	return p.catalog.GetProfile(ctx, username)
}

// IngestShortcode fetches one post directly from the source and ingests it.
func (p *Pipeline) IngestShortcode(ctx context.Context, shortcode string) (archive.Post, error) {
	rec, err := p.source.FetchPost(ctx, shortcode)
	if errors.Is(err, archive.ErrPostNotFound) {
		return archive.Post{}, &archive.PostNotFoundError{Shortcode: shortcode}
	}
	if err != nil {
		return archive.Post{}, fmt.Errorf("fetch post %s: %w", shortcode, err)
	}
	return p.Ingest(ctx, rec)
}
