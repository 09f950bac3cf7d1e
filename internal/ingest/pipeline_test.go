package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/post-archiver/internal/archive"
	"github.com/JakeFAU/post-archiver/internal/storage/local"
	"github.com/JakeFAU/post-archiver/internal/storage/memory"
)

type fakeSource struct {
	profiles map[string]archive.ProfileRecord
	posts    map[string]archive.PostRecord
}

func (f *fakeSource) FetchProfile(_ context.Context, username string) (archive.ProfileRecord, error) {
	p, ok := f.profiles[username]
	if !ok {
		return archive.ProfileRecord{}, archive.ErrProfileNotFound
	}
	return p, nil
}

func (f *fakeSource) Posts(context.Context, archive.ProfileRecord) (archive.PostSequence, error) {
	return nil, errors.New("not used")
}

func (f *fakeSource) SavedPosts(context.Context, archive.ProfileRecord) (archive.PostSequence, error) {
	return nil, errors.New("not used")
}

func (f *fakeSource) FetchPost(_ context.Context, shortcode string) (archive.PostRecord, error) {
	p, ok := f.posts[shortcode]
	if !ok {
		return archive.PostRecord{}, archive.ErrPostNotFound
	}
	return p, nil
}

type fakeDownloader struct {
	mu    sync.Mutex
	calls map[string]int
	fail  map[string]error
}

func (f *fakeDownloader) Download(_ context.Context, url string) (archive.Media, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[url]++
	if err := f.fail[url]; err != nil {
		return archive.Media{}, err
	}
	ct := "image/jpeg"
	if filepath.Ext(url) == ".mp4" {
		ct = "video/mp4"
	}
	return archive.Media{Data: []byte("payload:" + url), ContentType: ct}, nil
}

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type harness struct {
	pipeline   *Pipeline
	catalog    *memory.Catalog
	media      *local.MediaStore
	root       string
	downloader *fakeDownloader
	source     *fakeSource
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	root := t.TempDir()
	media, err := local.New(local.Config{BaseDir: root, UID: -1, GID: -1})
	require.NoError(t, err)
	src := &fakeSource{
		profiles: map[string]archive.ProfileRecord{
			"alice": {Username: "alice", FullName: "Alice A", Biography: "hi", AvatarURL: "http://cdn/alice.jpg"},
			"bob":   {Username: "bob"},
		},
		posts: map[string]archive.PostRecord{},
	}
	dl := &fakeDownloader{calls: map[string]int{}, fail: map[string]error{}}
	catalog := memory.NewCatalog()
	clock := fixedClock{now: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)}
	return &harness{
		pipeline:   New(catalog, src, media, dl, clock, nil),
		catalog:    catalog,
		media:      media,
		root:       root,
		downloader: dl,
		source:     src,
	}
}

var created = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func sidecar() archive.PostRecord {
	return archive.PostRecord{
		Shortcode:     "side",
		OwnerUsername: "alice",
		CreatedAt:     created,
		Type:          archive.PostTypeSidecar,
		Caption:       "trip #alps with @bob",
		Items: []archive.ItemRecord{
			{MediaURL: "http://cdn/side0.jpg"},
			{IsVideo: true, MediaURL: "http://cdn/side1.mp4", ThumbnailURL: "http://cdn/side1-thumb.jpg", VideoDuration: 4.5},
		},
	}
}

func TestIngestSidecar(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	post, err := h.pipeline.Ingest(context.Background(), sidecar())
	require.NoError(t, err)

	require.Len(t, post.Items, 2)
	require.Equal(t, "2024-03-01T12-00-00_[side]_0.jpg", post.Items[0].Filename)
	require.Equal(t, "2024-03-01T12-00-00_[side]_1.mp4", post.Items[1].Filename)
	require.Equal(t, "2024-03-01T12-00-00_[side]_1.jpg", *post.Items[1].ThumbFilename)
	require.InDelta(t, 4.5, *post.Items[1].Duration, 1e-9)
	require.Nil(t, post.Items[0].Duration)
	require.Equal(t, []string{"alps"}, post.Hashtags)
	require.Equal(t, []string{"bob"}, post.Mentions)

	for _, rel := range []string{
		local.PostPath("alice", post.Items[0].Filename),
		local.PostPath("alice", post.Items[1].Filename),
		local.ThumbPath("alice", *post.Items[1].ThumbFilename),
	} {
		require.True(t, h.media.Exists(rel), rel)
		info, err := os.Stat(filepath.Join(h.root, rel))
		require.NoError(t, err)
		require.True(t, info.ModTime().Equal(created), "mtime mirrors post time")
	}

	profile, err := h.catalog.GetProfile(context.Background(), "alice")
	require.NoError(t, err)
	require.Equal(t, "Alice A", profile.DisplayName)
	require.Equal(t, "alice.jpg", profile.ImageFilename)
	require.True(t, h.media.Exists(local.ProfileImagePath("alice", ".jpg")))
}

func TestIngestSingleImageHasNoIndexSuffix(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	post, err := h.pipeline.Ingest(context.Background(), archive.PostRecord{
		Shortcode:     "one",
		OwnerUsername: "bob",
		CreatedAt:     created,
		Type:          archive.PostTypeImage,
		MediaURL:      "http://cdn/one.jpg",
	})
	require.NoError(t, err)
	require.Equal(t, "2024-03-01T12-00-00_[one].jpg", post.Items[0].Filename)
	require.Nil(t, post.Caption)

	profile, err := h.catalog.GetProfile(context.Background(), "bob")
	require.NoError(t, err)
	require.Equal(t, "bob", profile.DisplayName)
	require.Empty(t, profile.ImageFilename)
}

func TestIngestTwiceIsIdempotentAndSkipsDownloads(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	_, err := h.pipeline.Ingest(ctx, sidecar())
	require.NoError(t, err)

	rec := sidecar()
	rec.Caption = "edited"
	post, err := h.pipeline.Ingest(ctx, rec)
	require.NoError(t, err)
	require.Equal(t, "edited", *post.Caption)

	stored, err := h.catalog.GetPost(ctx, "side")
	require.NoError(t, err)
	require.Len(t, stored.Items, 2)
	require.Equal(t, 1, h.downloader.calls["http://cdn/side0.jpg"])
	require.Equal(t, 1, h.downloader.calls["http://cdn/side1-thumb.jpg"])
	require.Equal(t, 1, h.downloader.calls["http://cdn/alice.jpg"])
}

func TestIngestRedownloadsMissingFile(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	post, err := h.pipeline.Ingest(ctx, sidecar())
	require.NoError(t, err)
	require.NoError(t, h.media.Remove(local.PostPath("alice", post.Items[0].Filename)))

	_, err = h.pipeline.Ingest(ctx, sidecar())
	require.NoError(t, err)
	require.Equal(t, 2, h.downloader.calls["http://cdn/side0.jpg"])
	require.Equal(t, 1, h.downloader.calls["http://cdn/side1.mp4"])
}

func TestIngestRejectsUnsupported(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	cases := []archive.PostRecord{
		{Shortcode: "x", OwnerUsername: "alice", Type: "reel"},
		{Shortcode: "y", OwnerUsername: "alice", Type: archive.PostTypeSidecar},
		{Shortcode: "z", OwnerUsername: "alice", Type: archive.PostTypeImage},
	}
	for _, rec := range cases {
		_, err := h.pipeline.Ingest(context.Background(), rec)
		require.ErrorIs(t, err, archive.ErrUnsupportedPost, rec.Shortcode)
	}
}

func TestIngestDownloadFailureLeavesNoPost(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.downloader.fail["http://cdn/side1.mp4"] = errors.New("cdn 503")

	_, err := h.pipeline.Ingest(context.Background(), sidecar())
	require.ErrorContains(t, err, "cdn 503")
	exists, err := h.catalog.PostExists(context.Background(), "side")
	require.NoError(t, err)
	require.False(t, exists)
}

func TestIngestUnknownOwner(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	rec := sidecar()
	rec.OwnerUsername = "ghost"
	_, err := h.pipeline.Ingest(context.Background(), rec)
	require.ErrorIs(t, err, archive.ErrProfileNotFound)
}

func TestIngestShortcode(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.source.posts["side"] = sidecar()

	post, err := h.pipeline.IngestShortcode(context.Background(), "side")
	require.NoError(t, err)
	require.Equal(t, "side", post.Shortcode)

	_, err = h.pipeline.IngestShortcode(context.Background(), "missing")
	var nf *archive.PostNotFoundError
	require.ErrorAs(t, err, &nf)
	require.ErrorIs(t, err, archive.ErrPostNotFound)
}
