package dump

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/post-archiver/internal/archive"
)

const aliceExport = `{
  "profile": {"username": "alice", "full_name": "Alice A", "avatar_url": "http://cdn/alice.jpg"},
  "posts": [
    {"shortcode": "p2", "created_at": "2024-03-02T10:00:00Z", "type": "image", "media_url": "http://cdn/p2.jpg"},
    {"shortcode": "p1", "created_at": "2024-03-01T10:00:00Z", "type": "video", "media_url": "http://cdn/p1.mp4"}
  ],
  "saved": [
    {"shortcode": "s1", "owner_username": "bob", "created_at": "2024-02-01T10:00:00Z", "type": "image"}
  ]
}`

func newSource(t *testing.T) *Source {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "alice.json"), []byte(aliceExport), 0o600))
	s, err := New(dir)
	require.NoError(t, err)
	return s
}

func drain(t *testing.T, seq archive.PostSequence) []string {
	t.Helper()
	var out []string
	for {
		r, ok, err := seq.Next(context.Background())
		require.NoError(t, err)
		if !ok {
			return out
		}
		out = append(out, r.Shortcode)
	}
}

func TestFetchProfileAndSequences(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newSource(t)
	profile, err := s.FetchProfile(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, "Alice A", profile.FullName)

	posts, err := s.Posts(ctx, profile)
	require.NoError(t, err)
	require.Equal(t, []string{"p2", "p1"}, drain(t, posts))

	saved, err := s.SavedPosts(ctx, profile)
	require.NoError(t, err)
	require.Equal(t, []string{"s1"}, drain(t, saved))
}

func TestPostsDefaultOwner(t *testing.T) {
	t.Parallel()

	s := newSource(t)
	seq, err := s.Posts(context.Background(), archive.ProfileRecord{Username: "alice"})
	require.NoError(t, err)
	r, ok, err := seq.Next(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "alice", r.OwnerUsername)
}

func TestFetchProfileNotFound(t *testing.T) {
	t.Parallel()

	s := newSource(t)
	for _, name := range []string{"ghost", "../alice", ""} {
		_, err := s.FetchProfile(context.Background(), name)
		require.ErrorIs(t, err, archive.ErrProfileNotFound, name)
	}
}

func TestFetchPost(t *testing.T) {
	t.Parallel()

	s := newSource(t)
	r, err := s.FetchPost(context.Background(), "s1")
	require.NoError(t, err)
	require.Equal(t, "bob", r.OwnerUsername)

	_, err = s.FetchPost(context.Background(), "zzz")
	var nf *archive.PostNotFoundError
	require.ErrorAs(t, err, &nf)
	require.Equal(t, "zzz", nf.Shortcode)
	require.ErrorIs(t, err, archive.ErrPostNotFound)
}

func TestSequenceHonorsContext(t *testing.T) {
	t.Parallel()

	s := newSource(t)
	seq, err := s.Posts(context.Background(), archive.ProfileRecord{Username: "alice"})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err = seq.Next(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestNewRejectsMissingDir(t *testing.T) {
	t.Parallel()

	_, err := New(filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
}
