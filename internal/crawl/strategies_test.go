package crawl

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/post-archiver/internal/archive"
	"github.com/JakeFAU/post-archiver/internal/storage/memory"
)

var base = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func ptr[T any](v T) *T { return &v }

type sliceSeq struct {
	recs  []archive.PostRecord
	reads int
}

func (s *sliceSeq) Next(context.Context) (archive.PostRecord, bool, error) {
	if s.reads >= len(s.recs) {
		return archive.PostRecord{}, false, nil
	}
	rec := s.recs[s.reads]
	s.reads++
	return rec, true, nil
}

type fakeSource struct {
	posts *sliceSeq
	saved *sliceSeq
}

func (f *fakeSource) FetchProfile(_ context.Context, username string) (archive.ProfileRecord, error) {
	if username == "ghost" {
		return archive.ProfileRecord{}, archive.ErrProfileNotFound
	}
	return archive.ProfileRecord{Username: username}, nil
}

func (f *fakeSource) Posts(context.Context, archive.ProfileRecord) (archive.PostSequence, error) {
	return f.posts, nil
}

func (f *fakeSource) SavedPosts(context.Context, archive.ProfileRecord) (archive.PostSequence, error) {
	return f.saved, nil
}

func (f *fakeSource) FetchPost(context.Context, string) (archive.PostRecord, error) {
	return archive.PostRecord{}, archive.ErrPostNotFound
}

type fakeIngester struct {
	ingested []string
	fail     string
}

func (f *fakeIngester) Ingest(_ context.Context, rec archive.PostRecord) (archive.Post, error) {
	if rec.Shortcode == f.fail {
		return archive.Post{}, errors.New("download failed")
	}
	f.ingested = append(f.ingested, rec.Shortcode)
	return archive.Post{Shortcode: rec.Shortcode, Timestamp: rec.CreatedAt}, nil
}

type fakeProgress struct {
	mu     sync.Mutex
	counts []int
}

func (f *fakeProgress) UpdatePostCount(_ context.Context, _ string, count int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counts = append(f.counts, count)
	return nil
}

type countingPacer struct{ calls int }

func (p *countingPacer) Pace(ctx context.Context) error {
	p.calls++
	return ctx.Err()
}

type fixture struct {
	source   *fakeSource
	catalog  *memory.Catalog
	ingester *fakeIngester
	progress *fakeProgress
	pacer    *countingPacer
}

func newFixture(t *testing.T, posts, saved []archive.PostRecord, known ...string) (*fixture, Deps) {
	t.Helper()
	ctx := context.Background()
	catalog := memory.NewCatalog()
	require.NoError(t, catalog.UpsertProfile(ctx, archive.Profile{Username: "alice", DisplayName: "alice"}))
	for _, sc := range known {
		require.NoError(t, catalog.SavePost(ctx, archive.Post{
			Shortcode: sc,
			Username:  "alice",
			Timestamp: base,
			Type:      archive.PostTypeImage,
			Items:     []archive.PostItem{{Shortcode: sc, Type: archive.MediaTypeImage, Filename: sc + ".jpg"}},
		}))
	}
	f := &fixture{
		source:   &fakeSource{posts: &sliceSeq{recs: posts}, saved: &sliceSeq{recs: saved}},
		catalog:  catalog,
		ingester: &fakeIngester{},
		progress: &fakeProgress{},
		pacer:    &countingPacer{},
	}
	return f, Deps{
		Source:   f.source,
		Catalog:  catalog,
		Ingester: f.ingester,
		Progress: f.progress,
		Pacer:    f.pacer,
	}
}

func rec(shortcode string, age time.Duration, pinned bool) archive.PostRecord {
	return archive.PostRecord{
		Shortcode:     shortcode,
		OwnerUsername: "alice",
		CreatedAt:     base.Add(-age),
		Pinned:        pinned,
	}
}

func TestCatchUpStopsAtFirstKnownPost(t *testing.T) {
	t.Parallel()

	posts := []archive.PostRecord{
		rec("old-pinned", 100*time.Hour, true),
		rec("new2", time.Hour, false),
		rec("new1", 2*time.Hour, false),
		rec("known", 3*time.Hour, false),
		rec("older", 4*time.Hour, false),
	}
	f, deps := newFixture(t, posts, nil, "known", "old-pinned")
	task := &archive.Task{ID: "t1", Type: archive.TaskTypeCatchUp, Username: ptr("alice")}

	require.NoError(t, NewCatchUp(deps).Run(context.Background(), task))
	require.Equal(t, []string{"new2", "new1"}, f.ingester.ingested)
	require.Equal(t, 2, task.Count())
	require.Equal(t, []int{1, 2}, f.progress.counts)
	require.Equal(t, 4, f.source.posts.reads)
	require.Equal(t, 4, f.pacer.calls)
}

func TestCatchUpUnknownProfileFails(t *testing.T) {
	t.Parallel()

	_, deps := newFixture(t, nil, nil)
	task := &archive.Task{ID: "t1", Type: archive.TaskTypeCatchUp, Username: ptr("ghost")}

	err := NewCatchUp(deps).Run(context.Background(), task)
	require.ErrorIs(t, err, archive.ErrProfileNotFound)
	require.Zero(t, task.Count())
}

func TestCatchUpIngestFailureKeepsCount(t *testing.T) {
	t.Parallel()

	posts := []archive.PostRecord{rec("a", time.Hour, false), rec("b", 2*time.Hour, false)}
	f, deps := newFixture(t, posts, nil)
	f.ingester.fail = "b"
	task := &archive.Task{ID: "t1", Type: archive.TaskTypeCatchUp, Username: ptr("alice")}

	err := NewCatchUp(deps).Run(context.Background(), task)
	require.Error(t, err)
	require.Equal(t, 1, task.Count())
}

func TestTimeRangeWindow(t *testing.T) {
	t.Parallel()

	posts := []archive.PostRecord{
		rec("pinned", 50*time.Hour, true),
		rec("too-new", time.Hour, false),
		rec("at-end", 2*time.Hour, false),
		rec("inside", 3*time.Hour, false),
		rec("at-start", 4*time.Hour, false),
		rec("before", 5*time.Hour, false),
		rec("never", 6*time.Hour, false),
	}
	f, deps := newFixture(t, posts, nil)
	task := &archive.Task{
		ID:             "t1",
		Type:           archive.TaskTypeTimeRange,
		Username:       ptr("alice"),
		TimeRangeStart: ptr(base.Add(-4 * time.Hour)),
		TimeRangeEnd:   ptr(base.Add(-2 * time.Hour)),
	}

	require.NoError(t, NewTimeRange(deps).Run(context.Background(), task))
	require.Equal(t, []string{"inside", "at-start"}, f.ingester.ingested)
	require.Equal(t, 6, f.source.posts.reads)
}

func TestTimeRangeRequiresBounds(t *testing.T) {
	t.Parallel()

	_, deps := newFixture(t, nil, nil)
	task := &archive.Task{ID: "t1", Type: archive.TaskTypeTimeRange, Username: ptr("alice")}
	require.ErrorIs(t, NewTimeRange(deps).Run(context.Background(), task), archive.ErrInvalidRequest)
}

func TestSavedItemsStopsAtKnownWithoutLimit(t *testing.T) {
	t.Parallel()

	saved := []archive.PostRecord{rec("s1", 0, false), rec("known", 0, false), rec("s2", 0, false)}
	f, deps := newFixture(t, nil, saved, "known")
	task := &archive.Task{ID: "t1", Type: archive.TaskTypeSavedPosts}

	require.NoError(t, NewSavedItems(deps, "alice").Run(context.Background(), task))
	require.Equal(t, []string{"s1"}, f.ingester.ingested)
}

func TestSavedItemsScanLimitSkipsKnown(t *testing.T) {
	t.Parallel()

	saved := []archive.PostRecord{
		rec("s1", 0, false),
		rec("known", 0, false),
		rec("s2", 0, false),
		rec("s3", 0, false),
	}
	f, deps := newFixture(t, nil, saved, "known")
	task := &archive.Task{ID: "t1", Type: archive.TaskTypeSavedPosts, ScanLimit: ptr(3)}

	require.NoError(t, NewSavedItems(deps, "alice").Run(context.Background(), task))
	require.Equal(t, []string{"s1", "s2"}, f.ingester.ingested)
	require.Equal(t, 2, task.Count())
}

func TestSavedItemsRequiresIdentity(t *testing.T) {
	t.Parallel()

	_, deps := newFixture(t, nil, nil)
	require.Error(t, NewSavedItems(deps, "").Run(context.Background(), &archive.Task{ID: "t1"}))
}

func TestArchiveSinceReportsNewestIngested(t *testing.T) {
	t.Parallel()

	posts := []archive.PostRecord{
		rec("pinned", 10*time.Minute, true),
		rec("p2", time.Hour, false),
		rec("p1", 2*time.Hour, false),
		rec("at-mark", 3*time.Hour, false),
		rec("older", 4*time.Hour, false),
	}
	f, deps := newFixture(t, posts, nil)
	watermark := base.Add(-3 * time.Hour)

	newest, count, err := NewArchiveSince(deps).Run(context.Background(), "alice", &watermark)
	require.NoError(t, err)
	require.Equal(t, 2, count)
	require.Equal(t, []string{"p2", "p1"}, f.ingester.ingested)
	require.NotNil(t, newest)
	require.True(t, newest.Equal(base.Add(-time.Hour)))
}

func TestArchiveSinceNothingNew(t *testing.T) {
	t.Parallel()

	posts := []archive.PostRecord{rec("old", 5*time.Hour, false)}
	_, deps := newFixture(t, posts, nil)
	watermark := base

	newest, count, err := NewArchiveSince(deps).Run(context.Background(), "alice", &watermark)
	require.NoError(t, err)
	require.Zero(t, count)
	require.Nil(t, newest)
}

func TestWalkStopsOnCancelledContext(t *testing.T) {
	t.Parallel()

	posts := []archive.PostRecord{rec("a", time.Hour, false)}
	f, deps := newFixture(t, posts, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := NewCatchUp(deps).Run(ctx, &archive.Task{ID: "t1", Username: ptr("alice")})
	require.ErrorIs(t, err, context.Canceled)
	require.Empty(t, f.ingester.ingested)
}

func TestForRegistersEveryTaskType(t *testing.T) {
	t.Parallel()

	_, deps := newFixture(t, nil, nil)
	strategies := For(deps, "alice")
	for _, tt := range []archive.TaskType{archive.TaskTypeCatchUp, archive.TaskTypeTimeRange, archive.TaskTypeSavedPosts} {
		require.Contains(t, strategies, tt)
	}
}
