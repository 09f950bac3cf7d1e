package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/post-archiver/internal/archive"
)

func ptr[T any](v T) *T { return &v }

func seedProfile(t *testing.T, c *Catalog, username string, autoArchive bool) {
	t.Helper()
	require.NoError(t, c.UpsertProfile(context.Background(), archive.Profile{
		Username:    username,
		DisplayName: username,
		AutoArchive: autoArchive,
	}))
}

func TestSavePostIsIdempotent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c := NewCatalog()
	seedProfile(t, c, "alice", false)
	post := archive.Post{
		Shortcode: "abc",
		Username:  "alice",
		Type:      archive.PostTypeSidecar,
		Items: []archive.PostItem{
			{Index: 1, Type: archive.MediaTypeImage, Filename: "b"},
			{Index: 0, Type: archive.MediaTypeImage, Filename: "a"},
		},
	}
	require.NoError(t, c.SavePost(ctx, post))
	post.Caption = ptr("updated")
	require.NoError(t, c.SavePost(ctx, post))

	got, err := c.GetPost(ctx, "abc")
	require.NoError(t, err)
	require.Equal(t, "updated", *got.Caption)
	require.Len(t, got.Items, 2)
	require.Equal(t, 0, got.Items[0].Index)
	require.Equal(t, "abc", got.Items[0].Shortcode)
	require.Len(t, c.posts, 1)
}

func TestSavePostRequiresProfile(t *testing.T) {
	t.Parallel()

	err := NewCatalog().SavePost(context.Background(), archive.Post{Shortcode: "x", Username: "ghost"})
	require.ErrorIs(t, err, archive.ErrProfileNotFound)
}

func TestUpsertProfileKeepsAutoArchiveState(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c := NewCatalog()
	seedProfile(t, c, "alice", true)
	require.NoError(t, c.UpsertProfile(ctx, archive.Profile{Username: "alice", FullName: "Alice A"}))

	p, err := c.GetProfile(ctx, "alice")
	require.NoError(t, err)
	require.True(t, p.AutoArchive)
	require.Equal(t, "Alice A", p.FullName)

	require.ErrorIs(t, c.SetAutoArchive(ctx, "ghost", true), archive.ErrProfileNotFound)
}

func TestDeletePostItems(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c := NewCatalog()
	seedProfile(t, c, "alice", false)
	require.NoError(t, c.SavePost(ctx, archive.Post{
		Shortcode: "abc",
		Username:  "alice",
		Items: []archive.PostItem{
			{Index: 0, Filename: "a"},
			{Index: 1, Filename: "b"},
		},
	}))

	_, err := c.DeletePostItems(ctx, "abc", ptr(5))
	require.ErrorIs(t, err, archive.ErrPostItemNotFound)

	out, err := c.DeletePostItems(ctx, "abc", ptr(0))
	require.NoError(t, err)
	require.False(t, out.PostDeleted)
	require.Equal(t, "a", out.Removed[0].Filename)

	out, err = c.DeletePostItems(ctx, "abc", ptr(1))
	require.NoError(t, err)
	require.True(t, out.PostDeleted)

	exists, err := c.PostExists(ctx, "abc")
	require.NoError(t, err)
	require.False(t, exists)

	_, err = c.DeletePostItems(ctx, "abc", nil)
	require.ErrorIs(t, err, archive.ErrPostNotFound)
}

func TestLatestPostTimestamp(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c := NewCatalog()
	seedProfile(t, c, "alice", false)
	latest, err := c.LatestPostTimestamp(ctx, "alice")
	require.NoError(t, err)
	require.Nil(t, latest)

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, c.SavePost(ctx, archive.Post{Shortcode: "a", Username: "alice", Timestamp: base}))
	require.NoError(t, c.SavePost(ctx, archive.Post{Shortcode: "b", Username: "alice", Timestamp: base.Add(time.Hour)}))

	latest, err = c.LatestPostTimestamp(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, base.Add(time.Hour), *latest)
}

func TestListTasksFiltersAndPages(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c := NewCatalog()
	seedProfile(t, c, "alice", false)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var tasks []archive.Task
	for i, id := range []string{"t1", "t2", "t3", "t4"} {
		tasks = append(tasks, archive.Task{
			ID:       id,
			Username: ptr("alice"),
			Type:     archive.TaskTypeCatchUp,
			Status:   archive.TaskStatusPending,
			Created:  base.Add(time.Duration(i) * time.Minute),
		})
	}
	tasks[3].Username = ptr("bob")
	tasks[2].Status = archive.TaskStatusFailed
	require.NoError(t, c.CreateTasks(ctx, tasks))
	require.NoError(t, c.CreateTasks(ctx, tasks[:1]))

	page, err := c.ListTasks(ctx, archive.TaskFilter{Limit: 2, Order: archive.SortDescending})
	require.NoError(t, err)
	require.Equal(t, 4, page.Count)
	require.Equal(t, []string{"t4", "t3"}, taskIDs(page.Tasks))

	page, err = c.ListTasks(ctx, archive.TaskFilter{
		Limit:    10,
		Statuses: []archive.TaskStatus{archive.TaskStatusPending},
		Username: ptr("alice"),
	})
	require.NoError(t, err)
	require.Equal(t, []string{"t1", "t2"}, taskIDs(page.Tasks))
	require.Equal(t, "alice", *page.Tasks[0].UserDisplayName)

	page, err = c.ListTasks(ctx, archive.TaskFilter{Offset: 10, Limit: 10})
	require.NoError(t, err)
	require.Empty(t, page.Tasks)
	require.Equal(t, 4, page.Count)
}

func TestClaimNextTaskNeverDoubleClaims(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c := NewCatalog()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	const n = 50
	tasks := make([]archive.Task, n)
	for i := range tasks {
		tasks[i] = archive.Task{
			ID:      string(rune('A' + i)),
			Type:    archive.TaskTypeSavedPosts,
			Status:  archive.TaskStatusPending,
			Created: base.Add(time.Duration(i) * time.Second),
		}
	}
	require.NoError(t, c.CreateTasks(ctx, tasks))

	var (
		mu   sync.Mutex
		seen = make(map[string]int)
		wg   sync.WaitGroup
	)
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				task, ok, err := c.ClaimNextTask(ctx, func(t *archive.Task) error {
					t.Status = archive.TaskStatusInProgress
					return nil
				})
				if err != nil || !ok {
					return
				}
				mu.Lock()
				seen[task.ID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Len(t, seen, n)
	for id, count := range seen {
		require.Equal(t, 1, count, id)
	}
}

func TestUpdateTaskStateGuardsStatus(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c := NewCatalog()
	require.NoError(t, c.CreateTasks(ctx, []archive.Task{{ID: "t1", Status: archive.TaskStatusPending}}))

	err := c.UpdateTaskState(ctx, archive.Task{ID: "t1", Status: archive.TaskStatusSucceeded}, archive.TaskStatusInProgress)
	require.ErrorIs(t, err, archive.ErrInvalidTransition)

	require.NoError(t, c.UpdateTaskPostCount(ctx, "t1", 3))
	require.ErrorIs(t, c.UpdateTaskPostCount(ctx, "nope", 1), archive.ErrTaskNotFound)
}

func TestClaimAutoArchiveOrdersMostOverdueFirst(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c := NewCatalog()
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	seedProfile(t, c, "fresh", true)
	seedProfile(t, c, "stale", true)
	seedProfile(t, c, "never", true)
	seedProfile(t, c, "off", false)
	c.profiles["fresh"] = withArchiveAt(c.profiles["fresh"], now.Add(-time.Hour))
	c.profiles["stale"] = withArchiveAt(c.profiles["stale"], now.Add(-5*time.Hour))

	staleBefore := now.Add(-3 * time.Hour)
	var order []string
	for {
		p, ok, err := c.ClaimAutoArchive(ctx, staleBefore,
			func(_ context.Context, p archive.Profile) (archive.AutoArchiveResult, error) {
				order = append(order, p.Username)
				return archive.AutoArchiveResult{ArchivedAt: now}, nil
			})
		require.NoError(t, err)
		if !ok {
			break
		}
		require.Equal(t, now, *p.LastArchiveAt)
	}
	require.Equal(t, []string{"never", "stale"}, order)
}

func TestClaimAutoArchiveSkipsHeldProfiles(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c := NewCatalog()
	seedProfile(t, c, "alice", true)
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	_, ok, err := c.ClaimAutoArchive(ctx, now,
		func(ctx context.Context, _ archive.Profile) (archive.AutoArchiveResult, error) {
			_, nested, err := c.ClaimAutoArchive(ctx, now,
				func(context.Context, archive.Profile) (archive.AutoArchiveResult, error) {
					return archive.AutoArchiveResult{}, errors.New("held profile must be skipped")
				})
			require.NoError(t, err)
			require.False(t, nested)
			return archive.AutoArchiveResult{ArchivedAt: now, Watermark: ptr(now.Add(-time.Minute))}, nil
		})
	require.NoError(t, err)
	require.True(t, ok)

	p, err := c.GetProfile(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, now.Add(-time.Minute), *p.LastArchiveWatermark)
}

func TestClaimAutoArchiveFailureLeavesProfileDue(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c := NewCatalog()
	seedProfile(t, c, "alice", true)
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	_, _, err := c.ClaimAutoArchive(ctx, now,
		func(context.Context, archive.Profile) (archive.AutoArchiveResult, error) {
			return archive.AutoArchiveResult{}, errors.New("offline")
		})
	require.Error(t, err)

	p, err := c.GetProfile(ctx, "alice")
	require.NoError(t, err)
	require.Nil(t, p.LastArchiveAt)
	require.Empty(t, c.claimed)
}

func withArchiveAt(p archive.Profile, at time.Time) archive.Profile {
	p.LastArchiveAt = &at
	return p
}

func taskIDs(tasks []archive.Task) []string {
	ids := make([]string, len(tasks))
	for i, t := range tasks {
		ids[i] = t.ID
	}
	return ids
}
