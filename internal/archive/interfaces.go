package archive

import (
	"context"
	"time"
)

// PostSequence is a lazy, newest-first stream of remote posts.
// Next returns false once the remote history is exhausted.
type PostSequence interface {
	Next(ctx context.Context) (PostRecord, bool, error)
}

// ContentSource is the remote account/post provider.
type ContentSource interface {
	FetchProfile(ctx context.Context, username string) (ProfileRecord, error)
	Posts(ctx context.Context, profile ProfileRecord) (PostSequence, error)
	SavedPosts(ctx context.Context, profile ProfileRecord) (PostSequence, error)
	FetchPost(ctx context.Context, shortcode string) (PostRecord, error)
}

// Catalog persists profiles, posts, post items and tasks.
type Catalog interface {
	ProfileExists(ctx context.Context, username string) (bool, error)
	GetProfile(ctx context.Context, username string) (Profile, error)
	UpsertProfile(ctx context.Context, profile Profile) error
	SetAutoArchive(ctx context.Context, username string, enabled bool) error

	PostExists(ctx context.Context, shortcode string) (bool, error)
	GetPost(ctx context.Context, shortcode string) (Post, error)
	SavePost(ctx context.Context, post Post) error
	DeletePostItems(ctx context.Context, shortcode string, index *int) (PostDeletion, error)
	LatestPostTimestamp(ctx context.Context, username string) (*time.Time, error)

	TaskStore

	ClaimAutoArchive(
		ctx context.Context,
		staleBefore time.Time,
		fn func(ctx context.Context, profile Profile) (AutoArchiveResult, error),
	) (Profile, bool, error)
}

// TaskStore is the durable backing of the task queue.
type TaskStore interface {
	CreateTasks(ctx context.Context, tasks []Task) error
	ListTasks(ctx context.Context, filter TaskFilter) (TaskPage, error)
	// ClaimNextTask locks the oldest pending task, lets apply mutate it while
	// the lock is held, persists the result and returns it.
	ClaimNextTask(ctx context.Context, apply func(*Task) error) (Task, bool, error)
	// UpdateTaskState persists status, timestamps and count if the stored status is still from.
	UpdateTaskState(ctx context.Context, task Task, from TaskStatus) error
	UpdateTaskPostCount(ctx context.Context, id string, count int) error
}

// PostDeletion reports what DeletePostItems removed.
type PostDeletion struct {
	Post        Post
	Removed     []PostItem
	PostDeleted bool
}

// MediaStore owns the on-disk media tree.
type MediaStore interface {
	Write(ctx context.Context, rel string, data []byte, modTime time.Time) error
	Exists(rel string) bool
	Remove(rel string) error
}

// Downloader fetches remote media.
type Downloader interface {
	Download(ctx context.Context, url string) (Media, error)
}

// Publisher pushes task lifecycle events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces task IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
