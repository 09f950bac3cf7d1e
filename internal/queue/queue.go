// Package queue is the durable archival task queue. It validates creation
// requests, hands out pending tasks oldest first and records terminal states.
package queue

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/post-archiver/internal/archive"
)

// Listing defaults and bounds.
const (
	DefaultLimit = 10
	MaxLimit     = 100
)

// Queue wraps a TaskStore with lifecycle rules.
type Queue struct {
	store  archive.TaskStore
	ids    archive.IDGenerator
	clock  archive.Clock
	logger *zap.Logger
}

// New constructs a Queue.
func New(store archive.TaskStore, ids archive.IDGenerator, clock archive.Clock, logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{store: store, ids: ids, clock: clock, logger: logger}
}

// Create validates req and enqueues one pending task per username, or a
// single task for saved posts. All tasks share one creation timestamp.
func (q *Queue) Create(ctx context.Context, req archive.TaskRequest) ([]archive.Task, error) {
	if !req.Type.Valid() {
		return nil, fmt.Errorf("%w: unknown task type %q", archive.ErrInvalidRequest, req.Type)
	}
	if req.ScanLimit != nil && *req.ScanLimit < 1 {
		return nil, fmt.Errorf("%w: scan_limit must be at least 1", archive.ErrInvalidRequest)
	}

	var usernames []*string
	switch req.Type {
	case archive.TaskTypeSavedPosts:
		usernames = []*string{nil}
	default:
		names, err := normalizeUsernames(req.Usernames)
		if err != nil {
			return nil, err
		}
		for _, name := range names {
			usernames = append(usernames, &name)
		}
	}
	if req.Type == archive.TaskTypeTimeRange {
		if req.TimeRangeStart == nil || req.TimeRangeEnd == nil {
			return nil, fmt.Errorf("%w: time_range requires start and end", archive.ErrInvalidRequest)
		}
		if !req.TimeRangeStart.Before(*req.TimeRangeEnd) {
			return nil, fmt.Errorf("%w: time_range_start must be before time_range_end", archive.ErrInvalidRequest)
		}
	}

	now := q.clock.Now()
	tasks := make([]archive.Task, 0, len(usernames))
	for _, username := range usernames {
		id, err := q.ids.NewID()
		if err != nil {
			return nil, err
		}
		task := archive.Task{
			ID:       id,
			Username: username,
			Type:     req.Type,
			Status:   archive.TaskStatusPending,
			Created:  now,
		}
		switch req.Type {
		case archive.TaskTypeTimeRange:
			task.TimeRangeStart = req.TimeRangeStart
			task.TimeRangeEnd = req.TimeRangeEnd
		case archive.TaskTypeSavedPosts:
			task.ScanLimit = req.ScanLimit
		}
		tasks = append(tasks, task)
	}
	if err := q.store.CreateTasks(ctx, tasks); err != nil {
		return nil, fmt.Errorf("create tasks: %w", err)
	}
	q.logger.Info("tasks created",
		zap.String("type", string(req.Type)),
		zap.Int("count", len(tasks)),
	)
	return tasks, nil
}

func normalizeUsernames(raw []string) ([]string, error) {
	seen := make(map[string]struct{}, len(raw))
	out := make([]string, 0, len(raw))
	for _, name := range raw {
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, fmt.Errorf("%w: empty username", archive.ErrInvalidRequest)
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: at least one username is required", archive.ErrInvalidRequest)
	}
	return out, nil
}

// List returns one page of tasks, applying listing defaults.
func (q *Queue) List(ctx context.Context, filter archive.TaskFilter) (archive.TaskPage, error) {
	if filter.Offset < 0 {
		return archive.TaskPage{}, fmt.Errorf("%w: offset must not be negative", archive.ErrInvalidRequest)
	}
	switch {
	case filter.Limit == 0:
		filter.Limit = DefaultLimit
	case filter.Limit < 0 || filter.Limit > MaxLimit:
		return archive.TaskPage{}, fmt.Errorf("%w: limit must be between 1 and %d", archive.ErrInvalidRequest, MaxLimit)
	}
	switch filter.Order {
	case "":
		filter.Order = archive.SortAscending
	case archive.SortAscending, archive.SortDescending:
	default:
		return archive.TaskPage{}, fmt.Errorf("%w: unknown order %q", archive.ErrInvalidRequest, filter.Order)
	}
	for _, s := range filter.Statuses {
		switch s {
		case archive.TaskStatusPending, archive.TaskStatusInProgress,
			archive.TaskStatusSucceeded, archive.TaskStatusFailed:
		default:
			return archive.TaskPage{}, fmt.Errorf("%w: unknown status %q", archive.ErrInvalidRequest, s)
		}
	}
	page, err := q.store.ListTasks(ctx, filter)
	if err != nil {
		return archive.TaskPage{}, fmt.Errorf("list tasks: %w", err)
	}
	return page, nil
}

// ClaimNext moves the oldest pending task to in_progress and returns it.
func (q *Queue) ClaimNext(ctx context.Context) (archive.Task, bool, error) {
	task, ok, err := q.store.ClaimNextTask(ctx, q.markInProgress)
	if err != nil {
		return archive.Task{}, false, fmt.Errorf("claim task: %w", err)
	}
	return task, ok, nil
}

func (q *Queue) markInProgress(task *archive.Task) error {
	if err := archive.ValidateTransition(task.Status, archive.TaskStatusInProgress); err != nil {
		return err
	}
	started := q.clock.Now()
	zero := 0
	task.Status = archive.TaskStatusInProgress
	task.Started = &started
	task.PostCount = &zero
	return nil
}

// MarkSucceeded completes an in-progress task.
func (q *Queue) MarkSucceeded(ctx context.Context, task archive.Task) (archive.Task, error) {
	return q.finish(ctx, task, archive.TaskStatusSucceeded)
}

// MarkFailed fails an in-progress task, keeping its post count.
func (q *Queue) MarkFailed(ctx context.Context, task archive.Task) (archive.Task, error) {
	return q.finish(ctx, task, archive.TaskStatusFailed)
}

func (q *Queue) finish(ctx context.Context, task archive.Task, to archive.TaskStatus) (archive.Task, error) {
	from := task.Status
	if err := archive.ValidateTransition(from, to); err != nil {
		return task, err
	}
	completed := q.clock.Now()
	count := task.Count()
	task.Status = to
	task.Completed = &completed
	task.PostCount = &count
	if err := q.store.UpdateTaskState(ctx, task, from); err != nil {
		return task, fmt.Errorf("mark task %s %s: %w", task.ID, to, err)
	}
	return task, nil
}

// UpdatePostCount persists a running task's post count.
func (q *Queue) UpdatePostCount(ctx context.Context, taskID string, count int) error {
	if err := q.store.UpdateTaskPostCount(ctx, taskID, count); err != nil {
		return fmt.Errorf("update post count of %s: %w", taskID, err)
	}
	return nil
}

// HasPending reports whether any task is waiting to be claimed.
func (q *Queue) HasPending(ctx context.Context) (bool, error) {
	page, err := q.store.ListTasks(ctx, archive.TaskFilter{
		Statuses: []archive.TaskStatus{archive.TaskStatusPending},
		Limit:    1,
		Order:    archive.SortAscending,
	})
	if err != nil {
		return false, fmt.Errorf("count pending tasks: %w", err)
	}
	return page.Count > 0, nil
}
