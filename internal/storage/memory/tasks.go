package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"

	"github.com/JakeFAU/post-archiver/internal/archive"
)

// CreateTasks stores tasks, ignoring ids that already exist.
func (c *Catalog) CreateTasks(_ context.Context, tasks []archive.Task) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range tasks {
		if _, exists := c.tasks[t.ID]; exists {
			continue
		}
		c.tasks[t.ID] = t
	}
	return nil
}

// ListTasks filters, orders and pages stored tasks.
func (c *Catalog) ListTasks(_ context.Context, filter archive.TaskFilter) (archive.TaskPage, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	matched := make([]archive.Task, 0, len(c.tasks))
	for _, t := range c.tasks {
		if len(filter.Statuses) > 0 && !slices.Contains(filter.Statuses, t.Status) {
			continue
		}
		if filter.Username != nil && (t.Username == nil || *t.Username != *filter.Username) {
			continue
		}
		matched = append(matched, c.withDisplayName(t))
	}
	sortTasks(matched)
	if filter.Order == archive.SortDescending {
		slices.Reverse(matched)
	}
	page := archive.TaskPage{Limit: filter.Limit, Offset: filter.Offset, Count: len(matched), Tasks: []archive.Task{}}
	if filter.Offset < len(matched) {
		end := len(matched)
		if filter.Limit >= 0 && filter.Offset+filter.Limit < end {
			end = filter.Offset + filter.Limit
		}
		page.Tasks = append(page.Tasks, matched[filter.Offset:end]...)
	}
	return page, nil
}

// ClaimNextTask applies fn to the oldest pending task while holding the catalog lock.
func (c *Catalog) ClaimNextTask(_ context.Context, apply func(*archive.Task) error) (archive.Task, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var pending []archive.Task
	for _, t := range c.tasks {
		if t.Status == archive.TaskStatusPending {
			pending = append(pending, t)
		}
	}
	if len(pending) == 0 {
		return archive.Task{}, false, nil
	}
	sortTasks(pending)
	task := c.withDisplayName(pending[0])
	if err := apply(&task); err != nil {
		return archive.Task{}, false, err
	}
	c.tasks[task.ID] = task
	return task, true, nil
}

// UpdateTaskState persists status fields if the stored status is still from.
func (c *Catalog) UpdateTaskState(_ context.Context, task archive.Task, from archive.TaskStatus) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	stored, ok := c.tasks[task.ID]
	if !ok || stored.Status != from {
		return fmt.Errorf("%w: task %s is not %s", archive.ErrInvalidTransition, task.ID, from)
	}
	stored.Status = task.Status
	stored.Started = task.Started
	stored.Completed = task.Completed
	stored.PostCount = task.PostCount
	c.tasks[task.ID] = stored
	return nil
}

// UpdateTaskPostCount persists the running post count.
func (c *Catalog) UpdateTaskPostCount(_ context.Context, id string, count int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	stored, ok := c.tasks[id]
	if !ok {
		return fmt.Errorf("%w: %s", archive.ErrTaskNotFound, id)
	}
	stored.PostCount = &count
	c.tasks[id] = stored
	return nil
}

func (c *Catalog) withDisplayName(t archive.Task) archive.Task {
	t.UserDisplayName = nil
	if t.Username != nil {
		if p, ok := c.profiles[*t.Username]; ok {
			name := p.DisplayName
			t.UserDisplayName = &name
		}
	}
	return t
}

func sortTasks(tasks []archive.Task) {
	sort.Slice(tasks, func(i, j int) bool {
		if !tasks[i].Created.Equal(tasks[j].Created) {
			return tasks[i].Created.Before(tasks[j].Created)
		}
		return tasks[i].ID < tasks[j].ID
	})
}
