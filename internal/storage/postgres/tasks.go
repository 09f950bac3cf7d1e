package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/post-archiver/internal/archive"
)

const taskColumns = `t.id, t.username, p.display_name, t.type, t.status, t.created, t.started,
	t.completed, t.post_count, t.time_range_start, t.time_range_end, t.scan_limit`

const taskFilter = `($1::text[] IS NULL OR t.status = ANY ($1)) AND ($2::text IS NULL OR t.username = $2)`

func scanTask(row pgx.Row) (archive.Task, error) {
	var (
		t           archive.Task
		typ, status string
	)
	err := row.Scan(
		&t.ID,
		&t.Username,
		&t.UserDisplayName,
		&typ,
		&status,
		&t.Created,
		&t.Started,
		&t.Completed,
		&t.PostCount,
		&t.TimeRangeStart,
		&t.TimeRangeEnd,
		&t.ScanLimit,
	)
	if err != nil {
		return archive.Task{}, err
	}
	t.Type = archive.TaskType(typ)
	t.Status = archive.TaskStatus(status)
	return t, nil
}

// CreateTasks inserts tasks in one transaction. Existing ids are left untouched.
func (c *Catalog) CreateTasks(ctx context.Context, tasks []archive.Task) error {
	return c.withTx(ctx, func(tx pgx.Tx) error {
		for _, t := range tasks {
			if _, err := tx.Exec(ctx, `
INSERT INTO tasks (id, username, type, status, created, started, completed, post_count,
	time_range_start, time_range_end, scan_limit)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
ON CONFLICT (id) DO NOTHING`,
				t.ID,
				t.Username,
				string(t.Type),
				string(t.Status),
				t.Created,
				t.Started,
				t.Completed,
				t.PostCount,
				t.TimeRangeStart,
				t.TimeRangeEnd,
				t.ScanLimit,
			); err != nil {
				return fmt.Errorf("insert task %s: %w", t.ID, err)
			}
		}
		return nil
	})
}

// ListTasks returns one page of tasks plus the total number of matches.
func (c *Catalog) ListTasks(ctx context.Context, filter archive.TaskFilter) (archive.TaskPage, error) {
	statuses := statusArg(filter.Statuses)
	page := archive.TaskPage{Limit: filter.Limit, Offset: filter.Offset, Tasks: []archive.Task{}}

	if err := c.pool.QueryRow(ctx,
		`SELECT count(*) FROM tasks t WHERE `+taskFilter, statuses, filter.Username,
	).Scan(&page.Count); err != nil {
		return archive.TaskPage{}, fmt.Errorf("count tasks: %w", err)
	}

	direction := "ASC"
	if filter.Order == archive.SortDescending {
		direction = "DESC"
	}
	rows, err := c.pool.Query(ctx, `
SELECT `+taskColumns+`
FROM tasks t LEFT JOIN profiles p ON p.username = t.username
WHERE `+taskFilter+`
ORDER BY t.created `+direction+`, t.id `+direction+`
OFFSET $3 LIMIT $4`, statuses, filter.Username, filter.Offset, filter.Limit)
	if err != nil {
		return archive.TaskPage{}, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return archive.TaskPage{}, fmt.Errorf("scan task: %w", err)
		}
		page.Tasks = append(page.Tasks, t)
	}
	if err := rows.Err(); err != nil {
		return archive.TaskPage{}, fmt.Errorf("iterate tasks: %w", err)
	}
	return page, nil
}

// ClaimNextTask locks the oldest pending task, skipping rows locked by concurrent
// claimers, applies fn while the lock is held and persists the result.
func (c *Catalog) ClaimNextTask(ctx context.Context, apply func(*archive.Task) error) (archive.Task, bool, error) {
	var (
		claimed archive.Task
		found   bool
	)
	err := c.withTx(ctx, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `
SELECT `+taskColumns+`
FROM tasks t LEFT JOIN profiles p ON p.username = t.username
WHERE t.status = 'pending'
ORDER BY t.created, t.id
LIMIT 1
FOR UPDATE OF t SKIP LOCKED`)
		task, err := scanTask(row)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("select pending task: %w", err)
		}
		if err := apply(&task); err != nil {
			return err
		}
		if err := updateState(ctx, tx, task, archive.TaskStatusPending); err != nil {
			return err
		}
		claimed, found = task, true
		return nil
	})
	if err != nil {
		return archive.Task{}, false, err
	}
	return claimed, found, nil
}

// UpdateTaskState persists the task's status fields if its stored status is still from.
func (c *Catalog) UpdateTaskState(ctx context.Context, task archive.Task, from archive.TaskStatus) error {
	return updateState(ctx, c.pool, task, from)
}

func updateState(ctx context.Context, q querier, task archive.Task, from archive.TaskStatus) error {
	tag, err := q.Exec(ctx, `
UPDATE tasks SET status = $2, started = $3, completed = $4, post_count = $5
WHERE id = $1 AND status = $6`,
		task.ID, string(task.Status), task.Started, task.Completed, task.PostCount, string(from))
	if err != nil {
		return fmt.Errorf("update task %s: %w", task.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: task %s is not %s", archive.ErrInvalidTransition, task.ID, from)
	}
	return nil
}

// UpdateTaskPostCount persists the running post count.
func (c *Catalog) UpdateTaskPostCount(ctx context.Context, id string, count int) error {
	tag, err := c.pool.Exec(ctx, `UPDATE tasks SET post_count = $2 WHERE id = $1`, id, count)
	if err != nil {
		return fmt.Errorf("update post count %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", archive.ErrTaskNotFound, id)
	}
	return nil
}

func statusArg(statuses []archive.TaskStatus) []string {
	if len(statuses) == 0 {
		return nil
	}
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}
