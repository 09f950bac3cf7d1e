// Package executor runs claimed archival tasks one at a time.
package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/post-archiver/internal/archive"
	"github.com/JakeFAU/post-archiver/internal/crawl"
	"github.com/JakeFAU/post-archiver/internal/metrics"
	"github.com/JakeFAU/post-archiver/internal/telemetry"
)

// Lifecycle event names.
const (
	EventTaskStarted   = "task_started"
	EventTaskSucceeded = "task_succeeded"
	EventTaskFailed    = "task_failed"
)

// TaskQueue is the subset of the queue the executor drives.
type TaskQueue interface {
	ClaimNext(ctx context.Context) (archive.Task, bool, error)
	MarkSucceeded(ctx context.Context, task archive.Task) (archive.Task, error)
	MarkFailed(ctx context.Context, task archive.Task) (archive.Task, error)
}

// Event is the payload published on every task transition.
type Event struct {
	Event string       `json:"event"`
	Task  archive.Task `json:"task"`
	Error string       `json:"error,omitempty"`
}

// Default retry delays after a failed drain.
const (
	DefaultRetryInterval    = time.Second
	DefaultMaxRetryInterval = time.Minute
)

// Config controls Executor behavior.
type Config struct {
	Topic string
	// RetryInterval is the first delay before re-draining after a queue error.
	// It doubles on each consecutive failure up to MaxRetryInterval.
	RetryInterval    time.Duration
	MaxRetryInterval time.Duration
}

// Executor claims pending tasks and dispatches them to the strategy of their type.
type Executor struct {
	queue      TaskQueue
	strategies map[archive.TaskType]crawl.Strategy
	publisher  archive.Publisher
	cfg        Config
	logger     *zap.Logger
	wake       chan struct{}
}

// New constructs an Executor. publisher may be nil.
func New(
	queue TaskQueue,
	strategies map[archive.TaskType]crawl.Strategy,
	publisher archive.Publisher,
	cfg Config,
	logger *zap.Logger,
) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = DefaultRetryInterval
	}
	if cfg.MaxRetryInterval < cfg.RetryInterval {
		cfg.MaxRetryInterval = max(DefaultMaxRetryInterval, cfg.RetryInterval)
	}
	return &Executor{
		queue:      queue,
		strategies: strategies,
		publisher:  publisher,
		cfg:        cfg,
		logger:     logger,
		wake:       make(chan struct{}, 1),
	}
}

// Trigger wakes Run without blocking. Wakes coalesce.
func (e *Executor) Trigger() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// Run drains the queue, then sleeps until triggered, until ctx ends.
// A failed drain is retried with exponential backoff; a trigger retries early.
func (e *Executor) Run(ctx context.Context) {
	backoff := e.cfg.RetryInterval
	for {
		var retry <-chan time.Time
		if err := e.Drain(ctx); err != nil && ctx.Err() == nil {
			e.logger.Error("drain task queue failed", zap.Duration("retry_in", backoff), zap.Error(err))
			retry = time.After(backoff)
			backoff = min(backoff*2, e.cfg.MaxRetryInterval)
		} else {
			backoff = e.cfg.RetryInterval
		}
		select {
		case <-ctx.Done():
			return
		case <-e.wake:
		case <-retry:
		}
	}
}

// Drain executes pending tasks until none remain or ctx ends.
func (e *Executor) Drain(ctx context.Context) error {
	for ctx.Err() == nil {
		task, ok, err := e.queue.ClaimNext(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		e.execute(ctx, task)
	}
	return nil
}

func (e *Executor) execute(ctx context.Context, task archive.Task) {
	logger := e.logger.With(zap.String("task_id", task.ID), zap.String("type", string(task.Type)))
	if task.Username != nil {
		logger = logger.With(zap.String("username", *task.Username))
	}
	ctx, span := telemetry.Tracer().Start(ctx, "archive.task", trace.WithAttributes(
		attribute.String("task.id", task.ID),
		attribute.String("task.type", string(task.Type)),
	))
	defer span.End()
	metrics.IncActiveTasks()
	defer metrics.DecActiveTasks()
	logger.Info("task started")
	e.publish(ctx, logger, Event{Event: EventTaskStarted, Task: task})

	runErr := e.runStrategy(ctx, &task)

	// Terminal states must land even when shutdown cancelled ctx.
	finishCtx := context.WithoutCancel(ctx)
	var (
		final archive.Task
		err   error
		event Event
	)
	span.SetAttributes(attribute.Int("task.post_count", task.Count()))
	if runErr != nil {
		span.RecordError(runErr)
		span.SetStatus(codes.Error, runErr.Error())
		final, err = e.queue.MarkFailed(finishCtx, task)
		event = Event{Event: EventTaskFailed, Task: final, Error: runErr.Error()}
		logger.Warn("task failed", zap.Int("post_count", task.Count()), zap.Error(runErr))
	} else {
		final, err = e.queue.MarkSucceeded(finishCtx, task)
		event = Event{Event: EventTaskSucceeded, Task: final}
		logger.Info("task succeeded", zap.Int("post_count", task.Count()))
	}
	if err != nil {
		logger.Error("record task result failed", zap.Error(err))
		return
	}
	metrics.ObserveTask(string(final.Type), string(final.Status), duration(final))
	e.publish(finishCtx, logger, event)
}

func (e *Executor) runStrategy(ctx context.Context, task *archive.Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("strategy panic: %v", r)
		}
	}()
	strategy, ok := e.strategies[task.Type]
	if !ok {
		return fmt.Errorf("no strategy for task type %q", task.Type)
	}
	return strategy.Run(ctx, task)
}

func (e *Executor) publish(ctx context.Context, logger *zap.Logger, event Event) {
	if e.publisher == nil {
		return
	}
	if _, err := e.publisher.Publish(ctx, e.cfg.Topic, event); err != nil && !errors.Is(err, context.Canceled) {
		logger.Warn("publish task event failed", zap.String("event", event.Event), zap.Error(err))
	}
}

func duration(task archive.Task) time.Duration {
	if task.Started == nil || task.Completed == nil {
		return 0
	}
	return task.Completed.Sub(*task.Started)
}
