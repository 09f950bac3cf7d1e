// Package crawl implements the per-task-type stop/skip rules for walking a
// content source's post sequence.
package crawl

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/post-archiver/internal/archive"
)

// Strategy archives posts for one task. Implementations update task.PostCount
// as posts are ingested.
type Strategy interface {
	Run(ctx context.Context, task *archive.Task) error
}

// Ingester stores remote posts.
type Ingester interface {
	Ingest(ctx context.Context, rec archive.PostRecord) (archive.Post, error)
}

// ProgressRecorder persists a task's running post count.
type ProgressRecorder interface {
	UpdatePostCount(ctx context.Context, taskID string, count int) error
}

// Pacer delays between remote sequence reads.
type Pacer interface {
	Pace(ctx context.Context) error
}

type decision int

const (
	ingestPost decision = iota
	skipPost
	stopWalk
)

func (d decision) String() string {
	switch d {
	case ingestPost:
		return "ingest"
	case skipPost:
		return "skip"
	default:
		return "stop"
	}
}

type decideFunc func(ctx context.Context, rec archive.PostRecord) (decision, error)

// Deps bundles the collaborators shared by every strategy.
type Deps struct {
	Source   archive.ContentSource
	Catalog  archive.Catalog
	Ingester Ingester
	Progress ProgressRecorder
	Pacer    Pacer
	Logger   *zap.Logger
}

type walker struct {
	Deps
}

func newWalker(deps Deps) walker {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Pacer == nil {
		deps.Pacer = NoPacer{}
	}
	return walker{Deps: deps}
}

// walk paces, reads the next record and applies decide until the sequence ends
// or decide says stop. onIngest runs after every stored post.
func (w walker) walk(
	ctx context.Context,
	seq archive.PostSequence,
	decide decideFunc,
	onIngest func(ctx context.Context, post archive.Post) error,
) error {
	for {
		if err := w.Pacer.Pace(ctx); err != nil {
			return err
		}
		rec, ok, err := seq.Next(ctx)
		if err != nil {
			return fmt.Errorf("read post sequence: %w", err)
		}
		if !ok {
			return nil
		}
		d, err := decide(ctx, rec)
		if err != nil {
			return err
		}
		w.Logger.Debug("post decision",
			zap.String("shortcode", rec.Shortcode),
			zap.Stringer("decision", d),
		)
		switch d {
		case stopWalk:
			return nil
		case skipPost:
			continue
		}
		post, err := w.Ingester.Ingest(ctx, rec)
		if err != nil {
			return fmt.Errorf("ingest %s: %w", rec.Shortcode, err)
		}
		if err := onIngest(ctx, post); err != nil {
			return err
		}
	}
}

// countInto returns an onIngest hook that bumps task.PostCount and persists it.
func (w walker) countInto(task *archive.Task) func(context.Context, archive.Post) error {
	return func(ctx context.Context, _ archive.Post) error {
		count := task.Count() + 1
		task.PostCount = &count
		if w.Progress == nil {
			return nil
		}
		if err := w.Progress.UpdatePostCount(ctx, task.ID, count); err != nil {
			return fmt.Errorf("record post count: %w", err)
		}
		return nil
	}
}

func (w walker) profile(ctx context.Context, username string) (archive.ProfileRecord, error) {
	rec, err := w.Source.FetchProfile(ctx, username)
	if err != nil {
		w.Logger.Warn("profile lookup failed", zap.String("username", username), zap.Error(err))
		return archive.ProfileRecord{}, fmt.Errorf("fetch profile %s: %w", username, err)
	}
	return rec, nil
}

func (w walker) stopIfKnown(ctx context.Context, rec archive.PostRecord) (decision, error) {
	exists, err := w.Catalog.PostExists(ctx, rec.Shortcode)
	if err != nil {
		return stopWalk, err
	}
	if exists {
		return stopWalk, nil
	}
	return ingestPost, nil
}

// For returns the strategy registered for every task type.
func For(deps Deps, savedIdentity string) map[archive.TaskType]Strategy {
	return map[archive.TaskType]Strategy{
		archive.TaskTypeCatchUp:    NewCatchUp(deps),
		archive.TaskTypeTimeRange:  NewTimeRange(deps),
		archive.TaskTypeSavedPosts: NewSavedItems(deps, savedIdentity),
	}
}
