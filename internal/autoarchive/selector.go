// Package autoarchive periodically refreshes profiles flagged for auto-archive,
// most overdue first.
package autoarchive

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/JakeFAU/post-archiver/internal/archive"
	"github.com/JakeFAU/post-archiver/internal/metrics"
)

// Pass ingests a profile's posts newer than watermark.
type Pass interface {
	Run(ctx context.Context, username string, watermark *time.Time) (*time.Time, int, error)
}

// Config controls scheduling and staleness.
type Config struct {
	Schedule          string
	OutdatedThreshold time.Duration
}

// Selector claims overdue profiles and runs the auto-archive pass for them.
type Selector struct {
	catalog archive.Catalog
	pass    Pass
	clock   archive.Clock
	cfg     Config
	logger  *zap.Logger

	mu   sync.Mutex
	cron *cron.Cron
}

// New constructs a Selector.
func New(catalog archive.Catalog, pass Pass, clock archive.Clock, cfg Config, logger *zap.Logger) *Selector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Selector{
		catalog: catalog,
		pass:    pass,
		clock:   clock,
		cfg:     cfg,
		logger:  logger.Named("auto_archive"),
	}
}

// RunOnce services the most overdue profile, if any. It returns the username
// serviced and whether one was due. A failed pass still stamps the attempt,
// keeping the stored watermark, so the profile moves behind the others; its
// error is returned alongside ok == true.
func (s *Selector) RunOnce(ctx context.Context) (string, bool, error) {
	staleBefore := s.clock.Now().Add(-s.cfg.OutdatedThreshold)
	var passErr error
	profile, ok, err := s.catalog.ClaimAutoArchive(ctx, staleBefore,
		func(ctx context.Context, p archive.Profile) (archive.AutoArchiveResult, error) {
			res, failed, err := s.archive(ctx, p)
			passErr = failed
			return res, err
		})
	if err != nil {
		metrics.ObserveAutoArchiveRun("failed")
		return "", false, fmt.Errorf("auto-archive: %w", err)
	}
	if !ok {
		metrics.ObserveAutoArchiveRun("idle")
		return "", false, nil
	}
	if passErr != nil {
		metrics.ObserveAutoArchiveRun("failed")
		return profile.Username, true, passErr
	}
	metrics.ObserveAutoArchiveRun("archived")
	return profile.Username, true, nil
}

// archive runs the pass for profile. A pass failure is reported through failed
// with a result that only stamps the attempt; err aborts the claim.
func (s *Selector) archive(ctx context.Context, profile archive.Profile) (res archive.AutoArchiveResult, failed, err error) {
	logger := s.logger.With(zap.String("username", profile.Username))
	watermark := profile.LastArchiveWatermark
	if watermark == nil {
		latest, err := s.catalog.LatestPostTimestamp(ctx, profile.Username)
		if err != nil {
			return archive.AutoArchiveResult{}, nil, err
		}
		watermark = latest
	}
	logger.Info("auto-archiving profile", zap.Timep("watermark", watermark))

	newest, count, err := s.pass.Run(ctx, profile.Username, watermark)
	if err != nil {
		// Shutdown leaves the profile untouched.
		if ctx.Err() != nil {
			return archive.AutoArchiveResult{}, nil, err
		}
		logger.Warn("auto-archive pass failed", zap.Int("posts", count), zap.Error(err))
		return archive.AutoArchiveResult{ArchivedAt: s.clock.Now()}, fmt.Errorf("archive %s: %w", profile.Username, err), nil
	}
	if newest == nil {
		newest = watermark
	}
	return archive.AutoArchiveResult{ArchivedAt: s.clock.Now(), Watermark: newest}, nil, nil
}

// Tick services due profiles until none remain. A failed pass does not stop the
// tick; pass errors are joined into the result. A catalog error ends the tick.
func (s *Selector) Tick(ctx context.Context) (int, error) {
	var (
		serviced int
		failures []error
	)
	for ctx.Err() == nil {
		username, ok, err := s.RunOnce(ctx)
		if !ok {
			if err != nil {
				failures = append(failures, err)
			}
			break
		}
		if err != nil {
			failures = append(failures, err)
			continue
		}
		serviced++
		s.logger.Debug("profile auto-archived", zap.String("username", username))
	}
	return serviced, errors.Join(failures...)
}

// Start schedules Tick. Overlapping ticks are skipped.
func (s *Selector) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return errors.New("auto-archive scheduler already started")
	}
	logger := cronLogger{s.logger.Sugar()}
	c := cron.New(
		cron.WithLogger(logger),
		cron.WithChain(cron.SkipIfStillRunning(logger), cron.Recover(logger)),
	)
	if _, err := c.AddFunc(s.cfg.Schedule, func() {
		n, err := s.Tick(ctx)
		if err != nil && ctx.Err() == nil {
			s.logger.Error("auto-archive tick failed", zap.Int("serviced", n), zap.Error(err))
			return
		}
		s.logger.Info("auto-archive tick finished", zap.Int("serviced", n))
	}); err != nil {
		return fmt.Errorf("schedule auto-archive %q: %w", s.cfg.Schedule, err)
	}
	c.Start()
	s.cron = c
	s.logger.Info("auto-archive scheduled", zap.String("schedule", s.cfg.Schedule))
	return nil
}

// Stop halts scheduling and waits for a running tick to return or ctx to end.
func (s *Selector) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
