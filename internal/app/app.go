// Package app initializes and holds long-lived application services, acting as a dependency injection container.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/post-archiver/internal/api"
	"github.com/JakeFAU/post-archiver/internal/archive"
	"github.com/JakeFAU/post-archiver/internal/autoarchive"
	"github.com/JakeFAU/post-archiver/internal/clock/system"
	"github.com/JakeFAU/post-archiver/internal/config"
	"github.com/JakeFAU/post-archiver/internal/crawl"
	"github.com/JakeFAU/post-archiver/internal/executor"
	collyfetcher "github.com/JakeFAU/post-archiver/internal/fetcher/colly"
	"github.com/JakeFAU/post-archiver/internal/id/uuid"
	"github.com/JakeFAU/post-archiver/internal/ingest"
	"github.com/JakeFAU/post-archiver/internal/metrics"
	"github.com/JakeFAU/post-archiver/internal/policy/ratelimit"
	pubmemory "github.com/JakeFAU/post-archiver/internal/publisher/memory"
	pubsubpub "github.com/JakeFAU/post-archiver/internal/publisher/pubsub"
	"github.com/JakeFAU/post-archiver/internal/queue"
	"github.com/JakeFAU/post-archiver/internal/source/dump"
	"github.com/JakeFAU/post-archiver/internal/storage"
	"github.com/JakeFAU/post-archiver/internal/storage/local"
	"github.com/JakeFAU/post-archiver/internal/storage/memory"
	"github.com/JakeFAU/post-archiver/internal/storage/postgres"
	"github.com/JakeFAU/post-archiver/internal/telemetry"
)

type publisher interface {
	archive.Publisher
	Close() error
}

// App holds the shared, long-lived services for the archiver.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	catalog   archive.Catalog
	ready     api.Pinger
	publisher publisher
	pipeline  *ingest.Pipeline
	queue     *queue.Queue
	executor  *executor.Executor
	selector  *autoarchive.Selector
	server    *api.Server

	closeOnce sync.Once
	closers   []func()
}

// Build wires every service from cfg and fails fast when a backend is unreachable.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	a := &App{cfg: cfg, logger: logger}
	tp, err := telemetry.InitTracerProvider(ctx, "post-archiver")
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}
	a.closers = append(a.closers, func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			a.logger.Warn("shutdown tracer provider failed", zap.Error(err))
		}
	})

	if err := a.initCatalog(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.initPublisher(ctx); err != nil {
		a.Close()
		return nil, err
	}

	media, err := local.New(local.Config{BaseDir: cfg.Media.Root, UID: cfg.Media.UID, GID: cfg.Media.GID})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("init media store: %w", err)
	}
	source, err := dump.New(cfg.Source.DumpDir)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("init content source: %w", err)
	}

	clock := system.New()
	limiter := ratelimit.New(ratelimit.Config{RPS: cfg.Crawler.DownloadRPS, Burst: cfg.Crawler.DownloadBurst})
	downloader := collyfetcher.New(collyfetcher.Config{
		UserAgent: cfg.Crawler.UserAgent,
		Timeout:   cfg.Crawler.DownloadTimeout,
	}, limiter)

	a.pipeline = ingest.New(a.catalog, source, media, downloader, clock, logger.Named("ingest"))
	a.queue = queue.New(a.catalog, uuid.New(), clock, logger.Named("queue"))

	deps := crawl.Deps{
		Source:   source,
		Catalog:  a.catalog,
		Ingester: a.pipeline,
		Progress: a.queue,
		Pacer:    crawl.RandomPacer{Max: cfg.Crawler.MaxSleep, Sleeper: clock},
		Logger:   logger.Named("crawl"),
	}
	a.executor = executor.New(
		a.queue,
		crawl.For(deps, cfg.Source.Username),
		a.publisher,
		executor.Config{
			Topic:            cfg.PubSub.TopicName,
			RetryInterval:    cfg.Crawler.RetryInterval,
			MaxRetryInterval: cfg.Crawler.MaxRetryInterval,
		},
		logger.Named("executor"),
	)
	a.selector = autoarchive.New(a.catalog, crawl.NewArchiveSince(deps), clock, autoarchive.Config{
		Schedule:          cfg.AutoArchive.Schedule,
		OutdatedThreshold: cfg.AutoArchive.OutdatedThreshold,
	}, logger)
	a.server = api.NewServer(api.Deps{
		Tasks:    a.queue,
		Executor: a.executor,
		Catalog:  a.catalog,
		Ingester: a.pipeline,
		Deleter:  storage.NewGateway(a.catalog, media, logger.Named("storage")),
		Ready:    a.ready,
	}, logger)

	logger.Info("application services initialized",
		zap.String("media_root", media.Root()),
		zap.String("dump_dir", cfg.Source.DumpDir),
		zap.Bool("auto_archive", cfg.AutoArchive.Enabled),
	)
	return a, nil
}

func (a *App) initCatalog(ctx context.Context) error {
	if a.cfg.DB.DSN == "" {
		a.logger.Warn("db.dsn not set; using in-memory catalog")
		a.catalog = memory.NewCatalog()
		return nil
	}
	pg, err := postgres.NewCatalog(ctx, postgres.Config{
		DSN:             a.cfg.DB.DSN,
		MaxConns:        a.cfg.DB.MaxConns,
		MinConns:        a.cfg.DB.MinConns,
		MaxConnLifetime: a.cfg.DB.MaxConnLifetime,
	})
	if err != nil {
		return fmt.Errorf("init catalog: %w", err)
	}
	a.closers = append(a.closers, pg.Close)
	if a.cfg.DB.EnsureSchema {
		if err := pg.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	a.catalog = pg
	a.ready = pg
	a.logger.Info("connected to postgres catalog")
	return nil
}

func (a *App) initPublisher(ctx context.Context) error {
	if a.cfg.PubSub.ProjectID == "" {
		a.publisher = pubmemory.New()
		return nil
	}
	pub, err := pubsubpub.New(ctx, a.cfg.PubSub.ProjectID, a.cfg.PubSub.TopicName)
	if err != nil {
		return fmt.Errorf("init pubsub publisher: %w", err)
	}
	a.publisher = pub
	a.logger.Info("publishing task events to pubsub",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.TopicName),
	)
	return nil
}

// Logger returns the root logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// IngestShortcode archives one post synchronously.
func (a *App) IngestShortcode(ctx context.Context, shortcode string) (archive.Post, error) {
	return a.pipeline.IngestShortcode(ctx, shortcode)
}

// Handler returns the HTTP handler.
func (a *App) Handler() http.Handler {
	return a.server.Handler()
}

// Run listens on the configured port and serves until ctx ends.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.Address())
	if err != nil {
		return fmt.Errorf("listen on %s: %w", a.cfg.Address(), err)
	}
	return a.Serve(ctx, ln)
}

// Serve runs the HTTP server, task executor and auto-archive scheduler on ln
// until ctx ends or the server fails, then shuts them down.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		a.executor.Run(runCtx)
	}()

	if a.cfg.AutoArchive.Enabled {
		if err := a.selector.Start(runCtx); err != nil {
			cancel()
			wg.Wait()
			_ = ln.Close()
			return err
		}
	}

	srv := &http.Server{
		Handler:           a.server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("http server listening", zap.String("addr", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info("shutdown requested")
	case err, ok := <-errCh:
		if ok {
			runErr = fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, stop := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.Server.ShutdownTimeout)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("http shutdown incomplete", zap.Error(err))
	}
	cancel()
	a.selector.Stop(shutdownCtx)
	wg.Wait()
	a.logger.Info("services stopped")
	return runErr
}

// Close releases backends. It is safe to call more than once.
func (a *App) Close() {
	a.closeOnce.Do(func() {
		if a.publisher != nil {
			if err := a.publisher.Close(); err != nil {
				a.logger.Warn("close publisher failed", zap.Error(err))
			}
		}
		for i := len(a.closers) - 1; i >= 0; i-- {
			a.closers[i]()
		}
		_ = a.logger.Sync()
	})
}
