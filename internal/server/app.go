// Package server builds the application graph and runs the HTTP service.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/remote-jobs-crawler/internal/api"
	"github.com/JakeFAU/remote-jobs-crawler/internal/clock/system"
	"github.com/JakeFAU/remote-jobs-crawler/internal/config"
	"github.com/JakeFAU/remote-jobs-crawler/internal/crawler"
	"github.com/JakeFAU/remote-jobs-crawler/internal/dispatcher"
	"github.com/JakeFAU/remote-jobs-crawler/internal/extract"
	collyfetcher "github.com/JakeFAU/remote-jobs-crawler/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/remote-jobs-crawler/internal/fetcher/headless"
	"github.com/JakeFAU/remote-jobs-crawler/internal/hash/sha256"
	"github.com/JakeFAU/remote-jobs-crawler/internal/headless/detector"
	"github.com/JakeFAU/remote-jobs-crawler/internal/id/uuid"
	"github.com/JakeFAU/remote-jobs-crawler/internal/metrics"
	"github.com/JakeFAU/remote-jobs-crawler/internal/pipeline"
	"github.com/JakeFAU/remote-jobs-crawler/internal/policy/ratelimit"
	"github.com/JakeFAU/remote-jobs-crawler/internal/proxy/apollo"
	memorypublisher "github.com/JakeFAU/remote-jobs-crawler/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/remote-jobs-crawler/internal/publisher/pubsub"
	queuememory "github.com/JakeFAU/remote-jobs-crawler/internal/queue/memory"
	"github.com/JakeFAU/remote-jobs-crawler/internal/scheduler"
	"github.com/JakeFAU/remote-jobs-crawler/internal/source"
	localstorage "github.com/JakeFAU/remote-jobs-crawler/internal/storage/local"
	memorystorage "github.com/JakeFAU/remote-jobs-crawler/internal/storage/memory"
	"github.com/JakeFAU/remote-jobs-crawler/internal/telemetry"
	"github.com/JakeFAU/remote-jobs-crawler/internal/worker"
)

const (
	crawlTopic             = "crawl-completed"
	defaultShutdownTimeout = 10 * time.Second
)

type closingPublisher interface {
	crawler.Publisher
	Close() error
}

// App contains the application's dependencies.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	cache     crawler.CacheStore
	renderer  *headlessfetcher.Renderer
	publisher closingPublisher
	dispatch  *dispatcher.Dispatcher
	pipeline  *pipeline.Service
	warmer    *scheduler.Warmer
	apiServer *api.Server

	tracerShutdown func(context.Context) error
	dispatchDone   chan struct{}
}

// Build creates the application's dependencies. Nothing runs until Start.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	app := &App{cfg: cfg, logger: logger}
	app.logger.Info("building application dependencies",
		zap.Int("port", cfg.Server.Port),
		zap.String("source", cfg.Crawler.Source),
		zap.String("cache_backend", cfg.Cache.Backend),
	)

	tp, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: cfg.Telemetry.ServiceVersion,
		ProjectID:      cfg.Telemetry.ProjectID,
		SampleRatio:    cfg.Telemetry.SampleRatio,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("tracer init failed: %w", err)
	}
	app.tracerShutdown = tp.Shutdown

	app.cache, err = OpenCache(cfg.Cache, logger)
	if err != nil {
		app.closeInfrastructure(ctx)
		return nil, err
	}

	jobSource, err := app.setupSource()
	if err != nil {
		app.closeInfrastructure(ctx)
		return nil, err
	}

	app.publisher, err = setupPublisher(ctx, cfg.PubSub, logger)
	if err != nil {
		app.closeInfrastructure(ctx)
		return nil, err
	}

	app.dispatch = app.setupDispatcher(jobSource)
	app.pipeline = pipeline.New(pipeline.Config{
		Origin:     cfg.Site.Origin,
		SearchPath: cfg.Site.SearchPath,
		Coalesce:   cfg.Crawler.Coalesce,
	}, app.cache, app.dispatch, logger)

	recruiting := apollo.New(apollo.Config{
		BaseURL: cfg.Apollo.BaseURL,
		Timeout: cfg.Apollo.Timeout,
	}, logger)
	app.apiServer = api.NewServer(app.pipeline, recruiting, app.cache, api.Config{
		RequestTimeout: cfg.Server.RequestTimeout,
		AllowedOrigin:  cfg.Server.AllowedOrigin,
	}, logger)

	app.warmer = scheduler.New(app.pipeline, scheduler.Config{
		Schedule:    cfg.Warmup.Schedule,
		Terms:       cfg.Warmup.Terms,
		RunOnStart:  cfg.Warmup.RunOnStart,
		CacheMaxAge: cfg.Cache.MaxAge,
	}, logger)

	return app, nil
}

// OpenCache builds the configured cache backend.
func OpenCache(cfg config.CacheConfig, logger *zap.Logger) (crawler.CacheStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch cfg.Backend {
	case "memory":
		logger.Info("using in-memory cache backend", zap.Int64("max_bytes", cfg.MaxBytes))
		return memorystorage.NewCache(cfg.MaxBytes, cfg.MaxAge), nil
	default:
		store, err := localstorage.Open(localstorage.Config{
			Dir:      cfg.Dir,
			MaxBytes: cfg.MaxBytes,
			MaxAge:   cfg.MaxAge,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("open disk cache: %w", err)
		}
		logger.Info("using disk cache backend",
			zap.String("dir", cfg.Dir),
			zap.Int64("max_bytes", cfg.MaxBytes),
			zap.Duration("max_age", cfg.MaxAge),
		)
		return store, nil
	}
}

func (a *App) setupSource() (crawler.JobSource, error) {
	cfg := a.cfg
	extractor := extract.New(extract.Config{
		Origin:          cfg.Site.Origin,
		ListingSelector: cfg.Site.ListingSelector,
	}, sha256.New(), a.logger)

	static := source.NewStatic(collyfetcher.New(collyfetcher.Config{
		UserAgent:     cfg.Crawler.UserAgent,
		RespectRobots: cfg.HTTP.RespectRobots,
		Timeout:       cfg.HTTP.Timeout,
		MaxRedirects:  cfg.HTTP.MaxRedirects,
	}, a.logger), extractor, a.logger)

	var headless *source.Headless
	if cfg.Crawler.Source != source.NameStatic {
		renderer, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
			MaxParallel:       cfg.Headless.MaxParallel,
			UserAgent:         cfg.Crawler.UserAgent,
			NavigationTimeout: cfg.Headless.NavigationTimeout,
			RenderTimeout:     cfg.Headless.RenderTimeout,
			NetworkIdle:       cfg.Headless.NetworkIdle,
			ScrollWait:        cfg.Headless.ScrollWait,
			ExecPath:          cfg.Headless.ExecPath,
		}, a.logger)
		if err != nil {
			return nil, fmt.Errorf("headless renderer init failed: %w", err)
		}
		a.renderer = renderer
		headless = source.NewHeadless(renderer, extractor, a.logger)
		a.logger.Info("using headless renderer", zap.Int("max_parallel", cfg.Headless.MaxParallel))
	}

	detect := detector.NewHeuristic(detector.Config{
		ListingSelector:     cfg.Site.ListingSelector,
		BodyLengthThreshold: cfg.Headless.PromotionThreshold,
		PromoteOnTruncation: cfg.Headless.PromoteOnTruncation,
	})
	jobSource, err := source.New(cfg.Crawler.Source, static, headless, detect, a.logger)
	if err != nil {
		return nil, fmt.Errorf("job source init failed: %w", err)
	}
	return jobSource, nil
}

func setupPublisher(ctx context.Context, cfg config.PubSubConfig, logger *zap.Logger) (closingPublisher, error) {
	if cfg.ProjectID == "" || cfg.TopicName == "" {
		logger.Info("no Pub/Sub topic configured, using in-memory publisher")
		return memorypublisher.New(), nil
	}
	pub, err := gcppublisher.Open(ctx, cfg.ProjectID, cfg.TopicName, logger)
	if err != nil {
		return nil, fmt.Errorf("pubsub publisher init failed: %w", err)
	}
	logger.Info("Pub/Sub publisher initialized",
		zap.String("project", cfg.ProjectID),
		zap.String("topic", cfg.TopicName),
	)
	return pub, nil
}

func (a *App) setupDispatcher(jobSource crawler.JobSource) *dispatcher.Dispatcher {
	cfg := a.cfg
	clock := system.New()
	queue := queuememory.NewQueue(cfg.Crawler.QueueDepth)
	limiter := ratelimit.New(ratelimit.Config{
		MinInterval:    cfg.Crawler.MinInterval,
		MaxConcurrency: cfg.ConcurrencyCeiling(),
	})
	workerCfg := worker.Config{
		TaskTimeout:    cfg.Crawler.TaskTimeout,
		PublishTimeout: cfg.PubSub.PublishTimeout,
		Topic:          crawlTopic,
		SourceName:     cfg.Crawler.Source,
	}
	a.logger.Info("worker config",
		zap.Int("workers", cfg.Crawler.Workers),
		zap.Duration("task_timeout", workerCfg.TaskTimeout),
		zap.Duration("min_interval", cfg.Crawler.MinInterval),
		zap.Int("max_concurrency", cfg.ConcurrencyCeiling()),
	)

	workers := make([]*worker.Worker, 0, cfg.Crawler.Workers)
	for i := range cfg.Crawler.Workers {
		workers = append(workers, worker.New(
			queue,
			limiter,
			a.cache,
			jobSource,
			a.publisher,
			clock,
			workerCfg,
			a.logger.With(zap.Int("index", i)),
		))
	}
	return dispatcher.New(queue, workers, uuid.New(), clock, a.logger)
}

// Pipeline exposes the search façade for in-process callers such as the CLI.
func (a *App) Pipeline() *pipeline.Service {
	return a.pipeline
}

// Handler returns the HTTP handler.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Start launches the workers. It returns immediately.
func (a *App) Start(ctx context.Context) {
	if a.dispatchDone != nil {
		return
	}
	a.dispatchDone = make(chan struct{})
	go func() {
		defer close(a.dispatchDone)
		a.logger.Info("dispatcher started")
		a.dispatch.Run(ctx)
	}()
}

// Run starts the workers, warmer, and HTTP server and blocks until ctx is
// canceled or a termination signal arrives.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a.Start(ctx)
	if err := a.warmer.Start(ctx); err != nil {
		a.Close(context.WithoutCancel(ctx))
		return fmt.Errorf("start warmer: %w", err)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	grace := a.cfg.Server.ShutdownTimeout
	if grace <= 0 {
		grace = defaultShutdownTimeout
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), grace)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	a.Close(shutdownCtx)

	select {
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	default:
		return nil
	}
}

// Close stops background work and releases resources. Queued tasks are
// rejected; in-flight tasks finish first.
func (a *App) Close(ctx context.Context) {
	a.warmer.Stop(ctx)
	a.dispatch.Close()
	if a.dispatchDone != nil {
		select {
		case <-a.dispatchDone:
		case <-ctx.Done():
			a.logger.Warn("dispatcher did not stop before shutdown deadline")
		}
	}
	a.closeInfrastructure(ctx)
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
	a.logger.Info("shutdown complete")
}

func (a *App) closeInfrastructure(ctx context.Context) {
	if a.renderer != nil {
		a.renderer.Close()
	}
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			a.logger.Warn("cache close failed", zap.Error(err))
		}
	}
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.logger.Warn("publisher close failed", zap.Error(err))
		}
	}
	if a.tracerShutdown != nil {
		if err := a.tracerShutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
}
