// crawlerd is the crawl engine service: it serves the job API, dispatches
// pending crawl jobs onto the worker, and promotes due queue items into jobs.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/seolens/crawler/internal/api"
	"github.com/seolens/crawler/internal/blob"
	"github.com/seolens/crawler/internal/clock/system"
	"github.com/seolens/crawler/internal/config"
	"github.com/seolens/crawler/internal/content"
	"github.com/seolens/crawler/internal/crawl"
	collyfetcher "github.com/seolens/crawler/internal/fetcher/colly"
	"github.com/seolens/crawler/internal/fetcher/headless"
	"github.com/seolens/crawler/internal/inventory"
	"github.com/seolens/crawler/internal/jobs"
	"github.com/seolens/crawler/internal/logging"
	"github.com/seolens/crawler/internal/projects"
	"github.com/seolens/crawler/internal/publisher"
	"github.com/seolens/crawler/internal/queue"
	"github.com/seolens/crawler/internal/worker"
)

func main() {
	configPath := flag.String("config", "", "path to config file (optional; env vars apply)")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, "crawlerd:", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	clk := system.New()

	var (
		jobStore   jobs.Store
		logStore   jobs.LogStore
		inv        inventory.Store
		contents   content.Store
		queueStore queue.Store
		resolver   worker.DomainResolver
	)
	if cfg.DB.DSN != "" {
		pool, err := pgxpool.New(ctx, cfg.DB.DSN)
		if err != nil {
			return fmt.Errorf("create connection pool: %w", err)
		}
		defer pool.Close()
		if err := pool.Ping(ctx); err != nil {
			return fmt.Errorf("ping database: %w", err)
		}
		pgJobs := jobs.NewPostgresStoreWithConn(pool)
		jobStore, logStore = pgJobs, pgJobs
		inv = inventory.NewPostgresStoreWithConn(pool)
		contents = content.NewPostgresStoreWithConn(pool)
		queueStore = queue.NewPostgresStoreWithConn(pool)
		resolver = projects.NewPostgresResolverWithConn(pool)
		logger.Info("using postgres stores")
	} else {
		memContents := content.NewMemoryStore()
		memJobs := jobs.NewMemoryStore()
		jobStore, logStore = memJobs, memJobs
		inv = inventory.NewMemoryStore(memContents, clk)
		contents = memContents
		queueStore = queue.NewMemoryStore()
		resolver = worker.StaticResolver{}
		logger.Warn("no db.dsn configured; using in-memory stores, crawl requests cannot resolve project domains")
	}

	blobs, err := blob.FromConfig(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("build blob store: %w", err)
	}

	var pub *publisher.PubSubPublisher
	if cfg.PubSub.ProjectID != "" {
		client, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			return fmt.Errorf("create pubsub client: %w", err)
		}
		defer func() { _ = client.Close() }()
		pub, err = publisher.NewPubSub(client)
		if err != nil {
			return fmt.Errorf("build publisher: %w", err)
		}
	}

	var (
		renderer headless.Renderer
		detector headless.Detector
	)
	if cfg.Headless.Enabled {
		chromeRenderer, err := headless.NewChromedpRenderer(cfg.Crawler.UserAgent,
			time.Duration(cfg.Headless.NavTimeoutSec)*time.Second, logger)
		if err != nil {
			return fmt.Errorf("start headless browser: %w", err)
		}
		defer chromeRenderer.Close()
		renderer = chromeRenderer
		detector = headless.DefaultDetector(cfg.Headless.PromotionThresh)
	}

	manager := jobs.NewManager(jobStore, logStore, resolver, clk, jobs.Defaults{
		MaxPages:     cfg.Crawler.MaxPagesDefault,
		MaxDepth:     cfg.Crawler.MaxDepthDefault,
		RequestDelay: time.Duration(cfg.Crawler.RequestDelayMs) * time.Millisecond,
		Timeout:      cfg.RequestTimeout(),
		UserAgent:    cfg.Crawler.UserAgent,
	}, logger)

	factory := collyfetcher.NewFactory(collyfetcher.FactoryConfig{
		UserAgent:         cfg.Crawler.UserAgent,
		MinDelay:          time.Duration(cfg.Crawler.MinDelayMs) * time.Millisecond,
		MaxDelay:          time.Duration(cfg.Crawler.MaxDelayMs) * time.Millisecond,
		BackoffMultiplier: cfg.Crawler.BackoffMultiplier,
		RequestTimeout:    cfg.RequestTimeout(),
	}, renderer, detector, logger)

	var workerPub crawl.Publisher
	if pub != nil {
		workerPub = pub
	}
	wrk := worker.New(worker.Config{
		ProgressBatchSize: cfg.Crawler.ProgressBatchSize,
		AuditSampleSize:   cfg.Crawler.AuditSampleSize,
		CompletionTopic:   cfg.PubSub.TopicName,
	}, inv, contents, blobs, manager, resolver, factory, workerPub, clk, logger)

	dispatcher := worker.NewDispatcher(manager, wrk, 2*time.Second, logger)
	go dispatcher.Run(ctx)

	scheduler := queue.NewScheduler(queueStore, manager, clk, 0, 0, logger)
	go scheduler.Run(ctx)

	server := api.NewServer(manager, wrk, logger)
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.Int("port", cfg.Server.Port))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	// Let the running crawl wind down before the process exits.
	wrk.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	logger.Info("shutdown complete")
	return nil
}
