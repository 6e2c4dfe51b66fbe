package collyfetcher

import (
	"time"

	"go.uber.org/zap"

	"github.com/seolens/crawler/internal/crawl"
	"github.com/seolens/crawler/internal/fetcher/headless"
	"github.com/seolens/crawler/internal/ratelimit"
	"github.com/seolens/crawler/internal/robots"
)

// FactoryConfig supplies the session-independent knobs for building fetchers.
// MinDelay floors the per-job request delay so a job config can slow a crawl
// down but never push it below the operator's politeness minimum.
type FactoryConfig struct {
	UserAgent         string
	MinDelay          time.Duration
	MaxDelay          time.Duration
	BackoffMultiplier float64
	RequestTimeout    time.Duration
}

// Factory builds one fetcher per crawl session. The rate limiter and robots
// policy are session-scoped so backoff state never bleeds between jobs.
type Factory struct {
	cfg      FactoryConfig
	renderer headless.Renderer
	detector headless.Detector
	logger   *zap.Logger
}

// NewFactory constructs a Factory. renderer and detector may be nil to
// disable headless promotion.
func NewFactory(cfg FactoryConfig, renderer headless.Renderer, detector headless.Detector, logger *zap.Logger) *Factory {
	return &Factory{
		cfg:      cfg,
		renderer: renderer,
		detector: detector,
		logger:   logger,
	}
}

// New builds a fetcher for one job. It satisfies the worker's fetcher
// factory contract.
func (f *Factory) New(job crawl.Job, baseURL string) (crawl.PageFetcher, error) {
	userAgent := job.Config.UserAgent
	if userAgent == "" {
		userAgent = f.cfg.UserAgent
	}
	timeout := job.Config.Timeout
	if timeout <= 0 {
		timeout = f.cfg.RequestTimeout
	}

	minDelay := job.Config.RequestDelay
	if minDelay < f.cfg.MinDelay {
		minDelay = f.cfg.MinDelay
	}
	limiter := ratelimit.New(ratelimit.Config{
		MinDelay:          minDelay,
		MaxDelay:          f.cfg.MaxDelay,
		BackoffMultiplier: f.cfg.BackoffMultiplier,
	})
	policy := robots.NewEnforcer(job.Config.RespectRobots, userAgent, f.logger)

	return New(Config{
		BaseURL:         baseURL,
		MaxPages:        job.Config.MaxPages,
		MaxDepth:        job.Config.MaxDepth,
		Timeout:         timeout,
		UserAgent:       userAgent,
		IncludePatterns: job.Config.IncludePatterns,
		ExcludePatterns: job.Config.ExcludePatterns,
		StoreRawHTML:    job.Config.StoreRawHTML,
	}, limiter, policy, f.renderer, f.detector, f.logger)
}
