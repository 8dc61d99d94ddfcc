package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/rs/zerolog"

	"github.com/bilgisen/newswire/internal/ai"
	"github.com/bilgisen/newswire/internal/api"
	"github.com/bilgisen/newswire/internal/assets"
	"github.com/bilgisen/newswire/internal/cache"
	"github.com/bilgisen/newswire/internal/config"
	"github.com/bilgisen/newswire/internal/distribute"
	"github.com/bilgisen/newswire/internal/extract"
	"github.com/bilgisen/newswire/internal/feed"
	"github.com/bilgisen/newswire/internal/logger"
	"github.com/bilgisen/newswire/internal/middleware"
	"github.com/bilgisen/newswire/internal/models"
	"github.com/bilgisen/newswire/internal/pipeline"
	"github.com/bilgisen/newswire/internal/queue"
	"github.com/bilgisen/newswire/internal/responselog"
	"github.com/bilgisen/newswire/internal/scheduler"
	"github.com/bilgisen/newswire/internal/storage"
)

// App holds every long-lived component of the service
type App struct {
	Config    *config.Config
	Log       zerolog.Logger
	Store     *storage.Store
	Queue     *queue.Queue
	Logs      *responselog.Log
	Cache     cache.Cache
	Pipeline  *pipeline.Pipeline
	Runner    *pipeline.Runner
	Scheduler *scheduler.Scheduler

	assetDir string
}

// New wires the application from configuration
func New(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*App, error) {
	store, err := storage.Open(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	a := &App{Config: cfg, Log: log, Store: store}

	if err := a.wire(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) wire(ctx context.Context) error {
	cfg := a.Config

	a.Logs = responselog.New(a.Store.DB(), logger.With(a.Log, "responselog"))
	a.Queue = queue.New(a.Store.DB(), queue.Options{
		MaxAttempts:  cfg.QueueMaxAttempts,
		KindAttempts: map[models.TaskKind]int{models.TaskRewrite: cfg.RewriteMaxAttempts},
		BaseBackoff:  cfg.QueueBaseBackoff,
		MaxBackoff:   cfg.QueueMaxBackoff,
	}, logger.With(a.Log, "queue"))

	if cfg.RedisURL != "" {
		redisClient, err := cache.NewRedisClient(cfg.RedisURL, cfg.RedisPrefix)
		if err != nil {
			return fmt.Errorf("connect to redis: %w", err)
		}
		a.Cache = redisClient
		a.Log.Info().Msg("Using redis provider cache")
	} else {
		a.Cache = cache.NewMemoryCache()
	}

	fetcher := feed.NewFetcher(a.Cache, cfg.ProviderCacheTTL, cfg.FetchTimeout, logger.With(a.Log, "fetcher"))
	ingestor := feed.NewIngestor(a.Store, a.Logs, cfg.ProviderLimit, logger.With(a.Log, "ingest"),
		feed.NewNewsClient(fetcher, cfg.NewsAPIURL, cfg.NewsAPIKey),
		feed.NewTweetClient(fetcher, cfg.TweetAPIURL, cfg.TweetAPIToken),
	)

	gen, err := a.generator()
	if err != nil {
		return err
	}

	store, err := a.assetStore(ctx)
	if err != nil {
		return err
	}

	a.Pipeline = pipeline.New(pipeline.Deps{
		Store:     a.Store,
		Queue:     a.Queue,
		Ingestor:  ingestor,
		Generator: gen,
		Extractor: extract.New(cfg.FetchTimeout),
		Images:    assets.NewProcessor(store, cfg.ImageMaxWidth, cfg.MaxImageBytes, cfg.FetchTimeout, logger.With(a.Log, "assets")),
		Sites:     distribute.NewClient(cfg.HTTPTimeout, a.Logs, logger.With(a.Log, "distribute")),
		Responses: a.Logs,
		Log:       logger.With(a.Log, "pipeline"),
	}, pipeline.Options{
		DefaultAudience: cfg.DefaultAudience,
		RewriteAttempts: cfg.RewriteAttempts,
		FilterBatchSize: cfg.MaxFilterBatchSize,
		ClaimTimeout:    cfg.QueueVisibilityTimeout,
	})

	a.Runner = pipeline.NewRunner(a.Queue, pipeline.RunnerOptions{
		BatchSize:   cfg.QueueBatchSize,
		Concurrency: cfg.MaxConcurrency,
		Visibility:  cfg.QueueVisibilityTimeout,
	}, logger.With(a.Log, "runner"))
	a.Pipeline.Register(a.Runner)

	a.Scheduler = scheduler.New(a.Pipeline, scheduler.TickFunc(func(ctx context.Context) error {
		_, err := a.Runner.Tick(ctx)
		return err
	}), cfg.SyncInterval, cfg.TickInterval, logger.With(a.Log, "scheduler"))

	if cfg.SitesFile != "" {
		if err := a.seedSites(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (a *App) generator() (ai.Generator, error) {
	cfg := a.Config
	var gen ai.Generator
	switch cfg.AIBackend {
	case "ollama":
		client, err := ai.NewOllamaClient(cfg.AIBaseURL, cfg.AIModel, cfg.AITimeout)
		if err != nil {
			return nil, fmt.Errorf("create ollama client: %w", err)
		}
		gen = client
	default:
		if cfg.AIApiKey == "" {
			a.Log.Warn().Msg("AI_API_KEY is empty, AI stages will fail until it is set")
		}
		gen = ai.NewGeminiClient(cfg.AIApiKey, cfg.AIModel, cfg.AIBaseURL, cfg.AITimeout)
	}
	a.Log.Info().Str("backend", gen.Name()).Str("model", cfg.AIModel).Msg("AI backend ready")
	return ai.NewLimited(gen, cfg.AIRequestsPerSec, 1), nil
}

func (a *App) assetStore(ctx context.Context) (assets.Store, error) {
	cfg := a.Config
	if cfg.AssetBackend == "r2" {
		r2, err := assets.NewR2(ctx, assets.R2Config{
			Endpoint:  cfg.R2Endpoint,
			AccessKey: cfg.R2AccessKey,
			SecretKey: cfg.R2SecretKey,
			Bucket:    cfg.R2Bucket,
			PublicURL: cfg.R2PublicURL,
		})
		if err != nil {
			return nil, fmt.Errorf("create r2 store: %w", err)
		}
		return r2, nil
	}
	local, err := assets.NewLocal(cfg.AssetPath, cfg.AssetPublicURL)
	if err != nil {
		return nil, err
	}
	a.assetDir = local.Dir()
	return local, nil
}

func (a *App) seedSites(ctx context.Context) error {
	sites, err := config.LoadSites(a.Config.SitesFile)
	if err != nil {
		return err
	}
	for i := range sites {
		if err := a.Store.UpsertSite(ctx, &sites[i]); err != nil {
			return fmt.Errorf("seed site %q: %w", sites[i].Name, err)
		}
	}
	a.Log.Info().Int("count", len(sites)).Str("file", a.Config.SitesFile).Msg("Seeded subscriber sites")
	return nil
}

// Server builds the HTTP application
func (a *App) Server() *fiber.App {
	cfg := a.Config
	server := fiber.New(fiber.Config{
		ReadTimeout:  cfg.HTTPTimeout,
		WriteTimeout: cfg.HTTPTimeout,
		IdleTimeout:  2 * cfg.HTTPTimeout,
		ErrorHandler: middleware.ErrorHandler(a.Log),
	})

	server.Use(recover.New())
	server.Use(middleware.RequestLogger(a.Log))

	if a.assetDir != "" {
		server.Static("/assets", a.assetDir, fiber.Static{
			MaxAge: int((24 * time.Hour).Seconds()),
		})
	}

	handlers := api.NewHandlers(a.Store, a.Pipeline, a.Runner, a.Queue, a.Logs, a.Log)
	api.SetupRoutes(server, handlers, cfg.AdminAPIKey, a.Log)
	return server
}

// Close releases the cache and the database
func (a *App) Close() error {
	var errs []error
	if a.Cache != nil {
		errs = append(errs, a.Cache.Close())
	}
	if a.Store != nil {
		errs = append(errs, a.Store.Close())
	}
	return errors.Join(errs...)
}
