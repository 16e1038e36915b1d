package main

import (
	"context"
	"errors"
	"io"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"vidgen/internal/adapter/repo"
	"vidgen/internal/admission"
	"vidgen/internal/assets"
	"vidgen/internal/domain"
	"vidgen/internal/http/handlers"
	httpapi "vidgen/internal/http/httpapi"
	"vidgen/internal/infra"
	"vidgen/internal/infra/geoip"
	"vidgen/internal/jobcache"
	"vidgen/internal/middleware"
	"vidgen/internal/orchestrator"
	"vidgen/internal/progress"
	"vidgen/internal/providers/video"
	"vidgen/internal/status"
	"vidgen/internal/storage"
	"vidgen/internal/webhook"
)

// durable is what a configured store backend provides.
type durable struct {
	jobs   domain.JobStore
	events domain.JobEventLog
	pinger handlers.Pinger
	closer func()
}

func main() {
	// .env is optional
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openDurable(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Str("store", cfg.DurableStore).Msg("failed to open durable store")
	}
	defer store.closer()

	locators, closeLocators, err := openLocatorStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect locator store")
	}
	defer closeLocators()

	generator, err := newGenerator(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure provider")
	}

	files, err := storage.NewFileStore(cfg.StorageDir, cfg.StorageBaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to prepare upload storage")
	}
	logger.Info().Str("dir", files.BasePath()).Str("base_url", cfg.StorageBaseURL).Msg("upload storage ready")

	geo, err := geoip.NewResolver(cfg.GeoIPDBPath)
	if err != nil {
		logger.Warn().Err(err).Msg("geoip disabled")
	}
	var countryLookup middleware.CountryLookup
	if geo != nil {
		defer geo.Close()
		countryLookup = geo.CountryCode
	}

	cache := jobcache.New(cfg.CacheRetention)
	bus := progress.NewBus(progress.DefaultBufferSize)
	limiter := admission.NewLimiter(cfg.RateLimitPerWindow, cfg.RateLimitWindow)
	assetResolver := assets.NewResolver(locators, cfg.FallbackAssetBaseURL, cfg.StoreTimeout, logger)
	notifier := webhook.NewNotifier(webhook.Options{
		Secret:  cfg.WebhookSigningSecret,
		Timeout: cfg.WebhookTimeout,
		Logger:  logger,
	})

	orch, err := orchestrator.New(orchestrator.Options{
		Cache:        cache,
		Store:        store.jobs,
		Events:       store.events,
		Assets:       assetResolver,
		Bus:          bus,
		Notifier:     notifier,
		Limiter:      limiter,
		Generator:    generator,
		Logger:       logger,
		StoreTimeout: cfg.StoreTimeout,
		DriveTimeout: cfg.DriveTimeout,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build orchestrator")
	}

	if n, err := orch.Recover(ctx, 500); err != nil {
		logger.Warn().Err(err).Msg("job recovery skipped")
	} else if n > 0 {
		logger.Info().Int("jobs", n).Msg("recovered unfinished jobs")
	}

	app := &handlers.App{
		Config: cfg,
		Logger: logger,
		Jobs:   orch,
		Status: status.NewResolver(store.jobs, cache, assetResolver, cfg.StoreTimeout, logger),
		Events: store.events,
		Bus:    bus,
		Files:  files,
		Store:  store.pinger,
	}
	server := infra.NewHTTPServer(cfg, httpapi.NewRouter(app, countryLookup))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Str("addr", server.Addr()).Str("provider", generator.Name()).Str("store", cfg.DurableStore).Msg("API listening")
		return server.Start()
	})
	g.Go(func() error { return cache.Run(gctx, cfg.CacheSweepInterval, logger) })
	g.Go(func() error { return limiter.Run(gctx, cfg.CacheSweepInterval, logger) })
	g.Go(func() error {
		<-gctx.Done()
		shutdown([]shutdownStep{
			{name: "http server", run: server.Shutdown},
			{name: "job writes", run: orch.Close},
			{name: "webhook deliveries", run: notifier.Wait},
		}, cfg.ShutdownTimeout, logger)
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("server exited with error")
	}
	logger.Info().Msg("server stopped")
}

type shutdownStep struct {
	name string
	run  func(context.Context) error
}

// shutdown runs steps in order, each with its own timeout, so a slow drain
// does not hand the next step an expired context.
func shutdown(steps []shutdownStep, timeout time.Duration, logger infra.Logger) {
	for _, step := range steps {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		if err := step.run(ctx); err != nil {
			logger.Error().Err(err).Str("step", step.name).Msg("shutdown step did not finish")
		}
		cancel()
	}
}

func openDurable(ctx context.Context, cfg *infra.Config, logger infra.Logger) (durable, error) {
	switch cfg.DurableStore {
	case infra.StorePostgres:
		if cfg.RunMigrations {
			if err := infra.Migrate(ctx, cfg.DatabaseURL, logger); err != nil {
				return durable{}, err
			}
		}
		pool, err := infra.NewDBPool(ctx, cfg)
		if err != nil {
			return durable{}, err
		}
		jobs := repo.NewJobRepository(infra.NewSQLRunner(pool, logger))
		return durable{jobs: jobs, events: jobs, pinger: pool, closer: pool.Close}, nil
	case infra.StoreSQLite:
		jobs, err := repo.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return durable{}, err
		}
		return durable{jobs: jobs, events: jobs, pinger: jobs, closer: func() { _ = jobs.Close() }}, nil
	default:
		logger.Warn().Msg("no durable store configured; jobs live only in memory")
		return durable{closer: func() {}}, nil
	}
}

func openLocatorStore(ctx context.Context, cfg *infra.Config, logger infra.Logger) (assets.LocatorStore, func(), error) {
	if cfg.RedisURL == "" {
		return assets.NewMemoryLocatorStore(cfg.LocatorTTL), func() {}, nil
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	client, err := assets.NewRedisClient(pingCtx, cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	logger.Info().Msg("asset locators stored in redis")
	return assets.NewRedisLocatorStore(client, cfg.LocatorTTL), closeQuietly(client), nil
}

func newGenerator(cfg *infra.Config, logger infra.Logger) (video.Generator, error) {
	if cfg.ReplicateToken == "" {
		logger.Warn().Msg("REPLICATE_API_TOKEN not set; using synthetic generator")
		return video.NewSynthetic(cfg.FallbackAssetBaseURL, cfg.SyntheticDelay), nil
	}
	return video.NewReplicate(video.ReplicateOptions{
		Token:        cfg.ReplicateToken,
		BaseURL:      cfg.ReplicateBaseURL,
		TextModel:    cfg.TextModel,
		TextVersion:  cfg.TextModelVersion,
		ImageModel:   cfg.ImageModel,
		ImageVersion: cfg.ImageModelVersion,
		WebhookURL:   cfg.ProviderWebhookURL(),
		PollInterval: cfg.ProviderPollInterval,
		PollRetries:  cfg.ProviderPollRetries,
		Logger:       logger,
	})
}

func closeQuietly(c io.Closer) func() {
	return func() { _ = c.Close() }
}
