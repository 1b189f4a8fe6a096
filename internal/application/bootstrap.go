package application

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/rajfnu/answer-sheet-marker-sub000/infrastructure/cache"
	"github.com/rajfnu/answer-sheet-marker-sub000/infrastructure/events"
	"github.com/rajfnu/answer-sheet-marker-sub000/infrastructure/extract"
	"github.com/rajfnu/answer-sheet-marker-sub000/infrastructure/ledger"
	"github.com/rajfnu/answer-sheet-marker-sub000/infrastructure/llm"
	"github.com/rajfnu/answer-sheet-marker-sub000/infrastructure/middleware"
	"github.com/rajfnu/answer-sheet-marker-sub000/internal/ports"
)

// ServiceName labels traces emitted by provider clients.
const ServiceName = "answer-sheet-marker"

// BuildOptions injects process-level collaborators into Build.
type BuildOptions struct {
	Logger zerolog.Logger
	// Registerer receives the Prometheus metrics. Defaults to a private
	// registry.
	Registerer prometheus.Registerer
	// Getenv resolves provider credential fallbacks. Defaults to os.Getenv.
	Getenv func(string) string
}

// App is a fully wired Marker plus the resources it owns.
type App struct {
	Marker  *Marker
	Metrics *middleware.PrometheusMetrics
	Ledger  *ledger.Ledger
	Cache   *cache.ContentCache
	Logger  zerolog.Logger

	closers []func() error
}

// Close releases connections opened by Build.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Build wires a Marker from cfg. Configuration problems come back as
// *ports.ConfigError before any provider is called.
func Build(ctx context.Context, cfg Config, opts BuildOptions) (_ *App, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if opts.Registerer == nil {
		opts.Registerer = prometheus.NewRegistry()
	}
	logger := opts.Logger

	app := &App{Logger: logger}
	defer func() {
		if err != nil {
			_ = app.Close()
		}
	}()

	app.Metrics = middleware.NewPrometheusMetrics(opts.Registerer)

	if app.Ledger, err = buildLedger(cfg.Ledger, app, logger); err != nil {
		return nil, err
	}

	store, err := buildCacheStore(ctx, cfg.Cache, app)
	if err != nil {
		return nil, err
	}
	if app.Cache, err = cache.Open(ctx, store, cache.Options{Metrics: app.Metrics, Logger: logger}); err != nil {
		return nil, err
	}

	factory := llm.NewFactory(llm.FactoryOptions{
		Timeout:       cfg.RequestTimeout(),
		MaxConcurrent: cfg.Concurrency.MaxConcurrentCalls,
		RateLimit:     cfg.Concurrency.RateLimitPerSecond,
		RateBurst:     cfg.Concurrency.RateBurst,
		Retry: llm.RetryOptions{
			MaxRetries: max(cfg.Retry.MaxAttempts-1, 0),
			BaseDelay:  time.Duration(cfg.Retry.InitialWaitMs) * time.Millisecond,
			MaxDelay:   time.Duration(cfg.Retry.MaxWaitMs) * time.Millisecond,
		},
		CircuitBreaker: llm.CircuitBreakerOptions{
			MaxFailures: cfg.CircuitBreaker.MaxFailures,
			Cooldown:    time.Duration(cfg.CircuitBreaker.CooldownSeconds) * time.Second,
		},
		Metrics:        app.Metrics,
		BreakerMetrics: app.Metrics,
		Ledger:         app.Ledger,
		ServiceName:    ServiceName,
		Logger:         logger,
		Getenv:         opts.Getenv,
	})

	provider, err := factory.Build(cfg.Provider)
	if err != nil {
		return nil, err
	}
	analysis := provider
	if cfg.HasAnalysisProvider() {
		if analysis, err = factory.Build(cfg.AnalysisProvider); err != nil {
			return nil, err
		}
	}

	publisher, err := buildPublisher(cfg.Events, app, logger)
	if err != nil {
		return nil, err
	}

	app.Marker, err = NewMarker(MarkerDeps{
		Provider:         provider,
		AnalysisProvider: analysis,
		Cache:            app.Cache,
		Ledger:           app.Ledger,
		Extractor:        extract.NewTextExtractor(),
		Publisher:        publisher,
		Observer:         middleware.NewOTelMarkingObserver(app.Metrics),
		Logger:           logger,
	}, MarkerOptions{
		Marking:        cfg.Marking,
		MaxConcurrency: cfg.Concurrency.MaxConcurrentCalls,
	})
	if err != nil {
		return nil, err
	}
	return app, nil
}

func buildLedger(cfg LedgerConfig, app *App, logger zerolog.Logger) (*ledger.Ledger, error) {
	rates := ledger.DefaultRates()
	maps.Copy(rates, cfg.Pricing)
	fallback := cfg.DefaultRate
	if cfg.PricingFile != "" {
		var err error
		if rates, fallback, err = ledger.LoadPricingFile(cfg.PricingFile, rates, fallback); err != nil {
			return nil, ports.NewConfigError("ledger.pricing_file", err)
		}
	}
	pricing := ledger.NewPricingTable(rates, fallback)

	var store ledger.Store
	switch cfg.Driver {
	case ledger.DriverMemory:
		store = ledger.NewMemoryStore()
	default:
		db, err := ledger.OpenDatabase(cfg.Driver, cfg.DSN)
		if err != nil {
			return nil, ports.NewConfigError("ledger.dsn", err)
		}
		if sqlDB, err := db.DB(); err == nil {
			app.closers = append(app.closers, sqlDB.Close)
		}
		gormStore, err := ledger.NewGormStore(db)
		if err != nil {
			return nil, err
		}
		store = gormStore
	}
	return ledger.New(store, pricing, ledger.Options{Metrics: app.Metrics, Logger: logger}), nil
}

func buildCacheStore(ctx context.Context, cfg CacheConfig, app *App) (ports.CacheStore, error) {
	switch cfg.Backend {
	case CacheBackendMemory:
		return cache.NewMemoryStore(), nil
	case CacheBackendRedis:
		client, err := cache.ConnectRedis(ctx, cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		app.closers = append(app.closers, client.Close)
		return cache.NewRedisStore(client, cache.DefaultRedisPrefix), nil
	case CacheBackendFile:
		return cache.NewFileStore(cfg.Dir)
	default:
		return nil, ports.NewConfigError("cache.backend", fmt.Errorf("unknown cache backend %q", cfg.Backend))
	}
}

func buildPublisher(cfg EventsConfig, app *App, logger zerolog.Logger) (ports.EventPublisher, error) {
	if cfg.NATSURL == "" {
		return events.NopPublisher{}, nil
	}
	conn, err := events.Connect(cfg.NATSURL)
	if err != nil {
		return nil, err
	}
	publisher := events.NewNATSPublisher(conn, cfg.SubjectPrefix, logger)
	app.closers = append(app.closers, publisher.Close)
	return publisher, nil
}
