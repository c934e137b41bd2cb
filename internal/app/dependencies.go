package app

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/toko-pricing/internal/appliedrules"
	"github.com/noah-isme/toko-pricing/internal/cache"
	"github.com/noah-isme/toko-pricing/internal/catalog"
	"github.com/noah-isme/toko-pricing/internal/config"
	"github.com/noah-isme/toko-pricing/internal/db"
	"github.com/noah-isme/toko-pricing/internal/obs"
	"github.com/noah-isme/toko-pricing/internal/resilience"
	"github.com/noah-isme/toko-pricing/internal/rules"
)

// Options tunes how Dependencies are opened.
type Options struct {
	// ApplicationName is reported to Postgres as application_name.
	ApplicationName string
	RedisMetrics    bool
	Namespace       string
	Registerer      prometheus.Registerer
}

// Dependencies enumerates the infrastructure shared by the api and worker binaries.
type Dependencies struct {
	Config   *config.Config
	Logger   zerolog.Logger
	DB       *pgxpool.Pool
	Redis    *redis.Client
	TaskConn asynq.RedisConnOpt
	Metrics  *obs.PricingMetrics
	// CacheBreaker guards every Redis cache built from these dependencies.
	CacheBreaker *resilience.Breaker
}

// New opens Postgres and Redis, applying migrations first when configured.
func New(ctx context.Context, cfg *config.Config, logger zerolog.Logger, opts Options) (*Dependencies, error) {
	if cfg.MigrateOnStart {
		if err := db.Migrate(cfg.DatabaseURL); err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
		logger.Info().Msg("migrations applied")
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}
	poolConfig.ConnConfig.Tracer = obs.PGXTracer{}
	if poolConfig.ConnConfig.RuntimeParams == nil {
		poolConfig.ConnConfig.RuntimeParams = map[string]string{}
	}
	if cfg.DBMaxConns > 0 {
		poolConfig.MaxConns = int32(cfg.DBMaxConns)
	}
	if opts.ApplicationName != "" {
		poolConfig.ConnConfig.RuntimeParams["application_name"] = opts.ApplicationName
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(redisOpts)
	if err := redisotel.InstrumentTracing(client); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if opts.RedisMetrics {
		if err := redisotel.InstrumentMetrics(client); err != nil {
			logger.Error().Err(err).Msg("instrument redis metrics")
		}
	}
	if err := client.Ping(ctx).Err(); err != nil {
		pool.Close()
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	taskConn, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		pool.Close()
		_ = client.Close()
		return nil, fmt.Errorf("parse task redis uri: %w", err)
	}

	namespace := opts.Namespace
	if namespace == "" {
		namespace = "toko"
	}
	return &Dependencies{
		Config:   cfg,
		Logger:   logger,
		DB:       pool,
		Redis:    client,
		TaskConn: taskConn,
		Metrics:  obs.NewPricingMetrics(namespace, opts.Registerer),
		CacheBreaker: resilience.NewBreaker(resilience.BreakerConfig{
			Target:       "redis_cache",
			MinRequests:  cfg.CacheBreakerMinRequests,
			FailureRatio: cfg.CacheBreakerFailureRatio,
			OpenFor:      cfg.CacheBreakerOpenFor,
			Metrics:      resilience.NewMetrics(namespace, opts.Registerer),
			Logger:       logger,
		}),
	}, nil
}

// Close releases the pool and the Redis client.
func (d *Dependencies) Close() {
	if d.Redis != nil {
		if err := d.Redis.Close(); err != nil {
			d.Logger.Error().Err(err).Msg("close redis")
		}
	}
	if d.DB != nil {
		d.DB.Close()
	}
}

// Rules builds the rule service with the active-set cache.
func (d *Dependencies) Rules() (*rules.Service, error) {
	return rules.NewService(rules.ServiceConfig{
		Repository: &rules.PGRepository{DB: d.DB},
		Cache:      cache.NewCache(d.Redis, d.Config.RulesCacheTTL).WithBreaker(d.CacheBreaker),
		Logger:     d.Logger.With().Str("component", "rules").Logger(),
	})
}

// Catalog builds the catalog service with the product and term cache.
func (d *Dependencies) Catalog() (*catalog.Service, error) {
	return catalog.NewService(catalog.ServiceConfig{
		Store:  catalog.PGStore{DB: d.DB},
		Cache:  cache.NewCache(d.Redis, d.Config.CatalogCacheTTL).WithBreaker(d.CacheBreaker),
		Logger: d.Logger.With().Str("component", "catalog").Logger(),
	})
}

// AppliedRules builds the order record service. names resolves rule labels.
func (d *Dependencies) AppliedRules(names appliedrules.NameSource) (*appliedrules.Service, error) {
	return appliedrules.NewService(
		&appliedrules.PGStore{DB: d.DB},
		names,
		d.Logger.With().Str("component", "appliedrules").Logger(),
	)
}
