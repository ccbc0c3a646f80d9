package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/custodia-labs/sercha-rag/internal/adapters/driven/ai"
	"github.com/custodia-labs/sercha-rag/internal/adapters/driven/auth"
	"github.com/custodia-labs/sercha-rag/internal/adapters/driven/memory"
	"github.com/custodia-labs/sercha-rag/internal/adapters/driven/postgres"
	redisadapter "github.com/custodia-labs/sercha-rag/internal/adapters/driven/redis"
	httpserver "github.com/custodia-labs/sercha-rag/internal/adapters/driving/http"
	"github.com/custodia-labs/sercha-rag/internal/config"
	"github.com/custodia-labs/sercha-rag/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-rag/internal/core/services"
	"github.com/custodia-labs/sercha-rag/internal/runtime"
	"github.com/custodia-labs/sercha-rag/internal/telemetry"
)

func newServeCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP query API",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.cfg.ValidateServe(); err != nil {
				return err
			}
			return c.serve(cmd.Context())
		},
	}
}

func (c *cli) serve(ctx context.Context) error {
	cfg := c.cfg
	logger := c.logger
	logger.Info("sercha-rag starting", "version", version, "vector_backend", cfg.Vector.Backend)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTracing, err := telemetry.SetupTracing(ctx, cfg.Tracing)
	if err != nil {
		return err
	}
	defer func() {
		sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer scancel()
		if err := shutdownTracing(sctx); err != nil {
			logger.Warn("tracing shutdown failed", "error", err)
		}
	}()

	// PostgreSQL: tenants, API keys, ledger, fallback quota counters
	db, err := c.openDB(ctx)
	if err != nil {
		return err
	}
	defer db.Close()
	logger.Info("connected to PostgreSQL")

	redisClient, err := c.openRedis(ctx)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
		logger.Info("connected to Redis")
	}

	vectorStore, err := c.openVectorStore(ctx)
	if err != nil {
		return fmt.Errorf("opening vector store: %w", err)
	}
	defer vectorStore.Close()
	logger.Info("vector store ready", "backend", cfg.Vector.Backend)

	svcs, err := c.buildRuntime(ctx)
	if err != nil {
		return err
	}
	defer svcs.Close()

	metrics := telemetry.NewMetrics()
	tenantStore := postgres.NewTenantStore(db)
	authAdapter := auth.NewAdapterWithCost(cfg.Auth.JWTSecret, cfg.Auth.BcryptCost).WithIssuer(cfg.Auth.Issuer)

	guard := services.NewTenantGuard(services.TenantGuardConfig{
		Tenants: tenantStore,
		APIKeys: tenantStore,
		Auth:    authAdapter,
		Logger:  logger,
	})

	quotaStore, err := c.quotaStore(db, redisClient)
	if err != nil {
		return err
	}
	quota := services.NewQuotaController(services.QuotaControllerConfig{
		Store:   quotaStore,
		Window:  cfg.Quota.Window,
		Metrics: metrics,
		Logger:  logger,
	})

	responseCache, err := c.responseCache(ctx, redisClient)
	if err != nil {
		return err
	}
	cachePolicy := services.NewResponseCachePolicy(services.ResponseCacheConfig{
		Cache:                responseCache,
		TTL:                  cfg.Cache.TTL,
		TemperatureThreshold: cfg.Cache.TemperatureThreshold,
		Logger:               logger,
	})

	engine := services.NewQueryEngine(services.QueryEngineConfig{
		Services:         svcs,
		VectorStore:      vectorStore,
		Quota:            quota,
		Cache:            cachePolicy,
		Ledger:           postgres.NewLedgerStore(db),
		Pricing:          cfg.PricingTable(),
		Metrics:          metrics,
		Logger:           logger,
		MaxContextTokens: cfg.Engine.MaxContextTokens,
		Timeout:          cfg.Engine.Timeout,
		StreamBuffer:     cfg.Engine.StreamBuffer,
	})

	var redisCheck httpserver.Pinger
	if redisClient != nil {
		redisCheck = redisPinger{client: redisClient}
	}

	server := httpserver.NewServer(
		cfg.Server,
		guard,
		engine,
		cachePolicy,
		metrics.Handler(),
		db,
		redisCheck,
	)
	return server.Start()
}

// buildRuntime registers the embedding service and every configured
// generation provider.
func (c *cli) buildRuntime(ctx context.Context) (*runtime.Services, error) {
	cfg := c.cfg
	svcs := runtime.NewServices()

	embedding, err := ai.NewEmbeddingService(cfg.Embedding)
	if err != nil {
		return nil, fmt.Errorf("creating embedding service: %w", err)
	}
	if embedding != nil {
		hctx, hcancel := context.WithTimeout(ctx, 10*time.Second)
		if err := embedding.HealthCheck(hctx); err != nil {
			// Keep it registered: queries fail as embedding_unavailable until it recovers
			c.logger.Warn("embedding service health check failed", "model", embedding.Model(), "error", err)
		}
		hcancel()
		svcs.SetEmbeddingService(embedding)
		c.logger.Info("embedding service configured", "model", embedding.Model(), "dimensions", embedding.Dimensions())
	}

	for _, pc := range cfg.ProviderConfigs() {
		provider, err := ai.NewProvider(pc)
		if err != nil {
			svcs.Close()
			return nil, fmt.Errorf("creating provider %q: %w", pc.Name, err)
		}
		svcs.SetProvider(provider)
		c.logger.Info("generation provider configured", "provider", provider.Name(), "model", provider.DefaultModel())
	}

	if name := cfg.Engine.DefaultProvider; name != "" {
		if err := svcs.SetDefaultProvider(name); err != nil {
			svcs.Close()
			return nil, err
		}
	}
	return svcs, nil
}

// quotaStore picks the counter backend; Redis if available, otherwise PostgreSQL
func (c *cli) quotaStore(db *postgres.DB, client *redis.Client) (driven.QuotaStore, error) {
	switch c.cfg.Quota.Backend {
	case config.BackendRedis:
		if client == nil {
			return nil, errors.New("quota backend redis requires a redis connection")
		}
		c.logger.Info("using Redis quota counters")
		return redisadapter.NewQuotaStore(client), nil
	case config.BackendMemory:
		c.logger.Warn("using in-memory quota counters (not shared across replicas)")
		return memory.NewQuotaStore(), nil
	default:
		c.logger.Info("using PostgreSQL quota counters")
		return postgres.NewQuotaStore(db), nil
	}
}

func (c *cli) responseCache(ctx context.Context, client *redis.Client) (driven.ResponseCache, error) {
	if c.cfg.Cache.Backend == config.BackendRedis {
		if client == nil {
			return nil, errors.New("cache backend redis requires a redis connection")
		}
		c.logger.Info("using Redis response cache")
		return redisadapter.NewResponseCache(client), nil
	}
	cache := memory.NewResponseCache(c.logger)
	if c.cfg.Cache.SweepInterval > 0 {
		go cache.Run(ctx, c.cfg.Cache.SweepInterval)
	}
	c.logger.Info("using in-memory response cache", "sweep_interval", c.cfg.Cache.SweepInterval)
	return cache, nil
}
