package main

// @title           Sercha RAG API
// @version         1.0
// @description     Tenant-isolated retrieval-augmented question answering over your indexed documents.

// @contact.name   Sercha OSS
// @contact.url    https://github.com/custodia-labs/sercha-rag/issues

// @license.name  Apache 2.0
// @license.url   http://www.apache.org/licenses/LICENSE-2.0.html

// @host      localhost:8080
// @BasePath  /api/v1
// @schemes   http https

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description JWT Bearer token. Format: "Bearer {token}"

// @securityDefinitions.apikey APIKeyAuth
// @in header
// @name X-API-Key

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/custodia-labs/sercha-rag/internal/adapters/driven/postgres"
	"github.com/custodia-labs/sercha-rag/internal/adapters/driven/vectorstore/chromem"
	"github.com/custodia-labs/sercha-rag/internal/adapters/driven/vectorstore/qdrant"
	"github.com/custodia-labs/sercha-rag/internal/config"
	"github.com/custodia-labs/sercha-rag/internal/core/ports/driven"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// cli carries what every subcommand shares
type cli struct {
	configPath string
	cfg        *config.Config
	logger     *slog.Logger
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:           "sercha-rag",
		Short:         "Tenant-isolated RAG query engine",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(c.configPath)
			if err != nil {
				return err
			}
			// Tracing inherits the server version unless configured separately
			if cfg.Tracing.ServiceVersion == "" || cfg.Tracing.ServiceVersion == cfg.Server.Version {
				cfg.Tracing.ServiceVersion = version
			}
			cfg.Server.Version = version
			c.cfg = cfg
			c.logger = newLogger(cmd.ErrOrStderr(), cfg.Log)
			slog.SetDefault(c.logger)
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&c.configPath, "config", "c", "", "path to a YAML config file (env vars override it)")

	root.AddCommand(
		newServeCmd(c),
		newMigrateCmd(c),
		newCacheCmd(c),
		newTenantCmd(c),
		newAPIKeyCmd(c),
		newTokenCmd(c),
		newChunksCmd(c),
	)
	return root
}

func newLogger(w io.Writer, cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// openDB connects to PostgreSQL and applies the schema
func (c *cli) openDB(ctx context.Context) (*postgres.DB, error) {
	db, err := postgres.Connect(ctx, c.cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	if err := db.InitSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}
	return db, nil
}

// openRedis returns nil when no Redis URL is configured
func (c *cli) openRedis(ctx context.Context) (*redis.Client, error) {
	if c.cfg.Redis.URL == "" {
		return nil, nil
	}
	opts, err := redis.ParseURL(c.cfg.Redis.URL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}
	return client, nil
}

func (c *cli) openVectorStore(ctx context.Context) (driven.VectorStore, error) {
	if c.cfg.Vector.Backend == config.BackendChromem {
		store, err := chromem.New(c.cfg.Chromem)
		if err != nil {
			return nil, err
		}
		return store, nil
	}
	store, err := qdrant.New(ctx, c.cfg.Qdrant)
	if err != nil {
		return nil, err
	}
	return store, nil
}

// redisPinger adapts a go-redis client to the readiness check
type redisPinger struct {
	client *redis.Client
}

func (p redisPinger) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}
