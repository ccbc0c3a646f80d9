package main

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/custodia-labs/sercha-rag/internal/adapters/driven/ai"
	"github.com/custodia-labs/sercha-rag/internal/adapters/driven/auth"
	"github.com/custodia-labs/sercha-rag/internal/adapters/driven/postgres"
	redisadapter "github.com/custodia-labs/sercha-rag/internal/adapters/driven/redis"
	"github.com/custodia-labs/sercha-rag/internal/config"
	"github.com/custodia-labs/sercha-rag/internal/core/domain"
	"github.com/custodia-labs/sercha-rag/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-rag/internal/core/ports/driving"
	"github.com/custodia-labs/sercha-rag/internal/core/services"
	"github.com/custodia-labs/sercha-rag/internal/runtime"
)

func newMigrateCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := c.openDB(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()
			c.logger.Info("schema up to date")
			return nil
		},
	}
}

// adminContext scopes a CLI operation to a tenant as an administrator
func adminContext(ctx context.Context, store driven.TenantStore, tenantID string) (domain.TenantContext, error) {
	t, err := store.Get(ctx, tenantID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.TenantContext{}, fmt.Errorf("tenant %q not found", tenantID)
		}
		return domain.TenantContext{}, err
	}
	return domain.NewTenantContext(t, "cli", []domain.Role{domain.RoleAdmin})
}

func newCacheCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the response cache",
	}

	var tenantID string
	invalidate := &cobra.Command{
		Use:   "invalidate",
		Short: "Drop a tenant's cached answers after its documents changed",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if c.cfg.Cache.Backend != config.BackendRedis {
				// The in-memory cache lives inside each serve process
				return errors.New("cache invalidate needs the redis cache backend; use POST /api/v1/admin/cache/invalidate instead")
			}

			db, err := c.openDB(ctx)
			if err != nil {
				return err
			}
			defer db.Close()
			tc, err := adminContext(ctx, postgres.NewTenantStore(db), tenantID)
			if err != nil {
				return err
			}

			cache, closeCache, err := c.openCacheAdmin(ctx)
			if err != nil {
				return err
			}
			defer closeCache()
			n, err := cache.InvalidateTenant(ctx, tc)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "invalidated %d cached answers for tenant %s\n", n, tenantID)
			return nil
		},
	}
	invalidate.Flags().StringVar(&tenantID, "tenant", "", "tenant ID")
	_ = invalidate.MarkFlagRequired("tenant")

	cmd.AddCommand(invalidate)
	return cmd
}

// openCacheAdmin returns the invalidation hook of a shared cache. With
// the in-memory backend every serve process owns its cache, so it
// returns nil and callers point the operator at the HTTP endpoint.
func (c *cli) openCacheAdmin(ctx context.Context) (driving.CacheAdmin, func(), error) {
	if c.cfg.Cache.Backend != config.BackendRedis {
		return nil, func() {}, nil
	}
	client, err := c.openRedis(ctx)
	if err != nil {
		return nil, nil, err
	}
	if client == nil {
		return nil, nil, errors.New("cache.backend is redis but redis.url (REDIS_URL) is empty")
	}
	policy := services.NewResponseCachePolicy(services.ResponseCacheConfig{
		Cache:  redisadapter.NewResponseCache(client),
		TTL:    c.cfg.Cache.TTL,
		Logger: c.logger,
	})
	return policy, func() { client.Close() }, nil
}

// invalidateAfterChange drops the tenant's cached answers once its
// documents changed. A nil cache means invalidation must go through a
// serve process.
func invalidateAfterChange(ctx context.Context, cache driving.CacheAdmin, tc domain.TenantContext, logger *slog.Logger) (int, error) {
	if cache == nil {
		logger.Warn("cached answers were not invalidated; call POST /api/v1/admin/cache/invalidate on each serve process",
			"tenant_id", tc.TenantID())
		return 0, nil
	}
	n, err := cache.InvalidateTenant(ctx, tc)
	if err != nil {
		return 0, fmt.Errorf("invalidating cached answers: %w", err)
	}
	return n, nil
}

func newTenantCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenant",
		Short: "Provision tenants",
	}

	var (
		name      string
		namespace string
		provider  string
		model     string
		prompt    string
		queries   int
		tokens    int64
	)
	create := &cobra.Command{
		Use:   "create",
		Short: "Create an active tenant",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			db, err := c.openDB(ctx)
			if err != nil {
				return err
			}
			defer db.Close()

			id := uuid.NewString()
			if namespace == "" {
				namespace = "ns_" + strings.ReplaceAll(id, "-", "")
			}
			quota := domain.DefaultQuotaConfig()
			if queries > 0 {
				quota.MaxQueriesPerDay = queries
			}
			if tokens > 0 {
				quota.MaxTokensPerDay = tokens
			}
			now := time.Now().UTC()
			t := &domain.Tenant{
				ID:              id,
				Name:            name,
				Namespace:       namespace,
				Active:          true,
				Quota:           quota,
				DefaultProvider: provider,
				DefaultModel:    model,
				SystemPrompt:    prompt,
				CreatedAt:       now,
				UpdatedAt:       now,
			}
			if err := postgres.NewTenantStore(db).Save(ctx, t); err != nil {
				return fmt.Errorf("saving tenant: %w", err)
			}
			return json.NewEncoder(cmd.OutOrStdout()).Encode(t)
		},
	}
	create.Flags().StringVar(&name, "name", "", "display name")
	create.Flags().StringVar(&namespace, "namespace", "", "vector namespace (generated when empty)")
	create.Flags().StringVar(&provider, "provider", "", "default generation provider")
	create.Flags().StringVar(&model, "model", "", "default model")
	create.Flags().StringVar(&prompt, "system-prompt", "", "tenant system prompt")
	create.Flags().IntVar(&queries, "max-queries-per-day", 0, "daily query limit (0 keeps the default)")
	create.Flags().Int64Var(&tokens, "max-tokens-per-day", 0, "daily token limit (0 is unlimited)")
	_ = create.MarkFlagRequired("name")

	cmd.AddCommand(create)
	return cmd
}

func newAPIKeyCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apikey",
		Short: "Issue API keys",
	}

	var (
		tenantID string
		userID   string
		name     string
		roles    []string
	)
	create := &cobra.Command{
		Use:   "create",
		Short: "Create an API key; the secret is printed once",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			parsed, err := parseRoles(roles)
			if err != nil {
				return err
			}
			db, err := c.openDB(ctx)
			if err != nil {
				return err
			}
			defer db.Close()

			store := postgres.NewTenantStore(db)
			if _, err := adminContext(ctx, store, tenantID); err != nil {
				return err
			}

			secret, err := randomSecret()
			if err != nil {
				return err
			}
			hash, err := auth.NewAdapterWithCost(c.cfg.Auth.JWTSecret, c.cfg.Auth.BcryptCost).HashSecret(secret)
			if err != nil {
				return fmt.Errorf("hashing secret: %w", err)
			}
			key := &domain.APIKey{
				ID:         strings.ReplaceAll(uuid.NewString(), "-", ""),
				TenantID:   tenantID,
				UserID:     userID,
				Name:       name,
				SecretHash: hash,
				Roles:      parsed,
				CreatedAt:  time.Now().UTC(),
			}
			if err := store.SaveAPIKey(ctx, key); err != nil {
				return fmt.Errorf("saving api key: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s.%s\n", key.ID, secret)
			return nil
		},
	}
	create.Flags().StringVar(&tenantID, "tenant", "", "tenant ID")
	create.Flags().StringVar(&userID, "user", "", "user the key acts as")
	create.Flags().StringVar(&name, "name", "", "key label")
	create.Flags().StringSliceVar(&roles, "role", []string{string(domain.RoleMember)}, "roles (admin, member, viewer)")
	_ = create.MarkFlagRequired("tenant")
	_ = create.MarkFlagRequired("user")

	cmd.AddCommand(create)
	return cmd
}

func newTokenCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue principal tokens",
	}

	var (
		tenantID string
		userID   string
		roles    []string
		ttl      time.Duration
	)
	issue := &cobra.Command{
		Use:   "issue",
		Short: "Sign a bearer token for a tenant user",
		RunE: func(cmd *cobra.Command, args []string) error {
			if c.cfg.Auth.JWTSecret == "" {
				return errors.New("auth.jwt_secret (JWT_SECRET) is required")
			}
			parsed, err := parseRoles(roles)
			if err != nil {
				return err
			}
			now := time.Now()
			claims := &domain.TokenClaims{
				TenantID: tenantID,
				UserID:   userID,
				Roles:    parsed,
				IssuedAt: now.Unix(),
			}
			if ttl > 0 {
				claims.ExpiresAt = now.Add(ttl).Unix()
			}
			token, err := auth.NewAdapter(c.cfg.Auth.JWTSecret).WithIssuer(c.cfg.Auth.Issuer).GenerateToken(claims)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	issue.Flags().StringVar(&tenantID, "tenant", "", "tenant ID")
	issue.Flags().StringVar(&userID, "user", "", "user ID")
	issue.Flags().StringSliceVar(&roles, "role", []string{string(domain.RoleMember)}, "roles (admin, member, viewer)")
	issue.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime (0 never expires)")
	_ = issue.MarkFlagRequired("tenant")
	_ = issue.MarkFlagRequired("user")

	cmd.AddCommand(issue)
	return cmd
}

// chunkRecord is one line of a chunk import file
type chunkRecord struct {
	domain.DocumentChunk
	Embedding []float32 `json:"embedding,omitempty"`
}

const importBatchSize = 64

func newChunksCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chunks",
		Short: "Manage document chunks in the vector index",
	}

	var (
		tenantID   string
		file       string
		documentID string
	)
	load := &cobra.Command{
		Use:   "import",
		Short: "Import JSON lines of chunks, embedding those without a vector",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			db, err := c.openDB(ctx)
			if err != nil {
				return err
			}
			defer db.Close()

			tc, err := adminContext(ctx, postgres.NewTenantStore(db), tenantID)
			if err != nil {
				return err
			}

			store, err := c.openVectorStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()
			cache, closeCache, err := c.openCacheAdmin(ctx)
			if err != nil {
				return err
			}
			defer closeCache()

			svcs := runtime.NewServices()
			defer svcs.Close()
			embedding, err := ai.NewEmbeddingService(c.cfg.Embedding)
			if err != nil {
				return err
			}
			if err := svcs.ValidateAndSetEmbedding(ctx, embedding); err != nil {
				return fmt.Errorf("embedding service unavailable: %w", err)
			}

			in := io.Reader(cmd.InOrStdin())
			if file != "" && file != "-" {
				f, err := os.Open(file)
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}

			n, importErr := importChunks(ctx, in, tc, store, svcs.EmbeddingService())
			// Batches written before a failure already changed the index
			if n > 0 {
				if _, err := invalidateAfterChange(ctx, cache, tc, c.logger); err != nil {
					return errors.Join(importErr, err)
				}
			}
			if importErr != nil {
				return importErr
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d chunks into namespace %s\n", n, tc.Namespace())
			return nil
		},
	}
	load.Flags().StringVar(&tenantID, "tenant", "", "tenant ID")
	load.Flags().StringVarP(&file, "file", "f", "-", "JSON lines file (- for stdin)")
	_ = load.MarkFlagRequired("tenant")

	remove := &cobra.Command{
		Use:   "delete",
		Short: "Remove every chunk of a document and drop the tenant's cached answers",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			db, err := c.openDB(ctx)
			if err != nil {
				return err
			}
			defer db.Close()

			tc, err := adminContext(ctx, postgres.NewTenantStore(db), tenantID)
			if err != nil {
				return err
			}

			store, err := c.openVectorStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()
			cache, closeCache, err := c.openCacheAdmin(ctx)
			if err != nil {
				return err
			}
			defer closeCache()

			n, err := deleteDocument(ctx, tc, store, cache, documentID, c.logger)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted document %s from namespace %s (%d cached answers invalidated)\n",
				documentID, tc.Namespace(), n)
			return nil
		},
	}
	remove.Flags().StringVar(&tenantID, "tenant", "", "tenant ID")
	remove.Flags().StringVar(&documentID, "document", "", "document ID")
	_ = remove.MarkFlagRequired("tenant")
	_ = remove.MarkFlagRequired("document")

	cmd.AddCommand(load, remove)
	return cmd
}

// deleteDocument removes a document's chunks, then invalidates the
// tenant's cached answers. It returns the number of answers dropped.
func deleteDocument(
	ctx context.Context,
	tc domain.TenantContext,
	store driven.VectorStore,
	cache driving.CacheAdmin,
	documentID string,
	logger *slog.Logger,
) (int, error) {
	if strings.TrimSpace(documentID) == "" {
		return 0, errors.New("document ID is required")
	}
	if err := store.DeleteDocument(ctx, tc, documentID); err != nil {
		return 0, fmt.Errorf("deleting document %s: %w", documentID, err)
	}
	return invalidateAfterChange(ctx, cache, tc, logger)
}

func importChunks(ctx context.Context, r io.Reader, tc domain.TenantContext, store driven.VectorStore, embedder driven.EmbeddingService) (int, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	total := 0
	batch := make([]*domain.DocumentChunk, 0, importBatchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := embedMissing(ctx, embedder, batch); err != nil {
			return err
		}
		if err := store.Upsert(ctx, tc, batch); err != nil {
			return fmt.Errorf("upserting chunks: %w", err)
		}
		total += len(batch)
		batch = batch[:0]
		return nil
	}

	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		var rec chunkRecord
		if err := json.Unmarshal([]byte(text), &rec); err != nil {
			return total, fmt.Errorf("line %d: %w", line, err)
		}
		chunk := rec.DocumentChunk
		chunk.TenantID = tc.TenantID()
		chunk.Embedding = rec.Embedding
		if chunk.ID == "" {
			chunk.ID = fmt.Sprintf("%s-%d", chunk.DocumentID, chunk.ChunkIndex)
		}
		batch = append(batch, &chunk)
		if len(batch) == importBatchSize {
			if err := flush(); err != nil {
				return total, err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return total, err
	}
	return total, flush()
}

func embedMissing(ctx context.Context, embedder driven.EmbeddingService, chunks []*domain.DocumentChunk) error {
	var (
		texts   []string
		targets []*domain.DocumentChunk
	)
	for _, ch := range chunks {
		if len(ch.Embedding) == 0 {
			texts = append(texts, ch.Text)
			targets = append(targets, ch)
		}
	}
	if len(texts) == 0 {
		return nil
	}
	if embedder == nil {
		return domain.ErrEmbeddingUnavailable
	}
	vectors, err := embedder.Embed(ctx, texts)
	if err != nil {
		return fmt.Errorf("embedding chunks: %w", err)
	}
	if len(vectors) != len(targets) {
		return fmt.Errorf("embedding chunks: got %d vectors for %d texts", len(vectors), len(targets))
	}
	for i, ch := range targets {
		ch.Embedding = vectors[i]
	}
	return nil
}

func parseRoles(values []string) ([]domain.Role, error) {
	roles := make([]domain.Role, 0, len(values))
	for _, v := range values {
		r := domain.Role(strings.ToLower(strings.TrimSpace(v)))
		if !r.Valid() {
			return nil, fmt.Errorf("unknown role %q", v)
		}
		roles = append(roles, r)
	}
	return roles, nil
}

func randomSecret() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
