package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/lib/pq"

	"github.com/custodia-labs/sercha-rag/internal/core/domain"
	"github.com/custodia-labs/sercha-rag/internal/core/ports/driven"
)

// Verify interface compliance
var (
	_ driven.TenantStore = (*TenantStore)(nil)
	_ driven.APIKeyStore = (*TenantStore)(nil)
)

// TenantStore reads tenants and API keys from PostgreSQL.
// The write methods are operator tooling; the engine only reads.
type TenantStore struct {
	db *DB
}

// NewTenantStore creates a new TenantStore
func NewTenantStore(db *DB) *TenantStore {
	return &TenantStore{db: db}
}

// Get retrieves a tenant by ID
func (s *TenantStore) Get(ctx context.Context, id string) (*domain.Tenant, error) {
	query := `
		SELECT id, name, namespace, active, max_documents, max_queries_per_day, max_tokens_per_day,
			default_provider, default_model, system_prompt, created_at, updated_at
		FROM tenants
		WHERE id = $1
	`

	var t domain.Tenant
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&t.ID,
		&t.Name,
		&t.Namespace,
		&t.Active,
		&t.Quota.MaxDocuments,
		&t.Quota.MaxQueriesPerDay,
		&t.Quota.MaxTokensPerDay,
		&t.DefaultProvider,
		&t.DefaultModel,
		&t.SystemPrompt,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// Save creates or updates a tenant
func (s *TenantStore) Save(ctx context.Context, t *domain.Tenant) error {
	query := `
		INSERT INTO tenants (id, name, namespace, active, max_documents, max_queries_per_day, max_tokens_per_day,
			default_provider, default_model, system_prompt, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			active = EXCLUDED.active,
			max_documents = EXCLUDED.max_documents,
			max_queries_per_day = EXCLUDED.max_queries_per_day,
			max_tokens_per_day = EXCLUDED.max_tokens_per_day,
			default_provider = EXCLUDED.default_provider,
			default_model = EXCLUDED.default_model,
			system_prompt = EXCLUDED.system_prompt,
			updated_at = EXCLUDED.updated_at
	`

	_, err := s.db.ExecContext(ctx, query,
		t.ID,
		t.Name,
		t.Namespace,
		t.Active,
		t.Quota.MaxDocuments,
		t.Quota.MaxQueriesPerDay,
		t.Quota.MaxTokensPerDay,
		t.DefaultProvider,
		t.DefaultModel,
		t.SystemPrompt,
		t.CreatedAt,
		t.UpdatedAt,
	)
	return err
}

// GetAPIKey retrieves a key by its public ID
func (s *TenantStore) GetAPIKey(ctx context.Context, keyID string) (*domain.APIKey, error) {
	query := `
		SELECT id, tenant_id, user_id, name, secret_hash, roles, created_at, last_used_at, revoked_at
		FROM api_keys
		WHERE id = $1
	`

	var k domain.APIKey
	var roles []string
	var lastUsedAt, revokedAt sql.NullTime

	err := s.db.QueryRowContext(ctx, query, keyID).Scan(
		&k.ID,
		&k.TenantID,
		&k.UserID,
		&k.Name,
		&k.SecretHash,
		pq.Array(&roles),
		&k.CreatedAt,
		&lastUsedAt,
		&revokedAt,
	)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	k.Roles = rolesFromStrings(roles)
	k.LastUsedAt = TimePtr(lastUsedAt)
	k.RevokedAt = TimePtr(revokedAt)
	return &k, nil
}

// SaveAPIKey creates or updates an API key
func (s *TenantStore) SaveAPIKey(ctx context.Context, k *domain.APIKey) error {
	query := `
		INSERT INTO api_keys (id, tenant_id, user_id, name, secret_hash, roles, created_at, last_used_at, revoked_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			roles = EXCLUDED.roles,
			revoked_at = EXCLUDED.revoked_at
	`

	_, err := s.db.ExecContext(ctx, query,
		k.ID,
		k.TenantID,
		k.UserID,
		k.Name,
		k.SecretHash,
		pq.Array(rolesToStrings(k.Roles)),
		k.CreatedAt,
		NullTime(k.LastUsedAt),
		NullTime(k.RevokedAt),
	)
	return err
}

// TouchAPIKey records a successful use
func (s *TenantStore) TouchAPIKey(ctx context.Context, keyID string) error {
	_, err := s.db.ExecContext(ctx, "UPDATE api_keys SET last_used_at = $2 WHERE id = $1", keyID, time.Now())
	return err
}

func rolesFromStrings(values []string) []domain.Role {
	roles := make([]domain.Role, 0, len(values))
	for _, v := range values {
		if r := domain.Role(v); r.Valid() {
			roles = append(roles, r)
		}
	}
	return roles
}

func rolesToStrings(roles []domain.Role) []string {
	out := make([]string, len(roles))
	for i, r := range roles {
		out[i] = string(r)
	}
	return out
}
