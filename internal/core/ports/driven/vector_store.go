package driven

import (
	"context"

	"github.com/custodia-labs/sercha-rag/internal/core/domain"
)

// VectorStore is the shared similarity index.
// Every read and delete takes a domain.VectorFilter, which can only be
// built from a TenantContext; implementations must translate all of its
// terms into the native query predicate.
type VectorStore interface {
	// Search returns up to topK chunks matching filter, best first
	Search(ctx context.Context, filter domain.VectorFilter, vector []float32, topK int) ([]*domain.ScoredChunk, error)

	// Upsert writes chunks into the tenant's namespace.
	// Used by the ingestion collaborator and fixtures.
	Upsert(ctx context.Context, tc domain.TenantContext, chunks []*domain.DocumentChunk) error

	// DeleteDocument removes all chunks of a tenant document
	DeleteDocument(ctx context.Context, tc domain.TenantContext, documentID string) error

	// HealthCheck verifies the store is reachable
	HealthCheck(ctx context.Context) error

	// Close releases the connection
	Close() error
}
