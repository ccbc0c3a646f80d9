package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/custodia-labs/sercha-rag/internal/core/domain"
	"github.com/custodia-labs/sercha-rag/internal/core/ports/driven"
)

// Retriever runs tenant-filtered similarity searches.
// Every search goes through domain.NewVectorFilter; the store receives
// the namespace predicate as part of its native query.
type Retriever struct {
	store  driven.VectorStore
	logger *slog.Logger
}

// NewRetriever creates a new retriever
func NewRetriever(store driven.VectorStore, logger *slog.Logger) *Retriever {
	if logger == nil {
		logger = slog.Default()
	}
	return &Retriever{store: store, logger: logger}
}

// Search returns up to topK chunks of the tenant scoring at least
// threshold, best first with ties broken by chunk id.
// An unreachable store is RetrievalUnavailable, never an empty result.
func (r *Retriever) Search(
	ctx context.Context,
	tc domain.TenantContext,
	vector []float32,
	filters domain.RetrievalFilters,
	topK int,
	threshold float64,
) ([]*domain.ScoredChunk, error) {
	filter, err := domain.NewVectorFilter(tc, filters)
	if err != nil {
		return nil, err
	}
	if topK <= 0 {
		topK = domain.DefaultMaxChunks
	}

	candidates, err := r.store.Search(ctx, filter, vector, topK)
	if err != nil {
		return nil, domain.NewQueryError(domain.ErrRetrievalUnavailable, "vector search failed", err)
	}

	results := make([]*domain.ScoredChunk, 0, len(candidates))
	for _, c := range candidates {
		if c == nil || c.Chunk == nil {
			continue
		}
		// The store already filtered by namespace; a foreign chunk here
		// means the predicate was not applied, so fail the whole query.
		if c.Chunk.TenantID != tc.TenantID() {
			r.logger.Error("vector store returned chunk outside tenant scope",
				"tenant_id", tc.TenantID(),
				"chunk_id", c.Chunk.ID)
			return nil, fmt.Errorf("%w: chunk %s", domain.ErrIsolationViolation, c.Chunk.ID)
		}
		if c.Score < threshold {
			continue
		}
		results = append(results, c)
	}

	domain.SortScored(results)
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}
