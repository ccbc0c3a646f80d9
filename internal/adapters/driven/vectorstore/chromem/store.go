// Package chromem implements the vector index in-process on chromem-go,
// for development and single-node deployments.
package chromem

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/philippgille/chromem-go"

	"github.com/custodia-labs/sercha-rag/internal/core/domain"
	"github.com/custodia-labs/sercha-rag/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.VectorStore = (*Store)(nil)

// tagPrefix marks one metadata key per tag, so an all-of tag filter is
// a plain conjunction of where terms.
const tagPrefix = "tag:"

// errNoEmbedder is returned if chromem is ever asked to embed text itself.
// Chunks and queries always arrive with precomputed vectors.
var errNoEmbedder = errors.New("chromem: embeddings must be precomputed")

// Config holds chromem settings. An empty Path keeps the index in memory.
type Config struct {
	Path       string `koanf:"path"`
	Compress   bool   `koanf:"compress"`
	Collection string `koanf:"collection"`
}

// DefaultConfig returns an in-memory index
func DefaultConfig() Config {
	return Config{Collection: "sercha_chunks"}
}

// Store implements driven.VectorStore on a chromem collection
type Store struct {
	db         *chromem.DB
	collection *chromem.Collection
}

// New opens (or creates) the index
func New(cfg Config) (*Store, error) {
	if cfg.Collection == "" {
		cfg.Collection = DefaultConfig().Collection
	}

	db := chromem.NewDB()
	if cfg.Path != "" {
		var err error
		db, err = chromem.NewPersistentDB(cfg.Path, cfg.Compress)
		if err != nil {
			return nil, fmt.Errorf("chromem: open %s: %w", cfg.Path, err)
		}
	}

	collection, err := db.GetOrCreateCollection(cfg.Collection, nil, noEmbedding)
	if err != nil {
		return nil, fmt.Errorf("chromem: collection %s: %w", cfg.Collection, err)
	}
	return &Store{db: db, collection: collection}, nil
}

func noEmbedding(context.Context, string) ([]float32, error) {
	return nil, errNoEmbedder
}

// Search returns up to topK chunks inside the filter's namespace.
// A document-id filter runs one query per id; each query still carries
// the namespace and tag terms.
func (s *Store) Search(ctx context.Context, filter domain.VectorFilter, vector []float32, topK int) ([]*domain.ScoredChunk, error) {
	where, err := whereClause(filter)
	if err != nil {
		return nil, err
	}
	if topK <= 0 {
		return []*domain.ScoredChunk{}, nil
	}

	docIDs := filter.DocumentIDs()
	if len(docIDs) == 0 {
		return s.query(ctx, vector, topK, where)
	}

	var out []*domain.ScoredChunk
	for _, docID := range docIDs {
		w := cloneWhere(where)
		w[domain.PayloadDocumentID] = docID
		res, err := s.query(ctx, vector, topK, w)
		if err != nil {
			return nil, err
		}
		out = append(out, res...)
	}
	domain.SortScored(out)
	if len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}

func (s *Store) query(ctx context.Context, vector []float32, topK int, where map[string]string) ([]*domain.ScoredChunk, error) {
	// chromem rejects nResults above the collection size
	n := min(topK, s.collection.Count())
	if n == 0 {
		return []*domain.ScoredChunk{}, nil
	}
	results, err := s.collection.QueryEmbedding(ctx, vector, n, where, nil)
	if err != nil {
		return nil, fmt.Errorf("chromem: query: %w", err)
	}
	out := make([]*domain.ScoredChunk, 0, len(results))
	for _, r := range results {
		out = append(out, &domain.ScoredChunk{
			Chunk: chunkFromMetadata(r.Content, r.Metadata),
			Score: float64(r.Similarity),
		})
	}
	return out, nil
}

// Upsert writes chunks into the tenant's namespace
func (s *Store) Upsert(ctx context.Context, tc domain.TenantContext, chunks []*domain.DocumentChunk) error {
	if !tc.Valid() {
		return domain.ErrMissingTenant
	}
	if len(chunks) == 0 {
		return nil
	}
	docs := make([]chromem.Document, 0, len(chunks))
	for _, c := range chunks {
		if len(c.Embedding) == 0 {
			return fmt.Errorf("%w: chunk %s has no embedding", domain.ErrInvalidInput, c.ID)
		}
		docs = append(docs, chromem.Document{
			ID:        docID(tc.Namespace(), c.ID),
			Content:   c.Text,
			Metadata:  chunkMetadata(tc, c),
			Embedding: c.Embedding,
		})
	}
	// Re-adding an existing id overwrites it.
	if err := s.collection.AddDocuments(ctx, docs, 1); err != nil {
		return fmt.Errorf("chromem: add: %w", err)
	}
	return nil
}

// DeleteDocument removes all chunks of one tenant document
func (s *Store) DeleteDocument(ctx context.Context, tc domain.TenantContext, documentID string) error {
	filter, err := domain.NewVectorFilter(tc, domain.RetrievalFilters{DocumentIDs: []string{documentID}})
	if err != nil {
		return err
	}
	where, err := whereClause(filter)
	if err != nil {
		return err
	}
	where[domain.PayloadDocumentID] = documentID
	if err := s.collection.Delete(ctx, where, nil); err != nil {
		return fmt.Errorf("chromem: delete: %w", err)
	}
	return nil
}

// HealthCheck always succeeds for an in-process index
func (s *Store) HealthCheck(ctx context.Context) error {
	return ctx.Err()
}

// Close is a no-op; persistent writes happen on every add
func (s *Store) Close() error {
	return nil
}

func docID(namespace, chunkID string) string {
	return namespace + "/" + chunkID
}

// whereClause translates the namespace, owner and tag terms.
// Document ids are handled by the caller since where has no any-of.
func whereClause(filter domain.VectorFilter) (map[string]string, error) {
	if !filter.Valid() {
		return nil, domain.ErrMissingTenant
	}
	where := map[string]string{
		domain.PayloadNamespace: filter.Namespace(),
		domain.PayloadTenantID:  filter.TenantID(),
	}
	for _, tag := range filter.Tags() {
		where[tagPrefix+tag] = "1"
	}
	return where, nil
}

func cloneWhere(where map[string]string) map[string]string {
	out := make(map[string]string, len(where)+1)
	for k, v := range where {
		out[k] = v
	}
	return out
}

func chunkMetadata(tc domain.TenantContext, c *domain.DocumentChunk) map[string]string {
	m := map[string]string{
		domain.PayloadNamespace:  tc.Namespace(),
		domain.PayloadTenantID:   tc.TenantID(),
		domain.PayloadChunkID:    c.ID,
		domain.PayloadDocumentID: c.DocumentID,
		domain.PayloadSource:     c.Source,
		domain.PayloadPage:       strconv.Itoa(c.Page),
		domain.PayloadChunkIndex: strconv.Itoa(c.ChunkIndex),
	}
	for _, tag := range c.Tags {
		m[tagPrefix+tag] = "1"
	}
	return m
}

func chunkFromMetadata(content string, m map[string]string) *domain.DocumentChunk {
	c := &domain.DocumentChunk{
		ID:         m[domain.PayloadChunkID],
		TenantID:   m[domain.PayloadTenantID],
		DocumentID: m[domain.PayloadDocumentID],
		Source:     m[domain.PayloadSource],
		Text:       content,
	}
	c.Page, _ = strconv.Atoi(m[domain.PayloadPage])
	c.ChunkIndex, _ = strconv.Atoi(m[domain.PayloadChunkIndex])
	for k := range m {
		if tag, ok := strings.CutPrefix(k, tagPrefix); ok {
			c.Tags = append(c.Tags, tag)
		}
	}
	sort.Strings(c.Tags)
	return c
}
