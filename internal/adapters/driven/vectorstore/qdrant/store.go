// Package qdrant implements the shared vector index on Qdrant's gRPC API.
//
// All tenants share one collection. Every point carries its namespace
// and tenant id in the payload, both keyword-indexed, and every read or
// delete sends them as mandatory Must conditions.
package qdrant

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"google.golang.org/grpc"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/custodia-labs/sercha-rag/internal/core/domain"
	"github.com/custodia-labs/sercha-rag/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.VectorStore = (*Store)(nil)

var tracer = otel.Tracer("sercha-rag/vectorstore/qdrant")

// Config holds Qdrant connection settings
type Config struct {
	Host           string        `koanf:"host"`
	Port           int           `koanf:"port"`
	UseTLS         bool          `koanf:"use_tls"`
	APIKey         string        `koanf:"api_key"`
	Collection     string        `koanf:"collection"`
	VectorSize     int           `koanf:"vector_size"`
	MaxRetries     int           `koanf:"max_retries"`
	RetryBackoff   time.Duration `koanf:"retry_backoff"`
	MaxMessageSize int           `koanf:"max_message_size"`
}

// DefaultConfig returns settings for a local Qdrant
func DefaultConfig() Config {
	return Config{
		Host:           "localhost",
		Port:           6334,
		Collection:     "sercha_chunks",
		VectorSize:     1536,
		MaxRetries:     2,
		RetryBackoff:   100 * time.Millisecond,
		MaxMessageSize: 50 * 1024 * 1024,
	}
}

// Store implements driven.VectorStore on Qdrant
type Store struct {
	client *qdrant.Client
	cfg    Config
}

// New connects to Qdrant and makes sure the collection and its payload
// indexes exist.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Collection == "" || cfg.VectorSize <= 0 {
		return nil, fmt.Errorf("qdrant: collection and vector size are required")
	}
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		UseTLS: cfg.UseTLS,
		APIKey: cfg.APIKey,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(cfg.MaxMessageSize),
				grpc.MaxCallSendMsgSize(cfg.MaxMessageSize),
			),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: connect: %w", err)
	}

	s := &Store{client: client, cfg: cfg}
	if err := s.ensureCollection(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureCollection(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.cfg.Collection)
	if err != nil {
		return fmt.Errorf("qdrant: check collection: %w", err)
	}
	if !exists {
		err := s.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: s.cfg.Collection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(s.cfg.VectorSize),
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if err != nil {
			return fmt.Errorf("qdrant: create collection %s: %w", s.cfg.Collection, err)
		}
	}

	for _, field := range []string{domain.PayloadNamespace, domain.PayloadTenantID, domain.PayloadDocumentID, domain.PayloadTags} {
		_, err := s.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: s.cfg.Collection,
			FieldName:      field,
			FieldType:      qdrant.PtrOf(qdrant.FieldType_FieldTypeKeyword),
			Wait:           qdrant.PtrOf(true),
		})
		if err != nil {
			return fmt.Errorf("qdrant: index %s: %w", field, err)
		}
	}
	return nil
}

// Search returns up to topK chunks inside the filter's namespace
func (s *Store) Search(ctx context.Context, filter domain.VectorFilter, vector []float32, topK int) ([]*domain.ScoredChunk, error) {
	ctx, span := tracer.Start(ctx, "qdrant.Search")
	defer span.End()
	span.SetAttributes(attribute.Int("top_k", topK))

	f, err := buildFilter(filter)
	if err != nil {
		return nil, err
	}
	if topK <= 0 {
		return []*domain.ScoredChunk{}, nil
	}

	var points []*qdrant.ScoredPoint
	err = s.retry(ctx, "search", func() error {
		res, err := s.client.Query(ctx, &qdrant.QueryPoints{
			CollectionName: s.cfg.Collection,
			Query:          qdrant.NewQuery(vector...),
			Limit:          qdrant.PtrOf(uint64(topK)),
			WithPayload:    qdrant.NewWithPayload(true),
			Filter:         f,
		})
		if err != nil {
			return err
		}
		points = res
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	out := make([]*domain.ScoredChunk, 0, len(points))
	for _, p := range points {
		out = append(out, &domain.ScoredChunk{Chunk: chunkFromPayload(p.GetPayload()), Score: float64(p.GetScore())})
	}
	span.SetAttributes(attribute.Int("results", len(out)))
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

	points := make([]*qdrant.PointStruct, 0, len(chunks))
	for _, c := range chunks {
		if len(c.Embedding) != s.cfg.VectorSize {
			return fmt.Errorf("%w: chunk %s has %d dimensions, want %d", domain.ErrInvalidInput, c.ID, len(c.Embedding), s.cfg.VectorSize)
		}
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(pointID(tc.Namespace(), c.ID)),
			Vectors: qdrant.NewVectors(c.Embedding...),
			Payload: chunkPayload(tc, c),
		})
	}

	return s.retry(ctx, "upsert", func() error {
		_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: s.cfg.Collection,
			Wait:           qdrant.PtrOf(true),
			Points:         points,
		})
		return err
	})
}

// DeleteDocument removes all chunks of one tenant document
func (s *Store) DeleteDocument(ctx context.Context, tc domain.TenantContext, documentID string) error {
	filter, err := domain.NewVectorFilter(tc, domain.RetrievalFilters{DocumentIDs: []string{documentID}})
	if err != nil {
		return err
	}
	f, err := buildFilter(filter)
	if err != nil {
		return err
	}
	return s.retry(ctx, "delete", func() error {
		_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
			CollectionName: s.cfg.Collection,
			Wait:           qdrant.PtrOf(true),
			Points: &qdrant.PointsSelector{
				PointsSelectorOneOf: &qdrant.PointsSelector_Filter{Filter: f},
			},
		})
		return err
	})
}

// HealthCheck verifies the server answers
func (s *Store) HealthCheck(ctx context.Context) error {
	if _, err := s.client.HealthCheck(ctx); err != nil {
		return fmt.Errorf("qdrant: health check: %w", err)
	}
	return nil
}

// Close closes the gRPC connection
func (s *Store) Close() error {
	return s.client.Close()
}

// retry re-runs transient failures with exponential backoff
func (s *Store) retry(ctx context.Context, op string, fn func() error) error {
	backoff := s.cfg.RetryBackoff
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if !isTransient(err) || attempt >= s.cfg.MaxRetries {
			return fmt.Errorf("qdrant %s: %w", op, err)
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("qdrant %s: %w", op, errors.Join(ctx.Err(), err))
		case <-time.After(backoff):
			backoff *= 2
		}
	}
}

// isTransient reports grpc codes worth retrying
func isTransient(err error) bool {
	st, ok := status.FromError(err)
	if !ok {
		return false
	}
	switch st.Code() {
	case grpccodes.Unavailable, grpccodes.Aborted, grpccodes.ResourceExhausted:
		return true
	}
	return false
}

// pointID derives a stable point id so re-ingesting a chunk overwrites it.
// The namespace is part of the name, so tenants never share a point.
func pointID(namespace, chunkID string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("sercha-rag:"+namespace+":"+chunkID)).String()
}

// buildFilter translates every term of the isolation predicate
func buildFilter(filter domain.VectorFilter) (*qdrant.Filter, error) {
	if !filter.Valid() {
		return nil, domain.ErrMissingTenant
	}
	must := []*qdrant.Condition{
		keywordCondition(domain.PayloadNamespace, filter.Namespace()),
		keywordCondition(domain.PayloadTenantID, filter.TenantID()),
	}
	if ids := filter.DocumentIDs(); len(ids) > 0 {
		must = append(must, &qdrant.Condition{
			ConditionOneOf: &qdrant.Condition_Field{
				Field: &qdrant.FieldCondition{
					Key: domain.PayloadDocumentID,
					Match: &qdrant.Match{
						MatchValue: &qdrant.Match_Keywords{Keywords: &qdrant.RepeatedStrings{Strings: ids}},
					},
				},
			},
		})
	}
	// One condition per tag: a keyword match on an array payload hits if
	// any element equals, so stacking them under Must gives all-of.
	for _, tag := range filter.Tags() {
		must = append(must, keywordCondition(domain.PayloadTags, tag))
	}
	return &qdrant.Filter{Must: must}, nil
}

func keywordCondition(key, value string) *qdrant.Condition {
	return &qdrant.Condition{
		ConditionOneOf: &qdrant.Condition_Field{
			Field: &qdrant.FieldCondition{
				Key:   key,
				Match: &qdrant.Match{MatchValue: &qdrant.Match_Keyword{Keyword: value}},
			},
		},
	}
}

func stringValue(v string) *qdrant.Value {
	return &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: v}}
}

func intValue(v int) *qdrant.Value {
	return &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: int64(v)}}
}

func chunkPayload(tc domain.TenantContext, c *domain.DocumentChunk) map[string]*qdrant.Value {
	tags := make([]*qdrant.Value, len(c.Tags))
	for i, t := range c.Tags {
		tags[i] = stringValue(t)
	}
	return map[string]*qdrant.Value{
		domain.PayloadNamespace:  stringValue(tc.Namespace()),
		domain.PayloadTenantID:   stringValue(tc.TenantID()),
		domain.PayloadChunkID:    stringValue(c.ID),
		domain.PayloadDocumentID: stringValue(c.DocumentID),
		domain.PayloadText:       stringValue(c.Text),
		domain.PayloadSource:     stringValue(c.Source),
		domain.PayloadPage:       intValue(c.Page),
		domain.PayloadChunkIndex: intValue(c.ChunkIndex),
		domain.PayloadTags: {Kind: &qdrant.Value_ListValue{
			ListValue: &qdrant.ListValue{Values: tags},
		}},
	}
}

// chunkFromPayload rebuilds a chunk. Missing keys stay zero, which the
// retriever rejects for tenant_id.
func chunkFromPayload(payload map[string]*qdrant.Value) *domain.DocumentChunk {
	c := &domain.DocumentChunk{}
	for k, v := range payload {
		switch k {
		case domain.PayloadTenantID:
			c.TenantID = v.GetStringValue()
		case domain.PayloadChunkID:
			c.ID = v.GetStringValue()
		case domain.PayloadDocumentID:
			c.DocumentID = v.GetStringValue()
		case domain.PayloadText:
			c.Text = v.GetStringValue()
		case domain.PayloadSource:
			c.Source = v.GetStringValue()
		case domain.PayloadPage:
			c.Page = int(v.GetIntegerValue())
		case domain.PayloadChunkIndex:
			c.ChunkIndex = int(v.GetIntegerValue())
		case domain.PayloadTags:
			for _, t := range v.GetListValue().GetValues() {
				c.Tags = append(c.Tags, t.GetStringValue())
			}
		}
	}
	return c
}
