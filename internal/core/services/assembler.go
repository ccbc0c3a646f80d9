package services

import (
	"fmt"
	"strings"

	"github.com/custodia-labs/sercha-rag/internal/core/domain"
)

// ContextAssembler turns ranked candidates into a bounded prompt context.
// It is a pure function of its input, so repeated calls select the same
// fragments in the same order.
type ContextAssembler struct{}

// NewContextAssembler creates a new context assembler
func NewContextAssembler() *ContextAssembler {
	return &ContextAssembler{}
}

type fragmentKey struct {
	documentID string
	chunkIndex int
}

// Assemble takes the top maxChunks candidates, drops repeated
// (document, chunk index) pairs and appends whole fragments in score
// order until the next one would exceed maxContextTokens.
// A non-positive maxContextTokens disables the token budget.
func (a *ContextAssembler) Assemble(chunks []*domain.ScoredChunk, maxChunks, maxContextTokens int) domain.AssembledContext {
	ranked := make([]*domain.ScoredChunk, 0, len(chunks))
	for _, c := range chunks {
		if c != nil && c.Chunk != nil {
			ranked = append(ranked, c)
		}
	}
	domain.SortScored(ranked)
	if maxChunks > 0 && len(ranked) > maxChunks {
		ranked = ranked[:maxChunks]
	}

	var (
		buf       strings.Builder
		fragments = make([]domain.ContextFragment, 0, len(ranked))
		seen      = make(map[fragmentKey]struct{}, len(ranked))
		total     int
	)
	for _, c := range ranked {
		key := fragmentKey{documentID: c.Chunk.DocumentID, chunkIndex: c.Chunk.ChunkIndex}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		block := formatFragment(len(fragments)+1, c.Chunk)
		tokens := domain.EstimateTokens(block)
		if maxContextTokens > 0 && total+tokens > maxContextTokens {
			break
		}

		buf.WriteString(block)
		total += tokens
		fragments = append(fragments, domain.ContextFragment{
			ChunkID:    c.Chunk.ID,
			DocumentID: c.Chunk.DocumentID,
			ChunkIndex: c.Chunk.ChunkIndex,
			Score:      c.Score,
			Source:     c.Chunk.Source,
			Page:       c.Chunk.Page,
			Text:       c.Chunk.Text,
			Tokens:     tokens,
		})
	}

	return domain.AssembledContext{
		Text:      buf.String(),
		Fragments: fragments,
		Tokens:    total,
	}
}

func formatFragment(n int, chunk *domain.DocumentChunk) string {
	source := chunk.Source
	if source == "" {
		source = chunk.DocumentID
	}
	return fmt.Sprintf("\n[Document %d - %s]\n%s\n", n, source, chunk.Text)
}
