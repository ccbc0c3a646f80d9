package ai

import (
	"fmt"

	"github.com/custodia-labs/sercha-rag/internal/core/domain"
	"github.com/custodia-labs/sercha-rag/internal/core/ports/driven"
)

// NewEmbeddingService creates the configured embedding service.
// Returns nil, nil when no backend is configured.
func NewEmbeddingService(cfg EmbeddingConfig) (driven.EmbeddingService, error) {
	switch cfg.Kind {
	case "":
		return nil, nil
	case KindOpenAI:
		e, err := NewOpenAIEmbedding(cfg)
		if err != nil {
			return nil, err
		}
		return e, nil
	case KindOllama:
		e, err := NewOllamaEmbedding(cfg)
		if err != nil {
			return nil, err
		}
		return e, nil
	default:
		return nil, fmt.Errorf("%w: embedding backend %q", domain.ErrInvalidProvider, cfg.Kind)
	}
}

// NewProvider creates one generation provider
func NewProvider(cfg ProviderConfig) (driven.GenerationProvider, error) {
	switch cfg.Kind {
	case KindOpenAI:
		p, err := NewOpenAIProvider(cfg)
		if err != nil {
			return nil, err
		}
		return p, nil
	case KindAnthropic, KindOllama:
		var p *LangChainProvider
		var err error
		if cfg.Kind == KindAnthropic {
			p, err = NewAnthropicProvider(cfg)
		} else {
			p, err = NewOllamaProvider(cfg)
		}
		if err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidProvider, cfg.Kind)
	}
}
