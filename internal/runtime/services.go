package runtime

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/custodia-labs/sercha-rag/internal/core/domain"
	"github.com/custodia-labs/sercha-rag/internal/core/ports/driven"
)

// Services holds the AI backends the engine talks to.
// Generation providers are keyed by name and can be swapped at runtime.
// Thread-safe for concurrent access.
type Services struct {
	mu sync.RWMutex

	embeddingService driven.EmbeddingService
	providers        map[string]driven.GenerationProvider
	defaultProvider  string
}

// NewServices creates an empty registry
func NewServices() *Services {
	return &Services{
		providers: make(map[string]driven.GenerationProvider),
	}
}

// EmbeddingService returns the current embedding service (may be nil)
func (s *Services) EmbeddingService() driven.EmbeddingService {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.embeddingService
}

// SetEmbeddingService updates the embedding service.
// Closes the old service if present.
func (s *Services) SetEmbeddingService(svc driven.EmbeddingService) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.embeddingService != nil && s.embeddingService != svc {
		_ = s.embeddingService.Close()
	}
	s.embeddingService = svc
}

// Provider returns the named generation provider.
// An empty name selects the default provider.
func (s *Services) Provider(name string) (driven.GenerationProvider, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if name == "" {
		name = s.defaultProvider
	}
	p, ok := s.providers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidProvider, name)
	}
	return p, nil
}

// SetProvider registers p under its name, replacing and closing any
// previous provider of that name. The first provider becomes the default.
func (s *Services) SetProvider(p driven.GenerationProvider) {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := p.Name()
	if old, ok := s.providers[name]; ok && old != p {
		_ = old.Close()
	}
	s.providers[name] = p
	if s.defaultProvider == "" {
		s.defaultProvider = name
	}
}

// RemoveProvider unregisters and closes the named provider
func (s *Services) RemoveProvider(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p, ok := s.providers[name]; ok {
		_ = p.Close()
		delete(s.providers, name)
	}
	if s.defaultProvider == name {
		s.defaultProvider = ""
	}
}

// SetDefaultProvider selects the provider used when neither request nor
// tenant names one
func (s *Services) SetDefaultProvider(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.providers[name]; !ok {
		return fmt.Errorf("%w: %q", domain.ErrInvalidProvider, name)
	}
	s.defaultProvider = name
	return nil
}

// DefaultProvider returns the fallback provider name and its default model
func (s *Services) DefaultProvider() (string, string) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.providers[s.defaultProvider]
	if !ok {
		return s.defaultProvider, ""
	}
	return s.defaultProvider, p.DefaultModel()
}

// ProviderNames lists registered providers, sorted
func (s *Services) ProviderNames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.providers))
	for name := range s.providers {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Close shuts down all services
func (s *Services) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.embeddingService != nil {
		_ = s.embeddingService.Close()
		s.embeddingService = nil
	}
	for name, p := range s.providers {
		_ = p.Close()
		delete(s.providers, name)
	}
	s.defaultProvider = ""

	return nil
}

// ValidateAndSetEmbedding validates connectivity before setting embedding service
func (s *Services) ValidateAndSetEmbedding(ctx context.Context, svc driven.EmbeddingService) error {
	if svc == nil {
		s.SetEmbeddingService(nil)
		return nil
	}

	if err := svc.HealthCheck(ctx); err != nil {
		_ = svc.Close()
		return err
	}

	s.SetEmbeddingService(svc)
	return nil
}
