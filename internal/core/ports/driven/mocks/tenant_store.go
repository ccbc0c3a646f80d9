package mocks

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/custodia-labs/sercha-rag/internal/core/domain"
	"github.com/custodia-labs/sercha-rag/internal/core/ports/driven"
)

// Ensure interface compliance
var (
	_ driven.TenantStore = (*MockTenantStore)(nil)
	_ driven.APIKeyStore = (*MockTenantStore)(nil)
)

// MockTenantStore is an in-memory TenantStore and APIKeyStore
type MockTenantStore struct {
	mu      sync.RWMutex
	tenants map[string]*domain.Tenant
	keys    map[string]*domain.APIKey
	gets    atomic.Int64
	delay   time.Duration
}

// NewMockTenantStore creates a new MockTenantStore
func NewMockTenantStore() *MockTenantStore {
	return &MockTenantStore{
		tenants: make(map[string]*domain.Tenant),
		keys:    make(map[string]*domain.APIKey),
	}
}

func (m *MockTenantStore) Get(ctx context.Context, id string) (*domain.Tenant, error) {
	m.gets.Add(1)
	if m.delay > 0 {
		time.Sleep(m.delay)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tenants[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	c := *t
	return &c, nil
}

func (m *MockTenantStore) GetAPIKey(ctx context.Context, keyID string) (*domain.APIKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	k, ok := m.keys[keyID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	c := *k
	return &c, nil
}

func (m *MockTenantStore) TouchAPIKey(ctx context.Context, keyID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if k, ok := m.keys[keyID]; ok {
		now := time.Now()
		k.LastUsedAt = &now
	}
	return nil
}

// Helper methods for testing

// AddTenant stores a tenant
func (m *MockTenantStore) AddTenant(t *domain.Tenant) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tenants[t.ID] = t
}

// AddAPIKey stores a key
func (m *MockTenantStore) AddAPIKey(k *domain.APIKey) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys[k.ID] = k
}

// SetDelay slows every Get
func (m *MockTenantStore) SetDelay(d time.Duration) {
	m.delay = d
}

// Gets returns the number of Get calls
func (m *MockTenantStore) Gets() int {
	return int(m.gets.Load())
}
