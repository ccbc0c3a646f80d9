package mocks

import (
	"context"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/custodia-labs/sercha-rag/internal/core/domain"
	"github.com/custodia-labs/sercha-rag/internal/core/ports/driven"
)

// Ensure MockGenerationProvider implements GenerationProvider
var _ driven.GenerationProvider = (*MockGenerationProvider)(nil)

// MockGenerationProvider answers with a fixed text.
// Queued errors are returned by the next calls, one per call.
type MockGenerationProvider struct {
	mu         sync.Mutex
	name       string
	text       string
	usage      domain.TokenUsage
	errs       []error
	midErr     error
	chunkDelay time.Duration
	requests   []driven.GenerationRequest
	closed     chan struct{}
	held       chan struct{}
	gate       chan struct{}
	served     string
}

// NewMockGenerationProvider creates a provider named name answering text
func NewMockGenerationProvider(name, text string) *MockGenerationProvider {
	return &MockGenerationProvider{
		name:   name,
		text:   text,
		usage:  domain.TokenUsage{InputTokens: 100, OutputTokens: 20, TotalTokens: 120},
		closed: make(chan struct{}, 16),
	}
}

func (m *MockGenerationProvider) Name() string { return m.name }

func (m *MockGenerationProvider) DefaultModel() string { return "mock-model" }

func (m *MockGenerationProvider) Complete(ctx context.Context, req driven.GenerationRequest) (*driven.Completion, error) {
	if err := m.record(req); err != nil {
		return nil, err
	}
	m.mu.Lock()
	held, gate := m.held, m.gate
	m.mu.Unlock()
	if gate != nil {
		select {
		case held <- struct{}{}:
		default:
		}
		select {
		case <-gate:
		case <-ctx.Done():
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, &domain.ProviderError{Provider: m.name, Class: domain.ProviderCanceled, Err: err}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	model := req.Model
	if m.served != "" {
		model = m.served
	}
	return &driven.Completion{
		Text:          m.text,
		Model:         model,
		FinishReason:  "stop",
		Usage:         m.usage,
		UsageReported: true,
	}, nil
}

func (m *MockGenerationProvider) Stream(ctx context.Context, req driven.GenerationRequest) (driven.CompletionStream, error) {
	if err := m.record(req); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	usage := m.usage
	return &mockStream{
		ctx:    ctx,
		parts:  splitKeepSpaces(m.text),
		usage:  &usage,
		delay:  m.chunkDelay,
		midErr: m.midErr,
		model:  m.served,
		closed: m.closed,
	}, nil
}

func (m *MockGenerationProvider) Close() error { return nil }

func (m *MockGenerationProvider) record(req driven.GenerationRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	if len(m.errs) > 0 {
		err := m.errs[0]
		m.errs = m.errs[1:]
		return err
	}
	return nil
}

// Helper methods for testing

// QueueError makes the next call fail with err
func (m *MockGenerationProvider) QueueError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs = append(m.errs, err)
}

// SetUsage sets the usage reported by completions
func (m *MockGenerationProvider) SetUsage(u domain.TokenUsage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.usage = u
}

// SetChunkDelay slows each streamed increment
func (m *MockGenerationProvider) SetChunkDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chunkDelay = d
}

// SetStreamError makes streams fail after their first increment
func (m *MockGenerationProvider) SetStreamError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.midErr = err
}

// HoldCompletions makes Complete block until release is called.
// held receives once per blocked call.
func (m *MockGenerationProvider) HoldCompletions() (held <-chan struct{}, release func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.held = make(chan struct{}, 16)
	m.gate = make(chan struct{})
	gate := m.gate
	var once sync.Once
	return m.held, func() { once.Do(func() { close(gate) }) }
}

// SetServedModel makes completions and streams report model as the one
// that served them, as providers do when resolving an alias
func (m *MockGenerationProvider) SetServedModel(model string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.served = model
}

// Calls returns the number of Complete and Stream calls
func (m *MockGenerationProvider) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// LastRequest returns the most recent request
func (m *MockGenerationProvider) LastRequest() driven.GenerationRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.requests) == 0 {
		return driven.GenerationRequest{}
	}
	return m.requests[len(m.requests)-1]
}

// StreamClosed receives once per closed stream
func (m *MockGenerationProvider) StreamClosed() <-chan struct{} {
	return m.closed
}

type mockStream struct {
	ctx    context.Context
	parts  []string
	pos    int
	usage  *domain.TokenUsage
	delay  time.Duration
	midErr error
	model  string
	closed chan struct{}
	once   sync.Once
}

func (s *mockStream) Recv() (driven.StreamDelta, error) {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-s.ctx.Done():
		}
	}
	if err := s.ctx.Err(); err != nil {
		return driven.StreamDelta{}, &domain.ProviderError{Provider: "mock", Class: domain.ProviderCanceled, Err: err}
	}
	if s.midErr != nil && s.pos == 1 {
		return driven.StreamDelta{}, s.midErr
	}
	if s.pos < len(s.parts) {
		part := s.parts[s.pos]
		s.pos++
		return driven.StreamDelta{Text: part}, nil
	}
	if s.usage != nil {
		u := s.usage
		s.usage = nil
		return driven.StreamDelta{Usage: u, Model: s.model}, nil
	}
	return driven.StreamDelta{}, io.EOF
}

func (s *mockStream) Close() error {
	s.once.Do(func() {
		select {
		case s.closed <- struct{}{}:
		default:
		}
	})
	return nil
}

// splitKeepSpaces splits text into word increments that concatenate back to text
func splitKeepSpaces(text string) []string {
	var parts []string
	for text != "" {
		i := strings.IndexByte(text[1:], ' ')
		if i < 0 {
			parts = append(parts, text)
			break
		}
		parts = append(parts, text[:i+1])
		text = text[i+1:]
	}
	return parts
}
