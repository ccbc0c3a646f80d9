package driven

import (
	"context"

	"github.com/custodia-labs/sercha-rag/internal/core/domain"
)

// MessageRole is the author of a prompt message
type MessageRole string

const (
	MessageRoleSystem MessageRole = "system"
	MessageRoleUser   MessageRole = "user"
)

// Message is one prompt message
type Message struct {
	Role    MessageRole
	Content string
}

// GenerationRequest is a fully built prompt plus sampling parameters
type GenerationRequest struct {
	Model       string
	Messages    []Message
	Temperature float64
	MaxTokens   int
}

// Completion is a finished generation
type Completion struct {
	Text         string
	Model        string
	FinishReason string
	Usage        domain.TokenUsage
	// UsageReported is false when the provider returned no token counts
	UsageReported bool
}

// StreamDelta is one increment from a provider stream.
// The final delta may carry only Usage.
type StreamDelta struct {
	Text  string
	Usage *domain.TokenUsage
	// Model is the model that served the stream, when the provider reports it
	Model string
}

// CompletionStream is a provider's incremental output.
// Recv returns io.EOF after the last delta.
type CompletionStream interface {
	Recv() (StreamDelta, error)
	Close() error
}

// GenerationProvider is a language-model backend.
// Errors should be *domain.ProviderError so the failure class survives.
type GenerationProvider interface {
	// Name is the provider key used in requests ("openai", "anthropic", ...)
	Name() string

	// DefaultModel is used when neither request nor tenant names a model
	DefaultModel() string

	// Complete blocks until the full completion is available
	Complete(ctx context.Context, req GenerationRequest) (*Completion, error)

	// Stream opens an incremental completion. Cancelling ctx aborts it.
	Stream(ctx context.Context, req GenerationRequest) (CompletionStream, error)

	// Close releases resources held by the provider
	Close() error
}
