package ai

import "time"

// Backend kinds
const (
	KindOpenAI    = "openai"
	KindAnthropic = "anthropic"
	KindOllama    = "ollama"
)

// ProviderConfig configures one generation provider
type ProviderConfig struct {
	// Name is the key callers use to pick the provider; defaults to Kind
	Name    string `koanf:"name"`
	Kind    string `koanf:"kind"`
	APIKey  string `koanf:"api_key"`
	BaseURL string `koanf:"base_url"`
	Model   string `koanf:"model"`

	// RequestsPerSecond throttles outbound calls; 0 disables
	RequestsPerSecond float64 `koanf:"requests_per_second"`
	Burst             int     `koanf:"burst"`
}

// EmbeddingConfig configures the query embedding service
type EmbeddingConfig struct {
	Kind       string `koanf:"kind"`
	APIKey     string `koanf:"api_key"`
	BaseURL    string `koanf:"base_url"`
	Model      string `koanf:"model"`
	Dimensions int    `koanf:"dimensions"`

	RequestsPerSecond float64       `koanf:"requests_per_second"`
	Burst             int           `koanf:"burst"`
	Timeout           time.Duration `koanf:"timeout"`
}

// Default models per backend
var defaultModels = map[string]string{
	KindOpenAI:    "gpt-3.5-turbo",
	KindAnthropic: "claude-3-haiku-20240307",
	KindOllama:    "llama3",
}

// Model dimensions for known embedding models
var embeddingDimensions = map[string]int{
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
	"text-embedding-ada-002": 1536,
	"nomic-embed-text":       768,
	"mxbai-embed-large":      1024,
}

const defaultRequestTimeout = 60 * time.Second
