package domain

import "time"

// QueryStatus is the terminal state of a query
type QueryStatus string

const (
	QueryStatusCompleted QueryStatus = "completed"
	QueryStatusFailed    QueryStatus = "failed"
	QueryStatusPartial   QueryStatus = "partial"
)

// ContextFragment is a chunk that made it into the prompt
type ContextFragment struct {
	ChunkID    string  `json:"chunk_id"`
	DocumentID string  `json:"document_id"`
	ChunkIndex int     `json:"chunk_index"`
	Score      float64 `json:"score"`
	Source     string  `json:"source"`
	Page       int     `json:"page,omitempty"`
	Text       string  `json:"-"`
	Tokens     int     `json:"tokens"`
}

// AssembledContext is the bounded prompt context
type AssembledContext struct {
	Text      string            `json:"text"`
	Fragments []ContextFragment `json:"fragments"`
	Tokens    int               `json:"tokens"`
}

// TokenUsage counts tokens spent on one generation
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// Add returns the element-wise sum
func (u TokenUsage) Add(o TokenUsage) TokenUsage {
	return TokenUsage{
		InputTokens:  u.InputTokens + o.InputTokens,
		OutputTokens: u.OutputTokens + o.OutputTokens,
		TotalTokens:  u.TotalTokens + o.TotalTokens,
	}
}

// QueryResult is the outcome of a query, 1:1 with Query.
type QueryResult struct {
	ID            string            `json:"id"`
	Answer        string            `json:"answer"`
	Fragments     []ContextFragment `json:"fragments"`
	Usage         TokenUsage        `json:"usage"`
	EstimatedCost float64           `json:"estimated_cost"`
	Latency       time.Duration     `json:"latency_ns"`
	Status        QueryStatus       `json:"status"`
	Provider      string            `json:"provider"`
	Model         string            `json:"model"`
	CacheHit      bool              `json:"cache_hit"`
	ErrorKind     ErrorKind         `json:"error_kind,omitempty"`
	ErrorMessage  string            `json:"error_message,omitempty"`
	Warnings      []string          `json:"warnings,omitempty"`
	CompletedAt   time.Time         `json:"completed_at"`
}

// Clone returns a deep copy
func (r *QueryResult) Clone() *QueryResult {
	if r == nil {
		return nil
	}
	c := *r
	c.Fragments = append([]ContextFragment(nil), r.Fragments...)
	c.Warnings = append([]string(nil), r.Warnings...)
	return &c
}

// LedgerEntry is one append-only ledger record
type LedgerEntry struct {
	Query    *Query       `json:"query"`
	Result   *QueryResult `json:"result"`
	Feedback *Feedback    `json:"feedback,omitempty"`
}

// Feedback is a user's rating of an answer
type Feedback struct {
	QueryID   string    `json:"query_id"`
	TenantID  string    `json:"tenant_id"`
	UserID    string    `json:"user_id"`
	Rating    int       `json:"rating"`
	Comment   string    `json:"comment,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Validate checks the rating range
func (f Feedback) Validate() error {
	if f.Rating < 1 || f.Rating > 5 {
		return ErrInvalidInput
	}
	if len(f.Comment) > 2000 {
		return ErrInvalidInput
	}
	return nil
}

// HistoryFilter scopes a ledger history read
type HistoryFilter struct {
	UserID    string
	SessionID string
	Limit     int
	Offset    int
}

// AnalyticsSummary aggregates a tenant's ledger over a period
type AnalyticsSummary struct {
	PeriodDays         int            `json:"period_days"`
	TotalQueries       int            `json:"total_queries"`
	QueriesToday       int            `json:"queries_today"`
	CompletedQueries   int            `json:"completed_queries"`
	FailedQueries      int            `json:"failed_queries"`
	PartialQueries     int            `json:"partial_queries"`
	CacheHits          int            `json:"cache_hits"`
	AvgLatencyMs       float64        `json:"avg_latency_ms"`
	AvgTotalTokens     float64        `json:"avg_total_tokens"`
	TotalCost          float64        `json:"total_cost"`
	RatingDistribution map[int]int    `json:"rating_distribution"`
	ProviderBreakdown  map[string]int `json:"provider_breakdown"`
}

// ModelPrice is the USD cost per 1K tokens
type ModelPrice struct {
	InputPer1K  float64 `json:"input_per_1k" koanf:"input_per_1k"`
	OutputPer1K float64 `json:"output_per_1k" koanf:"output_per_1k"`
}

// Pricing maps model names to prices
type Pricing map[string]ModelPrice

// DefaultPricing returns list prices for commonly used models
func DefaultPricing() Pricing {
	return Pricing{
		"gpt-3.5-turbo":            {InputPer1K: 0.0005, OutputPer1K: 0.0015},
		"gpt-4o-mini":              {InputPer1K: 0.00015, OutputPer1K: 0.0006},
		"gpt-4o":                   {InputPer1K: 0.0025, OutputPer1K: 0.01},
		"claude-3-sonnet-20240229": {InputPer1K: 0.003, OutputPer1K: 0.015},
		"claude-3-haiku-20240307":  {InputPer1K: 0.00025, OutputPer1K: 0.00125},
	}
}

// Cost estimates the USD cost of usage on model. Unknown models cost 0.
func (p Pricing) Cost(model string, usage TokenUsage) float64 {
	price, ok := p[model]
	if !ok {
		return 0
	}
	return float64(usage.InputTokens)/1000*price.InputPer1K +
		float64(usage.OutputTokens)/1000*price.OutputPer1K
}

// DefaultSystemPrompt is used when neither the caller nor the tenant sets one
const DefaultSystemPrompt = "You are a helpful AI assistant that answers questions based on the provided context documents. " +
	"Use the information from the context documents to answer the user's question accurately and comprehensively. " +
	"If the answer cannot be found in the context documents, clearly state that you don't have enough information to answer the question. " +
	"Always cite which document(s) you're referencing when possible."

// EstimateTokens approximates a token count from text length
// (about four characters per token for English text).
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	return (len(text) + 3) / 4
}
