package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"time"
)

// CacheKey identifies a memoized answer.
// Epoch is the tenant's cache generation when the key was built;
// invalidation advances it, so keys from older epochs never match again.
type CacheKey struct {
	TenantID       string
	Epoch          int64
	NormalizedText string
	Fingerprint    string
}

// String renders the key as tenant-prefixed, so a tenant's entries can
// be dropped together.
func (k CacheKey) String() string {
	sum := sha256.Sum256([]byte(k.NormalizedText))
	return k.TenantID + ":" + strconv.FormatInt(k.Epoch, 10) + ":" +
		hex.EncodeToString(sum[:16]) + ":" + k.Fingerprint
}

// NewCacheKey derives the key of a query within the tenant's cache epoch
func NewCacheKey(q *Query, epoch int64) CacheKey {
	return CacheKey{
		TenantID:       q.TenantID,
		Epoch:          epoch,
		NormalizedText: q.NormalizedText,
		Fingerprint:    ParamsFingerprint(q.Params),
	}
}

// ParamsFingerprint hashes every parameter that affects the answer.
func ParamsFingerprint(p ResolvedParams) string {
	f := p.Filters.Normalized()
	payload := struct {
		Provider       string   `json:"p"`
		Model          string   `json:"m"`
		Temperature    string   `json:"t"`
		MaxChunks      int      `json:"k"`
		ScoreThreshold string   `json:"s"`
		MaxTokens      int      `json:"o"`
		ContextTokens  int      `json:"c"`
		SystemPrompt   string   `json:"sp"`
		DocumentIDs    []string `json:"d"`
		Tags           []string `json:"g"`
	}{
		Provider:       p.Provider,
		Model:          p.Model,
		Temperature:    strconv.FormatFloat(p.Temperature, 'f', 4, 64),
		MaxChunks:      p.MaxChunks,
		ScoreThreshold: strconv.FormatFloat(p.ScoreThreshold, 'f', 4, 64),
		MaxTokens:      p.MaxTokens,
		ContextTokens:  p.MaxContextTokens,
		SystemPrompt:   p.SystemPrompt,
		DocumentIDs:    f.DocumentIDs,
		Tags:           f.Tags,
	}
	data, _ := json.Marshal(payload)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:12])
}

// CacheEntry is a stored answer. It references its tenant by id only.
type CacheEntry struct {
	Key       string       `json:"key"`
	TenantID  string       `json:"tenant_id"`
	Result    *QueryResult `json:"result"`
	CreatedAt time.Time    `json:"created_at"`
	ExpiresAt time.Time    `json:"expires_at"`
}

// Expired reports whether the entry is past its TTL at now
func (e *CacheEntry) Expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}
