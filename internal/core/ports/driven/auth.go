package driven

import "github.com/custodia-labs/sercha-rag/internal/core/domain"

// AuthAdapter handles credential cryptography.
// Credential issuance and storage live outside the engine.
type AuthAdapter interface {
	// ParseToken verifies a principal token and returns its claims
	ParseToken(token string) (*domain.TokenClaims, error)

	// GenerateToken signs claims; used by operators and tests
	GenerateToken(claims *domain.TokenClaims) (string, error)

	// HashSecret hashes an API key secret for storage
	HashSecret(secret string) (string, error)

	// VerifySecret checks an API key secret against its stored hash
	VerifySecret(secret, hash string) bool
}
