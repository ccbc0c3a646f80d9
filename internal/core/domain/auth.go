package domain

import (
	"strings"
	"time"
)

// TokenClaims represents the principal token payload
type TokenClaims struct {
	TenantID  string `json:"tenant_id"`
	UserID    string `json:"user_id"`
	Roles     []Role `json:"roles"`
	IssuedAt  int64  `json:"iat"`
	ExpiresAt int64  `json:"exp"`
}

// Principal converts verified claims into a principal
func (c *TokenClaims) Principal() Principal {
	return Principal{TenantID: c.TenantID, UserID: c.UserID, Roles: c.Roles}
}

// APIKey is a tenant-issued machine credential.
// The presented form is "<id>.<secret>"; only the secret hash is stored.
type APIKey struct {
	ID         string     `json:"id"`
	TenantID   string     `json:"tenant_id"`
	UserID     string     `json:"user_id"`
	Name       string     `json:"name"`
	SecretHash string     `json:"-"`
	Roles      []Role     `json:"roles"`
	CreatedAt  time.Time  `json:"created_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	RevokedAt  *time.Time `json:"revoked_at,omitempty"`
}

// IsRevoked checks if the key has been revoked
func (k *APIKey) IsRevoked() bool {
	return k.RevokedAt != nil
}

// Principal converts the key into a principal
func (k *APIKey) Principal() Principal {
	return Principal{TenantID: k.TenantID, UserID: k.UserID, Roles: k.Roles, KeyID: k.ID}
}

// SplitAPIKey separates a presented key into its ID and secret
func SplitAPIKey(presented string) (id, secret string, ok bool) {
	id, secret, ok = strings.Cut(strings.TrimSpace(presented), ".")
	if !ok || id == "" || secret == "" {
		return "", "", false
	}
	return id, secret, true
}
