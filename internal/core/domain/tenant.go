package domain

import (
	"slices"
	"time"
)

// Role defines a principal's permission level within its tenant
type Role string

const (
	RoleAdmin  Role = "admin"  // Tenant administration, cache invalidation, all history
	RoleMember Role = "member" // Query and own history
	RoleViewer Role = "viewer" // Query only
)

// Valid reports whether r is a known role
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleMember, RoleViewer:
		return true
	}
	return false
}

// QuotaConfig holds a tenant's usage limits. Zero means unlimited.
type QuotaConfig struct {
	MaxDocuments     int   `json:"max_documents"`
	MaxQueriesPerDay int   `json:"max_queries_per_day"`
	MaxTokensPerDay  int64 `json:"max_tokens_per_day"`
}

// DefaultQuotaConfig returns the provisioning defaults
func DefaultQuotaConfig() QuotaConfig {
	return QuotaConfig{
		MaxDocuments:     1000,
		MaxQueriesPerDay: 10000,
	}
}

// Tenant is an isolated organizational customer.
// Read-only to the query engine.
type Tenant struct {
	ID              string      `json:"id"`
	Name            string      `json:"name"`
	Namespace       string      `json:"namespace"`
	Active          bool        `json:"active"`
	Quota           QuotaConfig `json:"quota"`
	DefaultProvider string      `json:"default_provider"`
	DefaultModel    string      `json:"default_model"`
	SystemPrompt    string      `json:"system_prompt,omitempty"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
}

// Principal is an authenticated caller before tenant resolution
type Principal struct {
	TenantID string
	UserID   string
	Roles    []Role
	// KeyID is set when the principal authenticated with an API key
	KeyID string
}

// TenantContext is the resolved, immutable tenant scope of one request.
// The zero value is not a valid scope; only NewTenantContext builds one.
type TenantContext struct {
	tenantID     string
	namespace    string
	userID       string
	roles        []Role
	provider     string
	model        string
	systemPrompt string
	quota        QuotaConfig
}

// NewTenantContext scopes a principal to an active tenant.
func NewTenantContext(t *Tenant, userID string, roles []Role) (TenantContext, error) {
	if t == nil || t.ID == "" || t.Namespace == "" {
		return TenantContext{}, ErrUnauthorized
	}
	if !t.Active {
		return TenantContext{}, ErrForbidden
	}
	return TenantContext{
		tenantID:     t.ID,
		namespace:    t.Namespace,
		userID:       userID,
		roles:        slices.Clone(roles),
		provider:     t.DefaultProvider,
		model:        t.DefaultModel,
		systemPrompt: t.SystemPrompt,
		quota:        t.Quota,
	}, nil
}

func (tc TenantContext) TenantID() string { return tc.tenantID }
func (tc TenantContext) Namespace() string { return tc.namespace }
func (tc TenantContext) UserID() string { return tc.userID }
func (tc TenantContext) Roles() []Role { return slices.Clone(tc.roles) }
func (tc TenantContext) DefaultProvider() string { return tc.provider }
func (tc TenantContext) DefaultModel() string { return tc.model }
func (tc TenantContext) SystemPrompt() string { return tc.systemPrompt }
func (tc TenantContext) Quota() QuotaConfig { return tc.quota }
func (tc TenantContext) Valid() bool { return tc.tenantID != "" && tc.namespace != "" }
func (tc TenantContext) HasRole(role Role) bool { return slices.Contains(tc.roles, role) }
func (tc TenantContext) IsAdmin() bool { return tc.HasRole(RoleAdmin) }
func (tc TenantContext) String() string { return "tenant:" + tc.tenantID }
