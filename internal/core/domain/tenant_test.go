package domain

import (
	"errors"
	"testing"
)

func TestRoleValid(t *testing.T) {
	for _, r := range []Role{RoleAdmin, RoleMember, RoleViewer} {
		if !r.Valid() {
			t.Errorf("%s should be valid", r)
		}
	}
	if Role("owner").Valid() {
		t.Error("unknown role should be invalid")
	}
}

func TestNewTenantContext(t *testing.T) {
	tenant := &Tenant{
		ID:              "t1",
		Namespace:       "ns1",
		Active:          true,
		DefaultProvider: "anthropic",
		DefaultModel:    "claude-3-haiku-20240307",
		SystemPrompt:    "Be brief.",
		Quota:           QuotaConfig{MaxQueriesPerDay: 10},
	}
	roles := []Role{RoleAdmin}

	tc, err := NewTenantContext(tenant, "alice", roles)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !tc.Valid() || tc.TenantID() != "t1" || tc.Namespace() != "ns1" || tc.UserID() != "alice" {
		t.Errorf("unexpected context: %v", tc)
	}
	if !tc.IsAdmin() || tc.HasRole(RoleViewer) {
		t.Error("role checks are wrong")
	}
	if tc.DefaultProvider() != "anthropic" || tc.SystemPrompt() != "Be brief." || tc.Quota().MaxQueriesPerDay != 10 {
		t.Error("tenant defaults not carried")
	}
	if tc.String() != "tenant:t1" {
		t.Errorf("String() = %q", tc.String())
	}

	// The context owns its role slice
	roles[0] = RoleViewer
	tc.Roles()[0] = RoleViewer
	if !tc.IsAdmin() {
		t.Error("context roles were mutated from outside")
	}
}

func TestNewTenantContext_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		tenant *Tenant
		want   error
	}{
		{"nil tenant", nil, ErrUnauthorized},
		{"missing id", &Tenant{Namespace: "ns", Active: true}, ErrUnauthorized},
		{"missing namespace", &Tenant{ID: "t", Active: true}, ErrUnauthorized},
		{"inactive", &Tenant{ID: "t", Namespace: "ns"}, ErrForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewTenantContext(tt.tenant, "u", nil)
			if !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestZeroTenantContextIsInvalid(t *testing.T) {
	var tc TenantContext
	if tc.Valid() {
		t.Error("zero value must not be a valid scope")
	}
}
