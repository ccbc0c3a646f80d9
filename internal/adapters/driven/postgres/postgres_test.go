package postgres

import (
	"reflect"
	"strings"
	"testing"

	"github.com/custodia-labs/sercha-rag/internal/core/domain"
)

func TestAdvisoryKey(t *testing.T) {
	if advisoryKey("schema") != advisoryKey("schema") {
		t.Error("expected stable key for the same name")
	}
	if advisoryKey("schema") == advisoryKey("other") {
		t.Error("expected distinct keys for distinct names")
	}
}

func TestRoles(t *testing.T) {
	roles := rolesFromStrings([]string{"admin", "bogus", "viewer"})
	want := []domain.Role{domain.RoleAdmin, domain.RoleViewer}
	if !reflect.DeepEqual(roles, want) {
		t.Errorf("expected %v, got %v", want, roles)
	}
	if got := rolesToStrings(want); !reflect.DeepEqual(got, []string{"admin", "viewer"}) {
		t.Errorf("unexpected strings %v", got)
	}
}

func TestNonNil(t *testing.T) {
	if got := nonNil[string](nil); got == nil || len(got) != 0 {
		t.Errorf("expected empty non-nil slice, got %#v", got)
	}
	in := []int{1}
	if got := nonNil(in); &got[0] != &in[0] {
		t.Error("expected the same backing slice")
	}
}

func TestSchema(t *testing.T) {
	for _, table := range []string{"tenants", "api_keys", "queries", "query_feedback", "quota_counters"} {
		if !strings.Contains(schema, "CREATE TABLE IF NOT EXISTS "+table+" (") {
			t.Errorf("schema is missing table %s", table)
		}
	}
	if strings.Contains(schema, "UPDATE queries") {
		t.Error("ledger rows must stay insert-only")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig("postgres://localhost/sercha")
	if cfg.URL != "postgres://localhost/sercha" {
		t.Errorf("unexpected url %q", cfg.URL)
	}
	if cfg.MaxOpenConns != 25 || cfg.MaxIdleConns != 5 {
		t.Errorf("unexpected pool sizes %+v", cfg)
	}
}
