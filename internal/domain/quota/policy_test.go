package quota

import (
	"errors"
	"log/slog"
	"testing"
	"time"
)

func testPolicyTable() map[string]map[string][]LimiterConfig {
	return map[string]map[string][]LimiterConfig{
		"user": {
			"ai_generate": {
				{Name: "user_ai_requests", Window: time.Hour, MaxUnits: 10, Unit: UnitRequest},
				{Name: "user_ai_cost", Window: 24 * time.Hour, MaxUnits: 100, Unit: UnitCost},
			},
			"login": {
				{Name: "login_attempts", Window: 15 * time.Minute, MaxUnits: 5, Unit: UnitRequest},
			},
		},
		"mentor": {
			"ai_generate": {
				{Name: "mentor_ai_requests", Window: time.Hour, MaxUnits: 50, Unit: UnitRequest},
			},
		},
	}
}

func testScopes() map[string]KeyScope {
	return map[string]KeyScope{
		"login":       ScopeAnonymous,
		"ai_generate": ScopeUser,
		"api":         ScopeRole,
	}
}

func TestPolicySelector_Resolve(t *testing.T) {
	t.Parallel()

	s, err := NewPolicySelector(testPolicyTable(), testScopes(), slog.Default())
	if err != nil {
		t.Fatalf("NewPolicySelector() error: %v", err)
	}

	cfgs := s.Resolve("mentor", "ai_generate")
	if len(cfgs) != 1 || cfgs[0].Name != "mentor_ai_requests" {
		t.Errorf("Resolve(mentor, ai_generate) = %v, want mentor_ai_requests", cfgs)
	}

	cfgs = s.Resolve("user", "ai_generate")
	if len(cfgs) != 2 {
		t.Errorf("Resolve(user, ai_generate) returned %d configs, want 2", len(cfgs))
	}
}

func TestPolicySelector_UnknownRoleFallsBackToMostRestrictive(t *testing.T) {
	t.Parallel()

	s, err := NewPolicySelector(testPolicyTable(), testScopes(), slog.Default())
	if err != nil {
		t.Fatalf("NewPolicySelector() error: %v", err)
	}

	// An unrecognized role must resolve to the "user" policy, never to
	// no limit at all.
	cfgs := s.Resolve("superuser", "ai_generate")
	if len(cfgs) != 2 || cfgs[0].Name != "user_ai_requests" {
		t.Errorf("Resolve(superuser, ai_generate) = %v, want the user policy", cfgs)
	}
}

func TestPolicySelector_UnconfiguredActionResolvesEmpty(t *testing.T) {
	t.Parallel()

	s, err := NewPolicySelector(testPolicyTable(), testScopes(), slog.Default())
	if err != nil {
		t.Fatalf("NewPolicySelector() error: %v", err)
	}
	if cfgs := s.Resolve("user", "read_story"); len(cfgs) != 0 {
		t.Errorf("Resolve(user, read_story) = %v, want empty", cfgs)
	}
}

func TestPolicySelector_RequiresFallbackRole(t *testing.T) {
	t.Parallel()

	table := map[string]map[string][]LimiterConfig{
		"admin": {},
	}
	if _, err := NewPolicySelector(table, nil, slog.Default()); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("NewPolicySelector() = %v, want ErrInvalidConfig when %q role is missing", err, FallbackRole)
	}
}

func TestPolicySelector_RejectsInvalidConfig(t *testing.T) {
	t.Parallel()

	table := map[string]map[string][]LimiterConfig{
		"user": {
			"login": {{Name: "bad", Window: 0, MaxUnits: 5, Unit: UnitRequest}},
		},
	}
	if _, err := NewPolicySelector(table, nil, slog.Default()); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("NewPolicySelector() = %v, want ErrInvalidConfig", err)
	}
}

func TestPolicySelector_RejectsUnknownScope(t *testing.T) {
	t.Parallel()

	scopes := map[string]KeyScope{"login": "tenant"}
	if _, err := NewPolicySelector(testPolicyTable(), scopes, slog.Default()); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("NewPolicySelector() = %v, want ErrInvalidConfig", err)
	}
}

func TestPolicySelector_ScopeDefaultsToAnonymous(t *testing.T) {
	t.Parallel()

	s, err := NewPolicySelector(testPolicyTable(), testScopes(), slog.Default())
	if err != nil {
		t.Fatalf("NewPolicySelector() error: %v", err)
	}
	if got := s.Scope("ai_generate"); got != ScopeUser {
		t.Errorf("Scope(ai_generate) = %q, want %q", got, ScopeUser)
	}
	if got := s.Scope("never_configured"); got != ScopeAnonymous {
		t.Errorf("Scope(never_configured) = %q, want %q", got, ScopeAnonymous)
	}
}

func TestPolicySelector_Actions(t *testing.T) {
	t.Parallel()

	s, err := NewPolicySelector(testPolicyTable(), testScopes(), slog.Default())
	if err != nil {
		t.Fatalf("NewPolicySelector() error: %v", err)
	}
	got := s.Actions()
	want := []string{"ai_generate", "login"}
	if len(got) != len(want) {
		t.Fatalf("Actions() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Actions()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
