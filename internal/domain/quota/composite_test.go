package quota

import (
	"context"
	"errors"
	"testing"
	"time"
)

func aiConfigs() []LimiterConfig {
	return []LimiterConfig{
		{Name: "ai_requests", Window: time.Hour, MaxUnits: 5, Unit: UnitRequest},
		{Name: "ai_cost", Window: 24 * time.Hour, MaxUnits: 10, Unit: UnitCost},
	}
}

func TestCompositeLimiter_CostBudgetBindsFirst(t *testing.T) {
	t.Parallel()

	// Request limit of 5 and cost budget of 10 with each call costing 3:
	// the 4th call pushes cumulative cost to 12 and must be denied by the
	// cost limiter even though the request limiter would still admit.
	ctx := context.Background()
	composite := NewCompositeLimiter(newFakeStore())
	key := "user:7:ai_generate"

	for i := 1; i <= 3; i++ {
		d, err := composite.CheckAll(ctx, key, 3, aiConfigs())
		if err != nil {
			t.Fatalf("CheckAll() call %d error: %v", i, err)
		}
		if !d.Admitted {
			t.Fatalf("call %d: should be admitted", i)
		}
	}

	d, err := composite.CheckAll(ctx, key, 3, aiConfigs())
	if err != nil {
		t.Fatalf("CheckAll() error: %v", err)
	}
	if d.Admitted {
		t.Error("4th call should be denied by the cost budget")
	}
	if d.Reason != "ai_cost" {
		t.Errorf("Reason = %q, want %q", d.Reason, "ai_cost")
	}
	if d.Remaining != 0 {
		t.Errorf("denied Remaining = %d, want 0", d.Remaining)
	}
}

func TestCompositeLimiter_NoShortCircuit(t *testing.T) {
	t.Parallel()

	// Even after the first constituent denies, later constituents must keep
	// counting so denied attempts cannot probe the outer limits for free.
	ctx := context.Background()
	store := newFakeStore()
	composite := NewCompositeLimiter(store)
	cfgs := []LimiterConfig{
		{Name: "outer", Window: time.Minute, MaxUnits: 1, Unit: UnitRequest},
		{Name: "inner", Window: time.Minute, MaxUnits: 100, Unit: UnitRequest},
	}

	for i := 0; i < 4; i++ {
		if _, err := composite.CheckAll(ctx, "k", 1, cfgs); err != nil {
			t.Fatalf("CheckAll() error: %v", err)
		}
	}

	count, _, err := store.Usage(ctx, "inner:k")
	if err != nil {
		t.Fatalf("Usage() error: %v", err)
	}
	if count != 4 {
		t.Errorf("inner counter = %d, want 4 (denied attempts must still increment every constituent)", count)
	}
}

func TestCompositeLimiter_ReasonNamesFirstDenier(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	composite := NewCompositeLimiter(newFakeStore())
	cfgs := []LimiterConfig{
		{Name: "first", Window: time.Minute, MaxUnits: 2, Unit: UnitRequest},
		{Name: "second", Window: time.Minute, MaxUnits: 1, Unit: UnitRequest},
	}

	// Call 2: "second" (max 1) denies while "first" (max 2) still admits.
	if _, err := composite.CheckAll(ctx, "k", 1, cfgs); err != nil {
		t.Fatalf("CheckAll() error: %v", err)
	}
	d, err := composite.CheckAll(ctx, "k", 1, cfgs)
	if err != nil {
		t.Fatalf("CheckAll() error: %v", err)
	}
	if d.Admitted {
		t.Fatal("call 2 should be denied")
	}
	if d.Reason != "second" {
		t.Errorf("Reason = %q, want %q", d.Reason, "second")
	}
}

func TestCompositeLimiter_RemainingReflectsMostRestrictive(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	composite := NewCompositeLimiter(newFakeStore())
	cfgs := []LimiterConfig{
		{Name: "wide", Window: time.Minute, MaxUnits: 100, Unit: UnitRequest},
		{Name: "narrow", Window: time.Minute, MaxUnits: 3, Unit: UnitRequest},
	}

	d, err := composite.CheckAll(ctx, "k", 1, cfgs)
	if err != nil {
		t.Fatalf("CheckAll() error: %v", err)
	}
	if !d.Admitted {
		t.Fatal("first call should be admitted")
	}
	if d.Remaining != 2 {
		t.Errorf("Remaining = %d, want 2 (the soonest-exhausted constituent)", d.Remaining)
	}
}

func TestCompositeLimiter_EmptyConfigsAdmitUnlimited(t *testing.T) {
	t.Parallel()

	d, err := NewCompositeLimiter(newFakeStore()).CheckAll(context.Background(), "k", 1, nil)
	if err != nil {
		t.Fatalf("CheckAll() error: %v", err)
	}
	if !d.Admitted {
		t.Error("no configs should admit")
	}
	if d.Remaining != UnlimitedRemaining {
		t.Errorf("Remaining = %d, want UnlimitedRemaining", d.Remaining)
	}
}

func TestCompositeLimiter_StoreUnavailable(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.setFailing(true)
	composite := NewCompositeLimiter(store)

	_, err := composite.CheckAll(context.Background(), "k", 1, aiConfigs())
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Errorf("error = %v, want ErrStoreUnavailable", err)
	}
}
