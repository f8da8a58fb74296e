package quota

import (
	"context"
	"fmt"
)

// FixedWindowLimiter enforces a single fixed-window limit over a CounterStore.
//
// The fixed window permits up to 2x the configured rate across a window
// boundary (a full window's worth of calls just before the boundary plus
// another just after). That burstiness is an accepted trade-off for a
// single-round-trip check with bounded storage per key.
type FixedWindowLimiter struct {
	store CounterStore
}

// NewFixedWindowLimiter creates a limiter over the given store.
func NewFixedWindowLimiter(store CounterStore) *FixedWindowLimiter {
	return &FixedWindowLimiter{store: store}
}

// Check records one request-unit against key and returns the decision.
func (l *FixedWindowLimiter) Check(ctx context.Context, key string, cfg LimiterConfig) (Decision, error) {
	return l.CheckN(ctx, key, 1, cfg)
}

// CheckN records n units against key and returns the decision.
//
// The store increment happens unconditionally, so a denied call still
// consumes quota. A cancelled caller whose increment already committed is
// likewise counted: the attempt happened.
func (l *FixedWindowLimiter) CheckN(ctx context.Context, key string, n int64, cfg LimiterConfig) (Decision, error) {
	if n < 1 {
		n = 1
	}

	count, windowEnd, err := l.store.IncrementOrReset(ctx, cfg.storageKey(key), cfg.Window, n)
	if err != nil {
		return Decision{}, fmt.Errorf("check %s: %w", cfg.Name, err)
	}

	d := Decision{
		Admitted:  count <= cfg.MaxUnits,
		Limit:     cfg.MaxUnits,
		Remaining: cfg.MaxUnits - count,
		ResetAt:   windowEnd,
		TotalHits: count,
	}
	if d.Remaining < 0 {
		d.Remaining = 0
	}
	if !d.Admitted {
		d.Reason = cfg.Name
		d.Message = cfg.DenyMessage
	}
	return d, nil
}
