package quota

import "context"

// CompositeLimiter stacks several fixed-window limits and admits a call only
// when every constituent has headroom. The primary use is AI usage limiting:
// a request-count limit AND a cost-budget limit, both keyed per user.
type CompositeLimiter struct {
	limiter *FixedWindowLimiter
}

// NewCompositeLimiter creates a composite limiter over the given store.
func NewCompositeLimiter(store CounterStore) *CompositeLimiter {
	return &CompositeLimiter{limiter: NewFixedWindowLimiter(store)}
}

// CheckAll evaluates every config against key, in order, and combines the
// results into one decision.
//
// Every constituent counter is incremented even after an earlier constituent
// has denied. Short-circuiting would let a caller probe the outer limits for
// free by stopping before the binding one engages; repeated denied attempts
// must keep consuming quota everywhere.
//
// Request-unit constituents consume one unit per call; cost-unit constituents
// consume the caller's cost estimate. The returned Reason names the first
// constituent that denied, while Remaining and ResetAt reflect the
// soonest-exhausted constituent so callers back off against the tightest
// limit.
func (c *CompositeLimiter) CheckAll(ctx context.Context, key string, cost int64, cfgs []LimiterConfig) (Decision, error) {
	if len(cfgs) == 0 {
		return Decision{Admitted: true, Remaining: UnlimitedRemaining}, nil
	}

	var (
		combined Decision
		denied   *Decision
		firstErr error
	)
	combined.Admitted = true
	combined.Remaining = UnlimitedRemaining

	for _, cfg := range cfgs {
		units := int64(1)
		if cfg.Unit == UnitCost {
			units = cost
		}

		d, err := c.limiter.CheckN(ctx, key, units, cfg)
		if err != nil {
			// Keep incrementing the remaining constituents so side effects
			// stay uniform, then report the first failure.
			if firstErr == nil {
				firstErr = err
			}
			continue
		}

		if !d.Admitted && denied == nil {
			denied = &d
		}
		if d.Remaining < combined.Remaining {
			combined.Remaining = d.Remaining
			combined.Limit = d.Limit
			combined.ResetAt = d.ResetAt
			combined.TotalHits = d.TotalHits
		}
	}

	if firstErr != nil {
		return Decision{}, firstErr
	}

	if denied != nil {
		combined.Admitted = false
		combined.Reason = denied.Reason
		combined.Message = denied.Message
		combined.Limit = denied.Limit
		combined.ResetAt = denied.ResetAt
		combined.TotalHits = denied.TotalHits
		combined.Remaining = 0
	}
	return combined, nil
}
