// Package quota provides quota enforcement domain types and logic.
package quota

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrStoreUnavailable is returned when the counter store is unreachable or
// a store call exceeded its deadline. Callers are expected to fail open.
var ErrStoreUnavailable = errors.New("counter store unavailable")

// ErrInvalidConfig is returned when a limiter config has a non-positive
// window or max. Configuration is validated at startup, so hitting this at
// request time indicates a wiring bug.
var ErrInvalidConfig = errors.New("invalid limiter config")

// UnlimitedRemaining is the Remaining value reported for decisions that are
// not subject to any limit (bypassed keys, actions with no configured policy).
const UnlimitedRemaining = int64(math.MaxInt64)

// UnitKind identifies what a limiter's counter measures.
type UnitKind string

const (
	// UnitRequest counts one unit per call.
	UnitRequest UnitKind = "request"

	// UnitCost counts the caller-supplied cost estimate per call.
	// Used to cap cumulative spend on AI generation and assessment.
	UnitCost UnitKind = "cost"
)

// LimiterConfig defines one fixed-window limit.
type LimiterConfig struct {
	// Name identifies the limit. It is embedded in the storage key so two
	// configs sharing a caller key never share a counter, and it is reported
	// as the Decision reason when this limit denies.
	Name string

	// Window is the fixed window length.
	Window time.Duration

	// MaxUnits is the number of units admitted per window.
	MaxUnits int64

	// Unit selects whether the counter tracks requests or cost units.
	Unit UnitKind

	// DenyMessage optionally overrides the human-readable denial message.
	DenyMessage string
}

// Validate checks the config for startup-time errors.
func (c LimiterConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("%w: name must not be empty", ErrInvalidConfig)
	}
	if c.Window <= 0 {
		return fmt.Errorf("%w: %s: window must be positive, got %v", ErrInvalidConfig, c.Name, c.Window)
	}
	if c.MaxUnits <= 0 {
		return fmt.Errorf("%w: %s: max_units must be positive, got %d", ErrInvalidConfig, c.Name, c.MaxUnits)
	}
	switch c.Unit {
	case UnitRequest, UnitCost:
	default:
		return fmt.Errorf("%w: %s: unknown unit %q", ErrInvalidConfig, c.Name, c.Unit)
	}
	return nil
}

// storageKey returns the store key for a caller key under this config.
// The config name prefix keeps configs that share a caller key from
// entangling their counters.
func (c LimiterConfig) storageKey(key string) string {
	return c.Name + ":" + key
}

// Decision is the outcome of a quota check. Denied is a normal outcome
// carried as data, never as an error.
type Decision struct {
	// Admitted reports whether the call may proceed.
	Admitted bool

	// Limit is the per-window ceiling of the binding limit. Zero when the
	// decision is not subject to any limit.
	Limit int64

	// Remaining is the quota left in the current window after this call.
	Remaining int64

	// ResetAt is when the current window ends and the counter resets.
	ResetAt time.Time

	// TotalHits is the counter value after this call, including denied
	// attempts. Denied calls still consume quota.
	TotalHits int64

	// Reason names the limit that denied the call. Empty when admitted.
	Reason string

	// Message is a human-readable denial message, if configured.
	Message string
}

// RetryAfter returns the number of seconds a denied caller should wait
// before retrying, rounded up and never negative.
func (d Decision) RetryAfter(now time.Time) int64 {
	if !d.ResetAt.After(now) {
		return 0
	}
	secs := int64(math.Ceil(d.ResetAt.Sub(now).Seconds()))
	if secs < 1 {
		secs = 1
	}
	return secs
}

// CounterStore is the outbound port for persisted window counters.
//
// Implementations must make IncrementOrReset a single atomic operation:
// two concurrent calls for the same key must never both observe the
// pre-increment count. A read-then-write sequence is not acceptable.
type CounterStore interface {
	// IncrementOrReset adds delta to the counter for key in its current
	// window and returns the updated count and window end. On first use of
	// a key, or when the prior window has expired, the counter starts a
	// fresh window at delta.
	IncrementOrReset(ctx context.Context, key string, window time.Duration, delta int64) (count int64, windowEnd time.Time, err error)

	// Usage returns the current counter for key without incrementing it.
	// A key with no live window reports a zero count.
	Usage(ctx context.Context, key string) (count int64, windowEnd time.Time, err error)

	// Close releases resources held by the store.
	Close() error
}
