// Package service wires the quota domain into application services.
package service

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/GanaRepository/mintoons-sub000/internal/domain/quota"
)

// DefaultStoreTimeout bounds how long a single admission decision may wait
// on the counter store before the service fails open.
const DefaultStoreTimeout = 2 * time.Second

// AdmissionService is the single entry point business handlers call before
// performing a throttled operation. It derives the limiter key, resolves the
// caller's policy, honors the bypass allow-list, runs the composite limiter,
// and fails open when the counter store is unavailable.
//
// All state lives in the injected collaborators; the service itself only
// tracks store health. It is safe for unbounded concurrent callers.
type AdmissionService struct {
	composite *quota.CompositeLimiter
	store     quota.CounterStore
	policies  *quota.PolicySelector
	bypass    quota.BypassRegistry

	storeTimeout time.Duration
	logger       *slog.Logger
	metrics      *Metrics

	// consecutiveStoreFailures counts store failures since the last
	// successful store round trip. Surfaced by the health endpoint so a
	// sustained outage is noticed even though admissions keep succeeding.
	consecutiveStoreFailures atomic.Int64
}

// AdmissionOption is a functional option for configuring the AdmissionService.
type AdmissionOption func(*AdmissionService)

// WithLogger sets the service logger.
func WithLogger(logger *slog.Logger) AdmissionOption {
	return func(s *AdmissionService) {
		s.logger = logger
	}
}

// WithMetrics sets the Prometheus metrics recorded per decision.
func WithMetrics(m *Metrics) AdmissionOption {
	return func(s *AdmissionService) {
		s.metrics = m
	}
}

// WithStoreTimeout bounds each counter store round trip. A store call that
// exceeds the timeout is treated as unavailable and the service fails open.
func WithStoreTimeout(timeout time.Duration) AdmissionOption {
	return func(s *AdmissionService) {
		s.storeTimeout = timeout
	}
}

// NewAdmissionService creates an AdmissionService over the given store,
// policy selector, and bypass registry.
func NewAdmissionService(
	store quota.CounterStore,
	policies *quota.PolicySelector,
	bypass quota.BypassRegistry,
	opts ...AdmissionOption,
) *AdmissionService {
	s := &AdmissionService{
		composite:    quota.NewCompositeLimiter(store),
		store:        store,
		policies:     policies,
		bypass:       bypass,
		storeTimeout: DefaultStoreTimeout,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Evaluate decides whether the described call may proceed. cost is the
// AI-provider cost estimate consumed by cost-unit limits; pass 0 for actions
// without a cost dimension.
//
// Denial is a normal outcome carried in the Decision, never an error. A
// store outage is logged and counted, and the call is admitted: an
// infrastructure failure must not become a platform-wide lockout.
func (s *AdmissionService) Evaluate(ctx context.Context, action string, meta quota.RequestMeta, cost int64) quota.Decision {
	start := time.Now()
	defer func() {
		if s.metrics != nil {
			s.metrics.EvaluateDuration.WithLabelValues(action).Observe(time.Since(start).Seconds())
		}
	}()

	if meta.Route == "" {
		meta.Route = action
	}
	key := quota.DeriveKey(s.policies.Scope(action), action, meta)

	if s.bypass.IsBypassed(key) {
		s.logger.Debug("key bypassed", "action", action, "key", key)
		s.recordOutcome(action, OutcomeBypassed)
		return quota.BypassedDecision(time.Now())
	}

	cfgs := s.policies.Resolve(meta.Role, action)
	if len(cfgs) == 0 {
		s.recordOutcome(action, OutcomeAdmitted)
		return quota.Decision{Admitted: true, Remaining: quota.UnlimitedRemaining, ResetAt: time.Now()}
	}

	storeCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	d, err := s.composite.CheckAll(storeCtx, key, cost, cfgs)
	if err != nil {
		s.failOpen(action, key, err)
		return quota.Decision{Admitted: true, Remaining: quota.UnlimitedRemaining, ResetAt: time.Now()}
	}
	s.consecutiveStoreFailures.Store(0)

	if d.Admitted {
		s.recordOutcome(action, OutcomeAdmitted)
		s.logger.Debug("admission check passed",
			"action", action,
			"key", key,
			"remaining", d.Remaining,
		)
	} else {
		s.recordOutcome(action, OutcomeDenied)
		s.logger.Warn("admission denied",
			"action", action,
			"key", key,
			"reason", d.Reason,
			"reset_at", d.ResetAt,
		)
	}
	return d
}

// Usage reports the live counter for a storage key. Intended for support and
// debugging tooling; storage keys embed the limit name, e.g.
// "ai_cost:user:42:ai_generate".
func (s *AdmissionService) Usage(ctx context.Context, key string) (count int64, windowEnd time.Time, err error) {
	storeCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	return s.store.Usage(storeCtx, key)
}

// ConsecutiveStoreFailures returns the number of store failures since the
// last successful round trip. Zero means the store is healthy.
func (s *AdmissionService) ConsecutiveStoreFailures() int64 {
	return s.consecutiveStoreFailures.Load()
}

func (s *AdmissionService) failOpen(action, key string, err error) {
	failures := s.consecutiveStoreFailures.Add(1)
	if s.metrics != nil {
		s.metrics.StoreFailures.Inc()
	}
	s.recordOutcome(action, OutcomeFailOpen)
	s.logger.Error("counter store unavailable, failing open",
		"action", action,
		"key", key,
		"consecutive_failures", failures,
		"error", err,
	)
}

func (s *AdmissionService) recordOutcome(action, outcome string) {
	if s.metrics != nil {
		s.metrics.Decisions.WithLabelValues(action, outcome).Inc()
	}
}
