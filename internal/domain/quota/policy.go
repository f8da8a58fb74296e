package quota

import (
	"fmt"
	"log/slog"
	"sort"
)

// FallbackRole is the role whose policy applies when a caller's role is not
// recognized. An unknown role must never imply unlimited access, so the
// fallback is the most restrictive known policy.
const FallbackRole = "user"

// PolicySelector maps (role, action) to the limiter configs to apply.
// It is immutable after construction; request handling only reads it.
type PolicySelector struct {
	roles  map[string]map[string][]LimiterConfig
	scopes map[string]KeyScope
	logger *slog.Logger
}

// NewPolicySelector builds a selector from a static policy table and a
// per-action key scope table. Every config is validated; an invalid config
// is a configuration bug and fails construction.
//
// The policy table must define the FallbackRole, otherwise there is nothing
// to fall back to for unknown roles.
func NewPolicySelector(
	roles map[string]map[string][]LimiterConfig,
	scopes map[string]KeyScope,
	logger *slog.Logger,
) (*PolicySelector, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if _, ok := roles[FallbackRole]; !ok {
		return nil, fmt.Errorf("%w: policy table must define role %q", ErrInvalidConfig, FallbackRole)
	}
	for role, actions := range roles {
		for action, cfgs := range actions {
			for _, cfg := range cfgs {
				if err := cfg.Validate(); err != nil {
					return nil, fmt.Errorf("policy %s/%s: %w", role, action, err)
				}
			}
		}
	}
	for action, scope := range scopes {
		switch scope {
		case ScopeAnonymous, ScopeUser, ScopeRole:
		default:
			return nil, fmt.Errorf("%w: action %s: unknown key scope %q", ErrInvalidConfig, action, scope)
		}
	}
	return &PolicySelector{roles: roles, scopes: scopes, logger: logger}, nil
}

// Resolve returns the limiter configs for the given role and action. An
// unknown role resolves against the fallback role and logs a warning. An
// action with no configs for the role is unthrottled; the caller decides
// what an empty result means.
func (s *PolicySelector) Resolve(role, action string) []LimiterConfig {
	actions, ok := s.roles[role]
	if !ok {
		if role != "" {
			s.logger.Warn("unknown role, applying fallback policy",
				"role", role,
				"fallback", FallbackRole,
			)
		}
		actions = s.roles[FallbackRole]
	}
	return actions[action]
}

// Scope returns the key scope configured for an action. Actions without an
// explicit scope default to anonymous, the most conservative strategy.
func (s *PolicySelector) Scope(action string) KeyScope {
	if scope, ok := s.scopes[action]; ok {
		return scope
	}
	return ScopeAnonymous
}

// Actions returns the sorted set of actions that have a policy for any role.
func (s *PolicySelector) Actions() []string {
	seen := make(map[string]struct{})
	for _, actions := range s.roles {
		for action := range actions {
			seen[action] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for action := range seen {
		out = append(out, action)
	}
	sort.Strings(out)
	return out
}
