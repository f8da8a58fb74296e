package quota

import "time"

// BypassRegistry is an explicit allow-list of keys exempt from enforcement,
// used for operational overrides and testing. It is owned by administrative
// tooling; the request-handling path only ever reads it.
//
// The registry is injected into the admission service at construction, never
// reached through package-level state.
type BypassRegistry interface {
	// IsBypassed reports whether key is exempt from enforcement.
	IsBypassed(key string) bool

	// Add registers key as exempt.
	Add(key string) error

	// Remove revokes an exemption. Removing an absent key is a no-op.
	Remove(key string) error

	// Clear drops every exemption.
	Clear() error

	// List returns the current exemptions in lexical order.
	List() []string
}

// BypassedDecision is the decision reported for a bypassed key. Bypass skips
// the limiters but still yields a complete admitted decision, so downstream
// code sees one uniform response shape.
func BypassedDecision(now time.Time) Decision {
	return Decision{
		Admitted:  true,
		Remaining: UnlimitedRemaining,
		ResetAt:   now,
	}
}
