package quota

import (
	"fmt"
	"net"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// RequestMeta is the request metadata a key strategy derives its key from.
// It is assembled by the inbound adapter; the domain never touches the
// http.Request itself.
type RequestMeta struct {
	// ForwardedFor is the raw X-Forwarded-For header value, if any.
	ForwardedFor string

	// RealIP is the X-Real-IP header value, if any.
	RealIP string

	// RemoteAddr is the transport-level peer address (host:port or host).
	RemoteAddr string

	// UserAgent is the client's User-Agent header.
	UserAgent string

	// Route is the requested route or action identifier.
	Route string

	// UserID is the authenticated user's id, empty for anonymous callers.
	UserID string

	// Role is the authenticated user's role, empty for anonymous callers.
	Role string
}

// ClientIP resolves the caller's IP, preferring the first hop of the
// forwarded-for chain, then the real-IP header, then the transport peer
// address. An unresolvable IP yields "unknown", which is still rate limited
// as a shared bucket rather than exempted.
func (m RequestMeta) ClientIP() string {
	if m.ForwardedFor != "" {
		first, _, _ := strings.Cut(m.ForwardedFor, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if ip := strings.TrimSpace(m.RealIP); ip != "" {
		return ip
	}
	if m.RemoteAddr != "" {
		if host, _, err := net.SplitHostPort(m.RemoteAddr); err == nil && host != "" {
			return host
		}
		return m.RemoteAddr
	}
	return "unknown"
}

// KeyScope selects which key strategy applies to an action.
type KeyScope string

const (
	// ScopeAnonymous keys on a hash of (client IP, route, user agent).
	// Used for endpoints where the caller has no identity yet, such as
	// login, registration, and password reset.
	ScopeAnonymous KeyScope = "anonymous"

	// ScopeUser keys on the authenticated user id and action.
	ScopeUser KeyScope = "user"

	// ScopeRole keys on the caller's role and action, making the ceiling a
	// role-wide pool rather than a per-individual one.
	ScopeRole KeyScope = "role"
)

// AnonymousKey derives a key for an unauthenticated caller from the client
// IP, route, and user agent. The hash keeps raw IPs and user agents out of
// the store.
func AnonymousKey(m RequestMeta) string {
	h := xxhash.New()
	_, _ = h.WriteString(m.ClientIP())
	_, _ = h.WriteString("|")
	_, _ = h.WriteString(m.Route)
	_, _ = h.WriteString("|")
	_, _ = h.WriteString(m.UserAgent)
	return fmt.Sprintf("anon:%016x", h.Sum64())
}

// UserActionKey derives a per-user, per-action key.
func UserActionKey(userID, action string) string {
	return "user:" + userID + ":" + action
}

// RoleActionKey derives a per-role, per-action key.
func RoleActionKey(role, action string) string {
	return "role:" + role + ":" + action
}

// DeriveKey applies the given scope to the request metadata. A user-scoped
// action with no authenticated user falls back to the anonymous strategy so
// the caller is still limited under some bucket.
func DeriveKey(scope KeyScope, action string, m RequestMeta) string {
	switch scope {
	case ScopeUser:
		if m.UserID != "" {
			return UserActionKey(m.UserID, action)
		}
		return AnonymousKey(m)
	case ScopeRole:
		if m.Role != "" {
			return RoleActionKey(m.Role, action)
		}
		return AnonymousKey(m)
	default:
		return AnonymousKey(m)
	}
}
