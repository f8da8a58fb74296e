package admin

import (
	"log/slog"
	"net"
	"net/http"

	"github.com/alexedwards/argon2id"
)

// isLocalhost reports whether the request's transport peer is a loopback
// address. Localhost callers are exempt from admin key auth and rate
// limiting, matching local operational tooling.
func isLocalhost(r *http.Request) bool {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// authMiddleware verifies the X-Admin-Key header against the configured
// argon2id hash. With no hash configured, only localhost callers are
// accepted; remote admin access requires an explicit key.
func authMiddleware(adminKeyHash string, logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isLocalhost(r) {
			next.ServeHTTP(w, r)
			return
		}

		if adminKeyHash == "" {
			writeError(w, http.StatusForbidden, "remote admin access requires a configured admin key")
			return
		}

		key := r.Header.Get("X-Admin-Key")
		if key == "" {
			writeError(w, http.StatusUnauthorized, "missing admin key")
			return
		}

		match, err := argon2id.ComparePasswordAndHash(key, adminKeyHash)
		if err != nil || !match {
			logger.Warn("admin key verification failed", "remote_addr", r.RemoteAddr)
			writeError(w, http.StatusUnauthorized, "invalid admin key")
			return
		}

		next.ServeHTTP(w, r)
	})
}
