// Package http provides the HTTP transport adapter for the quota service.
package http

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/GanaRepository/mintoons-sub000/internal/ctxkey"
	"github.com/GanaRepository/mintoons-sub000/internal/domain/quota"
	"github.com/GanaRepository/mintoons-sub000/internal/service"
)

// requestIDContextKey is the type for the request ID context key.
type requestIDContextKey struct{}

// RequestIDKey is the context key for the request ID.
var RequestIDKey = requestIDContextKey{}

// LoggerKey is the context key for the enriched logger.
// Uses shared key type from ctxkey package to allow cross-package access without import cycles.
var LoggerKey = ctxkey.LoggerKey{}

// RequestIDMiddleware extracts or generates a request ID and enriches the logger.
// The request ID is stored in context using RequestIDKey.
// An enriched logger with request_id field is stored using LoggerKey.
func RequestIDMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get("X-Request-ID")
			if requestID == "" {
				requestID = uuid.New().String()
			}

			enrichedLogger := logger.With("request_id", requestID)

			ctx := context.WithValue(r.Context(), RequestIDKey, requestID)
			ctx = context.WithValue(ctx, LoggerKey, enrichedLogger)

			// Set response header for correlation
			w.Header().Set("X-Request-ID", requestID)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// LoggerFromContext retrieves the enriched logger from context.
// Returns slog.Default() if no logger is in context.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(LoggerKey).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}

// MetaFromRequest assembles the quota request metadata from an inbound
// request. Identity comes from the context keys the embedding application's
// auth layer populates; absent values leave the caller anonymous.
func MetaFromRequest(r *http.Request) quota.RequestMeta {
	meta := quota.RequestMeta{
		ForwardedFor: r.Header.Get("X-Forwarded-For"),
		RealIP:       r.Header.Get("X-Real-IP"),
		RemoteAddr:   r.RemoteAddr,
		UserAgent:    r.UserAgent(),
		Route:        r.URL.Path,
	}
	if userID, ok := r.Context().Value(ctxkey.UserIDKey{}).(string); ok {
		meta.UserID = userID
	}
	if role, ok := r.Context().Value(ctxkey.RoleKey{}).(string); ok {
		meta.Role = role
	}
	return meta
}

// AdmissionMiddleware guards a business handler with a quota check for the
// named action. The decision's rate headers are set on every response;
// denial short-circuits with 429 and a Retry-After header, and the handler
// is never invoked. costFn extracts the per-call cost estimate; pass nil for
// actions without a cost dimension.
func AdmissionMiddleware(svc *service.AdmissionService, action string, costFn func(*http.Request) int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var cost int64
			if costFn != nil {
				cost = costFn(r)
			}

			decision := svc.Evaluate(r.Context(), action, MetaFromRequest(r), cost)
			writeRateHeaders(w, decision)

			if !decision.Admitted {
				writeDenied(w, r, action, decision)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
