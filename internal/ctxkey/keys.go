// Package ctxkey defines shared context key types used across multiple packages.
// This package should have no dependencies on other internal packages to avoid import cycles.
package ctxkey

// LoggerKey is the context key type for the enriched logger.
// Used by HTTP middleware to store and retrieve the logger with request_id fields.
type LoggerKey struct{}

// UserIDKey is the context key type for the authenticated user id.
// Set by the embedding application's auth layer before the admission
// middleware runs; absent means the caller is anonymous.
type UserIDKey struct{}

// RoleKey is the context key type for the authenticated user's role.
// Set alongside UserIDKey by the embedding application's auth layer.
type RoleKey struct{}
