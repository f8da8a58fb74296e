// Package admin provides the administrative HTTP API for the quota service:
// bypass allow-list management and usage inspection.
package admin

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/GanaRepository/mintoons-sub000/internal/domain/quota"
	"github.com/GanaRepository/mintoons-sub000/internal/service"
)

// Handler serves the administrative API. All routes require the admin key
// (localhost callers are exempt) and are rate limited per IP.
type Handler struct {
	bypass quota.BypassRegistry
	svc    *service.AdmissionService
	logger *slog.Logger
}

// NewHandler creates the admin API handler.
//
// adminKeyHash is the argon2id hash of the admin key; when empty, only
// localhost callers are accepted. maxRequests/window configure the per-IP
// admin rate limit.
func NewHandler(
	bypass quota.BypassRegistry,
	svc *service.AdmissionService,
	adminKeyHash string,
	maxRequests int,
	window time.Duration,
	logger *slog.Logger,
) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{bypass: bypass, svc: svc, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("/admin/bypass", h.handleBypass)
	mux.HandleFunc("/admin/bypass/clear", h.handleBypassClear)
	mux.HandleFunc("/admin/usage", h.handleUsage)

	return rateLimitMiddleware(maxRequests, window,
		authMiddleware(adminKeyHash, logger, mux))
}

// bypassRequest is the JSON body for bypass mutations.
type bypassRequest struct {
	Key string `json:"key"`
}

// bypassListResponse is the JSON response for GET /admin/bypass.
type bypassListResponse struct {
	Keys []string `json:"keys"`
}

func (h *Handler) handleBypass(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, bypassListResponse{Keys: h.bypass.List()})

	case http.MethodPost:
		key, ok := h.decodeKey(w, r)
		if !ok {
			return
		}
		if err := h.bypass.Add(key); err != nil {
			h.logger.Error("failed to add bypass key", "key", key, "error", err)
			writeError(w, http.StatusInternalServerError, "failed to persist bypass key")
			return
		}
		h.logger.Info("bypass key added", "key", key)
		writeJSON(w, http.StatusOK, map[string]string{"status": "added", "key": key})

	case http.MethodDelete:
		key := r.URL.Query().Get("key")
		if key == "" {
			writeError(w, http.StatusBadRequest, "key query parameter is required")
			return
		}
		if err := h.bypass.Remove(key); err != nil {
			h.logger.Error("failed to remove bypass key", "key", key, "error", err)
			writeError(w, http.StatusInternalServerError, "failed to persist bypass removal")
			return
		}
		h.logger.Info("bypass key removed", "key", key)
		writeJSON(w, http.StatusOK, map[string]string{"status": "removed", "key": key})

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (h *Handler) handleBypassClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if err := h.bypass.Clear(); err != nil {
		h.logger.Error("failed to clear bypass keys", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to persist bypass clear")
		return
	}
	h.logger.Info("bypass keys cleared")
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

// usageResponse is the JSON response for GET /admin/usage.
type usageResponse struct {
	Key       string `json:"key"`
	Count     int64  `json:"count"`
	WindowEnd int64  `json:"window_end,omitempty"` // unix seconds, 0 when no live window
}

func (h *Handler) handleUsage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	key := r.URL.Query().Get("key")
	if key == "" {
		writeError(w, http.StatusBadRequest, "key query parameter is required")
		return
	}

	count, windowEnd, err := h.svc.Usage(r.Context(), key)
	if err != nil {
		h.logger.Error("usage lookup failed", "key", key, "error", err)
		writeError(w, http.StatusServiceUnavailable, "counter store unavailable")
		return
	}

	resp := usageResponse{Key: key, Count: count}
	if !windowEnd.IsZero() {
		resp.WindowEnd = windowEnd.Unix()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) decodeKey(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req bypassRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return "", false
	}
	if req.Key == "" {
		writeError(w, http.StatusBadRequest, "key is required")
		return "", false
	}
	return req.Key, true
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
