package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/GanaRepository/mintoons-sub000/internal/domain/quota"
	"github.com/GanaRepository/mintoons-sub000/internal/service"
)

// EvaluateRequest is the JSON body for POST /v1/evaluate. API processes that
// do not embed the middleware call this endpoint before performing a
// throttled operation.
type EvaluateRequest struct {
	// Action names the throttled operation, e.g. "login" or "ai_generate".
	Action string `json:"action"`

	// Cost is the AI-provider cost estimate for this call. Zero for actions
	// without a cost dimension.
	Cost int64 `json:"cost,omitempty"`

	// Meta describes the end-user request being admitted.
	Meta EvaluateMeta `json:"meta"`
}

// EvaluateMeta mirrors quota.RequestMeta on the wire.
type EvaluateMeta struct {
	ForwardedFor string `json:"forwarded_for,omitempty"`
	RealIP       string `json:"real_ip,omitempty"`
	RemoteAddr   string `json:"remote_addr,omitempty"`
	UserAgent    string `json:"user_agent,omitempty"`
	Route        string `json:"route,omitempty"`
	UserID       string `json:"user_id,omitempty"`
	Role         string `json:"role,omitempty"`
}

// EvaluateResponse is the JSON body returned for every evaluation, admitted
// or denied, so callers handle one uniform shape.
type EvaluateResponse struct {
	Admitted          bool   `json:"admitted"`
	Limit             int64  `json:"limit"`
	Remaining         int64  `json:"remaining"`
	ResetAt           int64  `json:"reset_at"` // unix seconds
	TotalHits         int64  `json:"total_hits"`
	Reason            string `json:"reason,omitempty"`
	Message           string `json:"message,omitempty"`
	RetryAfterSeconds int64  `json:"retry_after_seconds,omitempty"`
}

// EvaluateHandler serves POST /v1/evaluate.
type EvaluateHandler struct {
	svc *service.AdmissionService
}

// NewEvaluateHandler creates the evaluate endpoint handler.
func NewEvaluateHandler(svc *service.AdmissionService) *EvaluateHandler {
	return &EvaluateHandler{svc: svc}
}

// ServeHTTP decodes the evaluation request, runs the admission check, and
// writes the decision. A denied decision is reported with HTTP 429 so plain
// HTTP clients can branch on the status code alone.
func (h *EvaluateHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req EvaluateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if req.Action == "" {
		writeError(w, http.StatusBadRequest, "action is required")
		return
	}

	meta := quota.RequestMeta{
		ForwardedFor: req.Meta.ForwardedFor,
		RealIP:       req.Meta.RealIP,
		RemoteAddr:   req.Meta.RemoteAddr,
		UserAgent:    req.Meta.UserAgent,
		Route:        req.Meta.Route,
		UserID:       req.Meta.UserID,
		Role:         req.Meta.Role,
	}

	decision := h.svc.Evaluate(r.Context(), req.Action, meta, req.Cost)
	writeRateHeaders(w, decision)

	status := http.StatusOK
	if !decision.Admitted {
		status = http.StatusTooManyRequests
		w.Header().Set("Retry-After", fmt.Sprintf("%d", decision.RetryAfter(time.Now())))
	}
	writeJSON(w, status, decisionResponse(req.Action, decision))
}

// decisionResponse converts a domain decision to its wire shape.
func decisionResponse(action string, d quota.Decision) EvaluateResponse {
	resp := EvaluateResponse{
		Admitted:  d.Admitted,
		Limit:     d.Limit,
		Remaining: d.Remaining,
		ResetAt:   d.ResetAt.Unix(),
		TotalHits: d.TotalHits,
		Reason:    d.Reason,
	}
	if !d.Admitted {
		resp.RetryAfterSeconds = d.RetryAfter(time.Now())
		resp.Message = d.Message
		if resp.Message == "" {
			resp.Message = fmt.Sprintf("quota exceeded for %s, retry after %d seconds", action, resp.RetryAfterSeconds)
		}
	}
	return resp
}

// writeRateHeaders sets the rate limit response headers from a decision.
// Decisions without a limit (bypassed keys, unthrottled actions, fail-open)
// carry no quota headers.
func writeRateHeaders(w http.ResponseWriter, d quota.Decision) {
	if d.Remaining == quota.UnlimitedRemaining {
		return
	}
	w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", d.Limit))
	w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", d.Remaining))
	w.Header().Set("X-RateLimit-Reset", fmt.Sprintf("%d", d.ResetAt.Unix()))
}

// writeDenied short-circuits a middleware-guarded request with 429.
func writeDenied(w http.ResponseWriter, r *http.Request, action string, d quota.Decision) {
	retryAfter := d.RetryAfter(time.Now())
	w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfter))

	LoggerFromContext(r.Context()).Warn("request rate limited",
		"action", action,
		"reason", d.Reason,
		"retry_after_seconds", retryAfter,
	)
	writeJSON(w, http.StatusTooManyRequests, decisionResponse(action, d))
}

// errorResponse is the JSON error envelope.
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
