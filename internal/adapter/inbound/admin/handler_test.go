package admin

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alexedwards/argon2id"

	"github.com/GanaRepository/mintoons-sub000/internal/adapter/outbound/memory"
	"github.com/GanaRepository/mintoons-sub000/internal/domain/quota"
	"github.com/GanaRepository/mintoons-sub000/internal/service"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestHandler(t *testing.T, adminKeyHash string, maxRequests int) (http.Handler, *memory.BypassRegistry, *service.AdmissionService) {
	t.Helper()

	roles := map[string]map[string][]quota.LimiterConfig{
		"user": {
			"login": {{Name: "login_attempts", Window: time.Minute, MaxUnits: 5}},
		},
	}
	selector, err := quota.NewPolicySelector(roles, nil, discardLogger())
	if err != nil {
		t.Fatalf("NewPolicySelector() error: %v", err)
	}

	store := memory.NewCounterStore()
	t.Cleanup(func() { _ = store.Close() })
	bypass := memory.NewBypassRegistry()
	svc := service.NewAdmissionService(store, selector, bypass,
		service.WithLogger(discardLogger()))

	h := NewHandler(bypass, svc, adminKeyHash, maxRequests, time.Minute, discardLogger())
	return h, bypass, svc
}

func localRequest(method, target, body string) *http.Request {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	req.RemoteAddr = "127.0.0.1:54321"
	return req
}

func remoteRequest(method, target, body string) *http.Request {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	req.RemoteAddr = "203.0.113.10:54321"
	return req
}

func TestHandler_BypassLifecycle(t *testing.T) {
	t.Parallel()

	h, _, _ := newTestHandler(t, "", 100)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, localRequest(http.MethodPost, "/admin/bypass", `{"key":"user:load-test:ai_generate"}`))
	if rec.Code != http.StatusOK {
		t.Fatalf("add: status = %d, want 200: %s", rec.Code, rec.Body)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, localRequest(http.MethodGet, "/admin/bypass", ""))
	if rec.Code != http.StatusOK {
		t.Fatalf("list: status = %d, want 200", rec.Code)
	}
	var list bypassListResponse
	if err := json.NewDecoder(rec.Body).Decode(&list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list.Keys) != 1 || list.Keys[0] != "user:load-test:ai_generate" {
		t.Fatalf("keys = %v, want the added key", list.Keys)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, localRequest(http.MethodDelete, "/admin/bypass?key=user:load-test:ai_generate", ""))
	if rec.Code != http.StatusOK {
		t.Fatalf("remove: status = %d, want 200", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, localRequest(http.MethodGet, "/admin/bypass", ""))
	list = bypassListResponse{}
	if err := json.NewDecoder(rec.Body).Decode(&list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list.Keys) != 0 {
		t.Fatalf("keys after remove = %v, want empty", list.Keys)
	}
}

func TestHandler_BypassClear(t *testing.T) {
	t.Parallel()

	h, bypass, _ := newTestHandler(t, "", 100)
	for _, key := range []string{"a", "b", "c"} {
		if err := bypass.Add(key); err != nil {
			t.Fatalf("Add(%q) error: %v", key, err)
		}
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, localRequest(http.MethodPost, "/admin/bypass/clear", ""))
	if rec.Code != http.StatusOK {
		t.Fatalf("clear: status = %d, want 200", rec.Code)
	}
	if keys := bypass.List(); len(keys) != 0 {
		t.Errorf("keys after clear = %v, want empty", keys)
	}
}

func TestHandler_BypassValidation(t *testing.T) {
	t.Parallel()

	h, _, _ := newTestHandler(t, "", 100)

	tests := []struct {
		name       string
		req        *http.Request
		wantStatus int
	}{
		{"add without key", localRequest(http.MethodPost, "/admin/bypass", `{}`), http.StatusBadRequest},
		{"add with bad json", localRequest(http.MethodPost, "/admin/bypass", `{`), http.StatusBadRequest},
		{"remove without key", localRequest(http.MethodDelete, "/admin/bypass", ""), http.StatusBadRequest},
		{"bad method", localRequest(http.MethodPut, "/admin/bypass", ""), http.StatusMethodNotAllowed},
		{"clear with get", localRequest(http.MethodGet, "/admin/bypass/clear", ""), http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, tt.req)
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}
}

func TestHandler_Usage(t *testing.T) {
	t.Parallel()

	h, _, svc := newTestHandler(t, "", 100)

	meta := quota.RequestMeta{RemoteAddr: "192.0.2.5:1000", UserAgent: "ua"}
	for i := 0; i < 3; i++ {
		if d := svc.Evaluate(context.Background(), "login", meta, 0); !d.Admitted {
			t.Fatalf("evaluate %d: denied", i+1)
		}
	}
	meta.Route = "login"
	storageKey := "login_attempts:" + quota.AnonymousKey(meta)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, localRequest(http.MethodGet, "/admin/usage?key="+storageKey, ""))
	if rec.Code != http.StatusOK {
		t.Fatalf("usage: status = %d, want 200: %s", rec.Code, rec.Body)
	}
	var resp usageResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Count != 3 {
		t.Errorf("count = %d, want 3", resp.Count)
	}
	if resp.WindowEnd == 0 {
		t.Error("window_end = 0, want a live window")
	}
}

func TestHandler_UsageRequiresKey(t *testing.T) {
	t.Parallel()

	h, _, _ := newTestHandler(t, "", 100)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, localRequest(http.MethodGet, "/admin/usage", ""))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestAuth_RemoteWithoutConfiguredKeyIsForbidden(t *testing.T) {
	t.Parallel()

	h, _, _ := newTestHandler(t, "", 100)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, remoteRequest(http.MethodGet, "/admin/bypass", ""))
	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", rec.Code)
	}
}

func TestAuth_RemoteWithKey(t *testing.T) {
	t.Parallel()

	hash, err := argon2id.CreateHash("correct-horse", argon2id.DefaultParams)
	if err != nil {
		t.Fatalf("CreateHash() error: %v", err)
	}
	h, _, _ := newTestHandler(t, hash, 100)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, remoteRequest(http.MethodGet, "/admin/bypass", ""))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("missing key: status = %d, want 401", rec.Code)
	}

	rec = httptest.NewRecorder()
	req := remoteRequest(http.MethodGet, "/admin/bypass", "")
	req.Header.Set("X-Admin-Key", "battery-staple")
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong key: status = %d, want 401", rec.Code)
	}

	rec = httptest.NewRecorder()
	req = remoteRequest(http.MethodGet, "/admin/bypass", "")
	req.Header.Set("X-Admin-Key", "correct-horse")
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("right key: status = %d, want 200: %s", rec.Code, rec.Body)
	}
}

func TestAuth_LocalhostSkipsKeyCheck(t *testing.T) {
	t.Parallel()

	hash, err := argon2id.CreateHash("correct-horse", argon2id.DefaultParams)
	if err != nil {
		t.Fatalf("CreateHash() error: %v", err)
	}
	h, _, _ := newTestHandler(t, hash, 100)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, localRequest(http.MethodGet, "/admin/bypass", ""))
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func TestRateLimit_RemoteCallersAreLimited(t *testing.T) {
	t.Parallel()

	hash, err := argon2id.CreateHash("correct-horse", argon2id.DefaultParams)
	if err != nil {
		t.Fatalf("CreateHash() error: %v", err)
	}
	h, _, _ := newTestHandler(t, hash, 3)

	send := func() *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		req := remoteRequest(http.MethodGet, "/admin/bypass", "")
		req.Header.Set("X-Admin-Key", "correct-horse")
		h.ServeHTTP(rec, req)
		return rec
	}

	for i := 0; i < 3; i++ {
		if rec := send(); rec.Code != http.StatusOK {
			t.Fatalf("call %d: status = %d, want 200", i+1, rec.Code)
		}
	}
	rec := send()
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After header")
	}
}

func TestRateLimit_LocalhostIsExempt(t *testing.T) {
	t.Parallel()

	h, _, _ := newTestHandler(t, "", 1)

	for i := 0; i < 10; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, localRequest(http.MethodGet, "/admin/bypass", ""))
		if rec.Code != http.StatusOK {
			t.Fatalf("call %d: status = %d, want 200", i+1, rec.Code)
		}
	}
}

func TestIPRateLimiter_WindowReset(t *testing.T) {
	t.Parallel()

	rl := newIPRateLimiter(2, 50*time.Millisecond)

	for i := 0; i < 2; i++ {
		if ok, _ := rl.allow("198.51.100.1"); !ok {
			t.Fatalf("call %d: denied, want allowed", i+1)
		}
	}
	if ok, retryAfter := rl.allow("198.51.100.1"); ok {
		t.Fatal("third call allowed, want denied")
	} else if retryAfter < 1 {
		t.Errorf("retryAfter = %d, want >= 1", retryAfter)
	}

	// A different caller has its own window.
	if ok, _ := rl.allow("198.51.100.2"); !ok {
		t.Fatal("other IP denied, want allowed")
	}

	time.Sleep(60 * time.Millisecond)
	if ok, _ := rl.allow("198.51.100.1"); !ok {
		t.Fatal("denied after window reset, want allowed")
	}
}
