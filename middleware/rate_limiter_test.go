package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"proofpay/utils"
)

func TestClientIPGenericIgnoresSpoofedHeaders(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "203.0.113.9:4321"
	r.Header.Set("X-Forwarded-For", "10.0.0.1")

	if ip := clientIPGeneric(r, nil); ip != "203.0.113.9" {
		t.Fatalf("untrusted peer spoofed its IP: got %s", ip)
	}
}

func TestClientIPGenericHonorsTrustedProxy(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "10.0.0.5:4321"
	r.Header.Set("X-Forwarded-For", "198.51.100.7, 10.0.0.5")

	if ip := clientIPGeneric(r, []string{"10.0.0.0/8"}); ip != "198.51.100.7" {
		t.Fatalf("trusted proxy forwarded IP not used: got %s", ip)
	}
}

func TestClientIPGenericTrustedExactIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "192.0.2.1:555"
	r.Header.Set("X-Real-IP", "198.51.100.9")

	if ip := clientIPGeneric(r, []string{"192.0.2.1"}); ip != "198.51.100.9" {
		t.Fatalf("X-Real-IP not honored for trusted peer: got %s", ip)
	}
}

func TestRecordSlidingWindow(t *testing.T) {
	state := make(map[string]timestamps)
	now := time.Now().UnixNano()
	window := int64(time.Minute)

	for i := 1; i <= 3; i++ {
		count, _ := record(state, "k", now+int64(i), window)
		if count != i {
			t.Fatalf("count = %d, want %d", count, i)
		}
	}
	// Entries past the window fall out.
	count, _ := record(state, "k", now+window+int64(time.Second), window)
	if count != 1 {
		t.Fatalf("stale entries kept: count = %d, want 1", count)
	}
}

func TestIPRateLimiterBlocksOverLimit(t *testing.T) {
	l := NewIPRateLimiter(2, time.Minute)
	h := l.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.RemoteAddr = "203.0.113.1:1000"
		h.ServeHTTP(rec, r)
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d blocked: %d", i, rec.Code)
		}
	}

	rec := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "203.0.113.1:1000"
	h.ServeHTTP(rec, r)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("over-limit request passed: %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatalf("Retry-After header missing")
	}

	// A different IP has its own window.
	rec = httptest.NewRecorder()
	r = httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "203.0.113.2:1000"
	h.ServeHTTP(rec, r)
	if rec.Code != http.StatusOK {
		t.Fatalf("unrelated IP blocked: %d", rec.Code)
	}
}

func withAddr(r *http.Request, addr, role string) *http.Request {
	ctx := context.WithValue(r.Context(), utils.UserAddrKey, addr)
	if role != "" {
		ctx = context.WithValue(ctx, utils.UserRoleKey, role)
	}
	return r.WithContext(ctx)
}

func TestAddrRateLimiterSeparatesReadAndWriteBudgets(t *testing.T) {
	l := NewAddrRateLimiter(10, 1, 60)
	h := l.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	post := func() int {
		rec := httptest.NewRecorder()
		r := withAddr(httptest.NewRequest(http.MethodPost, "/v1/tasks", nil), "payer1addr", "")
		h.ServeHTTP(rec, r)
		return rec.Code
	}
	get := func() int {
		rec := httptest.NewRecorder()
		r := withAddr(httptest.NewRequest(http.MethodGet, "/v1/tasks", nil), "payer1addr", "")
		h.ServeHTTP(rec, r)
		return rec.Code
	}

	if code := post(); code != http.StatusOK {
		t.Fatalf("first write blocked: %d", code)
	}
	if code := post(); code != http.StatusTooManyRequests {
		t.Fatalf("write budget not enforced: %d", code)
	}
	// Reads are budgeted separately.
	if code := get(); code != http.StatusOK {
		t.Fatalf("read blocked by exhausted write budget: %d", code)
	}
}

func TestAddrRateLimiterAdminBypass(t *testing.T) {
	l := NewAddrRateLimiter(1, 1, 60)
	h := l.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 5; i++ {
		rec := httptest.NewRecorder()
		r := withAddr(httptest.NewRequest(http.MethodPost, "/v1/admin/disputes", nil), "admin1addr", "admin")
		h.ServeHTTP(rec, r)
		if rec.Code != http.StatusOK {
			t.Fatalf("admin request %d limited: %d", i, rec.Code)
		}
	}
}

func TestWebhookLimiterWhitelistBypass(t *testing.T) {
	l := NewWebhookLimiter(1, time.Minute, []string{"198.51.100.50"})
	h := l.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 5; i++ {
		rec := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodPost, "/v1/callback/ledger-events", nil)
		r.RemoteAddr = "198.51.100.50:999"
		h.ServeHTTP(rec, r)
		if rec.Code != http.StatusOK {
			t.Fatalf("whitelisted relay limited on request %d: %d", i, rec.Code)
		}
	}

	// Non-whitelisted senders get the window.
	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodPost, "/v1/callback/ledger-events", nil)
		r.RemoteAddr = "203.0.113.77:999"
		h.ServeHTTP(rec, r)
		if i == 0 && rec.Code != http.StatusOK {
			t.Fatalf("first stranger request blocked: %d", rec.Code)
		}
		if i == 1 && rec.Code != http.StatusTooManyRequests {
			t.Fatalf("stranger not limited: %d", rec.Code)
		}
	}
}
