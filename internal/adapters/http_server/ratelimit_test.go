package httpserver

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestRateLimiter_BucketPerKey(t *testing.T) {
	rl := NewRateLimiter(12, 5*time.Second)
	defer rl.Stop()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	for i := 0; i < 12; i++ {
		if !rl.Allow("1.2.3.4") {
			t.Fatalf("request %d rejected inside burst", i+1)
		}
	}
	if rl.Allow("1.2.3.4") {
		t.Fatal("13th request allowed")
	}
	if !rl.Allow("5.6.7.8") {
		t.Fatal("other client affected")
	}

	now = now.Add(5 * time.Second)
	if !rl.Allow("1.2.3.4") {
		t.Fatal("token not refilled after 5s")
	}
	if rl.Allow("1.2.3.4") {
		t.Fatal("more than one token refilled")
	}
}

func TestRateLimiter_EvictsIdle(t *testing.T) {
	rl := NewRateLimiter(12, 5*time.Second)
	defer rl.Stop()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	rl.Allow("a")
	rl.Allow("b")
	now = now.Add(time.Minute)
	rl.Allow("b")
	now = now.Add(90 * time.Second)
	rl.evictIdle()
	if rl.size() != 1 {
		t.Fatalf("size = %d, want 1", rl.size())
	}
	rl.Stop() // idempotent
}

func TestRateLimiter_Middleware(t *testing.T) {
	rl := NewRateLimiter(1, time.Minute)
	defer rl.Stop()
	h := rl.Limit(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(204) }))

	req := httptest.NewRequest(http.MethodPost, "/auth/password/forgot", nil)
	req.RemoteAddr = "10.0.0.1:5555"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != 204 {
		t.Fatalf("first got %d", rec.Code)
	}
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests || rec.Header().Get("Retry-After") != "60" {
		t.Fatalf("second got %d retry-after=%q", rec.Code, rec.Header().Get("Retry-After"))
	}
}

func TestRateLimiter_IgnoresForwardedHeaders(t *testing.T) {
	rl := NewRateLimiter(1, time.Minute)
	defer rl.Stop()
	limited := rl.Limit(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(204) }))

	// full server chain, so RealIP gets its chance to rewrite RemoteAddr
	srv := New(Options{})
	srv.Mount("/auth/password/forgot", limited)

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/auth/password/forgot", nil)
		req.RemoteAddr = "10.0.0.1:5555"
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("203.0.113.%d", i+1))
		req.Header.Set("X-Real-IP", fmt.Sprintf("198.51.100.%d", i+1))
		rec := httptest.NewRecorder()
		srv.Mux().ServeHTTP(rec, req)

		want := http.StatusTooManyRequests
		if i == 0 {
			want = 204
		}
		if rec.Code != want {
			t.Fatalf("request %d: got %d, want %d", i+1, rec.Code, want)
		}
	}
	if rl.size() != 1 {
		t.Fatalf("buckets = %d, want 1", rl.size())
	}
}

func TestPeerHost(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.9:4000"
	if got := peerHost(req); got != "10.0.0.9" {
		t.Fatalf("got %q", got)
	}
	req.RemoteAddr = "unix-socket"
	if got := peerHost(req); got != "unix-socket" {
		t.Fatalf("got %q", got)
	}
}
