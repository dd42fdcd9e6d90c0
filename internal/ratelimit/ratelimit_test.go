package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestLimiter_AllowsUpToRate(t *testing.T) {
	l := New(5, time.Minute)
	for i := 0; i < 5; i++ {
		if !l.Allow() {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}
	if l.Allow() {
		t.Fatal("6th request should be denied")
	}
}

func TestLimiter_RefillsAfterWindow(t *testing.T) {
	l := New(2, 50*time.Millisecond)
	l.Allow()
	l.Allow()
	if l.Allow() {
		t.Fatal("3rd should be denied")
	}
	time.Sleep(60 * time.Millisecond)
	if !l.Allow() {
		t.Fatal("after window reset should be allowed")
	}
}

func TestLimiter_ZeroRateIsUnlimited(t *testing.T) {
	l := New(0, time.Minute)
	for i := 0; i < 100; i++ {
		if !l.Allow() {
			t.Fatalf("request %d denied by unlimited limiter", i+1)
		}
	}
}

func TestKeyed_IndependentKeys(t *testing.T) {
	k := NewKeyed(1, time.Minute)
	if !k.Allow("10.0.0.1") {
		t.Fatal("first request from .1 denied")
	}
	if k.Allow("10.0.0.1") {
		t.Fatal("second request from .1 allowed")
	}
	if !k.Allow("10.0.0.2") {
		t.Fatal("first request from .2 denied")
	}
}

func TestKeyed_PrunesIdleKeys(t *testing.T) {
	now := time.Unix(1000, 0)
	k := NewKeyed(1, time.Minute)
	k.now = func() time.Time { return now }
	k.lastPrune = now

	k.Allow("a")
	k.Allow("b")
	if k.Len() != 2 {
		t.Fatalf("expected 2 keys, got %d", k.Len())
	}

	now = now.Add(2 * time.Minute)
	k.Allow("c")
	if k.Len() != 1 {
		t.Fatalf("expected idle keys pruned, got %d keys", k.Len())
	}
}

func TestKeyed_Middleware(t *testing.T) {
	k := NewKeyed(1, time.Minute)
	h := k.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/heartbeat", nil)
	req.RemoteAddr = "192.0.2.1:1234"

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("first request: status %d", rec.Code)
	}
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second request: status %d, want 429", rec.Code)
	}
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.1:1234"
	if got := ClientIP(req); got != "192.0.2.1" {
		t.Fatalf("ClientIP = %q", got)
	}
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	if got := ClientIP(req); got != "203.0.113.9" {
		t.Fatalf("ClientIP with XFF = %q", got)
	}
}
