package internal

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func TestRateLimiterAllow(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	limiter := newRateLimiter(1, 1, time.Minute)
	limiter.now = clock.Now

	if !limiter.allow("client") {
		t.Fatalf("expected first request to be allowed")
	}
	if limiter.allow("client") {
		t.Fatalf("expected second request to be rate limited")
	}

	clock.now = clock.now.Add(1100 * time.Millisecond)

	if !limiter.allow("client") {
		t.Fatalf("expected request after refill to be allowed")
	}
}

func TestRateLimiterEvictsIdleClients(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	limiter := newRateLimiter(1, 1, time.Minute)
	limiter.now = clock.Now

	limiter.allow("a")
	limiter.allow("b")
	clock.now = clock.now.Add(2 * time.Minute)
	limiter.allow("c")

	if len(limiter.store) != 1 {
		t.Fatalf("expected idle clients to be evicted, store has %d entries", len(limiter.store))
	}
}

func TestRateLimitHandlerRejects(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := NewRateLimitHandler(next, 1, 1, time.Minute)

	codes := make([]int, 0, 2)
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/bitbucket-server", nil)
		req.Header.Set("X-Forwarded-For", "10.0.0.1, 10.0.0.2")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}

	if codes[0] != http.StatusOK || codes[1] != http.StatusTooManyRequests {
		t.Fatalf("expected 200 then 429, got %v", codes)
	}
}
