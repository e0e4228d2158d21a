package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func serve(h http.Handler, remote string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/files/change", http.NoBody)
	req.RemoteAddr = remote
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRateLimiter(t *testing.T) {
	clock := time.Unix(1000, 0)
	rl := NewRateLimiter(2, 3)
	rl.now = func() time.Time { return clock }
	h := rl.Handler(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	for i := range 3 {
		if rec := serve(h, "10.0.0.1:5000"); rec.Code != http.StatusNoContent {
			t.Fatalf("request %d: status %d", i+1, rec.Code)
		}
	}

	rec := serve(h, "10.0.0.1:5001")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("over burst: status %d, want 429", rec.Code)
	}
	if got := rec.Header().Get("Retry-After"); got != "1" {
		t.Errorf("Retry-After = %q, want 1", got)
	}

	if rec := serve(h, "10.0.0.2:5000"); rec.Code != http.StatusNoContent {
		t.Errorf("other client: status %d", rec.Code)
	}

	clock = clock.Add(500 * time.Millisecond)
	if rec := serve(h, "10.0.0.1:5000"); rec.Code != http.StatusNoContent {
		t.Errorf("after refill: status %d", rec.Code)
	}
	if rec := serve(h, "10.0.0.1:5000"); rec.Code != http.StatusTooManyRequests {
		t.Errorf("refill grants one token only: status %d", rec.Code)
	}
}

func TestRateLimiterEvict(t *testing.T) {
	clock := time.Unix(1000, 0)
	rl := NewRateLimiter(1, 1)
	rl.now = func() time.Time { return clock }

	rl.take("a")
	clock = clock.Add(time.Minute)
	rl.take("b")
	rl.evict(30 * time.Second)

	if rl.Len() != 1 {
		t.Errorf("Len = %d, want 1", rl.Len())
	}
}
