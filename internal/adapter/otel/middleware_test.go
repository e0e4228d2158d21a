package otel

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSpanName(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/files/open?x=1", http.NoBody)
	if got := spanName("forgelsp", r); got != "POST /files/open" {
		t.Errorf("spanName = %q", got)
	}
}

func TestTraced(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"/status", true},
		{"/diagnostics", true},
		{"/ws", false},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, tt.path, http.NoBody)
		if got := traced(r); got != tt.want {
			t.Errorf("traced(%s) = %t, want %t", tt.path, got, tt.want)
		}
	}
}

func TestHTTPMiddlewarePassesThrough(t *testing.T) {
	h := HTTPMiddleware("forgelsp")(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	for _, path := range []string{"/status", "/ws"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, http.NoBody))
		if rec.Code != http.StatusTeapot {
			t.Errorf("%s: status = %d", path, rec.Code)
		}
	}
}
