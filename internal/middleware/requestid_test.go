package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Strob0t/forgelsp/internal/logger"
)

func TestRequestID(t *testing.T) {
	tests := []struct {
		name     string
		incoming string
		wantSame bool
	}{
		{"generated when missing", "", false},
		{"propagated", "my-custom-id-123", true},
		{"oversized replaced", strings.Repeat("x", 200), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var ctxID string
			h := RequestID(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
				ctxID = logger.RequestID(r.Context())
			}))

			req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
			if tt.incoming != "" {
				req.Header.Set(HeaderRequestID, tt.incoming)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			respID := rec.Header().Get(HeaderRequestID)
			if respID == "" || respID != ctxID {
				t.Fatalf("response id %q, context id %q", respID, ctxID)
			}
			if tt.wantSame {
				if respID != tt.incoming {
					t.Errorf("id = %q, want %q", respID, tt.incoming)
				}
				return
			}
			if len(respID) != 32 {
				t.Errorf("generated id %q has %d chars, want 32", respID, len(respID))
			}
		})
	}
}
