package logger

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/Strob0t/forgelsp/internal/config"
)

func TestNew(t *testing.T) {
	cfg := config.Logging{Level: "debug", Service: "test-svc"}
	l, closer := New(cfg)
	defer closer.Close()
	if l == nil {
		t.Fatal("expected non-nil logger")
	}
}

func TestNewAsync(t *testing.T) {
	cfg := config.Logging{Level: "debug", Service: "test-svc", Async: true}
	l, closer := New(cfg)
	if l == nil {
		t.Fatal("expected non-nil logger")
	}
	closer.Close()
}

func TestNewWithWriterAddsService(t *testing.T) {
	var buf bytes.Buffer
	l, closer := NewWithWriter(config.Logging{Level: "info", Service: "forgelsp-test"}, &buf)
	l.Info("server started", "language", "go")
	closer.Close()

	out := buf.String()
	if !strings.Contains(out, `"service":"forgelsp-test"`) {
		t.Errorf("expected service attribute, got %s", out)
	}
	if !strings.Contains(out, `"language":"go"`) {
		t.Errorf("expected language attribute, got %s", out)
	}
}

func TestNewWithWriterFiltersLevel(t *testing.T) {
	var buf bytes.Buffer
	l, closer := NewWithWriter(config.Logging{Level: "warn", Service: "svc"}, &buf)
	l.Info("dropped")
	closer.Close()

	if buf.Len() != 0 {
		t.Errorf("expected info record to be filtered, got %s", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"debug", "DEBUG"},
		{"info", "INFO"},
		{"warn", "WARN"},
		{"warning", "WARN"},
		{"error", "ERROR"},
		{"unknown", "INFO"},
		{"", "INFO"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := parseLevel(tt.input).String()
			if got != tt.want {
				t.Errorf("parseLevel(%q) = %s, want %s", tt.input, got, tt.want)
			}
		})
	}
}

func TestRequestIDAttribute(t *testing.T) {
	for _, async := range []bool{false, true} {
		var buf bytes.Buffer
		l, closer := NewWithWriter(config.Logging{Level: "info", Service: "svc", Async: async}, &buf)
		l.InfoContext(WithRequestID(context.Background(), "req-42"), "file opened")
		l.InfoContext(context.Background(), "no request")
		closer.Close()

		lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
		if len(lines) != 2 {
			t.Fatalf("async=%t: got %d lines: %s", async, len(lines), buf.String())
		}
		if !strings.Contains(lines[0], `"request_id":"req-42"`) {
			t.Errorf("async=%t: request id missing: %s", async, lines[0])
		}
		if strings.Contains(lines[1], "request_id") {
			t.Errorf("async=%t: unexpected request id: %s", async, lines[1])
		}
	}
}

func TestRequestIDContext(t *testing.T) {
	ctx := context.Background()

	// Empty context returns empty string
	if got := RequestID(ctx); got != "" {
		t.Errorf("expected empty request ID, got %q", got)
	}

	// Set and retrieve
	ctx = WithRequestID(ctx, "req-123")
	if got := RequestID(ctx); got != "req-123" {
		t.Errorf("expected req-123, got %q", got)
	}
}
