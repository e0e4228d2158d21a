package logger

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"
)

// recordingHandler collects slog.Records for test assertions.
type recordingHandler struct {
	mu      sync.Mutex
	records []slog.Record
	delay   time.Duration
}

func (h *recordingHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *recordingHandler) Handle(_ context.Context, rec slog.Record) error { //nolint:gocritic // slog.Handler interface requires value receiver
	if h.delay > 0 {
		time.Sleep(h.delay)
	}
	h.mu.Lock()
	h.records = append(h.records, rec)
	h.mu.Unlock()
	return nil
}

func (h *recordingHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *recordingHandler) WithGroup(string) slog.Handler      { return h }

func (h *recordingHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.records)
}

func record(level slog.Level, msg string) slog.Record {
	return slog.NewRecord(time.Now(), level, msg, 0)
}

func TestAsyncHandlerConcurrentWrites(t *testing.T) {
	const goroutines, perGoroutine = 50, 100

	inner := &recordingHandler{}
	ah := NewAsyncHandler(inner, goroutines*perGoroutine, 4)

	var wg sync.WaitGroup
	for range goroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range perGoroutine {
				_ = ah.Handle(context.Background(), record(slog.LevelInfo, "didChange sent"))
			}
		}()
	}
	wg.Wait()
	ah.Close()

	if got := inner.count(); got != goroutines*perGoroutine {
		t.Fatalf("got %d records, want %d", got, goroutines*perGoroutine)
	}
}

func TestAsyncHandlerDropsOnlyBelowError(t *testing.T) {
	inner := &recordingHandler{delay: 5 * time.Millisecond}
	ah := NewAsyncHandler(inner, 1, 1)

	for range 30 {
		_ = ah.Handle(context.Background(), record(slog.LevelDebug, "flood"))
	}
	for range 5 {
		_ = ah.Handle(context.Background(), record(slog.LevelError, "server crashed"))
	}
	ah.Close()

	if ah.DroppedCount() == 0 {
		t.Fatal("expected debug records to be dropped")
	}
	errors := 0
	inner.mu.Lock()
	for _, r := range inner.records {
		if r.Level == slog.LevelError {
			errors++
		}
	}
	inner.mu.Unlock()
	if errors != 5 {
		t.Errorf("delivered %d error records, want 5", errors)
	}
}

func TestAsyncHandlerKeepsDerivedAttrs(t *testing.T) {
	var buf bytes.Buffer
	ah := NewAsyncHandler(slog.NewJSONHandler(&buf, nil), 16, 1)
	l := slog.New(ah).With("language", "rust").WithGroup("lsp")
	l.Info("server ready", "pid", 42)
	ah.Close()

	out := buf.String()
	if !strings.Contains(out, `"language":"rust"`) || !strings.Contains(out, `"lsp":{"pid":42}`) {
		t.Errorf("derived attrs lost: %s", out)
	}
}

func TestAsyncHandlerAfterClose(t *testing.T) {
	inner := &recordingHandler{}
	ah := NewAsyncHandler(inner, 4, 1)
	ah.Close()
	ah.Close()

	if err := ah.Handle(context.Background(), record(slog.LevelInfo, "late")); err != nil {
		t.Fatal(err)
	}
	if inner.count() != 1 {
		t.Errorf("record after Close not written synchronously")
	}
}

func TestAsyncHandlerCloseFlushes(t *testing.T) {
	inner := &recordingHandler{}
	ah := NewAsyncHandler(inner, 1000, 2)
	for range 200 {
		_ = ah.Handle(context.Background(), record(slog.LevelInfo, "flush"))
	}
	ah.Close()

	if got := inner.count(); got != 200 {
		t.Fatalf("got %d records after Close, want 200", got)
	}
}
