package install

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
)

func TestVerifyChecksum(t *testing.T) {
	data := []byte("rust-analyzer")
	sum := sha256.Sum256(data)
	digest := hex.EncodeToString(sum[:])

	tests := []struct {
		name     string
		expected string
		want     bool
	}{
		{"lower", digest, true},
		{"upper", strings.ToUpper(digest), true},
		{"padded", "  " + digest + "\n", true},
		{"wrong", strings.Repeat("0", 64), false},
		{"empty", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := VerifyChecksum(data, tt.expected); got != tt.want {
				t.Errorf("VerifyChecksum = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCopyProgress(t *testing.T) {
	data := bytes.Repeat([]byte("x"), 100_000)
	var events []Progress
	opts := Options{Progress: func(p Progress) { events = append(events, p) }}

	var dst bytes.Buffer
	n, err := Copy(context.Background(), &dst, bytes.NewReader(data), int64(len(data)), DefaultChunkSize, opts)
	if err != nil {
		t.Fatalf("Copy: %v", err)
	}
	if n != int64(len(data)) || dst.Len() != len(data) {
		t.Fatalf("copied %d bytes (buffer %d), want %d", n, dst.Len(), len(data))
	}
	if len(events) != 4 {
		t.Fatalf("got %d progress events, want 4", len(events))
	}
	for i := 1; i < len(events); i++ {
		if events[i].Percentage < events[i-1].Percentage {
			t.Errorf("progress went backwards: %v then %v", events[i-1].Percentage, events[i].Percentage)
		}
	}
	last := events[len(events)-1]
	if last.Percentage != 100 || last.BytesDownloaded != last.TotalBytes {
		t.Errorf("last event = %+v, want 100%% with downloaded == total", last)
	}
}

func TestCopyUnknownSize(t *testing.T) {
	var events []Progress
	opts := Options{Progress: func(p Progress) { events = append(events, p) }}

	_, err := Copy(context.Background(), &bytes.Buffer{}, strings.NewReader("hello"), -1, 2, opts)
	if err != nil {
		t.Fatalf("Copy: %v", err)
	}
	if events[0].Percentage != -1 || events[0].TotalBytes != -1 {
		t.Errorf("first event = %+v, want unknown total", events[0])
	}
	last := events[len(events)-1]
	if last != (Progress{BytesDownloaded: 5, TotalBytes: 5, Percentage: 100}) {
		t.Errorf("last event = %+v", last)
	}
}

func TestCopyCancel(t *testing.T) {
	data := bytes.Repeat([]byte("y"), 10*DefaultChunkSize)
	var cancel atomic.Bool
	opts := Options{
		Cancel:   &cancel,
		Progress: func(Progress) { cancel.Store(true) },
	}

	n, err := Copy(context.Background(), &bytes.Buffer{}, bytes.NewReader(data), int64(len(data)), DefaultChunkSize, opts)
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("err = %v, want ErrCancelled", err)
	}
	if n >= int64(len(data)) {
		t.Errorf("copied %d bytes, want fewer than %d", n, len(data))
	}
}

func TestCopyShortBody(t *testing.T) {
	_, err := Copy(context.Background(), &bytes.Buffer{}, strings.NewReader("abc"), 10, 0, Options{})
	if !errors.Is(err, ErrDownload) {
		t.Fatalf("err = %v, want ErrDownload", err)
	}
}

func serveBytes(t *testing.T, files map[string][]byte) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := files[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Length", strconv.Itoa(len(body)))
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestDownload(t *testing.T) {
	body := bytes.Repeat([]byte("z"), 3*DefaultChunkSize+7)
	srv := serveBytes(t, map[string][]byte{"/server.bin": body})

	var last Progress
	var dst bytes.Buffer
	sum, err := Download(context.Background(), srv.Client(), srv.URL+"/server.bin", &dst,
		Options{Progress: func(p Progress) { last = p }})
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	want := sha256.Sum256(body)
	if !bytes.Equal(sum, want[:]) {
		t.Errorf("digest = %x, want %x", sum, want)
	}
	if !bytes.Equal(dst.Bytes(), body) {
		t.Error("downloaded body differs")
	}
	if last.Percentage != 100 || last.BytesDownloaded != int64(len(body)) {
		t.Errorf("last progress = %+v", last)
	}
}

func TestDownloadNotFound(t *testing.T) {
	srv := serveBytes(t, nil)
	_, err := Download(context.Background(), srv.Client(), srv.URL+"/missing", &bytes.Buffer{}, Options{})
	if !errors.Is(err, ErrDownload) {
		t.Fatalf("err = %v, want ErrDownload", err)
	}
}

func TestFetchSidecar(t *testing.T) {
	digest := strings.Repeat("ab", 32)
	srv := serveBytes(t, map[string][]byte{
		"/ok.sha256":  []byte(digest + "  server.tar.gz\n"),
		"/bad.sha256": []byte("not-a-digest\n"),
	})

	got, err := fetchSidecar(context.Background(), srv.Client(), srv.URL+"/ok.sha256")
	if err != nil || got != digest {
		t.Fatalf("fetchSidecar = (%q, %v), want %q", got, err, digest)
	}
	if _, err := fetchSidecar(context.Background(), srv.Client(), srv.URL+"/bad.sha256"); err == nil {
		t.Error("expected error for malformed sidecar")
	}
}
