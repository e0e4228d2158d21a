package install

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// DefaultChunkSize is the download copy granularity; progress is reported
// and cancellation checked once per chunk.
const DefaultChunkSize = 32 * 1024

// VerifyChecksum reports whether the SHA-256 of data equals the hex digest
// expected. The comparison ignores case.
func VerifyChecksum(data []byte, expected string) bool {
	sum := sha256.Sum256(data)
	return matchDigest(sum[:], expected)
}

func matchDigest(sum []byte, expected string) bool {
	expected = strings.TrimSpace(expected)
	if expected == "" {
		return false
	}
	return strings.EqualFold(hex.EncodeToString(sum), expected)
}

// Copy copies src to dst in chunkSize pieces, reporting progress after each
// chunk and checking for cancellation before each one. total is the
// expected size or -1 when unknown. The last progress event always has
// BytesDownloaded == TotalBytes and Percentage == 100.
func Copy(ctx context.Context, dst io.Writer, src io.Reader, total int64, chunkSize int, opts Options) (int64, error) {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	buf := make([]byte, chunkSize)
	var written int64

	for {
		if opts.cancelled(ctx) {
			return written, fmt.Errorf("%w after %d bytes", ErrCancelled, written)
		}

		n, rerr := io.ReadFull(src, buf)
		if n > 0 {
			if _, err := dst.Write(buf[:n]); err != nil {
				return written, fmt.Errorf("write: %w", err)
			}
			written += int64(n)
			if total >= 0 {
				opts.report(Progress{BytesDownloaded: written, TotalBytes: total, Percentage: percent(written, total)})
			} else {
				opts.report(Progress{BytesDownloaded: written, TotalBytes: -1, Percentage: -1})
			}
		}
		if errors.Is(rerr, io.EOF) || errors.Is(rerr, io.ErrUnexpectedEOF) {
			break
		}
		if rerr != nil {
			if opts.cancelled(ctx) {
				return written, fmt.Errorf("%w after %d bytes", ErrCancelled, written)
			}
			return written, fmt.Errorf("%w: read: %v", ErrDownload, rerr)
		}
	}

	if total >= 0 && written != total {
		return written, fmt.Errorf("%w: got %d of %d bytes", ErrDownload, written, total)
	}
	if total < 0 || written == 0 {
		opts.report(Progress{BytesDownloaded: written, TotalBytes: written, Percentage: 100})
	}
	return written, nil
}

func percent(done, total int64) float64 {
	if total <= 0 {
		return 100
	}
	return float64(done) * 100 / float64(total)
}

// Download fetches url into dst and returns the SHA-256 of the body.
func Download(ctx context.Context, client *http.Client, url string, dst io.Writer, opts Options) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDownload, err)
	}
	resp, err := client.Do(req)
	if err != nil {
		if opts.cancelled(ctx) {
			return nil, ErrCancelled
		}
		return nil, fmt.Errorf("%w: %v", ErrDownload, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %s returned %s", ErrDownload, url, resp.Status)
	}

	h := sha256.New()
	if _, err := Copy(ctx, io.MultiWriter(dst, h), resp.Body, resp.ContentLength, DefaultChunkSize, opts); err != nil {
		return nil, err
	}
	return h.Sum(nil), nil
}

// fetchSidecar reads a published "<digest>  <name>" checksum file.
func fetchSidecar(ctx context.Context, client *http.Client, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return "", err
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%s returned %s", url, resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return "", err
	}
	fields := strings.Fields(string(body))
	if len(fields) == 0 || len(fields[0]) != sha256.Size*2 {
		return "", fmt.Errorf("%s: no sha256 digest", url)
	}
	return fields[0], nil
}
