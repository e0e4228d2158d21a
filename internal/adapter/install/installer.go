// Package install downloads, verifies and locates language server binaries.
package install

import (
	"context"
	"errors"
	"sync/atomic"

	lspDomain "github.com/Strob0t/forgelsp/internal/domain/lsp"
)

// Installer errors. errors.Is distinguishes every failure class.
var (
	ErrChecksumMismatch = errors.New("checksum mismatch")
	ErrChecksumUnknown  = errors.New("no known checksum for artifact")
	ErrCancelled        = errors.New("install cancelled")
	ErrDownload         = errors.New("download failed")
	ErrToolchainMissing = errors.New("required toolchain not found")
)

// Progress reports download progress. TotalBytes and Percentage are -1
// when the size is unknown.
type Progress struct {
	BytesDownloaded int64   `json:"bytes_downloaded"`
	TotalBytes      int64   `json:"total_bytes"`
	Percentage      float64 `json:"percentage"`
}

// Options controls a single install. Both fields are optional.
type Options struct {
	Progress func(Progress)
	Cancel   *atomic.Bool
}

func (o Options) report(p Progress) {
	if o.Progress != nil {
		o.Progress(p)
	}
}

func (o Options) cancelled(ctx context.Context) bool {
	if o.Cancel != nil && o.Cancel.Load() {
		return true
	}
	return ctx.Err() != nil
}

// Installer provisions one language server.
type Installer interface {
	Language() lspDomain.Language
	Version() string
	// IsInstalled is a cheap file-existence check.
	IsInstalled() bool
	Install(ctx context.Context, opts Options) error
	// ServerCommand returns the argv that launches the installed server.
	ServerCommand() ([]string, error)
}
