// Package languageserver defines the port the LSP service uses to drive
// one language server process.
package languageserver

import (
	"context"

	lspDomain "github.com/Strob0t/forgelsp/internal/domain/lsp"
)

// Client is a single language server connection.
type Client interface {
	Language() lspDomain.Language
	Status() lspDomain.ServerStatus

	Start(ctx context.Context) error
	Stop(ctx context.Context) error

	NotifyFileOpened(ctx context.Context, path, content string) error
	NotifyFileChanged(ctx context.Context, path, content string) error
	NotifyFileClosed(ctx context.Context, path string) error

	OnDiagnostics(fn func(file string, diags []lspDomain.Diagnostic)) (unsubscribe func())
	OnStatus(fn func(lspDomain.ServerStatus)) (unsubscribe func())
	// OnExit fires when the process exits without being stopped.
	OnExit(fn func(err error)) (unsubscribe func())
}

// Factory creates a stopped client for a server language.
type Factory func(lang lspDomain.Language) (Client, error)
