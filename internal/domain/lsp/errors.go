package lsp

import "errors"

// Sentinel errors for LSP operations.
var (
	// ErrUnsupportedLanguage indicates no language server is configured for a file.
	ErrUnsupportedLanguage = errors.New("no language server for language")


	// ErrServerNotInstalled indicates the server binary is missing and auto-install is off.
	ErrServerNotInstalled = errors.New("language server not installed")

	// ErrNotRunning indicates the client has no live server process.
	ErrNotRunning = errors.New("language server not running")

	// ErrShuttingDown is returned to requests still pending when the client stops.
	ErrShuttingDown = errors.New("language server shutting down")

	// ErrRequestTimeout indicates a request got no response in time.
	ErrRequestTimeout = errors.New("language server request timed out")

	// ErrServerExited is returned to requests pending when the process exits.
	ErrServerExited = errors.New("language server exited")
)
