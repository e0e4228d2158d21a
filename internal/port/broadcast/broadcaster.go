// Package broadcast defines the port for pushing LSP events to observers
// such as a WebSocket status display or a NATS subject.
package broadcast

import (
	"context"

	lspDomain "github.com/Strob0t/forgelsp/internal/domain/lsp"
)

// Broadcaster sends real-time events to all connected observers.
type Broadcaster interface {
	// BroadcastEvent sends a typed event. Implementations must not block
	// on slow observers.
	BroadcastEvent(ctx context.Context, eventType string, payload any)
}

// Event types.
const (
	EventLSPStatus      = "lsp.status"
	EventLSPDiagnostics = "lsp.diagnostics"
	EventLSPError       = "lsp.error"
)

// StatusEvent is broadcast on every server status change.
type StatusEvent struct {
	Status lspDomain.ServerStatus `json:"status"`
}

// DiagnosticsEvent carries the full diagnostics list for one file.
type DiagnosticsEvent struct {
	File        string                 `json:"file"`
	Language    lspDomain.Language     `json:"language"`
	Diagnostics []lspDomain.Diagnostic `json:"diagnostics"`
}

// ErrorEvent wraps an LSP service error.
type ErrorEvent struct {
	Error lspDomain.ErrorEvent `json:"error"`
}

// Multi fans an event out to several broadcasters.
type Multi []Broadcaster

func (m Multi) BroadcastEvent(ctx context.Context, eventType string, payload any) {
	for _, b := range m {
		b.BroadcastEvent(ctx, eventType, payload)
	}
}
