// Package lsp defines domain types for Language Server Protocol integration.
// These types represent LSP concepts (diagnostics, positions, server status) in a
// transport-independent way for use across the service and adapter layers.
package lsp

import "time"

// Position in a text document (0-based line and character).
type Position struct {
	Line      int `json:"line"`
	Character int `json:"character"`
}

// Range in a text document.
type Range struct {
	Start Position `json:"start"`
	End   Position `json:"end"`
}

// Severity is the closed set of diagnostic severities.
type Severity string

const (
	SeverityError       Severity = "error"
	SeverityWarning     Severity = "warning"
	SeverityInformation Severity = "information"
	SeverityHint        Severity = "hint"
)

// Wire values of LSP DiagnosticSeverity.
const (
	wireSeverityError       = 1
	wireSeverityWarning     = 2
	wireSeverityInformation = 3
	wireSeverityHint        = 4
)

// SeverityFromWire maps the numeric LSP severity to a Severity.
// Absent or unknown values map to SeverityError.
func SeverityFromWire(n int) Severity {
	switch n {
	case wireSeverityWarning:
		return SeverityWarning
	case wireSeverityInformation:
		return SeverityInformation
	case wireSeverityHint:
		return SeverityHint
	default:
		return SeverityError
	}
}

// ParseSeverity converts a user-supplied severity name. Unknown names return false.
func ParseSeverity(s string) (Severity, bool) {
	switch Severity(s) {
	case SeverityError, SeverityWarning, SeverityInformation, SeverityHint:
		return Severity(s), true
	case "info":
		return SeverityInformation, true
	}
	return "", false
}

// Diagnostic represents a compiler/linter diagnostic for one file.
type Diagnostic struct {
	File     string   `json:"file"`
	Range    Range    `json:"range"`
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
	Source   string   `json:"source"`
	Code     string   `json:"code,omitempty"`
}

// DiagnosticsQuery filters a diagnostics lookup. Zero values mean "no filter".
type DiagnosticsQuery struct {
	File       string     `json:"file,omitempty"`
	Severities []Severity `json:"severities,omitempty"`
	Limit      int        `json:"limit,omitempty"`
}

// ServerState represents the lifecycle state of a language server.
type ServerState string

const (
	ServerStateStopped  ServerState = "stopped"
	ServerStateStarting ServerState = "starting"
	ServerStateRunning  ServerState = "running"
	ServerStateError    ServerState = "error"
)

// ServerStatus describes one language server.
type ServerStatus struct {
	Language     Language    `json:"language"`
	State        ServerState `json:"status"`
	PID          int         `json:"pid,omitempty"`
	Error        string      `json:"error,omitempty"`
	LastActivity *time.Time  `json:"last_activity,omitempty"`
}

// ErrorType classifies errors reported by the LSP service.
type ErrorType string

const (
	ErrorTypeStartup      ErrorType = "startup"
	ErrorTypeNotification ErrorType = "notification"
	ErrorTypeClient       ErrorType = "client"
)

// ErrorEvent is delivered to error listeners.
type ErrorEvent struct {
	ID        string    `json:"id"`
	Type      ErrorType `json:"type"`
	Language  Language  `json:"language,omitempty"`
	FilePath  string    `json:"file_path,omitempty"`
	Err       error     `json:"-"`
	Message   string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}
