package otel

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "forgelsp"

// Metrics holds all forgelsp metric instruments. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	ServerStarts       metric.Int64Counter
	ServerFailures     metric.Int64Counter
	Requests           metric.Int64Counter
	RequestTimeouts    metric.Int64Counter
	LateResponses      metric.Int64Counter
	RequestDuration    metric.Float64Histogram
	Notifications      metric.Int64Counter
	DiagnosticsEvents  metric.Int64Counter
	MalformedMessages  metric.Int64Counter
	InstallDuration    metric.Float64Histogram
	DebouncedDelivered metric.Int64Counter
}

// NewMetrics creates all metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.ServerStarts, err = meter.Int64Counter("forgelsp.server.starts",
		metric.WithDescription("Number of language servers started"))
	if err != nil {
		return nil, err
	}

	m.ServerFailures, err = meter.Int64Counter("forgelsp.server.failures",
		metric.WithDescription("Number of language server start failures and crashes"))
	if err != nil {
		return nil, err
	}

	m.Requests, err = meter.Int64Counter("forgelsp.requests",
		metric.WithDescription("Number of JSON-RPC requests sent"))
	if err != nil {
		return nil, err
	}

	m.RequestTimeouts, err = meter.Int64Counter("forgelsp.requests.timeouts",
		metric.WithDescription("Number of JSON-RPC requests that timed out"))
	if err != nil {
		return nil, err
	}

	m.LateResponses, err = meter.Int64Counter("forgelsp.responses.late",
		metric.WithDescription("Number of responses that arrived after their request timed out"))
	if err != nil {
		return nil, err
	}

	m.RequestDuration, err = meter.Float64Histogram("forgelsp.request.duration_seconds",
		metric.WithDescription("JSON-RPC request round-trip time in seconds"))
	if err != nil {
		return nil, err
	}

	m.Notifications, err = meter.Int64Counter("forgelsp.notifications",
		metric.WithDescription("Number of document notifications sent"))
	if err != nil {
		return nil, err
	}

	m.DiagnosticsEvents, err = meter.Int64Counter("forgelsp.diagnostics.published",
		metric.WithDescription("Number of publishDiagnostics notifications received"))
	if err != nil {
		return nil, err
	}

	m.MalformedMessages, err = meter.Int64Counter("forgelsp.messages.malformed",
		metric.WithDescription("Number of discarded headers and unparsable message bodies"))
	if err != nil {
		return nil, err
	}

	m.InstallDuration, err = meter.Float64Histogram("forgelsp.install.duration_seconds",
		metric.WithDescription("Language server install duration in seconds"))
	if err != nil {
		return nil, err
	}

	m.DebouncedDelivered, err = meter.Int64Counter("forgelsp.debounce.delivered",
		metric.WithDescription("Number of debounced change notifications delivered"))
	if err != nil {
		return nil, err
	}

	return m, nil
}

func langAttr(language string) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("language", language))
}

// ServerStarted records a successful server start.
func (m *Metrics) ServerStarted(ctx context.Context, language string) {
	if m == nil {
		return
	}
	m.ServerStarts.Add(ctx, 1, langAttr(language))
}

// ServerFailed records a start failure or crash.
func (m *Metrics) ServerFailed(ctx context.Context, language, reason string) {
	if m == nil {
		return
	}
	m.ServerFailures.Add(ctx, 1, metric.WithAttributes(
		attribute.String("language", language),
		attribute.String("reason", reason),
	))
}

// RequestCompleted records one request round trip.
func (m *Metrics) RequestCompleted(ctx context.Context, language, method string, d time.Duration, timedOut bool) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("language", language),
		attribute.String("method", method),
	)
	m.Requests.Add(ctx, 1, attrs)
	m.RequestDuration.Record(ctx, d.Seconds(), attrs)
	if timedOut {
		m.RequestTimeouts.Add(ctx, 1, attrs)
	}
}

// LateResponse records a response for a request that already timed out.
func (m *Metrics) LateResponse(ctx context.Context, language string) {
	if m == nil {
		return
	}
	m.LateResponses.Add(ctx, 1, langAttr(language))
}

// NotificationSent records a didOpen/didChange/didClose notification.
func (m *Metrics) NotificationSent(ctx context.Context, language, method string) {
	if m == nil {
		return
	}
	m.Notifications.Add(ctx, 1, metric.WithAttributes(
		attribute.String("language", language),
		attribute.String("method", method),
	))
}

// DiagnosticsPublished records one publishDiagnostics notification.
func (m *Metrics) DiagnosticsPublished(ctx context.Context, language string) {
	if m == nil {
		return
	}
	m.DiagnosticsEvents.Add(ctx, 1, langAttr(language))
}

// MalformedMessage records a discarded header or an unparsable body.
func (m *Metrics) MalformedMessage(ctx context.Context, language, kind string) {
	if m == nil {
		return
	}
	m.MalformedMessages.Add(ctx, 1, metric.WithAttributes(
		attribute.String("language", language),
		attribute.String("kind", kind),
	))
}

// InstallCompleted records an install attempt.
func (m *Metrics) InstallCompleted(ctx context.Context, language string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.InstallDuration.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String("language", language),
		attribute.Bool("success", err == nil),
	))
}

// DebounceDelivered records a debounced change that reached its client.
func (m *Metrics) DebounceDelivered(ctx context.Context, language string) {
	if m == nil {
		return
	}
	m.DebouncedDelivered.Add(ctx, 1, langAttr(language))
}
