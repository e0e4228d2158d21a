package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "forgelsp"

// StartServerSpan starts a span covering spawn and the initialize handshake.
func StartServerSpan(ctx context.Context, language string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "lsp.server.start",
		trace.WithAttributes(attribute.String("lsp.language", language)),
	)
}

// SetServerPID records the spawned server's process id on span.
func SetServerPID(span trace.Span, pid int) {
	span.SetAttributes(attribute.Int("lsp.server_pid", pid))
}

// StartInstallSpan starts a span for a language server install.
func StartInstallSpan(ctx context.Context, language, version string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "lsp.install",
		trace.WithAttributes(
			attribute.String("lsp.language", language),
			attribute.String("lsp.server_version", version),
		),
	)
}

// EndSpan records err on span (if any) and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
