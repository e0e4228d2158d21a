package otel

import (
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// untracedPaths are long-lived connections whose spans carry no useful
// timing.
var untracedPaths = map[string]bool{
	"/ws": true,
}

// HTTPMiddleware returns a chi-compatible middleware that creates one span
// per request, named "<method> <path>". WebSocket upgrades are not traced.
func HTTPMiddleware(serviceName string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, serviceName,
			otelhttp.WithSpanNameFormatter(spanName),
			otelhttp.WithFilter(traced),
		)
	}
}

func spanName(_ string, r *http.Request) string {
	return r.Method + " " + r.URL.Path
}

func traced(r *http.Request) bool {
	return !untracedPaths[r.URL.Path]
}
