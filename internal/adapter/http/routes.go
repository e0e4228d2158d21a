package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	flotel "github.com/Strob0t/forgelsp/internal/adapter/otel"
	"github.com/Strob0t/forgelsp/internal/config"
	"github.com/Strob0t/forgelsp/internal/middleware"
)

// NewRouter builds the status surface. ws may be nil to disable GET /ws.
// The rate limiter's eviction loop stops with ctx.
func NewRouter(ctx context.Context, h *Handlers, ws http.HandlerFunc, cfg config.Server, serviceName string, log *slog.Logger) chi.Router {
	r := chi.NewRouter()
	r.Use(flotel.HTTPMiddleware(serviceName))
	r.Use(middleware.RequestID)
	r.Use(Logger(log))
	r.Use(SecurityHeaders)
	r.Use(CORS(cfg.CORSOrigin))

	var limiter *middleware.RateLimiter
	if cfg.RateLimit > 0 {
		limiter = middleware.NewRateLimiter(cfg.RateLimit, cfg.RateBurst)
		go limiter.Run(ctx, time.Minute, 10*time.Minute)
	}

	MountRoutes(r, h, ws, limiter)
	return r
}

// MountRoutes registers the LSP routes on r. limiter, when set, guards the
// file notification endpoints.
func MountRoutes(r chi.Router, h *Handlers, ws http.HandlerFunc, limiter *middleware.RateLimiter) {
	r.Get("/status", h.GetStatus)
	r.Get("/diagnostics", h.GetDiagnostics)

	r.Route("/files", func(r chi.Router) {
		if limiter != nil {
			r.Use(limiter.Handler)
		}
		r.Post("/open", h.OpenFile)
		r.Post("/change", h.ChangeFile)
		r.Post("/close", h.CloseFile)
	})

	if ws != nil {
		r.Get("/ws", ws)
	}
}
