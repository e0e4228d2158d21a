package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Strob0t/forgelsp/internal/adapter/fswatch"
	flhttp "github.com/Strob0t/forgelsp/internal/adapter/http"
	"github.com/Strob0t/forgelsp/internal/adapter/ws"
	lspDomain "github.com/Strob0t/forgelsp/internal/domain/lsp"
	"github.com/Strob0t/forgelsp/internal/port/broadcast"
)

func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	addr := fs.String("addr", "", "listen address (default: server.addr)")
	watch := fs.Bool("watch", false, "also forward workspace file writes")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	listen := a.cfg.Server.Addr
	if *addr != "" {
		listen = *addr
	}

	hub := ws.NewHub(a.logger)
	hub.SetSnapshot(func() []ws.Message { return snapshot(a.svc.GetStatus(), a.svc.GetDiagnostics(lspDomain.DiagnosticsQuery{})) })
	defer hub.Close()
	a.svc.AddBroadcaster(hub)

	handlers := &flhttp.Handlers{LSP: a.svc, Workspace: a.cfg.LSP.Workspace}
	router := flhttp.NewRouter(ctx, handlers, hub.HandleWS, a.cfg.Server, a.cfg.Telemetry.ServiceName, a.logger)

	srv := &http.Server{
		Addr:              listen,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.Info("starting server", "addr", listen)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen %s: %w", listen, err)
		}
		return nil
	})
	if *watch {
		w, err := fswatch.New(a.cfg.LSP.Workspace, a.svc, fswatch.Options{Logger: a.logger})
		if err != nil {
			return err
		}
		g.Go(func() error { return w.Run(gctx) })
	}
	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// snapshot builds the messages a new WebSocket client receives: one status
// event per server, then the current diagnostics grouped by file.
func snapshot(statuses []lspDomain.ServerStatus, diags []lspDomain.Diagnostic) []ws.Message {
	var msgs []ws.Message
	for _, st := range statuses {
		if msg, err := ws.NewMessage(broadcast.EventLSPStatus, broadcast.StatusEvent{Status: st}); err == nil {
			msgs = append(msgs, msg)
		}
	}
	for start := 0; start < len(diags); {
		end := start
		for end < len(diags) && diags[end].File == diags[start].File {
			end++
		}
		lang, _ := lspDomain.DetectLanguage(diags[start].File)
		ev := broadcast.DiagnosticsEvent{File: diags[start].File, Language: lang, Diagnostics: diags[start:end]}
		if msg, err := ws.NewMessage(broadcast.EventLSPDiagnostics, ev); err == nil {
			msgs = append(msgs, msg)
		}
		start = end
	}
	return msgs
}
