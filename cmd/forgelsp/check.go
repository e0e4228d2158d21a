package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	lspDomain "github.com/Strob0t/forgelsp/internal/domain/lsp"
	"github.com/Strob0t/forgelsp/internal/port/broadcast"
)

// fileWaiter records which files have had diagnostics published.
type fileWaiter struct {
	mu      sync.Mutex
	pending map[string]struct{}
	done    chan struct{}
}

func newFileWaiter(files []string) *fileWaiter {
	w := &fileWaiter{pending: make(map[string]struct{}, len(files)), done: make(chan struct{})}
	for _, f := range files {
		w.pending[f] = struct{}{}
	}
	if len(files) == 0 {
		close(w.done)
	}
	return w
}

func (w *fileWaiter) BroadcastEvent(_ context.Context, eventType string, payload any) {
	if eventType != broadcast.EventLSPDiagnostics {
		return
	}
	ev, ok := payload.(broadcast.DiagnosticsEvent)
	if !ok {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.pending[ev.File]; !ok {
		return
	}
	delete(w.pending, ev.File)
	if len(w.pending) == 0 {
		close(w.done)
	}
}

func runCheck(args []string) error {
	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	wait := fs.Duration("wait", 10*time.Second, "maximum time to wait for diagnostics")
	asJSON := fs.Bool("json", false, "print JSON even on a terminal")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return fmt.Errorf("check needs at least one file")
	}

	ctx, stop := signalContext()
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	var files []string
	for _, arg := range fs.Args() {
		abs, err := filepath.Abs(arg)
		if err != nil {
			return fmt.Errorf("resolve %s: %w", arg, err)
		}
		if !lspDomain.IsSupported(abs) {
			fmt.Fprintf(os.Stderr, "skipping %s: no language server\n", arg)
			continue
		}
		files = append(files, abs)
	}

	waiter := newFileWaiter(files)
	a.svc.AddBroadcaster(waiter)

	for _, f := range files {
		content, err := os.ReadFile(f) //nolint:gosec // G304: files named on the command line
		if err != nil {
			return fmt.Errorf("read %s: %w", f, err)
		}
		if err := a.svc.NotifyFileOpened(ctx, f, string(content)); err != nil {
			return fmt.Errorf("open %s: %w", f, err)
		}
	}

	timer := time.NewTimer(*wait)
	defer timer.Stop()
	select {
	case <-waiter.done:
	case <-timer.C:
		a.logger.Warn("timed out waiting for diagnostics", "wait", wait.String())
	case <-ctx.Done():
		return ctx.Err()
	}

	if failed := failedServers(a.svc.GetStatus()); len(failed) > 0 {
		_ = printStatuses(os.Stderr, failed)
	}

	var diags []lspDomain.Diagnostic
	for _, f := range files {
		diags = append(diags, a.svc.GetDiagnostics(lspDomain.DiagnosticsQuery{File: f})...)
	}

	if useJSON(*asJSON) {
		if diags == nil {
			diags = []lspDomain.Diagnostic{}
		}
		if err := writeJSON(os.Stdout, diags); err != nil {
			return err
		}
	} else if err := printDiagnostics(os.Stdout, a.cfg.LSP.Workspace, diags); err != nil {
		return err
	}

	if countErrors(diags) > 0 {
		return errDiagnostics
	}
	return nil
}

func failedServers(statuses []lspDomain.ServerStatus) []lspDomain.ServerStatus {
	var out []lspDomain.ServerStatus
	for _, s := range statuses {
		if s.State == lspDomain.ServerStateError {
			out = append(out, s)
		}
	}
	return out
}
