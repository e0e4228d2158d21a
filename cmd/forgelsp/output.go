package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"text/tabwriter"

	"golang.org/x/term"

	lspDomain "github.com/Strob0t/forgelsp/internal/domain/lsp"
	"github.com/Strob0t/forgelsp/internal/port/broadcast"
)

// useJSON reports whether output should be JSON: when forced or when
// stdout is not a terminal.
func useJSON(forced bool) bool {
	return forced || !term.IsTerminal(int(os.Stdout.Fd())) //nolint:gosec // G115: fd fits in int
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// relPath shortens path for display when it lies inside base.
func relPath(base, path string) string {
	if base == "" {
		return path
	}
	rel, err := filepath.Rel(base, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return path
	}
	return rel
}

// printDiagnostics writes diagnostics as a table, with 1-based positions.
func printDiagnostics(w io.Writer, base string, diags []lspDomain.Diagnostic) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for i := range diags {
		d := &diags[i]
		code := d.Code
		if code == "" {
			code = "-"
		}
		_, _ = fmt.Fprintf(tw, "%s:%d:%d\t%s\t%s\t%s\t%s\n",
			relPath(base, d.File), d.Range.Start.Line+1, d.Range.Start.Character+1,
			d.Severity, d.Source, code, firstLine(d.Message))
	}
	return tw.Flush()
}

func printStatuses(w io.Writer, statuses []lspDomain.ServerStatus) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "LANGUAGE\tSTATUS\tPID\tERROR")
	for _, s := range statuses {
		pid := "-"
		if s.PID > 0 {
			pid = fmt.Sprint(s.PID)
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", s.Language, s.State, pid, s.Error)
	}
	return tw.Flush()
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func countErrors(diags []lspDomain.Diagnostic) int {
	n := 0
	for i := range diags {
		if diags[i].Severity == lspDomain.SeverityError {
			n++
		}
	}
	return n
}

// diagnosticsPrinter prints every diagnostics event as it arrives.
type diagnosticsPrinter struct {
	mu   sync.Mutex
	w    io.Writer
	base string
	json bool
}

var _ broadcast.Broadcaster = (*diagnosticsPrinter)(nil)

func (p *diagnosticsPrinter) BroadcastEvent(_ context.Context, eventType string, payload any) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch ev := payload.(type) {
	case broadcast.DiagnosticsEvent:
		if p.json {
			_ = json.NewEncoder(p.w).Encode(map[string]any{"type": eventType, "payload": ev})
			return
		}
		if len(ev.Diagnostics) == 0 {
			_, _ = fmt.Fprintf(p.w, "%s: clean\n", relPath(p.base, ev.File))
			return
		}
		_ = printDiagnostics(p.w, p.base, ev.Diagnostics)
	case broadcast.StatusEvent:
		if p.json {
			_ = json.NewEncoder(p.w).Encode(map[string]any{"type": eventType, "payload": ev})
			return
		}
		if ev.Status.State == lspDomain.ServerStateError {
			_, _ = fmt.Fprintf(p.w, "%s server error: %s\n", ev.Status.Language, ev.Status.Error)
		}
	}
}
