package service

import (
	"testing"

	lspDomain "github.com/Strob0t/forgelsp/internal/domain/lsp"
)

func diag(file, msg string, sev lspDomain.Severity) lspDomain.Diagnostic {
	return lspDomain.Diagnostic{File: file, Message: msg, Severity: sev, Source: "test"}
}

func messages(diags []lspDomain.Diagnostic) []string {
	out := make([]string, len(diags))
	for i, d := range diags {
		out[i] = d.Message
	}
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestDiagnosticsStateQuery(t *testing.T) {
	s := NewDiagnosticsState(0)
	s.Update("b.ts", []lspDomain.Diagnostic{
		diag("b.ts", "b1", lspDomain.SeverityError),
		diag("b.ts", "b2", lspDomain.SeverityHint),
	})
	s.Update("a.ts", []lspDomain.Diagnostic{
		diag("a.ts", "a1", lspDomain.SeverityWarning),
		diag("a.ts", "a2", lspDomain.SeverityError),
	})

	tests := []struct {
		name string
		q    lspDomain.DiagnosticsQuery
		want []string
	}{
		{"all ordered by file then publish order", lspDomain.DiagnosticsQuery{}, []string{"a1", "a2", "b1", "b2"}},
		{"exact file", lspDomain.DiagnosticsQuery{File: "b.ts"}, []string{"b1", "b2"}},
		{"unknown file", lspDomain.DiagnosticsQuery{File: "c.ts"}, []string{}},
		{"severity set", lspDomain.DiagnosticsQuery{Severities: []lspDomain.Severity{lspDomain.SeverityError}}, []string{"a2", "b1"}},
		{"limit", lspDomain.DiagnosticsQuery{Limit: 3}, []string{"a1", "a2", "b1"}},
		{"filters combined", lspDomain.DiagnosticsQuery{
			File:       "a.ts",
			Severities: []lspDomain.Severity{lspDomain.SeverityError, lspDomain.SeverityWarning},
			Limit:      1,
		}, []string{"a1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := messages(s.Query(tt.q))
			if !equalStrings(got, tt.want) {
				t.Errorf("Query = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDiagnosticsStateUpdateReplaces(t *testing.T) {
	s := NewDiagnosticsState(2)
	if !s.LastUpdated().IsZero() {
		t.Fatal("LastUpdated set before first update")
	}

	s.Update("a.ts", []lspDomain.Diagnostic{
		diag("a.ts", "1", lspDomain.SeverityError),
		diag("a.ts", "2", lspDomain.SeverityError),
		diag("a.ts", "3", lspDomain.SeverityError),
	})
	first := s.LastUpdated()
	if got := messages(s.Query(lspDomain.DiagnosticsQuery{})); !equalStrings(got, []string{"1", "2"}) {
		t.Errorf("truncated = %v", got)
	}

	s.Update("a.ts", []lspDomain.Diagnostic{diag("a.ts", "4", lspDomain.SeverityError)})
	if got := messages(s.Query(lspDomain.DiagnosticsQuery{})); !equalStrings(got, []string{"4"}) {
		t.Errorf("after replace = %v", got)
	}
	if s.LastUpdated().Before(first) {
		t.Error("LastUpdated went backwards")
	}

	s.Update("a.ts", nil)
	if s.fileCount() != 0 {
		t.Errorf("files = %d after clearing, want 0", s.fileCount())
	}
}

func TestDiagnosticsStateReturnsCopies(t *testing.T) {
	s := NewDiagnosticsState(0)
	in := []lspDomain.Diagnostic{diag("a.ts", "orig", lspDomain.SeverityError)}
	s.Update("a.ts", in)
	in[0].Message = "mutated"

	out := s.Query(lspDomain.DiagnosticsQuery{})
	out[0].Message = "mutated too"
	if got := s.Query(lspDomain.DiagnosticsQuery{})[0].Message; got != "orig" {
		t.Errorf("stored message = %q, want orig", got)
	}
}

func TestDiagnosticsStateStatuses(t *testing.T) {
	s := NewDiagnosticsState(0)
	s.UpdateServerStatus(lspDomain.ServerStatus{Language: lspDomain.LanguageRust, State: lspDomain.ServerStateStarting})
	s.UpdateServerStatus(lspDomain.ServerStatus{Language: lspDomain.LanguageGo, State: lspDomain.ServerStateRunning, PID: 10})
	s.UpdateServerStatus(lspDomain.ServerStatus{Language: lspDomain.LanguageRust, State: lspDomain.ServerStateError, Error: "boom"})

	got := s.Statuses()
	if len(got) != 2 {
		t.Fatalf("got %d statuses, want 2", len(got))
	}
	if got[0].Language != lspDomain.LanguageGo || got[1].Language != lspDomain.LanguageRust {
		t.Errorf("order = %s, %s", got[0].Language, got[1].Language)
	}
	if got[1].State != lspDomain.ServerStateError || got[1].Error != "boom" {
		t.Errorf("rust status = %+v", got[1])
	}
}
