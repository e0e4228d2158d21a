package service

import (
	"slices"
	"sort"
	"sync"
	"time"

	lspDomain "github.com/Strob0t/forgelsp/internal/domain/lsp"
)

// DiagnosticsState is the process-wide index of diagnostics per file and
// status per language server.
type DiagnosticsState struct {
	mu          sync.RWMutex
	maxPerFile  int
	files       map[string][]lspDomain.Diagnostic
	statuses    map[lspDomain.Language]lspDomain.ServerStatus
	lastUpdated time.Time
}

// NewDiagnosticsState creates an empty index. maxPerFile <= 0 keeps every
// diagnostic.
func NewDiagnosticsState(maxPerFile int) *DiagnosticsState {
	return &DiagnosticsState{
		maxPerFile: maxPerFile,
		files:      make(map[string][]lspDomain.Diagnostic),
		statuses:   make(map[lspDomain.Language]lspDomain.ServerStatus),
	}
}

// Update replaces the diagnostics of file. An empty list removes the entry.
func (d *DiagnosticsState) Update(file string, diags []lspDomain.Diagnostic) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.lastUpdated = time.Now()
	if len(diags) == 0 {
		delete(d.files, file)
		return
	}
	if d.maxPerFile > 0 && len(diags) > d.maxPerFile {
		diags = diags[:d.maxPerFile]
	}
	d.files[file] = slices.Clone(diags)
}

// UpdateServerStatus replaces the status entry of status.Language.
func (d *DiagnosticsState) UpdateServerStatus(status lspDomain.ServerStatus) {
	d.mu.Lock()
	d.statuses[status.Language] = status
	d.mu.Unlock()
}

// Query returns diagnostics ordered by file path, then publish order.
func (d *DiagnosticsState) Query(q lspDomain.DiagnosticsQuery) []lspDomain.Diagnostic {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var files []string
	if q.File != "" {
		if _, ok := d.files[q.File]; ok {
			files = []string{q.File}
		}
	} else {
		files = make([]string, 0, len(d.files))
		for f := range d.files {
			files = append(files, f)
		}
		sort.Strings(files)
	}

	out := []lspDomain.Diagnostic{}
	for _, f := range files {
		for _, diag := range d.files[f] {
			if len(q.Severities) > 0 && !slices.Contains(q.Severities, diag.Severity) {
				continue
			}
			out = append(out, diag)
			if q.Limit > 0 && len(out) == q.Limit {
				return out
			}
		}
	}
	return out
}

// Statuses returns the known server statuses sorted by language.
func (d *DiagnosticsState) Statuses() []lspDomain.ServerStatus {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]lspDomain.ServerStatus, 0, len(d.statuses))
	for _, s := range d.statuses {
		out = append(out, s)
	}
	sortStatuses(out)
	return out
}

func sortStatuses(statuses []lspDomain.ServerStatus) {
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].Language < statuses[j].Language })
}

// ServerStatus returns the recorded status of lang.
func (d *DiagnosticsState) ServerStatus(lang lspDomain.Language) (lspDomain.ServerStatus, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	s, ok := d.statuses[lang]
	return s, ok
}

// LastUpdated returns the time of the last Update. Zero before the first.
func (d *DiagnosticsState) LastUpdated() time.Time {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.lastUpdated
}

// fileCount returns the number of files with diagnostics.
func (d *DiagnosticsState) fileCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.files)
}
