package http

import (
	"context"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	lspDomain "github.com/Strob0t/forgelsp/internal/domain/lsp"
)

// LSPService is the part of the service the HTTP surface drives.
type LSPService interface {
	NotifyFileOpened(ctx context.Context, path, content string) error
	NotifyFileChanged(path, content string)
	NotifyFileClosed(ctx context.Context, path string) error
	GetDiagnostics(q lspDomain.DiagnosticsQuery) []lspDomain.Diagnostic
	GetStatus() []lspDomain.ServerStatus
}

// Handlers holds the HTTP handlers. Relative paths in requests resolve
// against Workspace.
type Handlers struct {
	LSP       LSPService
	Workspace string
}

type statusResponse struct {
	Servers []lspDomain.ServerStatus `json:"servers"`
}

type diagnosticsResponse struct {
	Diagnostics []lspDomain.Diagnostic `json:"diagnostics"`
	Count       int                    `json:"count"`
}

// FileRequest is the body of the /files endpoints. Content is ignored on close.
type FileRequest struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// GetStatus handles GET /status.
func (h *Handlers) GetStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{Servers: h.LSP.GetStatus()})
}

// GetDiagnostics handles GET /diagnostics?file=&severity=&limit=.
// severity accepts a comma separated list and may repeat.
func (h *Handlers) GetDiagnostics(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	q := lspDomain.DiagnosticsQuery{}

	if f := query.Get("file"); f != "" {
		q.File = h.resolve(f)
	}
	for _, raw := range query["severity"] {
		for _, name := range strings.Split(raw, ",") {
			name = strings.TrimSpace(name)
			if name == "" {
				continue
			}
			sev, ok := lspDomain.ParseSeverity(strings.ToLower(name))
			if !ok {
				writeError(w, http.StatusBadRequest, "unknown severity: "+name)
				return
			}
			q.Severities = append(q.Severities, sev)
		}
	}
	if l := query.Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		q.Limit = n
	}

	diags := h.LSP.GetDiagnostics(q)
	writeJSON(w, http.StatusOK, diagnosticsResponse{Diagnostics: diags, Count: len(diags)})
}

// OpenFile handles POST /files/open.
func (h *Handlers) OpenFile(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[FileRequest](w, r, maxRequestBodySize)
	if !ok || !requireField(w, req.Path, "path") {
		return
	}
	if err := h.LSP.NotifyFileOpened(r.Context(), h.resolve(req.Path), req.Content); err != nil {
		writeLSPError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ChangeFile handles POST /files/change. The change is debounced, so the
// response only acknowledges receipt.
func (h *Handlers) ChangeFile(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[FileRequest](w, r, maxRequestBodySize)
	if !ok || !requireField(w, req.Path, "path") {
		return
	}
	h.LSP.NotifyFileChanged(h.resolve(req.Path), req.Content)
	w.WriteHeader(http.StatusAccepted)
}

// CloseFile handles POST /files/close.
func (h *Handlers) CloseFile(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[FileRequest](w, r, maxRequestBodySize)
	if !ok || !requireField(w, req.Path, "path") {
		return
	}
	if err := h.LSP.NotifyFileClosed(r.Context(), h.resolve(req.Path)); err != nil {
		writeLSPError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) resolve(path string) string {
	if filepath.IsAbs(path) || h.Workspace == "" {
		return filepath.Clean(path)
	}
	return filepath.Join(h.Workspace, path)
}
