package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/Strob0t/forgelsp/internal/adapter/install"
	lspDomain "github.com/Strob0t/forgelsp/internal/domain/lsp"
	"github.com/Strob0t/forgelsp/internal/resilience"
)

// maxRequestBodySize bounds file notification bodies. Whole buffers travel
// in them, so this is larger than a typical JSON API limit.
const maxRequestBodySize = 16 << 20

// readJSON decodes a JSON request body with a size limit.
func readJSON[T any](w http.ResponseWriter, r *http.Request, bodyLimit int64) (T, bool) {
	var v T
	r.Body = http.MaxBytesReader(w, r.Body, bodyLimit)
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		} else {
			writeError(w, http.StatusBadRequest, "invalid request body")
		}
		return v, false
	}
	return v, true
}

// requireField writes a 400 error and returns false when value is empty.
func requireField(w http.ResponseWriter, value, fieldName string) bool {
	if value == "" {
		writeError(w, http.StatusBadRequest, fieldName+" is required")
		return false
	}
	return true
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to write JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// writeLSPError maps service errors onto status codes.
func writeLSPError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, lspDomain.ErrUnsupportedLanguage):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, lspDomain.ErrShuttingDown),
		errors.Is(err, lspDomain.ErrServerNotInstalled),
		errors.Is(err, resilience.ErrCircuitOpen),
		errors.Is(err, install.ErrToolchainMissing):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		slog.ErrorContext(r.Context(), "lsp request failed", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusBadGateway, "language server error")
	}
}
