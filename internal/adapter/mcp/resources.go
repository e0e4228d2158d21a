package mcp

import (
	"context"
	"encoding/json"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	lspDomain "github.com/Strob0t/forgelsp/internal/domain/lsp"
)

const (
	statusResourceURI      = "forgelsp://status"
	diagnosticsResourceURI = "forgelsp://diagnostics"
)

// registerResources registers read-only snapshots of server status and
// diagnostics.
func (s *Server) registerResources() {
	s.mcpServer.AddResource(
		mcplib.NewResource(
			statusResourceURI,
			"Language Server Status",
			mcplib.WithResourceDescription("State of every language server"),
			mcplib.WithMIMEType("application/json"),
		),
		func(_ context.Context, req mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
			return jsonResource(req.Params.URI, s.lsp.GetStatus())
		},
	)

	s.mcpServer.AddResource(
		mcplib.NewResource(
			diagnosticsResourceURI,
			"Diagnostics",
			mcplib.WithResourceDescription("Every diagnostic currently reported, ordered by file"),
			mcplib.WithMIMEType("application/json"),
		),
		func(_ context.Context, req mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
			return jsonResource(req.Params.URI, s.lsp.GetDiagnostics(lspDomain.DiagnosticsQuery{}))
		},
	)
}

func jsonResource(uri string, v any) ([]mcplib.ResourceContents, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}
