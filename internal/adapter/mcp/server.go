// Package mcp exposes the LSP service to coding agents as Model Context
// Protocol tools over stdio.
package mcp

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"

	mcpserver "github.com/mark3labs/mcp-go/server"

	lspDomain "github.com/Strob0t/forgelsp/internal/domain/lsp"
)

// LSPService is the part of the service the tools drive.
type LSPService interface {
	NotifyFileOpened(ctx context.Context, path, content string) error
	NotifyFileChanged(path, content string)
	NotifyFileClosed(ctx context.Context, path string) error
	GetDiagnostics(q lspDomain.DiagnosticsQuery) []lspDomain.Diagnostic
	GetStatus() []lspDomain.ServerStatus
}

// ServerConfig holds MCP server identity. Relative tool paths resolve
// against Workspace.
type ServerConfig struct {
	Name      string
	Version   string
	Workspace string
}

// Server wraps an mcp-go server with the LSP tools and resources.
type Server struct {
	cfg       ServerConfig
	lsp       LSPService
	logger    *slog.Logger
	mcpServer *mcpserver.MCPServer
	readFile  func(string) ([]byte, error)
}

// NewServer creates a server with every tool and resource registered.
func NewServer(cfg ServerConfig, svc LSPService, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:      cfg,
		lsp:      svc,
		logger:   logger,
		readFile: readWorkspaceFile,
		mcpServer: mcpserver.NewMCPServer(cfg.Name, cfg.Version,
			mcpserver.WithToolCapabilities(false),
			mcpserver.WithResourceCapabilities(false, false),
			mcpserver.WithRecovery(),
		),
	}
	s.registerTools()
	s.registerResources()
	return s
}

// MCPServer returns the underlying mcp-go server.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

// ServeStdio speaks MCP on in/out until ctx is cancelled or in closes.
// Logs must not go to out.
func (s *Server) ServeStdio(ctx context.Context, in io.Reader, out io.Writer) error {
	stdio := mcpserver.NewStdioServer(s.mcpServer)
	stdio.SetErrorLogger(slog.NewLogLogger(s.logger.Handler(), slog.LevelError))
	s.logger.Info("mcp server listening on stdio", "name", s.cfg.Name)
	return stdio.Listen(ctx, in, out)
}

func (s *Server) resolve(path string) string {
	if filepath.IsAbs(path) || s.cfg.Workspace == "" {
		return filepath.Clean(path)
	}
	return filepath.Join(s.cfg.Workspace, path)
}
