package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	lspDomain "github.com/Strob0t/forgelsp/internal/domain/lsp"
)

// registerTools registers all MCP tools on the server.
func (s *Server) registerTools() {
	s.mcpServer.AddTools(
		s.diagnosticsTool(),
		s.statusTool(),
		s.openFileTool(),
		s.changeFileTool(),
		s.closeFileTool(),
	)
}

func (s *Server) diagnosticsTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("lsp_diagnostics",
		mcplib.WithDescription("List compiler and linter diagnostics reported by the language servers"),
		mcplib.WithString("file",
			mcplib.Description("Only diagnostics of this file (absolute or workspace relative)"),
		),
		mcplib.WithString("severity",
			mcplib.Description("Comma separated severities to include: error, warning, information, hint"),
		),
		mcplib.WithNumber("limit",
			mcplib.Description("Maximum number of diagnostics to return"),
		),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleDiagnostics}
}

func (s *Server) statusTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("lsp_status",
		mcplib.WithDescription("Show the state of every language server"),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleStatus}
}

func (s *Server) openFileTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("lsp_open_file",
		mcplib.WithDescription("Open a file in its language server, starting the server if needed"),
		mcplib.WithString("path",
			mcplib.Required(),
			mcplib.Description("File path (absolute or workspace relative)"),
		),
		mcplib.WithString("content",
			mcplib.Description("Buffer content; read from disk when omitted"),
		),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleOpenFile}
}

func (s *Server) changeFileTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("lsp_change_file",
		mcplib.WithDescription("Send the new content of an edited file; diagnostics follow after a short debounce"),
		mcplib.WithString("path",
			mcplib.Required(),
			mcplib.Description("File path (absolute or workspace relative)"),
		),
		mcplib.WithString("content",
			mcplib.Description("Full new content; read from disk when omitted"),
		),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleChangeFile}
}

func (s *Server) closeFileTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("lsp_close_file",
		mcplib.WithDescription("Close a file previously opened in its language server"),
		mcplib.WithString("path",
			mcplib.Required(),
			mcplib.Description("File path (absolute or workspace relative)"),
		),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleCloseFile}
}

func (s *Server) handleDiagnostics(_ context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	args := req.GetArguments()
	q := lspDomain.DiagnosticsQuery{}

	if f, ok := args["file"].(string); ok && f != "" {
		q.File = s.resolve(f)
	}
	if raw, ok := args["severity"].(string); ok {
		for _, name := range strings.Split(raw, ",") {
			name = strings.TrimSpace(strings.ToLower(name))
			if name == "" {
				continue
			}
			sev, ok := lspDomain.ParseSeverity(name)
			if !ok {
				return mcplib.NewToolResultError("unknown severity: " + name), nil
			}
			q.Severities = append(q.Severities, sev)
		}
	}
	if n, ok := args["limit"].(float64); ok {
		if n < 0 {
			return mcplib.NewToolResultError("limit must be >= 0"), nil
		}
		q.Limit = int(n)
	}

	return jsonResult(s.lsp.GetDiagnostics(q))
}

func (s *Server) handleStatus(_ context.Context, _ mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	return jsonResult(s.lsp.GetStatus())
}

func (s *Server) handleOpenFile(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	path, content, errResult := s.fileArgs(req)
	if errResult != nil {
		return errResult, nil
	}
	if err := s.lsp.NotifyFileOpened(ctx, path, content); err != nil {
		return mcplib.NewToolResultErrorFromErr(fmt.Sprintf("failed to open %s", path), err), nil
	}
	return mcplib.NewToolResultText("opened " + path), nil
}

func (s *Server) handleChangeFile(_ context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	path, content, errResult := s.fileArgs(req)
	if errResult != nil {
		return errResult, nil
	}
	s.lsp.NotifyFileChanged(path, content)
	return mcplib.NewToolResultText("change queued for " + path), nil
}

func (s *Server) handleCloseFile(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	path, ok := req.GetArguments()["path"].(string)
	if !ok || path == "" {
		return mcplib.NewToolResultError("path is required"), nil
	}
	path = s.resolve(path)
	if err := s.lsp.NotifyFileClosed(ctx, path); err != nil {
		return mcplib.NewToolResultErrorFromErr(fmt.Sprintf("failed to close %s", path), err), nil
	}
	return mcplib.NewToolResultText("closed " + path), nil
}

// fileArgs extracts path and content, reading content from disk when the
// caller left it out.
func (s *Server) fileArgs(req mcplib.CallToolRequest) (string, string, *mcplib.CallToolResult) { //nolint:gocritic // hugeParam: mcp-go request type
	args := req.GetArguments()
	path, ok := args["path"].(string)
	if !ok || path == "" {
		return "", "", mcplib.NewToolResultError("path is required")
	}
	path = s.resolve(path)

	if content, ok := args["content"].(string); ok {
		return path, content, nil
	}
	data, err := s.readFile(path)
	if err != nil {
		return "", "", mcplib.NewToolResultErrorFromErr(fmt.Sprintf("failed to read %s", path), err)
	}
	return path, string(data), nil
}

func jsonResult(v any) (*mcplib.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to marshal result", err), nil
	}
	return mcplib.NewToolResultText(string(data)), nil
}

func readWorkspaceFile(path string) ([]byte, error) {
	return os.ReadFile(path) //nolint:gosec // G304: path comes from the agent driving this workspace
}
