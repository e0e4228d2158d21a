package main

import (
	"flag"
	"os"

	flmcp "github.com/Strob0t/forgelsp/internal/adapter/mcp"
)

func runMCP(args []string) error {
	fs := flag.NewFlagSet("mcp", flag.ContinueOnError)
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

	srv := flmcp.NewServer(flmcp.ServerConfig{
		Name:      "forgelsp",
		Version:   version,
		Workspace: a.cfg.LSP.Workspace,
	}, a.svc, a.logger)
	return srv.ServeStdio(ctx, os.Stdin, os.Stdout)
}
