package main

import (
	"flag"
	"os"

	"github.com/Strob0t/forgelsp/internal/adapter/fswatch"
)

func runWatch(args []string) error {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	dir := fs.String("dir", "", "directory to watch (default: workspace)")
	asJSON := fs.Bool("json", false, "print JSON lines even on a terminal")
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

	root := *dir
	if root == "" {
		root = a.cfg.LSP.Workspace
	}
	a.svc.AddBroadcaster(&diagnosticsPrinter{w: os.Stdout, base: root, json: useJSON(*asJSON)})

	w, err := fswatch.New(root, a.svc, fswatch.Options{Logger: a.logger})
	if err != nil {
		return err
	}
	return w.Run(ctx)
}
