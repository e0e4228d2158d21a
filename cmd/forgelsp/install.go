package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/Strob0t/forgelsp/internal/adapter/install"
	lspDomain "github.com/Strob0t/forgelsp/internal/domain/lsp"
)

func runInstall(args []string) error {
	fs := flag.NewFlagSet("install", flag.ContinueOnError)
	all := fs.Bool("all", false, "install every language server")
	force := fs.Bool("force", false, "reinstall servers that are already installed")
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

	var targets []install.Installer
	if *all {
		targets = a.registry.All()
	}
	for _, name := range fs.Args() {
		lang := lspDomain.Language(strings.ToLower(name))
		if !slices.Contains(lspDomain.ServerLanguages, lang) {
			return fmt.Errorf("unknown language %q (want one of %v)", name, lspDomain.ServerLanguages)
		}
		in, ok := a.registry.Get(lang)
		if !ok {
			return fmt.Errorf("no installer for %s", lang)
		}
		targets = append(targets, in)
	}
	if len(targets) == 0 {
		return fmt.Errorf("install needs a language or --all")
	}

	for _, in := range targets {
		if in.IsInstalled() && !*force {
			fmt.Fprintf(os.Stderr, "%s %s already installed\n", in.Language(), in.Version())
			continue
		}
		err := in.Install(ctx, install.Options{Progress: progressLine(string(in.Language()))})
		fmt.Fprintln(os.Stderr)
		if errors.Is(err, install.ErrCancelled) {
			return fmt.Errorf("%s: %w", in.Language(), err)
		}
		if err != nil {
			return fmt.Errorf("install %s: %w", in.Language(), err)
		}
		fmt.Fprintf(os.Stderr, "installed %s %s\n", in.Language(), in.Version())
	}
	return nil
}

// progressLine redraws a single stderr line per progress event.
func progressLine(label string) func(install.Progress) {
	return func(p install.Progress) {
		if p.TotalBytes < 0 {
			fmt.Fprintf(os.Stderr, "\r%s: %d bytes", label, p.BytesDownloaded)
			return
		}
		fmt.Fprintf(os.Stderr, "\r%s: %5.1f%% (%d/%d bytes)", label, p.Percentage, p.BytesDownloaded, p.TotalBytes)
	}
}

type installStatus struct {
	Language  lspDomain.Language `json:"language"`
	Version   string             `json:"version"`
	Installed bool               `json:"installed"`
	Command   []string           `json:"command,omitempty"`
}

func runStatus(args []string) error {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	asJSON := fs.Bool("json", false, "print JSON even on a terminal")
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

	rows := make([]installStatus, 0, len(lspDomain.ServerLanguages))
	for _, in := range a.registry.All() {
		row := installStatus{Language: in.Language(), Version: in.Version(), Installed: in.IsInstalled()}
		if row.Installed {
			row.Command, _ = in.ServerCommand()
		}
		rows = append(rows, row)
	}

	if useJSON(*asJSON) {
		return writeJSON(os.Stdout, rows)
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "LANGUAGE\tVERSION\tINSTALLED\tCOMMAND")
	for _, r := range rows {
		cmd := "-"
		if len(r.Command) > 0 {
			cmd = strings.Join(r.Command, " ")
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%t\t%s\n", r.Language, r.Version, r.Installed, cmd)
	}
	return tw.Flush()
}
