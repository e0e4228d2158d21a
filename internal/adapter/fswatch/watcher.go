// Package fswatch feeds file system writes under a workspace into the LSP
// service so servers see edits made outside any editor integration.
package fswatch

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/fsnotify/fsnotify"

	lspDomain "github.com/Strob0t/forgelsp/internal/domain/lsp"
)

// DefaultIgnore lists directory names never descended into.
var DefaultIgnore = []string{".git", ".hg", ".svn", "node_modules", ".venv", "__pycache__", "target", "build", "dist", "bin", "obj", ".idea", ".vscode"}

// DefaultMaxFileSize is the largest file forwarded to a server.
const DefaultMaxFileSize = 4 << 20

// Sink receives file events. *service.LSPService implements it.
type Sink interface {
	NotifyFileChanged(path, content string)
	NotifyFileClosed(ctx context.Context, path string) error
}

// Options configures a Watcher. Zero values take the defaults.
type Options struct {
	Ignore      []string
	MaxFileSize int64
	Logger      *slog.Logger
}

// Watcher watches a directory tree recursively.
type Watcher struct {
	root    string
	sink    Sink
	ignore  []string
	maxSize int64
	logger  *slog.Logger
	fsw     *fsnotify.Watcher

	mu      sync.Mutex
	watched int
}

// New creates a watcher for root. Call Run to start it.
func New(root string, sink Sink, opts Options) (*Watcher, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("watch root %s: %w", root, err)
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if opts.Ignore == nil {
		opts.Ignore = DefaultIgnore
	}
	if opts.MaxFileSize <= 0 {
		opts.MaxFileSize = DefaultMaxFileSize
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Watcher{
		root:    abs,
		sink:    sink,
		ignore:  opts.Ignore,
		maxSize: opts.MaxFileSize,
		logger:  opts.Logger,
		fsw:     fsw,
	}, nil
}

// Run adds the tree and forwards events until ctx is done. The underlying
// watcher is closed on return.
func (w *Watcher) Run(ctx context.Context) error {
	defer func() { _ = w.fsw.Close() }()

	if err := w.addTree(w.root); err != nil {
		return err
	}
	w.logger.Info("watching workspace", "root", w.root, "dirs", w.Dirs())

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			w.handle(ctx, ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", "error", err)
		}
	}
}

// Dirs returns the number of watched directories.
func (w *Watcher) Dirs() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.watched
}

func (w *Watcher) handle(ctx context.Context, ev fsnotify.Event) {
	switch {
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		if lspDomain.IsSupported(ev.Name) {
			if err := w.sink.NotifyFileClosed(ctx, ev.Name); err != nil {
				w.logger.Debug("close after remove failed", "file", ev.Name, "error", err)
			}
		}
	case ev.Has(fsnotify.Create), ev.Has(fsnotify.Write):
		info, err := os.Stat(ev.Name)
		if err != nil {
			return
		}
		if info.IsDir() {
			if ev.Has(fsnotify.Create) {
				if err := w.addTree(ev.Name); err != nil {
					w.logger.Warn("watch new directory", "dir", ev.Name, "error", err)
				}
			}
			return
		}
		w.forward(ev.Name, info)
	}
}

func (w *Watcher) forward(path string, info fs.FileInfo) {
	if !lspDomain.IsSupported(path) || !info.Mode().IsRegular() {
		return
	}
	if info.Size() > w.maxSize {
		w.logger.Debug("skipping large file", "file", path, "size", info.Size())
		return
	}
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is inside the watched workspace
	if err != nil {
		w.logger.Debug("read changed file", "file", path, "error", err)
		return
	}
	w.sink.NotifyFileChanged(path, string(data))
}

func (w *Watcher) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != w.root && slices.Contains(w.ignore, d.Name()) {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			return fmt.Errorf("watch %s: %w", path, err)
		}
		w.mu.Lock()
		w.watched++
		w.mu.Unlock()
		return nil
	})
}
