package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/Strob0t/forgelsp/internal/adapter/install"
	lspAdapter "github.com/Strob0t/forgelsp/internal/adapter/lsp"
	flotel "github.com/Strob0t/forgelsp/internal/adapter/otel"
	"github.com/Strob0t/forgelsp/internal/config"
	lspDomain "github.com/Strob0t/forgelsp/internal/domain/lsp"
	"github.com/Strob0t/forgelsp/internal/listener"
	"github.com/Strob0t/forgelsp/internal/port/broadcast"
	"github.com/Strob0t/forgelsp/internal/port/languageserver"
	"github.com/Strob0t/forgelsp/internal/resilience"
)

var _ languageserver.Client = (*lspAdapter.Client)(nil)

// ErrorFunc receives LSP service errors.
type ErrorFunc func(lspDomain.ErrorEvent)

// InstallerSource looks up the installer of a server language.
type InstallerSource interface {
	Get(lang lspDomain.Language) (install.Installer, bool)
}

// pendingChange is one scheduled didChange. Its identity tells a firing
// timer whether it is still the current entry for the path.
type pendingChange struct {
	timer *time.Timer
}

type managedClient struct {
	client      languageserver.Client
	unsubscribe []func()
}

func (m *managedClient) detach() {
	for _, fn := range m.unsubscribe {
		fn()
	}
}

// LSPService owns one language server client per server language, debounces
// file change notifications and aggregates diagnostics.
type LSPService struct {
	cfg        config.LSP
	breakerCfg config.Breaker
	factory    languageserver.Factory
	installers InstallerSource
	state      *DiagnosticsState
	logger     *slog.Logger
	metrics    *flotel.Metrics

	// ctx is cancelled by Shutdown; installs, starts and debounced
	// deliveries derive from it.
	ctx    context.Context
	cancel context.CancelFunc

	mu           sync.Mutex
	clients      map[lspDomain.Language]*managedClient
	breakers     map[lspDomain.Language]*resilience.Breaker
	broadcasters broadcast.Multi
	closed       bool
	starts       singleflight.Group

	timerMu      sync.Mutex
	timers       map[string]*pendingChange
	timersClosed bool

	errorListeners listener.Set[ErrorFunc]
	callbackMu     sync.RWMutex
	errorCallback  ErrorFunc
}

// NewLSPService creates a new LSP service. factory builds a stopped client
// for a server language on first use.
func NewLSPService(cfg config.LSP, factory languageserver.Factory, logger *slog.Logger) *LSPService {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &LSPService{
		cfg:        cfg,
		breakerCfg: config.Defaults().Breaker,
		factory:    factory,
		state:      NewDiagnosticsState(cfg.MaxDiagnostics),
		logger:     logger,
		ctx:        ctx,
		cancel:     cancel,
		clients:    make(map[lspDomain.Language]*managedClient),
		breakers:   make(map[lspDomain.Language]*resilience.Breaker),
		timers:     make(map[string]*pendingChange),
	}
}

// SetInstallers enables installing missing servers through source. Each
// language gets its own circuit breaker built from breaker.
func (s *LSPService) SetInstallers(source InstallerSource, breaker config.Breaker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.installers = source
	s.breakerCfg = breaker
}

// SetMetrics records service metrics on m.
func (s *LSPService) SetMetrics(m *flotel.Metrics) { s.metrics = m }

// AddBroadcaster forwards status, diagnostics and error events to b.
func (s *LSPService) AddBroadcaster(b broadcast.Broadcaster) {
	s.mu.Lock()
	s.broadcasters = append(s.broadcasters, b)
	s.mu.Unlock()
}

// ClientOptions maps configuration onto lsp client options.
func ClientOptions(cfg config.LSP, logger *slog.Logger, metrics *flotel.Metrics) lspAdapter.Options {
	return lspAdapter.Options{
		Workspace:         cfg.Workspace,
		RequestTimeout:    cfg.RequestTimeout,
		LateResponseGrace: cfg.LateResponseGrace,
		KillDelay:         cfg.KillDelay,
		MaxMessageSize:    cfg.MaxMessageSize,
		Logger:            logger,
		Metrics:           metrics,
	}
}

// NewClientFactory returns a factory that launches the command reported by
// each language's installer.
func NewClientFactory(installers InstallerSource, opts lspAdapter.Options) languageserver.Factory {
	return func(lang lspDomain.Language) (languageserver.Client, error) {
		in, ok := installers.Get(lang)
		if !ok {
			return nil, fmt.Errorf("%w: %s", lspDomain.ErrUnsupportedLanguage, lang)
		}
		server, err := lspAdapter.NewServer(lang, in)
		if err != nil {
			return nil, err
		}
		return lspAdapter.NewClient(server, opts), nil
	}
}

// NotifyFileOpened sends didOpen for path, starting its server if needed.
// Relative paths are resolved against the workspace. Unsupported files and
// a disabled service are no-ops.
func (s *LSPService) NotifyFileOpened(ctx context.Context, path, content string) error {
	path = s.resolve(path)
	lang, ok := s.languageFor(path)
	if !ok {
		return nil
	}
	s.cancelTimer(path)

	client, err := s.clientFor(ctx, lang)
	if err != nil {
		return err
	}
	if err := client.NotifyFileOpened(ctx, path, content); err != nil {
		s.emitError(lspDomain.ErrorTypeNotification, lang, path, err)
		return err
	}
	return nil
}

// NotifyFileChanged schedules didChange for path. Only the last call within
// the debounce window is delivered.
func (s *LSPService) NotifyFileChanged(path, content string) {
	path = s.resolve(path)
	lang, ok := s.languageFor(path)
	if !ok {
		return
	}

	s.timerMu.Lock()
	defer s.timerMu.Unlock()
	if s.timersClosed {
		return
	}
	if prev, ok := s.timers[path]; ok {
		prev.timer.Stop()
	}
	pc := &pendingChange{}
	s.timers[path] = pc
	// The callback only compares pc under timerMu, so it never reads
	// pc.timer before this assignment completes.
	pc.timer = time.AfterFunc(s.cfg.DiagnosticsDebounce, func() {
		s.deliverChange(lang, path, content, pc)
	})
}

// NotifyFileClosed drops any pending change for path and sends didClose if
// its server is running.
func (s *LSPService) NotifyFileClosed(ctx context.Context, path string) error {
	path = s.resolve(path)
	lang, ok := s.languageFor(path)
	if !ok {
		return nil
	}
	s.cancelTimer(path)

	s.mu.Lock()
	mc := s.clients[lspDomain.ServerLanguage(lang)]
	s.mu.Unlock()
	if mc == nil {
		return nil
	}
	if err := mc.client.NotifyFileClosed(ctx, path); err != nil {
		s.emitError(lspDomain.ErrorTypeNotification, lang, path, err)
		return err
	}
	return nil
}

// GetDiagnostics returns the diagnostics matching q. A relative q.File is
// resolved against the workspace.
func (s *LSPService) GetDiagnostics(q lspDomain.DiagnosticsQuery) []lspDomain.Diagnostic {
	if q.File != "" {
		q.File = s.resolve(q.File)
	}
	return s.state.Query(q)
}

// GetStatus returns one status per server language, sorted by language.
// Languages that never started report stopped.
func (s *LSPService) GetStatus() []lspDomain.ServerStatus {
	known := s.state.Statuses()
	seen := make(map[lspDomain.Language]bool, len(known))
	for _, st := range known {
		seen[st.Language] = true
	}
	for _, lang := range lspDomain.ServerLanguages {
		if !seen[lang] {
			known = append(known, lspDomain.ServerStatus{Language: lang, State: lspDomain.ServerStateStopped})
		}
	}
	sortStatuses(known)
	return known
}

// State returns the diagnostics index.
func (s *LSPService) State() *DiagnosticsState { return s.state }

// PendingTimers returns the number of scheduled debounced changes.
func (s *LSPService) PendingTimers() int {
	s.timerMu.Lock()
	defer s.timerMu.Unlock()
	return len(s.timers)
}

// OnError registers fn for every service error.
func (s *LSPService) OnError(fn ErrorFunc) (unsubscribe func()) {
	return s.errorListeners.Add(fn)
}

// SetErrorCallback sets the single optional error callback. It runs in
// addition to OnError listeners. nil clears it.
func (s *LSPService) SetErrorCallback(fn ErrorFunc) {
	s.callbackMu.Lock()
	s.errorCallback = fn
	s.callbackMu.Unlock()
}

// Shutdown cancels every pending change without delivering it, stops every
// client and removes all listeners.
func (s *LSPService) Shutdown(ctx context.Context) error {
	s.timerMu.Lock()
	s.timersClosed = true
	for path, pc := range s.timers {
		pc.timer.Stop()
		delete(s.timers, path)
	}
	s.timerMu.Unlock()

	s.mu.Lock()
	s.closed = true
	clients := s.clients
	s.clients = make(map[lspDomain.Language]*managedClient)
	s.mu.Unlock()
	s.cancel()

	g, gctx := errgroup.WithContext(ctx)
	for lang, mc := range clients {
		mc.detach()
		g.Go(func() error {
			if err := mc.client.Stop(gctx); err != nil {
				return fmt.Errorf("stop %s: %w", lang, err)
			}
			s.state.UpdateServerStatus(mc.client.Status())
			return nil
		})
	}
	err := g.Wait()

	s.errorListeners.Clear()
	s.SetErrorCallback(nil)
	s.logger.Info("lsp service stopped", "clients", len(clients))
	return err
}

func (s *LSPService) languageFor(path string) (lspDomain.Language, bool) {
	if !s.cfg.Enabled {
		return "", false
	}
	lang, ok := lspDomain.DetectLanguage(path)
	if !ok {
		return "", false
	}
	return lspDomain.ServerLanguage(lang), true
}

// resolve returns the key a file is tracked under. Relative paths are
// joined to the workspace.
func (s *LSPService) resolve(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	if s.cfg.Workspace != "" {
		return filepath.Join(s.cfg.Workspace, path)
	}
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return filepath.Clean(path)
}

func (s *LSPService) cancelTimer(path string) {
	s.timerMu.Lock()
	if pc, ok := s.timers[path]; ok {
		pc.timer.Stop()
		delete(s.timers, path)
	}
	s.timerMu.Unlock()
}

func (s *LSPService) deliverChange(lang lspDomain.Language, path, content string, pc *pendingChange) {
	s.timerMu.Lock()
	if s.timers[path] != pc {
		// Superseded or cancelled after the timer already fired.
		s.timerMu.Unlock()
		return
	}
	delete(s.timers, path)
	s.timerMu.Unlock()

	client, err := s.clientFor(s.ctx, lang)
	if err != nil {
		return
	}
	if err := client.NotifyFileChanged(s.ctx, path, content); err != nil {
		s.emitError(lspDomain.ErrorTypeNotification, lang, path, err)
		return
	}
	s.metrics.DebounceDelivered(s.ctx, string(lang))
}

// clientFor returns the running client for lang, creating and starting it
// on first use. Concurrent first uses share one start.
func (s *LSPService) clientFor(ctx context.Context, lang lspDomain.Language) (languageserver.Client, error) {
	if c, err := s.existing(lang); c != nil || err != nil {
		return c, err
	}

	v, err, _ := s.starts.Do(string(lang), func() (any, error) {
		if c, err := s.existing(lang); c != nil || err != nil {
			return c, err
		}
		return s.startClient(ctx, lang)
	})
	if err != nil {
		return nil, err
	}
	return v.(languageserver.Client), nil
}

func (s *LSPService) existing(lang lspDomain.Language) (languageserver.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, lspDomain.ErrShuttingDown
	}
	if mc, ok := s.clients[lang]; ok {
		return mc.client, nil
	}
	return nil, nil
}

func (s *LSPService) startClient(ctx context.Context, lang lspDomain.Language) (languageserver.Client, error) {
	base := s.ctx
	if err := s.ensureInstalled(base, lang); err != nil {
		s.startupFailed(lang, err)
		return nil, err
	}

	client, err := s.factory(lang)
	if err != nil {
		s.startupFailed(lang, err)
		return nil, err
	}

	mc := &managedClient{client: client}
	mc.unsubscribe = []func(){
		client.OnStatus(s.onStatus),
		client.OnDiagnostics(func(file string, diags []lspDomain.Diagnostic) {
			s.onDiagnostics(lang, file, diags)
		}),
		client.OnExit(func(err error) { s.onExit(lang, client, err) }),
	}

	startCtx, cancel := context.WithTimeout(base, s.cfg.StartTimeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	if err := client.Start(startCtx); err != nil {
		mc.detach()
		s.startupFailed(lang, err)
		return nil, err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		mc.detach()
		_ = client.Stop(context.Background())
		return nil, lspDomain.ErrShuttingDown
	}
	s.clients[lang] = mc
	s.mu.Unlock()

	s.logger.Info("language server ready", "language", string(lang), "pid", client.Status().PID)
	return client, nil
}

func (s *LSPService) ensureInstalled(ctx context.Context, lang lspDomain.Language) error {
	s.mu.Lock()
	installers := s.installers
	s.mu.Unlock()
	if installers == nil {
		return nil
	}
	in, ok := installers.Get(lang)
	if !ok || in.IsInstalled() {
		return nil
	}
	if !s.cfg.AutoInstall {
		return fmt.Errorf("%w: %s %s", lspDomain.ErrServerNotInstalled, lang, in.Version())
	}

	err := s.breaker(lang).Execute(ctx, func(ctx context.Context) error {
		s.logger.Info("installing language server", "language", string(lang), "version", in.Version())
		return in.Install(ctx, install.Options{})
	})
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return fmt.Errorf("install %s: %w", lang, err)
	}
	return err
}

func (s *LSPService) breaker(lang lspDomain.Language) *resilience.Breaker {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.breakers[lang]
	if !ok {
		b = resilience.NewBreaker(s.breakerCfg.MaxFailures, s.breakerCfg.Timeout).Ignore(isCancellation)
		s.breakers[lang] = b
	}
	return b
}

// isCancellation keeps aborted installs from tripping the breaker.
func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, install.ErrCancelled)
}

func (s *LSPService) startupFailed(lang lspDomain.Language, err error) {
	st, _ := s.state.ServerStatus(lang)
	st.Language = lang
	st.State = lspDomain.ServerStateError
	st.Error = err.Error()
	st.PID = 0
	s.onStatus(st)
	s.emitError(lspDomain.ErrorTypeStartup, lang, "", err)
}

func (s *LSPService) onStatus(st lspDomain.ServerStatus) {
	s.state.UpdateServerStatus(st)
	s.broadcast(broadcast.EventLSPStatus, broadcast.StatusEvent{Status: st})
}

func (s *LSPService) onDiagnostics(lang lspDomain.Language, file string, diags []lspDomain.Diagnostic) {
	file = s.resolve(file)
	s.state.Update(file, diags)
	s.broadcast(broadcast.EventLSPDiagnostics, broadcast.DiagnosticsEvent{
		File:        file,
		Language:    lang,
		Diagnostics: s.state.Query(lspDomain.DiagnosticsQuery{File: file}),
	})
}

// onExit drops a crashed client; the next notification for its language
// starts a fresh one.
func (s *LSPService) onExit(lang lspDomain.Language, client languageserver.Client, err error) {
	s.mu.Lock()
	mc, ok := s.clients[lang]
	if ok && mc.client == client {
		delete(s.clients, lang)
	} else {
		mc = nil
	}
	s.mu.Unlock()
	if mc != nil {
		mc.detach()
	}
	s.emitError(lspDomain.ErrorTypeClient, lang, "", err)
}

func (s *LSPService) emitError(typ lspDomain.ErrorType, lang lspDomain.Language, file string, err error) {
	evt := lspDomain.ErrorEvent{
		ID:        uuid.NewString(),
		Type:      typ,
		Language:  lang,
		FilePath:  file,
		Err:       err,
		Message:   err.Error(),
		Timestamp: time.Now(),
	}
	s.logger.Warn("lsp error", "type", string(typ), "language", string(lang), "file", file, "error", err)

	for _, fn := range s.errorListeners.Snapshot() {
		fn(evt)
	}
	s.callbackMu.RLock()
	cb := s.errorCallback
	s.callbackMu.RUnlock()
	if cb != nil {
		cb(evt)
	}
	s.broadcast(broadcast.EventLSPError, broadcast.ErrorEvent{Error: evt})
}

func (s *LSPService) broadcast(eventType string, payload any) {
	s.mu.Lock()
	targets := s.broadcasters
	s.mu.Unlock()
	if len(targets) == 0 {
		return
	}
	targets.BroadcastEvent(context.Background(), eventType, payload)
}
