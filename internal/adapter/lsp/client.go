// Package lsp provides a Language Server Protocol client that manages a single
// language server process, communicating via JSON-RPC 2.0 over stdio.
package lsp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	flotel "github.com/Strob0t/forgelsp/internal/adapter/otel"
	lspDomain "github.com/Strob0t/forgelsp/internal/domain/lsp"
	"github.com/Strob0t/forgelsp/internal/listener"
)

// Default client settings, used when Options leaves a field zero.
const (
	DefaultRequestTimeout    = 30 * time.Second
	DefaultLateResponseGrace = 5 * time.Second
	DefaultKillDelay         = 2 * time.Second
	DefaultMaxMessageSize    = 64 << 20
)

// Options configures a Client.
type Options struct {
	Workspace         string
	RequestTimeout    time.Duration
	LateResponseGrace time.Duration
	KillDelay         time.Duration
	MaxMessageSize    int
	Spawn             Spawner
	Logger            *slog.Logger
	Metrics           *flotel.Metrics
}

func (o *Options) setDefaults() {
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = DefaultRequestTimeout
	}
	if o.LateResponseGrace <= 0 {
		o.LateResponseGrace = DefaultLateResponseGrace
	}
	if o.KillDelay <= 0 {
		o.KillDelay = DefaultKillDelay
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = DefaultMaxMessageSize
	}
	if o.Spawn == nil {
		o.Spawn = ExecSpawner
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// DiagnosticsFunc receives the full diagnostics list for one file.
type DiagnosticsFunc = func(file string, diags []lspDomain.Diagnostic)

// StatusFunc receives every status change.
type StatusFunc = func(lspDomain.ServerStatus)

// ExitFunc is called when the server process exits without being stopped.
type ExitFunc = func(err error)

// Client manages a single language server process.
type Client struct {
	server  Server
	opts    Options
	logger  *slog.Logger
	metrics *flotel.Metrics

	lifeMu sync.Mutex // serializes Start and Stop

	mu           sync.Mutex
	state        lspDomain.ServerState
	lastErr      string
	pid          int
	lastActivity time.Time
	proc         Process
	conn         *JSONRPCConn
	pending      *pendingTable
	exited       chan struct{}
	stopping     bool

	// docMu guards versions and is held across the write so that version
	// order on the wire matches assignment order.
	docMu    sync.Mutex
	versions map[string]int

	diagnostics listener.Set[DiagnosticsFunc]
	statuses    listener.Set[StatusFunc]
	exits       listener.Set[ExitFunc]
}

// NewClient creates a stopped client for server.
func NewClient(server Server, opts Options) *Client {
	opts.setDefaults()
	return &Client{
		server:   server,
		opts:     opts,
		logger:   opts.Logger.With("language", string(server.Language())),
		metrics:  opts.Metrics,
		state:    lspDomain.ServerStateStopped,
		versions: make(map[string]int),
	}
}

// Language returns the server language this client manages.
func (c *Client) Language() lspDomain.Language { return c.server.Language() }

// OnDiagnostics registers fn for textDocument/publishDiagnostics.
func (c *Client) OnDiagnostics(fn DiagnosticsFunc) (unsubscribe func()) {
	return c.diagnostics.Add(fn)
}

// OnStatus registers fn for status changes.
func (c *Client) OnStatus(fn StatusFunc) (unsubscribe func()) {
	return c.statuses.Add(fn)
}

// OnExit registers fn for unexpected process exits.
func (c *Client) OnExit(fn ExitFunc) (unsubscribe func()) {
	return c.exits.Add(fn)
}

// Status returns the current server status.
func (c *Client) Status() lspDomain.ServerStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statusLocked()
}

func (c *Client) statusLocked() lspDomain.ServerStatus {
	st := lspDomain.ServerStatus{
		Language: c.server.Language(),
		State:    c.state,
		Error:    c.lastErr,
	}
	if c.state == lspDomain.ServerStateRunning {
		st.PID = c.pid
	}
	if !c.lastActivity.IsZero() {
		t := c.lastActivity
		st.LastActivity = &t
	}
	return st
}

func (c *Client) emitStatus() {
	st := c.Status()
	for _, fn := range c.statuses.Snapshot() {
		fn(st)
	}
}

// Running reports whether the server completed its handshake and is live.
func (c *Client) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == lspDomain.ServerStateRunning
}

// Start spawns the language server process and performs the initialize
// handshake. It is a no-op when already running.
func (c *Client) Start(ctx context.Context) error {
	c.lifeMu.Lock()
	defer c.lifeMu.Unlock()

	c.mu.Lock()
	if c.state == lspDomain.ServerStateRunning {
		c.mu.Unlock()
		return nil
	}
	c.state = lspDomain.ServerStateStarting
	c.lastErr = ""
	c.mu.Unlock()
	c.emitStatus()

	lang := string(c.server.Language())
	ctx, span := flotel.StartServerSpan(ctx, lang)
	err := c.launch(ctx)
	if err == nil {
		flotel.SetServerPID(span, c.Status().PID)
	}
	flotel.EndSpan(span, err)
	if err != nil {
		c.mu.Lock()
		c.state = lspDomain.ServerStateError
		c.lastErr = err.Error()
		c.mu.Unlock()
		c.metrics.ServerFailed(ctx, lang, "start")
		c.logger.Error("language server start failed", "error", err)
		c.emitStatus()
		return fmt.Errorf("start %s server: %w", lang, err)
	}

	c.metrics.ServerStarted(ctx, lang)
	c.logger.Info("language server started", "pid", c.Status().PID)
	c.emitStatus()
	return nil
}

func (c *Client) launch(ctx context.Context) error {
	argv, err := c.server.Command()
	if err != nil {
		return fmt.Errorf("resolve command: %w", err)
	}

	proc, err := c.opts.Spawn(ctx, Command{Path: argv[0], Args: argv[1:], Dir: c.opts.Workspace})
	if err != nil {
		return fmt.Errorf("spawn: %w", err)
	}

	conn := NewJSONRPCConn(proc.Stdout(), proc.Stdin(), c.opts.MaxMessageSize)
	lang := string(c.server.Language())
	conn.Framer().OnDiscard = func(reason string, n int) {
		c.logger.Warn("discarded malformed frame", "reason", reason, "bytes", n)
		c.metrics.MalformedMessage(context.Background(), lang, "frame")
	}
	conn.OnInvalid = func(err error) {
		c.logger.Warn("skipping invalid message", "error", err)
		c.metrics.MalformedMessage(context.Background(), lang, "json")
	}
	pending := newPendingTable(c.opts.LateResponseGrace)
	exited := make(chan struct{})

	c.mu.Lock()
	c.proc = proc
	c.conn = conn
	c.pending = pending
	c.exited = exited
	c.stopping = false
	c.mu.Unlock()

	c.docMu.Lock()
	c.versions = make(map[string]int)
	c.docMu.Unlock()

	var readers sync.WaitGroup
	readers.Add(2)
	go func() {
		defer readers.Done()
		c.readLoop(conn, pending)
	}()
	go func() {
		defer readers.Done()
		c.logStderr(proc.Stderr())
	}()
	go c.waitExit(proc, pending, &readers, exited)

	if err := c.initialize(ctx, conn, pending); err != nil {
		c.abort(proc, conn, pending)
		return fmt.Errorf("initialize: %w", err)
	}

	// waitExit closes exited before taking mu, so checking under mu leaves
	// no window where an exit goes unnoticed.
	c.mu.Lock()
	select {
	case <-exited:
		c.mu.Unlock()
		c.abort(proc, conn, pending)
		return fmt.Errorf("initialize: %w", lspDomain.ErrServerExited)
	default:
	}
	c.state = lspDomain.ServerStateRunning
	c.pid = proc.PID()
	c.lastActivity = time.Now()
	c.mu.Unlock()
	return nil
}

// abort tears down a process whose handshake failed.
func (c *Client) abort(proc Process, conn *JSONRPCConn, pending *pendingTable) {
	c.mu.Lock()
	if c.proc == proc {
		c.proc = nil
		c.conn = nil
		c.pending = nil
	}
	c.mu.Unlock()

	pending.failAll(lspDomain.ErrShuttingDown)
	_ = conn.Close()
	if err := proc.Kill(); err != nil {
		c.logger.Debug("kill after failed handshake", "error", err)
	}
}

type clientInfo struct {
	Name string `json:"name"`
}

type workspaceFolder struct {
	URI  string `json:"uri"`
	Name string `json:"name"`
}

type initializeParams struct {
	ProcessID             int               `json:"processId"`
	ClientInfo            clientInfo        `json:"clientInfo"`
	RootPath              string            `json:"rootPath"`
	RootURI               string            `json:"rootUri"`
	WorkspaceFolders      []workspaceFolder `json:"workspaceFolders"`
	Capabilities          map[string]any    `json:"capabilities"`
	InitializationOptions any               `json:"initializationOptions,omitempty"`
}

func clientCapabilities() map[string]any {
	return map[string]any{
		"textDocument": map[string]any{
			"synchronization": map[string]any{
				"dynamicRegistration": false,
				"didSave":             true,
			},
			"publishDiagnostics": map[string]any{
				"relatedInformation": true,
				"versionSupport":     true,
			},
		},
		"workspace": map[string]any{
			"configuration":    true,
			"workspaceFolders": true,
		},
	}
}

func (c *Client) initialize(ctx context.Context, conn *JSONRPCConn, pending *pendingTable) error {
	root := c.opts.Workspace
	params := initializeParams{
		ProcessID:             os.Getpid(),
		ClientInfo:            clientInfo{Name: "forgelsp"},
		RootPath:              root,
		RootURI:               PathToURI(root),
		WorkspaceFolders:      []workspaceFolder{{URI: PathToURI(root), Name: filepath.Base(root)}},
		Capabilities:          clientCapabilities(),
		InitializationOptions: c.server.InitializationOptions(root),
	}

	if _, err := c.call(ctx, conn, pending, "initialize", params); err != nil {
		return err
	}
	if err := conn.Notify("initialized", struct{}{}); err != nil {
		return fmt.Errorf("send initialized: %w", err)
	}
	return nil
}

// Stop shuts the server down: pending requests fail first, then a
// best-effort shutdown/exit, then SIGTERM with a forced kill after the kill
// delay. All listeners are removed. It is a no-op without a process.
func (c *Client) Stop(ctx context.Context) error {
	c.lifeMu.Lock()
	defer c.lifeMu.Unlock()

	c.mu.Lock()
	proc, conn, pending, exited := c.proc, c.conn, c.pending, c.exited
	if proc == nil {
		c.mu.Unlock()
		return nil
	}
	c.stopping = true
	c.mu.Unlock()

	if n := pending.failAll(lspDomain.ErrShuttingDown); n > 0 {
		c.logger.Debug("failed pending requests on stop", "count", n)
	}

	sctx, cancel := context.WithTimeout(ctx, c.opts.KillDelay)
	if _, err := c.call(sctx, conn, pending, "shutdown", nil); err != nil {
		c.logger.Debug("shutdown request failed", "error", err)
	}
	cancel()
	if err := conn.Notify("exit", nil); err != nil {
		c.logger.Debug("exit notification failed", "error", err)
	}
	_ = conn.Close()

	kill := time.AfterFunc(c.opts.KillDelay, func() {
		c.logger.Warn("language server did not exit, killing")
		_ = proc.Kill()
	})
	go func() {
		<-exited
		kill.Stop()
	}()
	if err := proc.Terminate(); err != nil {
		c.logger.Debug("terminate failed", "error", err)
	}

	c.mu.Lock()
	c.proc = nil
	c.conn = nil
	c.pending = nil
	c.pid = 0
	c.state = lspDomain.ServerStateStopped
	c.lastErr = ""
	c.mu.Unlock()

	c.docMu.Lock()
	c.versions = make(map[string]int)
	c.docMu.Unlock()

	c.logger.Info("language server stopped")
	c.emitStatus()

	c.diagnostics.Clear()
	c.statuses.Clear()
	c.exits.Clear()
	return nil
}

// Request sends a request and waits for its response, the request timeout,
// or ctx, whichever comes first.
func (c *Client) Request(ctx context.Context, method string, params any) (json.RawMessage, error) {
	c.mu.Lock()
	conn, pending := c.conn, c.pending
	c.mu.Unlock()
	if conn == nil {
		return nil, lspDomain.ErrNotRunning
	}
	return c.call(ctx, conn, pending, method, params)
}

func (c *Client) call(ctx context.Context, conn *JSONRPCConn, pending *pendingTable, method string, params any) (json.RawMessage, error) {
	lang := string(c.server.Language())
	id, done := pending.add(method)
	start := time.Now()
	if err := conn.Send(id, method, params); err != nil {
		pending.remove(id)
		return nil, fmt.Errorf("send %s: %w", method, err)
	}

	timer := time.NewTimer(c.opts.RequestTimeout)
	defer timer.Stop()

	var resp response
	select {
	case resp = <-done:
	case <-timer.C:
		var ok bool
		if resp, ok = pending.expire(id, done); !ok {
			c.logger.Warn("request timed out", "method", method, "id", id, "timeout", c.opts.RequestTimeout)
			c.metrics.RequestCompleted(ctx, lang, method, time.Since(start), true)
			return nil, fmt.Errorf("%s: %w", method, lspDomain.ErrRequestTimeout)
		}
	case <-ctx.Done():
		var ok bool
		if resp, ok = pending.expire(id, done); !ok {
			return nil, fmt.Errorf("%s: %w", method, ctx.Err())
		}
	}

	c.metrics.RequestCompleted(ctx, lang, method, time.Since(start), false)
	if resp.err != nil {
		return nil, fmt.Errorf("%s: %w", method, resp.err)
	}
	return resp.result, nil
}

func (c *Client) readLoop(conn *JSONRPCConn, pending *pendingTable) {
	err := conn.ReadLoop(func(msg *Message) {
		c.dispatch(conn, pending, msg)
	})
	if err != nil {
		c.logger.Debug("read loop ended", "error", err)
	}
}

func (c *Client) dispatch(conn *JSONRPCConn, pending *pendingTable, msg *Message) {
	switch {
	case msg.IsResponse():
		c.handleResponse(pending, msg)
	case msg.IsRequest():
		c.answer(conn, msg)
	case msg.IsNotification():
		c.handleNotification(msg)
	default:
		c.logger.Debug("ignoring message without id or method")
	}
}

func (c *Client) handleResponse(pending *pendingTable, msg *Message) {
	id, ok := msg.IntID()
	if !ok {
		c.logger.Warn("response with non-numeric id", "id", string(msg.ID))
		return
	}

	resp := response{result: msg.Result}
	if msg.Error != nil {
		resp = response{err: msg.Error}
	}

	outcome, method, started := pending.resolve(id, resp)
	switch outcome {
	case resolvedLate:
		c.logger.Warn("late response after timeout", "method", method, "id", id, "elapsed", time.Since(started))
		c.metrics.LateResponse(context.Background(), string(c.server.Language()))
	case resolvedUnknown:
		c.logger.Debug("response for unknown request", "id", id)
	}
}

// answer replies to server-to-client requests so the server never waits on us.
func (c *Client) answer(conn *JSONRPCConn, msg *Message) {
	var (
		result any
		rerr   *ResponseError
	)
	switch msg.Method {
	case "workspace/configuration":
		var params struct {
			Items []json.RawMessage `json:"items"`
		}
		if err := json.Unmarshal(msg.Params, &params); err != nil {
			c.logger.Debug("bad workspace/configuration params", "error", err)
		}
		result = make([]any, len(params.Items))
	case "client/registerCapability", "client/unregisterCapability", "window/workDoneProgress/create":
		result = nil
	default:
		rerr = &ResponseError{Code: CodeMethodNotFound, Message: "method not found: " + msg.Method}
	}

	if err := conn.Reply(msg.ID, result, rerr); err != nil {
		c.logger.Debug("reply failed", "method", msg.Method, "error", err)
	}
}

type wireDiagnostic struct {
	Range    lspDomain.Range `json:"range"`
	Severity int             `json:"severity"`
	Code     json.RawMessage `json:"code"`
	Source   string          `json:"source"`
	Message  string          `json:"message"`
}

type publishDiagnosticsParams struct {
	URI         string           `json:"uri"`
	Diagnostics []wireDiagnostic `json:"diagnostics"`
}

func (c *Client) handleNotification(msg *Message) {
	switch msg.Method {
	case "textDocument/publishDiagnostics":
		var params publishDiagnosticsParams
		if err := json.Unmarshal(msg.Params, &params); err != nil {
			c.logger.Warn("bad publishDiagnostics params", "error", err)
			c.metrics.MalformedMessage(context.Background(), string(c.server.Language()), "diagnostics")
			return
		}
		file := URIToPath(params.URI)
		diags := c.convertDiagnostics(file, params.Diagnostics)
		c.metrics.DiagnosticsPublished(context.Background(), string(c.server.Language()))
		for _, fn := range c.diagnostics.Snapshot() {
			fn(file, diags)
		}
	case "window/logMessage", "window/showMessage":
		var params struct {
			Type    int    `json:"type"`
			Message string `json:"message"`
		}
		if err := json.Unmarshal(msg.Params, &params); err == nil {
			c.logger.Debug("language server message", "type", params.Type, "message", params.Message)
		}
	}
}

func (c *Client) convertDiagnostics(file string, wire []wireDiagnostic) []lspDomain.Diagnostic {
	out := make([]lspDomain.Diagnostic, 0, len(wire))
	for _, w := range wire {
		source := w.Source
		if source == "" {
			source = string(c.server.Language())
		}
		out = append(out, lspDomain.Diagnostic{
			File:     file,
			Range:    w.Range,
			Message:  w.Message,
			Severity: lspDomain.SeverityFromWire(w.Severity),
			Source:   source,
			Code:     diagnosticCode(w.Code),
		})
	}
	return out
}

// diagnosticCode renders a string or numeric code; null or absent yields "".
func diagnosticCode(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

func (c *Client) logStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			c.logger.Debug("language server stderr", "line", line)
		}
	}
	// Drain whatever the scanner refused so the process never blocks on stderr.
	_, _ = io.Copy(io.Discard, r)
}

// waitExit reaps the process once its output streams are drained. An exit
// that Stop did not initiate moves the client to the error state.
func (c *Client) waitExit(proc Process, pending *pendingTable, readers *sync.WaitGroup, exited chan struct{}) {
	readers.Wait()
	waitErr := proc.Wait()
	close(exited)

	c.mu.Lock()
	if c.proc != proc || c.stopping {
		c.mu.Unlock()
		return
	}
	reason := fmt.Sprintf("exited with code %d", exitCode(waitErr))
	if c.state != lspDomain.ServerStateRunning {
		// Still handshaking: Start reports the failure.
		c.mu.Unlock()
		pending.failAll(lspDomain.ErrServerExited)
		return
	}
	c.state = lspDomain.ServerStateError
	c.lastErr = reason
	c.proc = nil
	c.conn = nil
	c.pending = nil
	c.pid = 0
	c.mu.Unlock()

	n := pending.failAll(lspDomain.ErrServerExited)
	c.logger.Warn("language server exited unexpectedly", "reason", reason, "failed_requests", n)
	c.metrics.ServerFailed(context.Background(), string(c.server.Language()), "exit")
	c.emitStatus()

	err := fmt.Errorf("%w: %s", lspDomain.ErrServerExited, reason)
	for _, fn := range c.exits.Snapshot() {
		fn(err)
	}
}

// NotifyFileOpened sends textDocument/didOpen with version 1, starting the
// server first if needed.
func (c *Client) NotifyFileOpened(ctx context.Context, path, content string) error {
	if err := c.ensureRunning(ctx); err != nil {
		return err
	}
	c.docMu.Lock()
	defer c.docMu.Unlock()
	return c.openLocked(ctx, path, content)
}

// NotifyFileChanged sends textDocument/didChange with the full text. A path
// that was never opened is opened instead.
func (c *Client) NotifyFileChanged(ctx context.Context, path, content string) error {
	if err := c.ensureRunning(ctx); err != nil {
		return err
	}
	c.docMu.Lock()
	defer c.docMu.Unlock()

	version, open := c.versions[path]
	if !open {
		return c.openLocked(ctx, path, content)
	}
	version++
	c.versions[path] = version

	params := didChangeParams{
		TextDocument:   versionedDocument{URI: PathToURI(path), Version: version},
		ContentChanges: []contentChange{{Text: content}},
	}
	return c.notify(ctx, "textDocument/didChange", params)
}

// NotifyFileClosed sends textDocument/didClose. It is a no-op when the
// server is not running.
func (c *Client) NotifyFileClosed(ctx context.Context, path string) error {
	if !c.Running() {
		return nil
	}
	c.docMu.Lock()
	defer c.docMu.Unlock()

	delete(c.versions, path)
	params := didCloseParams{TextDocument: documentID{URI: PathToURI(path)}}
	return c.notify(ctx, "textDocument/didClose", params)
}

// DocumentVersion returns the last version sent for path.
func (c *Client) DocumentVersion(path string) (int, bool) {
	c.docMu.Lock()
	defer c.docMu.Unlock()
	v, ok := c.versions[path]
	return v, ok
}

func (c *Client) openLocked(ctx context.Context, path, content string) error {
	c.versions[path] = 1
	params := didOpenParams{TextDocument: textDocumentItem{
		URI:        PathToURI(path),
		LanguageID: lspDomain.LanguageID(path),
		Version:    1,
		Text:       content,
	}}
	return c.notify(ctx, "textDocument/didOpen", params)
}

func (c *Client) ensureRunning(ctx context.Context) error {
	if c.Running() {
		return nil
	}
	return c.Start(ctx)
}

func (c *Client) notify(ctx context.Context, method string, params any) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("%s: %w", method, lspDomain.ErrNotRunning)
	}
	if err := conn.Notify(method, params); err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}

	c.mu.Lock()
	c.lastActivity = time.Now()
	c.mu.Unlock()
	c.metrics.NotificationSent(ctx, string(c.server.Language()), method)
	c.emitStatus()
	return nil
}

type textDocumentItem struct {
	URI        string `json:"uri"`
	LanguageID string `json:"languageId"`
	Version    int    `json:"version"`
	Text       string `json:"text"`
}

type documentID struct {
	URI string `json:"uri"`
}

type versionedDocument struct {
	URI     string `json:"uri"`
	Version int    `json:"version"`
}

type contentChange struct {
	Text string `json:"text"`
}

type didOpenParams struct {
	TextDocument textDocumentItem `json:"textDocument"`
}

type didChangeParams struct {
	TextDocument   versionedDocument `json:"textDocument"`
	ContentChanges []contentChange   `json:"contentChanges"`
}

type didCloseParams struct {
	TextDocument documentID `json:"textDocument"`
}
