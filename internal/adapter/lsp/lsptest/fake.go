// Package lsptest provides an in-memory language server for tests of
// packages built on the lsp client.
package lsptest

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/Strob0t/forgelsp/internal/adapter/lsp"
)

// Process is a fake language server process. It answers every request
// with an empty capabilities result and records every message the client
// writes.
type Process struct {
	Cmd lsp.Command

	stdinR, stdoutR, stderrR *io.PipeReader
	stdinW, stdoutW, stderrW *io.PipeWriter

	received chan lsp.Message
	writeMu  sync.Mutex
	exitOnce sync.Once
	exitCh   chan struct{}
	exitErr  error
}

// NewProcess starts a fake server loop.
func NewProcess(cmd lsp.Command) *Process {
	p := &Process{
		Cmd:      cmd,
		received: make(chan lsp.Message, 256),
		exitCh:   make(chan struct{}),
	}
	p.stdinR, p.stdinW = io.Pipe()
	p.stdoutR, p.stdoutW = io.Pipe()
	p.stderrR, p.stderrW = io.Pipe()
	go p.serve()
	return p
}

func (p *Process) Stdin() io.WriteCloser { return p.stdinW }
func (p *Process) Stdout() io.Reader     { return p.stdoutR }
func (p *Process) Stderr() io.Reader     { return p.stderrR }
func (p *Process) PID() int              { return 7000 }

func (p *Process) Wait() error {
	<-p.exitCh
	return p.exitErr
}

func (p *Process) Terminate() error {
	p.exit(nil)
	return nil
}

func (p *Process) Kill() error {
	p.exit(nil)
	return nil
}

// Crash makes the process exit on its own.
func (p *Process) Crash(err error) { p.exit(err) }

func (p *Process) exit(err error) {
	p.exitOnce.Do(func() {
		p.exitErr = err
		_ = p.stdoutW.Close()
		_ = p.stderrW.Close()
		_ = p.stdinR.Close()
		close(p.exitCh)
	})
}

func (p *Process) serve() {
	framer := lsp.NewFramer(0)
	buf := make([]byte, 4096)
	for {
		n, err := p.stdinR.Read(buf)
		for _, body := range framer.Feed(buf[:n]) {
			var msg lsp.Message
			if json.Unmarshal(body, &msg) != nil {
				continue
			}
			p.received <- msg
			switch {
			case msg.IsRequest():
				p.send(lsp.Message{JSONRPC: "2.0", ID: msg.ID, Result: json.RawMessage(`{"capabilities":{}}`)})
			case msg.Method == "exit":
				p.exit(nil)
			}
		}
		if err != nil {
			return
		}
	}
}

func (p *Process) send(msg lsp.Message) {
	data, _ := json.Marshal(msg)
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	_, _ = p.stdoutW.Write(lsp.Encode(data))
}

// Notify sends a server-to-client notification.
func (p *Process) Notify(method string, params any) {
	raw, _ := json.Marshal(params)
	p.send(lsp.Message{JSONRPC: "2.0", Method: method, Params: raw})
}

// PublishDiagnostics sends textDocument/publishDiagnostics for uri. Each
// diagnostic is given as a wire object.
func (p *Process) PublishDiagnostics(uri string, diagnostics ...map[string]any) {
	if diagnostics == nil {
		diagnostics = []map[string]any{}
	}
	p.Notify("textDocument/publishDiagnostics", map[string]any{
		"uri":         uri,
		"diagnostics": diagnostics,
	})
}

// Next returns the next message with the given method, skipping others.
func (p *Process) Next(t testing.TB, method string) lsp.Message {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case msg := <-p.received:
			if msg.Method == method {
				return msg
			}
		case <-timeout:
			t.Fatalf("no %q message within timeout", method)
			return lsp.Message{}
		}
	}
}

// Drain returns every message received so far without waiting.
func (p *Process) Drain() []lsp.Message {
	var out []lsp.Message
	for {
		select {
		case msg := <-p.received:
			out = append(out, msg)
		default:
			return out
		}
	}
}

// Spawner hands out a fresh Process per spawn.
type Spawner struct {
	mu    sync.Mutex
	procs []*Process
}

// Spawn implements lsp.Spawner.
func (s *Spawner) Spawn(_ context.Context, cmd lsp.Command) (lsp.Process, error) {
	p := NewProcess(cmd)
	s.mu.Lock()
	s.procs = append(s.procs, p)
	s.mu.Unlock()
	return p, nil
}

// Processes returns every process spawned so far.
func (s *Spawner) Processes() []*Process {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Process(nil), s.procs...)
}

// Last returns the most recent process, or nil.
func (s *Spawner) Last() *Process {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.procs) == 0 {
		return nil
	}
	return s.procs[len(s.procs)-1]
}
