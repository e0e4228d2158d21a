package lsp

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"testing"
	"unicode/utf8"
)

func frame(body string) []byte { return Encode([]byte(body)) }

func TestEncodeUsesByteLength(t *testing.T) {
	body := `{"text":"héllo wörld"}`
	if len(body) == utf8.RuneCountInString(body) {
		t.Fatal("test body must contain multi-byte characters")
	}
	got := string(Encode([]byte(body)))
	want := fmt.Sprintf("Content-Length: %d\r\n\r\n%s", len(body), body)
	if got != want {
		t.Fatalf("Encode = %q, want %q", got, want)
	}
}

func TestFramerIncompleteBodyWaits(t *testing.T) {
	body := `{"jsonrpc":"2.0","method":"initialized"}`
	data := frame(body)
	split := len(data) - 5

	f := NewFramer(0)
	if got := f.Feed(data[:split]); len(got) != 0 {
		t.Fatalf("expected no message from partial body, got %d", len(got))
	}
	got := f.Feed(data[split:])
	if len(got) != 1 || string(got[0]) != body {
		t.Fatalf("expected body after remaining bytes, got %q", got)
	}
	if f.buffered() != 0 {
		t.Errorf("expected empty buffer, got %d bytes", f.buffered())
	}
}

func TestFramerBackToBack(t *testing.T) {
	first := `{"jsonrpc":"2.0","id":1,"result":null}`
	second := `{"jsonrpc":"2.0","method":"window/logMessage","params":{}}`
	chunk := append(frame(first), frame(second)...)

	got := NewFramer(0).Feed(chunk)
	if len(got) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(got))
	}
	if string(got[0]) != first || string(got[1]) != second {
		t.Errorf("messages out of order: %q", got)
	}
}

func TestFramerByteByByte(t *testing.T) {
	bodies := []string{`{"a":1}`, `{"b":"ü"}`}
	var stream []byte
	for _, b := range bodies {
		stream = append(stream, frame(b)...)
	}

	f := NewFramer(0)
	var got []string
	for i := range stream {
		for _, body := range f.Feed(stream[i : i+1]) {
			got = append(got, string(body))
		}
	}
	if len(got) != 2 || got[0] != bodies[0] || got[1] != bodies[1] {
		t.Fatalf("got %q, want %q", got, bodies)
	}
}

func TestFramerHeaderVariants(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"lower case", "content-length: 2\r\n\r\n{}", "{}"},
		{"upper case", "CONTENT-LENGTH: 2\r\n\r\n{}", "{}"},
		{"no space", "Content-Length:2\r\n\r\n{}", "{}"},
		{"extra header", "Content-Type: application/vscode-jsonrpc; charset=utf-8\r\nContent-Length: 2\r\n\r\n{}", "{}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NewFramer(0).Feed([]byte(tt.input))
			if len(got) != 1 || string(got[0]) != tt.want {
				t.Fatalf("got %q, want [%q]", got, tt.want)
			}
		})
	}
}

func TestFramerMalformedHeaderResyncs(t *testing.T) {
	var discards []string
	f := NewFramer(0)
	f.OnDiscard = func(reason string, _ int) { discards = append(discards, reason) }

	input := append([]byte("Content-Length: abc\r\n\r\n"), frame(`{"ok":true}`)...)
	got := f.Feed(input)
	if len(got) != 1 || string(got[0]) != `{"ok":true}` {
		t.Fatalf("expected stream to resync, got %q", got)
	}
	if len(discards) != 1 || discards[0] != "malformed header" {
		t.Errorf("expected one malformed header discard, got %v", discards)
	}
}

func TestFramerOversizedLengthIsDiscarded(t *testing.T) {
	f := NewFramer(16)
	discarded := 0
	f.OnDiscard = func(string, int) { discarded++ }

	input := append([]byte("Content-Length: 1000000\r\n\r\n"), frame(`{}`)...)
	got := f.Feed(input)
	if len(got) != 1 || string(got[0]) != "{}" {
		t.Fatalf("expected following message, got %q", got)
	}
	if discarded != 1 {
		t.Errorf("expected 1 discard, got %d", discarded)
	}
}

func TestFramerBoundsHeaderlessInput(t *testing.T) {
	f := NewFramer(0)
	f.Feed(bytes.Repeat([]byte("x"), maxHeaderBytes+100))
	if f.buffered() != len(headerSeparator)-1 {
		t.Fatalf("expected buffer trimmed to %d bytes, got %d", len(headerSeparator)-1, f.buffered())
	}

	// Input after the trimmed garbage still parses.
	got := f.Feed([]byte("\r\n\r\n" + string(frame(`{}`))))
	if len(got) != 1 {
		t.Fatalf("expected recovery after trimming, got %d messages", len(got))
	}
}

func TestMessageKinds(t *testing.T) {
	tests := []struct {
		raw          string
		response     bool
		request      bool
		notification bool
	}{
		{`{"jsonrpc":"2.0","id":1,"result":{}}`, true, false, false},
		{`{"jsonrpc":"2.0","id":"a","method":"workspace/configuration"}`, false, true, false},
		{`{"jsonrpc":"2.0","method":"textDocument/publishDiagnostics"}`, false, false, true},
		{`{"jsonrpc":"2.0","id":null,"method":"window/logMessage"}`, false, false, true},
	}
	for _, tt := range tests {
		var msg Message
		if err := json.Unmarshal([]byte(tt.raw), &msg); err != nil {
			t.Fatalf("unmarshal %s: %v", tt.raw, err)
		}
		if msg.IsResponse() != tt.response || msg.IsRequest() != tt.request || msg.IsNotification() != tt.notification {
			t.Errorf("%s: response=%v request=%v notification=%v", tt.raw, msg.IsResponse(), msg.IsRequest(), msg.IsNotification())
		}
	}
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

func TestJSONRPCConnReadLoopSkipsInvalidJSON(t *testing.T) {
	var stream []byte
	stream = append(stream, frame(`{"jsonrpc":"2.0","method":"first"}`)...)
	stream = append(stream, frame(`{not json`)...)
	stream = append(stream, frame(`{"jsonrpc":"2.0","method":"second"}`)...)

	conn := NewJSONRPCConn(bytes.NewReader(stream), nopWriteCloser{io.Discard}, 0)
	invalid := 0
	conn.OnInvalid = func(error) { invalid++ }

	var methods []string
	err := conn.ReadLoop(func(msg *Message) { methods = append(methods, msg.Method) })
	if err != nil {
		t.Fatalf("ReadLoop: %v", err)
	}
	if strings.Join(methods, ",") != "first,second" {
		t.Errorf("methods = %v", methods)
	}
	if invalid != 1 {
		t.Errorf("expected 1 invalid message, got %d", invalid)
	}
}

func TestJSONRPCConnWrites(t *testing.T) {
	tests := []struct {
		name  string
		write func(c *JSONRPCConn) error
		want  string
	}{
		{
			name:  "request",
			write: func(c *JSONRPCConn) error { return c.Send(7, "shutdown", nil) },
			want:  `{"jsonrpc":"2.0","id":7,"method":"shutdown"}`,
		},
		{
			name:  "notification",
			write: func(c *JSONRPCConn) error { return c.Notify("initialized", struct{}{}) },
			want:  `{"jsonrpc":"2.0","method":"initialized","params":{}}`,
		},
		{
			name:  "null result reply",
			write: func(c *JSONRPCConn) error { return c.Reply(json.RawMessage(`"abc"`), nil, nil) },
			want:  `{"jsonrpc":"2.0","id":"abc","result":null}`,
		},
		{
			name: "error reply",
			write: func(c *JSONRPCConn) error {
				return c.Reply(json.RawMessage(`3`), nil, &ResponseError{Code: CodeMethodNotFound, Message: "nope"})
			},
			want: `{"jsonrpc":"2.0","id":3,"error":{"code":-32601,"message":"nope"}}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			conn := NewJSONRPCConn(strings.NewReader(""), nopWriteCloser{&buf}, 0)
			if err := tt.write(conn); err != nil {
				t.Fatalf("write: %v", err)
			}
			if got := buf.String(); got != string(frame(tt.want)) {
				t.Errorf("got %q, want %q", got, frame(tt.want))
			}
		})
	}
}
