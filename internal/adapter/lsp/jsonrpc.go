package lsp

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"sync"
)

// JSON-RPC 2.0 error codes used by the client.
const (
	CodeParseError     = -32700
	CodeMethodNotFound = -32601
	CodeInternalError  = -32603
)

const (
	headerSeparator = "\r\n\r\n"
	// maxHeaderBytes bounds the buffer while no header separator has been seen.
	maxHeaderBytes = 64 * 1024
	readChunkSize  = 32 * 1024
)

var contentLengthRe = regexp.MustCompile(`(?i)content-length:[ \t]*(\d+)`)

// Message represents a JSON-RPC 2.0 message (request, response, or notification).
// ID is kept raw so that string and numeric ids from the server round-trip unchanged.
type Message struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *ResponseError  `json:"error,omitempty"`
}

// HasID reports whether the message carries a non-null id.
func (m *Message) HasID() bool {
	return len(m.ID) > 0 && !bytes.Equal(m.ID, []byte("null"))
}

// IsResponse reports whether m answers one of our requests.
func (m *Message) IsResponse() bool { return m.HasID() && m.Method == "" }

// IsRequest reports whether m is a server-to-client request expecting a reply.
func (m *Message) IsRequest() bool { return m.HasID() && m.Method != "" }

// IsNotification reports whether m is a server notification.
func (m *Message) IsNotification() bool { return !m.HasID() && m.Method != "" }

// IntID decodes a numeric id.
func (m *Message) IntID() (int64, bool) {
	var id int64
	if err := json.Unmarshal(m.ID, &id); err != nil {
		return 0, false
	}
	return id, true
}

// ResponseError represents a JSON-RPC 2.0 error object.
type ResponseError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// Encode frames a JSON body with its Content-Length header.
// The length is counted in bytes, not characters.
func Encode(body []byte) []byte {
	header := "Content-Length: " + strconv.Itoa(len(body)) + headerSeparator
	out := make([]byte, 0, len(header)+len(body))
	out = append(out, header...)
	return append(out, body...)
}

// Framer splits a byte stream into Content-Length framed bodies.
// Chunks may split headers or bodies at any byte and may carry several
// messages back to back.
type Framer struct {
	buf     []byte
	maxBody int

	// OnDiscard, when set, is told about bytes dropped during resync.
	OnDiscard func(reason string, n int)
}

// NewFramer returns a Framer rejecting bodies larger than maxBody.
// A maxBody of zero or less disables the limit.
func NewFramer(maxBody int) *Framer {
	return &Framer{maxBody: maxBody}
}

// Feed appends data to the buffer and returns every complete body now available.
func (f *Framer) Feed(data []byte) [][]byte {
	f.buf = append(f.buf, data...)

	var bodies [][]byte
	off := 0
	for {
		rest := f.buf[off:]
		sep := bytes.Index(rest, []byte(headerSeparator))
		if sep < 0 {
			// Keep the tail in case a separator straddles the next chunk.
			if len(rest) > maxHeaderBytes {
				drop := len(rest) - (len(headerSeparator) - 1)
				f.discard("header too large", drop)
				off += drop
			}
			break
		}

		n, ok := f.contentLength(rest[:sep])
		start := sep + len(headerSeparator)
		if !ok {
			f.discard("malformed header", start)
			off += start
			continue
		}
		if len(rest)-start < n {
			break
		}

		body := make([]byte, n)
		copy(body, rest[start:start+n])
		bodies = append(bodies, body)
		off += start + n
	}

	if off > 0 {
		f.buf = append(f.buf[:0], f.buf[off:]...)
	}
	return bodies
}

// buffered returns the number of bytes awaiting a complete message.
func (f *Framer) buffered() int { return len(f.buf) }

func (f *Framer) contentLength(header []byte) (int, bool) {
	m := contentLengthRe.FindSubmatch(header)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(string(m[1]))
	if err != nil || n < 0 {
		return 0, false
	}
	if f.maxBody > 0 && n > f.maxBody {
		return 0, false
	}
	return n, true
}

func (f *Framer) discard(reason string, n int) {
	if f.OnDiscard != nil {
		f.OnDiscard(reason, n)
	}
}

// JSONRPCConn implements the JSON-RPC 2.0 over stdio transport with
// Content-Length header framing. Writes are serialized; reads happen on the
// single goroutine running ReadLoop.
type JSONRPCConn struct {
	r      io.Reader
	w      io.WriteCloser
	framer *Framer
	mu     sync.Mutex // protects writes

	// OnInvalid, when set, is called for bodies that are not valid JSON.
	OnInvalid func(err error)
}

// NewJSONRPCConn creates a connection reading from r (server stdout) and
// writing to w (server stdin).
func NewJSONRPCConn(r io.Reader, w io.WriteCloser, maxBody int) *JSONRPCConn {
	return &JSONRPCConn{
		r:      r,
		w:      w,
		framer: NewFramer(maxBody),
	}
}

// Framer exposes the connection's framer so callers can observe discards.
func (c *JSONRPCConn) Framer() *Framer { return c.framer }

// Send writes a request with the given id.
func (c *JSONRPCConn) Send(id int64, method string, params any) error {
	raw, err := marshalParams(params)
	if err != nil {
		return err
	}
	return c.write(Message{
		JSONRPC: "2.0",
		ID:      json.RawMessage(strconv.FormatInt(id, 10)),
		Method:  method,
		Params:  raw,
	})
}

// Notify writes a notification (no id, no response expected).
func (c *JSONRPCConn) Notify(method string, params any) error {
	raw, err := marshalParams(params)
	if err != nil {
		return err
	}
	return c.write(Message{JSONRPC: "2.0", Method: method, Params: raw})
}

// Reply answers a server-to-client request, echoing its id verbatim.
// A nil rerr sends result (which may be nil, encoded as JSON null).
func (c *JSONRPCConn) Reply(id json.RawMessage, result any, rerr *ResponseError) error {
	msg := Message{JSONRPC: "2.0", ID: id}
	if rerr != nil {
		msg.Error = rerr
	} else {
		raw, err := json.Marshal(result)
		if err != nil {
			return fmt.Errorf("marshal result: %w", err)
		}
		msg.Result = raw
	}
	return c.write(msg)
}

// ReadLoop reads from the server until the stream ends and calls handle for
// every decoded message in arrival order. It returns nil on a clean EOF.
func (c *JSONRPCConn) ReadLoop(handle func(*Message)) error {
	buf := make([]byte, readChunkSize)
	for {
		n, err := c.r.Read(buf)
		if n > 0 {
			for _, body := range c.framer.Feed(buf[:n]) {
				var msg Message
				if jerr := json.Unmarshal(body, &msg); jerr != nil {
					if c.OnInvalid != nil {
						c.OnInvalid(fmt.Errorf("unmarshal message: %w", jerr))
					}
					continue
				}
				handle(&msg)
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}
	}
}

// Close closes the server's stdin.
func (c *JSONRPCConn) Close() error {
	return c.w.Close()
}

func (c *JSONRPCConn) write(msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.w.Write(Encode(data)); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

func marshalParams(params any) (json.RawMessage, error) {
	if params == nil {
		return nil, nil
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshal params: %w", err)
	}
	return raw, nil
}
