// Package workerruntime implements the code that runs inside a worker
// endpoint: method dispatch, the CLEANUP/abort-listener protocol, and
// TERMINATE handling.
package workerruntime

import (
	"bufio"
	"encoding/json"
	"errors"
	"io"
	"sync"

	"github.com/ChuLiYu/gopool/pkg/protocol"
	"github.com/gorilla/websocket"
)

// Transport carries framed requests in and framed responses out of a
// Runtime. Two concrete transports are provided here (stdio, WebSocket);
// internal/endpoint supplies a third (an in-process channel pair) for the
// "thread" worker kind, since that transport needs to be paired with the
// controller-side endpoint living in the same process.
type Transport interface {
	// Requests yields every inbound request envelope, in arrival order.
	Requests() <-chan *protocol.Request
	// Terminate fires exactly once, when the bare terminate signal arrives.
	Terminate() <-chan struct{}
	// SendResponse writes one outbound response envelope.
	SendResponse(*protocol.Response) error
	// SendReady writes the literal, un-enveloped ready signal.
	SendReady() error
	// Close releases any resources the transport owns.
	Close() error
}

// ============================================================================
// Stdio transport — used by cmd/workerproc, the "process" worker kind.
// ============================================================================

// wireFrame is the line-delimited JSON shape exchanged over stdio: either
// the bare ready/terminate strings under "bare", or a full envelope under
// "request" or "response".
type wireFrame struct {
	Bare     string             `json:"bare,omitempty"`
	Request  *protocol.Request  `json:"request,omitempty"`
	Response *protocol.Response `json:"response,omitempty"`
}

// StdioTransport frames one JSON value per line over stdin/stdout, the same
// encode/decode-per-line convention a pre-forked sandbox worker pool uses
// for its request/response pairs.
type StdioTransport struct {
	enc *json.Encoder
	dec *bufio.Scanner

	mu        sync.Mutex
	requests  chan *protocol.Request
	terminate chan struct{}
	closeOnce sync.Once
	done      chan struct{}
}

// NewStdioTransport wraps the process's own stdin/stdout (or, in tests, a
// pipe) as a Transport.
func NewStdioTransport(in io.Reader, out io.Writer) *StdioTransport {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	t := &StdioTransport{
		enc:       json.NewEncoder(out),
		dec:       scanner,
		requests:  make(chan *protocol.Request, 16),
		terminate: make(chan struct{}),
		done:      make(chan struct{}),
	}
	go t.readLoop()
	return t
}

func (t *StdioTransport) readLoop() {
	defer close(t.requests)
	for t.dec.Scan() {
		line := t.dec.Bytes()
		if len(line) == 0 {
			continue
		}
		var frame wireFrame
		if err := json.Unmarshal(line, &frame); err != nil {
			continue // malformed line; skip rather than crash the worker
		}
		switch {
		case frame.Bare == protocol.MethodTerminate:
			close(t.terminate)
			return
		case frame.Request != nil:
			t.requests <- frame.Request
		}
	}
}

func (t *StdioTransport) Requests() <-chan *protocol.Request { return t.requests }
func (t *StdioTransport) Terminate() <-chan struct{}         { return t.terminate }

func (t *StdioTransport) SendResponse(resp *protocol.Response) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enc.Encode(wireFrame{Response: resp})
}

func (t *StdioTransport) SendReady() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enc.Encode(wireFrame{Bare: protocol.ReadySignal})
}

func (t *StdioTransport) Close() error {
	t.closeOnce.Do(func() { close(t.done) })
	return nil
}

// ============================================================================
// WebSocket transport — used by cmd/workerws, the "web" worker kind.
// ============================================================================

// WebSocketTransport frames the same wireFrame JSON values as text messages
// over a gorilla/websocket connection, the Go-native analog of a browser
// Worker's postMessage channel.
type WebSocketTransport struct {
	conn *websocket.Conn

	mu        sync.Mutex
	requests  chan *protocol.Request
	terminate chan struct{}
}

// NewWebSocketTransport wraps an already-accepted/dialed connection.
func NewWebSocketTransport(conn *websocket.Conn) *WebSocketTransport {
	t := &WebSocketTransport{
		conn:      conn,
		requests:  make(chan *protocol.Request, 16),
		terminate: make(chan struct{}),
	}
	go t.readLoop()
	return t
}

func (t *WebSocketTransport) readLoop() {
	defer close(t.requests)
	for {
		_, data, err := t.conn.ReadMessage()
		if err != nil {
			return
		}
		var frame wireFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			continue
		}
		switch {
		case frame.Bare == protocol.MethodTerminate:
			close(t.terminate)
			return
		case frame.Request != nil:
			t.requests <- frame.Request
		}
	}
}

func (t *WebSocketTransport) Requests() <-chan *protocol.Request { return t.requests }
func (t *WebSocketTransport) Terminate() <-chan struct{}         { return t.terminate }

func (t *WebSocketTransport) SendResponse(resp *protocol.Response) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn.WriteJSON(wireFrame{Response: resp})
}

func (t *WebSocketTransport) SendReady() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn.WriteJSON(wireFrame{Bare: protocol.ReadySignal})
}

func (t *WebSocketTransport) Close() error {
	return t.conn.Close()
}

// ErrTransportClosed names a write issued after Close. StdioTransport and
// WebSocketTransport do not return it: their writes after Close go to the
// underlying writer or connection as usual.
var ErrTransportClosed = errors.New("workerruntime: transport closed")
