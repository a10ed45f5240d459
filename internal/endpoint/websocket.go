package endpoint

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/ChuLiYu/gopool/pkg/protocol"
	"github.com/gorilla/websocket"
)

// WebSocketEndpoint hosts a worker reached over a network connection — the
// Go-native analog of a browser Worker, and the only kind that can run on a
// different host than the controller. Framing matches ProcessEndpoint's
// wireFrame shape, sent as WebSocket text frames instead of stdio lines.
type WebSocketEndpoint struct {
	conn  *websocket.Conn
	connMu sync.Mutex

	inbound chan *protocol.Response
	ready   chan struct{}
	crashed chan CrashInfo
	done    chan struct{}

	mu     sync.Mutex
	killed bool
}

// DialWebSocketEndpoint connects to a cmd/workerws server listening at url
// (e.g. "ws://127.0.0.1:43210/worker") and returns the controller-side
// Endpoint.
func DialWebSocketEndpoint(url string) (*WebSocketEndpoint, error) {
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, fmt.Errorf("endpoint: dial worker websocket: %w", err)
	}

	ep := &WebSocketEndpoint{
		conn:    conn,
		inbound: make(chan *protocol.Response, 8),
		ready:   make(chan struct{}),
		crashed: make(chan CrashInfo, 1),
		done:    make(chan struct{}),
	}
	go ep.readLoop()
	return ep, nil
}

func (ep *WebSocketEndpoint) readLoop() {
	defer close(ep.inbound)
	defer close(ep.done)

	readyClosed := false
	for {
		_, data, err := ep.conn.ReadMessage()
		if err != nil {
			ep.mu.Lock()
			killed := ep.killed
			ep.mu.Unlock()
			if !killed {
				select {
				case ep.crashed <- CrashInfo{Err: err}:
				default:
				}
			}
			return
		}
		var frame wireFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			continue
		}
		switch {
		case frame.Bare == protocol.ReadySignal:
			if !readyClosed {
				readyClosed = true
				close(ep.ready)
			}
		case frame.Response != nil:
			ep.inbound <- frame.Response
		}
	}
}

func (ep *WebSocketEndpoint) Send(req *protocol.Request) error {
	ep.connMu.Lock()
	defer ep.connMu.Unlock()
	return ep.conn.WriteJSON(wireFrame{Request: req})
}

func (ep *WebSocketEndpoint) SendTerminate() error {
	ep.connMu.Lock()
	defer ep.connMu.Unlock()
	return ep.conn.WriteJSON(wireFrame{Bare: protocol.MethodTerminate})
}

func (ep *WebSocketEndpoint) Inbound() <-chan *protocol.Response { return ep.inbound }
func (ep *WebSocketEndpoint) Ready() <-chan struct{}             { return ep.ready }
func (ep *WebSocketEndpoint) Crashed() <-chan CrashInfo          { return ep.crashed }

// Kill closes the underlying connection. The worker process behind it (see
// cmd/workerws) is expected to exit on its own once its connection drops.
func (ep *WebSocketEndpoint) Kill() error {
	ep.mu.Lock()
	ep.killed = true
	ep.mu.Unlock()
	return ep.conn.Close()
}

func (ep *WebSocketEndpoint) Wait() error {
	<-ep.done
	return nil
}
