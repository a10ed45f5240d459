// Package endpoint defines the controller-side view of a worker: however it
// is hosted (goroutine, child process, or WebSocket peer), internal/pool and
// internal/workerhandle only ever see an Endpoint.
package endpoint

import "github.com/ChuLiYu/gopool/pkg/protocol"

// Endpoint is the controller's handle on one running worker, independent of
// how that worker is isolated. Implementations: thread (in-process
// goroutine), process (os/exec child), websocket (gorilla/websocket peer).
type Endpoint interface {
	// Send delivers one request envelope to the worker.
	Send(*protocol.Request) error
	// SendTerminate delivers the bare terminate signal.
	SendTerminate() error
	// Inbound yields every response/event envelope the worker sends, in
	// arrival order; the bare ready signal goes to Ready instead. Closed when
	// the worker's transport
	// closes for any reason (planned shutdown or crash).
	Inbound() <-chan *protocol.Response
	// Ready fires exactly once, when the worker's bare ready signal arrives.
	Ready() <-chan struct{}
	// Crashed fires at most once, with diagnostic detail, if the worker's
	// underlying transport ends without a clean Kill having been requested.
	Crashed() <-chan CrashInfo
	// Kill forcibly ends the worker (process kill, goroutine abandonment, or
	// connection close, depending on kind). Idempotent.
	Kill() error
	// Wait blocks until the worker has fully exited.
	Wait() error
}

// CrashInfo describes an endpoint's unexpected exit.
type CrashInfo struct {
	Err      error
	ExitCode int
}
