// Package workerentry holds the small amount of bootstrap code shared by
// the worker-side binaries (cmd/gopool's self-exec path, cmd/workerproc,
// cmd/workerws): build a Runtime over the compiled-in method table and
// serve it over whichever transport that binary speaks.
package workerentry

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ChuLiYu/gopool/internal/methods"
	"github.com/ChuLiYu/gopool/internal/workerruntime"
)

// RunStdio serves the compiled-in method table over the process's own
// stdin/stdout, for the "process" worker kind.
func RunStdio() error {
	rt := workerruntime.NewRuntime()
	if err := rt.Register(methods.Table(), workerruntime.RegisterOptions{
		AbortListenerTimeout: time.Second,
	}); err != nil {
		return fmt.Errorf("workerentry: register methods: %w", err)
	}
	transport := workerruntime.NewStdioTransport(os.Stdin, os.Stdout)
	return rt.Serve(transport)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Worker connections are dialed by the pool's own controller process,
	// never by a browser, so the usual cross-origin check is irrelevant.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// RunWebSocket listens on addr and serves the compiled-in method table over
// the first WebSocket connection made to /worker, for the "web" worker
// kind. It exits once that connection closes, mirroring a process-kind
// worker's one-shot lifetime.
func RunWebSocket(addr string) error {
	served := make(chan error, 1)
	mux := http.NewServeMux()
	mux.HandleFunc("/worker", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			served <- fmt.Errorf("workerentry: upgrade: %w", err)
			return
		}
		rt := workerruntime.NewRuntime()
		if err := rt.Register(methods.Table(), workerruntime.RegisterOptions{
			AbortListenerTimeout: time.Second,
		}); err != nil {
			served <- err
			return
		}
		transport := workerruntime.NewWebSocketTransport(conn)
		served <- rt.Serve(transport)
	})

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			served <- fmt.Errorf("workerentry: listen: %w", err)
		}
	}()

	err := <-served
	_ = srv.Close()
	return err
}
