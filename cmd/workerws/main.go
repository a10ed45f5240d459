// Command workerws is the "web" worker kind binary: it listens for a single
// WebSocket connection from the pool controller and serves the compiled-in
// method table over it, the network-isolated analog of a browser Worker.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/ChuLiYu/gopool/internal/workerentry"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:43300", "listen address for the worker websocket endpoint")
	flag.Parse()

	if err := workerentry.RunWebSocket(*addr); err != nil {
		fmt.Fprintln(os.Stderr, "workerws:", err)
		os.Exit(1)
	}
}
