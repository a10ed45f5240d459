// Command gopool is the pool controller CLI. Invoked with --gopool-worker
// it instead re-execs itself as a stdio worker process — the default
// ProcessEndpoint command, so a plain `go build` of this one binary is
// enough to run the "process" worker kind with no separate worker binary
// to ship.
package main

import (
	"fmt"
	"os"

	"github.com/ChuLiYu/gopool/internal/cli"
	"github.com/ChuLiYu/gopool/internal/workerentry"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "--gopool-worker" {
		if err := workerentry.RunStdio(); err != nil {
			fmt.Fprintln(os.Stderr, "gopool worker:", err)
			os.Exit(1)
		}
		return
	}

	if err := cli.BuildCLI().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "gopool:", err)
		os.Exit(1)
	}
}
