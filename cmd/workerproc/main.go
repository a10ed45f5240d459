// Command workerproc is a standalone "process" worker kind binary, for
// deployments that prefer shipping a dedicated worker image rather than
// relying on cmd/gopool's --gopool-worker self-exec.
package main

import (
	"fmt"
	"os"

	"github.com/ChuLiYu/gopool/internal/workerentry"
)

func main() {
	if err := workerentry.RunStdio(); err != nil {
		fmt.Fprintln(os.Stderr, "workerproc:", err)
		os.Exit(1)
	}
}
