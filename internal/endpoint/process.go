package endpoint

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"

	"github.com/ChuLiYu/gopool/pkg/protocol"
)

// wireFrame mirrors internal/workerruntime's line-delimited JSON shape from
// the controller side. The two packages never share the type directly —
// only the wire shape — since each owns its half of the pipe independently,
// the same way the reference pre-forked sandbox pool keeps its parent and
// child framing logic in separate files.
type wireFrame struct {
	Bare     string             `json:"bare,omitempty"`
	Request  *protocol.Request  `json:"request,omitempty"`
	Response *protocol.Response `json:"response,omitempty"`
}

// ProcessEndpoint hosts a worker in a child process, talking newline-delimited
// JSON over its stdin/stdout. This is the isolation-heavy worker kind: a
// crash, a hang, or a runaway allocation in the worker can't take the
// controller down with it, at the cost of a fork/exec and a serialization
// boundary on every call.
type ProcessEndpoint struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	enc    *json.Encoder
	encMu  sync.Mutex

	inbound chan *protocol.Response
	ready   chan struct{}
	crashed chan CrashInfo
	done    chan struct{}

	mu            sync.Mutex
	terminateSent bool
	killed        bool
}

// NewProcessEndpoint starts command (already resolved, e.g. a self-exec of
// the controller binary with a worker-mode flag) and wires its stdio as the
// wire transport. debugPort is passed through via env for the worker to
// optionally bind a pprof/inspection listener on, mirroring the pool-owned
// monotonic debug-port allocator.
func NewProcessEndpoint(command string, args []string, env []string, debugPort int) (*ProcessEndpoint, error) {
	cmd := exec.Command(command, args...)
	cmd.Env = append(env, fmt.Sprintf("GOPOOL_DEBUG_PORT=%d", debugPort))

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("endpoint: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("endpoint: stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("endpoint: stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("endpoint: start worker process: %w", err)
	}

	ep := &ProcessEndpoint{
		cmd:     cmd,
		stdin:   stdin,
		enc:     json.NewEncoder(stdin),
		inbound: make(chan *protocol.Response, 8),
		ready:   make(chan struct{}),
		crashed: make(chan CrashInfo, 1),
		done:    make(chan struct{}),
	}

	go ep.readLoop(stdout)
	go ep.stderrLoop(stderr)
	go ep.waitLoop()
	return ep, nil
}

func (ep *ProcessEndpoint) readLoop(stdout io.Reader) {
	defer close(ep.inbound)
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	readyClosed := false
	for scanner.Scan() {
		var frame wireFrame
		if err := json.Unmarshal(scanner.Bytes(), &frame); err != nil {
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

func (ep *ProcessEndpoint) stderrLoop(stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		slog.Warn("worker stderr", "pid", ep.cmd.Process.Pid, "line", scanner.Text())
	}
}

func (ep *ProcessEndpoint) waitLoop() {
	err := ep.cmd.Wait()
	close(ep.done)

	ep.mu.Lock()
	killed := ep.killed
	ep.mu.Unlock()
	if killed {
		return
	}

	exitCode := 0
	if ep.cmd.ProcessState != nil {
		exitCode = ep.cmd.ProcessState.ExitCode()
	}
	if err != nil || exitCode != 0 {
		select {
		case ep.crashed <- CrashInfo{Err: err, ExitCode: exitCode}:
		default:
		}
	}
}

func (ep *ProcessEndpoint) Send(req *protocol.Request) error {
	ep.encMu.Lock()
	defer ep.encMu.Unlock()
	return ep.enc.Encode(wireFrame{Request: req})
}

func (ep *ProcessEndpoint) SendTerminate() error {
	ep.mu.Lock()
	ep.terminateSent = true
	ep.mu.Unlock()

	ep.encMu.Lock()
	defer ep.encMu.Unlock()
	return ep.enc.Encode(wireFrame{Bare: protocol.MethodTerminate})
}

func (ep *ProcessEndpoint) Inbound() <-chan *protocol.Response { return ep.inbound }
func (ep *ProcessEndpoint) Ready() <-chan struct{}             { return ep.ready }
func (ep *ProcessEndpoint) Crashed() <-chan CrashInfo          { return ep.crashed }

// Kill sends SIGKILL to the child process. Unlike the "thread" kind, this is
// a real preemption: a hung or runaway worker process genuinely stops,
// zombie-process-free because waitLoop's cmd.Wait() always runs and reaps it.
func (ep *ProcessEndpoint) Kill() error {
	ep.mu.Lock()
	ep.killed = true
	ep.mu.Unlock()
	if ep.cmd.Process == nil {
		return nil
	}
	return ep.cmd.Process.Kill()
}

func (ep *ProcessEndpoint) Wait() error {
	<-ep.done
	return nil
}
