// ============================================================================
// gopool Worker Runtime - Worker-Side Method Dispatch
// ============================================================================
//
// Package: internal/workerruntime
// File: runtime.go
// Function: Runs inside each worker endpoint. Dispatches inbound requests to
// registered methods, runs the CLEANUP/abort-listener protocol, handles
// TERMINATE.
//
// Concurrency model: the main loop (Serve) never blocks on a running method
// — each invoke is handled in its own goroutine so a concurrently arriving
// CLEANUP for the same id can still reach its abort listeners while the
// method body is mid-flight. The pool-level guarantee of "one task at a
// time per worker" is upheld by the controller side never
// dispatching a second task to a busy WorkerHandle, not by blocking here.
//
// ============================================================================

package workerruntime

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/ChuLiYu/gopool/pkg/protocol"
)

// Method is a worker-registered callable. params are the JSON-decoded
// arguments from the request envelope; the returned value is either a plain
// JSON-serializable value or a protocol.Transfer wrapper.
type Method func(rc *RunContext, params []any) (any, error)

// AbortListener is invoked when the controller requests cleanup for the
// task that registered it. It should honor ctx's deadline and return
// promptly once its cleanup work is done.
type AbortListener func(ctx context.Context) error

// RegisterOptions configures a Runtime.
type RegisterOptions struct {
	// OnTerminate runs once, before process exit, when TERMINATE arrives.
	OnTerminate func(code int) error
	// AbortListenerTimeout bounds the total time allowed for abort
	// listeners to settle. Defaults to 1s.
	AbortListenerTimeout time.Duration
}

// Runtime is the worker-side dispatcher. Create with NewRuntime, configure
// with Register, then run with Serve.
type Runtime struct {
	mu   sync.Mutex
	exit func(code int)

	methods map[string]Method
	opts    RegisterOptions

	transport Transport

	currentID       protocol.TaskID
	currentValid    bool
	currentCancel   context.CancelFunc
	currentAbortFns []AbortListener
}

// Option configures a Runtime at construction time.
type Option func(*Runtime)

// WithExitFunc overrides the function called to end the worker process on
// TERMINATE or a fatal abort-listener rejection. The default is os.Exit;
// the in-process "thread" worker kind overrides this so that tearing down
// one worker never kills the controller's own process.
func WithExitFunc(fn func(code int)) Option {
	return func(rt *Runtime) { rt.exit = fn }
}

// NewRuntime creates an unregistered Runtime.
func NewRuntime(opts ...Option) *Runtime {
	rt := &Runtime{
		methods: make(map[string]Method),
		exit:    defaultExit,
	}
	for _, o := range opts {
		o(rt)
	}
	return rt
}

// Register installs the method table and options. It does not send the
// ready signal itself — Serve does, once a Transport is attached — which
// lets a caller register methods before the endpoint's transport exists
// (e.g. workerentry.RunStdio registers, then opens stdio).
func (rt *Runtime) Register(methods map[string]Method, opts RegisterOptions) error {
	for name := range methods {
		if name == protocol.MethodTerminate || name == protocol.MethodCleanup {
			return fmt.Errorf("%w: method name %q is reserved", protocol.ErrConfiguration, name)
		}
	}
	if opts.AbortListenerTimeout <= 0 {
		opts.AbortListenerTimeout = time.Second
	}
	rt.mu.Lock()
	rt.methods = methods
	rt.opts = opts
	rt.mu.Unlock()
	return nil
}

// Serve attaches transport, sends the ready signal, and runs the dispatch
// loop until the transport closes or TERMINATE is handled. Blocking; run it
// from the worker binary's main goroutine (or, for the "thread" worker
// kind, from a dedicated goroutine inside the controller process).
func (rt *Runtime) Serve(transport Transport) error {
	rt.mu.Lock()
	rt.transport = transport
	rt.mu.Unlock()

	if err := transport.SendReady(); err != nil {
		return fmt.Errorf("workerruntime: send ready: %w", err)
	}

	for {
		select {
		case <-transport.Terminate():
			rt.handleTerminate()
			return nil
		case req, ok := <-transport.Requests():
			if !ok {
				return nil
			}
			if req.Method == protocol.MethodCleanup {
				go rt.handleCleanup(req)
			} else {
				go rt.handleInvoke(req)
			}
		}
	}
}

func (rt *Runtime) handleTerminate() {
	rt.mu.Lock()
	onTerminate := rt.opts.OnTerminate
	rt.mu.Unlock()

	if onTerminate != nil {
		_ = onTerminate(0) // result ignored
	}
	rt.exit(0)
}

func (rt *Runtime) handleInvoke(req *protocol.Request) {
	rt.mu.Lock()
	method, ok := rt.methods[req.Method]
	if !ok {
		rt.mu.Unlock()
		rt.sendError(req.ID, fmt.Errorf("%w: %q", protocol.ErrUnknownMethod, req.Method))
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	rt.currentID = req.ID
	rt.currentValid = true
	rt.currentCancel = cancel
	rt.currentAbortFns = nil
	rt.mu.Unlock()

	rc := &RunContext{rt: rt, id: req.ID, ctx: ctx}
	result, err := method(rc, req.Params)

	rt.mu.Lock()
	if rt.currentID == req.ID {
		rt.currentValid = false
		rt.currentCancel = nil
		rt.currentAbortFns = nil
	}
	rt.mu.Unlock()
	cancel()

	if err != nil {
		rt.sendError(req.ID, err)
		return
	}
	if tr, ok := result.(protocol.Transfer); ok {
		rt.sendResponse(&protocol.Response{ID: req.ID, Result: tr.Message, Transfer: tr.Handles})
		return
	}
	rt.sendResponse(&protocol.Response{ID: req.ID, Result: result})
}

// handleCleanup implements the CLEANUP protocol.
func (rt *Runtime) handleCleanup(req *protocol.Request) {
	rt.mu.Lock()
	if !rt.currentValid || rt.currentID != req.ID {
		rt.mu.Unlock()
		rt.sendCleanupAck(req.ID, errors.New("gopool: no task in flight for cleanup"))
		return
	}
	cancel := rt.currentCancel
	listeners := append([]AbortListener(nil), rt.currentAbortFns...)
	timeout := rt.opts.AbortListenerTimeout
	rt.mu.Unlock()

	// Cancel the running method's context regardless of whether any abort
	// listeners were registered, so a cooperative method observing ctx.Done()
	// can stop promptly.
	if cancel != nil {
		cancel()
	}

	if len(listeners) == 0 {
		rt.sendCleanupAck(req.ID, errors.New("worker terminating"))
		return
	}

	ctx, done := context.WithTimeout(context.Background(), timeout)
	defer done()

	errCh := make(chan error, len(listeners))
	var wg sync.WaitGroup
	for _, l := range listeners {
		wg.Add(1)
		go func(l AbortListener) {
			defer wg.Done()
			errCh <- l(ctx)
		}(l)
	}
	allDone := make(chan struct{})
	go func() {
		wg.Wait()
		close(allDone)
	}()

	select {
	case <-allDone:
		close(errCh)
		var firstErr error
		for e := range errCh {
			if e != nil && firstErr == nil {
				firstErr = e
			}
		}
		if firstErr != nil {
			rt.sendCleanupAck(req.ID, firstErr)
			rt.exit(1)
			return
		}
		rt.sendCleanupAck(req.ID, nil)
	case <-ctx.Done():
		rt.sendCleanupAck(req.ID, fmt.Errorf("gopool: abort listener timeout: %w", ctx.Err()))
	}
}

func (rt *Runtime) sendResponse(resp *protocol.Response) {
	rt.mu.Lock()
	t := rt.transport
	rt.mu.Unlock()
	if t != nil {
		_ = t.SendResponse(resp)
	}
}

func (rt *Runtime) sendError(id protocol.TaskID, err error) {
	rt.sendResponse(&protocol.Response{ID: id, Error: protocol.SerializeError(err)})
}

func (rt *Runtime) sendCleanupAck(id protocol.TaskID, err error) {
	rt.sendResponse(&protocol.Response{ID: id, Method: protocol.MethodCleanup, Error: protocol.SerializeError(err)})
}

func defaultExit(code int) {
	os.Exit(code)
}

// RunContext is the capability object handed to a Method, exposing
// AddAbortListener and Emit alongside the method's cancellation context.
type RunContext struct {
	rt  *Runtime
	id  protocol.TaskID
	ctx context.Context
}

// Context is cancelled when the controller requests CLEANUP for this task.
// Cooperative methods may select on Context().Done() in addition to (or
// instead of) registering an AddAbortListener.
func (rc *RunContext) Context() context.Context { return rc.ctx }

// AddAbortListener registers fn to run when the controller requests CLEANUP
// for this task. No-op if the task has already completed.
func (rc *RunContext) AddAbortListener(fn AbortListener) {
	rc.rt.mu.Lock()
	defer rc.rt.mu.Unlock()
	if rc.rt.currentValid && rc.rt.currentID == rc.id {
		rc.rt.currentAbortFns = append(rc.rt.currentAbortFns, fn)
	}
}

// Emit sends a fire-and-forget event envelope for this task. Valid only
// while the task is executing.
func (rc *RunContext) Emit(payload any) {
	if tr, ok := payload.(protocol.Transfer); ok {
		rc.rt.sendResponse(&protocol.Response{ID: rc.id, IsEvent: true, Payload: tr.Message, Transfer: tr.Handles})
		return
	}
	rc.rt.sendResponse(&protocol.Response{ID: rc.id, IsEvent: true, Payload: payload})
}
