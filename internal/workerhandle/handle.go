// Package workerhandle implements the per-worker state machine: dispatching
// one task at a time to an endpoint, settling its future on the matching
// response, and running the cancellation/cleanup dance when a dispatched
// task is cancelled or times out instead of simply dropping it.
package workerhandle

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ChuLiYu/gopool/internal/endpoint"
	"github.com/ChuLiYu/gopool/pkg/future"
	"github.com/ChuLiYu/gopool/pkg/protocol"
)

// State is the worker lifecycle state the pool's Stats() reports.
type State int

const (
	StateStarting State = iota
	StateReady
	StateBusy
	StateTerminating
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateReady:
		return "ready"
	case StateBusy:
		return "busy"
	case StateTerminating:
		return "terminating"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Options configures a Handle's termination/cleanup timing.
type Options struct {
	// WorkerTerminateTimeout bounds how long a graceful SendTerminate, and
	// separately each CLEANUP round trip, is allowed before the worker is
	// killed outright. Default 1s.
	WorkerTerminateTimeout time.Duration
	// OnDone is called exactly once, when the worker exits for any reason
	// (planned termination or crash), so the pool can replace it if the
	// pool is still below MinWorkers.
	OnDone func(h *Handle, crashed bool, crashInfo endpoint.CrashInfo)
	// OnCreated/OnTerminate mirror Pool's own lifecycle hooks.
	OnCreated   func(h *Handle)
	OnTerminate func(h *Handle)
	Log         *slog.Logger
}

// DispatchOptions carries per-call extras alongside method/params: transfer
// handles to attach to the outbound request, and a progress-event callback.
type DispatchOptions struct {
	Transfer []protocol.TransferHandle
	On       func(payload any)
}

// pendingTask tracks the one task currently dispatched to this worker.
type pendingTask struct {
	id  protocol.TaskID
	fut *future.Future
	on  func(payload any)
}

// Handle is the controller-side state machine for one worker, wrapping an
// endpoint.Endpoint with dispatch, response routing, and the cancel/cleanup
// protocol (one task in flight at a time, per-worker).
type Handle struct {
	id   int
	kind string
	ep   endpoint.Endpoint
	opts Options
	log  *slog.Logger

	mu       sync.Mutex
	state    State
	current  *pendingTask
	cleanup  *cleanupRound
	stopCh   chan struct{}
	stopOnce sync.Once
}

type cleanupRound struct {
	id    protocol.TaskID
	timer *time.Timer
}

// New wraps ep as a Handle identified by id (a pool-assigned sequence
// number, not a task id) and starts its response-routing loop.
func New(id int, kind string, ep endpoint.Endpoint, opts Options) *Handle {
	if opts.WorkerTerminateTimeout <= 0 {
		opts.WorkerTerminateTimeout = time.Second
	}
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	h := &Handle{
		id:     id,
		kind:   kind,
		ep:     ep,
		opts:   opts,
		log:    log.With("worker_id", id, "worker_kind", kind),
		state:  StateStarting,
		stopCh: make(chan struct{}),
	}
	go h.runLoop()
	if opts.OnCreated != nil {
		opts.OnCreated(h)
	}
	return h
}

// ID is the pool-assigned sequence number for this worker.
func (h *Handle) ID() int { return h.id }

// Kind reports which isolation model backs this worker ("thread", "process",
// "web").
func (h *Handle) Kind() string { return h.kind }

// State returns the worker's current lifecycle state.
func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Busy reports whether the worker currently has a task in flight (including
// one that is mid-cleanup) and so cannot accept another dispatch.
func (h *Handle) Busy() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state == StateBusy
}

// WaitReady blocks until the worker's ready signal arrives, it crashes
// during startup, or ctx is done, whichever comes first.
func (h *Handle) WaitReady(ctx context.Context) error {
	select {
	case <-h.ep.Ready():
		h.mu.Lock()
		if h.state == StateStarting {
			h.state = StateReady
		}
		h.mu.Unlock()
		return nil
	case <-h.stopCh:
		return fmt.Errorf("%w: worker exited before becoming ready", protocol.ErrWorkerCrashed)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dispatch sends method(params) to the worker and arranges for fut to settle
// with the eventual result. If fut is cancelled (or its timeout fires)
// while the task is still in flight at this worker, Dispatch intercepts the
// cancellation: fut settles immediately with the triggering error, and a
// separate CLEANUP round trip decides, in the background, whether this
// worker survives or is torn down.
func (h *Handle) Dispatch(id protocol.TaskID, method string, params []any, fut *future.Future, opts DispatchOptions) error {
	h.mu.Lock()
	if h.state != StateReady {
		h.mu.Unlock()
		return fmt.Errorf("workerhandle: worker %d not ready (state=%s)", h.id, h.state)
	}
	h.state = StateBusy
	h.current = &pendingTask{id: id, fut: fut, on: opts.On}
	h.mu.Unlock()

	fut.OnCancel(func(triggerErr error) {
		h.interceptCancel(id, triggerErr)
	})

	if err := h.ep.Send(&protocol.Request{ID: id, Method: method, Params: params, Transfer: opts.Transfer}); err != nil {
		h.mu.Lock()
		h.current = nil
		h.state = StateReady
		h.mu.Unlock()
		return err
	}
	return nil
}

func (h *Handle) interceptCancel(id protocol.TaskID, triggerErr error) {
	h.mu.Lock()
	cur := h.current
	if cur == nil || cur.id != id {
		h.mu.Unlock()
		return // already settled via a normal response
	}
	h.mu.Unlock()

	cur.fut.Settle(nil, triggerErr)
	h.beginCleanupRound(id)
}

func (h *Handle) beginCleanupRound(id protocol.TaskID) {
	h.mu.Lock()
	if h.cleanup != nil {
		h.mu.Unlock()
		return // a round is already underway for this task
	}
	timer := time.AfterFunc(h.opts.WorkerTerminateTimeout, func() {
		h.log.Warn("cleanup round timed out, killing worker", "task_id", id)
		h.terminate(true)
	})
	h.cleanup = &cleanupRound{id: id, timer: timer}
	h.mu.Unlock()

	if err := h.ep.Send(&protocol.Request{ID: id, Method: protocol.MethodCleanup}); err != nil {
		h.log.Warn("failed to send cleanup request, killing worker", "task_id", id, "error", err)
		h.terminate(true)
	}
}

func (h *Handle) runLoop() {
	for {
		select {
		case resp, ok := <-h.ep.Inbound():
			if !ok {
				return
			}
			h.handleResponse(resp)
		case info := <-h.ep.Crashed():
			h.handleCrash(info)
			return
		case <-h.stopCh:
			return
		}
	}
}

func (h *Handle) handleResponse(resp *protocol.Response) {
	if resp.Method == protocol.MethodCleanup {
		h.handleCleanupAck(resp)
		return
	}
	if resp.IsEvent {
		h.mu.Lock()
		cur := h.current
		h.mu.Unlock()
		if cur != nil && cur.id == resp.ID && cur.on != nil {
			cur.on(resp.Payload)
		}
		return
	}

	h.mu.Lock()
	cur := h.current
	if cur == nil || cur.id != resp.ID {
		h.mu.Unlock()
		return // stray response for a task this worker already settled
	}
	h.current = nil
	if h.cleanup == nil {
		// While a cleanup round is open the worker stays busy; the
		// CLEANUP ack decides whether it returns to ready.
		h.state = StateReady
	}
	h.mu.Unlock()

	if resp.Error != nil {
		cur.fut.Settle(nil, protocol.DeserializeError(resp.Error))
		return
	}
	cur.fut.Settle(resp.Result, nil)
}

func (h *Handle) handleCleanupAck(resp *protocol.Response) {
	h.mu.Lock()
	round := h.cleanup
	if round == nil || round.id != resp.ID {
		h.mu.Unlock()
		return
	}
	round.timer.Stop()
	h.cleanup = nil
	h.current = nil
	h.mu.Unlock()

	if resp.Error != nil {
		// The worker could not (or would not) clean up in place; per the
		// protocol's own contract this means the in-flight task is still
		// running inside it, so the only safe move is to kill it.
		h.log.Warn("cleanup acknowledged with error, killing worker", "task_id", resp.ID, "error", resp.Error.Message)
		h.terminate(true)
		return
	}
	h.mu.Lock()
	h.state = StateReady
	h.mu.Unlock()
}

func (h *Handle) handleCrash(info endpoint.CrashInfo) {
	h.mu.Lock()
	cur := h.current
	h.current = nil
	h.state = StateTerminated
	onDone := h.opts.OnDone
	h.mu.Unlock()

	if cur != nil {
		cur.fut.Settle(nil, protocol.ErrWorkerCrashed)
	}
	if onDone != nil {
		onDone(h, true, info)
	}
}

// Terminate gracefully asks the worker to exit, falling back to Kill if it
// does not exit within WorkerTerminateTimeout. If force is true it kills
// immediately. In both modes a task still in flight is settled at once with
// protocol.ErrWorkerTerminated; a graceful Terminate does not wait for it
// to finish.
func (h *Handle) Terminate(force bool) error {
	return h.terminate(force)
}

func (h *Handle) terminate(force bool) error {
	h.mu.Lock()
	if h.state == StateTerminated {
		h.mu.Unlock()
		return nil
	}
	if onDone := h.opts.OnDone; onDone != nil {
		defer onDone(h, false, endpoint.CrashInfo{})
	}
	h.state = StateTerminating
	cur := h.current
	h.current = nil
	h.mu.Unlock()

	if cur != nil {
		cur.fut.Settle(nil, protocol.ErrWorkerTerminated)
	}

	h.stopOnce.Do(func() { close(h.stopCh) })

	if h.opts.OnTerminate != nil {
		h.opts.OnTerminate(h)
	}

	if force {
		err := h.ep.Kill()
		h.mu.Lock()
		h.state = StateTerminated
		h.mu.Unlock()
		return err
	}

	if err := h.ep.SendTerminate(); err != nil {
		_ = h.ep.Kill()
		h.mu.Lock()
		h.state = StateTerminated
		h.mu.Unlock()
		return err
	}

	done := make(chan error, 1)
	go func() { done <- h.ep.Wait() }()

	select {
	case err := <-done:
		h.mu.Lock()
		h.state = StateTerminated
		h.mu.Unlock()
		return err
	case <-time.After(h.opts.WorkerTerminateTimeout):
		err := h.ep.Kill()
		h.mu.Lock()
		h.state = StateTerminated
		h.mu.Unlock()
		return err
	}
}
