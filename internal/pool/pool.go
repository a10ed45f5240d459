// Package pool implements the controller side of the worker pool: sizing,
// the FIFO task queue with backpressure, dispatch, and crash replacement.
package pool

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ChuLiYu/gopool/internal/endpoint"
	"github.com/ChuLiYu/gopool/internal/workerhandle"
	"github.com/ChuLiYu/gopool/internal/workerruntime"
	"github.com/ChuLiYu/gopool/pkg/future"
	"github.com/ChuLiYu/gopool/pkg/protocol"
)

// WorkerKind selects how a worker is isolated from the controller.
type WorkerKind string

const (
	KindAuto    WorkerKind = "auto"
	KindThread  WorkerKind = "thread"
	KindProcess WorkerKind = "process"
	KindWeb     WorkerKind = "web"
)

// execCallMethod is the reserved method name used to carry an ExecFunc
// closure to a thread-kind worker. It never crosses a serialization
// boundary: the "thread" endpoint passes protocol.Request by Go channel, not
// by byte encoding, so a func value survives in Params untouched.
const execCallMethod = "__gopool-call__"

func execFuncDispatch(_ *workerruntime.RunContext, params []any) (any, error) {
	if len(params) == 0 {
		return nil, fmt.Errorf("gopool: %s: missing function argument", execCallMethod)
	}
	fn, ok := params[0].(func([]any) (any, error))
	if !ok {
		return nil, fmt.Errorf("gopool: %s: argument is not a callable", execCallMethod)
	}
	return fn(params[1:])
}

// Metrics is the subset of internal/metrics.Collector the pool drives.
// Declared here (rather than importing the concrete type) so pool has no
// compile-time dependency on the prometheus client; internal/cli wires a
// real *metrics.Collector in.
type Metrics interface {
	SetWorkerCounts(total, busy, idle int)
	SetQueueDepth(n int)
	RecordTaskEnqueued()
	RecordTaskDispatched()
	RecordTaskCompleted(d time.Duration)
	RecordTaskFailed()
	RecordWorkerCrash()
}

// Options configures a Pool. Zero values take the defaults noted per field.
type Options struct {
	// MinWorkers is the number of workers kept alive at all times,
	// respawned automatically on crash. Default 1.
	MinWorkers int
	// MinWorkersMax, if true, resolves MinWorkers to MaxWorkers (the "max"
	// sentinel) once MaxWorkers itself has been resolved.
	MinWorkersMax bool
	// MaxWorkers bounds how many workers may run concurrently. 0 resolves
	// to runtime.NumCPU()-1, floored at 1.
	MaxWorkers int
	// MaxQueueSize bounds how many tasks may wait for a worker. 0 means
	// unbounded.
	MaxQueueSize int
	// WorkerKind selects the isolation model. Default KindAuto (resolves
	// to KindThread).
	WorkerKind WorkerKind
	// WorkerTerminateTimeout bounds both graceful shutdown and each
	// CLEANUP round trip before a worker is killed outright. Default 1s.
	WorkerTerminateTimeout time.Duration
	// DebugPortStart seeds the pool-owned, monotonic debug-port allocator
	// handed to each spawned worker. Default 43210.
	DebugPortStart int
	// EmitStdStreams is not read by the pool. Process-kind workers' stderr
	// lines are always logged through slog's default logger, whatever this
	// field is set to.
	EmitStdStreams bool

	// Methods are registered on every thread-kind worker. Meaningless for
	// process/web kinds, whose method tables live in the worker binary.
	Methods         map[string]workerruntime.Method
	RegisterOptions workerruntime.RegisterOptions

	// WorkerCommand/WorkerArgs override the process-kind worker binary.
	// Default: re-exec the controller's own binary with "--gopool-worker".
	WorkerCommand string
	WorkerArgs    []string
	// WorkerWSURL is the dial target for the web worker kind.
	WorkerWSURL string

	OnCreateWorker    func(Options) error
	OnCreatedWorker   func(*workerhandle.Handle)
	OnTerminateWorker func(*workerhandle.Handle)

	Metrics Metrics
	Log     *slog.Logger
}

func (o *Options) setDefaults() error {
	if o.MinWorkers < 0 {
		return fmt.Errorf("%w: MinWorkers must be >= 0", protocol.ErrConfiguration)
	}
	if o.MinWorkers == 0 {
		o.MinWorkers = 1
	}
	if o.MaxWorkers == 0 {
		o.MaxWorkers = runtime.NumCPU() - 1
	}
	if o.MaxWorkers < 1 {
		o.MaxWorkers = 1
	}
	if o.MinWorkersMax {
		o.MinWorkers = o.MaxWorkers
	}
	if o.MaxWorkers < o.MinWorkers {
		// minWorkers may legitimately exceed maxWorkers, whether explicit or
		// default-resolved; raise maxWorkers to match rather than rejecting
		// the configuration.
		o.MaxWorkers = o.MinWorkers
	}
	if o.WorkerKind == "" {
		o.WorkerKind = KindAuto
	}
	if o.WorkerTerminateTimeout <= 0 {
		o.WorkerTerminateTimeout = time.Second
	}
	if o.DebugPortStart == 0 {
		o.DebugPortStart = 43210
	}
	if o.WorkerKind == KindWeb && o.WorkerWSURL == "" {
		return fmt.Errorf("%w: web worker kind requires WorkerWSURL", protocol.ErrConfiguration)
	}
	return nil
}

func (o *Options) resolvedKind() WorkerKind {
	if o.WorkerKind == KindAuto {
		return KindThread
	}
	return o.WorkerKind
}

// ExecOptions configures one Exec/ExecFunc call.
type ExecOptions struct {
	// Timeout, if set, settles the task's future with protocol.ErrTimeout
	// if it has not completed within the duration. The timer is armed only
	// once the task is actually dispatched to a worker — a task sitting in
	// the queue does not burn its timeout budget waiting for a free
	// worker.
	Timeout time.Duration
	// Transfer lists handles whose ownership should migrate to the worker
	// alongside params, carried through to the outbound protocol.Request.
	Transfer []protocol.TransferHandle
	// On, if set, is called once per progress event the worker emits for
	// this task, before the task's terminal result or error arrives.
	On func(payload any)
}

// Stats is a point-in-time snapshot of pool occupancy.
type Stats struct {
	TotalWorkers int
	BusyWorkers  int
	IdleWorkers  int
	QueuedTasks  int
}

type queuedTask struct {
	id         protocol.TaskID
	method     string
	params     []any
	fut        *future.Future
	timeout    time.Duration
	transfer   []protocol.TransferHandle
	on         func(payload any)
	enqueuedAt time.Time
}

// Pool is the controller: it owns the worker set, the FIFO task queue, and
// the dispatch loop that pairs one with the other.
type Pool struct {
	opts Options
	log  *slog.Logger

	mu         sync.Mutex
	workers    []*workerhandle.Handle
	queue      []*queuedTask
	terminated bool

	taskSeq   uint32
	workerSeq int32
	debugPort int32
}

// New constructs a Pool and spawns up to MinWorkers workers immediately.
func New(opts Options) (*Pool, error) {
	if err := opts.setDefaults(); err != nil {
		return nil, err
	}
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	p := &Pool{
		opts:      opts,
		log:       log,
		debugPort: int32(opts.DebugPortStart) - 1,
	}
	p.maintainMinWorkers()
	return p, nil
}

// Exec dispatches method(params) to a worker, spawning one if needed and
// permitted by MaxWorkers, or queuing the task (subject to MaxQueueSize)
// if every worker is busy.
func (p *Pool) Exec(method string, params []any, opts ExecOptions) (*future.Future, error) {
	return p.submit(method, params, opts)
}

// ExecFunc is Exec's closure-offload sibling: fn runs directly inside a
// thread-kind worker's goroutine, with no serialization step, since the
// closure never leaves the controller's own address space. It is rejected
// synchronously for process/web-kind pools, which communicate over an
// actual byte-level boundary that a Go func value cannot cross.
func (p *Pool) ExecFunc(fn func(params []any) (any, error), params []any, opts ExecOptions) (*future.Future, error) {
	if p.opts.resolvedKind() != KindThread {
		return nil, fmt.Errorf("%w: ExecFunc requires the thread worker kind, pool is %q", protocol.ErrConfiguration, p.opts.resolvedKind())
	}
	allParams := append([]any{any(fn)}, params...)
	return p.submit(execCallMethod, allParams, opts)
}

func (p *Pool) submit(method string, params []any, opts ExecOptions) (*future.Future, error) {
	fut := future.New()
	id := protocol.TaskID(atomic.AddUint32(&p.taskSeq, 1))
	task := &queuedTask{id: id, method: method, params: params, fut: fut, timeout: opts.Timeout, transfer: opts.Transfer, on: opts.On, enqueuedAt: time.Now()}

	if m := p.opts.Metrics; m != nil {
		task.fut.AddSettleListener(func(_ any, err error) {
			if err != nil {
				m.RecordTaskFailed()
			} else {
				m.RecordTaskCompleted(time.Since(task.enqueuedAt))
			}
		})
	}

	p.mu.Lock()
	if p.terminated {
		p.mu.Unlock()
		return nil, protocol.ErrPoolClosed
	}
	p.queue = append(p.queue, task)
	if p.opts.MaxQueueSize > 0 && len(p.queue) > p.opts.MaxQueueSize {
		p.queue = p.queue[:len(p.queue)-1]
		p.mu.Unlock()
		return nil, protocol.ErrQueueFull
	}
	p.mu.Unlock()

	if m := p.opts.Metrics; m != nil {
		m.RecordTaskEnqueued()
	}
	p.dispatchNext()
	return fut, nil
}

// dispatchNext is the pool's dispatch loop. It pops the queue's head onto
// an idle worker, or spawns a new worker (up to MaxWorkers) when none is
// idle, and repeats until the queue is empty or every worker is busy. A
// popped task whose future was already cancelled while it sat queued is
// dropped outright rather than handed to a worker.
// When an idle worker and spawn capacity are both available at once, an
// existing idle worker always wins the race for the next task; a new
// worker is only spawned once none is idle. This tie-break is a deliberate
// choice, not an accidental one.
//
// Known benign race: a worker can report idle here, get selected, and then
// have handleCrash fire on it before Dispatch's Send reaches the endpoint;
// Dispatch surfaces that as a Send error and the task's future is settled
// with it rather than silently dropped, so no caller is left hanging.
func (p *Pool) dispatchNext() {
	for {
		p.mu.Lock()
		if p.terminated || len(p.queue) == 0 {
			p.mu.Unlock()
			return
		}
		w := p.firstIdleLocked()
		if w == nil {
			if len(p.workers) >= p.opts.MaxWorkers {
				p.mu.Unlock()
				return
			}
			p.mu.Unlock()
			nw, err := p.spawnAndRegister()
			if err != nil {
				p.log.Error("failed to spawn worker", "error", err)
				return
			}
			go p.awaitReadyThenDispatch(nw)
			return
		}
		task := p.queue[0]
		p.queue = p.queue[1:]
		if !task.fut.Pending() {
			p.mu.Unlock()
			continue
		}
		p.mu.Unlock()
		p.dispatchOne(w, task)
	}
}

func (p *Pool) dispatchOne(w *workerhandle.Handle, task *queuedTask) {
	if task.timeout > 0 {
		task.fut.StartTimeout(task.timeout)
	}
	if m := p.opts.Metrics; m != nil {
		m.RecordTaskDispatched()
	}
	// Once this task settles its worker may be free again, so look for the
	// next queued task then.
	task.fut.AddSettleListener(func(any, error) { go p.dispatchNext() })
	if err := w.Dispatch(task.id, task.method, task.params, task.fut, workerhandle.DispatchOptions{Transfer: task.transfer, On: task.on}); err != nil {
		task.fut.Settle(nil, err)
	}
}

func (p *Pool) firstIdleLocked() *workerhandle.Handle {
	for _, w := range p.workers {
		if w.State() == workerhandle.StateReady {
			return w
		}
	}
	return nil
}

func (p *Pool) awaitReadyThenDispatch(w *workerhandle.Handle) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := w.WaitReady(ctx); err != nil {
		p.log.Error("worker failed to become ready", "worker_id", w.ID(), "error", err)
		p.removeWorker(w)
		return
	}
	p.dispatchNext()
}

func (p *Pool) spawnAndRegister() (*workerhandle.Handle, error) {
	if p.opts.OnCreateWorker != nil {
		if err := p.opts.OnCreateWorker(p.opts); err != nil {
			return nil, err
		}
	}

	port := int(atomic.AddInt32(&p.debugPort, 1))
	kind := p.opts.resolvedKind()

	var ep endpoint.Endpoint
	var err error
	switch kind {
	case KindThread:
		methods := make(map[string]workerruntime.Method, len(p.opts.Methods)+1)
		for name, fn := range p.opts.Methods {
			methods[name] = fn
		}
		methods[execCallMethod] = execFuncDispatch
		ep, err = endpoint.NewThreadEndpoint(methods, p.opts.RegisterOptions)
	case KindProcess:
		cmd, args := p.workerCommand()
		ep, err = endpoint.NewProcessEndpoint(cmd, args, os.Environ(), port)
	case KindWeb:
		ep, err = endpoint.DialWebSocketEndpoint(p.opts.WorkerWSURL)
	default:
		return nil, fmt.Errorf("%w: unknown worker kind %q", protocol.ErrConfiguration, kind)
	}
	if err != nil {
		return nil, err
	}

	id := int(atomic.AddInt32(&p.workerSeq, 1))
	h := workerhandle.New(id, string(kind), ep, workerhandle.Options{
		WorkerTerminateTimeout: p.opts.WorkerTerminateTimeout,
		OnDone:                 p.onWorkerDone,
		OnCreated:              p.opts.OnCreatedWorker,
		OnTerminate:            p.opts.OnTerminateWorker,
		Log:                    p.log,
	})

	p.mu.Lock()
	p.workers = append(p.workers, h)
	total := len(p.workers)
	p.mu.Unlock()

	if m := p.opts.Metrics; m != nil {
		m.SetWorkerCounts(total, 0, 0)
	}
	return h, nil
}

func (p *Pool) workerCommand() (string, []string) {
	if p.opts.WorkerCommand != "" {
		return p.opts.WorkerCommand, p.opts.WorkerArgs
	}
	exe, err := os.Executable()
	if err != nil {
		exe = os.Args[0]
	}
	return exe, append([]string{"--gopool-worker"}, p.opts.WorkerArgs...)
}

func (p *Pool) removeWorker(w *workerhandle.Handle) {
	p.mu.Lock()
	for i, ww := range p.workers {
		if ww == w {
			p.workers = append(p.workers[:i], p.workers[i+1:]...)
			break
		}
	}
	p.mu.Unlock()
}

func (p *Pool) onWorkerDone(h *workerhandle.Handle, crashed bool, info endpoint.CrashInfo) {
	p.removeWorker(h)

	if crashed {
		p.log.Warn("worker crashed, will replace if below MinWorkers", "worker_id", h.ID(), "error", info.Err, "exit_code", info.ExitCode)
		if m := p.opts.Metrics; m != nil {
			m.RecordWorkerCrash()
		}
	}

	p.mu.Lock()
	terminated := p.terminated
	p.mu.Unlock()
	if !terminated {
		p.maintainMinWorkers()
	}
	p.dispatchNext()
}

func (p *Pool) maintainMinWorkers() {
	for {
		p.mu.Lock()
		need := len(p.workers) < p.opts.MinWorkers
		p.mu.Unlock()
		if !need {
			return
		}
		w, err := p.spawnAndRegister()
		if err != nil {
			p.log.Error("failed to maintain minimum worker count", "error", err)
			return
		}
		go p.awaitReadyThenDispatch(w)
	}
}

// Stats returns a point-in-time snapshot of pool occupancy.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := Stats{TotalWorkers: len(p.workers), QueuedTasks: len(p.queue)}
	for _, w := range p.workers {
		if w.Busy() {
			s.BusyWorkers++
		} else {
			s.IdleWorkers++
		}
	}
	if m := p.opts.Metrics; m != nil {
		m.SetWorkerCounts(s.TotalWorkers, s.BusyWorkers, s.IdleWorkers)
		m.SetQueueDepth(s.QueuedTasks)
	}
	return s
}

// Proxy returns a bound callable for method, letting callers hold a single
// function value instead of repeating the method name at every call site —
// convenient for wiring a pool into code that expects a plain func.
func (p *Pool) Proxy(method string) func(params ...any) (*future.Future, error) {
	return func(params ...any) (*future.Future, error) {
		return p.Exec(method, params, ExecOptions{})
	}
}

// Terminate stops accepting new work, rejects every queued task with
// protocol.ErrPoolTerminated, and tears down every worker (gracefully
// unless force is true), waiting for all of them to exit.
func (p *Pool) Terminate(force bool) error {
	p.mu.Lock()
	if p.terminated {
		p.mu.Unlock()
		return nil
	}
	p.terminated = true
	workers := append([]*workerhandle.Handle(nil), p.workers...)
	queued := p.queue
	p.queue = nil
	p.mu.Unlock()

	for _, t := range queued {
		t.fut.Settle(nil, protocol.ErrPoolTerminated)
	}

	var wg sync.WaitGroup
	for _, w := range workers {
		wg.Add(1)
		go func(w *workerhandle.Handle) {
			defer wg.Done()
			_ = w.Terminate(force)
		}(w)
	}
	wg.Wait()
	return nil
}
