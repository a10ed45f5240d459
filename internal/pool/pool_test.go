package pool

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChuLiYu/gopool/internal/workerruntime"
	"github.com/ChuLiYu/gopool/pkg/protocol"
)

func testMethods() map[string]workerruntime.Method {
	return map[string]workerruntime.Method{
		"add": func(rc *workerruntime.RunContext, params []any) (any, error) {
			return params[0].(float64) + params[1].(float64), nil
		},
		"boom": func(rc *workerruntime.RunContext, params []any) (any, error) {
			return nil, errors.New("boom")
		},
		"block": func(rc *workerruntime.RunContext, params []any) (any, error) {
			release := params[0].(chan struct{})
			<-release
			return "done", nil
		},
		"progress": func(rc *workerruntime.RunContext, params []any) (any, error) {
			rc.Emit("halfway")
			rc.Emit("almost done")
			return "done", nil
		},
	}
}

// TestExecDispatchesAndSettles tests the basic happy path: Exec against a
// thread-kind pool spawns a worker and settles the future with the method's
// result.
func TestExecDispatchesAndSettles(t *testing.T) {
	p, err := New(Options{MinWorkers: 1, MaxWorkers: 1, Methods: testMethods()})
	require.NoError(t, err)
	defer p.Terminate(true)

	fut, err := p.Exec("add", []any{float64(2), float64(3)}, ExecOptions{})
	require.NoError(t, err)

	v, err := fut.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, float64(5), v)
}

// TestExecSurfacesMethodError tests that a method returning an error settles
// the future with that error rather than the call itself failing.
func TestExecSurfacesMethodError(t *testing.T) {
	p, err := New(Options{MinWorkers: 1, MaxWorkers: 1, Methods: testMethods()})
	require.NoError(t, err)
	defer p.Terminate(true)

	fut, err := p.Exec("boom", nil, ExecOptions{})
	require.NoError(t, err)

	_, err = fut.Get(context.Background())
	assert.Error(t, err)
}

// TestExecFuncRunsClosureOnThreadPool tests that ExecFunc runs a literal Go
// closure on a thread-kind pool with no serialization step.
func TestExecFuncRunsClosureOnThreadPool(t *testing.T) {
	p, err := New(Options{MinWorkers: 1, MaxWorkers: 1, Methods: testMethods()})
	require.NoError(t, err)
	defer p.Terminate(true)

	fut, err := p.ExecFunc(func(params []any) (any, error) {
		return params[0].(int) * 2, nil
	}, []any{21}, ExecOptions{})
	require.NoError(t, err)

	v, err := fut.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

// TestExecFuncRejectedForProcessKind tests that ExecFunc is rejected
// synchronously against a non-thread pool, since a func value cannot cross
// the process boundary's serialization step. Built without New() so the
// test never actually spawns a process-kind worker.
func TestExecFuncRejectedForProcessKind(t *testing.T) {
	opts := Options{WorkerKind: KindProcess}
	require.NoError(t, opts.setDefaults())
	p := &Pool{opts: opts}

	_, err := p.ExecFunc(func(params []any) (any, error) { return nil, nil }, nil, ExecOptions{})
	assert.ErrorIs(t, err, protocol.ErrConfiguration)
}

// TestQueueBackpressureRejectsOverflow tests that submitting beyond
// MaxQueueSize while every worker is busy returns ErrQueueFull rather than
// queuing indefinitely.
func TestQueueBackpressureRejectsOverflow(t *testing.T) {
	p, err := New(Options{MinWorkers: 1, MaxWorkers: 1, MaxQueueSize: 1, Methods: testMethods()})
	require.NoError(t, err)
	defer p.Terminate(true)

	release := make(chan struct{})
	defer close(release)

	_, err = p.Exec("block", []any{release}, ExecOptions{})
	require.NoError(t, err)

	// Worker is now busy; give dispatchNext a moment to mark it so.
	assert.Eventually(t, func() bool { return p.Stats().BusyWorkers == 1 }, time.Second, time.Millisecond)

	_, err = p.Exec("block", []any{release}, ExecOptions{})
	require.NoError(t, err) // fills the one queue slot

	_, err = p.Exec("block", []any{release}, ExecOptions{})
	assert.ErrorIs(t, err, protocol.ErrQueueFull)
}

// TestExecTimeoutSettlesWithErrTimeout tests that a task's Timeout fires
// once it is dispatched, settling its future with protocol.ErrTimeout.
func TestExecTimeoutSettlesWithErrTimeout(t *testing.T) {
	p, err := New(Options{MinWorkers: 1, MaxWorkers: 1, Methods: testMethods()})
	require.NoError(t, err)
	defer p.Terminate(true)

	release := make(chan struct{})
	defer close(release)

	fut, err := p.Exec("block", []any{release}, ExecOptions{Timeout: 20 * time.Millisecond})
	require.NoError(t, err)

	_, err = fut.Get(context.Background())
	assert.ErrorIs(t, err, protocol.ErrTimeout)
}

// TestMaintainMinWorkersReplacesCrashedWorker tests that terminating a
// worker below MinWorkers causes the pool to spawn a replacement.
func TestMaintainMinWorkersReplacesCrashedWorker(t *testing.T) {
	p, err := New(Options{MinWorkers: 1, MaxWorkers: 1, Methods: testMethods()})
	require.NoError(t, err)
	defer p.Terminate(true)

	assert.Eventually(t, func() bool { return p.Stats().TotalWorkers == 1 }, time.Second, time.Millisecond)

	p.mu.Lock()
	w := p.workers[0]
	p.mu.Unlock()
	require.NoError(t, w.Terminate(true))

	assert.Eventually(t, func() bool { return p.Stats().TotalWorkers == 1 }, time.Second, time.Millisecond)
}

// TestTerminateRejectsQueuedTasks tests that Terminate settles any still-
// queued task with protocol.ErrPoolTerminated instead of leaving it pending.
func TestTerminateRejectsQueuedTasks(t *testing.T) {
	p, err := New(Options{MinWorkers: 1, MaxWorkers: 1, MaxQueueSize: 2, Methods: testMethods()})
	require.NoError(t, err)

	release := make(chan struct{})
	_, err = p.Exec("block", []any{release}, ExecOptions{})
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return p.Stats().BusyWorkers == 1 }, time.Second, time.Millisecond)

	queuedFut, err := p.Exec("block", []any{release}, ExecOptions{})
	require.NoError(t, err)

	require.NoError(t, p.Terminate(true))
	close(release)

	_, err = queuedFut.Get(context.Background())
	assert.ErrorIs(t, err, protocol.ErrPoolTerminated)

	_, err = p.Exec("add", []any{float64(1), float64(1)}, ExecOptions{})
	assert.ErrorIs(t, err, protocol.ErrPoolClosed)
}

// TestCancelledQueuedTaskIsSkippedNotDispatched tests that a task cancelled
// while still waiting in the queue (before any worker ever picks it up) is
// dropped by dispatchNext rather than dispatched to a worker once one frees
// up.
func TestCancelledQueuedTaskIsSkippedNotDispatched(t *testing.T) {
	p, err := New(Options{MinWorkers: 1, MaxWorkers: 1, MaxQueueSize: 2, Methods: testMethods()})
	require.NoError(t, err)
	defer p.Terminate(true)

	release := make(chan struct{})
	_, err = p.Exec("block", []any{release}, ExecOptions{})
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return p.Stats().BusyWorkers == 1 }, time.Second, time.Millisecond)

	queuedFut, err := p.Exec("add", []any{float64(1), float64(1)}, ExecOptions{})
	require.NoError(t, err)
	queuedFut.Cancel()

	_, err = queuedFut.Get(context.Background())
	assert.ErrorIs(t, err, protocol.ErrCancelled)

	close(release)
	// The worker frees up with only the cancelled task ever having been
	// queued; dispatchNext must not hand it to the worker regardless.
	assert.Eventually(t, func() bool { return p.Stats().BusyWorkers == 0 && p.Stats().QueuedTasks == 0 }, time.Second, time.Millisecond)
}

// TestMinWorkersMaxResolvesToMaxWorkers tests the minWorkers="max" sentinel:
// MinWorkersMax resolves MinWorkers to the (already-resolved) MaxWorkers.
func TestMinWorkersMaxResolvesToMaxWorkers(t *testing.T) {
	opts := Options{MaxWorkers: 4, MinWorkersMax: true}
	require.NoError(t, opts.setDefaults())
	assert.Equal(t, 4, opts.MinWorkers)
	assert.Equal(t, 4, opts.MaxWorkers)
}

// TestMaxWorkersRaisedToMinWorkers tests that an explicit MinWorkers above an
// explicit MaxWorkers silently raises MaxWorkers to match, rather than
// rejecting the configuration.
func TestMaxWorkersRaisedToMinWorkers(t *testing.T) {
	opts := Options{MinWorkers: 8, MaxWorkers: 1}
	require.NoError(t, opts.setDefaults())
	assert.Equal(t, 8, opts.MinWorkers)
	assert.Equal(t, 8, opts.MaxWorkers)
}

// TestExecOnReceivesProgressEvents tests that ExecOptions.On is invoked once
// per progress event a method emits, in order, before the terminal result.
func TestExecOnReceivesProgressEvents(t *testing.T) {
	p, err := New(Options{MinWorkers: 1, MaxWorkers: 1, Methods: testMethods()})
	require.NoError(t, err)
	defer p.Terminate(true)

	var events []any
	var mu sync.Mutex
	fut, err := p.Exec("progress", nil, ExecOptions{On: func(payload any) {
		mu.Lock()
		events = append(events, payload)
		mu.Unlock()
	}})
	require.NoError(t, err)

	v, err := fut.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "done", v)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []any{"halfway", "almost done"}, events)
}

// TestExecTimeoutNotConsumedByQueueWait tests the late-binding rule: a
// shorter-than-queue-wait Timeout must not fire while the task is still
// waiting for a free worker — the timer only arms once dispatched.
func TestExecTimeoutNotConsumedByQueueWait(t *testing.T) {
	p, err := New(Options{MinWorkers: 1, MaxWorkers: 1, MaxQueueSize: 1, Methods: testMethods()})
	require.NoError(t, err)
	defer p.Terminate(true)

	release := make(chan struct{})
	_, err = p.Exec("block", []any{release}, ExecOptions{})
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return p.Stats().BusyWorkers == 1 }, time.Second, time.Millisecond)

	// Timeout is shorter than how long this task will sit queued; the timer
	// must not start counting until the worker actually frees up.
	fut, err := p.Exec("add", []any{float64(1), float64(1)}, ExecOptions{Timeout: 30 * time.Millisecond})
	require.NoError(t, err)

	time.Sleep(100 * time.Millisecond)
	assert.True(t, fut.Pending(), "timeout must not fire while the task is only queued, not dispatched")

	close(release)
	v, err := fut.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, float64(2), v)
}

// TestProxyBindsMethodName tests that Proxy returns a callable bound to one
// method name.
func TestProxyBindsMethodName(t *testing.T) {
	p, err := New(Options{MinWorkers: 1, MaxWorkers: 1, Methods: testMethods()})
	require.NoError(t, err)
	defer p.Terminate(true)

	add := p.Proxy("add")
	fut, err := add(float64(10), float64(32))
	require.NoError(t, err)

	v, err := fut.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, float64(42), v)
}
