// Package integration exercises a full thread-kind pool lifecycle — spawn,
// exec, closure offload, crash replacement, graceful termination — against
// the public internal/pool API, the way a real caller would use it.
package integration

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChuLiYu/gopool/internal/methods"
	"github.com/ChuLiYu/gopool/internal/pool"
	"github.com/ChuLiYu/gopool/internal/workerhandle"
	"github.com/ChuLiYu/gopool/pkg/future"
	"github.com/ChuLiYu/gopool/pkg/protocol"
)

// TestPoolLifecycleEndToEnd tests the full happy path: construct a pool,
// run several tasks concurrently (some queued, forcing a queue wait), offload
// a closure via ExecFunc, then terminate gracefully.
func TestPoolLifecycleEndToEnd(t *testing.T) {
	p, err := pool.New(pool.Options{
		MinWorkers: 1,
		MaxWorkers: 2,
		Methods:    methods.Table(),
	})
	require.NoError(t, err)

	var pending []*future.Future
	for i := 0; i < 5; i++ {
		fut, err := p.Exec("square", []any{float64(i)}, pool.ExecOptions{})
		require.NoError(t, err)
		pending = append(pending, fut)
	}
	for i, fut := range pending {
		v, err := fut.Get(context.Background())
		require.NoError(t, err)
		assert.Equal(t, float64(i*i), v)
	}

	closureFut, err := p.ExecFunc(func(params []any) (any, error) {
		return params[0].(int) + params[1].(int), nil
	}, []any{19, 23}, pool.ExecOptions{})
	require.NoError(t, err)
	v, err := closureFut.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 42, v)

	require.NoError(t, p.Terminate(false))

	_, err = p.Exec("square", []any{float64(1)}, pool.ExecOptions{})
	assert.ErrorIs(t, err, protocol.ErrPoolClosed)
}

// TestPoolCrashReplacementKeepsMinWorkersAlive tests that forcibly
// terminating every worker below MinWorkers triggers a fresh spawn.
func TestPoolCrashReplacementKeepsMinWorkersAlive(t *testing.T) {
	var mu sync.Mutex
	var created []*workerhandle.Handle
	p, err := pool.New(pool.Options{
		MinWorkers: 2,
		MaxWorkers: 2,
		Methods:    methods.Table(),
		OnCreatedWorker: func(h *workerhandle.Handle) {
			mu.Lock()
			created = append(created, h)
			mu.Unlock()
		},
	})
	require.NoError(t, err)
	defer p.Terminate(true)

	assert.Eventually(t, func() bool { return p.Stats().TotalWorkers == 2 }, time.Second, time.Millisecond)

	mu.Lock()
	originals := append([]*workerhandle.Handle(nil), created...)
	mu.Unlock()
	for _, h := range originals {
		require.NoError(t, h.Terminate(true))
	}

	mu.Lock()
	assert.Len(t, created, 4, "each terminated worker is replaced by a fresh spawn")
	mu.Unlock()
	assert.Eventually(t, func() bool { return p.Stats().TotalWorkers == 2 }, time.Second, time.Millisecond)

	fut, err := p.Exec("add", []any{float64(1), float64(1)}, pool.ExecOptions{})
	require.NoError(t, err)
	v, err := fut.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, float64(2), v)
}

// TestPoolCancellationReplacesForceTerminatedWorker tests the cancel/cleanup
// dance end to end: cancelling a sleep task settles its future immediately
// with ErrCancelled, and since sleep registers no abort listener the
// CLEANUP round trip force-terminates that worker — which maintainMinWorkers
// then replaces, keeping the pool back at MinWorkers.
func TestPoolCancellationReplacesForceTerminatedWorker(t *testing.T) {
	p, err := pool.New(pool.Options{
		MinWorkers: 1,
		MaxWorkers: 1,
		Methods:    methods.Table(),
	})
	require.NoError(t, err)
	defer p.Terminate(true)

	fut, err := p.Exec("sleep", []any{float64(5000)}, pool.ExecOptions{})
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	fut.Cancel()

	_, err = fut.Get(context.Background())
	assert.ErrorIs(t, err, protocol.ErrCancelled)

	assert.Eventually(t, func() bool { return p.Stats().TotalWorkers == 1 }, time.Second, time.Millisecond)
}

// TestPoolExecOnDeliversProgressEvents tests ExecOptions.On end to end
// through a real pool: the countdown method's progress events reach the
// caller-supplied callback, in order, before the future settles.
func TestPoolExecOnDeliversProgressEvents(t *testing.T) {
	p, err := pool.New(pool.Options{
		MinWorkers: 1,
		MaxWorkers: 1,
		Methods:    methods.Table(),
	})
	require.NoError(t, err)
	defer p.Terminate(true)

	var ticks []any
	var mu sync.Mutex
	fut, err := p.Exec("countdown", []any{float64(3)}, pool.ExecOptions{On: func(payload any) {
		mu.Lock()
		ticks = append(ticks, payload)
		mu.Unlock()
	}})
	require.NoError(t, err)

	v, err := fut.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "liftoff", v)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []any{3.0, 2.0, 1.0}, ticks)
}
