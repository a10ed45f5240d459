// ============================================================================
// gopool Future - Cancellable, Late-Binding-Timeout Promise Primitive
// ============================================================================
//
// Package: pkg/future
// File: future.go
// Function: A minimal future/promise type carrying {cancel, timeout, pending}
// semantics on top of Go's native context+channel primitives, because plain
// context.Context has no "resolve with a value" half and no notion of a
// caller-driven cancel that is distinct from a deadline.
//
// A Future is produced once (via New) and settled exactly once, either by
// its owner calling Settle directly or by a caller calling Cancel/the timer
// armed by StartTimeout. Settling is idempotent: only the first call wins.
//
// Chained cancellation (Derive): cancelling a derived future cancels its
// parent: cancellation propagates down a chain of derived futures.
//
// ============================================================================

// Package future implements a cancellable future with chained cancellation
// and a late-binding timeout, standing in for the custom promise primitive
// most runtimes in this space end up building.
package future

import (
	"context"
	"sync"
	"time"

	"github.com/ChuLiYu/gopool/pkg/protocol"
)

// Future represents the eventual result of a task. It is safe for concurrent
// use: Cancel, StartTimeout, Settle, and the read methods may all be called
// from different goroutines.
type Future struct {
	mu        sync.Mutex
	done      chan struct{}
	settled   bool
	value     any
	err       error
	cancelFn  func(err error)
	timer     *time.Timer
	listeners []func(value any, err error)
}

// New creates a pending Future.
func New() *Future {
	return &Future{done: make(chan struct{})}
}

// Pending reports whether the future has not yet settled.
func (f *Future) Pending() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.settled
}

// Done returns a channel closed when the future settles.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Result returns the settled value/error. The third return is false if the
// future has not settled yet.
func (f *Future) Result() (value any, err error, settled bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.value, f.err, f.settled
}

// Get blocks until the future settles or ctx is done, whichever comes first.
// A context cancellation here does not cancel the future itself — call
// Cancel for that.
func (f *Future) Get(ctx context.Context) (any, error) {
	select {
	case <-f.done:
		v, err, _ := f.Result()
		return v, err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Settle resolves or rejects the future. Only the first call has any effect;
// subsequent calls are no-ops. Registered settle listeners (see Derive) are
// notified synchronously from the settling goroutine.
func (f *Future) Settle(value any, err error) bool {
	f.mu.Lock()
	if f.settled {
		f.mu.Unlock()
		return false
	}
	f.settled = true
	f.value = value
	f.err = err
	if f.timer != nil {
		f.timer.Stop()
	}
	listeners := f.listeners
	f.mu.Unlock()

	close(f.done)
	for _, l := range listeners {
		l(value, err)
	}
	return true
}

// OnCancel registers the hook invoked when Cancel is called or the timer
// armed by StartTimeout fires, in place of Future's default behavior of
// settling itself with the triggering error. The hook is responsible for
// calling Settle (immediately or later) — this indirection is what lets
// internal/workerhandle intercept cancellation/timeout to run the CLEANUP
// dance before (or instead of) settling the caller-visible future.
// Only one hook may be registered; a second call replaces it.
func (f *Future) OnCancel(hook func(err error)) {
	f.mu.Lock()
	f.cancelFn = hook
	f.mu.Unlock()
}

// Cancel triggers cancellation. If a hook was registered via OnCancel, the
// hook alone decides how (and whether) the future settles. Otherwise the
// future settles immediately with protocol.ErrCancelled, via trigger's
// default.
func (f *Future) Cancel() {
	f.trigger(protocol.ErrCancelled)
}

// trigger is shared by Cancel and the timer fired by StartTimeout.
func (f *Future) trigger(err error) {
	f.mu.Lock()
	if f.settled {
		f.mu.Unlock()
		return
	}
	hook := f.cancelFn
	f.mu.Unlock()

	if hook != nil {
		hook(err)
		return
	}
	f.Settle(nil, err)
}

// StartTimeout arms a timer that triggers cancellation-style settlement
// (via the same path as Cancel, using protocol.ErrTimeout) after d. Calling
// it twice replaces the first timer. The caller is responsible for the
// late-binding rule: StartTimeout always arms immediately; it is
// internal/pool's dispatchOne that defers calling it until a queued task is
// dispatched.
func (f *Future) StartTimeout(d time.Duration) {
	f.mu.Lock()
	if f.settled {
		f.mu.Unlock()
		return
	}
	if f.timer != nil {
		f.timer.Stop()
	}
	f.timer = time.AfterFunc(d, func() { f.trigger(protocol.ErrTimeout) })
	f.mu.Unlock()
}

// AddSettleListener registers fn to run (once, synchronously) when the
// future settles. Used by Derive to propagate a parent's settlement to its
// children.
func (f *Future) AddSettleListener(fn func(value any, err error)) {
	f.mu.Lock()
	if f.settled {
		value, err := f.value, f.err
		f.mu.Unlock()
		fn(value, err)
		return
	}
	f.listeners = append(f.listeners, fn)
	f.mu.Unlock()
}

// Derive returns a child future whose Cancel forwards to f.Cancel, and which
// settles with whatever value/error f eventually settles with (unless the
// child is settled independently first).
func (f *Future) Derive() *Future {
	child := New()
	child.OnCancel(func(err error) {
		f.Cancel()
		// f.Cancel may itself be intercepted by a hook that settles f later
		// (e.g. the worker-cleanup dance); forward whatever f eventually
		// settles with. If f never settles, neither does the child.
		f.AddSettleListener(func(value any, ferr error) {
			child.Settle(value, ferr)
		})
	})
	f.AddSettleListener(func(value any, err error) {
		child.Settle(value, err)
	})
	return child
}
