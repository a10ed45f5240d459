// Package methods holds the demo method table registered on worker
// runtimes: a couple of pure functions to exercise the happy path, and one
// that always errors to exercise invocation-error handling.
package methods

import (
	"fmt"
	"time"

	"github.com/ChuLiYu/gopool/internal/workerruntime"
)

// Table returns a fresh method map; callers get their own copy since
// workerruntime.Runtime.Register does not copy the map it is given.
func Table() map[string]workerruntime.Method {
	return map[string]workerruntime.Method{
		"add":       add,
		"square":    square,
		"boom":      boom,
		"sleep":     sleep,
		"countdown": countdown,
	}
}

func add(_ *workerruntime.RunContext, params []any) (any, error) {
	if len(params) != 2 {
		return nil, fmt.Errorf("add: want 2 params, got %d", len(params))
	}
	a, aOK := toFloat(params[0])
	b, bOK := toFloat(params[1])
	if !aOK || !bOK {
		return nil, fmt.Errorf("add: params must be numbers")
	}
	return a + b, nil
}

func square(_ *workerruntime.RunContext, params []any) (any, error) {
	if len(params) != 1 {
		return nil, fmt.Errorf("square: want 1 param, got %d", len(params))
	}
	n, ok := toFloat(params[0])
	if !ok {
		return nil, fmt.Errorf("square: param must be a number")
	}
	return n * n, nil
}

// boom always fails, exercising the invocation-error path end to end.
func boom(_ *workerruntime.RunContext, _ []any) (any, error) {
	return nil, fmt.Errorf("boom: intentional failure")
}

// sleep blocks for the given number of milliseconds, honoring cancellation
// via rc.Context() so it can be used to exercise the cleanup dance with a
// cooperative (rather than listener-based) method.
func sleep(rc *workerruntime.RunContext, params []any) (any, error) {
	if len(params) != 1 {
		return nil, fmt.Errorf("sleep: want 1 param, got %d", len(params))
	}
	ms, ok := toFloat(params[0])
	if !ok {
		return nil, fmt.Errorf("sleep: param must be a number")
	}
	select {
	case <-time.After(time.Duration(ms) * time.Millisecond):
		return "awake", nil
	case <-rc.Context().Done():
		return nil, rc.Context().Err()
	}
}

// countdown emits one progress event per remaining tick before its final
// result, exercising rc.Emit and the caller-side ExecOptions.On hook.
func countdown(rc *workerruntime.RunContext, params []any) (any, error) {
	if len(params) != 1 {
		return nil, fmt.Errorf("countdown: want 1 param, got %d", len(params))
	}
	n, ok := toFloat(params[0])
	if !ok {
		return nil, fmt.Errorf("countdown: param must be a number")
	}
	for i := int(n); i > 0; i-- {
		rc.Emit(float64(i))
	}
	return "liftoff", nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
