package protocol

import "errors"

// Error taxonomy shared across internal/pool, internal/workerhandle, and
// internal/workerruntime. Each is a distinct sentinel so callers
// can errors.Is() against the kind, independent of the message text attached
// by the layer that raised it.
var (
	// ErrConfiguration is returned synchronously when an option name or
	// value is invalid, either from Pool construction or endpoint creation.
	ErrConfiguration = errors.New("gopool: invalid configuration")

	// ErrQueueFull is returned synchronously from Pool.Exec when the task
	// queue is already at MaxQueueSize.
	ErrQueueFull = errors.New("gopool: task queue is full")

	// ErrUnknownMethod is returned by the worker-side runtime when the
	// requested method name is not registered.
	ErrUnknownMethod = errors.New("gopool: unknown method")

	// ErrCancelled is the distinct error kind produced by cancelling a
	// pending future; it triggers the CLEANUP dance rather than immediate
	// teardown.
	ErrCancelled = errors.New("gopool: task cancelled")

	// ErrTimeout is the distinct error kind produced when a future's
	// timeout elapses; handled identically to ErrCancelled.
	ErrTimeout = errors.New("gopool: task timed out")

	// ErrWorkerTerminated is returned for any task still in flight when its
	// WorkerHandle is torn down, whether the teardown is forced or graceful.
	ErrWorkerTerminated = errors.New("gopool: worker terminated")

	// ErrWorkerCrashed is synthesized on an unexpected endpoint exit or
	// error event; it fans out to every in-flight task on that worker.
	ErrWorkerCrashed = errors.New("gopool: worker crashed")

	// ErrPoolTerminated rejects queued tasks on Pool.Terminate.
	ErrPoolTerminated = errors.New("gopool: pool terminated")

	// ErrPoolClosed is returned by Pool.Exec once Terminate has been called.
	ErrPoolClosed = errors.New("gopool: pool is closed")
)
