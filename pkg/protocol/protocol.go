// ============================================================================
// gopool Wire Protocol - Request/Response Envelopes
// ============================================================================
//
// Package: pkg/protocol
// File: protocol.go
// Function: Defines the request/response envelope exchanged between a Pool's
// WorkerHandle and the worker-side runtime, plus the two reserved control
// method identifiers and the error-serialization convention.
//
// Design Philosophy:
//   Domain-Driven Design applied to the wire boundary itself: a task ID, a
//   method name, and a parameter list cross the process/thread/network
//   boundary as a small JSON-serializable envelope. Nothing else does.
//
// Envelope Shapes:
//   Request:  { id, method, params, transfer? }
//   Response: exactly one of
//     Result:  { id, result, error: null }
//     Error:   { id, result: null, error: SerializedError }
//     Event:   { id, isEvent: true, payload }
//     Control: { id, method: CLEANUP, error: null | SerializedError }
//
// Ready Signal:
//   The literal string "ready" (not an envelope) is sent once by the
//   worker-side runtime after register() completes.
//
// ============================================================================

// Package protocol defines the wire envelope exchanged between a Pool's
// WorkerHandle and the worker-side runtime.
package protocol

// TaskID identifies a single request/response exchange on one WorkerHandle.
// The pool assigns it from one pool-wide monotonic counter starting at 1, so
// the IDs a single handle sees increase but are not consecutive.
type TaskID uint32

// Reserved method identifiers. Chosen to be unambiguous against user-registered
// method names: one inbound stream, one dispatcher on each side, no separate
// control channel needed.
const (
	MethodTerminate = "__gopool-terminate__"
	MethodCleanup   = "__gopool-cleanup__"
)

// ReadySignal is the literal, un-enveloped message the worker-side runtime
// sends once its register step has completed.
const ReadySignal = "ready"

// Request is the envelope sent from a WorkerHandle to its worker endpoint.
type Request struct {
	ID       TaskID           `json:"id"`
	Method   string           `json:"method"`
	Params   []any            `json:"params"`
	Transfer []TransferHandle `json:"transfer,omitempty"`
}

// Response is the envelope sent from a worker endpoint back to its
// WorkerHandle. Exactly one of Result/Error/Payload applies, selected by
// IsEvent and whether Error is non-nil.
type Response struct {
	ID       TaskID           `json:"id"`
	Method   string           `json:"method,omitempty"` // set for control acks (MethodCleanup)
	Result   any              `json:"result,omitempty"`
	Error    *SerializedError `json:"error,omitempty"`
	IsEvent  bool             `json:"isEvent,omitempty"`
	Payload  any              `json:"payload,omitempty"`
	Transfer []TransferHandle `json:"transfer,omitempty"`
}

// IsTerminal reports whether this response is a terminal result or error for
// its ID — i.e. not an event and not a control acknowledgement.
func (r *Response) IsTerminal() bool {
	return !r.IsEvent && r.Method == ""
}

// IsControlAck reports whether this response is a CLEANUP acknowledgement.
func (r *Response) IsControlAck() bool {
	return r.Method == MethodCleanup
}

// TransferHandle is an opaque marker for a value whose ownership should
// migrate between endpoint contexts where the endpoint supports it. The
// process and web endpoints in this module do not honor it (see
// internal/endpoint); it is carried through the envelope so that a future
// endpoint kind could.
type TransferHandle = any

// Transfer wraps a payload together with the list of handles that should be
// transferred alongside it. Both the worker-side emit() and a method's
// terminal result accept this wrapper.
type Transfer struct {
	Message  any
	Handles  []TransferHandle
}
