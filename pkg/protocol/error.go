package protocol

import "fmt"

// SerializedError is the wire form of an error crossing a worker boundary.
// Every enumerable own property of the original error is copied by name into
// Fields; Name, Message, and Stack are reserved and passed through verbatim.
type SerializedError struct {
	Name    string         `json:"name"`
	Message string         `json:"message"`
	Stack   string         `json:"stack,omitempty"`
	Fields  map[string]any `json:"fields,omitempty"`
}

// SerializeError converts a Go error into its wire form. If err implements
// Fielder, its Fields() are copied in; otherwise Fields is left empty.
func SerializeError(err error) *SerializedError {
	if err == nil {
		return nil
	}
	se := &SerializedError{
		Name:    "Error",
		Message: err.Error(),
	}
	if named, ok := err.(interface{ ErrorName() string }); ok {
		se.Name = named.ErrorName()
	}
	if fielded, ok := err.(Fielder); ok {
		se.Fields = fielded.Fields()
	}
	return se
}

// Fielder is implemented by errors that carry additional named properties
// that should survive the round trip across a worker boundary.
type Fielder interface {
	Fields() map[string]any
}

// RemoteError reconstructs an error value on the receiving side of a worker
// boundary, with the original Name/Message/Fields reattached.
type RemoteError struct {
	Name    string
	Message string
	Stack   string
	Fields  map[string]any
}

func (e *RemoteError) Error() string {
	if e.Name != "" && e.Name != "Error" {
		return fmt.Sprintf("%s: %s", e.Name, e.Message)
	}
	return e.Message
}

// ErrorName implements the same duck-typed convention SerializeError looks
// for, so a RemoteError re-serialized by an intermediate hop keeps its name.
func (e *RemoteError) ErrorName() string { return e.Name }

// DeserializeError reconstructs a RemoteError from its wire form. Returns nil
// if se is nil.
func DeserializeError(se *SerializedError) error {
	if se == nil {
		return nil
	}
	return &RemoteError{
		Name:    se.Name,
		Message: se.Message,
		Stack:   se.Stack,
		Fields:  se.Fields,
	}
}
