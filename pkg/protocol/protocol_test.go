package protocol

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestSerializeErrorCopiesMessage tests that a plain error round-trips its message.
func TestSerializeErrorCopiesMessage(t *testing.T) {
	se := SerializeError(errors.New("boom"))
	require.NotNil(t, se)
	assert.Equal(t, "Error", se.Name)
	assert.Equal(t, "boom", se.Message)
	assert.Nil(t, se.Fields)
}

func TestSerializeErrorNilIsNil(t *testing.T) {
	assert.Nil(t, SerializeError(nil))
}

type fieldedErr struct{ msg string }

func (e *fieldedErr) Error() string            { return e.msg }
func (e *fieldedErr) ErrorName() string        { return "FieldedErr" }
func (e *fieldedErr) Fields() map[string]any   { return map[string]any{"code": 7} }

// TestSerializeErrorCopiesFielderFields tests that named/Fielder errors carry
// their extra properties across the wire form.
func TestSerializeErrorCopiesFielderFields(t *testing.T) {
	se := SerializeError(&fieldedErr{msg: "bad"})
	require.NotNil(t, se)
	assert.Equal(t, "FieldedErr", se.Name)
	assert.Equal(t, "bad", se.Message)
	assert.Equal(t, 7, se.Fields["code"])
}

// TestDeserializeErrorRoundTrip tests that DeserializeError(SerializeError(err))
// preserves name and message.
func TestDeserializeErrorRoundTrip(t *testing.T) {
	original := &fieldedErr{msg: "bad"}
	se := SerializeError(original)

	restored := DeserializeError(se)
	require.Error(t, restored)
	assert.Equal(t, "FieldedErr: bad", restored.Error())

	var remote *RemoteError
	require.True(t, errors.As(restored, &remote))
	assert.Equal(t, 7, remote.Fields["code"])
}

func TestDeserializeErrorNilIsNil(t *testing.T) {
	assert.NoError(t, DeserializeError(nil))
}

// TestRequestResponseJSONShape tests that the envelope survives JSON encoding,
// matching the wire shape documented on the Request/Response types.
func TestRequestResponseJSONShape(t *testing.T) {
	req := Request{ID: 1, Method: "add", Params: []any{1.0, 2.0}}
	raw, err := json.Marshal(req)
	require.NoError(t, err)

	var decoded Request
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, req.ID, decoded.ID)
	assert.Equal(t, req.Method, decoded.Method)
	assert.Equal(t, req.Params, decoded.Params)
}

func TestResponseIsTerminalAndIsControlAck(t *testing.T) {
	result := Response{ID: 1, Result: 3.0}
	assert.True(t, result.IsTerminal())
	assert.False(t, result.IsControlAck())

	event := Response{ID: 1, IsEvent: true, Payload: "tick"}
	assert.False(t, event.IsTerminal())

	ack := Response{ID: 1, Method: MethodCleanup}
	assert.False(t, ack.IsTerminal())
	assert.True(t, ack.IsControlAck())
}
