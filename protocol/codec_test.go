package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodecAssignsMonotonicIDs(t *testing.T) {
	codec := NewCodec()

	first := codec.NewRequest(MethodListTools, nil)
	second := codec.NewRequest(MethodListTools, nil)

	assert.Equal(t, JSONRPCVersion, first.JSONRPC)
	assert.Equal(t, int64(1), first.ID)
	assert.Equal(t, int64(2), second.ID)
}

func TestEncodeRequest(t *testing.T) {
	codec := NewCodec()

	req := codec.NewRequest(MethodCallTool, CallToolParams{
		Name:      "calculate",
		Arguments: map[string]interface{}{"expression": "2 + 2"},
	})

	data, err := codec.EncodeRequest(req)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "2.0", decoded["jsonrpc"])
	assert.Equal(t, "tools/call", decoded["method"])
	assert.Equal(t, float64(1), decoded["id"])
}

func TestEncodeNotificationHasNoID(t *testing.T) {
	codec := NewCodec()

	data, err := codec.EncodeNotification(NotificationInitialized, nil)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "notifications/initialized", decoded["method"])
	_, hasID := decoded["id"]
	assert.False(t, hasID, "notifications must not carry an id")
}

func TestDecodeResponse(t *testing.T) {
	raw := []byte(`{"jsonrpc":"2.0","id":7,"result":{"tools":[{"name":"calculate"}]}}`)

	msg, err := Decode(raw)
	require.NoError(t, err)

	resp, ok := msg.(*JSONRPCResponse)
	require.True(t, ok, "expected a response")
	assert.Equal(t, float64(7), resp.ID)
	require.Nil(t, resp.Error)

	var result ListToolsResult
	require.NoError(t, UnmarshalPayload(resp.Result, &result))
	require.Len(t, result.Tools, 1)
	assert.Equal(t, "calculate", result.Tools[0].Name)
}

func TestDecodeErrorResponse(t *testing.T) {
	raw := []byte(`{"jsonrpc":"2.0","id":3,"error":{"code":-32601,"message":"method not found"}}`)

	msg, err := Decode(raw)
	require.NoError(t, err)

	resp, ok := msg.(*JSONRPCResponse)
	require.True(t, ok)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrorCodeMethodNotFound, resp.Error.Code)
	assert.Equal(t, "method not found", resp.Error.Message)
}

func TestDecodeNotification(t *testing.T) {
	raw := []byte(`{"jsonrpc":"2.0","method":"notifications/resources/updated","params":{"uri":"data://users"}}`)

	msg, err := Decode(raw)
	require.NoError(t, err)

	n, ok := msg.(*JSONRPCNotification)
	require.True(t, ok, "expected a notification")
	assert.Equal(t, NotificationResourceUpdated, n.Method)

	var params ResourceUpdatedParams
	require.NoError(t, UnmarshalPayload(n.Params, &params))
	assert.Equal(t, "data://users", params.URI)
}

func TestDecodeMalformedInput(t *testing.T) {
	cases := [][]byte{
		[]byte(`not json at all`),
		[]byte(`{}`),
		[]byte(`{"jsonrpc":"2.0"}`),
		[]byte(``),
	}

	for _, raw := range cases {
		msg, err := Decode(raw)
		assert.Nil(t, msg)
		require.Error(t, err)

		var decodeErr *DecodeError
		assert.ErrorAs(t, err, &decodeErr)
	}
}

func TestUnmarshalPayloadEmpty(t *testing.T) {
	var target ListToolsResult
	assert.Error(t, UnmarshalPayload(nil, &target))
	assert.Error(t, UnmarshalPayload(json.RawMessage(`null`), &target))
}
