package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/meridian/pkg/types"
)

func TestEncodeDecodeRoundTrip_Binary(t *testing.T) {
	req := NewRPCRequest("order-1", "", "create_order", "order", map[string]interface{}{"id": "A"}, 5000)

	data, err := Encode(FormatBinary, req)
	require.NoError(t, err)

	var got types.RPCRequest
	require.NoError(t, Decode(data, &got))

	assert.Equal(t, req.Method, got.Method)
	assert.Equal(t, req.Target, got.Target)
	assert.Equal(t, req.MessageID, got.MessageID)
	assert.Equal(t, req.TraceID, got.TraceID)
	assert.Equal(t, "A", got.Params["id"])
}

func TestEncodeDecodeRoundTrip_JSON(t *testing.T) {
	evt := NewEvent("cfg-1", "config", "changed", "1.0.0", map[string]interface{}{"key": "max_risk", "value": 0.02})

	data, err := Encode(FormatText, evt)
	require.NoError(t, err)
	assert.True(t, looksLikeJSON(data[0]))

	var got types.Event
	require.NoError(t, Decode(data, &got))

	assert.Equal(t, evt.Domain, got.Domain)
	assert.Equal(t, evt.EventType, got.EventType)
	assert.Equal(t, evt.Payload["key"], got.Payload["key"])
}

func TestDecode_AutoDetect_PrefersEachFormat(t *testing.T) {
	req := NewRPCRequest("e-1", "", "echo", "echo", map[string]interface{}{"message": "ping"}, 1000)

	binData, err := Encode(FormatBinary, req)
	require.NoError(t, err)
	var gotBin types.RPCRequest
	require.NoError(t, Decode(binData, &gotBin))
	assert.Equal(t, "ping", gotBin.Params["message"])

	jsonData, err := Encode(FormatText, req)
	require.NoError(t, err)
	var gotJSON types.RPCRequest
	require.NoError(t, Decode(jsonData, &gotJSON))
	assert.Equal(t, "ping", gotJSON.Params["message"])
}

func TestDecode_EmptyPayload(t *testing.T) {
	var v types.Event
	err := Decode([]byte{}, &v)
	require.Error(t, err)
}

func TestDecode_MalformedPayload(t *testing.T) {
	var v types.Event
	err := Decode([]byte("not json and not msgpack \xff\xff"), &v)
	require.Error(t, err)
}

func TestDecode_UnicodeRoundTrip(t *testing.T) {
	evt := NewEvent("svc-1", "domain", "type", "1.0.0", map[string]interface{}{"note": "héllo wörld 日本語"})

	data, err := Encode(FormatBinary, evt)
	require.NoError(t, err)

	var got types.Event
	require.NoError(t, Decode(data, &got))
	assert.Equal(t, "héllo wörld 日本語", got.Payload["note"])
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("")
	require.NoError(t, err)
	assert.Equal(t, FormatBinary, f)

	f, err = ParseFormat("text")
	require.NoError(t, err)
	assert.Equal(t, FormatText, f)

	_, err = ParseFormat("xml")
	require.Error(t, err)
}

func TestNewRPCResponseAndError(t *testing.T) {
	req := NewRPCRequest("order-1", "trace-abc", "create_order", "order", nil, 5000)

	ok := NewRPCResponse("order-2", req, map[string]interface{}{"processed_by": "order-2"})
	assert.True(t, ok.Success)
	assert.Equal(t, req.MessageID, ok.CorrelationID)
	assert.Equal(t, "trace-abc", ok.TraceID)

	failed := NewRPCError("order-2", req, types.ErrCodeNotActive, "not the leader")
	assert.False(t, failed.Success)
	assert.Equal(t, types.ErrCodeNotActive, failed.ErrorCode)
}
