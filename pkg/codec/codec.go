package codec

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-msgpack/v2/codec"

	"github.com/cuemby/meridian/pkg/merr"
)

// Format selects the wire serialization used for outgoing envelopes.
type Format string

const (
	FormatBinary Format = "binary"
	FormatText   Format = "text"
)

// ParseFormat validates a configuration string against the two
// supported formats (spec.md §6.4 serialization_format).
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatBinary, "":
		return FormatBinary, nil
	case FormatText:
		return FormatText, nil
	default:
		return "", merr.InvalidIdentifier("unknown serialization_format %q, want binary or text", s)
	}
}

var msgpackHandle codec.MsgpackHandle

// Encode serializes v into the given wire format. v is typically one
// of *types.RPCRequest, *types.RPCResponse, *types.Event, *types.Command.
func Encode(format Format, v interface{}) ([]byte, error) {
	switch format {
	case FormatText:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, merr.Serialization(err, "json encode failed")
		}
		return b, nil
	case FormatBinary, "":
		var buf bytes.Buffer
		enc := codec.NewEncoder(&buf, &msgpackHandle)
		if err := enc.Encode(v); err != nil {
			return nil, merr.Serialization(err, "msgpack encode failed")
		}
		return buf.Bytes(), nil
	default:
		return nil, merr.Serialization(nil, "unknown format %q", format)
	}
}

// Decode auto-detects the wire format of data by inspecting its first
// significant byte and decodes into v. Binary (msgpack) envelopes are
// always encoded as a top-level map, whose leading byte falls in the
// fixmap/map16/map32 ranges; JSON envelopes start with '{' once leading
// whitespace is trimmed. Anything else is a SerializationError.
func Decode(data []byte, v interface{}) error {
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	if len(trimmed) == 0 {
		return merr.Serialization(nil, "empty payload")
	}
	if looksLikeJSON(trimmed[0]) {
		return decodeJSON(data, v)
	}
	if looksLikeMsgpackMap(trimmed[0]) {
		return decodeMsgpack(data, v)
	}
	return merr.Serialization(nil, "unrecognized envelope format, first byte 0x%02x", trimmed[0])
}

// DecodeWithFormat decodes without auto-detection, for callers that
// already know the sender's configured format.
func DecodeWithFormat(format Format, data []byte, v interface{}) error {
	switch format {
	case FormatText:
		return decodeJSON(data, v)
	case FormatBinary, "":
		return decodeMsgpack(data, v)
	default:
		return merr.Serialization(nil, "unknown format %q", format)
	}
}

func decodeJSON(data []byte, v interface{}) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return merr.Serialization(nil, "empty payload")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return merr.Serialization(err, "json decode failed")
	}
	return nil
}

func decodeMsgpack(data []byte, v interface{}) error {
	if len(data) == 0 {
		return merr.Serialization(nil, "empty payload")
	}
	dec := codec.NewDecoder(bytes.NewReader(data), &msgpackHandle)
	if err := dec.Decode(v); err != nil {
		return merr.Serialization(err, "msgpack decode failed")
	}
	return nil
}

func looksLikeJSON(b byte) bool {
	return b == '{'
}

// looksLikeMsgpackMap reports whether b is a msgpack fixmap (0x80-0x8f),
// map16 (0xde), or map32 (0xdf) leading byte — the only shapes this
// package ever writes, since every envelope encodes as a top-level map.
func looksLikeMsgpackMap(b byte) bool {
	return (b >= 0x80 && b <= 0x8f) || b == 0xde || b == 0xdf
}

// NewMessageID returns a fresh UUID for Envelope.MessageID.
func NewMessageID() string {
	return uuid.NewString()
}

// NewTraceID returns a fresh UUID for Envelope.TraceID, used when no
// caller-supplied trace id is propagated.
func NewTraceID() string {
	return uuid.NewString()
}

// Now is the envelope timestamp source, factored out so tests can
// observe a fixed, assertable value by constructing envelopes directly
// rather than stubbing time.
var Now = time.Now
