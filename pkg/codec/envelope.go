package codec

import "github.com/cuemby/meridian/pkg/types"

// NewEnvelope stamps a fresh message_id, trace_id and timestamp for a
// message originating at source. traceID, when non-empty, propagates an
// existing trace across an RPC hop instead of minting a new one.
func NewEnvelope(source, traceID string) types.Envelope {
	if traceID == "" {
		traceID = NewTraceID()
	}
	return types.Envelope{
		MessageID: NewMessageID(),
		TraceID:   traceID,
		Timestamp: Now(),
		Source:    source,
	}
}

// NewRPCRequest builds an outgoing RPCRequest envelope.
func NewRPCRequest(source, traceID, method, target string, params map[string]interface{}, timeoutMS int64) *types.RPCRequest {
	return &types.RPCRequest{
		Envelope:  NewEnvelope(source, traceID),
		Method:    method,
		Params:    params,
		Target:    target,
		TimeoutMS: timeoutMS,
	}
}

// NewRPCResponse builds a successful RPCResponse correlated to req.
func NewRPCResponse(source string, req *types.RPCRequest, result map[string]interface{}) *types.RPCResponse {
	return &types.RPCResponse{
		Envelope:      NewEnvelope(source, req.TraceID),
		CorrelationID: req.MessageID,
		Success:       true,
		Result:        result,
	}
}

// NewRPCError builds a failed RPCResponse correlated to req.
func NewRPCError(source string, req *types.RPCRequest, code types.RPCErrorCode, message string) *types.RPCResponse {
	return &types.RPCResponse{
		Envelope:      NewEnvelope(source, req.TraceID),
		CorrelationID: req.MessageID,
		Success:       false,
		Error:         message,
		ErrorCode:     code,
	}
}

// NewEvent builds an outgoing Event envelope.
func NewEvent(source, domain, eventType, version string, payload map[string]interface{}) *types.Event {
	return &types.Event{
		Envelope:  NewEnvelope(source, ""),
		Domain:    domain,
		EventType: eventType,
		Version:   version,
		Payload:   payload,
	}
}

// NewCommand builds an outgoing Command envelope.
func NewCommand(source, target, command string, payload map[string]interface{}, priority int) *types.Command {
	return &types.Command{
		Envelope: NewEnvelope(source, ""),
		Command:  command,
		Payload:  payload,
		Target:   target,
		Priority: priority,
	}
}
