// Package protocol defines the wire format spoken with the BLE bridge.
// Frames are JSON-RPC 2.0 objects carried over a single WebSocket.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Version is the JSON-RPC version tag carried on every frame.
const Version = "2.0"

// Frame kinds, derived from which members a frame carries.
const (
	FrameKindRequest      = "request"
	FrameKindNotification = "notification"
	FrameKindResponse     = "response"
)

// RequestFrame invokes a method on the peer. A request without an ID is a
// notification and expects no response.
type RequestFrame struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// ResponseFrame answers a request. Exactly one of Result and Error is set.
type ResponseFrame struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Error is the JSON-RPC error object. It implements error so a rejected
// call can be returned as-is.
type Error struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// NewRequest creates a request frame with a string ID.
func NewRequest(id, method string, params interface{}) (*RequestFrame, error) {
	raw, err := marshalParams(params)
	if err != nil {
		return nil, err
	}
	idRaw, _ := json.Marshal(id)
	return &RequestFrame{
		JSONRPC: Version,
		ID:      idRaw,
		Method:  method,
		Params:  raw,
	}, nil
}

// NewResultResponse creates a success response for the request id.
func NewResultResponse(id json.RawMessage, result interface{}) (*ResponseFrame, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, err
	}
	return &ResponseFrame{
		JSONRPC: Version,
		ID:      id,
		Result:  raw,
	}, nil
}

// NewErrorResponse creates an error response for the request id.
func NewErrorResponse(id json.RawMessage, code int, message string) *ResponseFrame {
	if len(id) == 0 {
		id = json.RawMessage("null")
	}
	return &ResponseFrame{
		JSONRPC: Version,
		ID:      id,
		Error: &Error{
			Code:    code,
			Message: message,
		},
	}
}

// ParseFrameKind classifies raw JSON bytes without fully decoding them.
func ParseFrameKind(data []byte) (string, error) {
	var raw struct {
		ID     json.RawMessage `json:"id"`
		Method *string         `json:"method"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return "", err
	}
	switch {
	case raw.Method != nil && hasID(raw.ID):
		return FrameKindRequest, nil
	case raw.Method != nil:
		return FrameKindNotification, nil
	case hasID(raw.ID):
		return FrameKindResponse, nil
	default:
		return "", fmt.Errorf("frame has neither method nor id")
	}
}

// IDString returns the request id as a plain string: string ids are
// unquoted, numeric ids keep their decimal text.
func IDString(id json.RawMessage) string {
	var s string
	if err := json.Unmarshal(id, &s); err == nil {
		return s
	}
	return string(id)
}

func hasID(id json.RawMessage) bool {
	return len(id) > 0 && string(id) != "null"
}

func marshalParams(params interface{}) (json.RawMessage, error) {
	switch p := params.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return p, nil
	default:
		return json.Marshal(p)
	}
}
