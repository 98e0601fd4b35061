package jsonrpc

import (
	"bytes"
	"encoding/json"
)

// Wire shapes. The app-server omits the "jsonrpc" member, so it is never
// written and ignored on input.

// Request is an outbound request.
type Request struct {
	ID     int64           `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// OutNotification is an outbound notification.
type OutNotification struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Response is an outbound response to a server request.
type Response struct {
	ID     int64        `json:"id"`
	Result any          `json:"result,omitempty"`
	Error  *ErrorObject `json:"error,omitempty"`
}

// ErrorObject is a JSON-RPC error member.
type ErrorObject struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// inbound is the union of every inbound shape. ID stays raw so both
// numeric and string ids can be detected. Error stays raw so a
// non-object error still resolves its request.
type inbound struct {
	ID     json.RawMessage `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  json.RawMessage `json:"error,omitempty"`
}

func (m *inbound) hasError() bool {
	return len(m.Error) > 0 && !bytes.Equal(m.Error, []byte("null"))
}

// parseError reads code and message from an error member. A bare string
// becomes the message; any other shape is kept only as Raw.
func parseError(raw json.RawMessage, method string) *RPCError {
	e := &RPCError{Method: method, Raw: raw}
	var obj struct {
		Code    *int    `json:"code"`
		Message *string `json:"message"`
	}
	if json.Unmarshal(raw, &obj) == nil {
		if obj.Code != nil {
			e.Code = *obj.Code
		}
		if obj.Message != nil {
			e.Message = *obj.Message
		}
	}
	if e.Message == "" {
		var s string
		if json.Unmarshal(raw, &s) == nil {
			e.Message = s
		} else {
			e.Message = string(raw)
		}
	}
	return e
}

// Notification is a server-initiated message without an id.
type Notification struct {
	Method string
	Params json.RawMessage
}

// Server request methods that require a client decision.
const (
	MethodExecCommandApproval = "execCommandApproval"
	MethodApplyPatchApproval  = "applyPatchApproval"
)

// ApprovalRequest is a server request awaiting an approval decision.
// Exactly one response must be sent per ID.
type ApprovalRequest struct {
	ID     int64
	Method string
	Params json.RawMessage
}

// approvalResult is the result body of an approval response.
type approvalResult struct {
	Decision string `json:"decision"`
}

// ClientInfo identifies this client in the initialize handshake.
type ClientInfo struct {
	Name    string `json:"name"`
	Title   string `json:"title,omitempty"`
	Version string `json:"version"`
}

// InitializeParams is the initialize request body.
type InitializeParams struct {
	ClientInfo ClientInfo `json:"clientInfo"`
}

// InitializeResult is the initialize response body.
type InitializeResult struct {
	UserAgent string `json:"userAgent"`
}

// JSON-RPC error codes used by the transport.
const (
	CodeMethodNotFound = -32601
)

func marshalParams(params any) (json.RawMessage, error) {
	switch p := params.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return p, nil
	}
	return json.Marshal(params)
}
