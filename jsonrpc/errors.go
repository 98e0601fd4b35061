package jsonrpc

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrNotInitialized is returned by SendRequest before the handshake.
	ErrNotInitialized = errors.New("transport not initialized")

	// ErrRequestTimeout is returned when no response arrives in time.
	ErrRequestTimeout = errors.New("request timed out")

	// ErrTransportClosed rejects requests pending when the connection ends.
	ErrTransportClosed = errors.New("transport closed")
)

// RPCError is an error response from the app-server. Raw holds the error
// member as received.
type RPCError struct {
	Code    int
	Message string
	Method  string
	Raw     json.RawMessage
}

func (e *RPCError) Error() string {
	if e.Method != "" {
		return fmt.Sprintf("rpc error %d from %s: %s", e.Code, e.Method, e.Message)
	}
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// ProtocolError is a malformed inbound message.
type ProtocolError struct {
	Message string
	Line    string
	Cause   error
}

func (e *ProtocolError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *ProtocolError) Unwrap() error {
	return e.Cause
}
