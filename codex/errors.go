package codex

import (
	"errors"

	"github.com/mzhaom/codex-appserver/jsonrpc"
)

var (
	// ErrAlreadyStarted is returned when Start is called more than once.
	ErrAlreadyStarted = errors.New("service already started")

	// ErrNotRunning is returned when an operation needs an initialized
	// app-server connection and none is available.
	ErrNotRunning = errors.New("service not running")

	// ErrStopped is returned when the service has been stopped.
	ErrStopped = errors.New("service stopped")
)

// ProtocolError is returned when a response is missing a required member.
type ProtocolError = jsonrpc.ProtocolError

func missing(method, member string, raw []byte) error {
	return &ProtocolError{Message: method + " response missing " + member, Line: string(raw)}
}
