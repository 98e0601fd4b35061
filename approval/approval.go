// Package approval decides exec-command and patch approval requests sent by
// the codex app-server, remembering "approve for session" answers per
// thread.
package approval

import (
	"context"
)

// Decision is the answer sent back to the app-server.
type Decision string

const (
	Approved           Decision = "approved"
	ApprovedForSession Decision = "approved_for_session"
	Denied             Decision = "denied"
	Abort              Decision = "abort"
)

// Kind distinguishes command approvals from patch approvals.
type Kind int

const (
	KindExec Kind = iota
	KindPatch
)

func (k Kind) String() string {
	if k == KindPatch {
		return "patch"
	}
	return "exec"
}

// Request is a parsed approval request handed to a Handler.
type Request struct {
	ID       int64
	Kind     Kind
	ThreadID string
	CallID   string

	// Command and Cwd are set for KindExec.
	Command []string
	Cwd     string

	// Files lists changed paths, sorted, for KindPatch.
	Files []string

	// Reason is the agent's explanation, if it gave one.
	Reason string
	// Risk is a short warning for dangerous commands or sensitive files.
	Risk string
}

// Handler decides approval requests that were not answered from the cache.
type Handler interface {
	Decide(ctx context.Context, req *Request) (Decision, error)
}

// HandlerFunc is a function adapter for Handler.
type HandlerFunc func(ctx context.Context, req *Request) (Decision, error)

// Decide implements Handler.
func (f HandlerFunc) Decide(ctx context.Context, req *Request) (Decision, error) {
	return f(ctx, req)
}

// AutoApprove returns a handler that approves every request once.
func AutoApprove() Handler {
	return HandlerFunc(func(context.Context, *Request) (Decision, error) {
		return Approved, nil
	})
}

// DenyAll returns a handler that denies every request.
func DenyAll() Handler {
	return HandlerFunc(func(context.Context, *Request) (Decision, error) {
		return Denied, nil
	})
}
