package session

import "errors"

var (
	// ErrSessionNotFound is returned for thread ids that were never
	// registered or have been removed.
	ErrSessionNotFound = errors.New("session not found")

	// ErrNoActiveTurn is returned when interrupting a session with no
	// running turn.
	ErrNoActiveTurn = errors.New("session has no active turn")
)
