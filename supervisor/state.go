package supervisor

import (
	"fmt"
	"time"
)

// State is the supervisor lifecycle state.
type State int

const (
	// StateStopped means no process is running and none is wanted.
	StateStopped State = iota

	// StateStarting means a process is being spawned.
	StateStarting

	// StateRunning means the current instance is alive.
	StateRunning

	// StateRestarting means the process exited and a restart is scheduled.
	StateRestarting

	// StateFailed means a spawn failed or the restart budget is exhausted.
	StateFailed
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateRestarting:
		return "restarting"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Status is a published state transition.
type Status struct {
	State State

	// Attempt and Delay describe the scheduled restart for StateRestarting.
	Attempt int
	Delay   time.Duration

	// Err is the failure cause for StateFailed and StateRestarting.
	Err error

	// RestartIn is set on StateFailed when another attempt is still
	// scheduled. Zero means the failure is terminal.
	RestartIn time.Duration

	// Instance is the live process for StateRunning.
	Instance *Instance
}

// Terminal reports whether no further restart will happen on its own.
func (s Status) Terminal() bool {
	return s.State == StateStopped || (s.State == StateFailed && s.RestartIn == 0)
}

func (s Status) String() string {
	switch s.State {
	case StateRestarting:
		return fmt.Sprintf("restarting (attempt %d in %s)", s.Attempt, s.Delay)
	case StateFailed:
		if s.RestartIn > 0 {
			return fmt.Sprintf("failed: %v (restart in %s)", s.Err, s.RestartIn)
		}
		return fmt.Sprintf("failed: %v", s.Err)
	case StateRunning:
		if s.Instance != nil {
			return fmt.Sprintf("running (pid %d)", s.Instance.PID())
		}
	}
	return s.State.String()
}
