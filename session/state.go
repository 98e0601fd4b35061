package session

// State is the lifecycle state of one thread.
type State int

const (
	StateCreated State = iota
	StateConfigured
	StateActive
	StateInterrupted
	StateCompleted
	StateArchived
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateConfigured:
		return "configured"
	case StateActive:
		return "active"
	case StateInterrupted:
		return "interrupted"
	case StateCompleted:
		return "completed"
	case StateArchived:
		return "archived"
	default:
		return "unknown"
	}
}

// Live reports whether the session still counts as active work, that is
// neither completed nor archived.
func (s State) Live() bool {
	return s != StateCompleted && s != StateArchived
}

// Info is a snapshot of one session.
type Info struct {
	ThreadID     string
	Model        string
	Cwd          string
	State        State
	ActiveTurnID string
}

// EventKind names a lifecycle transition.
type EventKind int

const (
	EventCreated EventKind = iota
	EventConfigured
	EventActive
	EventCompleted
	EventInterrupted
	EventArchived
)

func (k EventKind) String() string {
	switch k {
	case EventCreated:
		return "created"
	case EventConfigured:
		return "configured"
	case EventActive:
		return "active"
	case EventCompleted:
		return "completed"
	case EventInterrupted:
		return "interrupted"
	case EventArchived:
		return "archived"
	default:
		return "unknown"
	}
}

// Event is emitted on registration and on every state change.
type Event struct {
	Kind     EventKind
	ThreadID string
}

// eventFor maps a target state to the event it emits. Created is only
// emitted by Register.
func eventFor(s State) (EventKind, bool) {
	switch s {
	case StateConfigured:
		return EventConfigured, true
	case StateActive:
		return EventActive, true
	case StateCompleted:
		return EventCompleted, true
	case StateInterrupted:
		return EventInterrupted, true
	case StateArchived:
		return EventArchived, true
	}
	return 0, false
}
