package voice

// State is the shared session lifecycle state. Listening, processing,
// and speaking are not states: they are independent flags that can
// overlap while the session is ready (the remote endpoint may speak
// while the user is still talking).
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateConfiguring
	StateSessionReady
	StateEnded
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateConfiguring:
		return "configuring"
	case StateSessionReady:
		return "session_ready"
	case StateEnded:
		return "ended"
	case StateFailed:
		return "error"
	default:
		return "unknown"
	}
}

// terminal reports whether the state permits no further transitions
// except an explicit Disconnect.
func (s State) terminal() bool {
	return s == StateEnded || s == StateFailed
}

// canListen reports whether the capture pipeline may start.
func (s State) canListen() bool {
	switch s {
	case StateConnected, StateConfiguring, StateSessionReady:
		return true
	default:
		return false
	}
}

// Flags is a snapshot of the overlapping UI-facing activity booleans.
type Flags struct {
	Listening  bool
	Processing bool
	Speaking   bool
}
