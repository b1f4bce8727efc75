package voice

import "testing"

func TestStateStrings(t *testing.T) {
	cases := []struct {
		state State
		want  string
	}{
		{StateIdle, "idle"},
		{StateConnecting, "connecting"},
		{StateConnected, "connected"},
		{StateConfiguring, "configuring"},
		{StateSessionReady, "session_ready"},
		{StateEnded, "ended"},
		{StateFailed, "error"},
		{State(99), "unknown"},
	}
	for _, tc := range cases {
		if got := tc.state.String(); got != tc.want {
			t.Fatalf("State(%d).String() = %q, want %q", tc.state, got, tc.want)
		}
	}
}

func TestStateTerminal(t *testing.T) {
	for _, s := range []State{StateEnded, StateFailed} {
		if !s.terminal() {
			t.Fatalf("%s should be terminal", s)
		}
	}
	for _, s := range []State{StateIdle, StateConnecting, StateConnected, StateConfiguring, StateSessionReady} {
		if s.terminal() {
			t.Fatalf("%s should not be terminal", s)
		}
	}
}

func TestStateErrorMessageNamesState(t *testing.T) {
	err := &StateError{Op: "connect", State: StateSessionReady}
	if got := err.Error(); got != "connect not allowed in state session_ready" {
		t.Fatalf("Error() = %q", got)
	}
}
