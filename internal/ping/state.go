package ping

// State is a step of the probe sequence. Each probe starts at
// StateConnecting and ends in StateSucceeded or StateFailed.
type State int

const (
	StateNone State = iota
	StateConnecting
	StateConnected
	StateHandshakeSent
	StateStatusRequested
	StateStatusReceived
	StatePingSent
	StatePongReceived
	StateSucceeded
	StateFailed
)

var stateStrings = map[State]string{
	StateNone:            "none",
	StateConnecting:      "connecting",
	StateConnected:       "connected",
	StateHandshakeSent:   "handshake_sent",
	StateStatusRequested: "status_requested",
	StateStatusReceived:  "status_received",
	StatePingSent:        "ping_sent",
	StatePongReceived:    "pong_received",
	StateSucceeded:       "succeeded",
	StateFailed:          "failed",
}

// String returns the snake_case name of the state.
func (s State) String() string {
	if str, ok := stateStrings[s]; ok {
		return str
	}
	return "unknown"
}

// MarshalJSON serializes State as its string name.
func (s State) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// Terminal reports whether no further transition follows s.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed
}
