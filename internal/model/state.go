package model

// ConnectionState is the lifecycle state of the agent connection.
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateError
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateReconnecting:
		return "RECONNECTING"
	case StateError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// PairListener is notified whenever a pair is created or completed.
type PairListener func(pair *MatchedHttpPair)

// LogListener is notified for every runtime log line sent by the agent.
type LogListener func(line string)

// StateListener is notified on every connection state transition.
type StateListener func(state ConnectionState)
