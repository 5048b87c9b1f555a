package session

import "fmt"

// State denotes the state of a session controller
type State int

const (

	// StateIdle is active before connecting and after a regular disconnect
	StateIdle State = iota

	// StateConnecting is active while (re-)connecting to the device
	StateConnecting

	// StateConnected is active while binding the characteristics of a new connection
	StateConnected

	// StateCommandLoop is active while commands are processed
	StateCommandLoop

	// StateDisconnecting is active while tearing down a connection
	StateDisconnecting

	// StateFailed is reached once all connection attempts have been exhausted
	StateFailed
)

var stateNames = map[State]string{
	StateIdle:          "idle",
	StateConnecting:    "connecting",
	StateConnected:     "connected",
	StateCommandLoop:   "command_loop",
	StateDisconnecting: "disconnecting",
	StateFailed:        "failed",
}

// String fulfils the Stringer interface
func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("State(%d)", int(s))
}
