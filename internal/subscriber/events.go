package subscriber

import (
	"fmt"

	"github.com/aquaflow/sensorhub/internal/sensor"
)

// State of the live subscription.
type State string

const (
	StateDisconnected State = "DISCONNECTED"
	StateConnecting   State = "CONNECTING"
	StateConnected    State = "CONNECTED"
	// StateFailed is terminal: the retry budget is exhausted and only
	// an explicit Connect call resumes the subscription.
	StateFailed State = "FAILED"
)

type EventType int

const (
	EventConnected EventType = iota
	EventUpdate
	EventDisconnected
	EventError
)

func (t EventType) String() string {
	switch t {
	case EventConnected:
		return "connected"
	case EventUpdate:
		return "update"
	case EventDisconnected:
		return "disconnected"
	case EventError:
		return "error"
	}
	return fmt.Sprintf("EventType(%d)", int(t))
}

// Event is one life-cycle or data notification from the subscription.
// Reading is set for EventUpdate, Err for EventError.
type Event struct {
	Type    EventType
	Reading *sensor.Reading
	Err     error
}
