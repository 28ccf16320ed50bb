package stream

import "fmt"

type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Backoff
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Backoff:
		return "backoff"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

type Event int

const (
	EventDial Event = iota
	EventConnected
	EventFailure
	EventRetry
	EventUnsubscribe
)

func (e Event) String() string {
	switch e {
	case EventDial:
		return "dial"
	case EventConnected:
		return "connected"
	case EventFailure:
		return "failure"
	case EventRetry:
		return "retry"
	case EventUnsubscribe:
		return "unsubscribe"
	}
	return fmt.Sprintf("event(%d)", int(e))
}

// Transition returns the state reached from s on e. ok is false when e is
// not valid in s; the state is then unchanged.
func Transition(s State, e Event) (next State, ok bool) {
	switch e {
	case EventUnsubscribe:
		return Disconnected, true
	case EventDial:
		if s == Disconnected {
			return Connecting, true
		}
	case EventConnected:
		if s == Connecting {
			return Connected, true
		}
	case EventFailure:
		if s == Connecting || s == Connected {
			return Backoff, true
		}
	case EventRetry:
		if s == Backoff {
			return Connecting, true
		}
	}
	return s, false
}
