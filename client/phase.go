package client

import "fmt"

type Phase int

const (
	Idle Phase = iota
	Connecting
	Open
	Closing
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case Closing:
		return "closing"
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

type Event int

const (
	EventConnect    Event = iota // attempt started
	EventDialed                  // handshake completed
	EventDialFailed              // handshake failed
	EventLost                    // socket closed by the peer or the network
	EventTeardown                // intentional close
	EventClosed                  // intentional close finished
)

func (e Event) String() string {
	switch e {
	case EventConnect:
		return "connect"
	case EventDialed:
		return "dialed"
	case EventDialFailed:
		return "dial-failed"
	case EventLost:
		return "lost"
	case EventTeardown:
		return "teardown"
	case EventClosed:
		return "closed"
	}
	return fmt.Sprintf("event(%d)", int(e))
}

type TransitionError struct {
	From  Phase
	Event Event
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("illegal transition: %s on %s", e.Event, e.From)
}

// Next returns the phase after e, or a *TransitionError when e is not legal
// in p.
func Next(p Phase, e Event) (Phase, error) {
	switch {
	case p == Idle && e == EventConnect:
		return Connecting, nil
	case p == Connecting && e == EventDialed:
		return Open, nil
	case p == Connecting && e == EventDialFailed:
		return Idle, nil
	case p == Open && e == EventLost:
		return Idle, nil
	case (p == Connecting || p == Open) && e == EventTeardown:
		return Closing, nil
	case p == Closing && e == EventClosed:
		return Idle, nil
	case p == Idle && e == EventTeardown:
		return Idle, nil
	}
	return p, &TransitionError{From: p, Event: e}
}
