package server

import "callcoach/protocol"

// State is the session state mirrored to every client. It is only ever
// replaced whole.
type State struct {
	Listening    bool `json:"listening"`
	Connected    bool `json:"connected"`
	Transcribing bool `json:"transcribing"`
}

func (s State) Frame() protocol.Status {
	return protocol.NewStatus(s.Listening, s.Connected, s.Transcribing)
}

// transition swaps in fn(current) and broadcasts the new status when it
// changed, or always when force is set. The broadcast happens under the
// transition lock so status frames are queued in transition order.
func (s *Server) transition(force bool, fn func(State) State) State {
	s.transMu.Lock()
	defer s.transMu.Unlock()
	old := *s.state.Load()
	next := fn(old)
	if next != old {
		s.state.Store(&next)
	}
	if next != old || force {
		s.Broadcast(next.Frame())
	}
	return next
}

func (s *Server) State() State {
	return *s.state.Load()
}

// MarkTranscribing records that text has arrived. It has no effect unless
// listening.
func (s *Server) MarkTranscribing() {
	s.transition(false, func(st State) State {
		if st.Listening {
			st.Transcribing = true
		}
		return st
	})
}

// SetTranscribing is used on retryable failures; listening is untouched.
func (s *Server) SetTranscribing(on bool) {
	s.transition(false, func(st State) State {
		st.Transcribing = on && st.Listening
		return st
	})
}

// SetIdle ends listening after a terminal failure or a stop.
func (s *Server) SetIdle() {
	s.transition(false, func(st State) State {
		st.Listening = false
		st.Transcribing = false
		return st
	})
}
