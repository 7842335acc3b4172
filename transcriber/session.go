package transcriber

import (
	"context"
	"strings"
	"sync"
	"time"

	"callcoach/conversation"
	"callcoach/log"
)

type State int

const (
	StateIdle State = iota
	StateConnecting
	StateStreaming
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateStreaming:
		return "streaming"
	case StateClosing:
		return "closing"
	}
	return "unknown"
}

type Config struct {
	Dial     Dialer
	Source   FrameSource
	Buffer   Appender
	Listener Listener
	Provider string
	Now      func() time.Time
	Backoff  func(attempt int) time.Duration
}

// Session streams audio frames to a transcription service and turns its
// replies into utterances, reconnecting after retryable failures.
type Session struct {
	cfg Config

	mu      sync.Mutex
	state   State
	started bool
	stopped bool
	cancel  context.CancelFunc
	done    chan struct{}
	finals  int
}

func NewSession(cfg Config) *Session {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Backoff == nil {
		cfg.Backoff = Backoff
	}
	return &Session{cfg: cfg}
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start opens the audio source and the first stream. A second call is a
// no-op. Errors are either an input configuration error or a *Failure, or
// ErrStopped when Stop ran before the stream opened.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	if s.stopped {
		s.mu.Unlock()
		return ErrStopped
	}
	s.started = true
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done
	s.mu.Unlock()

	if err := s.cfg.Source.Start(); err != nil {
		s.abortStart(cancel, done)
		return err
	}

	s.setState(StateConnecting)
	// Stop cancels an in-flight first dial through runCtx
	dialCtx, dialCancel := context.WithCancel(ctx)
	stopDial := context.AfterFunc(runCtx, dialCancel)
	connectStart := time.Now()
	ws, err := s.cfg.Dial(dialCtx)
	stopDial()
	dialCancel()

	if err == nil && runCtx.Err() != nil {
		ws.Close()
		err = ErrStopped
	}
	if err != nil {
		s.cfg.Source.Stop()
		s.setState(StateIdle)
		s.abortStart(cancel, done)
		if runCtx.Err() != nil {
			return ErrStopped
		}
		return classify(err)
	}

	go s.run(runCtx, done, ws, time.Since(connectStart))
	return nil
}

// abortStart forgets a start that never reached run. A Stop already waiting
// on done is released.
func (s *Session) abortStart(cancel context.CancelFunc, done chan struct{}) {
	s.mu.Lock()
	s.cancel = nil
	s.done = nil
	s.mu.Unlock()
	cancel()
	close(done)
}

// Stop closes the stream and the audio source and waits for both loops to
// exit, cancelling a first dial that is still in progress. It reports
// whether this call performed the teardown.
func (s *Session) Stop() bool {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return false
	}
	s.stopped = true
	if s.cancel == nil {
		s.mu.Unlock()
		return false
	}
	cancel, done := s.cancel, s.done
	finals := s.finals
	s.mu.Unlock()

	s.setState(StateClosing)
	cancel()
	<-done
	s.setState(StateIdle)
	log.SessionEnd(finals)
	return true
}

func (s *Session) run(ctx context.Context, done chan struct{}, ws Stream, connectDur time.Duration) {
	defer close(done)
	defer s.cfg.Source.Stop()

	attempt := 0
	for {
		s.setState(StateStreaming)
		conn := newStreamConn(ws, connectDur)
		err := conn.run(ctx, s.cfg.Source.Frames(), s.handleUpdate)
		conn.logMetrics(attempt)
		if ctx.Err() != nil {
			return
		}

		s.setState(StateIdle)
		f := classify(err)
		s.notifyFailure(f)
		if !f.Retryable {
			return
		}

		for {
			wait := s.cfg.Backoff(attempt)
			log.Warnf("transcription stream lost, reconnecting in %v (attempt %d)", wait, attempt+1)
			if !sleepCtx(ctx, wait) {
				return
			}
			attempt++

			s.setState(StateConnecting)
			connectStart := time.Now()
			ws, err = s.cfg.Dial(ctx)
			connectDur = time.Since(connectStart)
			if err == nil {
				attempt = 0
				drainFrames(s.cfg.Source.Frames())
				break
			}
			if ctx.Err() != nil {
				return
			}
			s.setState(StateIdle)
			f := classify(err)
			s.notifyFailure(f)
			if !f.Retryable {
				return
			}
		}
	}
}

func (s *Session) handleUpdate(up Update) {
	text := strings.TrimSpace(up.Transcript)
	if text == "" {
		return
	}
	u := conversation.Utterance{
		Speaker:   conversation.SpeakerFromIndex(up.Speaker),
		Text:      text,
		IsFinal:   up.IsFinal || up.SpeechFinal,
		Timestamp: s.cfg.Now(),
	}
	// the buffer must see a final utterance before anyone evaluates it
	if u.IsFinal && s.cfg.Buffer != nil && s.cfg.Buffer.Append(u) {
		s.mu.Lock()
		s.finals++
		s.mu.Unlock()
	}
	if s.cfg.Listener != nil {
		s.cfg.Listener.OnUtterance(u)
	}
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	if s.state == st {
		s.mu.Unlock()
		return
	}
	s.state = st
	s.mu.Unlock()
	if s.cfg.Listener != nil {
		s.cfg.Listener.OnState(st)
	}
}

func (s *Session) notifyFailure(f *Failure) {
	if f.Retryable {
		log.Warnf("%v", f)
	} else {
		log.Errorf("%v", f)
	}
	if s.cfg.Listener != nil {
		s.cfg.Listener.OnFailure(f)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// drainFrames discards audio queued while no stream was open.
func drainFrames(ch <-chan []byte) {
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		default:
			return
		}
	}
}
