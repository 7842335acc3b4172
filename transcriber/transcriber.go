package transcriber

import (
	"context"
	"errors"
	"fmt"
	"time"

	"callcoach/conversation"
)

var (
	ErrAuthentication     = errors.New("transcription service rejected credentials")
	ErrMissingCredentials = errors.New("transcription credentials not configured")
	ErrStopped            = errors.New("transcription session stopped")
)

const (
	backoffBase = 500 * time.Millisecond
	backoffCap  = 10 * time.Second
)

// Update is one transcript message from the service.
type Update struct {
	Transcript  string
	IsFinal     bool
	SpeechFinal bool
	// Speaker is the diarization index of the segment, -1 when unknown.
	Speaker int
}

// Stream is a live connection to a transcription service. Recv must return
// an error promptly once Close is called.
type Stream interface {
	Send(pcm []byte) error
	CloseSend() error
	Recv() (Update, error)
	Close() error
}

type Dialer func(ctx context.Context) (Stream, error)

// FrameSource yields fixed-duration PCM frames. Start reports a missing input
// device once; Frames stays open until Stop.
type FrameSource interface {
	Start() error
	Frames() <-chan []byte
	Stop()
}

type Appender interface {
	Append(u conversation.Utterance) bool
}

// Listener receives session output. Callbacks run on the session's receive
// goroutine and must not block.
type Listener interface {
	OnUtterance(u conversation.Utterance)
	OnState(st State)
	OnFailure(f *Failure)
}

// Failure reports a lost or refused stream. Retryable failures are followed
// by an automatic reconnect.
type Failure struct {
	Err       error
	Retryable bool
}

func (f *Failure) Error() string {
	if f.Retryable {
		return fmt.Sprintf("transcription interrupted: %v", f.Err)
	}
	return fmt.Sprintf("transcription stopped: %v", f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

func classify(err error) *Failure {
	var f *Failure
	if errors.As(err, &f) {
		return f
	}
	if errors.Is(err, ErrAuthentication) || errors.Is(err, ErrMissingCredentials) {
		return &Failure{Err: err}
	}
	return &Failure{Err: err, Retryable: true}
}

// Backoff returns the wait before reconnect attempt n (0-based): 500ms
// doubling up to 10s.
func Backoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt >= 16 {
		return backoffCap
	}
	d := backoffBase << attempt
	if d > backoffCap {
		return backoffCap
	}
	return d
}
