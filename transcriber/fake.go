package transcriber

import (
	"context"
	"errors"
	"sync"
)

var errFakeClosed = errors.New("fake stream closed")

// FakeStream is an in-memory Stream. Tests push updates with Emit and break
// the connection with Fail.
type FakeStream struct {
	updates   chan Update
	fail      chan error
	closed    chan struct{}
	closeOnce sync.Once

	mu         sync.Mutex
	sent       int
	sentBytes  int
	closeSends int
}

func NewFakeStream() *FakeStream {
	return &FakeStream{
		updates: make(chan Update, 64),
		fail:    make(chan error, 1),
		closed:  make(chan struct{}),
	}
}

func (f *FakeStream) Send(pcm []byte) error {
	select {
	case <-f.closed:
		return errFakeClosed
	default:
	}
	f.mu.Lock()
	f.sent++
	f.sentBytes += len(pcm)
	f.mu.Unlock()
	return nil
}

func (f *FakeStream) CloseSend() error {
	f.mu.Lock()
	f.closeSends++
	f.mu.Unlock()
	return nil
}

func (f *FakeStream) Recv() (Update, error) {
	select {
	case u := <-f.updates:
		return u, nil
	case err := <-f.fail:
		return Update{}, err
	case <-f.closed:
		return Update{}, errFakeClosed
	}
}

func (f *FakeStream) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *FakeStream) Emit(u Update) { f.updates <- u }

// Fail makes the next Recv return err, as a dropped connection would.
func (f *FakeStream) Fail(err error) { f.fail <- err }

func (f *FakeStream) Done() <-chan struct{} { return f.closed }

func (f *FakeStream) SentFrames() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sent
}

// FakeDialer hands out FakeStreams. Queued errors are returned by the next
// dials before any stream is produced.
type FakeDialer struct {
	mu      sync.Mutex
	errs    []error
	dials   int
	streams []*FakeStream
	dialed  chan *FakeStream
}

func NewFakeDialer() *FakeDialer {
	return &FakeDialer{dialed: make(chan *FakeStream, 32)}
}

func (d *FakeDialer) Dial(ctx context.Context) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	d.dials++
	if len(d.errs) > 0 {
		err := d.errs[0]
		d.errs = d.errs[1:]
		d.mu.Unlock()
		return nil, err
	}
	s := NewFakeStream()
	d.streams = append(d.streams, s)
	d.mu.Unlock()

	select {
	case d.dialed <- s:
	default:
	}
	return s, nil
}

func (d *FakeDialer) FailNext(errs ...error) {
	d.mu.Lock()
	d.errs = append(d.errs, errs...)
	d.mu.Unlock()
}

// Streams delivers each stream as it is dialed.
func (d *FakeDialer) Streams() <-chan *FakeStream { return d.dialed }

func (d *FakeDialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}
