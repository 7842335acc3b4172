package suggest

import (
	"context"
	"sync"
)

// FakeService returns canned items. When gated, each call blocks until
// Release is called or the context ends.
type FakeService struct {
	mu    sync.Mutex
	items []string
	err   error
	gate  chan struct{}
	calls []Request

	started chan Request
}

func NewFakeService(items ...string) *FakeService {
	return &FakeService{items: items, started: make(chan Request, 16)}
}

func (f *FakeService) Name() string { return "fake" }

func (f *FakeService) SetResult(items []string, err error) {
	f.mu.Lock()
	f.items, f.err = items, err
	f.mu.Unlock()
}

// Gate makes later calls block until Release.
func (f *FakeService) Gate() {
	f.mu.Lock()
	f.gate = make(chan struct{})
	f.mu.Unlock()
}

func (f *FakeService) Release() {
	f.mu.Lock()
	if f.gate != nil {
		close(f.gate)
		f.gate = nil
	}
	f.mu.Unlock()
}

func (f *FakeService) Suggest(ctx context.Context, req Request) ([]string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	gate := f.gate
	f.mu.Unlock()

	select {
	case f.started <- req:
	default:
	}

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return append([]string(nil), f.items...), nil
}

// Started delivers each request as the call begins.
func (f *FakeService) Started() <-chan Request { return f.started }

func (f *FakeService) Calls() []Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Request(nil), f.calls...)
}
