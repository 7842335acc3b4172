package transcriber

import (
	"context"
	"sync"
	"time"

	"callcoach/log"
)

const bytesPerSecond = 16000 * 1 * 2

// streamConn drives one connected Stream: a sender draining audio frames and
// a receiver turning messages into updates. The first error from either side
// closes the stream and ends both.
type streamConn struct {
	ws        Stream
	startedAt time.Time
	sendDone  chan struct{}
	recvDone  chan struct{}
	failed    chan struct{}

	mu      sync.Mutex
	err     error
	errOnce sync.Once
	closing bool
	stats   streamStats
}

type streamStats struct {
	ConnectDur   time.Duration
	SentChunks   int
	SentBytes    uint64
	RecvMessages int
	RecvFinal    int
	RecvInterim  int
}

func (s streamStats) audioDuration() float64 {
	return float64(s.SentBytes) / float64(bytesPerSecond)
}

func newStreamConn(ws Stream, connectDur time.Duration) *streamConn {
	return &streamConn{
		ws:        ws,
		startedAt: time.Now(),
		sendDone:  make(chan struct{}),
		recvDone:  make(chan struct{}),
		failed:    make(chan struct{}),
		stats:     streamStats{ConnectDur: connectDur},
	}
}

// run blocks until ctx is cancelled or the stream fails. It returns nil on
// cancellation and the stream error otherwise.
func (c *streamConn) run(ctx context.Context, frames <-chan []byte, emit func(Update)) error {
	go c.runSender(ctx, frames)
	go c.runReceiver(emit)

	select {
	case <-ctx.Done():
		c.mu.Lock()
		c.closing = true
		c.mu.Unlock()
		<-c.sendDone
		if err := c.ws.CloseSend(); err != nil {
			log.Debugf("stream close send: %v", err)
		}
		c.ws.Close()
		<-c.recvDone
		return nil
	case <-c.failed:
	}
	<-c.sendDone
	<-c.recvDone

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *streamConn) runSender(ctx context.Context, frames <-chan []byte) {
	defer close(c.sendDone)
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.failed:
			return
		case frame, ok := <-frames:
			if !ok {
				return
			}
			if err := c.ws.Send(frame); err != nil {
				c.setErr(err)
				return
			}
			c.mu.Lock()
			c.stats.SentChunks++
			c.stats.SentBytes += uint64(len(frame))
			c.mu.Unlock()
		}
	}
}

func (c *streamConn) runReceiver(emit func(Update)) {
	defer close(c.recvDone)
	for {
		update, err := c.ws.Recv()
		if err != nil {
			c.mu.Lock()
			closing := c.closing
			c.mu.Unlock()
			if !closing {
				c.setErr(err)
			}
			return
		}

		isFinal := update.IsFinal || update.SpeechFinal
		c.mu.Lock()
		c.stats.RecvMessages++
		if isFinal {
			c.stats.RecvFinal++
		} else {
			c.stats.RecvInterim++
		}
		closing := c.closing
		c.mu.Unlock()

		if closing {
			continue
		}
		emit(update)
	}
}

func (c *streamConn) setErr(err error) {
	if err == nil {
		return
	}
	c.errOnce.Do(func() {
		c.mu.Lock()
		c.err = err
		c.mu.Unlock()
		close(c.failed)
		c.ws.Close()
	})
}

func (c *streamConn) logMetrics(attempt int) {
	c.mu.Lock()
	stats := c.stats
	c.mu.Unlock()
	log.StreamMetrics(log.StreamMetricsData{
		ConnectMs:    float64(stats.ConnectDur.Milliseconds()),
		TotalMs:      float64(time.Since(c.startedAt).Milliseconds()),
		AudioS:       stats.audioDuration(),
		SentChunks:   stats.SentChunks,
		SentKB:       float64(stats.SentBytes) / 1024,
		RecvMessages: stats.RecvMessages,
		RecvFinal:    stats.RecvFinal,
		RecvInterim:  stats.RecvInterim,
		Attempt:      attempt,
	})
}
