package audio

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"callcoach/log"
)

const (
	DefaultFrameDuration = 200 * time.Millisecond
	defaultQueueFrames   = 32
)

type SourceConfig struct {
	// Device is matched against device names; empty selects the default.
	Device        string
	FrameDuration time.Duration
	Gain          int
	QueueFrames   int
	// Meter, when set, sees every frame before it is queued.
	Meter *Meter
}

// Source turns capture callbacks into fixed-duration PCM frames. Frames are
// dropped, never blocked on, when the consumer falls behind.
type Source struct {
	ctx        Context
	cfg        SourceConfig
	frameBytes int
	frames     chan []byte
	dropped    atomic.Int64

	mu      sync.Mutex
	capture CaptureDevice
	pending []byte
	running bool
}

func NewSource(ctx Context, cfg SourceConfig) *Source {
	if cfg.FrameDuration <= 0 {
		cfg.FrameDuration = DefaultFrameDuration
	}
	if cfg.QueueFrames <= 0 {
		cfg.QueueFrames = defaultQueueFrames
	}
	return &Source{
		ctx:        ctx,
		cfg:        cfg,
		frameBytes: FrameBytes(cfg.FrameDuration),
		frames:     make(chan []byte, cfg.QueueFrames),
	}
}

// Start opens the configured device. Any failure wraps ErrNoInput.
func (s *Source) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	dev, err := FindDevice(s.ctx, s.cfg.Device)
	if err != nil {
		return err
	}
	capture, err := s.ctx.NewCapture(dev, CaptureConfig{
		SampleRate: SampleRate,
		Channels:   Channels,
		Gain:       s.cfg.Gain,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNoInput, err)
	}
	capture.SetCallback(s.onData)
	if err := capture.Start(); err != nil {
		capture.ClearCallback()
		capture.Close()
		return fmt.Errorf("%w: %v", ErrNoInput, err)
	}

	name := "default"
	if dev != nil {
		name = dev.Name
	}
	log.Infof("audio capture started: device=%s frame=%v", name, s.cfg.FrameDuration)
	s.capture = capture
	s.running = true
	s.dropped.Store(0)
	return nil
}

func (s *Source) onData(data []byte, _ uint32) {
	s.mu.Lock()
	s.pending = append(s.pending, data...)
	var ready [][]byte
	for len(s.pending) >= s.frameBytes {
		frame := make([]byte, s.frameBytes)
		copy(frame, s.pending[:s.frameBytes])
		s.pending = s.pending[s.frameBytes:]
		ready = append(ready, frame)
	}
	s.mu.Unlock()

	for _, frame := range ready {
		if s.cfg.Meter != nil {
			s.cfg.Meter.Process(frame)
		}
		select {
		case s.frames <- frame:
		default:
			s.dropped.Add(1)
		}
	}
}

func (s *Source) Frames() <-chan []byte { return s.frames }

func (s *Source) Dropped() int64 { return s.dropped.Load() }

func (s *Source) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	capture := s.capture
	s.capture = nil
	s.running = false
	s.pending = nil
	s.mu.Unlock()

	capture.ClearCallback()
	capture.Stop()
	capture.Close()
	if n := s.dropped.Load(); n > 0 {
		log.Warnf("audio capture stopped, %d frames dropped", n)
	}
}
