package audio

import (
	"encoding/binary"
	"math"
	"sync"
	"time"

	webrtcvad "github.com/maxhawkins/go-webrtcvad"
)

const (
	vadMode       = 3
	vadFrameMs    = 20
	vadFrameBytes = SampleRate * vadFrameMs / 1000 * 2 // 640 bytes

	// audioRMSThreshold is the normalized RMS above which a report counts
	// as carrying audio.
	audioRMSThreshold = 0.01
	speechThreshold   = 0.10 // 10% of VAD frames must be speech

	DefaultLevelEvery = 2 * time.Second
)

type Level struct {
	RMS      float64 // normalized to [0,1]
	Peak     float64
	Speech   float64 // share of VAD frames classified as speech
	HasAudio bool
}

type MeterConfig struct {
	Every time.Duration
	// SilenceAfter is how long without speech before OnSilence(true);
	// zero disables the monitor.
	SilenceAfter time.Duration
	OnLevel      func(Level)
	OnSilence    func(silent bool)
}

// Meter measures loudness and speech activity of a PCM stream and reports
// them at a fixed audio-time interval.
type Meter struct {
	cfg        MeterConfig
	vad        *webrtcvad.VAD
	everyBytes int

	mu         sync.Mutex
	buf        []byte
	seenBytes  int
	sumSquares float64
	samples    int
	peak       float64
	vadFrames  int
	vadSpeech  int
	silence    *silenceMonitor
}

// NewMeter creates a meter. When the VAD cannot be initialised the meter
// still reports levels, with Speech always zero.
func NewMeter(cfg MeterConfig) (*Meter, error) {
	if cfg.Every <= 0 {
		cfg.Every = DefaultLevelEvery
	}
	m := &Meter{cfg: cfg, everyBytes: FrameBytes(cfg.Every)}
	v, err := webrtcvad.New()
	if err == nil {
		err = v.SetMode(vadMode)
	}
	if err == nil {
		m.vad = v
	}
	if cfg.SilenceAfter > 0 {
		m.silence = newSilenceMonitor(cfg.SilenceAfter)
	}
	return m, err
}

// Process consumes one frame. Callbacks fire on the calling goroutine.
func (m *Meter) Process(pcm []byte) {
	m.mu.Lock()
	frameTotal, frameSpeech := m.vadFrames, m.vadSpeech
	for i := 0; i+1 < len(pcm); i += 2 {
		s := float64(int16(binary.LittleEndian.Uint16(pcm[i:]))) / 32768
		m.sumSquares += s * s
		m.samples++
		if a := math.Abs(s); a > m.peak {
			m.peak = a
		}
	}
	m.runVAD(pcm)
	hasSpeech := false
	if t := m.vadFrames - frameTotal; t > 0 {
		hasSpeech = float64(m.vadSpeech-frameSpeech)/float64(t) >= speechThreshold
	}

	var silenceEv silenceEvent
	if m.silence != nil {
		silenceEv = m.silence.Tick(hasSpeech, len(pcm))
	}

	m.seenBytes += len(pcm)
	var report *Level
	if m.seenBytes >= m.everyBytes {
		lvl := m.levelLocked()
		report = &lvl
		m.resetLocked()
	}
	m.mu.Unlock()

	if report != nil && m.cfg.OnLevel != nil {
		m.cfg.OnLevel(*report)
	}
	if m.cfg.OnSilence != nil {
		switch silenceEv {
		case silenceWarn:
			m.cfg.OnSilence(true)
		case silenceClear:
			m.cfg.OnSilence(false)
		}
	}
}

func (m *Meter) runVAD(pcm []byte) {
	if m.vad == nil {
		return
	}
	m.buf = append(m.buf, pcm...)
	for len(m.buf) >= vadFrameBytes {
		frame := m.buf[:vadFrameBytes]
		m.buf = m.buf[vadFrameBytes:]
		active, err := m.vad.Process(SampleRate, frame)
		if err != nil {
			continue
		}
		m.vadFrames++
		if active {
			m.vadSpeech++
		}
	}
}

func (m *Meter) levelLocked() Level {
	var lvl Level
	if m.samples > 0 {
		lvl.RMS = math.Sqrt(m.sumSquares / float64(m.samples))
	}
	lvl.Peak = m.peak
	if m.vadFrames > 0 {
		lvl.Speech = float64(m.vadSpeech) / float64(m.vadFrames)
	}
	lvl.HasAudio = lvl.RMS >= audioRMSThreshold
	return lvl
}

func (m *Meter) resetLocked() {
	m.seenBytes = 0
	m.sumSquares = 0
	m.samples = 0
	m.peak = 0
	m.vadFrames = 0
	m.vadSpeech = 0
}
