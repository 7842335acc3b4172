package audio

import "time"

const (
	speechMinRatio   = 0.10
	speechClearRatio = 0.25 // higher threshold to clear warning (hysteresis)
)

type silenceEvent int

const (
	silenceNone  silenceEvent = iota
	silenceWarn               // no speech for the whole window
	silenceClear              // speech resumed after warning
)

// silenceMonitor tracks the share of speech frames over a trailing window of
// audio time and warns once when it falls below speechMinRatio.
type silenceMonitor struct {
	windowBytes int

	window []tick
	bytes  int
	speech int
	seen   int
	warned bool
}

type tick struct {
	bytes  int
	speech bool
}

func newSilenceMonitor(after time.Duration) *silenceMonitor {
	return &silenceMonitor{windowBytes: FrameBytes(after)}
}

func (m *silenceMonitor) Tick(hasSpeech bool, n int) silenceEvent {
	m.window = append(m.window, tick{bytes: n, speech: hasSpeech})
	m.bytes += n
	m.seen += n
	if hasSpeech {
		m.speech++
	}
	for len(m.window) > 1 && m.bytes-m.window[0].bytes >= m.windowBytes {
		if m.window[0].speech {
			m.speech--
		}
		m.bytes -= m.window[0].bytes
		m.window = m.window[1:]
	}

	r := float64(m.speech) / float64(len(m.window))

	if m.seen >= m.windowBytes && r < speechMinRatio && !m.warned {
		m.warned = true
		return silenceWarn
	}
	if m.warned && r >= speechClearRatio {
		m.warned = false
		return silenceClear
	}
	return silenceNone
}
