package audio

import (
	"testing"
	"time"
)

const tickBytes = 6400 // 200ms

func feedN(m *silenceMonitor, speech bool, n int) silenceEvent {
	var last silenceEvent
	for i := 0; i < n; i++ {
		last = m.Tick(speech, tickBytes)
	}
	return last
}

func TestSilenceWarnAfterWindow(t *testing.T) {
	m := newSilenceMonitor(8 * time.Second)
	// 39 ticks of silence, no warning yet
	for i := 0; i < 39; i++ {
		if ev := m.Tick(false, tickBytes); ev != silenceNone {
			t.Fatalf("unexpected event at tick %d: %d", i, ev)
		}
	}
	// 40th tick covers 8s
	if ev := m.Tick(false, tickBytes); ev != silenceWarn {
		t.Fatalf("expected silenceWarn at tick 40, got %d", ev)
	}
	if ev := feedN(m, false, 40); ev != silenceNone {
		t.Fatalf("warning should fire once, got %d", ev)
	}
}

func TestSilenceWarnClearsOnSpeech(t *testing.T) {
	m := newSilenceMonitor(8 * time.Second)
	feedN(m, false, 40)

	// need 25% of the 40-tick window
	for i := 0; i < 40; i++ {
		if ev := m.Tick(true, tickBytes); ev == silenceClear {
			if i != 9 {
				t.Errorf("cleared at tick %d, want 9", i)
			}
			return
		}
	}
	t.Fatal("expected silenceClear after speech")
}

func TestNoWarnDuringSpeech(t *testing.T) {
	m := newSilenceMonitor(8 * time.Second)
	for i := 0; i < 200; i++ {
		if ev := m.Tick(true, tickBytes); ev == silenceWarn {
			t.Fatalf("unexpected warn during speech at tick %d", i)
		}
	}
}

func TestSparseSpeechStillWarns(t *testing.T) {
	m := newSilenceMonitor(8 * time.Second)
	// one speech tick in 40 is below 10%
	m.Tick(true, tickBytes)
	if ev := feedN(m, false, 39); ev != silenceWarn {
		t.Fatalf("expected warn, got %d", ev)
	}
}
