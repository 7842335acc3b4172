package conversation

import (
	"math/rand"
	"strings"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func final(s Speaker, text string, ts time.Time) Utterance {
	return Utterance{Speaker: s, Text: text, IsFinal: true, Timestamp: ts}
}

func TestAppendRejectsInterim(t *testing.T) {
	b := NewBuffer(Config{})
	if b.Append(Utterance{Speaker: SpeakerProspect, Text: "hello", IsFinal: false}) {
		t.Fatal("interim utterance was accepted")
	}
	if b.Len() != 0 {
		t.Fatalf("len = %d, want 0", b.Len())
	}
}

func TestAppendRejectsEmpty(t *testing.T) {
	b := NewBuffer(Config{})
	if b.Append(Utterance{Speaker: SpeakerProspect, Text: "   ", IsFinal: true}) {
		t.Fatal("empty utterance was accepted")
	}
}

func TestSnapshotFormat(t *testing.T) {
	clk := newClock()
	b := NewBuffer(Config{Now: clk.Now})
	b.Append(final(SpeakerSalesperson, "How is the rollout going?", clk.Now()))
	clk.Advance(time.Second)
	b.Append(final(SpeakerProspect, "Slow, honestly.", clk.Now()))

	want := "salesperson: How is the rollout going?\nprospect: Slow, honestly."
	if got := b.Snapshot(); got != want {
		t.Fatalf("snapshot = %q, want %q", got, want)
	}
	if got := b.SnapshotLast(1); got != "prospect: Slow, honestly." {
		t.Fatalf("last 1 = %q", got)
	}
}

func TestLenAndLastFromPrune(t *testing.T) {
	clk := newClock()
	b := NewBuffer(Config{Window: 10 * time.Second, Now: clk.Now})
	b.Append(final(SpeakerProspect, "we use a competitor", clk.Now()))
	clk.Advance(5 * time.Second)
	b.Append(final(SpeakerSalesperson, "which one?", clk.Now()))

	if u, ok := b.LastFrom(SpeakerProspect); !ok || u.Text != "we use a competitor" {
		t.Fatalf("LastFrom = %+v, %v", u, ok)
	}

	clk.Advance(6 * time.Second)
	if n := b.Len(); n != 1 {
		t.Fatalf("len = %d after expiry, want 1", n)
	}
	if u, ok := b.LastFrom(SpeakerProspect); ok {
		t.Fatalf("LastFrom returned expired %+v", u)
	}
}

func TestAppendInsertsInTimestampOrder(t *testing.T) {
	clk := newClock()
	b := NewBuffer(Config{Now: clk.Now})
	base := clk.Now()
	b.Append(final(SpeakerProspect, "third", base.Add(3*time.Second)))
	b.Append(final(SpeakerProspect, "first", base.Add(1*time.Second)))
	b.Append(final(SpeakerProspect, "second", base.Add(2*time.Second)))
	b.Append(final(SpeakerProspect, "second-b", base.Add(2*time.Second)))
	clk.Advance(5 * time.Second)

	var got []string
	for _, u := range b.Utterances() {
		got = append(got, u.Text)
	}
	want := "first second second-b third"
	if strings.Join(got, " ") != want {
		t.Fatalf("order = %v, want %s", got, want)
	}
}

func TestPruneDropsOld(t *testing.T) {
	clk := newClock()
	b := NewBuffer(Config{Window: 10 * time.Second, Now: clk.Now})
	b.Append(final(SpeakerProspect, "old", clk.Now()))
	clk.Advance(11 * time.Second)
	b.Append(final(SpeakerProspect, "new", clk.Now()))

	if got := b.Snapshot(); got != "prospect: new" {
		t.Fatalf("snapshot = %q", got)
	}
}

func TestWindowInvariant(t *testing.T) {
	clk := newClock()
	window := 30 * time.Second
	b := NewBuffer(Config{Window: window, Now: clk.Now})
	rng := rand.New(rand.NewSource(7))

	for i := 0; i < 500; i++ {
		clk.Advance(time.Duration(rng.Intn(3000)) * time.Millisecond)
		// timestamps jitter backwards a little to exercise ordered insert
		ts := clk.Now().Add(-time.Duration(rng.Intn(2000)) * time.Millisecond)
		b.Append(final(SpeakerFromIndex(rng.Intn(2)), "words", ts))

		items := b.Utterances()
		cutoff := clk.Now().Add(-window)
		for j, u := range items {
			if u.Timestamp.Before(cutoff) {
				t.Fatalf("step %d: entry %d at %v older than cutoff %v", i, j, u.Timestamp, cutoff)
			}
			if j > 0 && u.Timestamp.Before(items[j-1].Timestamp) {
				t.Fatalf("step %d: entry %d out of order", i, j)
			}
		}
	}
}

func TestConcurrentAppendAndSnapshot(t *testing.T) {
	b := NewBuffer(Config{})
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				b.Append(Utterance{Speaker: SpeakerProspect, Text: "line", IsFinal: true})
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			for _, line := range strings.Split(b.Snapshot(), "\n") {
				if line != "" && line != "prospect: line" {
					t.Errorf("torn line %q", line)
					return
				}
			}
		}
	}()
	wg.Wait()
	if b.Len() != 800 {
		t.Fatalf("len = %d, want 800", b.Len())
	}
}

func TestClear(t *testing.T) {
	b := NewBuffer(Config{})
	b.Append(Utterance{Speaker: SpeakerProspect, Text: "x y z", IsFinal: true})
	b.Clear()
	if b.Snapshot() != "" {
		t.Fatal("expected empty snapshot after clear")
	}
}

func TestSpeakerFromIndex(t *testing.T) {
	if SpeakerFromIndex(0) != SpeakerProspect {
		t.Error("index 0 should be prospect")
	}
	if SpeakerFromIndex(1) != SpeakerSalesperson || SpeakerFromIndex(3) != SpeakerSalesperson {
		t.Error("index >= 1 should be salesperson")
	}
	if SpeakerFromIndex(-1) != SpeakerUnknown {
		t.Error("negative index should be unknown")
	}
	if ParseSpeaker(" Prospect ") != SpeakerProspect || ParseSpeaker("bob") != SpeakerUnknown {
		t.Error("ParseSpeaker mismatch")
	}
}
