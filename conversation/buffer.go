package conversation

import (
	"sort"
	"strings"
	"sync"
	"time"

	"callcoach/log"
)

const DefaultWindow = 180 * time.Second

// triggerLookback is how many trailing utterances the phrase rule scans.
const triggerLookback = 3

var DefaultTriggerPhrases = []string{
	"too expensive",
	"not sure",
	"competitor",
	"think about it",
	"not the right time",
	"budget",
}

type Config struct {
	Window         time.Duration
	TriggerPhrases []string
	// DisableSpeakerRule turns off firing on every prospect turn, leaving
	// only phrase matches.
	DisableSpeakerRule bool
	Now                func() time.Time
}

// Buffer is the time-bounded conversation history. All reads and writes go
// through one mutex so readers always see a pruned, ordered window.
type Buffer struct {
	mu       sync.Mutex
	items    []Utterance
	window   time.Duration
	phrases  []string
	speakers bool
	now      func() time.Time
}

func NewBuffer(cfg Config) *Buffer {
	b := &Buffer{
		window:   cfg.Window,
		speakers: !cfg.DisableSpeakerRule,
		now:      cfg.Now,
	}
	if b.window <= 0 {
		b.window = DefaultWindow
	}
	if b.now == nil {
		b.now = time.Now
	}
	phrases := cfg.TriggerPhrases
	if phrases == nil {
		phrases = DefaultTriggerPhrases
	}
	for _, p := range phrases {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" {
			b.phrases = append(b.phrases, p)
		}
	}
	return b
}

// Append adds a final utterance to the window. Interim and empty utterances
// are rejected and false is returned.
func (b *Buffer) Append(u Utterance) bool {
	if !u.IsFinal {
		log.Debugf("buffer: ignoring interim utterance from %s", u.Speaker)
		return false
	}
	u.Text = strings.TrimSpace(u.Text)
	if u.Text == "" {
		return false
	}
	if u.Timestamp.IsZero() {
		u.Timestamp = b.now()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	// first index strictly after u keeps equal timestamps in arrival order
	i := sort.Search(len(b.items), func(i int) bool {
		return b.items[i].Timestamp.After(u.Timestamp)
	})
	b.items = append(b.items, Utterance{})
	copy(b.items[i+1:], b.items[i:])
	b.items[i] = u

	b.pruneLocked()
	return true
}

func (b *Buffer) pruneLocked() {
	cutoff := b.now().Add(-b.window)
	n := 0
	for n < len(b.items) && b.items[n].Timestamp.Before(cutoff) {
		n++
	}
	if n == 0 {
		return
	}
	b.items = append(b.items[:0:0], b.items[n:]...)
}

// Snapshot renders the current window as "speaker: text" lines, oldest first.
func (b *Buffer) Snapshot() string {
	return b.SnapshotLast(0)
}

// SnapshotLast renders only the last n utterances of the window. n <= 0
// renders all of them.
func (b *Buffer) SnapshotLast(n int) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pruneLocked()

	items := b.items
	if n > 0 && len(items) > n {
		items = items[len(items)-n:]
	}
	var sb strings.Builder
	for i, u := range items {
		if i > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(u.String())
	}
	return sb.String()
}

// Utterances returns a copy of the pruned window.
func (b *Buffer) Utterances() []Utterance {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pruneLocked()
	out := make([]Utterance, len(b.items))
	copy(out, b.items)
	return out
}

// LastFrom returns the most recent utterance by sp still inside the window.
func (b *Buffer) LastFrom(sp Speaker) (Utterance, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pruneLocked()
	for i := len(b.items) - 1; i >= 0; i-- {
		if b.items[i].Speaker == sp {
			return b.items[i], true
		}
	}
	return Utterance{}, false
}

func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pruneLocked()
	return len(b.items)
}

func (b *Buffer) Clear() {
	b.mu.Lock()
	b.items = nil
	b.mu.Unlock()
}
