package conversation

import "strings"

type TriggerReason string

const (
	ReasonNone    TriggerReason = ""
	ReasonSpeaker TriggerReason = "speaker"
	ReasonPhrase  TriggerReason = "phrase"
)

type TriggerDecision struct {
	Fire      bool
	Reason    TriggerReason
	Phrase    string
	Utterance Utterance
}

// EvaluateTrigger decides whether u warrants a suggestion. It fires on any
// prospect turn, or when the last three buffered utterances contain a
// trigger phrase.
func (b *Buffer) EvaluateTrigger(u Utterance) TriggerDecision {
	d := TriggerDecision{Utterance: u}
	if b.speakers && u.Speaker == SpeakerProspect {
		d.Fire = true
		d.Reason = ReasonSpeaker
		return d
	}

	recent := b.recentText(triggerLookback)
	for _, p := range b.phrases {
		if strings.Contains(recent, p) {
			d.Fire = true
			d.Reason = ReasonPhrase
			d.Phrase = p
			return d
		}
	}
	return d
}

func (b *Buffer) recentText(n int) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pruneLocked()
	items := b.items
	if len(items) > n {
		items = items[len(items)-n:]
	}
	parts := make([]string, len(items))
	for i, u := range items {
		parts[i] = u.Text
	}
	return strings.ToLower(strings.Join(parts, " "))
}
