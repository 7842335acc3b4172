package conversation

import (
	"strings"
	"time"
)

type Speaker string

const (
	SpeakerSalesperson Speaker = "salesperson"
	SpeakerProspect    Speaker = "prospect"
	SpeakerUnknown     Speaker = "unknown"
)

// SpeakerFromIndex maps a diarization index to a role. On a loopback capture
// the remote party is heard first, so index 0 is the prospect.
func SpeakerFromIndex(i int) Speaker {
	switch {
	case i < 0:
		return SpeakerUnknown
	case i == 0:
		return SpeakerProspect
	default:
		return SpeakerSalesperson
	}
}

func ParseSpeaker(s string) Speaker {
	switch Speaker(strings.ToLower(strings.TrimSpace(s))) {
	case SpeakerSalesperson:
		return SpeakerSalesperson
	case SpeakerProspect:
		return SpeakerProspect
	default:
		return SpeakerUnknown
	}
}

type Utterance struct {
	Speaker   Speaker
	Text      string
	IsFinal   bool
	Timestamp time.Time
}

func (u Utterance) String() string {
	return string(u.Speaker) + ": " + u.Text
}
