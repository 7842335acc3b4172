// Package suggest turns trigger decisions into short response suggestions.
package suggest

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"callcoach/conversation"
)

var ErrMissingCredentials = errors.New("suggestion credentials not configured")

const DefaultMaxItems = 3

// Request is what the suggestion service sees for one trigger.
type Request struct {
	ConversationContext string
	LastStatement       string
	Playbook            Playbook
}

type Service interface {
	Name() string
	Suggest(ctx context.Context, req Request) ([]string, error)
}

// Batch is one published set of suggestions. Batches are never modified
// after they are stored.
type Batch struct {
	Items      []string
	ProducedAt time.Time
	Source     conversation.Utterance
}

var numberedLine = regexp.MustCompile(`^\s*(\d+)[.):\-]\s*(.+)$`)

// ParseSuggestions extracts numbered items from a model reply, keeping the
// reply's order. Lines without a number are used only when no numbered
// line exists.
func ParseSuggestions(text string) []string {
	var numbered, plain []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if m := numberedLine.FindStringSubmatch(line); m != nil {
			if s := cleanItem(m[2]); len(s) > 5 {
				numbered = append(numbered, s)
			}
			continue
		}
		line = strings.TrimLeft(line, "-* ")
		if s := cleanItem(line); len(s) > 5 && !strings.HasSuffix(s, ":") {
			plain = append(plain, s)
		}
	}
	if len(numbered) > 0 {
		return numbered
	}
	return plain
}

func cleanItem(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && (s[0] == '"' && s[len(s)-1] == '"' || s[0] == '\'' && s[len(s)-1] == '\'') {
		s = s[1 : len(s)-1]
	}
	return strings.TrimSpace(strings.Trim(s, `"'`))
}

// capItems drops blank items and keeps at most limit of the rest, in order.
func capItems(items []string, limit int) []string {
	out := make([]string, 0, min(len(items), limit))
	for _, it := range items {
		it = strings.TrimSpace(it)
		if it == "" {
			continue
		}
		if len(out) == limit {
			break
		}
		out = append(out, it)
	}
	return out
}
