package main

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"callcoach/protocol"

	"github.com/charmbracelet/lipgloss"
)

var speakerStyle = map[string]lipgloss.Style{
	"prospect":    lipgloss.NewStyle().Foreground(lipgloss.Color("208")).Bold(true),
	"salesperson": lipgloss.NewStyle().Foreground(lipgloss.Color("4")).Bold(true),
}

var suggestionBox = lipgloss.NewStyle().
	Border(lipgloss.RoundedBorder()).
	BorderForeground(lipgloss.Color("42")).
	Padding(0, 1)

var (
	unknownSpeaker  = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	interimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Italic(true)
	suggestionTitle = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	statusStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("246"))
	errorStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	dimStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("239"))
)

// printer serializes output from the read loop and the prompt.
type printer struct {
	mu    sync.Mutex
	out   io.Writer
	plain bool
}

func (p *printer) render(s lipgloss.Style, text string) string {
	if p.plain {
		return text
	}
	return s.Render(text)
}

func (p *printer) println(line string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.out, line)
}

func (p *printer) transcript(t protocol.Transcript) string {
	label := fmt.Sprintf("%-11s", t.Speaker)
	style, ok := speakerStyle[t.Speaker]
	if !ok {
		style = unknownSpeaker
	}
	if !t.IsFinal {
		return p.render(interimStyle, label+" ... "+t.Text)
	}
	return p.render(style, label) + " " + t.Text
}

func (p *printer) suggestions(items []string) string {
	if len(items) == 0 {
		return p.render(dimStyle, "(no suggestions)")
	}
	var sb strings.Builder
	sb.WriteString(p.render(suggestionTitle, "Suggestions"))
	for i, item := range items {
		fmt.Fprintf(&sb, "\n%d. %s", i+1, item)
	}
	if p.plain {
		return sb.String()
	}
	return suggestionBox.Render(sb.String())
}

func (p *printer) status(st protocol.Status) string {
	return p.render(statusStyle, fmt.Sprintf("[server %s | %s | %s]",
		onOff(st.Connected, "connected", "disconnected"),
		onOff(st.Listening, "listening", "idle"),
		onOff(st.Transcribing, "transcribing", "no transcript yet")))
}

func (p *printer) errLine(msg string) string {
	return p.render(errorStyle, "error: "+msg)
}

func (p *printer) level(l protocol.AudioLevel) string {
	line := "level " + levelBar(l.Level, 20)
	if !l.HasAudio {
		line += " (silent)"
	}
	return p.render(dimStyle, line)
}

func onOff(v bool, on, off string) string {
	if v {
		return on
	}
	return off
}

// levelBar draws an RMS level on a log-ish scale so speech fills most of
// the bar.
func levelBar(level float64, width int) string {
	if level < 0 {
		level = 0
	}
	scaled := level * 5
	if scaled > 1 {
		scaled = 1
	}
	n := int(scaled*float64(width) + 0.5)
	return "[" + strings.Repeat("#", n) + strings.Repeat(" ", width-n) + "]"
}
