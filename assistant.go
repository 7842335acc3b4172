package main

import (
	"context"
	"sync"
	"time"

	"callcoach/audio"
	"callcoach/conversation"
	"callcoach/log"
	"callcoach/suggest"
	"callcoach/transcriber"
)

// events is the part of the protocol server the pipeline reports to.
type events interface {
	PublishTranscript(text, speaker string, final bool)
	PublishSuggestions(items []string)
	PublishError(message string)
	PublishAudioLevel(level float64, hasAudio bool)
	MarkTranscribing()
	SetTranscribing(on bool)
	SetIdle()
}

type assistantConfig struct {
	Audio    audio.Context
	Dial     transcriber.Dialer
	Provider string
	// Suggester may be nil, which disables suggestions.
	Suggester suggest.Service
	Buffer    *conversation.Buffer

	Device        string
	FrameDuration time.Duration
	Gain          int
	LevelEvery    time.Duration
	SilenceAfter  time.Duration

	Playbook          suggest.Playbook
	MaxItems          int
	SuggestTimeout    time.Duration
	Cooldown          time.Duration
	MinTextLen        int
	ContextUtterances int
}

// assistant wires one listening session at a time: audio into the
// transcriber, finals into the buffer, triggers into the orchestrator and
// everything out to the protocol server.
type assistant struct {
	cfg    assistantConfig
	buffer *conversation.Buffer
	orch   *suggest.Orchestrator
	events events

	mu      sync.Mutex
	session *transcriber.Session
}

func newAssistant(cfg assistantConfig) *assistant {
	if cfg.Buffer == nil {
		cfg.Buffer = conversation.NewBuffer(conversation.Config{})
	}
	if cfg.SilenceAfter == 0 {
		cfg.SilenceAfter = 8 * time.Second
	}
	a := &assistant{cfg: cfg, buffer: cfg.Buffer}
	if cfg.Suggester != nil {
		a.orch = suggest.NewOrchestrator(suggest.OrchestratorConfig{
			Service:           cfg.Suggester,
			Context:           cfg.Buffer,
			Publisher:         a,
			Playbook:          cfg.Playbook,
			MaxItems:          cfg.MaxItems,
			Timeout:           cfg.SuggestTimeout,
			ContextUtterances: cfg.ContextUtterances,
			Cooldown:          cfg.Cooldown,
			MinTextLen:        cfg.MinTextLen,
		})
	}
	return a
}

func (a *assistant) StartListening(ctx context.Context) error {
	a.mu.Lock()
	if a.session != nil {
		a.mu.Unlock()
		return nil
	}

	meter, err := audio.NewMeter(audio.MeterConfig{
		Every:        a.cfg.LevelEvery,
		SilenceAfter: a.cfg.SilenceAfter,
		OnLevel: func(l audio.Level) {
			a.events.PublishAudioLevel(l.RMS, l.HasAudio)
		},
		OnSilence: func(silent bool) {
			if silent {
				log.Warn("no speech on the capture device")
				a.events.PublishError("No speech detected for a while - check that call audio reaches the capture device")
				return
			}
			log.Info("speech resumed on the capture device")
		},
	})
	if err != nil {
		log.Warnf("voice activity detection unavailable: %v", err)
	}
	src := audio.NewSource(a.cfg.Audio, audio.SourceConfig{
		Device:        a.cfg.Device,
		FrameDuration: a.cfg.FrameDuration,
		Gain:          a.cfg.Gain,
		Meter:         meter,
	})
	l := &sessionListener{a: a}
	sess := transcriber.NewSession(transcriber.Config{
		Dial:     a.cfg.Dial,
		Source:   src,
		Buffer:   a.buffer,
		Listener: l,
		Provider: a.cfg.Provider,
	})
	l.sess = sess
	a.session = sess
	a.mu.Unlock()

	if err := sess.Start(ctx); err != nil {
		a.mu.Lock()
		if a.session == sess {
			a.session = nil
		}
		a.mu.Unlock()
		return err
	}
	log.SessionStart(a.cfg.Provider, a.cfg.Device, audio.SampleRate)
	return nil
}

// StopListening ends the current session, clears the conversation and
// discards any suggestion still being generated. The session is detached
// before Stop so callbacks that arrive during teardown are ignored.
func (a *assistant) StopListening() error {
	a.mu.Lock()
	sess := a.session
	a.session = nil
	a.mu.Unlock()
	if sess == nil {
		return nil
	}
	sess.Stop()
	a.ClearBuffer()
	return nil
}

func (a *assistant) ClearBuffer() {
	a.buffer.Clear()
	if a.orch != nil {
		a.orch.Invalidate()
	}
}

func (a *assistant) Close() {
	a.StopListening()
	if a.orch != nil {
		a.orch.Close()
	}
}

func (a *assistant) current(s *transcriber.Session) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.session == s
}

func (a *assistant) PublishSuggestions(b suggest.Batch) {
	a.events.PublishSuggestions(b.Items)
}

func (a *assistant) PublishError(msg string) {
	a.events.PublishError(msg)
}

type sessionListener struct {
	a    *assistant
	sess *transcriber.Session
}

func (l *sessionListener) OnUtterance(u conversation.Utterance) {
	if !l.a.current(l.sess) {
		return
	}
	l.a.events.MarkTranscribing()
	l.a.events.PublishTranscript(u.Text, string(u.Speaker), u.IsFinal)
	if u.IsFinal && l.a.orch != nil {
		l.a.orch.Trigger(l.a.buffer.EvaluateTrigger(u))
	}
}

func (l *sessionListener) OnState(st transcriber.State) {
	log.Debugf("transcription session %s", st)
}

func (l *sessionListener) OnFailure(f *transcriber.Failure) {
	if !l.a.current(l.sess) {
		return
	}
	l.a.events.PublishError(f.Error())
	if f.Retryable {
		l.a.events.SetTranscribing(false)
		return
	}

	l.a.mu.Lock()
	if l.a.session == l.sess {
		l.a.session = nil
	}
	l.a.mu.Unlock()
	l.a.events.SetIdle()
	// called from the session's own loop, which Stop waits for
	go l.sess.Stop()
}
