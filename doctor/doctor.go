// Package doctor runs preflight checks for a call: credentials, the capture
// device and its signal, and both remote services.
package doctor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"callcoach/audio"
	"callcoach/config"
	"callcoach/suggest"
	"callcoach/transcriber"

	"golang.org/x/term"
)

const defaultCaptureFor = 3 * time.Second

type deps struct {
	out        io.Writer
	audio      audio.Context
	dial       transcriber.Dialer
	suggester  suggest.Service
	captureFor time.Duration
	// prompt waits for the user before capturing; nil skips it.
	prompt func(msg string)
}

// Run executes the checks and returns an exit code (0=all pass, 1=any fail).
func Run(cfg config.Config) int {
	resetTerminal()
	setupInterruptHandler()

	d := deps{out: os.Stdout, captureFor: defaultCaptureFor}
	if cfg.TestAudio != "" {
		fake, err := audio.NewFakeContextFromWAV(cfg.TestAudio, true)
		if err != nil {
			fmt.Printf("cannot read %s: %v\n", cfg.TestAudio, err)
			return 1
		}
		d.audio = fake
	} else if ctx, err := audio.NewContext(); err == nil {
		d.audio = ctx
		defer ctx.Close()
	} else {
		fmt.Printf("audio unavailable: %v\n", err)
	}
	if cfg.DeepgramKey != "" {
		dg := transcriber.NewDeepgram(cfg.DeepgramKey, transcriber.StreamConfig{
			SampleRate:    audio.SampleRate,
			Channels:      audio.Channels,
			Language:      cfg.Language,
			Model:         cfg.DeepgramModel,
			EndpointingMs: cfg.EndpointingMs,
			Diarize:       true,
		})
		d.dial = dg.Dial
	}
	if cfg.GeminiKey != "" {
		g, err := suggest.NewGemini(context.Background(), suggest.GeminiConfig{APIKey: cfg.GeminiKey, Model: cfg.GeminiModel})
		if err == nil {
			d.suggester = g
		}
	}
	if term.IsTerminal(int(os.Stdin.Fd())) {
		d.prompt = func(msg string) {
			fmt.Print(msg)
			var discard string
			fmt.Scanln(&discard)
		}
	}
	return run(cfg, d)
}

func run(cfg config.Config, d deps) int {
	fmt.Fprintln(d.out, "callcoach doctor - preflight checks")
	fmt.Fprintln(d.out, "===================================")

	checks := []struct {
		name string
		fn   func(config.Config, deps) bool
	}{
		{"Credentials", checkCredentials},
		{"Capture device", checkCapture},
		{"Transcription service", checkTranscription},
		{"Suggestion service", checkSuggestions},
	}
	allPass := true
	for i, c := range checks {
		fmt.Fprintln(d.out)
		fmt.Fprintf(d.out, "[%d/%d] %s\n", i+1, len(checks), c.name)
		if !c.fn(cfg, d) {
			allPass = false
		}
	}

	fmt.Fprintln(d.out)
	if allPass {
		fmt.Fprintln(d.out, "All checks passed!")
		return 0
	}
	fmt.Fprintln(d.out, "Some checks failed. See details above.")
	return 1
}

func checkCredentials(cfg config.Config, d deps) bool {
	ok := true
	if cfg.DeepgramKey == "" {
		fmt.Fprintln(d.out, "  FAIL: DEEPGRAM_API_KEY is not set")
		ok = false
	} else {
		fmt.Fprintf(d.out, "  PASS: DEEPGRAM_API_KEY set (%s)\n", mask(cfg.DeepgramKey))
	}
	if cfg.GeminiKey == "" {
		fmt.Fprintln(d.out, "  WARN: GEMINI_API_KEY is not set, suggestions will be disabled")
	} else {
		fmt.Fprintf(d.out, "  PASS: GEMINI_API_KEY set (%s)\n", mask(cfg.GeminiKey))
	}
	return ok
}

func checkCapture(cfg config.Config, d deps) bool {
	if d.audio == nil {
		fmt.Fprintln(d.out, "  FAIL: no audio backend")
		return false
	}
	devices, err := d.audio.Devices()
	if err != nil {
		fmt.Fprintf(d.out, "  FAIL: cannot list devices: %v\n", err)
		return false
	}
	for _, dev := range devices {
		fmt.Fprintf(d.out, "  - %s\n", dev.Name)
	}
	dev, err := audio.FindDevice(d.audio, cfg.Device)
	if err != nil {
		fmt.Fprintf(d.out, "  FAIL: %v\n", err)
		return false
	}
	name := "system default"
	if dev != nil {
		name = dev.Name
	}
	fmt.Fprintf(d.out, "  Using: %s\n", name)

	if d.prompt != nil {
		d.prompt("  Play some call audio (or speak), then press Enter...")
	}

	pcm, err := capture(d.audio, cfg, d.captureFor)
	if err != nil {
		fmt.Fprintf(d.out, "  FAIL: %v\n", err)
		return false
	}
	if len(pcm) == 0 {
		fmt.Fprintln(d.out, "  FAIL: no audio captured")
		return false
	}

	var level audio.Level
	meter, err := audio.NewMeter(audio.MeterConfig{
		Every:   time.Duration(len(pcm)) * time.Second / audio.BytesPerSecond,
		OnLevel: func(l audio.Level) { level = l },
	})
	if err != nil {
		fmt.Fprintf(d.out, "  WARN: voice activity detection unavailable: %v\n", err)
	}
	meter.Process(pcm)

	fmt.Fprintf(d.out, "  Captured %.1fs, rms=%.3f peak=%.3f speech=%.0f%%\n",
		float64(len(pcm))/audio.BytesPerSecond, level.RMS, level.Peak, level.Speech*100)
	if !level.HasAudio {
		fmt.Fprintln(d.out, "  WARN: signal is silent, check that call audio reaches this device")
		return true
	}
	fmt.Fprintln(d.out, "  PASS: audio signal present")
	return true
}

// capture collects frames from a Source for the given wall-clock time.
func capture(ctx audio.Context, cfg config.Config, dur time.Duration) ([]byte, error) {
	src := audio.NewSource(ctx, audio.SourceConfig{
		Device:        cfg.Device,
		FrameDuration: cfg.FrameDuration,
		Gain:          cfg.Gain,
	})
	if err := src.Start(); err != nil {
		return nil, err
	}
	defer src.Stop()

	var pcm []byte
	timer := time.NewTimer(dur)
	defer timer.Stop()
	for {
		select {
		case f := <-src.Frames():
			pcm = append(pcm, f...)
		case <-timer.C:
			return pcm, nil
		}
	}
}

func checkTranscription(_ config.Config, d deps) bool {
	if d.dial == nil {
		fmt.Fprintln(d.out, "  SKIP: no transcription key")
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	start := time.Now()
	stream, err := d.dial(ctx)
	if err != nil {
		if errors.Is(err, transcriber.ErrAuthentication) {
			fmt.Fprintln(d.out, "  FAIL: key rejected by the transcription service")
		} else {
			fmt.Fprintf(d.out, "  FAIL: %v\n", err)
		}
		return false
	}
	stream.CloseSend()
	stream.Close()
	fmt.Fprintf(d.out, "  PASS: stream opened in %dms\n", time.Since(start).Milliseconds())
	return true
}

func checkSuggestions(cfg config.Config, d deps) bool {
	if d.suggester == nil {
		fmt.Fprintln(d.out, "  SKIP: no suggestion key")
		return true
	}
	timeout := cfg.SuggestTimeout
	if timeout <= 0 {
		timeout = suggest.DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	start := time.Now()
	items, err := d.suggester.Suggest(ctx, suggest.Request{
		ConversationContext: "prospect: Honestly this looks too expensive for us.",
		LastStatement:       "Honestly this looks too expensive for us.",
		Playbook:            cfg.Playbook,
	})
	if err != nil {
		fmt.Fprintf(d.out, "  FAIL: %v\n", err)
		return false
	}
	if len(items) == 0 {
		fmt.Fprintln(d.out, "  FAIL: service returned no suggestions")
		return false
	}
	fmt.Fprintf(d.out, "  PASS: %d suggestions in %dms\n", len(items), time.Since(start).Milliseconds())
	for _, it := range items {
		fmt.Fprintf(d.out, "    - %s\n", it)
	}
	return true
}

func mask(key string) string {
	if len(key) <= 8 {
		return strings.Repeat("*", len(key))
	}
	return key[:4] + strings.Repeat("*", len(key)-8) + key[len(key)-4:]
}
