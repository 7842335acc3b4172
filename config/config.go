// Package config resolves daemon settings from flags, the environment and an
// optional .env file, in that order of precedence.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"callcoach/audio"
	"callcoach/conversation"
	"callcoach/suggest"

	"github.com/joho/godotenv"
)

const DefaultAddr = "localhost:8765"

type Config struct {
	Addr    string
	LogPath string
	Verbose bool
	Doctor  bool
	Version bool
	Profile string

	DeepgramKey   string
	DeepgramModel string
	Language      string
	EndpointingMs int

	GeminiKey   string
	GeminiModel string

	Device        string
	Gain          int
	FrameDuration time.Duration
	// TestAudio replays a WAV file instead of opening a capture device.
	TestAudio string

	Window      time.Duration
	SpeakerRule bool

	MaxSuggestions    int
	SuggestTimeout    time.Duration
	Cooldown          time.Duration
	MinTextLen        int
	ContextUtterances int

	PlaybookPath string
	Playbook     suggest.Playbook
}

// TriggerPhrases returns the playbook override or the default list.
func (c Config) TriggerPhrases() []string {
	if len(c.Playbook.TriggerPhrases) > 0 {
		return c.Playbook.TriggerPhrases
	}
	return conversation.DefaultTriggerPhrases
}

// Load reads .env from the working directory when present, then the
// environment, then args.
func Load(args []string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("loading .env: %w", err)
	}

	env := &envReader{}
	var cfg Config
	flags := newFlagSet(&cfg, env)
	cfg.DeepgramKey = env.str("DEEPGRAM_API_KEY", "")
	cfg.GeminiKey = env.str("GEMINI_API_KEY", env.str("GOOGLE_API_KEY", ""))

	if env.err != nil {
		return Config{}, env.err
	}
	if err := flags.Parse(args); err != nil {
		return Config{}, err
	}

	cfg.Playbook = suggest.DefaultPlaybook()
	if cfg.PlaybookPath != "" {
		p, err := suggest.LoadPlaybook(cfg.PlaybookPath)
		if err != nil {
			return Config{}, err
		}
		cfg.Playbook = p
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Usage prints the flag list with the defaults the current environment
// would give.
func Usage(w io.Writer) {
	var cfg Config
	flags := newFlagSet(&cfg, &envReader{})
	flags.SetOutput(w)
	fmt.Fprintln(w, "Usage: callcoach [flags]")
	flags.PrintDefaults()
}

func newFlagSet(cfg *Config, env *envReader) *flag.FlagSet {
	flags := flag.NewFlagSet("callcoach", flag.ContinueOnError)
	flags.SetOutput(io.Discard)
	flags.StringVar(&cfg.Addr, "addr", env.str("CALLCOACH_ADDR", DefaultAddr), "listen address for the session protocol")
	flags.StringVar(&cfg.LogPath, "logpath", "", "diagnostics log directory")
	flags.BoolVar(&cfg.Verbose, "verbose", env.bool("CALLCOACH_VERBOSE", false), "mirror diagnostics to stderr")
	flags.BoolVar(&cfg.Doctor, "doctor", false, "run preflight checks and exit")
	flags.BoolVar(&cfg.Version, "version", false, "print version and exit")
	flags.StringVar(&cfg.Profile, "profile", "", "serve pprof on this address")

	flags.StringVar(&cfg.DeepgramModel, "model", env.str("DEEPGRAM_MODEL", "nova-3"), "transcription model")
	flags.StringVar(&cfg.Language, "lang", env.str("TRANSCRIPTION_LANGUAGE", "en"), "transcription language")
	flags.IntVar(&cfg.EndpointingMs, "endpointing", env.int("DEEPGRAM_ENDPOINTING_MS", 300), "silence in ms that ends a segment")
	flags.StringVar(&cfg.GeminiModel, "llm", env.str("GEMINI_MODEL", suggest.DefaultGeminiModel), "suggestion model")

	flags.StringVar(&cfg.Device, "device", env.str("AUDIO_DEVICE", ""), "capture device name (substring match)")
	flags.IntVar(&cfg.Gain, "gain", env.int("AUDIO_GAIN", 1), "capture gain multiplier")
	flags.DurationVar(&cfg.FrameDuration, "frame", env.dur("AUDIO_FRAME", audio.DefaultFrameDuration), "audio frame duration")
	flags.StringVar(&cfg.TestAudio, "test-audio", "", "replay this WAV file in real time instead of capturing")

	flags.DurationVar(&cfg.Window, "window", env.dur("CONTEXT_WINDOW", conversation.DefaultWindow), "conversation window")
	flags.BoolVar(&cfg.SpeakerRule, "trigger-on-prospect", env.bool("TRIGGER_ON_PROSPECT", true), "suggest on every prospect turn")

	flags.IntVar(&cfg.MaxSuggestions, "max-suggestions", env.int("MAX_SUGGESTIONS", suggest.DefaultMaxItems), "suggestions per batch")
	flags.DurationVar(&cfg.SuggestTimeout, "suggest-timeout", env.dur("SUGGEST_TIMEOUT", suggest.DefaultTimeout), "suggestion request timeout")
	flags.DurationVar(&cfg.Cooldown, "cooldown", env.dur("SUGGEST_COOLDOWN", 0), "minimum time between suggestion requests")
	flags.IntVar(&cfg.MinTextLen, "min-chars", env.int("SUGGEST_MIN_CHARS", 0), "shortest statement that can trigger")
	flags.IntVar(&cfg.ContextUtterances, "context-utterances", env.int("CONTEXT_UTTERANCES", 0), "utterances sent as context, 0 for the whole window")

	flags.StringVar(&cfg.PlaybookPath, "playbook", env.str("PLAYBOOK_PATH", ""), "playbook YAML file")
	return flags
}

func (c Config) validate() error {
	var errs []error
	if c.MaxSuggestions < 1 {
		errs = append(errs, fmt.Errorf("max suggestions must be at least 1, got %d", c.MaxSuggestions))
	}
	if c.Window <= 0 {
		errs = append(errs, fmt.Errorf("conversation window must be positive, got %v", c.Window))
	}
	if c.FrameDuration < 20*time.Millisecond || c.FrameDuration > time.Second {
		errs = append(errs, fmt.Errorf("audio frame must be between 20ms and 1s, got %v", c.FrameDuration))
	}
	if c.Gain < 1 {
		errs = append(errs, fmt.Errorf("gain must be at least 1, got %d", c.Gain))
	}
	return errors.Join(errs...)
}

// Warnings lists settings that leave part of the pipeline unusable.
func (c Config) Warnings() []string {
	var w []string
	if c.DeepgramKey == "" {
		w = append(w, "DEEPGRAM_API_KEY not set - start_listening will fail")
	}
	if c.GeminiKey == "" {
		w = append(w, "GEMINI_API_KEY not set - suggestions are disabled")
	}
	return w
}

type envReader struct {
	err error
}

func (e *envReader) fail(key string, err error) {
	e.err = errors.Join(e.err, fmt.Errorf("%s: %w", key, err))
}

func (e *envReader) str(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func (e *envReader) int(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.fail(key, err)
		return def
	}
	return n
}

func (e *envReader) bool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.fail(key, err)
		return def
	}
	return b
}

// dur accepts a Go duration or a bare number of seconds.
func (e *envReader) dur(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.fail(key, err)
		return def
	}
	return d
}
