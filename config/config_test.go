package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// clearEnv unsets keys for the duration of the test.
func clearEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, k := range keys {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

var allKeys = []string{
	"CALLCOACH_ADDR", "CALLCOACH_VERBOSE", "DEEPGRAM_API_KEY", "DEEPGRAM_MODEL",
	"TRANSCRIPTION_LANGUAGE", "DEEPGRAM_ENDPOINTING_MS", "GEMINI_API_KEY", "GOOGLE_API_KEY",
	"GEMINI_MODEL", "AUDIO_DEVICE", "AUDIO_GAIN", "AUDIO_FRAME", "CONTEXT_WINDOW",
	"TRIGGER_ON_PROSPECT", "MAX_SUGGESTIONS", "SUGGEST_TIMEOUT", "SUGGEST_COOLDOWN",
	"SUGGEST_MIN_CHARS", "CONTEXT_UTTERANCES", "PLAYBOOK_PATH",
}

func setup(t *testing.T) {
	t.Helper()
	clearEnv(t, allKeys...)
	t.Chdir(t.TempDir())
}

func TestDefaults(t *testing.T) {
	setup(t)
	cfg, err := Load(nil)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Addr != DefaultAddr {
		t.Errorf("addr = %q", cfg.Addr)
	}
	if cfg.Window != 180*time.Second {
		t.Errorf("window = %v", cfg.Window)
	}
	if cfg.MaxSuggestions != 3 || cfg.FrameDuration != 200*time.Millisecond {
		t.Errorf("cfg = %+v", cfg)
	}
	if !cfg.SpeakerRule {
		t.Error("speaker rule should default on")
	}
	if len(cfg.TriggerPhrases()) != 6 {
		t.Errorf("phrases = %v", cfg.TriggerPhrases())
	}
	if len(cfg.Warnings()) != 2 {
		t.Errorf("warnings = %v", cfg.Warnings())
	}
}

func TestPrecedence(t *testing.T) {
	setup(t)
	if err := os.WriteFile(".env", []byte("MAX_SUGGESTIONS=2\nDEEPGRAM_API_KEY=from-dotenv\nCONTEXT_WINDOW=60\n"), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CONTEXT_WINDOW", "90s")
	t.Cleanup(func() { os.Unsetenv("MAX_SUGGESTIONS"); os.Unsetenv("DEEPGRAM_API_KEY") })

	cfg, err := Load([]string{"-max-suggestions", "1"})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.MaxSuggestions != 1 {
		t.Errorf("flag should win, got %d", cfg.MaxSuggestions)
	}
	if cfg.Window != 90*time.Second {
		t.Errorf("env should beat .env, got %v", cfg.Window)
	}
	if cfg.DeepgramKey != "from-dotenv" {
		t.Errorf(".env key not loaded, got %q", cfg.DeepgramKey)
	}
}

func TestGoogleKeyFallback(t *testing.T) {
	setup(t)
	t.Setenv("GOOGLE_API_KEY", "g-key")
	cfg, err := Load(nil)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.GeminiKey != "g-key" {
		t.Errorf("gemini key = %q", cfg.GeminiKey)
	}
}

func TestInvalidEnv(t *testing.T) {
	setup(t)
	t.Setenv("MAX_SUGGESTIONS", "lots")
	t.Setenv("SUGGEST_COOLDOWN", "soon")
	_, err := Load(nil)
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"MAX_SUGGESTIONS", "SUGGEST_COOLDOWN"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q missing %s", err, want)
		}
	}
}

func TestValidation(t *testing.T) {
	setup(t)
	if _, err := Load([]string{"-max-suggestions", "0"}); err == nil {
		t.Error("zero suggestions accepted")
	}
	if _, err := Load([]string{"-frame", "5ms"}); err == nil {
		t.Error("tiny frame accepted")
	}
	if _, err := Load([]string{"-bogus"}); err == nil {
		t.Error("unknown flag accepted")
	}
}

func TestPlaybookFromFile(t *testing.T) {
	setup(t)
	path := filepath.Join(t.TempDir(), "pb.yaml")
	os.WriteFile(path, []byte("trigger_phrases: [\"procurement\"]\n"), 0644)

	cfg, err := Load([]string{"-playbook", path})
	if err != nil {
		t.Fatal(err)
	}
	if p := cfg.TriggerPhrases(); len(p) != 1 || p[0] != "procurement" {
		t.Errorf("phrases = %v", p)
	}
	if cfg.Playbook.Product.Name == "" {
		t.Error("product should fall back to default")
	}
}
