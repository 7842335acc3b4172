package transcriber

import (
	"context"
	"strings"
)

const deepgramStreamURL = "wss://api.deepgram.com/v1/listen"

type StreamConfig struct {
	SampleRate int
	Channels   int
	Language   string
	Model      string
	// EndpointingMs is the silence that closes a segment.
	EndpointingMs int
	Diarize       bool
	// URL overrides the live endpoint, used by tests.
	URL string
}

type Deepgram struct {
	apiKey string
	cfg    StreamConfig
}

func NewDeepgram(apiKey string, cfg StreamConfig) *Deepgram {
	if cfg.URL == "" {
		cfg.URL = deepgramStreamURL
	}
	if cfg.Model == "" {
		cfg.Model = "nova-3"
	}
	return &Deepgram{apiKey: strings.TrimSpace(apiKey), cfg: cfg}
}

func (d *Deepgram) Name() string { return "deepgram" }

// Dial opens a live stream. A missing key or a rejected handshake is
// reported as a non-retryable error.
func (d *Deepgram) Dial(ctx context.Context) (Stream, error) {
	if d.apiKey == "" {
		return nil, ErrMissingCredentials
	}
	return d.startStream(ctx, d.cfg)
}
