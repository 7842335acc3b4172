package transcriber

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"nhooyr.io/websocket"
)

type deepgramStreamResponse struct {
	Type        string `json:"type"`
	IsFinal     bool   `json:"is_final"`
	SpeechFinal bool   `json:"speech_final"`
	Channel     struct {
		Alternatives []struct {
			Transcript string `json:"transcript"`
			Words      []struct {
				Word    string `json:"word"`
				Speaker *int   `json:"speaker"`
			} `json:"words"`
		} `json:"alternatives"`
	} `json:"channel"`
}

type deepgramStreamSession struct {
	conn   *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc
}

func streamURL(cfg StreamConfig) (string, error) {
	endpoint, err := url.Parse(cfg.URL)
	if err != nil {
		return "", err
	}

	q := endpoint.Query()
	q.Set("model", cfg.Model)
	q.Set("encoding", "linear16")
	if cfg.SampleRate > 0 {
		q.Set("sample_rate", strconv.Itoa(cfg.SampleRate))
	}
	if cfg.Channels > 0 {
		q.Set("channels", strconv.Itoa(cfg.Channels))
	}
	if cfg.Language != "" {
		q.Set("language", cfg.Language)
	}
	q.Set("punctuate", "true")
	q.Set("smart_format", "true")
	q.Set("interim_results", "true")
	if cfg.EndpointingMs > 0 {
		q.Set("endpointing", strconv.Itoa(cfg.EndpointingMs))
	}
	if cfg.Diarize {
		q.Set("diarize", "true")
	}
	endpoint.RawQuery = q.Encode()
	return endpoint.String(), nil
}

func (d *Deepgram) startStream(ctx context.Context, cfg StreamConfig) (Stream, error) {
	target, err := streamURL(cfg)
	if err != nil {
		return nil, err
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+d.apiKey)

	conn, resp, err := websocket.Dial(ctx, target, &websocket.DialOptions{HTTPHeader: headers})
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, fmt.Errorf("%w: deepgram handshake returned %d", ErrAuthentication, resp.StatusCode)
		}
		return nil, fmt.Errorf("deepgram dial: %w", err)
	}
	conn.SetReadLimit(1 << 20)

	// the stream outlives the dial deadline
	streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	return &deepgramStreamSession{conn: conn, ctx: streamCtx, cancel: cancel}, nil
}

func (s *deepgramStreamSession) Send(pcm []byte) error {
	return s.conn.Write(s.ctx, websocket.MessageBinary, pcm)
}

func (s *deepgramStreamSession) CloseSend() error {
	msg := []byte(`{"type":"CloseStream"}`)
	return s.conn.Write(s.ctx, websocket.MessageText, msg)
}

func (s *deepgramStreamSession) Recv() (Update, error) {
	for {
		_, data, err := s.conn.Read(s.ctx)
		if err != nil {
			// Deepgram closes with 1008 when the key is revoked mid-stream
			if websocket.CloseStatus(err) == websocket.StatusPolicyViolation {
				return Update{}, fmt.Errorf("%w: deepgram closed the stream: %v", ErrAuthentication, err)
			}
			return Update{}, err
		}
		up, ok, err := parseStreamMessage(data)
		if err != nil {
			return Update{}, err
		}
		if ok {
			return up, nil
		}
	}
}

func (s *deepgramStreamSession) Close() error {
	s.cancel()
	return s.conn.Close(websocket.StatusNormalClosure, "")
}

// parseStreamMessage decodes a Results message. Metadata, SpeechStarted and
// UtteranceEnd messages report ok=false.
func parseStreamMessage(data []byte) (Update, bool, error) {
	var resp deepgramStreamResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return Update{}, false, fmt.Errorf("deepgram message: %w", err)
	}
	if resp.Type != "" && resp.Type != "Results" {
		return Update{}, false, nil
	}

	up := Update{IsFinal: resp.IsFinal, SpeechFinal: resp.SpeechFinal, Speaker: -1}
	if len(resp.Channel.Alternatives) > 0 {
		alt := resp.Channel.Alternatives[0]
		up.Transcript = strings.TrimSpace(alt.Transcript)
		if len(alt.Words) > 0 && alt.Words[0].Speaker != nil {
			up.Speaker = *alt.Words[0].Speaker
		}
	}
	return up, true, nil
}
