package suggest

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

const (
	DefaultGeminiModel = "gemini-2.5-flash"
	geminiWarmURL      = "https://generativelanguage.googleapis.com"
)

type GeminiConfig struct {
	APIKey          string
	Model           string
	Temperature     float32
	MaxOutputTokens int32
}

// Gemini generates suggestions with the Gemini API.
type Gemini struct {
	cfg    GeminiConfig
	client *genai.Client
	http   *TracedClient
}

func NewGemini(ctx context.Context, cfg GeminiConfig) (*Gemini, error) {
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	if cfg.APIKey == "" {
		return nil, ErrMissingCredentials
	}
	if cfg.Model == "" {
		cfg.Model = DefaultGeminiModel
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.7
	}
	if cfg.MaxOutputTokens == 0 {
		cfg.MaxOutputTokens = 300
	}

	traced := NewTracedClient()
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: traced.HTTPClient(),
	})
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	return &Gemini{cfg: cfg, client: client, http: traced}, nil
}

func (g *Gemini) Name() string { return "gemini" }

// Warm pre-opens the API connection so the first suggestion skips the
// TLS handshake.
func (g *Gemini) Warm() {
	g.http.WarmConnection(geminiWarmURL)
}

func (g *Gemini) Suggest(ctx context.Context, req Request) ([]string, error) {
	if strings.TrimSpace(req.LastStatement) == "" {
		return nil, nil
	}
	system, err := BuildPrompt(req)
	if err != nil {
		return nil, fmt.Errorf("building prompt: %w", err)
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.cfg.Model, genai.Text(userTurn), &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(system, genai.RoleUser),
		Temperature:       genai.Ptr(g.cfg.Temperature),
		MaxOutputTokens:   g.cfg.MaxOutputTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini generate: %w", err)
	}
	return ParseSuggestions(resp.Text()), nil
}
