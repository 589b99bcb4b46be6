package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// DefaultGeminiBaseURL is the public Generative Language endpoint.
const DefaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta/models"

// DefaultGeminiModel is used when GeminiConfig.Model is empty.
const DefaultGeminiModel = "gemini-2.0-flash"

// maxResponseBytes bounds how much of a response body is read.
const maxResponseBytes = 1 << 20

// GeminiConfig configures a Gemini client.
type GeminiConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	// Timeout applies per request when the caller's context has no deadline.
	Timeout time.Duration
}

// Enabled reports whether credentials are configured.
func (c GeminiConfig) Enabled() bool { return strings.TrimSpace(c.APIKey) != "" }

// Endpoint returns the generateContent URL for the configured model.
func (c GeminiConfig) Endpoint() string {
	base := strings.TrimRight(c.BaseURL, "/")
	if base == "" {
		base = DefaultGeminiBaseURL
	}
	model := c.Model
	if model == "" {
		model = DefaultGeminiModel
	}
	return base + "/" + model + ":generateContent"
}

// Gemini calls the generateContent REST endpoint.
type Gemini struct {
	cfg    GeminiConfig
	client *http.Client
}

// NewGemini returns a Gemini-backed Generator, or Disabled when no API key is
// configured.
func NewGemini(cfg GeminiConfig, client *http.Client) Generator {
	if !cfg.Enabled() {
		return Disabled{}
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Gemini{cfg: cfg, client: client}
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	Contents []geminiContent `json:"contents"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
}

// Generate implements Generator.
func (g *Gemini) Generate(ctx context.Context, prompt string) (string, error) {
	tr := otel.Tracer("llm/Gemini")
	ctx, span := tr.Start(ctx, "Generate",
		trace.WithAttributes(
			attribute.String("llm.model", g.cfg.Model),
			attribute.Int("llm.prompt_len", len(prompt)),
		),
	)
	defer span.End()

	if _, ok := ctx.Deadline(); !ok && g.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.cfg.Timeout)
		defer cancel()
	}

	text, err := g.do(ctx, prompt)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	return text, nil
}

func (g *Gemini) do(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(geminiRequest{
		Contents: []geminiContent{{Parts: []geminiPart{{Text: prompt}}}},
	})
	if err != nil {
		return "", err
	}

	endpoint := g.cfg.Endpoint() + "?key=" + url.QueryEscape(g.cfg.APIKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("gemini request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", fmt.Errorf("gemini read: %w", err)
	}
	if resp.StatusCode/100 != 2 {
		return "", fmt.Errorf("gemini status %d: %s", resp.StatusCode, truncate(string(raw), 200))
	}

	var out geminiResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("gemini decode: %w", err)
	}
	if len(out.Candidates) == 0 || len(out.Candidates[0].Content.Parts) == 0 {
		return "", ErrEmptyResponse
	}
	text := strings.TrimSpace(out.Candidates[0].Content.Parts[0].Text)
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
