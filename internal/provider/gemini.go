package provider

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// GeminiConfig configures the Gemini vision client.
type GeminiConfig struct {
	BaseURL     string
	Model       string
	Temperature float64
	Timeout     time.Duration
}

// Gemini calls the generativeLanguage REST API with the page image
// inlined as base64. It is the primary extraction provider.
type Gemini struct {
	cfg  GeminiConfig
	http *http.Client
	log  *slog.Logger
}

// NewGemini builds a Gemini client. Zero-value config fields get
// conservative defaults.
func NewGemini(cfg GeminiConfig, logger *slog.Logger) *Gemini {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://generativelanguage.googleapis.com/v1beta"
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-1.5-flash"
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.1
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 45 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Gemini{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
		log:  logger,
	}
}

func (g *Gemini) Name() string { return "gemini" }

// Extract sends one page image through the model and parses the response
// into raw products.
func (g *Gemini) Extract(ctx context.Context, imagePath string, key string, req Request) ([]RawProduct, error) {
	img, err := os.ReadFile(imagePath)
	if err != nil {
		return nil, NewFailure(Fatal, g.Name(), fmt.Errorf("reading page image: %w", err))
	}

	body := map[string]any{
		"contents": []map[string]any{{
			"parts": []map[string]any{
				{"text": BuildPrompt(req)},
				{"inline_data": map[string]any{
					"mime_type": mimeTypeFor(imagePath),
					"data":      base64.StdEncoding.EncodeToString(img),
				}},
			},
		}},
		"generationConfig": map[string]any{
			"temperature":      g.cfg.Temperature,
			"responseMimeType": "application/json",
		},
	}

	// credential travels in a header so request logging never sees it
	url := fmt.Sprintf("%s/models/%s:generateContent",
		strings.TrimRight(g.cfg.BaseURL, "/"), g.cfg.Model)
	raw, status, err := sendJSON(ctx, g.http, url, body, map[string]string{"x-goog-api-key": key}, g.log)
	if err != nil {
		return nil, NewFailure(Transient, g.Name(), err)
	}
	if status/100 != 2 {
		kind := classifyStatus(status)
		g.log.Warn("gemini.extract.http_error",
			"status", status, "kind", kind.String(), "page", req.Page)
		return nil, NewFailure(kind, g.Name(), fmt.Errorf("status %d: %s", status, truncate(raw, 200)))
	}

	completion, err := decodeGeminiCompletion(raw)
	if err != nil {
		return nil, NewFailure(MalformedOutput, g.Name(), err)
	}
	products, err := ParseProducts(completion)
	if err != nil {
		g.log.Warn("gemini.extract.parse_failed", "page", req.Page, "error", err)
		return nil, NewFailure(MalformedOutput, g.Name(), err)
	}
	g.log.Info("gemini.extract.ok", "page", req.Page, "products", len(products))
	return products, nil
}

func decodeGeminiCompletion(raw []byte) (string, error) {
	var resp struct {
		Candidates []struct {
			Content struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"content"`
			FinishReason string `json:"finishReason"`
		} `json:"candidates"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("decode gemini response: %w", err)
	}
	if len(resp.Candidates) == 0 || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("no candidates in gemini response")
	}
	var sb strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		sb.WriteString(p.Text)
	}
	return sb.String(), nil
}

func mimeTypeFor(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".webp":
		return "image/webp"
	default:
		return "image/png"
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
