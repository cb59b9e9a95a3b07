package provider

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"
)

// OpenAIConfig configures the OpenAI vision client.
type OpenAIConfig struct {
	BaseURL     string
	Model       string
	Temperature float64
	Timeout     time.Duration
}

// OpenAI is the fallback extraction provider, using chat/completions with
// an image_url data URI.
type OpenAI struct {
	cfg  OpenAIConfig
	http *http.Client
	log  *slog.Logger
}

// NewOpenAI builds an OpenAI vision client.
func NewOpenAI(cfg OpenAIConfig, logger *slog.Logger) *OpenAI {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
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
	return &OpenAI{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
		log:  logger,
	}
}

func (o *OpenAI) Name() string { return "openai" }

func (o *OpenAI) Extract(ctx context.Context, imagePath string, key string, req Request) ([]RawProduct, error) {
	img, err := os.ReadFile(imagePath)
	if err != nil {
		return nil, NewFailure(Fatal, o.Name(), fmt.Errorf("reading page image: %w", err))
	}
	dataURI := fmt.Sprintf("data:%s;base64,%s", mimeTypeFor(imagePath), base64.StdEncoding.EncodeToString(img))

	body := map[string]any{
		"model":       o.cfg.Model,
		"temperature": o.cfg.Temperature,
		"messages": []map[string]any{{
			"role": "user",
			"content": []map[string]any{
				{"type": "text", "text": BuildPrompt(req)},
				{"type": "image_url", "image_url": map[string]any{"url": dataURI}},
			},
		}},
	}

	url := strings.TrimRight(o.cfg.BaseURL, "/") + "/chat/completions"
	headers := map[string]string{"Authorization": "Bearer " + key}
	raw, status, err := sendJSON(ctx, o.http, url, body, headers, o.log)
	if err != nil {
		return nil, NewFailure(Transient, o.Name(), err)
	}
	if status/100 != 2 {
		kind := classifyStatus(status)
		o.log.Warn("openai.extract.http_error",
			"status", status, "kind", kind.String(), "page", req.Page)
		return nil, NewFailure(kind, o.Name(), fmt.Errorf("status %d: %s", status, truncate(raw, 200)))
	}

	var cc struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(raw, &cc); err != nil {
		return nil, NewFailure(MalformedOutput, o.Name(), fmt.Errorf("decode openai response: %w", err))
	}
	if len(cc.Choices) == 0 {
		return nil, NewFailure(MalformedOutput, o.Name(), fmt.Errorf("no choices in openai response"))
	}

	products, err := ParseProducts(cc.Choices[0].Message.Content)
	if err != nil {
		o.log.Warn("openai.extract.parse_failed", "page", req.Page, "error", err)
		return nil, NewFailure(MalformedOutput, o.Name(), err)
	}
	o.log.Info("openai.extract.ok", "page", req.Page, "products", len(products))
	return products, nil
}
