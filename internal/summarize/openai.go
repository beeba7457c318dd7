// Package summarize turns a user's selected articles into digest prose via
// an OpenAI-compatible chat completion API.
package summarize

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/djmorgan26/up2d8/internal/news"
)

const defaultSystemPrompt = "You are a news editor. Write a concise HTML digest of the provided " +
	"articles for a busy reader. Group related items, keep each summary to two sentences, and " +
	"link every headline to its article."

// Config carries the client knobs.
type Config struct {
	Endpoint string
	Model    string
	APIKey   string
	Timeout  time.Duration
}

// OpenAIClient implements news.Summarizer against OpenAI-compatible APIs.
type OpenAIClient struct {
	cfg        Config
	httpClient *http.Client
}

var _ news.Summarizer = (*OpenAIClient)(nil)

// NewOpenAIClient builds a client from configuration.
func NewOpenAIClient(cfg Config) (*OpenAIClient, error) {
	if cfg.Endpoint == "" || cfg.Model == "" || cfg.APIKey == "" {
		return nil, fmt.Errorf("summarizer misconfigured: endpoint, model, and api key are required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &OpenAIClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Summarize posts the articles as a user message and returns the completion.
func (c *OpenAIClient) Summarize(ctx context.Context, prefs news.Preferences, articles []news.Article) (string, error) {
	payload, err := json.Marshal(digestPayload(prefs, articles))
	if err != nil {
		return "", fmt.Errorf("marshal digest payload: %w", err)
	}

	body, err := json.Marshal(chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: defaultSystemPrompt},
			{Role: "user", Content: string(payload)},
		},
	})
	if err != nil {
		return "", fmt.Errorf("marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("summarize request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", &APIError{Status: resp.StatusCode, Detail: strings.TrimSpace(string(detail))}
	}

	var completion chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&completion); err != nil {
		return "", fmt.Errorf("decode completion: %w", err)
	}
	if len(completion.Choices) == 0 {
		return "", fmt.Errorf("completion has no choices")
	}
	content := strings.TrimSpace(completion.Choices[0].Message.Content)
	if content == "" {
		return "", fmt.Errorf("completion is empty")
	}
	return content, nil
}

func digestPayload(prefs news.Preferences, articles []news.Article) map[string]any {
	items := make([]map[string]any, 0, len(articles))
	for _, a := range articles {
		items = append(items, map[string]any{
			"title":      a.Title,
			"link":       a.Link,
			"summary":    a.Summary,
			"companies":  a.Companies,
			"industries": a.Industries,
		})
	}
	return map[string]any{
		"format":    prefs.Format,
		"frequency": prefs.Frequency,
		"articles":  items,
	}
}

// APIError reports a non-2xx completion response.
type APIError struct {
	Status int
	Detail string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("summarizer api status %d: %s", e.Status, e.Detail)
}

// Transient reports whether the request is worth retrying.
func (e *APIError) Transient() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= 500
}
