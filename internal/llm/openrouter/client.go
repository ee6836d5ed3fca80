package openrouter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"bookforge-backend/internal/llm"
)

const defaultAPIURL = "https://openrouter.ai/api/v1/chat/completions"

// Client implements llm.Provider using the OpenRouter chat completion API.
type Client struct {
	apiKey     string
	model      string
	apiURL     string
	referer    string
	title      string
	httpClient *http.Client
}

// Config captures the runtime settings required to talk to OpenRouter.
type Config struct {
	APIKey  string
	Model   string
	BaseURL string
	Referer string
	Title   string
	Timeout time.Duration
}

// NewClient constructs an OpenRouter client using the supplied configuration.
func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("OPENROUTER_API_KEY is required")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, fmt.Errorf("OPENROUTER_MODEL is required")
	}
	apiURL := strings.TrimSpace(cfg.BaseURL)
	if apiURL == "" {
		apiURL = defaultAPIURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Client{
		apiKey:     strings.TrimSpace(cfg.APIKey),
		model:      strings.TrimSpace(cfg.Model),
		apiURL:     apiURL,
		referer:    strings.TrimSpace(cfg.Referer),
		title:      strings.TrimSpace(cfg.Title),
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

func (c *Client) Name() string { return "openrouter" }

type chatCompletionRequest struct {
	Model          string            `json:"model"`
	Messages       []chatMessage     `json:"messages"`
	Temperature    float64           `json:"temperature"`
	ResponseFormat map[string]string `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message chatCompletionMessage `json:"message"`
		// Some providers return the streaming schema (delta) even when
		// stream=false, so tolerate it as a fallback.
		Delta        chatCompletionMessage `json:"delta"`
		Text         string                `json:"text"`
		FinishReason string                `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

type chatCompletionMessage struct {
	Content string `json:"content"`
	Refusal string `json:"refusal"`
}

// Generate issues a single chat completion request.
func (c *Client) Generate(ctx context.Context, req llm.Request) (string, error) {
	payload := chatCompletionRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: req.System},
			{Role: "user", Content: req.Prompt},
		},
		Temperature: 0.7,
	}
	if req.JSONOnly {
		payload.ResponseFormat = map[string]string{"type": "json_object"}
		payload.Temperature = 0
	}

	encoded, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("openrouter request: encode body: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewReader(encoded))
	if err != nil {
		return "", fmt.Errorf("openrouter request: new request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")
	if c.referer != "" {
		httpReq.Header.Set("HTTP-Referer", c.referer)
		httpReq.Header.Set("Referer", c.referer)
	}
	if c.title != "" {
		httpReq.Header.Set("X-Title", c.title)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("openrouter request: read body: %w", err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		retryAfter, _ := llm.ParseRetryAfter(resp.Header.Get("Retry-After"))
		return "", &llm.StatusError{
			Provider:   c.Name(),
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(body)),
			RetryAfter: retryAfter,
		}
	}

	var completion chatCompletionResponse
	if err := json.Unmarshal(body, &completion); err != nil {
		return "", fmt.Errorf("openrouter request: decode response: %w", err)
	}
	if completion.Error != nil {
		return "", fmt.Errorf("openrouter error: %s", strings.TrimSpace(completion.Error.Message))
	}
	if len(completion.Choices) == 0 {
		return "", &llm.EmptyContentError{Provider: c.Name(), Detail: "empty choices"}
	}

	for _, choice := range completion.Choices {
		if refusal := firstNonEmpty(choice.Message.Refusal, choice.Delta.Refusal); refusal != "" {
			return "", &llm.ContentPolicyError{Provider: c.Name(), Reason: refusal}
		}
		if content := firstNonEmpty(choice.Message.Content, choice.Delta.Content, choice.Text); content != "" {
			return content, nil
		}
	}
	return "", &llm.EmptyContentError{
		Provider: c.Name(),
		Detail:   fmt.Sprintf("finish_reason=%s", completion.Choices[0].FinishReason),
	}
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

var _ llm.Provider = (*Client)(nil)
