package openai

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

const defaultAPIURL = "https://api.openai.com/v1/chat/completions"

// Client implements llm.Provider using OpenAI Chat Completions.
type Client struct {
	apiKey     string
	model      string
	apiURL     string
	httpClient *http.Client
}

// NewClient constructs a new OpenAI client.
func NewClient(apiKey, model, baseURL string, timeout time.Duration) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY is required")
	}
	if strings.TrimSpace(model) == "" {
		return nil, fmt.Errorf("OPENAI_MODEL is required")
	}
	apiURL := strings.TrimSpace(baseURL)
	if apiURL == "" {
		apiURL = defaultAPIURL
	}
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Client{
		apiKey: apiKey,
		model:  model,
		apiURL: apiURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

func (c *Client) Name() string { return "openai" }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Temperature    *float32        `json:"temperature,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error,omitempty"`
}

// Generate issues a single chat completion request.
func (c *Client) Generate(ctx context.Context, req llm.Request) (string, error) {
	temp := float32(0.7)
	reqBody := chatRequest{
		Model:       c.model,
		Temperature: &temp,
		Messages: []chatMessage{
			{Role: "system", Content: req.System},
			{Role: "user", Content: req.Prompt},
		},
	}
	if req.JSONOnly {
		reqBody.ResponseFormat = &responseFormat{Type: "json_object"}
		zero := float32(0)
		reqBody.Temperature = &zero
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
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

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("openai response parse: %w", err)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("openai error: %s (%s)", parsed.Error.Message, parsed.Error.Type)
	}
	if len(parsed.Choices) == 0 {
		return "", &llm.EmptyContentError{Provider: c.Name(), Detail: "missing choices"}
	}

	choice := parsed.Choices[0]
	if choice.FinishReason == "content_filter" {
		return "", &llm.ContentPolicyError{Provider: c.Name(), Reason: "content filter triggered"}
	}
	content := strings.TrimSpace(choice.Message.Content)
	if content == "" {
		return "", &llm.EmptyContentError{Provider: c.Name(), Detail: fmt.Sprintf("finish_reason=%s", choice.FinishReason)}
	}
	return content, nil
}

var _ llm.Provider = (*Client)(nil)
