package gemini

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

	"bookforge-backend/internal/llm"
)

const defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// Client implements llm.Provider using the Gemini generateContent API.
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
}

// NewClient constructs a Gemini client.
func NewClient(apiKey, model, baseURL string, timeout time.Duration) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY is required")
	}
	if strings.TrimSpace(model) == "" {
		model = "gemini-2.5-flash"
	}
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if base == "" {
		base = defaultBaseURL
	}
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Client{
		apiKey:     strings.TrimSpace(apiKey),
		baseURL:    base,
		model:      model,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

func (c *Client) Name() string { return "gemini" }

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts,omitempty"`
}

type geminiPart struct {
	Text string `json:"text,omitempty"`
}

type geminiGenerationConfig struct {
	Temperature      float64 `json:"temperature"`
	ResponseMimeType string  `json:"responseMimeType,omitempty"`
}

type generateContentRequest struct {
	SystemInstruction *geminiContent          `json:"systemInstruction,omitempty"`
	Contents          []geminiContent         `json:"contents"`
	GenerationConfig  *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type generateContentResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason,omitempty"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason,omitempty"`
	} `json:"promptFeedback,omitempty"`
}

type geminiErrorResponse struct {
	Error struct {
		Code    int    `json:"code,omitempty"`
		Message string `json:"message,omitempty"`
	} `json:"error"`
}

// Generate issues a single generateContent request.
func (c *Client) Generate(ctx context.Context, req llm.Request) (string, error) {
	genCfg := &geminiGenerationConfig{Temperature: 0.7}
	if req.JSONOnly {
		genCfg.Temperature = 0
		genCfg.ResponseMimeType = "application/json"
	}
	payload := generateContentRequest{
		Contents: []geminiContent{{
			Role:  "user",
			Parts: []geminiPart{{Text: req.Prompt}},
		}},
		GenerationConfig: genCfg,
	}
	if strings.TrimSpace(req.System) != "" {
		payload.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: req.System}}}
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent", c.baseURL, url.PathEscape(c.model))
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	q := httpReq.URL.Query()
	q.Set("key", c.apiKey)
	httpReq.URL.RawQuery = q.Encode()
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		detail := strings.TrimSpace(string(data))
		var apiErr geminiErrorResponse
		if err := json.Unmarshal(data, &apiErr); err == nil && apiErr.Error.Message != "" {
			detail = apiErr.Error.Message
		}
		retryAfter, _ := llm.ParseRetryAfter(resp.Header.Get("Retry-After"))
		return "", &llm.StatusError{
			Provider:   c.Name(),
			StatusCode: resp.StatusCode,
			Body:       detail,
			RetryAfter: retryAfter,
		}
	}

	var parsed generateContentResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", fmt.Errorf("decode gemini response: %w", err)
	}
	if parsed.PromptFeedback != nil && parsed.PromptFeedback.BlockReason != "" {
		return "", &llm.ContentPolicyError{Provider: c.Name(), Reason: parsed.PromptFeedback.BlockReason}
	}
	for _, candidate := range parsed.Candidates {
		if candidate.FinishReason == "SAFETY" {
			return "", &llm.ContentPolicyError{Provider: c.Name(), Reason: "safety block"}
		}
		for _, part := range candidate.Content.Parts {
			if text := strings.TrimSpace(part.Text); text != "" {
				return text, nil
			}
		}
	}
	return "", &llm.EmptyContentError{Provider: c.Name(), Detail: "no text candidates"}
}

var _ llm.Provider = (*Client)(nil)
