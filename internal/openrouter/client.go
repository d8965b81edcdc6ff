package openrouter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const defaultBaseURL = "https://openrouter.ai/api/v1"

// Client calls the OpenRouter chat completions API.
type Client struct {
	apiKey     string
	baseURL    string
	modelName  string
	maxTokens  int
	referer    string
	httpClient *http.Client
	logger     *zap.Logger
}

// Config holds OpenRouter client settings.
type Config struct {
	APIKey    string
	ModelName string // e.g., "meta-llama/llama-3.2-3b-instruct:free"
	BaseURL   string
	MaxTokens int
	Referer   string // sent as HTTP-Referer for OpenRouter rankings
}

type openRouterRequest struct {
	Model       string              `json:"model"`
	Messages    []openRouterMessage `json:"messages"`
	Temperature float64             `json:"temperature,omitempty"`
	MaxTokens   int                 `json:"max_tokens,omitempty"`
}

type openRouterMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openRouterResponse struct {
	ID      string `json:"id"`
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// NewClient creates a new OpenRouter client.
func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openrouter API key is required")
	}

	if cfg.ModelName == "" {
		cfg.ModelName = "meta-llama/llama-3.2-3b-instruct:free"
	}

	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}

	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 1024
	}

	if cfg.Referer == "" {
		cfg.Referer = "https://github.com/corpusbot"
	}

	logger.Info("OpenRouter client initialized", zap.String("model", cfg.ModelName))

	return &Client{
		apiKey:     cfg.APIKey,
		baseURL:    cfg.BaseURL,
		modelName:  cfg.ModelName,
		maxTokens:  cfg.MaxTokens,
		referer:    cfg.Referer,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
	}, nil
}

// Close is a no-op.
func (c *Client) Close() error {
	return nil
}

// Complete returns the first choice's message content.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	payload, err := json.Marshal(openRouterRequest{
		Model:       c.modelName,
		Messages:    []openRouterMessage{{Role: "user", Content: prompt}},
		Temperature: 0.7,
		MaxTokens:   c.maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("HTTP-Referer", c.referer)
	req.Header.Set("X-Title", "Corpus Bot")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("openrouter request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	var orResp openRouterResponse
	if err := json.Unmarshal(body, &orResp); err != nil {
		return "", fmt.Errorf("failed to parse response (status %d): %w", resp.StatusCode, err)
	}

	if orResp.Error != nil {
		return "", fmt.Errorf("openrouter API error: %s", orResp.Error.Message)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("openrouter API returned status %d", resp.StatusCode)
	}

	if len(orResp.Choices) == 0 {
		return "", fmt.Errorf("no choices in openrouter response")
	}

	return orResp.Choices[0].Message.Content, nil
}

// GetModelInfo returns model information.
func (c *Client) GetModelInfo() map[string]interface{} {
	return map[string]interface{}{
		"provider":   "openrouter",
		"model":      c.modelName,
		"max_tokens": c.maxTokens,
	}
}
