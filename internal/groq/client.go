package groq

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

const defaultBaseURL = "https://api.groq.com/openai/v1"

// Client calls the Groq chat completions API
type Client struct {
	apiKey     string
	baseURL    string
	modelName  string
	httpClient *http.Client
	logger     *zap.Logger
}

// Config for Groq client
type Config struct {
	APIKey    string
	ModelName string // Default: "llama-3.3-70b-versatile"
	BaseURL   string
}

type groqRequest struct {
	Model       string        `json:"model"`
	Messages    []groqMessage `json:"messages"`
	Stream      bool          `json:"stream"`
	Temperature float32       `json:"temperature,omitempty"`
}

type groqMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type groqResponse struct {
	ID      string `json:"id"`
	Choices []struct {
		Index   int `json:"index"`
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// NewClient creates a new Groq client
func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("groq API key is required")
	}

	if cfg.ModelName == "" {
		cfg.ModelName = "llama-3.3-70b-versatile"
	}

	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}

	logger.Info("Groq client initialized", zap.String("model", cfg.ModelName))

	return &Client{
		apiKey:     cfg.APIKey,
		baseURL:    cfg.BaseURL,
		modelName:  cfg.ModelName,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
	}, nil
}

// Close closes the Groq client
func (c *Client) Close() error {
	return nil
}

// Complete returns the first choice's message content.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	reqBody := groqRequest{
		Model:       c.modelName,
		Messages:    []groqMessage{{Role: "user", Content: prompt}},
		Temperature: 0.7,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("groq API error: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		c.logger.Debug("Groq API error", zap.Int("status", resp.StatusCode), zap.ByteString("body", body))
		return "", fmt.Errorf("groq API returned status %d", resp.StatusCode)
	}

	var groqResp groqResponse
	if err := json.Unmarshal(body, &groqResp); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}

	if groqResp.Error != nil {
		return "", fmt.Errorf("groq API error: %s", groqResp.Error.Message)
	}

	if len(groqResp.Choices) == 0 {
		return "", fmt.Errorf("empty response from groq")
	}

	return groqResp.Choices[0].Message.Content, nil
}

// GetModelInfo returns model information
func (c *Client) GetModelInfo() map[string]interface{} {
	return map[string]interface{}{
		"provider": "groq",
		"model":    c.modelName,
	}
}
