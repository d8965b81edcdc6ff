package gemini

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

// Client wraps the Gemini API client
type Client struct {
	client    *genai.Client
	model     *genai.GenerativeModel
	logger    *zap.Logger
	modelName string
}

// Config for Gemini client
type Config struct {
	APIKey    string
	ModelName string // Default: "gemini-2.0-flash"
	BaseURL   string // Empty means the public endpoint
	MaxTokens int
}

// NewClient creates a new Gemini client
func NewClient(ctx context.Context, cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}

	if cfg.ModelName == "" {
		cfg.ModelName = "gemini-2.0-flash"
	}

	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 1024
	}

	opts := []option.ClientOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithEndpoint(cfg.BaseURL))
	}
	client, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	model := client.GenerativeModel(cfg.ModelName)
	model.GenerationConfig = genai.GenerationConfig{
		Temperature:     genai.Ptr[float32](0.7),
		TopP:            genai.Ptr[float32](0.9),
		MaxOutputTokens: genai.Ptr(int32(cfg.MaxTokens)),
	}

	logger.Info("Gemini client initialized", zap.String("model", cfg.ModelName))

	return &Client{
		client:    client,
		model:     model,
		logger:    logger,
		modelName: cfg.ModelName,
	}, nil
}

// Close closes the Gemini client
func (c *Client) Close() error {
	return c.client.Close()
}

// Complete sends prompt as a single user turn and returns the concatenated
// text parts of the first candidate.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := c.model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("gemini API error: %w", err)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("empty response from gemini")
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			sb.WriteString(string(text))
		}
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("unexpected response type from gemini")
	}

	c.logger.Debug("Gemini response received", zap.Int("length", sb.Len()))
	return sb.String(), nil
}

// GetModelInfo returns model information
func (c *Client) GetModelInfo() map[string]interface{} {
	return map[string]interface{}{
		"provider": "gemini",
		"model":    c.modelName,
	}
}
