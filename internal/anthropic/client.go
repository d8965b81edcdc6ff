package anthropic

import (
	"context"
	"fmt"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"
)

// Client calls the Anthropic Messages API.
type Client struct {
	client    *sdk.Client
	modelName string
	maxTokens int64
	logger    *zap.Logger
}

// Config for the Anthropic client.
type Config struct {
	APIKey    string
	ModelName string // Default: "claude-3-5-haiku-latest"
	BaseURL   string
	MaxTokens int
}

// NewClient creates a new Anthropic client
func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic API key is required")
	}

	if cfg.ModelName == "" {
		cfg.ModelName = "claude-3-5-haiku-latest"
	}

	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 1024
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	client := sdk.NewClient(opts...)

	logger.Info("Anthropic client initialized", zap.String("model", cfg.ModelName))

	return &Client{
		client:    &client,
		modelName: cfg.ModelName,
		maxTokens: int64(cfg.MaxTokens),
		logger:    logger,
	}, nil
}

// Close is a no-op.
func (c *Client) Close() error {
	return nil
}

// Complete concatenates the text blocks of the reply.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	rsp, err := c.client.Messages.New(ctx, sdk.MessageNewParams{
		Model:     sdk.Model(c.modelName),
		MaxTokens: c.maxTokens,
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic API error: %w", err)
	}

	var b strings.Builder
	for _, content := range rsp.Content {
		if text, ok := content.AsAny().(sdk.TextBlock); ok {
			b.WriteString(text.Text)
		}
	}

	if b.Len() == 0 {
		return "", fmt.Errorf("no response from anthropic")
	}
	return b.String(), nil
}

// GetModelInfo returns model information
func (c *Client) GetModelInfo() map[string]interface{} {
	return map[string]interface{}{
		"provider":   "anthropic",
		"model":      c.modelName,
		"max_tokens": c.maxTokens,
	}
}
