package openai

import (
	"context"
	"fmt"

	goopenai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// Client calls any OpenAI-compatible chat completions endpoint.
type Client struct {
	client    *goopenai.Client
	modelName string
	maxTokens int
	baseURL   string
	logger    *zap.Logger
}

// Config for the OpenAI client. BaseURL points the client at a compatible
// server; empty means api.openai.com.
type Config struct {
	APIKey    string
	ModelName string // Default: "gpt-4o-mini"
	BaseURL   string
	MaxTokens int
}

// NewClient creates a new OpenAI client
func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai API key is required")
	}

	if cfg.ModelName == "" {
		cfg.ModelName = goopenai.GPT4oMini
	}

	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 1024
	}

	clientCfg := goopenai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	logger.Info("OpenAI client initialized",
		zap.String("model", cfg.ModelName),
		zap.String("base_url", clientCfg.BaseURL))

	return &Client{
		client:    goopenai.NewClientWithConfig(clientCfg),
		modelName: cfg.ModelName,
		maxTokens: cfg.MaxTokens,
		baseURL:   clientCfg.BaseURL,
		logger:    logger,
	}, nil
}

// Close is a no-op.
func (c *Client) Close() error {
	return nil
}

// Complete returns the first choice's message content.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	rsp, err := c.client.CreateChatCompletion(ctx, goopenai.ChatCompletionRequest{
		Model:     c.modelName,
		MaxTokens: c.maxTokens,
		Messages: []goopenai.ChatCompletionMessage{
			{Role: goopenai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", fmt.Errorf("openai API error: %w", err)
	}

	if len(rsp.Choices) == 0 || len(rsp.Choices[0].Message.Content) == 0 {
		return "", fmt.Errorf("no response from openai")
	}

	return rsp.Choices[0].Message.Content, nil
}

// GetModelInfo returns model information
func (c *Client) GetModelInfo() map[string]interface{} {
	return map[string]interface{}{
		"provider": "openai",
		"model":    c.modelName,
		"base_url": c.baseURL,
	}
}
