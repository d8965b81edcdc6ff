package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ProviderType identifies a generation backend implementation.
type ProviderType string

const (
	ProviderGemini     ProviderType = "gemini"
	ProviderGroq       ProviderType = "groq"
	ProviderOpenRouter ProviderType = "openrouter"
	ProviderOpenAI     ProviderType = "openai"
	ProviderAnthropic  ProviderType = "anthropic"
	ProviderWebChat    ProviderType = "webchat"
)

// ProviderConfig holds configuration for a single backend instance.
type ProviderConfig struct {
	Type      ProviderType `yaml:"type"`
	Name      string       `yaml:"name"`
	APIKey    string       `yaml:"api_key"`
	ModelName string       `yaml:"model_name"`
	BaseURL   string       `yaml:"base_url"`
	MaxTokens int          `yaml:"max_tokens"`
	// Rate limiting per provider
	RequestsPerMinute int `yaml:"requests_per_minute"`

	// Only used by webchat backends.
	WebChat WebChatConfig `yaml:"webchat"`
}

// WebChatConfig describes a free-form HTTP chat endpoint.
type WebChatConfig struct {
	Method        string            `yaml:"method"`         // GET or POST
	Encoding      string            `yaml:"encoding"`       // json, form or query
	PromptField   string            `yaml:"prompt_field"`   // request field carrying the prompt
	ResponseField string            `yaml:"response_field"` // dotted path into a JSON reply; empty means raw body
	Headers       map[string]string `yaml:"headers"`
	Params        map[string]string `yaml:"params"` // static request fields
}

// DisplayName returns the configured name or falls back to the type.
func (c ProviderConfig) DisplayName() string {
	if c.Name != "" {
		return c.Name
	}
	return string(c.Type)
}

// Backend is one network text-generation service. Complete returns the
// model's raw text.
type Backend interface {
	Complete(ctx context.Context, prompt string) (string, error)
	Close() error
	GetModelInfo() map[string]interface{}
}

// Generator produces a Result for a prompt and never panics on expected
// failures.
type Generator interface {
	Name() string
	Generate(ctx context.Context, prompt string) Result
}

var (
	ErrEmptyResponse = errors.New("empty response from backend")
	ErrRateLimitWait = errors.New("rate limit wait cancelled")
)

// Result is the uniform output of a Generator.
type Result struct {
	Backend string
	Text    string
	Err     error
}

// OK reports whether the result carries usable text.
func (r Result) OK() bool {
	return r.Err == nil && strings.TrimSpace(r.Text) != ""
}

// MaxRequestTimeout bounds every backend call.
const MaxRequestTimeout = 30 * time.Second

// Client adapts a Backend into a Generator: it bounds the call with a
// timeout, waits on the rate limiter and extracts the fenced JSON block.
type Client struct {
	name    string
	backend Backend
	limiter *RateLimiter
	timeout time.Duration
}

// NewClient wraps backend. A nil limiter disables rate limiting.
func NewClient(name string, backend Backend, limiter *RateLimiter, timeout time.Duration) *Client {
	if timeout <= 0 || timeout > MaxRequestTimeout {
		timeout = MaxRequestTimeout
	}
	return &Client{name: name, backend: backend, limiter: limiter, timeout: timeout}
}

func (c *Client) Name() string { return c.name }

func (c *Client) Generate(ctx context.Context, prompt string) Result {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return Result{Backend: c.name, Err: fmt.Errorf("%w: %v", ErrRateLimitWait, err)}
		}
	}

	raw, err := c.backend.Complete(ctx, prompt)
	if err != nil {
		return Result{Backend: c.name, Err: err}
	}

	text, err := ExtractFenced(raw)
	if err != nil {
		return Result{Backend: c.name, Err: err}
	}
	return Result{Backend: c.name, Text: text}
}

func (c *Client) Close() error { return c.backend.Close() }

// GetModelInfo returns backend info tagged with the client name.
func (c *Client) GetModelInfo() map[string]interface{} {
	info := c.backend.GetModelInfo()
	if info == nil {
		info = map[string]interface{}{}
	}
	info["name"] = c.name
	info["timeout"] = c.timeout.String()
	return info
}
