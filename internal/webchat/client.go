// Package webchat talks to free web chat endpoints that take a prompt as a
// plain request field and answer with either raw text or a JSON envelope.
package webchat

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

	"go.uber.org/zap"
)

const maxBodyBytes = 4 << 20

// Config describes one endpoint.
type Config struct {
	Name          string
	URL           string
	Method        string // GET or POST, default POST
	Encoding      string // json, form or query, default json
	PromptField   string // default "prompt"
	ResponseField string // dotted path into the JSON reply, empty means raw body
	Headers       map[string]string
	Params        map[string]string
}

// Client is a configurable web chat backend.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient validates cfg and applies defaults.
func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("webchat url is required")
	}
	if _, err := url.Parse(cfg.URL); err != nil {
		return nil, fmt.Errorf("invalid webchat url: %w", err)
	}

	cfg.Method = strings.ToUpper(cfg.Method)
	if cfg.Method == "" {
		cfg.Method = http.MethodPost
	}
	if cfg.Method != http.MethodGet && cfg.Method != http.MethodPost {
		return nil, fmt.Errorf("unsupported webchat method %q", cfg.Method)
	}

	switch cfg.Encoding {
	case "":
		cfg.Encoding = "json"
		if cfg.Method == http.MethodGet {
			cfg.Encoding = "query"
		}
	case "json", "form", "query":
	default:
		return nil, fmt.Errorf("unsupported webchat encoding %q", cfg.Encoding)
	}
	if cfg.Method == http.MethodGet && cfg.Encoding != "query" {
		return nil, fmt.Errorf("webchat GET requests must use query encoding")
	}

	if cfg.PromptField == "" {
		cfg.PromptField = "prompt"
	}
	if cfg.Name == "" {
		cfg.Name = "webchat"
	}

	logger.Info("Web chat client initialized",
		zap.String("name", cfg.Name),
		zap.String("url", cfg.URL),
		zap.String("encoding", cfg.Encoding))

	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
	}, nil
}

// Close is a no-op.
func (c *Client) Close() error { return nil }

// Complete sends prompt and unwraps the reply.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	req, err := c.newRequest(ctx, prompt)
	if err != nil {
		return "", err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%s request failed: %w", c.cfg.Name, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("%s returned status %d", c.cfg.Name, resp.StatusCode)
	}

	if c.cfg.ResponseField == "" {
		return string(body), nil
	}
	return lookup(body, c.cfg.ResponseField)
}

func (c *Client) newRequest(ctx context.Context, prompt string) (*http.Request, error) {
	fields := make(map[string]string, len(c.cfg.Params)+1)
	for k, v := range c.cfg.Params {
		fields[k] = v
	}
	fields[c.cfg.PromptField] = prompt

	var (
		target      = c.cfg.URL
		body        io.Reader
		contentType string
	)

	switch c.cfg.Encoding {
	case "json":
		payload, err := json.Marshal(fields)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(payload)
		contentType = "application/json"
	case "form":
		body = strings.NewReader(toValues(fields).Encode())
		contentType = "application/x-www-form-urlencoded"
	case "query":
		u, err := url.Parse(c.cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("invalid webchat url: %w", err)
		}
		q := u.Query()
		for k, v := range fields {
			q.Set(k, v)
		}
		u.RawQuery = q.Encode()
		target = u.String()
	}

	req, err := http.NewRequestWithContext(ctx, c.cfg.Method, target, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for k, v := range c.cfg.Headers {
		req.Header.Set(k, v)
	}
	return req, nil
}

func toValues(fields map[string]string) url.Values {
	v := make(url.Values, len(fields))
	for k, val := range fields {
		v.Set(k, val)
	}
	return v
}

// lookup walks a dotted path through a JSON document. Numeric segments index
// into arrays. The final value must be a string.
func lookup(body []byte, path string) (string, error) {
	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}

	cur := doc
	for _, seg := range strings.Split(path, ".") {
		switch v := cur.(type) {
		case map[string]any:
			next, ok := v[seg]
			if !ok {
				return "", fmt.Errorf("response field %q not found", path)
			}
			cur = next
		case []any:
			var idx int
			if _, err := fmt.Sscanf(seg, "%d", &idx); err != nil || idx < 0 || idx >= len(v) {
				return "", fmt.Errorf("response field %q not found", path)
			}
			cur = v[idx]
		default:
			return "", fmt.Errorf("response field %q not found", path)
		}
	}

	s, ok := cur.(string)
	if !ok {
		return "", fmt.Errorf("response field %q is not a string", path)
	}
	return s, nil
}

// GetModelInfo returns endpoint information.
func (c *Client) GetModelInfo() map[string]interface{} {
	return map[string]interface{}{
		"provider": "webchat",
		"model":    c.cfg.Name,
		"url":      c.cfg.URL,
	}
}
