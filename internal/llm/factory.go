package llm

import (
	"context"
	"fmt"
	"time"

	"corpusbot/internal/anthropic"
	"corpusbot/internal/fallback"
	"corpusbot/internal/gemini"
	"corpusbot/internal/groq"
	"corpusbot/internal/openai"
	"corpusbot/internal/openrouter"
	"corpusbot/internal/webchat"

	"go.uber.org/zap"
)

// ChainConfig lists the backends in the order they are tried.
type ChainConfig struct {
	Providers       []ProviderConfig
	RequestTimeout  time.Duration
	FallbackEnabled bool
}

// FallbackName is the chain name of the offline generator.
const FallbackName = "fallback"

// NewBackend constructs the backend for cfg.
func NewBackend(ctx context.Context, cfg ProviderConfig, logger *zap.Logger) (Backend, error) {
	switch cfg.Type {
	case ProviderGemini:
		return gemini.NewClient(ctx, gemini.Config{
			APIKey:    cfg.APIKey,
			ModelName: cfg.ModelName,
			BaseURL:   cfg.BaseURL,
			MaxTokens: cfg.MaxTokens,
		}, logger)
	case ProviderGroq:
		return groq.NewClient(groq.Config{
			APIKey:    cfg.APIKey,
			ModelName: cfg.ModelName,
			BaseURL:   cfg.BaseURL,
		}, logger)
	case ProviderOpenRouter:
		return openrouter.NewClient(openrouter.Config{
			APIKey:    cfg.APIKey,
			ModelName: cfg.ModelName,
			BaseURL:   cfg.BaseURL,
			MaxTokens: cfg.MaxTokens,
		}, logger)
	case ProviderOpenAI:
		return openai.NewClient(openai.Config{
			APIKey:    cfg.APIKey,
			ModelName: cfg.ModelName,
			BaseURL:   cfg.BaseURL,
			MaxTokens: cfg.MaxTokens,
		}, logger)
	case ProviderAnthropic:
		return anthropic.NewClient(anthropic.Config{
			APIKey:    cfg.APIKey,
			ModelName: cfg.ModelName,
			BaseURL:   cfg.BaseURL,
			MaxTokens: cfg.MaxTokens,
		}, logger)
	case ProviderWebChat:
		return webchat.NewClient(webchat.Config{
			Name:          cfg.DisplayName(),
			URL:           cfg.BaseURL,
			Method:        cfg.WebChat.Method,
			Encoding:      cfg.WebChat.Encoding,
			PromptField:   cfg.WebChat.PromptField,
			ResponseField: cfg.WebChat.ResponseField,
			Headers:       cfg.WebChat.Headers,
			Params:        cfg.WebChat.Params,
		}, logger)
	default:
		return nil, fmt.Errorf("unknown provider type %q", cfg.Type)
	}
}

// NewChainFromConfig builds every configured backend in order and appends
// the offline fallback when enabled. Backends that fail to initialize are
// logged and skipped.
func NewChainFromConfig(ctx context.Context, cfg ChainConfig, logger *zap.Logger) (*Chain, error) {
	generators := make([]Generator, 0, len(cfg.Providers)+1)

	for i, providerCfg := range cfg.Providers {
		backend, err := NewBackend(ctx, providerCfg, logger)
		if err != nil {
			logger.Error("Failed to create provider",
				zap.String("type", string(providerCfg.Type)),
				zap.Int("index", i),
				zap.Error(err))
			continue
		}

		rateLimit := providerCfg.RequestsPerMinute
		if rateLimit == 0 {
			rateLimit = DefaultRequestsPerMinute
		}

		generators = append(generators, NewClient(
			providerCfg.DisplayName(),
			backend,
			NewRateLimiter(rateLimit),
			cfg.RequestTimeout,
		))

		logger.Info("Provider initialized",
			zap.String("name", providerCfg.DisplayName()),
			zap.String("type", string(providerCfg.Type)),
			zap.String("model", providerCfg.ModelName),
			zap.Int("rate_limit", rateLimit),
			zap.Int("position", len(generators)))
	}

	if cfg.FallbackEnabled {
		generators = append(generators, NewClient(FallbackName, fallback.New(), nil, cfg.RequestTimeout))
	}

	if len(generators) == 0 {
		return nil, fmt.Errorf("no generators could be initialized")
	}

	return NewChain(logger, generators...), nil
}
