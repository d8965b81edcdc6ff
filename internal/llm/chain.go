package llm

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// BackendStats counts attempts against one generator.
type BackendStats struct {
	Name      string    `json:"name"`
	Successes int64     `json:"successes"`
	Failures  int64     `json:"failures"`
	LastError string    `json:"last_error,omitempty"`
	LastUsed  time.Time `json:"last_used,omitempty"`
}

// Chain tries generators in order and returns the first usable result.
type Chain struct {
	generators []Generator
	logger     *zap.Logger

	mu    sync.Mutex
	stats []BackendStats
}

// NewChain builds a chain over generators in the given order.
func NewChain(logger *zap.Logger, generators ...Generator) *Chain {
	stats := make([]BackendStats, len(generators))
	for i, g := range generators {
		stats[i].Name = g.Name()
	}
	return &Chain{
		generators: generators,
		logger:     logger,
		stats:      stats,
	}
}

// Len returns the number of generators in the chain.
func (c *Chain) Len() int { return len(c.generators) }

// Run invokes generators in order until one returns non-blank text. Later
// generators are not called once one succeeds. The boolean is false when
// every generator failed.
func (c *Chain) Run(ctx context.Context, prompt string) (Result, bool) {
	for i, g := range c.generators {
		if err := ctx.Err(); err != nil {
			c.logger.Warn("Generation cancelled", zap.Int("attempted", i), zap.Error(err))
			break
		}

		res := c.invoke(ctx, g, prompt)
		if res.OK() {
			c.record(i, nil)
			c.logger.Info("Generation succeeded",
				zap.String("backend", g.Name()),
				zap.Int("attempt", i+1))
			return res, true
		}

		err := res.Err
		if err == nil {
			err = ErrEmptyResponse
		}
		c.record(i, err)
		c.logger.Warn("Generator failed",
			zap.String("backend", g.Name()),
			zap.Int("attempt", i+1),
			zap.Error(err))
	}

	c.logger.Error("All generators exhausted", zap.Int("generators", len(c.generators)))
	return Result{}, false
}

// invoke calls g and converts a panic into a failed result.
func (c *Chain) invoke(ctx context.Context, g Generator, prompt string) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = Result{Backend: g.Name(), Err: fmt.Errorf("generator panicked: %v", r)}
		}
	}()
	res = g.Generate(ctx, prompt)
	if res.Backend == "" {
		res.Backend = g.Name()
	}
	return res
}

func (c *Chain) record(i int, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := &c.stats[i]
	s.LastUsed = time.Now()
	if err != nil {
		s.Failures++
		s.LastError = err.Error()
		return
	}
	s.Successes++
}

// Stats returns a snapshot of per-generator counters in chain order.
func (c *Chain) Stats() []BackendStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]BackendStats, len(c.stats))
	copy(out, c.stats)
	return out
}

// GetProvidersInfo returns model info for every generator that exposes it.
func (c *Chain) GetProvidersInfo() []map[string]interface{} {
	stats := c.Stats()
	info := make([]map[string]interface{}, len(c.generators))
	for i, g := range c.generators {
		m := map[string]interface{}{"name": g.Name()}
		if withInfo, ok := g.(interface{ GetModelInfo() map[string]interface{} }); ok {
			m = withInfo.GetModelInfo()
		}
		m["position"] = i + 1
		m["successes"] = stats[i].Successes
		m["failures"] = stats[i].Failures
		info[i] = m
	}
	return info
}

// Close closes every generator that holds resources.
func (c *Chain) Close() error {
	var lastErr error
	for _, g := range c.generators {
		closer, ok := g.(interface{ Close() error })
		if !ok {
			continue
		}
		if err := closer.Close(); err != nil {
			c.logger.Error("Failed to close generator", zap.String("backend", g.Name()), zap.Error(err))
			lastErr = err
		}
	}
	return lastErr
}
