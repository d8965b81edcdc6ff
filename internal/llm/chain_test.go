package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"go.uber.org/zap/zapcore"
)

type stubGenerator struct {
	name  string
	text  string
	err   error
	panic bool
	calls int
}

func (s *stubGenerator) Name() string { return s.name }

func (s *stubGenerator) Generate(ctx context.Context, prompt string) Result {
	s.calls++
	if s.panic {
		panic("boom")
	}
	return Result{Backend: s.name, Text: s.text, Err: s.err}
}

func TestChainStopsAtFirstSuccess(t *testing.T) {
	gens := []*stubGenerator{
		{name: "a", err: errors.New("down")},
		{name: "b", text: "   "},
		{name: "c", text: "{\"prompt\":\"p\"}\n"},
		{name: "d", text: "never"},
	}
	chain := NewChain(zap.NewNop(), gens[0], gens[1], gens[2], gens[3])

	res, ok := chain.Run(context.Background(), "prompt")
	require.True(t, ok)
	assert.Equal(t, "c", res.Backend)
	assert.Equal(t, "{\"prompt\":\"p\"}\n", res.Text)

	assert.Equal(t, 1, gens[0].calls)
	assert.Equal(t, 1, gens[1].calls)
	assert.Equal(t, 1, gens[2].calls)
	assert.Equal(t, 0, gens[3].calls)

	stats := chain.Stats()
	assert.EqualValues(t, 1, stats[0].Failures)
	assert.EqualValues(t, 1, stats[1].Failures)
	assert.EqualValues(t, 1, stats[2].Successes)
	assert.Zero(t, stats[3].Successes+stats[3].Failures)
}

func TestChainExhausted(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	a := &stubGenerator{name: "a", err: errors.New("down")}
	b := &stubGenerator{name: "b", err: errors.New("also down")}
	chain := NewChain(zap.New(core), a, b)

	res, ok := chain.Run(context.Background(), "prompt")
	assert.False(t, ok)
	assert.Empty(t, res.Text)
	assert.Equal(t, 1, a.calls)
	assert.Equal(t, 1, b.calls)

	assert.Equal(t, 2, logs.FilterMessage("Generator failed").Len())
	assert.Equal(t, 1, logs.FilterMessage("All generators exhausted").Len())
}

func TestChainRecoversPanickingGenerator(t *testing.T) {
	bad := &stubGenerator{name: "bad", panic: true}
	good := &stubGenerator{name: "good", text: "ok"}
	chain := NewChain(zap.NewNop(), bad, good)

	res, ok := chain.Run(context.Background(), "prompt")
	require.True(t, ok)
	assert.Equal(t, "good", res.Backend)
	assert.Contains(t, chain.Stats()[0].LastError, "panicked")
}

func TestChainStopsWhenContextCancelled(t *testing.T) {
	a := &stubGenerator{name: "a", text: "ok"}
	chain := NewChain(zap.NewNop(), a)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, ok := chain.Run(ctx, "prompt")
	assert.False(t, ok)
	assert.Zero(t, a.calls)
}

type stubBackend struct {
	reply string
	err   error
	delay time.Duration
}

func (b *stubBackend) Complete(ctx context.Context, prompt string) (string, error) {
	if b.delay > 0 {
		select {
		case <-time.After(b.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return b.reply, b.err
}

func (b *stubBackend) Close() error                         { return nil }
func (b *stubBackend) GetModelInfo() map[string]interface{} { return map[string]interface{}{"provider": "stub"} }

func TestClientExtractsFencedBlock(t *testing.T) {
	c := NewClient("stub", &stubBackend{reply: "Sure!\n```json\n{\"a\":1}\n```\nbye"}, nil, time.Second)

	res := c.Generate(context.Background(), "p")
	require.NoError(t, res.Err)
	assert.Equal(t, "{\"a\":1}\n", res.Text)
	assert.Equal(t, "stub", res.Backend)
}

func TestClientFailsWithoutFence(t *testing.T) {
	c := NewClient("stub", &stubBackend{reply: "{\"a\":1}"}, nil, time.Second)

	res := c.Generate(context.Background(), "p")
	assert.ErrorIs(t, res.Err, ErrNoFencedBlock)
	assert.False(t, res.OK())
}

func TestClientTimeoutIsFailure(t *testing.T) {
	c := NewClient("slow", &stubBackend{reply: "```json\n{}\n```", delay: time.Second}, nil, 20*time.Millisecond)

	res := c.Generate(context.Background(), "p")
	assert.ErrorIs(t, res.Err, context.DeadlineExceeded)
}

func TestClientTimeoutIsClamped(t *testing.T) {
	c := NewClient("x", &stubBackend{}, nil, time.Hour)
	assert.Equal(t, MaxRequestTimeout, c.timeout)

	c = NewClient("x", &stubBackend{}, nil, 0)
	assert.Equal(t, MaxRequestTimeout, c.timeout)
}

func TestChainCloseAndInfo(t *testing.T) {
	c := NewClient("stub", &stubBackend{reply: "```json\n{}\n```"}, nil, time.Second)
	chain := NewChain(zap.NewNop(), c, &stubGenerator{name: "plain", text: "x"})

	_, ok := chain.Run(context.Background(), "p")
	require.True(t, ok)

	info := chain.GetProvidersInfo()
	require.Len(t, info, 2)
	assert.Equal(t, "stub", info[0]["name"])
	assert.Equal(t, "stub", info[0]["provider"])
	assert.EqualValues(t, 1, info[0]["successes"])
	assert.Equal(t, "plain", info[1]["name"])
	assert.NoError(t, chain.Close())
}
