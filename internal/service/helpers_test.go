package service

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"go.uber.org/zap/zapcore"

	"corpusbot/internal/corpus"
	"corpusbot/internal/kv"
	"corpusbot/internal/llm"
)

// scriptedChain returns a fixed result and records the prompts it saw.
type scriptedChain struct {
	mu      sync.Mutex
	text    string
	ok      bool
	panic   bool
	block   chan struct{}
	started chan struct{}
	prompts []string
}

func (c *scriptedChain) Run(ctx context.Context, prompt string) (llm.Result, bool) {
	c.mu.Lock()
	c.prompts = append(c.prompts, prompt)
	c.mu.Unlock()

	if c.started != nil {
		c.started <- struct{}{}
	}
	if c.block != nil {
		<-c.block
	}
	if c.panic {
		panic("generator exploded")
	}
	if !c.ok {
		return llm.Result{}, false
	}
	return llm.Result{Backend: "stub", Text: c.text}, true
}

func (c *scriptedChain) calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.prompts)
}

type fixture struct {
	store     *corpus.Store
	kv        *kv.MemoryStore
	locks     *LockManager
	incidents *observer.ObservedLogs
	pipeline  *Pipeline
}

func newFixture(t *testing.T, chain GeneratorChain) *fixture {
	t.Helper()
	dir := t.TempDir()

	store, err := corpus.NewStore(filepath.Join(dir, "train.jsonl"), filepath.Join(dir, "counter.txt"), zap.NewNop())
	require.NoError(t, err)

	core, logs := observer.New(zapcore.DebugLevel)
	kvStore := kv.NewMemoryStore()
	locks := NewLockManager(kvStore, time.Minute, zap.NewNop())
	incidents := NewIncidentRecorder(zap.New(core), zap.NewNop())

	return &fixture{
		store:     store,
		kv:        kvStore,
		locks:     locks,
		incidents: logs,
		pipeline:  NewPipeline(chain, store, incidents, locks, zap.NewNop()),
	}
}
