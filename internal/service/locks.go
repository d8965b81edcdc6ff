package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"corpusbot/internal/kv"
)

// ErrDuplicateInFlight is returned when the content id is already being
// processed.
var ErrDuplicateInFlight = errors.New("content already being processed")

// LockManager guarantees at most one run per content id. Markers older than
// staleAfter are treated as left behind by a crashed process and taken over.
type LockManager struct {
	store      kv.Store
	staleAfter time.Duration
	logger     *zap.Logger
	now        func() time.Time
}

func NewLockManager(store kv.Store, staleAfter time.Duration, logger *zap.Logger) *LockManager {
	return &LockManager{
		store:      store,
		staleAfter: staleAfter,
		logger:     logger,
		now:        time.Now,
	}
}

func lockKey(id string) string { return "lock:" + id }

// Acquire creates the marker for id. The returned release func removes it
// and is safe to call more than once.
func (m *LockManager) Acquire(ctx context.Context, id string) (func(), error) {
	key := lockKey(id)
	value := m.now().UTC().Format(time.RFC3339Nano) + "|" + uuid.NewString()

	ok, err := m.store.SetIfAbsent(ctx, key, value)
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", id, err)
	}

	if !ok {
		taken, err := m.takeOverStale(ctx, key, value)
		if err != nil {
			return nil, err
		}
		if !taken {
			return nil, ErrDuplicateInFlight
		}
	}

	released := false
	release := func() {
		if released {
			return
		}
		released = true
		m.release(context.WithoutCancel(ctx), key, value)
	}
	return release, nil
}

func (m *LockManager) takeOverStale(ctx context.Context, key, value string) (bool, error) {
	if m.staleAfter <= 0 {
		return false, nil
	}

	cur, err := m.store.Get(ctx, key)
	if errors.Is(err, kv.ErrNotFound) {
		// Released between our two calls.
		return m.store.SetIfAbsent(ctx, key, value)
	}
	if err != nil {
		return false, fmt.Errorf("read lock %s: %w", key, err)
	}

	createdAt, ok := markerTime(cur)
	if ok && m.now().Sub(createdAt) < m.staleAfter {
		return false, nil
	}

	swapped, err := m.store.CompareAndSwap(ctx, key, cur, value)
	if err != nil {
		return false, fmt.Errorf("take over lock %s: %w", key, err)
	}
	if swapped {
		m.logger.Warn("Took over stale lock marker", zap.String("key", key), zap.String("marker", cur))
	}
	return swapped, nil
}

func (m *LockManager) release(ctx context.Context, key, value string) {
	cur, err := m.store.Get(ctx, key)
	if errors.Is(err, kv.ErrNotFound) {
		return
	}
	if err != nil {
		m.logger.Error("Failed to read lock marker on release", zap.String("key", key), zap.Error(err))
		return
	}
	if cur != value {
		// Someone took the marker over; it is theirs now.
		return
	}
	if err := m.store.Delete(ctx, key); err != nil {
		m.logger.Error("Failed to release lock marker", zap.String("key", key), zap.Error(err))
	}
}

// WithLock runs fn while holding the marker for id. The marker is removed on
// every exit path, including a panic in fn.
func (m *LockManager) WithLock(ctx context.Context, id string, fn func(ctx context.Context) error) error {
	release, err := m.Acquire(ctx, id)
	if err != nil {
		return err
	}
	defer release()
	return fn(ctx)
}

func markerTime(v string) (time.Time, bool) {
	ts, _, _ := strings.Cut(v, "|")
	t, err := time.Parse(time.RFC3339Nano, ts)
	return t, err == nil
}
