package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"corpusbot/internal/kv"
)

// KVRepository implements kv.Store on the kv_store table.
type KVRepository struct {
	db *sqlx.DB
}

var _ kv.Store = (*KVRepository)(nil)

// NewKVRepository wraps a migrated database.
func NewKVRepository(db *sqlx.DB) *KVRepository {
	return &KVRepository{db: db}
}

func (r *KVRepository) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := r.db.GetContext(ctx, &value, r.db.Rebind(`SELECT value FROM kv_store WHERE key = ?`), key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", kv.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get %s: %w", key, err)
	}
	return value, nil
}

func (r *KVRepository) Set(ctx context.Context, key, value string) error {
	query := r.db.Rebind(`
		INSERT INTO kv_store (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`)
	if _, err := r.db.ExecContext(ctx, query, key, value, time.Now().UTC()); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

func (r *KVRepository) SetIfAbsent(ctx context.Context, key, value string) (bool, error) {
	query := r.db.Rebind(`
		INSERT INTO kv_store (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (key) DO NOTHING`)
	res, err := r.db.ExecContext(ctx, query, key, value, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("set %s: %w", key, err)
	}
	return affected(res)
}

func (r *KVRepository) CompareAndSwap(ctx context.Context, key, old, value string) (bool, error) {
	query := r.db.Rebind(`UPDATE kv_store SET value = ?, updated_at = ? WHERE key = ? AND value = ?`)
	res, err := r.db.ExecContext(ctx, query, value, time.Now().UTC(), key, old)
	if err != nil {
		return false, fmt.Errorf("swap %s: %w", key, err)
	}
	return affected(res)
}

func (r *KVRepository) Delete(ctx context.Context, key string) error {
	if _, err := r.db.ExecContext(ctx, r.db.Rebind(`DELETE FROM kv_store WHERE key = ?`), key); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// Close is a no-op; the database is owned by the caller.
func (r *KVRepository) Close() error { return nil }

func affected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
