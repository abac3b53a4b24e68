package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"gemchat/internal/redis"
)

// ErrNotFound is returned by KV.Get for absent keys.
var ErrNotFound = errors.New("document not found")

// KV is the key-value surface documents are written through.
type KV interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// Notifier is implemented by backends shared between processes. Changes
// yields the key of every document another process rewrites.
type Notifier interface {
	Changes(ctx context.Context) <-chan string
}

// SQLKV stores documents in the kv_documents table.
type SQLKV struct {
	db     *sql.DB
	driver string
}

// NewSQLKV wraps a migrated database.
func NewSQLKV(db *sql.DB, driver string) *SQLKV {
	return &SQLKV{db: db, driver: strings.ToLower(driver)}
}

func (s *SQLKV) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT doc_value FROM kv_documents WHERE doc_key = ?`, key,
	).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("get %s: %w", key, err)
	}
	return value, nil
}

func (s *SQLKV) Set(ctx context.Context, key, value string) error {
	stmt := `INSERT INTO kv_documents (doc_key, doc_value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(doc_key) DO UPDATE SET doc_value = excluded.doc_value, updated_at = excluded.updated_at`
	if s.driver == "mysql" {
		stmt = `INSERT INTO kv_documents (doc_key, doc_value, updated_at) VALUES (?, ?, ?)
		 ON DUPLICATE KEY UPDATE doc_value = VALUES(doc_value), updated_at = VALUES(updated_at)`
	}
	if _, err := s.db.ExecContext(ctx, stmt, key, value, time.Now().UTC()); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

func (s *SQLKV) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv_documents WHERE doc_key = ?`, key); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// RedisKV stores documents as plain redis strings.
type RedisKV struct {
	docs *redis.Documents
}

func NewRedisKV(docs *redis.Documents) *RedisKV {
	return &RedisKV{docs: docs}
}

func (r *RedisKV) Get(ctx context.Context, key string) (string, error) {
	value, err := r.docs.Load(ctx, key)
	if err != nil {
		if errors.Is(err, redis.ErrMissing) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("get %s: %w", key, err)
	}
	return value, nil
}

func (r *RedisKV) Set(ctx context.Context, key, value string) error {
	if err := r.docs.Store(ctx, key, value); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

func (r *RedisKV) Delete(ctx context.Context, key string) error {
	if err := r.docs.Remove(ctx, key); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// Changes reports the keys other processes rewrite.
func (r *RedisKV) Changes(ctx context.Context) <-chan string {
	out := make(chan string)
	in := r.docs.Changes(ctx)
	go func() {
		defer close(out)
		for ch := range in {
			select {
			case out <- ch.Doc:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// MemoryKV keeps documents in a map; used by tests and --ephemeral runs.
type MemoryKV struct {
	mu   sync.Mutex
	docs map[string]string
}

func NewMemoryKV() *MemoryKV {
	return &MemoryKV{docs: make(map[string]string)}
}

func (m *MemoryKV) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.docs[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (m *MemoryKV) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[key] = value
	return nil
}

func (m *MemoryKV) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.docs, key)
	return nil
}
