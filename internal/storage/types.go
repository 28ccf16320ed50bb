package storage

import (
	"context"
	"errors"
	"time"
)

const defaultOpTimeout = 5 * time.Second

var (
	ErrClosed     = errors.New("storage closed")
	ErrInvalidKey = errors.New("storage key is empty")
)

// Store is the KeyValueStore contract. Values are opaque bytes.
type Store interface {
	// Get returns ok=false (and no error) when key is absent.
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Config configures storage.
//
// Driver values:
//   - "memory": process-local map (default)
//   - "file": dependency-free file backend (jsonl journal + snapshot)
//   - "sqlite": SQLite database file
//   - "postgres": PostgreSQL (DSN)
//   - "redis": Redis (URL)
type Config struct {
	Driver      string
	Path        string        // file, sqlite
	DSN         string        // postgres
	URL         string        // redis
	KeyPrefix   string        // redis only; namespaces keys in a shared instance
	BusyTimeout time.Duration // sqlite only; 0 means default
	OpTimeout   time.Duration // postgres, redis; 0 means 5s
}

func opTimeout(cfg Config) time.Duration {
	if cfg.OpTimeout > 0 {
		return cfg.OpTimeout
	}
	return defaultOpTimeout
}
