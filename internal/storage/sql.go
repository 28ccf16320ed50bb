package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	logx "nudge/pkg/logx"
)

// sqlDialect captures the few statements that differ between drivers.
type sqlDialect struct {
	name   string
	schema string
	get    string
	upsert string
	delete string
}

// sqlStore is a Store over a single kv table. Shared by the sqlite and
// postgres drivers.
type sqlStore struct {
	db        *sql.DB
	log       logx.Logger
	dialect   sqlDialect
	opTimeout time.Duration
}

func newSQLStore(ctx context.Context, db *sql.DB, d sqlDialect, opTimeout time.Duration, log logx.Logger) (*sqlStore, error) {
	if opTimeout <= 0 {
		opTimeout = defaultOpTimeout
	}
	st := &sqlStore{db: db, log: log, dialect: d, opTimeout: opTimeout}
	mctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	if _, err := db.ExecContext(mctx, d.schema); err != nil {
		return nil, fmt.Errorf("%s migrate: %w", d.name, err)
	}
	return st, nil
}

func (s *sqlStore) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, s.opTimeout)
}

func (s *sqlStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqlStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if s == nil || s.db == nil {
		return nil, false, ErrClosed
	}
	if key == "" {
		return nil, false, ErrInvalidKey
	}
	cctx, cancel := s.opCtx(ctx)
	defer cancel()
	var v []byte
	err := s.db.QueryRowContext(cctx, s.dialect.get, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

func (s *sqlStore) Set(ctx context.Context, key string, value []byte) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	if key == "" {
		return ErrInvalidKey
	}
	if value == nil {
		value = []byte{}
	}
	cctx, cancel := s.opCtx(ctx)
	defer cancel()
	_, err := s.db.ExecContext(cctx, s.dialect.upsert, key, value, time.Now().UnixMilli())
	return err
}

func (s *sqlStore) Delete(ctx context.Context, key string) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	if key == "" {
		return ErrInvalidKey
	}
	cctx, cancel := s.opCtx(ctx)
	defer cancel()
	_, err := s.db.ExecContext(cctx, s.dialect.delete, key)
	return err
}
