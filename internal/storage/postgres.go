package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	logx "nudge/pkg/logx"

	_ "github.com/lib/pq"
)

var postgresDialect = sqlDialect{
	name: "postgres",
	schema: `CREATE TABLE IF NOT EXISTS nudge_kv (
	key        TEXT PRIMARY KEY,
	value      BYTEA NOT NULL,
	updated_at BIGINT NOT NULL
)`,
	get: `SELECT value FROM nudge_kv WHERE key = $1`,
	upsert: `INSERT INTO nudge_kv(key, value, updated_at) VALUES($1,$2,$3)
	 ON CONFLICT(key) DO UPDATE SET value=EXCLUDED.value, updated_at=EXCLUDED.updated_at`,
	delete: `DELETE FROM nudge_kv WHERE key = $1`,
}

func openPostgres(cfg Config, log logx.Logger) (Store, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("storage.dsn is required for postgres driver")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout(cfg))
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres ping failed: %w", err)
	}

	st, err := newSQLStore(context.Background(), db, postgresDialect, cfg.OpTimeout, log)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}
