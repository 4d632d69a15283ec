package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rickgao/tourney-live/internal/config"
)

// Schema is the DDL for the event journal. Safe to run repeatedly.
const Schema = `
CREATE TABLE IF NOT EXISTS tournament_events (
    event_id     UUID PRIMARY KEY,
    instance_id  TEXT        NOT NULL,
    tournament   TEXT        NOT NULL,
    session_id   UUID,
    event_type   TEXT        NOT NULL,
    payload      JSONB,
    received_at  BIGINT      NOT NULL
);
CREATE INDEX IF NOT EXISTS tournament_events_tournament_received_idx
    ON tournament_events (tournament, received_at);
`

// Connect creates a connection pool and verifies it with a ping.
func Connect(ctx context.Context, cfg config.DBConfig) (*pgxpool.Pool, error) {
	connStr := BuildConnString(cfg)

	poolCfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}

	poolCfg.MinConns = int32(cfg.MinConns)
	poolCfg.MaxConns = int32(cfg.MaxConns)

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return pool, nil
}

// EnsureSchema creates the journal table if it does not exist.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("create journal schema: %w", err)
	}
	return nil
}
