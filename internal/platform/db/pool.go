package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

func NewPool(ctx context.Context, databaseURL string, maxConns, minConns int32) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	cfg.MaxConns = maxConns
	cfg.MinConns = minConns

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return pool, nil
}

// Begin starts a transaction on the facility-scoped connection carried by ctx,
// or on the pool when the request has none.
func Begin(ctx context.Context, pool *pgxpool.Pool) (pgx.Tx, error) {
	if c := ConnFromContext(ctx); c != nil {
		return c.Begin(ctx)
	}
	if pool == nil {
		return nil, fmt.Errorf("no database connection in context")
	}
	return pool.Begin(ctx)
}
