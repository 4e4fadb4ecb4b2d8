package repository

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schemaSQL string

// DBTX is satisfied by *pgxpool.Pool and pgx.Tx so repositories run inside or outside a transaction.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var (
	_ DBTX = (*pgxpool.Pool)(nil)
	_ DBTX = (pgx.Tx)(nil)
)

// Gateway owns the connection pool and hands out statement and transaction scopes.
type Gateway struct {
	pool *pgxpool.Pool
}

func NewGateway(pool *pgxpool.Pool) *Gateway {
	return &Gateway{pool: pool}
}

// DB returns the pool as a statement runner.
func (g *Gateway) DB() DBTX {
	return g.pool
}

// WithTx runs fn in a transaction. The transaction commits when fn returns nil.
func (g *Gateway) WithTx(ctx context.Context, fn func(DBTX) error) error {
	return pgx.BeginFunc(ctx, g.pool, func(tx pgx.Tx) error {
		return fn(tx)
	})
}

// ApplySchema creates any missing tables. Statements are idempotent.
func (g *Gateway) ApplySchema(ctx context.Context) error {
	if _, err := g.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

const readySQL = `SELECT EXISTS (
	SELECT 1 FROM pg_catalog.pg_tables WHERE schemaname = 'public' AND tablename = $1
)`

// Ready reports whether the database is reachable and holds the sso_provider table.
func (g *Gateway) Ready(ctx context.Context) (bool, error) {
	var exists bool
	if err := g.pool.QueryRow(ctx, readySQL, "sso_provider").Scan(&exists); err != nil {
		return false, fmt.Errorf("ready check: %w", err)
	}
	return exists, nil
}
