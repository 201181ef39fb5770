package db

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS tasks (
            id UUID PRIMARY KEY,
            tenant_id TEXT NOT NULL,
            status TEXT NOT NULL,
            eligible_workers TEXT[] NOT NULL DEFAULT '{}',
            tried_workers TEXT[] NOT NULL DEFAULT '{}',
            broadcast_count INT NOT NULL DEFAULT 0,
            broadcast_round INT NOT NULL DEFAULT 0,
            next_broadcast_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            expires_at TIMESTAMPTZ NOT NULL,
            last_broadcast_at TIMESTAMPTZ,
            validation_started_at TIMESTAMPTZ,
            waiter_id TEXT NOT NULL DEFAULT '',
            force_execute BOOLEAN NOT NULL DEFAULT FALSE,
            assigned_worker TEXT NOT NULL DEFAULT '',
            payload JSONB NOT NULL DEFAULT '{}',
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        );`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_rebroadcast
            ON tasks (tenant_id, next_broadcast_at)
            WHERE status = 'queued' AND assigned_worker = '';`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_expiry ON tasks (status, expires_at);`,
		`CREATE TABLE IF NOT EXISTS tenants (
            id TEXT PRIMARY KEY,
            name TEXT NOT NULL DEFAULT '',
            status TEXT NOT NULL DEFAULT 'active',
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        );`,
	}
	for _, q := range ddl {
		if _, err := pool.Exec(ctx, q); err != nil {
			return err
		}
	}
	return nil
}
